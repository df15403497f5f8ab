// Package appserver implements the authenticated front door: the socket
// application server that accepts mutually-authenticated connections,
// identifies the caller from their certificate, and dispatches
// submit/poll/kill/interact commands against the application registry
// (spec §4.F), grounded on the teacher's mTLS listener shape adapted from a
// gRPC service to this system's own length-prefixed JSON frame protocol.
package appserver

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"github.com/dynamo-go/dynamo/pkg/authz"
	"github.com/dynamo-go/dynamo/pkg/daemon"
	"github.com/dynamo-go/dynamo/pkg/log"
	"github.com/dynamo-go/dynamo/pkg/metrics"
	"github.com/dynamo-go/dynamo/pkg/registry"
	"github.com/dynamo-go/dynamo/pkg/wireframe"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Server is the application server's authenticated listener.
type Server struct {
	Registry   *registry.Registry
	Authz      *authz.Authorizer
	WorkDir    string
	TLSConfig  *tls.Config
	CheckTrunc bool

	logger zerolog.Logger
}

// New returns a Server ready for ListenAndServe.
func New(reg *registry.Registry, az *authz.Authorizer, workDir string, tlsConfig *tls.Config) *Server {
	return &Server{
		Registry: reg, Authz: az, WorkDir: workDir, TLSConfig: tlsConfig,
		logger: log.WithComponent("appserver"),
	}
}

// ListenAndServe accepts mTLS connections on addr until the listener is
// closed or Accept fails fatally, dispatching each to its own goroutine.
func (s *Server) ListenAndServe(addr string) error {
	cfg := s.TLSConfig.Clone()
	cfg.ClientAuth = tls.RequireAndVerifyClientCert
	ln, err := tls.Listen("tcp", addr, cfg)
	if err != nil {
		return fmt.Errorf("appserver: listen %s: %w", addr, err)
	}
	defer ln.Close()

	s.logger.Info().Str("addr", addr).Msg("application server listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("appserver: accept: %w", err)
		}
		go s.handleConn(conn)
	}
}

// handleConn runs the full per-connection handler sequence of spec §4.F.
// Every failure along the way replies "failed <message>" and closes.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)

	// A per-connection correlation id, not a persisted entity id: it never
	// outlives this handler, it only ties together the log lines one
	// connection produces across identify/dispatch/handler.
	connID := uuid.New().String()

	user, err := s.identify(conn)
	if err != nil {
		s.logger.With().Str("conn_id", connID).Logger().Warn().Err(err).Msg("identify failed")
		s.replyFailed(conn, err)
		return
	}
	logger := s.logger.With().Str("conn_id", connID).Str("user", user).Logger()

	if err := s.writeReply(conn, Reply{Status: StatusOK, Content: "Connected"}); err != nil {
		return
	}

	frame, err := wireframe.ReadFrame(r)
	if err != nil {
		logger.Debug().Err(err).Msg("connection closed before a request frame arrived")
		return
	}
	var req Request
	if err := json.Unmarshal(frame, &req); err != nil {
		s.replyFailed(conn, fmt.Errorf("malformed request: %w", err))
		return
	}

	if !s.Authz.CheckUserAuth(user, authz.AnyRole, req.Service) {
		s.replyFailed(conn, &authz.AuthorizationError{User: user, Target: req.Service})
		return
	}

	metrics.AppserverRequestsTotal.WithLabelValues(string(req.Command), "received").Inc()
	switch req.Command {
	case CommandPoll:
		s.handlePoll(conn, req)
	case CommandKill:
		s.handleKill(conn, req)
	case CommandSubmit:
		s.handleSubmit(conn, r, user, req)
	case CommandInteract:
		s.handleInteract(conn, r, user, req)
	default:
		s.replyFailed(conn, fmt.Errorf("unknown command %q", req.Command))
	}
}

// identify extracts the peer certificate's subject and issuer DNs and
// resolves them to a registered user, trying the subject first.
func (s *Server) identify(conn net.Conn) (string, error) {
	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		return "", fmt.Errorf("connection is not TLS")
	}
	if err := tlsConn.Handshake(); err != nil {
		return "", fmt.Errorf("tls handshake: %w", err)
	}
	state := tlsConn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return "", fmt.Errorf("no peer certificate presented")
	}
	cert := state.PeerCertificates[0]

	if u, ok := s.Authz.IdentifyUser(authz.NormalizeDN(cert.Subject), "", s.CheckTrunc); ok {
		return u.Name, nil
	}
	if u, ok := s.Authz.IdentifyUser(authz.NormalizeDN(cert.Issuer), "", s.CheckTrunc); ok {
		return u.Name, nil
	}
	return "", fmt.Errorf("unrecognized client certificate")
}

func (s *Server) replyFailed(conn net.Conn, err error) {
	metrics.AppserverRequestsTotal.WithLabelValues("-", string(StatusFailed)).Inc()
	if werr := s.writeReply(conn, Reply{Status: StatusFailed, Content: err.Error()}); werr != nil {
		s.logger.Debug().Err(werr).Msg("failed to deliver failure reply")
		return
	}
	s.logger.Warn().Err(err).Msg("failed")
}

func (s *Server) writeReply(conn net.Conn, reply Reply) error {
	payload, err := json.Marshal(reply)
	if err != nil {
		return err
	}
	if reply.Status != StatusOK {
		s.logger.Warn().Interface("reply", reply).Msg("non-OK reply")
	}
	return wireframe.WriteFrame(conn, payload)
}

// workAreaPath returns the work-area path the client is told about, the
// same formula the daemon uses to create it.
func (s *Server) workAreaPath(appID int64) string {
	return daemon.WorkDirFor(s.WorkDir, appID)
}
