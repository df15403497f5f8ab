package appserver

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/dynamo-go/dynamo/pkg/events"
	"github.com/dynamo-go/dynamo/pkg/registry"
	"github.com/dynamo-go/dynamo/pkg/wireframe"
)

// handlePoll returns the application row verbatim, status rendered as its
// name string.
func (s *Server) handlePoll(conn net.Conn, req Request) {
	app, ok := s.Registry.GetApplication(req.AppID)
	if !ok {
		s.replyFailed(conn, fmt.Errorf("unknown application %d", req.AppID))
		return
	}
	s.writeReply(conn, Reply{Status: StatusOK, Content: pollContent(app, s.workAreaPath(app.ID))})
}

func pollContent(app registry.Application, path string) PollContent {
	return PollContent{ID: app.ID, Title: app.Title, Path: path, User: app.User, Status: string(app.Status), ExitCode: app.ExitCode}
}

// handleKill transitions a NEW or RUN application to KILLED; the master
// loop observes the row and signals the child within its poll cycle. An
// already-terminal application reports its current state instead.
func (s *Server) handleKill(conn net.Conn, req Request) {
	app, ok := s.Registry.GetApplication(req.AppID)
	if !ok {
		s.replyFailed(conn, fmt.Errorf("unknown application %d", req.AppID))
		return
	}
	if app.Status != registry.StatusNew && app.Status != registry.StatusRun {
		s.writeReply(conn, Reply{Status: StatusOK, Content: fmt.Sprintf("Task already %s.", app.Status)})
		return
	}
	if err := s.Registry.UpdateApplication(req.AppID, func(a *registry.Application) {
		a.Status = registry.StatusKilled
	}); err != nil {
		s.replyFailed(conn, err)
		return
	}
	s.writeReply(conn, Reply{Status: StatusOK, Content: "Task aborted."})
}

// handleSubmit materializes the submitted executable, schedules it, and
// either replies immediately (asynch) or blocks until it runs and
// terminates, tailing its output to the client (synch).
func (s *Server) handleSubmit(conn net.Conn, r *bufio.Reader, user string, req Request) {
	if req.Title == "" {
		s.replyFailed(conn, fmt.Errorf("submit requires a title"))
		return
	}
	content, err := materializeExecutable(req)
	if err != nil {
		s.replyFailed(conn, err)
		return
	}

	appID := s.Registry.ScheduleApp(req.Title, req.ExecPath, user, req.WriteRequest, content, req.Args)
	path := s.workAreaPath(appID)

	if req.Mode != ModeSynch {
		s.writeReply(conn, Reply{Status: StatusOK, Content: SubmitContent{AppID: appID, Path: path}})
		return
	}
	s.runSynch(conn, r, appID, path)
}

// materializeExecutable resolves a submit request's exec/exec_path fields
// into the executable's content bytes, the form the daemon's authorization
// check and worker spawn both operate on.
func materializeExecutable(req Request) ([]byte, error) {
	switch {
	case req.Exec != "":
		return []byte(req.Exec), nil
	case req.ExecPath != "":
		content, err := os.ReadFile(req.ExecPath)
		if err != nil {
			return nil, fmt.Errorf("reading exec_path: %w", err)
		}
		return content, nil
	default:
		return nil, fmt.Errorf("submit requires exec or exec_path")
	}
}

// runSynch implements the synchronous submit follow-up: wait for RUN,
// reply with the work area, accept the client's (host, port) for tailing,
// dial out, stream _stdout/_stderr until the app terminates plus a 1s
// grace period, then reply with the final status.
func (s *Server) runSynch(conn net.Conn, r *bufio.Reader, appID int64, path string) {
	sub := s.Registry.Events().Subscribe()
	defer s.Registry.Events().Unsubscribe(sub)

	if !waitForStatus(sub, appID, events.AppRunning, events.AppDone, events.AppFailed, events.AppKilled) {
		s.replyFailed(conn, fmt.Errorf("application %d never started", appID))
		return
	}

	if err := s.writeReply(conn, Reply{Status: StatusOK, Content: SubmitContent{AppID: appID, Path: path}}); err != nil {
		return
	}

	frame, err := wireframe.ReadFrame(r)
	if err != nil {
		s.logger.Debug().Err(err).Int64("app_id", appID).Msg("client disconnected before sending tail target")
		return
	}
	var hp HostPort
	if err := json.Unmarshal(frame, &hp); err != nil {
		s.replyFailed(conn, fmt.Errorf("malformed host/port frame: %w", err))
		return
	}

	outConn, err := net.Dial("tcp", fmt.Sprintf("%s:%d", hp.Host, hp.Port))
	if err != nil {
		s.replyFailed(conn, fmt.Errorf("dialing stdout tail target: %w", err))
		return
	}
	defer outConn.Close()
	errConn, err := net.Dial("tcp", fmt.Sprintf("%s:%d", hp.Host, hp.Port))
	if err != nil {
		s.replyFailed(conn, fmt.Errorf("dialing stderr tail target: %w", err))
		return
	}
	defer errConn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		waitForStatus(sub, appID, events.AppDone, events.AppFailed, events.AppKilled)
	}()

	tailDone1 := tailFollow(filepath.Join(path, "_stdout"), outConn, done)
	tailDone2 := tailFollow(filepath.Join(path, "_stderr"), errConn, done)
	<-tailDone1
	<-tailDone2

	app, _ := s.Registry.GetApplication(appID)
	s.writeReply(conn, Reply{Status: StatusOK, Content: FinalContent{Status: string(app.Status), ExitCode: app.ExitCode}})
}

// waitForStatus blocks on sub until it sees one of the named transitions
// for appID, or the subscriber channel closes. It returns false only if
// the channel closes first.
func waitForStatus(sub events.Subscriber, appID int64, want ...events.Type) bool {
	for evt := range sub {
		if evt.AppID != appID {
			continue
		}
		for _, w := range want {
			if evt.Type == w {
				return true
			}
		}
	}
	return false
}

// tailFollow streams path to dst, polling every 500ms for new data, until
// done is closed, at which point it polls for one more second (the grace
// period) before stopping.
func tailFollow(path string, dst net.Conn, done <-chan struct{}) <-chan struct{} {
	out := make(chan struct{})
	go func() {
		defer close(out)
		defer dst.Close()

		var offset int64
		grace := time.NewTimer(24 * time.Hour) // disarmed until done fires
		grace.Stop()
		graceFired := false

		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()

		for {
			offset = copyNewBytes(path, dst, offset)
			select {
			case <-ticker.C:
				continue
			case <-done:
				if !graceFired {
					graceFired = true
					grace.Reset(time.Second)
				}
			case <-grace.C:
				offset = copyNewBytes(path, dst, offset)
				return
			}
		}
	}()
	return out
}

func copyNewBytes(path string, dst net.Conn, offset int64) int64 {
	f, err := os.Open(path)
	if err != nil {
		return offset
	}
	defer f.Close()
	if _, err := f.Seek(offset, 0); err != nil {
		return offset
	}
	n, err := f.Seek(0, 2) // end, to know how much is new
	if err != nil {
		return offset
	}
	if _, err := f.Seek(offset, 0); err != nil {
		return offset
	}
	buf := make([]byte, n-offset)
	read, _ := f.Read(buf)
	if read > 0 {
		dst.Write(buf[:read])
	}
	return offset + int64(read)
}

// handleInteract starts a sub-process hosting an interactive console,
// binding its stdin/stdout/stderr to two sockets at the client's address
// using the same length-prefixed frame protocol for stdin.
func (s *Server) handleInteract(conn net.Conn, r *bufio.Reader, user string, req Request) {
	frame, err := wireframe.ReadFrame(r)
	if err != nil {
		s.replyFailed(conn, fmt.Errorf("reading interact target: %w", err))
		return
	}
	var hp HostPort
	if err := json.Unmarshal(frame, &hp); err != nil {
		s.replyFailed(conn, fmt.Errorf("malformed host/port frame: %w", err))
		return
	}

	stdinConn, err := net.Dial("tcp", fmt.Sprintf("%s:%d", hp.Host, hp.Port))
	if err != nil {
		s.replyFailed(conn, fmt.Errorf("dialing interact stdin target: %w", err))
		return
	}
	defer stdinConn.Close()
	outConn, err := net.Dial("tcp", fmt.Sprintf("%s:%d", hp.Host, hp.Port))
	if err != nil {
		s.replyFailed(conn, fmt.Errorf("dialing interact stdout/stderr target: %w", err))
		return
	}
	defer outConn.Close()

	cmd := exec.Command(s.consoleBin())
	cmd.Stdout = outConn
	cmd.Stderr = outConn
	stdin, err := cmd.StdinPipe()
	if err != nil {
		s.replyFailed(conn, err)
		return
	}
	if err := cmd.Start(); err != nil {
		s.replyFailed(conn, fmt.Errorf("starting interactive console: %w", err))
		return
	}

	s.writeReply(conn, Reply{Status: StatusOK, Content: "Connected"})

	go func() {
		stdinReader := bufio.NewReader(stdinConn)
		for {
			payload, err := wireframe.ReadFrame(stdinReader)
			if err != nil {
				stdin.Close()
				return
			}
			if _, err := stdin.Write(payload); err != nil {
				return
			}
		}
	}()

	cmd.Wait()
	_ = user
}

// consoleBin names the interactive console binary this daemon installation
// exposes; left as a simple constant since the console itself (a REPL over
// the inventory proxy) is out of this package's scope.
func (s *Server) consoleBin() string { return "dynamo-console" }
