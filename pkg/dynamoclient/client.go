// Package dynamoclient is a small wrapper over the application server's wire
// protocol, grounded on the teacher's pkg/client.Client shape (a struct
// holding one open connection plus convenience methods per RPC) adapted from
// a generated gRPC stub to this system's length-prefixed JSON frames.
package dynamoclient

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"net"

	jsoniter "github.com/json-iterator/go"

	"github.com/dynamo-go/dynamo/pkg/appserver"
	"github.com/dynamo-go/dynamo/pkg/wireframe"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client holds one open mTLS connection to an application server.
type Client struct {
	conn    net.Conn
	r       *bufio.Reader
	service string
}

// Dial opens an mTLS connection to addr, consumes the server's initial
// "Connected" reply, and returns a Client ready to send one request.
func Dial(addr, service string, tlsConfig *tls.Config) (*Client, error) {
	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return nil, fmt.Errorf("dynamoclient: dial %s: %w", addr, err)
	}
	c := &Client{conn: conn, r: bufio.NewReader(conn), service: service}
	reply, err := c.readReply()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if reply.Status != appserver.StatusOK {
		conn.Close()
		return nil, fmt.Errorf("dynamoclient: connect rejected: %v", reply.Content)
	}
	return c, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) send(req appserver.Request) (appserver.Reply, error) {
	req.Service = c.service
	payload, err := json.Marshal(req)
	if err != nil {
		return appserver.Reply{}, err
	}
	if err := wireframe.WriteFrame(c.conn, payload); err != nil {
		return appserver.Reply{}, fmt.Errorf("dynamoclient: write request: %w", err)
	}
	return c.readReply()
}

func (c *Client) readReply() (appserver.Reply, error) {
	frame, err := wireframe.ReadFrame(c.r)
	if err != nil {
		return appserver.Reply{}, fmt.Errorf("dynamoclient: read reply: %w", err)
	}
	var reply appserver.Reply
	if err := json.Unmarshal(frame, &reply); err != nil {
		return appserver.Reply{}, fmt.Errorf("dynamoclient: malformed reply: %w", err)
	}
	return reply, nil
}

// Submit schedules execPath (or, if execPath is empty, the inline exec
// source) under title and returns the application id the server assigns.
// Asynchronous only; callers that need the synch tail-follow behavior talk
// to the wire protocol directly (cmd/dynamo-cli's "run" subcommand does).
func (c *Client) Submit(title, execPath, exec string, writeRequest bool, args []string) (int64, string, error) {
	reply, err := c.send(appserver.Request{
		Command:      appserver.CommandSubmit,
		Title:        title,
		ExecPath:     execPath,
		Exec:         exec,
		WriteRequest: writeRequest,
		Args:         args,
		Mode:         appserver.ModeAsynch,
	})
	if err != nil {
		return 0, "", err
	}
	if reply.Status != appserver.StatusOK {
		return 0, "", fmt.Errorf("dynamoclient: submit failed: %v", reply.Content)
	}
	content, err := decodeContent[appserver.SubmitContent](reply.Content)
	if err != nil {
		return 0, "", err
	}
	return content.AppID, content.Path, nil
}

// Poll returns the current row for appID.
func (c *Client) Poll(appID int64) (appserver.PollContent, error) {
	reply, err := c.send(appserver.Request{Command: appserver.CommandPoll, AppID: appID})
	if err != nil {
		return appserver.PollContent{}, err
	}
	if reply.Status != appserver.StatusOK {
		return appserver.PollContent{}, fmt.Errorf("dynamoclient: poll failed: %v", reply.Content)
	}
	return decodeContent[appserver.PollContent](reply.Content)
}

// Kill requests that appID be aborted.
func (c *Client) Kill(appID int64) (string, error) {
	reply, err := c.send(appserver.Request{Command: appserver.CommandKill, AppID: appID})
	if err != nil {
		return "", err
	}
	if reply.Status != appserver.StatusOK {
		return "", fmt.Errorf("dynamoclient: kill failed: %v", reply.Content)
	}
	if msg, ok := reply.Content.(string); ok {
		return msg, nil
	}
	return "", nil
}

// decodeContent re-marshals a Reply.Content (decoded by jsoniter into a
// generic map[string]interface{}) into T, the shape the caller expects.
func decodeContent[T any](content interface{}) (T, error) {
	var out T
	raw, err := json.Marshal(content)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}
