package helper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/terassyi/donyu/internal/errors"
	"github.com/terassyi/donyu/internal/operation"
	"github.com/terassyi/donyu/internal/vars"
)

// HandshakeTimeout bounds how long the engine waits for the elevated helper
// to connect back and greet. Operations themselves carry no timeout.
const HandshakeTimeout = 30 * time.Second

// Phase names for execute-operation requests.
const (
	PhaseBackup  = "backup"
	PhasePerform = "perform"
	PhaseUndo    = "undo"
)

// operationRequest is the execute-operation payload.
type operationRequest struct {
	Phase string               `json:"phase"`
	Op    *operation.Operation `json:"op"`
	Vars  vars.Snapshot        `json:"vars,omitempty"`
}

// operationReply carries back the attribute bag, which the helper-side
// backup and perform phases enrich with undo state.
type operationReply struct {
	Attrs map[string]string `json:"attrs,omitempty"`
}

type pathPairRequest struct {
	Src string `json:"src"`
	Dst string `json:"dst"`
}

type pathRequest struct {
	Path string `json:"path"`
}

type writeFileRequest struct {
	Path string `json:"path"`
	Data []byte `json:"data"`
	Mode uint32 `json:"mode"`
}

// Launcher starts the helper binary with elevated rights, pointed at the
// engine's socket. Platform-specific; injected as a capability.
type Launcher interface {
	Launch(ctx context.Context, socketPath string) error
}

// Client talks to the elevated helper over a framed stream.
type Client struct {
	conn net.Conn
	buf  []byte
}

// Start listens on a private socket, launches the elevated helper, and waits
// for its greeting within the handshake timeout.
func Start(ctx context.Context, launcher Launcher) (*Client, error) {
	dir, err := os.MkdirTemp("", "donyu-helper-")
	if err != nil {
		return nil, errors.NewElevationError(err)
	}
	socketPath := filepath.Join(dir, "helper.sock")

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, errors.NewElevationError(err)
	}
	defer ln.Close()

	if err := launcher.Launch(ctx, socketPath); err != nil {
		return nil, errors.NewElevationError(err)
	}

	type accepted struct {
		conn net.Conn
		err  error
	}
	ch := make(chan accepted, 1)
	go func() {
		conn, err := ln.Accept()
		ch <- accepted{conn, err}
	}()

	select {
	case a := <-ch:
		if a.err != nil {
			return nil, errors.NewElevationError(a.err)
		}
		c := &Client{conn: a.conn}
		if err := c.awaitHello(); err != nil {
			a.conn.Close()
			return nil, err
		}
		return c, nil
	case <-time.After(HandshakeTimeout):
		return nil, errors.NewElevationError(fmt.Errorf("helper did not connect within %s", HandshakeTimeout))
	case <-ctx.Done():
		return nil, errors.NewElevationError(ctx.Err())
	}
}

// NewClient wraps an already-connected stream; tests use this with a pipe.
func NewClient(conn net.Conn) *Client {
	return &Client{conn: conn}
}

func (c *Client) awaitHello() error {
	_ = c.conn.SetReadDeadline(time.Now().Add(HandshakeTimeout))
	defer c.conn.SetReadDeadline(time.Time{})
	cmd, _, err := c.recv()
	if err != nil {
		return errors.NewElevationError(err)
	}
	if cmd != CmdHello {
		return errors.NewProtocolError("expected hello, got " + cmd)
	}
	return nil
}

// recv reads one complete packet, buffering partial reads.
func (c *Client) recv() (string, []byte, error) {
	for {
		cmd, payload, consumed, err := DecodePacket(c.buf)
		if err != nil {
			return "", nil, err
		}
		if consumed > 0 {
			c.buf = c.buf[consumed:]
			return cmd, payload, nil
		}
		chunk := make([]byte, 4096)
		n, err := c.conn.Read(chunk)
		if n > 0 {
			c.buf = append(c.buf, chunk[:n]...)
			continue
		}
		if err != nil {
			return "", nil, err
		}
	}
}

// call sends a request packet and decodes the ok/error reply.
func (c *Client) call(command string, payload []byte) ([]byte, error) {
	if _, err := c.conn.Write(EncodePacket(command, payload)); err != nil {
		return nil, errors.NewElevationError(err)
	}
	cmd, data, err := c.recv()
	if err != nil {
		if err == io.EOF && command == CmdShutdown {
			return nil, nil
		}
		return nil, errors.NewElevationError(err)
	}
	switch cmd {
	case CmdOK:
		return data, nil
	case CmdError:
		return nil, errors.NewElevationError(fmt.Errorf("helper: %s", string(data)))
	default:
		return nil, errors.NewProtocolError("unexpected reply " + cmd)
	}
}

func (c *Client) callJSON(command string, req any) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return c.call(command, payload)
}

// ExecuteOperation runs one phase of an operation inside the helper and
// merges the returned undo state back into the operation's attributes.
func (c *Client) ExecuteOperation(phase string, op *operation.Operation, snapshot vars.Snapshot) error {
	data, err := c.callJSON(CmdExecuteOperation, operationRequest{Phase: phase, Op: op, Vars: snapshot})
	if err != nil {
		return err
	}
	var reply operationReply
	if len(data) > 0 {
		if err := json.Unmarshal(data, &reply); err != nil {
			return errors.NewProtocolError("malformed execute-operation reply: " + err.Error())
		}
	}
	for k, v := range reply.Attrs {
		op.SetAttr(k, v)
	}
	return nil
}

// CopyFile copies src to dst with elevated rights.
func (c *Client) CopyFile(src, dst string) error {
	_, err := c.callJSON(CmdCopyFile, pathPairRequest{Src: src, Dst: dst})
	return err
}

// Rename renames a path with elevated rights. Satisfies the local state
// store's and artifact writer's elevated-rename seam.
func (c *Client) Rename(oldPath, newPath string) error {
	_, err := c.callJSON(CmdRename, pathPairRequest{Src: oldPath, Dst: newPath})
	return err
}

// Delete removes a path with elevated rights.
func (c *Client) Delete(path string) error {
	_, err := c.callJSON(CmdDelete, pathRequest{Path: path})
	return err
}

// WriteSettingsFile writes a settings document with elevated rights.
func (c *Client) WriteSettingsFile(path string, data []byte) error {
	_, err := c.callJSON(CmdWriteSettingsFile, writeFileRequest{Path: path, Data: data, Mode: 0644})
	return err
}

// Shutdown asks the helper to exit and closes the stream.
func (c *Client) Shutdown() error {
	_, err := c.call(CmdShutdown, nil)
	c.conn.Close()
	return err
}
