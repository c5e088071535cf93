package helper

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/terassyi/donyu/internal/operation"
)

// Server executes privileged commands on behalf of the engine. It owns its
// own operation registry; the client never ships code, only operation values.
type Server struct {
	registry  *operation.Registry
	backupDir string
}

// NewServer creates a Server executing operations from the given registry.
// Backup state captured by helper-side phases lands in backupDir.
func NewServer(registry *operation.Registry, backupDir string) *Server {
	return &Server{registry: registry, backupDir: backupDir}
}

// Dial connects the helper back to the engine's socket and greets it.
func Dial(socketPath string) (net.Conn, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(EncodePacket(CmdHello, nil)); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// Serve handles requests until shutdown or stream close. A shutdown packet
// is honored before the next operation begins.
func (s *Server) Serve(conn net.Conn) error {
	defer conn.Close()

	var buf []byte
	chunk := make([]byte, 4096)
	for {
		cmd, payload, consumed, err := DecodePacket(buf)
		if err != nil {
			return err
		}
		if consumed == 0 {
			n, err := conn.Read(chunk)
			if n > 0 {
				buf = append(buf, chunk[:n]...)
				continue
			}
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			continue
		}
		buf = buf[consumed:]

		if cmd == CmdShutdown {
			_, _ = conn.Write(EncodePacket(CmdOK, nil))
			return nil
		}

		reply, err := s.handle(cmd, payload)
		if err != nil {
			_, _ = conn.Write(EncodePacket(CmdError, []byte(err.Error())))
			continue
		}
		if _, err := conn.Write(EncodePacket(CmdOK, reply)); err != nil {
			return err
		}
	}
}

// handle dispatches one request. Unknown commands are answered with an
// error packet by the caller.
func (s *Server) handle(cmd string, payload []byte) ([]byte, error) {
	switch cmd {
	case CmdExecuteOperation:
		return s.handleExecuteOperation(payload)
	case CmdCopyFile:
		var req pathPairRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		return nil, copyFile(req.Src, req.Dst)
	case CmdRename:
		var req pathPairRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		return nil, os.Rename(req.Src, req.Dst)
	case CmdDelete:
		var req pathRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		return nil, os.RemoveAll(req.Path)
	case CmdWriteSettingsFile:
		var req writeFileRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		return nil, os.WriteFile(req.Path, req.Data, os.FileMode(req.Mode))
	default:
		return nil, fmt.Errorf("unknown command %q", cmd)
	}
}

func (s *Server) handleExecuteOperation(payload []byte) ([]byte, error) {
	var req operationRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	if req.Op == nil {
		return nil, fmt.Errorf("execute-operation without an operation")
	}

	ctx := &operation.Context{Vars: req.Vars, BackupDir: s.backupDir}

	var err error
	switch req.Phase {
	case PhaseBackup:
		err = s.registry.Backup(ctx, req.Op)
	case PhasePerform:
		err = s.registry.Perform(ctx, req.Op)
	case PhaseUndo:
		err = s.registry.Undo(ctx, req.Op)
	default:
		return nil, fmt.Errorf("unknown phase %q", req.Phase)
	}
	if err != nil {
		return nil, err
	}

	return json.Marshal(operationReply{Attrs: req.Op.Attrs})
}

// copyFile mirrors the unprivileged copy primitive for helper use.
func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, info.Mode())
}
