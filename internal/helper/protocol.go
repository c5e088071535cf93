// Package helper implements the framed protocol between the unprivileged
// engine and the elevated helper process, plus the client and server driving
// it over a local socket.
package helper

import (
	"bytes"
	"encoding/binary"

	"github.com/terassyi/donyu/internal/errors"
)

// Commands the helper must understand.
const (
	CmdExecuteOperation  = "execute-operation"
	CmdCopyFile          = "copy-file"
	CmdRename            = "rename"
	CmdDelete            = "delete"
	CmdWriteSettingsFile = "write-settings-file"
	CmdShutdown          = "shutdown"

	// Replies.
	CmdOK    = "ok"
	CmdError = "error"

	// Handshake greeting sent by the helper once it is listening.
	CmdHello = "hello"
)

const sizeLen = 4

// EncodePacket frames a command and payload:
//
//	[size: int32 little-endian] [command bytes] [0x00] [payload bytes]
//
// where size = len(command) + 1 + len(payload). Both sides must agree on
// endianness.
func EncodePacket(command string, payload []byte) []byte {
	size := int32(len(command) + 1 + len(payload))
	buf := make([]byte, 0, sizeLen+int(size))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(size))
	buf = append(buf, command...)
	buf = append(buf, 0)
	buf = append(buf, payload...)
	return buf
}

// DecodePacket reads one packet from the front of buf without consuming on
// incompleteness: when fewer than four bytes, or fewer than the announced
// size, are buffered it returns consumed == 0 and no error, and the caller
// retries with more data. A complete packet yields its command, payload, and
// the number of bytes consumed.
func DecodePacket(buf []byte) (command string, payload []byte, consumed int, err error) {
	if len(buf) < sizeLen {
		return "", nil, 0, nil
	}
	size := int32(binary.LittleEndian.Uint32(buf))
	if size < 1 {
		return "", nil, 0, errors.NewProtocolError("invalid packet size")
	}
	if len(buf) < sizeLen+int(size) {
		return "", nil, 0, nil
	}

	body := buf[sizeLen : sizeLen+int(size)]
	sep := bytes.IndexByte(body, 0)
	if sep < 0 {
		return "", nil, 0, errors.NewProtocolError("missing command separator")
	}

	payload = make([]byte, len(body)-sep-1)
	copy(payload, body[sep+1:])
	return string(body[:sep]), payload, sizeLen + int(size), nil
}
