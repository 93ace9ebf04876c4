// Package ctlproto defines the IPC message types used between brokerctl
// (client) and brokerd (daemon) over a Unix domain socket.
//
// Commands use newline-delimited JSON: the client sends one Request, the
// daemon sends one Response, then the connection closes — except attach,
// which after the JSON handshake turns the connection into a PTY relay: raw
// output flows server to client, framed control messages flow the other way.
package ctlproto

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Request type constants.
const (
	ReqStatus    = "status"
	ReqStart     = "start"
	ReqStop      = "stop"
	ReqInterrupt = "interrupt"
	ReqSend      = "send"
	ReqAttach    = "attach"
)

// Request is the JSON payload sent from brokerctl to brokerd.
type Request struct {
	Type           string `json:"type"`
	Agent          string `json:"agent,omitempty"`
	Prompt         string `json:"prompt,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	Force          bool   `json:"force,omitempty"`
}

// AgentStatus is a point-in-time snapshot of one agent's state.
type AgentStatus struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

// Response is the JSON payload the daemon returns for all non-attach commands.
type Response struct {
	OK     bool          `json:"ok"`
	Error  string        `json:"error,omitempty"`
	Agents []AgentStatus `json:"agents,omitempty"`
	Reply  string        `json:"reply,omitempty"`
}

// ─── Attach stream framing ──────────────────────────────────────────────
//
// After the JSON handshake the attach connection becomes asymmetric:
//
//	Server → Client : raw PTY output bytes (no framing; terminal handles escapes)
//	Client → Server : length-prefixed frames:
//
//	  [1 byte type][4 bytes big-endian length][payload]
//
//	  0x00  data    – stdin bytes to write into the PTY
//	  0x01  resize  – payload: 2-byte cols + 2-byte rows (big-endian uint16)
//	  0x02  detach  – no payload; client wants to detach cleanly
const (
	AttachFrameData   byte = 0x00
	AttachFrameResize byte = 0x01
	AttachFrameDetach byte = 0x02
)

const maxAttachFramePayload = 1 << 20 // 1 MiB sanity cap

// WriteFrame writes a single framed message to w.
func WriteFrame(w io.Writer, frameType byte, payload []byte) error {
	hdr := make([]byte, 5)
	hdr[0] = frameType
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(payload)))
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	if len(payload) > 0 {
		_, err := w.Write(payload)
		return err
	}
	return nil
}

// ReadFrame reads a single framed message from r.
func ReadFrame(r io.Reader) (frameType byte, payload []byte, err error) {
	hdr := make([]byte, 5)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return 0, nil, err
	}
	frameType = hdr[0]
	n := binary.BigEndian.Uint32(hdr[1:])
	if n > maxAttachFramePayload {
		return 0, nil, fmt.Errorf("ctlproto: attach frame too large: %d bytes", n)
	}
	if n == 0 {
		return frameType, nil, nil
	}
	payload = make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return frameType, payload, nil
}

// ResizePayload packs cols/rows into the wire format for AttachFrameResize.
func ResizePayload(cols, rows uint16) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint16(b[0:2], cols)
	binary.BigEndian.PutUint16(b[2:4], rows)
	return b
}

// ParseResizePayload unpacks an AttachFrameResize payload.
func ParseResizePayload(payload []byte) (cols, rows uint16, err error) {
	if len(payload) != 4 {
		return 0, 0, fmt.Errorf("ctlproto: resize payload must be 4 bytes, got %d", len(payload))
	}
	return binary.BigEndian.Uint16(payload[0:2]), binary.BigEndian.Uint16(payload[2:4]), nil
}
