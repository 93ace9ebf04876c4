package web

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ccbroker/broker/internal/ptysup"
)

// Upgrader wraps gorilla's websocket.Upgrader with the origin-allowlist
// pattern from the raphaeltm-simple-agent-manager vm-agent server: WebSocket
// upgrades bypass CORS, so the origin must be checked by hand.
type Upgrader struct {
	upgrader       websocket.Upgrader
	allowedOrigins []string
}

func newUpgrader(allowedOrigins []string) Upgrader {
	u := Upgrader{allowedOrigins: allowedOrigins}
	u.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     u.checkOrigin,
	}
	return u
}

func (u *Upgrader) checkOrigin(r *http.Request) bool {
	if len(u.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range u.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
		if strings.Contains(allowed, "*") && matchWildcardOrigin(origin, allowed) {
			return true
		}
	}
	log.Printf("web: websocket origin rejected: %s", origin)
	return false
}

func matchWildcardOrigin(origin, pattern string) bool {
	parts := strings.SplitN(pattern, "*", 2)
	if len(parts) != 2 {
		return false
	}
	prefix, suffix := parts[0], parts[1]
	if !strings.HasPrefix(origin, prefix) || !strings.HasSuffix(origin, suffix) {
		return false
	}
	middle := origin[len(prefix) : len(origin)-len(suffix)]
	return !strings.Contains(middle, "/")
}

const waitingForAgentInterval = time.Second

type resizeControl struct {
	Type string `json:"type"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
}

func clampDim(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// handleWebSocket implements /ws/{name} (§4.8).
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/ws/")
	sess, ok := s.manager.Get(name)

	conn, err := s.upgrader.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if !ok {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("Error: agent "+name+" not found"))
		return
	}

	handle := s.waitForPty(conn, sess, name)
	if handle == nil {
		return
	}

	if buf := handle.GetBuffer(); len(buf) > 0 {
		if err := conn.WriteMessage(websocket.BinaryMessage, buf); err != nil {
			return
		}
	}

	outputCh, cancel := handle.SubscribeOutput()
	defer cancel()

	// relayDone and readDone race each other: whichever side ends the
	// connection first (browser disconnect, or a failed outbound write)
	// must not wait on the other, or an idle agent leaves this handler
	// blocked forever.
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		for chunk := range outputCh {
			if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				return
			}
		}
	}()

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}

			switch msgType {
			case websocket.TextMessage:
				if len(data) > 0 && data[0] == 0x00 {
					handleControlFrame(handle, data[1:])
					continue
				}
				if s.inputEnabled {
					_ = handle.Write(data)
				}
			case websocket.BinaryMessage:
				if s.inputEnabled {
					_ = handle.Write(data)
				}
			case websocket.CloseMessage:
				return
			}
		}
	}()

	select {
	case <-relayDone:
	case <-readDone:
	}
}

func handleControlFrame(handle *ptysup.PtyHandle, payload []byte) {
	var ctl resizeControl
	if err := json.Unmarshal(payload, &ctl); err != nil {
		log.Printf("web: malformed control frame: %v", err)
		return
	}
	if ctl.Type != "resize" {
		log.Printf("web: unknown control frame type %q", ctl.Type)
		return
	}
	cols := clampDim(ctl.Cols, 1, 500)
	rows := clampDim(ctl.Rows, 1, 500)
	_ = handle.Resize(uint16(cols), uint16(rows))
}

// sessionHandleSource is satisfied by *session.AgentSession via Handle().
type sessionHandleSource interface {
	Handle() *ptysup.PtyHandle
}

func (s *Server) waitForPty(conn *websocket.Conn, sess sessionHandleSource, name string) *ptysup.PtyHandle {
	if h := sess.Handle(); h != nil {
		return h
	}

	ticker := time.NewTicker(waitingForAgentInterval)
	defer ticker.Stop()

	for range ticker.C {
		if h := sess.Handle(); h != nil {
			return h
		}
		msg := "\x1b[33mWaiting for agent " + name + " to start...\x1b[0m"
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			return nil
		}
	}
	return nil
}
