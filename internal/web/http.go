// Package web is the HTTP + WebSocket surface (C8): agent lifecycle
// endpoints, a terminal-streaming WebSocket, and embedded static assets.
package web

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ccbroker/broker/internal/pathmap"
	"github.com/ccbroker/broker/internal/session"
)

// Server wires the session.Manager into net/http handlers. No third-party
// router appears anywhere in the example pack for this role, so routing uses
// http.ServeMux directly (see DESIGN.md for the stdlib justification).
type Server struct {
	manager      *session.Manager
	authToken    string
	inputEnabled bool
	mux          *http.ServeMux
	upgrader     Upgrader
}

// NewServer builds a Server. authToken, if non-empty, is required as a
// bearer token on every request (§6). allowedOrigins configures the
// WebSocket's origin check.
func NewServer(manager *session.Manager, authToken string, inputEnabled bool, allowedOrigins []string) *Server {
	s := &Server{
		manager:      manager,
		authToken:    authToken,
		inputEnabled: inputEnabled,
		mux:          http.NewServeMux(),
		upgrader:     newUpgrader(allowedOrigins),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/status", s.withAuth(s.handleStatus))
	s.mux.HandleFunc("/api/agents/", s.withAuth(s.handleAgentRoute))
	s.mux.HandleFunc("/ws/", s.withAuth(s.handleWebSocket))
	s.mux.HandleFunc("/", s.withAuth(s.staticHandler().ServeHTTP))
}

// handleAgentRoute splits GET (history) from POST (lifecycle actions) under
// /api/agents/{name}/{...}.
func (s *Server) handleAgentRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		s.handleAgentHistory(w, r)
		return
	}
	s.handleAgentAction(w, r)
}

// handleAgentHistory implements GET /api/agents/{name}/history?count=N,
// exposing LogProvider.GetHistory for agents whose adapter has one.
func (s *Server) handleAgentHistory(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/agents/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[1] != "history" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	sess, ok := s.manager.Get(parts[0])
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	provider := sess.Provider()
	if provider == nil {
		writeJSON(w, http.StatusOK, map[string]any{"history": []any{}})
		return
	}

	count := 20
	if raw := r.URL.Query().Get("count"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			count = n
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": provider.GetHistory(count)})
}

// ServeHTTP makes Server itself an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	if s.authToken == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token != s.authToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("web: encode response: %v", err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agents":   s.manager.GetAllStatus(),
		"platform": pathmap.GetPlatform(),
	})
}

// handleAgentAction dispatches POST /api/agents/{name}/{start,stop,interrupt,send}.
func (s *Server) handleAgentAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/agents/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	name, action := parts[0], parts[1]

	sess, ok := s.manager.Get(name)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if action == "send" {
		s.handleSend(w, r, name)
		return
	}

	var err error
	var status string
	switch action {
	case "start":
		err = sess.Start(s.manager.PtyManager())
		status = "started"
	case "stop":
		err = sess.Stop(false, s.manager.PtyManager())
		status = "stopped"
	case "interrupt":
		err = sess.Interrupt()
		status = "interrupted"
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status, "agent": name})
}

// sendRequest is the JSON body of POST /api/agents/{name}/send, which submits
// a prompt to a session outside the MCP surface for a plain HTTP client.
type sendRequest struct {
	Prompt        string `json:"prompt"`
	TimeoutSecond int    `json:"timeout_seconds"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request, name string) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	sess, ok := s.manager.Get(name)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	timeout := time.Duration(req.TimeoutSecond) * time.Second
	if timeout <= 0 {
		timeout = 600 * time.Second
	}
	reply, err := sess.Send(req.Prompt, time.Now().Add(timeout))
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
}
