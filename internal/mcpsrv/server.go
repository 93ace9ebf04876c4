package mcpsrv

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/ccbroker/broker/internal/session"
)

const (
	protocolVersion = "2024-11-05"
	serverName      = "ccbroker"
	serverVersion   = "0.1.0"

	maxLineSize = 4 << 20

	defaultSendTimeout = 600 * time.Second
)

// Server is the broker's MCP stdio endpoint: reads newline-delimited
// JSON-RPC requests from in, writes newline-delimited responses to out, one
// request per line, matching the daemon's own newline-delimited JSON
// convention.
type Server struct {
	manager *session.Manager
}

// New builds a Server over manager's registered sessions.
func New(manager *session.Manager) *Server {
	return &Server{manager: manager}
}

// Serve runs the read-dispatch-write loop until in is exhausted or returns an
// error other than io.EOF.
func (s *Server) Serve(in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	enc := json.NewEncoder(out)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			if writeErr := enc.Encode(errorResponse(nil, codeParseError, "parse error")); writeErr != nil {
				return writeErr
			}
			continue
		}

		resp, ok := s.dispatch(req)
		if !ok {
			// A notification: no response is sent, per JSON-RPC 2.0.
			continue
		}
		if err := enc.Encode(resp); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("mcpsrv: read request: %w", err)
	}
	return nil
}

func (s *Server) dispatch(req request) (response, bool) {
	if req.isNotification() {
		log.Printf("mcpsrv: ignoring notification %q", req.Method)
		return response{}, false
	}

	switch req.Method {
	case "initialize":
		return successResponse(req.ID, initializeResult{
			ProtocolVersion: protocolVersion,
			Capabilities:    serverCapability{Tools: &toolsCapability{ListChanged: false}},
			ServerInfo:      serverInfo{Name: serverName, Version: serverVersion},
		}), true
	case "tools/list":
		return successResponse(req.ID, toolsListResult{Tools: toolCatalog()}), true
	case "tools/call":
		return s.handleToolCall(req)
	case "notifications/initialized":
		return response{}, false
	default:
		return errorResponse(req.ID, codeMethodNotFound, "method not found: "+req.Method), true
	}
}

func toolCatalog() []toolDefinition {
	agentNameSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agent": map[string]any{"type": "string", "description": "Registered agent name (e.g. codex, gemini, opencode)"},
		},
		"required": []string{"agent"},
	}
	sendSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agent":           map[string]any{"type": "string", "description": "Registered agent name"},
			"prompt":          map[string]any{"type": "string", "description": "Prompt text to send"},
			"timeout_seconds": map[string]any{"type": "integer", "description": "Optional per-request deadline override"},
		},
		"required": []string{"agent", "prompt"},
	}
	return []toolDefinition{
		{Name: "agent_start", Description: "Start (or reuse) an agent's PTY session", InputSchema: agentNameSchema},
		{Name: "agent_stop", Description: "Stop an agent's PTY session", InputSchema: agentNameSchema},
		{Name: "agent_interrupt", Description: "Interrupt an agent's in-flight request", InputSchema: agentNameSchema},
		{Name: "agent_send", Description: "Send a prompt to an agent and wait for its reply", InputSchema: sendSchema},
	}
}

func (s *Server) handleToolCall(req request) (response, bool) {
	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, codeInvalidParams, "invalid tools/call params"), true
	}

	switch params.Name {
	case "agent_start":
		return s.callAgentStart(req.ID, params.Arguments), true
	case "agent_stop":
		return s.callAgentStop(req.ID, params.Arguments), true
	case "agent_interrupt":
		return s.callAgentInterrupt(req.ID, params.Arguments), true
	case "agent_send":
		return s.callAgentSend(req.ID, params.Arguments), true
	default:
		return errorResponse(req.ID, codeInvalidParams, "unknown tool: "+params.Name), true
	}
}

type agentNameArgs struct {
	Agent string `json:"agent"`
}

func (s *Server) resolveSession(id json.RawMessage, name string) (*session.AgentSession, *response) {
	sess, ok := s.manager.Get(name)
	if !ok {
		resp := successResponse(id, textResult("unknown agent: "+name, true))
		return nil, &resp
	}
	return sess, nil
}

func (s *Server) callAgentStart(id json.RawMessage, raw json.RawMessage) response {
	var args agentNameArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return successResponse(id, textResult("invalid arguments", true))
	}
	sess, errResp := s.resolveSession(id, args.Agent)
	if errResp != nil {
		return *errResp
	}
	if err := sess.Start(s.manager.PtyManager()); err != nil {
		return successResponse(id, textResult(err.Error(), true))
	}
	return successResponse(id, textResult("started", false))
}

func (s *Server) callAgentStop(id json.RawMessage, raw json.RawMessage) response {
	var args agentNameArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return successResponse(id, textResult("invalid arguments", true))
	}
	sess, errResp := s.resolveSession(id, args.Agent)
	if errResp != nil {
		return *errResp
	}
	if err := sess.Stop(false, s.manager.PtyManager()); err != nil {
		return successResponse(id, textResult(err.Error(), true))
	}
	return successResponse(id, textResult("stopped", false))
}

func (s *Server) callAgentInterrupt(id json.RawMessage, raw json.RawMessage) response {
	var args agentNameArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return successResponse(id, textResult("invalid arguments", true))
	}
	sess, errResp := s.resolveSession(id, args.Agent)
	if errResp != nil {
		return *errResp
	}
	if err := sess.Interrupt(); err != nil {
		return successResponse(id, textResult(err.Error(), true))
	}
	return successResponse(id, textResult("interrupted", false))
}

type agentSendArgs struct {
	Agent          string `json:"agent"`
	Prompt         string `json:"prompt"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

func (s *Server) callAgentSend(id json.RawMessage, raw json.RawMessage) response {
	var args agentSendArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return successResponse(id, textResult("invalid arguments", true))
	}
	sess, errResp := s.resolveSession(id, args.Agent)
	if errResp != nil {
		return *errResp
	}

	timeout := defaultSendTimeout
	if args.TimeoutSeconds > 0 {
		timeout = time.Duration(args.TimeoutSeconds) * time.Second
	}

	reply, err := sess.Send(args.Prompt, time.Now().Add(timeout))
	if err != nil {
		return successResponse(id, textResult(err.Error(), true))
	}
	return successResponse(id, textResult(reply, false))
}
