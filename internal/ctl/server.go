// Package ctl is brokerd's Unix-socket control listener: the same
// newline-delimited-JSON-plus-framed-attach pattern the teacher's daemon
// package uses, generalized from instance lifecycle to agent session
// lifecycle.
package ctl

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/ccbroker/broker/internal/ctlproto"
	"github.com/ccbroker/broker/internal/session"
)

// Server accepts control-socket connections and dispatches them against a
// session.Manager.
type Server struct {
	manager *session.Manager
}

// New builds a Server over manager.
func New(manager *session.Manager) *Server {
	return &Server{manager: manager}
}

// Run listens on socketPath (removing any stale socket left behind by a
// crashed previous run) and serves connections until the listener is closed.
func (s *Server) Run(socketPath string) error {
	os.Remove(socketPath)

	l, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("ctl: listen on %s: %w", socketPath, err)
	}
	defer l.Close()

	log.Printf("ctl: listening on %s", socketPath)

	for {
		conn, err := l.Accept()
		if err != nil {
			return nil
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	var req ctlproto.Request
	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		return
	}
	if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
		respond(conn, ctlproto.Response{OK: false, Error: "bad request: " + err.Error()})
		return
	}

	switch req.Type {
	case ctlproto.ReqStatus:
		s.handleStatus(conn)
	case ctlproto.ReqStart:
		s.handleStart(conn, req)
	case ctlproto.ReqStop:
		s.handleStop(conn, req)
	case ctlproto.ReqInterrupt:
		s.handleInterrupt(conn, req)
	case ctlproto.ReqSend:
		s.handleSend(conn, req)
	case ctlproto.ReqAttach:
		s.handleAttach(conn, req)
	default:
		respond(conn, ctlproto.Response{OK: false, Error: "unknown request type: " + req.Type})
	}
}

func respond(conn net.Conn, resp ctlproto.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		log.Printf("ctl: marshal response: %v", err)
		return
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		log.Printf("ctl: write response: %v", err)
	}
}

func (s *Server) handleStatus(conn net.Conn) {
	rows := s.manager.GetAllStatus()
	agents := make([]ctlproto.AgentStatus, len(rows))
	for i, r := range rows {
		agents[i] = ctlproto.AgentStatus{Name: r.Name, State: r.State}
	}
	respond(conn, ctlproto.Response{OK: true, Agents: agents})
}

func (s *Server) lookup(conn net.Conn, name string) (*session.AgentSession, bool) {
	sess, ok := s.manager.Get(name)
	if !ok {
		respond(conn, ctlproto.Response{OK: false, Error: "unknown agent: " + name})
		return nil, false
	}
	return sess, true
}

func (s *Server) handleStart(conn net.Conn, req ctlproto.Request) {
	sess, ok := s.lookup(conn, req.Agent)
	if !ok {
		return
	}
	if err := sess.Start(s.manager.PtyManager()); err != nil {
		respond(conn, ctlproto.Response{OK: false, Error: err.Error()})
		return
	}
	respond(conn, ctlproto.Response{OK: true})
}

func (s *Server) handleStop(conn net.Conn, req ctlproto.Request) {
	sess, ok := s.lookup(conn, req.Agent)
	if !ok {
		return
	}
	if err := sess.Stop(req.Force, s.manager.PtyManager()); err != nil {
		respond(conn, ctlproto.Response{OK: false, Error: err.Error()})
		return
	}
	respond(conn, ctlproto.Response{OK: true})
}

func (s *Server) handleInterrupt(conn net.Conn, req ctlproto.Request) {
	sess, ok := s.lookup(conn, req.Agent)
	if !ok {
		return
	}
	if err := sess.Interrupt(); err != nil {
		respond(conn, ctlproto.Response{OK: false, Error: err.Error()})
		return
	}
	respond(conn, ctlproto.Response{OK: true})
}

func (s *Server) handleSend(conn net.Conn, req ctlproto.Request) {
	sess, ok := s.lookup(conn, req.Agent)
	if !ok {
		return
	}
	timeout := 600 * time.Second
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}
	reply, err := sess.Send(req.Prompt, time.Now().Add(timeout))
	if err != nil {
		respond(conn, ctlproto.Response{OK: false, Error: err.Error()})
		return
	}
	respond(conn, ctlproto.Response{OK: true, Reply: reply})
}

// handleAttach upgrades conn into a raw PTY relay after the JSON handshake:
// server writes raw output bytes to conn, client sends framed control
// messages (data / resize / detach) the other way.
func (s *Server) handleAttach(conn net.Conn, req ctlproto.Request) {
	sess, ok := s.lookup(conn, req.Agent)
	if !ok {
		return
	}
	handle := sess.Handle()
	if handle == nil {
		respond(conn, ctlproto.Response{OK: false, Error: "agent not running"})
		return
	}
	respond(conn, ctlproto.Response{OK: true})

	outputCh, cancel := handle.SubscribeOutput()
	defer cancel()

	if buf := handle.GetBuffer(); len(buf) > 0 {
		if _, err := conn.Write(buf); err != nil {
			return
		}
	}

	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		for chunk := range outputCh {
			if _, err := conn.Write(chunk); err != nil {
				return
			}
		}
	}()

	for {
		frameType, payload, err := ctlproto.ReadFrame(conn)
		if err != nil {
			break
		}
		switch frameType {
		case ctlproto.AttachFrameData:
			_ = handle.Write(payload)
		case ctlproto.AttachFrameResize:
			cols, rows, err := ctlproto.ParseResizePayload(payload)
			if err == nil {
				_ = handle.Resize(cols, rows)
			}
		case ctlproto.AttachFrameDetach:
			return
		}
	}
}
