package ctl

import (
	"bufio"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccbroker/broker/internal/agent"
	"github.com/ccbroker/broker/internal/ctlproto"
	"github.com/ccbroker/broker/internal/session"
)

func newTestManager(t *testing.T) *session.Manager {
	t.Helper()
	a := agent.New(agent.Descriptor{
		Name:             "echoer",
		Command:          "/bin/cat",
		ReadyPattern:     `^`,
		SentinelTemplate: "{message}",
		DoneTemplate:     "<done {id}>",
		DoneRegex:        `^<done {id}>$`,
	})
	timeouts := session.DefaultTimeouts()
	timeouts.Startup = time.Second
	timeouts.ReadyPoll = 10 * time.Millisecond
	timeouts.DispatchPoll = 10 * time.Millisecond
	sess := session.New("echoer", a, nil, "", timeouts)
	return session.NewManager([]*session.AgentSession{sess})
}

func startTestServer(t *testing.T) (socketPath string, mgr *session.Manager) {
	t.Helper()
	mgr = newTestManager(t)
	srv := New(mgr)
	socketPath = filepath.Join(t.TempDir(), "ctl.sock")

	go func() { _ = srv.Run(socketPath) }()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if conn, err := net.Dial("unix", socketPath); err == nil {
			conn.Close()
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Cleanup(mgr.ShutdownAll)
	return socketPath, mgr
}

func roundTrip(t *testing.T, socketPath string, req ctlproto.Request) ctlproto.Response {
	t.Helper()
	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	data, err := json.Marshal(req)
	require.NoError(t, err)
	data = append(data, '\n')
	_, err = conn.Write(data)
	require.NoError(t, err)

	scanner := bufio.NewScanner(conn)
	require.True(t, scanner.Scan())
	var resp ctlproto.Response
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
	return resp
}

func TestStatusReturnsKnownAgents(t *testing.T) {
	socketPath, _ := startTestServer(t)
	resp := roundTrip(t, socketPath, ctlproto.Request{Type: ctlproto.ReqStatus})
	require.True(t, resp.OK)
	require.Len(t, resp.Agents, 1)
	assert.Equal(t, "echoer", resp.Agents[0].Name)
}

func TestStartSendStop(t *testing.T) {
	socketPath, _ := startTestServer(t)

	startResp := roundTrip(t, socketPath, ctlproto.Request{Type: ctlproto.ReqStart, Agent: "echoer"})
	require.True(t, startResp.OK)

	sendResp := roundTrip(t, socketPath, ctlproto.Request{Type: ctlproto.ReqSend, Agent: "echoer", Prompt: "hi"})
	require.True(t, sendResp.OK)
	assert.NotEmpty(t, sendResp.Reply)

	stopResp := roundTrip(t, socketPath, ctlproto.Request{Type: ctlproto.ReqStop, Agent: "echoer"})
	require.True(t, stopResp.OK)
}

func TestUnknownAgentReturnsError(t *testing.T) {
	socketPath, _ := startTestServer(t)
	resp := roundTrip(t, socketPath, ctlproto.Request{Type: ctlproto.ReqStart, Agent: "nope"})
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "unknown agent")
}
