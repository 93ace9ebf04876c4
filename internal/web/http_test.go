package web

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccbroker/broker/internal/agent"
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
	s := session.New("echoer", a, nil, "", timeouts)
	return session.NewManager([]*session.AgentSession{s})
}

func TestHandleStatusReturnsAgentList(t *testing.T) {
	mgr := newTestManager(t)
	srv := NewServer(mgr, "", false, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "echoer")
}

func TestHandleStatusRejectsNonGet(t *testing.T) {
	mgr := newTestManager(t)
	srv := NewServer(mgr, "", false, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/status", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAuthTokenRequiredWhenConfigured(t *testing.T) {
	mgr := newTestManager(t)
	srv := NewServer(mgr, "secret", false, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req2.Header.Set("Authorization", "Bearer secret")
	rec2 := httptest.NewRecorder()
	srv.ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusOK, rec2.Code)
}

func TestHandleAgentActionUnknownAgentReturns404(t *testing.T) {
	mgr := newTestManager(t)
	srv := NewServer(mgr, "", false, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/agents/nonexistent/start", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleAgentActionStartAndStop(t *testing.T) {
	mgr := newTestManager(t)
	srv := NewServer(mgr, "", false, nil)
	defer mgr.ShutdownAll()

	req := httptest.NewRequest(http.MethodPost, "/api/agents/echoer/start", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	sess, ok := mgr.Get("echoer")
	require.True(t, ok)
	assert.Equal(t, session.StateReady, sess.State())

	req2 := httptest.NewRequest(http.MethodPost, "/api/agents/echoer/stop", nil)
	rec2 := httptest.NewRecorder()
	srv.ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusOK, rec2.Code)
	assert.Equal(t, session.StateStopped, sess.State())
}

func TestHandleAgentHistoryWithNoProviderReturnsEmpty(t *testing.T) {
	mgr := newTestManager(t)
	srv := NewServer(mgr, "", false, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/agents/echoer/history", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"history":[]`)
}

func TestStaticHandlerFallsBackToIndex(t *testing.T) {
	mgr := newTestManager(t)
	srv := NewServer(mgr, "", false, nil)

	req := httptest.NewRequest(http.MethodGet, "/some/client/route", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ccbroker")
}
