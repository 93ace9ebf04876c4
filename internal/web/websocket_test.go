package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requestWithOrigin(origin string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/ws/echoer", nil)
	r.Header.Set("Origin", origin)
	return r
}

func TestClampDim(t *testing.T) {
	assert.Equal(t, 1, clampDim(0, 1, 500))
	assert.Equal(t, 500, clampDim(10000, 1, 500))
	assert.Equal(t, 80, clampDim(80, 1, 500))
}

func TestMatchWildcardOrigin(t *testing.T) {
	assert.True(t, matchWildcardOrigin("https://foo.example.com", "https://*.example.com"))
	assert.True(t, matchWildcardOrigin("https://example.com", "https://*example.com"))
	assert.False(t, matchWildcardOrigin("https://evil.com", "https://*.example.com"))
	assert.False(t, matchWildcardOrigin("https://foo.example.com/bar", "https://*.example.com"))
}

func TestCheckOriginAllowsEmptyAllowlist(t *testing.T) {
	u := newUpgrader(nil)
	assert.True(t, u.checkOrigin(requestWithOrigin("https://anything.test")))
}

func TestCheckOriginRespectsAllowlist(t *testing.T) {
	u := newUpgrader([]string{"https://trusted.test"})
	assert.True(t, u.checkOrigin(requestWithOrigin("https://trusted.test")))
	assert.False(t, u.checkOrigin(requestWithOrigin("https://untrusted.test")))
}

func TestCheckOriginWildcard(t *testing.T) {
	u := newUpgrader([]string{"https://*.trusted.test"})
	assert.True(t, u.checkOrigin(requestWithOrigin("https://a.trusted.test")))
	assert.False(t, u.checkOrigin(requestWithOrigin("https://trusted.test.evil.com")))
}

// TestHandleWebSocketReturnsOnDisconnect guards against the deadlock where
// handleWebSocket, waiting on the relay goroutine to notice a closed
// connection, never woke up because nothing closed it first: an idle agent
// (no further PTY output) left both sides blocked forever. A client
// disconnect must unwind the handler and its output subscription promptly.
func TestHandleWebSocketReturnsOnDisconnect(t *testing.T) {
	mgr := newTestManager(t)
	sess, ok := mgr.Get("echoer")
	require.True(t, ok)
	require.NoError(t, sess.Start(mgr.PtyManager()))
	defer mgr.ShutdownAll()

	srv := NewServer(mgr, "", false, nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/echoer"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	handle := sess.Handle()
	require.NotNil(t, handle)
	require.Eventually(t, func() bool { return handle.SubscriberCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool { return handle.SubscriberCount() == 0 }, time.Second, 10*time.Millisecond,
		"handleWebSocket leaked its output subscription after the client disconnected")
}
