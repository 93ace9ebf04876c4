package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDescriptor() Descriptor {
	return Descriptor{
		Name:             "codex",
		Command:          "codex",
		Args:             []string{"--stdio"},
		ReadyPattern:     `\$\s*$`,
		ErrorPatterns:    []string{`(?i)fatal error`},
		SentinelTemplate: "[[req:{id}]] {message}",
		SentinelRegex:    `\[\[req:([a-zA-Z0-9-]+)\]\]`,
		DoneTemplate:     "<<done:{id}>>",
		DoneRegex:        `^<<done:{id}>>$`,
		LogProviderKind:  "codex",
	}
}

func TestNewDispatchesClaudeCodeByName(t *testing.T) {
	a := New(Descriptor{Name: "claudecode", Command: "claude"})
	assert.Equal(t, "claudecode", a.Name())
	assert.Equal(t, "", a.LogProviderKind())
}

func TestNewReturnsGenericForOtherNames(t *testing.T) {
	a := New(testDescriptor())
	_, ok := a.(*genericAgent)
	require.True(t, ok)
}

func TestMatchesReady(t *testing.T) {
	a := New(testDescriptor())
	assert.True(t, a.MatchesReady([]byte("some banner\n$ ")))
	assert.False(t, a.MatchesReady([]byte("still booting...")))
}

func TestMatchesError(t *testing.T) {
	a := New(testDescriptor())
	pattern, ok := a.MatchesError([]byte("FATAL ERROR: disk full"))
	assert.True(t, ok)
	assert.NotEmpty(t, pattern)

	_, ok = a.MatchesError([]byte("all good"))
	assert.False(t, ok)
}

func TestInvalidRegexFailsClosed(t *testing.T) {
	d := testDescriptor()
	d.ReadyPattern = "(unclosed"
	a := New(d)
	assert.False(t, a.MatchesReady([]byte("anything at all")))
}

func TestInjectMessageAndExtractSentinelID(t *testing.T) {
	a := New(testDescriptor())
	out := a.InjectMessage("list files", "req-123")

	id, ok := a.ExtractSentinelID(string(out))
	require.True(t, ok)
	assert.Equal(t, "req-123", id)
}

func TestIsReplyCompleteAndStripDoneMarker(t *testing.T) {
	a := New(testDescriptor())
	text := "Here are the files:\n- a.go\n- b.go\n\n<<done:req-123>>\n"

	assert.True(t, a.IsReplyComplete(text, "req-123"))
	assert.False(t, a.IsReplyComplete(text, "req-999"))

	stripped := a.StripDoneMarker(text, "req-123")
	assert.Equal(t, "Here are the files:\n- a.go\n- b.go", stripped)
}

func TestIsReplyCompleteRequiresMarkerOnLastLine(t *testing.T) {
	a := New(testDescriptor())
	text := "<<done:req-123>>\nbut then more text after it"
	assert.False(t, a.IsReplyComplete(text, "req-123"))
}

func TestShouldAutoRestart(t *testing.T) {
	a := New(testDescriptor())
	assert.True(t, a.ShouldAutoRestart(1))
	assert.False(t, a.ShouldAutoRestart(0))
}

func TestInterruptBytesDefaultsToCtrlC(t *testing.T) {
	a := New(testDescriptor())
	assert.Equal(t, []byte{0x03}, a.InterruptBytes())
}

func TestInterruptBytesOverride(t *testing.T) {
	d := testDescriptor()
	d.InterruptBytes = []byte{0x1b}
	a := New(d)
	assert.Equal(t, []byte{0x1b}, a.InterruptBytes())
}

func TestClaudeCodeReplyCompletionRoundTrip(t *testing.T) {
	a := New(Descriptor{Name: "claudecode", Command: "claude"})
	out := a.InjectMessage("what time is it", "req-abc")
	assert.Contains(t, string(out), "what time is it")

	reply := "It's 3pm.\n\nDONE req-abc"
	assert.True(t, a.IsReplyComplete(reply, "req-abc"))
	assert.False(t, a.IsReplyComplete(reply, "req-xyz"))

	assert.Equal(t, "It's 3pm.", a.StripDoneMarker(reply, "req-abc"))
}

func TestClaudeCodeNeverMatchesErrorFromOutputAlone(t *testing.T) {
	a := New(Descriptor{Name: "claudecode", Command: "claude"})
	_, ok := a.MatchesError([]byte("fatal error: out of memory"))
	assert.False(t, ok)
}
