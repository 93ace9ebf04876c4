package logprovider

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCodexGetLatestReply(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "session.jsonl",
		`{"role":"user","content":"hi","timestamp":"2026-01-01T00:00:00Z"}`+"\n"+
			`{"role":"assistant","content":"hello there","timestamp":"2026-01-01T00:00:01Z"}`+"\n")

	p := NewCodexProvider(dir)
	entry, ok := p.GetLatestReply(0)
	require.True(t, ok)
	assert.Equal(t, "hello there", entry.Content)
	assert.True(t, entry.Offset > 0)
}

func TestCodexGetLatestReplyRespectsOffset(t *testing.T) {
	dir := t.TempDir()
	content := `{"role":"assistant","content":"first","timestamp":"2026-01-01T00:00:00Z"}` + "\n"
	path := writeFile(t, dir, "session.jsonl", content)

	p := NewCodexProvider(dir)
	first, ok := p.GetLatestReply(0)
	require.True(t, ok)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"role":"assistant","content":"second","timestamp":"2026-01-01T00:00:02Z"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	second, ok := p.GetLatestReply(first.Offset)
	require.True(t, ok)
	assert.Equal(t, "second", second.Content)
}

func TestCodexGetHistoryTruncatesToMostRecent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "session.jsonl",
		`{"role":"user","content":"a","timestamp":"2026-01-01T00:00:00Z"}`+"\n"+
			`{"role":"assistant","content":"b","timestamp":"2026-01-01T00:00:01Z"}`+"\n"+
			`{"role":"user","content":"c","timestamp":"2026-01-01T00:00:02Z"}`+"\n")

	p := NewCodexProvider(dir)
	hist := p.GetHistory(2)
	require.Len(t, hist, 2)
	assert.Equal(t, "b", hist[0].Content)
	assert.Equal(t, "c", hist[1].Content)
}

func TestCodexNoSessionFileReturnsNotFound(t *testing.T) {
	p := NewCodexProvider(t.TempDir())
	_, ok := p.GetLatestReply(0)
	assert.False(t, ok)
}

func TestCodexFindsMostRecentlyModifiedFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "old.jsonl", `{"role":"assistant","content":"stale","timestamp":"2026-01-01T00:00:00Z"}`+"\n")
	time.Sleep(10 * time.Millisecond)
	writeFile(t, dir, "new.jsonl", `{"role":"assistant","content":"fresh","timestamp":"2026-01-01T00:00:01Z"}`+"\n")

	p := NewCodexProvider(dir)
	entry, ok := p.GetLatestReply(0)
	require.True(t, ok)
	assert.Equal(t, "fresh", entry.Content)
}
