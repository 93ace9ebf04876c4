package logprovider

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ccbroker/broker/internal/pathmap"
)

// CodexProvider reads the JSON-Lines session transcript Codex-style
// assistants append to as they work.
type CodexProvider struct {
	logPath string

	currentOffset atomic.Uint64
}

// NewCodexProvider builds a provider rooted at pathPattern, or the Codex
// default (~/.codex/sessions) when pathPattern is empty.
func NewCodexProvider(pathPattern string) *CodexProvider {
	if pathPattern == "" {
		pathPattern = "~/.codex/sessions"
	}
	return &CodexProvider{logPath: pathmap.Normalize(pathPattern)}
}

type codexLine struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

func (p *CodexProvider) findLatestSessionFile() (string, bool) {
	entries, err := os.ReadDir(p.logPath)
	if err != nil {
		return "", false
	}

	var latest string
	var latestMod time.Time
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if latest == "" || info.ModTime().After(latestMod) {
			latest = filepath.Join(p.logPath, e.Name())
			latestMod = info.ModTime()
		}
	}
	return latest, latest != ""
}

func parseCodexLine(line string) (role, content string, ts time.Time, ok bool) {
	var v codexLine
	if err := json.Unmarshal([]byte(line), &v); err != nil {
		return "", "", time.Time{}, false
	}
	if v.Role == "" || v.Content == "" {
		return "", "", time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, v.Timestamp)
	if err != nil {
		t = time.Now().UTC()
	}
	return v.Role, v.Content, t, true
}

func (p *CodexProvider) GetLatestReply(sinceOffset uint64) (*LogEntry, bool) {
	sessionFile, ok := p.findLatestSessionFile()
	if !ok {
		return nil, false
	}

	f, err := os.Open(sessionFile)
	if err != nil {
		return nil, false
	}
	defer f.Close()

	if _, err := f.Seek(int64(sinceOffset), 0); err != nil {
		return nil, false
	}

	reader := bufio.NewReader(f)
	var last *LogEntry
	var lastEndOffset uint64 = sinceOffset
	var pos int64 = int64(sinceOffset)

	for {
		line, err := reader.ReadString('\n')
		pos += int64(len(line))
		if len(line) > 0 {
			if role, content, ts, ok := parseCodexLine(strings.TrimRight(line, "\n")); ok && role == "assistant" {
				inode, hasInode := p.GetInode()
				var inodePtr *uint64
				if hasInode {
					inodePtr = &inode
				}
				last = &LogEntry{Content: content, Offset: uint64(pos), Timestamp: ts, Inode: inodePtr}
				lastEndOffset = uint64(pos)
			}
		}
		if err != nil {
			break
		}
	}

	if last != nil {
		p.currentOffset.Store(lastEndOffset)
	}
	return last, last != nil
}

func (p *CodexProvider) GetHistory(count int) []HistoryEntry {
	sessionFile, ok := p.findLatestSessionFile()
	if !ok {
		return nil
	}
	data, err := os.ReadFile(sessionFile)
	if err != nil {
		return nil
	}

	var entries []HistoryEntry
	for _, line := range strings.Split(string(data), "\n") {
		role, content, ts, ok := parseCodexLine(line)
		if !ok {
			continue
		}
		entries = append(entries, HistoryEntry{Role: role, Content: content, Timestamp: ts})
	}
	return tailN(entries, count)
}

// tailN returns the last n elements of entries, oldest first.
func tailN(entries []HistoryEntry, n int) []HistoryEntry {
	if n <= 0 || len(entries) <= n {
		return entries
	}
	return entries[len(entries)-n:]
}

func (p *CodexProvider) GetCurrentOffset() uint64 {
	if sessionFile, ok := p.findLatestSessionFile(); ok {
		if info, err := os.Stat(sessionFile); err == nil {
			return uint64(info.Size())
		}
	}
	return p.currentOffset.Load()
}

func (p *CodexProvider) GetInode() (uint64, bool) {
	sessionFile, ok := p.findLatestSessionFile()
	if !ok {
		return 0, false
	}
	return fileInode(sessionFile)
}

func (p *CodexProvider) GetWatchPath() string { return p.logPath }

// Available reports whether the session directory itself can be read, not
// whether a session file has appeared inside it yet.
func (p *CodexProvider) Available() bool {
	_, err := os.Stat(p.logPath)
	return err == nil
}

// LockSession is a no-op for Codex: the JSONL file is append-only and never
// rolls over mid-session, so there is nothing to pin.
func (p *CodexProvider) LockSession() (LockedSession, bool) { return LockedSession{}, false }
func (p *CodexProvider) UnlockSession()                     {}
