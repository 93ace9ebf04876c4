package logprovider

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/ccbroker/broker/internal/pathmap"
)

// OpenCodeProvider reads the single whole-file JSON session OpenCode-style
// assistants rewrite after each turn, under either of two observed shapes:
// a top-level "messages" array or a top-level "turns" array.
type OpenCodeProvider struct {
	logPath string
}

// NewOpenCodeProvider builds a provider rooted at pathPattern, or the
// OpenCode default (~/.local/share/opencode/storage) when empty.
func NewOpenCodeProvider(pathPattern string) *OpenCodeProvider {
	if pathPattern == "" {
		pathPattern = "~/.local/share/opencode/storage"
	}
	return &OpenCodeProvider{logPath: pathmap.Normalize(pathPattern)}
}

type ocTurn struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	CreatedAt string `json:"created_at"`
}

type ocSessionFile struct {
	Messages []ocTurn `json:"messages"`
	Turns    []ocTurn `json:"turns"`
}

func (p *OpenCodeProvider) findLatestSessionFile() (string, bool) {
	entries, err := os.ReadDir(p.logPath)
	if err != nil {
		return "", false
	}
	var latest string
	var latestMod time.Time
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
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

func parseOpenCodeEntries(content []byte) []HistoryEntry {
	var sf ocSessionFile
	if err := json.Unmarshal(content, &sf); err != nil {
		return nil
	}

	turns := sf.Messages
	timeField := func(t ocTurn) string { return t.Timestamp }
	if len(turns) == 0 && len(sf.Turns) > 0 {
		turns = sf.Turns
		timeField = func(t ocTurn) string { return t.CreatedAt }
	}

	out := make([]HistoryEntry, 0, len(turns))
	for _, t := range turns {
		if t.Role == "" || t.Content == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, timeField(t))
		if err != nil {
			ts = time.Now().UTC()
		}
		out = append(out, HistoryEntry{Role: t.Role, Content: t.Content, Timestamp: ts})
	}
	return out
}

func (p *OpenCodeProvider) GetLatestReply(sinceOffset uint64) (*LogEntry, bool) {
	sessionFile, ok := p.findLatestSessionFile()
	if !ok {
		return nil, false
	}
	content, err := os.ReadFile(sessionFile)
	if err != nil {
		return nil, false
	}

	entries := parseOpenCodeEntries(content)

	start := int(sinceOffset)
	if start > len(entries) {
		start = len(entries)
	}

	for idx := len(entries) - 1; idx >= start; idx-- {
		if entries[idx].Role != "assistant" {
			continue
		}
		inode, hasInode := p.GetInode()
		var inodePtr *uint64
		if hasInode {
			inodePtr = &inode
		}
		return &LogEntry{
			Content:   entries[idx].Content,
			Offset:    uint64(idx) + 1,
			Timestamp: entries[idx].Timestamp,
			Inode:     inodePtr,
		}, true
	}
	return nil, false
}

func (p *OpenCodeProvider) GetHistory(count int) []HistoryEntry {
	sessionFile, ok := p.findLatestSessionFile()
	if !ok {
		return nil
	}
	content, err := os.ReadFile(sessionFile)
	if err != nil {
		return nil
	}
	return tailN(parseOpenCodeEntries(content), count)
}

func (p *OpenCodeProvider) GetCurrentOffset() uint64 {
	sessionFile, ok := p.findLatestSessionFile()
	if !ok {
		return 0
	}
	content, err := os.ReadFile(sessionFile)
	if err != nil {
		return 0
	}
	return uint64(len(parseOpenCodeEntries(content)))
}

func (p *OpenCodeProvider) GetInode() (uint64, bool) {
	sessionFile, ok := p.findLatestSessionFile()
	if !ok {
		return 0, false
	}
	return fileInode(sessionFile)
}

func (p *OpenCodeProvider) GetWatchPath() string { return p.logPath }

// Available reports whether the storage root itself can be read, not
// whether a session file has appeared inside it yet.
func (p *OpenCodeProvider) Available() bool {
	_, err := os.Stat(p.logPath)
	return err == nil
}

func (p *OpenCodeProvider) LockSession() (LockedSession, bool) { return LockedSession{}, false }
func (p *OpenCodeProvider) UnlockSession()                     {}
