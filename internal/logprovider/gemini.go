package logprovider

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ccbroker/broker/internal/pathmap"
)

// geminiDefaultTimestamp is the sentinel "no real timestamp" value, matching
// the original's use of the Unix epoch for entries it can't parse a real
// timestamp out of.
var geminiDefaultTimestamp = time.Unix(0, 0).UTC()

type lockedGeminiSession struct {
	path              string
	baselineTimestamp time.Time
}

// GeminiProvider reads the whole-file JSON chat transcripts Gemini-style
// assistants write under "<root>/<project-hash>/chats/session-*.json". It
// never computes the project hash itself — that is fragile across platforms
// — and instead scans the whole root for the most recently modified session
// file.
type GeminiProvider struct {
	logPath string

	mu     sync.Mutex
	locked *lockedGeminiSession
}

// NewGeminiProvider builds a provider rooted at pathPattern, falling back to
// the GEMINI_ROOT environment variable, then to ~/.gemini/tmp, in that order.
func NewGeminiProvider(pathPattern string) *GeminiProvider {
	if pathPattern == "" {
		if root := os.Getenv("GEMINI_ROOT"); root != "" {
			pathPattern = root
		} else {
			pathPattern = "~/.gemini/tmp"
		}
	}
	p := &GeminiProvider{logPath: pathmap.Normalize(pathPattern)}
	log.Printf("logprovider: gemini initialized with log_path=%s", p.logPath)
	return p
}

type geminiMessage struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

type geminiChatFile struct {
	Messages []geminiMessage `json:"messages"`
}

type geminiEntry struct {
	role      string
	content   string
	timestamp time.Time
}

func isGeminiAssistantRole(role string) bool {
	return role == "assistant" || role == "model" || role == "gemini"
}

func parseGeminiChatJSON(content []byte) []geminiEntry {
	var cf geminiChatFile
	if err := json.Unmarshal(content, &cf); err != nil {
		return nil
	}
	out := make([]geminiEntry, 0, len(cf.Messages))
	for _, m := range cf.Messages {
		if m.Type == "" || m.Content == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, m.Timestamp)
		if err != nil {
			ts = geminiDefaultTimestamp
		}
		out = append(out, geminiEntry{role: m.Type, content: m.Content, timestamp: ts})
	}
	return out
}

func (p *GeminiProvider) findLatestChatFile() (string, bool) {
	if _, err := os.Stat(p.logPath); err != nil {
		return "", false
	}
	return scanLatestGeminiSession(p.logPath)
}

// scanLatestGeminiSession walks <root>/<hash>/chats/session-*.json for every
// hash directory and returns the most recently modified match.
func scanLatestGeminiSession(root string) (string, bool) {
	hashDirs, err := os.ReadDir(root)
	if err != nil {
		return "", false
	}

	var latest string
	var latestMod time.Time
	for _, hd := range hashDirs {
		chatsDir := filepath.Join(root, hd.Name(), "chats")
		info, err := os.Stat(chatsDir)
		if err != nil || !info.IsDir() {
			continue
		}
		found, mod, ok := latestSessionFileInChatsDir(chatsDir)
		if ok && (latest == "" || mod.After(latestMod)) {
			latest = found
			latestMod = mod
		}
	}
	return latest, latest != ""
}

func latestSessionFileInChatsDir(chatsDir string) (string, time.Time, bool) {
	entries, err := os.ReadDir(chatsDir)
	if err != nil {
		return "", time.Time{}, false
	}
	var latest string
	var latestMod time.Time
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "session-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if latest == "" || info.ModTime().After(latestMod) {
			latest = filepath.Join(chatsDir, name)
			latestMod = info.ModTime()
		}
	}
	return latest, latestMod, latest != ""
}

func findGeminiAssistantReply(entries []geminiEntry, sinceOffset uint64, inode func() (uint64, bool)) (*LogEntry, bool) {
	start := int(sinceOffset)
	if start > len(entries) {
		start = len(entries)
	}
	for idx := len(entries) - 1; idx >= start; idx-- {
		e := entries[idx]
		if !isGeminiAssistantRole(e.role) || strings.TrimSpace(e.content) == "" {
			continue
		}
		var inodePtr *uint64
		if in, ok := inode(); ok {
			inodePtr = &in
		}
		return &LogEntry{Content: e.content, Offset: uint64(idx) + 1, Timestamp: e.timestamp, Inode: inodePtr}, true
	}
	return nil, false
}

func findGeminiAssistantReplyByTimestamp(entries []geminiEntry, baseline time.Time, inode func() (uint64, bool)) (*LogEntry, bool) {
	for idx := len(entries) - 1; idx >= 0; idx-- {
		e := entries[idx]
		if !isGeminiAssistantRole(e.role) || !e.timestamp.After(baseline) || strings.TrimSpace(e.content) == "" {
			continue
		}
		var inodePtr *uint64
		if in, ok := inode(); ok {
			inodePtr = &in
		}
		return &LogEntry{Content: e.content, Offset: uint64(idx) + 1, Timestamp: e.timestamp, Inode: inodePtr}, true
	}
	return nil, false
}

func (p *GeminiProvider) scanNewerSession(lockedFile string, sinceOffset uint64, baselineTimestamp time.Time) (*LogEntry, uint64, bool) {
	chatsDir := filepath.Dir(lockedFile)
	latestFile, _, ok := latestSessionFileInChatsDir(chatsDir)
	if !ok || latestFile == lockedFile {
		return nil, 0, false
	}

	log.Printf("logprovider: gemini found newer session file %s, switching to it", latestFile)

	content, err := os.ReadFile(latestFile)
	if err != nil {
		log.Printf("logprovider: gemini failed to read newer chat file %s", latestFile)
		return nil, 0, false
	}

	entries := parseGeminiChatJSON(content)
	total := uint64(len(entries))

	if entry, ok := findGeminiAssistantReply(entries, sinceOffset, p.GetInode); ok {
		return entry, total, true
	}
	if baselineTimestamp != geminiDefaultTimestamp {
		if entry, ok := findGeminiAssistantReplyByTimestamp(entries, baselineTimestamp, p.GetInode); ok {
			return entry, total, true
		}
	}
	return nil, 0, false
}

func (p *GeminiProvider) GetLatestReply(sinceOffset uint64) (*LogEntry, bool) {
	p.mu.Lock()
	locked := p.locked
	p.mu.Unlock()

	var chatFile string
	var baselineTimestamp time.Time
	var shouldCheckNewer bool

	if locked != nil {
		chatFile = locked.path
		baselineTimestamp = locked.baselineTimestamp
		shouldCheckNewer = true
	} else {
		f, ok := p.findLatestChatFile()
		if !ok {
			return nil, false
		}
		chatFile = f
		baselineTimestamp = geminiDefaultTimestamp
	}

	if content, err := os.ReadFile(chatFile); err == nil {
		entries := parseGeminiChatJSON(content)
		if entry, ok := findGeminiAssistantReply(entries, sinceOffset, p.GetInode); ok {
			// While locked, a reply in the locked file only counts when it is
			// strictly newer than the baseline taken at LockSession.
			if !shouldCheckNewer || baselineTimestamp == geminiDefaultTimestamp ||
				entry.Timestamp == geminiDefaultTimestamp || entry.Timestamp.After(baselineTimestamp) {
				return entry, true
			}
		}
	} else if !shouldCheckNewer {
		return nil, false
	}

	if shouldCheckNewer {
		if entry, _, ok := p.scanNewerSession(chatFile, sinceOffset, baselineTimestamp); ok {
			return entry, true
		}
	}
	return nil, false
}

func (p *GeminiProvider) GetHistory(count int) []HistoryEntry {
	chatFile, ok := p.findLatestChatFile()
	if !ok {
		return nil
	}
	content, err := os.ReadFile(chatFile)
	if err != nil {
		return nil
	}

	raw := parseGeminiChatJSON(content)
	out := make([]HistoryEntry, 0, len(raw))
	for _, e := range raw {
		role := e.role
		if role == "model" || role == "gemini" {
			role = "assistant"
		}
		out = append(out, HistoryEntry{Role: role, Content: e.content, Timestamp: e.timestamp})
	}
	return tailN(out, count)
}

func (p *GeminiProvider) GetCurrentOffset() uint64 {
	if chatFile, ok := p.findLatestChatFile(); ok {
		if content, err := os.ReadFile(chatFile); err == nil {
			return uint64(len(parseGeminiChatJSON(content)))
		}
	}
	return 0
}

func (p *GeminiProvider) GetInode() (uint64, bool) {
	chatFile, ok := p.findLatestChatFile()
	if !ok {
		return 0, false
	}
	return fileInode(chatFile)
}

func (p *GeminiProvider) GetWatchPath() string { return p.logPath }

// Available reports whether the configured root itself can be read, not
// whether a project hash directory or session file has appeared under it
// yet.
func (p *GeminiProvider) Available() bool {
	_, err := os.Stat(p.logPath)
	return err == nil
}

// LockSession pins this provider to its current chat file and the timestamp
// of its last real (non-default) entry, so rollover detection in
// scanNewerSession has a baseline to fall back on when offsets alone can't
// locate the reply in a freshly-rolled-over file.
func (p *GeminiProvider) LockSession() (LockedSession, bool) {
	chatFile, ok := p.findLatestChatFile()
	if !ok {
		return LockedSession{}, false
	}
	content, err := os.ReadFile(chatFile)
	if err != nil {
		return LockedSession{}, false
	}

	entries := parseGeminiChatJSON(content)
	baselineOffset := uint64(len(entries))
	baselineTimestamp := geminiDefaultTimestamp
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].timestamp != geminiDefaultTimestamp {
			baselineTimestamp = entries[i].timestamp
			break
		}
	}

	p.mu.Lock()
	p.locked = &lockedGeminiSession{path: chatFile, baselineTimestamp: baselineTimestamp}
	p.mu.Unlock()

	log.Printf("logprovider: gemini session locked path=%s baseline_offset=%d", chatFile, baselineOffset)
	return LockedSession{FilePath: chatFile, BaselineOffset: baselineOffset}, true
}

func (p *GeminiProvider) UnlockSession() {
	p.mu.Lock()
	p.locked = nil
	p.mu.Unlock()
}
