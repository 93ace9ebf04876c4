// Package logprovider reads the on-disk session logs that some assistants
// write as a side effect of answering, as a corroborating completion signal
// alongside the PTY sentinel/done-marker protocol (§4.5). Every provider here
// is polled. watch.go offers an fsnotify-based WakeupSource, but the session
// dispatch loop does not use it: it polls on its fixed interval only.
package logprovider

import "time"

// LogEntry is one assistant reply read back from a session log, tagged with
// enough position/identity information for the session dispatch loop to
// decide whether it corresponds to the in-flight request and to resume
// reading from the right place next time.
type LogEntry struct {
	Content   string
	Offset    uint64
	Timestamp time.Time
	Inode     *uint64
}

// HistoryEntry is one turn returned by GetHistory. Roles are kept as the log
// spells them, except that Gemini's "model"/"gemini" become "assistant".
type HistoryEntry struct {
	Role      string
	Content   string
	Timestamp time.Time
}

// LockedSession is returned by LockSession: the session file a provider has
// pinned itself to, plus the message-count baseline new replies are measured
// against.
type LockedSession struct {
	FilePath       string
	BaselineOffset uint64
}

// Provider is the uniform log-backed completion source every session kind
// implements (§4.5). Offsets are provider-defined: Codex uses a byte offset
// into the JSONL file, Gemini and OpenCode use a message index.
type Provider interface {
	// GetLatestReply returns the newest assistant entry at or after
	// sinceOffset, or (nil, false) if none has appeared yet.
	GetLatestReply(sinceOffset uint64) (*LogEntry, bool)

	// Available reports whether the provider's backing log root is
	// currently reachable, distinct from "reachable but nothing new yet".
	// A caller polling GetLatestReply has no way to tell those two cases
	// apart from its (nil, false) return alone.
	Available() bool

	// GetHistory returns up to count of the most recent turns, oldest first.
	GetHistory(count int) []HistoryEntry

	// GetCurrentOffset returns the offset a caller should start polling from
	// to see only entries written after this call.
	GetCurrentOffset() uint64

	// GetInode identifies the physical file currently backing this provider,
	// when the platform supports it, so callers can detect silent rollovers
	// even when a rotated file happens to reuse the same offset numbering.
	GetInode() (uint64, bool)

	// GetWatchPath returns the directory this provider reads its session
	// files from, suitable for Watch; the session dispatch loop does not
	// watch it.
	GetWatchPath() string

	// LockSession pins this provider to its current session file and
	// baseline, so it keeps reading that file even if a newer one appears,
	// until UnlockSession is called. Providers that need no such pinning
	// (Codex) implement these as no-ops returning ok=false.
	LockSession() (LockedSession, bool)
	UnlockSession()
}
