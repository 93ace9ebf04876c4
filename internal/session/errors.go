package session

import "errors"

// Error taxonomy surfaced by AgentSession (§7). Transient I/O errors inside
// polling loops are logged and retried on the next tick; only these values
// ever reach a caller.
var (
	ErrSpawnFailed          = errors.New("session: child could not be spawned")
	ErrNotReady             = errors.New("session: startup timed out or an error pattern matched")
	ErrQueueTimeout         = errors.New("session: request waited too long before dispatch")
	ErrTimeout              = errors.New("session: no completion signal before the deadline")
	ErrStuck                = errors.New("session: no output progress for max_stuck_duration")
	ErrInterrupted          = errors.New("session: canceled by operator")
	ErrStopped              = errors.New("session: torn down while the request was pending")
	ErrProviderUnavailable  = errors.New("session: configured log provider found no usable file")
	ErrUnknownAgent         = errors.New("session: no agent registered under that name")
	ErrAlreadyBusyElsewhere = errors.New("session: internal invariant violated: two requests in flight")
)
