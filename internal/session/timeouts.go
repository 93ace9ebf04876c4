package session

import "time"

// Timeouts bundles every duration the dispatch loop consults (§6, the
// config.TimeoutConfig fields). DefaultTimeouts mirrors the values the
// original broker shipped.
type Timeouts struct {
	Default          time.Duration
	Startup          time.Duration
	ReadyPoll        time.Duration
	DispatchPoll     time.Duration
	QueueWait        time.Duration
	MaxStuckDuration time.Duration
	MaxStartRetries  int
	StartRetryDelay  time.Duration
}

// DefaultTimeouts returns the broker's stock timeout budget.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Default:          600 * time.Second,
		Startup:          30 * time.Second,
		ReadyPoll:        100 * time.Millisecond,
		DispatchPoll:     200 * time.Millisecond,
		QueueWait:        60 * time.Second,
		MaxStuckDuration: 300 * time.Second,
		MaxStartRetries:  3,
		StartRetryDelay:  1000 * time.Millisecond,
	}
}
