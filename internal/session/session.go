// Package session implements the per-agent state machine and request
// dispatcher (C6) and the name -> AgentSession registry (C7). This is the
// component that drives the PTY supervisor, the agent adapter, and the log
// provider together to turn a submitted prompt into a delivered reply.
package session

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ccbroker/broker/internal/agent"
	"github.com/ccbroker/broker/internal/logprovider"
	"github.com/ccbroker/broker/internal/ptysup"
)

type request struct {
	id         string
	prompt     string
	enqueuedAt time.Time
	deadline   time.Time
	resultCh   chan requestResult
}

type requestResult struct {
	reply string
	err   error
}

// requestQueueSize bounds how many submitted-but-not-yet-dispatched requests
// a session holds; §3 only requires FIFO ordering, not an unbounded queue.
const requestQueueSize = 256

// providerUnavailableGrace bounds how long pollForCompletion tolerates a log
// provider reporting its root unreachable before giving up with
// ErrProviderUnavailable, rather than failing on the first poll tick against
// a path that is merely being created as the agent starts up.
const providerUnavailableGrace = 150 * time.Millisecond

// AgentSession is the per-agent state machine plus its FIFO request queue.
type AgentSession struct {
	name     string
	adapter  agent.Agent
	provider logprovider.Provider // nil for the native-PTY ("claudecode") adapter
	cwd      string
	timeouts Timeouts

	reqCh       chan *request
	interruptCh chan struct{}

	mu         sync.Mutex
	state      State
	failReason error
	handle     *ptysup.PtyHandle
}

// New constructs a session in state Stopped and starts its dispatcher
// goroutine; the dispatcher runs for the lifetime of the session regardless
// of PTY state, so Send never blocks on session construction races.
func New(name string, a agent.Agent, provider logprovider.Provider, cwd string, timeouts Timeouts) *AgentSession {
	s := &AgentSession{
		name:        name,
		adapter:     a,
		provider:    provider,
		cwd:         cwd,
		timeouts:    timeouts,
		reqCh:       make(chan *request, requestQueueSize),
		interruptCh: make(chan struct{}, 1),
		state:       StateStopped,
	}
	go s.dispatchLoop()
	return s
}

func (s *AgentSession) Name() string { return s.name }

func (s *AgentSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// FailReason returns the error recorded the last time this session entered
// StateFailed, or nil.
func (s *AgentSession) FailReason() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failReason
}

func (s *AgentSession) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *AgentSession) getHandle() *ptysup.PtyHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// Handle returns the session's live PTY handle, or nil if the agent has not
// started (or has stopped). The web surface uses this to know when a
// WebSocket viewer can start receiving terminal output.
func (s *AgentSession) Handle() *ptysup.PtyHandle {
	return s.getHandle()
}

// Provider returns the session's log provider, or nil for adapters (like
// claudecode) that parse their own PTY stream instead.
func (s *AgentSession) Provider() logprovider.Provider {
	return s.provider
}

// Start is idempotent: a no-op when already Ready or Busy. Otherwise it
// spawns the child via ptyMgr, polls for readiness, and retries on failure
// per the adapter's auto-restart policy, up to MaxStartRetries times.
func (s *AgentSession) Start(ptyMgr *ptysup.Manager) error {
	s.mu.Lock()
	if s.state == StateReady || s.state == StateBusy {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStarting
	s.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt <= s.timeouts.MaxStartRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(s.timeouts.StartRetryDelay)
		}

		argv := s.adapter.StartupArgv(s.cwd)
		handle, err := ptyMgr.Create(s.name, argv, s.cwd, ptysup.DefaultBufferCapacity)
		if err != nil {
			lastErr = ErrSpawnFailed
			continue
		}

		ready, exitCode := s.waitForReady(handle)
		if ready {
			s.mu.Lock()
			s.handle = handle
			s.state = StateReady
			s.failReason = nil
			s.mu.Unlock()
			return nil
		}

		handle.Shutdown()
		ptyMgr.Remove(s.name)
		lastErr = ErrNotReady

		if !s.adapter.ShouldAutoRestart(exitCode) {
			break
		}
	}

	s.mu.Lock()
	s.state = StateFailed
	s.failReason = lastErr
	s.mu.Unlock()
	return lastErr
}

// waitForReady polls the replay buffer every ReadyPoll until ready_pattern
// matches (success), an error_pattern matches, the child exits, or Startup
// elapses (all failure).
func (s *AgentSession) waitForReady(handle *ptysup.PtyHandle) (ready bool, exitCode int) {
	deadline := time.Now().Add(s.timeouts.Startup)
	for time.Now().Before(deadline) {
		buf := handle.GetBuffer()
		if s.adapter.MatchesReady(buf) {
			return true, 0
		}
		if _, matched := s.adapter.MatchesError(buf); matched {
			_, code, _ := handle.TryWait()
			return false, code
		}
		if exited, code, _ := handle.TryWait(); exited {
			return false, code
		}
		time.Sleep(s.timeouts.ReadyPoll)
	}
	return false, -1
}

// Send enqueues prompt and blocks until a reply is delivered, the deadline
// passes, or the request is otherwise failed (§4.6).
func (s *AgentSession) Send(prompt string, deadline time.Time) (string, error) {
	req := &request{
		id:         shortRequestID(),
		prompt:     prompt,
		enqueuedAt: time.Now(),
		deadline:   deadline,
		resultCh:   make(chan requestResult, 1),
	}
	s.reqCh <- req
	res := <-req.resultCh
	return res.reply, res.err
}

func shortRequestID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}

func (s *AgentSession) dispatchLoop() {
	for req := range s.reqCh {
		s.dispatchOne(req)
	}
}

func (s *AgentSession) dispatchOne(req *request) {
	queueDeadline := req.enqueuedAt.Add(s.timeouts.QueueWait)

	for {
		st := s.State()
		if st == StateReady {
			break
		}
		if st == StateStopped {
			req.resultCh <- requestResult{err: ErrStopped}
			return
		}
		if st == StateFailed {
			req.resultCh <- requestResult{err: ErrNotReady}
			return
		}
		if time.Now().After(queueDeadline) || time.Now().After(req.deadline) {
			req.resultCh <- requestResult{err: ErrQueueTimeout}
			return
		}
		time.Sleep(s.timeouts.ReadyPoll)
	}

	handle := s.getHandle()
	if handle == nil {
		req.resultCh <- requestResult{err: ErrStopped}
		return
	}

	s.setState(StateBusy)

	var cursor uint64
	usesLog := s.provider != nil
	if usesLog {
		if locked, ok := s.provider.LockSession(); ok {
			cursor = locked.BaselineOffset
		} else {
			cursor = s.provider.GetCurrentOffset()
		}
	}

	bufStart := len(handle.GetBuffer())
	_ = handle.Write(append(s.adapter.InjectMessage(req.prompt, req.id), '\n'))

	reply, err := s.pollForCompletion(handle, req, bufStart, usesLog, &cursor)

	if usesLog {
		s.provider.UnlockSession()
	}

	// Drain a stale interrupt signal raised after this request already
	// finished on its own, so it doesn't bleed into the next dispatch.
	select {
	case <-s.interruptCh:
	default:
	}

	if s.State() != StateStopped {
		s.setState(StateReady)
	}
	req.resultCh <- requestResult{reply: reply, err: err}
}

func (s *AgentSession) pollForCompletion(handle *ptysup.PtyHandle, req *request, bufStart int, usesLog bool, cursor *uint64) (string, error) {
	busyEntry := time.Now()
	var unavailableSince time.Time

	for {
		select {
		case <-s.interruptCh:
			return "", ErrInterrupted
		default:
		}

		buf := handle.GetBuffer()
		if len(buf) >= bufStart {
			tail := string(buf[bufStart:])
			// PTY completion wins the tie-break over the log provider in the
			// same poll iteration (§4.6).
			if s.adapter.IsReplyComplete(tail, req.id) {
				return s.adapter.StripDoneMarker(tail, req.id), nil
			}
		}

		if usesLog {
			if !s.provider.Available() {
				if unavailableSince.IsZero() {
					unavailableSince = time.Now()
				} else if time.Since(unavailableSince) > providerUnavailableGrace {
					return "", ErrProviderUnavailable
				}
			} else {
				unavailableSince = time.Time{}
			}

			if entry, ok := s.provider.GetLatestReply(*cursor); ok {
				*cursor = entry.Offset
				if s.adapter.IsReplyComplete(entry.Content, req.id) {
					return s.adapter.StripDoneMarker(entry.Content, req.id), nil
				}
				// The log provider is the authoritative completion source for
				// this adapter family: a fresh assistant entry appearing
				// after the session was locked for this dispatch IS the
				// reply, even when it carries no done marker of its own.
				return entry.Content, nil
			}
		}

		now := time.Now()
		if now.Sub(busyEntry) > s.timeouts.MaxStuckDuration {
			s.setState(StateStuck)
			_ = handle.Write(s.adapter.InterruptBytes())
			return "", ErrStuck
		}
		if now.After(req.deadline) {
			_ = handle.Write(s.adapter.InterruptBytes())
			return "", ErrTimeout
		}

		time.Sleep(s.timeouts.DispatchPoll)
	}
}

// Interrupt cancels any in-flight request and writes the adapter's interrupt
// bytes. Valid in any state with a live PTY.
func (s *AgentSession) Interrupt() error {
	handle := s.getHandle()
	if handle == nil {
		return ErrStopped
	}
	err := handle.Write(s.adapter.InterruptBytes())
	if s.State() == StateBusy {
		select {
		case s.interruptCh <- struct{}{}:
		default:
		}
	}
	return err
}

// Stop tears the session's PTY down (killing and waiting on the child),
// removes it from ptyMgr, and transitions to Stopped. Requests already
// sitting in the queue fail with ErrStopped the moment the dispatcher reaches
// them; force is accepted for interface symmetry with the web surface but
// Shutdown is already unconditional.
func (s *AgentSession) Stop(force bool, ptyMgr *ptysup.Manager) error {
	s.mu.Lock()
	handle := s.handle
	s.handle = nil
	s.state = StateStopped
	s.mu.Unlock()

	if handle != nil {
		handle.Shutdown()
		ptyMgr.Remove(s.name)
	}
	return nil
}
