// Package track implements the per-session streaming lifecycle state machine:
// busy/retry/idle status signals in, a streaming flag and a finalize-once
// completion signal out.
package track

import (
	"sync"
	"time"

	"github.com/seam-dev/seam/internal/event"
)

// state is the lifecycle of one session's current response.
type state struct {
	streaming bool
	finalized bool
	busyAt    time.Time
}

// Tracker owns lifecycle state for all sessions, keyed by internal session id.
// Event application runs on the hub's single consumer goroutine; the mutex
// exists for the read accessors, which are called from other goroutines.
type Tracker struct {
	mu       sync.RWMutex
	sessions map[string]*state
}

func New() *Tracker {
	return &Tracker{sessions: make(map[string]*state)}
}

// Result describes the outcome of applying a status signal.
type Result struct {
	// Finalized is true exactly once per response: on the first idle-style
	// signal after a busy. It is the single authoritative completion signal.
	Finalized bool
	// Elapsed is the active time of the finished response. Only meaningful
	// when Finalized is true and a busy was observed.
	Elapsed time.Duration
}

// Apply feeds one session.status signal into the state machine.
//
// busy marks the session streaming and, when it is the first busy after an
// idle, opens a new turn by clearing the finalize guard. retry keeps the
// session streaming and never finalizes. idle clears the streaming flag and
// finalizes exactly once; duplicate idles clear the flag again but report
// Finalized false.
func (t *Tracker) Apply(sessionID string, status event.Status) Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.sessions[sessionID]
	if st == nil {
		st = &state{}
		t.sessions[sessionID] = st
	}

	switch status {
	case event.StatusBusy:
		if !st.streaming {
			// Turn boundary: a fresh response begins.
			st.finalized = false
			st.busyAt = time.Now()
		}
		st.streaming = true
		return Result{}

	case event.StatusRetry:
		// Still busy. A retry must not finalize and must not reset the turn.
		if !st.streaming && st.busyAt.IsZero() {
			st.busyAt = time.Now()
		}
		st.streaming = true
		return Result{}

	case event.StatusIdle:
		st.streaming = false
		if st.finalized {
			return Result{}
		}
		st.finalized = true
		return Result{Finalized: true, Elapsed: st.elapsed()}
	}

	return Result{}
}

// Settle handles the backend's secondary "turn fully settled" signal. It is
// the fallback finalizer: a no-op when status-idle already finalized, and the
// finalizing action when status-idle was never observed. Backends emit the
// two signals in no fixed order, or emit only one of them.
func (t *Tracker) Settle(sessionID string) Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.sessions[sessionID]
	if st == nil {
		return Result{}
	}
	st.streaming = false
	if st.finalized {
		return Result{}
	}
	st.finalized = true
	return Result{Finalized: true, Elapsed: st.elapsed()}
}

// IsStreaming reports whether the session is actively producing output.
func (t *Tracker) IsStreaming(sessionID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st := t.sessions[sessionID]
	return st != nil && st.streaming
}

// Forget drops all lifecycle state for a session. Used on teardown.
func (t *Tracker) Forget(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, sessionID)
}

func (s *state) elapsed() time.Duration {
	if s.busyAt.IsZero() {
		return 0
	}
	return time.Since(s.busyAt)
}
