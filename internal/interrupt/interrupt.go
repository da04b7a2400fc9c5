// Package interrupt implements the per-session FIFO queues of exclusive
// user-decision requests: permission checks, clarifying questions, and
// command approvals. One Arena instance serves one request kind; the hub
// owns three of them.
//
// Invariants enforced here rather than by callers: insertion order is
// preserved, duplicate ids are no-ops, the active request is always the head
// of its queue, and removing the last request for a session drops the
// session's key entirely.
package interrupt

import (
	"sync"
	"time"
)

// Request is the shared shape of one pending user decision.
type Request struct {
	ID        string
	SessionID string

	// Permission payload.
	Capability string
	Patterns   []string

	// Question payload.
	Questions []string

	// Command approval payload.
	Command       string
	AllowPatterns []string

	ReceivedAt time.Time
}

// Arena holds one kind's queues, keyed by internal session id. Mutation is
// copy-on-write: every change installs a freshly built slice, so a snapshot
// handed to a reader is never written to again.
type Arena struct {
	mu     sync.RWMutex
	queues map[string][]Request
}

func NewArena() *Arena {
	return &Arena{queues: make(map[string][]Request)}
}

// Enqueue appends req to its session's queue. Enqueuing an id that is
// already queued for that session is a no-op; it returns false.
func (a *Arena) Enqueue(req Request) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	q := a.queues[req.SessionID]
	for i := range q {
		if q[i].ID == req.ID {
			return false
		}
	}
	next := make([]Request, 0, len(q)+1)
	next = append(next, q...)
	next = append(next, req)
	a.queues[req.SessionID] = next
	return true
}

// Remove deletes the request with the given id from the session's queue and
// returns it. Removing the head promotes the next entry; removing the last
// entry removes the session's key. Unknown ids return ok=false.
func (a *Arena) Remove(sessionID, requestID string) (Request, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	q := a.queues[sessionID]
	idx := -1
	for i := range q {
		if q[i].ID == requestID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Request{}, false
	}

	removed := q[idx]
	if len(q) == 1 {
		delete(a.queues, sessionID)
		return removed, true
	}
	next := make([]Request, 0, len(q)-1)
	next = append(next, q[:idx]...)
	next = append(next, q[idx+1:]...)
	a.queues[sessionID] = next
	return removed, true
}

// Active returns the head of the session's queue, or ok=false when the
// session has no pending requests.
func (a *Arena) Active(sessionID string) (Request, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	q := a.queues[sessionID]
	if len(q) == 0 {
		return Request{}, false
	}
	return q[0], true
}

// Find locates a request by id across all sessions. Used to route a user
// reply that carries only the request id.
func (a *Arena) Find(requestID string) (Request, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for _, q := range a.queues {
		for i := range q {
			if q[i].ID == requestID {
				return q[i], true
			}
		}
	}
	return Request{}, false
}

// Clear drops the entire queue for a session. Safe when the session has no
// queue. Used on session teardown.
func (a *Arena) Clear(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.queues, sessionID)
}

// Len returns the number of pending requests for a session.
func (a *Arena) Len(sessionID string) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.queues[sessionID])
}

// Sessions returns the ids of all sessions with pending requests.
func (a *Arena) Sessions() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]string, 0, len(a.queues))
	for id := range a.queues {
		out = append(out, id)
	}
	return out
}
