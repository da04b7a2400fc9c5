// Package status holds the ephemeral per-session status entries and reduces
// a workspace's sessions into one aggregate badge.
package status

import (
	"sync"
	"time"
)

// Code is one of the closed set of session statuses. Absence of an entry
// means nominal/idle.
type Code string

const (
	Answering  Code = "answering"
	Permission Code = "permission"
	Planning   Code = "planning"
	Working    Code = "working"
	Completed  Code = "completed"
	Unread     Code = "unread"
)

// Entry is the derived state of one session.
type Entry struct {
	Code Code
	// Word is a short display label, e.g. the completion word of a finished
	// turn. Optional.
	Word string
	// DurationMS is the elapsed active time of the finished turn. Zero when
	// unknown.
	DurationMS int64

	ChangedAt time.Time
}

// Board stores at most one Entry per session id. Writers run on the hub's
// consumer goroutine; the mutex protects the cross-goroutine readers.
type Board struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewBoard() *Board {
	return &Board{entries: make(map[string]Entry)}
}

// Set installs an entry for the session, overwriting any previous one.
// A nil entry removes the session's entry.
func (b *Board) Set(sessionID string, e *Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e == nil {
		delete(b.entries, sessionID)
		return
	}
	entry := *e
	if entry.ChangedAt.IsZero() {
		entry.ChangedAt = time.Now()
	}
	b.entries[sessionID] = entry
}

// Get returns the session's entry, if any.
func (b *Board) Get(sessionID string) (Entry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[sessionID]
	return e, ok
}

// Snapshot returns a copy of all entries.
func (b *Board) Snapshot() map[string]Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]Entry, len(b.entries))
	for id, e := range b.entries {
		out[id] = e
	}
	return out
}

// rank orders codes by display priority. Lower is more urgent. Permission and
// answering share the top band: both mean "the user must act right now".
func rank(c Code) int {
	switch c {
	case Permission, Answering:
		return 0
	case Planning:
		return 1
	case Working:
		return 2
	case Completed:
		return 3
	case Unread:
		return 4
	default:
		return 5
	}
}

// Aggregate reduces the sessions of one workspace into a single entry.
// sessionIDs must be in the caller's stable iteration order; the first
// session found holding the top band wins immediately, so callers must not
// assume which session wins when several top-band entries coexist unless
// they also control that order. Returns ok=false when no session has an
// entry (no badge).
func Aggregate(sessionIDs []string, entries map[string]Entry) (Entry, bool) {
	var (
		best     Entry
		bestRank = -1
	)
	for _, id := range sessionIDs {
		e, ok := entries[id]
		if !ok {
			continue
		}
		r := rank(e.Code)
		if r == 0 {
			return e, true
		}
		if bestRank == -1 || r < bestRank {
			best = e
			bestRank = r
		}
	}
	if bestRank == -1 {
		return Entry{}, false
	}
	return best, true
}
