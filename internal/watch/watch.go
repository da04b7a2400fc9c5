// Package watch accumulates streamed text per session and fires a one-shot
// callback when a fixed pattern first matches, e.g. detecting the PR URL an
// agent prints after pushing a branch.
package watch

import (
	"regexp"
	"strings"
	"sync"
)

// PRURLPattern matches a GitHub pull-request URL in streamed output.
var PRURLPattern = regexp.MustCompile(`https://github\.com/[^\s)]+/pull/\d+`)

type buffer struct {
	text  strings.Builder
	fired bool
}

// Watcher tests accumulated per-session text against one pattern. Sessions
// accumulate only while armed; Arm resets the buffer and the fired latch, so
// re-arming starts a fresh watch instance.
type Watcher struct {
	pattern *regexp.Regexp
	onMatch func(sessionID, match string)

	mu      sync.Mutex
	buffers map[string]*buffer
}

func New(pattern *regexp.Regexp, onMatch func(sessionID, match string)) *Watcher {
	return &Watcher{
		pattern: pattern,
		onMatch: onMatch,
		buffers: make(map[string]*buffer),
	}
}

// Arm starts (or restarts) watching a session. Any previously accumulated
// text and a previously fired latch are discarded.
func (w *Watcher) Arm(sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buffers[sessionID] = &buffer{}
}

// Disarm stops watching a session and drops its buffer.
func (w *Watcher) Disarm(sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.buffers, sessionID)
}

// Armed reports whether the session is currently being watched.
func (w *Watcher) Armed(sessionID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buffers[sessionID] != nil
}

// Feed applies one content update. snapshot=true replaces the buffer with
// the full text so far (for backends that re-send the whole part); otherwise
// text is appended as a delta. Unarmed sessions ignore updates.
func (w *Watcher) Feed(sessionID, text string, snapshot bool) {
	w.mu.Lock()
	buf := w.buffers[sessionID]
	if buf == nil || buf.fired {
		w.mu.Unlock()
		return
	}

	if snapshot {
		buf.text.Reset()
	}
	buf.text.WriteString(text)

	match := w.pattern.FindString(buf.text.String())
	if match == "" {
		w.mu.Unlock()
		return
	}
	buf.fired = true
	onMatch := w.onMatch
	w.mu.Unlock()

	if onMatch != nil {
		onMatch(sessionID, match)
	}
}
