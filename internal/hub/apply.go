package hub

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/seam-dev/seam/internal/debug"
	"github.com/seam-dev/seam/internal/event"
	"github.com/seam-dev/seam/internal/interrupt"
	"github.com/seam-dev/seam/internal/metrics"
	"github.com/seam-dev/seam/internal/status"
	"github.com/seam-dev/seam/internal/store"
	"github.com/seam-dev/seam/internal/track"
)

// completionWords are the display labels a finished background turn may get.
var completionWords = []string{
	"Brewed", "Forged", "Shipped", "Woven", "Minted", "Polished",
}

// Run consumes the backend event stream until ctx is cancelled. All derived
// state mutation happens here, on this one goroutine; accessors read through
// their own locks.
func (h *Hub) Run(ctx context.Context) error {
	events, stop, err := h.driver.Events(ctx)
	if err != nil {
		return err
	}
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-events:
			if !ok {
				return nil
			}
			h.apply(raw)
		}
	}
}

// apply routes one raw backend notification through the normalizer and into
// the derived state.
func (h *Hub) apply(raw event.Raw) {
	metrics.EventsReceived.Inc()

	ev, ok, err := event.Normalize(raw)
	if err != nil {
		metrics.EventsDropped.Inc()
		debug.LogKV("hub", "dropping malformed event", "kind", raw.Kind, "err", err)
		return
	}
	if !ok {
		metrics.EventsDropped.Inc()
		return
	}

	s, ok := h.resolve(ev.WorkspacePath, ev.BackendSessionID)
	if !ok {
		metrics.EventsUnresolvable.Inc()
		debug.LogKV("hub", "event for unknown session",
			"kind", ev.Kind, "backendSession", ev.BackendSessionID, "path", ev.WorkspacePath)
		return
	}

	switch ev.Kind {
	case event.KindSessionStatus:
		// Child sessions never drive the parent's lifecycle.
		if ev.FromChild() {
			return
		}
		res := h.tracker.Apply(s.id, ev.Status)
		if res.Finalized {
			h.finishTurn(s, res)
		} else {
			h.refreshEntry(s.id)
		}

	case event.KindSessionIdle:
		if ev.FromChild() {
			return
		}
		// Fallback finalizer: a no-op when status-idle already fired.
		if res := h.tracker.Settle(s.id); res.Finalized {
			h.finishTurn(s, res)
		}

	case event.KindSessionUpdated:
		h.applySessionUpdate(s, ev.Session)

	case event.KindMessageUpdated:
		// Pure side read. Never a state transition.
		if ev.Message != nil && !ev.FromChild() {
			h.accumulateUsage(s.id, ev.Message)
		}

	case event.KindMessagePartUpdated:
		if ev.Part != nil && !ev.FromChild() {
			h.prWatch.Feed(s.id, ev.Part.Text, ev.Part.Snapshot)
		}

	case event.KindPermissionRequested:
		h.enqueueInterrupt(h.permissions, s, ev)
	case event.KindPermissionReplied:
		h.removeInterrupt(h.permissions, s, ev)

	case event.KindQuestionAsked:
		h.enqueueInterrupt(h.questions, s, ev)
	case event.KindQuestionReplied, event.KindQuestionRejected:
		h.removeInterrupt(h.questions, s, ev)

	case event.KindCommandRequested:
		h.enqueueInterrupt(h.commands, s, ev)
	case event.KindCommandReplied:
		h.removeInterrupt(h.commands, s, ev)
	}

	h.notify(Update{SessionID: s.id, WorkspaceID: s.workspaceID, Kind: ev.Kind})
}

func (h *Hub) enqueueInterrupt(a *interrupt.Arena, s session, ev event.Event) {
	req := interrupt.Request{
		ID:            ev.Request.ID,
		SessionID:     s.id,
		Capability:    ev.Request.Capability,
		Patterns:      ev.Request.Patterns,
		Questions:     ev.Request.Questions,
		Command:       ev.Request.Command,
		AllowPatterns: ev.Request.AllowPatterns,
		ReceivedAt:    time.Now(),
	}
	if a.Enqueue(req) {
		metrics.InterruptsEnqueued.Inc()
	}
	h.refreshEntry(s.id)
}

func (h *Hub) removeInterrupt(a *interrupt.Arena, s session, ev event.Event) {
	a.Remove(s.id, ev.Request.ID)
	h.refreshEntry(s.id)
}

// refreshEntry recomputes a session's status entry from its pending
// interrupts and streaming state. Completed/unread entries are terminal
// states owned by finishTurn and are left alone.
func (h *Hub) refreshEntry(sessionID string) {
	if h.permissions.Len(sessionID) > 0 || h.commands.Len(sessionID) > 0 {
		h.board.Set(sessionID, &status.Entry{Code: status.Permission})
		return
	}
	if h.questions.Len(sessionID) > 0 {
		h.board.Set(sessionID, &status.Entry{Code: status.Answering})
		return
	}
	if h.tracker.IsStreaming(sessionID) {
		code := status.Working
		if s, ok := h.sessionByID(sessionID); ok && s.mode == store.ModePlan {
			code = status.Planning
		}
		h.board.Set(sessionID, &status.Entry{Code: code})
		return
	}
	if e, ok := h.board.Get(sessionID); ok {
		if e.Code == status.Completed || e.Code == status.Unread {
			return
		}
	}
	h.board.Set(sessionID, nil)
}

// finishTurn handles the single authoritative completion signal for a turn.
// For the observed session it just clears the badge; for a background session
// it records the completion and reconciles the transcript.
func (h *Hub) finishTurn(s session, res track.Result) {
	if h.isActive(s.id) {
		h.board.Set(s.id, nil)
		return
	}

	metrics.BackgroundCompletions.Inc()
	entry := &status.Entry{Code: status.Unread}
	if res.Elapsed > 0 {
		entry = &status.Entry{
			Code:       status.Completed,
			Word:       completionWords[rand.Intn(len(completionWords))],
			DurationMS: res.Elapsed.Milliseconds(),
		}
		h.scheduleDowngrade(s.id)
	}
	h.board.Set(s.id, entry)

	// Transcript reconciliation is best-effort and must never block or fail
	// the status transition above. s is already a snapshot, safe to close
	// over.
	h.bg.Add(1)
	go func() {
		defer h.bg.Done()
		h.reconcileTranscript(s.id, s.workspacePath, s.backendID)
	}()
}

// scheduleDowngrade turns a completed entry into a plain unread one after the
// display window, unless something replaced it first.
func (h *Hub) scheduleDowngrade(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.cancelTimerLocked(sessionID)
	h.timers[sessionID] = time.AfterFunc(h.window, func() {
		h.mu.Lock()
		delete(h.timers, sessionID)
		h.mu.Unlock()

		if e, ok := h.board.Get(sessionID); ok && e.Code == status.Completed {
			h.board.Set(sessionID, &status.Entry{Code: status.Unread})
		}
	})
}

// reconcileTranscript persists the just-finished assistant response when the
// local transcript is missing it. Skipped entirely when the last persisted
// message is already assistant-authored.
func (h *Hub) reconcileTranscript(sessionID, workspacePath, backendID string) {
	last, err := h.store.GetLastMessage(sessionID)
	if err != nil {
		debug.LogKV("hub", "reconcile: reading last message", "session", sessionID, "err", err)
		return
	}
	if last != nil && last.Role == store.RoleAssistant {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	msgs, err := h.driver.FetchMessages(ctx, workspacePath, backendID)
	if err != nil {
		debug.LogKV("hub", "reconcile: fetching backend transcript", "session", sessionID, "err", err)
		return
	}
	if len(msgs) == 0 {
		return
	}
	final := msgs[len(msgs)-1]
	if final.Role != store.RoleAssistant || strings.TrimSpace(final.Text) == "" {
		return
	}
	if _, err := h.store.CreateMessage(sessionID, store.RoleAssistant, final.Text); err != nil {
		debug.LogKV("hub", "reconcile: persisting response", "session", sessionID, "err", err)
	}
}

func (h *Hub) accumulateUsage(sessionID string, info *event.MessageInfo) {
	if info.InputTokens == 0 && info.OutputTokens == 0 && info.CostUSD == 0 {
		return
	}
	h.mu.Lock()
	u := h.usage[sessionID]
	u.InputTokens += info.InputTokens
	u.OutputTokens += info.OutputTokens
	u.CostUSD += info.CostUSD
	h.usage[sessionID] = u
	h.mu.Unlock()
}

// applySessionUpdate picks up backend-side renames and model changes and
// persists them best-effort. s is a snapshot; the live record is re-fetched
// under the lock before mutation.
func (h *Hub) applySessionUpdate(s session, info *event.SessionInfo) {
	if info == nil {
		return
	}

	if info.Title != "" {
		changed := false
		h.mu.Lock()
		if live := h.sessions[s.id]; live != nil && live.name != info.Title {
			live.name = info.Title
			changed = true
		}
		h.mu.Unlock()
		if changed {
			sessionID, title := s.id, info.Title
			h.bg.Add(1)
			go func() {
				defer h.bg.Done()
				if err := h.store.UpdateSessionName(sessionID, title); err != nil {
					debug.LogKV("hub", "persisting session rename", "session", sessionID, "err", err)
				}
			}()
		}
	}

	if info.ModelID != "" {
		sessionID := s.id
		ref := &store.ModelRef{ProviderID: info.ProviderID, ModelID: info.ModelID, Variant: info.Variant}
		h.bg.Add(1)
		go func() {
			defer h.bg.Done()
			if err := h.store.UpdateSessionModel(sessionID, ref); err != nil {
				debug.LogKV("hub", "persisting session model", "session", sessionID, "err", err)
			}
		}()
	}
}
