// Package hub is the seam core: it owns the session registry, consumes the
// backend event stream on a single goroutine, and derives all observable
// state (streaming flags, interrupt queues, status entries, aggregates).
// Everything else reads through its accessors or calls its operations; nobody
// mutates the derived state directly.
package hub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/seam-dev/seam/internal/backend"
	"github.com/seam-dev/seam/internal/event"
	"github.com/seam-dev/seam/internal/eventq"
	"github.com/seam-dev/seam/internal/interrupt"
	"github.com/seam-dev/seam/internal/status"
	"github.com/seam-dev/seam/internal/store"
	"github.com/seam-dev/seam/internal/track"
	"github.com/seam-dev/seam/internal/watch"
	"github.com/seam-dev/seam/internal/workspace"
)

// completedWindow is how long a completed entry keeps its word and duration
// before it downgrades to a plain unread marker.
const completedWindow = 60 * time.Second

// Usage is a session's accumulated token and cost totals, side-read from
// message.updated events.
type Usage struct {
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// Update is one fan-out notification to subscribers: something about the
// named session changed.
type Update struct {
	SessionID   string
	WorkspaceID string
	Kind        event.Kind
}

// SessionView is a read-only snapshot of one session for callers outside the
// hub.
type SessionView struct {
	ID               string
	WorkspaceID      string
	BackendSessionID string
	Name             string
	Mode             string
	Streaming        bool
	Status           *status.Entry
	PRURL            string
}

// session is the hub's internal record of one registered session.
type session struct {
	id            string
	workspaceID   string
	workspacePath string
	backendID     string
	name          string
	mode          string
	prURL         string
}

type Hub struct {
	store  *store.Store
	driver backend.Driver
	reg    *workspace.Registry

	tracker     *track.Tracker
	board       *status.Board
	permissions *interrupt.Arena
	questions   *interrupt.Arena
	commands    *interrupt.Arena
	prWatch     *watch.Watcher

	mu        sync.RWMutex
	sessions  map[string]*session
	order     map[string][]string // workspace id -> session ids, insertion order
	byBackend map[string]string   // workspace path + \x00 + backend id -> session id
	active    string
	usage     map[string]Usage
	timers    map[string]*time.Timer

	subsMu sync.Mutex
	subs   map[string]chan Update

	// window is completedWindow, shortened in tests.
	window time.Duration
	// bg tracks in-flight best-effort background work (transcript
	// reconciliation, rename persistence).
	bg sync.WaitGroup
}

func New(st *store.Store, driver backend.Driver, reg *workspace.Registry) *Hub {
	h := &Hub{
		store:       st,
		driver:      driver,
		reg:         reg,
		tracker:     track.New(),
		board:       status.NewBoard(),
		permissions: interrupt.NewArena(),
		questions:   interrupt.NewArena(),
		commands:    interrupt.NewArena(),
		sessions:    make(map[string]*session),
		order:       make(map[string][]string),
		byBackend:   make(map[string]string),
		usage:       make(map[string]Usage),
		timers:      make(map[string]*time.Timer),
		subs:        make(map[string]chan Update),
		window:      completedWindow,
	}
	h.prWatch = watch.New(watch.PRURLPattern, h.onPRURL)
	return h
}

// Session registry

// CreateSession creates and registers a new session in the given workspace.
func (h *Hub) CreateSession(workspaceID, mode string) (*store.Session, error) {
	ws, ok := h.reg.Get(workspaceID)
	if !ok {
		return nil, fmt.Errorf("unknown workspace %q", workspaceID)
	}
	sess := &store.Session{
		WorkspaceID: workspaceID,
		ProjectID:   ws.ProjectID,
		Mode:        mode,
	}
	if err := h.store.CreateSession(sess); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	h.register(sess, ws.Path)
	return sess, nil
}

// LoadSessions registers every persisted, unarchived session whose workspace
// is known. Called once at startup.
func (h *Hub) LoadSessions() error {
	sessions, err := h.store.ListSessions()
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}
	for i := range sessions {
		if sessions[i].Archived {
			continue
		}
		ws, ok := h.reg.Get(sessions[i].WorkspaceID)
		if !ok {
			continue
		}
		h.register(&sessions[i], ws.Path)
	}
	return nil
}

func (h *Hub) register(sess *store.Session, workspacePath string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[sess.ID]; ok {
		return
	}
	s := &session{
		id:            sess.ID,
		workspaceID:   sess.WorkspaceID,
		workspacePath: workspacePath,
		backendID:     sess.BackendSessionID,
		name:          sess.Name,
		mode:          sess.Mode,
	}
	h.sessions[sess.ID] = s
	h.order[sess.WorkspaceID] = append(h.order[sess.WorkspaceID], sess.ID)
	if s.backendID != "" {
		h.byBackend[backendKey(workspacePath, s.backendID)] = sess.ID
	}
}

// BindBackendSession records the backend-assigned conversation id for a
// session, making its events resolvable.
func (h *Hub) BindBackendSession(sessionID, backendSessionID string) error {
	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("unknown session %q", sessionID)
	}
	if s.backendID != "" {
		delete(h.byBackend, backendKey(s.workspacePath, s.backendID))
	}
	s.backendID = backendSessionID
	h.byBackend[backendKey(s.workspacePath, backendSessionID)] = sessionID
	h.mu.Unlock()

	return h.store.BindBackendSession(sessionID, backendSessionID)
}

func backendKey(workspacePath, backendSessionID string) string {
	return workspacePath + "\x00" + backendSessionID
}

// resolve maps an event's workspace path + backend session id to a snapshot
// of the hub's session. Events with no registered session are unresolvable.
// Returning a copy keeps callers off the shared record once the lock drops;
// a concurrent rebind must not be observable mid-operation.
func (h *Hub) resolve(workspacePath, backendSessionID string) (session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	id, ok := h.byBackend[backendKey(workspacePath, backendSessionID)]
	if !ok {
		return session{}, false
	}
	s, ok := h.sessions[id]
	if !ok {
		return session{}, false
	}
	return *s, true
}

// Active session

// SetActive marks a session as the one the user is observing. Its status
// entry is cleared (the user sees the real thing now), and the previously
// active session's pattern-watch buffer is dropped.
func (h *Hub) SetActive(sessionID string) {
	h.mu.Lock()
	prev := h.active
	h.active = sessionID
	h.cancelTimerLocked(sessionID)
	h.mu.Unlock()

	if prev != "" && prev != sessionID {
		h.prWatch.Disarm(prev)
	}
	if sessionID != "" {
		h.board.Set(sessionID, nil)
	}
}

// ActiveSession returns the id of the currently observed session, if any.
func (h *Hub) ActiveSession() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.active
}

func (h *Hub) isActive(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.active == sessionID
}

// MarkSeen clears a session's status entry: the user has looked at it.
func (h *Hub) MarkSeen(sessionID string) {
	h.mu.Lock()
	h.cancelTimerLocked(sessionID)
	h.mu.Unlock()
	h.board.Set(sessionID, nil)
}

// ClearSession tears down all derived state for a session: interrupt queues,
// lifecycle state, status entry, watch buffer, and the registry mapping.
func (h *Hub) ClearSession(sessionID string) {
	h.permissions.Clear(sessionID)
	h.questions.Clear(sessionID)
	h.commands.Clear(sessionID)
	h.tracker.Forget(sessionID)
	h.board.Set(sessionID, nil)
	h.prWatch.Disarm(sessionID)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancelTimerLocked(sessionID)
	s, ok := h.sessions[sessionID]
	if !ok {
		return
	}
	delete(h.sessions, sessionID)
	delete(h.usage, sessionID)
	if s.backendID != "" {
		delete(h.byBackend, backendKey(s.workspacePath, s.backendID))
	}
	ids := h.order[s.workspaceID]
	for i := range ids {
		if ids[i] == sessionID {
			h.order[s.workspaceID] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if h.active == sessionID {
		h.active = ""
	}
}

// ArchiveWorkspace archives a workspace's sessions (the worktree is gone)
// and tears down their derived state.
func (h *Hub) ArchiveWorkspace(workspaceID string) (int, error) {
	h.mu.RLock()
	ids := append([]string(nil), h.order[workspaceID]...)
	h.mu.RUnlock()

	for _, id := range ids {
		h.ClearSession(id)
	}
	h.reg.Remove(workspaceID)
	return h.store.ArchiveWorkspaceSessions(workspaceID)
}

// Read accessors

// AggregateStatus reduces a workspace's sessions into its single displayed
// status. ok=false means no badge.
func (h *Hub) AggregateStatus(workspaceID string) (status.Entry, bool) {
	h.mu.RLock()
	ids := append([]string(nil), h.order[workspaceID]...)
	h.mu.RUnlock()
	return status.Aggregate(ids, h.board.Snapshot())
}

// ActiveInterrupt returns the head of a session's queue for the given kind.
func (h *Hub) ActiveInterrupt(sessionID string, kind backend.RequestKind) (interrupt.Request, bool) {
	a := h.arena(kind)
	if a == nil {
		return interrupt.Request{}, false
	}
	return a.Active(sessionID)
}

// IsStreaming reports whether a session is actively producing output.
func (h *Hub) IsStreaming(sessionID string) bool {
	return h.tracker.IsStreaming(sessionID)
}

// Usage returns a session's accumulated token/cost totals.
func (h *Hub) Usage(sessionID string) Usage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.usage[sessionID]
}

// SessionStatus returns a session's own status entry, if it has one.
func (h *Hub) SessionStatus(sessionID string) (status.Entry, bool) {
	return h.board.Get(sessionID)
}

// Sessions returns snapshots of all registered sessions, grouped by workspace
// insertion order.
func (h *Hub) Sessions() []SessionView {
	h.mu.RLock()
	var out []SessionView
	for _, ws := range h.reg.List() {
		for _, id := range h.order[ws.ID] {
			s := h.sessions[id]
			if s == nil {
				continue
			}
			out = append(out, SessionView{
				ID:               s.id,
				WorkspaceID:      s.workspaceID,
				BackendSessionID: s.backendID,
				Name:             s.name,
				Mode:             s.mode,
				PRURL:            s.prURL,
			})
		}
	}
	h.mu.RUnlock()

	for i := range out {
		out[i].Streaming = h.tracker.IsStreaming(out[i].ID)
		if e, ok := h.board.Get(out[i].ID); ok {
			entry := e
			out[i].Status = &entry
		}
	}
	return out
}

// Pattern watch

// ArmPRWatch starts watching a session's streamed output for a pull-request
// URL. Re-arming starts a fresh watch.
func (h *Hub) ArmPRWatch(sessionID string) {
	h.mu.Lock()
	if s := h.sessions[sessionID]; s != nil {
		s.prURL = ""
	}
	h.mu.Unlock()
	h.prWatch.Arm(sessionID)
}

func (h *Hub) onPRURL(sessionID, match string) {
	h.mu.Lock()
	if s := h.sessions[sessionID]; s != nil {
		s.prURL = match
	}
	h.mu.Unlock()
}

// PRURL returns the pull-request URL detected for a session, if any.
func (h *Hub) PRURL(sessionID string) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if s := h.sessions[sessionID]; s != nil {
		return s.prURL
	}
	return ""
}

// User-initiated operations. These are the only paths that propagate backend
// failures to the caller.

// Reply answers the pending interrupt request with the given id.
func (h *Hub) Reply(ctx context.Context, requestID, answer string) error {
	req, kind, ok := h.findRequest(requestID)
	if !ok {
		return fmt.Errorf("no pending request %q", requestID)
	}
	s, ok := h.sessionByID(req.SessionID)
	if !ok {
		return fmt.Errorf("request %q belongs to unknown session", requestID)
	}
	if err := h.driver.Reply(ctx, s.workspacePath, s.backendID, requestID, kind, answer); err != nil {
		return fmt.Errorf("replying to %s request: %w", kind, err)
	}
	h.arena(kind).Remove(req.SessionID, requestID)
	h.refreshEntry(req.SessionID)
	return nil
}

// Reject declines the pending interrupt request with the given id.
func (h *Hub) Reject(ctx context.Context, requestID string) error {
	req, kind, ok := h.findRequest(requestID)
	if !ok {
		return fmt.Errorf("no pending request %q", requestID)
	}
	s, ok := h.sessionByID(req.SessionID)
	if !ok {
		return fmt.Errorf("request %q belongs to unknown session", requestID)
	}
	if err := h.driver.Reject(ctx, s.workspacePath, s.backendID, requestID, kind); err != nil {
		return fmt.Errorf("rejecting %s request: %w", kind, err)
	}
	h.arena(kind).Remove(req.SessionID, requestID)
	h.refreshEntry(req.SessionID)
	return nil
}

// Abort interrupts whatever a session is doing on the backend.
func (h *Hub) Abort(ctx context.Context, sessionID string) error {
	s, ok := h.sessionByID(sessionID)
	if !ok {
		return fmt.Errorf("unknown session %q", sessionID)
	}
	if s.backendID == "" {
		return fmt.Errorf("session %q has no backend conversation", sessionID)
	}
	if err := h.driver.Abort(ctx, s.workspacePath, s.backendID); err != nil {
		return fmt.Errorf("aborting session: %w", err)
	}
	return nil
}

func (h *Hub) findRequest(requestID string) (interrupt.Request, backend.RequestKind, bool) {
	if req, ok := h.permissions.Find(requestID); ok {
		return req, backend.KindPermission, true
	}
	if req, ok := h.questions.Find(requestID); ok {
		return req, backend.KindQuestion, true
	}
	if req, ok := h.commands.Find(requestID); ok {
		return req, backend.KindCommand, true
	}
	return interrupt.Request{}, "", false
}

func (h *Hub) arena(kind backend.RequestKind) *interrupt.Arena {
	switch kind {
	case backend.KindPermission:
		return h.permissions
	case backend.KindQuestion:
		return h.questions
	case backend.KindCommand:
		return h.commands
	}
	return nil
}

// sessionByID returns a value snapshot taken under the lock, same contract as
// resolve.
func (h *Hub) sessionByID(id string) (session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[id]
	if !ok {
		return session{}, false
	}
	return *s, true
}

// Subscriptions

// Subscribe registers a fan-out channel for update notifications. The cancel
// function is safe to call more than once. Slow subscribers lose updates
// rather than blocking the consumer.
func (h *Hub) Subscribe() (<-chan Update, func()) {
	id := uuid.NewString()
	ch := make(chan Update, 64)

	h.subsMu.Lock()
	h.subs[id] = ch
	h.subsMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.subsMu.Lock()
			delete(h.subs, id)
			h.subsMu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (h *Hub) notify(u Update) {
	h.subsMu.Lock()
	defer h.subsMu.Unlock()
	for _, ch := range h.subs {
		eventq.Offer(ch, u)
	}
}

// cancelTimerLocked stops a pending completed→unread downgrade. Caller holds
// h.mu.
func (h *Hub) cancelTimerLocked(sessionID string) {
	if t := h.timers[sessionID]; t != nil {
		t.Stop()
		delete(h.timers, sessionID)
	}
}
