package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/seam-dev/seam/internal/backend"
	"github.com/seam-dev/seam/internal/event"
	"github.com/seam-dev/seam/internal/status"
	"github.com/seam-dev/seam/internal/store"
	"github.com/seam-dev/seam/internal/workspace"
)

type fakeDriver struct {
	mu         sync.Mutex
	transcript []backend.Message
	fetchCalls int
	fetchErr   error
	replyErr   error
	replied    []string
	rejected   []string
	aborted    []string
}

func (d *fakeDriver) Events(ctx context.Context) (<-chan event.Raw, func(), error) {
	ch := make(chan event.Raw)
	return ch, func() {}, nil
}

func (d *fakeDriver) FetchMessages(ctx context.Context, workspacePath, backendSessionID string) ([]backend.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fetchCalls++
	if d.fetchErr != nil {
		return nil, d.fetchErr
	}
	return d.transcript, nil
}

func (d *fakeDriver) Abort(ctx context.Context, workspacePath, backendSessionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.aborted = append(d.aborted, backendSessionID)
	return nil
}

func (d *fakeDriver) Reply(ctx context.Context, workspacePath, backendSessionID, requestID string, kind backend.RequestKind, answer string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.replyErr != nil {
		return d.replyErr
	}
	d.replied = append(d.replied, requestID)
	return nil
}

func (d *fakeDriver) Reject(ctx context.Context, workspacePath, backendSessionID, requestID string, kind backend.RequestKind) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rejected = append(d.rejected, requestID)
	return nil
}

func (d *fakeDriver) fetches() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fetchCalls
}

func newTestHub(t *testing.T) (*Hub, *fakeDriver, *store.Session) {
	t.Helper()

	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	reg := workspace.NewRegistry()
	if err := reg.Add(workspace.Workspace{ID: "ws1", Path: "/repos/app-main", ProjectID: "app"}); err != nil {
		t.Fatal(err)
	}

	drv := &fakeDriver{}
	h := New(st, drv, reg)

	sess, err := h.CreateSession("ws1", store.ModeBuild)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := h.BindBackendSession(sess.ID, "ses_backend"); err != nil {
		t.Fatalf("BindBackendSession: %v", err)
	}
	return h, drv, sess
}

func statusRaw(backendID, childID, state string) event.Raw {
	payload, _ := json.Marshal(map[string]string{"type": state})
	return event.Raw{
		Kind:           "session.status",
		SessionID:      backendID,
		ChildSessionID: childID,
		StatusPayload:  payload,
		WorkspacePath:  "/repos/app-main",
	}
}

func dataRaw(kind, backendID string, data map[string]any) event.Raw {
	payload, _ := json.Marshal(data)
	return event.Raw{
		Kind:          kind,
		SessionID:     backendID,
		Data:          payload,
		WorkspacePath: "/repos/app-main",
	}
}

func TestBusyMarksWorkingAndStreaming(t *testing.T) {
	h, _, sess := newTestHub(t)

	h.apply(statusRaw("ses_backend", "", "busy"))

	if !h.IsStreaming(sess.ID) {
		t.Fatal("session should be streaming")
	}
	e, ok := h.SessionStatus(sess.ID)
	if !ok || e.Code != status.Working {
		t.Fatalf("entry = %+v, %v", e, ok)
	}
	agg, ok := h.AggregateStatus("ws1")
	if !ok || agg.Code != status.Working {
		t.Fatalf("aggregate = %+v, %v", agg, ok)
	}
}

func TestPlanModeSessionsShowPlanning(t *testing.T) {
	h, _, sess := newTestHub(t)
	h.mu.Lock()
	h.sessions[sess.ID].mode = store.ModePlan
	h.mu.Unlock()

	h.apply(statusRaw("ses_backend", "", "busy"))

	e, ok := h.SessionStatus(sess.ID)
	if !ok || e.Code != status.Planning {
		t.Fatalf("entry = %+v, %v", e, ok)
	}
}

func TestActiveSessionCompletionClearsBadge(t *testing.T) {
	h, drv, sess := newTestHub(t)
	h.SetActive(sess.ID)

	h.apply(statusRaw("ses_backend", "", "busy"))
	h.apply(statusRaw("ses_backend", "", "idle"))
	h.bg.Wait()

	if h.IsStreaming(sess.ID) {
		t.Fatal("still streaming after idle")
	}
	if _, ok := h.SessionStatus(sess.ID); ok {
		t.Fatal("observed session should carry no badge after completion")
	}
	if drv.fetches() != 0 {
		t.Fatal("no reconciliation for the observed session")
	}
}

func TestBackgroundCompletionSetsCompletedAndReconciles(t *testing.T) {
	h, drv, sess := newTestHub(t)
	drv.transcript = []backend.Message{
		{Role: store.RoleUser, Text: "add retries"},
		{Role: store.RoleAssistant, Text: "Added retries with backoff."},
	}
	if _, err := h.store.CreateMessage(sess.ID, store.RoleUser, "add retries"); err != nil {
		t.Fatal(err)
	}

	h.apply(statusRaw("ses_backend", "", "busy"))
	h.apply(statusRaw("ses_backend", "", "idle"))
	h.bg.Wait()

	e, ok := h.SessionStatus(sess.ID)
	if !ok || e.Code != status.Completed {
		t.Fatalf("entry = %+v, %v", e, ok)
	}
	if e.Word == "" {
		t.Fatal("completed entry missing word")
	}

	msgs, err := h.store.ListMessages(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("transcript length = %d, want 2", len(msgs))
	}
	if msgs[1].Role != store.RoleAssistant || msgs[1].Content != "Added retries with backoff." {
		t.Fatalf("persisted = %+v", msgs[1])
	}
}

func TestReconcileSkippedWhenAssistantAlreadyPersisted(t *testing.T) {
	h, drv, sess := newTestHub(t)
	if _, err := h.store.CreateMessage(sess.ID, store.RoleUser, "q"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.store.CreateMessage(sess.ID, store.RoleAssistant, "a"); err != nil {
		t.Fatal(err)
	}

	h.apply(statusRaw("ses_backend", "", "busy"))
	h.apply(statusRaw("ses_backend", "", "idle"))
	h.bg.Wait()

	if drv.fetches() != 0 {
		t.Fatalf("fetch calls = %d, want 0", drv.fetches())
	}
	msgs, _ := h.store.ListMessages(sess.ID)
	if len(msgs) != 2 {
		t.Fatalf("transcript length = %d, want 2", len(msgs))
	}
}

func TestReconcileIgnoresEmptyOrNonAssistantFinal(t *testing.T) {
	cases := []struct {
		name       string
		transcript []backend.Message
	}{
		{"empty transcript", nil},
		{"final is user", []backend.Message{{Role: store.RoleUser, Text: "hello"}}},
		{"final is blank", []backend.Message{{Role: store.RoleAssistant, Text: "   "}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, drv, sess := newTestHub(t)
			drv.transcript = tc.transcript
			if _, err := h.store.CreateMessage(sess.ID, store.RoleUser, "q"); err != nil {
				t.Fatal(err)
			}

			h.apply(statusRaw("ses_backend", "", "busy"))
			h.apply(statusRaw("ses_backend", "", "idle"))
			h.bg.Wait()

			msgs, _ := h.store.ListMessages(sess.ID)
			if len(msgs) != 1 {
				t.Fatalf("transcript length = %d, want 1", len(msgs))
			}
		})
	}
}

func TestDuplicateIdleReconcilesOnce(t *testing.T) {
	h, drv, sess := newTestHub(t)
	drv.transcript = []backend.Message{{Role: store.RoleAssistant, Text: "done"}}

	h.apply(statusRaw("ses_backend", "", "busy"))
	h.apply(statusRaw("ses_backend", "", "idle"))
	h.apply(statusRaw("ses_backend", "", "idle"))
	// The settled signal after status-idle is also a no-op.
	h.apply(event.Raw{Kind: "session.idle", SessionID: "ses_backend", WorkspacePath: "/repos/app-main"})
	h.bg.Wait()

	if got := drv.fetches(); got != 1 {
		t.Fatalf("fetch calls = %d, want 1", got)
	}
	msgs, _ := h.store.ListMessages(sess.ID)
	if len(msgs) != 1 {
		t.Fatalf("transcript length = %d, want 1", len(msgs))
	}
}

func TestSettledSignalIsFallbackFinalizer(t *testing.T) {
	h, drv, sess := newTestHub(t)
	drv.transcript = []backend.Message{{Role: store.RoleAssistant, Text: "done"}}

	h.apply(statusRaw("ses_backend", "", "busy"))
	h.apply(event.Raw{Kind: "session.idle", SessionID: "ses_backend", WorkspacePath: "/repos/app-main"})
	h.bg.Wait()

	if h.IsStreaming(sess.ID) {
		t.Fatal("settled signal should clear streaming")
	}
	if got := drv.fetches(); got != 1 {
		t.Fatalf("fetch calls = %d, want 1", got)
	}
}

func TestChildEventsNeverTouchParent(t *testing.T) {
	h, drv, sess := newTestHub(t)

	h.apply(statusRaw("ses_backend", "ses_child", "busy"))
	if h.IsStreaming(sess.ID) {
		t.Fatal("child busy must not mark the parent streaming")
	}

	h.apply(statusRaw("ses_backend", "", "busy"))
	h.apply(statusRaw("ses_backend", "ses_child", "idle"))
	if !h.IsStreaming(sess.ID) {
		t.Fatal("child idle must not end the parent's turn")
	}
	if drv.fetches() != 0 {
		t.Fatal("child idle must not trigger reconciliation")
	}

	usage, _ := json.Marshal(map[string]any{
		"info": map[string]any{
			"id":   "msg1",
			"role": "assistant",
			"tokens": map[string]any{
				"input":  100,
				"output": 50,
			},
			"cost": 0.25,
		},
	})
	h.apply(event.Raw{
		Kind:           "message.updated",
		SessionID:      "ses_backend",
		ChildSessionID: "ses_child",
		Data:           usage,
		WorkspacePath:  "/repos/app-main",
	})
	if u := h.Usage(sess.ID); u.InputTokens != 0 || u.OutputTokens != 0 || u.CostUSD != 0 {
		t.Fatalf("child usage leaked into parent totals: %+v", u)
	}
}

func TestUsageAccumulates(t *testing.T) {
	h, _, sess := newTestHub(t)

	for i := 0; i < 2; i++ {
		usage, _ := json.Marshal(map[string]any{
			"info": map[string]any{
				"id":   "msg1",
				"role": "assistant",
				"tokens": map[string]any{
					"input":  100,
					"output": 40,
				},
				"cost": 0.1,
			},
		})
		h.apply(event.Raw{
			Kind:          "message.updated",
			SessionID:     "ses_backend",
			Data:          usage,
			WorkspacePath: "/repos/app-main",
		})
	}

	u := h.Usage(sess.ID)
	if u.InputTokens != 200 || u.OutputTokens != 80 {
		t.Fatalf("usage = %+v", u)
	}
}

func TestInterruptLifecycle(t *testing.T) {
	h, _, sess := newTestHub(t)
	h.apply(statusRaw("ses_backend", "", "busy"))

	h.apply(dataRaw("permission.requested", "ses_backend", map[string]any{
		"id":         "req_1",
		"capability": "bash",
		"patterns":   []string{"git *"},
	}))
	// Duplicate enqueue is a no-op.
	h.apply(dataRaw("permission.requested", "ses_backend", map[string]any{
		"id": "req_1",
	}))

	if n := h.permissions.Len(sess.ID); n != 1 {
		t.Fatalf("queue length = %d, want 1", n)
	}
	req, ok := h.ActiveInterrupt(sess.ID, backend.KindPermission)
	if !ok || req.ID != "req_1" || req.Capability != "bash" {
		t.Fatalf("active = %+v, %v", req, ok)
	}
	e, _ := h.SessionStatus(sess.ID)
	if e.Code != status.Permission {
		t.Fatalf("entry = %+v", e)
	}

	// Removal event tolerates the alternate request-id spelling.
	h.apply(dataRaw("permission.replied", "ses_backend", map[string]any{
		"requestID": "req_1",
	}))

	if _, ok := h.ActiveInterrupt(sess.ID, backend.KindPermission); ok {
		t.Fatal("request should be gone")
	}
	e, _ = h.SessionStatus(sess.ID)
	if e.Code != status.Working {
		t.Fatalf("entry after reply = %+v, want working", e)
	}
}

func TestQuestionOutranksStreamingBadge(t *testing.T) {
	h, _, sess := newTestHub(t)
	h.apply(statusRaw("ses_backend", "", "busy"))

	h.apply(dataRaw("question.asked", "ses_backend", map[string]any{
		"id":        "q_1",
		"questions": []map[string]string{{"text": "Which database?"}},
	}))
	e, _ := h.SessionStatus(sess.ID)
	if e.Code != status.Answering {
		t.Fatalf("entry = %+v, want answering", e)
	}

	h.apply(dataRaw("question.rejected", "ses_backend", map[string]any{"id": "q_1"}))
	e, _ = h.SessionStatus(sess.ID)
	if e.Code != status.Working {
		t.Fatalf("entry = %+v, want working", e)
	}
	if n := h.questions.Len(sess.ID); n != 0 {
		t.Fatalf("queue length = %d, want 0", n)
	}
}

func TestReplyRoutesToDriverAndDequeues(t *testing.T) {
	h, drv, sess := newTestHub(t)
	h.apply(dataRaw("question.asked", "ses_backend", map[string]any{
		"id":        "q_1",
		"questions": []map[string]string{{"text": "Which database?"}},
	}))

	if err := h.Reply(context.Background(), "q_1", "postgres"); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if len(drv.replied) != 1 || drv.replied[0] != "q_1" {
		t.Fatalf("driver replies = %v", drv.replied)
	}
	if _, ok := h.ActiveInterrupt(sess.ID, backend.KindQuestion); ok {
		t.Fatal("request should be dequeued after reply")
	}

	if err := h.Reply(context.Background(), "q_1", "postgres"); err == nil {
		t.Fatal("replying to a gone request should fail")
	}
}

func TestReplyFailurePropagatesAndKeepsRequest(t *testing.T) {
	h, drv, sess := newTestHub(t)
	drv.replyErr = errors.New("backend down")
	h.apply(dataRaw("permission.requested", "ses_backend", map[string]any{"id": "req_1"}))

	if err := h.Reply(context.Background(), "req_1", "allow"); err == nil {
		t.Fatal("expected error")
	}
	if _, ok := h.ActiveInterrupt(sess.ID, backend.KindPermission); !ok {
		t.Fatal("request must stay queued when the reply fails")
	}
}

func TestAbortUnknownSession(t *testing.T) {
	h, _, _ := newTestHub(t)
	if err := h.Abort(context.Background(), "nope"); err == nil {
		t.Fatal("expected error")
	}
}

func TestAbortUnboundSession(t *testing.T) {
	h, drv, _ := newTestHub(t)
	sess, err := h.CreateSession("ws1", store.ModeBuild)
	if err != nil {
		t.Fatal(err)
	}

	if err := h.Abort(context.Background(), sess.ID); err == nil {
		t.Fatal("aborting a session with no backend conversation should fail")
	}
	if len(drv.aborted) != 0 {
		t.Fatalf("driver aborts = %v", drv.aborted)
	}
}

func TestRebindRedirectsEventsAndOperations(t *testing.T) {
	h, drv, sess := newTestHub(t)

	if err := h.BindBackendSession(sess.ID, "ses_new"); err != nil {
		t.Fatalf("BindBackendSession: %v", err)
	}

	// The previous conversation id no longer resolves.
	h.apply(statusRaw("ses_backend", "", "busy"))
	if h.IsStreaming(sess.ID) {
		t.Fatal("stale backend id must not resolve after rebind")
	}

	h.apply(statusRaw("ses_new", "", "busy"))
	if !h.IsStreaming(sess.ID) {
		t.Fatal("rebound backend id should resolve")
	}

	if err := h.Abort(context.Background(), sess.ID); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if len(drv.aborted) != 1 || drv.aborted[0] != "ses_new" {
		t.Fatalf("driver aborts = %v, want the current binding", drv.aborted)
	}

	// The binding survives a restart.
	persisted, err := h.store.GetSession(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if persisted.BackendSessionID != "ses_new" {
		t.Fatalf("persisted backend id = %q", persisted.BackendSessionID)
	}
}

func TestAggregateFollowsWorkspaceScenario(t *testing.T) {
	h, _, sessA := newTestHub(t)
	sessB, err := h.CreateSession("ws1", store.ModeBuild)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.BindBackendSession(sessB.ID, "ses_b"); err != nil {
		t.Fatal(err)
	}

	h.apply(statusRaw("ses_backend", "", "busy"))
	h.board.Set(sessB.ID, &status.Entry{Code: status.Unread})

	agg, ok := h.AggregateStatus("ws1")
	if !ok || agg.Code != status.Working {
		t.Fatalf("aggregate = %+v, %v", agg, ok)
	}

	h.MarkSeen(sessA.ID)
	h.tracker.Forget(sessA.ID)
	agg, ok = h.AggregateStatus("ws1")
	if !ok || agg.Code != status.Unread {
		t.Fatalf("aggregate = %+v, %v", agg, ok)
	}

	h.MarkSeen(sessB.ID)
	if _, ok := h.AggregateStatus("ws1"); ok {
		t.Fatal("aggregate should be none")
	}
}

func TestCompletedDowngradesToUnread(t *testing.T) {
	h, _, sess := newTestHub(t)
	h.window = 20 * time.Millisecond

	h.apply(statusRaw("ses_backend", "", "busy"))
	h.apply(statusRaw("ses_backend", "", "idle"))
	h.bg.Wait()

	e, ok := h.SessionStatus(sess.ID)
	if !ok || e.Code != status.Completed {
		t.Fatalf("entry = %+v, %v", e, ok)
	}

	deadline := time.After(2 * time.Second)
	for {
		e, ok = h.SessionStatus(sess.ID)
		if ok && e.Code == status.Unread {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("entry never downgraded, still %+v", e)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSessionRenamePersisted(t *testing.T) {
	h, _, sess := newTestHub(t)

	h.apply(dataRaw("session.updated", "ses_backend", map[string]any{
		"title": "fix flaky tests",
	}))
	h.bg.Wait()

	got, err := h.store.GetSession(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "fix flaky tests" {
		t.Fatalf("name = %q", got.Name)
	}
}

func TestPRWatchDetectsURLOnce(t *testing.T) {
	h, _, sess := newTestHub(t)
	h.ArmPRWatch(sess.ID)

	part := func(text string) event.Raw {
		return dataRaw("message.part.updated", "ses_backend", map[string]any{
			"part": map[string]any{
				"messageID": "m1",
				"delta":     text,
			},
		})
	}
	h.apply(part("Opened https://github.com/seam-dev/"))
	h.apply(part("seam/pull/42 for review"))

	if got := h.PRURL(sess.ID); got != "https://github.com/seam-dev/seam/pull/42" {
		t.Fatalf("pr url = %q", got)
	}

	// A later different URL does not replace the first detection.
	h.apply(part(" and https://github.com/seam-dev/seam/pull/43"))
	if got := h.PRURL(sess.ID); got != "https://github.com/seam-dev/seam/pull/42" {
		t.Fatalf("pr url changed to %q", got)
	}
}

func TestUnresolvableEventsDropped(t *testing.T) {
	h, drv, sess := newTestHub(t)

	h.apply(statusRaw("ses_unknown", "", "busy"))
	if h.IsStreaming(sess.ID) {
		t.Fatal("unknown backend session must not affect registered sessions")
	}
	_ = drv
}

func TestSubscribeReceivesUpdatesAndCancelIsIdempotent(t *testing.T) {
	h, _, sess := newTestHub(t)

	ch, cancel := h.Subscribe()
	h.apply(statusRaw("ses_backend", "", "busy"))

	select {
	case u := <-ch:
		if u.SessionID != sess.ID || u.WorkspaceID != "ws1" {
			t.Fatalf("update = %+v", u)
		}
	case <-time.After(time.Second):
		t.Fatal("no update delivered")
	}

	cancel()
	cancel()
}

func TestClearSessionRemovesEverything(t *testing.T) {
	h, _, sess := newTestHub(t)
	h.apply(statusRaw("ses_backend", "", "busy"))
	h.apply(dataRaw("permission.requested", "ses_backend", map[string]any{"id": "req_1"}))

	h.ClearSession(sess.ID)

	if h.IsStreaming(sess.ID) {
		t.Fatal("streaming state should be gone")
	}
	if _, ok := h.SessionStatus(sess.ID); ok {
		t.Fatal("status entry should be gone")
	}
	if n := h.permissions.Len(sess.ID); n != 0 {
		t.Fatalf("queue length = %d", n)
	}
	// Events for the torn-down session are now unresolvable.
	h.apply(statusRaw("ses_backend", "", "busy"))
	if h.IsStreaming(sess.ID) {
		t.Fatal("torn-down session must not resurrect")
	}
}

func TestArchiveWorkspace(t *testing.T) {
	h, _, sess := newTestHub(t)

	n, err := h.ArchiveWorkspace("ws1")
	if err != nil {
		t.Fatalf("ArchiveWorkspace: %v", err)
	}
	if n != 1 {
		t.Fatalf("archived = %d, want 1", n)
	}
	got, err := h.store.GetSession(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Archived {
		t.Fatal("session should be archived")
	}
	if len(h.Sessions()) != 0 {
		t.Fatal("no sessions should remain registered")
	}
}
