package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func TestEventsStampsWorkspacePath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/event" {
			http.NotFound(w, r)
			return
		}
		dir := r.URL.Query().Get("directory")
		ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer ws.Close(websocket.StatusNormalClosure, "")

		frame, _ := json.Marshal(map[string]any{
			"kind":      "session.idle",
			"sessionId": "ses_" + dir,
		})
		_ = ws.Write(r.Context(), websocket.MessageText, frame)
		// Hold the connection open until the client goes away.
		_, _, _ = ws.Read(r.Context())
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", []string{"/repos/a", "/repos/b"}, []int{10})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, stop, err := c.Events(ctx)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	defer stop()

	seen := map[string]bool{}
	for len(seen) < 2 {
		select {
		case raw := <-ch:
			if raw.WorkspacePath == "" {
				t.Fatal("event missing workspace path")
			}
			seen[raw.WorkspacePath] = true
		case <-ctx.Done():
			t.Fatalf("timed out, saw %v", seen)
		}
	}
	if !seen["/repos/a"] || !seen["/repos/b"] {
		t.Fatalf("paths = %v", seen)
	}
}

func TestEventsReconnectsAfterDrop(t *testing.T) {
	var dials atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := dials.Add(1)
		ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		if n == 1 {
			// Drop the first connection immediately.
			ws.Close(websocket.StatusInternalError, "going away")
			return
		}
		defer ws.Close(websocket.StatusNormalClosure, "")
		frame, _ := json.Marshal(map[string]any{"kind": "session.idle", "sessionId": "ses_x"})
		_ = ws.Write(r.Context(), websocket.MessageText, frame)
		_, _, _ = ws.Read(r.Context())
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", []string{"/repos/a"}, []int{10, 10})
	var reconnects atomic.Int64
	c.OnReconnect = func(string) { reconnects.Add(1) }

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch, stop, err := c.Events(ctx)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	defer stop()

	select {
	case raw := <-ch:
		if raw.SessionID != "ses_x" {
			t.Fatalf("session = %q", raw.SessionID)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for event after reconnect")
	}
	if dials.Load() < 2 {
		t.Fatalf("dials = %d, want >= 2", dials.Load())
	}
	if reconnects.Load() < 1 {
		t.Fatalf("reconnect hook not called")
	}
}

func TestFetchMessagesExtractsTextParts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/session/ses_1/message" {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("directory"); got != "/repos/a" {
			t.Errorf("directory = %q", got)
		}
		json.NewEncoder(w).Encode([]map[string]any{
			{
				"info": map[string]any{"role": "user"},
				"parts": []map[string]any{
					{"type": "text", "text": "fix the bug"},
				},
			},
			{
				"info": map[string]any{"role": "assistant"},
				"parts": []map[string]any{
					{"type": "tool", "text": "ignored"},
					{"type": "text", "text": "done"},
					{"type": "text", "text": "opened a PR"},
				},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", nil, nil)
	msgs, err := c.FetchMessages(context.Background(), "/repos/a", "ses_1")
	if err != nil {
		t.Fatalf("FetchMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len = %d", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[0].Text != "fix the bug" {
		t.Fatalf("msg0 = %+v", msgs[0])
	}
	if msgs[1].Role != "assistant" || msgs[1].Text != "done\nopened a PR" {
		t.Fatalf("msg1 = %+v", msgs[1])
	}
}

func TestReplyHitsKindSpecificEndpoint(t *testing.T) {
	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		gotBody = body["response"]
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", nil, nil)
	if err := c.Reply(context.Background(), "/repos/a", "ses_1", "req_9", KindQuestion, "use postgres"); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if gotPath != "/session/ses_1/questions/req_9/reply" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotBody != "use postgres" {
		t.Fatalf("body = %q", gotBody)
	}

	if err := c.Reply(context.Background(), "/repos/a", "ses_1", "req_9", RequestKind("bogus"), "x"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestAbortSurfacesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "session not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", nil, nil)
	if err := c.Abort(context.Background(), "/repos/a", "ses_gone"); err == nil {
		t.Fatal("expected error")
	}
}
