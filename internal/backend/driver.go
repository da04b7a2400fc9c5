// Package backend talks to the agent runtime: it subscribes to its event
// stream over WebSocket and issues control calls (fetch transcript, abort,
// answer interrupts) over its HTTP API.
package backend

import (
	"context"

	"github.com/seam-dev/seam/internal/event"
)

// RequestKind selects which interrupt endpoint a reply targets.
type RequestKind string

const (
	KindPermission RequestKind = "permission"
	KindQuestion   RequestKind = "question"
	KindCommand    RequestKind = "command"
)

// Message is one transcript entry fetched from the backend, reduced to the
// parts the hub persists.
type Message struct {
	Role string
	Text string
}

// Driver is the hub's view of the agent runtime. Implementations stamp
// event.Raw.WorkspacePath on every event they emit.
type Driver interface {
	// Events opens the event stream for every registered worktree and
	// returns a merged channel. The stop function tears the stream down;
	// the channel closes once all subscriptions have ended.
	Events(ctx context.Context) (<-chan event.Raw, func(), error)

	// FetchMessages retrieves the backend-side transcript of a session.
	FetchMessages(ctx context.Context, workspacePath, backendSessionID string) ([]Message, error)

	// Abort interrupts whatever the session is doing.
	Abort(ctx context.Context, workspacePath, backendSessionID string) error

	// Reply answers a pending interrupt request.
	Reply(ctx context.Context, workspacePath, backendSessionID, requestID string, kind RequestKind, answer string) error

	// Reject declines a pending interrupt request.
	Reject(ctx context.Context, workspacePath, backendSessionID, requestID string, kind RequestKind) error
}
