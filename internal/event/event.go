// Package event defines the canonical session event model and the tolerant
// decoder that turns raw backend notifications into it. The decoder is purely
// translational: resolving a backend session to an internal session is the
// hub's job, because the hub owns the mapping.
package event

import "encoding/json"

// Kind discriminates normalized backend notifications.
type Kind string

const (
	KindSessionStatus      Kind = "session.status"
	KindSessionIdle        Kind = "session.idle"
	KindSessionUpdated     Kind = "session.updated"
	KindMessageUpdated     Kind = "message.updated"
	KindMessagePartUpdated Kind = "message.part.updated"

	KindQuestionAsked    Kind = "question.asked"
	KindQuestionReplied  Kind = "question.replied"
	KindQuestionRejected Kind = "question.rejected"

	KindPermissionRequested Kind = "permission.requested"
	KindPermissionReplied   Kind = "permission.replied"

	KindCommandRequested Kind = "command.requested"
	KindCommandReplied   Kind = "command.replied"
)

// Status is the streaming state reported by a session.status notification.
type Status string

const (
	StatusBusy    Status = "busy"
	StatusIdle    Status = "idle"
	StatusRetry   Status = "retry"
	StatusUnknown Status = ""
)

// Raw is the wire shape of one backend notification, before normalization.
// WorkspacePath is stamped by the transport: every subscription is bound to
// one worktree, so the connection knows which workspace its events belong to.
type Raw struct {
	Kind           string          `json:"kind"`
	SessionID      string          `json:"sessionId"`
	ChildSessionID string          `json:"childSessionId,omitempty"`
	StatusPayload  json.RawMessage `json:"statusPayload,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`

	WorkspacePath string `json:"-"`
}

// Event is the canonical, normalized form consumed by the hub. Exactly one of
// the kind-specific pointers is populated for kinds that carry a payload.
type Event struct {
	Kind             Kind
	WorkspacePath    string
	BackendSessionID string
	// ChildSessionID is non-empty only for events originated by a sub-agent
	// session spawned under BackendSessionID.
	ChildSessionID string

	Status  Status
	Message *MessageInfo
	Part    *PartInfo
	Session *SessionInfo
	Request *RequestInfo
}

// FromChild reports whether the event was produced by a sub-agent session.
func (e Event) FromChild() bool {
	return e.ChildSessionID != "" && e.ChildSessionID != e.BackendSessionID
}

// MessageInfo carries the side-read payload of a message.updated event:
// authorship plus token/cost usage. It never drives a state transition.
type MessageInfo struct {
	MessageID    string
	Role         string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// PartInfo carries streamed message content. Exactly one of Delta or Snapshot
// semantics applies: when Snapshot is true Text replaces any accumulated
// buffer, otherwise Text is an increment.
type PartInfo struct {
	MessageID string
	Text      string
	Snapshot  bool
}

// SessionInfo carries mutable session attributes from session.updated.
type SessionInfo struct {
	Title      string
	ProviderID string
	ModelID    string
	Variant    string
}

// RequestInfo carries an exclusive user-decision request (permission,
// clarifying question, or command approval) or the removal of one. The
// decoder folds the request id's alternate spellings into ID.
type RequestInfo struct {
	ID string

	// Permission requests.
	Capability string
	Patterns   []string

	// Clarifying questions.
	Questions []string

	// Command approvals.
	Command       string
	AllowPatterns []string
}
