package store

import "time"

// Session is the persisted record of one agent conversation, bound to one
// workspace. Sessions are never deleted while their workspace exists; they
// are archived with it.
type Session struct {
	ID               string    `json:"id"`
	WorkspaceID      string    `json:"workspace_id"`
	ProjectID        string    `json:"project_id"`
	BackendSessionID string    `json:"backend_session_id,omitempty"` // empty until the backend assigns one
	Name             string    `json:"name,omitempty"`
	Mode             string    `json:"mode"` // "build", "plan", or "ask"
	Model            *ModelRef `json:"model,omitempty"`
	Archived         bool      `json:"archived,omitempty"`
	Created          time.Time `json:"created"`
	Updated          time.Time `json:"updated"`
}

// ModelRef pins a session to a specific model.
type ModelRef struct {
	ProviderID string `json:"provider_id"`
	ModelID    string `json:"model_id"`
	Variant    string `json:"variant,omitempty"`
}

// Message is one persisted transcript entry.
type Message struct {
	ID        int       `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	Created   time.Time `json:"created"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	ModeBuild = "build"
	ModePlan  = "plan"
	ModeAsk   = "ask"
)
