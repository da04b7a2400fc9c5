package event

import (
	"encoding/json"
	"fmt"
	"strings"
)

// statusEnvelope matches the two accepted nestings of a status payload:
// a top-level statusPayload object or data.status.
type statusEnvelope struct {
	Type string `json:"type"`
}

// dataEnvelope is the superset of kind-specific data payloads. Absent fields
// simply stay zero; the per-kind normalizers pick what they need.
type dataEnvelope struct {
	Status *statusEnvelope `json:"status,omitempty"`

	// Interrupt request identity, in its three accepted spellings.
	RequestIDUpper string `json:"requestID,omitempty"`
	RequestIDLower string `json:"requestId,omitempty"`
	PlainID        string `json:"id,omitempty"`

	// Permission fields.
	Capability string   `json:"capability,omitempty"`
	Patterns   []string `json:"patterns,omitempty"`

	// Question fields.
	Questions []questionPrompt `json:"questions,omitempty"`

	// Command approval fields.
	Command       string   `json:"command,omitempty"`
	AllowPatterns []string `json:"allowPatterns,omitempty"`

	// message.updated fields.
	Info *messageInfoPayload `json:"info,omitempty"`

	// message.part.updated fields.
	Part *partPayload `json:"part,omitempty"`

	// session.updated fields.
	Title string        `json:"title,omitempty"`
	Model *modelPayload `json:"model,omitempty"`
}

type questionPrompt struct {
	Text   string `json:"text,omitempty"`
	Prompt string `json:"prompt,omitempty"`
}

type messageInfoPayload struct {
	ID     string         `json:"id,omitempty"`
	Role   string         `json:"role,omitempty"`
	Cost   float64        `json:"cost,omitempty"`
	Tokens *tokensPayload `json:"tokens,omitempty"`
}

type tokensPayload struct {
	Input  int `json:"input,omitempty"`
	Output int `json:"output,omitempty"`
}

type partPayload struct {
	MessageID string `json:"messageID,omitempty"`
	Type      string `json:"type,omitempty"`
	Text      string `json:"text,omitempty"`
	Delta     string `json:"delta,omitempty"`
}

type modelPayload struct {
	ProviderID string `json:"providerID,omitempty"`
	ModelID    string `json:"modelID,omitempty"`
	Variant    string `json:"variant,omitempty"`
}

// Normalize converts a raw notification into its canonical form. The second
// return value is false when the event kind is unknown or the payload is too
// malformed to use; such events are dropped by the caller, never fatal.
func Normalize(raw Raw) (Event, bool, error) {
	kind := Kind(strings.TrimSpace(raw.Kind))
	if kind == "" {
		return Event{}, false, fmt.Errorf("event without kind")
	}

	ev := Event{
		Kind:             kind,
		WorkspacePath:    raw.WorkspacePath,
		BackendSessionID: raw.SessionID,
		ChildSessionID:   raw.ChildSessionID,
	}

	var data dataEnvelope
	if len(raw.Data) > 0 {
		// Malformed data is tolerated: the per-kind handlers below treat a
		// missing payload the same as an empty one.
		_ = json.Unmarshal(raw.Data, &data)
	}

	switch kind {
	case KindSessionStatus:
		ev.Status = decodeStatus(raw.StatusPayload, data.Status)
		if ev.Status == StatusUnknown {
			return Event{}, false, fmt.Errorf("session.status without status payload")
		}
		return ev, true, nil

	case KindSessionIdle:
		return ev, true, nil

	case KindSessionUpdated:
		info := &SessionInfo{Title: data.Title}
		if data.Model != nil {
			info.ProviderID = data.Model.ProviderID
			info.ModelID = data.Model.ModelID
			info.Variant = data.Model.Variant
		}
		ev.Session = info
		return ev, true, nil

	case KindMessageUpdated:
		info := &MessageInfo{}
		if data.Info != nil {
			info.MessageID = data.Info.ID
			info.Role = data.Info.Role
			info.CostUSD = data.Info.Cost
			if data.Info.Tokens != nil {
				info.InputTokens = data.Info.Tokens.Input
				info.OutputTokens = data.Info.Tokens.Output
			}
		}
		ev.Message = info
		return ev, true, nil

	case KindMessagePartUpdated:
		part := &PartInfo{}
		if data.Part != nil {
			part.MessageID = data.Part.MessageID
			if data.Part.Delta != "" {
				part.Text = data.Part.Delta
			} else {
				part.Text = data.Part.Text
				part.Snapshot = true
			}
		}
		ev.Part = part
		return ev, true, nil

	case KindQuestionAsked:
		req := &RequestInfo{ID: requestID(data)}
		for _, q := range data.Questions {
			if q.Text != "" {
				req.Questions = append(req.Questions, q.Text)
			} else if q.Prompt != "" {
				req.Questions = append(req.Questions, q.Prompt)
			}
		}
		if req.ID == "" {
			return Event{}, false, fmt.Errorf("question.asked without request id")
		}
		ev.Request = req
		return ev, true, nil

	case KindPermissionRequested:
		req := &RequestInfo{
			ID:         requestID(data),
			Capability: data.Capability,
			Patterns:   data.Patterns,
		}
		if req.ID == "" {
			return Event{}, false, fmt.Errorf("permission.requested without request id")
		}
		ev.Request = req
		return ev, true, nil

	case KindCommandRequested:
		req := &RequestInfo{
			ID:            requestID(data),
			Command:       data.Command,
			AllowPatterns: data.AllowPatterns,
		}
		if req.ID == "" {
			return Event{}, false, fmt.Errorf("command.requested without request id")
		}
		ev.Request = req
		return ev, true, nil

	case KindQuestionReplied, KindQuestionRejected, KindPermissionReplied, KindCommandReplied:
		id := requestID(data)
		if id == "" {
			return Event{}, false, fmt.Errorf("%s without request id", kind)
		}
		ev.Request = &RequestInfo{ID: id}
		return ev, true, nil
	}

	return Event{}, false, nil
}

// decodeStatus accepts the status object from whichever nesting carried it.
func decodeStatus(top json.RawMessage, nested *statusEnvelope) Status {
	var env statusEnvelope
	if len(top) > 0 {
		if err := json.Unmarshal(top, &env); err == nil && env.Type != "" {
			return statusFromString(env.Type)
		}
	}
	if nested != nil && nested.Type != "" {
		return statusFromString(nested.Type)
	}
	return StatusUnknown
}

func statusFromString(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "busy":
		return StatusBusy
	case "idle":
		return StatusIdle
	case "retry":
		return StatusRetry
	default:
		return StatusUnknown
	}
}

// requestID folds the accepted spellings of a request id into one value.
// Precedence mirrors the backend's own preference: requestID, requestId, id.
func requestID(data dataEnvelope) string {
	if data.RequestIDUpper != "" {
		return data.RequestIDUpper
	}
	if data.RequestIDLower != "" {
		return data.RequestIDLower
	}
	return data.PlainID
}
