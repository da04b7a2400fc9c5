package webserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/seam-dev/seam/internal/backend"
	"github.com/seam-dev/seam/internal/debug"
	"github.com/seam-dev/seam/internal/hub"
	"github.com/seam-dev/seam/internal/interrupt"
	"github.com/seam-dev/seam/internal/status"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		debug.LogKV("webserver", "failed to encode json response", "status", statusCode, "error", err)
	}
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, errorResponse{Error: message})
}

type statusEntryJSON struct {
	Code       string    `json:"code"`
	Word       string    `json:"word,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	ChangedAt  time.Time `json:"changed_at"`
}

func toStatusJSON(e *status.Entry) *statusEntryJSON {
	if e == nil {
		return nil
	}
	return &statusEntryJSON{
		Code:       string(e.Code),
		Word:       e.Word,
		DurationMS: e.DurationMS,
		ChangedAt:  e.ChangedAt,
	}
}

type workspaceResponse struct {
	ID        string           `json:"id"`
	Path      string           `json:"path"`
	ProjectID string           `json:"project_id,omitempty"`
	Status    *statusEntryJSON `json:"status,omitempty"`
}

func (srv *Server) handleListWorkspaces(w http.ResponseWriter, r *http.Request) {
	list := srv.reg.List()
	out := make([]workspaceResponse, 0, len(list))
	for _, ws := range list {
		resp := workspaceResponse{ID: ws.ID, Path: ws.Path, ProjectID: ws.ProjectID}
		if e, ok := srv.hub.AggregateStatus(ws.ID); ok {
			resp.Status = toStatusJSON(&e)
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, out)
}

type sessionResponse struct {
	ID               string           `json:"id"`
	WorkspaceID      string           `json:"workspace_id"`
	BackendSessionID string           `json:"backend_session_id,omitempty"`
	Name             string           `json:"name,omitempty"`
	Mode             string           `json:"mode"`
	Streaming        bool             `json:"streaming"`
	Status           *statusEntryJSON `json:"status,omitempty"`
	PRURL            string           `json:"pr_url,omitempty"`
}

func toSessionJSON(v hub.SessionView) sessionResponse {
	return sessionResponse{
		ID:               v.ID,
		WorkspaceID:      v.WorkspaceID,
		BackendSessionID: v.BackendSessionID,
		Name:             v.Name,
		Mode:             v.Mode,
		Streaming:        v.Streaming,
		Status:           toStatusJSON(v.Status),
		PRURL:            v.PRURL,
	}
}

func (srv *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	views := srv.hub.Sessions()
	out := make([]sessionResponse, 0, len(views))
	for _, v := range views {
		out = append(out, toSessionJSON(v))
	}
	writeJSON(w, http.StatusOK, out)
}

func (srv *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkspaceID string `json:"workspace_id"`
		Mode        string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sess, err := srv.hub.CreateSession(req.WorkspaceID, req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (srv *Server) findSession(id string) (hub.SessionView, bool) {
	for _, v := range srv.hub.Sessions() {
		if v.ID == id {
			return v, true
		}
	}
	return hub.SessionView{}, false
}

type interruptJSON struct {
	ID            string   `json:"id"`
	Kind          string   `json:"kind"`
	Capability    string   `json:"capability,omitempty"`
	Patterns      []string `json:"patterns,omitempty"`
	Questions     []string `json:"questions,omitempty"`
	Command       string   `json:"command,omitempty"`
	AllowPatterns []string `json:"allow_patterns,omitempty"`
}

func toInterruptJSON(req interrupt.Request, kind backend.RequestKind) interruptJSON {
	return interruptJSON{
		ID:            req.ID,
		Kind:          string(kind),
		Capability:    req.Capability,
		Patterns:      req.Patterns,
		Questions:     req.Questions,
		Command:       req.Command,
		AllowPatterns: req.AllowPatterns,
	}
}

func (srv *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	view, ok := srv.findSession(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	var interrupts []interruptJSON
	for _, kind := range []backend.RequestKind{backend.KindPermission, backend.KindQuestion, backend.KindCommand} {
		if req, ok := srv.hub.ActiveInterrupt(id, kind); ok {
			interrupts = append(interrupts, toInterruptJSON(req, kind))
		}
	}
	usage := srv.hub.Usage(id)

	writeJSON(w, http.StatusOK, struct {
		sessionResponse
		Interrupts []interruptJSON `json:"interrupts,omitempty"`
		Usage      hub.Usage       `json:"usage"`
	}{toSessionJSON(view), interrupts, usage})
}

func (srv *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := srv.findSession(id); !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	msgs, err := srv.store.ListMessages(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// handleBindSession records the backend-assigned conversation id for a
// session. Until a session is bound, none of its backend events resolve to
// it.
func (srv *Server) handleBindSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		BackendSessionID string `json:"backend_session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BackendSessionID == "" {
		writeError(w, http.StatusBadRequest, "backend_session_id is required")
		return
	}
	if _, ok := srv.findSession(id); !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err := srv.hub.BindBackendSession(id, req.BackendSessionID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (srv *Server) handleAbortSession(w http.ResponseWriter, r *http.Request) {
	if err := srv.hub.Abort(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (srv *Server) handleMarkSeen(w http.ResponseWriter, r *http.Request) {
	srv.hub.MarkSeen(r.PathValue("id"))
	writeJSON(w, http.StatusOK, struct{}{})
}

func (srv *Server) handleSetActive(w http.ResponseWriter, r *http.Request) {
	srv.hub.SetActive(r.PathValue("id"))
	writeJSON(w, http.StatusOK, struct{}{})
}

func (srv *Server) handleArmPRWatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := srv.findSession(id); !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	srv.hub.ArmPRWatch(id)
	writeJSON(w, http.StatusOK, struct{}{})
}

func (srv *Server) handleReplyRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Answer string `json:"answer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := srv.hub.Reply(r.Context(), r.PathValue("id"), req.Answer); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (srv *Server) handleRejectRequest(w http.ResponseWriter, r *http.Request) {
	if err := srv.hub.Reject(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}
