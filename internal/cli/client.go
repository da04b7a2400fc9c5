package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// apiClient talks to the local API of a running `seam run` instance.
type apiClient struct {
	base  string
	token string
	httpc *http.Client
}

func newAPIClient() (*apiClient, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return &apiClient{
		base:  "http://" + cfg.Server.Listen,
		token: cfg.Backend.Token,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (c *apiClient) get(path string, out any) error {
	return c.do(http.MethodGet, path, nil, out)
}

func (c *apiClient) post(path string, in, out any) error {
	return c.do(http.MethodPost, path, in, out)
}

func (c *apiClient) do(method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("is `seam run` running? %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Wire shapes of the local API, mirrored from internal/webserver.

type statusEntryView struct {
	Code       string `json:"code"`
	Word       string `json:"word,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
}

type workspaceView struct {
	ID        string           `json:"id"`
	Path      string           `json:"path"`
	ProjectID string           `json:"project_id,omitempty"`
	Status    *statusEntryView `json:"status,omitempty"`
}

type sessionView struct {
	ID               string           `json:"id"`
	WorkspaceID      string           `json:"workspace_id"`
	BackendSessionID string           `json:"backend_session_id,omitempty"`
	Name             string           `json:"name,omitempty"`
	Mode             string           `json:"mode"`
	Streaming        bool             `json:"streaming"`
	Status           *statusEntryView `json:"status,omitempty"`
	PRURL            string           `json:"pr_url,omitempty"`
}

func formatEntry(e *statusEntryView) string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(e.Code)
	if e.Word != "" {
		fmt.Fprintf(&b, " (%s", e.Word)
		if e.DurationMS > 0 {
			fmt.Fprintf(&b, ", %s", (time.Duration(e.DurationMS) * time.Millisecond).Round(time.Second))
		}
		b.WriteString(")")
	}
	return b.String()
}

func styleForCode(code string) string {
	switch code {
	case "permission", "answering":
		return styleBoldYellow
	case "planning", "working":
		return colorCyan
	case "completed":
		return colorGreen
	case "unread":
		return colorBold
	default:
		return colorDim
	}
}
