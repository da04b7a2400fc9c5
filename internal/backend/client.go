package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/seam-dev/seam/internal/debug"
	"github.com/seam-dev/seam/internal/event"
)

// Client implements Driver against the runtime's HTTP+WebSocket API. One
// WebSocket subscription is held per worktree; events from each carry that
// worktree's path.
type Client struct {
	baseURL string
	token   string
	paths   []string
	backoff []time.Duration
	httpc   *http.Client

	// OnReconnect, when set, is invoked after a dropped subscription is
	// re-established. Used for metrics.
	OnReconnect func(workspacePath string)
}

// NewClient builds a client for the runtime at baseURL, subscribing to the
// given worktree paths. backoffMs is the reconnect schedule; the last entry
// repeats forever.
func NewClient(baseURL, token string, paths []string, backoffMs []int) *Client {
	if len(backoffMs) == 0 {
		backoffMs = []int{1000}
	}
	backoff := make([]time.Duration, len(backoffMs))
	for i, ms := range backoffMs {
		backoff[i] = time.Duration(ms) * time.Millisecond
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		paths:   append([]string(nil), paths...),
		backoff: backoff,
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Events implements Driver.
func (c *Client) Events(ctx context.Context) (<-chan event.Raw, func(), error) {
	if len(c.paths) == 0 {
		return nil, nil, fmt.Errorf("no worktrees to subscribe to")
	}

	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan event.Raw, 256)

	var wg sync.WaitGroup
	for _, path := range c.paths {
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			c.runStream(ctx, path, ch)
		}(path)
	}
	go func() {
		wg.Wait()
		close(ch)
	}()

	var once sync.Once
	stop := func() { once.Do(cancel) }
	return ch, stop, nil
}

// runStream keeps one worktree's subscription alive until ctx is cancelled,
// redialing with backoff after every drop.
func (c *Client) runStream(ctx context.Context, path string, ch chan<- event.Raw) {
	attempt := 0
	connectedBefore := false
	for {
		err := c.streamOnce(ctx, path, ch, func() {
			attempt = 0
			if connectedBefore && c.OnReconnect != nil {
				c.OnReconnect(path)
			}
			connectedBefore = true
		})
		if ctx.Err() != nil {
			return
		}
		debug.LogKV("backend", "event stream dropped", "path", path, "err", err)

		delay := c.backoff[len(c.backoff)-1]
		if attempt < len(c.backoff) {
			delay = c.backoff[attempt]
		}
		attempt++
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (c *Client) streamOnce(ctx context.Context, path string, ch chan<- event.Raw, onConnect func()) error {
	wsURL := c.wsURL("/event", path)

	dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.Dial(dialCtx, wsURL, &websocket.DialOptions{
		HTTPHeader: c.authHeader(),
	})
	dialCancel()
	if err != nil {
		return fmt.Errorf("dialing %s: %w", wsURL, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(4 * 1024 * 1024)

	onConnect()
	debug.LogKV("backend", "event stream connected", "path", path)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var raw event.Raw
		if err := json.Unmarshal(data, &raw); err != nil {
			debug.LogKV("backend", "discarding unparseable frame", "path", path, "err", err)
			continue
		}
		raw.WorkspacePath = path
		select {
		case ch <- raw:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// FetchMessages implements Driver.
func (c *Client) FetchMessages(ctx context.Context, workspacePath, backendSessionID string) ([]Message, error) {
	var wire []struct {
		Info struct {
			Role string `json:"role"`
		} `json:"info"`
		Parts []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"parts"`
	}
	endpoint := "/session/" + url.PathEscape(backendSessionID) + "/message"
	if err := c.doJSON(ctx, http.MethodGet, endpoint, workspacePath, nil, &wire); err != nil {
		return nil, fmt.Errorf("fetching messages for %s: %w", backendSessionID, err)
	}

	msgs := make([]Message, 0, len(wire))
	for _, m := range wire {
		var b strings.Builder
		for _, p := range m.Parts {
			if p.Type != "text" || p.Text == "" {
				continue
			}
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(p.Text)
		}
		msgs = append(msgs, Message{Role: m.Info.Role, Text: b.String()})
	}
	return msgs, nil
}

// Abort implements Driver.
func (c *Client) Abort(ctx context.Context, workspacePath, backendSessionID string) error {
	endpoint := "/session/" + url.PathEscape(backendSessionID) + "/abort"
	return c.doJSON(ctx, http.MethodPost, endpoint, workspacePath, struct{}{}, nil)
}

// Reply implements Driver.
func (c *Client) Reply(ctx context.Context, workspacePath, backendSessionID, requestID string, kind RequestKind, answer string) error {
	endpoint, err := requestEndpoint(backendSessionID, requestID, kind, "reply")
	if err != nil {
		return err
	}
	body := map[string]string{"response": answer}
	return c.doJSON(ctx, http.MethodPost, endpoint, workspacePath, body, nil)
}

// Reject implements Driver.
func (c *Client) Reject(ctx context.Context, workspacePath, backendSessionID, requestID string, kind RequestKind) error {
	endpoint, err := requestEndpoint(backendSessionID, requestID, kind, "reject")
	if err != nil {
		return err
	}
	return c.doJSON(ctx, http.MethodPost, endpoint, workspacePath, struct{}{}, nil)
}

func requestEndpoint(backendSessionID, requestID string, kind RequestKind, verb string) (string, error) {
	var segment string
	switch kind {
	case KindPermission:
		segment = "permissions"
	case KindQuestion:
		segment = "questions"
	case KindCommand:
		segment = "commands"
	default:
		return "", fmt.Errorf("unknown request kind %q", kind)
	}
	return "/session/" + url.PathEscape(backendSessionID) + "/" + segment + "/" +
		url.PathEscape(requestID) + "/" + verb, nil
}

// doJSON issues one HTTP call against the runtime API. Every call carries the
// worktree directory as a query parameter, mirroring how subscriptions are
// scoped.
func (c *Client) doJSON(ctx context.Context, method, endpoint, workspacePath string, in, out any) error {
	u := c.baseURL + endpoint + "?directory=" + url.QueryEscape(workspacePath)

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.authHeader() {
		req.Header[k] = v
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: %s: %s", method, endpoint, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) authHeader() http.Header {
	h := http.Header{}
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	return h
}

func (c *Client) wsURL(endpoint, workspacePath string) string {
	base := c.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + endpoint + "?directory=" + url.QueryEscape(workspacePath)
}
