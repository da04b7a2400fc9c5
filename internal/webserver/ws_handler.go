package webserver

import (
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
)

type wsEnvelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// handleUpdatesWebSocket streams hub update notifications to the client until
// it disconnects. The subscription is torn down exactly once either way.
func (srv *Server) handleUpdatesWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	defer ws.CloseNow()

	ctx := r.Context()
	updates, cancel := srv.hub.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				ws.Close(websocket.StatusNormalClosure, "stream ended")
				return
			}
			data, err := json.Marshal(wsEnvelope{Type: "update", Data: u})
			if err != nil {
				continue
			}
			if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
	}
}
