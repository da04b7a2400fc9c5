// Package webserver hosts the local read API for a running seam instance:
// workspace aggregates, session state, interrupt decisions, and a WebSocket
// update stream. The CLI talks to it; so can anything else on the machine.
package webserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/seam-dev/seam/internal/debug"
	"github.com/seam-dev/seam/internal/hub"
	"github.com/seam-dev/seam/internal/metrics"
	"github.com/seam-dev/seam/internal/store"
	"github.com/seam-dev/seam/internal/workspace"
)

// Options configures the server.
type Options struct {
	Listen    string
	AuthToken string
}

type Server struct {
	hub        *hub.Hub
	store      *store.Store
	reg        *workspace.Registry
	httpServer *http.Server
	listen     string
	addr       string
	authToken  string
}

func New(h *hub.Hub, st *store.Store, reg *workspace.Registry, opts Options) *Server {
	listen := opts.Listen
	if listen == "" {
		listen = "127.0.0.1:7433"
	}

	srv := &Server{
		hub:       h,
		store:     st,
		reg:       reg,
		listen:    listen,
		authToken: opts.AuthToken,
	}

	mux := http.NewServeMux()
	srv.setupRoutes(mux)

	handler := corsMiddleware(logMiddleware(authMiddleware(srv.authToken, mux)))
	srv.httpServer = &http.Server{
		Addr:              listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv
}

// Start binds the listener and serves in a background goroutine.
func (srv *Server) Start() error {
	ln, err := net.Listen("tcp", srv.listen)
	if err != nil {
		return err
	}
	srv.addr = ln.Addr().String()

	go func() {
		if err := srv.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			debug.LogKV("webserver", "server stopped with error", "error", err)
		}
	}()
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (srv *Server) Shutdown(ctx context.Context) error {
	if srv.httpServer == nil {
		return nil
	}
	return srv.httpServer.Shutdown(ctx)
}

// Addr returns the bound address. Valid after Start.
func (srv *Server) Addr() string {
	return srv.addr
}

func (srv *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/workspaces", srv.handleListWorkspaces)

	mux.HandleFunc("GET /api/sessions", srv.handleListSessions)
	mux.HandleFunc("POST /api/sessions", srv.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/{id}", srv.handleSessionByID)
	mux.HandleFunc("GET /api/sessions/{id}/messages", srv.handleSessionMessages)
	mux.HandleFunc("POST /api/sessions/{id}/bind", srv.handleBindSession)
	mux.HandleFunc("POST /api/sessions/{id}/abort", srv.handleAbortSession)
	mux.HandleFunc("POST /api/sessions/{id}/seen", srv.handleMarkSeen)
	mux.HandleFunc("POST /api/sessions/{id}/active", srv.handleSetActive)
	mux.HandleFunc("POST /api/sessions/{id}/watch-pr", srv.handleArmPRWatch)

	mux.HandleFunc("POST /api/requests/{id}/reply", srv.handleReplyRequest)
	mux.HandleFunc("POST /api/requests/{id}/reject", srv.handleRejectRequest)

	mux.HandleFunc("GET /ws/updates", srv.handleUpdatesWebSocket)

	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("/api/{rest...}", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
}
