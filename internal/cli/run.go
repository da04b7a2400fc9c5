package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/seam-dev/seam/internal/backend"
	"github.com/seam-dev/seam/internal/debug"
	"github.com/seam-dev/seam/internal/hub"
	"github.com/seam-dev/seam/internal/metrics"
	"github.com/seam-dev/seam/internal/store"
	"github.com/seam-dev/seam/internal/webserver"
	"github.com/seam-dev/seam/internal/workspace"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the session coordinator",
	Long: `Subscribes to the agent runtime's event stream for every configured
worktree, serves the local API, and keeps workspace status current until
interrupted.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(cfg.Workspaces) == 0 {
		return fmt.Errorf("no workspaces configured; add them to %s", configDisplayPath())
	}

	st, err := store.New(cfg.Storage.StateDir)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}

	reg := workspace.NewRegistry()
	var paths []string
	for _, ws := range cfg.Workspaces {
		if err := reg.Add(workspace.Workspace{ID: ws.ID, Path: ws.Path, ProjectID: ws.ProjectID}); err != nil {
			return fmt.Errorf("workspace %q: %w", ws.ID, err)
		}
		paths = append(paths, ws.Path)
	}

	client := backend.NewClient(cfg.Backend.URL, cfg.Backend.Token, paths, cfg.Backend.ReconnectBackoffMs)
	client.OnReconnect = func(string) { metrics.Reconnects.Inc() }

	h := hub.New(st, client, reg)
	if err := h.LoadSessions(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Archive a workspace's sessions when its worktree disappears.
	dw, err := workspace.NewDirWatcher(func(path string) {
		ws, ok := reg.ByPath(path)
		if !ok {
			return
		}
		n, err := h.ArchiveWorkspace(ws.ID)
		if err != nil {
			debug.LogKV("cli", "archiving removed worktree", "path", path, "err", err)
			return
		}
		fmt.Printf("worktree %s removed, archived %d session(s)\n", path, n)
	})
	if err != nil {
		return fmt.Errorf("starting worktree watcher: %w", err)
	}
	defer dw.Close()
	for _, path := range paths {
		if err := dw.Watch(path); err != nil {
			debug.LogKV("cli", "watching worktree", "path", path, "err", err)
		}
	}

	srv := webserver.New(h, st, reg, webserver.Options{
		Listen:    cfg.Server.Listen,
		AuthToken: cfg.Backend.Token,
	})
	if err := srv.Start(); err != nil {
		return fmt.Errorf("starting api server: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	fmt.Printf("%s listening on %s\n", colorize(styleBoldCyan, "seam"), srv.Addr())

	if cfg.Server.MetricsListen != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(cfg.Server.MetricsListen, mux); err != nil {
				debug.LogKV("cli", "metrics listener stopped", "err", err)
			}
		}()
	}

	err = h.Run(ctx)
	if errors.Is(err, context.Canceled) {
		fmt.Println("shutting down")
		return nil
	}
	return err
}

func configDisplayPath() string {
	if configPath != "" {
		return configPath
	}
	return "~/.seam/config.yaml"
}
