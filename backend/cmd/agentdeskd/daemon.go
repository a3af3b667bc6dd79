package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"

	"github.com/agentdesk/agentdesk/backend/internal/agent"
	"github.com/agentdesk/agentdesk/backend/internal/bridge"
	"github.com/agentdesk/agentdesk/backend/internal/broadcaster"
	"github.com/agentdesk/agentdesk/backend/internal/config"
	"github.com/agentdesk/agentdesk/backend/internal/genaititler"
	"github.com/agentdesk/agentdesk/backend/internal/httpapi"
	"github.com/agentdesk/agentdesk/backend/internal/ingest"
	"github.com/agentdesk/agentdesk/backend/internal/logging"
	"github.com/agentdesk/agentdesk/backend/internal/model"
	"github.com/agentdesk/agentdesk/backend/internal/pricesync"
	"github.com/agentdesk/agentdesk/backend/internal/process"
	"github.com/agentdesk/agentdesk/backend/internal/store"
	"github.com/agentdesk/agentdesk/backend/internal/watcher"
	"github.com/agentdesk/agentdesk/backend/internal/wiring"
)

// runDaemon wires store -> watcher -> ingester -> process manager ->
// price sync -> broadcaster -> HTTP server -> bridge (spec §5) and serves
// until a signal arrives, then shuts every engine down in sequence.
func runDaemon(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("agentdeskd: load config: %w", err)
	}

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logging.Setup(logging.Options{Level: level})

	journalRoot := config.ExpandHome(cfg.JournalRoot)
	if err := os.MkdirAll(journalRoot, 0o755); err != nil {
		return fmt.Errorf("agentdeskd: create journal root %s: %w", journalRoot, err)
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("agentdeskd: open store: %w", err)
	}
	defer func() { _ = db.Close() }()

	lookup := wiring.New(db, journalRoot)

	var titler bridge.Titler
	if cfg.AutoTitleProvider != "" {
		if t := genaititler.New(context.Background(), cfg.AutoTitleProvider, cfg.AutoTitleModel); t != nil {
			titler = t
		}
	}
	br := bridge.New(lookup, titler)

	ig := ingest.New(db)
	w := watcher.New(journalRoot)

	var hub *broadcaster.Hub
	onStateChange := func(rec *model.ProcessRecord) {
		br.OnProcessStateChange(rec)
		if hub != nil {
			hub.OnProcessStateChange(rec)
		}
	}
	procMgr := process.New(agent.DefaultCommandFactory(cfg.AgentBinary), lookup.SessionExists, onStateChange)
	hub = broadcaster.New(procMgr, lookup)

	syncer := pricesync.New(db, cfg.PriceCatalogURL, cfg.PriceVendorPrefix)

	apiServer := httpapi.NewServer(db, br, procMgr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go procMgr.Run(ctx)
	go syncer.Run(ctx)
	go func() {
		if err := w.Run(ctx); err != nil {
			slog.Error("journal watcher stopped", "err", err)
		}
	}()
	go consumeSyncJobs(ctx, db, ig, hub, w)

	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: routes(apiServer, hub),
	}
	go func() {
		slog.Info("agentdeskd listening", "addr", cfg.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("agentdeskd: shutdown initiated", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)

	procMgr.Shutdown(time.Duration(cfg.ShutdownGraceSeconds) * time.Second)
	cancel() // stop watcher, price sync, timeout loop, sync-job consumer

	return nil
}

// routes mounts the HTTP API and the WebSocket upgrade endpoint on one
// mux (spec §4.G, §6).
func routes(api *httpapi.Server, hub *broadcaster.Hub) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		hub.ServeConn(r.Context(), conn)
	})
	mux.Handle("/", api)
	return mux
}

// projectStore is the subset of store.Store consumeSyncJobs needs for
// project bootstrap (spec §4.C: new project subdirectories appear at
// runtime as the CLI starts new conversations in new working
// directories).
type projectStore interface {
	GetProject(ctx context.Context, projectID string) (model.Project, error)
	UpsertProject(ctx context.Context, p model.Project) error
}

// consumeSyncJobs drives the Ingester from the Watcher's debounced job
// channel and forwards resulting deltas to the Broadcaster (spec §5 data
// flow: Watcher -> Ingester -> Compute -> Store -> Broadcaster).
//
// A project directory's id is treated as its working-directory path
// until something better is known (e.g. a future project-registration
// endpoint) — see DESIGN.md for why the journal layout alone can't
// recover the CLI's real working directory.
func consumeSyncJobs(ctx context.Context, ps projectStore, ig *ingest.Ingester, hub *broadcaster.Hub, w *watcher.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-w.Jobs():
			if !ok {
				return
			}
			if _, err := ps.GetProject(ctx, job.ProjectID); err != nil {
				if err := ps.UpsertProject(ctx, model.Project{ID: job.ProjectID, Dir: job.ProjectID}); err != nil {
					slog.Warn("agentdeskd: bootstrap project failed", "project_id", job.ProjectID, "err", err)
					continue
				}
			}

			delta, err := ig.Sync(ctx, job.ProjectID, job.SessionID, job.Path)
			if err != nil {
				slog.Warn("agentdeskd: sync failed", "session_id", job.SessionID, "path", job.Path, "err", err)
				continue
			}
			if delta == nil || len(delta.NewItems) == 0 {
				continue
			}
			hub.BroadcastItemsAdded(delta.SessionID, delta.ProjectID, delta.NewItems, delta.AmendedLineNums)
		}
	}
}
