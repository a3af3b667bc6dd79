// Package watcher implements the Journal Watcher (spec §4.C): a recursive
// directory watch over the journal root that dispatches debounced
// sync(session_id, path) jobs, without reading file contents itself.
//
// Grounded on other_examples/.../watcher.go (tail-claude)'s sessionWatcher:
// a single goroutine owns all data fields; timer callbacks only ever send
// a signal on a channel, never touch state directly, which is exactly the
// architecture spec §5 calls for ("components exchange messages through
// in-process channels, not shared mutable memory").
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DebounceWindow collapses repeated events for the same path within this
// window into a single job (spec §4.C: "~200 ms").
const DebounceWindow = 200 * time.Millisecond

// SyncJob identifies one project/session file that needs re-ingestion.
type SyncJob struct {
	ProjectID string
	SessionID string
	Path      string
}

// Watcher recursively watches Root (one subdirectory per project, one
// "<session-id>.jsonl" file per session, spec §6) and emits debounced
// SyncJobs on Jobs().
type Watcher struct {
	root string
	jobs chan SyncJob

	mu      sync.Mutex
	timers  map[string]*time.Timer // path -> pending debounce timer
	pending map[string]SyncJob
}

// New creates a Watcher rooted at root. Call Run to start watching.
func New(root string) *Watcher {
	return &Watcher{
		root:    root,
		jobs:    make(chan SyncJob, 64),
		timers:  map[string]*time.Timer{},
		pending: map[string]SyncJob{},
	}
}

// Jobs returns the channel of debounced sync jobs. Closed when Run returns.
func (w *Watcher) Jobs() <-chan SyncJob { return w.jobs }

// Run watches the journal tree until ctx is cancelled. Intended to be
// called as a goroutine; all data-field access happens on this goroutine,
// debounce timers (time.AfterFunc) only send the path on the flush channel.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.jobs)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = fw.Close() }()

	if err := addRecursive(fw, w.root); err != nil {
		return err
	}

	flush := make(chan string, 64)

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			for _, t := range w.timers {
				t.Stop()
			}
			w.mu.Unlock()
			return nil

		case path := <-flush:
			w.mu.Lock()
			job, ok := w.pending[path]
			delete(w.pending, path)
			delete(w.timers, path)
			w.mu.Unlock()
			if ok {
				select {
				case w.jobs <- job:
				case <-ctx.Done():
					return nil
				}
			}

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if isDir(ev.Name) {
					_ = fw.Add(ev.Name) // new project/session directory: watch it too
					continue
				}
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if !strings.HasSuffix(ev.Name, ".jsonl") {
				continue
			}
			job, ok := jobFromPath(w.root, ev.Name)
			if !ok {
				continue
			}
			w.debounce(ev.Name, job, flush)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("journal watcher error", "err", err)
		}
	}
}

func (w *Watcher) debounce(path string, job SyncJob, flush chan<- string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[path] = job
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(DebounceWindow, func() {
		select {
		case flush <- path:
		default:
		}
	})
}

// jobFromPath derives (project_id, session_id) from
// "<root>/<project-id>/<session-id>.jsonl" (spec §6 journal file layout).
func jobFromPath(root, path string) (SyncJob, bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return SyncJob{}, false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 2 {
		return SyncJob{}, false
	}
	sessionID := strings.TrimSuffix(parts[1], ".jsonl")
	if sessionID == parts[1] {
		return SyncJob{}, false
	}
	return SyncJob{ProjectID: parts[0], SessionID: sessionID, Path: path}, true
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func addRecursive(fw *fsnotify.Watcher, root string) error {
	if err := fw.Add(root); err != nil {
		return err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			_ = fw.Add(filepath.Join(root, e.Name()))
		}
	}
	return nil
}
