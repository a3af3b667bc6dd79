// Package bridge implements the Process-Journal Bridge (spec §4.I): the
// only path by which anything other than the coding-assistant CLI itself
// appends a line to a journal file — and only a single line, the custom-title rename
// marker, and only when it is safe to do so.
//
// Grounded on backend/internal/task/runner.go's openLog/writeLogTrailer
// (the teacher's only code that appends structured JSONL lines to a
// session's log file under a lock); the safe-to-write state check is
// generalized from the spec's prose since the teacher has no analogous
// write-while-a-peer-process-owns-the-file hazard.
package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/agentdesk/agentdesk/backend/internal/model"
)

// PathResolver locates the on-disk journal file for a session, so the
// Bridge can append to it directly (spec §4.I).
type PathResolver interface {
	JournalPath(ctx context.Context, projectID, sessionID string) (string, error)
}

// Bridge stages and flushes custom-title journal appends (spec §4.I
// rename policy) and optionally auto-generates a title when a session
// has none (supplemented feature, disabled when Config.AutoTitleProvider
// is empty, which leaves the titler nil).
type Bridge struct {
	paths  PathResolver
	titler Titler // nil disables auto-title

	mu      sync.Mutex
	pending map[string]pendingTitle // session-id -> staged title
}

type pendingTitle struct {
	projectID string
	title     string
}

// Titler summarizes a conversation into a short title (supplemented
// feature, spec §4.I "Supplemented feature"). Implemented by
// genaititler.Titler, backed by github.com/maruel/genai, kept from the
// teacher's server/titlegen.go.
type Titler interface {
	Generate(ctx context.Context, sessionID string, transcript string) (string, error)
}

// New creates a Bridge. titler may be nil to disable auto-title (spec
// §4.I: "gated behind an explicit config flag; disabled keeps the
// Bridge's spec-only behavior verbatim").
func New(paths PathResolver, titler Titler) *Bridge {
	return &Bridge{
		paths:   paths,
		titler:  titler,
		pending: map[string]pendingTitle{},
	}
}

// customTitleLine is the journal line shape the coding-assistant CLI
// recognizes for a renamed session (spec §4.I, §6).
type customTitleLine struct {
	Type        string `json:"type"`
	CustomTitle string `json:"customTitle"`
}

// StageRename implements the PATCH rename contract (spec §6, §4.I): it is
// called after the store write already succeeded. state is the current
// ProcessState of the session's Agent, or nil if no process exists for
// it. Safe states write immediately; unsafe states stage for the next
// transition (spec P6).
func (b *Bridge) StageRename(ctx context.Context, projectID, sessionID, title string, state *model.ProcessState) {
	if isSafeToWrite(state) {
		b.appendCustomTitle(ctx, projectID, sessionID, title)
		return
	}
	b.mu.Lock()
	b.pending[sessionID] = pendingTitle{projectID: projectID, title: title}
	b.mu.Unlock()
}

// OnProcessStateChange is registered as the Process Manager's
// OnStateChange callback (alongside the Broadcaster's): flushes any
// staged title once the process reaches user-turn or dead (spec §4.I).
func (b *Bridge) OnProcessStateChange(rec *model.ProcessRecord) {
	if rec.State != model.ProcessUserTurn && rec.State != model.ProcessDead {
		return
	}
	b.mu.Lock()
	pt, ok := b.pending[rec.SessionID]
	if ok {
		delete(b.pending, rec.SessionID)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	b.appendCustomTitle(context.Background(), pt.projectID, rec.SessionID, pt.title)
}

// isSafeToWrite implements spec §4.I's policy table: safe when no
// process exists, or state is user-turn or dead; unsafe when starting or
// assistant-turn.
func isSafeToWrite(state *model.ProcessState) bool {
	if state == nil {
		return true
	}
	switch *state {
	case model.ProcessUserTurn, model.ProcessDead:
		return true
	default:
		return false
	}
}

// appendCustomTitle writes one custom-title JSON line to the session's
// journal file. Failures are logged; the store's copy of the title
// remains correct regardless (spec §4.I: "loss... on server restart is
// accepted").
func (b *Bridge) appendCustomTitle(ctx context.Context, projectID, sessionID, title string) {
	path, err := b.paths.JournalPath(ctx, projectID, sessionID)
	if err != nil {
		slog.Warn("bridge: cannot resolve journal path for rename", "session_id", sessionID, "err", err)
		return
	}

	line, err := json.Marshal(customTitleLine{Type: "custom-title", CustomTitle: title})
	if err != nil {
		slog.Error("bridge: marshal custom-title line", "err", err)
		return
	}
	line = append(line, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		slog.Warn("bridge: cannot create journal directory", "path", path, "err", err)
		return
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		slog.Warn("bridge: cannot open journal file for rename append", "path", path, "err", err)
		return
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Write(line); err != nil {
		slog.Warn("bridge: failed to append custom-title line", "path", path, "err", err)
	}
}

// MaybeAutoTitle generates a title for a session from transcript and
// stages it (supplemented feature). No caller in this module invokes it,
// so no title is generated automatically when a session's first assistant
// result arrives. No-op if auto-title is disabled (titler is nil). The generated title flows through the identical StageRename path
// a manual rename uses, so it inherits the same safety guarantee.
func (b *Bridge) MaybeAutoTitle(ctx context.Context, projectID, sessionID, transcript string, state *model.ProcessState) {
	if b.titler == nil {
		return
	}
	title, err := b.titler.Generate(ctx, sessionID, transcript)
	if err != nil {
		slog.Warn("bridge: auto-title generation failed", "session_id", sessionID, "err", err)
		return
	}
	if title == "" {
		return
	}
	b.StageRename(ctx, projectID, sessionID, title, state)
}
