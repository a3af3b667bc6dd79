// Package wiring adapts internal/store onto the small per-component
// interfaces (process.SessionExists, broadcaster.SessionLookup,
// bridge.PathResolver) that cmd/agentdeskd composes at startup, keeping
// those components themselves store-agnostic.
package wiring

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/agentdesk/agentdesk/backend/internal/model"
)

// Store is the subset of store.Store the wiring adapters need.
type Store interface {
	GetSession(ctx context.Context, sessionID string) (*model.Session, error)
	GetProject(ctx context.Context, projectID string) (model.Project, error)
}

// SessionLookup adapts Store to process.SessionExists and
// broadcaster.SessionLookup.
type SessionLookup struct {
	store       Store
	journalRoot string
}

// New creates a SessionLookup. journalRoot is the directory JournalPath
// resolves "<project_id>/<session_id>.jsonl" under.
func New(store Store, journalRoot string) *SessionLookup {
	return &SessionLookup{store: store, journalRoot: journalRoot}
}

// SessionExists implements process.SessionExists: a GetSession hit means
// the row (and hence the journal file) already exists, so the next Send
// should resume rather than mint a new session id.
func (l *SessionLookup) SessionExists(ctx context.Context, sessionID string) bool {
	_, err := l.store.GetSession(ctx, sessionID)
	return err == nil
}

// GetWorkingDir implements broadcaster.SessionLookup: a session's working
// directory is its owning project's root (spec §4.I, §6).
func (l *SessionLookup) GetWorkingDir(ctx context.Context, projectID, sessionID string) (string, error) {
	p, err := l.store.GetProject(ctx, projectID)
	if err != nil {
		return "", fmt.Errorf("wiring: resolve working dir for session %s: %w", sessionID, err)
	}
	return p.Dir, nil
}

// JournalPath implements bridge.PathResolver: journal files live at
// "<journal-root>/<project-id>/<session-id>.jsonl" (spec §6).
func (l *SessionLookup) JournalPath(ctx context.Context, projectID, sessionID string) (string, error) {
	return filepath.Join(l.journalRoot, projectID, sessionID+".jsonl"), nil
}
