// Package store is the relational store for projects, sessions, session
// items, and the tool_result_links/agent_links/model_prices tables (spec
// §4.F, §6). It is backed by modernc.org/sqlite, a pure-Go embedded SQL
// engine — the spec explicitly leaves the relational engine choice open
// ("any relational engine suffices; the schema is specified, the
// implementation is not"); this is the only embeddable-SQL driver present
// anywhere in the example pack (see DESIGN.md).
//
// Structurally this follows vanducng-goclaw's internal/store/pg package:
// a thin read cache of Session rows over plain database/sql calls,
// double-checked under a RWMutex, with "insert if absent" sessions going
// through SQLite's ON CONFLICT DO NOTHING (identical syntax to the
// Postgres precedent).
package store

import (
	"context"
	_ "embed"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/agentdesk/agentdesk/backend/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// CurrentComputeVersion is the static configuration knob from spec §4.F /
// §7: bumping it triggers a full batch recompute of every session whose
// stored compute_version lags.
const CurrentComputeVersion = 1

// Store is the process-wide handle to the embedded database.
type Store struct {
	db *sql.DB

	mu    sync.RWMutex
	cache map[string]*model.Session // sessionID -> cached row

	taskCand *taskCandidates
}

// Open creates or opens the SQLite database at path and applies the
// schema. path may be ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: single-writer discipline, like the teacher's single-process model

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &Store{db: db, cache: map[string]*model.Session{}, taskCand: newTaskCandidates()}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertProject inserts a project row if absent.
func (s *Store) UpsertProject(ctx context.Context, p model.Project) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, dir) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET dir = excluded.dir`,
		p.ID, p.Dir)
	if err != nil {
		return fmt.Errorf("store: upsert project %s: %w", p.ID, err)
	}
	return nil
}

// ListProjects returns every known project, for the HTTP surface's
// project list (spec §4.J).
func (s *Store) ListProjects(ctx context.Context) ([]model.Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, dir FROM projects ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Project
	for rows.Next() {
		var p model.Project
		if err := rows.Scan(&p.ID, &p.Dir); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetProject looks up a single project by id, for resolving a session's
// working directory (spec §4.I, §6 send_message dispatch).
func (s *Store) GetProject(ctx context.Context, projectID string) (model.Project, error) {
	var p model.Project
	row := s.db.QueryRowContext(ctx, `SELECT id, dir FROM projects WHERE id = ?`, projectID)
	if err := row.Scan(&p.ID, &p.Dir); err != nil {
		return model.Project{}, fmt.Errorf("store: get project %s: %w", projectID, err)
	}
	return p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func logSlow(op string, err error) {
	if err != nil {
		slog.Warn("store operation failed", "op", op, "err", err)
	}
}
