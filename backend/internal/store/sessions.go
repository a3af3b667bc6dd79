package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/agentdesk/agentdesk/backend/internal/model"
)

// GetOrCreateSession returns the existing session row, or creates one if
// absent. Mirrors goclaw's PGSessionStore double-checked cache pattern:
// check cache, then DB, then insert. A brand-new session is classified as
// main unless claimSubagentParent finds a pending Task candidate to
// attribute it to (spec §4.E.5 AgentLink matching).
func (s *Store) GetOrCreateSession(ctx context.Context, projectID, sessionID string) (*model.Session, error) {
	s.mu.RLock()
	if sess, ok := s.cache[sessionID]; ok {
		s.mu.RUnlock()
		return sess, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.cache[sessionID]; ok {
		return sess, nil
	}

	sess, err := s.loadSession(ctx, sessionID)
	if err == nil {
		s.cache[sessionID] = sess
		return sess, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	typ := model.SessionTypeMain
	var parentID *string
	if e, ok := s.claimSubagentParent(); ok {
		typ = model.SessionTypeSubagent
		p := e.parentSessionID
		parentID = &p
		if err := s.insertAgentLink(ctx, e.parentSessionID, sessionID, e.cand); err != nil {
			return nil, err
		}
	}

	sess = &model.Session{
		ID:        sessionID,
		ProjectID: projectID,
		Type:      typ,
		ParentSessionID: parentID,
	}
	_, execErr := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, project_id, type, parent_session_id)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		sess.ID, sess.ProjectID, string(sess.Type), sess.ParentSessionID)
	if execErr != nil {
		return nil, fmt.Errorf("store: create session %s: %w", sessionID, execErr)
	}

	sess, err = s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: reload session %s: %w", sessionID, err)
	}
	s.cache[sessionID] = sess
	return sess, nil
}

func (s *Store) loadSession(ctx context.Context, sessionID string) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, title, archived, pinned, parent_session_id, type,
		       mtime_unix, last_offset, last_line_num, message_count,
		       total_cost_micros, context_usage, compute_version,
		       jsonl_git_branch, git_directory, git_branch
		FROM sessions WHERE id = ?`, sessionID)
	return scanSession(row)
}

func scanSession(row *sql.Row) (*model.Session, error) {
	var sess model.Session
	var archived, pinned int
	var mtimeUnix int64
	var parentID, gitDir, gitBranch sql.NullString
	if err := row.Scan(&sess.ID, &sess.ProjectID, &sess.Title, &archived, &pinned,
		&parentID, &sess.Type, &mtimeUnix, &sess.LastOffset, &sess.LastLineNum,
		&sess.MessageCount, &sess.TotalCost, &sess.ContextUsage, &sess.ComputeVersion,
		&sess.JSONLGitBranch, &gitDir, &gitBranch); err != nil {
		return nil, err
	}
	sess.Archived = archived != 0
	sess.Pinned = pinned != 0
	sess.MTime = time.Unix(mtimeUnix, 0).UTC()
	if parentID.Valid {
		v := parentID.String
		sess.ParentSessionID = &v
	}
	if gitDir.Valid {
		v := gitDir.String
		sess.GitDirectory = &v
	}
	if gitBranch.Valid {
		v := gitBranch.String
		sess.GitBranch = &v
	}
	return &sess, nil
}

// UpdateSessionAggregates persists the roll-up fields Compute/Ingester
// maintain, at the end of each batch or after each live append (§4.F).
func (s *Store) UpdateSessionAggregates(ctx context.Context, sess *model.Session) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET
			mtime_unix = ?, last_offset = ?, last_line_num = ?,
			message_count = ?, total_cost_micros = ?, context_usage = ?,
			compute_version = ?, jsonl_git_branch = ?, git_directory = ?, git_branch = ?
		WHERE id = ?`,
		sess.MTime.Unix(), sess.LastOffset, sess.LastLineNum,
		sess.MessageCount, sess.TotalCost, sess.ContextUsage,
		sess.ComputeVersion, sess.JSONLGitBranch, sess.GitDirectory, sess.GitBranch,
		sess.ID)
	if err != nil {
		return fmt.Errorf("store: update session aggregates %s: %w", sess.ID, err)
	}
	s.mu.Lock()
	s.cache[sess.ID] = sess
	s.mu.Unlock()
	return nil
}

// UpdateSessionTitle is the one mutator outside the Ingester allowed by
// spec §4.F, used by the PATCH rename endpoint.
func (s *Store) UpdateSessionTitle(ctx context.Context, sessionID, title string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE sessions SET title = ? WHERE id = ?`, title, sessionID); err != nil {
		return fmt.Errorf("store: update title %s: %w", sessionID, err)
	}
	s.mu.Lock()
	if cached, ok := s.cache[sessionID]; ok {
		cached.Title = title
	}
	s.mu.Unlock()
	return nil
}

// GetSession returns a session by id, bypassing the cache so HTTP reads
// always see the latest committed row.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	return s.loadSession(ctx, sessionID)
}

// ListSessions returns every session belonging to a project, most recently
// modified first.
func (s *Store) ListSessions(ctx context.Context, projectID string) ([]*model.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, title, archived, pinned, parent_session_id, type,
		       mtime_unix, last_offset, last_line_num, message_count,
		       total_cost_micros, context_usage, compute_version,
		       jsonl_git_branch, git_directory, git_branch
		FROM sessions WHERE project_id = ? ORDER BY mtime_unix DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions for %s: %w", projectID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.Session
	for rows.Next() {
		var sess model.Session
		var archived, pinned int
		var mtimeUnix int64
		var parentID, gitDir, gitBranch sql.NullString
		if err := rows.Scan(&sess.ID, &sess.ProjectID, &sess.Title, &archived, &pinned,
			&parentID, &sess.Type, &mtimeUnix, &sess.LastOffset, &sess.LastLineNum,
			&sess.MessageCount, &sess.TotalCost, &sess.ContextUsage, &sess.ComputeVersion,
			&sess.JSONLGitBranch, &gitDir, &gitBranch); err != nil {
			return nil, err
		}
		sess.Archived = archived != 0
		sess.Pinned = pinned != 0
		sess.MTime = time.Unix(mtimeUnix, 0).UTC()
		if parentID.Valid {
			v := parentID.String
			sess.ParentSessionID = &v
		}
		if gitDir.Valid {
			v := gitDir.String
			sess.GitDirectory = &v
		}
		if gitBranch.Valid {
			v := gitBranch.String
			sess.GitBranch = &v
		}
		out = append(out, &sess)
	}
	return out, rows.Err()
}

// SessionsLaggingComputeVersion returns every session whose stored
// compute_version is below current, for the versioned-recompute worker
// (§4.F, §7).
func (s *Store) SessionsLaggingComputeVersion(ctx context.Context, current int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sessions WHERE compute_version < ?`, current)
	if err != nil {
		return nil, fmt.Errorf("store: list lagging sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
