package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/agentdesk/agentdesk/backend/internal/model"
)

// AppendItems performs the Ingester's "persist items (bulk insert) and
// amendments (bulk update of metadata fields only)" step (spec §4.D.6) in
// one transaction, so a write failure aborts the whole batch and
// last_offset is not advanced (spec §7, Store error policy).
func (s *Store) AppendItems(ctx context.Context, items []model.SessionItem, amendedTails map[int64]int64, toolLinks []model.ToolResultLink, agentLinks []model.AgentLink) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin append tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	insertStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO session_items
			(session_id, line_num, raw_content, display_level, kind,
			 group_head, group_tail, message_id, cost_micros, context_usage,
			 git_directory, git_branch)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, line_num) DO UPDATE SET
			raw_content = excluded.raw_content,
			display_level = excluded.display_level,
			kind = excluded.kind,
			group_head = excluded.group_head,
			group_tail = excluded.group_tail,
			message_id = excluded.message_id,
			cost_micros = excluded.cost_micros,
			context_usage = excluded.context_usage,
			git_directory = excluded.git_directory,
			git_branch = excluded.git_branch`)
	if err != nil {
		return fmt.Errorf("store: prepare item insert: %w", err)
	}
	defer func() { _ = insertStmt.Close() }()

	for _, it := range items {
		if _, err := insertStmt.ExecContext(ctx,
			it.SessionID, it.LineNum, it.RawContent, string(it.DisplayLevel), string(it.Kind),
			it.GroupHead, it.GroupTail, it.MessageID, it.Cost, it.ContextUsage,
			it.GitDirectory, it.GitBranch); err != nil {
			return fmt.Errorf("store: insert item %s:%d: %w", it.SessionID, it.LineNum, err)
		}
	}

	if len(items) > 0 {
		sessionID := items[0].SessionID
		tailStmt, err := tx.PrepareContext(ctx,
			`UPDATE session_items SET group_tail = ? WHERE session_id = ? AND line_num = ?`)
		if err != nil {
			return fmt.Errorf("store: prepare tail amend: %w", err)
		}
		defer func() { _ = tailStmt.Close() }()
		for lineNum, newTail := range amendedTails {
			if _, err := tailStmt.ExecContext(ctx, newTail, sessionID, lineNum); err != nil {
				return fmt.Errorf("store: amend tail %s:%d: %w", sessionID, lineNum, err)
			}
		}
	}

	for _, l := range toolLinks {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tool_result_links (session_id, tool_use_line_num, tool_result_line_num, tool_use_id)
			VALUES (?, ?, ?, ?) ON CONFLICT DO NOTHING`,
			l.SessionID, l.ToolUseLineNum, l.ToolResultLineNum, l.ToolUseID); err != nil {
			return fmt.Errorf("store: insert tool_result_link: %w", err)
		}
	}

	for _, l := range agentLinks {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO agent_links (session_id, tool_use_line_num, tool_use_id, agent_id)
			VALUES (?, ?, ?, ?) ON CONFLICT(session_id, tool_use_id) DO NOTHING`,
			l.SessionID, l.ToolUseLineNum, l.ToolUseID, l.AgentID); err != nil {
			return fmt.Errorf("store: insert agent_link: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit append tx: %w", err)
	}
	return nil
}

// LoadSessionItems returns every item of a session in line-num order, used
// by the batch recompute worker to rebuild a MemoryContext from scratch.
func (s *Store) LoadSessionItems(ctx context.Context, sessionID string) ([]model.SessionItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, line_num, raw_content, display_level, kind,
		       group_head, group_tail, message_id, cost_micros, context_usage,
		       git_directory, git_branch
		FROM session_items WHERE session_id = ? ORDER BY line_num ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: load items for %s: %w", sessionID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.SessionItem
	for rows.Next() {
		var it model.SessionItem
		var groupHead, groupTail, cost, contextUsage sql.NullInt64
		var messageID, gitDir, gitBranch sql.NullString
		if err := rows.Scan(&it.SessionID, &it.LineNum, &it.RawContent, &it.DisplayLevel, &it.Kind,
			&groupHead, &groupTail, &messageID, &cost, &contextUsage, &gitDir, &gitBranch); err != nil {
			return nil, err
		}
		if groupHead.Valid {
			v := groupHead.Int64
			it.GroupHead = &v
		}
		if groupTail.Valid {
			v := groupTail.Int64
			it.GroupTail = &v
		}
		if messageID.Valid {
			v := messageID.String
			it.MessageID = &v
		}
		if cost.Valid {
			v := model.Micros(cost.Int64)
			it.Cost = &v
		}
		if contextUsage.Valid {
			v := contextUsage.Int64
			it.ContextUsage = &v
		}
		if gitDir.Valid {
			v := gitDir.String
			it.GitDirectory = &v
		}
		if gitBranch.Valid {
			v := gitBranch.String
			it.GitBranch = &v
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// LoadSessionItemsFrom returns items with line_num > afterLine, the page
// the HTTP surface serves for incremental client resync (spec §6).
func (s *Store) LoadSessionItemsFrom(ctx context.Context, sessionID string, afterLine int64) ([]model.SessionItem, error) {
	all, err := s.LoadSessionItems(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	idx := 0
	for i, it := range all {
		if it.LineNum > afterLine {
			idx = i
			break
		}
		idx = len(all)
	}
	return all[idx:], nil
}
