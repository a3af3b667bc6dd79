package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentdesk/agentdesk/backend/internal/compute"
)

// taskCandidates is a single FIFO queue of Task tool_use invocations
// recorded by Compute (spec §4.E.5), spanning every parent session, not
// yet matched to a spawned subagent session.
//
// The journal's flat per-project/per-session layout (spec §6) gives the
// Watcher and Ingester no signal that a newly discovered session file is
// a subagent, let alone which parent spawned it — the journal format
// doesn't pass the spawning tool_use_id down into the child session's own
// records. This store resolves it by global FIFO order: the oldest
// unmatched Task candidate across all sessions is attributed to the next
// brand-new session GetOrCreateSession sees. This is a pragmatic
// engineering choice (documented in DESIGN.md), not a spec requirement —
// it holds as long as subagents are spawned and their session files
// appear in roughly the same relative order Task tool_uses invoke them,
// which matches the coding assistant's own sequential tool-call model.
type taskCandidates struct {
	mu    sync.Mutex
	queue []candidateEntry
}

type candidateEntry struct {
	parentSessionID string
	cand            compute.TaskCandidate
}

func newTaskCandidates() *taskCandidates {
	return &taskCandidates{}
}

// RecordTaskCandidates appends newly observed Task tool_use candidates for
// a parent session, called by the Ingester after each Compute run.
func (s *Store) RecordTaskCandidates(parentSessionID string, cands []compute.TaskCandidate) {
	if len(cands) == 0 {
		return
	}
	s.taskCand.mu.Lock()
	defer s.taskCand.mu.Unlock()
	for _, c := range cands {
		s.taskCand.queue = append(s.taskCand.queue, candidateEntry{parentSessionID: parentSessionID, cand: c})
	}
}

// claimSubagentParent pops the oldest unresolved Task candidate, if any,
// for attributing a brand-new session to its spawning parent (called only
// from GetOrCreateSession, only on the insert path).
func (s *Store) claimSubagentParent() (candidateEntry, bool) {
	s.taskCand.mu.Lock()
	defer s.taskCand.mu.Unlock()
	if len(s.taskCand.queue) == 0 {
		return candidateEntry{}, false
	}
	e := s.taskCand.queue[0]
	s.taskCand.queue = s.taskCand.queue[1:]
	return e, true
}

// insertAgentLink records the resolved (parent, tool_use, subagent) triple.
func (s *Store) insertAgentLink(ctx context.Context, parentSessionID, subagentSessionID string, cand compute.TaskCandidate) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_links (session_id, tool_use_line_num, tool_use_id, agent_id)
		VALUES (?, ?, ?, ?) ON CONFLICT(session_id, tool_use_id) DO NOTHING`,
		parentSessionID, cand.AssistantLine, cand.ToolUseID, subagentSessionID)
	if err != nil {
		return fmt.Errorf("store: insert resolved agent_link: %w", err)
	}
	return nil
}
