package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentdesk/agentdesk/backend/internal/compute"
	"github.com/agentdesk/agentdesk/backend/internal/journal"
	"github.com/agentdesk/agentdesk/backend/internal/model"
)

// RecomputeLaggingSessions implements the §4.F/§7 versioned-recompute
// worker: every session whose stored compute_version is behind
// CurrentComputeVersion is re-walked in batch mode and its metadata/link
// rows rewritten atomically. Call this once at startup and whenever the
// version constant changes.
func (s *Store) RecomputeLaggingSessions(ctx context.Context) error {
	ids, err := s.SessionsLaggingComputeVersion(ctx, CurrentComputeVersion)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.RecomputeSession(ctx, id); err != nil {
			slog.Error("batch recompute failed", "session_id", id, "err", err)
			continue // one session's failure must not abort the others
		}
	}
	return nil
}

// RecomputeSession re-derives every item of one session from its raw
// content, starting from a clean working-map slate but seeding the
// git-preservation (P10) and cost-dedup (P4) state from the rows already
// on disk, then overwrites metadata/link rows in a single transaction.
// Each item is priced at the timestamp of its own (or the latest
// preceding) journal line.
func (s *Store) RecomputeSession(ctx context.Context, sessionID string) error {
	items, err := s.LoadSessionItems(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("recompute %s: load items: %w", sessionID, err)
	}

	memCtx := compute.NewMemoryContext(s)
	for _, it := range items {
		memCtx.SeedExistingGit(it.LineNum, it.GitDirectory, it.GitBranch)
		if it.MessageID != nil && it.Cost != nil {
			memCtx.SeedMessageID(*it.MessageID)
		}
	}

	var recomputed []model.SessionItem
	amended := map[int64]int64{}
	var toolLinks []model.ToolResultLink
	var lastLineNum int64
	var lastContextUsage int64
	var totalCost model.Micros
	var messageCount int64

	var lastTS time.Time
	for _, it := range items {
		rec, parseErr := journal.Parse([]byte(it.RawContent))
		rawTS := ""
		switch {
		case rec.Assistant != nil:
			rawTS = rec.Assistant.Timestamp
		case rec.User != nil:
			rawTS = rec.User.Timestamp
		}
		if t, err := time.Parse(time.RFC3339, rawTS); err == nil {
			lastTS = t
		}
		res := compute.Apply(memCtx, sessionID, it.LineNum, it.RawContent, rec, parseErr, lastTS)
		recomputed = append(recomputed, res.Item)
		for _, ln := range res.AmendedTails {
			amended[ln] = it.LineNum
		}
		if res.ToolResultLink != nil {
			toolLinks = append(toolLinks, *res.ToolResultLink)
		}
		if res.Item.ContextUsage != nil {
			lastContextUsage = *res.Item.ContextUsage
		}
		if res.Item.Cost != nil {
			totalCost += *res.Item.Cost
		}
		if res.Item.Kind == model.KindUserMessage || res.Item.Kind == model.KindAssistantMessage {
			messageCount++
		}
		lastLineNum = it.LineNum
	}

	if err := s.AppendItems(ctx, recomputed, amended, toolLinks, nil); err != nil {
		return fmt.Errorf("recompute %s: write back: %w", sessionID, err)
	}

	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("recompute %s: reload session: %w", sessionID, err)
	}
	sess.LastLineNum = lastLineNum
	sess.ContextUsage = lastContextUsage
	sess.TotalCost = totalCost
	sess.MessageCount = messageCount
	sess.ComputeVersion = CurrentComputeVersion
	return s.UpdateSessionAggregates(ctx, sess)
}
