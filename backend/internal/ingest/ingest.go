// Package ingest implements the Journal Ingester (spec §4.D): per-session
// offset tracking, incremental line parsing, and driving the Compute
// Engine in live mode for each newly appended line.
//
// The scanner limits are grounded on backend/internal/agent/claude/reader.go's
// ReadRecords (64KB/10MB buffers); a malformed line is logged and stored
// as a debug-only item rather than aborting the sync. The offset/mtime short-circuit
// contract is grounded on other_examples' monitor/source.go Source.Parse
// doc comment ("if no new data since offset, return zero-value, same
// offset, nil error").
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/agentdesk/agentdesk/backend/internal/compute"
	"github.com/agentdesk/agentdesk/backend/internal/journal"
	"github.com/agentdesk/agentdesk/backend/internal/model"
)

const (
	scannerInitialBuf = 64 * 1024
	scannerMaxBuf      = 10 * 1024 * 1024
)

// Store is the subset of internal/store's API the Ingester needs.
type Store interface {
	GetOrCreateSession(ctx context.Context, projectID, sessionID string) (*model.Session, error)
	AppendItems(ctx context.Context, items []model.SessionItem, amendedTails map[int64]int64, toolLinks []model.ToolResultLink, agentLinks []model.AgentLink) error
	UpdateSessionAggregates(ctx context.Context, sess *model.Session) error
	LookupPrice(modelID string, at time.Time) (model.ModelPrice, bool)
	RecordTaskCandidates(parentSessionID string, cands []compute.TaskCandidate)
}

// Delta is what the Ingester hands the Broadcaster after a successful
// sync: newly created items plus the line-nums of amended pre-existing
// ones (spec §6 session_items_added wire message).
type Delta struct {
	SessionID      string
	ProjectID      string
	NewItems       []model.SessionItem
	AmendedLineNums []int64
}

// Ingester holds per-session live-mode Compute contexts and offset state.
type Ingester struct {
	store Store

	contexts map[string]*compute.MemoryContext // sessionID -> live context
}

// New returns an Ingester backed by store.
func New(store Store) *Ingester {
	return &Ingester{store: store, contexts: map[string]*compute.MemoryContext{}}
}

// Sync implements spec §4.D's numbered steps for one session's journal
// file. path is the absolute path to "<project-dir>/<session-id>.jsonl".
// Session type/parent classification (main vs. subagent) happens inside
// GetOrCreateSession on first sight of a session id (spec §4.E.5).
func (ig *Ingester) Sync(ctx context.Context, projectID, sessionID, path string) (*Delta, error) {
	sess, err := ig.store.GetOrCreateSession(ctx, projectID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("ingest: get/create session: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: stat %s: %w", path, err)
	}
	if !info.ModTime().After(sess.MTime) && sess.LastOffset > 0 {
		return nil, nil // step 1: mtime unchanged, nothing to do
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Seek(sess.LastOffset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("ingest: seek %s: %w", path, err)
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, scannerInitialBuf), scannerMaxBuf)

	memCtx, ok := ig.contexts[sessionID]
	if !ok {
		memCtx = compute.NewMemoryContext(ig.store)
		ig.contexts[sessionID] = memCtx
	}
	candsBefore := len(memCtx.TaskCandidates())

	var newItems []model.SessionItem
	amended := map[int64]int64{}
	var toolLinks []model.ToolResultLink
	lineNum := sess.LastLineNum
	bytesRead := sess.LastOffset
	var lastTS time.Time

	for scanner.Scan() {
		line := scanner.Bytes()
		bytesRead += int64(len(line)) + 1 // +1 for the stripped newline
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			continue
		}
		lineNum++

		rec, parseErr := journal.Parse(trimmed)
		if parseErr != nil {
			slog.Warn("ingest: malformed journal line", "session_id", sessionID, "line_num", lineNum, "err", parseErr)
		}
		ts := parseTimestamp(rec)
		if !ts.IsZero() {
			lastTS = ts
		}

		res := compute.Apply(memCtx, sessionID, lineNum, string(trimmed), rec, parseErr, lastTS)
		newItems = append(newItems, res.Item)
		for _, ln := range res.AmendedTails {
			amended[ln] = lineNum
		}
		if res.ToolResultLink != nil {
			toolLinks = append(toolLinks, *res.ToolResultLink)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ingest: scan %s: %w", path, err)
	}

	if len(newItems) == 0 {
		sess.MTime = info.ModTime()
		if err := ig.store.UpdateSessionAggregates(ctx, sess); err != nil {
			return nil, err
		}
		return nil, nil
	}

	cands := memCtx.TaskCandidates()[candsBefore:]
	if len(cands) > 0 {
		ig.store.RecordTaskCandidates(sessionID, cands)
	}

	if err := ig.store.AppendItems(ctx, newItems, amended, toolLinks, nil); err != nil {
		return nil, fmt.Errorf("ingest: append items: %w", err) // last_offset untouched; next event re-processes
	}

	sess.LastOffset = bytesRead
	sess.LastLineNum = lineNum
	sess.MTime = info.ModTime()
	sess.MessageCount += countMessages(newItems)
	if last := lastNonNilContextUsage(newItems); last != nil {
		sess.ContextUsage = *last
	}
	sess.TotalCost += sumCost(newItems)
	if dir, branch := lastGitInfo(newItems); dir != nil {
		sess.GitDirectory = dir
		sess.GitBranch = branch
	}
	if err := ig.store.UpdateSessionAggregates(ctx, sess); err != nil {
		return nil, fmt.Errorf("ingest: update aggregates: %w", err)
	}

	amendedLines := make([]int64, 0, len(amended))
	for ln := range amended {
		amendedLines = append(amendedLines, ln)
	}
	return &Delta{SessionID: sessionID, ProjectID: projectID, NewItems: newItems, AmendedLineNums: amendedLines}, nil
}

func parseTimestamp(rec journal.Record) time.Time {
	var raw string
	switch {
	case rec.Assistant != nil:
		raw = rec.Assistant.Timestamp
	case rec.User != nil:
		raw = rec.User.Timestamp
	}
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func countMessages(items []model.SessionItem) int64 {
	var n int64
	for _, it := range items {
		if it.Kind == model.KindUserMessage || it.Kind == model.KindAssistantMessage {
			n++
		}
	}
	return n
}

func lastNonNilContextUsage(items []model.SessionItem) *int64 {
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].ContextUsage != nil {
			return items[i].ContextUsage
		}
	}
	return nil
}

func sumCost(items []model.SessionItem) model.Micros {
	var total model.Micros
	for _, it := range items {
		if it.Cost != nil {
			total += *it.Cost
		}
	}
	return total
}

func lastGitInfo(items []model.SessionItem) (*string, *string) {
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].GitDirectory != nil {
			return items[i].GitDirectory, items[i].GitBranch
		}
	}
	return nil, nil
}
