package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentdesk/agentdesk/backend/internal/compute"
	"github.com/agentdesk/agentdesk/backend/internal/model"
)

// fakeStore is an in-memory stand-in for internal/store, enough of it to
// drive Sync without a real database.
type fakeStore struct {
	sessions map[string]*model.Session
	appended int // AppendItems call count
	cands    map[string][]compute.TaskCandidate
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: map[string]*model.Session{}, cands: map[string][]compute.TaskCandidate{}}
}

func (f *fakeStore) GetOrCreateSession(ctx context.Context, projectID, sessionID string) (*model.Session, error) {
	if sess, ok := f.sessions[sessionID]; ok {
		return sess, nil
	}
	sess := &model.Session{ID: sessionID, ProjectID: projectID, Type: model.SessionTypeMain}
	f.sessions[sessionID] = sess
	return sess, nil
}

func (f *fakeStore) AppendItems(ctx context.Context, items []model.SessionItem, amendedTails map[int64]int64, toolLinks []model.ToolResultLink, agentLinks []model.AgentLink) error {
	f.appended++
	return nil
}

func (f *fakeStore) UpdateSessionAggregates(ctx context.Context, sess *model.Session) error {
	f.sessions[sess.ID] = sess
	return nil
}

func (f *fakeStore) LookupPrice(modelID string, at time.Time) (model.ModelPrice, bool) {
	return model.ModelPrice{ModelID: modelID}, true
}

func (f *fakeStore) RecordTaskCandidates(parentSessionID string, cands []compute.TaskCandidate) {
	f.cands[parentSessionID] = append(f.cands[parentSessionID], cands...)
}

func writeJournal(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

const userLine = `{"type":"user","message":{"role":"user","content":"hello"},"timestamp":"2026-07-31T10:00:00Z"}` + "\n"

// TestSyncAppendsNewLines verifies P1: a fresh journal file is ingested
// from offset zero and every line becomes one new item.
func TestSyncAppendsNewLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "proj-1", "sess-1.jsonl")
	writeJournal(t, path, userLine+userLine)

	store := newFakeStore()
	ig := New(store)

	delta, err := ig.Sync(context.Background(), "proj-1", "sess-1", path)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if delta == nil || len(delta.NewItems) != 2 {
		t.Fatalf("expected 2 new items, got %+v", delta)
	}
	if store.appended != 1 {
		t.Fatalf("expected one AppendItems call, got %d", store.appended)
	}

	sess := store.sessions["sess-1"]
	if sess.LastLineNum != 2 {
		t.Fatalf("expected last_line_num=2, got %d", sess.LastLineNum)
	}
}

// TestSyncIsMonotone verifies P1: re-syncing an unchanged file does
// nothing, and syncing after an append only processes the new tail.
func TestSyncIsMonotone(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "proj-1", "sess-1.jsonl")
	writeJournal(t, path, userLine)

	store := newFakeStore()
	ig := New(store)

	if _, err := ig.Sync(context.Background(), "proj-1", "sess-1", path); err != nil {
		t.Fatalf("first Sync: %v", err)
	}
	firstOffset := store.sessions["sess-1"].LastOffset

	delta, err := ig.Sync(context.Background(), "proj-1", "sess-1", path)
	if err != nil {
		t.Fatalf("second Sync (no change): %v", err)
	}
	if delta != nil {
		t.Fatalf("expected nil delta on unchanged mtime, got %+v", delta)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(userLine); err != nil {
		t.Fatal(err)
	}
	_ = f.Close()

	delta, err = ig.Sync(context.Background(), "proj-1", "sess-1", path)
	if err != nil {
		t.Fatalf("third Sync (appended): %v", err)
	}
	if delta == nil || len(delta.NewItems) != 1 {
		t.Fatalf("expected exactly 1 new item from the appended tail, got %+v", delta)
	}
	if store.sessions["sess-1"].LastOffset <= firstOffset {
		t.Fatalf("expected last_offset to advance past %d, got %d", firstOffset, store.sessions["sess-1"].LastOffset)
	}
}

// TestSyncRecordsTaskCandidates verifies that Sync forwards any Task
// tool_use candidates Compute observes in this batch to the store's
// global FIFO queue (§4.E.5), which is where subagent/parent attribution
// actually happens (see internal/store/agentlinks_test.go).
func TestSyncRecordsTaskCandidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "proj-1", "sess-1.jsonl")
	taskLine := `{"type":"assistant","message":{"id":"msg-1","model":"claude-x","usage":{"input_tokens":10,"output_tokens":5},"content":[{"type":"tool_use","id":"tu-1","name":"Task","input":{"prompt":"do it"}}]},"timestamp":"2026-07-31T10:00:00Z"}` + "\n"
	writeJournal(t, path, taskLine)

	store := newFakeStore()
	ig := New(store)

	if _, err := ig.Sync(context.Background(), "proj-1", "sess-1", path); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(store.cands["sess-1"]) != 1 {
		t.Fatalf("expected one recorded Task candidate, got %d", len(store.cands["sess-1"]))
	}
	if store.cands["sess-1"][0].ToolUseID != "tu-1" {
		t.Fatalf("expected candidate tool_use_id=tu-1, got %q", store.cands["sess-1"][0].ToolUseID)
	}
}
