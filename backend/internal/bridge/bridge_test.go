package bridge

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/agentdesk/agentdesk/backend/internal/model"
)

type fakePaths struct {
	dir string
}

func (f *fakePaths) JournalPath(ctx context.Context, projectID, sessionID string) (string, error) {
	return filepath.Join(f.dir, projectID, sessionID+".jsonl"), nil
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

// TestRenameSafeStateWritesImmediately verifies P6: with no process (or a
// process in user-turn/dead), a rename appends the custom-title line
// right away.
func TestRenameSafeStateWritesImmediately(t *testing.T) {
	dir := t.TempDir()
	b := New(&fakePaths{dir: dir}, nil)

	b.StageRename(context.Background(), "proj-1", "sess-1", "New Title", nil)

	path := filepath.Join(dir, "proj-1", "sess-1.jsonl")
	content := readFile(t, path)
	if !strings.Contains(content, `"customTitle":"New Title"`) {
		t.Fatalf("expected custom-title line written immediately, got %q", content)
	}
}

// TestRenameUnsafeStateStagesThenFlushes verifies P6/S5: renaming while
// the process is in assistant-turn stages the title; no line is written
// until the process transitions to user-turn.
func TestRenameUnsafeStateStagesThenFlushes(t *testing.T) {
	dir := t.TempDir()
	b := New(&fakePaths{dir: dir}, nil)
	path := filepath.Join(dir, "proj-1", "sess-1.jsonl")

	assistantTurn := model.ProcessAssistantTurn
	b.StageRename(context.Background(), "proj-1", "sess-1", "Staged Title", &assistantTurn)

	if content := readFile(t, path); strings.Contains(content, "custom-title") {
		t.Fatalf("expected no journal write while unsafe, got %q", content)
	}

	b.OnProcessStateChange(&model.ProcessRecord{SessionID: "sess-1", State: model.ProcessUserTurn})

	content := readFile(t, path)
	if !strings.Contains(content, `"customTitle":"Staged Title"`) {
		t.Fatalf("expected flushed custom-title line after user-turn transition, got %q", content)
	}
}

// TestRenameUnsafeStageFlushesOnDead verifies a staged title also flushes
// when the process reaches dead, not only user-turn (spec §4.I).
func TestRenameUnsafeStageFlushesOnDead(t *testing.T) {
	dir := t.TempDir()
	b := New(&fakePaths{dir: dir}, nil)
	path := filepath.Join(dir, "proj-1", "sess-1.jsonl")

	starting := model.ProcessStarting
	b.StageRename(context.Background(), "proj-1", "sess-1", "Dead Path Title", &starting)

	b.OnProcessStateChange(&model.ProcessRecord{SessionID: "sess-1", State: model.ProcessDead})

	content := readFile(t, path)
	if !strings.Contains(content, `"customTitle":"Dead Path Title"`) {
		t.Fatalf("expected flush on transition to dead, got %q", content)
	}
}

// TestIrrelevantStateChangeDoesNotFlush verifies a transition to starting
// or assistant-turn leaves a staged title untouched.
func TestIrrelevantStateChangeDoesNotFlush(t *testing.T) {
	dir := t.TempDir()
	b := New(&fakePaths{dir: dir}, nil)
	path := filepath.Join(dir, "proj-1", "sess-1.jsonl")

	assistantTurn := model.ProcessAssistantTurn
	b.StageRename(context.Background(), "proj-1", "sess-1", "Still Staged", &assistantTurn)
	b.OnProcessStateChange(&model.ProcessRecord{SessionID: "sess-1", State: model.ProcessAssistantTurn})

	if content := readFile(t, path); strings.Contains(content, "custom-title") {
		t.Fatalf("expected no flush on assistant-turn->assistant-turn transition, got %q", content)
	}

	b.mu.Lock()
	_, stillPending := b.pending["sess-1"]
	b.mu.Unlock()
	if !stillPending {
		t.Fatal("expected title to remain staged")
	}
}
