package store

import (
	"context"
	"testing"

	"github.com/agentdesk/agentdesk/backend/internal/compute"
	"github.com/agentdesk/agentdesk/backend/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.UpsertProject(context.Background(), model.Project{ID: "proj-1", Dir: "/tmp/proj-1"}); err != nil {
		t.Fatalf("UpsertProject: %v", err)
	}
	return s
}

// TestGetOrCreateSessionDefaultsToMain verifies that a brand-new session
// with no pending Task candidate is classified as main.
func TestGetOrCreateSessionDefaultsToMain(t *testing.T) {
	s := openTestStore(t)

	sess, err := s.GetOrCreateSession(context.Background(), "proj-1", "sess-1")
	if err != nil {
		t.Fatalf("GetOrCreateSession: %v", err)
	}
	if sess.Type != model.SessionTypeMain {
		t.Fatalf("expected type=main, got %q", sess.Type)
	}
	if sess.ParentSessionID != nil {
		t.Fatalf("expected no parent, got %v", *sess.ParentSessionID)
	}
}

// TestGetOrCreateSessionClaimsOldestCandidate verifies §4.E.5: a new
// session claims the oldest unresolved Task candidate across every parent
// session, in FIFO order, exactly once.
func TestGetOrCreateSessionClaimsOldestCandidate(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetOrCreateSession(context.Background(), "proj-1", "parent-a"); err != nil {
		t.Fatalf("create parent-a: %v", err)
	}
	if _, err := s.GetOrCreateSession(context.Background(), "proj-1", "parent-b"); err != nil {
		t.Fatalf("create parent-b: %v", err)
	}

	s.RecordTaskCandidates("parent-a", []compute.TaskCandidate{{AssistantLine: 1, ToolUseID: "tu-a1"}})
	s.RecordTaskCandidates("parent-b", []compute.TaskCandidate{{AssistantLine: 2, ToolUseID: "tu-b1"}})

	first, err := s.GetOrCreateSession(context.Background(), "proj-1", "child-1")
	if err != nil {
		t.Fatalf("create child-1: %v", err)
	}
	if first.Type != model.SessionTypeSubagent {
		t.Fatalf("expected child-1 classified as subagent, got %q", first.Type)
	}
	if first.ParentSessionID == nil || *first.ParentSessionID != "parent-a" {
		t.Fatalf("expected child-1's parent to be parent-a (oldest candidate), got %+v", first.ParentSessionID)
	}

	second, err := s.GetOrCreateSession(context.Background(), "proj-1", "child-2")
	if err != nil {
		t.Fatalf("create child-2: %v", err)
	}
	if second.ParentSessionID == nil || *second.ParentSessionID != "parent-b" {
		t.Fatalf("expected child-2's parent to be parent-b (next oldest), got %+v", second.ParentSessionID)
	}

	third, err := s.GetOrCreateSession(context.Background(), "proj-1", "child-3")
	if err != nil {
		t.Fatalf("create child-3: %v", err)
	}
	if third.Type != model.SessionTypeMain {
		t.Fatalf("expected child-3 to default to main once the candidate queue is drained, got %q", third.Type)
	}
}

// TestGetOrCreateSessionCacheHitSkipsClaim verifies the claim only ever
// happens on the insert path: re-fetching an already-existing session
// must not consume a pending candidate.
func TestGetOrCreateSessionCacheHitSkipsClaim(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetOrCreateSession(context.Background(), "proj-1", "sess-1"); err != nil {
		t.Fatalf("create sess-1: %v", err)
	}
	s.RecordTaskCandidates("sess-1", []compute.TaskCandidate{{AssistantLine: 1, ToolUseID: "tu-1"}})

	// Re-fetch: must hit the cache, not claim the candidate.
	again, err := s.GetOrCreateSession(context.Background(), "proj-1", "sess-1")
	if err != nil {
		t.Fatalf("re-fetch sess-1: %v", err)
	}
	if again.Type != model.SessionTypeMain {
		t.Fatalf("expected re-fetched session to remain main, got %q", again.Type)
	}

	// The candidate must still be available for the next brand-new session.
	child, err := s.GetOrCreateSession(context.Background(), "proj-1", "child-1")
	if err != nil {
		t.Fatalf("create child-1: %v", err)
	}
	if child.Type != model.SessionTypeSubagent || child.ParentSessionID == nil || *child.ParentSessionID != "sess-1" {
		t.Fatalf("expected child-1 to claim the still-pending candidate, got %+v", child)
	}
}
