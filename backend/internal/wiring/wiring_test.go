package wiring

import (
	"context"
	"errors"
	"testing"

	"github.com/agentdesk/agentdesk/backend/internal/model"
)

type fakeStore struct {
	sessions map[string]*model.Session
	projects map[string]model.Project
}

func (f *fakeStore) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	if sess, ok := f.sessions[sessionID]; ok {
		return sess, nil
	}
	return nil, errors.New("not found")
}

func (f *fakeStore) GetProject(ctx context.Context, projectID string) (model.Project, error) {
	if p, ok := f.projects[projectID]; ok {
		return p, nil
	}
	return model.Project{}, errors.New("not found")
}

func TestSessionExists(t *testing.T) {
	store := &fakeStore{sessions: map[string]*model.Session{"sess-1": {ID: "sess-1"}}}
	l := New(store, "/journals")

	if !l.SessionExists(context.Background(), "sess-1") {
		t.Fatal("expected sess-1 to exist")
	}
	if l.SessionExists(context.Background(), "sess-missing") {
		t.Fatal("expected sess-missing to not exist")
	}
}

func TestGetWorkingDir(t *testing.T) {
	store := &fakeStore{projects: map[string]model.Project{"proj-1": {ID: "proj-1", Dir: "/work/proj-1"}}}
	l := New(store, "/journals")

	dir, err := l.GetWorkingDir(context.Background(), "proj-1", "sess-1")
	if err != nil {
		t.Fatalf("GetWorkingDir: %v", err)
	}
	if dir != "/work/proj-1" {
		t.Fatalf("expected /work/proj-1, got %q", dir)
	}

	if _, err := l.GetWorkingDir(context.Background(), "proj-missing", "sess-1"); err == nil {
		t.Fatal("expected error for unknown project")
	}
}

func TestJournalPath(t *testing.T) {
	l := New(&fakeStore{}, "/journals")

	path, err := l.JournalPath(context.Background(), "proj-1", "sess-1")
	if err != nil {
		t.Fatalf("JournalPath: %v", err)
	}
	if path != "/journals/proj-1/sess-1.jsonl" {
		t.Fatalf("expected /journals/proj-1/sess-1.jsonl, got %q", path)
	}
}
