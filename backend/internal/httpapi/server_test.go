package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/agentdesk/agentdesk/backend/internal/model"
)

type fakeStore struct {
	sessions    map[string]*model.Session
	items       map[string][]model.SessionItem
	renamedTo   string
	renamedWith string
}

func (f *fakeStore) ListProjects(ctx context.Context) ([]model.Project, error) {
	return []model.Project{{ID: "proj-1", Dir: "/tmp/proj-1"}}, nil
}

func (f *fakeStore) ListSessions(ctx context.Context, projectID string) ([]*model.Session, error) {
	var out []*model.Session
	for _, s := range f.sessions {
		if s.ProjectID == projectID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, httpNotFoundErr{}
	}
	return s, nil
}

type httpNotFoundErr struct{}

func (httpNotFoundErr) Error() string { return "not found" }

func (f *fakeStore) LoadSessionItemsFrom(ctx context.Context, sessionID string, afterLine int64) ([]model.SessionItem, error) {
	return f.items[sessionID], nil
}

func (f *fakeStore) UpdateSessionTitle(ctx context.Context, sessionID, title string) error {
	f.renamedTo = sessionID
	f.renamedWith = title
	if s, ok := f.sessions[sessionID]; ok {
		s.Title = title
	}
	return nil
}

type fakeBridge struct {
	calledWith *model.ProcessState
	sessionID  string
	title      string
}

func (b *fakeBridge) StageRename(ctx context.Context, projectID, sessionID, title string, state *model.ProcessState) {
	b.calledWith = state
	b.sessionID = sessionID
	b.title = title
}

func TestListSessions(t *testing.T) {
	store := &fakeStore{sessions: map[string]*model.Session{
		"sess-1": {ID: "sess-1", ProjectID: "proj-1", Title: "hi"},
	}}
	s := NewServer(store, &fakeBridge{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/projects/proj-1/sessions", http.NoBody)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "sess-1") {
		t.Fatalf("expected session in response, got %s", w.Body.String())
	}
}

func TestRenameSessionStagesThroughBridge(t *testing.T) {
	store := &fakeStore{sessions: map[string]*model.Session{
		"sess-1": {ID: "sess-1", ProjectID: "proj-1", Title: "old"},
	}}
	br := &fakeBridge{}
	s := NewServer(store, br, nil)

	req := httptest.NewRequest(http.MethodPatch, "/api/projects/proj-1/sessions/sess-1/", strings.NewReader(`{"title":"New Title"}`))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
	if store.renamedWith != "New Title" {
		t.Fatalf("expected store title update, got %q", store.renamedWith)
	}
	if br.sessionID != "sess-1" || br.title != "New Title" {
		t.Fatalf("expected bridge staged for sess-1/New Title, got %s/%s", br.sessionID, br.title)
	}
}

func TestRenameSessionRejectsEmptyTitle(t *testing.T) {
	store := &fakeStore{sessions: map[string]*model.Session{
		"sess-1": {ID: "sess-1", ProjectID: "proj-1"},
	}}
	s := NewServer(store, &fakeBridge{}, nil)

	req := httptest.NewRequest(http.MethodPatch, "/api/projects/proj-1/sessions/sess-1/", strings.NewReader(`{"title":""}`))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestListItemsPagination(t *testing.T) {
	store := &fakeStore{
		sessions: map[string]*model.Session{"sess-1": {ID: "sess-1", ProjectID: "proj-1"}},
		items: map[string][]model.SessionItem{
			"sess-1": {{SessionID: "sess-1", LineNum: 1, RawContent: "{}"}},
		},
	}
	s := NewServer(store, &fakeBridge{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/projects/proj-1/sessions/sess-1/items?after=0", http.NoBody)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"line_num":1`) {
		t.Fatalf("expected item in response, got %s", w.Body.String())
	}
}
