package httpapi

import (
	"context"
	"net/http"

	"github.com/agentdesk/agentdesk/backend/internal/bridge"
	"github.com/agentdesk/agentdesk/backend/internal/httpapi/dto"
	"github.com/agentdesk/agentdesk/backend/internal/model"
)

// Store is the subset of store.Store the HTTP surface reads from and
// writes the rename title to (spec §4.J, §4.F "Writes happen from
// exactly two places: the Ingester... and the PATCH rename endpoint").
type Store interface {
	ListProjects(ctx context.Context) ([]model.Project, error)
	ListSessions(ctx context.Context, projectID string) ([]*model.Session, error)
	GetSession(ctx context.Context, sessionID string) (*model.Session, error)
	LoadSessionItemsFrom(ctx context.Context, sessionID string, afterLine int64) ([]model.SessionItem, error)
	UpdateSessionTitle(ctx context.Context, sessionID, title string) error
}

// ProcessStateLookup reports the current ProcessState of a session's
// Agent, if one exists, so the rename handler can pass it to the Bridge
// for the safe-to-write check (spec §4.I).
type ProcessStateLookup interface {
	ProcessState(sessionID string) *model.ProcessState
}

// Bridge is the subset of bridge.Bridge the rename handler drives.
type Bridge interface {
	StageRename(ctx context.Context, projectID, sessionID, title string, state *model.ProcessState)
}

var _ Bridge = (*bridge.Bridge)(nil)

// Server wires the Store and Bridge into an http.Handler implementing
// spec §4.J and §6's HTTP surface.
type Server struct {
	store   Store
	bridge  Bridge
	procs   ProcessStateLookup
	mux     *http.ServeMux
}

// NewServer builds the routed, compression-wrapped http.Handler.
func NewServer(store Store, br Bridge, procs ProcessStateLookup) *Server {
	s := &Server{store: store, bridge: br, procs: procs, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	compressMiddleware(s.mux).ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/projects", handle(s.listProjects))
	s.mux.HandleFunc("GET /api/projects/{project_id}/sessions", handle(s.listSessions))
	s.mux.HandleFunc("GET /api/projects/{project_id}/sessions/{session_id}", handle(s.getSession))
	s.mux.HandleFunc("GET /api/projects/{project_id}/sessions/{session_id}/items", s.listItems)
	s.mux.HandleFunc("PATCH /api/projects/{project_id}/sessions/{session_id}/", handle(s.renameSession))
}

func (s *Server) listProjects(ctx context.Context, _ *dto.EmptyReq) (*dto.ProjectListResp, error) {
	projects, err := s.store.ListProjects(ctx)
	if err != nil {
		return nil, dto.InternalError("list projects").Wrap(err)
	}
	out := &dto.ProjectListResp{}
	for _, p := range projects {
		out.Projects = append(out.Projects, dto.ProjectJSON{ID: p.ID, Dir: p.Dir})
	}
	return out, nil
}

func (s *Server) listSessions(ctx context.Context, in *dto.ListSessionsReq) (*dto.SessionListResp, error) {
	sessions, err := s.store.ListSessions(ctx, in.ProjectID)
	if err != nil {
		return nil, dto.InternalError("list sessions").Wrap(err)
	}
	out := &dto.SessionListResp{}
	for _, sess := range sessions {
		out.Sessions = append(out.Sessions, toSessionJSON(sess))
	}
	return out, nil
}

func (s *Server) getSession(ctx context.Context, in *dto.GetSessionReq) (*dto.SessionJSON, error) {
	sess, err := s.store.GetSession(ctx, in.SessionID)
	if err != nil {
		return nil, dto.NotFound("session").Wrap(err)
	}
	out := toSessionJSON(sess)
	return &out, nil
}

// listItems is hand-routed (not through handle[]) because its pagination
// cursor is a query parameter, not a path parameter (spec §6 items
// endpoint).
func (s *Server) listItems(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("project_id")
	sessionID := r.PathValue("session_id")
	after := parseAfter(r.URL.Query().Get("after"))

	items, err := s.store.LoadSessionItemsFrom(r.Context(), sessionID, after)
	if err != nil {
		writeError(w, dto.InternalError("load session items").Wrap(err))
		return
	}
	out := &dto.SessionItemListResp{}
	for _, it := range items {
		out.Items = append(out.Items, toSessionItemJSON(it))
	}
	_ = projectID // reserved for cross-project validation if the store requires it
	writeJSONResponse(w, out, nil)
}

func (s *Server) renameSession(ctx context.Context, in *dto.RenameSessionReq) (*dto.SessionJSON, error) {
	if err := s.store.UpdateSessionTitle(ctx, in.SessionID, in.Title); err != nil {
		return nil, dto.InternalError("update session title").Wrap(err)
	}
	sess, err := s.store.GetSession(ctx, in.SessionID)
	if err != nil {
		return nil, dto.NotFound("session").Wrap(err)
	}

	var state *model.ProcessState
	if s.procs != nil {
		state = s.procs.ProcessState(in.SessionID)
	}
	s.bridge.StageRename(ctx, in.ProjectID, in.SessionID, in.Title, state)

	out := toSessionJSON(sess)
	return &out, nil
}

func parseAfter(raw string) int64 {
	if raw == "" {
		return 0
	}
	var n int64
	for _, c := range raw {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int64(c-'0')
	}
	return n
}

func toSessionJSON(s *model.Session) dto.SessionJSON {
	return dto.SessionJSON{
		ID:              s.ID,
		ProjectID:       s.ProjectID,
		Title:           s.Title,
		Archived:        s.Archived,
		Pinned:          s.Pinned,
		ParentSessionID: s.ParentSessionID,
		Type:            string(s.Type),
		MTime:           s.MTime,
		MessageCount:    s.MessageCount,
		TotalCostMicros: int64(s.TotalCost),
		ContextUsage:    s.ContextUsage,
		ComputeVersion:  s.ComputeVersion,
		GitDirectory:    s.GitDirectory,
		GitBranch:       s.GitBranch,
	}
}

func toSessionItemJSON(it model.SessionItem) dto.SessionItemJSON {
	out := dto.SessionItemJSON{
		LineNum:      it.LineNum,
		Content:      it.RawContent,
		DisplayLevel: string(it.DisplayLevel),
		Kind:         string(it.Kind),
		GroupHead:    it.GroupHead,
		GroupTail:    it.GroupTail,
		MessageID:    it.MessageID,
		ContextUsage: it.ContextUsage,
		GitDirectory: it.GitDirectory,
		GitBranch:    it.GitBranch,
	}
	if it.Cost != nil {
		v := int64(*it.Cost)
		out.CostMicros = &v
	}
	return out
}
