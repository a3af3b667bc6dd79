package broadcaster

import (
	"time"

	"github.com/agentdesk/agentdesk/backend/internal/model"
)

// inboundEnvelope is the superset of fields across all inbound message
// types (spec §6 WebSocket protocol); unused fields are simply absent in
// a given message.
type inboundEnvelope struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	ProjectID string          `json:"project_id"`
	Text      string          `json:"text"`
	Images    []wireImage     `json:"images"`
	Documents []wireDocument  `json:"documents"`
	RequestID string          `json:"request_id"`

	RequestType  string            `json:"request_type"`
	Decision     string            `json:"decision"`
	UpdatedInput map[string]any    `json:"updated_input"`
	Message      string            `json:"message"`
	Answers      map[string]string `json:"answers"`
}

type wireImage struct {
	MediaType string `json:"media_type"`
	Base64    string `json:"data"`
}

type wireDocument struct {
	MediaType string `json:"media_type"`
	Base64    string `json:"data"`
	Text      string `json:"text"`
}

type outboundError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type outboundActiveProcesses struct {
	Type      string             `json:"type"`
	Processes []processStateWire `json:"processes"`
}

type processStateWire struct {
	Type           string              `json:"type"`
	SessionID      string              `json:"session_id"`
	ProjectID      string              `json:"project_id"`
	State          model.ProcessState  `json:"state"`
	StartedAt      time.Time           `json:"started_at"`
	StateChangedAt time.Time           `json:"state_changed_at"`
	Error          *string             `json:"error,omitempty"`
	KillReason     *model.KillReason   `json:"kill_reason,omitempty"`
	PendingRequest *pendingRequestWire `json:"pending_request,omitempty"`
}

type pendingRequestWire struct {
	RequestID   string                `json:"request_id"`
	RequestType model.PendingRequestType `json:"request_type"`
	ToolName    string                `json:"tool_name"`
	ToolInput   map[string]any        `json:"tool_input"`
	CreatedAt   time.Time             `json:"created_at"`
}

func toProcessStateWire(p *model.ProcessRecord) processStateWire {
	w := processStateWire{
		Type:           "process_state",
		SessionID:      p.SessionID,
		ProjectID:      p.ProjectID,
		State:          p.State,
		StartedAt:      p.StartedAt,
		StateChangedAt: p.StateChangedAt,
		Error:          p.Error,
		KillReason:     p.KillReason,
	}
	if p.PendingRequest != nil {
		pr := p.PendingRequest
		w.PendingRequest = &pendingRequestWire{
			RequestID:   pr.RequestID,
			RequestType: pr.Type,
			ToolName:    pr.ToolName,
			ToolInput:   pr.ToolInput,
			CreatedAt:   pr.CreatedAt,
		}
	}
	return w
}

type sessionItemWire struct {
	LineNum      int64              `json:"line_num"`
	Content      string             `json:"content"`
	DisplayLevel model.DisplayLevel `json:"display_level"`
	Kind         model.Kind         `json:"kind"`
	GroupHead    *int64             `json:"group_head,omitempty"`
	GroupTail    *int64             `json:"group_tail,omitempty"`
	MessageID    *string            `json:"message_id,omitempty"`
	Cost         *model.Micros      `json:"cost_micros,omitempty"`
	ContextUsage *int64             `json:"context_usage,omitempty"`
}

func toSessionItemWire(it model.SessionItem) sessionItemWire {
	return sessionItemWire{
		LineNum:      it.LineNum,
		Content:      it.RawContent,
		DisplayLevel: it.DisplayLevel,
		Kind:         it.Kind,
		GroupHead:    it.GroupHead,
		GroupTail:    it.GroupTail,
		MessageID:    it.MessageID,
		Cost:         it.Cost,
		ContextUsage: it.ContextUsage,
	}
}

type outboundItemsAdded struct {
	Type            string            `json:"type"`
	SessionID       string            `json:"session_id"`
	ProjectID       string            `json:"project_id"`
	Items           []sessionItemWire `json:"items"`
	UpdatedLineNums []int64           `json:"updated_line_nums,omitempty"`
}

type outboundSessionEvent struct {
	Type    string       `json:"type"`
	Session sessionWire  `json:"session"`
}

type sessionWire struct {
	ID             string       `json:"id"`
	ProjectID      string       `json:"project_id"`
	Title          string       `json:"title"`
	Archived       bool         `json:"archived"`
	Pinned         bool         `json:"pinned"`
	Type           model.SessionType `json:"type"`
	MTime          time.Time    `json:"mtime"`
	MessageCount   int64        `json:"message_count"`
	TotalCost      model.Micros `json:"total_cost_micros"`
	ContextUsage   int64        `json:"context_usage"`
	GitDirectory   *string      `json:"git_directory,omitempty"`
	GitBranch      *string      `json:"git_branch,omitempty"`
}

func toSessionWire(s *model.Session) sessionWire {
	return sessionWire{
		ID:           s.ID,
		ProjectID:    s.ProjectID,
		Title:        s.Title,
		Archived:     s.Archived,
		Pinned:       s.Pinned,
		Type:         s.Type,
		MTime:        s.MTime,
		MessageCount: s.MessageCount,
		TotalCost:    s.TotalCost,
		ContextUsage: s.ContextUsage,
		GitDirectory: s.GitDirectory,
		GitBranch:    s.GitBranch,
	}
}

// OnProcessStateChange is registered as the Process Manager's
// OnStateChange callback: forwards every ProcessRecord transition as a
// process_state delta (spec §4.B, §6).
func (h *Hub) OnProcessStateChange(rec *model.ProcessRecord) {
	h.broadcast(toProcessStateWire(rec))
}

// BroadcastItemsAdded forwards an Ingester delta as a session_items_added
// message, carrying both newly-added items and the line numbers of
// previously-added lines whose group metadata (e.g. a tool_use's tail)
// changed (spec §6, S2). Amendments are forwarded by line number, not by
// full item body: the client already holds the line and only needs the
// signal to re-fetch/re-render it.
func (h *Hub) BroadcastItemsAdded(sessionID, projectID string, items []model.SessionItem, amendedLineNums []int64) {
	msg := outboundItemsAdded{
		Type:            "session_items_added",
		SessionID:       sessionID,
		ProjectID:       projectID,
		UpdatedLineNums: amendedLineNums,
	}
	for _, it := range items {
		msg.Items = append(msg.Items, toSessionItemWire(it))
	}
	h.broadcast(msg)
}

// BroadcastSessionAdded forwards a new Session row (spec §6).
func (h *Hub) BroadcastSessionAdded(s *model.Session) {
	h.broadcast(outboundSessionEvent{Type: "session_added", Session: toSessionWire(s)})
}

// BroadcastSessionUpdated forwards a changed Session row, e.g. after a
// rename or aggregate update (spec §6).
func (h *Hub) BroadcastSessionUpdated(s *model.Session) {
	h.broadcast(outboundSessionEvent{Type: "session_updated", Session: toSessionWire(s)})
}

// BroadcastSessionRemoved forwards an explicit-delete/archive event
// (spec §6).
func (h *Hub) BroadcastSessionRemoved(s *model.Session) {
	h.broadcast(outboundSessionEvent{Type: "session_removed", Session: toSessionWire(s)})
}
