// Exported request and response types for the agentdesk HTTP API (spec
// §4.J, §6 "HTTP surface (summary)").
package dto

import "time"

// ProjectJSON is the JSON representation of a Project row.
type ProjectJSON struct {
	ID  string `json:"id"`
	Dir string `json:"dir"`
}

// SessionJSON is the JSON representation of a Session row.
type SessionJSON struct {
	ID              string     `json:"id"`
	ProjectID       string     `json:"project_id"`
	Title           string     `json:"title"`
	Archived        bool       `json:"archived"`
	Pinned          bool       `json:"pinned"`
	ParentSessionID *string    `json:"parent_session_id,omitempty"`
	Type            string     `json:"type"`
	MTime           time.Time  `json:"mtime"`
	MessageCount    int64      `json:"message_count"`
	TotalCostMicros int64      `json:"total_cost_micros"`
	ContextUsage    int64      `json:"context_usage"`
	ComputeVersion  int        `json:"compute_version"`
	GitDirectory    *string    `json:"git_directory,omitempty"`
	GitBranch       *string    `json:"git_branch,omitempty"`
}

// SessionItemJSON is the JSON representation of one SessionItem row.
type SessionItemJSON struct {
	LineNum      int64   `json:"line_num"`
	Content      string  `json:"content"`
	DisplayLevel string  `json:"display_level"`
	Kind         string  `json:"kind"`
	GroupHead    *int64  `json:"group_head,omitempty"`
	GroupTail    *int64  `json:"group_tail,omitempty"`
	MessageID    *string `json:"message_id,omitempty"`
	CostMicros   *int64  `json:"cost_micros,omitempty"`
	ContextUsage *int64  `json:"context_usage,omitempty"`
	GitDirectory *string `json:"git_directory,omitempty"`
	GitBranch    *string `json:"git_branch,omitempty"`
}

// RenameSessionReq is the PATCH /projects/{p}/sessions/{s}/ request body
// (spec §6: "PATCH ... accepts {title}").
type RenameSessionReq struct {
	ProjectID string `path:"project_id" json:"-"`
	SessionID string `path:"session_id" json:"-"`
	Title     string `json:"title"`
}

// Validate rejects an empty title.
func (r *RenameSessionReq) Validate() error {
	if r.Title == "" {
		return BadRequest("title is required")
	}
	return nil
}

// GetSessionReq identifies a session for a read endpoint via path params.
type GetSessionReq struct {
	ProjectID string `path:"project_id" json:"-"`
	SessionID string `path:"session_id" json:"-"`
}

// Validate is a no-op; path params are always present by routing.
func (GetSessionReq) Validate() error { return nil }

// ListSessionsReq identifies a project for a list endpoint via path params.
type ListSessionsReq struct {
	ProjectID string `path:"project_id" json:"-"`
}

// Validate is a no-op; path params are always present by routing.
func (ListSessionsReq) Validate() error { return nil }

// ListItemsReq identifies a session for an items-list endpoint, with an
// optional pagination cursor.
type ListItemsReq struct {
	ProjectID string `path:"project_id" json:"-"`
	SessionID string `path:"session_id" json:"-"`
	After     int64  `path:"-" json:"-"`
}

// Validate is a no-op; After defaults to zero (from the beginning).
func (ListItemsReq) Validate() error { return nil }

// ProjectListResp wraps a list of projects.
type ProjectListResp struct {
	Projects []ProjectJSON `json:"projects"`
}

// SessionListResp wraps a list of sessions.
type SessionListResp struct {
	Sessions []SessionJSON `json:"sessions"`
}

// SessionItemListResp wraps a list of session items.
type SessionItemListResp struct {
	Items []SessionItemJSON `json:"items"`
}
