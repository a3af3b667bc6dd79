// Package model defines the persisted and in-memory entities shared by the
// ingestion, compute, store, and broadcaster layers.
package model

import "time"

// Micros represents a fixed-point decimal amount in millionths of a US
// dollar (6 fractional digits), avoiding floating-point drift when summing
// many micro-dollar costs. A nil *Micros means "no cost computed".
type Micros int64

// MicrosFromFloat converts a floating point dollar amount (as decoded from
// a JSON price catalog) into Micros, rounding to the nearest micro-dollar.
func MicrosFromFloat(f float64) Micros {
	return Micros(f*1_000_000 + sign(f)*0.5)
}

func sign(f float64) float64 {
	if f < 0 {
		return -1
	}
	return 1
}

// Float64 returns the dollar value as a float64, for display only.
func (m Micros) Float64() float64 {
	return float64(m) / 1_000_000
}

// SessionType distinguishes a top-level conversation from a Task-spawned
// subagent conversation.
type SessionType string

const (
	SessionTypeMain     SessionType = "main"
	SessionTypeSubagent SessionType = "subagent"
)

// Project is a working-directory root that owns one or more Sessions.
type Project struct {
	ID  string
	Dir string
}

// Session is one conversation, backed by one append-only journal file.
type Session struct {
	ID       string
	ProjectID string
	Title    string
	Archived bool
	Pinned   bool

	ParentSessionID *string
	Type            SessionType

	MTime time.Time

	LastOffset  int64
	LastLineNum int64

	MessageCount  int64
	TotalCost     Micros
	ContextUsage  int64
	ComputeVersion int

	JSONLGitBranch string

	GitDirectory *string
	GitBranch    *string
}

// IsSubagent reports whether this session was spawned by a Task tool_use.
func (s *Session) IsSubagent() bool {
	return s.ParentSessionID != nil && s.Type == SessionTypeSubagent
}

// DisplayLevel controls default UI visibility/grouping of a SessionItem.
type DisplayLevel string

const (
	DisplayDebugOnly   DisplayLevel = "debug-only"
	DisplayCollapsible DisplayLevel = "collapsible"
	DisplayAlways      DisplayLevel = "always"
)

// Kind enumerates the finite set of journal event shapes recognized by the
// Compute Engine. Unrecognized shapes map to KindUnknown (§9 open question:
// debug-only, non-grouping).
type Kind string

const (
	KindUserMessage      Kind = "user-message"
	KindAssistantMessage Kind = "assistant-message"
	KindToolUse          Kind = "tool-use"
	KindToolResult       Kind = "tool-result"
	KindSystemInit       Kind = "system-init"
	KindSystemOther      Kind = "system-other"
	KindCustomTitle      Kind = "custom-title"
	KindStreamEvent      Kind = "stream-event"
	KindUnknown          Kind = "unknown"
)

// SessionItem is one line of a journal file plus its derived metadata.
type SessionItem struct {
	SessionID string
	LineNum   int64

	RawContent string

	DisplayLevel DisplayLevel
	Kind         Kind

	GroupHead *int64
	GroupTail *int64

	MessageID *string

	Cost         *Micros
	ContextUsage *int64

	GitDirectory *string
	GitBranch    *string
}

// ToolResultLink uniquely associates a tool_use line with the tool_result
// line that resolves it, by tool_use_id.
type ToolResultLink struct {
	SessionID      string
	ToolUseLineNum int64
	ToolResultLineNum int64
	ToolUseID      string
}

// AgentLink identifies which subagent session was spawned from which Task
// tool_use.
type AgentLink struct {
	SessionID      string
	ToolUseLineNum int64
	ToolUseID      string
	AgentID        string
}

// ModelPrice holds per-million-token prices effective from a given date,
// looked up by "most recent effective_date <= target".
type ModelPrice struct {
	ModelID       string
	EffectiveDate time.Time

	InputPerM        Micros
	OutputPerM       Micros
	CacheReadPerM    Micros
	CacheWrite5mPerM Micros
	CacheWrite1hPerM Micros
}

// ProcessState is the Agent Process lifecycle state machine's states.
type ProcessState string

const (
	ProcessStarting      ProcessState = "starting"
	ProcessAssistantTurn ProcessState = "assistant-turn"
	ProcessUserTurn      ProcessState = "user-turn"
	ProcessDead          ProcessState = "dead"
)

// KillReason explains why a process reached ProcessDead.
type KillReason string

const (
	KillManual          KillReason = "manual"
	KillIdleTimeout     KillReason = "idle_timeout"
	KillThinkingTimeout KillReason = "thinking_timeout"
	KillError           KillReason = "error"
	KillShutdown        KillReason = "shutdown"
)

// PendingRequestType distinguishes the two callback reasons a subprocess
// can block on.
type PendingRequestType string

const (
	PendingToolApproval     PendingRequestType = "tool_approval"
	PendingAskUserQuestion  PendingRequestType = "ask_user_question"
)

// PendingRequest is a paused subprocess callback awaiting a user decision.
// In-memory only; owned by the Agent Process that created it.
type PendingRequest struct {
	RequestID string
	Type      PendingRequestType
	ToolName  string
	ToolInput map[string]any
	CreatedAt time.Time
}

// ProcessRecord is the in-memory, non-persisted lifecycle record for one
// Agent Process, as observed by the Process Manager and broadcast to
// clients.
type ProcessRecord struct {
	SessionID string
	ProjectID string

	State ProcessState

	StartedAt     time.Time
	StateChangedAt time.Time
	LastActivity  time.Time

	Error      *string
	KillReason *KillReason

	PendingRequest *PendingRequest
}

// Clone returns a shallow copy safe to hand to callers outside the
// Process Manager's lock.
func (p *ProcessRecord) Clone() *ProcessRecord {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}
