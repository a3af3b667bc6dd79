// Package process implements the Process Manager (spec §4.B): a
// session-id -> Agent Process map, send/kill/resolve routing, idle/
// thinking timeouts, and graceful shutdown.
//
// Grounded on backend/internal/task/runner.go's Runner (map + mutex +
// timeout loop shape), stripped of its branch/container bookkeeping since
// this spec has no remote-container concept.
package process

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/agentdesk/agentdesk/backend/internal/agent"
	"github.com/agentdesk/agentdesk/backend/internal/model"
)

const (
	timeoutLoopPeriod  = 60 * time.Second
	userTurnIdleLimit  = 15 * time.Minute
	assistantThinkLimit = 60 * time.Minute
)

// SessionExists reports whether a session row already exists in the
// store, to choose between resume=session-id and new-session-id=session-id
// (spec §4.B send()).
type SessionExists func(ctx context.Context, sessionID string) bool

// OnStateChange is invoked on every ProcessRecord transition, for the
// Broadcaster to forward as a process_state delta (spec §4.B, §6).
type OnStateChange func(rec *model.ProcessRecord)

// Manager holds the live session-id -> Agent Process map.
type Manager struct {
	cmdFactory    agent.CommandFactory
	sessionExists SessionExists
	onStateChange OnStateChange

	mu       sync.Mutex
	agents   map[string]*agent.Agent

	stopTimeoutLoop context.CancelFunc
}

// New creates a Manager. cmdFactory spawns the coding-assistant CLI
// subprocess (agent.DefaultCommandFactory in production, a fake in
// tests).
func New(cmdFactory agent.CommandFactory, sessionExists SessionExists, onStateChange OnStateChange) *Manager {
	return &Manager{
		cmdFactory:    cmdFactory,
		sessionExists: sessionExists,
		onStateChange: onStateChange,
		agents:        map[string]*agent.Agent{},
	}
}

// Run starts the 60s timeout loop until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(timeoutLoopPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkTimeouts()
		}
	}
}

// Send implements spec §4.B send(): creates a fresh Agent Process if none
// exists or the existing one is dead, otherwise routes to the live one.
func (m *Manager) Send(ctx context.Context, sessionID, projectID, cwd, text string, images []agent.ImageData, documents []agent.DocumentData) error {
	m.mu.Lock()
	a, ok := m.agents[sessionID]
	isDead := ok && a.Snapshot().State == model.ProcessDead
	if !ok || isDead {
		opts := agent.Options{WorkingDir: cwd, PermissionMode: "default"}
		if m.sessionExists != nil && m.sessionExists(ctx, sessionID) {
			opts.Resume = sessionID
		} else {
			opts.NewSessionID = sessionID
		}
		a = agent.New(sessionID, projectID, m.cmdFactory, agent.StateChangeFunc(m.onStateChange))
		m.agents[sessionID] = a
		m.mu.Unlock()
		a.Start(ctx, text, opts)
		return nil
	}
	m.mu.Unlock()
	return a.Send(text, images, documents)
}

// Kill forwards to the Agent (spec §4.B kill()).
func (m *Manager) Kill(sessionID string, reason model.KillReason) {
	m.mu.Lock()
	a, ok := m.agents[sessionID]
	m.mu.Unlock()
	if !ok {
		return
	}
	a.Kill(reason)
}

// ResolvePendingRequest routes to the Agent (spec §4.B
// resolve_pending_request()).
func (m *Manager) ResolvePendingRequest(sessionID, requestID string, resp agent.Response) {
	m.mu.Lock()
	a, ok := m.agents[sessionID]
	m.mu.Unlock()
	if !ok {
		return
	}
	a.ResolvePendingRequest(requestID, resp)
}

// GetSnapshot lists all live ProcessRecords, for the Broadcaster's
// on-connect snapshot (spec §4.B get_snapshot()).
func (m *Manager) GetSnapshot() []*model.ProcessRecord {
	m.mu.Lock()
	agents := make([]*agent.Agent, 0, len(m.agents))
	for _, a := range m.agents {
		agents = append(agents, a)
	}
	m.mu.Unlock()

	out := make([]*model.ProcessRecord, 0, len(agents))
	for _, a := range agents {
		out = append(out, a.Snapshot())
	}
	return out
}

// Shutdown signals all Agents, waits bounded time, then returns (spec
// §4.B shutdown(), §5).
func (m *Manager) Shutdown(wait time.Duration) {
	m.mu.Lock()
	agents := make([]*agent.Agent, 0, len(m.agents))
	for _, a := range m.agents {
		agents = append(agents, a)
	}
	m.mu.Unlock()

	for _, a := range agents {
		a.Kill(model.KillShutdown)
	}
	time.Sleep(wait)
}

// checkTimeouts implements the 60s periodic timeout policy (spec §4.B):
// user-turn idle > 15 min -> idle_timeout; assistant-turn > 60 min and no
// pending request -> thinking_timeout (P7: pending-request exemption).
func (m *Manager) checkTimeouts() {
	now := time.Now()
	m.mu.Lock()
	agents := make([]*agent.Agent, 0, len(m.agents))
	ids := make([]string, 0, len(m.agents))
	for id, a := range m.agents {
		agents = append(agents, a)
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for i, a := range agents {
		snap := a.Snapshot()
		switch {
		case snap.State == model.ProcessUserTurn && now.Sub(snap.LastActivity) > userTurnIdleLimit:
			slog.Info("process idle timeout", "session_id", ids[i])
			a.Kill(model.KillIdleTimeout)
		case snap.State == model.ProcessAssistantTurn && snap.PendingRequest == nil && now.Sub(snap.StateChangedAt) > assistantThinkLimit:
			slog.Info("process thinking timeout", "session_id", ids[i])
			a.Kill(model.KillThinkingTimeout)
		}
	}
}

// ProcessState reports the current ProcessState of a session's Agent, or
// nil if none exists, for the rename handler's safe-to-write check (spec
// §4.I).
func (m *Manager) ProcessState(sessionID string) *model.ProcessState {
	m.mu.Lock()
	a, ok := m.agents[sessionID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	s := a.Snapshot().State
	return &s
}

// CleanupDead removes a dead record from the map, identity-checked
// against the current entry to avoid racing cleanup with a replacement
// already started for the same session id (spec §4.B concurrency note).
func (m *Manager) CleanupDead(sessionID string, a *agent.Agent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.agents[sessionID]; ok && current == a {
		delete(m.agents, sessionID)
	}
}
