// Package agent wraps one subprocess of the coding-assistant CLI (spec
// §4.A): spawn, stream I/O, the starting/assistant-turn/user-turn/dead
// state machine, pending-request rendez-vous, and kill.
//
// Grounded on backend/internal/agent/backend.go's Backend/Session
// abstraction and backend/internal/task/runner.go's start/kill lifecycle,
// generalized from the teacher's container+SSH-relay model to direct
// local subprocess spawning (no container/SSH layer — spec has no remote
// concept). The pending-request rendez-vous is grounded on
// other_examples/.../claude-session.go's CreatePermissionCallback /
// pendingSDKPermissions map-of-channels pattern.
package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentdesk/agentdesk/backend/internal/model"
)

// Options configure a subprocess launch (spec §4.A start()).
type Options struct {
	WorkingDir    string
	Resume        string // resume=session-id, if a session row already exists
	NewSessionID  string // new-session-id=session-id, otherwise
	PermissionMode string // always "default" per spec
}

// StateChangeFunc is called on every ProcessRecord transition. Per spec
// §4.B it must not re-acquire the Process Manager's lock.
type StateChangeFunc func(rec *model.ProcessRecord)

// CommandFactory builds the *exec.Cmd for one subprocess launch, letting
// tests substitute a trivial real subprocess (e.g. "cat") for the CLI
// binary, in the style of task/runner_test.go's testBackend.
type CommandFactory func(ctx context.Context, opts Options) *exec.Cmd

// Agent wraps one subprocess for the lifetime of one conversation.
type Agent struct {
	sessionID string
	projectID string
	cmdFactory CommandFactory
	onState   StateChangeFunc

	mu      sync.Mutex
	record  model.ProcessRecord
	pending *pendingRendezvous

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	cancel context.CancelFunc
	done   chan struct{}
}

// pendingRendezvous is the one-shot producer/consumer hand-off for a
// blocked can-use-tool callback (spec §9 "coroutine rendez-vous").
type pendingRendezvous struct {
	req      model.PendingRequest
	response chan Response
	once     sync.Once
}

// Response is what resolve_pending_request delivers back to the blocked
// callback.
type Response struct {
	Decision string // "allow" | "deny", for tool_approval
	UpdatedInput map[string]any
	Message      string
	Answers      map[string]string // for ask_user_question
}

func (p *pendingRendezvous) resolve(r Response) {
	p.once.Do(func() { p.response <- r; close(p.response) })
}

// New creates an Agent for sessionID/projectID. The process is not started
// until Start is called.
func New(sessionID, projectID string, cmdFactory CommandFactory, onState StateChangeFunc) *Agent {
	return &Agent{
		sessionID:  sessionID,
		projectID:  projectID,
		cmdFactory: cmdFactory,
		onState:    onState,
		record: model.ProcessRecord{
			SessionID: sessionID,
			ProjectID: projectID,
			State:     model.ProcessStarting,
		},
	}
}

// Snapshot returns a copy of the current ProcessRecord.
func (a *Agent) Snapshot() *model.ProcessRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.record.Clone()
}

// Start spawns the subprocess, moves the state to assistant-turn once it
// is running, and feeds the initial prompt. Launch failures transition to
// dead and are never raised to the caller (spec §4.A: "never raises").
func (a *Agent) Start(ctx context.Context, prompt string, opts Options) {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})

	now := time.Now()
	a.setState(model.ProcessStarting, now, nil, nil)

	cmd := a.cmdFactory(runCtx, opts)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		a.fail(fmt.Errorf("stdin pipe: %w", err))
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		a.fail(fmt.Errorf("stdout pipe: %w", err))
		return
	}
	if err := cmd.Start(); err != nil {
		a.fail(fmt.Errorf("start: %w", err))
		return
	}
	a.cmd = cmd
	a.stdin = stdin
	a.setState(model.ProcessAssistantTurn, time.Now(), nil, nil)

	go a.messageLoop(stdout)

	if err := a.writePrompt(prompt, nil, nil); err != nil {
		a.fail(fmt.Errorf("write initial prompt: %w", err))
		return
	}
}

// Send implements spec §4.A send(): builds an input message with a text
// block plus optional image/document blocks and transitions
// user-turn -> assistant-turn.
func (a *Agent) Send(text string, images []ImageData, documents []DocumentData) error {
	a.mu.Lock()
	state := a.record.State
	a.mu.Unlock()
	if state == model.ProcessDead {
		return fmt.Errorf("agent: session %s is dead", a.sessionID)
	}
	if err := a.writePrompt(text, images, documents); err != nil {
		return err
	}
	a.setState(model.ProcessAssistantTurn, time.Now(), nil, nil)
	return nil
}

// Kill signals subprocess shutdown, cancels any outstanding pending
// request, and transitions to dead (spec §4.A kill()).
func (a *Agent) Kill(reason model.KillReason) {
	a.mu.Lock()
	if a.record.State == model.ProcessDead {
		a.mu.Unlock()
		return
	}
	pending := a.pending
	a.pending = nil
	stdin := a.stdin
	cmd := a.cmd
	a.mu.Unlock()

	if pending != nil {
		pending.resolve(Response{Decision: "deny", Message: "session killed"})
	}

	if stdin != nil {
		_ = stdin.Close() // graceful: ask the CLI to exit on stdin EOF
	}

	cancel := a.cancel
	go func() {
		select {
		case <-a.done:
		case <-time.After(10 * time.Second):
			if cmd != nil && cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
		}
		if cancel != nil {
			cancel()
		}
	}()

	r := reason
	a.setState(model.ProcessDead, time.Now(), nil, &r)
}

// ResolvePendingRequest implements spec §4.A resolve_pending_request():
// idempotent, no-op if none or already resolved.
func (a *Agent) ResolvePendingRequest(requestID string, resp Response) {
	a.mu.Lock()
	pending := a.pending
	if pending == nil || pending.req.RequestID != requestID {
		a.mu.Unlock()
		return
	}
	a.pending = nil
	a.record.PendingRequest = nil
	rec := a.record
	a.mu.Unlock()

	pending.resolve(resp)
	a.notify(rec.Clone())
}

// CreatePendingRequest is called by the wire-format message loop when the
// subprocess invokes a can-use-tool callback. It blocks until resolved or
// the process dies, at which point the rendez-vous is cancelled (spec
// §4.A, §9).
func (a *Agent) CreatePendingRequest(typ model.PendingRequestType, toolName string, toolInput map[string]any) Response {
	pr := &pendingRendezvous{
		req: model.PendingRequest{
			RequestID: uuid.NewString(),
			Type:      typ,
			ToolName:  toolName,
			ToolInput: toolInput,
			CreatedAt: time.Now(),
		},
		response: make(chan Response, 1),
	}

	a.mu.Lock()
	a.pending = pr
	a.record.PendingRequest = &pr.req
	rec := a.record
	done := a.done
	a.mu.Unlock()
	a.notify(rec.Clone())

	select {
	case resp := <-pr.response:
		return resp
	case <-done:
		return Response{Decision: "deny", Message: "session killed"}
	}
}

// messageLoop consumes the subprocess output stream (spec §4.A message
// loop): init sets assistant-turn; result transitions
// assistant-turn->user-turn; everything else is ignored (the journal file
// is the authoritative copy).
func (a *Agent) messageLoop(stdout io.ReadCloser) {
	defer close(a.done)
	defer func() { _ = stdout.Close() }()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 10*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		var env struct {
			Type    string `json:"type"`
			Subtype string `json:"subtype"`
		}
		if err := json.Unmarshal(line, &env); err != nil {
			continue // the journal file carries the authoritative copy
		}
		switch {
		case env.Type == "system" && env.Subtype == "init":
			a.setState(model.ProcessAssistantTurn, time.Now(), nil, nil)
		case env.Type == "result":
			a.setState(model.ProcessUserTurn, time.Now(), nil, nil)
		}
	}

	if err := scanner.Err(); err != nil {
		slog.Error("agent message loop error", "session_id", a.sessionID, "err", err)
		a.fail(err)
		return
	}

	a.mu.Lock()
	alreadyDead := a.record.State == model.ProcessDead
	a.mu.Unlock()
	if !alreadyDead {
		a.fail(fmt.Errorf("agent: subprocess exited unexpectedly"))
	}
}

func (a *Agent) fail(err error) {
	msg := err.Error()
	reason := model.KillError
	a.setState(model.ProcessDead, time.Now(), &msg, &reason)
}

func (a *Agent) setState(state model.ProcessState, when time.Time, errMsg *string, killReason *model.KillReason) {
	a.mu.Lock()
	a.record.State = state
	a.record.StateChangedAt = when
	a.record.LastActivity = when
	if state == model.ProcessStarting {
		a.record.StartedAt = when
	}
	if errMsg != nil {
		a.record.Error = errMsg
	}
	if killReason != nil {
		a.record.KillReason = killReason
	}
	rec := a.record
	a.mu.Unlock()
	a.notify(rec.Clone())
}

func (a *Agent) notify(rec *model.ProcessRecord) {
	if a.onState != nil {
		a.onState(rec)
	}
}
