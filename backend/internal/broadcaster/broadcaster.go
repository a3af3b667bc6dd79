// Package broadcaster implements the WebSocket Delta Broadcaster (spec
// §4.G): a connection hub that fans journal and process-lifecycle deltas
// out to every connected client and routes inbound control messages to
// the Process Manager.
//
// Grounded on other_examples/.../claude-session.go's Client{Conn, Send
// chan []byte} hub: a per-client buffered send channel and a
// non-blocking-drop-on-full broadcast, so one slow client never blocks
// the others (spec §5).
package broadcaster

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/agentdesk/agentdesk/backend/internal/agent"
	"github.com/agentdesk/agentdesk/backend/internal/model"
)

// sendBufferSize bounds each client's outbound queue; once full, further
// sends are dropped rather than blocking the broadcaster (spec §5).
const sendBufferSize = 64

// ProcessManager is the subset of process.Manager the Broadcaster drives.
type ProcessManager interface {
	Send(ctx context.Context, sessionID, projectID, cwd, text string, images []agent.ImageData, documents []agent.DocumentData) error
	Kill(sessionID string, reason model.KillReason)
	ResolvePendingRequest(sessionID, requestID string, resp agent.Response)
	GetSnapshot() []*model.ProcessRecord
}

// SessionLookup resolves a session's working directory for send_message.
type SessionLookup interface {
	GetWorkingDir(ctx context.Context, projectID, sessionID string) (string, error)
}

// Client is one connected WebSocket view.
type Client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans deltas out to all connected Clients and routes inbound control
// messages to the Process Manager.
type Hub struct {
	pm      ProcessManager
	lookup  SessionLookup

	mu      sync.RWMutex
	clients map[*Client]bool
}

// New creates a Hub bound to the given Process Manager and session
// lookup.
func New(pm ProcessManager, lookup SessionLookup) *Hub {
	return &Hub{
		pm:      pm,
		lookup:  lookup,
		clients: map[*Client]bool{},
	}
}

// ServeConn upgrades conn (already accepted by the caller's HTTP handler)
// into a hub member, sends the on-connect snapshot, and runs the inbound
// read loop until the connection closes.
func (h *Hub) ServeConn(ctx context.Context, conn *websocket.Conn) {
	c := &Client{conn: conn, send: make(chan []byte, sendBufferSize)}

	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
	}()

	writerDone := make(chan struct{})
	go h.writePump(ctx, c, writerDone)

	h.sendSnapshot(c)

	h.readPump(ctx, c)
	<-writerDone
}

// sendSnapshot delivers the active_processes message a newly connected
// client needs to reconstruct live state (spec §4.G, §6).
func (h *Hub) sendSnapshot(c *Client) {
	procs := h.pm.GetSnapshot()
	env := outboundActiveProcesses{Type: "active_processes", Processes: make([]processStateWire, 0, len(procs))}
	for _, p := range procs {
		env.Processes = append(env.Processes, toProcessStateWire(p))
	}
	h.enqueue(c, env)
}

// writePump drains c.send to the socket; a write error or ctx
// cancellation tears down just this connection (spec §5: a failure drops
// only that connection).
func (h *Hub) writePump(ctx context.Context, c *Client, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			_ = c.conn.Close(websocket.StatusNormalClosure, "server shutdown")
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := c.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// readPump parses inbound control messages (spec §6) and routes them.
func (h *Hub) readPump(ctx context.Context, c *Client) {
	for {
		var env inboundEnvelope
		err := wsjson.Read(ctx, c.conn, &env)
		if err != nil {
			return
		}
		if err := h.handleInbound(ctx, c, env); err != nil {
			h.enqueue(c, outboundError{Type: "error", Message: err.Error()})
		}
	}
}

// handleInbound dispatches one parsed inbound message (spec §4.G):
// send_message, kill_process, pending_request_response. Unknown types are
// a protocol error (spec §7): reply on the same connection, do not
// disconnect.
func (h *Hub) handleInbound(ctx context.Context, c *Client, env inboundEnvelope) error {
	switch env.Type {
	case "send_message":
		cwd := ""
		if h.lookup != nil {
			dir, err := h.lookup.GetWorkingDir(ctx, env.ProjectID, env.SessionID)
			if err == nil {
				cwd = dir
			}
		}
		images := make([]agent.ImageData, 0, len(env.Images))
		for _, img := range env.Images {
			images = append(images, agent.ImageData{MediaType: img.MediaType, Base64: img.Base64})
		}
		docs := make([]agent.DocumentData, 0, len(env.Documents))
		for _, d := range env.Documents {
			docs = append(docs, agent.DocumentData{MediaType: d.MediaType, Base64: d.Base64, Text: d.Text})
		}
		return h.pm.Send(ctx, env.SessionID, env.ProjectID, cwd, env.Text, images, docs)

	case "kill_process":
		h.pm.Kill(env.SessionID, model.KillManual)
		return nil

	case "pending_request_response":
		resp := agent.Response{Decision: env.Decision, UpdatedInput: env.UpdatedInput, Answers: env.Answers}
		h.pm.ResolvePendingRequest(env.SessionID, env.RequestID, resp)
		return nil

	default:
		return errUnknownType(env.Type)
	}
}

type errUnknownType string

func (e errUnknownType) Error() string { return "unknown message type: " + string(e) }

// enqueue marshals and non-blockingly delivers v to c, dropping it if the
// client's buffer is full (spec §5: never block other clients).
func (h *Hub) enqueue(c *Client, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("broadcaster: marshal outbound message", "err", err)
		return
	}
	select {
	case c.send <- data:
	default:
		slog.Warn("broadcaster: client send buffer full, dropping message")
	}
}

// broadcast delivers v to every connected client, each independently
// non-blocking.
func (h *Hub) broadcast(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("broadcaster: marshal outbound message", "err", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slog.Warn("broadcaster: client send buffer full, dropping message")
		}
	}
}
