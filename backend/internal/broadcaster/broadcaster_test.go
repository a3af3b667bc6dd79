package broadcaster

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/agentdesk/agentdesk/backend/internal/agent"
	"github.com/agentdesk/agentdesk/backend/internal/model"
)

type fakeProcessManager struct {
	sendCalls chan string
	killCalls chan string
}

func (f *fakeProcessManager) Send(ctx context.Context, sessionID, projectID, cwd, text string, images []agent.ImageData, documents []agent.DocumentData) error {
	f.sendCalls <- sessionID
	return nil
}

func (f *fakeProcessManager) Kill(sessionID string, reason model.KillReason) {
	f.killCalls <- sessionID
}

func (f *fakeProcessManager) ResolvePendingRequest(sessionID, requestID string, resp agent.Response) {
}

func (f *fakeProcessManager) GetSnapshot() []*model.ProcessRecord {
	return nil
}

func newTestServer(t *testing.T, h *Hub) (*httptest.Server, *websocket.Conn) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		h.ServeConn(r.Context(), conn)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + srv.URL[len("http"):]
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return srv, conn
}

// TestOnConnectSnapshot verifies a newly connected client receives the
// active_processes snapshot (spec §4.G).
func TestOnConnectSnapshot(t *testing.T) {
	pm := &fakeProcessManager{sendCalls: make(chan string, 1), killCalls: make(chan string, 1)}
	h := New(pm, nil)
	_, conn := newTestServer(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var msg map[string]any
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if msg["type"] != "active_processes" {
		t.Fatalf("expected active_processes, got %v", msg["type"])
	}
}

// TestSendMessageRoutesToProcessManager verifies an inbound send_message
// control message is routed to the Process Manager (spec §4.G).
func TestSendMessageRoutesToProcessManager(t *testing.T) {
	pm := &fakeProcessManager{sendCalls: make(chan string, 1), killCalls: make(chan string, 1)}
	h := New(pm, nil)
	_, conn := newTestServer(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// drain the snapshot
	var snap map[string]any
	_ = wsjson.Read(ctx, conn, &snap)

	err := wsjson.Write(ctx, conn, map[string]any{
		"type":       "send_message",
		"session_id": "sess-1",
		"project_id": "proj-1",
		"text":       "hello",
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case sid := <-pm.sendCalls:
		if sid != "sess-1" {
			t.Fatalf("expected sess-1, got %s", sid)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Process Manager Send was never called")
	}
}

// TestUnknownMessageTypeRepliesError verifies a protocol error (unknown
// inbound type) replies with an error message on the same connection
// without disconnecting (spec §7).
func TestUnknownMessageTypeRepliesError(t *testing.T) {
	pm := &fakeProcessManager{sendCalls: make(chan string, 1), killCalls: make(chan string, 1)}
	h := New(pm, nil)
	_, conn := newTestServer(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var snap map[string]any
	_ = wsjson.Read(ctx, conn, &snap)

	if err := wsjson.Write(ctx, conn, map[string]any{"type": "bogus"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var reply map[string]any
	if err := wsjson.Read(ctx, conn, &reply); err != nil {
		t.Fatalf("read error reply: %v", err)
	}
	if reply["type"] != "error" {
		t.Fatalf("expected error reply, got %v", reply["type"])
	}

	// connection must still be usable: a follow-up valid message succeeds.
	if err := wsjson.Write(ctx, conn, map[string]any{
		"type":       "kill_process",
		"session_id": "sess-2",
	}); err != nil {
		t.Fatalf("write after protocol error: %v", err)
	}
	select {
	case sid := <-pm.killCalls:
		if sid != "sess-2" {
			t.Fatalf("expected sess-2, got %s", sid)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("connection was disconnected after protocol error")
	}
}

// TestSlowClientDoesNotBlockBroadcast verifies a client whose send buffer
// fills is dropped-from, not blocking, a broadcast to other clients
// (spec §5).
func TestSlowClientDoesNotBlockBroadcast(t *testing.T) {
	pm := &fakeProcessManager{sendCalls: make(chan string, 1), killCalls: make(chan string, 1)}
	h := New(pm, nil)

	slow := &Client{send: make(chan []byte)} // unbuffered: every send would block
	h.mu.Lock()
	h.clients[slow] = true
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.broadcast(map[string]any{"type": "session_added"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("broadcast blocked on a slow client")
	}
}
