package process

import (
	"context"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/agentdesk/agentdesk/backend/internal/agent"
	"github.com/agentdesk/agentdesk/backend/internal/model"
)

func catFactory(ctx context.Context, opts agent.Options) *exec.Cmd {
	return exec.CommandContext(ctx, "cat")
}

func alwaysNew(ctx context.Context, sessionID string) bool { return false }

// TestManagerSendCreatesAndRoutes exercises send() creating a fresh Agent
// Process on first call, then routing to the same live process on a second
// call (spec §4.B send()).
func TestManagerSendCreatesAndRoutes(t *testing.T) {
	var mu sync.Mutex
	var notified int

	m := New(catFactory, alwaysNew, func(rec *model.ProcessRecord) {
		mu.Lock()
		notified++
		mu.Unlock()
	})

	ctx := context.Background()
	if err := m.Send(ctx, "sess-1", "proj-1", t.TempDir(), "hello", nil, nil); err != nil {
		t.Fatalf("first Send: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		snap := m.GetSnapshot()
		if len(snap) == 1 && snap[0].State != model.ProcessStarting {
			break
		}
		select {
		case <-deadline:
			t.Fatal("process never left starting state")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if err := m.Send(ctx, "sess-1", "proj-1", t.TempDir(), "again", nil, nil); err != nil {
		t.Fatalf("second Send: %v", err)
	}

	m.Kill("sess-1", model.KillManual)

	mu.Lock()
	if notified == 0 {
		t.Fatal("expected at least one state-change notification")
	}
	mu.Unlock()
}

// TestTimeoutSparesFreshSession verifies checkTimeouts does not kill a
// freshly started session (no false-positive idle or thinking timeout).
func TestTimeoutSparesFreshSession(t *testing.T) {
	m := New(catFactory, alwaysNew, nil)
	a := agent.New("sess-idle", "proj-1", catFactory, nil)
	a.Start(context.Background(), "hello", agent.Options{WorkingDir: t.TempDir()})

	deadline := time.After(2 * time.Second)
	for {
		if a.Snapshot().State != model.ProcessStarting {
			break
		}
		select {
		case <-deadline:
			t.Fatal("agent never left starting")
		case <-time.After(10 * time.Millisecond):
		}
	}

	m.mu.Lock()
	m.agents["sess-idle"] = a
	m.mu.Unlock()

	// Force the clock backwards on the agent record by waiting isn't
	// practical in a unit test; instead verify checkTimeouts is a no-op
	// for a freshly-activated session (guards against false positives).
	m.checkTimeouts()
	if a.Snapshot().State == model.ProcessDead {
		t.Fatal("fresh session should not be timed out immediately")
	}

	a.Kill(model.KillManual)
}

// TestTimeoutExemptsPendingRequest verifies that checkTimeouts leaves a
// session with an outstanding pending_request alive (P7). The state is
// fresh here, so the thinking limit itself is not exceeded in this test.
func TestTimeoutExemptsPendingRequest(t *testing.T) {
	m := New(catFactory, alwaysNew, nil)
	a := agent.New("sess-pending", "proj-1", catFactory, nil)
	a.Start(context.Background(), "hello", agent.Options{WorkingDir: t.TempDir()})

	deadline := time.After(2 * time.Second)
	for {
		if a.Snapshot().State != model.ProcessStarting {
			break
		}
		select {
		case <-deadline:
			t.Fatal("agent never left starting")
		case <-time.After(10 * time.Millisecond):
		}
	}

	respCh := make(chan agent.Response, 1)
	go func() {
		respCh <- a.CreatePendingRequest(model.PendingToolApproval, "Bash", map[string]any{"command": "ls"})
	}()
	time.Sleep(20 * time.Millisecond)

	m.mu.Lock()
	m.agents["sess-pending"] = a
	m.mu.Unlock()

	m.checkTimeouts()
	if a.Snapshot().State == model.ProcessDead {
		t.Fatal("session with a pending request must not be thinking-timed-out")
	}

	a.Kill(model.KillManual)
	<-respCh
}

// TestCrashIsolation verifies P8: killing one Agent Process with kill
// reason error (standing in for a crash) does not affect another live
// process tracked by the same Manager.
func TestCrashIsolation(t *testing.T) {
	m := New(catFactory, alwaysNew, nil)
	ctx := context.Background()

	if err := m.Send(ctx, "sess-a", "proj-1", t.TempDir(), "hello", nil, nil); err != nil {
		t.Fatalf("Send a: %v", err)
	}
	if err := m.Send(ctx, "sess-b", "proj-1", t.TempDir(), "hello", nil, nil); err != nil {
		t.Fatalf("Send b: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		snap := m.GetSnapshot()
		allUp := len(snap) == 2
		for _, s := range snap {
			if s.State == model.ProcessStarting {
				allUp = false
			}
		}
		if allUp {
			break
		}
		select {
		case <-deadline:
			t.Fatal("processes never left starting state")
		case <-time.After(10 * time.Millisecond):
		}
	}

	m.Kill("sess-a", model.KillError)

	deadline = time.After(2 * time.Second)
	for {
		m.mu.Lock()
		aState := m.agents["sess-a"].Snapshot().State
		bState := m.agents["sess-b"].Snapshot().State
		m.mu.Unlock()
		if aState == model.ProcessDead {
			if bState == model.ProcessDead {
				t.Fatal("killing sess-a must not kill sess-b")
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("sess-a never reached dead state")
		case <-time.After(10 * time.Millisecond):
		}
	}

	m.Kill("sess-b", model.KillManual)
}
