package agent

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/agentdesk/agentdesk/backend/internal/model"
)

// catFactory stands in for the coding-assistant CLI with a trivial real
// subprocess, the same style task/runner_test.go's testBackend uses.
func catFactory(ctx context.Context, opts Options) *exec.Cmd {
	return exec.CommandContext(ctx, "cat")
}

func TestAgentStartSendKill(t *testing.T) {
	var states []model.ProcessState
	onState := func(rec *model.ProcessRecord) {
		states = append(states, rec.State)
	}

	a := New("sess-1", "proj-1", catFactory, onState)
	a.Start(context.Background(), "hello", Options{WorkingDir: t.TempDir()})

	deadline := time.After(2 * time.Second)
	for {
		snap := a.Snapshot()
		if snap.State != model.ProcessStarting {
			break
		}
		select {
		case <-deadline:
			t.Fatal("agent never left starting state")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if err := a.Send("more", nil, nil); err != nil {
		t.Fatalf("Send: %v", err)
	}

	a.Kill(model.KillManual)

	deadline = time.After(2 * time.Second)
	for {
		snap := a.Snapshot()
		if snap.State == model.ProcessDead {
			if snap.KillReason == nil || *snap.KillReason != model.KillManual {
				t.Fatalf("expected kill reason manual, got %v", snap.KillReason)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("agent never reached dead state")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if len(states) == 0 {
		t.Fatal("expected at least one state-change notification")
	}
}

func TestPendingRequestCancelledOnKill(t *testing.T) {
	a := New("sess-2", "proj-1", catFactory, nil)
	a.Start(context.Background(), "hello", Options{WorkingDir: t.TempDir()})

	respCh := make(chan Response, 1)
	go func() {
		respCh <- a.CreatePendingRequest(model.PendingToolApproval, "Bash", map[string]any{"command": "ls"})
	}()

	// give CreatePendingRequest time to register before killing
	time.Sleep(20 * time.Millisecond)
	a.Kill(model.KillManual)

	select {
	case resp := <-respCh:
		if resp.Decision != "deny" {
			t.Fatalf("expected deny on kill, got %q", resp.Decision)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending request rendez-vous was never cancelled")
	}
}
