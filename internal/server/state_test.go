package server

import (
	"errors"
	"testing"

	"github.com/ManageCommand/managecommand/internal/agent"
	"github.com/ManageCommand/managecommand/internal/catalog"
	"github.com/ManageCommand/managecommand/internal/testutil/testlog"
)

func TestSyncAndHeartbeat(t *testing.T) {
	testlog.Start(t)
	st := NewState()

	count := st.SyncAgent("edge-1", []catalog.Descriptor{
		{Name: "migrate"},
		{Name: "collectstatic"},
	}, "abc123")
	if count != 2 {
		t.Fatalf("synced count = %d, want 2", count)
	}

	inSync, pending := st.Heartbeat("edge-1", "abc123", "0.1.0", "go1.25", "host-a")
	if !inSync {
		t.Fatalf("heartbeat with matching hash reported out of sync")
	}
	if pending != 0 {
		t.Fatalf("pending = %d, want 0", pending)
	}

	inSync, _ = st.Heartbeat("edge-1", "zzz999", "0.1.0", "go1.25", "host-a")
	if inSync {
		t.Fatalf("heartbeat with stale hash reported in sync")
	}
}

func TestHeartbeatBeforeSync(t *testing.T) {
	testlog.Start(t)
	st := NewState()

	// An agent that never synced has no stored hash to compare against.
	inSync, _ := st.Heartbeat("edge-2", "abc123", "0.1.0", "go1.25", "host-b")
	if inSync {
		t.Fatalf("unsynced agent reported in sync")
	}
}

func TestEnqueueAssignsIDs(t *testing.T) {
	testlog.Start(t)
	st := NewState()

	first, err := st.Enqueue(agent.ExecutionRequest{Command: "migrate"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	second, err := st.Enqueue(agent.ExecutionRequest{Command: "collectstatic"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if first.ID == "" || second.ID == "" || first.ID == second.ID {
		t.Fatalf("expected distinct generated ids, got %q and %q", first.ID, second.ID)
	}

	if _, err := st.Enqueue(agent.ExecutionRequest{ID: first.ID, Command: "migrate"}); err == nil {
		t.Fatalf("duplicate id accepted")
	}
	if _, err := st.Enqueue(agent.ExecutionRequest{}); !errors.Is(err, ErrEmptyCommand) {
		t.Fatalf("empty command error = %v, want ErrEmptyCommand", err)
	}
}

func TestPendingReoffersUntilResult(t *testing.T) {
	testlog.Start(t)
	st := NewState()

	a, _ := st.Enqueue(agent.ExecutionRequest{Command: "migrate"})
	b, _ := st.Enqueue(agent.ExecutionRequest{Command: "showmigrations"})

	pending := st.Pending()
	if len(pending) != 2 || pending[0].ID != a.ID || pending[1].ID != b.ID {
		t.Fatalf("pending = %+v, want [%s %s] in order", pending, a.ID, b.ID)
	}

	// No result yet, so the same work is offered again.
	if got := len(st.Pending()); got != 2 {
		t.Fatalf("re-poll pending = %d, want 2", got)
	}

	first, err := st.AcceptResult(agent.ExecutionResult{ID: a.ID, Status: agent.StatusSucceeded})
	if err != nil || !first {
		t.Fatalf("accept result: first=%v err=%v", first, err)
	}
	pending = st.Pending()
	if len(pending) != 1 || pending[0].ID != b.ID {
		t.Fatalf("pending after result = %+v, want only %s", pending, b.ID)
	}
}

func TestAcceptResultIdempotent(t *testing.T) {
	testlog.Start(t)
	st := NewState()

	req, _ := st.Enqueue(agent.ExecutionRequest{Command: "migrate"})
	if _, err := st.AcceptResult(agent.ExecutionResult{ID: req.ID, Status: agent.StatusSucceeded, Output: "ok"}); err != nil {
		t.Fatalf("accept: %v", err)
	}

	first, err := st.AcceptResult(agent.ExecutionResult{ID: req.ID, Status: agent.StatusFailed, Output: "late duplicate"})
	if err != nil {
		t.Fatalf("duplicate accept: %v", err)
	}
	if first {
		t.Fatalf("duplicate result reported as first accept")
	}

	rec, ok := st.Execution(req.ID)
	if !ok {
		t.Fatalf("execution %s not found", req.ID)
	}
	if rec.Result == nil || rec.Result.Status != agent.StatusSucceeded || rec.Result.Output != "ok" {
		t.Fatalf("stored result = %+v, want the first accepted result", rec.Result)
	}

	if _, err := st.AcceptResult(agent.ExecutionResult{ID: "exec.404", Status: agent.StatusFailed}); !errors.Is(err, ErrUnknownExecution) {
		t.Fatalf("unknown execution error = %v, want ErrUnknownExecution", err)
	}
}
