package process

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/delacroix-m/sandrun/internal/config"
	"github.com/delacroix-m/sandrun/internal/session"
	"github.com/delacroix-m/sandrun/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	cfg.DataDir = t.TempDir()
	cfg.Defaults.InitialCwd = os.TempDir()
	cfg.Defaults.CommandTimeoutMs = 5000
	cfg.Defaults.PollIntervalMs = 10

	mgr, err := session.NewManager(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(mgr.DestroyAll)

	return NewRegistry(mgr, 200*time.Millisecond, testLogger())
}

func waitForTerminal(t *testing.T, reg *Registry, id string) Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap, ok := reg.Get(id)
		if !ok {
			t.Fatalf("record %s disappeared", id)
		}
		if snap.Status.Terminal() {
			return snap
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("process %s never reached a terminal status", id)
	return Snapshot{}
}

func TestStartProcessCompletes(t *testing.T) {
	reg := newTestRegistry(t)
	snap, err := reg.StartProcess(context.Background(), StartRequest{Command: "echo hi"})
	if err != nil {
		t.Fatalf("StartProcess: %v", err)
	}

	final := waitForTerminal(t, reg, snap.ID)
	if final.Status != StatusCompleted {
		t.Fatalf("status = %s", final.Status)
	}
	if final.ExitCode == nil || *final.ExitCode != 0 {
		t.Fatalf("exit code = %v", final.ExitCode)
	}

	stdout, _, err := reg.Logs(snap.ID)
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if stdout != "hi\n" {
		t.Fatalf("stdout = %q", stdout)
	}
}

func TestStartProcessNonZeroExitIsFailed(t *testing.T) {
	reg := newTestRegistry(t)
	snap, err := reg.StartProcess(context.Background(), StartRequest{Command: "exit 7"})
	if err != nil {
		t.Fatalf("StartProcess: %v", err)
	}
	final := waitForTerminal(t, reg, snap.ID)
	if final.Status != StatusFailed {
		t.Fatalf("status = %s", final.Status)
	}
	if final.ExitCode == nil || *final.ExitCode != 7 {
		t.Fatalf("exit code = %v", final.ExitCode)
	}
}

func TestKillTransitionsToKilled(t *testing.T) {
	reg := newTestRegistry(t)
	snap, err := reg.StartProcess(context.Background(), StartRequest{Command: "sleep 30"})
	if err != nil {
		t.Fatalf("StartProcess: %v", err)
	}

	if err := reg.Kill(snap.ID); err != nil {
		t.Fatalf("Kill: %v", err)
	}

	final := waitForTerminal(t, reg, snap.ID)
	if final.Status != StatusKilled {
		t.Fatalf("status = %s", final.Status)
	}
}

func TestKillAllCountsOnlyLiveProcesses(t *testing.T) {
	reg := newTestRegistry(t)
	if _, err := reg.StartProcess(context.Background(), StartRequest{Command: "sleep 30"}); err != nil {
		t.Fatalf("StartProcess: %v", err)
	}
	if _, err := reg.StartProcess(context.Background(), StartRequest{Command: "sleep 30"}); err != nil {
		t.Fatalf("StartProcess: %v", err)
	}
	done, err := reg.StartProcess(context.Background(), StartRequest{Command: "true"})
	if err != nil {
		t.Fatalf("StartProcess: %v", err)
	}
	waitForTerminal(t, reg, done.ID)

	killed := reg.KillAll()
	if killed != 2 {
		t.Fatalf("killed = %d, want 2", killed)
	}
}

func TestListFiltersBySession(t *testing.T) {
	reg := newTestRegistry(t)
	a, err := reg.StartProcess(context.Background(), StartRequest{Command: "true", SessionID: "alpha"})
	if err != nil {
		t.Fatalf("StartProcess: %v", err)
	}
	if _, err := reg.StartProcess(context.Background(), StartRequest{Command: "true", SessionID: "beta"}); err != nil {
		t.Fatalf("StartProcess: %v", err)
	}

	waitForTerminal(t, reg, a.ID)

	filtered := reg.List("alpha")
	if len(filtered) != 1 || filtered[0].SessionID != "alpha" {
		t.Fatalf("filtered = %+v", filtered)
	}
	if len(reg.List("")) != 2 {
		t.Fatalf("expected unfiltered list to contain both")
	}
}

func TestStreamLogsCancelEndsCleanly(t *testing.T) {
	reg := newTestRegistry(t)
	snap, err := reg.StartProcess(context.Background(), StartRequest{Command: "sleep 2"})
	if err != nil {
		t.Fatalf("StartProcess: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	var gotError bool
	err = reg.StreamLogs(ctx, snap.ID, func(e protocol.LogEvent) {
		if e.Type == protocol.LogEventError {
			gotError = true
		}
	})
	if err != nil {
		t.Fatalf("StreamLogs: %v", err)
	}
	if gotError {
		t.Fatalf("expected no error event on cancellation")
	}

	_ = reg.Kill(snap.ID)
}

func TestStreamLogsOnTerminalProcessReplaysAndExits(t *testing.T) {
	reg := newTestRegistry(t)
	snap, err := reg.StartProcess(context.Background(), StartRequest{Command: "echo done"})
	if err != nil {
		t.Fatalf("StartProcess: %v", err)
	}
	waitForTerminal(t, reg, snap.ID)

	var events []protocol.LogEvent
	err = reg.StreamLogs(context.Background(), snap.ID, func(e protocol.LogEvent) {
		events = append(events, e)
	})
	if err != nil {
		t.Fatalf("StreamLogs: %v", err)
	}
	if len(events) == 0 || events[len(events)-1].Type != protocol.LogEventExit {
		t.Fatalf("events = %+v", events)
	}
}

func TestCleanupCompletedRespectsRetention(t *testing.T) {
	reg := newTestRegistry(t)
	snap, err := reg.StartProcess(context.Background(), StartRequest{Command: "true"})
	if err != nil {
		t.Fatalf("StartProcess: %v", err)
	}
	waitForTerminal(t, reg, snap.ID)

	if removed := reg.CleanupCompleted(); removed != 0 {
		t.Fatalf("removed too early: %d", removed)
	}

	time.Sleep(250 * time.Millisecond)
	if removed := reg.CleanupCompleted(); removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, ok := reg.Get(snap.ID); ok {
		t.Fatalf("expected record to be gone")
	}
}

func TestStartProcessRejectsDuplicateID(t *testing.T) {
	reg := newTestRegistry(t)
	snap, err := reg.StartProcess(context.Background(), StartRequest{Command: "true", ProcessID: "dup"})
	if err != nil {
		t.Fatalf("StartProcess: %v", err)
	}
	waitForTerminal(t, reg, snap.ID)

	_, err = reg.StartProcess(context.Background(), StartRequest{Command: "true", ProcessID: "dup"})
	if err != ErrAlreadyExists {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}
}
