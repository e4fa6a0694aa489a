package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/inkfold/renderd/internal/log"
)

const testMarker = "engine ready"

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

// writeEngineScript materializes a fake engine as an executable bash script.
func writeEngineScript(t *testing.T, script string) Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.sh")
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("write engine script: %v", err)
	}
	return Config{Command: path, ReadyMarker: testMarker}
}

func spawnTest(t *testing.T, script string) *Process {
	t.Helper()
	cfg := writeEngineScript(t, script)
	p, err := Spawn(cfg, log.WithSlot(0))
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	t.Cleanup(p.Terminate)
	return p
}

func TestProcess_Readiness(t *testing.T) {
	p := spawnTest(t, `#!/bin/bash
echo "engine ready" >&2
exec sleep 30
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.AwaitReady(ctx); err != nil {
		t.Fatalf("AwaitReady: %v", err)
	}
	if got := p.State(); got != StateReady {
		t.Errorf("state = %s, want %s", got, StateReady)
	}
}

func TestProcess_ExitBeforeReadiness(t *testing.T) {
	p := spawnTest(t, `#!/bin/bash
echo "boom: missing fonts" >&2
exit 1
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := p.AwaitReady(ctx)
	if err == nil {
		t.Fatal("expected readiness failure for exiting process")
	}
	if got := p.State(); got != StateDead {
		t.Errorf("state = %s, want %s", got, StateDead)
	}
}

func TestProcess_TerminateWithinGrace(t *testing.T) {
	// Ignoring SIGTERM forces the SIGKILL path.
	p := spawnTest(t, `#!/bin/bash
trap '' TERM
echo "engine ready" >&2
while true; do sleep 1; done
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.AwaitReady(ctx); err != nil {
		t.Fatalf("AwaitReady: %v", err)
	}

	start := time.Now()
	p.Terminate()
	elapsed := time.Since(start)

	if elapsed > terminationGracePeriod+2*time.Second {
		t.Errorf("termination took %v, want within grace period", elapsed)
	}
	select {
	case <-p.Done():
	default:
		t.Error("Done() not closed after Terminate")
	}
	if p.Alive() {
		t.Error("process reported alive after Terminate")
	}
}

func TestProcess_ExchangeStates(t *testing.T) {
	p := spawnTest(t, `#!/bin/bash
echo "engine ready" >&2
exec sleep 30
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.AwaitReady(ctx); err != nil {
		t.Fatalf("AwaitReady: %v", err)
	}

	if err := p.BeginExchange(); err != nil {
		t.Fatalf("BeginExchange: %v", err)
	}
	if got := p.State(); got != StateBusy {
		t.Errorf("state = %s, want %s", got, StateBusy)
	}
	if err := p.BeginExchange(); err == nil {
		t.Error("second BeginExchange succeeded while busy")
	}

	p.EndExchange()
	if got := p.State(); got != StateReady {
		t.Errorf("state = %s, want %s", got, StateReady)
	}
}

func TestProcess_StderrAfterReadiness(t *testing.T) {
	p := spawnTest(t, `#!/bin/bash
echo "engine ready" >&2
echo "render exploded" >&2
exec sleep 30
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.AwaitReady(ctx); err != nil {
		t.Fatalf("AwaitReady: %v", err)
	}

	select {
	case line := <-p.StderrLine():
		if line != "render exploded" {
			t.Errorf("stderr line = %q", line)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no stderr line received")
	}
}

func TestSlot_ReusesLiveProcess(t *testing.T) {
	cfg := writeEngineScript(t, `#!/bin/bash
echo "engine ready" >&2
exec sleep 30
`)
	slot := NewSlot(1, cfg)
	defer slot.Invalidate()

	ctx := context.Background()
	first, err := slot.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	second, err := slot.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire again: %v", err)
	}

	if first != second {
		t.Error("slot spawned a second process while the first was live")
	}
}

func TestSlot_ReplacesCrashedProcess(t *testing.T) {
	cfg := writeEngineScript(t, `#!/bin/bash
echo "engine ready" >&2
exec sleep 30
`)
	slot := NewSlot(2, cfg)
	defer slot.Invalidate()

	ctx := context.Background()
	first, err := slot.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	first.Terminate() // simulate crash

	second, err := slot.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire after crash: %v", err)
	}
	if second == first {
		t.Error("slot reused a dead process")
	}
	if got := first.State(); got != StateDead {
		t.Errorf("crashed process state = %s, want %s", got, StateDead)
	}
	if !second.Alive() {
		t.Error("replacement process not alive")
	}
}

func TestSlot_InvalidateClearsProcess(t *testing.T) {
	cfg := writeEngineScript(t, `#!/bin/bash
echo "engine ready" >&2
exec sleep 30
`)
	slot := NewSlot(3, cfg)

	if _, err := slot.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	slot.Invalidate()

	if slot.Cached() != nil {
		t.Error("slot still holds a process after Invalidate")
	}
}
