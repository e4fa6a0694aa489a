package bridge

import (
	"context"
	"log/slog"

	"github.com/inkfold/renderd/internal/engine"
	"github.com/inkfold/renderd/internal/log"
	"github.com/inkfold/renderd/internal/render"
)

// Bridge renders jobs through engine processes: via a slot's cached process
// on the primary path, or via a disposable process on the fallback path.
type Bridge struct {
	engineCfg engine.Config
	ex        Exchanger
	logger    *slog.Logger
}

// New builds a Bridge for the given engine and framing strategy.
func New(engineCfg engine.Config, strategy string) (*Bridge, error) {
	ex, err := NewExchanger(strategy)
	if err != nil {
		return nil, err
	}
	return &Bridge{
		engineCfg: engineCfg,
		ex:        ex,
		logger:    log.WithComponent("bridge"),
	}, nil
}

// Render performs one exchange through the slot's cached process, acquiring a
// fresh one if needed. A process that does not come out of the exchange clean
// (StateReady) is invalidated so the slot re-enters spawning on next use.
func (b *Bridge) Render(ctx context.Context, slot *engine.Slot, job *render.Job) ([]byte, error) {
	proc, err := slot.Acquire(ctx)
	if err != nil {
		return nil, render.Wrap(render.KindTransport, err, "acquire engine process")
	}

	payload, err := b.ex.Exchange(ctx, proc, job)
	if proc.State() != engine.StateReady {
		slot.Invalidate()
	}
	return payload, err
}

// RenderOnce performs one exchange with a disposable process. The process is
// terminated on every exit path, so fallback renders never leak processes.
func (b *Bridge) RenderOnce(ctx context.Context, job *render.Job) ([]byte, error) {
	proc, err := engine.Spawn(b.engineCfg, b.logger)
	if err != nil {
		return nil, render.Wrap(render.KindTransport, err, "spawn fallback engine")
	}
	defer proc.Terminate()

	return b.ex.Exchange(ctx, proc, job)
}

// ShouldFallback reports whether a cached-path failure qualifies for the
// one-shot fallback. Only process-level failures do: input, protocol, and
// engine-reported faults would fail identically on a fresh process.
func ShouldFallback(err error) bool {
	switch render.KindOf(err) {
	case render.KindTransport, render.KindTimeout:
		return true
	default:
		return false
	}
}
