// Package bridge drives single request/response exchanges with rendering
// engine processes over their standard streams, and implements the cached and
// one-shot render paths on top of them.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/inkfold/renderd/internal/engine"
	"github.com/inkfold/renderd/internal/render"
)

// Exchanger performs one request/response exchange with an engine process.
// Implementations must leave the process in StateReady after a clean exchange;
// any other final state marks the process as unusable for reuse.
type Exchanger interface {
	Exchange(ctx context.Context, p *engine.Process, job *render.Job) ([]byte, error)
}

// NewExchanger selects a framing strategy by name.
func NewExchanger(strategy string) (Exchanger, error) {
	switch strategy {
	case "stream":
		return &streamExchanger{}, nil
	case "framed":
		return &framedExchanger{}, nil
	default:
		return nil, fmt.Errorf("unknown framing strategy %q", strategy)
	}
}

// awaitReady holds the send until the readiness marker has been observed.
func awaitReady(ctx context.Context, p *engine.Process) error {
	if err := p.AwaitReady(ctx); err != nil {
		if ctxErr := classifyCtx(ctx); ctxErr != nil {
			return ctxErr
		}
		return render.Wrap(render.KindTransport, err, "engine never became ready")
	}
	return nil
}

// exitFailure classifies a mid-exchange process exit. Diagnostic output means
// the engine rejected the request; silence means the stream itself broke.
func exitFailure(p *engine.Process) error {
	if detail := strings.TrimSpace(p.StderrText()); detail != "" {
		return render.Errorf(render.KindRender, "engine error: %s", detail)
	}
	return render.Errorf(render.KindTransport, "engine exited mid-exchange")
}

// classifyCtx maps a finished context to a render error, or nil if the
// context is still live.
func classifyCtx(ctx context.Context) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return render.Errorf(render.KindTimeout, "exchange exceeded deadline")
	case errors.Is(ctx.Err(), context.Canceled):
		return render.Errorf(render.KindTransport, "exchange canceled")
	default:
		return nil
	}
}
