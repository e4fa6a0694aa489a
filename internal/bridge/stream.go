package bridge

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/inkfold/renderd/internal/engine"
	"github.com/inkfold/renderd/internal/protocol"
	"github.com/inkfold/renderd/internal/render"
)

// streamExchanger speaks the length-prefixed raw payload framing: the engine
// answers a request line with a decimal byte-count line on stdout followed by
// exactly that many payload bytes. The explicit length replaces the old
// signature-sniffing completion detection, which truncated payloads whenever
// the signature was flushed before the rest of the document.
type streamExchanger struct{}

type streamResult struct {
	payload []byte
	err     error
}

func (s *streamExchanger) Exchange(ctx context.Context, p *engine.Process, job *render.Job) ([]byte, error) {
	if err := awaitReady(ctx, p); err != nil {
		return nil, err
	}
	if err := p.BeginExchange(); err != nil {
		return nil, render.Wrap(render.KindTransport, err, "engine process unavailable")
	}

	req := &protocol.Request{HTML: job.HTML, CSS: job.CSS, Options: job.Options}
	if err := protocol.EncodeRequest(p.Stdin(), req); err != nil {
		return nil, render.Wrap(render.KindTransport, err, "write request")
	}

	resCh := make(chan streamResult, 1)
	go func() { resCh <- s.readPayload(p) }()

	select {
	case res := <-resCh:
		if res.err != nil {
			// The stdout stream position is unknown after a framing error;
			// the process stays busy so the slot will replace it.
			return nil, res.err
		}
		p.EndExchange()
		return res.payload, nil

	case line := <-p.StderrLine():
		// Error text on the diagnostic channel is terminal for this request.
		detail := strings.TrimSpace(p.StderrText())
		if detail == "" {
			detail = line
		}
		return nil, render.Errorf(render.KindRender, "engine error: %s", detail)

	case <-p.Done():
		return nil, exitFailure(p)

	case <-ctx.Done():
		return nil, classifyCtx(ctx)
	}
}

// readPayload consumes one length-prefixed response from the engine's stdout.
func (s *streamExchanger) readPayload(p *engine.Process) streamResult {
	r := p.Stdout()

	header, err := r.ReadString('\n')
	if err != nil {
		return streamResult{err: render.Wrap(render.KindTransport, err, "read response header")}
	}

	n, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil {
		return streamResult{err: render.Errorf(render.KindProtocol, "malformed length header %q", strings.TrimSpace(header))}
	}
	if n <= 0 {
		return streamResult{err: render.Errorf(render.KindRender, "engine reported empty payload")}
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return streamResult{err: render.Wrap(render.KindTransport, err, "read payload")}
	}

	if err := protocol.ValidatePayload(payload); err != nil {
		return streamResult{err: render.Wrap(render.KindRender, err, "invalid payload")}
	}
	return streamResult{payload: payload}
}
