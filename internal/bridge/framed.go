package bridge

import (
	"context"
	"encoding/base64"

	"github.com/google/uuid"
	"github.com/inkfold/renderd/internal/engine"
	"github.com/inkfold/renderd/internal/protocol"
	"github.com/inkfold/renderd/internal/render"
)

// framedExchanger speaks the correlated JSON framing: every request carries a
// generated request id and the engine answers with a single JSON line holding
// the id, a base64 payload or an error, and the payload size. Completion is
// explicit (line termination), so this framing cannot truncate.
type framedExchanger struct{}

type framedResult struct {
	resp *protocol.FramedResponse
	err  error
}

func (f *framedExchanger) Exchange(ctx context.Context, p *engine.Process, job *render.Job) ([]byte, error) {
	if err := awaitReady(ctx, p); err != nil {
		return nil, err
	}
	if err := p.BeginExchange(); err != nil {
		return nil, render.Wrap(render.KindTransport, err, "engine process unavailable")
	}

	req := &protocol.Request{
		HTML:      job.HTML,
		CSS:       job.CSS,
		Options:   job.Options,
		RequestID: uuid.NewString(),
	}
	if err := protocol.EncodeRequest(p.Stdin(), req); err != nil {
		return nil, render.Wrap(render.KindTransport, err, "write request")
	}

	resCh := make(chan framedResult, 1)
	go func() { resCh <- f.readResponse(p) }()

	var resp *protocol.FramedResponse
	select {
	case res := <-resCh:
		if res.err != nil {
			return nil, res.err
		}
		resp = res.resp

	case <-p.Done():
		return nil, exitFailure(p)

	case <-ctx.Done():
		return nil, classifyCtx(ctx)
	}

	// Correlation failure is a protocol fault, distinct from a payload fault:
	// the line may belong to some other request and the stream can no longer
	// be trusted, so the process stays busy and gets replaced.
	if resp.RequestID != req.RequestID {
		return nil, render.Errorf(render.KindProtocol,
			"request id mismatch: sent %s, received %s", req.RequestID, resp.RequestID)
	}

	if !resp.Success {
		// Engine-reported failure. The exchange itself was clean, so the
		// process may serve the next job.
		p.EndExchange()
		return nil, render.Errorf(render.KindRender, "engine reported failure: %s", resp.Error)
	}

	payload, err := base64.StdEncoding.DecodeString(resp.PDFBase64)
	if err != nil {
		return nil, render.Wrap(render.KindProtocol, err, "decode payload")
	}
	if err := protocol.ValidatePayload(payload); err != nil {
		p.EndExchange()
		return nil, render.Wrap(render.KindRender, err, "invalid payload")
	}
	if resp.Size > 0 && len(payload) != resp.Size {
		p.EndExchange()
		return nil, render.Errorf(render.KindRender,
			"truncated payload: decoded %d bytes, engine reported %d", len(payload), resp.Size)
	}

	p.EndExchange()
	return payload, nil
}

// readResponse consumes exactly one JSON line from the engine's stdout.
func (f *framedExchanger) readResponse(p *engine.Process) framedResult {
	line, err := p.Stdout().ReadBytes('\n')
	if err != nil {
		return framedResult{err: render.Wrap(render.KindTransport, err, "read response line")}
	}
	resp, err := protocol.DecodeFramedResponse(line)
	if err != nil {
		return framedResult{err: render.Wrap(render.KindProtocol, err, "malformed response")}
	}
	return framedResult{resp: resp}
}
