package bridge

import (
	"strings"
	"testing"

	"github.com/inkfold/renderd/internal/engine"
	"github.com/inkfold/renderd/internal/protocol"
	"github.com/inkfold/renderd/internal/render"
)

// framedLoopScript echoes the request id back with a valid base64 payload.
const framedLoopScript = `#!/bin/bash
echo "engine ready" >&2
while IFS= read -r line; do
  rid=$(printf '%s' "$line" | sed -n 's/.*"request_id":"\([^"]*\)".*/\1/p')
  payload='%PDF-1.4 framed-document'
  b64=$(printf '%s' "$payload" | base64 | tr -d '\n')
  printf '{"success": true, "request_id": "%s", "pdf_base64": "%s", "size": %d}\n' "$rid" "$b64" "${#payload}"
done
`

func newFramedBridge(t *testing.T, script string) (*Bridge, *engine.Slot) {
	t.Helper()
	cfg := writeEngineScript(t, script)
	b, err := New(cfg, "framed")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	slot := engine.NewSlot(0, cfg)
	t.Cleanup(slot.Invalidate)
	return b, slot
}

func TestFramed_RenderAndReuse(t *testing.T) {
	b, slot := newFramedBridge(t, framedLoopScript)
	ctx := testCtx(t)

	payload, err := b.Render(ctx, slot, testJob())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !protocol.HasPDFSignature(payload) {
		t.Errorf("payload missing signature: %q", payload)
	}

	proc := slot.Cached()
	if _, err := b.Render(ctx, slot, testJob()); err != nil {
		t.Fatalf("second Render: %v", err)
	}
	if slot.Cached() != proc {
		t.Error("process was replaced between clean exchanges")
	}
}

func TestFramed_RequestIDMismatchIsProtocolFailure(t *testing.T) {
	b, slot := newFramedBridge(t, `#!/bin/bash
echo "engine ready" >&2
IFS= read -r line
b64=$(printf '%s' '%PDF-1.4 x' | base64 | tr -d '\n')
printf '{"success": true, "request_id": "someone-elses-request", "pdf_base64": "%s"}\n' "$b64"
exec sleep 30
`)

	_, err := b.Render(testCtx(t), slot, testJob())
	if err == nil {
		t.Fatal("mismatched response was accepted")
	}
	if got := render.KindOf(err); got != render.KindProtocol {
		t.Errorf("kind = %s, want %s", got, render.KindProtocol)
	}
	if !strings.Contains(render.MessageOf(err), "mismatch") {
		t.Errorf("error = %v", err)
	}
	if slot.Cached() != nil {
		t.Error("uncorrelated process was not invalidated")
	}
}

func TestFramed_EngineReportedFailureKeepsProcess(t *testing.T) {
	b, slot := newFramedBridge(t, `#!/bin/bash
echo "engine ready" >&2
while IFS= read -r line; do
  rid=$(printf '%s' "$line" | sed -n 's/.*"request_id":"\([^"]*\)".*/\1/p')
  printf '{"success": false, "request_id": "%s", "error": "HTML content is required"}\n' "$rid"
done
`)

	_, err := b.Render(testCtx(t), slot, testJob())
	if err == nil {
		t.Fatal("expected engine-reported failure")
	}
	if got := render.KindOf(err); got != render.KindRender {
		t.Errorf("kind = %s, want %s", got, render.KindRender)
	}
	if slot.Cached() == nil {
		t.Error("clean exchange invalidated the process")
	}
}

func TestFramed_SizeMismatchIsTruncation(t *testing.T) {
	b, slot := newFramedBridge(t, `#!/bin/bash
echo "engine ready" >&2
IFS= read -r line
rid=$(printf '%s' "$line" | sed -n 's/.*"request_id":"\([^"]*\)".*/\1/p')
b64=$(printf '%s' '%PDF-1.4 short' | base64 | tr -d '\n')
printf '{"success": true, "request_id": "%s", "pdf_base64": "%s", "size": 99999}\n' "$rid" "$b64"
exec sleep 30
`)

	_, err := b.Render(testCtx(t), slot, testJob())
	if err == nil {
		t.Fatal("truncated payload was accepted")
	}
	if got := render.KindOf(err); got != render.KindRender {
		t.Errorf("kind = %s, want %s", got, render.KindRender)
	}
	if !strings.Contains(render.MessageOf(err), "truncated") {
		t.Errorf("error = %v", err)
	}
}

func TestFramed_MalformedLineIsProtocolFailure(t *testing.T) {
	b, slot := newFramedBridge(t, `#!/bin/bash
echo "engine ready" >&2
IFS= read -r line
echo 'not json at all'
exec sleep 30
`)

	_, err := b.Render(testCtx(t), slot, testJob())
	if err == nil {
		t.Fatal("malformed response was accepted")
	}
	if got := render.KindOf(err); got != render.KindProtocol {
		t.Errorf("kind = %s, want %s", got, render.KindProtocol)
	}
}

func TestFramed_MissingSignatureIsRenderFailure(t *testing.T) {
	b, slot := newFramedBridge(t, `#!/bin/bash
echo "engine ready" >&2
IFS= read -r line
rid=$(printf '%s' "$line" | sed -n 's/.*"request_id":"\([^"]*\)".*/\1/p')
b64=$(printf '%s' '<html>not a pdf</html>' | base64 | tr -d '\n')
printf '{"success": true, "request_id": "%s", "pdf_base64": "%s"}\n' "$rid" "$b64"
exec sleep 30
`)

	_, err := b.Render(testCtx(t), slot, testJob())
	if err == nil {
		t.Fatal("unsigned payload was accepted")
	}
	if got := render.KindOf(err); got != render.KindRender {
		t.Errorf("kind = %s, want %s", got, render.KindRender)
	}
}
