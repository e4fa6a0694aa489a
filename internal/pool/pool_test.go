package pool

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"

	"github.com/inkfold/renderd/internal/log"
	"github.com/inkfold/renderd/internal/pool/mocks"
	"github.com/inkfold/renderd/internal/render"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

func testConfig() Config {
	return Config{
		MinSlots:      1,
		MaxSlots:      2,
		QueueCapacity: 2,
		IdleTimeout:   time.Minute,
		JobTimeout:    5 * time.Second,
	}
}

func fakePDF() []byte {
	return []byte("%PDF-1.7 payload")
}

func TestPool_SubmitResolvesExactlyOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	renderer := mocks.NewMockRenderer(ctrl)
	renderer.EXPECT().Render(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(fakePDF(), nil).Times(1)

	p := New(testConfig(), renderer, nil)
	defer p.Close()

	payload, err := p.Submit(context.Background(), render.NewJob("<h1>A</h1>", "", nil))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if string(payload) != string(fakePDF()) {
		t.Errorf("payload = %q", payload)
	}

	stats := p.Stats()
	if stats.CompletedCount != 1 {
		t.Errorf("completed = %d, want 1", stats.CompletedCount)
	}
}

func TestPool_EmptyMarkupRejectedBeforeDispatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	// No expectations: the renderer must never be called.
	renderer := mocks.NewMockRenderer(ctrl)

	p := New(testConfig(), renderer, nil)
	defer p.Close()

	_, err := p.Submit(context.Background(), render.NewJob("", "", nil))
	if err == nil {
		t.Fatal("empty markup accepted")
	}
	if got := render.KindOf(err); got != render.KindInputInvalid {
		t.Errorf("kind = %s, want %s", got, render.KindInputInvalid)
	}
	if p.Stats().CompletedCount != 0 {
		t.Error("rejected job counted as completed")
	}
}

func TestPool_FallbackOnTransportFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	renderer := mocks.NewMockRenderer(ctrl)
	renderer.EXPECT().Render(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, render.Errorf(render.KindTransport, "pipe broke")).Times(1)
	renderer.EXPECT().RenderOnce(gomock.Any(), gomock.Any()).
		Return(fakePDF(), nil).Times(1)

	p := New(testConfig(), renderer, nil)
	defer p.Close()

	payload, err := p.Submit(context.Background(), render.NewJob("<p>x</p>", "", nil))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if string(payload) != string(fakePDF()) {
		t.Errorf("payload = %q", payload)
	}
}

func TestPool_NoFallbackOnRenderFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	renderer := mocks.NewMockRenderer(ctrl)
	// RenderOnce has no expectation: calling it would fail the test.
	renderer.EXPECT().Render(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, render.Errorf(render.KindRender, "bad css")).Times(1)

	p := New(testConfig(), renderer, nil)
	defer p.Close()

	_, err := p.Submit(context.Background(), render.NewJob("<p>x</p>", "", nil))
	if got := render.KindOf(err); got != render.KindRender {
		t.Errorf("kind = %s, want %s", got, render.KindRender)
	}
}

func TestPool_NoFallbackOnProtocolFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	renderer := mocks.NewMockRenderer(ctrl)
	renderer.EXPECT().Render(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, render.Errorf(render.KindProtocol, "id mismatch")).Times(1)

	p := New(testConfig(), renderer, nil)
	defer p.Close()

	_, err := p.Submit(context.Background(), render.NewJob("<p>x</p>", "", nil))
	if got := render.KindOf(err); got != render.KindProtocol {
		t.Errorf("kind = %s, want %s", got, render.KindProtocol)
	}
}

func TestPool_FailedFallbackIsTerminal(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	renderer := mocks.NewMockRenderer(ctrl)
	renderer.EXPECT().Render(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, render.Errorf(render.KindTransport, "pipe broke")).Times(1)
	renderer.EXPECT().RenderOnce(gomock.Any(), gomock.Any()).
		Return(nil, render.Errorf(render.KindTransport, "spawn failed")).Times(1)

	p := New(testConfig(), renderer, nil)
	defer p.Close()

	_, err := p.Submit(context.Background(), render.NewJob("<p>x</p>", "", nil))
	if got := render.KindOf(err); got != render.KindTransport {
		t.Errorf("kind = %s, want %s", got, render.KindTransport)
	}
}

func TestPool_BackpressureBeyondCapacity(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	release := make(chan struct{})
	started := make(chan struct{}, 16)

	renderer := mocks.NewMockRenderer(ctrl)
	renderer.EXPECT().Render(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ interface{}, _ *render.Job) ([]byte, error) {
			started <- struct{}{}
			<-release
			return fakePDF(), nil
		}).AnyTimes()

	cfg := Config{
		MinSlots:      1,
		MaxSlots:      1,
		QueueCapacity: 1,
		IdleTimeout:   time.Minute,
		JobTimeout:    10 * time.Second,
	}
	p := New(cfg, renderer, nil)
	defer p.Close()

	var wg sync.WaitGroup
	results := make(chan error, 2)

	// First job occupies the only slot, second fills the queue.
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := p.Submit(context.Background(), render.NewJob("<p>1</p>", "", nil))
		results <- err
	}()
	<-started

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := p.Submit(context.Background(), render.NewJob("<p>2</p>", "", nil))
		results <- err
	}()

	// Wait for the second job to be queued before overflowing.
	waitFor(t, func() bool { return p.Stats().QueueDepth >= 1 })

	_, err := p.Submit(context.Background(), render.NewJob("<p>3</p>", "", nil))
	if got := render.KindOf(err); got != render.KindBackpressure {
		t.Fatalf("overflow kind = %s, want %s", got, render.KindBackpressure)
	}

	close(release)
	wg.Wait()
	close(results)

	// Everything within capacity completed.
	for err := range results {
		if err != nil {
			t.Errorf("in-capacity job failed: %v", err)
		}
	}
}

func TestPool_ScalesUpToMaxSlots(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	release := make(chan struct{})
	started := make(chan struct{}, 16)

	renderer := mocks.NewMockRenderer(ctrl)
	renderer.EXPECT().Render(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ interface{}, _ *render.Job) ([]byte, error) {
			started <- struct{}{}
			<-release
			return fakePDF(), nil
		}).AnyTimes()

	cfg := Config{
		MinSlots:      1,
		MaxSlots:      3,
		QueueCapacity: 8,
		IdleTimeout:   time.Minute,
		JobTimeout:    10 * time.Second,
	}
	p := New(cfg, renderer, nil)
	defer p.Close()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Submit(context.Background(), render.NewJob("<p>x</p>", "", nil)); err != nil {
				t.Errorf("Submit: %v", err)
			}
		}()
	}

	// All three jobs must end up running in parallel.
	for i := 0; i < 3; i++ {
		select {
		case <-started:
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d jobs started; pool did not scale up", i)
		}
	}
	if got := p.Stats().ActiveSlots; got != 3 {
		t.Errorf("active slots = %d, want 3", got)
	}

	close(release)
	wg.Wait()
}

func TestPool_IdleSlotsRetireToMinimum(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	renderer := mocks.NewMockRenderer(ctrl)
	renderer.EXPECT().Render(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(fakePDF(), nil).AnyTimes()

	cfg := Config{
		MinSlots:      1,
		MaxSlots:      4,
		QueueCapacity: 8,
		IdleTimeout:   100 * time.Millisecond,
		JobTimeout:    5 * time.Second,
	}
	p := New(cfg, renderer, nil)
	defer p.Close()

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.Submit(context.Background(), render.NewJob("<p>x</p>", "", nil))
		}()
	}
	wg.Wait()

	waitFor(t, func() bool { return p.Stats().ActiveSlots == 1 })
}

func TestPool_ConcurrentSubmissionsEachResolveOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	renderer := mocks.NewMockRenderer(ctrl)
	renderer.EXPECT().Render(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(fakePDF(), nil).Times(8)

	cfg := Config{
		MinSlots:      2,
		MaxSlots:      4,
		QueueCapacity: 16,
		IdleTimeout:   time.Minute,
		JobTimeout:    5 * time.Second,
	}
	p := New(cfg, renderer, nil)
	defer p.Close()

	var wg sync.WaitGroup
	outcomes := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Submit(context.Background(), render.NewJob("<p>x</p>", "", nil))
			outcomes <- err
		}()
	}
	wg.Wait()
	close(outcomes)

	count := 0
	for err := range outcomes {
		count++
		if err != nil {
			t.Errorf("job failed: %v", err)
		}
	}
	if count != 8 {
		t.Errorf("resolved %d outcomes, want 8", count)
	}
	if got := p.Stats().CompletedCount; got != 8 {
		t.Errorf("completed = %d, want 8", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}
