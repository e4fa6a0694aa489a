// Package pool owns the bounded set of execution slots that render jobs are
// dispatched to. Each slot runs as one worker goroutine with exclusive
// ownership of at most one engine process; overflow beyond the queue capacity
// is rejected immediately rather than buffered without bound.
package pool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/inkfold/renderd/internal/bridge"
	"github.com/inkfold/renderd/internal/engine"
	"github.com/inkfold/renderd/internal/log"
	"github.com/inkfold/renderd/internal/render"
)

// Renderer executes one job against an engine process. bridge.Bridge is the
// production implementation.
type Renderer interface {
	Render(ctx context.Context, slot *engine.Slot, job *render.Job) ([]byte, error)
	RenderOnce(ctx context.Context, job *render.Job) ([]byte, error)
}

// Config defines the pool's slot and queue limits.
type Config struct {
	MinSlots      int
	MaxSlots      int
	QueueCapacity int // 0 derives 2 * MaxSlots
	IdleTimeout   time.Duration
	JobTimeout    time.Duration
	Engine        engine.Config
}

func (c *Config) normalize() {
	if c.MinSlots < 1 {
		c.MinSlots = 1
	}
	if c.MaxSlots < c.MinSlots {
		c.MaxSlots = c.MinSlots
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 2 * c.MaxSlots
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 2 * time.Minute
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 30 * time.Second
	}
}

type task struct {
	job *render.Job
	ctx context.Context
	out chan taskResult
}

type taskResult struct {
	payload []byte
	err     error
}

// Pool dispatches render jobs across execution slots.
type Pool struct {
	cfg      Config
	renderer Renderer
	metrics  *Metrics
	logger   *slog.Logger

	queue chan *task
	stop  chan struct{}
	wg    sync.WaitGroup

	mu       sync.Mutex
	workers  int
	nextSlot int
	closed   bool
}

// New builds a pool and starts its minimum worker set.
func New(cfg Config, r Renderer, m *Metrics) *Pool {
	cfg.normalize()
	if m == nil {
		m = NewMetrics(nil)
	}
	p := &Pool{
		cfg:      cfg,
		renderer: r,
		metrics:  m,
		logger:   log.WithComponent("pool"),
		queue:    make(chan *task, cfg.QueueCapacity),
		stop:     make(chan struct{}),
	}
	for i := 0; i < cfg.MinSlots; i++ {
		p.startWorker()
	}
	return p
}

// Submit dispatches a job and blocks until its outcome is available or ctx
// ends. Every accepted job resolves exactly once; jobs beyond the queue
// capacity fail fast with a backpressure error.
func (p *Pool) Submit(ctx context.Context, job *render.Job) ([]byte, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, render.Errorf(render.KindTransport, "pool is shut down")
	}

	t := &task{job: job, ctx: ctx, out: make(chan taskResult, 1)}
	select {
	case p.queue <- t:
		p.metrics.SetQueueDepth(len(p.queue))
	default:
		return nil, render.Errorf(render.KindBackpressure, "render queue is full")
	}

	// Grow the pool while jobs are waiting and slot capacity remains.
	if len(p.queue) > 0 {
		p.startWorker()
	}

	select {
	case res := <-t.out:
		return res.payload, res.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, render.Errorf(render.KindTimeout, "request deadline elapsed")
		}
		return nil, render.Wrap(render.KindTimeout, ctx.Err(), "request abandoned")
	}
}

// Stats returns the pool's operational snapshot.
func (p *Pool) Stats() Stats {
	return p.metrics.Snapshot()
}

// Close stops all workers, waits for in-flight jobs, and fails anything still
// queued so no submission is left pending.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.stop)
	p.wg.Wait()

	for {
		select {
		case t := <-p.queue:
			t.out <- taskResult{err: render.Errorf(render.KindTransport, "pool is shut down")}
		default:
			p.metrics.SetQueueDepth(0)
			return
		}
	}
}

// startWorker adds a worker if slot capacity remains.
func (p *Pool) startWorker() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.workers >= p.cfg.MaxSlots {
		return false
	}
	p.workers++
	id := p.nextSlot
	p.nextSlot++
	p.metrics.SetActiveSlots(p.workers)

	p.wg.Add(1)
	go p.runWorker(id)
	return true
}

// tryRetire removes this worker from the count unless the pool would drop
// below its minimum.
func (p *Pool) tryRetire() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.workers <= p.cfg.MinSlots {
		return false
	}
	p.workers--
	p.metrics.SetActiveSlots(p.workers)
	return true
}

func (p *Pool) runWorker(id int) {
	defer p.wg.Done()

	slot := engine.NewSlot(id, p.cfg.Engine)
	defer slot.Invalidate()

	logger := log.WithSlot(id)
	logger.Debug("slot started")

	idle := time.NewTimer(p.cfg.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-p.stop:
			p.mu.Lock()
			p.workers--
			p.metrics.SetActiveSlots(p.workers)
			p.mu.Unlock()
			return

		case t := <-p.queue:
			p.metrics.SetQueueDepth(len(p.queue))
			p.execute(slot, t)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(p.cfg.IdleTimeout)

		case <-idle.C:
			if p.tryRetire() {
				logger.Debug("idle slot retiring")
				return
			}
			idle.Reset(p.cfg.IdleTimeout)
		}
	}
}

// execute drives one job through the cached path and, for qualifying process
// failures, once more through a disposable process.
func (p *Pool) execute(slot *engine.Slot, t *task) {
	jobLogger := log.WithJob(t.job.ID).With("slot", slot.ID())
	start := time.Now()

	ctx, cancel := context.WithTimeout(t.ctx, p.cfg.JobTimeout)
	payload, err := p.renderer.Render(ctx, slot, t.job)
	cancel()

	if err != nil && bridge.ShouldFallback(err) {
		jobLogger.Warn("cached render failed, retrying with disposable process",
			"kind", render.KindOf(err), "error", err)
		fctx, fcancel := context.WithTimeout(t.ctx, p.cfg.JobTimeout)
		payload, err = p.renderer.RenderOnce(fctx, t.job)
		fcancel()
	}

	duration := time.Since(start)
	p.metrics.Observe(duration, err)

	if err != nil {
		jobLogger.Warn("job failed",
			"kind", render.KindOf(err),
			"duration_ms", duration.Milliseconds(),
			"error", err)
	} else {
		jobLogger.Info("job completed",
			"bytes", len(payload),
			"duration_ms", duration.Milliseconds())
	}

	t.out <- taskResult{payload: payload, err: err}
}
