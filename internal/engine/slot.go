package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/inkfold/renderd/internal/log"
)

// Slot is one execution slot's exclusive claim on at most one live engine
// process. The slot struct holds the only reference to its process, so the
// one-process-per-slot invariant is structural rather than conventional.
// No cross-slot locking exists anywhere: ownership is exclusive per slot.
type Slot struct {
	id     int
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	proc *Process
}

// NewSlot creates an empty slot.
func NewSlot(id int, cfg Config) *Slot {
	return &Slot{
		id:     id,
		cfg:    cfg,
		logger: log.WithSlot(id),
	}
}

// ID returns the slot's pool index.
func (s *Slot) ID() int { return s.id }

// Acquire returns the slot's cached process if it is still alive, otherwise
// spawns a fresh one. A crashed or invalidated process is never returned: any
// dead handle is reaped and replaced.
func (s *Slot) Acquire(ctx context.Context) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proc != nil && s.proc.Alive() {
		return s.proc, nil
	}

	if s.proc != nil {
		s.logger.Info("cached engine process is dead, replacing")
		s.proc.Terminate()
		s.proc = nil
	}

	proc, err := Spawn(s.cfg, s.logger)
	if err != nil {
		return nil, fmt.Errorf("spawn engine for slot %d: %w", s.id, err)
	}
	s.proc = proc
	return proc, nil
}

// Invalidate terminates and forgets the slot's process, if any. The next
// Acquire observes an empty slot and spawns fresh.
func (s *Slot) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proc == nil {
		return
	}
	s.logger.Debug("invalidating engine process")
	s.proc.Terminate()
	s.proc = nil
}

// Cached exposes the current process handle for instrumentation and tests.
func (s *Slot) Cached() *Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc
}
