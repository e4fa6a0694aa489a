package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	// maxStderrBytes caps the amount of diagnostic output retained per process.
	maxStderrBytes = 64 * 1024

	// terminationGracePeriod is the time we wait after SIGTERM before SIGKILL.
	terminationGracePeriod = 3 * time.Second
)

// State tracks where a process is in its lifecycle. Dead is terminal.
type State string

const (
	StateSpawning      State = "spawning"
	StateAwaitingReady State = "awaiting_ready"
	StateReady         State = "ready"
	StateBusy          State = "busy"
	StateDead          State = "dead"
)

// Config defines how rendering-engine processes are started.
type Config struct {
	Command     string
	Args        []string
	ReadyMarker string
}

// Process wraps one live rendering-engine child process: its three standard
// streams, its readiness signal, and its lifecycle state. A Process carries at
// most one in-flight exchange at a time.
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader

	ready  chan struct{}
	exited chan struct{}

	// stderrLines receives diagnostic lines seen after the readiness marker.
	stderrLines chan string

	mu        sync.Mutex
	state     State
	exitErr   error
	stderrBuf strings.Builder

	logger *slog.Logger
}

// Spawn starts a new engine process and wires its streams. The returned
// process is in StateAwaitingReady until the readiness marker appears on its
// stderr.
func Spawn(cfg Config, logger *slog.Logger) (*Process, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	p := &Process{
		cmd:         cmd,
		stdin:       stdin,
		stdout:      bufio.NewReader(stdout),
		ready:       make(chan struct{}),
		exited:      make(chan struct{}),
		stderrLines: make(chan string, 16),
		state:       StateSpawning,
		logger:      logger,
	}

	logger.Debug("spawning engine process", "command", cfg.Command)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start process: %w", err)
	}
	p.setState(StateAwaitingReady)

	stderrDone := make(chan struct{})
	go p.watchStderr(stderr, cfg.ReadyMarker, stderrDone)

	go func() {
		<-stderrDone
		err := cmd.Wait()
		p.mu.Lock()
		p.exitErr = err
		p.state = StateDead
		p.mu.Unlock()
		close(p.exited)
		logger.Debug("engine process exited", "error", err)
	}()

	return p, nil
}

// watchStderr resolves readiness on the marker line and collects everything
// else as diagnostic output for the in-flight exchange.
func (p *Process) watchStderr(stderr io.Reader, marker string, done chan struct{}) {
	defer close(done)

	readySeen := false
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 4096), maxStderrBytes)
	for scanner.Scan() {
		line := scanner.Text()
		if !readySeen && strings.Contains(line, marker) {
			readySeen = true
			p.mu.Lock()
			if p.state == StateAwaitingReady {
				p.state = StateReady
			}
			p.mu.Unlock()
			close(p.ready)
			p.logger.Debug("engine process ready")
			continue
		}

		p.mu.Lock()
		if p.stderrBuf.Len() < maxStderrBytes {
			p.stderrBuf.WriteString(line)
			p.stderrBuf.WriteByte('\n')
		}
		p.mu.Unlock()

		select {
		case p.stderrLines <- line:
		default:
		}
	}
}

// AwaitReady blocks until the process signals readiness, exits, or ctx ends.
func (p *Process) AwaitReady(ctx context.Context) error {
	select {
	case <-p.ready:
		return nil
	case <-p.exited:
		return fmt.Errorf("process exited before readiness: %s", p.failureDetail())
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BeginExchange transitions Ready -> Busy. It fails if the process is in any
// other state, which keeps exchanges strictly sequential per process.
func (p *Process) BeginExchange() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateReady {
		return fmt.Errorf("process not ready for exchange (state=%s)", p.state)
	}
	p.state = StateBusy
	return nil
}

// EndExchange transitions Busy -> Ready after a clean exchange.
func (p *Process) EndExchange() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateBusy {
		p.state = StateReady
	}
}

// Terminate stops the process: SIGTERM first, SIGKILL after the grace period.
// It blocks until the process is reaped and is safe to call more than once.
func (p *Process) Terminate() {
	select {
	case <-p.exited:
		return
	default:
	}

	if p.cmd.Process != nil {
		if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			p.logger.Debug("failed to send SIGTERM", "error", err)
		}
	}

	grace := time.NewTimer(terminationGracePeriod)
	defer grace.Stop()

	select {
	case <-p.exited:
	case <-grace.C:
		p.logger.Warn("engine did not exit after SIGTERM, sending SIGKILL")
		if p.cmd.Process != nil {
			if err := p.cmd.Process.Kill(); err != nil {
				p.logger.Debug("failed to send SIGKILL", "error", err)
			}
		}
		<-p.exited
	}
}

// Alive reports whether the process can still serve exchanges.
func (p *Process) Alive() bool {
	return p.State() != StateDead
}

// State returns the current lifecycle state.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Process) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Stdin is the engine's request channel.
func (p *Process) Stdin() io.Writer { return p.stdin }

// Stdout is the engine's response channel. The reader is buffered and owned
// by the process so partial reads survive across exchanges.
func (p *Process) Stdout() *bufio.Reader { return p.stdout }

// StderrLine delivers diagnostic lines observed after readiness.
func (p *Process) StderrLine() <-chan string { return p.stderrLines }

// Done is closed once the process has exited and been reaped.
func (p *Process) Done() <-chan struct{} { return p.exited }

// StderrText returns the retained diagnostic output.
func (p *Process) StderrText() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stderrBuf.String()
}

func (p *Process) failureDetail() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	detail := strings.TrimSpace(p.stderrBuf.String())
	if detail == "" && p.exitErr != nil {
		detail = p.exitErr.Error()
	}
	if detail == "" {
		detail = "no diagnostic output"
	}
	return detail
}
