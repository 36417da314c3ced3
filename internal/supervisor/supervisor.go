// ABOUTME: Child process supervisor for the upstream application
// ABOUTME: Spawns, observes, optionally restarts, and stops with TERM then KILL

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

// Phase is a point in the child's lifecycle.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseRunning   Phase = "running"
	PhaseSignaled  Phase = "signaled"
	PhaseWaiting   Phase = "waiting"
	PhaseExited    Phase = "exited"
	PhaseEscalated Phase = "escalated"
)

// Defaults
const (
	DefaultStopTimeout  = 3 * time.Second
	DefaultRestartDelay = 5 * time.Second

	// killGrace bounds the wait for the child to be reaped after SIGKILL.
	killGrace = 2 * time.Second
)

// ErrShuttingDown is returned by Start once Shutdown has been called.
var ErrShuttingDown = errors.New("supervisor is shutting down")

// Config describes the child process.
type Config struct {
	Command      string
	Args         []string
	Dir          string
	Env          []string // extra KEY=VALUE entries
	Port         int
	PortEnv      []string // variables that receive Port
	StopTimeout  time.Duration
	Restart      bool
	RestartDelay time.Duration
}

// Status is a snapshot for health reporting.
type Status struct {
	Phase    Phase  `json:"phase"`
	PID      int    `json:"pid,omitempty"`
	Starts   int    `json:"starts"`
	LastExit string `json:"last_exit,omitempty"`
}

type process struct {
	cmd  *exec.Cmd
	done chan struct{}
}

// Supervisor owns at most one live child at a time.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger

	mu           sync.Mutex
	proc         *process
	phase        Phase
	shuttingDown bool
	starts       int
	lastExit     string
	restartTimer *time.Timer
}

// New creates a Supervisor. Nothing is spawned until Start.
func New(cfg Config, logger *slog.Logger) *Supervisor {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = DefaultRestartDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		cfg:    cfg,
		logger: logger.With("component", "supervisor"),
		phase:  PhaseIdle,
	}
}

// Start spawns the child if none is live. Calling it while a child runs is a
// no-op. A spawn failure is logged and returned; the caller may keep serving
// in a degraded state and retry later.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked()
}

// EnsureRunning starts the child if it is not running and shutdown has not
// begun. It is safe to call from request handlers.
func (s *Supervisor) EnsureRunning() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shuttingDown || s.proc != nil {
		return nil
	}
	s.logger.Info("upstream not running, starting it")
	return s.startLocked()
}

func (s *Supervisor) startLocked() error {
	if s.shuttingDown {
		return ErrShuttingDown
	}
	if s.proc != nil {
		return nil
	}

	cmd := exec.Command(s.cfg.Command, s.cfg.Args...)
	cmd.Dir = s.cfg.Dir
	cmd.Env = s.environ()
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		s.phase = PhaseIdle
		s.lastExit = "spawn failed: " + err.Error()
		s.logger.Error("failed to start upstream process",
			"command", s.cfg.Command,
			"error", err,
		)
		return fmt.Errorf("starting %s: %w", s.cfg.Command, err)
	}

	p := &process{cmd: cmd, done: make(chan struct{})}
	s.proc = p
	s.phase = PhaseRunning
	s.starts++

	s.logger.Info("upstream process started",
		"command", s.cfg.Command,
		"args", s.cfg.Args,
		"pid", cmd.Process.Pid,
		"port", s.cfg.Port,
	)

	go s.watch(p)
	return nil
}

func (s *Supervisor) environ() []string {
	env := append(os.Environ(), s.cfg.Env...)
	if s.cfg.Port > 0 {
		port := strconv.Itoa(s.cfg.Port)
		for _, name := range s.cfg.PortEnv {
			env = append(env, name+"="+port)
		}
	}
	return env
}

// watch reaps the child and decides whether to restart it.
func (s *Supervisor) watch(p *process) {
	err := p.cmd.Wait()
	reason := exitReason(p.cmd.ProcessState, err)
	close(p.done)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proc == p {
		s.proc = nil
	}
	s.lastExit = reason

	if s.shuttingDown {
		s.logger.Info("upstream process exited", "pid", p.cmd.Process.Pid, "reason", reason)
		return
	}

	s.phase = PhaseExited
	s.logger.Warn("upstream process exited unexpectedly", "pid", p.cmd.Process.Pid, "reason", reason)

	if s.cfg.Restart {
		s.logger.Info("restarting upstream process", "delay", s.cfg.RestartDelay)
		s.restartTimer = time.AfterFunc(s.cfg.RestartDelay, func() {
			if err := s.EnsureRunning(); err != nil {
				s.logger.Error("upstream restart failed", "error", err)
			}
		})
	}
}

// Shutdown stops the child: SIGTERM, a bounded wait, then SIGKILL. Cancelling
// ctx cuts the wait short and escalates immediately. It returns the terminal
// phase: idle if nothing was running, exited, or escalated.
func (s *Supervisor) Shutdown(ctx context.Context) Phase {
	s.mu.Lock()
	s.shuttingDown = true
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}
	p := s.proc
	if p == nil {
		phase := s.phase
		if phase != PhaseExited {
			phase = PhaseIdle
		}
		s.mu.Unlock()
		return phase
	}
	pid := p.cmd.Process.Pid
	s.phase = PhaseSignaled
	s.mu.Unlock()

	s.logger.Info("stopping upstream process", "pid", pid, "timeout", s.cfg.StopTimeout)
	if err := terminate(p.cmd); err != nil {
		s.logger.Debug("termination signal not delivered", "pid", pid, "error", err)
	}

	s.setPhase(PhaseWaiting)
	timer := time.NewTimer(s.cfg.StopTimeout)
	defer timer.Stop()

	select {
	case <-p.done:
		s.setPhase(PhaseExited)
		s.logger.Info("upstream process stopped", "pid", pid)
		return PhaseExited
	case <-timer.C:
		s.logger.Warn("upstream process ignored termination, killing", "pid", pid)
	case <-ctx.Done():
		s.logger.Warn("shutdown deadline reached, killing upstream process", "pid", pid)
	}

	if err := kill(p.cmd); err != nil {
		s.logger.Debug("kill signal not delivered", "pid", pid, "error", err)
	}
	s.setPhase(PhaseEscalated)

	select {
	case <-p.done:
	case <-time.After(killGrace):
		s.logger.Error("upstream process not reaped after kill", "pid", pid)
	}
	return PhaseEscalated
}

func (s *Supervisor) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

// Running reports whether a child is live.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc != nil
}

// Status returns a snapshot of the supervisor.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Phase:    s.phase,
		Starts:   s.starts,
		LastExit: s.lastExit,
	}
	if s.proc != nil {
		st.PID = s.proc.cmd.Process.Pid
	}
	return st
}

func exitReason(state *os.ProcessState, waitErr error) string {
	if state != nil {
		return state.String()
	}
	if waitErr != nil {
		return waitErr.Error()
	}
	return "unknown"
}
