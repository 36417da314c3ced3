//go:build unix

// ABOUTME: Tests for the upstream process supervisor using /bin/sh children
// ABOUTME: Covers env passing, idempotent start, exits, restarts, and kill escalation

package supervisor

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func shell(script string) Config {
	return Config{
		Command:     "/bin/sh",
		Args:        []string{"-c", script},
		StopTimeout: time.Second,
	}
}

func readFileEventually(t *testing.T, path string) string {
	t.Helper()
	var content string
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(path)
		if err != nil || len(data) == 0 {
			return false
		}
		content = string(data)
		return strings.HasSuffix(content, "\n")
	}, 5*time.Second, 20*time.Millisecond)
	return content
}

func TestSupervisor_PassesPortEnv(t *testing.T) {
	out := filepath.Join(t.TempDir(), "env.txt")
	cfg := shell(`echo "$PORT $NOTEPAD_PORT $EXTRA" > "$OUT"; exec sleep 30`)
	cfg.Port = 3000
	cfg.PortEnv = []string{"PORT", "NOTEPAD_PORT"}
	cfg.Env = []string{"OUT=" + out, "EXTRA=yes"}

	s := New(cfg, testLogger())
	require.NoError(t, s.Start())
	t.Cleanup(func() { s.Shutdown(context.Background()) })

	assert.Equal(t, "3000 3000 yes\n", readFileEventually(t, out))
	assert.True(t, s.Running())
	assert.Equal(t, PhaseRunning, s.Status().Phase)
}

func TestSupervisor_StartIsIdempotent(t *testing.T) {
	s := New(shell("exec sleep 30"), testLogger())
	require.NoError(t, s.Start())
	t.Cleanup(func() { s.Shutdown(context.Background()) })

	pid := s.Status().PID
	require.NotZero(t, pid)

	require.NoError(t, s.Start())
	require.NoError(t, s.EnsureRunning())
	assert.Equal(t, pid, s.Status().PID)
	assert.Equal(t, 1, s.Status().Starts)
}

func TestSupervisor_ShutdownGraceful(t *testing.T) {
	s := New(shell("exec sleep 30"), testLogger())
	require.NoError(t, s.Start())

	start := time.Now()
	phase := s.Shutdown(context.Background())

	assert.Equal(t, PhaseExited, phase)
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, s.Running())
}

func TestSupervisor_ShutdownEscalatesWithinBound(t *testing.T) {
	ready := filepath.Join(t.TempDir(), "ready")
	cfg := shell(`trap '' TERM; echo up > "$READY"; while :; do sleep 0.1; done`)
	cfg.Env = []string{"READY=" + ready}
	cfg.StopTimeout = 300 * time.Millisecond

	s := New(cfg, testLogger())
	require.NoError(t, s.Start())
	readFileEventually(t, ready)

	start := time.Now()
	phase := s.Shutdown(context.Background())
	elapsed := time.Since(start)

	assert.Equal(t, PhaseEscalated, phase)
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
	assert.Less(t, elapsed, 300*time.Millisecond+500*time.Millisecond)
	assert.False(t, s.Running())
}

func TestSupervisor_ShutdownContextCutsWaitShort(t *testing.T) {
	ready := filepath.Join(t.TempDir(), "ready")
	cfg := shell(`trap '' TERM; echo up > "$READY"; while :; do sleep 0.1; done`)
	cfg.Env = []string{"READY=" + ready}
	cfg.StopTimeout = 10 * time.Second

	s := New(cfg, testLogger())
	require.NoError(t, s.Start())
	readFileEventually(t, ready)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	assert.Equal(t, PhaseEscalated, s.Shutdown(ctx))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSupervisor_ShutdownWithoutChild(t *testing.T) {
	s := New(shell("exit 0"), testLogger())

	start := time.Now()
	assert.Equal(t, PhaseIdle, s.Shutdown(context.Background()))
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	assert.ErrorIs(t, s.Start(), ErrShuttingDown)
	assert.NoError(t, s.EnsureRunning())
	assert.False(t, s.Running())
}

func TestSupervisor_UnexpectedExitClearsHandle(t *testing.T) {
	s := New(shell("exit 3"), testLogger())
	require.NoError(t, s.Start())

	require.Eventually(t, func() bool { return !s.Running() }, 5*time.Second, 10*time.Millisecond)

	st := s.Status()
	assert.Equal(t, PhaseExited, st.Phase)
	assert.Equal(t, "exit status 3", st.LastExit)
	assert.Zero(t, st.PID)
}

func TestSupervisor_KilledBySignalIsReported(t *testing.T) {
	s := New(shell("kill -9 $$"), testLogger())
	require.NoError(t, s.Start())

	require.Eventually(t, func() bool { return !s.Running() }, 5*time.Second, 10*time.Millisecond)
	assert.Contains(t, s.Status().LastExit, "killed")
}

func TestSupervisor_EnsureRunningRestartsAfterExit(t *testing.T) {
	s := New(shell("exit 1"), testLogger())
	require.NoError(t, s.Start())
	require.Eventually(t, func() bool { return !s.Running() }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, s.EnsureRunning())
	require.Eventually(t, func() bool { return s.Status().Starts == 2 }, 5*time.Second, 10*time.Millisecond)
	s.Shutdown(context.Background())
}

func TestSupervisor_AutoRestart(t *testing.T) {
	log := filepath.Join(t.TempDir(), "starts.log")
	cfg := shell(`echo start >> "$LOG"; exit 1`)
	cfg.Env = []string{"LOG=" + log}
	cfg.Restart = true
	cfg.RestartDelay = 50 * time.Millisecond

	s := New(cfg, testLogger())
	require.NoError(t, s.Start())

	require.Eventually(t, func() bool {
		data, _ := os.ReadFile(log)
		return strings.Count(string(data), "start") >= 3
	}, 5*time.Second, 20*time.Millisecond)

	s.Shutdown(context.Background())
	before := s.Status().Starts

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, before, s.Status().Starts, "no restart after shutdown")
}

func TestSupervisor_SpawnFailure(t *testing.T) {
	s := New(Config{Command: filepath.Join(t.TempDir(), "missing-binary")}, testLogger())

	err := s.Start()
	require.Error(t, err)
	assert.False(t, s.Running())
	assert.Equal(t, PhaseIdle, s.Status().Phase)
	assert.Contains(t, s.Status().LastExit, "spawn failed")
}

func TestNew_Defaults(t *testing.T) {
	s := New(Config{Command: "true"}, nil)
	assert.Equal(t, DefaultStopTimeout, s.cfg.StopTimeout)
	assert.Equal(t, DefaultRestartDelay, s.cfg.RestartDelay)
	assert.Equal(t, PhaseIdle, s.Status().Phase)
}
