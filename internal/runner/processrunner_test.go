//go:build unix

package runner

import (
	"context"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitDone(t *testing.T, p Process, within time.Duration) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(within):
		t.Fatalf("process %d did not exit within %s", p.PID(), within)
	}
}

// alive reports whether pid exists and is not a zombie waiting to be reaped.
func alive(pid int) bool {
	p, err := process.NewProcess(int32(pid))
	return err == nil && live(context.Background(), p)
}

func TestStart_EmptyCommand(t *testing.T) {
	_, err := Start(Spec{Name: "empty", Command: "  "})
	assert.ErrorIs(t, err, ErrEmptyCommand)
}

func TestStart_MissingBinary(t *testing.T) {
	_, err := Start(Spec{Name: "missing", Command: "non-existent-command-12345"})
	assert.Error(t, err)
}

func TestStart_ExitCode(t *testing.T) {
	h, err := Start(Spec{Name: "exit", Command: "sh", Args: []string{"-c", "echo hello; exit 3"}, CaptureOutput: true})
	require.NoError(t, err)
	waitDone(t, h, 5*time.Second)
	assert.Equal(t, 3, h.ExitCode())
	assert.False(t, h.Resolve(context.Background()))
	_, ok := h.MemorySample(context.Background())
	assert.False(t, ok)
}

func TestStart_WorkingDir(t *testing.T) {
	dir := t.TempDir()
	h, err := Start(Spec{Name: "pwd", Command: "sh", Args: []string{"-c", `test "$(pwd -P)" = "$(cd "$WANT" && pwd -P)"`}, Env: []string{"WANT=" + dir}, WorkingDir: dir})
	require.NoError(t, err)
	waitDone(t, h, 5*time.Second)
	assert.Equal(t, 0, h.ExitCode())
}

func TestResolve_LauncherItself(t *testing.T) {
	h, err := Start(Spec{Name: "self", Command: "sleep", Args: []string{"30"}})
	require.NoError(t, err)
	defer h.Kill()

	ctx := context.Background()
	require.True(t, h.Resolve(ctx))
	pid, _, ok := h.PIDs(ctx)
	require.True(t, ok)
	assert.Equal(t, h.PID(), pid)

	m, ok := h.MemorySample(ctx)
	require.True(t, ok)
	assert.Greater(t, m.Virtual, uint64(0))
}

func TestResolve_NamedChild(t *testing.T) {
	// the trailing command keeps sh from exec'ing sleep directly
	h, err := Start(Spec{Name: "wrapper", Command: "sh", Args: []string{"-c", "sleep 30; true"}, TargetName: "sleep"})
	require.NoError(t, err)
	defer h.Kill()

	ctx := context.Background()
	require.Eventually(t, func() bool { return h.Resolve(ctx) }, 3*time.Second, 50*time.Millisecond)
	pid, ppid, ok := h.PIDs(ctx)
	require.True(t, ok)
	assert.NotEqual(t, h.PID(), pid)
	assert.Equal(t, h.PID(), ppid)
}

func TestResolve_NamedChildMissing(t *testing.T) {
	h, err := Start(Spec{Name: "wrapper", Command: "sh", Args: []string{"-c", "sleep 30; true"}, TargetName: "no-such-server"})
	require.NoError(t, err)
	defer h.Kill()

	time.Sleep(200 * time.Millisecond)
	assert.False(t, h.Resolve(context.Background()))
	_, ok := h.MemorySample(context.Background())
	assert.False(t, ok)
}

func TestTerminate_RealGraceful(t *testing.T) {
	h, err := Start(Spec{Name: "trap", Command: "sh", Args: []string{"-c", "trap 'exit 0' INT TERM; while true; do sleep 0.1; done"}})
	require.NoError(t, err)
	time.Sleep(200 * time.Millisecond)

	res := Terminate(h, TerminateOptions{GracefulTimeout: 3 * time.Second, KillSettle: time.Second, SignalAttempts: 3, SignalInterval: 100 * time.Millisecond})
	assert.True(t, res.Graceful)
	assert.False(t, res.Forced)
	waitDone(t, h, time.Second)
}

func TestTerminate_RealForced(t *testing.T) {
	h, err := Start(Spec{Name: "stubborn", Command: "sh", Args: []string{"-c", "trap '' INT TERM; while true; do sleep 0.1; done"}})
	require.NoError(t, err)
	time.Sleep(200 * time.Millisecond)

	opts := TerminateOptions{GracefulTimeout: 500 * time.Millisecond, KillSettle: 2 * time.Second, SignalAttempts: 3, SignalInterval: 100 * time.Millisecond}
	start := time.Now()
	res := Terminate(h, opts)

	assert.False(t, res.Graceful)
	assert.True(t, res.Forced)
	assert.True(t, res.Exited)
	assert.Equal(t, 137, res.ExitCode)
	assert.Less(t, time.Since(start), opts.GracefulTimeout+opts.KillSettle)
	waitDone(t, h, 100*time.Millisecond)
}

func TestTerminate_WrapperExitsTargetIgnoresSignal(t *testing.T) {
	// background jobs of a non-interactive sh ignore SIGINT, so the wrapper
	// exits on the signal and leaves sleep behind
	h, err := Start(Spec{Name: "wrapper", Command: "sh", Args: []string{"-c", "sleep 30 & wait"}, TargetName: "sleep"})
	require.NoError(t, err)
	defer h.Kill()

	ctx := context.Background()
	require.Eventually(t, func() bool { return h.Resolve(ctx) }, 3*time.Second, 50*time.Millisecond)
	target, _, ok := h.PIDs(ctx)
	require.True(t, ok)

	opts := TerminateOptions{GracefulTimeout: 500 * time.Millisecond, KillSettle: 2 * time.Second, SignalAttempts: 2, SignalInterval: 100 * time.Millisecond}
	res := Terminate(h, opts)

	assert.False(t, res.Graceful)
	assert.True(t, res.Forced)
	assert.True(t, res.Exited)
	waitDone(t, h, 100*time.Millisecond)
	assert.Eventually(t, func() bool { return !alive(target) }, 2*time.Second, 20*time.Millisecond, "target %d survived", target)
}

func TestKill_AfterLauncherExited(t *testing.T) {
	h, err := Start(Spec{Name: "wrapper", Command: "sh", Args: []string{"-c", "sleep 30 & wait"}, TargetName: "sleep"})
	require.NoError(t, err)

	ctx := context.Background()
	require.Eventually(t, func() bool { return h.Resolve(ctx) }, 3*time.Second, 50*time.Millisecond)
	target, _, _ := h.PIDs(ctx)
	require.NoError(t, h.SignalGraceful())
	waitDone(t, h, 3*time.Second)
	require.True(t, h.Resolve(ctx))

	require.NoError(t, h.Kill())
	assert.Eventually(t, func() bool { return !alive(target) }, 2*time.Second, 20*time.Millisecond)
}
