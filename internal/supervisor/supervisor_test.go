package supervisor

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bhbghghbgb/pate-trigger-sv-mgr/internal/health"
	"github.com/bhbghghbgb/pate-trigger-sv-mgr/internal/runner"
	"github.com/bhbghghbgb/pate-trigger-sv-mgr/internal/store"
)

type fakeProc struct {
	pid      int
	started  time.Time
	resolves bool
	stubborn bool // ignores the graceful signal
	mem      runner.MemorySample
	signals  atomic.Int32
	kills    atomic.Int32
	once     sync.Once
	done     chan struct{}
	code     atomic.Int32
}

func newFakeProc(pid int, resolves bool) *fakeProc {
	p := &fakeProc{pid: pid, started: time.Now(), resolves: resolves, done: make(chan struct{})}
	p.mem = runner.MemorySample{Virtual: 1 << 20, Resident: 1 << 19}
	p.code.Store(-1)
	return p
}

func (p *fakeProc) exit(code int) {
	p.once.Do(func() { p.code.Store(int32(code)); close(p.done) })
}

func (p *fakeProc) PID() int { return p.pid }

func (p *fakeProc) StartedAt() time.Time { return p.started }

func (p *fakeProc) Done() <-chan struct{} { return p.done }

func (p *fakeProc) ExitCode() int { return int(p.code.Load()) }

func (p *fakeProc) Resolve(context.Context) bool { return p.resolves && !p.exited() }

func (p *fakeProc) SignalGraceful() error {
	p.signals.Add(1)
	if !p.stubborn {
		p.exit(0)
	}
	return nil
}

func (p *fakeProc) Kill() error {
	p.kills.Add(1)
	p.exit(137)
	return nil
}

func (p *fakeProc) PIDs(ctx context.Context) (int, int, bool) { return p.pid, 1, p.Resolve(ctx) }

func (p *fakeProc) MemorySample(ctx context.Context) (runner.MemorySample, bool) {
	if !p.Resolve(ctx) {
		return runner.MemorySample{}, false
	}
	return p.mem, true
}

func (p *fakeProc) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// fakeSpawner hands out processes from next; a nil result means a spawn error.
type fakeSpawner struct {
	mu    sync.Mutex
	next  func(n int) *fakeProc
	procs []*fakeProc
	times []time.Time
}

func (s *fakeSpawner) Spawn() (runner.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.times)
	s.times = append(s.times, time.Now())
	p := s.next(n)
	if p == nil {
		return nil, errors.New("exec: not found")
	}
	s.procs = append(s.procs, p)
	return p, nil
}

func (s *fakeSpawner) spawns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.times)
}

// gap is the time between spawn attempts i-1 and i.
func (s *fakeSpawner) gap(i int) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.times[i].Sub(s.times[i-1])
}

func (s *fakeSpawner) proc(i int) *fakeProc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[i]
}

func healthy(n int) *fakeProc { return newFakeProc(1000+n, true) }

type countingBackup struct {
	periodic   atomic.Int32
	afterDeath atomic.Int32
}

func (b *countingBackup) Periodic(context.Context)   { b.periodic.Add(1) }
func (b *countingBackup) AfterDeath(context.Context) { b.afterDeath.Add(1) }

type countingReporter struct{ n atomic.Int32 }

func (r *countingReporter) Report(context.Context) { r.n.Add(1) }

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func captureLog(t *testing.T) *syncBuffer {
	t.Helper()
	buf := &syncBuffer{}
	prev := log.Logger
	log.Logger = zerolog.New(buf)
	t.Cleanup(func() { log.Logger = prev })
	return buf
}

var testTiming = Timing{
	MonitorInterval:      20 * time.Millisecond,
	PriorKill:            80 * time.Millisecond,
	PriorKillLastWarning: 30 * time.Millisecond,
	Terminate: runner.TerminateOptions{
		GracefulTimeout: 100 * time.Millisecond,
		KillSettle:      50 * time.Millisecond,
		SignalAttempts:  3,
		SignalInterval:  10 * time.Millisecond,
	},
	StartAttempts:   3,
	StartRetryDelay: 5 * time.Millisecond,
	ResolveAttempts: 2,
	ResolveInterval: 2 * time.Millisecond,
}

var roomyLimits = health.Limits{MaxMemory: 1 << 40, MaxUptime: time.Hour}

type harness struct {
	sup     *Supervisor
	spawner *fakeSpawner
	backup  *countingBackup
	cancel  context.CancelFunc
	errc    chan error
}

func startHarness(t *testing.T, next func(int) *fakeProc, lim health.Limits, setup ...func(*Supervisor)) *harness {
	t.Helper()
	h := &harness{spawner: &fakeSpawner{next: next}, backup: &countingBackup{}, errc: make(chan error, 1)}
	h.sup = New(Options{
		Spawner: h.spawner,
		Backup:  h.backup,
		History: store.NewHistory(10),
		Limits:  lim,
		Timing:  testTiming,
	})
	for _, fn := range setup {
		fn(h.sup)
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.errc <- h.sup.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.errc:
		case <-time.After(2 * time.Second):
		}
	})
	return h
}

func (h *harness) stop(t *testing.T) error {
	t.Helper()
	h.cancel()
	select {
	case err := <-h.errc:
		h.errc <- err
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop")
		return nil
	}
}

func TestRun_StartAttemptsExhausted(t *testing.T) {
	captureLog(t)
	h := startHarness(t, func(n int) *fakeProc { return newFakeProc(1000+n, false) }, roomyLimits)

	var err error
	select {
	case err = <-h.errc:
		h.errc <- err
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not give up")
	}
	require.ErrorIs(t, err, ErrStartExhausted)
	assert.ErrorIs(t, err, runner.ErrTargetNotFound)
	assert.Equal(t, 3, h.spawner.spawns())
	assert.Equal(t, StateFailed, h.sup.State())
	assert.Equal(t, 0, h.sup.Starts())
	for i := 0; i < 3; i++ {
		assert.Positive(t, h.spawner.proc(i).kills.Load(), "launcher %d not killed", i)
	}
	for i := 1; i < 3; i++ {
		assert.GreaterOrEqual(t, h.spawner.gap(i), testTiming.StartRetryDelay, "attempt %d", i)
	}
}

func TestRun_StartSucceedsOnRetry(t *testing.T) {
	captureLog(t)
	rep := &countingReporter{}
	h := startHarness(t, func(n int) *fakeProc {
		if n == 0 {
			return nil
		}
		return healthy(n)
	}, roomyLimits, func(s *Supervisor) { s.SetReporter(rep) })

	require.Eventually(t, func() bool { return h.sup.State() == StateRunning }, time.Second, 5*time.Millisecond)
	require.NoError(t, h.stop(t))

	assert.Equal(t, 2, h.spawner.spawns())
	assert.GreaterOrEqual(t, h.spawner.gap(1), testTiming.StartRetryDelay)
	assert.Equal(t, 1, h.sup.Starts())
	assert.Equal(t, StateStopped, h.sup.State())
	assert.Zero(t, h.backup.afterDeath.Load())
	assert.Positive(t, rep.n.Load())
}

func TestRun_UnexpectedDeathRestarts(t *testing.T) {
	logs := captureLog(t)
	h := startHarness(t, healthy, roomyLimits)

	require.Eventually(t, func() bool { return h.sup.Starts() == 1 }, time.Second, 5*time.Millisecond)
	h.spawner.proc(0).exit(3)

	require.Eventually(t, func() bool { return h.sup.Starts() == 2 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, logs.String(), "process died unexpectedly")
	assert.Equal(t, int32(1), h.backup.afterDeath.Load())

	rec, ok := h.sup.History().Last()
	require.True(t, ok)
	assert.Equal(t, string(ReasonUnexpectedDeath), rec.Reason)
	assert.Equal(t, 3, rec.ExitCode)
	assert.Equal(t, uint64(1), rec.Epoch)
	assert.Equal(t, uint64(2), h.sup.Epoch())

	require.NoError(t, h.stop(t))
}

func TestRun_HealthDegradedWaitsFullWarning(t *testing.T) {
	logs := captureLog(t)
	lim := health.Limits{MaxMemory: 1 << 40, MaxUptime: time.Millisecond}
	h := startHarness(t, healthy, lim)

	require.Eventually(t, func() bool { return h.sup.State() == StateWarning }, time.Second, 2*time.Millisecond)
	snap := h.sup.Snapshot(context.Background())
	assert.Contains(t, snap.WarningReason, "Uptime: false")
	assert.False(t, snap.WarningDeadline.IsZero())

	require.Eventually(t, func() bool { return h.spawner.spawns() >= 2 }, 2*time.Second, 5*time.Millisecond)
	h.spawner.mu.Lock()
	gap := h.spawner.times[1].Sub(h.spawner.times[0])
	h.spawner.mu.Unlock()
	assert.GreaterOrEqual(t, gap, testTiming.MonitorInterval+testTiming.PriorKill)

	require.Eventually(t, func() bool { return h.sup.History().Total() >= 1 }, time.Second, 5*time.Millisecond)
	rec := h.sup.History().List()[0]
	assert.Equal(t, string(ReasonHealthDegraded), rec.Reason)
	assert.True(t, rec.Graceful)

	out := logs.String()
	assert.Contains(t, out, "process is not healthy, restart in 0:00:00")
	assert.Contains(t, out, "process kill in")
	assert.NotContains(t, out, "process died unexpectedly")

	require.NoError(t, h.stop(t))
}

func TestRun_ShutdownTerminatesProcess(t *testing.T) {
	logs := captureLog(t)
	h := startHarness(t, healthy, roomyLimits)
	require.Eventually(t, func() bool { return h.sup.State() == StateRunning }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.stop(t))
	p := h.spawner.proc(0)
	assert.Positive(t, p.signals.Load())
	assert.True(t, p.exited())
	assert.Equal(t, StateStopped, h.sup.State())
	assert.NotContains(t, logs.String(), "process died unexpectedly")

	rec, ok := h.sup.History().Last()
	require.True(t, ok)
	assert.Equal(t, string(ReasonNone), rec.Reason)
	assert.Equal(t, 1, h.spawner.spawns())
}

func TestRun_RequestedRestart(t *testing.T) {
	captureLog(t)
	h := startHarness(t, healthy, roomyLimits)
	require.Eventually(t, func() bool { return h.sup.State() == StateRunning }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.sup.RequestRestart())
	require.Eventually(t, func() bool { return h.sup.Starts() == 2 }, time.Second, 5*time.Millisecond)

	rec, ok := h.sup.History().Last()
	require.True(t, ok)
	assert.Equal(t, string(ReasonRequested), rec.Reason)
	assert.True(t, rec.Graceful)
	require.NoError(t, h.stop(t))
}

func TestRequestRestart_Pending(t *testing.T) {
	captureLog(t)
	s := New(Options{Spawner: &fakeSpawner{next: healthy}})
	assert.ErrorIs(t, s.RequestRestart(), ErrNotRunning)

	s.transition(StateRunning)
	require.NoError(t, s.RequestRestart())
	assert.ErrorIs(t, s.RequestRestart(), ErrRestartPending)
	assert.True(t, s.Snapshot(context.Background()).RestartPending)

	for _, st := range []State{StateStarting, StateTerminating, StateIdle, StateStopped, StateFailed} {
		s.transition(st)
		assert.ErrorIs(t, s.RequestRestart(), ErrNotRunning, st)
	}
}

func TestInstall_DropsPreviousRequest(t *testing.T) {
	captureLog(t)
	s := New(Options{Spawner: &fakeSpawner{next: healthy}})
	s.transition(StateWarning)
	require.NoError(t, s.RequestRestart())

	s.install(healthy(0))
	assert.False(t, s.Snapshot(context.Background()).RestartPending)
	require.NoError(t, s.RequestRestart())
}

func TestRun_RequestDuringTerminationIgnored(t *testing.T) {
	captureLog(t)
	h := startHarness(t, func(n int) *fakeProc {
		p := healthy(n)
		p.stubborn = n == 0
		return p
	}, roomyLimits)
	require.Eventually(t, func() bool { return h.sup.State() == StateRunning }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.sup.RequestRestart())
	require.Eventually(t, func() bool { return h.sup.State() == StateTerminating }, time.Second, time.Millisecond)
	assert.ErrorIs(t, h.sup.RequestRestart(), ErrNotRunning)

	require.Eventually(t, func() bool { return h.sup.Starts() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(5 * testTiming.MonitorInterval)
	assert.Equal(t, 2, h.sup.Starts())
	assert.Equal(t, uint64(2), h.sup.Epoch())
	assert.Equal(t, StateRunning, h.sup.State())

	rec, ok := h.sup.History().Last()
	require.True(t, ok)
	assert.Equal(t, string(ReasonRequested), rec.Reason)
	assert.False(t, rec.Graceful)
	require.NoError(t, h.stop(t))
}

func TestDecision_FirstWins(t *testing.T) {
	cancels := 0
	d := &decision{
		epoch:    4,
		current:  func() uint64 { return 4 },
		cancel:   func() { cancels++ },
		reason:   ReasonNone,
		exitCode: -1,
	}
	assert.True(t, d.decide(ReasonUnexpectedDeath, 9))
	assert.False(t, d.decide(ReasonHealthDegraded, -1))
	assert.Equal(t, ReasonUnexpectedDeath, d.reason)
	assert.Equal(t, 9, d.exitCode)
	assert.Equal(t, 1, cancels)
}

func TestDecision_StaleEpochIgnored(t *testing.T) {
	captureLog(t)
	cancelled := false
	d := &decision{
		epoch:    4,
		current:  func() uint64 { return 5 },
		cancel:   func() { cancelled = true },
		reason:   ReasonNone,
		exitCode: -1,
	}
	assert.False(t, d.decide(ReasonHealthDegraded, -1))
	assert.Equal(t, ReasonNone, d.reason)
	assert.True(t, cancelled)
}

func TestSnapshot(t *testing.T) {
	captureLog(t)
	h := startHarness(t, healthy, roomyLimits)

	idle := New(Options{Spawner: h.spawner})
	s0 := idle.Snapshot(context.Background())
	assert.Equal(t, StateIdle, s0.State)
	assert.Zero(t, s0.PID)
	assert.Nil(t, s0.Memory)

	require.Eventually(t, func() bool { return h.sup.State() == StateRunning }, time.Second, 5*time.Millisecond)
	snap := h.sup.Snapshot(context.Background())
	assert.Equal(t, StateRunning, snap.State)
	assert.Equal(t, 1000, snap.PID)
	assert.Equal(t, 1, snap.PPID)
	require.NotNil(t, snap.Memory)
	assert.Equal(t, uint64(1<<20), snap.Memory.Virtual)
	assert.True(t, snap.Health.Healthy())
	assert.Equal(t, roomyLimits, snap.Limits)
	assert.Equal(t, 1, snap.Starts)
	require.NoError(t, h.stop(t))
}

func TestStateHasProcess(t *testing.T) {
	for st, want := range map[State]bool{
		StateIdle:        false,
		StateStarting:    false,
		StateRunning:     true,
		StateWarning:     true,
		StateTerminating: true,
		StateStopped:     false,
		StateFailed:      false,
	} {
		assert.Equal(t, want, st.HasProcess(), st)
	}
}
