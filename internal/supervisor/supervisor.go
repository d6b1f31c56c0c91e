package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bhbghghbgb/pate-trigger-sv-mgr/internal/health"
	"github.com/bhbghghbgb/pate-trigger-sv-mgr/internal/metrics"
	"github.com/bhbghghbgb/pate-trigger-sv-mgr/internal/runner"
	"github.com/bhbghghbgb/pate-trigger-sv-mgr/internal/store"
)

var (
	// ErrStartExhausted is returned by Run when every start attempt failed. It
	// is the only error that stops the supervisor.
	ErrStartExhausted = errors.New("process start attempts exhausted")
	// ErrNotRunning rejects a restart request while no process is being
	// monitored, including while one is starting or terminating.
	ErrNotRunning = errors.New("no running process")
	// ErrRestartPending rejects a restart request while another is queued.
	ErrRestartPending = errors.New("restart already pending")
)

// Backup is the backup step run periodically and after a process death.
type Backup interface {
	Periodic(ctx context.Context)
	AfterDeath(ctx context.Context)
}

// Reporter logs a status snapshot on demand.
type Reporter interface {
	Report(ctx context.Context)
}

// Timing holds every interval the loop and its watchers use.
type Timing struct {
	MonitorInterval      time.Duration
	PriorKill            time.Duration
	PriorKillLastWarning time.Duration
	BackupInterval       time.Duration
	Terminate            runner.TerminateOptions
	StartAttempts        int
	StartRetryDelay      time.Duration
	ResolveAttempts      int
	ResolveInterval      time.Duration
}

type Options struct {
	Spawner runner.Spawner
	Backup  Backup
	History *store.History
	Limits  health.Limits
	Timing  Timing
}

// Supervisor owns the single managed process and drives the restart loop.
// Watchers only read the process and epoch; every transition happens here.
type Supervisor struct {
	opts     Options
	bootedAt time.Time

	mu           sync.RWMutex
	state        State
	proc         runner.Process
	epoch        uint64
	starts       int
	expected     bool
	warnReason   string
	warnDeadline time.Time
	reporter     Reporter

	memMu sync.Mutex
	mem   memCache

	restartReq chan struct{}
}

// memCache is the last memory sample of one epoch. It is written only by the
// sampling call and never read across epochs.
type memCache struct {
	epoch  uint64
	sample *runner.MemorySample
	at     time.Time
}

type noBackup struct{}

func (noBackup) Periodic(context.Context)   {}
func (noBackup) AfterDeath(context.Context) {}

func New(opts Options) *Supervisor {
	if opts.Backup == nil {
		opts.Backup = noBackup{}
	}
	if opts.History == nil {
		opts.History = store.NewHistory(0)
	}
	if opts.Timing.StartAttempts <= 0 {
		opts.Timing.StartAttempts = 3
	}
	if opts.Timing.ResolveAttempts <= 0 {
		opts.Timing.ResolveAttempts = 3
	}
	return &Supervisor{
		opts:       opts,
		bootedAt:   time.Now(),
		state:      StateIdle,
		restartReq: make(chan struct{}, 1),
	}
}

// SetReporter installs the status reporter used after every start and before
// health warnings.
func (s *Supervisor) SetReporter(r Reporter) {
	s.mu.Lock()
	s.reporter = r
	s.mu.Unlock()
}

func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Supervisor) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// Starts is the number of successful starts since boot.
func (s *Supervisor) Starts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.starts
}

func (s *Supervisor) History() *store.History { return s.opts.History }

// RequestRestart asks the monitored process to be restarted. A request only
// applies to the process running when it is made: install drops any request
// left over from the previous epoch.
func (s *Supervisor) RequestRestart() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateRunning && s.state != StateWarning {
		return ErrNotRunning
	}
	select {
	case s.restartReq <- struct{}{}:
		log.Info().Uint64("epoch", s.epoch).Msg("restart requested")
		return nil
	default:
		return ErrRestartPending
	}
}

// setState changes state with logging. Caller holds s.mu.
func (s *Supervisor) setState(st State) {
	if s.state == st {
		return
	}
	s.state = st
	metrics.ObserveState(string(st))
	ev := log.Info().Str("state", string(st)).Uint64("epoch", s.epoch)
	if st == StateWarning {
		ev = ev.Str("reason", s.warnReason).Time("deadline", s.warnDeadline)
	}
	ev.Msg("state change")
}

func (s *Supervisor) transition(st State) {
	s.mu.Lock()
	s.setState(st)
	s.mu.Unlock()
}

// Run is the restart loop. It returns nil when ctx is cancelled, after the
// process has been terminated, and ErrStartExhausted when no start succeeds.
func (s *Supervisor) Run(ctx context.Context) error {
	var (
		reason   = ReasonNone
		exitCode = -1
	)
	for {
		if p := s.current(); p != nil {
			if ctx.Err() != nil {
				reason = ReasonNone
			}
			s.stop(p, reason, exitCode)
		}
		if ctx.Err() != nil {
			s.transition(StateStopped)
			return nil
		}
		if s.Starts() > 0 {
			s.opts.Backup.AfterDeath(ctx)
		}

		p, err := s.startWithRetry(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.transition(StateStopped)
				return nil
			}
			s.transition(StateFailed)
			log.WithLevel(zerolog.FatalLevel).Err(err).Msg("process could not be started, supervisor is stopping")
			return err
		}
		epoch := s.install(p)
		s.refreshMemory(ctx, epoch, p)
		s.report(ctx)

		reason, exitCode = s.monitor(ctx, epoch, p)
	}
}

func (s *Supervisor) current() runner.Process {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.proc
}

// install makes p the managed process of a new epoch.
func (s *Supervisor) install(p runner.Process) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proc = p
	s.epoch++
	s.starts++
	s.expected = false
	s.warnReason, s.warnDeadline = "", time.Time{}
	select {
	case <-s.restartReq:
		log.Info().Uint64("epoch", s.epoch-1).Msg("dropping restart request of previous process")
	default:
	}
	s.setState(StateRunning)
	metrics.IncStarts()
	log.Info().Int("pid", p.PID()).Int("starts", s.starts).Uint64("epoch", s.epoch).Msg("process started")
	return s.epoch
}

// markExpected flags the upcoming death of the current process as
// supervisor-initiated.
func (s *Supervisor) markExpected() {
	s.mu.Lock()
	s.expected = true
	s.mu.Unlock()
}

func (s *Supervisor) isExpected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expected
}

// stop terminates p and clears it. reason is why the loop is restarting.
func (s *Supervisor) stop(p runner.Process, reason RestartReason, exitCode int) {
	s.markExpected()
	s.transition(StateTerminating)
	res := runner.Terminate(p, s.opts.Timing.Terminate)
	if reason != ReasonUnexpectedDeath {
		exitCode = res.ExitCode
	}

	s.mu.Lock()
	epoch := s.epoch
	s.proc = nil
	s.warnReason, s.warnDeadline = "", time.Time{}
	s.setState(StateIdle)
	s.mu.Unlock()

	s.memMu.Lock()
	s.mem = memCache{}
	s.memMu.Unlock()

	s.opts.History.Append(store.RestartRecord{
		Epoch:     epoch,
		Reason:    string(reason),
		PID:       p.PID(),
		ExitCode:  exitCode,
		Graceful:  res.Graceful,
		StartedAt: p.StartedAt(),
		EndedAt:   time.Now(),
	})
	if reason != ReasonNone {
		metrics.IncRestarts(string(reason))
	}
}

// startWithRetry makes up to StartAttempts attempts, StartRetryDelay apart.
func (s *Supervisor) startWithRetry(ctx context.Context) (runner.Process, error) {
	t := s.opts.Timing
	var lastErr error
	for attempt := 1; attempt <= t.StartAttempts; attempt++ {
		s.transition(StateStarting)
		p, err := s.startOnce(ctx)
		if err == nil {
			return p, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Error().Err(err).Int("attempt", attempt).Int("attempts", t.StartAttempts).Msg("process start failed")
		if attempt < t.StartAttempts && !sleep(ctx, t.StartRetryDelay) {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrStartExhausted, t.StartAttempts, lastErr)
}

// startOnce spawns the launcher and waits for the target to show up in its
// process tree. A launcher whose target never appears is killed.
func (s *Supervisor) startOnce(ctx context.Context) (runner.Process, error) {
	p, err := s.opts.Spawner.Spawn()
	if err != nil {
		return nil, fmt.Errorf("spawn: %w", err)
	}
	t := s.opts.Timing
	for i := 0; i < t.ResolveAttempts; i++ {
		select {
		case <-ctx.Done():
			_ = p.Kill()
			return nil, ctx.Err()
		case <-p.Done():
			return nil, fmt.Errorf("%w: launcher exited with code %d", runner.ErrTargetNotFound, p.ExitCode())
		case <-time.After(t.ResolveInterval):
		}
		if p.Resolve(ctx) {
			return p, nil
		}
	}
	_ = p.Kill()
	return nil, fmt.Errorf("%w after %d lookups", runner.ErrTargetNotFound, t.ResolveAttempts)
}

// refreshMemory takes a fresh sample and stores it for epoch. It returns nil
// when the target cannot be located.
func (s *Supervisor) refreshMemory(ctx context.Context, epoch uint64, p runner.Process) *runner.MemorySample {
	var sample *runner.MemorySample
	if m, ok := p.MemorySample(ctx); ok {
		sample = &m
	}
	if s.Epoch() != epoch {
		return sample
	}
	s.memMu.Lock()
	s.mem = memCache{epoch: epoch, sample: sample, at: time.Now()}
	s.memMu.Unlock()
	if sample != nil {
		metrics.ObserveProcessMemory(sample.Virtual, sample.Resident)
	}
	return sample
}

// cachedMemory returns the last sample of epoch, or nil.
func (s *Supervisor) cachedMemory(epoch uint64) *runner.MemorySample {
	s.memMu.Lock()
	defer s.memMu.Unlock()
	if s.mem.epoch != epoch || s.mem.sample == nil {
		return nil
	}
	m := *s.mem.sample
	return &m
}

func (s *Supervisor) report(ctx context.Context) {
	s.mu.RLock()
	r := s.reporter
	s.mu.RUnlock()
	if r != nil {
		r.Report(ctx)
	}
}

// Snapshot returns the current view. Memory comes from the cache, so it can
// be up to one monitor interval old.
func (s *Supervisor) Snapshot(ctx context.Context) Snapshot {
	s.mu.RLock()
	snap := Snapshot{
		State:            s.state,
		Epoch:            s.epoch,
		Starts:           s.starts,
		Limits:           s.opts.Limits,
		WarningReason:    s.warnReason,
		WarningDeadline:  s.warnDeadline,
		SupervisorUptime: time.Since(s.bootedAt),
	}
	p := s.proc
	s.mu.RUnlock()
	snap.RestartPending = len(s.restartReq) > 0

	if p == nil {
		return snap
	}
	snap.StartedAt = p.StartedAt()
	snap.Uptime = time.Since(snap.StartedAt)
	if pid, ppid, ok := p.PIDs(ctx); ok {
		snap.PID, snap.PPID = pid, ppid
		snap.Memory = s.cachedMemory(snap.Epoch)
	}
	snap.Health = health.Evaluate(snap.Memory, snap.Uptime, s.opts.Limits)
	return snap
}

// sleep waits d or until ctx is done. It reports whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
