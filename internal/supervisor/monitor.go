package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/bhbghghbgb/pate-trigger-sv-mgr/internal/health"
	"github.com/bhbghghbgb/pate-trigger-sv-mgr/internal/metrics"
	"github.com/bhbghghbgb/pate-trigger-sv-mgr/internal/notify"
	"github.com/bhbghghbgb/pate-trigger-sv-mgr/internal/runner"
	"github.com/bhbghghbgb/pate-trigger-sv-mgr/internal/units"
)

// decision records the single restart verdict of one epoch. The first call
// to decide wins and cancels the group; later calls are no-ops.
type decision struct {
	once     sync.Once
	epoch    uint64
	current  func() uint64
	cancel   context.CancelFunc
	reason   RestartReason
	exitCode int
}

func (d *decision) decide(reason RestartReason, exitCode int) bool {
	won := false
	d.once.Do(func() {
		if d.current() != d.epoch {
			log.Debug().Uint64("epoch", d.epoch).Str("reason", string(reason)).Msg("stale restart decision ignored")
			d.cancel()
			return
		}
		d.reason, d.exitCode, won = reason, exitCode, true
		d.cancel()
	})
	return won
}

// monitor runs the watchers of one epoch until one of them decides a restart
// or ctx is cancelled. It returns after every watcher has returned.
func (s *Supervisor) monitor(ctx context.Context, epoch uint64, p runner.Process) (RestartReason, int) {
	gctx, cancel := context.WithCancel(ctx)
	defer cancel()

	d := &decision{epoch: epoch, current: s.Epoch, cancel: cancel, reason: ReasonNone, exitCode: -1}
	g, gctx := errgroup.WithContext(gctx)
	g.Go(func() error { s.watchDeath(gctx, p, d); return nil })
	g.Go(func() error { s.watchHealth(gctx, epoch, p, d); return nil })
	g.Go(func() error { s.watchBackup(gctx); return nil })
	g.Go(func() error { s.watchRequests(gctx, d); return nil })
	_ = g.Wait()

	log.Debug().Uint64("epoch", epoch).Str("reason", string(d.reason)).Msg("monitoring stopped")
	return d.reason, d.exitCode
}

func (s *Supervisor) watchDeath(ctx context.Context, p runner.Process, d *decision) {
	select {
	case <-ctx.Done():
		return
	case <-p.Done():
	}
	code := p.ExitCode()
	if s.isExpected() || ctx.Err() != nil {
		return
	}
	log.Error().Int("pid", p.PID()).Int("exit_code", code).Msg("process died unexpectedly")
	d.decide(ReasonUnexpectedDeath, code)
}

func (s *Supervisor) watchHealth(ctx context.Context, epoch uint64, p runner.Process, d *decision) {
	t := s.opts.Timing
	if t.MonitorInterval <= 0 {
		return
	}
	ticker := time.NewTicker(t.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		sample := s.refreshMemory(ctx, epoch, p)
		uptime := time.Since(p.StartedAt())
		status := health.Evaluate(sample, uptime, s.opts.Limits)
		metrics.SetUptime(uptime)
		metrics.SetHealthy(status.Healthy())
		for _, dim := range health.Dimensions {
			metrics.SetHealthDimension(string(dim), status.Get(dim))
		}
		if status.Healthy() {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		s.warn(ctx, epoch, status)
		if !sleep(ctx, t.PriorKill-t.PriorKillLastWarning) {
			return
		}
		log.Warn().Msgf("process kill in %s", units.Duration(t.PriorKillLastWarning))
		if !sleep(ctx, t.PriorKillLastWarning) {
			return
		}
		d.decide(ReasonHealthDegraded, -1)
		return
	}
}

// warn enters the Warning state and announces the upcoming restart.
func (s *Supervisor) warn(ctx context.Context, epoch uint64, status health.Status) {
	deadline := time.Now().Add(s.opts.Timing.PriorKill)
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	s.warnReason, s.warnDeadline = status.String(), deadline
	s.setState(StateWarning)
	s.mu.Unlock()

	s.report(ctx)
	log.Warn().Msgf("process is not healthy, restart in %s (%s), healthiness %s",
		units.Duration(s.opts.Timing.PriorKill), notify.RelativeTimestamp(deadline), status)
}

func (s *Supervisor) watchBackup(ctx context.Context) {
	if s.opts.Timing.BackupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.opts.Timing.BackupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.opts.Backup.Periodic(ctx)
		}
	}
}

func (s *Supervisor) watchRequests(ctx context.Context, d *decision) {
	select {
	case <-ctx.Done():
	case <-s.restartReq:
		log.Info().Msg("restarting process on request")
		d.decide(ReasonRequested, -1)
	}
}
