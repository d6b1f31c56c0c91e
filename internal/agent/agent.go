// Package agent wires the supervisor, the statistics reporter and the local
// HTTP API into one runtime.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/bhbghghbgb/pate-trigger-sv-mgr/internal/backup"
	"github.com/bhbghghbgb/pate-trigger-sv-mgr/internal/config"
	"github.com/bhbghghbgb/pate-trigger-sv-mgr/internal/health"
	"github.com/bhbghghbgb/pate-trigger-sv-mgr/internal/runner"
	sysrt "github.com/bhbghghbgb/pate-trigger-sv-mgr/internal/runtime"
	"github.com/bhbghghbgb/pate-trigger-sv-mgr/internal/stats"
	"github.com/bhbghghbgb/pate-trigger-sv-mgr/internal/store"
	"github.com/bhbghghbgb/pate-trigger-sv-mgr/internal/supervisor"
	"github.com/bhbghghbgb/pate-trigger-sv-mgr/internal/version"
)

// shutdownTimeout bounds the HTTP server drain.
const shutdownTimeout = 5 * time.Second

// Notifier receives backup artifacts. Log lines reach it through the logger.
type Notifier interface {
	Upload(ctx context.Context, paths ...string) error
}

// Agent is the top-level runtime handle.
type Agent struct {
	cfg      *config.Config
	start    time.Time
	sup      *supervisor.Supervisor
	reporter *stats.Reporter
	history  *store.History
	backup   *backup.Job
}

// New builds an Agent from cfg. n may be nil, in which case backup artifacts
// are produced but not uploaded.
func New(cfg *config.Config, n Notifier) (*Agent, error) {
	sig, err := sysrt.ParseSignal(cfg.Process.GracefulSignal)
	if err != nil {
		return nil, fmt.Errorf("graceful signal: %w", err)
	}
	spawner := runner.New(runner.Spec{
		Name:           cfg.Codename,
		Command:        cfg.Process.Command,
		Args:           cfg.Process.Args,
		Env:            cfg.Process.Environ(),
		WorkingDir:     cfg.Process.WorkingDir,
		TargetName:     cfg.Process.Name,
		CaptureOutput:  cfg.Process.CaptureOutput,
		GracefulSignal: sig,
		NoFile:         cfg.Process.OpenFiles,
	})

	job := backup.New(backup.Config{
		Enabled:    cfg.Backup.Enabled,
		Command:    cfg.Backup.Command,
		Args:       cfg.Backup.Args,
		WorkingDir: cfg.Backup.WorkingDir,
		LogPath:    cfg.Backup.LogPath,
		DataPath:   cfg.Backup.DataPath,
		UploadData: cfg.Backup.UploadData,
	}, n)

	return assemble(cfg, spawner, job), nil
}

// assemble connects the supervisor and reporter around spawner.
func assemble(cfg *config.Config, spawner runner.Spawner, job *backup.Job) *Agent {
	t := cfg.Timing
	history := store.NewHistory(store.DefaultHistorySize)
	opts := supervisor.Options{
		Spawner: spawner,
		Backup:  job,
		History: history,
		Limits: health.Limits{
			MaxMemory: uint64(cfg.Limits.MaxMemory),
			MaxUptime: cfg.Limits.MaxUptime.Std(),
		},
		Timing: supervisor.Timing{
			MonitorInterval:      t.MonitorInterval.Std(),
			PriorKill:            t.PriorKill.Std(),
			PriorKillLastWarning: t.PriorKillLastWarning.Std(),
			BackupInterval:       t.BackupInterval.Std(),
			Terminate: runner.TerminateOptions{
				GracefulTimeout: t.GracefulTimeout.Std(),
				KillSettle:      t.KillSettle.Std(),
				SignalAttempts:  t.SignalAttempts,
				SignalInterval:  t.SignalInterval.Std(),
			},
			StartAttempts:   t.StartAttempts,
			StartRetryDelay: t.StartRetryDelay.Std(),
			ResolveAttempts: t.ResolveAttempts,
			ResolveInterval: t.ResolveInterval.Std(),
		},
	}
	sup := supervisor.New(opts)
	reporter := stats.New(sup, t.StatisticsInterval.Std(), t.StatisticsInitialDelay.Std())
	sup.SetReporter(reporter)

	return &Agent{
		cfg:      cfg,
		start:    time.Now(),
		sup:      sup,
		reporter: reporter,
		history:  history,
		backup:   job,
	}
}

// Supervisor exposes the restart loop, mainly for status queries.
func (a *Agent) Supervisor() *supervisor.Supervisor { return a.sup }

// Run starts the supervisor, the reporter and the HTTP API and blocks until
// ctx is cancelled or the supervisor gives up. The managed process is
// terminated before Run returns.
func (a *Agent) Run(ctx context.Context) error {
	log.Info().
		Str("codename", a.cfg.Codename).
		Str("version", version.Version).
		Str("command", a.cfg.Process.Command).
		Msg(a.cfg.Expand(a.cfg.Notify.StartMessage))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return a.sup.Run(gctx)
	})
	g.Go(func() error { return a.reporter.Run(gctx) })

	if a.cfg.HTTP.Enabled && a.cfg.HTTP.Addr != "" {
		srv := &http.Server{Addr: a.cfg.HTTP.Addr, Handler: a.Router(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Info().Str("addr", srv.Addr).Msg("http api listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
			defer done()
			if err := srv.Shutdown(shutCtx); err != nil {
				log.Warn().Err(err).Msg("http shutdown error")
			}
			return nil
		})
	}

	err := g.Wait()
	log.Info().Str("codename", a.cfg.Codename).Dur("uptime", time.Since(a.start)).
		Msg(a.cfg.Expand(a.cfg.Notify.StopMessage))
	return err
}
