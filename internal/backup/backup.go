// Package backup runs the external backup program and ships its artifacts.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bhbghghbgb/pate-trigger-sv-mgr/internal/metrics"
)

// tailLimit caps how much output is echoed into the log on failure.
const tailLimit = 8192

// Uploader ships files to the notifier.
type Uploader interface {
	Upload(ctx context.Context, paths ...string) error
}

// Config mirrors the [backup] config section.
type Config struct {
	Enabled    bool
	Command    string
	Args       []string
	WorkingDir string
	LogPath    string
	DataPath   string
	UploadData bool
}

// Job is the backup step. A broken pipeline is logged and never returned to
// the caller of Periodic or AfterDeath.
type Job struct {
	cfg Config
	up  Uploader
	mu  sync.Mutex // one run at a time
}

func New(cfg Config, up Uploader) *Job {
	return &Job{cfg: cfg, up: up}
}

func (j *Job) Enabled() bool { return j != nil && j.cfg.Enabled && j.cfg.Command != "" }

// Run executes the backup program, writes its combined output to LogPath and
// returns the artifacts produced. A non-zero exit still yields the log.
func (j *Job) Run(ctx context.Context) ([]string, error) {
	if !j.Enabled() {
		return nil, nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	start := time.Now()
	cmd := exec.CommandContext(ctx, j.cfg.Command, j.cfg.Args...)
	if j.cfg.WorkingDir != "" {
		cmd.Dir = j.cfg.WorkingDir
	}
	cmd.WaitDelay = time.Second
	out, runErr := cmd.CombinedOutput()

	if err := writeLog(j.cfg.LogPath, out); err != nil {
		metrics.IncBackup("io_error")
		return nil, fmt.Errorf("write backup log: %w", err)
	}
	files := []string{j.cfg.LogPath}
	if runErr != nil {
		metrics.IncBackup("failed")
		return files, fmt.Errorf("backup command: %w (output tail: %s)", runErr, tail(out))
	}
	metrics.IncBackup("ok")
	log.Info().Dur("elapsed", time.Since(start)).Str("log", j.cfg.LogPath).Msg("backup completed")
	return files, nil
}

// writeLog replaces path through a temp file so an upload never sees a
// half-written log.
func writeLog(path string, out []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func tail(out []byte) string {
	if len(out) > tailLimit {
		out = out[len(out)-tailLimit:]
	}
	return strings.TrimSpace(string(out))
}

// Periodic runs the backup and uploads its log.
func (j *Job) Periodic(ctx context.Context) {
	if !j.Enabled() {
		return
	}
	log.Info().Msg("backup started")
	files, err := j.Run(ctx)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			log.Warn().Msg("backup cancelled")
		} else {
			log.Error().Err(err).Msg("backup failed")
		}
	}
	j.upload(ctx, files...)
}

// AfterDeath runs the backup once a process has gone away and also uploads
// the data archive when configured.
func (j *Job) AfterDeath(ctx context.Context) {
	if !j.Enabled() {
		return
	}
	j.Periodic(ctx)
	if j.cfg.UploadData && j.cfg.DataPath != "" {
		j.upload(ctx, j.cfg.DataPath)
	}
}

func (j *Job) upload(ctx context.Context, paths ...string) {
	if j.up == nil || len(paths) == 0 || ctx.Err() != nil {
		return
	}
	if err := j.up.Upload(ctx, paths...); err != nil {
		log.Warn().Err(err).Strs("files", paths).Msg("backup upload failed")
	}
}
