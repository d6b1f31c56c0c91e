package runner

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrEmptyCommand is returned by Start when Spec.Command is blank.
	ErrEmptyCommand = errors.New("empty command")
	// ErrTargetNotFound means the monitored executable never appeared under the launcher.
	ErrTargetNotFound = errors.New("target process not found")
)

// MemorySample is one reading of the target's memory use in bytes.
type MemorySample struct {
	Virtual  uint64 `json:"virtual"`
	Resident uint64 `json:"resident"`
}

// Process is a started OS process as seen by the supervisor.
//
// The launcher (what was spawned) and the target (what is monitored) can be
// different processes: Resolve, MemorySample and PIDs operate on the target,
// Done and ExitCode on the launcher.
type Process interface {
	PID() int
	StartedAt() time.Time
	// Done is closed once the launcher has exited and been reaped.
	Done() <-chan struct{}
	// ExitCode is valid after Done is closed, -1 before.
	ExitCode() int
	// Resolve locates the target, re-validating any cached reference.
	Resolve(ctx context.Context) bool
	MemorySample(ctx context.Context) (MemorySample, bool)
	// PIDs returns the target pid and its parent pid.
	PIDs(ctx context.Context) (pid, ppid int, ok bool)
	SignalGraceful() error
	Kill() error
}

// Spawner starts a fresh instance of the supervised program.
type Spawner interface {
	Spawn() (Process, error)
}
