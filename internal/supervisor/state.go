package supervisor

import (
	"time"

	"github.com/bhbghghbgb/pate-trigger-sv-mgr/internal/health"
	"github.com/bhbghghbgb/pate-trigger-sv-mgr/internal/runner"
)

// State represents the current state of the supervisor.
type State string

const (
	StateIdle        State = "idle"
	StateStarting    State = "starting"
	StateRunning     State = "running"
	StateWarning     State = "warning"
	StateTerminating State = "terminating"
	StateStopped     State = "stopped"
	StateFailed      State = "failed"
)

// HasProcess reports whether a live process is associated with s.
func (s State) HasProcess() bool {
	return s == StateRunning || s == StateWarning || s == StateTerminating
}

// RestartReason is the decision a watcher hands back to the restart loop.
type RestartReason string

const (
	ReasonNone            RestartReason = "none"
	ReasonUnexpectedDeath RestartReason = "unexpected_death"
	ReasonHealthDegraded  RestartReason = "health_degraded"
	ReasonRequested       RestartReason = "requested"
)

// Snapshot is a point-in-time view used by reports and the local API.
type Snapshot struct {
	State            State                `json:"state"`
	Epoch            uint64               `json:"epoch"`
	Starts           int                  `json:"starts"`
	PID              int                  `json:"pid,omitempty"`
	PPID             int                  `json:"ppid,omitempty"`
	StartedAt        time.Time            `json:"started_at,omitzero"`
	Uptime           time.Duration        `json:"uptime"`
	Memory           *runner.MemorySample `json:"memory,omitempty"`
	Health           health.Status        `json:"health"`
	Limits           health.Limits        `json:"limits"`
	WarningReason    string               `json:"warning_reason,omitempty"`
	WarningDeadline  time.Time            `json:"warning_deadline,omitzero"`
	SupervisorUptime time.Duration        `json:"supervisor_uptime"`
	RestartPending   bool                 `json:"restart_pending"`
}
