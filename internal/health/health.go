// Package health judges whether the supervised process should keep running.
package health

import (
	"fmt"
	"strings"
	"time"

	"github.com/bhbghghbgb/pate-trigger-sv-mgr/internal/runner"
)

// Dimension names one boolean contributing to overall health.
type Dimension string

const (
	Running Dimension = "Running"
	Memory  Dimension = "Memory"
	Uptime  Dimension = "Uptime"
)

// Dimensions lists every dimension in report order.
var Dimensions = []Dimension{Running, Memory, Uptime}

// Limits are the ceilings a healthy process stays under.
type Limits struct {
	MaxMemory uint64        `json:"max_memory"`
	MaxUptime time.Duration `json:"max_uptime"`
}

// Status is one verdict. Memory and Uptime are never true while Running is false.
type Status struct {
	Running bool `json:"running"`
	Memory  bool `json:"memory"`
	Uptime  bool `json:"uptime"`
}

// Evaluate is pure: sample is the freshest memory reading, nil when the process
// could not be located.
func Evaluate(sample *runner.MemorySample, uptime time.Duration, lim Limits) Status {
	if sample == nil {
		return Status{}
	}
	return Status{
		Running: true,
		Memory:  sample.Virtual < lim.MaxMemory,
		Uptime:  uptime < lim.MaxUptime,
	}
}

func (s Status) Healthy() bool { return s.Running && s.Memory && s.Uptime }

func (s Status) Get(d Dimension) bool {
	switch d {
	case Running:
		return s.Running
	case Memory:
		return s.Memory
	case Uptime:
		return s.Uptime
	}
	return false
}

func (s Status) Map() map[Dimension]bool {
	m := make(map[Dimension]bool, len(Dimensions))
	for _, d := range Dimensions {
		m[d] = s.Get(d)
	}
	return m
}

// Failing returns the false dimensions in report order.
func (s Status) Failing() []Dimension {
	var out []Dimension
	for _, d := range Dimensions {
		if !s.Get(d) {
			out = append(out, d)
		}
	}
	return out
}

// String renders e.g. {Running: true, Memory: true, Uptime: false}.
func (s Status) String() string {
	parts := make([]string, 0, len(Dimensions))
	for _, d := range Dimensions {
		parts = append(parts, fmt.Sprintf("%s: %t", d, s.Get(d)))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
