// Package stats periodically logs system and process statistics.
package stats

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/bhbghghbgb/pate-trigger-sv-mgr/internal/metrics"
	"github.com/bhbghghbgb/pate-trigger-sv-mgr/internal/supervisor"
	"github.com/bhbghghbgb/pate-trigger-sv-mgr/internal/units"
)

// Source provides the supervisor view included in every report.
type Source interface {
	Snapshot(ctx context.Context) supervisor.Snapshot
}

// SystemMemory reads host memory usage.
type SystemMemory func(ctx context.Context) (SystemSample, error)

type SystemSample struct {
	VirtualUsed, VirtualTotal uint64
	SwapUsed, SwapTotal       uint64
}

// HostMemory reads the host's memory through gopsutil.
func HostMemory(ctx context.Context) (SystemSample, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return SystemSample{}, fmt.Errorf("virtual memory: %w", err)
	}
	sw, err := mem.SwapMemoryWithContext(ctx)
	if err != nil {
		return SystemSample{}, fmt.Errorf("swap memory: %w", err)
	}
	return SystemSample{
		VirtualUsed:  vm.Used,
		VirtualTotal: vm.Total,
		SwapUsed:     sw.Used,
		SwapTotal:    sw.Total,
	}, nil
}

// Reporter logs a statistics report every interval for the whole program
// lifetime. The wait is recomputed from the time of the last report, so slow
// reports do not make the schedule drift.
type Reporter struct {
	src      Source
	interval time.Duration
	system   SystemMemory
	now      func() time.Time

	mu   sync.Mutex
	last time.Time
}

// New returns a reporter whose first report is due initialDelay from now.
func New(src Source, interval, initialDelay time.Duration) *Reporter {
	r := &Reporter{src: src, interval: interval, system: HostMemory, now: time.Now}
	r.last = r.now().Add(initialDelay - interval)
	return r
}

// nextWait is how long to sleep before the next report is due.
func (r *Reporter) nextWait() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return max(r.interval-r.now().Sub(r.last), 0)
}

func (r *Reporter) Run(ctx context.Context) error {
	if r.interval <= 0 {
		log.Info().Msg("statistics reporter disabled")
		return nil
	}
	for {
		t := time.NewTimer(r.nextWait())
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		r.Report(ctx)
	}
}

// Report logs one statistics message and updates the gauges. It is also used
// by the supervisor after each start and before health warnings.
func (r *Reporter) Report(ctx context.Context) {
	r.mu.Lock()
	r.last = r.now()
	r.mu.Unlock()
	snap := r.src.Snapshot(ctx)
	sys, err := r.system(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("system memory unavailable")
	} else {
		metrics.ObserveSystemMemory(sys.VirtualUsed, sys.VirtualTotal, sys.SwapUsed, sys.SwapTotal)
	}
	metrics.SetUptime(snap.Uptime)
	log.Info().Msg(Format(sys, snap))
}

// Format renders the multi-line statistics message.
func Format(sys SystemSample, snap supervisor.Snapshot) string {
	var virt, res uint64
	if snap.Memory != nil {
		virt, res = snap.Memory.Virtual, snap.Memory.Resident
	}
	return fmt.Sprintf("System memory: Virtual %s/%s, Swap %s/%s\n"+
		"> Process memory: Virtual %s/%s, Resident %s\n"+
		"> Process uptime %s/%s, start count %d, pid %d (ppid %d)\n"+
		"> Script uptime %s\n"+
		"> Healthiness %s",
		units.Size(sys.VirtualUsed), units.Size(sys.VirtualTotal),
		units.Size(sys.SwapUsed), units.Size(sys.SwapTotal),
		units.Size(virt), units.Size(snap.Limits.MaxMemory), units.Size(res),
		units.Duration(snap.Uptime), units.Duration(snap.Limits.MaxUptime),
		snap.Starts, snap.PID, snap.PPID,
		units.Duration(snap.SupervisorUptime),
		snap.Health,
	)
}
