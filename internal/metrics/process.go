package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	processMemory = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: namespace, Subsystem: "process", Name: "memory_bytes", Help: "Process memory by kind (virtual, resident)."},
		[]string{"kind"},
	)
	processUptime = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: namespace, Subsystem: "process", Name: "uptime_seconds", Help: "Seconds since the process was last started."},
	)
	systemMemory = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: namespace, Subsystem: "system", Name: "memory_bytes", Help: "Host memory by kind (virtual_used, virtual_total, swap_used, swap_total)."},
		[]string{"kind"},
	)
)

// ObserveProcessMemory records the last memory sample of the supervised process.
func ObserveProcessMemory(virtual, resident uint64) {
	processMemory.WithLabelValues("virtual").Set(float64(virtual))
	processMemory.WithLabelValues("resident").Set(float64(resident))
}

func SetUptime(d time.Duration) { processUptime.Set(d.Seconds()) }

// ObserveSystemMemory records host memory figures.
func ObserveSystemMemory(virtualUsed, virtualTotal, swapUsed, swapTotal uint64) {
	systemMemory.WithLabelValues("virtual_used").Set(float64(virtualUsed))
	systemMemory.WithLabelValues("virtual_total").Set(float64(virtualTotal))
	systemMemory.WithLabelValues("swap_used").Set(float64(swapUsed))
	systemMemory.WithLabelValues("swap_total").Set(float64(swapTotal))
}
