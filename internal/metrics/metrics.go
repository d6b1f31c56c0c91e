package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "svmgr"

var (
	once sync.Once

	stateMu   sync.Mutex
	lastState string

	supervisorState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "state",
			Help:      "Supervisor state gauge (1 for the current state, 0 otherwise).",
		},
		[]string{"state"},
	)
	processStarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "starts_total",
			Help:      "Number of successful process starts.",
		},
	)
	processRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "restarts_total",
			Help:      "Number of restarts by reason.",
		},
		[]string{"reason"},
	)
	processHealthy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "healthy",
			Help:      "Process health (1 healthy, 0 unhealthy).",
		},
	)
	processHealthDimension = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "health_dimension",
			Help:      "Per-dimension health verdict (1 ok, 0 failing).",
		},
		[]string{"dimension"},
	)
	backupRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backup",
			Name:      "runs_total",
			Help:      "Backup runs by result.",
		},
		[]string{"result"},
	)
	notifyFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "failures_total",
			Help:      "Failed deliveries by sink.",
		},
		[]string{"sink"},
	)
	notifyDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "dropped_total",
			Help:      "Messages dropped because the notifier queue was full or closed.",
		},
	)
)

// initRegistry registers metrics once.
func init() {
	once.Do(func() {
		prometheus.MustRegister(
			supervisorState, processStarts, processRestarts, processHealthy, processHealthDimension,
			backupRuns, notifyFailures, notifyDropped,
			processMemory, processUptime, systemMemory,
		)
	})
}

// ObserveState sets the gauge for the current state to 1 and the previous one to 0.
func ObserveState(state string) {
	stateMu.Lock()
	defer stateMu.Unlock()
	if lastState != "" && lastState != state {
		supervisorState.WithLabelValues(lastState).Set(0)
	}
	supervisorState.WithLabelValues(state).Set(1)
	lastState = state
}

func IncStarts() { processStarts.Inc() }

func IncRestarts(reason string) { processRestarts.WithLabelValues(reason).Inc() }

func SetHealthy(healthy bool) { processHealthy.Set(boolGauge(healthy)) }

func SetHealthDimension(dimension string, ok bool) {
	processHealthDimension.WithLabelValues(dimension).Set(boolGauge(ok))
}

func IncBackup(result string) { backupRuns.WithLabelValues(result).Inc() }

func IncNotifyFailure(sink string) { notifyFailures.WithLabelValues(sink).Inc() }

func IncNotifyDropped() { notifyDropped.Inc() }

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
