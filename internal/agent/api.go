package agent

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bhbghghbgb/pate-trigger-sv-mgr/internal/health"
	"github.com/bhbghghbgb/pate-trigger-sv-mgr/internal/version"
)

// Router returns the HTTP handler for the local API.
func (a *Agent) Router() http.Handler {
	mux := http.NewServeMux()

	// Liveness probe
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"codename": a.cfg.Codename,
			"version":  version.Version,
			"uptime":   time.Since(a.start).String(),
			"backup":   a.backup.Enabled(),
			"time_utc": time.Now().UTC().Format(time.RFC3339),
		})
	})

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/v1/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, a.sup.Snapshot(r.Context()))
	})

	// 503 while the process is unhealthy or absent, so the endpoint can back
	// an external probe.
	mux.HandleFunc("/v1/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		snap := a.sup.Snapshot(r.Context())
		failing := snap.Health.Failing()
		if failing == nil {
			failing = []health.Dimension{}
		}
		code := http.StatusOK
		if !snap.Health.Healthy() {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{
			"healthy": snap.Health.Healthy(),
			"state":   snap.State,
			"status":  snap.Health,
			"failing": failing,
		})
	})

	mux.HandleFunc("/v1/restarts", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"total":    a.history.Total(),
			"restarts": a.history.List(),
		})
	})

	mux.HandleFunc("/v1/restart", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := a.sup.RequestRestart(); err != nil {
			writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "state": a.sup.State()})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "restart requested", "epoch": a.sup.Epoch()})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
