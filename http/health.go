package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// HealthStatus represents the health status of the application
type HealthStatus struct {
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Version   string          `json:"version,omitempty"`
	Uptime    int64           `json:"uptime_seconds,omitempty"`
	Robots    map[string]bool `json:"robots,omitempty"`
}

// APIStatus is the body of the plain /api/health check.
type APIStatus struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// HealthChecker manages health check state. Readiness additionally requires
// every registered probe to report true.
type HealthChecker struct {
	ready     atomic.Bool
	live      atomic.Bool
	startTime time.Time
	version   string
	logger    *slog.Logger

	mu     sync.RWMutex
	probes map[string]func() bool
}

func NewHealthChecker(logger *slog.Logger, version string) *HealthChecker {
	hc := &HealthChecker{
		startTime: time.Now(),
		version:   version,
		logger:    logger,
		probes:    make(map[string]func() bool),
	}
	// By default, liveness is true but readiness is false until explicitly set
	hc.live.Store(true)
	hc.ready.Store(false)
	return hc
}

// AddProbe registers a named readiness probe, replacing one of the same name.
func (hc *HealthChecker) AddProbe(name string, probe func() bool) {
	hc.mu.Lock()
	hc.probes[name] = probe
	hc.mu.Unlock()
}

func (hc *HealthChecker) SetReady(ready bool) {
	hc.ready.Store(ready)
	if ready {
		hc.logger.Info("Service marked as ready")
	} else {
		hc.logger.Warn("Service marked as not ready")
	}
}

func (hc *HealthChecker) SetLive(live bool) {
	hc.live.Store(live)
	if !live {
		hc.logger.Error("Service marked as not alive")
	}
}

// probeResults evaluates every probe and reports whether all passed.
func (hc *HealthChecker) probeResults() (map[string]bool, bool) {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	if len(hc.probes) == 0 {
		return nil, true
	}
	names := make([]string, 0, len(hc.probes))
	for name := range hc.probes {
		names = append(names, name)
	}
	sort.Strings(names)
	results := make(map[string]bool, len(names))
	all := true
	for _, name := range names {
		ok := hc.probes[name]()
		results[name] = ok
		all = all && ok
	}
	return results, all
}

func (hc *HealthChecker) IsReady() bool {
	if !hc.ready.Load() {
		return false
	}
	_, all := hc.probeResults()
	return all
}

func (hc *HealthChecker) IsLive() bool {
	return hc.live.Load()
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// ReadinessHandler handles readiness probe requests
func (hc *HealthChecker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		robots, all := hc.probeResults()
		if !hc.ready.Load() || !all {
			writeJSON(w, http.StatusServiceUnavailable, HealthStatus{
				Status:    "not_ready",
				Timestamp: time.Now(),
				Robots:    robots,
			})
			return
		}
		writeJSON(w, http.StatusOK, HealthStatus{
			Status:    "ready",
			Timestamp: time.Now(),
			Version:   hc.version,
			Uptime:    int64(time.Since(hc.startTime).Seconds()),
			Robots:    robots,
		})
	}
}

// LivenessHandler handles liveness probe requests
func (hc *HealthChecker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !hc.IsLive() {
			writeJSON(w, http.StatusServiceUnavailable, HealthStatus{
				Status:    "not_alive",
				Timestamp: time.Now(),
			})
			return
		}
		writeJSON(w, http.StatusOK, HealthStatus{
			Status:    "alive",
			Timestamp: time.Now(),
			Version:   hc.version,
			Uptime:    int64(time.Since(hc.startTime).Seconds()),
		})
	}
}

// APIHandler always answers ok while the process is serving HTTP.
func (hc *HealthChecker) APIHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, APIStatus{Status: "ok", Message: "robot telemetry bridge is running"})
	}
}

// OpsMux serves the health endpoints, the given metrics handler and pprof.
func (hc *HealthChecker) OpsMux(readinessPath, livenessPath string, metrics http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc(readinessPath, hc.ReadinessHandler())
	mux.HandleFunc(livenessPath, hc.LivenessHandler())
	mux.HandleFunc("/api/health", hc.APIHandler())
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
	// pprof registers itself on http.DefaultServeMux
	mux.Handle("/debug/pprof/", http.DefaultServeMux)
	return mux
}
