package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Version is reported by health endpoints
var Version = "1.0.0"

// HealthStatus represents the health status of the service
type HealthStatus struct {
	Status       string                      `json:"status"`
	Service      string                      `json:"service"`
	Version      string                      `json:"version"`
	Timestamp    string                      `json:"timestamp"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the status of a dependency
type DependencyStatus struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
}

// HealthCheckFunc reports whether a dependency is usable
type HealthCheckFunc func(ctx context.Context) (bool, error)

// HealthCheckHandler reports liveness. It never probes dependencies.
func HealthCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, newStatus("healthy", nil))
	}
}

// ReadinessHandler probes every named dependency and answers 503 when any fails
func ReadinessHandler(checks map[string]HealthCheckFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		dependencies, ready := RunChecks(ctx, checks)
		if !ready {
			writeStatus(w, http.StatusServiceUnavailable, newStatus("not_ready", dependencies))
			return
		}
		writeStatus(w, http.StatusOK, newStatus("ready", dependencies))
	}
}

func newStatus(status string, dependencies map[string]DependencyStatus) HealthStatus {
	return HealthStatus{
		Status:       status,
		Service:      ServiceName,
		Version:      Version,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		Dependencies: dependencies,
	}
}

func writeStatus(w http.ResponseWriter, code int, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}

// RunChecks runs the non-nil checks concurrently and reports whether all passed
func RunChecks(ctx context.Context, checks map[string]HealthCheckFunc) (map[string]DependencyStatus, bool) {
	var (
		mu           sync.Mutex
		wg           sync.WaitGroup
		dependencies = make(map[string]DependencyStatus, len(checks))
		ready        = true
	)

	for name, check := range checks {
		if check == nil {
			continue
		}
		wg.Add(1)
		go func(name string, check HealthCheckFunc) {
			defer wg.Done()

			start := time.Now()
			healthy, err := check(ctx)
			dep := DependencyStatus{Status: "healthy", LatencyMs: time.Since(start).Milliseconds()}
			if err != nil || !healthy {
				dep.Status = "unhealthy"
				if err != nil {
					dep.Message = err.Error()
				}
			}

			mu.Lock()
			dependencies[name] = dep
			if dep.Status != "healthy" {
				ready = false
			}
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()

	return dependencies, ready
}
