package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Build-time variables injected via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

// HealthResponse is the JSON response for the liveness endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// ReadinessResponse is the JSON response for the readiness endpoint. Status
// is ready, degraded or not_ready.
type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// CheckResult is the result of a single readiness check.
type CheckResult struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthChecker can verify its own health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// CheckFunc adapts a function to HealthChecker.
type CheckFunc func(ctx context.Context) error

// HealthCheck calls f.
func (f CheckFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// ReadinessChecks holds the dependency checkers for the readiness endpoint.
// The contractor store and the policy engine gate traffic: without them no
// admin or signing request can succeed. Documents and the retry queue only
// back the asynchronous PDF render, so their failure reports "degraded"
// while the instance stays in rotation.
type ReadinessChecks struct {
	ContractorStore HealthChecker
	PolicyEngine    HealthChecker

	DocumentStore HealthChecker
	RetryQueue    HealthChecker
}

type namedCheck struct {
	name     string
	checker  HealthChecker
	critical bool
}

func (c ReadinessChecks) list() []namedCheck {
	all := []namedCheck{
		{"contractor_store", c.ContractorStore, true},
		{"policy_engine", c.PolicyEngine, true},
		{"document_store", c.DocumentStore, false},
		{"retry_queue", c.RetryQueue, false},
	}
	out := all[:0]
	for _, nc := range all {
		if nc.checker != nil || nc.name == "contractor_store" {
			out = append(out, nc)
		}
	}
	return out
}

const checkTimeout = 2 * time.Second

// HandleHealth returns an HTTP handler for the liveness endpoint.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeHealthJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: Version,
			Commit:  Commit,
		})
	}
}

// HandleReady returns an HTTP handler for the readiness endpoint. Checks
// run concurrently, each bounded by checkTimeout.
func HandleReady(checks ReadinessChecks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list := checks.list()
		results := make([]CheckResult, len(list))

		var wg sync.WaitGroup
		for i, nc := range list {
			if nc.checker == nil {
				results[i] = CheckResult{Status: "error", Error: nc.name + " not configured"}
				continue
			}
			i, nc := i, nc
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i] = runCheck(r.Context(), nc.checker)
			}()
		}
		wg.Wait()

		resp := ReadinessResponse{Status: "ready", Checks: make(map[string]CheckResult, len(list))}
		httpStatus := http.StatusOK
		for i, nc := range list {
			resp.Checks[nc.name] = results[i]
			if results[i].Status == "ok" {
				continue
			}
			if nc.critical {
				resp.Status = "not_ready"
				httpStatus = http.StatusServiceUnavailable
			} else if resp.Status == "ready" {
				resp.Status = "degraded"
			}
		}

		writeHealthJSON(w, httpStatus, resp)
	}
}

func writeHealthJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// runCheck executes a health check with a per-check timeout.
func runCheck(parent context.Context, checker HealthChecker) CheckResult {
	ctx, cancel := context.WithTimeout(parent, checkTimeout)
	defer cancel()

	start := time.Now()
	err := checker.HealthCheck(ctx)
	result := CheckResult{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		result.Status = "error"
		result.Error = err.Error()
	}
	return result
}
