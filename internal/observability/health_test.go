package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHandleHealth_returnsOK(t *testing.T) {
	// Set build-time variables for test.
	origVersion, origCommit := Version, Commit
	Version = "1.2.3"
	Commit = "abc1234"
	t.Cleanup(func() {
		Version = origVersion
		Commit = origCommit
	})

	handler := HandleHealth()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Errorf("Cache-Control = %q", rec.Header().Get("Cache-Control"))
	}

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
	if resp.Version != "1.2.3" {
		t.Errorf("version = %q, want 1.2.3", resp.Version)
	}
	if resp.Commit != "abc1234" {
		t.Errorf("commit = %q, want abc1234", resp.Commit)
	}
}

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) HealthCheck(_ context.Context) error {
	return m.err
}

func serveReady(t *testing.T, checks ReadinessChecks) (*httptest.ResponseRecorder, ReadinessResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	HandleReady(checks).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	var resp ReadinessResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return rec, resp
}

func TestHandleReady_allHealthy(t *testing.T) {
	rec, resp := serveReady(t, ReadinessChecks{
		ContractorStore: &mockHealthChecker{},
		DocumentStore:   &mockHealthChecker{},
		RetryQueue:      CheckFunc(func(context.Context) error { return nil }),
		PolicyEngine:    &mockHealthChecker{},
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if resp.Status != "ready" {
		t.Errorf("status = %q, want ready", resp.Status)
	}
	for _, name := range []string{"contractor_store", "document_store", "retry_queue", "policy_engine"} {
		if resp.Checks[name].Status != "ok" {
			t.Errorf("%s = %q, want ok", name, resp.Checks[name].Status)
		}
	}
}

func TestHandleReady_storeNotConfigured(t *testing.T) {
	rec, resp := serveReady(t, ReadinessChecks{})

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if resp.Checks["contractor_store"].Error == "" {
		t.Error("contractor_store error should have a message")
	}
}

func TestHandleReady_dependencyDown(t *testing.T) {
	down := func(msg string) HealthChecker { return &mockHealthChecker{err: errors.New(msg)} }
	up := &mockHealthChecker{}

	tests := []struct {
		name       string
		checks     ReadinessChecks
		failed     string
		wantCode   int
		wantStatus string
	}{
		{"contractor store", ReadinessChecks{ContractorStore: down("connection refused")}, "contractor_store", http.StatusServiceUnavailable, "not_ready"},
		{"policy engine", ReadinessChecks{ContractorStore: up, PolicyEngine: down("no policy")}, "policy_engine", http.StatusServiceUnavailable, "not_ready"},
		{"document store", ReadinessChecks{ContractorStore: up, DocumentStore: down("bucket missing")}, "document_store", http.StatusOK, "degraded"},
		{"retry queue", ReadinessChecks{ContractorStore: up, RetryQueue: down("redis down")}, "retry_queue", http.StatusOK, "degraded"},
		{"critical wins over degraded", ReadinessChecks{ContractorStore: down("x"), RetryQueue: down("y")}, "contractor_store", http.StatusServiceUnavailable, "not_ready"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := serveReady(t, tt.checks)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", resp.Status, tt.wantStatus)
			}
			if resp.Checks[tt.failed].Status != "error" || resp.Checks[tt.failed].Error == "" {
				t.Errorf("%s = %+v, want error with message", tt.failed, resp.Checks[tt.failed])
			}
		})
	}
}

func TestHandleReady_withoutOptionalChecks(t *testing.T) {
	_, resp := serveReady(t, ReadinessChecks{ContractorStore: &mockHealthChecker{}})

	if len(resp.Checks) != 1 {
		t.Errorf("checks = %v, want only contractor_store", resp.Checks)
	}
}

func TestHandleReady_checkTimeout(t *testing.T) {
	slow := CheckFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	start := time.Now()
	rec, resp := serveReady(t, ReadinessChecks{ContractorStore: slow})
	if elapsed := time.Since(start); elapsed > checkTimeout+time.Second {
		t.Errorf("readiness took %v, want bounded by the check timeout", elapsed)
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if resp.Checks["contractor_store"].LatencyMs < 1000 {
		t.Errorf("latency = %dms, want about the check timeout", resp.Checks["contractor_store"].LatencyMs)
	}
}
