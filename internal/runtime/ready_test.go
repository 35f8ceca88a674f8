package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type readyReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func getReady(t *testing.T, mux *http.ServeMux) (int, readyReport) {
	t.Helper()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	var report readyReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("readyz body: %v", err)
	}
	return rec.Code, report
}

func TestReadyz_AllChecksPass(t *testing.T) {
	mux := NewBaseMuxWithReady(
		ReadyCheck{Name: "db", Check: func(context.Context) error { return nil }},
		ReadyCheck{Name: "redis", Check: func(context.Context) error { return nil }},
	)
	code, report := getReady(t, mux)
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if report.Status != "ready" || report.Checks["db"] != "ok" || report.Checks["redis"] != "ok" {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestReadyz_FailingCheckDegrades(t *testing.T) {
	mux := NewBaseMuxWithReady(
		ReadyCheck{Name: "db", Check: func(context.Context) error { return nil }},
		ReadyCheck{Name: "kafka", Check: func(context.Context) error { return errors.New("dial refused") }},
	)
	code, report := getReady(t, mux)
	if code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", code)
	}
	if report.Status != "degraded" {
		t.Fatalf("status field = %q", report.Status)
	}
	if report.Checks["db"] != "ok" || report.Checks["kafka"] != "dial refused" {
		t.Fatalf("unexpected checks: %+v", report.Checks)
	}
}

func TestHealthz(t *testing.T) {
	mux := NewBaseMuxWithReady()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
