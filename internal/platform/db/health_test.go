package db

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestPoolStats_UnhealthyState(t *testing.T) {
	stats := &PoolStats{
		MaxConns:        20,
		AcquireDuration: "0s",
		Healthy:         false,
	}

	if stats.Healthy {
		t.Error("expected Healthy to be false when TotalConns is 0")
	}
	if stats.TotalConns != 0 {
		t.Errorf("expected TotalConns 0, got %d", stats.TotalConns)
	}
}

func runReadiness(t *testing.T, checks ...Check) (int, map[string]interface{}) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := ReadinessHandler(checks...)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return rec.Code, body
}

func TestReadinessHandler_AllHealthy(t *testing.T) {
	ok := func(ctx context.Context) error { return nil }
	code, body := runReadiness(t,
		Check{Name: "postgres", Ping: ok},
		Check{Name: "redis", Ping: ok},
		Check{Name: "amqp"},
	)

	if code != http.StatusOK {
		t.Errorf("expected 200, got %d", code)
	}
	if body["status"] != "healthy" {
		t.Errorf("expected healthy, got %v", body["status"])
	}
	checks := body["checks"].(map[string]interface{})
	if checks["amqp"] != "disabled" {
		t.Errorf("expected amqp disabled, got %v", checks["amqp"])
	}
	if checks["redis"] != "ok" {
		t.Errorf("expected redis ok, got %v", checks["redis"])
	}
}

func TestReadinessHandler_FailingCheck(t *testing.T) {
	code, body := runReadiness(t,
		Check{Name: "postgres", Ping: func(ctx context.Context) error { return nil }},
		Check{Name: "redis", Ping: func(ctx context.Context) error { return errors.New("connection refused") }},
	)

	if code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", code)
	}
	if body["status"] != "unhealthy" {
		t.Errorf("expected unhealthy, got %v", body["status"])
	}
	checks := body["checks"].(map[string]interface{})
	if checks["redis"] != "connection refused" {
		t.Errorf("expected redis error message, got %v", checks["redis"])
	}
}
