package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/blume/blume/internal/config"
	"github.com/blume/blume/internal/domain/billing"
	"github.com/blume/blume/internal/domain/rescheduling"
	"github.com/blume/blume/internal/domain/scheduling"
	"github.com/blume/blume/internal/platform/db"
	"github.com/blume/blume/internal/platform/locker"
	"github.com/blume/blume/internal/platform/notification"
	"github.com/blume/blume/internal/platform/worker"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:                     "8000",
		Env:                      "development",
		CORSOrigins:              []string{"http://localhost:4200"},
		RateLimitRPS:             100,
		RateLimitBurst:           200,
		Timezone:                 "UTC",
		DefaultConsultationFee:   "100",
		PatientCancelNoticeHours: 24,
		RescheduleSearchDays:     30,
		RescheduleFallbackHour:   9,
		ReminderCron:             "@every 15m",
		ReminderHorizonHours:     24,
		RefundRetryCron:          "@every 1h",
		PaymentRecoveryCron:      "@every 5m",
	}
}

func memoryStores() stores {
	appts := scheduling.NewInMemoryAppointmentStore()
	windows := scheduling.NewInMemoryWindowStore()
	payments := billing.NewInMemoryPaymentStore()
	requests := rescheduling.NewInMemoryRequestStore()
	return stores{
		appts:         appts,
		windows:       windows,
		payments:      payments,
		requests:      requests,
		notifications: notification.NewInMemoryStore(),
		tx:            db.NewMemoryTransactor(appts, windows, payments, requests),
	}
}

func newTestServer(t *testing.T, checks ...db.Check) (*app, *echo.Echo) {
	t.Helper()
	cfg := testConfig()
	a, err := newApp(cfg, memoryStores(), nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	return a, a.router(cfg, zerolog.Nop(), checks...)
}

func serve(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestNewApp_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Timezone = "Mars/Olympus"
	if _, err := newApp(cfg, memoryStores(), nil, zerolog.Nop()); err == nil {
		t.Error("expected an unknown timezone to be rejected")
	}

	cfg = testConfig()
	cfg.DefaultConsultationFee = "ten"
	if _, err := newApp(cfg, memoryStores(), nil, zerolog.Nop()); err == nil {
		t.Error("expected a malformed fee to be rejected")
	}
}

func TestHealth(t *testing.T) {
	_, e := newTestServer(t)
	rec := serve(e, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["version"] != version {
		t.Errorf("expected version %s, got %s", version, body["version"])
	}
	if rec.Header().Get(echo.HeaderXRequestID) == "" {
		t.Error("expected a request id header")
	}
}

func TestReadiness(t *testing.T) {
	_, e := newTestServer(t,
		db.Check{Name: "database", Ping: func(context.Context) error { return nil }},
		db.Check{Name: "amqp"},
	)
	if rec := serve(e, http.MethodGet, "/health/ready", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	_, e = newTestServer(t, db.Check{Name: "database", Ping: func(context.Context) error {
		return errors.New("connection refused")
	}})
	rec := serve(e, http.MethodGet, "/health/ready", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "connection refused") {
		t.Errorf("expected the failing check to be reported, got %s", rec.Body.String())
	}
}

func TestDevelopmentRequestsActAsAdmin(t *testing.T) {
	_, e := newTestServer(t)
	rec := serve(e, http.MethodPost, "/api/v1/schedule-windows", `{
		"doctor_id": "11111111-1111-1111-1111-111111111111",
		"weekday": 1,
		"start_time": "09:00",
		"end_time": "12:00"
	}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = serve(e, http.MethodGet, "/api/v1/doctors/11111111-1111-1111-1111-111111111111/windows", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "09:00") {
		t.Errorf("expected the new window to be listed, got %s", rec.Body.String())
	}
}

func TestTokensAreVerifiedInDevelopment(t *testing.T) {
	_, e := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer not-a-token")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	_, e := newTestServer(t)
	if rec := serve(e, http.MethodGet, "/api/v1/nowhere", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestSchedule(t *testing.T) {
	a, _ := newTestServer(t)
	cfg := testConfig()
	w := worker.New(locker.NewMemoryLocker(), zerolog.Nop(), worker.Options{})
	if err := a.schedule(cfg, w); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	cfg.PaymentRecoveryCron = "every so often"
	if err := a.schedule(cfg, worker.New(locker.NewMemoryLocker(), zerolog.Nop(), worker.Options{})); err == nil {
		t.Error("expected a bad cron spec to be rejected")
	}
}

func TestRootCommand(t *testing.T) {
	root := rootCmd()
	want := map[string]bool{"serve": false, "worker": false, "migrate": false}
	for _, c := range root.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("expected a %s command", name)
		}
	}

	migrate, _, err := root.Find([]string{"migrate", "status"})
	if err != nil || migrate.Name() != "status" {
		t.Errorf("expected migrate status, got %v", err)
	}
}

func TestPrintStatus(t *testing.T) {
	var buf bytes.Buffer
	printStatus(&buf, []db.MigrationStatus{{Version: 1, Name: "core", Applied: false}})
	out := buf.String()
	if !strings.Contains(out, "VERSION") || !strings.Contains(out, "pending") {
		t.Errorf("unexpected status output: %s", out)
	}
}
