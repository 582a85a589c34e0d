package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type windowRequest struct {
	Weekday   int    `json:"weekday" validate:"min=0,max=6"`
	StartTime string `json:"start_time" validate:"required,clock"`
	EndTime   string `json:"end_time" validate:"required,clock"`
}

func TestValidator(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name    string
		req     windowRequest
		wantErr string
	}{
		{"valid", windowRequest{Weekday: 1, StartTime: "09:00", EndTime: "12:00"}, ""},
		{"bad clock", windowRequest{Weekday: 1, StartTime: "9am", EndTime: "12:00"}, "starttime: clock"},
		{"weekday out of range", windowRequest{Weekday: 7, StartTime: "09:00", EndTime: "12:00"}, "weekday: max=6"},
		{"missing end", windowRequest{Weekday: 1, StartTime: "09:00"}, "endtime: required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(&tt.req)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var he *echo.HTTPError
			if !errors.As(err, &he) {
				t.Fatalf("expected echo.HTTPError, got %v", err)
			}
			if he.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", he.Code)
			}
			p := he.Message.(Problem)
			if !strings.Contains(p.Message, tt.wantErr) {
				t.Errorf("expected message to contain %q, got %q", tt.wantErr, p.Message)
			}
		})
	}
}

func TestBindAndValidate(t *testing.T) {
	e := echo.New()
	e.Validator = NewValidator()

	body := `{"weekday":2,"start_time":"08:00","end_time":"13:00"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	var wr windowRequest
	if err := BindAndValidate(c, &wr); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wr.Weekday != 2 || wr.StartTime != "08:00" {
		t.Errorf("unexpected bind result: %+v", wr)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{not json`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c = e.NewContext(req, httptest.NewRecorder())
	if err := BindAndValidate(c, &wr); err == nil {
		t.Fatal("expected error for malformed body")
	}
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) Problem {
	t.Helper()
	var body map[string]Problem
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return body["error"]
}

func TestErrorHandler(t *testing.T) {
	e := echo.New()
	h := ErrorHandler(zerolog.Nop())

	tests := []struct {
		name     string
		err      error
		wantCode int
		wantType string
	}{
		{"problem", NewError(http.StatusConflict, "doctor_conflict", "slot taken"), http.StatusConflict, "doctor_conflict"},
		{"string message", echo.NewHTTPError(http.StatusNotFound, "appointment not found"), http.StatusNotFound, "not_found"},
		{"plain error", errors.New("db down"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
			c.Set("request_id", "rid-9")

			h(tt.err, c)

			if rec.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, rec.Code)
			}
			p := decodeProblem(t, rec)
			if p.Code != tt.wantType {
				t.Errorf("expected code %q, got %q", tt.wantType, p.Code)
			}
			if p.RequestID != "rid-9" {
				t.Errorf("expected request id rid-9, got %q", p.RequestID)
			}
		})
	}
}

type conflictErr struct{}

func (conflictErr) Error() string     { return "slot taken" }
func (conflictErr) HTTPStatus() int   { return http.StatusConflict }
func (conflictErr) ErrorCode() string { return "doctor_conflict" }

func TestFromDomain(t *testing.T) {
	err := FromDomain(fmt.Errorf("booking: %w", conflictErr{}))
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %T", err)
	}
	if he.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", he.Code)
	}
	p, ok := he.Message.(Problem)
	if !ok || p.Code != "doctor_conflict" || p.Message != "slot taken" {
		t.Errorf("unexpected problem %#v", he.Message)
	}

	plain := errors.New("db down")
	if got := FromDomain(plain); got != plain {
		t.Errorf("expected plain error to pass through, got %v", got)
	}
}
