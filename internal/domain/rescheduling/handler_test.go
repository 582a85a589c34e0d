package rescheduling

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/blume/blume/internal/domain/scheduling"
	"github.com/blume/blume/internal/platform/auth"
	"github.com/blume/blume/internal/platform/httpx"
)

func newTestHandler(t *testing.T) (*Handler, *echo.Echo, *fixture) {
	f := newFixture(t, Options{})
	e := echo.New()
	e.Validator = httpx.NewValidator()
	return NewHandler(f.svc), e, f
}

func newContext(e *echo.Echo, method, body string, actor auth.Actor, id uuid.UUID) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, "/", nil)
	} else {
		req = httptest.NewRequest(method, "/", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	req = req.WithContext(auth.WithActor(req.Context(), actor))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(id.String())
	return c, rec
}

func expectStatus(t *testing.T, err error, status int) {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected HTTP error %d, got %v", status, err)
	}
	if he.Code != status {
		t.Errorf("expected %d, got %d (%v)", status, he.Code, he.Message)
	}
}

func TestHandler_RequestFlow(t *testing.T) {
	h, e, f := newTestHandler(t)
	a := f.confirmed(t, patientID, at(monday, 9, 0))

	body := `{"description":"travelling","proposed_dates":["2026-03-09T09:00:00Z","2026-03-16T09:00:00Z"]}`
	c, rec := newContext(e, http.MethodPost, body, patient, a.ID)
	if err := h.Create(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var r Request
	if err := json.Unmarshal(rec.Body.Bytes(), &r); err != nil {
		t.Fatal(err)
	}
	if r.Category != CategoryPatientRequest || r.Status != StatusPending || len(r.ProposedDates) != 2 {
		t.Errorf("unexpected request %+v", r)
	}

	c, _ = newContext(e, http.MethodPost, body, patient, a.ID)
	expectStatus(t, h.Create(c), http.StatusConflict)

	c, _ = newContext(e, http.MethodPost, `{"selected_date":"2026-03-23T09:00:00Z"}`, doctor, r.ID)
	expectStatus(t, h.Approve(c), http.StatusUnprocessableEntity)

	c, rec = newContext(e, http.MethodPost, `{"selected_date":"2026-03-16T09:00:00Z"}`, doctor, r.ID)
	if err := h.Approve(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &r); err != nil {
		t.Fatal(err)
	}
	if r.Status != StatusApproved || r.NewAppointmentID == nil {
		t.Fatalf("unexpected request %+v", r)
	}
	if got := f.appointment(t, *r.NewAppointmentID); got.Status != scheduling.StatusConfirmed {
		t.Errorf("expected a confirmed replacement, got %s", got.Status)
	}

	c, rec = newContext(e, http.MethodGet, "", doctor, a.ID)
	if err := h.List(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var items []Request
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil || len(items) != 1 {
		t.Errorf("expected 1 request, got %s", rec.Body.String())
	}
}

func TestHandler_Create_Validation(t *testing.T) {
	h, e, f := newTestHandler(t)
	a := f.confirmed(t, patientID, at(monday, 9, 0))

	c, _ := newContext(e, http.MethodPost, `{"reason_category":"weather","proposed_dates":["2026-03-09T09:00:00Z"]}`, patient, a.ID)
	expectStatus(t, h.Create(c), http.StatusBadRequest)

	c, _ = newContext(e, http.MethodPost, `{"proposed_dates":[]}`, patient, a.ID)
	expectStatus(t, h.Create(c), http.StatusUnprocessableEntity)

	c, _ = newContext(e, http.MethodPost, `{"proposed_dates":["2026-03-09T09:00:00Z"]}`, patient2, a.ID)
	expectStatus(t, h.Create(c), http.StatusForbidden)

	c, _ = newContext(e, http.MethodPost, `{"proposed_dates":["2026-03-09T09:00:00Z"]}`, patient, uuid.New())
	expectStatus(t, h.Create(c), http.StatusNotFound)
}

func TestHandler_ApproveWithoutAppointment(t *testing.T) {
	h, e, f := newTestHandler(t)
	a := f.confirmed(t, patientID, at(monday, 9, 0))
	c, rec := newContext(e, http.MethodPost, `{"proposed_dates":["2026-03-09T09:00:00Z"]}`, patient, a.ID)
	if err := h.Create(c); err != nil {
		t.Fatal(err)
	}
	var r Request
	if err := json.Unmarshal(rec.Body.Bytes(), &r); err != nil {
		t.Fatal(err)
	}

	c, _ = newContext(e, http.MethodPost, `{}`, doctor, r.ID)
	expectStatus(t, h.Approve(c), http.StatusBadRequest)

	c, rec = newContext(e, http.MethodPost, `{"selected_date":"2026-03-09T09:00:00Z","create_appointment":false}`, doctor, r.ID)
	if err := h.Approve(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(rec.Body.String(), `"new_appointment_id":"`) {
		t.Errorf("expected no replacement, got %s", rec.Body.String())
	}
}

func TestHandler_RejectAndCancel(t *testing.T) {
	h, e, f := newTestHandler(t)
	a := f.confirmed(t, patientID, at(monday, 9, 0))
	c, rec := newContext(e, http.MethodPost, `{"proposed_dates":["2026-03-09T09:00:00Z"]}`, patient, a.ID)
	if err := h.Create(c); err != nil {
		t.Fatal(err)
	}
	var r Request
	if err := json.Unmarshal(rec.Body.Bytes(), &r); err != nil {
		t.Fatal(err)
	}

	c, _ = newContext(e, http.MethodPost, `{}`, doctor, r.ID)
	expectStatus(t, h.Reject(c), http.StatusUnprocessableEntity)

	c, _ = newContext(e, http.MethodPost, `{}`, doctor, r.ID)
	expectStatus(t, h.Cancel(c), http.StatusForbidden)

	c, rec = newContext(e, http.MethodPost, `{"reason":"feeling better"}`, patient, r.ID)
	if err := h.Cancel(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"status":"cancelled"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}

	c, _ = newContext(e, http.MethodPost, `{"reason":"too late"}`, doctor, r.ID)
	expectStatus(t, h.Reject(c), http.StatusConflict)
}

func TestHandler_Alternatives(t *testing.T) {
	h, e, f := newTestHandler(t)
	a := f.confirmed(t, patientID, at(monday, 9, 0))

	c, rec := newContext(e, http.MethodGet, "", patient, a.ID)
	if err := h.Alternatives(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"2026-03-09T09:00:00Z"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}

	c, _ = newContext(e, http.MethodGet, "", patient2, a.ID)
	expectStatus(t, h.Alternatives(c), http.StatusNotFound)
}

func TestHandler_Get(t *testing.T) {
	h, e, _ := newTestHandler(t)

	c, _ := newContext(e, http.MethodGet, "", admin, uuid.New())
	expectStatus(t, h.Get(c), http.StatusNotFound)

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	expectStatus(t, h.Get(c), http.StatusUnauthorized)
}
