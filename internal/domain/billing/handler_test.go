package billing

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
	f := newFixture(t)
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

func TestHandler_PaymentFlow(t *testing.T) {
	h, e, f := newTestHandler(t)
	a := f.appointment(t, scheduling.StatusConfirmed, 100)

	c, rec := newContext(e, http.MethodPost, `{"method":"card"}`, patient, a.ID)
	if err := h.CreateInitialPayment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var p Payment
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatal(err)
	}

	c, _ = newContext(e, http.MethodPost, `{"method":"card"}`, patient, a.ID)
	expectStatus(t, h.CreateInitialPayment(c), http.StatusConflict)

	c, rec = newContext(e, http.MethodPost, "", patient, p.ID)
	if err := h.ProcessPayment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"status":"completed"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}

	c, _ = newContext(e, http.MethodPost, "", patient, p.ID)
	expectStatus(t, h.ProcessPayment(c), http.StatusConflict)

	c, rec = newContext(e, http.MethodGet, "", doctor, a.ID)
	if err := h.ListPayments(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var items []Payment
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil || len(items) != 1 {
		t.Errorf("expected 1 payment, got %s", rec.Body.String())
	}
}

func TestHandler_CreateInitialPayment_BadMethod(t *testing.T) {
	h, e, f := newTestHandler(t)
	a := f.appointment(t, scheduling.StatusConfirmed, 100)
	c, _ := newContext(e, http.MethodPost, `{"method":"bitcoin"}`, patient, a.ID)
	expectStatus(t, h.CreateInitialPayment(c), http.StatusBadRequest)
}

func TestHandler_AdditionalCharge(t *testing.T) {
	h, e, f := newTestHandler(t)
	a := f.appointment(t, scheduling.StatusPending, 100)

	c, _ := newContext(e, http.MethodPost, `{"amount":"40.00","concept":"Lab test","method":"cash"}`, doctor, a.ID)
	expectStatus(t, h.CreateAdditionalCharge(c), http.StatusUnprocessableEntity)

	confirmed := f.appointment(t, scheduling.StatusConfirmed, 100)
	c, rec := newContext(e, http.MethodPost, `{"amount":"40.00","concept":"Lab test","method":"cash"}`, doctor, confirmed.ID)
	if err := h.CreateAdditionalCharge(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated || !strings.Contains(rec.Body.String(), `"payment_type":"additional"`) {
		t.Errorf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_Refund(t *testing.T) {
	h, e, f := newTestHandler(t)

	c, _ := newContext(e, http.MethodPost, `{"reason":"doctor absent"}`, admin, uuid.New())
	expectStatus(t, h.CreateRefund(c), http.StatusNotFound)

	a := f.appointment(t, scheduling.StatusConfirmed, 100)
	c, _ = newContext(e, http.MethodPost, `{"reason":"doctor absent"}`, admin, a.ID)
	expectStatus(t, h.CreateRefund(c), http.StatusUnprocessableEntity)

	f.paid(t, a)
	c, rec := newContext(e, http.MethodPost, `{"reason":"doctor absent"}`, admin, a.ID)
	if err := h.CreateRefund(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"amount":"-100"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}

	c, _ = newContext(e, http.MethodPost, `{"reason":"doctor absent"}`, admin, a.ID)
	expectStatus(t, h.CreateRefund(c), http.StatusConflict)

	c, _ = newContext(e, http.MethodPost, `{}`, admin, a.ID)
	expectStatus(t, h.CreateRefund(c), http.StatusBadRequest)
}

func TestHandler_GetPayment_NotVisible(t *testing.T) {
	h, e, f := newTestHandler(t)
	a := f.appointment(t, scheduling.StatusConfirmed, 100)
	p := f.paid(t, a)

	c, _ := newContext(e, http.MethodGet, "", stranger, p.ID)
	expectStatus(t, h.GetPayment(c), http.StatusNotFound)

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	expectStatus(t, h.GetPayment(c), http.StatusUnauthorized)
}
