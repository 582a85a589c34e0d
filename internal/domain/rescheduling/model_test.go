package rescheduling

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/blume/blume/internal/platform/auth"
)

func TestRequestTransitions(t *testing.T) {
	tests := []struct {
		from RequestStatus
		ev   requestEvent
		want RequestStatus
		ok   bool
	}{
		{StatusPending, eventApprove, StatusApproved, true},
		{StatusPending, eventReject, StatusRejected, true},
		{StatusPending, eventCancel, StatusCancelled, true},
		{StatusPending, eventComplete, "", false},
		{StatusApproved, eventComplete, StatusCompleted, true},
		{StatusApproved, eventCancel, StatusCancelled, true},
		{StatusApproved, eventApprove, "", false},
		{StatusRejected, eventCancel, "", false},
		{StatusCompleted, eventCancel, "", false},
		{StatusCancelled, eventApprove, "", false},
	}
	for _, tt := range tests {
		got, ok := nextRequestStatus(tt.from, tt.ev)
		if ok != tt.ok || got != tt.want {
			t.Errorf("%s --%s--> got (%q, %v), want (%q, %v)", tt.from, tt.ev, got, ok, tt.want, tt.ok)
		}
	}
}

func TestRequestStatus_IsActive(t *testing.T) {
	active := map[RequestStatus]bool{
		StatusPending:   true,
		StatusApproved:  true,
		StatusCompleted: true,
		StatusRejected:  false,
		StatusCancelled: false,
	}
	for s, want := range active {
		if got := s.IsActive(); got != want {
			t.Errorf("%s: expected %v, got %v", s, want, got)
		}
	}
}

func TestReasonCategory(t *testing.T) {
	tests := []struct {
		c           ReasonCategory
		refund      bool
		doctorFault bool
	}{
		{CategoryPatientNoShow, false, false},
		{CategoryDoctorNoShow, true, true},
		{CategoryMedicalEmergency, true, false},
		{CategoryPatientRequest, false, false},
		{CategorySchedulingError, true, false},
	}
	for _, tt := range tests {
		if !tt.c.Valid() {
			t.Errorf("%s should be valid", tt.c)
		}
		if tt.c.RequiresRefund() != tt.refund {
			t.Errorf("%s: refund expected %v", tt.c, tt.refund)
		}
		if tt.c.DoctorFault() != tt.doctorFault {
			t.Errorf("%s: doctor fault expected %v", tt.c, tt.doctorFault)
		}
	}
	if ReasonCategory("weather").Valid() {
		t.Error("unknown category should be invalid")
	}
}

func TestCategoryFor(t *testing.T) {
	tests := map[auth.Role]ReasonCategory{
		auth.RoleDoctor:  CategoryDoctorNoShow,
		auth.RolePatient: CategoryPatientRequest,
		auth.RoleAdmin:   CategorySchedulingError,
		auth.RoleSystem:  CategorySchedulingError,
	}
	for role, want := range tests {
		if got := categoryFor(role); got != want {
			t.Errorf("%s: expected %s, got %s", role, want, got)
		}
	}
}

func TestRequest_Proposes(t *testing.T) {
	base := time.Date(2026, time.March, 9, 9, 0, 0, 0, time.UTC)
	r := &Request{ProposedDates: []time.Time{base, base.Add(time.Hour)}}
	if !r.Proposes(base.In(time.FixedZone("UTC-5", -5*3600))) {
		t.Error("the same instant in another zone should match")
	}
	if r.Proposes(base.Add(time.Minute)) {
		t.Error("unexpected match")
	}
}

func TestReschedulingError(t *testing.T) {
	tests := []struct {
		err    *ReschedulingError
		status int
	}{
		{ErrUnauthorized, http.StatusForbidden},
		{ErrActiveRequestExists, http.StatusConflict},
		{ErrLimitReached, http.StatusConflict},
		{ErrAlreadyProcessed, http.StatusConflict},
		{ErrDateNotProposed, http.StatusUnprocessableEntity},
		{ErrUnpaidDoctorFault, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		if got := tt.err.HTTPStatus(); got != tt.status {
			t.Errorf("%s: expected %d, got %d", tt.err.Code, tt.status, got)
		}
	}
	if !errors.Is(reschedulingErr(CodeInvalidProposedDates, "custom"), ErrInvalidProposedDates) {
		t.Error("errors with the same code should match")
	}
}
