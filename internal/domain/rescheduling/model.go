package rescheduling

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/blume/blume/internal/platform/auth"
)

// MaxReschedules caps how many times one appointment chain can be moved.
const MaxReschedules = 3

// MaxProposedDates is the most dates a request may offer.
const MaxProposedDates = 3

type ReasonCategory string

const (
	CategoryPatientNoShow    ReasonCategory = "patient_no_show"
	CategoryDoctorNoShow     ReasonCategory = "doctor_no_show"
	CategoryMedicalEmergency ReasonCategory = "medical_emergency"
	CategoryPatientRequest   ReasonCategory = "patient_request"
	CategorySchedulingError  ReasonCategory = "scheduling_error"
)

var validCategories = map[ReasonCategory]bool{
	CategoryPatientNoShow:    true,
	CategoryDoctorNoShow:     true,
	CategoryMedicalEmergency: true,
	CategoryPatientRequest:   true,
	CategorySchedulingError:  true,
}

func (c ReasonCategory) Valid() bool { return validCategories[c] }

// RequiresRefund reports whether approving a request of this category
// refunds the original consultation payment.
func (c ReasonCategory) RequiresRefund() bool {
	switch c {
	case CategoryDoctorNoShow, CategoryMedicalEmergency, CategorySchedulingError:
		return true
	}
	return false
}

// DoctorFault reports whether the clinic is to blame. Such requests need a
// paid appointment.
func (c ReasonCategory) DoctorFault() bool { return c == CategoryDoctorNoShow }

// categoryFor infers the category when the requester did not give one.
func categoryFor(role auth.Role) ReasonCategory {
	switch role {
	case auth.RoleDoctor:
		return CategoryDoctorNoShow
	case auth.RolePatient:
		return CategoryPatientRequest
	}
	return CategorySchedulingError
}

type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusApproved  RequestStatus = "approved"
	StatusRejected  RequestStatus = "rejected"
	StatusCompleted RequestStatus = "completed"
	StatusCancelled RequestStatus = "cancelled"
)

// IsActive reports whether the request still blocks a new one for the same
// appointment.
func (s RequestStatus) IsActive() bool {
	return s != StatusRejected && s != StatusCancelled
}

type requestEvent string

const (
	eventApprove  requestEvent = "approve"
	eventReject   requestEvent = "reject"
	eventCancel   requestEvent = "cancel"
	eventComplete requestEvent = "complete"
)

var requestTransitions = map[RequestStatus]map[requestEvent]RequestStatus{
	StatusPending: {
		eventApprove: StatusApproved,
		eventReject:  StatusRejected,
		eventCancel:  StatusCancelled,
	},
	StatusApproved: {
		eventCancel:   StatusCancelled,
		eventComplete: StatusCompleted,
	},
}

func nextRequestStatus(from RequestStatus, ev requestEvent) (RequestStatus, bool) {
	next, ok := requestTransitions[from][ev]
	return next, ok
}

// Request asks to move an appointment to one of up to three proposed dates.
type Request struct {
	ID                    uuid.UUID         `json:"id"`
	OriginalAppointmentID uuid.UUID         `json:"original_appointment_id"`
	NewAppointmentID      *uuid.UUID        `json:"new_appointment_id,omitempty"`
	RequestedBy           uuid.UUID         `json:"requested_by"`
	RequesterRole         auth.Role         `json:"requester_role"`
	ApprovedBy            *uuid.UUID        `json:"approved_by,omitempty"`
	Category              ReasonCategory    `json:"reason_category"`
	Status                RequestStatus     `json:"status"`
	Description           string            `json:"description,omitempty"`
	Justification         string            `json:"justification,omitempty"`
	ProposedDates         []time.Time       `json:"proposed_dates"`
	SelectedDate          *time.Time        `json:"selected_date,omitempty"`
	ApprovedAt            *time.Time        `json:"approved_at,omitempty"`
	RejectedAt            *time.Time        `json:"rejected_at,omitempty"`
	RejectionReason       string            `json:"rejection_reason,omitempty"`
	RefundRequired        bool              `json:"refund_required"`
	RefundProcessed       bool              `json:"refund_processed"`
	Metadata              map[string]string `json:"metadata,omitempty"`
	CreatedAt             time.Time         `json:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at"`
}

// Proposes reports whether t is one of the proposed dates.
func (r *Request) Proposes(t time.Time) bool {
	return slices.ContainsFunc(r.ProposedDates, t.Equal)
}

func (r *Request) setMeta(key, value string) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]string)
	}
	r.Metadata[key] = value
}

// RequestDetails is what a requester supplies.
type RequestDetails struct {
	Category      ReasonCategory
	Description   string
	Justification string
	ProposedDates []time.Time
}
