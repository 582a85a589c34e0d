package rescheduling

import (
	"context"

	"github.com/google/uuid"
)

type RequestRepository interface {
	// Create fails with a unique violation on reschedule_requests_one_active
	// when the appointment already has an active request.
	Create(ctx context.Context, r *Request) error
	GetByID(ctx context.Context, id uuid.UUID) (*Request, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Request, error)
	Update(ctx context.Context, r *Request) error
	// ListByAppointment returns the requests whose original is the
	// appointment, newest first.
	ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*Request, error)
	// FindActive returns the active request of the appointment or ErrNotFound.
	FindActive(ctx context.Context, appointmentID uuid.UUID) (*Request, error)
	// FindByNewAppointment returns the request that produced the appointment
	// or ErrNotFound.
	FindByNewAppointment(ctx context.Context, appointmentID uuid.UUID) (*Request, error)
	// ListRefundPending returns approved or completed requests whose refund
	// has not gone through, oldest first.
	ListRefundPending(ctx context.Context, limit int) ([]*Request, error)
}

const uniqueActive = "reschedule_requests_one_active"
