package rescheduling

import (
	"errors"
	"net/http"
)

var ErrNotFound = errors.New("reschedule request not found")

type Code string

const (
	CodeNotReschedulable          Code = "not_reschedulable"
	CodeActiveRequestExists       Code = "active_request_exists"
	CodeInsufficientProposedDates Code = "insufficient_proposed_dates"
	CodeInvalidProposedDates      Code = "invalid_proposed_dates"
	CodeLimitReached              Code = "limit_reached"
	CodeUnpaidDoctorFault         Code = "unpaid_doctor_fault"
	CodeUnauthorized              Code = "unauthorized"
	CodeDateNotProposed           Code = "date_not_proposed"
	CodeAlreadyProcessed          Code = "already_processed"
	CodeInvalidCategory           Code = "invalid_reason_category"
	CodeMissingRejectionReason    Code = "missing_rejection_reason"
)

// ReschedulingError reports a refused rescheduling operation. Errors with
// the same code match under errors.Is.
type ReschedulingError struct {
	Code    Code
	Message string
}

func (e *ReschedulingError) Error() string { return e.Message }

func (e *ReschedulingError) Is(target error) bool {
	t, ok := target.(*ReschedulingError)
	return ok && t.Code == e.Code
}

func (e *ReschedulingError) HTTPStatus() int {
	switch e.Code {
	case CodeUnauthorized:
		return http.StatusForbidden
	case CodeActiveRequestExists, CodeAlreadyProcessed, CodeLimitReached:
		return http.StatusConflict
	}
	return http.StatusUnprocessableEntity
}

func (e *ReschedulingError) ErrorCode() string { return string(e.Code) }

var (
	ErrNotReschedulable          = &ReschedulingError{CodeNotReschedulable, "the appointment cannot be rescheduled"}
	ErrActiveRequestExists       = &ReschedulingError{CodeActiveRequestExists, "the appointment already has an active reschedule request"}
	ErrInsufficientProposedDates = &ReschedulingError{CodeInsufficientProposedDates, "at least one proposed date is required"}
	ErrInvalidProposedDates      = &ReschedulingError{CodeInvalidProposedDates, "proposed dates must be in the future and at most three"}
	ErrLimitReached              = &ReschedulingError{CodeLimitReached, "the appointment has reached the reschedule limit"}
	ErrUnpaidDoctorFault         = &ReschedulingError{CodeUnpaidDoctorFault, "doctor no-show reschedules need a paid appointment"}
	ErrUnauthorized              = &ReschedulingError{CodeUnauthorized, "not allowed to perform this reschedule operation"}
	ErrDateNotProposed           = &ReschedulingError{CodeDateNotProposed, "the selected date is not one of the proposed dates"}
	ErrAlreadyProcessed          = &ReschedulingError{CodeAlreadyProcessed, "the reschedule request has already been processed"}
	ErrInvalidCategory           = &ReschedulingError{CodeInvalidCategory, "unknown reason category"}
	ErrMissingRejectionReason    = &ReschedulingError{CodeMissingRejectionReason, "a rejection reason is required"}
)

func reschedulingErr(code Code, msg string) error {
	return &ReschedulingError{Code: code, Message: msg}
}
