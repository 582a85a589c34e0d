package scheduling

import (
	"errors"
	"net/http"
)

var (
	ErrNotFound       = errors.New("appointment not found")
	ErrWindowNotFound = errors.New("schedule window not found")
)

// ValidationCode identifies why a proposed slot or window was rejected.
type ValidationCode string

const (
	CodeInvalidTimeRange      ValidationCode = "invalid_time_range"
	CodePastStartTime         ValidationCode = "past_start_time"
	CodeNoScheduleForDay      ValidationCode = "no_schedule_for_day"
	CodeOutsideScheduleWindow ValidationCode = "outside_schedule_window"
	CodeDoctorConflict        ValidationCode = "doctor_conflict"
	CodeInvalidCost           ValidationCode = "invalid_cost"
	CodeInvalidWindow         ValidationCode = "invalid_window"
	CodeWindowOverlap         ValidationCode = "window_overlap"
	CodeInvalidNoShowParty    ValidationCode = "invalid_no_show_party"
)

// ValidationError is returned when a booking or a schedule window breaks a
// scheduling rule. Two ValidationErrors match under errors.Is when their
// codes are equal.
type ValidationError struct {
	Code    ValidationCode
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	return ok && t.Code == e.Code
}

func (e *ValidationError) HTTPStatus() int {
	if e.Code == CodeDoctorConflict || e.Code == CodeWindowOverlap {
		return http.StatusConflict
	}
	return http.StatusUnprocessableEntity
}

func (e *ValidationError) ErrorCode() string { return string(e.Code) }

var (
	ErrInvalidTimeRange      = &ValidationError{CodeInvalidTimeRange, "end time must be after start time"}
	ErrPastStartTime         = &ValidationError{CodePastStartTime, "start time is in the past"}
	ErrNoScheduleForDay      = &ValidationError{CodeNoScheduleForDay, "doctor does not work on that day"}
	ErrOutsideScheduleWindow = &ValidationError{CodeOutsideScheduleWindow, "start time is outside the doctor's schedule"}
	ErrDoctorConflict        = &ValidationError{CodeDoctorConflict, "doctor already has an appointment at that time"}
	ErrInvalidCost           = &ValidationError{CodeInvalidCost, "cost must not be negative"}
	ErrInvalidWindow         = &ValidationError{CodeInvalidWindow, "schedule window is invalid"}
	ErrWindowOverlap         = &ValidationError{CodeWindowOverlap, "schedule window overlaps another active window"}
	ErrInvalidNoShowParty    = &ValidationError{CodeInvalidNoShowParty, "no-show party must be patient or doctor"}
)

// TransitionCode identifies why a lifecycle operation was refused.
type TransitionCode string

const (
	CodeIllegalTransition         TransitionCode = "illegal_transition"
	CodeUnauthorized              TransitionCode = "unauthorized"
	CodeMissingCancellationReason TransitionCode = "missing_cancellation_reason"
)

type TransitionError struct {
	Code    TransitionCode
	Message string
}

func (e *TransitionError) Error() string { return e.Message }

func (e *TransitionError) Is(target error) bool {
	t, ok := target.(*TransitionError)
	return ok && t.Code == e.Code
}

func (e *TransitionError) HTTPStatus() int {
	switch e.Code {
	case CodeUnauthorized:
		return http.StatusForbidden
	case CodeMissingCancellationReason:
		return http.StatusUnprocessableEntity
	}
	return http.StatusConflict
}

func (e *TransitionError) ErrorCode() string { return string(e.Code) }

var (
	ErrIllegalTransition         = &TransitionError{CodeIllegalTransition, "transition not allowed from the current state"}
	ErrUnauthorized              = &TransitionError{CodeUnauthorized, "not allowed to perform this action"}
	ErrMissingCancellationReason = &TransitionError{CodeMissingCancellationReason, "a cancellation reason is required"}
)

func validationErr(code ValidationCode, msg string) error {
	return &ValidationError{Code: code, Message: msg}
}

func transitionErr(code TransitionCode, msg string) error {
	return &TransitionError{Code: code, Message: msg}
}
