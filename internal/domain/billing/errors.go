package billing

import (
	"errors"
	"net/http"
)

var ErrNotFound = errors.New("payment not found")

type PaymentCode string

const (
	CodeDuplicateConsultationPayment  PaymentCode = "duplicate_consultation_payment"
	CodeAlreadyProcessed              PaymentCode = "already_processed"
	CodeNoQualifyingPaymentForRefund  PaymentCode = "no_qualifying_payment_for_refund"
	CodeDuplicateRefund               PaymentCode = "duplicate_refund"
	CodeIneligibleForAdditionalCharge PaymentCode = "ineligible_for_additional_charge"
	CodeManualConfirmationRequired    PaymentCode = "manual_confirmation_required"
	CodeInvalidAmount                 PaymentCode = "invalid_amount"
	CodeInvalidMethod                 PaymentCode = "invalid_method"
	CodeUnauthorized                  PaymentCode = "unauthorized"
)

// PaymentError reports a refused billing operation. Errors with the same
// code match under errors.Is.
type PaymentError struct {
	Code    PaymentCode
	Message string
}

func (e *PaymentError) Error() string { return e.Message }

func (e *PaymentError) Is(target error) bool {
	t, ok := target.(*PaymentError)
	return ok && t.Code == e.Code
}

func (e *PaymentError) HTTPStatus() int {
	switch e.Code {
	case CodeUnauthorized:
		return http.StatusForbidden
	case CodeNoQualifyingPaymentForRefund, CodeIneligibleForAdditionalCharge,
		CodeManualConfirmationRequired, CodeInvalidAmount, CodeInvalidMethod:
		return http.StatusUnprocessableEntity
	}
	return http.StatusConflict
}

func (e *PaymentError) ErrorCode() string { return string(e.Code) }

var (
	ErrDuplicateConsultationPayment  = &PaymentError{CodeDuplicateConsultationPayment, "the appointment already has a consultation payment"}
	ErrAlreadyProcessed              = &PaymentError{CodeAlreadyProcessed, "payment has already been processed"}
	ErrNoQualifyingPaymentForRefund  = &PaymentError{CodeNoQualifyingPaymentForRefund, "no completed consultation payment to refund"}
	ErrDuplicateRefund               = &PaymentError{CodeDuplicateRefund, "the appointment has already been refunded"}
	ErrIneligibleForAdditionalCharge = &PaymentError{CodeIneligibleForAdditionalCharge, "additional charges need a confirmed or completed appointment"}
	ErrManualConfirmationRequired    = &PaymentError{CodeManualConfirmationRequired, "cash payments are confirmed manually"}
	ErrInvalidAmount                 = &PaymentError{CodeInvalidAmount, "amount must be positive"}
	ErrInvalidMethod                 = &PaymentError{CodeInvalidMethod, "unknown payment method"}
	ErrUnauthorized                  = &PaymentError{CodeUnauthorized, "not allowed to perform this payment operation"}
)

func paymentErr(code PaymentCode, msg string) error {
	return &PaymentError{Code: code, Message: msg}
}
