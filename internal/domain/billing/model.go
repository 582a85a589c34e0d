package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentType string

const (
	TypeConsultation PaymentType = "consultation"
	TypeAdditional   PaymentType = "additional"
	TypeRefund       PaymentType = "refund"
)

type PaymentStatus string

const (
	StatusPending    PaymentStatus = "pending"
	StatusProcessing PaymentStatus = "processing"
	StatusCompleted  PaymentStatus = "completed"
	StatusFailed     PaymentStatus = "failed"
	StatusRefunded   PaymentStatus = "refunded"
	StatusCancelled  PaymentStatus = "cancelled"
)

// Method is how the patient pays. Yape and Plin are mobile wallets.
type Method string

const (
	MethodCash     Method = "cash"
	MethodCard     Method = "card"
	MethodTransfer Method = "transfer"
	MethodYape     Method = "yape"
	MethodPlin     Method = "plin"
	MethodOther    Method = "other"
)

var validMethods = map[Method]bool{
	MethodCash: true, MethodCard: true, MethodTransfer: true,
	MethodYape: true, MethodPlin: true, MethodOther: true,
}

func (m Method) Valid() bool { return validMethods[m] }

// IsElectronic reports whether the method goes through the gateway. Cash is
// confirmed by hand.
func (m Method) IsElectronic() bool { return m != MethodCash }

type Payment struct {
	ID            uuid.UUID         `json:"id"`
	AppointmentID uuid.UUID         `json:"appointment_id"`
	PatientID     uuid.UUID         `json:"patient_id"`
	Type          PaymentType       `json:"payment_type"`
	Status        PaymentStatus     `json:"status"`
	Method        Method            `json:"method"`
	Amount        decimal.Decimal   `json:"amount"`
	Concept       string            `json:"concept,omitempty"`
	TransactionID string            `json:"transaction_id,omitempty"`
	GatewayData   map[string]string `json:"gateway_data,omitempty"`
	FailureReason string            `json:"failure_reason,omitempty"`
	PaidAt        *time.Time        `json:"paid_at,omitempty"`
	RefundedAt    *time.Time        `json:"refunded_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

func (p *Payment) setData(key, value string) {
	if p.GatewayData == nil {
		p.GatewayData = make(map[string]string)
	}
	p.GatewayData[key] = value
}

// paymentEvent is an operation applied to a payment.
type paymentEvent string

const (
	eventProcess paymentEvent = "process"
	eventSucceed paymentEvent = "succeed"
	eventFail    paymentEvent = "fail"
	eventConfirm paymentEvent = "confirm"
	eventCancel  paymentEvent = "cancel"
	eventRefund  paymentEvent = "refund"
)

var paymentTransitions = map[PaymentStatus]map[paymentEvent]PaymentStatus{
	StatusPending: {
		eventProcess: StatusProcessing,
		eventConfirm: StatusCompleted,
		eventCancel:  StatusCancelled,
	},
	StatusProcessing: {
		eventSucceed: StatusCompleted,
		eventFail:    StatusFailed,
	},
	StatusFailed: {
		eventProcess: StatusProcessing,
	},
	StatusCompleted: {
		eventRefund: StatusRefunded,
	},
}

func nextPaymentStatus(from PaymentStatus, ev paymentEvent) (PaymentStatus, bool) {
	next, ok := paymentTransitions[from][ev]
	return next, ok
}
