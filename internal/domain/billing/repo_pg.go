package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blume/blume/internal/platform/db"
)

type paymentRepoPG struct{ pool *pgxpool.Pool }

func NewPaymentRepoPG(pool *pgxpool.Pool) PaymentRepository {
	return &paymentRepoPG{pool: pool}
}

const paymentCols = `id, appointment_id, patient_id, payment_type, status, method, amount,
	COALESCE(concept, ''), COALESCE(transaction_id, ''), gateway_data, COALESCE(failure_reason, ''),
	paid_at, refunded_at, created_at, updated_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	var typ, status, method string
	err := row.Scan(&p.ID, &p.AppointmentID, &p.PatientID, &typ, &status, &method, &p.Amount,
		&p.Concept, &p.TransactionID, &p.GatewayData, &p.FailureReason,
		&p.PaidAt, &p.RefundedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p.Type = PaymentType(typ)
	p.Status = PaymentStatus(status)
	p.Method = Method(method)
	return &p, nil
}

func gatewayData(p *Payment) map[string]string {
	if p.GatewayData == nil {
		return map[string]string{}
	}
	return p.GatewayData
}

func (r *paymentRepoPG) Create(ctx context.Context, p *Payment) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO payments (id, appointment_id, patient_id, payment_type, status, method, amount,
			concept, transaction_id, gateway_data, failure_reason, paid_at, refunded_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,NULLIF($8,''),NULLIF($9,''),$10,NULLIF($11,''),$12,$13,$14,$15)`,
		p.ID, p.AppointmentID, p.PatientID, string(p.Type), string(p.Status), string(p.Method), p.Amount,
		p.Concept, p.TransactionID, gatewayData(p), p.FailureReason, p.PaidAt, p.RefundedAt, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *paymentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return scanPayment(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+paymentCols+` FROM payments WHERE id = $1`, id))
}

func (r *paymentRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return scanPayment(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+paymentCols+` FROM payments WHERE id = $1 FOR UPDATE`, id))
}

func (r *paymentRepoPG) Update(ctx context.Context, p *Payment) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE payments SET status = $2, method = $3, amount = $4, concept = NULLIF($5,''),
			transaction_id = NULLIF($6,''), gateway_data = $7, failure_reason = NULLIF($8,''),
			paid_at = $9, refunded_at = $10, updated_at = $11
		WHERE id = $1`,
		p.ID, string(p.Status), string(p.Method), p.Amount, p.Concept,
		p.TransactionID, gatewayData(p), p.FailureReason, p.PaidAt, p.RefundedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *paymentRepoPG) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*Payment, error) {
	return r.list(ctx, `SELECT `+paymentCols+` FROM payments WHERE appointment_id = $1 ORDER BY created_at, id`, appointmentID)
}

func (r *paymentRepoPG) ListProcessingBefore(ctx context.Context, before time.Time, limit int) ([]*Payment, error) {
	return r.list(ctx, `SELECT `+paymentCols+` FROM payments
		WHERE status = 'processing' AND updated_at < $1
		ORDER BY updated_at, id LIMIT $2`, before, limit)
}

func (r *paymentRepoPG) list(ctx context.Context, query string, args ...any) ([]*Payment, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}
