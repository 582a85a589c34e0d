package rescheduling

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blume/blume/internal/platform/auth"
	"github.com/blume/blume/internal/platform/db"
)

type requestRepoPG struct{ pool *pgxpool.Pool }

func NewRequestRepoPG(pool *pgxpool.Pool) RequestRepository {
	return &requestRepoPG{pool: pool}
}

const requestCols = `id, original_appointment_id, new_appointment_id, requested_by, requester_role, approved_by,
	reason_category, status, COALESCE(description, ''), COALESCE(justification, ''), proposed_dates,
	selected_date, approved_at, rejected_at, COALESCE(rejection_reason, ''),
	refund_required, refund_processed, metadata, created_at, updated_at`

func scanRequest(row pgx.Row) (*Request, error) {
	var r Request
	var role, category, status string
	err := row.Scan(&r.ID, &r.OriginalAppointmentID, &r.NewAppointmentID, &r.RequestedBy, &role, &r.ApprovedBy,
		&category, &status, &r.Description, &r.Justification, &r.ProposedDates,
		&r.SelectedDate, &r.ApprovedAt, &r.RejectedAt, &r.RejectionReason,
		&r.RefundRequired, &r.RefundProcessed, &r.Metadata, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	r.RequesterRole = auth.Role(role)
	r.Category = ReasonCategory(category)
	r.Status = RequestStatus(status)
	return &r, nil
}

func metadata(r *Request) map[string]string {
	if r.Metadata == nil {
		return map[string]string{}
	}
	return r.Metadata
}

func (repo *requestRepoPG) Create(ctx context.Context, r *Request) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	_, err := db.Conn(ctx, repo.pool).Exec(ctx, `
		INSERT INTO reschedule_requests (id, original_appointment_id, new_appointment_id, requested_by,
			requester_role, approved_by, reason_category, status, description, justification, proposed_dates,
			selected_date, approved_at, rejected_at, rejection_reason, refund_required, refund_processed,
			metadata, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NULLIF($9,''),NULLIF($10,''),$11,$12,$13,$14,NULLIF($15,''),$16,$17,$18,$19,$20)`,
		r.ID, r.OriginalAppointmentID, r.NewAppointmentID, r.RequestedBy, string(r.RequesterRole), r.ApprovedBy,
		string(r.Category), string(r.Status), r.Description, r.Justification, r.ProposedDates,
		r.SelectedDate, r.ApprovedAt, r.RejectedAt, r.RejectionReason, r.RefundRequired, r.RefundProcessed,
		metadata(r), r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert reschedule request: %w", err)
	}
	return nil
}

func (repo *requestRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Request, error) {
	return scanRequest(db.Conn(ctx, repo.pool).QueryRow(ctx,
		`SELECT `+requestCols+` FROM reschedule_requests WHERE id = $1`, id))
}

func (repo *requestRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Request, error) {
	return scanRequest(db.Conn(ctx, repo.pool).QueryRow(ctx,
		`SELECT `+requestCols+` FROM reschedule_requests WHERE id = $1 FOR UPDATE`, id))
}

func (repo *requestRepoPG) Update(ctx context.Context, r *Request) error {
	tag, err := db.Conn(ctx, repo.pool).Exec(ctx, `
		UPDATE reschedule_requests SET new_appointment_id = $2, approved_by = $3, status = $4,
			selected_date = $5, approved_at = $6, rejected_at = $7, rejection_reason = NULLIF($8,''),
			refund_processed = $9, metadata = $10, updated_at = $11
		WHERE id = $1`,
		r.ID, r.NewAppointmentID, r.ApprovedBy, string(r.Status),
		r.SelectedDate, r.ApprovedAt, r.RejectedAt, r.RejectionReason,
		r.RefundProcessed, metadata(r), r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update reschedule request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (repo *requestRepoPG) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*Request, error) {
	return repo.list(ctx, `SELECT `+requestCols+` FROM reschedule_requests
		WHERE original_appointment_id = $1 ORDER BY created_at DESC, id`, appointmentID)
}

func (repo *requestRepoPG) ListRefundPending(ctx context.Context, limit int) ([]*Request, error) {
	return repo.list(ctx, `SELECT `+requestCols+` FROM reschedule_requests
		WHERE refund_required AND NOT refund_processed AND status IN ('approved', 'completed')
		ORDER BY approved_at, id LIMIT $1`, limit)
}

func (repo *requestRepoPG) list(ctx context.Context, query string, args ...any) ([]*Request, error) {
	rows, err := db.Conn(ctx, repo.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

func (repo *requestRepoPG) FindActive(ctx context.Context, appointmentID uuid.UUID) (*Request, error) {
	return scanRequest(db.Conn(ctx, repo.pool).QueryRow(ctx,
		`SELECT `+requestCols+` FROM reschedule_requests
		WHERE original_appointment_id = $1 AND status IN ('pending', 'approved', 'completed')`, appointmentID))
}

func (repo *requestRepoPG) FindByNewAppointment(ctx context.Context, appointmentID uuid.UUID) (*Request, error) {
	return scanRequest(db.Conn(ctx, repo.pool).QueryRow(ctx,
		`SELECT `+requestCols+` FROM reschedule_requests WHERE new_appointment_id = $1`, appointmentID))
}
