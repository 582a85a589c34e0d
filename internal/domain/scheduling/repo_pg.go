package scheduling

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

// -- Appointment Repository --

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

const apptCols = `id, patient_id, doctor_id, start_time, end_time, status,
	COALESCE(reason, ''), COALESCE(notes, ''), COALESCE(diagnosis, ''), COALESCE(cancellation_reason, ''),
	cost, paid, has_additional_charge, additional_amount, reschedule_count, rescheduling_allowed,
	COALESCE(no_show_party, ''), COALESCE(no_show_reason, ''), no_show_at, no_show_notified,
	reminder_sent_at, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status, party string
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.Start, &a.End, &status,
		&a.Reason, &a.Notes, &a.Diagnosis, &a.CancellationReason,
		&a.Cost, &a.Paid, &a.HasAdditionalCharge, &a.AdditionalAmount, &a.RescheduleCount, &a.ReschedulingAllowed,
		&party, &a.NoShowReason, &a.NoShowAt, &a.NoShowNotified,
		&a.ReminderSentAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.Status = AppointmentStatus(status)
	a.NoShowParty = NoShowParty(party)
	return &a, nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, start_time, end_time, status,
			reason, notes, diagnosis, cancellation_reason, cost, paid, has_additional_charge,
			additional_amount, reschedule_count, rescheduling_allowed, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7,''),NULLIF($8,''),NULLIF($9,''),NULLIF($10,''),$11,$12,$13,$14,$15,$16,$17,$18)`,
		a.ID, a.PatientID, a.DoctorID, a.Start, a.End, string(a.Status),
		a.Reason, a.Notes, a.Diagnosis, a.CancellationReason, a.Cost, a.Paid, a.HasAdditionalCharge,
		a.AdditionalAmount, a.RescheduleCount, a.ReschedulingAllowed, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+apptCols+` FROM appointments WHERE id = $1`, id))
}

func (r *appointmentRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+apptCols+` FROM appointments WHERE id = $1 FOR UPDATE`, id))
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE appointments SET start_time=$2, end_time=$3, status=$4,
			reason=NULLIF($5,''), notes=NULLIF($6,''), diagnosis=NULLIF($7,''), cancellation_reason=NULLIF($8,''),
			cost=$9, paid=$10, has_additional_charge=$11, additional_amount=$12,
			reschedule_count=$13, rescheduling_allowed=$14,
			no_show_party=NULLIF($15,''), no_show_reason=NULLIF($16,''), no_show_at=$17, no_show_notified=$18,
			reminder_sent_at=$19, updated_at=$20
		WHERE id = $1`,
		a.ID, a.Start, a.End, string(a.Status),
		a.Reason, a.Notes, a.Diagnosis, a.CancellationReason,
		a.Cost, a.Paid, a.HasAdditionalCharge, a.AdditionalAmount,
		a.RescheduleCount, a.ReschedulingAllowed,
		string(a.NoShowParty), a.NoShowReason, a.NoShowAt, a.NoShowNotified,
		a.ReminderSentAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update appointment %s: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *appointmentRepoPG) ListActiveForDoctorBetween(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Appointment, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+apptCols+` FROM appointments
		WHERE doctor_id = $1 AND status IN ('pending', 'confirmed')
			AND start_time < $3 AND end_time > $2
		ORDER BY start_time`, doctorID, from, to)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *appointmentRepoPG) LockDoctorDay(ctx context.Context, doctorID uuid.UUID, day string) error {
	return db.AdvisoryXactLock(ctx, db.Conn(ctx, r.pool), "appointments:"+doctorID.String()+":"+day)
}

func (r *appointmentRepoPG) ListDueForReminder(ctx context.Context, from, to time.Time, limit int) ([]*Appointment, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+apptCols+` FROM appointments
		WHERE status = 'confirmed' AND reminder_sent_at IS NULL
			AND start_time >= $1 AND start_time < $2
		ORDER BY start_time LIMIT $3`, from, to, limit)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *appointmentRepoPG) MarkReminderSent(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE appointments SET reminder_sent_at = $2
		WHERE id = $1 AND reminder_sent_at IS NULL`, id, at)
	if err != nil {
		return false, fmt.Errorf("mark reminder sent %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func collectAppointments(rows pgx.Rows) ([]*Appointment, error) {
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

// -- Schedule Window Repository --

type windowRepoPG struct{ pool *pgxpool.Pool }

func NewWindowRepoPG(pool *pgxpool.Pool) WindowRepository { return &windowRepoPG{pool: pool} }

const windowCols = `id, doctor_id, weekday, start_minute, end_minute, slot_duration_minutes,
	active, created_at, updated_at`

func scanWindow(row pgx.Row) (*ScheduleWindow, error) {
	var w ScheduleWindow
	var weekday int16
	var start, end, slot int16
	err := row.Scan(&w.ID, &w.DoctorID, &weekday, &start, &end, &slot,
		&w.Active, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWindowNotFound
		}
		return nil, err
	}
	w.Weekday = time.Weekday(weekday)
	w.StartMinute, w.EndMinute, w.SlotDurationMinutes = int(start), int(end), int(slot)
	return &w, nil
}

func (r *windowRepoPG) Create(ctx context.Context, w *ScheduleWindow) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO schedule_windows (id, doctor_id, weekday, start_minute, end_minute,
			slot_duration_minutes, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		w.ID, w.DoctorID, int16(w.Weekday), int16(w.StartMinute), int16(w.EndMinute),
		int16(w.SlotDurationMinutes), w.Active, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert schedule window: %w", err)
	}
	return nil
}

func (r *windowRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ScheduleWindow, error) {
	return scanWindow(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+windowCols+` FROM schedule_windows WHERE id = $1`, id))
}

func (r *windowRepoPG) Update(ctx context.Context, w *ScheduleWindow) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE schedule_windows SET weekday=$2, start_minute=$3, end_minute=$4,
			slot_duration_minutes=$5, active=$6, updated_at=$7
		WHERE id = $1`,
		w.ID, int16(w.Weekday), int16(w.StartMinute), int16(w.EndMinute),
		int16(w.SlotDurationMinutes), w.Active, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update schedule window %s: %w", w.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWindowNotFound
	}
	return nil
}

func (r *windowRepoPG) ListActive(ctx context.Context, doctorID uuid.UUID, weekday time.Weekday) ([]*ScheduleWindow, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+windowCols+` FROM schedule_windows
		WHERE doctor_id = $1 AND weekday = $2 AND active
		ORDER BY start_minute`, doctorID, int16(weekday))
	if err != nil {
		return nil, err
	}
	return collectWindows(rows)
}

func (r *windowRepoPG) ListActiveForDoctor(ctx context.Context, doctorID uuid.UUID) ([]*ScheduleWindow, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+windowCols+` FROM schedule_windows
		WHERE doctor_id = $1 AND active
		ORDER BY weekday, start_minute`, doctorID)
	if err != nil {
		return nil, err
	}
	return collectWindows(rows)
}

func (r *windowRepoPG) LockDoctorWeekday(ctx context.Context, doctorID uuid.UUID, weekday time.Weekday) error {
	return db.AdvisoryXactLock(ctx, db.Conn(ctx, r.pool),
		fmt.Sprintf("schedule_windows:%s:%d", doctorID, weekday))
}

func collectWindows(rows pgx.Rows) ([]*ScheduleWindow, error) {
	defer rows.Close()
	var items []*ScheduleWindow
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, w)
	}
	return items, rows.Err()
}
