package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

const appointmentColumns = `
	id, doctor_id, patient_id,
	doctor_name, doctor_email, doctor_specialization,
	patient_name, patient_email, patient_phone,
	appointment_date, appointment_time, appointment_type, notes,
	status, payment_status, payment_method, transaction_id, paid_at,
	original_appointment_id, rescheduled_to_id, rescheduled_from,
	cancellation_reason, cancelled_at, cancelled_by, cancelled_by_role,
	completed_at, no_show_marked_at, no_show_marked_by,
	created_at, updated_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Email,
		&p.Phone,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	return &p, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor

	err := row.Scan(
		&d.ID,
		&d.Name,
		&d.Email,
		&d.Phone,
		&d.Specialization,
		&d.Active,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	return &d, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a               Appointment
		date            time.Time
		notes           *string
		method          *string
		txID            *string
		rescheduledFrom []byte
		reason          *string
		cancelledRole   *string
	)

	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.PatientID,
		&a.DoctorName,
		&a.DoctorEmail,
		&a.DoctorSpecialization,
		&a.PatientName,
		&a.PatientEmail,
		&a.PatientPhone,
		&date,
		&a.Time,
		&a.Type,
		&notes,
		&a.Status,
		&a.Payment.Status,
		&method,
		&txID,
		&a.Payment.PaidAt,
		&a.OriginalAppointmentID,
		&a.RescheduledToID,
		&rescheduledFrom,
		&reason,
		&a.CancelledAt,
		&a.CancelledBy,
		&cancelledRole,
		&a.CompletedAt,
		&a.NoShowMarkedAt,
		&a.NoShowMarkedBy,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Date = date.Format(DateLayout)
	a.Notes = deref(notes)
	a.Payment.Method = deref(method)
	a.Payment.TransactionID = deref(txID)
	a.CancellationReason = deref(reason)
	a.CancelledByRole = Role(deref(cancelledRole))

	if len(rescheduledFrom) > 0 {
		var snap RescheduleSnapshot
		if err := json.Unmarshal(rescheduledFrom, &snap); err != nil {
			return nil, fmt.Errorf("decode rescheduled_from: %w", err)
		}
		a.RescheduledFrom = &snap
	}

	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func dateArg(date string) (time.Time, error) {
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return time.Time{}, validationErr("date %q must be YYYY-MM-DD", date)
	}
	return d, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// Interface methods

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, phone, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, phone, specialization, active, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) ListDoctorsBySpecialization(ctx context.Context, specialization string) ([]Doctor, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, email, phone, specialization, active, created_at, updated_at
		FROM doctors
		WHERE specialization = $1 AND active
		ORDER BY name
	`, specialization)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}

	return result, rows.Err()
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if f.DoctorID != nil {
		add("doctor_id = $%d", *f.DoctorID)
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.Date != "" {
		d, err := dateArg(f.Date)
		if err != nil {
			return nil, err
		}
		add("appointment_date = $%d", d)
	}

	q := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	q += fmt.Sprintf(` ORDER BY appointment_date DESC, appointment_time DESC, created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) FindActiveAtSlot(ctx context.Context, doctorID uuid.UUID, date, clock string) (*Appointment, error) {
	d, err := dateArg(date)
	if err != nil {
		return nil, err
	}
	row := r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND appointment_date = $2
		  AND appointment_time = $3
		  AND status = 'scheduled'
	`, doctorID, d, clock)
	return scanAppointment(row)
}

func (r *PgRepository) ListBookedTimes(ctx context.Context, doctorID uuid.UUID, date string) ([]string, error) {
	d, err := dateArg(date)
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT appointment_time
		FROM appointments
		WHERE doctor_id = $1
		  AND appointment_date = $2
		  AND status = 'scheduled'
	`, doctorID, d)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertAppointment(ctx context.Context, q queryRower, a *Appointment) (*Appointment, error) {
	d, err := dateArg(a.Date)
	if err != nil {
		return nil, err
	}

	var snapshot []byte
	if a.RescheduledFrom != nil {
		snapshot, err = json.Marshal(a.RescheduledFrom)
		if err != nil {
			return nil, fmt.Errorf("encode rescheduled_from: %w", err)
		}
	}

	row := q.QueryRow(ctx, `
		INSERT INTO appointments (
			id, doctor_id, patient_id,
			doctor_name, doctor_email, doctor_specialization,
			patient_name, patient_email, patient_phone,
			appointment_date, appointment_time, appointment_type, notes,
			status, payment_status, payment_method, transaction_id, paid_at,
			original_appointment_id, rescheduled_from,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $21)
		RETURNING `+appointmentColumns,
		a.ID, a.DoctorID, a.PatientID,
		a.DoctorName, a.DoctorEmail, a.DoctorSpecialization,
		a.PatientName, a.PatientEmail, a.PatientPhone,
		d, a.Time, a.Type, nullable(a.Notes),
		a.Status, a.Payment.Status, nullable(a.Payment.Method), nullable(a.Payment.TransactionID), a.Payment.PaidAt,
		a.OriginalAppointmentID, snapshot,
		a.CreatedAt,
	)

	created, err := scanAppointment(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSlotTaken
		}
		return nil, err
	}
	return created, nil
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	return insertAppointment(ctx, r.pool, a)
}

// transition stamps only the audit columns that belong to t.To; the rest keep their values.
func transition(ctx context.Context, q queryRower, id uuid.UUID, t Transition) (*Appointment, error) {
	var cancelledAt, completedAt, noShowAt *time.Time
	switch t.To {
	case StatusCancelled, StatusRescheduled:
		cancelledAt = &t.At
	case StatusCompleted:
		completedAt = &t.At
	case StatusMissed:
		noShowAt = &t.At
	}

	row := q.QueryRow(ctx, `
		UPDATE appointments
		SET status = $3,
		    updated_at = $4,
		    cancellation_reason = COALESCE($5, cancellation_reason),
		    cancelled_at = COALESCE($6, cancelled_at),
		    cancelled_by = COALESCE($7, cancelled_by),
		    cancelled_by_role = COALESCE($8, cancelled_by_role),
		    rescheduled_to_id = COALESCE($9, rescheduled_to_id),
		    completed_at = COALESCE($10, completed_at),
		    no_show_marked_at = COALESCE($11, no_show_marked_at),
		    no_show_marked_by = COALESCE($12, no_show_marked_by)
		WHERE id = $1
		  AND status = $2
		RETURNING `+appointmentColumns,
		id, t.From, t.To, t.At,
		nullable(t.CancellationReason), cancelledAt, t.CancelledBy, nullable(string(t.CancelledByRole)),
		t.RescheduledToID, completedAt, noShowAt, t.NoShowMarkedBy,
	)

	updated, err := scanAppointment(row)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, ErrAppointmentNotFound) {
		return nil, err
	}

	// No row matched: either the id is unknown or the status moved underneath us.
	var current Status
	err = q.QueryRow(ctx, `SELECT status FROM appointments WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAppointmentNotFound
	}
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: now %s", ErrStaleStatus, current)
}

func (r *PgRepository) TransitionAppointment(ctx context.Context, id uuid.UUID, t Transition) (*Appointment, error) {
	return transition(ctx, r.pool, id, t)
}

func (r *PgRepository) RescheduleAppointment(ctx context.Context, oldID uuid.UUID, t Transition, next *Appointment) (*Appointment, *Appointment, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("begin reschedule: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	old, err := transition(ctx, tx, oldID, t)
	if err != nil {
		return nil, nil, err
	}

	created, err := insertAppointment(ctx, tx, next)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit reschedule: %w", err)
	}

	return old, created, nil
}
