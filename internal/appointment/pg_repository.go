package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const apptColumns = `id, tenant_id, patient_id, specialist_id, specialty_id,
	starts_at, ends_at, duration_minutes, status, reason,
	canceled_by, cancel_reason, reminder_marks, last_reminder_sent_at,
	auto_canceled_at, created_at, updated_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.TenantID,
		&a.PatientID,
		&a.SpecialistID,
		&a.SpecialtyID,
		&a.Start,
		&a.End,
		&a.DurationMinutes,
		&a.Status,
		&a.Reason,
		&a.CanceledBy,
		&a.CancelReason,
		&a.ReminderMarks,
		&a.LastReminderAt,
		&a.AutoCanceledAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	a.Start = a.Start.UTC()
	a.End = a.End.UTC()
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

func scanInactivity(row pgx.Row) (*InactivityInterval, error) {
	var iv InactivityInterval
	err := row.Scan(&iv.ID, &iv.TenantID, &iv.SpecialistID, &iv.From, &iv.To, &iv.Reason, &iv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInactivityNotFound
		}
		return nil, err
	}
	iv.From = iv.From.UTC()
	iv.To = iv.To.UTC()
	return &iv, nil
}

// Interface methods

func (r *PgRepository) GetAppointment(ctx context.Context, tenantID, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)
	return scanAppointment(row)
}

func (r *PgRepository) CreateAppointment(ctx context.Context, appt *Appointment) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (
			id, tenant_id, patient_id, specialist_id, specialty_id,
			starts_at, ends_at, duration_minutes, status, reason,
			reminder_marks, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, '{}', now(), now())
		RETURNING `+apptColumns+`
	`, appt.ID, appt.TenantID, appt.PatientID, appt.SpecialistID, appt.SpecialtyID,
		appt.Start, appt.End, appt.DurationMinutes, appt.Status, appt.Reason)

	created, err := scanAppointment(row)
	if err != nil {
		// The partial unique index on (tenant, specialist, start) is the
		// second-line guard behind the read-time overlap check.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, r.slotTaken(ctx, appt)
		}
		return nil, err
	}
	return created, nil
}

// slotTaken resolves the row that won the insert race so the rejection
// carries the same detail as the read-time overlap check.
func (r *PgRepository) slotTaken(ctx context.Context, appt *Appointment) error {
	e := &SlotTakenError{ExistingStart: appt.Start, ExistingEnd: appt.End}

	var (
		id         uuid.UUID
		start, end time.Time
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, starts_at, ends_at
		FROM appointments
		WHERE tenant_id = $1
		  AND specialist_id = $2
		  AND starts_at = $3
		  AND status <> 'canceled'
	`, appt.TenantID, appt.SpecialistID, appt.Start).Scan(&id, &start, &end)
	if err == nil {
		e.ExistingID = id.String()
		e.ExistingStart = start.UTC()
		e.ExistingEnd = end.UTC()
	}
	return e
}

func (r *PgRepository) UpdateStatus(ctx context.Context, tenantID, id uuid.UUID, from, to Status) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $4,
		    updated_at = now()
		WHERE tenant_id = $1
		  AND id = $2
		  AND status = $3
		RETURNING `+apptColumns+`
	`, tenantID, id, from, to)
	return scanAppointment(row)
}

func (r *PgRepository) MarkCanceled(ctx context.Context, tenantID, id, actorID uuid.UUID, reason string, autoCanceledAt *time.Time) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'canceled',
		    canceled_by = $3,
		    cancel_reason = $4,
		    auto_canceled_at = $5,
		    updated_at = now()
		WHERE tenant_id = $1 AND id = $2
		RETURNING `+apptColumns+`
	`, tenantID, id, actorID, reason, autoCanceledAt)
	return scanAppointment(row)
}

func (r *PgRepository) MarkAttended(ctx context.Context, tenantID, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'attended',
		    updated_at = now()
		WHERE tenant_id = $1 AND id = $2
		RETURNING `+apptColumns+`
	`, tenantID, id)
	return scanAppointment(row)
}

func (r *PgRepository) AppendReminderMark(ctx context.Context, tenantID, id uuid.UUID, mark int, sentAt time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET reminder_marks = array_append(reminder_marks, $3),
		    last_reminder_sent_at = $4,
		    updated_at = now()
		WHERE tenant_id = $1
		  AND id = $2
		  AND NOT ($3 = ANY(reminder_marks))
	`, tenantID, id, mark, sentAt)
	if err != nil {
		return false, fmt.Errorf("append reminder mark: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PgRepository) FindOverlapping(ctx context.Context, tenantID, specialistID uuid.UUID, start, end time.Time, excludeID uuid.UUID) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE tenant_id = $1
		  AND specialist_id = $2
		  AND status <> 'canceled'
		  AND starts_at < $4
		  AND ends_at > $3
		  AND ($5::uuid IS NULL OR id <> $5)
		ORDER BY starts_at
	`, tenantID, specialistID, start, end, nullableUUID(excludeID))
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) FindPatientSpecialistBetween(ctx context.Context, tenantID, patientID, specialistID uuid.UUID, from, to time.Time, excludeID uuid.UUID) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE tenant_id = $1
		  AND patient_id = $2
		  AND specialist_id = $3
		  AND status <> 'canceled'
		  AND starts_at >= $4
		  AND starts_at < $5
		  AND ($6::uuid IS NULL OR id <> $6)
		ORDER BY starts_at
	`, tenantID, patientID, specialistID, from, to, nullableUUID(excludeID))
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) FindPendingStartingBetween(ctx context.Context, from, to time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE status = 'pending'
		  AND starts_at >= $1
		  AND starts_at <= $2
		ORDER BY starts_at
	`, from, to)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListByPatient(ctx context.Context, tenantID, patientID uuid.UUID) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE tenant_id = $1 AND patient_id = $2
		ORDER BY starts_at DESC
	`, tenantID, patientID)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListBySpecialist(ctx context.Context, tenantID, specialistID uuid.UUID) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE tenant_id = $1 AND specialist_id = $2
		ORDER BY starts_at
	`, tenantID, specialistID)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE tenant_id = $1
		ORDER BY starts_at
	`, tenantID)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) AddInactivity(ctx context.Context, interval *InactivityInterval) (*InactivityInterval, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO specialist_inactivity (id, tenant_id, specialist_id, starts_at, ends_at, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		RETURNING id, tenant_id, specialist_id, starts_at, ends_at, reason, created_at
	`, interval.ID, interval.TenantID, interval.SpecialistID, interval.From, interval.To, interval.Reason)
	return scanInactivity(row)
}

func (r *PgRepository) RemoveInactivity(ctx context.Context, tenantID, specialistID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM specialist_inactivity
		WHERE tenant_id = $1 AND specialist_id = $2 AND id = $3
	`, tenantID, specialistID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInactivityNotFound
	}
	return nil
}

func (r *PgRepository) ListInactivity(ctx context.Context, tenantID, specialistID uuid.UUID) ([]InactivityInterval, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, specialist_id, starts_at, ends_at, reason, created_at
		FROM specialist_inactivity
		WHERE tenant_id = $1 AND specialist_id = $2
		ORDER BY starts_at
	`, tenantID, specialistID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []InactivityInterval
	for rows.Next() {
		iv, err := scanInactivity(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *iv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) GetState(ctx context.Context, tenantID uuid.UUID, name Status) (*StateDefinition, error) {
	var def StateDefinition
	err := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, description
		FROM appointment_states
		WHERE tenant_id = $1 AND name = $2
	`, tenantID, name).Scan(&def.ID, &def.TenantID, &def.Name, &def.Description)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStateNotFound
		}
		return nil, err
	}
	return &def, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (tenant_id, event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.TenantID, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullableUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
