package scheduling

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

// PgRepository implements Repository on a pgx connection pool. Booking
// writes serialize per doctor with a transaction-scoped advisory lock,
// and the schema carries a partial unique index on (doctor_id, start_at)
// for active statuses as a storage-level backstop.
type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const appointmentColumns = `id, patient_id, doctor_id, start_at, duration_minutes, status, confirmed, insurance_plan_id, notes, created_at, updated_at`

// Helpers

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(
		&d.ID,
		&d.FullName,
		&d.UserID,
		&d.SpecialtyID,
		&d.WorkStart,
		&d.WorkEnd,
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

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(
		&p.ID,
		&p.FullName,
		&p.Email,
		&p.UserID,
		&p.InsurancePlanID,
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

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.StartAt,
		&a.DurationMinutes,
		&a.Status,
		&a.Confirmed,
		&a.InsurancePlanID,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func scanEvent(row pgx.Row) (*OutboxEvent, error) {
	var ev OutboxEvent
	err := row.Scan(
		&ev.ID,
		&ev.EventType,
		&ev.AppointmentID,
		&ev.RecipientUserID,
		&ev.Payload,
		&ev.CreatedAt,
		&ev.DispatchedAt,
	)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// Interface methods

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, full_name, user_id, specialty_id, work_start, work_end, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, full_name, email, user_id, insurance_plan_id, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListActiveForDay(ctx context.Context, doctorID uuid.UUID, dayStart, dayEnd time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND status IN ('scheduled', 'confirmed')
		  AND start_at >= $2
		  AND start_at < $3
		ORDER BY start_at
	`, doctorID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

// lockDoctor takes a transaction-scoped advisory lock keyed on the doctor
// id, released automatically at commit/rollback. It serializes concurrent
// booking transactions for the same doctor.
func lockDoctor(ctx context.Context, tx pgx.Tx, doctorID uuid.UUID) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('doctor:' || $1::text))`, doctorID)
	if err != nil {
		return fmt.Errorf("acquire doctor advisory lock: %w", err)
	}
	return nil
}

// hasOverlap runs the authoritative interval-intersection conflict query
// (same predicate as Overlaps) inside the given transaction. exclude is
// skipped when non-nil, for reschedules.
func hasOverlap(ctx context.Context, tx pgx.Tx, doctorID uuid.UUID, start time.Time, durationMinutes int, exclude *uuid.UUID) (bool, error) {
	var found bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM appointments
			WHERE doctor_id = $1
			  AND status IN ('scheduled', 'confirmed')
			  AND ($4::uuid IS NULL OR id <> $4)
			  AND start_at < $2::timestamptz + make_interval(mins => $3)
			  AND start_at + make_interval(mins => duration_minutes) > $2
		)
	`, doctorID, start, durationMinutes, exclude).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("conflict query: %w", err)
	}
	return found, nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, ev OutboxEvent) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO notification_outbox (event_type, appointment_id, recipient_user_id, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.EventType, ev.AppointmentID, ev.RecipientUserID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

func (r *PgRepository) Book(ctx context.Context, p BookingParams, ev OutboxEvent) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin booking tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockDoctor(ctx, tx, p.DoctorID); err != nil {
		return nil, err
	}

	taken, err := hasOverlap(ctx, tx, p.DoctorID, p.StartAt, p.DurationMinutes, nil)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrSlotTaken
	}

	id := uuid.New()
	row := tx.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, start_at, duration_minutes, status, confirmed, insurance_plan_id, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'scheduled', false, $6, $7, now(), now())
		RETURNING `+appointmentColumns+`
	`, id, p.PatientID, p.DoctorID, p.StartAt, p.DurationMinutes, p.InsurancePlanID, p.Notes)

	appt, err := scanAppointment(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSlotTaken
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}

	ev.AppointmentID = &appt.ID
	if err := insertEvent(ctx, tx, ev); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit booking tx: %w", err)
	}
	return appt, nil
}

func (r *PgRepository) Reschedule(ctx context.Context, id uuid.UUID, newStart time.Time, newDurationMinutes int, ev OutboxEvent) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin reschedule tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var doctorID uuid.UUID
	var status AppointmentStatus
	err = tx.QueryRow(ctx, `
		SELECT doctor_id, status FROM appointments WHERE id = $1 FOR UPDATE
	`, id).Scan(&doctorID, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("load appointment for reschedule: %w", err)
	}

	// The row lock pins the status for the rest of the transaction. A
	// cancel or completion that committed after the caller's load must
	// not be overwritten by the move.
	if !status.Active() {
		return nil, fmt.Errorf("%w: now %s", ErrStatusChanged, status)
	}

	if err := lockDoctor(ctx, tx, doctorID); err != nil {
		return nil, err
	}

	taken, err := hasOverlap(ctx, tx, doctorID, newStart, newDurationMinutes, &id)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrSlotTaken
	}

	// A moved appointment needs re-confirmation for its new time.
	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET start_at = $2,
		    duration_minutes = $3,
		    status = 'scheduled',
		    confirmed = false,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns+`
	`, id, newStart, newDurationMinutes)

	appt, err := scanAppointment(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSlotTaken
		}
		return nil, fmt.Errorf("update appointment: %w", err)
	}

	if err := insertEvent(ctx, tx, ev); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit reschedule tx: %w", err)
	}
	return appt, nil
}

func (r *PgRepository) TransitionStatus(ctx context.Context, id uuid.UUID, to AppointmentStatus, ev *OutboxEvent, from ...AppointmentStatus) (*Appointment, error) {
	fromList := make([]string, len(from))
	for i, st := range from {
		fromList[i] = string(st)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transition tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    confirmed = ($2 = 'confirmed'),
		    updated_at = now()
		WHERE id = $1
		  AND status = ANY($3)
		RETURNING `+appointmentColumns+`
	`, id, to, fromList)

	appt, err := scanAppointment(row)
	if err != nil {
		if !errors.Is(err, ErrAppointmentNotFound) {
			return nil, fmt.Errorf("update status: %w", err)
		}
		// Distinguish a missing row from a CAS miss.
		var cur AppointmentStatus
		checkErr := tx.QueryRow(ctx, `SELECT status FROM appointments WHERE id = $1`, id).Scan(&cur)
		if errors.Is(checkErr, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		if checkErr != nil {
			return nil, fmt.Errorf("recheck status: %w", checkErr)
		}
		return nil, fmt.Errorf("%w: now %s", ErrStatusChanged, cur)
	}

	if ev != nil {
		if err := insertEvent(ctx, tx, *ev); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transition tx: %w", err)
	}
	return appt, nil
}

func (r *PgRepository) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY start_at DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func (r *PgRepository) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		ORDER BY start_at DESC
		LIMIT $2 OFFSET $3
	`, doctorID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func (r *PgRepository) ListDoctorsWithBookedCount(ctx context.Context, dayStart, dayEnd time.Time, specialtyID *uuid.UUID) ([]DoctorSummary, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT d.id, d.full_name, d.specialty_id, s.name,
		       COUNT(a.id) AS booked
		FROM doctors d
		LEFT JOIN specialties s ON s.id = d.specialty_id
		LEFT JOIN appointments a
		  ON a.doctor_id = d.id
		 AND a.status <> 'cancelled'
		 AND a.start_at >= $1
		 AND a.start_at < $2
		WHERE ($3::uuid IS NULL OR d.specialty_id = $3)
		GROUP BY d.id, d.full_name, d.specialty_id, s.name
		ORDER BY d.full_name
	`, dayStart, dayEnd, specialtyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []DoctorSummary
	for rows.Next() {
		var ds DoctorSummary
		if err := rows.Scan(&ds.ID, &ds.FullName, &ds.SpecialtyID, &ds.SpecialtyName, &ds.BookedCount); err != nil {
			return nil, err
		}
		result = append(result, ds)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) FindUndispatchedEvents(ctx context.Context, limit int) ([]OutboxEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, event_type, appointment_id, recipient_user_id, payload, created_at, dispatched_at
		FROM notification_outbox
		WHERE dispatched_at IS NULL
		ORDER BY id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []OutboxEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) MarkEventDispatched(ctx context.Context, id int64, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE notification_outbox SET dispatched_at = $2 WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("mark event dispatched: %w", err)
	}
	return nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
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

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
