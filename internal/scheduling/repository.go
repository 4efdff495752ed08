package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrPatientNotFound     = errors.New("patient not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrSlotTaken is returned by the booking writes when the conflict
	// query inside the transaction finds an overlapping active appointment.
	ErrSlotTaken = errors.New("slot already taken")

	// ErrStatusChanged is returned by TransitionStatus when the row is no
	// longer in any of the expected source statuses.
	ErrStatusChanged = errors.New("appointment status changed")
)

// BookingParams carries everything the booking transaction needs to
// insert a new appointment.
type BookingParams struct {
	PatientID       uuid.UUID
	DoctorID        uuid.UUID
	StartAt         time.Time
	DurationMinutes int
	InsurancePlanID *uuid.UUID
	Notes           string
}

// Repository contains all DB interactions needed by the scheduler.
//
// Book and Reschedule must run the conflict check and the write in one
// transaction under a per-doctor lock, and insert the outbox event in
// the same transaction, so that no two concurrent bookings for the same
// doctor can both commit.
type Repository interface {
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// ListActiveForDay returns scheduled/confirmed appointments whose start
	// falls in [dayStart, dayEnd), ordered by start.
	ListActiveForDay(ctx context.Context, doctorID uuid.UUID, dayStart, dayEnd time.Time) ([]Appointment, error)

	// Book atomically re-checks for interval overlap and inserts the
	// appointment plus the outbox event. Returns ErrSlotTaken on conflict.
	Book(ctx context.Context, p BookingParams, ev OutboxEvent) (*Appointment, error)

	// Reschedule moves an existing appointment, excluding it from its own
	// conflict check. Returns ErrSlotTaken on conflict and ErrStatusChanged
	// when the row is no longer scheduled or confirmed.
	Reschedule(ctx context.Context, id uuid.UUID, newStart time.Time, newDurationMinutes int, ev OutboxEvent) (*Appointment, error)

	// TransitionStatus is a compare-and-swap status update: the row must
	// currently be in one of the from statuses. The outbox event, when
	// non-nil, is written in the same transaction.
	TransitionStatus(ctx context.Context, id uuid.UUID, to AppointmentStatus, ev *OutboxEvent, from ...AppointmentStatus) (*Appointment, error)

	// DeleteAppointment is the administrative hard delete.
	DeleteAppointment(ctx context.Context, id uuid.UUID) error

	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error)

	// Capacity query
	ListDoctorsWithBookedCount(ctx context.Context, dayStart, dayEnd time.Time, specialtyID *uuid.UUID) ([]DoctorSummary, error)

	// Outbox worker
	FindUndispatchedEvents(ctx context.Context, limit int) ([]OutboxEvent, error)
	MarkEventDispatched(ctx context.Context, id int64, at time.Time) error
}
