package scheduling

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
)

// Active reports whether the status counts toward conflicts and capacity.
func (s AppointmentStatus) Active() bool {
	return s == StatusScheduled || s == StatusConfirmed
}

// Terminal statuses accept no further business transitions.
func (s AppointmentStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

type Specialty struct {
	ID   uuid.UUID
	Name string
}

// Doctor working hours are stored as minutes since midnight, clinic-local.
// A nil window falls back to the clinic default (08:00-17:00).
type Doctor struct {
	ID          uuid.UUID
	FullName    string
	UserID      *uuid.UUID
	SpecialtyID *uuid.UUID
	WorkStart   *int
	WorkEnd     *int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Patient struct {
	ID              uuid.UUID
	FullName        string
	Email           *string
	UserID          *uuid.UUID
	InsurancePlanID *uuid.UUID
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Appointment struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	DoctorID        uuid.UUID
	StartAt         time.Time
	DurationMinutes int
	Status          AppointmentStatus
	Confirmed       bool
	InsurancePlanID *uuid.UUID
	Notes           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Duration returns the booked length as a time.Duration.
func (a *Appointment) Duration() time.Duration {
	return time.Duration(a.DurationMinutes) * time.Minute
}

// EndAt is the exclusive end of the booked interval.
func (a *Appointment) EndAt() time.Time {
	return a.StartAt.Add(a.Duration())
}

// DoctorSummary is the read model returned by the availability listing.
type DoctorSummary struct {
	ID            uuid.UUID
	FullName      string
	SpecialtyID   *uuid.UUID
	SpecialtyName *string
	BookedCount   int
}

type OutboxEvent struct {
	ID              int64
	EventType       string
	AppointmentID   *uuid.UUID
	RecipientUserID *uuid.UUID
	Payload         []byte
	CreatedAt       time.Time
	DispatchedAt    *time.Time
}
