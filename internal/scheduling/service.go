package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	redisclient "github.com/clinicbase/scheduling/internal/redis"
)

const (
	EventAppointmentCreated     = "APPOINTMENT_CREATED"
	EventAppointmentConfirmed   = "APPOINTMENT_CONFIRMED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
)

var (
	// ErrSlotUnavailable means the conflict check found an overlapping
	// active appointment; the write was rejected, nothing was persisted.
	ErrSlotUnavailable = errors.New("requested slot is unavailable")

	// ErrInvalidTime covers past start times and non-positive durations.
	ErrInvalidTime = errors.New("invalid appointment time")

	ErrInvalidTransition = errors.New("invalid status transition")
	ErrForbidden         = errors.New("actor may not modify this appointment")

	// ErrDoctorBusy means the doctor's booking lock is held by another
	// request; callers may retry.
	ErrDoctorBusy = errors.New("doctor is being booked, please retry")
)

// DefaultDurationMinutes applies when a booking request leaves the
// duration unset.
const DefaultDurationMinutes = 30

// Service is the single entry point for all mutating scheduling
// operations. New appointments start as scheduled with confirmed=false;
// confirmation is an explicit follow-up step.
type Service struct {
	repo   Repository
	locker redisclient.Locker
	log    zerolog.Logger
	loc    *time.Location
	now    func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, log zerolog.Logger, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		repo:   repo,
		locker: locker,
		log:    log,
		loc:    loc,
		now:    time.Now,
	}
}

// WithClock overrides the time source. Tests use this to pin "now".
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type CreateInput struct {
	PatientID       uuid.UUID
	DoctorID        uuid.UUID
	StartAt         time.Time
	DurationMinutes int
	InsurancePlanID *uuid.UUID
	Notes           string
}

// Create books a new appointment. The authoritative conflict check runs
// inside the booking transaction under the doctor's lock; a slot shown
// as free by FreeSlots can still come back ErrSlotUnavailable here.
func (s *Service) Create(ctx context.Context, actor Actor, in CreateInput) (*Appointment, error) {
	if actor.Role == RolePatient && actor.ProfileID != in.PatientID {
		return nil, ErrForbidden
	}

	dur, err := s.normalizeDuration(in.DurationMinutes)
	if err != nil {
		return nil, err
	}
	in.DurationMinutes = dur

	if in.StartAt.Before(s.now()) {
		return nil, fmt.Errorf("%w: start is in the past", ErrInvalidTime)
	}

	doc, err := s.repo.GetDoctorByID(ctx, in.DoctorID)
	if err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if _, err := s.repo.GetPatientByID(ctx, in.PatientID); err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}

	ev := outboxEvent(EventAppointmentCreated, nil, doc.UserID, map[string]any{
		"patient_id":       in.PatientID.String(),
		"doctor_id":        in.DoctorID.String(),
		"start_at":         in.StartAt.In(s.loc).Format(time.RFC3339),
		"duration_minutes": in.DurationMinutes,
	})

	var created *Appointment
	err = s.withDoctorLock(ctx, in.DoctorID, func(lockCtx context.Context) error {
		appt, err := s.repo.Book(lockCtx, BookingParams{
			PatientID:       in.PatientID,
			DoctorID:        in.DoctorID,
			StartAt:         in.StartAt,
			DurationMinutes: in.DurationMinutes,
			InsurancePlanID: in.InsurancePlanID,
			Notes:           in.Notes,
		}, ev)
		if err != nil {
			return err
		}
		created = appt
		return nil
	})
	if err != nil {
		return nil, s.mapBookingErr(err)
	}

	s.log.Info().
		Str("appointment_id", created.ID.String()).
		Str("doctor_id", in.DoctorID.String()).
		Time("start_at", created.StartAt).
		Msg("appointment created")

	return created, nil
}

// Reschedule moves an appointment to a new start time, re-running the
// conflict check with the appointment excluded from its own window.
// A confirmed appointment drops back to scheduled and must be confirmed
// again for the new time.
func (s *Service) Reschedule(ctx context.Context, actor Actor, id uuid.UUID, newStart time.Time, newDurationMinutes int) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if !CanModify(actor, appt) {
		return nil, ErrForbidden
	}
	if appt.Status.Terminal() {
		return nil, fmt.Errorf("%w: appointment is %s", ErrInvalidTransition, appt.Status)
	}

	if newDurationMinutes == 0 {
		newDurationMinutes = appt.DurationMinutes
	}
	dur, err := s.normalizeDuration(newDurationMinutes)
	if err != nil {
		return nil, err
	}
	if newStart.Before(s.now()) {
		return nil, fmt.Errorf("%w: start is in the past", ErrInvalidTime)
	}

	doc, err := s.repo.GetDoctorByID(ctx, appt.DoctorID)
	if err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	ev := outboxEvent(EventAppointmentRescheduled, &id, doc.UserID, map[string]any{
		"previous_start": appt.StartAt.In(s.loc).Format(time.RFC3339),
		"start_at":       newStart.In(s.loc).Format(time.RFC3339),
	})

	var moved *Appointment
	err = s.withDoctorLock(ctx, appt.DoctorID, func(lockCtx context.Context) error {
		updated, err := s.repo.Reschedule(lockCtx, id, newStart, dur, ev)
		if err != nil {
			return err
		}
		moved = updated
		return nil
	})
	if err != nil {
		return nil, s.mapBookingErr(err)
	}

	s.log.Info().
		Str("appointment_id", id.String()).
		Time("start_at", moved.StartAt).
		Msg("appointment rescheduled")

	return moved, nil
}

// Confirm marks a scheduled appointment as confirmed. Only the assigned
// doctor or front desk may confirm. Confirming an already confirmed
// appointment is a no-op.
func (s *Service) Confirm(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if !canConfirm(actor, appt) {
		return nil, ErrForbidden
	}
	if appt.Status.Terminal() {
		return nil, fmt.Errorf("%w: appointment is %s", ErrInvalidTransition, appt.Status)
	}
	if appt.Status == StatusConfirmed {
		return appt, nil
	}

	ev := outboxEvent(EventAppointmentConfirmed, &id, s.patientUserID(ctx, appt.PatientID), map[string]any{
		"start_at": appt.StartAt.In(s.loc).Format(time.RFC3339),
	})

	updated, err := s.repo.TransitionStatus(ctx, id, StatusConfirmed, &ev, StatusScheduled)
	if err != nil {
		if errors.Is(err, ErrStatusChanged) {
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("confirm appointment: %w", err)
	}

	s.log.Info().Str("appointment_id", id.String()).Msg("appointment confirmed")
	return updated, nil
}

// Cancel moves a scheduled or confirmed appointment to cancelled.
// Cancelled is terminal: a second cancel fails with ErrInvalidTransition
// and the row stays cancelled.
func (s *Service) Cancel(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if !CanModify(actor, appt) {
		return nil, ErrForbidden
	}
	if appt.Status.Terminal() {
		return nil, fmt.Errorf("%w: appointment is %s", ErrInvalidTransition, appt.Status)
	}

	ev := outboxEvent(EventAppointmentCancelled, &id, s.patientUserID(ctx, appt.PatientID), map[string]any{
		"start_at": appt.StartAt.In(s.loc).Format(time.RFC3339),
	})

	updated, err := s.repo.TransitionStatus(ctx, id, StatusCancelled, &ev, StatusScheduled, StatusConfirmed)
	if err != nil {
		if errors.Is(err, ErrStatusChanged) {
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	s.log.Info().Str("appointment_id", id.String()).Msg("appointment cancelled")
	return updated, nil
}

// Complete is the administrative close-out after the visit took place.
// It bypasses conflict checks but still refuses terminal states.
func (s *Service) Complete(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if !canConfirm(actor, appt) {
		return nil, ErrForbidden
	}
	if appt.Status.Terminal() {
		return nil, fmt.Errorf("%w: appointment is %s", ErrInvalidTransition, appt.Status)
	}

	updated, err := s.repo.TransitionStatus(ctx, id, StatusCompleted, nil, StatusScheduled, StatusConfirmed)
	if err != nil {
		if errors.Is(err, ErrStatusChanged) {
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("complete appointment: %w", err)
	}
	return updated, nil
}

// Delete is the administrative hard delete, front desk only.
func (s *Service) Delete(ctx context.Context, actor Actor, id uuid.UUID) error {
	if !CanDelete(actor) {
		return ErrForbidden
	}
	if err := s.repo.DeleteAppointment(ctx, id); err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	s.log.Info().Str("appointment_id", id.String()).Msg("appointment deleted")
	return nil
}

// Get returns an appointment the actor is allowed to see.
func (s *Service) Get(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if !CanModify(actor, appt) {
		return nil, ErrForbidden
	}
	return appt, nil
}

// ListByPatient is the patient history view, newest first. Patients see
// only their own; front desk sees anyone's.
func (s *Service) ListByPatient(ctx context.Context, actor Actor, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if !canViewSchedule(actor, RolePatient, patientID) {
		return nil, ErrForbidden
	}
	limit, offset = clampPage(limit, offset)
	appts, err := s.repo.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return appts, nil
}

// ListByDoctor is the doctor agenda view, newest first. Doctors see only
// their own schedule; front desk sees anyone's.
func (s *Service) ListByDoctor(ctx context.Context, actor Actor, doctorID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if !canViewSchedule(actor, RoleDoctor, doctorID) {
		return nil, ErrForbidden
	}
	limit, offset = clampPage(limit, offset)
	appts, err := s.repo.ListByDoctor(ctx, doctorID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by doctor: %w", err)
	}
	return appts, nil
}

// Helpers

func (s *Service) normalizeDuration(minutes int) (int, error) {
	if minutes == 0 {
		return DefaultDurationMinutes, nil
	}
	if minutes < 0 {
		return 0, fmt.Errorf("%w: duration must be positive", ErrInvalidTime)
	}
	return minutes, nil
}

func (s *Service) mapBookingErr(err error) error {
	switch {
	case errors.Is(err, ErrSlotTaken):
		return ErrSlotUnavailable
	case errors.Is(err, ErrStatusChanged):
		return ErrInvalidTransition
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		return ErrDoctorBusy
	default:
		return err
	}
}

const (
	lockRetryAttempts = 3
	lockRetryDelay    = 50 * time.Millisecond
)

// withDoctorLock retries a contended lock acquisition a few times so the
// loser of a booking race reaches the conflict check and gets the real
// answer (ErrSlotTaken) instead of surfacing lock contention.
func (s *Service) withDoctorLock(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt < lockRetryAttempts; attempt++ {
		err = s.locker.WithDoctorLock(ctx, doctorID, fn)
		if !errors.Is(err, redisclient.ErrLockNotAcquired) {
			return err
		}
		if attempt == lockRetryAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockRetryDelay):
		}
	}
	return err
}

// canViewSchedule gates the per-profile listing views: front desk sees
// any schedule, other roles only the profile they are linked to.
func canViewSchedule(actor Actor, role RoleKind, profileID uuid.UUID) bool {
	if actor.Role == RoleFrontDesk {
		return true
	}
	return actor.Role == role && actor.ProfileID == profileID
}

// canConfirm mirrors the confirmation rule: the assigned doctor or front
// desk, never the patient.
func canConfirm(actor Actor, appt *Appointment) bool {
	switch actor.Role {
	case RoleFrontDesk:
		return true
	case RoleDoctor:
		return actor.ProfileID == appt.DoctorID
	}
	return false
}

// patientUserID resolves the notification recipient for patient-facing
// events. Best effort: a patient without a linked account gets no
// recipient and the sink drops the event.
func (s *Service) patientUserID(ctx context.Context, patientID uuid.UUID) *uuid.UUID {
	p, err := s.repo.GetPatientByID(ctx, patientID)
	if err != nil {
		s.log.Warn().Err(err).Str("patient_id", patientID.String()).Msg("resolve event recipient")
		return nil
	}
	return p.UserID
}

func outboxEvent(eventType string, appointmentID, recipient *uuid.UUID, payload map[string]any) OutboxEvent {
	data, err := json.Marshal(payload)
	if err != nil {
		data = nil
	}
	return OutboxEvent{
		EventType:       eventType,
		AppointmentID:   appointmentID,
		RecipientUserID: recipient,
		Payload:         data,
		CreatedAt:       time.Now(),
	}
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
