package api

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	redisclient "github.com/clinicbase/scheduling/internal/redis"
	"github.com/clinicbase/scheduling/internal/scheduling"
)

// Scheduler is the slice of the scheduling service the HTTP layer needs.
type Scheduler interface {
	Create(ctx context.Context, actor scheduling.Actor, in scheduling.CreateInput) (*scheduling.Appointment, error)
	Reschedule(ctx context.Context, actor scheduling.Actor, id uuid.UUID, newStart time.Time, newDurationMinutes int) (*scheduling.Appointment, error)
	Confirm(ctx context.Context, actor scheduling.Actor, id uuid.UUID) (*scheduling.Appointment, error)
	Cancel(ctx context.Context, actor scheduling.Actor, id uuid.UUID) (*scheduling.Appointment, error)
	Complete(ctx context.Context, actor scheduling.Actor, id uuid.UUID) (*scheduling.Appointment, error)
	Delete(ctx context.Context, actor scheduling.Actor, id uuid.UUID) error
	Get(ctx context.Context, actor scheduling.Actor, id uuid.UUID) (*scheduling.Appointment, error)
	ListByPatient(ctx context.Context, actor scheduling.Actor, patientID uuid.UUID, limit, offset int) ([]scheduling.Appointment, error)
	ListByDoctor(ctx context.Context, actor scheduling.Actor, doctorID uuid.UUID, limit, offset int) ([]scheduling.Appointment, error)
	FreeSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) (iter.Seq[time.Time], error)
	DoctorsWithAvailability(ctx context.Context, date time.Time, specialtyID *uuid.UUID) ([]scheduling.DoctorSummary, error)
}

func createAppointmentHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := GetActor(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_actor", "actor headers are required")
			return
		}

		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		startAt, err := time.Parse(time.RFC3339, req.StartAt)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "invalid_start_at", "start_at must be RFC 3339")
			return
		}

		in := scheduling.CreateInput{
			PatientID:       patientID,
			DoctorID:        doctorID,
			StartAt:         startAt,
			DurationMinutes: req.DurationMinutes,
			Notes:           req.Notes,
		}
		if req.InsurancePlanID != nil {
			planID, err := uuid.Parse(*req.InsurancePlanID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_insurance_plan_id", "insurance_plan_id must be a valid UUID")
				return
			}
			in.InsurancePlanID = &planID
		}

		appt, err := svc.Create(r.Context(), actor, in)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, id, ok := actorAndID(w, r)
		if !ok {
			return
		}
		appt, err := svc.Get(r.Context(), actor, id)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func rescheduleAppointmentHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, id, ok := actorAndID(w, r)
		if !ok {
			return
		}

		var req RescheduleAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		startAt, err := time.Parse(time.RFC3339, req.StartAt)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "invalid_start_at", "start_at must be RFC 3339")
			return
		}

		appt, err := svc.Reschedule(r.Context(), actor, id, startAt, req.DurationMinutes)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func confirmAppointmentHandler(svc Scheduler) http.HandlerFunc {
	return transitionHandler(svc.Confirm)
}

func cancelAppointmentHandler(svc Scheduler) http.HandlerFunc {
	return transitionHandler(svc.Cancel)
}

func completeAppointmentHandler(svc Scheduler) http.HandlerFunc {
	return transitionHandler(svc.Complete)
}

func transitionHandler(op func(context.Context, scheduling.Actor, uuid.UUID) (*scheduling.Appointment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, id, ok := actorAndID(w, r)
		if !ok {
			return
		}
		appt, err := op(r.Context(), actor, id)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func deleteAppointmentHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, id, ok := actorAndID(w, r)
		if !ok {
			return
		}
		if err := svc.Delete(r.Context(), actor, id); err != nil {
			handleSchedulingError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func listPatientAppointmentsHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := GetActor(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_actor", "actor headers are required")
			return
		}
		patientID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "id must be a valid UUID")
			return
		}

		limit, offset := parsePagination(r)
		appts, err := svc.ListByPatient(r.Context(), actor, patientID, limit, offset)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentListResponse(appts))
	}
}

func listDoctorAppointmentsHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := GetActor(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_actor", "actor headers are required")
			return
		}
		doctorID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
			return
		}

		limit, offset := parsePagination(r)
		appts, err := svc.ListByDoctor(r.Context(), actor, doctorID, limit, offset)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentListResponse(appts))
	}
}

func freeSlotsHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
			return
		}
		date, ok := parseDateParam(w, r)
		if !ok {
			return
		}

		slots, err := svc.FreeSlots(r.Context(), doctorID, date)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		resp := SlotListResponse{
			DoctorID: doctorID,
			Date:     date.Format("2006-01-02"),
			Slots:    []string{},
		}
		for slot := range slots {
			resp.Slots = append(resp.Slots, slot.Format("15:04"))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func availableDoctorsHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date, ok := parseDateParam(w, r)
		if !ok {
			return
		}

		var specialtyID *uuid.UUID
		if raw := r.URL.Query().Get("specialty_id"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_specialty_id", "specialty_id must be a valid UUID")
				return
			}
			specialtyID = &id
		}

		doctors, err := svc.DoctorsWithAvailability(r.Context(), date, specialtyID)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		resp := DoctorListResponse{
			Date:    date.Format("2006-01-02"),
			Doctors: make([]DoctorSummaryResponse, 0, len(doctors)),
		}
		for _, d := range doctors {
			resp.Doctors = append(resp.Doctors, DoctorSummaryResponse{
				ID:          d.ID,
				FullName:    d.FullName,
				SpecialtyID: d.SpecialtyID,
				Specialty:   d.SpecialtyName,
				BookedCount: d.BookedCount,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// Helpers

func actorAndID(w http.ResponseWriter, r *http.Request) (scheduling.Actor, uuid.UUID, bool) {
	actor, ok := GetActor(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_actor", "actor headers are required")
		return scheduling.Actor{}, uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return scheduling.Actor{}, uuid.Nil, false
	}
	return actor, id, true
}

// parsePagination reads limit/offset; the service clamps the values.
func parsePagination(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}

func parseDateParam(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := r.URL.Query().Get("date")
	date, err := time.Parse("2006-01-02", raw)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid_date", "date must be YYYY-MM-DD")
		return time.Time{}, false
	}
	return date, true
}

func handleSchedulingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scheduling.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, scheduling.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, scheduling.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, scheduling.ErrInvalidTime):
		writeError(w, http.StatusUnprocessableEntity, "invalid_time", err.Error())
	case errors.Is(err, scheduling.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.Is(err, scheduling.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, scheduling.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, scheduling.ErrDoctorBusy),
		errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "doctor_being_booked", "doctor is currently being booked, please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
