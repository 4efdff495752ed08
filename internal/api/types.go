package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicbase/scheduling/internal/scheduling"
)

type CreateAppointmentRequest struct {
	PatientID       string  `json:"patient_id"`
	DoctorID        string  `json:"doctor_id"`
	StartAt         string  `json:"start_at"` // RFC 3339
	DurationMinutes int     `json:"duration_minutes,omitempty"`
	InsurancePlanID *string `json:"insurance_plan_id,omitempty"`
	Notes           string  `json:"notes,omitempty"`
}

type RescheduleAppointmentRequest struct {
	StartAt         string `json:"start_at"` // RFC 3339
	DurationMinutes int    `json:"duration_minutes,omitempty"`
}

type AppointmentResponse struct {
	ID              uuid.UUID  `json:"id"`
	PatientID       uuid.UUID  `json:"patient_id"`
	DoctorID        uuid.UUID  `json:"doctor_id"`
	StartAt         time.Time  `json:"start_at"`
	DurationMinutes int        `json:"duration_minutes"`
	Status          string     `json:"status"`
	Confirmed       bool       `json:"confirmed"`
	InsurancePlanID *uuid.UUID `json:"insurance_plan_id,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func toAppointmentResponse(a *scheduling.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		PatientID:       a.PatientID,
		DoctorID:        a.DoctorID,
		StartAt:         a.StartAt,
		DurationMinutes: a.DurationMinutes,
		Status:          string(a.Status),
		Confirmed:       a.Confirmed,
		InsurancePlanID: a.InsurancePlanID,
		Notes:           a.Notes,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

type AppointmentListResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
}

func toAppointmentListResponse(appts []scheduling.Appointment) AppointmentListResponse {
	resp := AppointmentListResponse{Appointments: make([]AppointmentResponse, 0, len(appts))}
	for i := range appts {
		resp.Appointments = append(resp.Appointments, toAppointmentResponse(&appts[i]))
	}
	return resp
}

// SlotListResponse carries free slot starts as clinic-local HH:MM strings.
type SlotListResponse struct {
	DoctorID uuid.UUID `json:"doctor_id"`
	Date     string    `json:"date"`
	Slots    []string  `json:"slots"`
}

type DoctorSummaryResponse struct {
	ID          uuid.UUID  `json:"id"`
	FullName    string     `json:"full_name"`
	SpecialtyID *uuid.UUID `json:"specialty_id,omitempty"`
	Specialty   *string    `json:"specialty,omitempty"`
	BookedCount int        `json:"booked_count"`
}

type DoctorListResponse struct {
	Date    string                  `json:"date"`
	Doctors []DoctorSummaryResponse `json:"doctors"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
