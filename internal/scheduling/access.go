package scheduling

import "github.com/google/uuid"

type RoleKind string

const (
	RolePatient   RoleKind = "patient"
	RoleDoctor    RoleKind = "doctor"
	RoleFrontDesk RoleKind = "front_desk"
)

// Actor is the authenticated caller as supplied by the upstream identity
// provider. ProfileID is the patient or doctor profile linked to the
// account, depending on Role; front desk actors carry no profile.
type Actor struct {
	UserID    uuid.UUID
	Role      RoleKind
	ProfileID uuid.UUID
}

// CanModify reports whether the actor may reschedule, confirm or cancel
// the appointment: front desk always, the assigned doctor, or the owning
// patient.
func CanModify(actor Actor, appt *Appointment) bool {
	switch actor.Role {
	case RoleFrontDesk:
		return true
	case RoleDoctor:
		return actor.ProfileID == appt.DoctorID
	case RolePatient:
		return actor.ProfileID == appt.PatientID
	}
	return false
}

// CanDelete guards the administrative hard delete.
func CanDelete(actor Actor) bool {
	return actor.Role == RoleFrontDesk
}
