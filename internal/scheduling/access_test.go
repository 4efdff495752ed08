package scheduling

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestCanModify(t *testing.T) {
	doctorID := uuid.New()
	patientID := uuid.New()
	appt := &Appointment{
		ID:        uuid.New(),
		DoctorID:  doctorID,
		PatientID: patientID,
	}

	tests := []struct {
		name  string
		actor Actor
		want  bool
	}{
		{"front desk", Actor{UserID: uuid.New(), Role: RoleFrontDesk}, true},
		{"assigned doctor", Actor{UserID: uuid.New(), Role: RoleDoctor, ProfileID: doctorID}, true},
		{"other doctor", Actor{UserID: uuid.New(), Role: RoleDoctor, ProfileID: uuid.New()}, false},
		{"owning patient", Actor{UserID: uuid.New(), Role: RolePatient, ProfileID: patientID}, true},
		{"other patient", Actor{UserID: uuid.New(), Role: RolePatient, ProfileID: uuid.New()}, false},
		{"unknown role", Actor{UserID: uuid.New()}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanModify(tt.actor, appt))
		})
	}
}

func TestCanDelete(t *testing.T) {
	assert.True(t, CanDelete(Actor{UserID: uuid.New(), Role: RoleFrontDesk}))
	assert.False(t, CanDelete(Actor{UserID: uuid.New(), Role: RoleDoctor, ProfileID: uuid.New()}))
	assert.False(t, CanDelete(Actor{UserID: uuid.New(), Role: RolePatient, ProfileID: uuid.New()}))
}
