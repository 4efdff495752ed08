package scheduling

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(seq func(func(time.Time) bool)) []time.Time {
	var out []time.Time
	for t := range seq {
		out = append(out, t)
	}
	return out
}

func TestWindowFor_Defaults(t *testing.T) {
	date := time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC)

	t.Run("no configured window", func(t *testing.T) {
		w := WindowFor(&Doctor{}, date, time.UTC)
		assert.Equal(t, at(8, 0), w.Start)
		assert.Equal(t, at(17, 0), w.End)
	})

	t.Run("configured window wins", func(t *testing.T) {
		ws, we := 9*60, 12*60
		w := WindowFor(&Doctor{WorkStart: &ws, WorkEnd: &we}, date, time.UTC)
		assert.Equal(t, at(9, 0), w.Start)
		assert.Equal(t, at(12, 0), w.End)
	})

	t.Run("partial config fills the other bound from defaults", func(t *testing.T) {
		ws := 10 * 60
		w := WindowFor(&Doctor{WorkStart: &ws}, date, time.UTC)
		assert.Equal(t, at(10, 0), w.Start)
		assert.Equal(t, at(17, 0), w.End)
	})
}

func TestSlotGrid_FullDay(t *testing.T) {
	w := Window{Start: at(8, 0), End: at(17, 0)}
	slots := collect(slotGrid(w))

	require.Len(t, slots, 18)
	assert.Equal(t, at(8, 0), slots[0])
	assert.Equal(t, at(8, 30), slots[1])
	assert.Equal(t, at(16, 30), slots[17])
}

func TestSlotGrid_NoTrailingPartialSlot(t *testing.T) {
	// Window end is not excluded as a start even when a shorter slot
	// would fit before it.
	w := Window{Start: at(8, 0), End: at(9, 15)}
	slots := collect(slotGrid(w))

	require.Len(t, slots, 3)
	assert.Equal(t, at(9, 0), slots[2])
}

func TestFreeSlots_ExcludesBookedIntervals(t *testing.T) {
	w := Window{Start: at(8, 0), End: at(17, 0)}
	booked := []Appointment{
		{ID: uuid.New(), StartAt: at(10, 0), DurationMinutes: 30, Status: StatusConfirmed},
		{ID: uuid.New(), StartAt: at(14, 0), DurationMinutes: 60, Status: StatusScheduled},
	}

	slots := collect(freeSlots(w, booked))

	// 18 candidates minus 10:00 and the two covered by the hour at 14:00.
	require.Len(t, slots, 15)
	for _, s := range slots {
		assert.NotEqual(t, at(10, 0), s)
		assert.NotEqual(t, at(14, 0), s)
		assert.NotEqual(t, at(14, 30), s)
	}
}

func TestFreeSlots_CancelledDoesNotBlock(t *testing.T) {
	w := Window{Start: at(8, 0), End: at(17, 0)}
	booked := []Appointment{
		{ID: uuid.New(), StartAt: at(10, 0), DurationMinutes: 30, Status: StatusCancelled},
	}

	slots := collect(freeSlots(w, booked))
	assert.Len(t, slots, 18)
}

func TestFreeSlots_SequenceIsRestartable(t *testing.T) {
	w := Window{Start: at(8, 0), End: at(10, 0)}
	seq := freeSlots(w, nil)

	first := collect(seq)
	second := collect(seq)
	assert.Equal(t, first, second)
}

func TestServiceFreeSlots(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, newMemLocker(), zerolog.Nop(), time.UTC)

	doc := repo.addDoctor(Doctor{FullName: "Dr. Souza"})
	pat := repo.addPatient(Patient{FullName: "Ana Lima"})
	repo.addAppointment(Appointment{
		DoctorID:        doc.ID,
		PatientID:       pat.ID,
		StartAt:         at(10, 0),
		DurationMinutes: 30,
		Status:          StatusScheduled,
	})

	date := time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC)
	seq, err := svc.FreeSlots(context.Background(), doc.ID, date)
	require.NoError(t, err)

	slots := collect(seq)
	require.Len(t, slots, 17)
	for _, s := range slots {
		assert.NotEqual(t, at(10, 0), s, "an occupied start must never be offered")
	}

	t.Run("unknown doctor", func(t *testing.T) {
		_, err := svc.FreeSlots(context.Background(), uuid.New(), date)
		assert.ErrorIs(t, err, ErrDoctorNotFound)
	})
}
