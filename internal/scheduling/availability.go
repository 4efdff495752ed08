package scheduling

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
)

const (
	// SlotStep is the clinic-wide booking grid.
	SlotStep = 30 * time.Minute

	// Default working window, minutes since midnight, applied when a
	// doctor has no window configured.
	DefaultWorkStart = 8 * 60  // 08:00
	DefaultWorkEnd   = 17 * 60 // 17:00
)

// Window is a doctor's working hours on a concrete date, clinic-local.
type Window struct {
	Start time.Time
	End   time.Time
}

// WindowFor resolves the doctor's working window on date, substituting
// the clinic defaults for either missing bound. date only contributes
// its year/month/day; loc is the clinic timezone.
func WindowFor(d *Doctor, date time.Time, loc *time.Location) Window {
	startMin, endMin := DefaultWorkStart, DefaultWorkEnd
	if d.WorkStart != nil {
		startMin = *d.WorkStart
	}
	if d.WorkEnd != nil {
		endMin = *d.WorkEnd
	}
	y, m, day := date.Date()
	midnight := time.Date(y, m, day, 0, 0, 0, 0, loc)
	return Window{
		Start: midnight.Add(time.Duration(startMin) * time.Minute),
		End:   midnight.Add(time.Duration(endMin) * time.Minute),
	}
}

// slotGrid yields candidate slot starts on the SlotStep grid, beginning at
// the window start and stopping strictly before the window end. No partial
// trailing slot is offered: the last candidate is the last grid point
// before w.End, regardless of whether a shorter slot would still fit.
func slotGrid(w Window) iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		for cur := w.Start; cur.Before(w.End); cur = cur.Add(SlotStep) {
			if !yield(cur) {
				return
			}
		}
	}
}

// freeSlots filters the grid down to candidates whose [start, start+SlotStep)
// interval does not overlap any active appointment. The sequence is lazy and
// restartable; booked is captured, so re-ranging replays the same answer.
func freeSlots(w Window, booked []Appointment) iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		for cur := range slotGrid(w) {
			if HasConflict(booked, cur, SlotStep, uuid.Nil) {
				continue
			}
			if !yield(cur) {
				return
			}
		}
	}
}

// FreeSlots computes the open slot start times for a doctor on a calendar
// date, ascending, clinic-local. Pure read: recomputed from the stored
// appointments on every call.
func (s *Service) FreeSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) (iter.Seq[time.Time], error) {
	doc, err := s.repo.GetDoctorByID(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	dayStart, dayEnd := s.dayBounds(date)
	booked, err := s.repo.ListActiveForDay(ctx, doctorID, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("list day appointments: %w", err)
	}

	w := WindowFor(doc, dayStart, s.loc)
	return freeSlots(w, booked), nil
}

// dayBounds returns the clinic-local [midnight, next midnight) interval
// for date's calendar day. Like WindowFor, date only contributes its
// year/month/day; callers pass the requested day at any clock time.
func (s *Service) dayBounds(date time.Time) (time.Time, time.Time) {
	y, m, d := date.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, s.loc)
	return start, start.AddDate(0, 0, 1)
}
