package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// Overlaps reports whether two half-open intervals [aStart, aStart+aDur)
// and [bStart, bStart+bDur) intersect. This is the authoritative conflict
// predicate; the repository encodes the same test in SQL for the check
// that runs inside booking transactions.
func Overlaps(aStart time.Time, aDur time.Duration, bStart time.Time, bDur time.Duration) bool {
	return aStart.Before(bStart.Add(bDur)) && bStart.Before(aStart.Add(aDur))
}

// HasConflict reports whether any active appointment in appts overlaps the
// proposed interval. exclude removes one appointment from consideration,
// used when rescheduling an appointment against itself; pass uuid.Nil to
// consider all.
func HasConflict(appts []Appointment, proposedStart time.Time, proposedDur time.Duration, exclude uuid.UUID) bool {
	for i := range appts {
		a := &appts[i]
		if a.ID == exclude {
			continue
		}
		if !a.Status.Active() {
			continue
		}
		if Overlaps(a.StartAt, a.Duration(), proposedStart, proposedDur) {
			return true
		}
	}
	return false
}
