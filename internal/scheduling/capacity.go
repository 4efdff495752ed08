package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DailyCap is the maximum non-cancelled appointments per doctor per day
// before the doctor drops out of availability listings. With the default
// 08:00-17:00 window and the 30 minute grid this equals a fully booked day.
const DailyCap = 18

// DoctorsWithAvailability lists doctors (optionally filtered by specialty)
// whose non-cancelled appointment count on date is below the daily cap.
// Pure read; not transactionally consistent with concurrent bookings.
func (s *Service) DoctorsWithAvailability(ctx context.Context, date time.Time, specialtyID *uuid.UUID) ([]DoctorSummary, error) {
	dayStart, dayEnd := s.dayBounds(date)

	all, err := s.repo.ListDoctorsWithBookedCount(ctx, dayStart, dayEnd, specialtyID)
	if err != nil {
		return nil, fmt.Errorf("list doctors with booked count: %w", err)
	}

	available := make([]DoctorSummary, 0, len(all))
	for _, d := range all {
		if d.BookedCount < DailyCap {
			available = append(available, d)
		}
	}
	return available, nil
}
