package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memRepo is an in-memory Repository with the same atomicity contract as
// PgRepository: Book/Reschedule hold the store lock across the conflict
// check and the write.
type memRepo struct {
	mu           sync.Mutex
	doctors      map[uuid.UUID]*Doctor
	patients     map[uuid.UUID]*Patient
	appointments map[uuid.UUID]*Appointment
	events       []OutboxEvent
	nextEventID  int64
}

func newMemRepo() *memRepo {
	return &memRepo{
		doctors:      make(map[uuid.UUID]*Doctor),
		patients:     make(map[uuid.UUID]*Patient),
		appointments: make(map[uuid.UUID]*Appointment),
	}
}

func (m *memRepo) addDoctor(d Doctor) *Doctor {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	m.doctors[d.ID] = &d
	return &d
}

func (m *memRepo) addPatient(p Patient) *Patient {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	m.patients[p.ID] = &p
	return &p
}

func (m *memRepo) addAppointment(a Appointment) *Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = StatusScheduled
	}
	m.appointments[a.ID] = &a
	return &a
}

func (m *memRepo) GetDoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memRepo) ListActiveForDay(_ context.Context, doctorID uuid.UUID, dayStart, dayEnd time.Time) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []Appointment
	for _, a := range m.appointments {
		if a.DoctorID == doctorID && a.Status.Active() &&
			!a.StartAt.Before(dayStart) && a.StartAt.Before(dayEnd) {
			result = append(result, *a)
		}
	}
	return result, nil
}

func (m *memRepo) activeConflictLocked(doctorID uuid.UUID, start time.Time, durationMinutes int, exclude uuid.UUID) bool {
	dur := time.Duration(durationMinutes) * time.Minute
	for _, a := range m.appointments {
		if a.DoctorID != doctorID || a.ID == exclude || !a.Status.Active() {
			continue
		}
		if Overlaps(a.StartAt, a.Duration(), start, dur) {
			return true
		}
	}
	return false
}

func (m *memRepo) addEvent(ev OutboxEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertEventLocked(ev)
}

func (m *memRepo) insertEventLocked(ev OutboxEvent) {
	m.nextEventID++
	ev.ID = m.nextEventID
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	m.events = append(m.events, ev)
}

func (m *memRepo) Book(_ context.Context, p BookingParams, ev OutboxEvent) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeConflictLocked(p.DoctorID, p.StartAt, p.DurationMinutes, uuid.Nil) {
		return nil, ErrSlotTaken
	}

	now := time.Now()
	a := &Appointment{
		ID:              uuid.New(),
		PatientID:       p.PatientID,
		DoctorID:        p.DoctorID,
		StartAt:         p.StartAt,
		DurationMinutes: p.DurationMinutes,
		Status:          StatusScheduled,
		Confirmed:       false,
		InsurancePlanID: p.InsurancePlanID,
		Notes:           p.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	m.appointments[a.ID] = a

	ev.AppointmentID = &a.ID
	m.insertEventLocked(ev)

	cp := *a
	return &cp, nil
}

func (m *memRepo) Reschedule(_ context.Context, id uuid.UUID, newStart time.Time, newDurationMinutes int, ev OutboxEvent) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if !a.Status.Active() {
		return nil, ErrStatusChanged
	}
	if m.activeConflictLocked(a.DoctorID, newStart, newDurationMinutes, id) {
		return nil, ErrSlotTaken
	}

	a.StartAt = newStart
	a.DurationMinutes = newDurationMinutes
	a.Status = StatusScheduled
	a.Confirmed = false
	a.UpdatedAt = time.Now()

	m.insertEventLocked(ev)

	cp := *a
	return &cp, nil
}

func (m *memRepo) TransitionStatus(_ context.Context, id uuid.UUID, to AppointmentStatus, ev *OutboxEvent, from ...AppointmentStatus) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}

	allowed := false
	for _, st := range from {
		if a.Status == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, ErrStatusChanged
	}

	a.Status = to
	a.Confirmed = to == StatusConfirmed
	a.UpdatedAt = time.Now()

	if ev != nil {
		m.insertEventLocked(*ev)
	}

	cp := *a
	return &cp, nil
}

func (m *memRepo) DeleteAppointment(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.appointments[id]; !ok {
		return ErrAppointmentNotFound
	}
	delete(m.appointments, id)
	return nil
}

func (m *memRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []Appointment
	for _, a := range m.appointments {
		if a.PatientID == patientID {
			result = append(result, *a)
		}
	}
	return pageLocked(result, limit, offset), nil
}

func (m *memRepo) ListByDoctor(_ context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []Appointment
	for _, a := range m.appointments {
		if a.DoctorID == doctorID {
			result = append(result, *a)
		}
	}
	return pageLocked(result, limit, offset), nil
}

// pageLocked sorts newest first and applies limit/offset, matching the
// SQL listings.
func pageLocked(appts []Appointment, limit, offset int) []Appointment {
	sort.Slice(appts, func(i, j int) bool { return appts[i].StartAt.After(appts[j].StartAt) })
	if offset >= len(appts) {
		return nil
	}
	appts = appts[offset:]
	if limit > 0 && limit < len(appts) {
		appts = appts[:limit]
	}
	return appts
}

func (m *memRepo) ListDoctorsWithBookedCount(_ context.Context, dayStart, dayEnd time.Time, specialtyID *uuid.UUID) ([]DoctorSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []DoctorSummary
	for _, d := range m.doctors {
		if specialtyID != nil {
			if d.SpecialtyID == nil || *d.SpecialtyID != *specialtyID {
				continue
			}
		}
		count := 0
		for _, a := range m.appointments {
			if a.DoctorID == d.ID && a.Status != StatusCancelled &&
				!a.StartAt.Before(dayStart) && a.StartAt.Before(dayEnd) {
				count++
			}
		}
		result = append(result, DoctorSummary{
			ID:          d.ID,
			FullName:    d.FullName,
			SpecialtyID: d.SpecialtyID,
			BookedCount: count,
		})
	}
	return result, nil
}

func (m *memRepo) FindUndispatchedEvents(_ context.Context, limit int) ([]OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []OutboxEvent
	for _, ev := range m.events {
		if ev.DispatchedAt == nil {
			result = append(result, ev)
			if len(result) == limit {
				break
			}
		}
	}
	return result, nil
}

func (m *memRepo) MarkEventDispatched(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.events {
		if m.events[i].ID == id {
			m.events[i].DispatchedAt = &at
			return nil
		}
	}
	return nil
}

func (m *memRepo) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]string, len(m.events))
	for i, ev := range m.events {
		types[i] = ev.EventType
	}
	return types
}

// memLocker serializes callers per doctor with in-process mutexes.
type memLocker struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func newMemLocker() *memLocker {
	return &memLocker{locks: make(map[uuid.UUID]*sync.Mutex)}
}

func (l *memLocker) WithDoctorLock(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	m, ok := l.locks[doctorID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[doctorID] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	return fn(ctx)
}
