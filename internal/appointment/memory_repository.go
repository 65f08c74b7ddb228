package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is a Repository held in process. It enforces the same
// one-active-appointment-per-practitioner-instant rule as the database index.
type MemoryRepository struct {
	mu           sync.Mutex
	appointments map[uuid.UUID]Appointment
	logs         map[uuid.UUID]TherapyLog // by appointment id
	deliveries   map[uuid.UUID][]Delivery
	events       []EventLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		appointments: map[uuid.UUID]Appointment{},
		logs:         map[uuid.UUID]TherapyLog{},
		deliveries:   map[uuid.UUID][]Delivery{},
	}
}

func (m *MemoryRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (m *MemoryRepository) ListOccupiedTimes(_ context.Context, practitionerID uuid.UUID, from, to time.Time) ([]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []time.Time
	for _, a := range m.appointments {
		if a.PractitionerID != practitionerID || !a.Status.Active() {
			continue
		}
		if a.ScheduledAt.Before(from) || a.ScheduledAt.After(to) {
			continue
		}
		out = append(out, a.ScheduledAt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (m *MemoryRepository) InsertAppointment(_ context.Context, a Appointment) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a.Status.Active() {
		for _, existing := range m.appointments {
			if existing.PractitionerID == a.PractitionerID && existing.Status.Active() && existing.ScheduledAt.Equal(a.ScheduledAt) {
				return nil, ErrSlotTaken
			}
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.NotificationStatus == "" {
		a.NotificationStatus = NotificationPending
	}
	now := time.Now()
	a.CreatedAt, a.UpdatedAt = now, now
	m.appointments[a.ID] = a
	return &a, nil
}

func (m *MemoryRepository) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	m.appointments[id] = a
	return &a, nil
}

func (m *MemoryRepository) CompleteWithLog(_ context.Context, id, practitionerID uuid.UUID, notes string) (*TherapyLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	switch {
	case !ok:
		return nil, ErrAppointmentNotFound
	case a.PractitionerID != practitionerID:
		return nil, ErrNotAssigned
	case a.Status == StatusCompleted:
		return nil, ErrAlreadyLogged
	case a.Status != StatusConfirmed:
		return nil, ErrInvalidStatusTransition
	}
	if _, logged := m.logs[id]; logged {
		return nil, ErrAlreadyLogged
	}

	now := time.Now()
	a.Status = StatusCompleted
	a.UpdatedAt = now
	m.appointments[id] = a

	l := TherapyLog{
		ID:             uuid.New(),
		AppointmentID:  id,
		PatientID:      a.PatientID,
		PractitionerID: practitionerID,
		Therapy:        a.Therapy,
		Notes:          notes,
		CreatedAt:      now,
	}
	m.logs[id] = l
	return &l, nil
}

func (m *MemoryRepository) ListAppointmentsByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	out := m.filter(func(a Appointment) bool { return a.PatientID == patientID })
	sortDesc(out)
	return page(out, limit, offset), nil
}

func (m *MemoryRepository) ListAppointmentsByPractitioner(_ context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	out := m.filter(func(a Appointment) bool {
		return a.PractitionerID == practitionerID && !a.ScheduledAt.Before(from) && !a.ScheduledAt.After(to)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (m *MemoryRepository) ListAppointments(_ context.Context, f ListFilter) ([]Appointment, error) {
	out := m.filter(func(a Appointment) bool {
		if f.Status != nil && a.Status != *f.Status {
			return false
		}
		if f.From != nil && a.ScheduledAt.Before(*f.From) {
			return false
		}
		if f.To != nil && a.ScheduledAt.After(*f.To) {
			return false
		}
		return true
	})
	sortDesc(out)
	return page(out, f.Limit, f.Offset), nil
}

func (m *MemoryRepository) ListLogsByPatient(_ context.Context, patientID uuid.UUID) ([]TherapyLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []TherapyLog
	for _, l := range m.logs {
		if l.PatientID == patientID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryRepository) RecordDeliveries(_ context.Context, id uuid.UUID, status NotificationStatus, detail string, deliveries []Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok {
		return ErrAppointmentNotFound
	}
	a.NotificationStatus = status
	a.NotificationDetail = detail
	a.NotificationAttempts++
	a.UpdatedAt = time.Now()
	m.appointments[id] = a
	m.deliveries[id] = append(m.deliveries[id], deliveries...)
	return nil
}

func (m *MemoryRepository) ListNotificationRetries(_ context.Context, maxAttempts int, staleBefore time.Time, limit int) ([]Appointment, error) {
	out := m.filter(func(a Appointment) bool {
		if !a.Status.Active() || a.NotificationAttempts >= maxAttempts {
			return false
		}
		return a.NotificationStatus == NotificationFailed ||
			(a.NotificationStatus == NotificationPending && a.UpdatedAt.Before(staleBefore))
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return page(out, limit, 0), nil
}

func (m *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.ID = int64(len(m.events) + 1)
	m.events = append(m.events, ev)
	return nil
}

// Deliveries returns every delivery recorded for an appointment.
func (m *MemoryRepository) Deliveries(id uuid.UUID) []Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Delivery(nil), m.deliveries[id]...)
}

// Events returns the audit trail in insertion order.
func (m *MemoryRepository) Events() []EventLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]EventLog(nil), m.events...)
}

func (m *MemoryRepository) filter(keep func(Appointment) bool) []Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Appointment
	for _, a := range m.appointments {
		if keep(a) {
			out = append(out, a)
		}
	}
	return out
}

func sortDesc(as []Appointment) {
	sort.Slice(as, func(i, j int) bool { return as[i].ScheduledAt.After(as[j].ScheduledAt) })
}

func page(as []Appointment, limit, offset int) []Appointment {
	if offset >= len(as) {
		return nil
	}
	as = as[offset:]
	if limit > 0 && len(as) > limit {
		as = as[:limit]
	}
	return as
}
