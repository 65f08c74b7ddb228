package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAppointmentNotFound     = errors.New("appointment not found")
	ErrSlotTaken               = errors.New("practitioner already holds an active appointment at this time")
	ErrAlreadyLogged           = errors.New("appointment already has a therapy log")
	ErrNotAssigned             = errors.New("appointment is assigned to another practitioner")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// Availability: scheduled instants of active appointments in [from, to].
	ListOccupiedTimes(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]time.Time, error)

	// Commit. Returns ErrSlotTaken when the uniqueness constraint rejects the row.
	InsertAppointment(ctx context.Context, a Appointment) (*Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)

	// Marks a confirmed appointment completed and appends its log in one transaction.
	CompleteWithLog(ctx context.Context, id, practitionerID uuid.UUID, notes string) (*TherapyLog, error)

	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
	ListAppointmentsByPractitioner(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Appointment, error)
	ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, error)
	ListLogsByPatient(ctx context.Context, patientID uuid.UUID) ([]TherapyLog, error)

	// Notification bookkeeping
	RecordDeliveries(ctx context.Context, id uuid.UUID, status NotificationStatus, detail string, deliveries []Delivery) error
	ListNotificationRetries(ctx context.Context, maxAttempts int, staleBefore time.Time, limit int) ([]Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
