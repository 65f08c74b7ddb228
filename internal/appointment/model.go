package appointment

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
)

// Active reports whether an appointment in this status occupies its slot.
func (s AppointmentStatus) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

type PaymentMethod string

const (
	PaymentOnline   PaymentMethod = "online"
	PaymentAtCenter PaymentMethod = "at-center"
)

func (p PaymentMethod) Valid() bool {
	return p == PaymentOnline || p == PaymentAtCenter
}

type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationPartial NotificationStatus = "partial"
	NotificationFailed  NotificationStatus = "failed"
	NotificationSkipped NotificationStatus = "skipped"
)

// Intake is the patient-supplied part of a booking.
type Intake struct {
	PatientName        string `json:"patient_name" validate:"required,min=2,max=120"`
	Age                int    `json:"age" validate:"required,min=1,max=120"`
	Sex                string `json:"sex" validate:"required,oneof=Male Female Other"`
	ContactPhone       string `json:"contact_phone" validate:"required,phone"`
	ContactEmail       string `json:"contact_email" validate:"required,email"`
	Symptoms           string `json:"symptoms,omitempty" validate:"max=2000"`
	MedicalHistory     string `json:"medical_history,omitempty" validate:"max=2000"`
	Allergies          string `json:"allergies,omitempty" validate:"max=1000"`
	CurrentMedications string `json:"current_medications,omitempty" validate:"max=1000"`
	EmergencyContact   string `json:"emergency_contact,omitempty" validate:"max=200"`
}

type Appointment struct {
	ID                   uuid.UUID          `json:"id"`
	PatientID            uuid.UUID          `json:"patient_id"`
	PractitionerID       uuid.UUID          `json:"practitioner_id"`
	CenterID             *uuid.UUID         `json:"center_id,omitempty"`
	Therapy              TherapyType        `json:"therapy"`
	ScheduledAt          time.Time          `json:"scheduled_at"`
	Status               AppointmentStatus  `json:"status"`
	PaymentMethod        PaymentMethod      `json:"payment_method"`
	Intake               Intake             `json:"intake"`
	NotificationStatus   NotificationStatus `json:"notification_status"`
	NotificationDetail   string             `json:"notification_detail,omitempty"`
	NotificationAttempts int                `json:"notification_attempts"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// TherapyLog is the practitioner's record of a completed session. Append-only.
type TherapyLog struct {
	ID             uuid.UUID   `json:"id"`
	AppointmentID  uuid.UUID   `json:"appointment_id"`
	PatientID      uuid.UUID   `json:"patient_id"`
	PractitionerID uuid.UUID   `json:"practitioner_id"`
	Therapy        TherapyType `json:"therapy"`
	Notes          string      `json:"notes"`
	CreatedAt      time.Time   `json:"created_at"`
}

type TherapyCount struct {
	Therapy  TherapyType `json:"therapy"`
	Name     string      `json:"name"`
	Sessions int         `json:"sessions"`
}

type DeliveryStatus string

const (
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
	DeliverySkipped DeliveryStatus = "skipped"
)

// Delivery is the outcome of one confirmation channel.
type Delivery struct {
	Channel     string         `json:"channel"`
	Destination string         `json:"destination,omitempty"`
	Status      DeliveryStatus `json:"status"`
	Error       string         `json:"error,omitempty"`
	Attempts    int            `json:"attempts"`
	AttemptedAt time.Time      `json:"attempted_at"`
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// BookingRequest is everything needed to commit one appointment.
type BookingRequest struct {
	PatientID      uuid.UUID     `json:"-"`
	PractitionerID uuid.UUID     `json:"practitioner_id"`
	CenterID       *uuid.UUID    `json:"center_id,omitempty"`
	Therapy        TherapyType   `json:"therapy"`
	Date           string        `json:"date"`
	Slot           string        `json:"slot"`
	PaymentMethod  PaymentMethod `json:"payment_method"`
	Intake         Intake        `json:"intake"`
}

// ListFilter narrows the admin appointment listing. Nil fields are ignored.
type ListFilter struct {
	Status *AppointmentStatus
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

// Availability is the slot picture for one practitioner on one day.
type Availability struct {
	PractitionerID uuid.UUID `json:"practitioner_id"`
	Date           string    `json:"date"`
	All            []string  `json:"all"`
	Occupied       []string  `json:"occupied"`
	Available      []string  `json:"available"`
}
