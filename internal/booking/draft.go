package booking

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/panchakarma-booking/internal/appointment"
)

// Step is a position in the booking wizard. Drafts move one step at a time.
type Step string

const (
	StepSelectTherapy               Step = "select_therapy"
	StepSelectDateAndDetails        Step = "select_date_and_details"
	StepReviewPrecautionsAndPayment Step = "review_precautions_and_payment"
	StepReviewAndConfirm            Step = "review_and_confirm"
	StepCommitted                   Step = "committed"
)

var stepOrder = []Step{
	StepSelectTherapy,
	StepSelectDateAndDetails,
	StepReviewPrecautionsAndPayment,
	StepReviewAndConfirm,
	StepCommitted,
}

func (s Step) index() int {
	for i, v := range stepOrder {
		if v == s {
			return i
		}
	}
	return -1
}

func (s Step) next() Step { return stepOrder[s.index()+1] }

func (s Step) prev() Step { return stepOrder[s.index()-1] }

// Draft is one patient's booking in progress.
type Draft struct {
	ID             uuid.UUID                 `json:"id"`
	PatientID      uuid.UUID                 `json:"patient_id"`
	Step           Step                      `json:"step"`
	Therapy        appointment.TherapyType   `json:"therapy,omitempty"`
	PractitionerID uuid.UUID                 `json:"practitioner_id"`
	CenterID       *uuid.UUID                `json:"center_id,omitempty"`
	Date           string                    `json:"date,omitempty"`
	Slot           string                    `json:"slot,omitempty"`
	Intake         appointment.Intake        `json:"intake"`
	PaymentMethod  appointment.PaymentMethod `json:"payment_method,omitempty"`

	// Occupied is the last occupied set fetched for Date.
	Occupied    []string                 `json:"occupied,omitempty"`
	Available   []string                 `json:"available,omitempty"`
	Precautions *appointment.Precautions `json:"precautions,omitempty"`

	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	Warning       string     `json:"warning,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Patch carries wizard edits. Nil fields are left alone.
type Patch struct {
	Therapy        *appointment.TherapyType   `json:"therapy,omitempty"`
	PractitionerID *uuid.UUID                 `json:"practitioner_id,omitempty"`
	CenterID       *uuid.UUID                 `json:"center_id,omitempty"`
	Date           *string                    `json:"date,omitempty"`
	Slot           *string                    `json:"slot,omitempty"`
	Intake         *appointment.Intake        `json:"intake,omitempty"`
	PaymentMethod  *appointment.PaymentMethod `json:"payment_method,omitempty"`
}

func (d Draft) request() appointment.BookingRequest {
	return appointment.BookingRequest{
		PatientID:      d.PatientID,
		PractitionerID: d.PractitionerID,
		CenterID:       d.CenterID,
		Therapy:        d.Therapy,
		Date:           d.Date,
		Slot:           d.Slot,
		PaymentMethod:  d.PaymentMethod,
		Intake:         d.Intake,
	}
}
