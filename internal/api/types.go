package api

import (
	"github.com/google/uuid"

	"github.com/hackgods/panchakarma-booking/internal/appointment"
)

type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
	// Draft is the booking draft after a failed commit.
	Draft any `json:"draft,omitempty"`
}

type CancelResponse struct {
	ID     uuid.UUID                     `json:"id"`
	Status appointment.AppointmentStatus `json:"status"`
}

type CompleteRequest struct {
	Notes string `json:"notes"`
}

type AppointmentResponse struct {
	appointment.Appointment
	TherapyName string `json:"therapy_name"`
	Cancellable bool   `json:"cancellable"`
	Warning     string `json:"warning,omitempty"`
}

type ListResponse[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

type TherapyResponse struct {
	appointment.Therapy
	Precautions appointment.Precautions `json:"precautions"`
}
