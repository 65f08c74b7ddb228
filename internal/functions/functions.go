package functions

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/panchakarma-booking/internal/appointment"
	"github.com/hackgods/panchakarma-booking/internal/notify"
	"github.com/hackgods/panchakarma-booking/pkg/logging"
)

// SlotLookup answers the booked-slots question.
type SlotLookup interface {
	OccupiedSlots(ctx context.Context, practitionerID uuid.UUID, date string) ([]string, error)
}

// Functions holds the two serverless endpoints. Both answer with a status
// code and a JSON-ready payload so HTTP and Lambda adapters can share them.
type Functions struct {
	slots      SlotLookup
	dispatcher *notify.Dispatcher
	loc        *time.Location
	logger     *logging.Logger
}

func New(slots SlotLookup, dispatcher *notify.Dispatcher, loc *time.Location, logger *logging.Logger) *Functions {
	if logger == nil {
		logger = logging.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Functions{slots: slots, dispatcher: dispatcher, loc: loc, logger: logger}
}

type ErrorPayload struct {
	Error string `json:"error"`
}

type BookedSlotsPayload struct {
	BookedSlots []string `json:"bookedSlots"`
}

type MessagePayload struct {
	Message string `json:"message"`
}

type bookedSlotsRequest struct {
	PractitionerID string `json:"practitionerId"`
	DoctorID       string `json:"doctor_id"`
	Date           string `json:"date"`
	SelectedDate   string `json:"selected_date"`
}

// BookedSlots returns the occupied HH:MM values for a practitioner's day.
func (f *Functions) BookedSlots(ctx context.Context, body []byte) (int, any) {
	var req bookedSlotsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return badRequest("invalid JSON body")
	}
	rawID := first(req.PractitionerID, req.DoctorID)
	date := first(req.Date, req.SelectedDate)
	if rawID == "" || date == "" {
		return badRequest("practitionerId and date are required")
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return badRequest("practitionerId must be a UUID")
	}

	slots, err := f.slots.OccupiedSlots(ctx, id, date)
	if err != nil {
		if errors.Is(err, appointment.ErrDataUnavailable) {
			f.logger.Error("booked slots lookup failed", "practitioner_id", id, "date", date, "error", err)
			return badRequest("could not load booked slots")
		}
		return badRequest(err.Error())
	}
	if slots == nil {
		slots = []string{}
	}
	return http.StatusOK, BookedSlotsPayload{BookedSlots: slots}
}

type appointmentDetails struct {
	TherapyName        string `json:"therapyName"`
	TherapyNameSnake   string `json:"therapy_name"`
	AppointmentDate    string `json:"appointmentDate"`
	AppointmentDateAlt string `json:"appointment_date"`
	PatientName        string `json:"patientName"`
	PatientNameSnake   string `json:"patient_name"`
	ContactEmail       string `json:"contactEmail"`
	ContactEmailSnake  string `json:"contact_email"`
}

type confirmationRequest struct {
	AppointmentDetails      *appointmentDetails `json:"appointmentDetails"`
	AppointmentDetailsSnake *appointmentDetails `json:"appointment_details"`
	ContactPhone            string              `json:"contactPhone"`
	ContactPhoneSnake       string              `json:"contact_phone"`
}

// SendConfirmation texts a booking confirmation to contactPhone, and emails
// it when the details carry an address.
func (f *Functions) SendConfirmation(ctx context.Context, body []byte) (int, any) {
	var req confirmationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return badRequest("invalid JSON body")
	}
	phone := first(req.ContactPhone, req.ContactPhoneSnake)
	if phone == "" {
		return badRequest("contactPhone is required")
	}
	details := req.AppointmentDetails
	if details == nil {
		details = req.AppointmentDetailsSnake
	}
	if details == nil {
		return badRequest("appointmentDetails is required")
	}
	therapy := first(details.TherapyName, details.TherapyNameSnake)
	rawDate := first(details.AppointmentDate, details.AppointmentDateAlt)
	if therapy == "" || rawDate == "" {
		return badRequest("appointmentDetails needs therapyName and appointmentDate")
	}
	at, dateOnly, err := f.parseAppointmentDate(rawDate)
	if err != nil {
		return badRequest(err.Error())
	}
	if t, ok := appointment.LookupTherapy(therapy); ok {
		therapy = t.Name
	}

	c := notify.Confirmation{
		PatientName: first(details.PatientName, details.PatientNameSnake),
		TherapyName: therapy,
		ScheduledAt: at,
		DateOnly:    dateOnly,
		Location:    f.loc,
		Phone:       phone,
		Email:       first(details.ContactEmail, details.ContactEmailSnake),
	}
	results := f.dispatcher.Dispatch(ctx, c)
	for _, r := range results {
		if r.Channel == notify.ChannelSMS && r.Status != appointment.DeliverySent {
			f.logger.Warn("confirmation sms not sent", "to", r.Destination, "status", r.Status, "error", r.Error)
			return badRequest("sms gateway error: " + r.Error)
		}
	}
	return http.StatusOK, MessagePayload{Message: "sent"}
}

var localLayouts = []string{"2006-01-02T15:04:05", "2006-01-02T15:04"}

// parseAppointmentDate accepts an RFC 3339 instant, a local date-time or a
// bare date. Bare dates are reported as date only.
func (f *Functions) parseAppointmentDate(raw string) (time.Time, bool, error) {
	raw = strings.TrimSpace(raw)
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts, false, nil
	}
	for _, layout := range localLayouts {
		if ts, err := time.ParseInLocation(layout, raw, f.loc); err == nil {
			return ts, false, nil
		}
	}
	day, err := appointment.ParseDate(raw, f.loc)
	if err != nil {
		return time.Time{}, false, err
	}
	return day, true, nil
}

func badRequest(msg string) (int, any) {
	return http.StatusBadRequest, ErrorPayload{Error: msg}
}

func first(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
