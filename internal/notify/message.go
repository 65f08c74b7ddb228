package notify

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/panchakarma-booking/internal/appointment"
)

const (
	dateFormat = "02/01/2006"
	timeFormat = "3:04 PM"
)

// Confirmation is everything a channel needs to tell a patient their booking
// is confirmed.
type Confirmation struct {
	AppointmentID uuid.UUID
	PatientName   string
	TherapyName   string
	ScheduledAt   time.Time
	// DateOnly drops the time of day from the message.
	DateOnly bool
	Location *time.Location
	Phone    string
	Email    string
}

// ConfirmationFor builds the confirmation for a committed appointment.
func ConfirmationFor(a appointment.Appointment, loc *time.Location) Confirmation {
	return Confirmation{
		AppointmentID: a.ID,
		PatientName:   a.Intake.PatientName,
		TherapyName:   appointment.TherapyName(a.Therapy),
		ScheduledAt:   a.ScheduledAt,
		Location:      loc,
		Phone:         a.Intake.ContactPhone,
		Email:         a.Intake.ContactEmail,
	}
}

func (c Confirmation) local() time.Time {
	if c.Location == nil {
		return c.ScheduledAt
	}
	return c.ScheduledAt.In(c.Location)
}

// Message is the text sent over every channel.
func (c Confirmation) Message() string {
	at := c.local()
	if c.DateOnly {
		return fmt.Sprintf("Namaste! Your booking for %s on %s is confirmed. We look forward to seeing you.",
			c.TherapyName, at.Format(dateFormat))
	}
	return fmt.Sprintf("Namaste! Your booking for %s on %s at %s is confirmed. We look forward to seeing you.",
		c.TherapyName, at.Format(dateFormat), at.Format(timeFormat))
}

func (c Confirmation) Subject() string {
	return fmt.Sprintf("Your %s booking is confirmed", c.TherapyName)
}

// HTML is the email body.
func (c Confirmation) HTML() string {
	var b strings.Builder
	b.WriteString("<p>")
	if c.PatientName != "" {
		fmt.Fprintf(&b, "Dear %s,</p><p>", html.EscapeString(c.PatientName))
	}
	b.WriteString(html.EscapeString(c.Message()))
	b.WriteString("</p>")
	return b.String()
}
