package dashboard

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/panchakarma-booking/internal/appointment"
	"github.com/hackgods/panchakarma-booking/internal/auth"
)

type Kind string

const (
	KindPatient      Kind = "patient"
	KindPractitioner Kind = "practitioner"
	KindAdmin        Kind = "admin"
)

// Appointments is the read side of appointment.Service the dashboards use.
type Appointments interface {
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]appointment.Appointment, error)
	ListByPractitioner(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]appointment.Appointment, error)
	ListAll(ctx context.Context, f appointment.ListFilter) ([]appointment.Appointment, error)
	ListLogsByPatient(ctx context.Context, patientID uuid.UUID) ([]appointment.TherapyLog, error)
	Cancellable(a appointment.Appointment) bool
}

// AppointmentView is one role's slice of the appointment table.
type AppointmentView interface {
	Kind() Kind
	Appointments(ctx context.Context) ([]appointment.Appointment, error)
}

type Patient struct {
	svc       Appointments
	PatientID uuid.UUID
	Limit     int
}

func (v *Patient) Kind() Kind { return KindPatient }

func (v *Patient) Appointments(ctx context.Context) ([]appointment.Appointment, error) {
	return v.svc.ListByPatient(ctx, v.PatientID, v.Limit, 0)
}

// Practitioner lists the doctor's schedule between From and To.
type Practitioner struct {
	svc            Appointments
	PractitionerID uuid.UUID
	From, To       time.Time
}

func (v *Practitioner) Kind() Kind { return KindPractitioner }

func (v *Practitioner) Appointments(ctx context.Context) ([]appointment.Appointment, error) {
	return v.svc.ListByPractitioner(ctx, v.PractitionerID, v.From, v.To)
}

type Admin struct {
	svc    Appointments
	Filter appointment.ListFilter
}

func (v *Admin) Kind() Kind { return KindAdmin }

func (v *Admin) Appointments(ctx context.Context) ([]appointment.Appointment, error) {
	return v.svc.ListAll(ctx, v.Filter)
}

const (
	practitionerLookback  = 30 * 24 * time.Hour
	practitionerLookahead = 90 * 24 * time.Hour
)

// For picks the view matching the actor's role.
func For(svc Appointments, actor auth.AuthContext, now time.Time) (AppointmentView, error) {
	if !actor.Authenticated() {
		return nil, auth.ErrAuthRequired
	}
	switch actor.Role {
	case auth.RolePatient:
		return &Patient{svc: svc, PatientID: actor.Session.UserID, Limit: 100}, nil
	case auth.RoleDoctor:
		return &Practitioner{
			svc:            svc,
			PractitionerID: actor.Session.UserID,
			From:           now.Add(-practitionerLookback),
			To:             now.Add(practitionerLookahead),
		}, nil
	case auth.RoleAdmin:
		return &Admin{svc: svc, Filter: appointment.ListFilter{Limit: 100}}, nil
	}
	return nil, auth.ErrForbidden
}

type Item struct {
	appointment.Appointment
	TherapyName string `json:"therapy_name"`
	Cancellable bool   `json:"cancellable"`
}

type Dashboard struct {
	Kind         Kind                       `json:"kind"`
	Appointments []Item                     `json:"appointments"`
	Logs         []appointment.TherapyLog   `json:"therapy_logs,omitempty"`
	Summary      []appointment.TherapyCount `json:"therapy_summary,omitempty"`
}

// Build renders view. Patients also get their therapy logs and the
// per-therapy session summary.
func Build(ctx context.Context, svc Appointments, view AppointmentView) (*Dashboard, error) {
	appts, err := view.Appointments(ctx)
	if err != nil {
		return nil, err
	}
	d := &Dashboard{Kind: view.Kind(), Appointments: make([]Item, 0, len(appts))}
	for _, a := range appts {
		d.Appointments = append(d.Appointments, Item{
			Appointment: a,
			TherapyName: appointment.TherapyName(a.Therapy),
			Cancellable: svc.Cancellable(a),
		})
	}

	if p, ok := view.(*Patient); ok {
		logs, err := svc.ListLogsByPatient(ctx, p.PatientID)
		if err != nil {
			return nil, err
		}
		d.Logs = logs
		d.Summary = appointment.Summarize(logs)
	}
	return d, nil
}
