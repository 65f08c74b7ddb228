package dashboard

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/panchakarma-booking/internal/appointment"
	"github.com/hackgods/panchakarma-booking/internal/auth"
)

type fakeAppointments struct {
	now   time.Time
	appts []appointment.Appointment
	logs  []appointment.TherapyLog

	gotFrom, gotTo time.Time
	gotFilter      appointment.ListFilter
}

func (f *fakeAppointments) ListByPatient(_ context.Context, id uuid.UUID, _, _ int) ([]appointment.Appointment, error) {
	var out []appointment.Appointment
	for _, a := range f.appts {
		if a.PatientID == id {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAppointments) ListByPractitioner(_ context.Context, id uuid.UUID, from, to time.Time) ([]appointment.Appointment, error) {
	f.gotFrom, f.gotTo = from, to
	var out []appointment.Appointment
	for _, a := range f.appts {
		if a.PractitionerID == id {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAppointments) ListAll(_ context.Context, filter appointment.ListFilter) ([]appointment.Appointment, error) {
	f.gotFilter = filter
	return f.appts, nil
}

func (f *fakeAppointments) ListLogsByPatient(_ context.Context, id uuid.UUID) ([]appointment.TherapyLog, error) {
	var out []appointment.TherapyLog
	for _, l := range f.logs {
		if l.PatientID == id {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeAppointments) Cancellable(a appointment.Appointment) bool {
	return a.Status.Active() && a.ScheduledAt.Sub(f.now) >= 8*time.Hour
}

func actor(role auth.Role) auth.AuthContext {
	return auth.AuthContext{Session: auth.Session{UserID: uuid.New()}, Role: role}
}

func TestForPicksViewByRole(t *testing.T) {
	svc := &fakeAppointments{}
	now := time.Date(2025, 3, 9, 10, 0, 0, 0, time.UTC)

	v, err := For(svc, actor(auth.RolePatient), now)
	require.NoError(t, err)
	assert.Equal(t, KindPatient, v.Kind())

	v, err = For(svc, actor(auth.RoleDoctor), now)
	require.NoError(t, err)
	assert.Equal(t, KindPractitioner, v.Kind())

	v, err = For(svc, actor(auth.RoleAdmin), now)
	require.NoError(t, err)
	assert.Equal(t, KindAdmin, v.Kind())

	_, err = For(svc, auth.AuthContext{}, now)
	assert.ErrorIs(t, err, auth.ErrAuthRequired)
}

func TestBuildPatientDashboard(t *testing.T) {
	now := time.Date(2025, 3, 9, 10, 0, 0, 0, time.UTC)
	patient := actor(auth.RolePatient)
	pid := patient.Session.UserID
	svc := &fakeAppointments{
		now: now,
		appts: []appointment.Appointment{
			{ID: uuid.New(), PatientID: pid, Therapy: appointment.TherapyBasti, Status: appointment.StatusConfirmed,
				ScheduledAt: now.Add(24 * time.Hour), NotificationStatus: appointment.NotificationSent},
			{ID: uuid.New(), PatientID: pid, Therapy: appointment.TherapyNasya, Status: appointment.StatusConfirmed,
				ScheduledAt: now.Add(2 * time.Hour), NotificationStatus: appointment.NotificationFailed},
			{ID: uuid.New(), PatientID: uuid.New(), Therapy: appointment.TherapyVamana, Status: appointment.StatusConfirmed},
		},
		logs: []appointment.TherapyLog{
			{ID: uuid.New(), PatientID: pid, Therapy: appointment.TherapyNasya},
			{ID: uuid.New(), PatientID: pid, Therapy: appointment.TherapyBasti},
			{ID: uuid.New(), PatientID: pid, Therapy: appointment.TherapyBasti},
		},
	}

	view, err := For(svc, patient, now)
	require.NoError(t, err)
	d, err := Build(context.Background(), svc, view)
	require.NoError(t, err)

	assert.Equal(t, KindPatient, d.Kind)
	require.Len(t, d.Appointments, 2)
	assert.True(t, d.Appointments[0].Cancellable)
	assert.Equal(t, "Basti", d.Appointments[0].TherapyName)
	assert.Equal(t, appointment.NotificationSent, d.Appointments[0].NotificationStatus)
	assert.False(t, d.Appointments[1].Cancellable)
	assert.Equal(t, appointment.NotificationFailed, d.Appointments[1].NotificationStatus)

	assert.Len(t, d.Logs, 3)
	assert.Equal(t, []appointment.TherapyCount{
		{Therapy: appointment.TherapyBasti, Name: "Basti", Sessions: 2},
		{Therapy: appointment.TherapyNasya, Name: "Nasya", Sessions: 1},
	}, d.Summary)
}

func TestBuildPractitionerAndAdminDashboards(t *testing.T) {
	now := time.Date(2025, 3, 9, 10, 0, 0, 0, time.UTC)
	doctor := actor(auth.RoleDoctor)
	svc := &fakeAppointments{
		now: now,
		appts: []appointment.Appointment{
			{ID: uuid.New(), PractitionerID: doctor.Session.UserID, Status: appointment.StatusCompleted, Therapy: appointment.TherapyBasti},
			{ID: uuid.New(), PractitionerID: uuid.New(), Status: appointment.StatusCancelled, Therapy: appointment.TherapyNasya},
		},
	}

	view, err := For(svc, doctor, now)
	require.NoError(t, err)
	d, err := Build(context.Background(), svc, view)
	require.NoError(t, err)
	assert.Equal(t, KindPractitioner, d.Kind)
	require.Len(t, d.Appointments, 1)
	assert.False(t, d.Appointments[0].Cancellable)
	assert.Nil(t, d.Logs)
	assert.True(t, svc.gotFrom.Before(now))
	assert.True(t, svc.gotTo.After(now))

	view, err = For(svc, actor(auth.RoleAdmin), now)
	require.NoError(t, err)
	d, err = Build(context.Background(), svc, view)
	require.NoError(t, err)
	assert.Equal(t, KindAdmin, d.Kind)
	assert.Len(t, d.Appointments, 2)
	assert.Equal(t, 100, svc.gotFilter.Limit)
}
