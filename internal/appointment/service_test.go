package appointment

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/panchakarma-booking/internal/auth"
	"github.com/hackgods/panchakarma-booking/internal/config"
	"github.com/hackgods/panchakarma-booking/internal/directory"
	redisclient "github.com/hackgods/panchakarma-booking/internal/redis"
	"github.com/hackgods/panchakarma-booking/pkg/logging"
)

var ist = time.FixedZone("IST", 5*3600+30*60)

type fixture struct {
	svc     *Service
	repo    *MemoryRepository
	d1      uuid.UUID
	d2      uuid.UUID
	center  uuid.UUID
	patient auth.AuthContext
	clock   time.Time
}

func newFixture(t *testing.T, locker redisclient.Locker) *fixture {
	t.Helper()

	f := &fixture{
		repo:   NewMemoryRepository(),
		d1:     uuid.New(),
		d2:     uuid.New(),
		center: uuid.New(),
		patient: auth.AuthContext{
			Session: auth.Session{UserID: uuid.New(), Email: "asha@example.com"},
			Role:    auth.RolePatient,
		},
		clock: time.Date(2025, 3, 9, 10, 0, 0, 0, ist),
	}

	store := directory.NewMemoryStore()
	store.AddCenter(directory.Center{ID: f.center, Name: "Ayurveda Wellness Center", City: "New Delhi"})
	store.AddPractitioner(directory.Practitioner{ID: f.d1, Name: "Dr. Rajesh Kumar", CenterIDs: []uuid.UUID{f.center}})
	store.AddPractitioner(directory.Practitioner{ID: f.d2, Name: "Dr. Kavita Singh", SlotTimes: []string{"10:00", "12:00"}})

	cfg := config.Config{
		Location:           ist,
		CancellationWindow: 8 * time.Hour,
		NotifyMaxAttempts:  3,
		WorkerInterval:     time.Minute,
	}
	dir := directory.NewService(store, []string{"09:00", "11:00", "14:00", "16:00", "18:00"})
	f.svc = NewService(f.repo, locker, dir, cfg, logging.NewWithWriter("error", io.Discard))
	f.svc.SetClock(func() time.Time { return f.clock })
	return f
}

func validIntake() Intake {
	return Intake{
		PatientName:  "Asha Verma",
		Age:          34,
		Sex:          "female",
		ContactPhone: "9876543210",
		ContactEmail: "asha@example.com",
		Symptoms:     "lower back stiffness",
	}
}

func (f *fixture) request(slot string) BookingRequest {
	return BookingRequest{
		PatientID:      f.patient.Session.UserID,
		PractitionerID: f.d1,
		CenterID:       &f.center,
		Therapy:        "Basti",
		Date:           "2025-03-10",
		Slot:           slot,
		PaymentMethod:  PaymentAtCenter,
		Intake:         validIntake(),
	}
}

func newRedisLocker(t *testing.T) (redisclient.Locker, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redisclient.NewRedisSlotLocker(client, 2*time.Second), mr
}

func TestBookBastiEndToEnd(t *testing.T) {
	locker, _ := newRedisLocker(t)
	f := newFixture(t, locker)
	ctx := context.Background()

	appt, err := f.svc.Book(ctx, f.request("11:00"))
	require.NoError(t, err)

	assert.Equal(t, StatusConfirmed, appt.Status)
	assert.Equal(t, TherapyBasti, appt.Therapy)
	assert.True(t, appt.ScheduledAt.Equal(time.Date(2025, 3, 10, 11, 0, 0, 0, ist)))
	assert.Equal(t, NotificationPending, appt.NotificationStatus)
	assert.Equal(t, "Female", appt.Intake.Sex)

	occupied, err := f.svc.OccupiedSlots(ctx, f.d1, "2025-03-10")
	require.NoError(t, err)
	assert.Equal(t, []string{"11:00"}, occupied)

	_, err = f.svc.Book(ctx, f.request("11:00"))
	require.ErrorIs(t, err, ErrSlotConflict)

	events := f.repo.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventAppointmentConfirmed, events[0].EventType)
}

func TestBookConcurrentCommitsExactlyOneWins(t *testing.T) {
	redisLocker, _ := newRedisLocker(t)

	cases := map[string]redisclient.Locker{
		"redis lock":        redisLocker,
		"unique index only": nil,
	}
	for name, locker := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, locker)
			const attempts = 8

			var (
				wg        sync.WaitGroup
				start     = make(chan struct{})
				mu        sync.Mutex
				confirmed int
				conflicts int
				others    []error
			)
			for i := 0; i < attempts; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					req := f.request("14:00")
					req.PatientID = uuid.New()
					<-start
					_, err := f.svc.Book(context.Background(), req)

					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						confirmed++
					case errors.Is(err, ErrSlotConflict):
						conflicts++
					default:
						others = append(others, err)
					}
				}()
			}
			close(start)
			wg.Wait()

			assert.Empty(t, others)
			assert.Equal(t, 1, confirmed)
			assert.Equal(t, attempts-1, conflicts)

			occupied, err := f.svc.OccupiedSlots(context.Background(), f.d1, "2025-03-10")
			require.NoError(t, err)
			assert.Equal(t, []string{"14:00"}, occupied)
		})
	}
}

func TestBookFallsBackWhenLockBackendIsDown(t *testing.T) {
	locker, mr := newRedisLocker(t)
	mr.Close()

	f := newFixture(t, locker)
	appt, err := f.svc.Book(context.Background(), f.request("09:00"))
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, appt.Status)

	_, err = f.svc.Book(context.Background(), f.request("09:00"))
	assert.ErrorIs(t, err, ErrSlotConflict)
}

func TestBookHeldLockIsConflict(t *testing.T) {
	locker, mr := newRedisLocker(t)
	f := newFixture(t, locker)

	at := time.Date(2025, 3, 10, 16, 0, 0, 0, ist)
	require.NoError(t, mr.Set(redisclient.SlotLockKey(f.d1, at), "someone-else"))

	_, err := f.svc.Book(context.Background(), f.request("16:00"))
	assert.ErrorIs(t, err, ErrSlotConflict)
}

func TestBookValidation(t *testing.T) {
	f := newFixture(t, nil)

	cases := []struct {
		name   string
		mutate func(*BookingRequest)
		field  string
	}{
		{"unknown therapy", func(r *BookingRequest) { r.Therapy = "shirodhara" }, "therapy"},
		{"missing practitioner", func(r *BookingRequest) { r.PractitionerID = uuid.Nil }, "practitioner_id"},
		{"unknown practitioner", func(r *BookingRequest) { r.PractitionerID = uuid.New() }, "practitioner_id"},
		{"bad payment", func(r *BookingRequest) { r.PaymentMethod = "card" }, "payment_method"},
		{"missing name", func(r *BookingRequest) { r.Intake.PatientName = "" }, "patient_name"},
		{"age out of range", func(r *BookingRequest) { r.Intake.Age = 130 }, "age"},
		{"bad sex", func(r *BookingRequest) { r.Intake.Sex = "unknown" }, "sex"},
		{"bad phone", func(r *BookingRequest) { r.Intake.ContactPhone = "12345" }, "contact_phone"},
		{"bad email", func(r *BookingRequest) { r.Intake.ContactEmail = "not-an-email" }, "contact_email"},
		{"bad date", func(r *BookingRequest) { r.Date = "10/03/2025" }, "date"},
		{"past date", func(r *BookingRequest) { r.Date = "2025-03-08" }, "date"},
		{"sunday", func(r *BookingRequest) { r.Date = "2025-03-16" }, "date"},
		{"bad slot", func(r *BookingRequest) { r.Slot = "11am" }, "slot"},
		{"slot not offered", func(r *BookingRequest) { r.Slot = "10:00" }, "slot"},
		{"wrong center", func(r *BookingRequest) { other := uuid.New(); r.CenterID = &other }, "center_id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := f.request("11:00")
			tc.mutate(&req)

			_, err := f.svc.Book(context.Background(), req)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tc.field)
		})
	}

	_, err := f.svc.Book(context.Background(), BookingRequest{})
	assert.ErrorIs(t, err, auth.ErrAuthRequired)
}

type failingRepo struct {
	*MemoryRepository
	err error
}

func (r failingRepo) ListOccupiedTimes(context.Context, uuid.UUID, time.Time, time.Time) ([]time.Time, error) {
	return nil, r.err
}

func TestStoreFailuresAreDataUnavailable(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.repo = failingRepo{MemoryRepository: f.repo, err: errors.New("dial tcp: connection refused")}

	_, err := f.svc.OccupiedSlots(context.Background(), f.d1, "2025-03-10")
	assert.ErrorIs(t, err, ErrDataUnavailable)

	_, err = f.svc.AvailableSlots(context.Background(), f.d1, "2025-03-10")
	assert.ErrorIs(t, err, ErrDataUnavailable)

	_, err = f.svc.Book(context.Background(), f.request("11:00"))
	assert.ErrorIs(t, err, ErrDataUnavailable)
	assert.Empty(t, f.repo.Events())
}

func TestAvailableSlotsIsFullSetMinusOccupied(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for _, slot := range []string{"09:00", "16:00"} {
		_, err := f.svc.Book(ctx, f.request(slot))
		require.NoError(t, err)
	}

	first, err := f.svc.AvailableSlots(ctx, f.d1, "2025-03-10")
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "11:00", "14:00", "16:00", "18:00"}, first.All)
	assert.Equal(t, []string{"09:00", "16:00"}, first.Occupied)
	assert.Equal(t, []string{"11:00", "14:00", "18:00"}, first.Available)

	again, err := f.svc.AvailableSlots(ctx, f.d1, "2025-03-10")
	require.NoError(t, err)
	assert.Equal(t, first, again)

	other, err := f.svc.AvailableSlots(ctx, f.d1, "2025-03-11")
	require.NoError(t, err)
	assert.Empty(t, other.Occupied)

	custom, err := f.svc.AvailableSlots(ctx, f.d2, "2025-03-10")
	require.NoError(t, err)
	assert.Equal(t, []string{"10:00", "12:00"}, custom.Available)
}

func TestCancelWindowBoundary(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	early, err := f.svc.Book(ctx, f.request("11:00"))
	require.NoError(t, err)
	late, err := f.svc.Book(ctx, f.request("14:00"))
	require.NoError(t, err)

	// exactly eight hours before 11:00
	f.clock = time.Date(2025, 3, 10, 3, 0, 0, 0, ist)
	assert.True(t, f.svc.Cancellable(*early))
	cancelled, err := f.svc.Cancel(ctx, f.patient, early.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	// one second inside the window for 14:00
	f.clock = time.Date(2025, 3, 10, 6, 0, 1, 0, ist)
	assert.False(t, f.svc.Cancellable(*late))
	_, err = f.svc.Cancel(ctx, f.patient, late.ID)
	assert.ErrorIs(t, err, ErrCancellationWindow)

	occupied, err := f.svc.OccupiedSlots(ctx, f.d1, "2025-03-10")
	require.NoError(t, err)
	assert.Equal(t, []string{"14:00"}, occupied)

	_, err = f.svc.Cancel(ctx, f.patient, early.ID)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
}

func TestCancelAuthorization(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	appt, err := f.svc.Book(ctx, f.request("18:00"))
	require.NoError(t, err)

	stranger := auth.AuthContext{Session: auth.Session{UserID: uuid.New()}, Role: auth.RolePatient}
	_, err = f.svc.Cancel(ctx, stranger, appt.ID)
	assert.ErrorIs(t, err, auth.ErrForbidden)

	_, err = f.svc.Cancel(ctx, auth.AuthContext{}, appt.ID)
	assert.ErrorIs(t, err, auth.ErrAuthRequired)

	_, err = f.svc.Cancel(ctx, f.patient, uuid.New())
	assert.ErrorIs(t, err, ErrAppointmentNotFound)

	admin := auth.AuthContext{Session: auth.Session{UserID: uuid.New()}, Role: auth.RoleAdmin}
	_, err = f.svc.Cancel(ctx, admin, appt.ID)
	require.NoError(t, err)

	// the freed slot can be booked again
	_, err = f.svc.Book(ctx, f.request("18:00"))
	require.NoError(t, err)
}

func TestLogSessionCreatesExactlyOneLog(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	appt, err := f.svc.Book(ctx, f.request("11:00"))
	require.NoError(t, err)

	doctor := auth.AuthContext{Session: auth.Session{UserID: f.d1}, Role: auth.RoleDoctor}
	otherDoctor := auth.AuthContext{Session: auth.Session{UserID: f.d2}, Role: auth.RoleDoctor}

	_, err = f.svc.LogSession(ctx, f.patient, appt.ID, "notes")
	assert.ErrorIs(t, err, auth.ErrForbidden)

	_, err = f.svc.LogSession(ctx, otherDoctor, appt.ID, "notes")
	assert.ErrorIs(t, err, auth.ErrForbidden)

	_, err = f.svc.LogSession(ctx, doctor, appt.ID, "   ")
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)

	log, err := f.svc.LogSession(ctx, doctor, appt.ID, "Tolerated well. Continue anuvasana basti.")
	require.NoError(t, err)
	assert.Equal(t, appt.ID, log.AppointmentID)
	assert.Equal(t, TherapyBasti, log.Therapy)

	_, err = f.svc.LogSession(ctx, doctor, appt.ID, "again")
	assert.ErrorIs(t, err, ErrAlreadyLogged)

	logs, err := f.svc.ListLogsByPatient(ctx, f.patient.Session.UserID)
	require.NoError(t, err)
	assert.Len(t, logs, 1)

	got, err := f.svc.Get(ctx, doctor, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.False(t, f.svc.Cancellable(*got))

	summary, err := f.svc.TherapySummary(ctx, f.patient.Session.UserID)
	require.NoError(t, err)
	assert.Equal(t, []TherapyCount{{Therapy: TherapyBasti, Name: "Basti", Sessions: 1}}, summary)
}

func TestGetVisibility(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	appt, err := f.svc.Book(ctx, f.request("11:00"))
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, f.patient, appt.ID)
	require.NoError(t, err)

	otherDoctor := auth.AuthContext{Session: auth.Session{UserID: f.d2}, Role: auth.RoleDoctor}
	_, err = f.svc.Get(ctx, otherDoctor, appt.ID)
	assert.ErrorIs(t, err, auth.ErrForbidden)
}

func TestRecordDeliveriesAndRetries(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	ok, err := f.svc.Book(ctx, f.request("09:00"))
	require.NoError(t, err)
	failed, err := f.svc.Book(ctx, f.request("11:00"))
	require.NoError(t, err)

	status, err := f.svc.RecordDeliveries(ctx, ok.ID, []Delivery{
		{Channel: "sms", Status: DeliverySent, Attempts: 1},
		{Channel: "email", Status: DeliverySent, Attempts: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, NotificationSent, status)

	status, err = f.svc.RecordDeliveries(ctx, failed.ID, []Delivery{
		{Channel: "sms", Status: DeliveryFailed, Error: "gateway 503", Attempts: 3},
		{Channel: "email", Status: DeliverySkipped},
	})
	require.NoError(t, err)
	assert.Equal(t, NotificationFailed, status)
	assert.Len(t, f.repo.Deliveries(failed.ID), 2)

	retries, err := f.svc.NotificationRetries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, retries, 1)
	assert.Equal(t, failed.ID, retries[0].ID)

	for i := 0; i < 2; i++ {
		_, err = f.svc.RecordDeliveries(ctx, failed.ID, []Delivery{{Channel: "sms", Status: DeliveryFailed}})
		require.NoError(t, err)
	}
	retries, err = f.svc.NotificationRetries(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, retries)

	_, err = f.svc.RecordDeliveries(ctx, uuid.New(), nil)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestAggregateDeliveries(t *testing.T) {
	cases := []struct {
		name string
		in   []Delivery
		want NotificationStatus
	}{
		{"nothing to send", []Delivery{{Channel: "sms", Status: DeliverySkipped}}, NotificationSkipped},
		{"all sent", []Delivery{{Channel: "sms", Status: DeliverySent}, {Channel: "email", Status: DeliverySent}}, NotificationSent},
		{"sent and skipped", []Delivery{{Channel: "sms", Status: DeliverySent}, {Channel: "email", Status: DeliverySkipped}}, NotificationSent},
		{"mixed", []Delivery{{Channel: "sms", Status: DeliveryFailed}, {Channel: "email", Status: DeliverySent}}, NotificationPartial},
		{"all failed", []Delivery{{Channel: "sms", Status: DeliveryFailed}}, NotificationFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, detail := AggregateDeliveries(tc.in)
			assert.Equal(t, tc.want, got)
			assert.NotEmpty(t, detail)
		})
	}
}
