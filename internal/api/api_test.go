package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/panchakarma-booking/internal/appointment"
	"github.com/hackgods/panchakarma-booking/internal/auth"
	"github.com/hackgods/panchakarma-booking/internal/booking"
	"github.com/hackgods/panchakarma-booking/internal/config"
	"github.com/hackgods/panchakarma-booking/internal/directory"
	"github.com/hackgods/panchakarma-booking/internal/functions"
	"github.com/hackgods/panchakarma-booking/internal/metrics"
	"github.com/hackgods/panchakarma-booking/internal/notify"
	"github.com/hackgods/panchakarma-booking/pkg/logging"
)

const testSecret = "test-secret"

var ist = time.FixedZone("IST", 5*3600+30*60)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type fakeQueue struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (q *fakeQueue) Enqueue(_ context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, id)
	return nil
}

type okSMS struct{}

func (okSMS) SendSMS(context.Context, string, string) error { return nil }

type testServer struct {
	srv      *httptest.Server
	queue    *fakeQueue
	d1       uuid.UUID
	mumbai   uuid.UUID
	delhi    uuid.UUID
	patient  string
	patient2 string
	doctor   string
	admin    string
}

func token(t *testing.T, id uuid.UUID, role auth.Role) string {
	t.Helper()
	tok, err := auth.IssueToken(testSecret, auth.Session{UserID: id}, role, time.Hour)
	require.NoError(t, err)
	return tok
}

func newTestServer(t *testing.T, pg, rdb Pinger) *testServer {
	t.Helper()
	ts := &testServer{queue: &fakeQueue{}, d1: uuid.New(), mumbai: uuid.New(), delhi: uuid.New()}

	logger := logging.NewWithWriter("error", io.Discard)
	reg := prometheus.NewRegistry()
	m := metrics.NewBookingMetrics(reg)

	dirStore := directory.NewMemoryStore()
	dirStore.AddCenter(directory.Center{ID: ts.delhi, Name: "Ayurveda Wellness Center", City: "New Delhi", Latitude: 28.6139, Longitude: 77.2090, Rating: 4.8})
	dirStore.AddCenter(directory.Center{ID: ts.mumbai, Name: "Panchakarma Healing Institute", City: "Mumbai", Latitude: 19.0760, Longitude: 72.8777, Rating: 4.6})
	dirStore.AddPractitioner(directory.Practitioner{ID: ts.d1, Name: "Dr. Rajesh Kumar", CenterIDs: []uuid.UUID{ts.delhi}})
	dir := directory.NewService(dirStore, []string{"09:00", "11:00", "14:00", "16:00", "18:00"})

	cfg := config.Config{Location: ist, CancellationWindow: 8 * time.Hour, NotifyMaxAttempts: 3, WorkerInterval: time.Minute}
	svc := appointment.NewService(appointment.NewMemoryRepository(), nil, dir, cfg, logger)
	svc.SetMetrics(m)
	clock := time.Date(2025, 3, 9, 10, 0, 0, 0, ist)
	svc.SetClock(func() time.Time { return clock })

	wf := booking.NewWorkflow(booking.NewMemoryStore(), svc, ts.queue, logger)
	wf.SetMetrics(m)

	dispatcher := notify.NewDispatcher(okSMS{}, nil, notify.DispatcherConfig{CountryCode: "91"}, logger)

	handler := NewRouter(RouterConfig{
		Appointments: svc,
		Directory:    dir,
		Workflow:     wf,
		Functions:    functions.New(svc, dispatcher, ist, logger),
		Notifier:     ts.queue,
		Verifier:     auth.NewVerifier(testSecret, nil),
		Postgres:     pg,
		Redis:        rdb,
		Gatherer:     reg,
		Logger:       logger,
		Env:          "test",
		Version:      "v-test",
	})
	ts.srv = httptest.NewServer(handler)
	t.Cleanup(ts.srv.Close)

	ts.patient = token(t, uuid.New(), auth.RolePatient)
	ts.patient2 = token(t, uuid.New(), auth.RolePatient)
	ts.doctor = token(t, ts.d1, auth.RoleDoctor)
	ts.admin = token(t, uuid.New(), auth.RoleAdmin)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, tok string, body any) (int, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rdr = bytes.NewBufferString(b)
		default:
			data, err := json.Marshal(b)
			require.NoError(t, err)
			rdr = bytes.NewReader(data)
		}
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rdr)
	require.NoError(t, err)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), "body: %s", raw)
	}
	return resp.StatusCode, out
}

func bookingBody(ts *testServer, date, slot string) map[string]any {
	return map[string]any{
		"practitioner_id": ts.d1,
		"center_id":       ts.delhi,
		"therapy":         "Basti",
		"date":            date,
		"slot":            slot,
		"payment_method":  "at-center",
		"intake": map[string]any{
			"patient_name":  "Asha Verma",
			"age":           34,
			"sex":           "Female",
			"contact_phone": "9876543210",
			"contact_email": "asha@example.com",
		},
	}
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t, fakePinger{}, fakePinger{err: errors.New("down")})

	status, body := ts.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "v-test", body["version"])

	status, body = ts.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "degraded", body["status"])

	ts = newTestServer(t, fakePinger{err: errors.New("down")}, fakePinger{})
	status, body = ts.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "error", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, fakePinger{}, fakePinger{})
	resp, err := http.Get(ts.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "panchakarma_booking_commit_latency_seconds")
}

func TestCatalogRoutes(t *testing.T) {
	ts := newTestServer(t, fakePinger{}, fakePinger{})

	status, body := ts.do(t, http.MethodGet, "/therapies", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["items"], 5)

	// from Pune, Mumbai is nearer than Delhi
	status, body = ts.do(t, http.MethodGet, "/centers?lat=18.5204&lon=73.8567", "", nil)
	require.Equal(t, http.StatusOK, status)
	items := body["items"].([]any)
	require.Len(t, items, 2)
	first := items[0].(map[string]any)
	assert.Equal(t, ts.mumbai.String(), first["id"])
	assert.Contains(t, first, "distance_km")

	status, body = ts.do(t, http.MethodGet, "/centers?lat=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_coordinates", body["error"])

	status, body = ts.do(t, http.MethodGet, "/centers/"+uuid.NewString(), "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "center_not_found", body["error"])

	status, body = ts.do(t, http.MethodGet, "/centers/"+ts.delhi.String()+"/practitioners", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["items"], 1)

	status, body = ts.do(t, http.MethodGet, "/practitioners/"+ts.d1.String()+"/availability?date=2025-03-10", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["available"], 5)

	status, _ = ts.do(t, http.MethodGet, "/practitioners/"+ts.d1.String()+"/availability", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestFunctionRoutes(t *testing.T) {
	ts := newTestServer(t, fakePinger{}, fakePinger{})

	status, body := ts.do(t, http.MethodPost, "/appointments", ts.patient, bookingBody(ts, "2025-03-10", "11:00"))
	require.Equal(t, http.StatusCreated, status, "%v", body)

	status, body = ts.do(t, http.MethodPost, "/functions/get-booked-slots", "",
		fmt.Sprintf(`{"practitionerId":%q,"date":"2025-03-10"}`, ts.d1))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{"11:00"}, body["bookedSlots"])

	status, body = ts.do(t, http.MethodPost, "/functions/get-booked-slots", "", `{}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.NotEmpty(t, body["error"])

	status, body = ts.do(t, http.MethodPost, "/functions/send-booking-confirmation", "",
		`{"appointmentDetails":{"therapyName":"Basti","appointmentDate":"2025-03-10"},"contactPhone":"9876543210"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "sent", body["message"])
}

func TestBookingWizardOverHTTP(t *testing.T) {
	ts := newTestServer(t, fakePinger{}, fakePinger{})

	status, body := ts.do(t, http.MethodPost, "/bookings", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "auth_required", body["error"])

	status, body = ts.do(t, http.MethodPost, "/bookings", ts.patient, nil)
	require.Equal(t, http.StatusCreated, status)
	id := body["id"].(string)
	path := "/bookings/" + id

	status, _ = ts.do(t, http.MethodPatch, path, ts.patient, map[string]any{"therapy": "basti", "practitioner_id": ts.d1})
	require.Equal(t, http.StatusOK, status)
	status, body = ts.do(t, http.MethodPost, path+"/next", ts.patient, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, string(booking.StepSelectDateAndDetails), body["step"])

	status, body = ts.do(t, http.MethodPost, path+"/next", ts.patient, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_failed", body["error"])
	assert.Contains(t, body["fields"], "slot")

	status, body = ts.do(t, http.MethodGet, path+"/availability?date=2025-03-10", ts.patient, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["available"], 5)

	intake := bookingBody(ts, "", "")["intake"]
	status, _ = ts.do(t, http.MethodPatch, path, ts.patient, map[string]any{"date": "2025-03-10", "slot": "14:00", "intake": intake})
	require.Equal(t, http.StatusOK, status)
	status, body = ts.do(t, http.MethodPost, path+"/next", ts.patient, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "precautions")

	status, _ = ts.do(t, http.MethodPatch, path, ts.patient, map[string]any{"payment_method": "online"})
	require.Equal(t, http.StatusOK, status)
	status, _ = ts.do(t, http.MethodPost, path+"/next", ts.patient, nil)
	require.Equal(t, http.StatusOK, status)

	status, body = ts.do(t, http.MethodGet, path, ts.patient2, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "booking_not_found", body["error"])

	status, body = ts.do(t, http.MethodPost, path+"/commit", ts.patient, nil)
	require.Equal(t, http.StatusOK, status, "%v", body)
	assert.Equal(t, string(booking.StepCommitted), body["step"])
	assert.NotEmpty(t, body["appointment_id"])
	assert.Len(t, ts.queue.ids, 1)

	status, _ = ts.do(t, http.MethodPost, path+"/back", ts.patient, nil)
	assert.Equal(t, http.StatusConflict, status)
}

func TestBookingConflictCarriesDraft(t *testing.T) {
	ts := newTestServer(t, fakePinger{}, fakePinger{})
	intake := bookingBody(ts, "", "")["intake"]

	status, body := ts.do(t, http.MethodPost, "/bookings", ts.patient, nil)
	require.Equal(t, http.StatusCreated, status)
	path := "/bookings/" + body["id"].(string)
	for _, step := range []map[string]any{
		{"therapy": "Nasya", "practitioner_id": ts.d1},
		{"date": "2025-03-10", "slot": "16:00", "intake": intake},
		{"payment_method": "online"},
	} {
		status, body = ts.do(t, http.MethodPatch, path, ts.patient, step)
		require.Equal(t, http.StatusOK, status, "%v", body)
		status, body = ts.do(t, http.MethodPost, path+"/next", ts.patient, nil)
		require.Equal(t, http.StatusOK, status, "%v", body)
	}

	status, _ = ts.do(t, http.MethodPost, "/appointments", ts.patient2, bookingBody(ts, "2025-03-10", "16:00"))
	require.Equal(t, http.StatusCreated, status)

	status, body = ts.do(t, http.MethodPost, path+"/commit", ts.patient, nil)
	require.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "slot_conflict", body["error"])
	draft := body["draft"].(map[string]any)
	assert.Equal(t, string(booking.StepSelectDateAndDetails), draft["step"])
	assert.Equal(t, []any{"16:00"}, draft["occupied"])
}

func TestAppointmentLifecycle(t *testing.T) {
	ts := newTestServer(t, fakePinger{}, fakePinger{})

	status, body := ts.do(t, http.MethodPost, "/appointments", "", bookingBody(ts, "2025-03-10", "11:00"))
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body = ts.do(t, http.MethodPost, "/appointments", ts.doctor, bookingBody(ts, "2025-03-10", "11:00"))
	assert.Equal(t, http.StatusForbidden, status)

	bad := bookingBody(ts, "2025-03-10", "11:00")
	bad["payment_method"] = "cash"
	status, body = ts.do(t, http.MethodPost, "/appointments", ts.patient, bad)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body["fields"], "payment_method")

	status, body = ts.do(t, http.MethodPost, "/appointments", ts.patient, bookingBody(ts, "2025-03-10", "11:00"))
	require.Equal(t, http.StatusCreated, status, "%v", body)
	assert.Equal(t, "confirmed", body["status"])
	assert.Equal(t, "Basti", body["therapy_name"])
	assert.Equal(t, true, body["cancellable"])
	id := body["id"].(string)

	status, body = ts.do(t, http.MethodPost, "/appointments", ts.patient2, bookingBody(ts, "2025-03-10", "11:00"))
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "slot_conflict", body["error"])

	status, _ = ts.do(t, http.MethodGet, "/appointments/"+id, ts.patient2, nil)
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = ts.do(t, http.MethodGet, "/appointments/"+id, ts.doctor, nil)
	assert.Equal(t, http.StatusOK, status)

	status, body = ts.do(t, http.MethodPost, "/appointments/"+id+"/complete", ts.doctor, map[string]any{"notes": "tolerated well"})
	require.Equal(t, http.StatusCreated, status, "%v", body)
	assert.Equal(t, id, body["appointment_id"])

	status, body = ts.do(t, http.MethodPost, "/appointments/"+id+"/complete", ts.doctor, map[string]any{"notes": "again"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "already_logged", body["error"])

	status, body = ts.do(t, http.MethodPost, "/appointments/"+id+"/cancel", ts.patient, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "invalid_status_transition", body["error"])

	status, body = ts.do(t, http.MethodPost, "/appointments", ts.patient, bookingBody(ts, "2025-03-11", "09:00"))
	require.Equal(t, http.StatusCreated, status)
	second := body["id"].(string)
	status, body = ts.do(t, http.MethodPost, "/appointments/"+second+"/cancel", ts.patient, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "cancelled", body["status"])

	status, body = ts.do(t, http.MethodGet, "/dashboard", ts.patient, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "patient", body["kind"])
	assert.Len(t, body["appointments"], 2)
	assert.Len(t, body["therapy_logs"], 1)

	status, _ = ts.do(t, http.MethodGet, "/admin/appointments", ts.patient, nil)
	assert.Equal(t, http.StatusForbidden, status)
	status, body = ts.do(t, http.MethodGet, "/admin/appointments?status=cancelled", ts.admin, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["items"], 1)
	status, _ = ts.do(t, http.MethodGet, "/admin/appointments?status=lost", ts.admin, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	assert.Len(t, ts.queue.ids, 2)
}

func TestLoggingMiddlewareFields(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter("info", &buf)
	h := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/therapies", nil))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "GET", entry["method"])
	assert.Equal(t, "/therapies", entry["path"])
	assert.EqualValues(t, http.StatusTeapot, entry["status"])
	assert.IsType(t, float64(0), entry["duration_ms"])
	assert.NotContains(t, entry, "duration")
}
