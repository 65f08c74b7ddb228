package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/panchakarma-booking/internal/appointment"
	"github.com/hackgods/panchakarma-booking/internal/auth"
	"github.com/hackgods/panchakarma-booking/internal/config"
	"github.com/hackgods/panchakarma-booking/internal/db"
	"github.com/hackgods/panchakarma-booking/pkg/logging"
)

type SimConfig struct {
	APIBaseURL        string
	Duration          time.Duration
	Workers           int
	BookingRatio      float64
	PatientLimit      int
	PractitionerLimit int
	Days              int
	Slots             []string
	JWTSecret         string
	Location          *time.Location
}

// target is one practitioner at one center. Bookings are spread over a small
// set of targets, days and slots so that workers collide.
type target struct {
	practitionerID uuid.UUID
	centerID       uuid.UUID
}

type DataPool struct {
	Patients []uuid.UUID
	Tokens   map[uuid.UUID]string
	Targets  []target
	Dates    []string
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	latencies := append([]time.Duration(nil), om.Latencies...)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	pick := func(pct int) time.Duration {
		idx := len(latencies) * pct / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}
	return sum / time.Duration(len(latencies)), pick(50), pick(95), latencies[len(latencies)-1]
}

type Metrics struct {
	Booking      OperationMetrics
	Availability OperationMetrics
	BookedSlots  OperationMetrics
	Dashboard    OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	logger  *logging.Logger
}

func main() {
	logger := logging.New(os.Getenv("LOG_LEVEL")).With("service", "simulate")

	baseCfg, err := config.Load()
	if err != nil {
		logger.Error("config load error", "error", err)
		os.Exit(1)
	}
	cfg := loadConfig(baseCfg)
	if err := validateConfig(cfg); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}
	logger.Info("simulator starting", "duration", cfg.Duration, "workers", cfg.Workers, "booking_ratio", cfg.BookingRatio)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, baseCfg.PostgresDSN, db.PoolOptions{MaxConns: 2}, logger)
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		logger.Error("load data pool", "error", err)
		os.Exit(1)
	}
	logger.Info("data loaded", "patients", len(dataPool.Patients), "targets", len(dataPool.Targets), "dates", dataPool.Dates)

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
	sim.Run()
	sim.PrintReport()

	dupes, err := countDoubleBookings(context.Background(), pgPool)
	if err != nil {
		logger.Error("check double bookings", "error", err)
		os.Exit(1)
	}
	fmt.Printf("Double-booked practitioner slots: %d\n", dupes)
	if dupes > 0 {
		os.Exit(2)
	}
}

func loadConfig(base config.Config) SimConfig {
	return SimConfig{
		APIBaseURL:        strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Duration:          getDuration("SIM_DURATION", 30*time.Second),
		Workers:           getInt("SIM_WORKERS", 20),
		BookingRatio:      getFloat("SIM_BOOKING_RATIO", 0.6),
		PatientLimit:      getInt("SIM_PATIENT_LIMIT", 200),
		PractitionerLimit: getInt("SIM_PRACTITIONER_LIMIT", 3),
		Days:              getInt("SIM_DAYS", 2),
		Slots:             base.DefaultSlotTimes,
		JWTSecret:         base.AuthJWTSecret,
		Location:          base.Location,
	}
}

func validateConfig(cfg SimConfig) error {
	if cfg.JWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is required to mint patient tokens")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.BookingRatio < 0 || cfg.BookingRatio > 1 {
		return fmt.Errorf("SIM_BOOKING_RATIO must be within [0, 1]")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dp := &DataPool{Tokens: map[uuid.UUID]string{}}

	rows, err := pool.Query(ctx, `SELECT id FROM profiles WHERE role = 'patient' LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		dp.Patients = append(dp.Patients, id)
	}
	rows.Close()

	rows, err = pool.Query(ctx, `
		SELECT practitioner_id, center_id FROM practitioner_centers
		ORDER BY practitioner_id
		LIMIT $1
	`, cfg.PractitionerLimit)
	if err != nil {
		return nil, fmt.Errorf("load practitioners: %w", err)
	}
	for rows.Next() {
		var t target
		if err := rows.Scan(&t.practitionerID, &t.centerID); err != nil {
			rows.Close()
			return nil, err
		}
		dp.Targets = append(dp.Targets, t)
	}
	rows.Close()

	if len(dp.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded, run seed first")
	}
	if len(dp.Targets) == 0 {
		return nil, fmt.Errorf("no practitioners loaded, run seed first")
	}

	for _, id := range dp.Patients {
		tok, err := auth.IssueToken(cfg.JWTSecret, auth.Session{UserID: id}, auth.RolePatient, cfg.Duration+time.Hour)
		if err != nil {
			return nil, fmt.Errorf("issue token: %w", err)
		}
		dp.Tokens[id] = tok
	}

	// upcoming working days, starting tomorrow
	day := time.Now().In(cfg.Location).AddDate(0, 0, 1)
	for len(dp.Dates) < cfg.Days {
		if day.Weekday() != appointment.ClosedWeekday {
			dp.Dates = append(dp.Dates, day.Format("2006-01-02"))
		}
		day = day.AddDate(0, 0, 1)
	}
	return dp, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Info("starting simulation", "duration", s.config.Duration, "workers", s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}
	wg.Wait()
	s.logger.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for ctx.Err() == nil {
		patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
		t := s.pool.Targets[rng.Intn(len(s.pool.Targets))]
		date := s.pool.Dates[rng.Intn(len(s.pool.Dates))]

		if rng.Float64() < s.config.BookingRatio {
			s.doBooking(ctx, rng, patient, t, date)
			continue
		}
		switch rng.Intn(3) {
		case 0:
			s.doAvailability(ctx, t, date)
		case 1:
			s.doBookedSlots(ctx, t, date)
		case 2:
			s.doDashboard(ctx, patient)
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand, patient uuid.UUID, t target, date string) {
	body, _ := json.Marshal(appointment.BookingRequest{
		PractitionerID: t.practitionerID,
		CenterID:       &t.centerID,
		Therapy:        appointment.Therapies()[rng.Intn(len(appointment.Therapies()))].ID,
		Date:           date,
		Slot:           s.config.Slots[rng.Intn(len(s.config.Slots))],
		PaymentMethod:  appointment.PaymentAtCenter,
		Intake: appointment.Intake{
			PatientName:  "Simulated Patient",
			Age:          18 + rng.Intn(60),
			Sex:          "Other",
			ContactPhone: "98765" + fmt.Sprintf("%05d", rng.Intn(100000)),
			ContactEmail: "sim+" + patient.String()[:8] + "@example.com",
		},
	})

	status, latency, err := s.call(ctx, http.MethodPost, "/appointments", s.pool.Tokens[patient], body)
	if ctx.Err() != nil {
		return
	}
	s.metrics.Booking.Record(latency, err == nil && status == http.StatusCreated, status == http.StatusConflict)
}

func (s *Simulator) doAvailability(ctx context.Context, t target, date string) {
	status, latency, err := s.call(ctx, http.MethodGet,
		fmt.Sprintf("/practitioners/%s/availability?date=%s", t.practitionerID, date), "", nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.Availability.Record(latency, err == nil && status == http.StatusOK, false)
}

func (s *Simulator) doBookedSlots(ctx context.Context, t target, date string) {
	body, _ := json.Marshal(map[string]string{"doctor_id": t.practitionerID.String(), "selected_date": date})
	status, latency, err := s.call(ctx, http.MethodPost, "/functions/get-booked-slots", "", body)
	if ctx.Err() != nil {
		return
	}
	s.metrics.BookedSlots.Record(latency, err == nil && status == http.StatusOK, false)
}

func (s *Simulator) doDashboard(ctx context.Context, patient uuid.UUID) {
	status, latency, err := s.call(ctx, http.MethodGet, "/dashboard", s.pool.Tokens[patient], nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.Dashboard.Record(latency, err == nil && status == http.StatusOK, false)
}

func (s *Simulator) call(ctx context.Context, method, path, token string, body []byte) (int, time.Duration, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, rdr)
	if err != nil {
		return 0, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, latency, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, latency, nil
}

// countDoubleBookings counts practitioner instants held by more than one
// active appointment. Anything above zero is a bug.
func countDoubleBookings(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	var n int
	err := pool.QueryRow(ctx, `
		SELECT count(*) FROM (
			SELECT practitioner_id, scheduled_at
			FROM appointments
			WHERE status IN ('pending', 'confirmed')
			GROUP BY practitioner_id, scheduled_at
			HAVING count(*) > 1
		) d
	`).Scan(&n)
	return n, err
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Contended slots: %d\n", len(s.pool.Targets)*len(s.pool.Dates)*len(s.config.Slots))
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Availability", &s.metrics.Availability)
	printOperationReport("Booked slots function", &s.metrics.BookedSlots)
	printOperationReport("Dashboard", &s.metrics.Dashboard)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}
	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)
	avg, p50, p95, max := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond), p95.Round(time.Millisecond), max.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
