package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/hackgods/panchakarma-booking/internal/auth"
	"github.com/hackgods/panchakarma-booking/internal/config"
	"github.com/hackgods/panchakarma-booking/internal/metrics"
	redisclient "github.com/hackgods/panchakarma-booking/internal/redis"
	"github.com/hackgods/panchakarma-booking/pkg/logging"
)

const (
	EventAppointmentConfirmed = "APPOINTMENT_CONFIRMED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
	EventNotificationRecorded = "NOTIFICATION_RECORDED"
)

var (
	ErrSlotConflict       = errors.New("slot is no longer available")
	ErrDataUnavailable    = errors.New("appointment store unavailable")
	ErrCancellationWindow = errors.New("appointment is too close to its scheduled time to cancel")
)

var tracer = otel.Tracer("github.com/hackgods/panchakarma-booking/internal/appointment")

// PractitionerDirectory answers the reference-data questions a commit needs.
type PractitionerDirectory interface {
	SlotTimes(ctx context.Context, practitionerID uuid.UUID) ([]string, error)
	WorksAt(ctx context.Context, practitionerID, centerID uuid.UUID) (bool, error)
}

type Service struct {
	repo          Repository
	locker        redisclient.Locker
	practitioners PractitionerDirectory
	cfg           config.Config
	logger        *logging.Logger
	metrics       *metrics.BookingMetrics
	now           func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, practitioners PractitionerDirectory, cfg config.Config, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		repo:          repo,
		locker:        locker,
		practitioners: practitioners,
		cfg:           cfg,
		logger:        logger,
		now:           time.Now,
	}
}

func (s *Service) SetMetrics(m *metrics.BookingMetrics) { s.metrics = m }

func (s *Service) SetClock(now func() time.Time) { s.now = now }

func (s *Service) Location() *time.Location { return s.loc() }

func (s *Service) loc() *time.Location {
	if s.cfg.Location != nil {
		return s.cfg.Location
	}
	return time.UTC
}

// Book validates req and commits it as a confirmed appointment. The slot is
// re-checked under the practitioner/instant lock right before the insert; the
// partial unique index is the final arbiter.
func (s *Service) Book(ctx context.Context, req BookingRequest) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointment.Book")
	defer span.End()
	span.SetAttributes(
		attribute.String("practitioner_id", req.PractitionerID.String()),
		attribute.String("date", req.Date),
		attribute.String("slot", req.Slot),
	)

	started := s.now()
	appt, err := s.book(ctx, req)
	s.metrics.ObserveCommit(commitOutcome(err), time.Since(started))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, commitOutcome(err))
		return nil, err
	}
	span.SetAttributes(attribute.String("appointment_id", appt.ID.String()))
	return appt, nil
}

func (s *Service) book(ctx context.Context, req BookingRequest) (*Appointment, error) {
	if req.PatientID == uuid.Nil {
		return nil, auth.ErrAuthRequired
	}

	at, err := s.Validate(ctx, req)
	if err != nil {
		return nil, err
	}

	therapy, _ := LookupTherapy(string(req.Therapy))
	draft := Appointment{
		ID:                 uuid.New(),
		PatientID:          req.PatientID,
		PractitionerID:     req.PractitionerID,
		CenterID:           req.CenterID,
		Therapy:            therapy.ID,
		ScheduledAt:        at,
		Status:             StatusConfirmed,
		PaymentMethod:      req.PaymentMethod,
		Intake:             NormalizeIntake(req.Intake),
		NotificationStatus: NotificationPending,
	}

	var created *Appointment
	commit := func(lockCtx context.Context) error {
		occupied, err := s.repo.ListOccupiedTimes(lockCtx, req.PractitionerID, at, at)
		if err != nil {
			return fmt.Errorf("%w: recheck slot: %w", ErrDataUnavailable, err)
		}
		for _, t := range occupied {
			if t.Equal(at) {
				return ErrSlotConflict
			}
		}

		appt, err := s.repo.InsertAppointment(lockCtx, draft)
		if err != nil {
			if errors.Is(err, ErrSlotTaken) {
				return ErrSlotConflict
			}
			return fmt.Errorf("%w: %w", ErrDataUnavailable, err)
		}
		created = appt
		return nil
	}

	if s.locker == nil {
		err = commit(ctx)
	} else {
		err = s.locker.WithSlotLock(ctx, req.PractitionerID, at, commit)
		if errors.Is(err, redisclient.ErrLockUnavailable) {
			s.logger.Warn("slot lock unavailable, committing on the unique index alone",
				"practitioner_id", req.PractitionerID, "scheduled_at", at, "error", err)
			err = commit(ctx)
		}
	}
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotConflict
		}
		return nil, err
	}

	s.logEvent(ctx, created.ID, EventAppointmentConfirmed, map[string]any{
		"practitioner_id": created.PractitionerID.String(),
		"patient_id":      created.PatientID.String(),
		"therapy":         created.Therapy,
		"scheduled_at":    created.ScheduledAt,
		"payment_method":  created.PaymentMethod,
	})
	s.logger.Info("appointment confirmed",
		"appointment_id", created.ID, "practitioner_id", created.PractitionerID, "scheduled_at", created.ScheduledAt)

	return created, nil
}

// Validate checks a booking request against the catalog, the practitioner's
// slot list and the calendar, returning the scheduled instant.
func (s *Service) Validate(ctx context.Context, req BookingRequest) (time.Time, error) {
	verr := &ValidationError{}

	if _, ok := LookupTherapy(string(req.Therapy)); !ok {
		verr.Add("therapy", "unknown therapy")
	}
	if req.PractitionerID == uuid.Nil {
		verr.Add("practitioner_id", "is required")
	}
	if !req.PaymentMethod.Valid() {
		verr.Add("payment_method", "must be online or at-center")
	}
	collectIntake(verr, NormalizeIntake(req.Intake))

	day, dateErr := ParseDate(req.Date, s.loc())
	if dateErr != nil {
		verr.Add("date", dateErr.Error())
	}
	var at time.Time
	if dateErr == nil {
		var slotErr error
		at, slotErr = SlotInstant(day, req.Slot, s.loc())
		if slotErr != nil {
			verr.Add("slot", slotErr.Error())
		} else if calErr := s.checkCalendar(at); calErr != "" {
			verr.Add("date", calErr)
		}
	}
	if err := verr.Err(); err != nil {
		return time.Time{}, err
	}

	all, err := s.slotTimes(ctx, req.PractitionerID)
	if err != nil {
		return time.Time{}, err
	}
	if !containsSlot(all, SlotOf(at, s.loc())) {
		verr.Add("slot", "not offered by this practitioner")
	}

	if req.CenterID != nil {
		ok, err := s.practitioners.WorksAt(ctx, req.PractitionerID, *req.CenterID)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: center membership: %w", ErrDataUnavailable, err)
		}
		if !ok {
			verr.Add("center_id", "practitioner does not work at this center")
		}
	}

	if err := verr.Err(); err != nil {
		return time.Time{}, err
	}
	return at, nil
}

// ClosedWeekday is the day the clinics take no bookings.
const ClosedWeekday = time.Sunday

// checkCalendar returns a message when at cannot be booked.
func (s *Service) checkCalendar(at time.Time) string {
	if !at.After(s.now()) {
		return "must be in the future"
	}
	if at.In(s.loc()).Weekday() == ClosedWeekday {
		return "the clinic is closed on Sundays"
	}
	return ""
}

func containsSlot(all []string, slot string) bool {
	for _, s := range all {
		if s == slot {
			return true
		}
	}
	return false
}

func commitOutcome(err error) string {
	var verr *ValidationError
	switch {
	case err == nil:
		return "confirmed"
	case errors.As(err, &verr):
		return "invalid"
	case errors.Is(err, ErrSlotConflict):
		return "conflict"
	case errors.Is(err, auth.ErrAuthRequired):
		return "unauthenticated"
	default:
		return "unavailable"
	}
}

// Cancellable reports whether appt may still be cancelled at the current time.
func (s *Service) Cancellable(appt Appointment) bool {
	return appt.Status.Active() && appt.ScheduledAt.Sub(s.now()) >= s.cfg.CancellationWindow
}

// Cancel soft-cancels an active appointment owned by the actor (or any, for
// admins) while at least the cancellation window remains.
func (s *Service) Cancel(ctx context.Context, actor auth.AuthContext, id uuid.UUID) (*Appointment, error) {
	appt, err := s.cancel(ctx, actor, id)
	s.metrics.ObserveCancellation(cancelOutcome(err))
	return appt, err
}

func (s *Service) cancel(ctx context.Context, actor auth.AuthContext, id uuid.UUID) (*Appointment, error) {
	if !actor.Authenticated() {
		return nil, auth.ErrAuthRequired
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: load appointment: %w", ErrDataUnavailable, err)
	}

	owner := actor.Is(auth.RolePatient) && appt.PatientID == actor.Session.UserID
	if !owner && !actor.Is(auth.RoleAdmin) {
		return nil, auth.ErrForbidden
	}
	if !appt.Status.Active() {
		return nil, ErrInvalidStatusTransition
	}
	if appt.ScheduledAt.Sub(s.now()) < s.cfg.CancellationWindow {
		return nil, ErrCancellationWindow
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, StatusCancelled)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// status moved under us
			return nil, ErrInvalidStatusTransition
		}
		return nil, fmt.Errorf("%w: cancel appointment: %w", ErrDataUnavailable, err)
	}

	s.logEvent(ctx, updated.ID, EventAppointmentCancelled, map[string]any{
		"by":   actor.Session.UserID.String(),
		"role": actor.Role,
		"from": appt.Status,
	})
	return updated, nil
}

func cancelOutcome(err error) string {
	switch {
	case err == nil:
		return "cancelled"
	case errors.Is(err, ErrCancellationWindow):
		return "window"
	case errors.Is(err, ErrDataUnavailable):
		return "unavailable"
	default:
		return "rejected"
	}
}

// LogSession completes a confirmed appointment and stores the practitioner's
// notes as its single therapy log.
func (s *Service) LogSession(ctx context.Context, actor auth.AuthContext, id uuid.UUID, notes string) (*TherapyLog, error) {
	if !actor.Authenticated() {
		return nil, auth.ErrAuthRequired
	}
	if !actor.Is(auth.RoleDoctor) {
		return nil, auth.ErrForbidden
	}
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return nil, &ValidationError{Fields: map[string]string{"notes": "is required"}}
	}

	log, err := s.repo.CompleteWithLog(ctx, id, actor.Session.UserID, notes)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotAssigned):
			return nil, fmt.Errorf("%w: %w", auth.ErrForbidden, err)
		case errors.Is(err, ErrAppointmentNotFound),
			errors.Is(err, ErrAlreadyLogged),
			errors.Is(err, ErrInvalidStatusTransition):
			return nil, err
		}
		return nil, fmt.Errorf("%w: log session: %w", ErrDataUnavailable, err)
	}

	s.logEvent(ctx, id, EventAppointmentCompleted, map[string]any{
		"practitioner_id": actor.Session.UserID.String(),
		"log_id":          log.ID.String(),
	})
	return log, nil
}

// Get returns an appointment visible to the actor: its patient, its
// practitioner, or an admin.
func (s *Service) Get(ctx context.Context, actor auth.AuthContext, id uuid.UUID) (*Appointment, error) {
	if !actor.Authenticated() {
		return nil, auth.ErrAuthRequired
	}
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: get appointment: %w", ErrDataUnavailable, err)
	}
	switch {
	case actor.Is(auth.RoleAdmin),
		actor.Is(auth.RolePatient) && appt.PatientID == actor.Session.UserID,
		actor.Is(auth.RoleDoctor) && appt.PractitionerID == actor.Session.UserID:
		return appt, nil
	}
	return nil, auth.ErrForbidden
}

// Lookup loads an appointment without an actor, for internal callers such as
// the notification worker.
func (s *Service) Lookup(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
		return nil, fmt.Errorf("%w: get appointment: %w", ErrDataUnavailable, err)
	}
	return appt, err
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	limit, offset = clampPage(limit, offset)
	out, err := s.repo.ListAppointmentsByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDataUnavailable, err)
	}
	return out, nil
}

func (s *Service) ListByPractitioner(ctx context.Context, practitionerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	out, err := s.repo.ListAppointmentsByPractitioner(ctx, practitionerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDataUnavailable, err)
	}
	return out, nil
}

func (s *Service) ListAll(ctx context.Context, f ListFilter) ([]Appointment, error) {
	f.Limit, f.Offset = clampPage(f.Limit, f.Offset)
	out, err := s.repo.ListAppointments(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDataUnavailable, err)
	}
	return out, nil
}

func (s *Service) ListLogsByPatient(ctx context.Context, patientID uuid.UUID) ([]TherapyLog, error) {
	logs, err := s.repo.ListLogsByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDataUnavailable, err)
	}
	return logs, nil
}

// Summarize counts sessions per therapy, sorted by therapy name.
func Summarize(logs []TherapyLog) []TherapyCount {
	counts := map[TherapyType]int{}
	for _, l := range logs {
		counts[l.Therapy]++
	}
	out := make([]TherapyCount, 0, len(counts))
	for t, n := range counts {
		out = append(out, TherapyCount{Therapy: t, Name: TherapyName(t), Sessions: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Service) TherapySummary(ctx context.Context, patientID uuid.UUID) ([]TherapyCount, error) {
	logs, err := s.ListLogsByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return Summarize(logs), nil
}

// AggregateDeliveries folds per-channel results into one notification status
// and a human readable detail line.
func AggregateDeliveries(deliveries []Delivery) (NotificationStatus, string) {
	var sent, failed int
	parts := make([]string, 0, len(deliveries))
	for _, d := range deliveries {
		switch d.Status {
		case DeliverySent:
			sent++
			parts = append(parts, d.Channel+": sent")
		case DeliveryFailed:
			failed++
			parts = append(parts, fmt.Sprintf("%s: failed (%s)", d.Channel, d.Error))
		default:
			parts = append(parts, d.Channel+": skipped")
		}
	}
	detail := strings.Join(parts, "; ")

	switch {
	case sent == 0 && failed == 0:
		return NotificationSkipped, detail
	case failed == 0:
		return NotificationSent, detail
	case sent == 0:
		return NotificationFailed, detail
	default:
		return NotificationPartial, detail
	}
}

// RecordDeliveries stores the per-channel outcome of a confirmation attempt.
func (s *Service) RecordDeliveries(ctx context.Context, id uuid.UUID, deliveries []Delivery) (NotificationStatus, error) {
	status, detail := AggregateDeliveries(deliveries)

	if err := s.repo.RecordDeliveries(ctx, id, status, detail, deliveries); err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return "", err
		}
		return "", fmt.Errorf("%w: record deliveries: %w", ErrDataUnavailable, err)
	}

	s.logEvent(ctx, id, EventNotificationRecorded, map[string]any{
		"status": status,
		"detail": detail,
	})
	if status == NotificationFailed || status == NotificationPartial {
		s.logger.Warn("confirmation not fully delivered", "appointment_id", id, "status", status, "detail", detail)
	}
	return status, nil
}

// NotificationRetries lists appointments whose confirmation failed, or was
// never recorded, and still has attempts left.
func (s *Service) NotificationRetries(ctx context.Context, limit int) ([]Appointment, error) {
	staleBefore := s.now().Add(-5 * s.cfg.WorkerInterval)
	out, err := s.repo.ListNotificationRetries(ctx, s.cfg.NotifyMaxAttempts, staleBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDataUnavailable, err)
	}
	return out, nil
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("marshal event payload", "event_type", eventType, "error", err)
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Error("insert event log", "event_type", eventType, "appointment_id", appointmentID, "error", err)
	}
}
