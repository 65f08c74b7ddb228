package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/panchakarma-booking/internal/appointment"
	"github.com/hackgods/panchakarma-booking/internal/auth"
	"github.com/hackgods/panchakarma-booking/internal/metrics"
	"github.com/hackgods/panchakarma-booking/pkg/logging"
)

var (
	ErrInvalidTransition = errors.New("booking step does not allow this action")
	ErrAlreadyCommitted  = errors.New("booking already committed")
)

// NotificationWarning is set on a committed draft whose confirmation could
// not be queued. The appointment stands; delivery is retried later.
const NotificationWarning = "booking confirmed, but the confirmation message could not be queued yet"

// Appointments is the part of appointment.Service the wizard drives.
type Appointments interface {
	Validate(ctx context.Context, req appointment.BookingRequest) (time.Time, error)
	AvailableSlots(ctx context.Context, practitionerID uuid.UUID, date string) (*appointment.Availability, error)
	Book(ctx context.Context, req appointment.BookingRequest) (*appointment.Appointment, error)
}

// Enqueuer hands a committed appointment to the notification dispatcher.
type Enqueuer interface {
	Enqueue(ctx context.Context, appointmentID uuid.UUID) error
}

// Workflow runs the booking wizard on top of a draft Store.
type Workflow struct {
	store    Store
	appts    Appointments
	notifier Enqueuer
	logger   *logging.Logger
	metrics  *metrics.BookingMetrics
	now      func() time.Time
}

func NewWorkflow(store Store, appts Appointments, notifier Enqueuer, logger *logging.Logger) *Workflow {
	if logger == nil {
		logger = logging.Default()
	}
	return &Workflow{store: store, appts: appts, notifier: notifier, logger: logger, now: time.Now}
}

func (w *Workflow) SetMetrics(m *metrics.BookingMetrics) { w.metrics = m }

// Start opens a fresh draft for the patient.
func (w *Workflow) Start(ctx context.Context, actor auth.AuthContext) (*Draft, error) {
	if !actor.Authenticated() {
		return nil, auth.ErrAuthRequired
	}
	if !actor.Is(auth.RolePatient) {
		return nil, auth.ErrForbidden
	}
	now := w.now()
	d := Draft{
		ID:        uuid.New(),
		PatientID: actor.Session.UserID,
		Step:      StepSelectTherapy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := w.save(ctx, &d); err != nil {
		return nil, err
	}
	w.metrics.ObserveTransition(string(d.Step))
	return &d, nil
}

func (w *Workflow) Get(ctx context.Context, actor auth.AuthContext, id uuid.UUID) (*Draft, error) {
	return w.load(ctx, actor, id)
}

// Update applies the fields of p that belong to the draft's current step.
func (w *Workflow) Update(ctx context.Context, actor auth.AuthContext, id uuid.UUID, p Patch) (*Draft, error) {
	d, err := w.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if d.Step == StepCommitted {
		return nil, ErrAlreadyCommitted
	}

	verr := &appointment.ValidationError{}
	editable := func(field string, step Step) bool {
		if d.Step != step {
			verr.Add(field, "not editable at this step")
			return false
		}
		return true
	}

	if p.Therapy != nil && editable("therapy", StepSelectTherapy) {
		d.Therapy = *p.Therapy
	}
	if p.PractitionerID != nil && editable("practitioner_id", StepSelectTherapy) {
		if *p.PractitionerID != d.PractitionerID {
			d.clearSlot()
		}
		d.PractitionerID = *p.PractitionerID
	}
	if p.CenterID != nil && editable("center_id", StepSelectTherapy) {
		d.CenterID = p.CenterID
		if *p.CenterID == uuid.Nil {
			d.CenterID = nil
		}
	}
	if p.Date != nil && editable("date", StepSelectDateAndDetails) {
		if *p.Date != d.Date {
			d.clearSlot()
		}
		d.Date = *p.Date
	}
	if p.Slot != nil && editable("slot", StepSelectDateAndDetails) {
		d.Slot = *p.Slot
	}
	if p.Intake != nil && editable("intake", StepSelectDateAndDetails) {
		d.Intake = appointment.NormalizeIntake(*p.Intake)
	}
	if p.PaymentMethod != nil && editable("payment_method", StepReviewPrecautionsAndPayment) {
		d.PaymentMethod = *p.PaymentMethod
	}

	if err := verr.Err(); err != nil {
		return nil, err
	}
	if err := w.save(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Availability refreshes the slot picture for date. When date is the draft's
// date the occupied set is kept on the draft.
func (w *Workflow) Availability(ctx context.Context, actor auth.AuthContext, id uuid.UUID, date string) (*appointment.Availability, error) {
	d, err := w.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if d.PractitionerID == uuid.Nil {
		return nil, &appointment.ValidationError{Fields: map[string]string{"practitioner_id": "select a practitioner first"}}
	}
	if date == "" {
		date = d.Date
	}
	av, err := w.appts.AvailableSlots(ctx, d.PractitionerID, date)
	if err != nil {
		return nil, err
	}
	if date == d.Date && d.Step != StepCommitted {
		d.Occupied, d.Available = av.Occupied, av.Available
		if err := w.save(ctx, d); err != nil {
			return nil, err
		}
	}
	return av, nil
}

// Next advances one step once the current step's guard passes. From
// ReviewAndConfirm it commits.
func (w *Workflow) Next(ctx context.Context, actor auth.AuthContext, id uuid.UUID) (*Draft, error) {
	d, err := w.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	switch d.Step {
	case StepSelectTherapy:
		err = w.guardTherapy(d)
	case StepSelectDateAndDetails:
		err = w.guardDateAndDetails(ctx, d)
	case StepReviewPrecautionsAndPayment:
		err = guardPayment(d)
	case StepReviewAndConfirm:
		return w.commit(ctx, d)
	case StepCommitted:
		return nil, ErrAlreadyCommitted
	default:
		return nil, fmt.Errorf("%w: unknown step %q", ErrInvalidTransition, d.Step)
	}
	if err != nil {
		// guards may have refreshed availability
		if saveErr := w.save(ctx, d); saveErr != nil {
			w.logger.Warn("save draft after failed guard", "draft_id", d.ID, "error", saveErr)
		}
		return nil, err
	}

	d.Step = d.Step.next()
	if d.Step == StepReviewPrecautionsAndPayment {
		p := appointment.PrecautionsFor(d.Therapy)
		d.Precautions = &p
	}
	if err := w.save(ctx, d); err != nil {
		return nil, err
	}
	w.metrics.ObserveTransition(string(d.Step))
	return d, nil
}

// Back returns to the previous step. Entered data is kept.
func (w *Workflow) Back(ctx context.Context, actor auth.AuthContext, id uuid.UUID) (*Draft, error) {
	d, err := w.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	switch d.Step {
	case StepCommitted:
		return nil, ErrAlreadyCommitted
	case StepSelectTherapy:
		return nil, ErrInvalidTransition
	}
	if d.Step.index() < 0 {
		return nil, fmt.Errorf("%w: unknown step %q", ErrInvalidTransition, d.Step)
	}
	d.Step = d.Step.prev()
	if err := w.save(ctx, d); err != nil {
		return nil, err
	}
	w.metrics.ObserveTransition(string(d.Step))
	return d, nil
}

// Commit books the draft. Committing an already committed draft returns it
// unchanged.
func (w *Workflow) Commit(ctx context.Context, actor auth.AuthContext, id uuid.UUID) (*Draft, error) {
	d, err := w.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	switch d.Step {
	case StepCommitted:
		return d, nil
	case StepReviewAndConfirm:
		return w.commit(ctx, d)
	}
	return nil, ErrInvalidTransition
}

func (w *Workflow) commit(ctx context.Context, d *Draft) (*Draft, error) {
	appt, err := w.appts.Book(ctx, d.request())
	if err != nil {
		if errors.Is(err, appointment.ErrSlotConflict) {
			w.returnToSlotSelection(ctx, d)
		}
		return d, err
	}

	d.Step = StepCommitted
	d.AppointmentID = &appt.ID
	if w.notifier == nil {
		d.Warning = NotificationWarning
	} else if err := w.notifier.Enqueue(ctx, appt.ID); err != nil {
		w.logger.Warn("enqueue confirmation failed", "appointment_id", appt.ID, "error", err)
		d.Warning = NotificationWarning
	}
	if err := w.save(ctx, d); err != nil {
		// the appointment exists; a lost draft only costs the wizard view
		w.logger.Warn("save committed draft", "draft_id", d.ID, "appointment_id", appt.ID, "error", err)
	}
	w.metrics.ObserveTransition(string(d.Step))
	return d, nil
}

// returnToSlotSelection sends a draft that lost its slot back to step two
// with the occupied set as it is now.
func (w *Workflow) returnToSlotSelection(ctx context.Context, d *Draft) {
	lost := d.Slot
	d.Step = StepSelectDateAndDetails
	d.Slot = ""
	if av, err := w.appts.AvailableSlots(ctx, d.PractitionerID, d.Date); err == nil {
		d.Occupied, d.Available = av.Occupied, av.Available
	} else {
		w.logger.Warn("refresh availability after conflict", "draft_id", d.ID, "error", err)
		d.Occupied, d.Available = nil, nil
	}
	if err := w.save(ctx, d); err != nil {
		w.logger.Warn("save draft after conflict", "draft_id", d.ID, "error", err)
	}
	w.logger.Info("slot taken at commit", "draft_id", d.ID, "practitioner_id", d.PractitionerID, "date", d.Date, "slot", lost)
	w.metrics.ObserveTransition(string(d.Step))
}

// Discard drops the draft. It is a no-op for unknown drafts.
func (w *Workflow) Discard(ctx context.Context, actor auth.AuthContext, id uuid.UUID) error {
	_, err := w.load(ctx, actor, id)
	if err != nil && !errors.Is(err, ErrDraftNotFound) {
		return err
	}
	if err := w.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("%w: %w", appointment.ErrDataUnavailable, err)
	}
	return nil
}

func (w *Workflow) guardTherapy(d *Draft) error {
	verr := &appointment.ValidationError{}
	if d.Therapy == "" {
		verr.Add("therapy", "is required")
	} else if t, ok := appointment.LookupTherapy(string(d.Therapy)); !ok {
		verr.Add("therapy", "unknown therapy")
	} else {
		d.Therapy = t.ID
	}
	if d.PractitionerID == uuid.Nil {
		verr.Add("practitioner_id", "is required")
	}
	return verr.Err()
}

// guardDateAndDetails re-reads availability so the chosen slot is checked
// against the store, not against what the client last saw.
func (w *Workflow) guardDateAndDetails(ctx context.Context, d *Draft) error {
	verr := &appointment.ValidationError{}
	if d.Date == "" {
		verr.Add("date", "is required")
	}
	if d.Slot == "" {
		verr.Add("slot", "is required")
	}

	req := d.request()
	if !req.PaymentMethod.Valid() {
		// chosen on the next step
		req.PaymentMethod = appointment.PaymentAtCenter
	}
	if _, err := w.appts.Validate(ctx, req); err != nil {
		var fields *appointment.ValidationError
		if !errors.As(err, &fields) {
			return err
		}
		for k, v := range fields.Fields {
			verr.Add(k, v)
		}
	}
	if d.Date == "" || verr.Fields["date"] != "" {
		return verr.Err()
	}

	av, err := w.appts.AvailableSlots(ctx, d.PractitionerID, d.Date)
	if err != nil {
		var fields *appointment.ValidationError
		if errors.As(err, &fields) {
			for k, v := range fields.Fields {
				verr.Add(k, v)
			}
			return verr.Err()
		}
		return err
	}
	d.Occupied, d.Available = av.Occupied, av.Available
	if d.Slot != "" && !contains(av.Available, d.Slot) {
		verr.Add("slot", "is no longer available")
	}
	return verr.Err()
}

func guardPayment(d *Draft) error {
	if !d.PaymentMethod.Valid() {
		return &appointment.ValidationError{Fields: map[string]string{"payment_method": "must be online or at-center"}}
	}
	return nil
}

// load fetches a draft for actor. An unauthenticated request discards the
// draft it names.
func (w *Workflow) load(ctx context.Context, actor auth.AuthContext, id uuid.UUID) (*Draft, error) {
	if !actor.Authenticated() {
		if id != uuid.Nil {
			if err := w.store.Delete(ctx, id); err != nil {
				w.logger.Warn("discard draft for anonymous request", "draft_id", id, "error", err)
			}
		}
		return nil, auth.ErrAuthRequired
	}
	d, err := w.store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, ErrDraftNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", appointment.ErrDataUnavailable, err)
	}
	if d.PatientID != actor.Session.UserID {
		return nil, ErrDraftNotFound
	}
	return d, nil
}

func (w *Workflow) save(ctx context.Context, d *Draft) error {
	d.UpdatedAt = w.now()
	if err := w.store.Save(ctx, *d); err != nil {
		return fmt.Errorf("%w: %w", appointment.ErrDataUnavailable, err)
	}
	return nil
}

func (d *Draft) clearSlot() {
	d.Slot = ""
	d.Occupied = nil
	d.Available = nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
