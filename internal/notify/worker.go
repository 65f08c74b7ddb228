package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/panchakarma-booking/internal/appointment"
	redisclient "github.com/hackgods/panchakarma-booking/internal/redis"
	"github.com/hackgods/panchakarma-booking/pkg/logging"
)

// Appointments is the slice of appointment.Service the worker needs.
type Appointments interface {
	Lookup(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	RecordDeliveries(ctx context.Context, id uuid.UUID, deliveries []appointment.Delivery) (appointment.NotificationStatus, error)
	NotificationRetries(ctx context.Context, limit int) ([]appointment.Appointment, error)
	Location() *time.Location
}

const retryBatch = 50

// Worker drains the confirmation queue and periodically re-enqueues
// confirmations that failed or were never recorded.
type Worker struct {
	appointments Appointments
	queue        *Queue
	dispatcher   *Dispatcher
	interval     time.Duration
	popTimeout   time.Duration
	logger       *logging.Logger
}

func NewWorker(appointments Appointments, queue *Queue, dispatcher *Dispatcher, interval time.Duration, logger *logging.Logger) *Worker {
	if logger == nil {
		logger = logging.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Worker{
		appointments: appointments,
		queue:        queue,
		dispatcher:   dispatcher,
		interval:     interval,
		popTimeout:   time.Second,
		logger:       logger,
	}
}

// Run consumes jobs until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("notification worker started", "interval", w.interval)

	w.requeueOnce(ctx)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("notification worker stopping")
			return nil
		case <-ticker.C:
			w.requeueOnce(ctx)
		default:
		}

		job, err := w.queue.Next(ctx, w.popTimeout)
		switch {
		case err == nil:
			if err := w.Process(ctx, *job); err != nil {
				w.logger.Error("process notify job", "appointment_id", job.AppointmentID, "error", err)
			}
		case errors.Is(err, redisclient.ErrQueueEmpty):
		case ctx.Err() != nil:
			return nil
		default:
			w.logger.Error("pop notify job", "error", err)
			if sleep(ctx, w.popTimeout) != nil {
				return nil
			}
		}
	}
}

// Process sends the confirmation for job and records the per-channel result.
func (w *Worker) Process(ctx context.Context, job Job) error {
	appt, err := w.appointments.Lookup(ctx, job.AppointmentID)
	if err != nil {
		if errors.Is(err, appointment.ErrAppointmentNotFound) {
			w.logger.Warn("dropping notify job for unknown appointment", "appointment_id", job.AppointmentID)
			return nil
		}
		return err
	}
	if !appt.Status.Active() {
		w.logger.Info("skipping confirmation for inactive appointment",
			"appointment_id", appt.ID, "status", appt.Status)
		return nil
	}
	if appt.NotificationStatus != appointment.NotificationPending && appt.NotificationStatus != appointment.NotificationFailed {
		// already delivered, a duplicate job
		return nil
	}

	deliveries := w.dispatcher.Dispatch(ctx, ConfirmationFor(*appt, w.appointments.Location()))
	status, err := w.appointments.RecordDeliveries(ctx, appt.ID, deliveries)
	if err != nil {
		return err
	}
	w.logger.Info("confirmation processed", "appointment_id", appt.ID, "status", status)
	return nil
}

// RequeueFailed pushes every confirmation due another attempt back onto the
// queue and returns how many were queued.
func (w *Worker) RequeueFailed(ctx context.Context) (int, error) {
	due, err := w.appointments.NotificationRetries(ctx, retryBatch)
	if err != nil {
		return 0, err
	}
	queued := 0
	for _, a := range due {
		if err := w.queue.Enqueue(ctx, a.ID); err != nil {
			return queued, err
		}
		queued++
	}
	return queued, nil
}

func (w *Worker) requeueOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := w.RequeueFailed(runCtx)
	if err != nil {
		w.logger.Error("requeue failed confirmations", "error", err)
		return
	}
	if n > 0 {
		w.logger.Info("requeued confirmations", "count", n, "elapsed", time.Since(start))
	}
}
