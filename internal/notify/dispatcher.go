package notify

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hackgods/panchakarma-booking/internal/appointment"
	"github.com/hackgods/panchakarma-booking/internal/metrics"
	"github.com/hackgods/panchakarma-booking/pkg/logging"
)

const (
	ChannelSMS   = "sms"
	ChannelEmail = "email"
)

type DispatcherConfig struct {
	CountryCode string
	MaxAttempts int
	// Backoff is the pause before the second attempt; it doubles after that.
	Backoff time.Duration
}

// Dispatcher sends a confirmation over every channel the patient gave us.
// Channels run in parallel and fail independently.
type Dispatcher struct {
	sms     SMSSender
	email   EmailSender
	cfg     DispatcherConfig
	logger  *logging.Logger
	metrics *metrics.BookingMetrics
	now     func() time.Time
}

func NewDispatcher(sms SMSSender, email EmailSender, cfg DispatcherConfig, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	// unconfigured senders come back as typed nils
	if s, ok := sms.(*TwilioSender); ok && s == nil {
		sms = nil
	}
	if s, ok := email.(*SendGridSender); ok && s == nil {
		email = nil
	}
	return &Dispatcher{sms: sms, email: email, cfg: cfg, logger: logger, now: time.Now}
}

func (d *Dispatcher) SetMetrics(m *metrics.BookingMetrics) { d.metrics = m }

// Dispatch attempts SMS and email delivery of c and reports one result per
// channel, SMS first.
func (d *Dispatcher) Dispatch(ctx context.Context, c Confirmation) []appointment.Delivery {
	ctx, span := tracer.Start(ctx, "notify.Dispatch")
	defer span.End()

	results := make([]appointment.Delivery, 2)
	body := c.Message()

	var g errgroup.Group
	g.Go(func() error {
		var send func(context.Context) error
		phone := NormalizePhone(c.Phone, d.cfg.CountryCode)
		if d.sms != nil {
			send = func(ctx context.Context) error { return d.sms.SendSMS(ctx, phone, body) }
		}
		results[0] = d.deliver(ctx, ChannelSMS, phone, send)
		return nil
	})
	g.Go(func() error {
		var send func(context.Context) error
		if d.email != nil {
			msg := Email{To: c.Email, ToName: c.PatientName, Subject: c.Subject(), Text: body, HTML: c.HTML()}
			send = func(ctx context.Context) error { return d.email.SendEmail(ctx, msg) }
		}
		results[1] = d.deliver(ctx, ChannelEmail, c.Email, send)
		return nil
	})
	_ = g.Wait()

	for _, r := range results {
		d.metrics.ObserveDelivery(r.Channel, string(r.Status))
	}
	return results
}

func (d *Dispatcher) deliver(ctx context.Context, channel, destination string, send func(context.Context) error) appointment.Delivery {
	res := appointment.Delivery{Channel: channel, Destination: destination, AttemptedAt: d.now()}
	switch {
	case destination == "":
		res.Status = appointment.DeliverySkipped
		res.Error = "no destination on record"
		return res
	case send == nil:
		res.Status = appointment.DeliverySkipped
		res.Error = "channel not configured"
		return res
	}

	var err error
	wait := d.cfg.Backoff
	for res.Attempts < d.cfg.MaxAttempts {
		res.Attempts++
		if err = send(ctx); err == nil {
			res.Status = appointment.DeliverySent
			return res
		}
		if !IsTemporary(err) || res.Attempts == d.cfg.MaxAttempts {
			break
		}
		d.logger.Warn("confirmation send failed, retrying",
			"channel", channel, "attempt", res.Attempts, "error", err)
		if sleepErr := sleep(ctx, wait); sleepErr != nil {
			err = sleepErr
			break
		}
		wait *= 2
	}

	res.Status = appointment.DeliveryFailed
	res.Error = err.Error()
	return res
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
