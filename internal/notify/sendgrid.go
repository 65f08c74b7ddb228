package notify

import (
	"context"
	"errors"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/hackgods/panchakarma-booking/pkg/logging"
)

type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
	// Host overrides https://api.sendgrid.com.
	Host string
}

// SendGridSender delivers email through SendGrid's v3 mail send API.
type SendGridSender struct {
	client *sendgrid.Client
	from   *mail.Email
	logger *logging.Logger
}

// NewSendGridSender returns nil when no API key is configured.
func NewSendGridSender(cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	var client *sendgrid.Client
	if cfg.Host == "" {
		client = sendgrid.NewSendClient(cfg.APIKey)
	} else {
		req := sendgrid.GetRequest(cfg.APIKey, "/v3/mail/send", strings.TrimRight(cfg.Host, "/"))
		req.Method = "POST"
		client = &sendgrid.Client{Request: req}
	}
	return &SendGridSender{
		client: client,
		from:   mail.NewEmail(cfg.FromName, cfg.FromEmail),
		logger: logger,
	}
}

var _ EmailSender = (*SendGridSender)(nil)

func (s *SendGridSender) SendEmail(ctx context.Context, msg Email) error {
	if s == nil || s.client == nil {
		return errors.New("notify: sendgrid not configured")
	}
	if msg.To == "" {
		return ErrMissingDestination
	}

	ctx, span := tracer.Start(ctx, "notify.sendgrid.send")
	defer span.End()
	span.SetAttributes(attribute.String("notify.to", msg.To))

	message := mail.NewSingleEmail(s.from, msg.Subject, mail.NewEmail(msg.ToName, msg.To), msg.Text, msg.HTML)
	// SendWithContext writes the body into the request; keep the shared one clean.
	client := *s.client
	resp, err := client.SendWithContext(ctx, message)
	if err != nil {
		gerr := &GatewayError{Provider: "sendgrid", Err: err}
		span.RecordError(gerr)
		span.SetStatus(codes.Error, "request failed")
		return gerr
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= 400 {
		body := strings.TrimSpace(resp.Body)
		if len(body) > 200 {
			body = body[:200]
		}
		gerr := &GatewayError{Provider: "sendgrid", Status: resp.StatusCode, Msg: body}
		span.RecordError(gerr)
		span.SetStatus(codes.Error, "sendgrid rejected message")
		return gerr
	}

	s.logger.Info("sendgrid email sent", "to", msg.To, "status", resp.StatusCode)
	return nil
}
