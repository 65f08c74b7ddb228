package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/hackgods/panchakarma-booking/pkg/logging"
)

var ErrMissingDestination = errors.New("notify: destination required")

// SMSSender delivers one text message. Implementations make a single attempt;
// the Dispatcher owns retries.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// EmailSender delivers one email.
type EmailSender interface {
	SendEmail(ctx context.Context, msg Email) error
}

type Email struct {
	To      string
	ToName  string
	Subject string
	Text    string
	HTML    string
}

// GatewayError is a failed call to a messaging provider. Status is zero when
// the request never got a response.
type GatewayError struct {
	Provider string
	Status   int
	Msg      string
	Err      error
}

func (e *GatewayError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Provider, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Status, e.Msg)
	default:
		return fmt.Sprintf("%s: status %d", e.Provider, e.Status)
	}
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Temporary reports whether another attempt may succeed.
func (e *GatewayError) Temporary() bool {
	if e.Err != nil {
		return !errors.Is(e.Err, context.Canceled) && !errors.Is(e.Err, context.DeadlineExceeded)
	}
	return e.Status == 429 || e.Status >= 500
}

// IsTemporary reports whether err is worth retrying.
func IsTemporary(err error) bool {
	var gerr *GatewayError
	if errors.As(err, &gerr) {
		return gerr.Temporary()
	}
	return false
}

// StubSMSSender only logs. Used in dev when no Twilio credentials are set.
type StubSMSSender struct {
	logger *logging.Logger
}

func NewStubSMSSender(logger *logging.Logger) *StubSMSSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubSMSSender{logger: logger}
}

func (s *StubSMSSender) SendSMS(_ context.Context, to, body string) error {
	if to == "" {
		return ErrMissingDestination
	}
	s.logger.Info("stub sms", "to", to, "body", body)
	return nil
}

// StubEmailSender only logs.
type StubEmailSender struct {
	logger *logging.Logger
}

func NewStubEmailSender(logger *logging.Logger) *StubEmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubEmailSender{logger: logger}
}

func (s *StubEmailSender) SendEmail(_ context.Context, msg Email) error {
	if msg.To == "" {
		return ErrMissingDestination
	}
	s.logger.Info("stub email", "to", msg.To, "subject", msg.Subject)
	return nil
}
