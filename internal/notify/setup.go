package notify

import (
	"github.com/hackgods/panchakarma-booking/internal/config"
	"github.com/hackgods/panchakarma-booking/pkg/logging"
)

// DispatcherFromConfig wires the configured gateways. In dev an unconfigured
// gateway is replaced by a stub that only logs; elsewhere the channel is left
// out and its deliveries are reported as skipped.
func DispatcherFromConfig(cfg config.Config, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	var sms SMSSender
	switch {
	case cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" && cfg.TwilioFromNumber != "":
		sms = NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, logger)
	case cfg.Env == "dev":
		sms = NewStubSMSSender(logger)
	default:
		logger.Warn("twilio not configured, sms confirmations disabled")
	}

	var email EmailSender
	if sg := NewSendGridSender(SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); sg != nil {
		email = sg
	} else if cfg.Env == "dev" {
		email = NewStubEmailSender(logger)
	} else {
		logger.Warn("sendgrid not configured, email confirmations disabled")
	}

	return NewDispatcher(sms, email, DispatcherConfig{
		CountryCode: cfg.PhoneCountryCode,
		MaxAttempts: cfg.NotifyMaxAttempts,
	}, logger)
}
