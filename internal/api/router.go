package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hackgods/panchakarma-booking/internal/appointment"
	"github.com/hackgods/panchakarma-booking/internal/auth"
	"github.com/hackgods/panchakarma-booking/internal/booking"
	"github.com/hackgods/panchakarma-booking/internal/directory"
	"github.com/hackgods/panchakarma-booking/internal/functions"
	"github.com/hackgods/panchakarma-booking/pkg/logging"
)

type RouterConfig struct {
	Appointments *appointment.Service
	Directory    *directory.Service
	Workflow     *booking.Workflow
	Functions    *functions.Functions
	// Notifier queues confirmations for one-shot bookings.
	Notifier booking.Enqueuer
	Verifier *auth.Verifier
	Postgres Pinger
	Redis    Pinger
	Gatherer prometheus.Gatherer
	Logger   *logging.Logger
	Env      string
	Version  string
}

type handlers struct {
	cfg    RouterConfig
	logger *logging.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	h := &handlers{cfg: cfg, logger: logger}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(RecoverMiddleware(logger))
	r.Use(auth.Middleware(cfg.Verifier, logger))

	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))

	r.Post("/functions/get-booked-slots", h.bookedSlots)
	r.Post("/functions/send-booking-confirmation", h.sendConfirmation)

	r.Get("/therapies", h.listTherapies)
	r.Get("/centers", h.listCenters)
	r.Get("/centers/{id}", h.getCenter)
	r.Get("/centers/{id}/practitioners", h.listPractitioners)
	r.Get("/practitioners/{id}/availability", h.practitionerAvailability)

	// The wizard checks the AuthContext itself so an anonymous request can
	// discard the draft it names.
	r.Route("/bookings", func(r chi.Router) {
		r.Post("/", h.startBooking)
		r.Get("/{id}", h.getBooking)
		r.Patch("/{id}", h.updateBooking)
		r.Delete("/{id}", h.discardBooking)
		r.Get("/{id}/availability", h.bookingAvailability)
		r.Post("/{id}/next", h.nextBookingStep)
		r.Post("/{id}/back", h.previousBookingStep)
		r.Post("/{id}/commit", h.commitBooking)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireRole())
		r.Get("/appointments/{id}", h.getAppointment)
		r.Post("/appointments/{id}/cancel", h.cancelAppointment)
		r.Get("/dashboard", h.dashboard)
	})
	r.With(auth.RequireRole(auth.RolePatient)).Post("/appointments", h.createAppointment)
	r.With(auth.RequireRole(auth.RoleDoctor)).Post("/appointments/{id}/complete", h.completeAppointment)
	r.With(auth.RequireRole(auth.RoleAdmin)).Get("/admin/appointments", h.listAllAppointments)

	return r
}
