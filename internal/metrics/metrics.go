package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BookingMetrics exposes counters/histograms for the booking flow.
// A nil *BookingMetrics is valid and records nothing.
type BookingMetrics struct {
	bookingsTotal      *prometheus.CounterVec
	commitLatency      prometheus.Histogram
	availabilityTotal  *prometheus.CounterVec
	cancellationsTotal *prometheus.CounterVec
	deliveriesTotal    *prometheus.CounterVec
	workflowSteps      *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "panchakarma",
			Subsystem: "booking",
			Name:      "commits_total",
			Help:      "Booking commit attempts by outcome",
		}, []string{"outcome"}),
		commitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "panchakarma",
			Subsystem: "booking",
			Name:      "commit_latency_seconds",
			Help:      "Latency of booking commits including re-validation",
			Buckets:   prometheus.DefBuckets,
		}),
		availabilityTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "panchakarma",
			Subsystem: "booking",
			Name:      "availability_lookups_total",
			Help:      "Occupied-slot lookups by outcome",
		}, []string{"outcome"}),
		cancellationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "panchakarma",
			Subsystem: "booking",
			Name:      "cancellations_total",
			Help:      "Cancellation attempts by outcome",
		}, []string{"outcome"}),
		deliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "panchakarma",
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Confirmation deliveries by channel and status",
		}, []string{"channel", "status"}),
		workflowSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "panchakarma",
			Subsystem: "booking",
			Name:      "workflow_transitions_total",
			Help:      "Booking wizard transitions by target step",
		}, []string{"step"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.bookingsTotal,
		m.commitLatency,
		m.availabilityTotal,
		m.cancellationsTotal,
		m.deliveriesTotal,
		m.workflowSteps,
	)
	return m
}

func (m *BookingMetrics) ObserveCommit(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
	m.commitLatency.Observe(elapsed.Seconds())
}

func (m *BookingMetrics) ObserveAvailability(outcome string) {
	if m == nil {
		return
	}
	m.availabilityTotal.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveCancellation(outcome string) {
	if m == nil {
		return
	}
	m.cancellationsTotal.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveDelivery(channel, status string) {
	if m == nil {
		return
	}
	m.deliveriesTotal.WithLabelValues(channel, status).Inc()
}

func (m *BookingMetrics) ObserveTransition(step string) {
	if m == nil {
		return
	}
	m.workflowSteps.WithLabelValues(step).Inc()
}
