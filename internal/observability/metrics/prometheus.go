// Package metrics provides Prometheus metrics for the prescription service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	PrescriptionsCreated  prometheus.Counter
	PrescriptionsFilled   prometheus.Counter
	PrescriptionsFailed   prometheus.Counter
	FillsRejected         prometheus.Counter
	ProcessingDuration    prometheus.Histogram
	KafkaMessagesProduced prometheus.Counter
	OutboxPending         prometheus.Gauge
	CircuitBreakerState   *prometheus.GaugeVec
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		PrescriptionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prescriptions_created_total",
			Help: "Total prescriptions created",
		}),
		PrescriptionsFilled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prescriptions_filled_total",
			Help: "Total prescriptions filled",
		}),
		PrescriptionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prescriptions_failed_total",
			Help: "Total prescription operations that returned an error",
		}),
		FillsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prescription_fills_rejected_total",
			Help: "Fill attempts rejected by the fill policy",
		}),
		ProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "prescription_processing_duration_seconds",
			Help:    "Prescription operation duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		KafkaMessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_produced_total",
			Help: "Total Kafka messages produced",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	prometheus.MustRegister(
		m.PrescriptionsCreated,
		m.PrescriptionsFilled,
		m.PrescriptionsFailed,
		m.FillsRejected,
		m.ProcessingDuration,
		m.KafkaMessagesProduced,
		m.OutboxPending,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
