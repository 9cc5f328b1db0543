package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "proofmind"

// Metrics provides observability for the certificate workflow.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	CertificatesSubmitted prometheus.Counter
	CertificatesUpdated   prometheus.Counter
	CertificatesVerified  *prometheus.CounterVec
	Rejections            *prometheus.CounterVec
	OperationDuration     *prometheus.HistogramVec
}

// New creates the workflow metrics and registers them on the registerer.
// A nil registerer creates unregistered collectors.
func New(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		CertificatesSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "certificates_submitted_total",
			Help:      "Total number of certificates created",
		}),
		CertificatesUpdated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "certificates_updated_total",
			Help:      "Total number of owner edits applied to certificates",
		}),
		CertificatesVerified: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "certificates_verified_total",
			Help:      "Total number of verifier verdicts recorded, by status",
		}, []string{"status"}),
		Rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_rejections_total",
			Help:      "Requests rejected by business rules, by operation and reason",
		}, []string{"operation", "reason"}),
		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of mutating certificate operations",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
	}
}

// IncrementSubmitted records a successful submission.
func (m *Metrics) IncrementSubmitted() {
	if m == nil {
		return
	}
	m.CertificatesSubmitted.Inc()
}

// IncrementUpdated records a successful owner edit.
func (m *Metrics) IncrementUpdated() {
	if m == nil {
		return
	}
	m.CertificatesUpdated.Inc()
}

// IncrementVerified records a verdict with the given status.
func (m *Metrics) IncrementVerified(status string) {
	if m == nil {
		return
	}
	m.CertificatesVerified.WithLabelValues(status).Inc()
}

// IncrementRejection records a business-rule rejection.
func (m *Metrics) IncrementRejection(operation, reason string) {
	if m == nil {
		return
	}
	m.Rejections.WithLabelValues(operation, reason).Inc()
}

// ObserveOperation records the duration of an operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveOperation(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
