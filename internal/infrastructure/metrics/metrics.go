package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Resultados de un envío al SII.
const (
	OutcomeSent     = "sent"
	OutcomeRejected = "rejected"
	OutcomeFaulted  = "faulted"
	OutcomeInvalid  = "invalid"
)

// Resultados de una comprobación de NIF.
const (
	OutcomeRecognized    = "recognized"
	OutcomeNotRecognized = "not_recognized"
)

// Metrics métricas del envío de facturas y de la validación de identificadores.
// Todos los métodos aceptan un receptor nil.
type Metrics struct {
	Submissions        *prometheus.CounterVec
	SubmissionDuration *prometheus.HistogramVec
	Violations         *prometheus.CounterVec
	IdentifierChecks   *prometheus.CounterVec
	IdentifierCalls    *prometheus.CounterVec
}

// New registra las métricas en reg. Con reg nil se usa el registro por defecto.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Submissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sii_submissions_total",
			Help: "Intentos de envío al SII por dirección y resultado",
		}, []string{"direction", "outcome"}),
		SubmissionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sii_submission_duration_seconds",
			Help:    "Duración de la llamada remota de suministro",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"direction"}),
		Violations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sii_validation_violations_total",
			Help: "Violaciones de validación local por código de regla",
		}, []string{"rule"}),
		IdentifierChecks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sii_identifier_checks_total",
			Help: "Identificadores comprobados por resultado",
		}, []string{"outcome"}),
		IdentifierCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sii_identifier_calls_total",
			Help: "Llamadas remotas de validación de NIF por modo",
		}, []string{"mode"}),
	}
}

// ObserveSubmission registra un envío. Llamar con time.Now() del inicio de la llamada remota.
func (m *Metrics) ObserveSubmission(direction, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(direction, outcome).Inc()
	if !start.IsZero() {
		m.SubmissionDuration.WithLabelValues(direction).Observe(time.Since(start).Seconds())
	}
}

// IncrementViolation cuenta una violación de validación.
func (m *Metrics) IncrementViolation(rule string) {
	if m == nil {
		return
	}
	m.Violations.WithLabelValues(rule).Inc()
}

// IncrementIdentifierCall cuenta una llamada remota (single o bulk).
func (m *Metrics) IncrementIdentifierCall(mode string) {
	if m == nil {
		return
	}
	m.IdentifierCalls.WithLabelValues(mode).Inc()
}

// AddIdentifierChecks suma n identificadores comprobados con el resultado dado.
func (m *Metrics) AddIdentifierChecks(outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.IdentifierChecks.WithLabelValues(outcome).Add(float64(n))
}
