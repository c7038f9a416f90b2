package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the verification module.
type Metrics struct {
	// Lifecycle transitions by target status
	Transitions *prometheus.CounterVec

	// Analysis call latency by check (document, face)
	AnalysisLatency *prometheus.HistogramVec

	// Analysis degradations to manual review
	AnalysisDegraded prometheus.Counter

	// Review decisions by outcome
	Decisions *prometheus.CounterVec

	// Claim contention: acquisitions vs already-claimed rejections
	ClaimOutcome *prometheus.CounterVec

	// Trust score values at the time a request reaches a terminal status
	TrustScoreFinal prometheus.Histogram

	// Access gate verdicts by capability and result
	GateVerdicts *prometheus.CounterVec
}

// New creates a Metrics instance with all verification metrics registered.
func New() *Metrics {
	return &Metrics{
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "trustgate_verification_transitions_total",
			Help: "Total verification request transitions by target status",
		}, []string{"to"}),

		AnalysisLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trustgate_analysis_duration_seconds",
			Help:    "Duration of document analysis calls by check",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"check"}), // check: "document", "face"

		AnalysisDegraded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "trustgate_analysis_degraded_total",
			Help: "Total submissions degraded to manual review after analysis failure",
		}),

		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "trustgate_review_decisions_total",
			Help: "Total review decisions by outcome",
		}, []string{"outcome"}), // outcome: "approved", "rejected"

		ClaimOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "trustgate_claim_outcomes_total",
			Help: "Total claim attempts by outcome",
		}, []string{"outcome"}), // outcome: "acquired", "contended", "released", "expired"

		TrustScoreFinal: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "trustgate_trust_score_final",
			Help:    "Trust score at the time a request reaches a terminal status",
			Buckets: []float64{30, 40, 50, 60, 70, 80, 90, 100},
		}),

		GateVerdicts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "trustgate_gate_verdicts_total",
			Help: "Total access gate verdicts by capability and result",
		}, []string{"capability", "result"}), // result: "allow", "deny"
	}
}

// IncTransition records a lifecycle transition.
func (m *Metrics) IncTransition(to string) {
	if m != nil {
		m.Transitions.WithLabelValues(to).Inc()
	}
}

// ObserveAnalysis records the duration of one analysis call.
func (m *Metrics) ObserveAnalysis(check string, d time.Duration) {
	if m != nil {
		m.AnalysisLatency.WithLabelValues(check).Observe(d.Seconds())
	}
}

// IncDegraded records a degradation to manual review.
func (m *Metrics) IncDegraded() {
	if m != nil {
		m.AnalysisDegraded.Inc()
	}
}

// IncDecision records a review decision.
func (m *Metrics) IncDecision(outcome string) {
	if m != nil {
		m.Decisions.WithLabelValues(outcome).Inc()
	}
}

// IncClaim records a claim attempt outcome.
func (m *Metrics) IncClaim(outcome string) {
	if m != nil {
		m.ClaimOutcome.WithLabelValues(outcome).Inc()
	}
}

// ObserveFinalScore records the trust score of a finalized request.
func (m *Metrics) ObserveFinalScore(score int) {
	if m != nil {
		m.TrustScoreFinal.Observe(float64(score))
	}
}

// IncGateVerdict records an access gate verdict.
func (m *Metrics) IncGateVerdict(capability, result string) {
	if m != nil {
		m.GateVerdicts.WithLabelValues(capability, result).Inc()
	}
}
