package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Verifications     *prometheus.CounterVec
	VerifyDuration    prometheus.Histogram
	Publications      *prometheus.CounterVec
	Evaluations       *prometheus.CounterVec
	IssuanceJobs      *prometheus.CounterVec
	ApprovalDecisions *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		Verifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "emblem_verifications_total",
			Help: "Credential verifications by merged lifecycle state",
		}, []string{"state"}),
		VerifyDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "emblem_verify_duration_seconds",
			Help:    "Duration of credential verification (read critical path)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		Publications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "emblem_status_list_publications_total",
			Help: "Status list publications by outcome",
		}, []string{"outcome"}),
		Evaluations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "emblem_rule_evaluations_total",
			Help: "Rule evaluations by issuance status",
		}, []string{"issuance_status"}),
		IssuanceJobs: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "emblem_issuance_jobs_total",
			Help: "Queued issuance jobs by processing result",
		}, []string{"result"}),
		ApprovalDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "emblem_approval_decisions_total",
			Help: "Approval workflow decisions by outcome",
		}, []string{"decision"}),
	}
}

func (m *Metrics) ObserveVerify(start time.Time, state string) {
	m.VerifyDuration.Observe(time.Since(start).Seconds())
	m.Verifications.WithLabelValues(state).Inc()
}
