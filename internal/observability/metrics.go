package observability

import (
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yungbote/neurobridge-lifecycle/internal/platform/logger"
)

// Metrics is nil when METRICS_ENABLED is off; every method is nil-safe.
type Metrics struct {
	registry *prometheus.Registry

	apiRequests *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec
	apiInflight prometheus.Gauge

	tasksEnqueued *prometheus.CounterVec
	taskRuns      *prometheus.CounterVec
	taskLatency   *prometheus.HistogramVec
	taskRetries   *prometheus.CounterVec
	tasksFailed   *prometheus.CounterVec
	tasksDemoted  prometheus.Counter

	lookaheadEvals   *prometheus.CounterVec
	lookaheadWaiting prometheus.Counter

	cascadeSteps   *prometheus.CounterVec
	cascadeDeleted *prometheus.CounterVec
	orphanNotices  *prometheus.CounterVec

	synthRequests *prometheus.CounterVec
	synthLatency  *prometheus.HistogramVec

	// running totals read by the SLO evaluator
	slo           sloCounters
	sloCompliance *prometheus.GaugeVec
	sloBudget     *prometheus.GaugeVec
	sloBurn       *prometheus.GaugeVec
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	v := strings.TrimSpace(os.Getenv("METRICS_ENABLED"))
	if v == "" {
		return false
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

func Current() *Metrics {
	return instance
}

func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		instance = newMetrics(prometheus.NewRegistry())
		if log != nil {
			log.Info("metrics initialized")
		}
	})
	return instance
}

func newMetrics(reg *prometheus.Registry) *Metrics {
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,

		apiRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lc_api_requests_total",
			Help: "Total internal API requests by method/route/status.",
		}, []string{"method", "route", "status"}),
		apiLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lc_api_request_duration_seconds",
			Help:    "Internal API latency in seconds by method/route/status.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"method", "route", "status"}),
		apiInflight: f.NewGauge(prometheus.GaugeOpts{
			Name: "lc_api_inflight_requests",
			Help: "In-flight internal API requests.",
		}),

		tasksEnqueued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lc_generation_tasks_enqueued_total",
			Help: "Generation tasks enqueued by kind/priority band/result.",
		}, []string{"kind", "band", "result"}),
		taskRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lc_generation_task_runs_total",
			Help: "Generation task executions by kind/status.",
		}, []string{"kind", "status"}),
		taskLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lc_generation_task_duration_seconds",
			Help:    "Generation task execution time by kind/status.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"kind", "status"}),
		taskRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lc_generation_task_retries_total",
			Help: "Generation tasks re-queued after a retryable failure.",
		}, []string{"kind"}),
		tasksFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lc_generation_tasks_failed_total",
			Help: "Generation tasks that reached the terminal failed state.",
		}, []string{"kind", "reason"}),
		tasksDemoted: f.NewCounter(prometheus.CounterOpts{
			Name: "lc_generation_tasks_demoted_total",
			Help: "Queued tasks demoted for learner inactivity.",
		}),

		lookaheadEvals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lc_lookahead_evaluations_total",
			Help: "Lookahead evaluations by resulting state.",
		}, []string{"state"}),
		lookaheadWaiting: f.NewCounter(prometheus.CounterOpts{
			Name: "lc_lookahead_waiting_for_author_total",
			Help: "Evaluations that ended waiting for authored content.",
		}),

		cascadeSteps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lc_cascade_steps_total",
			Help: "Cascade deletion steps by collection/status.",
		}, []string{"collection", "status"}),
		cascadeDeleted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lc_cascade_records_deleted_total",
			Help: "Records removed by cascade deletion per collection.",
		}, []string{"collection"}),
		orphanNotices: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lc_cascade_empty_collections_total",
			Help: "Collections with no dependents found while planning a cascade.",
		}, []string{"collection"}),

		synthRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lc_synth_requests_total",
			Help: "Content personalization calls by provider/status.",
		}, []string{"provider", "status"}),
		synthLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lc_synth_request_duration_seconds",
			Help:    "Content personalization latency by provider.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"provider"}),

		sloCompliance: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lc_slo_compliance",
			Help: "Share of good events over the SLO window.",
		}, []string{"slo", "window"}),
		sloBudget: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lc_slo_error_budget_remaining",
			Help: "Remaining error budget over the SLO window (0-1).",
		}, []string{"slo", "window"}),
		sloBurn: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lc_slo_burn_rate",
			Help: "Error budget burn rate over the SLO window.",
		}, []string{"slo", "window"}),
	}
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	if status == "" {
		status = "0"
	}
	m.apiRequests.WithLabelValues(method, route, status).Inc()
	m.apiLatency.WithLabelValues(method, route, status).Observe(dur.Seconds())
	m.slo.apiTotal.Add(1)
	if strings.HasPrefix(status, "5") {
		m.slo.apiError.Add(1)
	}
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

func (m *Metrics) IncTaskEnqueued(kind string, priority int, created bool) {
	if m == nil {
		return
	}
	result := "created"
	if !created {
		result = "existing"
	}
	m.tasksEnqueued.WithLabelValues(kind, priorityBand(priority), result).Inc()
}

func (m *Metrics) ObserveTask(kind, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.taskRuns.WithLabelValues(kind, status).Inc()
	m.taskLatency.WithLabelValues(kind, status).Observe(dur.Seconds())
	m.slo.taskTotal.Add(1)
	if status == "failed" {
		m.slo.taskError.Add(1)
	}
}

func (m *Metrics) IncTaskRetry(kind string) {
	if m == nil {
		return
	}
	m.taskRetries.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncTaskFailed(kind, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.tasksFailed.WithLabelValues(kind, reason).Inc()
}

func (m *Metrics) AddTasksDemoted(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.tasksDemoted.Add(float64(n))
}

func (m *Metrics) ObserveLookahead(state string, waitingForAuthor bool) {
	if m == nil {
		return
	}
	m.lookaheadEvals.WithLabelValues(state).Inc()
	if waitingForAuthor {
		m.lookaheadWaiting.Inc()
	}
}

func (m *Metrics) ObserveCascadeStep(collection, status string, deleted int64) {
	if m == nil {
		return
	}
	m.cascadeSteps.WithLabelValues(collection, status).Inc()
	m.slo.cascadeTotal.Add(1)
	if status == "failed" {
		m.slo.cascadeError.Add(1)
	}
	if deleted > 0 {
		m.cascadeDeleted.WithLabelValues(collection).Add(float64(deleted))
	}
}

func (m *Metrics) IncEmptyCollection(collection string) {
	if m == nil {
		return
	}
	m.orphanNotices.WithLabelValues(collection).Inc()
}

func (m *Metrics) ObserveSynth(provider, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.synthRequests.WithLabelValues(provider, status).Inc()
	m.synthLatency.WithLabelValues(provider).Observe(dur.Seconds())
}

func priorityBand(p int) string {
	switch {
	case p >= 100:
		return "immediate"
	case p >= 50:
		return "background"
	default:
		return "low"
	}
}
