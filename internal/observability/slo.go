package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yungbote/neurobridge-lifecycle/internal/platform/envutil"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/logger"
)

const (
	SLOAPIAvailability   = "api_availability"
	SLOGenerationSuccess = "generation_success"
	SLOCascadeSuccess    = "cascade_success"
)

type sloCounters struct {
	apiTotal     atomic.Uint64
	apiError     atomic.Uint64
	taskTotal    atomic.Uint64
	taskError    atomic.Uint64
	cascadeTotal atomic.Uint64
	cascadeError atomic.Uint64
}

type rollingSum struct {
	values []float64
	idx    int
	total  float64
}

func newRollingSum(size int) *rollingSum {
	if size < 1 {
		size = 1
	}
	return &rollingSum{values: make([]float64, size)}
}

func (r *rollingSum) add(v float64) {
	r.total += v - r.values[r.idx]
	r.values[r.idx] = v
	r.idx++
	if r.idx >= len(r.values) {
		r.idx = 0
	}
}

// sloSeries tracks one good/bad ratio over the rolling window.
type sloSeries struct {
	name      string
	target    float64
	total     *rollingSum
	bad       *rollingSum
	prevTotal uint64
	prevBad   uint64
}

func (s *sloSeries) advance(total, bad uint64) {
	s.total.add(delta(total, s.prevTotal))
	s.bad.add(delta(bad, s.prevBad))
	s.prevTotal = total
	s.prevBad = bad
}

type SLOEvaluator struct {
	metrics *Metrics
	log     *logger.Logger

	interval    time.Duration
	windowLabel string

	api     *sloSeries
	tasks   *sloSeries
	cascade *sloSeries

	alertWebhook     string
	alertOwner       string
	alertRunbook     string
	alertMinInterval time.Duration
	alertBurnWarn    float64
	alertBurnCrit    float64
	client           *http.Client

	alertMu    sync.Mutex
	lastAlerts map[string]time.Time
}

// StartSLOEvaluator evaluates the lifecycle SLOs every SLO_EVAL_INTERVAL_SECONDS
// until ctx is done. It does nothing unless SLO_ENABLED is set.
func (m *Metrics) StartSLOEvaluator(ctx context.Context, log *logger.Logger) {
	if m == nil || !envutil.Bool("SLO_ENABLED", false) {
		return
	}
	eval := newSLOEvaluator(m, log)
	go eval.run(ctx)
	if log != nil {
		log.Info("SLO evaluator started", "window", eval.windowLabel, "interval", eval.interval.String())
	}
}

func newSLOEvaluator(m *Metrics, log *logger.Logger) *SLOEvaluator {
	interval := envutil.Seconds("SLO_EVAL_INTERVAL_SECONDS", 60*time.Second)
	if interval <= 0 {
		interval = time.Minute
	}
	windowHours := envutil.Float("SLO_WINDOW_HOURS", 24)
	if windowHours < 1 {
		windowHours = 24
	}
	window := time.Duration(windowHours * float64(time.Hour))
	size := int(window / interval)
	series := func(name string, target float64) *sloSeries {
		return &sloSeries{name: name, target: clamp01(target), total: newRollingSum(size), bad: newRollingSum(size)}
	}
	return &SLOEvaluator{
		metrics:          m,
		log:              log,
		interval:         interval,
		windowLabel:      formatWindowLabel(window),
		api:              series(SLOAPIAvailability, envutil.Float("SLO_API_AVAIL_TARGET", 0.995)),
		tasks:            series(SLOGenerationSuccess, envutil.Float("SLO_GENERATION_SUCCESS_TARGET", 0.98)),
		cascade:          series(SLOCascadeSuccess, envutil.Float("SLO_CASCADE_SUCCESS_TARGET", 0.999)),
		alertWebhook:     envutil.String("SLO_ALERT_WEBHOOK_URL", ""),
		alertOwner:       envutil.String("SLO_ALERT_OWNER", ""),
		alertRunbook:     envutil.String("SLO_ALERT_RUNBOOK_URL", ""),
		alertMinInterval: envutil.Seconds("SLO_ALERT_MIN_INTERVAL_SECONDS", 15*time.Minute),
		alertBurnWarn:    envutil.Float("SLO_ALERT_BURN_RATE_WARN", 2),
		alertBurnCrit:    envutil.Float("SLO_ALERT_BURN_RATE_CRIT", 10),
		client:           &http.Client{Timeout: 5 * time.Second},
		lastAlerts:       map[string]time.Time{},
	}
}

func (e *SLOEvaluator) run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.evaluate()
		}
	}
}

func (e *SLOEvaluator) evaluate() {
	if e.metrics == nil {
		return
	}
	c := &e.metrics.slo
	e.api.advance(c.apiTotal.Load(), c.apiError.Load())
	e.tasks.advance(c.taskTotal.Load(), c.taskError.Load())
	e.cascade.advance(c.cascadeTotal.Load(), c.cascadeError.Load())

	for _, s := range []*sloSeries{e.api, e.tasks, e.cascade} {
		e.evalSLO(s.name, s.total.total, s.bad.total, s.target)
	}
}

func (e *SLOEvaluator) evalSLO(name string, total float64, bad float64, target float64) {
	compliance := e.metrics.sloCompliance.WithLabelValues(name, e.windowLabel)
	budgetGauge := e.metrics.sloBudget.WithLabelValues(name, e.windowLabel)
	burnGauge := e.metrics.sloBurn.WithLabelValues(name, e.windowLabel)
	if total <= 0 {
		compliance.Set(1)
		budgetGauge.Set(1)
		burnGauge.Set(0)
		return
	}
	sli := clamp01(1 - bad/total)
	burn := 0.0
	if target < 1 {
		burn = (1 - sli) / (1 - target)
	}
	budget := clamp01(1 - burn)
	compliance.Set(sli)
	budgetGauge.Set(budget)
	burnGauge.Set(burn)

	if e.alertWebhook == "" || e.alertOwner == "" {
		return
	}
	severity := ""
	if burn >= e.alertBurnCrit {
		severity = "critical"
	} else if burn >= e.alertBurnWarn {
		severity = "warning"
	}
	if severity == "" {
		return
	}
	key := name + ":" + severity
	e.alertMu.Lock()
	last := e.lastAlerts[key]
	if !last.IsZero() && time.Since(last) < e.alertMinInterval {
		e.alertMu.Unlock()
		return
	}
	e.lastAlerts[key] = time.Now()
	e.alertMu.Unlock()
	e.sendAlert(name, severity, sli, target, burn, budget)
}

func (e *SLOEvaluator) sendAlert(name, severity string, sli, target, burn, budget float64) {
	payload := map[string]any{
		"title":                  "SLO burn rate alert",
		"severity":               severity,
		"owner":                  e.alertOwner,
		"slo":                    name,
		"window":                 e.windowLabel,
		"sli":                    sli,
		"target":                 target,
		"burn_rate":              burn,
		"error_budget_remaining": budget,
		"runbook":                e.alertRunbook,
		"timestamp":              time.Now().UTC().Format(time.RFC3339),
	}
	body, _ := json.Marshal(payload)
	req, err := http.NewRequest(http.MethodPost, e.alertWebhook, bytes.NewReader(body))
	if err != nil {
		if e.log != nil {
			e.log.Warn("slo alert request build failed", "error", err, "slo", name)
		}
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.client.Do(req)
	if err != nil {
		if e.log != nil {
			e.log.Warn("slo alert post failed", "error", err, "slo", name)
		}
		return
	}
	_ = resp.Body.Close()
	if e.log != nil {
		e.log.Info("slo alert sent", "slo", name, "severity", severity, "status", resp.StatusCode)
	}
}

// delta tolerates counter resets.
func delta(current, prev uint64) float64 {
	if current < prev {
		return float64(current)
	}
	return float64(current - prev)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func formatWindowLabel(window time.Duration) string {
	hours := window.Hours()
	if hours >= 24 && int(hours)%24 == 0 && hours == float64(int(hours)) {
		return strconv.Itoa(int(hours/24)) + "d"
	}
	if hours >= 1 {
		return strconv.Itoa(int(hours)) + "h"
	}
	return strconv.Itoa(int(window.Minutes())) + "m"
}
