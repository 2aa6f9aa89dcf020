package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var HistogramBuckets = []float64{
	// --- Fast responses (0 - 500ms) ---
	25, 50, 75, 100, 150, 200, 300, 400, 500,

	// --- Medium responses around 700ms (500ms - 2s) ---
	750, 1000, 1250, 1500, 1750, 2000,

	// --- Slow responses (2s - 15s) ---
	2500, 3000, 4000, 5000, 7500, 10000, 15000,

	// --- Extended range: covers 60000ms+ (15s - 75s) ---
	20000,  // 20s
	30000,  // 30s
	45000,  // 45s
	60000,  // 60s
	75000,  // 75s
	90000,  // 90s
	120000, // 120s
}

// Metric is a definition for the name, description, type, ID, and
// prometheus.Collector type (i.e. CounterVec, Summary, etc) of each metric
type Metric struct {
	MetricCollector prometheus.Collector
	ID              string
	Name            string
	Description     string
	Type            string
	Args            []string
}

// NewMetric associates prometheus.Collector based on Metric.Type
func NewMetric(m *Metric, subsystem string) prometheus.Collector {
	var metric prometheus.Collector
	switch m.Type {
	case "counter_vec":
		metric = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Subsystem: subsystem,
				Name:      m.Name,
				Help:      m.Description,
			},
			m.Args,
		)
	case "counter":
		metric = prometheus.NewCounter(
			prometheus.CounterOpts{
				Subsystem: subsystem,
				Name:      m.Name,
				Help:      m.Description,
			},
		)
	case "gauge_vec":
		metric = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Subsystem: subsystem,
				Name:      m.Name,
				Help:      m.Description,
			},
			m.Args,
		)
	case "gauge":
		metric = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Subsystem: subsystem,
				Name:      m.Name,
				Help:      m.Description,
			},
		)
	case "histogram_vec":
		metric = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Subsystem: subsystem,
				Name:      m.Name,
				Help:      m.Description,
				Buckets:   HistogramBuckets,
			},
			m.Args,
		)
	case "histogram":
		metric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Subsystem: subsystem,
				Name:      m.Name,
				Help:      m.Description,
				Buckets:   HistogramBuckets,
			},
		)
	case "summary_vec":
		metric = prometheus.NewSummaryVec(
			prometheus.SummaryOpts{
				Subsystem: subsystem,
				Name:      m.Name,
				Help:      m.Description,
			},
			m.Args,
		)
	case "summary":
		metric = prometheus.NewSummary(
			prometheus.SummaryOpts{
				Subsystem: subsystem,
				Name:      m.Name,
				Help:      m.Description,
			},
		)
	}
	return metric
}

var MetricsBusinessProcess = &Metric{
	ID:          "bpDur",
	Name:        "bp_dur",
	Description: "process latency in milliseconds",
	Type:        "histogram_vec",
	Args:        []string{"type", "subtype"},
}

var metricsWebhookEvents = &Metric{
	ID:          "webhookEvents",
	Name:        "webhook_events_total",
	Description: "Gateway webhook deliveries, partitioned by event type and outcome.",
	Type:        "counter_vec",
	Args:        []string{"type", "outcome"},
}

var metricsGatewayCalls = &Metric{
	ID:          "gatewayCalls",
	Name:        "gateway_calls_total",
	Description: "Payment gateway API calls, partitioned by operation and outcome.",
	Type:        "counter_vec",
	Args:        []string{"op", "outcome"},
}

var metricsReconcileRuns = &Metric{
	ID:          "reconcileRuns",
	Name:        "reconcile_runs_total",
	Description: "Reconciliation sweeps, partitioned by outcome (completed, skipped, failed).",
	Type:        "counter_vec",
	Args:        []string{"outcome"},
}

var metricsReconcileMismatches = &Metric{
	ID:          "reconcileMismatches",
	Name:        "reconcile_mismatches",
	Description: "Status mismatches found by the most recent completed sweep.",
	Type:        "gauge",
}

var metricsRateLimited = &Metric{
	ID:          "rateLimited",
	Name:        "rate_limited_total",
	Description: "Requests rejected by the rate limiter, partitioned by endpoint group.",
	Type:        "counter_vec",
	Args:        []string{"group"},
}

var billingMetrics = []*Metric{
	MetricsBusinessProcess,
	metricsWebhookEvents,
	metricsGatewayCalls,
	metricsReconcileRuns,
	metricsReconcileMismatches,
	metricsRateLimited,
}

// Billing holds the domain collectors. A nil *Billing is valid and records nothing.
type Billing struct {
	bpDur               *prometheus.HistogramVec
	webhookEvents       *prometheus.CounterVec
	gatewayCalls        *prometheus.CounterVec
	reconcileRuns       *prometheus.CounterVec
	reconcileMismatches prometheus.Gauge
	rateLimited         *prometheus.CounterVec
}

// NewBilling registers the domain collectors on reg under subsystem.
func NewBilling(reg prometheus.Registerer, subsystem string) (*Billing, error) {
	collectors := make(map[*Metric]prometheus.Collector, len(billingMetrics))
	for _, def := range billingMetrics {
		c := NewMetric(def, subsystem)
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric %s: %w", def.Name, err)
		}
		collectors[def] = c
	}
	return &Billing{
		bpDur:               collectors[MetricsBusinessProcess].(*prometheus.HistogramVec),
		webhookEvents:       collectors[metricsWebhookEvents].(*prometheus.CounterVec),
		gatewayCalls:        collectors[metricsGatewayCalls].(*prometheus.CounterVec),
		reconcileRuns:       collectors[metricsReconcileRuns].(*prometheus.CounterVec),
		reconcileMismatches: collectors[metricsReconcileMismatches].(prometheus.Gauge),
		rateLimited:         collectors[metricsRateLimited].(*prometheus.CounterVec),
	}, nil
}

func (b *Billing) ObserveProcess(typ, subtype string, start time.Time) {
	if b == nil {
		return
	}
	b.bpDur.WithLabelValues(typ, subtype).Observe(MillisecondsSince(start))
}

func (b *Billing) WebhookEvent(eventType, outcome string) {
	if b == nil {
		return
	}
	b.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

func (b *Billing) GatewayCall(op string, err error) {
	if b == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	b.gatewayCalls.WithLabelValues(op, outcome).Inc()
}

func (b *Billing) ReconcileRun(outcome string, mismatches int) {
	if b == nil {
		return
	}
	b.reconcileRuns.WithLabelValues(outcome).Inc()
	if outcome == "completed" {
		b.reconcileMismatches.Set(float64(mismatches))
	}
}

func (b *Billing) RateLimited(group string) {
	if b == nil {
		return
	}
	b.rateLimited.WithLabelValues(group).Inc()
}

// MillisecondsSince returns the elapsed time since start in milliseconds.
func MillisecondsSince(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}
