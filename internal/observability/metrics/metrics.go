package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const (
	metricPrefix = "ledger_"

	resultSuccess = "success"
	resultError   = "error"
	resultNoop    = "noop"
)

var (
	registerOnce sync.Once

	cycleTransitionTotal   *prometheus.CounterVec
	cycleTransitionLatency *prometheus.HistogramVec

	summaryTotal   *prometheus.CounterVec
	summaryLatency *prometheus.HistogramVec

	settlementRecordTotal   *prometheus.CounterVec
	settlementRecordLatency *prometheus.HistogramVec

	degradedReadsTotal *prometheus.CounterVec

	reconcileTotal      *prometheus.CounterVec
	reconcileLatency    *prometheus.HistogramVec
	reconcileMismatches prometheus.Gauge

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec

	outboxDispatchTotal *prometheus.CounterVec
)

// Init registers ledger metrics and DB-backed gauges.
func Init(db *sql.DB, logger logrus.FieldLogger) {
	registerOnce.Do(func() {
		cycleTransitionTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "cycle_transition_total",
				Help: "Total cycle open/close/cancel operations by result",
			},
			[]string{"transition", "result"},
		)
		cycleTransitionLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "cycle_transition_latency_seconds",
				Help:    "Cycle transition latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"transition", "result"},
		)

		summaryTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "cycle_summary_total",
				Help: "Total cycle summaries by source and result",
			},
			[]string{"source", "result"},
		)
		summaryLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "cycle_summary_latency_seconds",
				Help:    "Cycle summary latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source", "result"},
		)

		settlementRecordTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "settlement_record_total",
				Help: "Total recorded settlements by kind and result",
			},
			[]string{"kind", "result"},
		)
		settlementRecordLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "settlement_record_latency_seconds",
				Help:    "Settlement record latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind", "result"},
		)

		degradedReadsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "degraded_reads_total",
				Help: "Dashboard reads that fell back to zero values",
			},
			[]string{"operation"},
		)

		reconcileTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "debt_reconcile_total",
				Help: "Total debt reconciliation runs by result",
			},
			[]string{"result"},
		)
		reconcileLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "debt_reconcile_latency_seconds",
				Help:    "Debt reconciliation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		reconcileMismatches = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "debt_reconcile_mismatches",
				Help: "Clients whose cached debt differed from the replay in the last run",
			},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "cycle_export_total",
				Help: "Total cycle export operations by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "cycle_export_latency_seconds",
				Help:    "Cycle export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		outboxDispatchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "outbox_dispatch_total",
				Help: "Outbox deliveries by result",
			},
			[]string{"result"},
		)

		prometheus.MustRegister(
			cycleTransitionTotal,
			cycleTransitionLatency,
			summaryTotal,
			summaryLatency,
			settlementRecordTotal,
			settlementRecordLatency,
			degradedReadsTotal,
			reconcileTotal,
			reconcileLatency,
			reconcileMismatches,
			exportTotal,
			exportLatency,
			outboxDispatchTotal,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveCycleTransition records an open, close or cancel.
func ObserveCycleTransition(transition, result string, duration time.Duration) {
	if transition == "" {
		transition = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if cycleTransitionTotal != nil {
		cycleTransitionTotal.WithLabelValues(transition, result).Inc()
	}
	if cycleTransitionLatency != nil {
		cycleTransitionLatency.WithLabelValues(transition, result).Observe(duration.Seconds())
	}
}

// ObserveSummary records a summary computation; source is live or frozen.
func ObserveSummary(source, result string, duration time.Duration) {
	if source == "" {
		source = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if summaryTotal != nil {
		summaryTotal.WithLabelValues(source, result).Inc()
	}
	if summaryLatency != nil {
		summaryLatency.WithLabelValues(source, result).Observe(duration.Seconds())
	}
}

// ObserveSettlementRecord records a settlement or correction insert.
func ObserveSettlementRecord(kind, result string, duration time.Duration) {
	if kind == "" {
		kind = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if settlementRecordTotal != nil {
		settlementRecordTotal.WithLabelValues(kind, result).Inc()
	}
	if settlementRecordLatency != nil {
		settlementRecordLatency.WithLabelValues(kind, result).Observe(duration.Seconds())
	}
}

// IncDegradedRead counts a read coerced to a zero value.
func IncDegradedRead(operation string) {
	if operation == "" {
		operation = "unknown"
	}
	if degradedReadsTotal != nil {
		degradedReadsTotal.WithLabelValues(operation).Inc()
	}
}

// ObserveReconcile records a reconciliation run and its mismatch count.
func ObserveReconcile(result string, mismatches int, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if reconcileTotal != nil {
		reconcileTotal.WithLabelValues(result).Inc()
	}
	if reconcileLatency != nil {
		reconcileLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
	if reconcileMismatches != nil && result == resultSuccess {
		reconcileMismatches.Set(float64(mismatches))
	}
}

// ObserveExport records export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// IncOutboxDispatch counts an outbox delivery attempt.
func IncOutboxDispatch(result string) {
	if result == "" {
		result = resultSuccess
	}
	if outboxDispatchTotal != nil {
		outboxDispatchTotal.WithLabelValues(result).Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
	ResultNoop    = resultNoop

	TransitionOpen   = "open"
	TransitionClose  = "close"
	TransitionCancel = "cancel"

	SourceLive   = "live"
	SourceFrozen = "frozen"

	KindSettlement = "settlement"
	KindCorrection = "correction"
)
