package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fundledger"

var (
	// Registry 应用自身的 Prometheus 指标
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)

	donations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "donations_total",
			Help:      "Donation attempts by outcome code.",
		},
		[]string{"code"},
	)

	confirmations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "confirmations_total",
			Help:      "Pledge confirmations by outcome code and source.",
		},
		[]string{"source", "code"},
	)

	releases = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "pledges_released_total",
			Help:      "Pledges released back to the goal capacity.",
		},
		[]string{"reason"},
	)

	chainCalls = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "call_duration_seconds",
			Help:      "Duration of external ledger calls.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"operation", "success"},
	)

	auditDrift = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "drift_wei",
			Help:      "Difference between on-chain raised funds and settled ledger total.",
		},
		[]string{"project_id"},
	)

	jobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "job_runs_total",
			Help:      "Total number of scheduled job runs.",
		},
		[]string{"job", "success"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		donations,
		confirmations,
		releases,
		chainCalls,
		auditDrift,
		jobRuns,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler 暴露 /metrics
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func IncInFlight() { httpInFlight.Inc() }
func DecInFlight() { httpInFlight.Dec() }

// RecordHTTPRequest 记录一次 HTTP 请求
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequests.WithLabelValues(method, path, status).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordDonation code 为空表示成功
func RecordDonation(code string) {
	if code == "" {
		code = "OK"
	}
	donations.WithLabelValues(code).Inc()
}

// RecordConfirmation source: api 或 monitor
func RecordConfirmation(source, code string) {
	if code == "" {
		code = "OK"
	}
	confirmations.WithLabelValues(source, code).Inc()
}

// RecordRelease reason: expired 或 cancelled
func RecordRelease(reason string) {
	releases.WithLabelValues(reason).Inc()
}

// ObserveChainCall 记录一次链上调用
func ObserveChainCall(operation string, start time.Time, err error) {
	chainCalls.WithLabelValues(operation, boolLabel(err == nil)).Observe(time.Since(start).Seconds())
}

// SetAuditDrift 记录对账差额
func SetAuditDrift(projectId string, driftWei float64) {
	auditDrift.WithLabelValues(projectId).Set(driftWei)
}

// RecordJobRun 记录一次定时任务执行
func RecordJobRun(job string, success bool) {
	jobRuns.WithLabelValues(job, boolLabel(success)).Inc()
}

func boolLabel(ok bool) string {
	if ok {
		return "true"
	}
	return "false"
}
