// Package metrics holds the Prometheus series exported on /metrics by both
// the supervisor and the worker processes:
//
//	harvest_trades_total{status,kind}         finished trades
//	harvest_trade_duration_seconds{status}    execution time of finished trades
//	harvest_queue_depth                       pending trades in this worker
//	harvest_provider_requests_total{endpoint,outcome}
//	harvest_provider_endpoint_disabled_total{endpoint}
//	harvest_credential_utilization{credential} requests_today / daily_limit
//	harvest_heartbeat_failures_total
//	harvest_worker_restarts_total{worker,reason}
//	harvest_workers_alive
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	trades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_trades_total",
			Help: "Finished trades by status and opportunity kind",
		},
		[]string{"status", "kind"},
	)

	tradeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvest_trade_duration_seconds",
			Help:    "Time from execution start to finish",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"status"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "harvest_queue_depth",
			Help: "Pending trades waiting for the consumer",
		},
	)

	providerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_provider_requests_total",
			Help: "Provider requests by endpoint or credential and outcome",
		},
		[]string{"endpoint", "outcome"},
	)

	endpointDisabled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_provider_endpoint_disabled_total",
			Help: "Times an endpoint or credential was taken out of rotation",
		},
		[]string{"endpoint"},
	)

	credentialUtilization = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "harvest_credential_utilization",
			Help: "Fraction of the daily request limit used",
		},
		[]string{"credential"},
	)

	heartbeatFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvest_heartbeat_failures_total",
			Help: "Heartbeat writes that failed",
		},
	)

	workerRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_worker_restarts_total",
			Help: "Worker restarts by worker id and reason",
		},
		[]string{"worker", "reason"},
	)

	workersAlive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "harvest_workers_alive",
			Help: "Workers seen alive in the last monitor cycle",
		},
	)
)

func init() {
	prometheus.MustRegister(trades, tradeDuration, queueDepth)
	prometheus.MustRegister(providerRequests, endpointDisabled, credentialUtilization)
	prometheus.MustRegister(heartbeatFailures, workerRestarts, workersAlive)
}

func ObserveTrade(status, kind string, d time.Duration) {
	trades.WithLabelValues(status, kind).Inc()
	tradeDuration.WithLabelValues(status).Observe(d.Seconds())
}

func SetQueueDepth(n int) { queueDepth.Set(float64(n)) }

// Outcome labels for provider requests; failures use provider.Kind strings.
const (
	OutcomeOK          = "ok"
	OutcomeTransient   = "transient"
	OutcomeRateLimited = "rate_limited"
	OutcomeTerminal    = "terminal"
)

func IncProviderRequest(endpoint, outcome string) {
	providerRequests.WithLabelValues(endpoint, outcome).Inc()
}

func IncEndpointDisabled(endpoint string) { endpointDisabled.WithLabelValues(endpoint).Inc() }

func SetCredentialUtilization(credential string, v float64) {
	credentialUtilization.WithLabelValues(credential).Set(v)
}

func IncHeartbeatFailure() { heartbeatFailures.Inc() }

func IncWorkerRestart(worker, reason string) { workerRestarts.WithLabelValues(worker, reason).Inc() }

func SetWorkersAlive(n int) { workersAlive.Set(float64(n)) }
