// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Wallet session metrics
	SessionState       prometheus.Gauge
	SessionConnects    *prometheus.CounterVec
	DirectivesReceived *prometheus.CounterVec
	DirectiveOutcomes  *prometheus.CounterVec
	SigningLatency     *prometheus.HistogramVec

	// Relay metrics
	ConnectedWallets  prometheus.Gauge
	DirectivesIssued  *prometheus.CounterVec
	AcksReceived      *prometheus.CounterVec
	DirectivesExpired prometheus.Counter
	Broadcasts        *prometheus.CounterVec

	// Recommendation metrics
	RepliesParsed          prometheus.Counter
	RecommendationsEmitted prometheus.Counter

	// Upstream metrics
	RPCCallLatency    *prometheus.HistogramVec
	AgentCallLatency  *prometheus.HistogramVec
	CollectionFetches *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// HTTP metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "drunk_bob"
	}

	return &Metrics{
		// Wallet session metrics
		SessionState: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "state",
			Help:      "Current wallet session state (0 disconnected, 1 connecting, 2 registered)",
		}),
		SessionConnects: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "connects_total",
			Help:      "Total number of session dial attempts by result",
		}, []string{"result"}),
		DirectivesReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "directives_received_total",
			Help:      "Total number of directives received by type",
		}, []string{"type"}),
		DirectiveOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "directive_outcomes_total",
			Help:      "Total number of handled directives by type and outcome",
		}, []string{"type", "outcome"}),
		SigningLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "signing_latency_seconds",
			Help:      "Time spent waiting on the wallet to sign",
			Buckets:   []float64{0.05, 0.25, 1, 5, 15, 30, 60, 120},
		}, []string{"type"}),

		// Relay metrics
		ConnectedWallets: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "connected_wallets",
			Help:      "Number of registered wallet sockets",
		}),
		DirectivesIssued: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "directives_issued_total",
			Help:      "Total number of directives sent to wallets by type",
		}, []string{"type"}),
		AcksReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "acks_received_total",
			Help:      "Total number of acknowledgements by type and match result",
		}, []string{"type", "result"}),
		DirectivesExpired: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "directives_expired_total",
			Help:      "Total number of pending directives expired by the sweeper",
		}),
		Broadcasts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "broadcasts_total",
			Help:      "Total number of signed transactions broadcast by status",
		}, []string{"status"}),

		// Recommendation metrics
		RepliesParsed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recommendation",
			Name:      "replies_parsed_total",
			Help:      "Total number of agent replies run through the extractor",
		}),
		RecommendationsEmitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recommendation",
			Name:      "records_emitted_total",
			Help:      "Total number of recommendation records extracted",
		}),

		// Upstream metrics
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		AgentCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "call_latency_seconds",
			Help:      "Agent backend call latency in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"endpoint"}),
		CollectionFetches: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collection",
			Name:      "fetches_total",
			Help:      "Total number of collection fetch attempts by proxy and result",
		}, []string{"proxy", "result"}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// HTTP metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of API requests by route and status code",
		}, []string{"method", "route", "code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "API request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// SetSessionState updates the session state gauge.
func SetSessionState(state int) {
	DefaultMetrics.SessionState.Set(float64(state))
}

// RecordSessionConnect records a dial attempt.
func RecordSessionConnect(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	DefaultMetrics.SessionConnects.WithLabelValues(result).Inc()
}

// RecordDirectiveReceived increments the received directives counter.
func RecordDirectiveReceived(msgType string) {
	DefaultMetrics.DirectivesReceived.WithLabelValues(msgType).Inc()
}

// RecordDirectiveOutcome records how a directive ended (acked, rejected, decode_error, send_failed).
func RecordDirectiveOutcome(msgType, outcome string) {
	DefaultMetrics.DirectiveOutcomes.WithLabelValues(msgType, outcome).Inc()
}

// RecordSigningLatency records time spent awaiting the wallet.
func RecordSigningLatency(msgType string, seconds float64) {
	DefaultMetrics.SigningLatency.WithLabelValues(msgType).Observe(seconds)
}

// SetConnectedWallets updates the connected wallets gauge.
func SetConnectedWallets(n int) {
	DefaultMetrics.ConnectedWallets.Set(float64(n))
}

// RecordDirectiveIssued increments the issued directives counter.
func RecordDirectiveIssued(msgType string) {
	DefaultMetrics.DirectivesIssued.WithLabelValues(msgType).Inc()
}

// RecordAck records an acknowledgement and whether it matched a pending directive.
func RecordAck(msgType string, matched bool) {
	result := "matched"
	if !matched {
		result = "unmatched"
	}
	DefaultMetrics.AcksReceived.WithLabelValues(msgType, result).Inc()
}

// RecordDirectivesExpired adds n expired directives.
func RecordDirectivesExpired(n int) {
	DefaultMetrics.DirectivesExpired.Add(float64(n))
}

// RecordBroadcast records a transaction broadcast result.
func RecordBroadcast(err error) {
	status := "sent"
	if err != nil {
		status = "failed"
	}
	DefaultMetrics.Broadcasts.WithLabelValues(status).Inc()
}

// RecordRecommendations records one parsed reply and its record count.
func RecordRecommendations(n int) {
	DefaultMetrics.RepliesParsed.Inc()
	DefaultMetrics.RecommendationsEmitted.Add(float64(n))
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordAgentLatency records agent backend call latency.
func RecordAgentLatency(endpoint string, seconds float64) {
	DefaultMetrics.AgentCallLatency.WithLabelValues(endpoint).Observe(seconds)
}

// RecordCollectionFetch records a collection fetch attempt through a proxy.
func RecordCollectionFetch(proxy string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	DefaultMetrics.CollectionFetches.WithLabelValues(proxy, result).Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordHTTPRequest records one served API request.
func RecordHTTPRequest(method, route string, code int, seconds float64) {
	DefaultMetrics.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	DefaultMetrics.HTTPRequestDuration.WithLabelValues(method, route).Observe(seconds)
}
