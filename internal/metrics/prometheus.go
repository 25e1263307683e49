package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Epoch metrics
	Epochs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liquidator_epochs_total",
			Help: "Total number of completed epochs",
		},
		[]string{"status"}, // status: success|error
	)

	EpochDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "liquidator_epoch_duration_seconds",
			Help:    "Wall time of one pass over every market",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	MarketErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liquidator_market_errors_total",
			Help: "Markets skipped because their data could not be loaded",
		},
		[]string{"market", "kind"}, // kind: positions|snapshot
	)

	// Position metrics
	PositionsEvaluated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liquidator_positions_evaluated_total",
			Help: "Positions re-valued against a market snapshot",
		},
		[]string{"market"},
	)

	PositionsUnderwater = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "liquidator_positions_underwater",
			Help: "Liquidatable positions seen in the last epoch",
		},
		[]string{"market"},
	)

	NotifiedPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "liquidator_notified_positions",
			Help: "Positions with an open approaching-liquidation alert",
		},
	)

	Liquidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liquidator_liquidations_total",
			Help: "Liquidation attempts by outcome",
		},
		[]string{"market", "outcome"}, // outcome: confirmed|simulate|send|confirm|build|skipped
	)

	// Transaction metrics
	Transactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liquidator_transactions_total",
			Help: "Transactions run through simulate, send and confirm",
		},
		[]string{"kind", "stage"}, // stage: confirmed or the failing stage
	)

	TransactionLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "liquidator_transaction_latency_seconds",
			Help:    "Time from build to final classification",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 90},
		},
		[]string{"kind"},
	)

	// Rebalance metrics
	Swaps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liquidator_swaps_total",
			Help: "Rebalancing swaps by result",
		},
		[]string{"from", "to", "status"}, // status: success|error
	)

	// Activity metrics
	ActivityEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liquidator_activity_events_total",
			Help: "Lending-program transactions observed by the activity watcher",
		},
		[]string{"action"},
	)

	WebSocketReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "liquidator_websocket_reconnects_total",
			Help: "Activity watcher reconnects",
		},
	)

	Notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liquidator_notifications_total",
			Help: "Alerts delivered by sender and status",
		},
		[]string{"sender", "status"}, // status: ok|error|throttled
	)

	RebalanceRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "liquidator_rebalance_retries_total",
			Help: "Swap attempts retried by the rebalancer",
		},
	)

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liquidator_http_requests_total",
			Help: "Status API requests by path and code",
		},
		[]string{"path", "code"},
	)

	RPCCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liquidator_rpc_calls_total",
			Help: "JSON-RPC calls by method and status",
		},
		[]string{"method", "status"}, // status: success|error
	)
)

var initOnce sync.Once

// Init registers every collector with the default registry. Safe to call
// more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(Epochs)
		prometheus.MustRegister(EpochDuration)
		prometheus.MustRegister(MarketErrors)

		prometheus.MustRegister(PositionsEvaluated)
		prometheus.MustRegister(PositionsUnderwater)
		prometheus.MustRegister(NotifiedPositions)
		prometheus.MustRegister(Liquidations)

		prometheus.MustRegister(Transactions)
		prometheus.MustRegister(TransactionLatency)

		prometheus.MustRegister(Swaps)
		prometheus.MustRegister(RebalanceRetries)
		prometheus.MustRegister(Notifications)

		prometheus.MustRegister(ActivityEvents)
		prometheus.MustRegister(WebSocketReconnects)
		prometheus.MustRegister(RPCCalls)
		prometheus.MustRegister(HTTPRequests)
	})
}

// Handler returns Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordEpoch records one finished epoch.
func RecordEpoch(duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	Epochs.WithLabelValues(status).Inc()
	EpochDuration.Observe(duration.Seconds())
}

// RecordTransaction records a classified transaction.
func RecordTransaction(kind, stage string, latency time.Duration) {
	Transactions.WithLabelValues(kind, stage).Inc()
	TransactionLatency.WithLabelValues(kind).Observe(latency.Seconds())
}

// RecordSwap records a rebalancing swap.
func RecordSwap(from, to string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	Swaps.WithLabelValues(from, to, status).Inc()
}

// RecordRPCCall records one JSON-RPC round trip.
func RecordRPCCall(method string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	RPCCalls.WithLabelValues(method, status).Inc()
}
