// Package metrics exposes the Prometheus instruments shared by the
// background loops. Label values are drawn from bounded sets only.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Risk block reasons (bounded set, mirrors the risk predicate order).
const (
	BlockReasonCooldown  = "cooldown"
	BlockReasonTradeSize = "trade_size"
	BlockReasonExposure  = "exposure"
	BlockReasonDailyLoss = "daily_loss"
	BlockReasonMinEV     = "min_ev"
)

var (
	// FeedReconnects counts market-data WebSocket reconnections.
	FeedReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weathertrader_feed_reconnects_total",
		Help: "Number of market-data feed reconnections",
	})

	// CacheWriteFailures counts swallowed price-cache write errors.
	CacheWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weathertrader_cache_write_failures_total",
		Help: "Number of price cache writes that failed and were dropped",
	})

	// CycleErrors counts trading-cycle iterations that logged an error.
	CycleErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weathertrader_cycle_errors_total",
		Help: "Number of trading cycle errors caught by the loop",
	})

	// CyclesCompleted counts finished trading cycles.
	CyclesCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weathertrader_cycles_completed_total",
		Help: "Number of completed trading cycles",
	})

	// SignalsEmitted counts scanner signals by city.
	SignalsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weathertrader_signals_emitted_total",
		Help: "Number of positive-EV signals emitted by the scanner",
	}, []string{"city"})

	// RiskBlocks counts signals rejected by the risk predicate, by reason.
	RiskBlocks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weathertrader_risk_blocks_total",
		Help: "Number of signals blocked by the risk manager",
	}, []string{"reason"})

	// OrdersPlaced counts accepted exchange orders.
	OrdersPlaced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weathertrader_orders_placed_total",
		Help: "Number of orders accepted by the exchange",
	})

	// OrdersRejected counts orders the exchange refused.
	OrdersRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weathertrader_orders_rejected_total",
		Help: "Number of orders rejected by the exchange",
	})

	// TradesSettled counts settled trades by outcome ("won" or "lost").
	TradesSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weathertrader_trades_settled_total",
		Help: "Number of trades settled",
	}, []string{"outcome"})

	// PendingExpired counts queued trades swept to EXPIRED.
	PendingExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weathertrader_pending_expired_total",
		Help: "Number of pending trades expired by the TTL sweeper",
	})

	// OpenExposureCents gauges current reserved exposure.
	OpenExposureCents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "weathertrader_open_exposure_cents",
		Help: "Sum of open trade cost in cents",
	})

	// FeedConnected gauges feed liveness (1 connected, 0 not).
	FeedConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "weathertrader_feed_connected",
		Help: "Whether the market-data feed is connected",
	})
)
