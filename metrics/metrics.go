// Package metrics registers the prometheus collectors shared by the chain
// node, coordinator, pool hub, and gossip layer. Collectors are package-level
// so that any component can increment them without threading a registry
// through every constructor; the API server exposes them on /debug/metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BlocksProduced counts blocks sealed by the local proposer loop.
	BlocksProduced = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aitbc",
		Subsystem: "chain",
		Name:      "blocks_produced_total",
		Help:      "Blocks sealed by the local proposer loop.",
	})

	// TxsIncluded counts transactions included in canonical blocks.
	TxsIncluded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aitbc",
		Subsystem: "chain",
		Name:      "txs_included_total",
		Help:      "Transactions included in canonical blocks.",
	})

	// TxsRejected counts transactions rejected by mempool or block
	// validation, labelled by error code.
	TxsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aitbc",
		Subsystem: "chain",
		Name:      "txs_rejected_total",
		Help:      "Transactions rejected during validation.",
	}, []string{"code"})

	// BlocksRejected counts imported blocks that failed validation.
	BlocksRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aitbc",
		Subsystem: "chain",
		Name:      "blocks_rejected_total",
		Help:      "Imported blocks that failed validation.",
	})

	// Reorgs counts applied chain reorganizations.
	Reorgs = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aitbc",
		Subsystem: "chain",
		Name:      "reorgs_total",
		Help:      "Applied chain reorganizations.",
	})

	// ReorgsAborted counts reorgs abandoned for exceeding the depth limit.
	ReorgsAborted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aitbc",
		Subsystem: "chain",
		Name:      "reorgs_aborted_total",
		Help:      "Reorgs abandoned for exceeding the depth limit.",
	})

	// TokensMinted counts tokens minted by receipt claims.
	TokensMinted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aitbc",
		Subsystem: "chain",
		Name:      "tokens_minted_total",
		Help:      "Tokens minted by included receipt claims.",
	})

	// GossipDropped counts messages dropped by overflowing subscriber
	// queues, labelled by topic.
	GossipDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aitbc",
		Subsystem: "gossip",
		Name:      "dropped_total",
		Help:      "Messages dropped on overflowing subscriber queues.",
	}, []string{"topic"})

	// BreakerTransitions counts circuit breaker state changes, labelled by
	// endpoint and new state.
	BreakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aitbc",
		Subsystem: "sync",
		Name:      "breaker_transitions_total",
		Help:      "Circuit breaker state transitions.",
	}, []string{"endpoint", "state"})

	// SyncPulls counts completed cross-site block range pulls.
	SyncPulls = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aitbc",
		Subsystem: "sync",
		Name:      "pulls_total",
		Help:      "Completed cross-site block range pulls.",
	})

	// JobsByState counts job lifecycle transitions, labelled by the state
	// entered.
	JobsByState = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aitbc",
		Subsystem: "coordinator",
		Name:      "job_transitions_total",
		Help:      "Job lifecycle transitions by entered state.",
	}, []string{"state"})

	// ReceiptsEmitted counts receipts signed by the coordinator.
	ReceiptsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aitbc",
		Subsystem: "coordinator",
		Name:      "receipts_emitted_total",
		Help:      "Signed receipts emitted for completed jobs.",
	})

	// MinersOnline gauges the number of miners within the heartbeat grace.
	MinersOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "aitbc",
		Subsystem: "poolhub",
		Name:      "miners_online",
		Help:      "Miners seen within the heartbeat grace period.",
	})

	// RateLimited counts requests rejected by the per-key token buckets.
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aitbc",
		Subsystem: "api",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by per-key token buckets.",
	})
)

// Handler returns the HTTP handler serving the prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
