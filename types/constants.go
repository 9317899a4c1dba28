package types

// constants.go holds the protocol constants. Values that need to differ
// between release builds (mostly timing) are set with build.Select.

import (
	"time"

	"github.com/oib/AITBC-sub002/build"
)

const (
	// ReceiptVersion is the only receipt version this implementation emits.
	ReceiptVersion = "1.0"

	// MintPerUnit is the default number of tokens minted per compute unit
	// when a receipt claim is included in a block.
	MintPerUnit = 1

	// CoordinatorRatio is the default protocol cut of minted tokens, also
	// applied to escrow settlements.
	CoordinatorRatio = 0.05

	// MinFee is the minimum transaction fee accepted by the mempool.
	MinFee = 1

	// MaxTxsPerBlock caps the number of transactions drained from the
	// mempool into a single block.
	MaxTxsPerBlock = 250

	// MaxBlockSizeBytes caps the encoded size of a block.
	MaxBlockSizeBytes = 2e6

	// MaxComputeUnitsPerReceipt bounds the economic weight of a single
	// receipt claim.
	MaxComputeUnitsPerReceipt = 100e6

	// MaxReceiptPrice bounds the price field of a receipt claim.
	MaxReceiptPrice = 1e12

	// MaxRetries is the number of times a failed job re-enters the queue
	// before it is permanently failed.
	MaxRetries = 3

	// TrustInit is the trust score assigned to a newly registered miner.
	TrustInit = 0.5

	// TrustFloor is the trust score below which a miner is ineligible for
	// matching until manually reset.
	TrustFloor = 0.1
)

// Trust deltas applied by pool hub feedback events.
const (
	TrustDeltaCompleted = 0.01
	TrustDeltaRejected  = -0.005
	TrustDeltaFailed    = -0.05
	TrustDeltaTimeout   = -0.10
	TrustDeltaBadResult = -0.10
	// TrustDeltaMinerReported is the softened penalty for failures the
	// miner reported itself.
	TrustDeltaMinerReported = -0.02
)

var (
	// BlockInterval is the target cadence of the proposer loop.
	BlockInterval = build.Select(build.Var{
		Standard: 2 * time.Second,
		Dev:      500 * time.Millisecond,
		Testing:  25 * time.Millisecond,
	}).(time.Duration)

	// HeartbeatGrace is how long a miner may go without a heartbeat before
	// it is considered offline. The boundary is strict: a heartbeat exactly
	// at the grace period keeps the miner online.
	HeartbeatGrace = build.Select(build.Var{
		Standard: 120 * time.Second,
		Dev:      10 * time.Second,
		Testing:  250 * time.Millisecond,
	}).(time.Duration)

	// SessionTTL is the lifetime of a miner session token.
	SessionTTL = build.Select(build.Var{
		Standard: 60 * time.Second,
		Dev:      60 * time.Second,
		Testing:  2 * time.Second,
	}).(time.Duration)

	// RetryBaseBackoff is the base of the exponential retry backoff.
	RetryBaseBackoff = build.Select(build.Var{
		Standard: 5 * time.Second,
		Dev:      time.Second,
		Testing:  5 * time.Millisecond,
	}).(time.Duration)

	// RetryMaxBackoff caps the exponential retry backoff.
	RetryMaxBackoff = build.Select(build.Var{
		Standard: 5 * time.Minute,
		Dev:      30 * time.Second,
		Testing:  50 * time.Millisecond,
	}).(time.Duration)

	// WatchdogInterval is how often the coordinator scans for expired jobs.
	WatchdogInterval = build.Select(build.Var{
		Standard: 5 * time.Second,
		Dev:      time.Second,
		Testing:  10 * time.Millisecond,
	}).(time.Duration)

	// SyncPollInterval is the default cross-site sync polling cadence.
	SyncPollInterval = build.Select(build.Var{
		Standard: 10 * time.Second,
		Dev:      2 * time.Second,
		Testing:  25 * time.Millisecond,
	}).(time.Duration)

	// ReorgDepthLimit is the default safety cap on reorg depth.
	ReorgDepthLimit = build.Select(build.Var{
		Standard: BlockHeight(64),
		Dev:      BlockHeight(16),
		Testing:  BlockHeight(4),
	}).(BlockHeight)
)

// DefaultScoreWeights are the default matchmaking weights, in the order
// capability fit, price, latency, trust, load.
var DefaultScoreWeights = ScoreWeights{
	Capability: 0.40,
	Price:      0.20,
	Latency:    0.20,
	Trust:      0.15,
	Load:       0.05,
}
