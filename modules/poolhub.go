package modules

import (
	"github.com/oib/AITBC-sub002/types"
)

type (
	// RegisterRequest is a miner's registration payload. The api key
	// travels in cleartext over TLS and is stored hashed.
	RegisterRequest struct {
		MinerID      string             `json:"miner_id"`
		APIKey       string             `json:"api_key"`
		Address      types.Address      `json:"address"`
		Endpoint     string             `json:"endpoint"`
		Capabilities types.Capabilities `json:"capabilities"`
		PricePer1K   uint64             `json:"price_per_1k"`
		MaxParallel  int                `json:"max_parallel"`
		Region       string             `json:"region,omitempty"`
	}

	// RegisterResponse carries the session token a miner uses for all
	// subsequent calls until the lease expires.
	RegisterResponse struct {
		SessionToken string  `json:"session_token"`
		LeaseTTLSec  float64 `json:"lease_ttl_sec"`
	}

	// A PoolHub maintains the live miner directory and answers match
	// queries with scored candidates.
	PoolHub interface {
		// Register verifies the miner's api key, records its
		// capabilities, and issues a session token. First-time
		// registration fixes the api key; later registrations must
		// present the same key.
		Register(req RegisterRequest) (RegisterResponse, error)

		// Heartbeat renews a miner's lease and refreshes its
		// matchmaking status. Unknown or expired session tokens fail
		// with AUTH.
		Heartbeat(sessionToken string, status types.MinerStatus) error

		// Match filters and scores the registry against the
		// requirements and returns up to topK candidates, best first.
		Match(req types.MatchRequirements, hints types.MatchHints, topK int) ([]types.Candidate, error)

		// Feedback folds a job outcome into the miner's trust score.
		Feedback(jobID, minerID string, outcome types.MatchOutcome, latencyMS int64, failCode string) error

		// ResolveSession maps a live session token to its miner id.
		ResolveSession(sessionToken string) (string, bool)

		// Miner returns a registry entry by id.
		Miner(id string) (types.MinerEntry, bool)

		// Miners returns all registry entries, online or not.
		Miners() []types.MinerEntry

		// ResetTrust restores a miner's trust to the initial value.
		// This is the manual path back for miners that fell below the
		// eligibility floor.
		ResetTrust(minerID string) error

		// Close shuts the pool hub down.
		Close() error
	}
)
