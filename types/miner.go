package types

// miner.go defines the miner registry entry and the matchmaking vocabulary
// shared by the pool hub and the coordinator.

type (
	// Capabilities describes the hardware and workload support a miner
	// declares at registration.
	Capabilities struct {
		GPUModel string   `json:"gpu_model"`
		VRAMGB   int      `json:"vram_gb"`
		CPUCores int      `json:"cpu_cores"`
		RAMGB    int      `json:"ram_gb"`
		Tags     []string `json:"tags,omitempty"`
	}

	// A MinerEntry is the pool hub's record of a registered miner. The api
	// key is stored as a hash; the cleartext key is only seen at
	// registration time.
	MinerEntry struct {
		ID           string       `json:"id"`
		Address      Address      `json:"address"`
		Endpoint     string       `json:"endpoint"`
		Capabilities Capabilities `json:"capabilities"`
		PricePer1K   uint64       `json:"price_per_1k"`
		MaxParallel  int          `json:"max_parallel"`
		Region       string       `json:"region,omitempty"`
		Trust        float64      `json:"trust"`
		APIKeyHash   string       `json:"api_key_hash"`

		LastSeen  Timestamp   `json:"last_seen"`
		Status    MinerStatus `json:"-"`
	}

	// MinerStatus is the live matchmaking record for a miner, refreshed by
	// heartbeats.
	MinerStatus struct {
		QueueLen     int     `json:"queue_len"`
		Busy         bool    `json:"busy"`
		MemFreeGB    int     `json:"mem_free_gb,omitempty"`
		AvgLatencyMS float64 `json:"avg_latency_ms,omitempty"`
	}

	// MatchRequirements are the filter inputs of a match call, derived from
	// job constraints plus the client's price ceiling.
	MatchRequirements struct {
		MinVRAMGB int      `json:"min_vram_gb"`
		MinRAMGB  int      `json:"min_ram_gb,omitempty"`
		Tags      []string `json:"tags,omitempty"`
		Region    string   `json:"region,omitempty"`
		MaxPrice  uint64   `json:"max_price"`
	}

	// MatchHints tune scoring without affecting the hard filter.
	MatchHints struct {
		ExcludeMiners []string `json:"exclude_miners,omitempty"`
	}

	// A Candidate is one scored matchmaking result. Explain quotes each
	// scoring term so that selection decisions can be audited.
	Candidate struct {
		MinerID  string  `json:"miner_id"`
		Endpoint string  `json:"endpoint"`
		Address  Address `json:"address"`
		Price    uint64  `json:"price"`
		Score    float64 `json:"score"`
		Explain  string  `json:"explain"`
	}

	// ScoreWeights are the matchmaking term weights. They are configuration
	// and may be swapped at runtime.
	ScoreWeights struct {
		Capability float64 `json:"capability" yaml:"capability"`
		Price      float64 `json:"price" yaml:"price"`
		Latency    float64 `json:"latency" yaml:"latency"`
		Trust      float64 `json:"trust" yaml:"trust"`
		Load       float64 `json:"load" yaml:"load"`
	}

	// MatchOutcome is the feedback vocabulary for trust updates.
	MatchOutcome string
)

// Feedback outcomes reported to the pool hub.
const (
	OutcomeCompleted MatchOutcome = "completed"
	OutcomeRejected  MatchOutcome = "rejected"
	OutcomeFailed    MatchOutcome = "failed"
	OutcomeTimeout   MatchOutcome = "timeout"
)

// HasTags reports whether the declared capability tags are a superset of the
// required tags.
func (c Capabilities) HasTags(required []string) bool {
	declared := make(map[string]struct{}, len(c.Tags))
	for _, t := range c.Tags {
		declared[t] = struct{}{}
	}
	for _, t := range required {
		if _, ok := declared[t]; !ok {
			return false
		}
	}
	return true
}

// TagOverlap returns |required ∩ declared| for capability-fit scoring.
func (c Capabilities) TagOverlap(required []string) int {
	declared := make(map[string]struct{}, len(c.Tags))
	for _, t := range c.Tags {
		declared[t] = struct{}{}
	}
	n := 0
	for _, t := range required {
		if _, ok := declared[t]; ok {
			n++
		}
	}
	return n
}
