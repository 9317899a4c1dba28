package poolhub

// score.go holds the matchmaker. Matching is a hard filter followed by a
// weighted score; every term is normalized to [0, 1] so the weights compose.

import (
	"fmt"
	"sort"

	"github.com/oib/AITBC-sub002/types"
)

// eligibleLocked applies the hard filter to one miner. The caller holds mu.
func eligibleLocked(m *types.MinerEntry, req types.MatchRequirements, now types.Timestamp) bool {
	switch {
	case !online(m, now):
		return false
	case m.Trust < types.TrustFloor:
		return false
	case req.MinVRAMGB > 0 && m.Capabilities.VRAMGB < req.MinVRAMGB:
		return false
	case req.MinRAMGB > 0 && m.Capabilities.RAMGB < req.MinRAMGB:
		return false
	case !m.Capabilities.HasTags(req.Tags):
		return false
	case req.Region != "" && m.Region != req.Region:
		return false
	case req.MaxPrice > 0 && m.PricePer1K > req.MaxPrice:
		return false
	case m.Status.QueueLen >= m.MaxParallel:
		return false
	}
	return true
}

// capFit is the capability term: the share of required capability tags the
// miner declares. Hardware headroom is deliberately not rewarded or punished
// here; the hard filter already guarantees the minimums are met.
func capFit(m *types.MinerEntry, req types.MatchRequirements) float64 {
	if len(req.Tags) == 0 {
		return 1
	}
	return float64(m.Capabilities.TagOverlap(req.Tags)) / float64(len(req.Tags))
}

// priceNorm maps price into [0, 1] against the ceiling, cheaper is better.
func priceNorm(price, maxPrice uint64) float64 {
	if maxPrice == 0 {
		return 1
	}
	return 1 - float64(price)/float64(maxPrice)
}

// loadNorm maps queue occupancy into [0, 1], idle is better.
func loadNorm(m *types.MinerEntry) float64 {
	if m.MaxParallel <= 0 {
		return 0
	}
	return 1 - float64(m.Status.QueueLen)/float64(m.MaxParallel)
}

// latencyNorms ranks the eligible miners by average latency and converts the
// rank to [0, 1], fastest first. Miners without latency history sit in the
// middle rather than winning or losing the term outright.
func latencyNorms(pool []*types.MinerEntry) map[string]float64 {
	norms := make(map[string]float64, len(pool))
	var ranked []*types.MinerEntry
	for _, m := range pool {
		if m.Status.AvgLatencyMS > 0 {
			ranked = append(ranked, m)
		} else {
			norms[m.ID] = 0.5
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		return ranked[i].Status.AvgLatencyMS < ranked[j].Status.AvgLatencyMS
	})
	for i, m := range ranked {
		if len(ranked) == 1 {
			norms[m.ID] = 1
		} else {
			norms[m.ID] = 1 - float64(i)/float64(len(ranked)-1)
		}
	}
	return norms
}

// Match implements modules.PoolHub.
func (ph *PoolHub) Match(req types.MatchRequirements, hints types.MatchHints, topK int) ([]types.Candidate, error) {
	if topK <= 0 {
		topK = 1
	}
	excluded := make(map[string]struct{}, len(hints.ExcludeMiners))
	for _, id := range hints.ExcludeMiners {
		excluded[id] = struct{}{}
	}

	ph.mu.RLock()
	defer ph.mu.RUnlock()

	now := types.CurrentTimestamp()
	var pool []*types.MinerEntry
	for _, m := range ph.miners {
		if _, skip := excluded[m.ID]; skip {
			continue
		}
		if eligibleLocked(m, req, now) {
			pool = append(pool, m)
		}
	}
	if len(pool) == 0 {
		return nil, nil
	}

	latNorm := latencyNorms(pool)
	cands := make([]types.Candidate, 0, len(pool))
	for _, m := range pool {
		fit := capFit(m, req)
		price := priceNorm(m.PricePer1K, req.MaxPrice)
		lat := latNorm[m.ID]
		load := loadNorm(m)
		score := ph.weights.Capability*fit +
			ph.weights.Price*price +
			ph.weights.Latency*lat +
			ph.weights.Trust*m.Trust +
			ph.weights.Load*load
		cands = append(cands, types.Candidate{
			MinerID:  m.ID,
			Endpoint: m.Endpoint,
			Address:  m.Address,
			Price:    m.PricePer1K,
			Score:    score,
			Explain: fmt.Sprintf("cap=%.2f price=%.2f latency=%.2f trust=%.2f load=%.2f",
				fit, price, lat, m.Trust, load),
		})
	}

	// Ties break on trust, then on recency of the last heartbeat.
	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		ma, mb := ph.miners[a.MinerID], ph.miners[b.MinerID]
		if ma.Trust != mb.Trust {
			return ma.Trust > mb.Trust
		}
		return ma.LastSeen > mb.LastSeen
	})
	if len(cands) > topK {
		cands = cands[:topK]
	}
	return cands, nil
}
