// Package poolhub implements the miner directory and the matchmaker. Miners
// register with an api key, keep a session lease alive with heartbeats, and
// are handed out to the coordinator as scored candidates. Trust is the hub's
// long-term memory of how a miner behaved.
package poolhub

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/NebulousLabs/demotemutex"
	"github.com/NebulousLabs/fastrand"

	"github.com/oib/AITBC-sub002/crypto"
	"github.com/oib/AITBC-sub002/metrics"
	"github.com/oib/AITBC-sub002/modules"
	"github.com/oib/AITBC-sub002/persist"
	siasync "github.com/oib/AITBC-sub002/sync"
	"github.com/oib/AITBC-sub002/types"
)

const (
	logFile      = "poolhub.log"
	registryFile = "registry.json"

	sessionTokenLen = 16
)

var registryMetadata = persist.Metadata{
	Header:  "Pool Hub Registry",
	Version: "1.0",
}

type (
	// A session is one live miner lease.
	session struct {
		minerID string
		expires time.Time
	}

	// Options carries the pool hub parameters.
	Options struct {
		// Weights replaces the default scoring weights.
		Weights *types.ScoreWeights
	}

	// A PoolHub is the miner registry plus matchmaker. The registry has a
	// single writer per miner (the handler holding that miner's session)
	// and many readers (the matcher); heartbeats demote their lock once
	// the entry is updated so the gauge refresh does not starve match
	// calls.
	PoolHub struct {
		mu       demotemutex.DemoteMutex
		miners   map[string]*types.MinerEntry
		sessions map[string]session
		weights  types.ScoreWeights

		persistDir string
		log        *persist.Logger
		tg         siasync.ThreadGroup
	}
)

// New loads (or creates) a pool hub rooted at persistDir.
func New(opts Options, persistDir string) (*PoolHub, error) {
	if err := persist.MkdirAll(persistDir); err != nil {
		return nil, err
	}
	log, err := persist.NewLogger(filepath.Join(persistDir, logFile))
	if err != nil {
		return nil, err
	}

	ph := &PoolHub{
		miners:     make(map[string]*types.MinerEntry),
		sessions:   make(map[string]session),
		weights:    types.DefaultScoreWeights,
		persistDir: persistDir,
		log:        log,
	}
	if opts.Weights != nil {
		ph.weights = *opts.Weights
	}
	if err := ph.load(); err != nil {
		log.Close()
		return nil, err
	}

	ph.tg.AfterStop(func() {
		ph.mu.Lock()
		err := ph.saveLocked()
		ph.mu.Unlock()
		if err != nil {
			ph.log.Println("ERROR: could not save registry on shutdown:", err)
		}
		ph.log.Close()
	})
	return ph, nil
}

// load reads the registry file. A missing file is a fresh hub.
func (ph *PoolHub) load() error {
	var entries []types.MinerEntry
	err := persist.LoadFile(registryMetadata, &entries, filepath.Join(ph.persistDir, registryFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for i := range entries {
		e := entries[i]
		ph.miners[e.ID] = &e
	}
	return nil
}

// saveLocked writes the registry file. The caller holds mu.
func (ph *PoolHub) saveLocked() error {
	entries := make([]types.MinerEntry, 0, len(ph.miners))
	for _, m := range ph.miners {
		entries = append(entries, *m)
	}
	return persist.SaveFile(registryMetadata, entries, filepath.Join(ph.persistDir, registryFile))
}

// newSessionToken mints an unguessable session token.
func newSessionToken() string {
	return hex.EncodeToString(fastrand.Bytes(sessionTokenLen))
}

// Register implements modules.PoolHub.
func (ph *PoolHub) Register(req modules.RegisterRequest) (modules.RegisterResponse, error) {
	if req.MinerID == "" || req.APIKey == "" {
		return modules.RegisterResponse{}, types.NewCodedError(types.ErrCodeValidation, "miner_id and api_key are required")
	}
	if req.Address.IsZero() {
		return modules.RegisterResponse{}, types.NewCodedError(types.ErrCodeValidation, "a payout address is required")
	}
	if req.MaxParallel <= 0 {
		req.MaxParallel = 1
	}
	keyHash := crypto.HashBytes([]byte(req.APIKey)).String()

	ph.mu.Lock()
	defer ph.mu.Unlock()

	entry, known := ph.miners[req.MinerID]
	if known {
		// Re-registration must present the key fixed the first time.
		if entry.APIKeyHash != keyHash {
			return modules.RegisterResponse{}, types.NewCodedError(types.ErrCodeAuth, "api key does not match the registered key")
		}
		entry.Address = req.Address
		entry.Endpoint = req.Endpoint
		entry.Capabilities = req.Capabilities
		entry.PricePer1K = req.PricePer1K
		entry.MaxParallel = req.MaxParallel
		entry.Region = req.Region
	} else {
		entry = &types.MinerEntry{
			ID:           req.MinerID,
			Address:      req.Address,
			Endpoint:     req.Endpoint,
			Capabilities: req.Capabilities,
			PricePer1K:   req.PricePer1K,
			MaxParallel:  req.MaxParallel,
			Region:       req.Region,
			Trust:        types.TrustInit,
			APIKeyHash:   keyHash,
		}
		ph.miners[req.MinerID] = entry
	}
	entry.LastSeen = types.CurrentTimestamp()

	token := newSessionToken()
	ph.sessions[token] = session{
		minerID: req.MinerID,
		expires: time.Now().Add(types.SessionTTL),
	}
	if err := ph.saveLocked(); err != nil {
		ph.log.Println("WARN: could not save registry:", err)
	}
	ph.updateOnlineGaugeLocked()

	return modules.RegisterResponse{
		SessionToken: token,
		LeaseTTLSec:  types.SessionTTL.Seconds(),
	}, nil
}

// Heartbeat implements modules.PoolHub.
func (ph *PoolHub) Heartbeat(sessionToken string, status types.MinerStatus) error {
	ph.mu.Lock()

	s, ok := ph.sessions[sessionToken]
	if !ok || time.Now().After(s.expires) {
		delete(ph.sessions, sessionToken)
		ph.mu.Unlock()
		return types.NewCodedError(types.ErrCodeAuth, "unknown or expired session token")
	}
	entry, ok := ph.miners[s.minerID]
	if !ok {
		delete(ph.sessions, sessionToken)
		ph.mu.Unlock()
		return types.NewCodedError(types.ErrCodeAuth, "session refers to a removed miner")
	}

	s.expires = time.Now().Add(types.SessionTTL)
	ph.sessions[sessionToken] = s
	entry.Status = status
	entry.LastSeen = types.CurrentTimestamp()

	// The gauge refresh only reads; demote so match calls can proceed.
	ph.mu.Demote()
	defer ph.mu.DemotedUnlock()
	ph.updateOnlineGaugeLocked()
	return nil
}

// ResolveSession implements modules.PoolHub.
func (ph *PoolHub) ResolveSession(sessionToken string) (string, bool) {
	ph.mu.RLock()
	defer ph.mu.RUnlock()
	s, ok := ph.sessions[sessionToken]
	if !ok || time.Now().After(s.expires) {
		return "", false
	}
	return s.minerID, true
}

// online reports whether a miner heartbeat falls within the grace period.
// The boundary is inclusive: exactly HeartbeatGrace ago is still online.
func online(m *types.MinerEntry, now types.Timestamp) bool {
	grace := types.Timestamp(types.HeartbeatGrace / time.Second)
	if types.HeartbeatGrace < time.Second {
		// Sub-second grace periods (testing builds) cannot be expressed
		// at timestamp granularity; treat them as one second.
		grace = 1
	}
	return m.LastSeen != 0 && now <= m.LastSeen+grace
}

// Feedback implements modules.PoolHub. The outcome picks a base trust delta;
// a recognized fail code refines it.
func (ph *PoolHub) Feedback(jobID, minerID string, outcome types.MatchOutcome, latencyMS int64, failCode string) error {
	ph.mu.Lock()
	defer ph.mu.Unlock()

	entry, ok := ph.miners[minerID]
	if !ok {
		return types.NewCodedError(types.ErrCodeNotFound, "no miner with that id")
	}

	var delta float64
	switch outcome {
	case types.OutcomeCompleted:
		delta = types.TrustDeltaCompleted
	case types.OutcomeRejected:
		delta = types.TrustDeltaRejected
	case types.OutcomeFailed:
		delta = types.TrustDeltaFailed
	case types.OutcomeTimeout:
		delta = types.TrustDeltaTimeout
	default:
		return types.NewCodedError(types.ErrCodeValidation, "unknown outcome "+string(outcome))
	}
	switch failCode {
	case "bad_result":
		delta = types.TrustDeltaBadResult
	case "miner_reported":
		delta = types.TrustDeltaMinerReported
	}

	entry.Trust += delta
	if entry.Trust < 0 {
		entry.Trust = 0
	}
	if entry.Trust > 1 {
		entry.Trust = 1
	}
	if latencyMS > 0 {
		// Exponential moving average, weighted toward history.
		if entry.Status.AvgLatencyMS == 0 {
			entry.Status.AvgLatencyMS = float64(latencyMS)
		} else {
			entry.Status.AvgLatencyMS = 0.8*entry.Status.AvgLatencyMS + 0.2*float64(latencyMS)
		}
	}

	if entry.Trust < types.TrustFloor {
		ph.log.Println("miner", minerID, "fell below the trust floor after job", jobID)
	}
	if err := ph.saveLocked(); err != nil {
		ph.log.Println("WARN: could not save registry:", err)
	}
	return nil
}

// ResetTrust implements modules.PoolHub.
func (ph *PoolHub) ResetTrust(minerID string) error {
	ph.mu.Lock()
	defer ph.mu.Unlock()
	entry, ok := ph.miners[minerID]
	if !ok {
		return types.NewCodedError(types.ErrCodeNotFound, "no miner with that id")
	}
	entry.Trust = types.TrustInit
	if err := ph.saveLocked(); err != nil {
		ph.log.Println("WARN: could not save registry:", err)
	}
	return nil
}

// Miner implements modules.PoolHub.
func (ph *PoolHub) Miner(id string) (types.MinerEntry, bool) {
	ph.mu.RLock()
	defer ph.mu.RUnlock()
	m, ok := ph.miners[id]
	if !ok {
		return types.MinerEntry{}, false
	}
	return *m, true
}

// Miners implements modules.PoolHub.
func (ph *PoolHub) Miners() []types.MinerEntry {
	ph.mu.RLock()
	defer ph.mu.RUnlock()
	out := make([]types.MinerEntry, 0, len(ph.miners))
	for _, m := range ph.miners {
		out = append(out, *m)
	}
	return out
}

// updateOnlineGaugeLocked refreshes the online-miners gauge. The caller
// holds mu.
func (ph *PoolHub) updateOnlineGaugeLocked() {
	now := types.CurrentTimestamp()
	n := 0
	for _, m := range ph.miners {
		if online(m, now) {
			n++
		}
	}
	metrics.MinersOnline.Set(float64(n))
}

// Close implements modules.PoolHub.
func (ph *PoolHub) Close() error {
	return ph.tg.Stop()
}
