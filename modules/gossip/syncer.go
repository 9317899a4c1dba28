package gossip

// syncer.go implements the pull-based cross-site sync worker. Every poll
// interval it reads each remote peer's head and, when the remote chain is
// longer, pulls the missing block range and feeds it to the local chain in
// height order. Fork resolution lives in the chain module; the syncer only
// has to pull deep enough to reach the common ancestor when the first pulled
// block does not connect.

import (
	"errors"
	"time"

	"github.com/oib/AITBC-sub002/metrics"
	"github.com/oib/AITBC-sub002/modules"
	"github.com/oib/AITBC-sub002/persist"
	"github.com/oib/AITBC-sub002/sync"
	"github.com/oib/AITBC-sub002/types"
)

const (
	// maxPullBatch caps the number of blocks requested per range pull.
	maxPullBatch = 64
)

type (
	// A Peer pairs a remote chain client with its circuit breaker.
	Peer struct {
		Endpoint string
		Remote   modules.RemoteChain
		breaker  *Breaker
	}

	// A LocalChain is the slice of the chain interface the syncer needs.
	LocalChain interface {
		Head() modules.ChainInfo
		AcceptBlock(types.Block) error
	}

	// A Syncer reconciles the local chain against remote peers.
	Syncer struct {
		chain        LocalChain
		peers        []*Peer
		pollInterval time.Duration
		maxBackfill  types.BlockHeight
		log          *persist.Logger
		tg           sync.ThreadGroup
	}
)

// NewSyncer builds a sync worker. maxBackfill bounds how far below the local
// head the syncer will pull when hunting for a common ancestor; it should
// match the chain's reorg depth limit.
func NewSyncer(chain LocalChain, pollInterval time.Duration, maxBackfill types.BlockHeight, log *persist.Logger, peers ...*Peer) *Syncer {
	s := &Syncer{
		chain:        chain,
		peers:        peers,
		pollInterval: pollInterval,
		maxBackfill:  maxBackfill,
		log:          log,
	}
	go s.threadedPollLoop()
	return s
}

// NewPeer wraps a remote chain client with a circuit breaker.
func NewPeer(endpoint string, remote modules.RemoteChain, breakerThreshold int, breakerCooldown time.Duration) *Peer {
	return &Peer{
		Endpoint: endpoint,
		Remote:   remote,
		breaker:  NewBreaker(endpoint, breakerThreshold, breakerCooldown),
	}
}

// threadedPollLoop drives one sync pass per poll interval until shutdown.
func (s *Syncer) threadedPollLoop() {
	if s.tg.Add() != nil {
		return
	}
	defer s.tg.Done()

	for {
		select {
		case <-s.tg.StopChan():
			return
		case <-time.After(s.pollInterval):
		}
		for _, peer := range s.peers {
			s.syncPeer(peer)
		}
	}
}

// SyncNow runs one synchronous pass against every peer. Tests and the RPC
// layer use it to avoid waiting out the poll interval.
func (s *Syncer) SyncNow() {
	for _, peer := range s.peers {
		s.syncPeer(peer)
	}
}

// syncPeer reconciles against one peer, respecting its breaker.
func (s *Syncer) syncPeer(peer *Peer) {
	if !peer.breaker.Allow() {
		return
	}
	remoteHead, err := peer.Remote.Head()
	if err != nil {
		peer.breaker.Failure()
		return
	}

	local := s.chain.Head()
	if remoteHead.ChainID != local.ChainID {
		// A peer on a different chain id never becomes compatible;
		// feeding the breaker quiets it down permanently. The success
		// must not be recorded first or the failure run never
		// accumulates.
		s.log.Println("WARN: peer", peer.Endpoint, "serves chain", remoteHead.ChainID, "not", local.ChainID)
		peer.breaker.Failure()
		return
	}
	peer.breaker.Success()
	if remoteHead.Height <= local.Height {
		return
	}

	// Pull forward from just above the local head. When the first block of
	// the range does not connect the chains have forked, so pull again
	// from further back until a block connects or the backfill limit is
	// hit.
	from := local.Height + 1
	for {
		err := s.pullRange(peer, from, remoteHead.Height)
		if err == nil {
			return
		}
		if !errors.Is(err, modules.ErrOrphanBlock) {
			s.log.Println("WARN: sync pull from", peer.Endpoint, "failed:", err)
			return
		}
		if from <= 1 || local.Height-from+1 >= s.maxBackfill {
			s.log.Println("WARN: fork against", peer.Endpoint, "is deeper than the backfill limit; keeping local chain")
			return
		}
		if from > s.maxBackfill && from-s.maxBackfill > 1 {
			from -= s.maxBackfill
		} else {
			from = 1
		}
	}
}

// pullRange fetches [from, to] in batches and applies each block in order.
// Blocks the local chain already has are skipped without error.
func (s *Syncer) pullRange(peer *Peer, from, to types.BlockHeight) error {
	for start := from; start <= to; {
		end := start + maxPullBatch - 1
		if end > to {
			end = to
		}
		blocks, err := peer.Remote.BlocksRange(start, end)
		if err != nil {
			peer.breaker.Failure()
			return err
		}
		peer.breaker.Success()
		for _, b := range blocks {
			err := s.chain.AcceptBlock(b)
			if err != nil && !isBenignImportErr(err) {
				return err
			}
		}
		metrics.SyncPulls.Inc()
		start = end + 1
	}
	return nil
}

// isBenignImportErr filters the import errors that do not abort a range
// application: blocks we already know about.
func isBenignImportErr(err error) bool {
	return errors.Is(err, modules.ErrDuplicateBlock)
}

// Close shuts the sync worker down.
func (s *Syncer) Close() error {
	return s.tg.Stop()
}
