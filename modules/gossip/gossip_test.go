package gossip

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/oib/AITBC-sub002/modules"
	"github.com/oib/AITBC-sub002/persist"
	"github.com/oib/AITBC-sub002/types"
)

// testLogger opens a logger in a temp directory.
func testLogger(t *testing.T) *persist.Logger {
	t.Helper()
	log, err := persist.NewLogger(filepath.Join(t.TempDir(), "gossip.log"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { log.Close() })
	return log
}

// TestBreaker walks the breaker through its state transitions.
func TestBreaker(t *testing.T) {
	b := NewBreaker("peer1", 3, 50*time.Millisecond)
	if !b.Allow() {
		t.Fatal("new breaker refuses calls")
	}

	// Two failures are below the threshold.
	b.Failure()
	b.Failure()
	if b.Open() || !b.Allow() {
		t.Fatal("breaker opened below the threshold")
	}

	// A success resets the failure run.
	b.Success()
	b.Failure()
	b.Failure()
	if b.Open() {
		t.Fatal("success did not reset the failure run")
	}

	// The third consecutive failure opens the breaker.
	b.Failure()
	if !b.Open() {
		t.Fatal("breaker did not open at the threshold")
	}
	if b.Allow() {
		t.Fatal("open breaker allowed a call")
	}

	// The breaker closes again once the cooldown elapses.
	time.Sleep(60 * time.Millisecond)
	if !b.Allow() {
		t.Fatal("breaker did not close after the cooldown")
	}
	if b.Open() {
		t.Fatal("breaker reports open after closing")
	}
}

// TestInprocBroker checks delivery, sequence numbering, and unsubscribe.
func TestInprocBroker(t *testing.T) {
	b := NewInprocBroker()
	defer b.Close()

	ch, cancel, err := b.Subscribe("blocks")
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Publish("blocks", []byte("one")); err != nil {
		t.Fatal(err)
	}
	if err := b.Publish("blocks", []byte("two")); err != nil {
		t.Fatal(err)
	}
	// A different topic does not reach this subscriber.
	if err := b.Publish("txs", []byte("other")); err != nil {
		t.Fatal(err)
	}

	msg := <-ch
	if msg.Topic != "blocks" || msg.Seq != 1 || string(msg.Payload) != "one" {
		t.Fatal("first message:", msg.Topic, msg.Seq, string(msg.Payload))
	}
	msg = <-ch
	if msg.Seq != 2 || string(msg.Payload) != "two" {
		t.Fatal("second message:", msg.Seq, string(msg.Payload))
	}

	// After cancel the channel is closed and drained.
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("cancelled subscriber still receives")
	}
	// Publishing to a topic with no subscribers still succeeds.
	if err := b.Publish("blocks", []byte("three")); err != nil {
		t.Fatal(err)
	}
}

// TestInprocBrokerOverflow checks that a slow subscriber loses messages
// instead of blocking the publisher, and that the gap shows up in Seq.
func TestInprocBrokerOverflow(t *testing.T) {
	b := NewInprocBroker()
	defer b.Close()

	ch, cancel, err := b.Subscribe("blocks")
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	for i := 0; i < subscriberQueueLen+10; i++ {
		if err := b.Publish("blocks", nil); err != nil {
			t.Fatal(err)
		}
	}
	// Only the first queue's worth survives.
	for i := 0; i < subscriberQueueLen; i++ {
		msg := <-ch
		if msg.Seq != uint64(i+1) {
			t.Fatal("seq:", msg.Seq)
		}
	}
	select {
	case msg := <-ch:
		t.Fatal("overflowed message delivered, seq", msg.Seq)
	default:
	}

	// The next publish resumes after the gap.
	if err := b.Publish("blocks", nil); err != nil {
		t.Fatal(err)
	}
	msg := <-ch
	if msg.Seq != uint64(subscriberQueueLen+11) {
		t.Fatal("seq after gap:", msg.Seq)
	}
}

// TestInprocBrokerClose checks that close terminates subscribers and refuses
// further operations.
func TestInprocBrokerClose(t *testing.T) {
	b := NewInprocBroker()
	ch, _, err := b.Subscribe("blocks")
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if _, ok := <-ch; ok {
		t.Fatal("subscriber channel survived close")
	}
	if err := b.Publish("blocks", nil); !errors.Is(err, ErrBrokerClosed) {
		t.Fatal("publish after close:", err)
	}
	if _, _, err := b.Subscribe("blocks"); !errors.Is(err, ErrBrokerClosed) {
		t.Fatal("subscribe after close:", err)
	}
	if err := b.Close(); !errors.Is(err, ErrBrokerClosed) {
		t.Fatal("double close:", err)
	}
}

// fakeChain is a LocalChain that records accepted blocks. Blocks at or below
// forkHeight are reported as duplicates; a block more than one above the
// current head is an orphan.
type fakeChain struct {
	chainID    string
	height     types.BlockHeight
	forkHeight types.BlockHeight
	accepted   []types.BlockHeight
}

func (fc *fakeChain) Head() modules.ChainInfo {
	return modules.ChainInfo{ChainID: fc.chainID, Height: fc.height}
}

func (fc *fakeChain) AcceptBlock(b types.Block) error {
	if b.Height <= fc.forkHeight {
		return modules.ErrDuplicateBlock
	}
	if b.Height > fc.height+1 {
		return modules.ErrOrphanBlock
	}
	fc.height = b.Height
	fc.accepted = append(fc.accepted, b.Height)
	return nil
}

// fakeRemote serves a canonical chain of the given height.
type fakeRemote struct {
	chainID   string
	height    types.BlockHeight
	headErr   error
	headCalls int
}

func (fr *fakeRemote) Head() (modules.ChainInfo, error) {
	fr.headCalls++
	if fr.headErr != nil {
		return modules.ChainInfo{}, fr.headErr
	}
	return modules.ChainInfo{ChainID: fr.chainID, Height: fr.height}, nil
}

func (fr *fakeRemote) BlocksRange(from, to types.BlockHeight) ([]types.Block, error) {
	var blocks []types.Block
	for h := from; h <= to && h <= fr.height; h++ {
		blocks = append(blocks, types.Block{Height: h})
	}
	return blocks, nil
}

// TestSyncerPullsMissingBlocks checks the plain catch-up path.
func TestSyncerPullsMissingBlocks(t *testing.T) {
	local := &fakeChain{chainID: "testchain", height: 2, forkHeight: 2}
	remote := &fakeRemote{chainID: "testchain", height: 5}
	s := NewSyncer(local, time.Hour, 10, testLogger(t), NewPeer("peer1", remote, 3, time.Minute))
	defer s.Close()

	s.SyncNow()
	if local.height != 5 {
		t.Fatal("local height after sync:", local.height)
	}
	if len(local.accepted) != 3 || local.accepted[0] != 3 || local.accepted[2] != 5 {
		t.Fatal("accepted heights:", local.accepted)
	}

	// A second pass with nothing new is a no-op.
	s.SyncNow()
	if len(local.accepted) != 3 {
		t.Fatal("idle sync accepted blocks:", local.accepted)
	}
}

// TestSyncerIgnoresShorterRemote checks that a remote at or below the local
// head triggers no pull.
func TestSyncerIgnoresShorterRemote(t *testing.T) {
	local := &fakeChain{chainID: "testchain", height: 5, forkHeight: 5}
	remote := &fakeRemote{chainID: "testchain", height: 3}
	s := NewSyncer(local, time.Hour, 10, testLogger(t), NewPeer("peer1", remote, 3, time.Minute))
	defer s.Close()

	s.SyncNow()
	if len(local.accepted) != 0 {
		t.Fatal("accepted blocks from a shorter remote:", local.accepted)
	}
}

// TestSyncerForkBackfill checks that an orphaned first block makes the syncer
// pull a deeper range until the chains connect.
func TestSyncerForkBackfill(t *testing.T) {
	// The chains agree up to height 3. The fake models the reorg by
	// accepting any remote block that extends height 3, while Head keeps
	// reporting the stale local tip at 5.
	local := &fakeChain{chainID: "testchain", height: 3, forkHeight: 3}
	remote := &fakeRemote{chainID: "testchain", height: 8}
	s := NewSyncer(local, time.Hour, 10, testLogger(t), NewPeer("peer1", remote, 3, time.Minute))
	defer s.Close()

	// Pretend the local head is still 5 for the first Head call so the
	// syncer starts pulling from 6 and sees an orphan.
	heads := &fakeChainReporting{fakeChain: local, reportedHeight: 5}
	s.chain = heads

	s.SyncNow()
	if local.height != 8 {
		t.Fatal("local height after fork sync:", local.height)
	}
	if local.accepted[0] != 4 {
		t.Fatal("backfill did not restart below the fork, accepted:", local.accepted)
	}
}

// fakeChainReporting overrides Head to report a stale height, modelling a
// local chain whose canonical head is on the losing fork.
type fakeChainReporting struct {
	*fakeChain
	reportedHeight types.BlockHeight
}

func (fc *fakeChainReporting) Head() modules.ChainInfo {
	return modules.ChainInfo{ChainID: fc.chainID, Height: fc.reportedHeight}
}

// TestSyncerChainIDMismatch checks that a peer on a foreign chain feeds its
// breaker instead of importing blocks.
func TestSyncerChainIDMismatch(t *testing.T) {
	local := &fakeChain{chainID: "testchain", height: 0}
	remote := &fakeRemote{chainID: "otherchain", height: 5}
	peer := NewPeer("peer1", remote, 2, time.Minute)
	s := NewSyncer(local, time.Hour, 10, testLogger(t), peer)
	defer s.Close()

	s.SyncNow()
	s.SyncNow()
	if len(local.accepted) != 0 {
		t.Fatal("imported blocks from a foreign chain")
	}
	if !peer.breaker.Open() {
		t.Fatal("breaker stayed closed against a foreign chain")
	}
}

// TestSyncerBreakerSkipsFailingPeer checks that a peer whose breaker opened is
// not called again until the cooldown.
func TestSyncerBreakerSkipsFailingPeer(t *testing.T) {
	local := &fakeChain{chainID: "testchain", height: 0}
	remote := &fakeRemote{chainID: "testchain", height: 5, headErr: errors.New("connection refused")}
	peer := NewPeer("peer1", remote, 2, time.Minute)
	s := NewSyncer(local, time.Hour, 10, testLogger(t), peer)
	defer s.Close()

	s.SyncNow()
	s.SyncNow()
	if remote.headCalls != 2 {
		t.Fatal("head calls before the breaker opened:", remote.headCalls)
	}
	// The breaker is open now; further passes skip the peer.
	s.SyncNow()
	s.SyncNow()
	if remote.headCalls != 2 {
		t.Fatal("open breaker did not skip the peer, calls:", remote.headCalls)
	}

	// After the remote recovers and the cooldown elapses, sync resumes.
	remote.headErr = nil
	peer.breaker.openedAt = time.Now().Add(-2 * time.Minute)
	s.SyncNow()
	if local.height != 5 {
		t.Fatal("sync did not resume after recovery, height:", local.height)
	}
}
