package chain

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/oib/AITBC-sub002/crypto"
	"github.com/oib/AITBC-sub002/modules"
	"github.com/oib/AITBC-sub002/types"
)

// chainTester bundles a node with the keys funded by its genesis.
type chainTester struct {
	node     *Node
	proposer crypto.SecretKey
	client   crypto.SecretKey
	miner    crypto.SecretKey
}

// newChainTester creates a manual-sealing node whose genesis funds a client
// and a miner account.
func newChainTester(t *testing.T, opts Options) *chainTester {
	t.Helper()
	proposerSK, _ := crypto.GenerateKeyPair()
	clientSK, _ := crypto.GenerateKeyPair()
	minerSK, _ := crypto.GenerateKeyPair()

	g := Genesis{
		ChainID:   "test-chain",
		Timestamp: 1000,
		Allocations: []GenesisAlloc{
			{Address: types.AddressFromKey(clientSK.PublicKey()), Balance: 1000},
			{Address: types.AddressFromKey(minerSK.PublicKey()), Balance: 1000},
		},
	}
	opts.ChainID = g.ChainID
	opts.ProposerKey = &proposerSK
	opts.ManualSealing = true
	n, err := New(g, opts, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { n.Close() })
	return &chainTester{node: n, proposer: proposerSK, client: clientSK, miner: minerSK}
}

// transfer builds and signs a transfer from sk.
func transfer(t *testing.T, sk crypto.SecretKey, to types.Address, amount, fee, nonce uint64) types.Transaction {
	t.Helper()
	tx := types.Transaction{
		Type:   types.TxTransfer,
		Nonce:  nonce,
		Fee:    fee,
		To:     to,
		Amount: amount,
	}
	if err := tx.Sign(sk); err != nil {
		t.Fatal(err)
	}
	return tx
}

// claim builds a receipt signed by the miner and wraps it in a signed
// RECEIPT_CLAIM from the miner's account.
func claim(t *testing.T, miner crypto.SecretKey, receiptID string, units, price, fee, nonce uint64) types.Transaction {
	t.Helper()
	r := types.Receipt{
		Version:      types.ReceiptVersion,
		ReceiptID:    receiptID,
		JobID:        "job-" + receiptID,
		MinerAddr:    types.AddressFromKey(miner.PublicKey()),
		ComputeUnits: units,
		Price:        price,
		OutputHash:   crypto.HashBytes([]byte("output")),
		StartedAt:    100,
		CompletedAt:  160,
	}
	if err := r.Sign(miner, ""); err != nil {
		t.Fatal(err)
	}
	tx := types.Transaction{
		Type:    types.TxReceiptClaim,
		Nonce:   nonce,
		Fee:     fee,
		Receipt: &r,
	}
	if err := tx.Sign(miner); err != nil {
		t.Fatal(err)
	}
	return tx
}

// TestProposeTransfer seals a block containing one transfer and checks the
// resulting balances and nonces.
func TestProposeTransfer(t *testing.T) {
	ct := newChainTester(t, Options{})
	n := ct.node

	var dest types.Address
	dest[0] = 1
	tx := transfer(t, ct.client, dest, 100, 1, 1)
	if err := n.AcceptTransaction(tx); err != nil {
		t.Fatal(err)
	}

	b, ok := n.ProposeBlock()
	if !ok {
		t.Fatal("expected a block to be produced")
	}
	if b.Height != 1 || len(b.Transactions) != 1 {
		t.Fatal("unexpected block shape", b.Height, len(b.Transactions))
	}
	if n.Head().Height != 1 {
		t.Fatal("head did not advance")
	}

	client, _ := n.Account(types.AddressFromKey(ct.client.PublicKey()))
	if client.Balance != 1000-100-1 {
		t.Fatal("client balance is wrong:", client.Balance)
	}
	if client.Nonce != 1 {
		t.Fatal("client nonce is wrong:", client.Nonce)
	}
	recv, _ := n.Account(dest)
	if recv.Balance != 100 {
		t.Fatal("recipient balance is wrong:", recv.Balance)
	}
	proposer, _ := n.Account(types.AddressFromKey(ct.proposer.PublicKey()))
	if proposer.Balance != 1 {
		t.Fatal("proposer did not collect the fee:", proposer.Balance)
	}

	// The included transaction is queryable.
	txid, err := tx.ID()
	if err != nil {
		t.Fatal(err)
	}
	_, status, found := n.Transaction(txid)
	if !found || status != types.TxStatusIncluded {
		t.Fatal("included transaction not indexed")
	}
}

// TestEmptyMempoolNoBlock checks the strict invariant that an empty mempool
// produces no block, including for a node with the proposer loop running.
func TestEmptyMempoolNoBlock(t *testing.T) {
	ct := newChainTester(t, Options{})
	if _, ok := ct.node.ProposeBlock(); ok {
		t.Fatal("produced a block from an empty mempool")
	}
	if ct.node.Head().Height != 0 {
		t.Fatal("height advanced without transactions")
	}

	// A looping proposer must also hold height at zero across intervals.
	proposerSK, _ := crypto.GenerateKeyPair()
	g := Genesis{ChainID: "idle-chain", Timestamp: 1000}
	n, err := New(g, Options{
		ChainID:       g.ChainID,
		ProposerKey:   &proposerSK,
		BlockInterval: 25 * time.Millisecond,
	}, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer n.Close()
	time.Sleep(100 * time.Millisecond)
	if n.Head().Height != 0 {
		t.Fatal("idle proposer produced a block")
	}
}

// TestReceiptClaimMinting seals a receipt claim and checks the minting
// arithmetic: mint = units * MintPerUnit, split between the miner and the
// coordinator share by the configured ratio. With no attestation address
// configured the coordinator share falls to the proposer.
func TestReceiptClaimMinting(t *testing.T) {
	ct := newChainTester(t, Options{
		MintPerUnit:      1,
		CoordinatorRatio: 0.05,
	})

	tx := claim(t, ct.miner, "rcpt-mint", 1000, 80, 1, 1)
	if err := ct.node.AcceptTransaction(tx); err != nil {
		t.Fatal(err)
	}
	if _, ok := ct.node.ProposeBlock(); !ok {
		t.Fatal("expected a block")
	}

	miner, _ := ct.node.Account(types.AddressFromKey(ct.miner.PublicKey()))
	// 1000 genesis - 1 fee + 950 mint share.
	if miner.Balance != 1000-1+950 {
		t.Fatal("miner balance is wrong:", miner.Balance)
	}
	proposer, _ := ct.node.Account(types.AddressFromKey(ct.proposer.PublicKey()))
	// 1 fee + 50 coordinator share.
	if proposer.Balance != 51 {
		t.Fatal("proposer balance is wrong:", proposer.Balance)
	}
	if !ct.node.ReceiptIncluded("rcpt-mint") {
		t.Fatal("receipt not recorded as included")
	}
}

// TestReceiptReplay checks that a second claim with the same receipt_id is
// rejected with CONFLICT both from the mempool and after inclusion, leaving
// height and balances unchanged.
func TestReceiptReplay(t *testing.T) {
	ct := newChainTester(t, Options{})
	n := ct.node

	tx1 := claim(t, ct.miner, "rcpt-replay", 10, 5, 1, 1)
	if err := n.AcceptTransaction(tx1); err != nil {
		t.Fatal(err)
	}

	// Replay while still pending.
	tx2 := claim(t, ct.miner, "rcpt-replay", 10, 5, 2, 2)
	err := n.AcceptTransaction(tx2)
	if types.CodeOf(err) != types.ErrCodeConflict {
		t.Fatal("expected CONFLICT for pending replay, got", err)
	}

	if _, ok := n.ProposeBlock(); !ok {
		t.Fatal("expected a block")
	}
	height := n.Head().Height
	minerBefore, _ := n.Account(types.AddressFromKey(ct.miner.PublicKey()))

	// Replay after inclusion.
	err = n.AcceptTransaction(tx2)
	if types.CodeOf(err) != types.ErrCodeConflict {
		t.Fatal("expected CONFLICT for included replay, got", err)
	}
	if _, ok := n.ProposeBlock(); ok {
		t.Fatal("replay produced a block")
	}
	if n.Head().Height != height {
		t.Fatal("height changed after replay")
	}
	minerAfter, _ := n.Account(types.AddressFromKey(ct.miner.PublicKey()))
	if minerAfter.Balance != minerBefore.Balance {
		t.Fatal("miner balance changed after replay")
	}
}

// TestNonceGap checks that transactions with stale or skipped nonces are
// rejected.
func TestNonceGap(t *testing.T) {
	ct := newChainTester(t, Options{})
	var dest types.Address
	dest[0] = 2

	if err := ct.node.AcceptTransaction(transfer(t, ct.client, dest, 1, 1, 3)); err == nil {
		t.Fatal("accepted a transaction with a skipped nonce")
	}
	if err := ct.node.AcceptTransaction(transfer(t, ct.client, dest, 1, 1, 1)); err != nil {
		t.Fatal(err)
	}
	// Chained nonce is accepted optimistically while nonce 1 is pending.
	if err := ct.node.AcceptTransaction(transfer(t, ct.client, dest, 1, 1, 2)); err != nil {
		t.Fatal(err)
	}
	if _, ok := ct.node.ProposeBlock(); !ok {
		t.Fatal("expected a block")
	}
	// Nonce 1 is now stale.
	if err := ct.node.AcceptTransaction(transfer(t, ct.client, dest, 1, 1, 1)); err == nil {
		t.Fatal("accepted a stale nonce")
	}
}

// TestImportAndTrustedProposers checks block import into a follower node and
// rejection of blocks signed by proposers outside the trusted set.
func TestImportAndTrustedProposers(t *testing.T) {
	ct := newChainTester(t, Options{})
	var dest types.Address
	dest[0] = 3
	if err := ct.node.AcceptTransaction(transfer(t, ct.client, dest, 10, 1, 1)); err != nil {
		t.Fatal(err)
	}
	b, ok := ct.node.ProposeBlock()
	if !ok {
		t.Fatal("expected a block")
	}

	// A follower trusting this proposer accepts the block.
	follower, err := New(Genesis{
		ChainID:   "test-chain",
		Timestamp: 1000,
		Allocations: []GenesisAlloc{
			{Address: types.AddressFromKey(ct.client.PublicKey()), Balance: 1000},
			{Address: types.AddressFromKey(ct.miner.PublicKey()), Balance: 1000},
		},
	}, Options{
		ChainID:          "test-chain",
		TrustedProposers: []types.Address{types.AddressFromKey(ct.proposer.PublicKey())},
	}, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer follower.Close()

	if err := follower.AcceptBlock(b); err != nil {
		t.Fatal(err)
	}
	if !errors.Is(follower.AcceptBlock(b), modules.ErrDuplicateBlock) {
		t.Fatal("expected duplicate block error")
	}
	if follower.Head().HeadID != ct.node.Head().HeadID {
		t.Fatal("follower head does not match proposer head")
	}

	// A follower trusting a different proposer rejects the block.
	otherSK, _ := crypto.GenerateKeyPair()
	stranger, err := New(Genesis{
		ChainID:   "test-chain",
		Timestamp: 1000,
		Allocations: []GenesisAlloc{
			{Address: types.AddressFromKey(ct.client.PublicKey()), Balance: 1000},
			{Address: types.AddressFromKey(ct.miner.PublicKey()), Balance: 1000},
		},
	}, Options{
		ChainID:          "test-chain",
		TrustedProposers: []types.Address{types.AddressFromKey(otherSK.PublicKey())},
	}, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer stranger.Close()
	if err := stranger.AcceptBlock(b); types.CodeOf(err) != types.ErrCodeConsensus {
		t.Fatal("expected CONSENSUS rejection, got", err)
	}
	if stranger.Head().Height != 0 {
		t.Fatal("rejected block moved the head")
	}
}

// forkedPair builds two nodes that share a genesis and one common block, then
// diverge: a gets aBlocks more blocks, b gets bBlocks. It returns both nodes
// and a's blocks above the common ancestor.
func forkedPair(t *testing.T, aBlocks, bBlocks int, opts Options) (a, b *Node, aBranch []types.Block) {
	t.Helper()
	ct := newChainTester(t, opts)
	a = ct.node

	g := Genesis{
		ChainID:   "test-chain",
		Timestamp: 1000,
		Allocations: []GenesisAlloc{
			{Address: types.AddressFromKey(ct.client.PublicKey()), Balance: 1000},
			{Address: types.AddressFromKey(ct.miner.PublicKey()), Balance: 1000},
		},
	}
	bProposer, _ := crypto.GenerateKeyPair()
	bOpts := opts
	bOpts.ChainID = g.ChainID
	bOpts.ProposerKey = &bProposer
	bOpts.ManualSealing = true
	b, err := New(g, bOpts, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { b.Close() })

	var dest types.Address
	dest[0] = 4

	// Shared block 1.
	common := transfer(t, ct.client, dest, 1, 1, 1)
	if err := a.AcceptTransaction(common); err != nil {
		t.Fatal(err)
	}
	blk, ok := a.ProposeBlock()
	if !ok {
		t.Fatal("expected common block")
	}
	if err := b.AcceptBlock(blk); err != nil {
		t.Fatal(err)
	}

	// Diverge: a spends client nonces 2.., b spends miner nonces 1..
	nonce := uint64(2)
	for i := 0; i < aBlocks; i++ {
		if err := a.AcceptTransaction(transfer(t, ct.client, dest, 1, 1, nonce)); err != nil {
			t.Fatal(err)
		}
		blk, ok := a.ProposeBlock()
		if !ok {
			t.Fatal("expected a-branch block")
		}
		aBranch = append(aBranch, blk)
		nonce++
	}
	for i := 0; i < bBlocks; i++ {
		if err := b.AcceptTransaction(transfer(t, ct.miner, dest, 1, 1, uint64(i+1))); err != nil {
			t.Fatal(err)
		}
		if _, ok := b.ProposeBlock(); !ok {
			t.Fatal("expected b-branch block")
		}
	}
	return a, b, aBranch
}

// TestReorg forks two nodes and checks that the shorter side adopts the
// longer chain, with balances matching a clean replay.
func TestReorg(t *testing.T) {
	a, b, aBranch := forkedPair(t, 3, 1, Options{})

	// Feed a's branch to b. The first blocks land on a side chain; the
	// last one makes it longer and triggers the reorg.
	for _, blk := range aBranch {
		if err := b.AcceptBlock(blk); err != nil {
			t.Fatal(err)
		}
	}
	if b.Head().HeadID != a.Head().HeadID {
		t.Fatal("reorg did not converge on the longer chain")
	}

	// Balances and nonces on b must equal a's for every touched account.
	for _, blk := range aBranch {
		for _, tx := range blk.Transactions {
			want, _ := a.Account(tx.Sender)
			got, _ := b.Account(tx.Sender)
			if want.Balance != got.Balance || want.Nonce != got.Nonce {
				t.Fatal("account state diverges after reorg")
			}
		}
	}

	// The reverted b-branch transaction spends a miner nonce that is still
	// valid on the new chain, so it is readmitted.
	if len(b.PendingTransactions()) != 1 {
		t.Fatal("reverted transaction was not readmitted")
	}
}

// TestReorgDepthLimit checks the boundary: a reorg of exactly the limit is
// applied, one block deeper is rejected.
func TestReorgDepthLimit(t *testing.T) {
	const limit = 4

	// Depth == limit: applied.
	a, b, aBranch := forkedPair(t, limit+1, limit, Options{ReorgDepthLimit: limit})
	for _, blk := range aBranch {
		if err := b.AcceptBlock(blk); err != nil {
			t.Fatal(err)
		}
	}
	if b.Head().HeadID != a.Head().HeadID {
		t.Fatal("reorg at the depth limit was not applied")
	}

	// Depth == limit+1: rejected, local chain retained.
	a, b, aBranch = forkedPair(t, limit+2, limit+1, Options{ReorgDepthLimit: limit})
	before := b.Head()
	var lastErr error
	for _, blk := range aBranch {
		lastErr = b.AcceptBlock(blk)
	}
	if types.CodeOf(lastErr) != types.ErrCodeConsensus {
		t.Fatal("expected CONSENSUS rejection, got", lastErr)
	}
	if b.Head().HeadID != before.HeadID {
		t.Fatal("rejected reorg moved the head")
	}
	_ = a
}

// TestOversizedTransactionNeverSeals checks both guards around the block size
// cap: a transaction larger than the cap is refused at admission, and one that
// slips into the pool anyway is discarded at drain time rather than sealed
// into a block no follower would accept.
func TestOversizedTransactionNeverSeals(t *testing.T) {
	ct := newChainTester(t, Options{MaxBlockSizeBytes: 2048})
	n := ct.node

	big := claim(t, ct.miner, strings.Repeat("x", 4096), 10, 5, 1, 1)
	if err := n.AcceptTransaction(big); types.CodeOf(err) != types.ErrCodeValidation {
		t.Fatal("expected VALIDATION for an oversized transaction, got", err)
	}
	if n.mp.len() != 0 {
		t.Fatal("oversized transaction was pooled")
	}

	// Force it into the pool past admission, alongside a small transfer.
	id, err := big.ID()
	if err != nil {
		t.Fatal(err)
	}
	if err := n.mp.add(big, id); err != nil {
		t.Fatal(err)
	}
	var dest types.Address
	dest[0] = 5
	small := transfer(t, ct.client, dest, 10, 1, 1)
	if err := n.AcceptTransaction(small); err != nil {
		t.Fatal(err)
	}

	b, ok := n.ProposeBlock()
	if !ok {
		t.Fatal("expected a block")
	}
	if len(b.Transactions) != 1 || b.Transactions[0].Type != types.TxTransfer {
		t.Fatal("sealed block does not hold exactly the small transfer")
	}
	if n.mp.len() != 0 {
		t.Fatal("oversized transaction survived the drain")
	}

	// A follower with the same cap accepts the sealed block.
	follower, err := New(Genesis{
		ChainID:   "test-chain",
		Timestamp: 1000,
		Allocations: []GenesisAlloc{
			{Address: types.AddressFromKey(ct.client.PublicKey()), Balance: 1000},
			{Address: types.AddressFromKey(ct.miner.PublicKey()), Balance: 1000},
		},
	}, Options{ChainID: "test-chain", MaxBlockSizeBytes: 2048}, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer follower.Close()
	if err := follower.AcceptBlock(b); err != nil {
		t.Fatal("follower rejected the sealed block:", err)
	}
}

// TestEmptyBlockRejected checks that an imported block with no transactions
// is rejected even when correctly signed.
func TestEmptyBlockRejected(t *testing.T) {
	ct := newChainTester(t, Options{})
	n := ct.node

	head, _ := n.BlockAtHeight(0)
	empty := types.Block{
		ParentID:  head.ID(),
		Height:    1,
		Timestamp: types.CurrentTimestamp(),
	}
	empty.Sign(ct.proposer)
	err := n.AcceptBlock(empty)
	if !errors.Is(err, types.ErrEmptyBlock) && types.CodeOf(err) != types.ErrCodeConsensus {
		t.Fatal("expected empty block rejection, got", err)
	}
	if n.Head().Height != 0 {
		t.Fatal("empty block moved the head")
	}
}
