package chain

// node.go assembles the chain node: the database, the mempool, the proposer
// loop, and block import with longest-chain fork resolution. The node holds
// one lock across every head mutation, so the canonical chain only ever moves
// under a single writer; readers go straight to the database.

import (
	"encoding/json"
	"path/filepath"
	"sync"
	"time"

	bolt "github.com/coreos/bbolt"

	"github.com/oib/AITBC-sub002/crypto"
	"github.com/oib/AITBC-sub002/metrics"
	"github.com/oib/AITBC-sub002/modules"
	"github.com/oib/AITBC-sub002/persist"
	siasync "github.com/oib/AITBC-sub002/sync"
	"github.com/oib/AITBC-sub002/types"
)

const (
	logFile = "chain.log"
	dbFile  = "chain.db"
)

type (
	// An Attestor confirms coordinator-side facts about a receipt: that the
	// job existed and its escrow covered the price. The coordinator
	// implements it directly in single-binary deployments; multi-site
	// deployments use an HTTP client against the coordinator's RPC.
	Attestor interface {
		Attest(receiptID, jobID string, price uint64) (types.Attestation, error)
	}

	// A ReceiptProofVerifier checks the optional zk proof carried in a
	// receipt's metadata.
	ReceiptProofVerifier interface {
		VerifyReceipt(types.Receipt) error
	}

	// Options carries the chain parameters. Zero values fall back to the
	// protocol defaults in the types package.
	Options struct {
		ChainID           string
		ProposerKey       *crypto.SecretKey
		MintPerUnit       uint64
		CoordinatorRatio  float64
		MinFee            uint64
		BlockInterval     time.Duration
		MaxTxsPerBlock    int
		MaxBlockSizeBytes int
		MaxComputeUnits   uint64
		MaxReceiptPrice   uint64
		ReorgDepthLimit   types.BlockHeight
		// ManualSealing disables the proposer loop; blocks are only
		// produced through explicit ProposeBlock calls. Tests and
		// single-shot tools use it to control exactly what lands in
		// each block.
		ManualSealing    bool
		TrustedProposers []types.Address
		AttestationAddr   types.Address
		Attestor          Attestor
		ZK                ReceiptProofVerifier
		Broker            modules.Broker
	}

	// A Node is the proof-of-authority chain node.
	Node struct {
		chainID     string
		proposerKey *crypto.SecretKey

		mintPerUnit       uint64
		coordinatorRatio  float64
		minFee            uint64
		blockInterval     time.Duration
		maxTxsPerBlock    int
		maxBlockSizeBytes int
		maxComputeUnits   uint64
		maxReceiptPrice   uint64
		reorgDepthLimit   types.BlockHeight
		trustedProposers  map[types.Address]struct{}
		attestationAddr   types.Address
		attestor          Attestor
		zk                ReceiptProofVerifier
		broker            modules.Broker

		db *persist.BoltDatabase
		mp *mempool

		// mu serializes every head mutation: local block production,
		// imports, and reorgs.
		mu   sync.RWMutex
		head types.Block

		log *persist.Logger
		tg  siasync.ThreadGroup
	}
)

// New opens (or initializes) the chain at persistDir and starts the proposer
// loop when a proposer key is configured.
func New(g Genesis, opts Options, persistDir string) (*Node, error) {
	if err := persist.MkdirAll(persistDir); err != nil {
		return nil, err
	}
	log, err := persist.NewLogger(filepath.Join(persistDir, logFile))
	if err != nil {
		return nil, err
	}
	db, err := openDB(filepath.Join(persistDir, dbFile))
	if err != nil {
		log.Close()
		return nil, err
	}

	n := &Node{
		chainID:           g.ChainID,
		proposerKey:       opts.ProposerKey,
		mintPerUnit:       opts.MintPerUnit,
		coordinatorRatio:  opts.CoordinatorRatio,
		minFee:            opts.MinFee,
		blockInterval:     opts.BlockInterval,
		maxTxsPerBlock:    opts.MaxTxsPerBlock,
		maxBlockSizeBytes: opts.MaxBlockSizeBytes,
		maxComputeUnits:   opts.MaxComputeUnits,
		maxReceiptPrice:   opts.MaxReceiptPrice,
		reorgDepthLimit:   opts.ReorgDepthLimit,
		trustedProposers:  make(map[types.Address]struct{}),
		attestationAddr:   opts.AttestationAddr,
		attestor:          opts.Attestor,
		zk:                opts.ZK,
		broker:            opts.Broker,
		db:                db,
		mp:                newMempool(),
		log:               log,
	}
	if n.mintPerUnit == 0 {
		n.mintPerUnit = types.MintPerUnit
	}
	if n.minFee == 0 {
		n.minFee = types.MinFee
	}
	if n.blockInterval == 0 {
		n.blockInterval = types.BlockInterval
	}
	if n.maxTxsPerBlock == 0 {
		n.maxTxsPerBlock = types.MaxTxsPerBlock
	}
	if n.maxBlockSizeBytes == 0 {
		n.maxBlockSizeBytes = types.MaxBlockSizeBytes
	}
	if n.maxComputeUnits == 0 {
		n.maxComputeUnits = types.MaxComputeUnitsPerReceipt
	}
	if n.maxReceiptPrice == 0 {
		n.maxReceiptPrice = types.MaxReceiptPrice
	}
	if n.reorgDepthLimit == 0 {
		n.reorgDepthLimit = types.ReorgDepthLimit
	}
	for _, addr := range opts.TrustedProposers {
		n.trustedProposers[addr] = struct{}{}
	}

	if err := n.initGenesis(g); err != nil {
		db.Close()
		log.Close()
		return nil, err
	}

	n.tg.AfterStop(func() {
		n.db.Close()
		n.log.Close()
	})
	if n.proposerKey != nil && !opts.ManualSealing {
		go n.threadedProposerLoop()
	}
	return n, nil
}

// initGenesis applies the genesis state to an empty database, or verifies
// that an existing database was built from the same genesis.
func (n *Node) initGenesis(g Genesis) error {
	genesisBlock := g.Block()
	genesisID := genesisBlock.ID()
	return n.db.Update(func(tx *bolt.Tx) error {
		if stored, ok := dbGetGenesisID(tx); ok {
			if stored != genesisID {
				return ErrGenesisMismatch
			}
			headID, _ := dbGetHead(tx)
			head, ok := dbGetBlock(tx, headID)
			if !ok {
				return ErrGenesisMismatch
			}
			n.head = head
			return nil
		}
		for _, alloc := range g.Allocations {
			if err := dbPutAccount(tx, types.Account{
				Address: alloc.Address,
				Balance: alloc.Balance,
			}); err != nil {
				return err
			}
		}
		if err := dbPutBlock(tx, genesisBlock); err != nil {
			return err
		}
		if err := dbSetCanonical(tx, 0, genesisID); err != nil {
			return err
		}
		if err := dbSetGenesisID(tx, genesisID); err != nil {
			return err
		}
		if err := dbSetHead(tx, genesisID); err != nil {
			return err
		}
		n.head = genesisBlock
		return nil
	})
}

// AcceptTransaction implements modules.Chain. Validation here is optimistic:
// the transaction is checked against the current canonical state plus a nonce
// slack for the sender's other pending transactions, then re-validated at
// block build time.
func (n *Node) AcceptTransaction(t types.Transaction) error {
	id, err := t.ID()
	if err != nil {
		return types.WrapCoded(types.ErrCodeValidation, err)
	}
	if t.MarshalSize() > n.maxBlockSizeBytes {
		// A transaction that cannot fit in any block must never pool:
		// sealing it would produce a block every peer rejects.
		return types.NewCodedError(types.ErrCodeValidation, "transaction exceeds the block size cap")
	}
	if t.Type == types.TxReceiptClaim && n.mp.hasReceipt(t.Receipt.ReceiptID) {
		return types.NewCodedError(types.ErrCodeConflict, "replay: receipt is already pending")
	}

	slack := uint64(n.mp.pendingFromSender(t.Sender))
	err = n.db.View(func(tx *bolt.Tx) error {
		return n.validateTx(t, boltView{tx}, slack)
	})
	if err != nil {
		metrics.TxsRejected.WithLabelValues(string(types.CodeOf(err))).Inc()
		return err
	}
	if err := n.mp.add(t, id); err != nil {
		return err
	}
	n.publishTx(t)
	return nil
}

// AcceptBlock implements modules.Chain. Blocks extending the head are
// committed directly; blocks on a side chain are stored, and adopted through
// a reorg once the side chain is strictly longer than the canonical chain.
func (n *Node) AcceptBlock(b types.Block) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	var included, reverted []types.Transaction
	var newHead types.Block
	adopted := false

	err := n.db.Update(func(tx *bolt.Tx) error {
		id := b.ID()
		if _, ok := dbGetBlock(tx, id); ok {
			return modules.ErrDuplicateBlock
		}
		parent, ok := dbGetBlock(tx, b.ParentID)
		if !ok {
			return modules.ErrOrphanBlock
		}
		if err := n.validateBlockHeader(b, parent); err != nil {
			return err
		}

		if b.ParentID == n.head.ID() {
			if err := n.commitBlock(tx, b); err != nil {
				return err
			}
			included = b.Transactions
			newHead = b
			adopted = true
			return nil
		}

		// Side chain. Store the block; adopt only when it makes the side
		// chain strictly longer than the canonical one.
		if err := dbPutBlock(tx, b); err != nil {
			return err
		}
		if b.Height <= n.head.Height {
			return nil
		}
		inc, rev, err := n.reorgTo(tx, b)
		if err != nil {
			return err
		}
		included, reverted = inc, rev
		newHead = b
		adopted = true
		return nil
	})
	if err != nil {
		if err != modules.ErrDuplicateBlock && err != modules.ErrOrphanBlock {
			metrics.BlocksRejected.Inc()
			n.log.Println("WARN: rejected imported block at height", b.Height, ":", err)
		}
		return err
	}
	if !adopted {
		return nil
	}

	n.head = newHead
	n.pruneMempool(included)
	n.readmit(reverted, included)
	n.publishBlock(newHead)
	return nil
}

// reorgTo rewinds the canonical chain to the common ancestor of tip and
// applies the side chain ending at tip. Everything happens inside the bolt
// Update owned by the caller, so a failure partway through rolls the whole
// reorg back. tip has already been stored and header-validated against its
// immediate parent.
func (n *Node) reorgTo(tx *bolt.Tx, tip types.Block) (included, reverted []types.Transaction, err error) {
	// Walk from tip back to the first block whose parent is canonical.
	branch := []types.Block{tip}
	cur := tip
	for {
		if cur.Height == 0 {
			return nil, nil, types.NewCodedError(types.ErrCodeConsensus, "side chain does not connect to the canonical chain")
		}
		canonID, isCanon := dbCanonicalID(tx, cur.Height-1)
		if isCanon && canonID == cur.ParentID {
			break
		}
		parent, ok := dbGetBlock(tx, cur.ParentID)
		if !ok {
			return nil, nil, modules.ErrOrphanBlock
		}
		branch = append([]types.Block{parent}, branch...)
		cur = parent
	}
	ancestorHeight := branch[0].Height - 1

	depth := n.head.Height - ancestorHeight
	if depth > n.reorgDepthLimit {
		metrics.ReorgsAborted.Inc()
		n.log.Println("ALERT: reorg to height", tip.Height, "requires depth", depth,
			"which exceeds the limit", n.reorgDepthLimit, "- keeping local chain")
		return nil, nil, types.NewCodedError(types.ErrCodeConsensus, "reorg exceeds the depth limit")
	}

	// Revert the canonical suffix, newest first.
	for h := n.head.Height; h > ancestorHeight; h-- {
		id, ok := dbCanonicalID(tx, h)
		if !ok {
			return nil, nil, types.NewCodedError(types.ErrCodeConsensus, "canonical chain has a gap")
		}
		blk, ok := dbGetBlock(tx, id)
		if !ok {
			return nil, nil, types.NewCodedError(types.ErrCodeConsensus, "canonical block is missing from the store")
		}
		txs, err := n.revertBlock(tx, blk)
		if err != nil {
			return nil, nil, err
		}
		reverted = append(reverted, txs...)
	}

	// Apply the branch, oldest first. Each block is fully re-validated
	// against the state it builds on.
	parent, ok := dbGetBlock(tx, branch[0].ParentID)
	if !ok {
		return nil, nil, modules.ErrOrphanBlock
	}
	for _, blk := range branch {
		if err := n.validateBlockHeader(blk, parent); err != nil {
			return nil, nil, err
		}
		if err := n.commitBlock(tx, blk); err != nil {
			return nil, nil, err
		}
		included = append(included, blk.Transactions...)
		parent = blk
	}

	metrics.Reorgs.Inc()
	n.log.Println("reorged to height", tip.Height, "reverting", depth, "blocks")
	return included, reverted, nil
}

// pruneMempool drops transactions that were just included in a block.
func (n *Node) pruneMempool(included []types.Transaction) {
	for _, t := range included {
		if id, err := t.ID(); err == nil {
			n.mp.remove(id)
		}
	}
}

// readmit returns reverted transactions to the mempool after a reorg,
// skipping the ones the new branch re-included and anything that no longer
// validates against the new state.
func (n *Node) readmit(reverted, included []types.Transaction) {
	reincluded := make(map[types.TransactionID]struct{}, len(included))
	for _, t := range included {
		if id, err := t.ID(); err == nil {
			reincluded[id] = struct{}{}
		}
	}
	for _, t := range reverted {
		id, err := t.ID()
		if err != nil {
			continue
		}
		if _, ok := reincluded[id]; ok {
			continue
		}
		err = n.db.View(func(tx *bolt.Tx) error {
			return n.validateTx(t, boltView{tx}, 0)
		})
		if err != nil {
			continue
		}
		n.mp.add(t, id)
	}
}

// threadedProposerLoop produces blocks while the mempool is non-empty. Empty
// ticks produce nothing: block height is only allowed to advance in exchange
// for ordered transactions.
func (n *Node) threadedProposerLoop() {
	if n.tg.Add() != nil {
		return
	}
	defer n.tg.Done()

	for {
		start := time.Now()
		n.ProposeBlock()
		sleep := n.blockInterval - time.Since(start)
		if sleep < 0 {
			sleep = 0
		}
		select {
		case <-n.tg.StopChan():
			return
		case <-time.After(sleep):
		}
	}
}

// ProposeBlock runs one proposer tick: if the mempool holds transactions, it
// drains, re-validates, seals, and commits a block. It returns the sealed
// block and whether one was produced. Tests and the devnet faucet call it
// directly to avoid waiting out the block interval.
func (n *Node) ProposeBlock() (types.Block, bool) {
	if n.proposerKey == nil || n.mp.len() == 0 {
		return types.Block{}, false
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	drained := n.mp.drain(n.maxTxsPerBlock, n.maxBlockSizeBytes)
	if len(drained) == 0 {
		return types.Block{}, false
	}

	var sealed types.Block
	produced := false
	err := n.db.Update(func(tx *bolt.Tx) error {
		// Hard re-validation at build time: anything that fails now is
		// dropped from the block and from the pool.
		staged := newStagedState(boltView{tx})
		var valid []types.Transaction
		for _, t := range drained {
			if err := n.validateTx(t, staged, 0); err != nil {
				metrics.TxsRejected.WithLabelValues(string(types.CodeOf(err))).Inc()
				n.log.Println("dropped transaction at block build:", err)
				continue
			}
			n.applyTxStaged(staged, t, types.AddressFromKey(n.proposerKey.PublicKey()))
			valid = append(valid, t)
		}
		if len(valid) == 0 {
			return nil
		}

		ts := types.CurrentTimestamp()
		if ts < n.head.Timestamp {
			ts = n.head.Timestamp
		}
		b := types.Block{
			ParentID:     n.head.ID(),
			Height:       n.head.Height + 1,
			Timestamp:    ts,
			Transactions: valid,
			StateRoot:    stateRootWithOverlay(tx, staged.accounts),
		}
		b.Sign(*n.proposerKey)

		if err := n.commitBlock(tx, b); err != nil {
			return err
		}
		sealed = b
		produced = true
		return nil
	})
	if err != nil {
		n.log.Critical("block production failed:", err)
		return types.Block{}, false
	}
	if !produced {
		return types.Block{}, false
	}

	n.head = sealed
	metrics.BlocksProduced.Inc()
	metrics.TxsIncluded.Add(float64(len(sealed.Transactions)))
	n.publishBlock(sealed)
	return sealed, true
}

// publishBlock gossips a sealed or imported block.
func (n *Node) publishBlock(b types.Block) {
	if n.broker == nil {
		return
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return
	}
	n.broker.Publish(modules.TopicBlock, raw)
}

// publishTx gossips a newly pooled transaction.
func (n *Node) publishTx(t types.Transaction) {
	if n.broker == nil {
		return
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return
	}
	n.broker.Publish(modules.TopicTx, raw)
}

// Head implements modules.Chain.
func (n *Node) Head() modules.ChainInfo {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return modules.ChainInfo{
		ChainID: n.chainID,
		Height:  n.head.Height,
		HeadID:  n.head.ID(),
	}
}

// BlockAtHeight implements modules.Chain.
func (n *Node) BlockAtHeight(h types.BlockHeight) (b types.Block, ok bool) {
	n.db.View(func(tx *bolt.Tx) error {
		id, found := dbCanonicalID(tx, h)
		if !found {
			return nil
		}
		b, ok = dbGetBlock(tx, id)
		return nil
	})
	return b, ok
}

// BlockByID implements modules.Chain.
func (n *Node) BlockByID(id types.BlockID) (b types.Block, ok bool) {
	n.db.View(func(tx *bolt.Tx) error {
		b, ok = dbGetBlock(tx, id)
		return nil
	})
	return b, ok
}

// BlocksRange returns the canonical blocks in [from, to], inclusive. The
// range is truncated at the head.
func (n *Node) BlocksRange(from, to types.BlockHeight) []types.Block {
	var blocks []types.Block
	n.db.View(func(tx *bolt.Tx) error {
		for h := from; h <= to; h++ {
			id, ok := dbCanonicalID(tx, h)
			if !ok {
				return nil
			}
			b, ok := dbGetBlock(tx, id)
			if !ok {
				return nil
			}
			blocks = append(blocks, b)
		}
		return nil
	})
	return blocks
}

// Account implements modules.Chain.
func (n *Node) Account(addr types.Address) (a types.Account, ok bool) {
	n.db.View(func(tx *bolt.Tx) error {
		a, ok = dbGetAccount(tx, addr)
		return nil
	})
	return a, ok
}

// Transaction implements modules.Chain.
func (n *Node) Transaction(id types.TransactionID) (types.Transaction, types.TxStatus, bool) {
	if t, ok := n.mp.get(id); ok {
		return t, types.TxStatusPending, true
	}
	var t types.Transaction
	found := false
	n.db.View(func(tx *bolt.Tx) error {
		blockID, ok := dbGetTxBlock(tx, id)
		if !ok {
			return nil
		}
		b, ok := dbGetBlock(tx, blockID)
		if !ok {
			return nil
		}
		for _, cand := range b.Transactions {
			if candID, err := cand.ID(); err == nil && candID == id {
				t = cand
				found = true
				return nil
			}
		}
		return nil
	})
	if !found {
		return types.Transaction{}, "", false
	}
	return t, types.TxStatusIncluded, true
}

// PendingTransactions implements modules.Chain.
func (n *Node) PendingTransactions() []types.Transaction {
	return n.mp.pending()
}

// ReceiptIncluded reports whether a receipt id has been claimed on the
// canonical chain or is pending in the mempool.
func (n *Node) ReceiptIncluded(receiptID string) bool {
	if n.mp.hasReceipt(receiptID) {
		return true
	}
	var included bool
	n.db.View(func(tx *bolt.Tx) error {
		included = dbReceiptIncluded(tx, receiptID)
		return nil
	})
	return included
}

// Close implements modules.Chain.
func (n *Node) Close() error {
	return n.tg.Stop()
}
