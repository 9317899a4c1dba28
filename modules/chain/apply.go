package chain

// apply.go performs the state transition for a block and records the undo
// diff that makes the transition reversible during a reorg. Everything in
// this file runs inside a single bolt Update owned by the caller.

import (
	"encoding/binary"
	"sort"

	bolt "github.com/coreos/bbolt"

	"github.com/oib/AITBC-sub002/crypto"
	"github.com/oib/AITBC-sub002/metrics"
	"github.com/oib/AITBC-sub002/types"
)

type (
	// accountBefore snapshots an account's state prior to a block so the
	// block can be reverted. Existed distinguishes restore from delete.
	accountBefore struct {
		Address types.Address `json:"address"`
		Existed bool          `json:"existed"`
		Account types.Account `json:"account"`
	}

	// A blockDiff is the undo record for one applied block.
	blockDiff struct {
		Accounts []accountBefore       `json:"accounts"`
		Receipts []string              `json:"receipts"`
		TxIDs    []types.TransactionID `json:"tx_ids"`
	}
)

// boltView adapts a bolt transaction to the stateView interface.
type boltView struct {
	tx *bolt.Tx
}

func (v boltView) account(addr types.Address) (types.Account, bool) {
	return dbGetAccount(v.tx, addr)
}

func (v boltView) receiptIncluded(receiptID string) bool {
	return dbReceiptIncluded(v.tx, receiptID)
}

// applyTxStaged mutates the staged state with the effects of a validated
// transaction. proposer receives the fee; minting follows the configured
// ratio.
func (n *Node) applyTxStaged(staged *stagedState, t types.Transaction, proposer types.Address) {
	sender, _ := staged.account(t.Sender)
	sender.Address = t.Sender
	sender.Nonce = t.Nonce
	sender.PubKey = t.SenderKey
	sender.Balance -= t.Fee
	if t.Type == types.TxTransfer {
		sender.Balance -= t.Amount
	}
	staged.setAccount(sender)

	staged.credit(proposer, t.Fee)

	switch t.Type {
	case types.TxTransfer:
		staged.credit(t.To, t.Amount)
	case types.TxReceiptClaim:
		r := *t.Receipt
		mint := r.ComputeUnits * n.mintPerUnit
		coordShare := uint64(float64(mint) * n.coordinatorRatio)
		minerShare := mint - coordShare
		staged.credit(r.MinerAddr, minerShare)
		if coordShare > 0 {
			treasury := n.attestationAddr
			if treasury.IsZero() {
				treasury = proposer
			}
			staged.credit(treasury, coordShare)
		}
		staged.addReceipt(r.ReceiptID)
		metrics.TokensMinted.Add(float64(mint))
	}
}

// stateRootWithOverlay hashes the full account state as of tx plus the staged
// overlay: sha256 over (address | balance | nonce) in address order.
func stateRootWithOverlay(tx *bolt.Tx, overlay map[types.Address]types.Account) crypto.Hash {
	accounts := make(map[types.Address]types.Account)
	c := tx.Bucket(bucketAccounts).Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		var addr types.Address
		copy(addr[:], k)
		if a, ok := dbGetAccount(tx, addr); ok {
			accounts[addr] = a
		}
	}
	for addr, a := range overlay {
		accounts[addr] = a
	}

	addrs := make([]types.Address, 0, len(accounts))
	for addr := range accounts {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool {
		return string(addrs[i][:]) < string(addrs[j][:])
	})

	var data []byte
	var scratch [8]byte
	for _, addr := range addrs {
		a := accounts[addr]
		// Accounts that ended at zero balance and zero nonce still count;
		// determinism matters more than compactness here.
		data = append(data, addr[:]...)
		binary.BigEndian.PutUint64(scratch[:], a.Balance)
		data = append(data, scratch[:]...)
		binary.BigEndian.PutUint64(scratch[:], a.Nonce)
		data = append(data, scratch[:]...)
	}
	return crypto.HashBytes(data)
}

// stageBlock validates and applies every transaction of b against the state
// in tx, returning the staged overlay. The boundary between optimistic
// mempool acceptance and inclusion is here: anything that fails now is
// dropped from the block or fails the import.
func (n *Node) stageBlock(tx *bolt.Tx, b types.Block) (*stagedState, error) {
	staged := newStagedState(boltView{tx})
	for _, t := range b.Transactions {
		if err := n.validateTx(t, staged, 0); err != nil {
			return nil, err
		}
		n.applyTxStaged(staged, t, b.Proposer)
	}
	return staged, nil
}

// commitBlock validates b as the new canonical head, writes its state delta,
// undo diff, and indexes, and advances the head. The caller has already
// checked the header against the parent.
func (n *Node) commitBlock(tx *bolt.Tx, b types.Block) error {
	staged, err := n.stageBlock(tx, b)
	if err != nil {
		return err
	}
	root := stateRootWithOverlay(tx, staged.accounts)
	if b.StateRoot != root {
		return types.NewCodedError(types.ErrCodeConsensus, "block state root does not match the computed state")
	}

	blockID := b.ID()
	diff := blockDiff{}
	for addr := range staged.accounts {
		before, existed := dbGetAccount(tx, addr)
		diff.Accounts = append(diff.Accounts, accountBefore{
			Address: addr,
			Existed: existed,
			Account: before,
		})
	}
	for receiptID := range staged.receipts {
		diff.Receipts = append(diff.Receipts, receiptID)
	}

	for _, a := range staged.accounts {
		if err := dbPutAccount(tx, a); err != nil {
			return err
		}
	}
	for receiptID := range staged.receipts {
		if err := dbPutReceipt(tx, receiptID, blockID); err != nil {
			return err
		}
	}
	for _, t := range b.Transactions {
		txid, err := t.ID()
		if err != nil {
			return err
		}
		diff.TxIDs = append(diff.TxIDs, txid)
		if err := dbPutTxIndex(tx, txid, blockID); err != nil {
			return err
		}
	}

	if err := dbPutBlock(tx, b); err != nil {
		return err
	}
	if err := dbPutDiff(tx, blockID, diff); err != nil {
		return err
	}
	if err := dbSetCanonical(tx, b.Height, blockID); err != nil {
		return err
	}
	return dbSetHead(tx, blockID)
}

// revertBlock undoes the canonical head block b using its stored diff and
// moves the head back to the parent. Reverted transactions are returned so
// the caller can readmit them to the mempool.
func (n *Node) revertBlock(tx *bolt.Tx, b types.Block) ([]types.Transaction, error) {
	blockID := b.ID()
	diff, ok := dbGetDiff(tx, blockID)
	if !ok {
		return nil, types.NewCodedError(types.ErrCodeConsensus, "no undo diff for block being reverted")
	}
	for _, before := range diff.Accounts {
		if before.Existed {
			if err := dbPutAccount(tx, before.Account); err != nil {
				return nil, err
			}
		} else if err := dbDeleteAccount(tx, before.Address); err != nil {
			return nil, err
		}
	}
	for _, receiptID := range diff.Receipts {
		if err := dbDeleteReceipt(tx, receiptID); err != nil {
			return nil, err
		}
	}
	for _, txid := range diff.TxIDs {
		if err := dbDeleteTxIndex(tx, txid); err != nil {
			return nil, err
		}
	}
	if err := dbUnsetCanonical(tx, b.Height); err != nil {
		return nil, err
	}
	if err := dbSetHead(tx, b.ParentID); err != nil {
		return nil, err
	}
	return b.Transactions, nil
}
