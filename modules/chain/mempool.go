package chain

// mempool.go holds the pending transaction set. The pool is a bag with a
// drain order of (fee desc, arrival asc); it enforces transaction and receipt
// uniqueness so that replays are rejected before they ever reach a block.

import (
	"sort"
	"sync"

	"github.com/oib/AITBC-sub002/types"
)

type (
	// A poolTx is a pending transaction with its arrival sequence.
	poolTx struct {
		tx      types.Transaction
		id      types.TransactionID
		arrival uint64
	}

	// A mempool is the pending transaction set. Multiple RPC handlers
	// write; the proposer loop is the single drainer.
	mempool struct {
		mu       sync.Mutex
		txs      map[types.TransactionID]*poolTx
		receipts map[string]types.TransactionID
		arrivals uint64
	}
)

func newMempool() *mempool {
	return &mempool{
		txs:      make(map[types.TransactionID]*poolTx),
		receipts: make(map[string]types.TransactionID),
	}
}

// add admits a validated transaction. It fails with CONFLICT when the
// transaction or its receipt is already pending.
func (mp *mempool) add(t types.Transaction, id types.TransactionID) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if _, exists := mp.txs[id]; exists {
		return types.NewCodedError(types.ErrCodeConflict, "transaction is already pending")
	}
	if t.Type == types.TxReceiptClaim {
		if _, exists := mp.receipts[t.Receipt.ReceiptID]; exists {
			return types.NewCodedError(types.ErrCodeConflict, "replay: receipt is already pending")
		}
		mp.receipts[t.Receipt.ReceiptID] = id
	}
	mp.arrivals++
	mp.txs[id] = &poolTx{tx: t, id: id, arrival: mp.arrivals}
	return nil
}

// remove deletes a transaction from the pool, if present.
func (mp *mempool) remove(id types.TransactionID) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.removeLocked(id)
}

func (mp *mempool) removeLocked(id types.TransactionID) {
	pt, ok := mp.txs[id]
	if !ok {
		return
	}
	if pt.tx.Type == types.TxReceiptClaim {
		delete(mp.receipts, pt.tx.Receipt.ReceiptID)
	}
	delete(mp.txs, id)
}

// len returns the number of pending transactions.
func (mp *mempool) len() int {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return len(mp.txs)
}

// hasReceipt reports whether a receipt id is pending.
func (mp *mempool) hasReceipt(receiptID string) bool {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	_, ok := mp.receipts[receiptID]
	return ok
}

// get returns a pending transaction by id.
func (mp *mempool) get(id types.TransactionID) (types.Transaction, bool) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	pt, ok := mp.txs[id]
	if !ok {
		return types.Transaction{}, false
	}
	return pt.tx, true
}

// sortedLocked returns the pool contents in drain order. The caller must hold
// mp.mu.
func (mp *mempool) sortedLocked() []*poolTx {
	out := make([]*poolTx, 0, len(mp.txs))
	for _, pt := range mp.txs {
		out = append(out, pt)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].tx.Fee != out[j].tx.Fee {
			return out[i].tx.Fee > out[j].tx.Fee
		}
		return out[i].arrival < out[j].arrival
	})
	return out
}

// pending returns the pool contents in drain order without removing them.
func (mp *mempool) pending() []types.Transaction {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	sorted := mp.sortedLocked()
	out := make([]types.Transaction, len(sorted))
	for i, pt := range sorted {
		out[i] = pt.tx
	}
	return out
}

// pendingFromSender counts pending transactions from one account, used for
// optimistic nonce gating.
func (mp *mempool) pendingFromSender(addr types.Address) int {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	n := 0
	for _, pt := range mp.txs {
		if pt.tx.Sender == addr {
			n++
		}
	}
	return n
}

// drain removes and returns up to maxTxs transactions within maxBytes, in
// drain order. Transactions that do not fit this block stay pooled; a
// transaction that can fit no block at all is discarded.
func (mp *mempool) drain(maxTxs, maxBytes int) []types.Transaction {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	var out []types.Transaction
	var bytes int
	for _, pt := range mp.sortedLocked() {
		if len(out) >= maxTxs {
			break
		}
		size := pt.tx.MarshalSize()
		if size > maxBytes {
			mp.removeLocked(pt.id)
			continue
		}
		if bytes+size > maxBytes {
			continue
		}
		bytes += size
		out = append(out, pt.tx)
		mp.removeLocked(pt.id)
	}
	return out
}
