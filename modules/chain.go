package modules

import (
	"errors"

	"github.com/oib/AITBC-sub002/types"
)

var (
	// ErrOrphanBlock is returned by AcceptBlock when a block's parent is
	// not known; the sync worker reacts by pulling a deeper range.
	ErrOrphanBlock = errors.New("block parent is not known")
	// ErrDuplicateBlock is returned by AcceptBlock for blocks the node has
	// already seen. Range imports treat it as benign.
	ErrDuplicateBlock = errors.New("block is already known")
)

type (
	// ChainInfo summarizes the node's view of the canonical chain.
	ChainInfo struct {
		ChainID string            `json:"chain_id"`
		Height  types.BlockHeight `json:"height"`
		HeadID  types.BlockID     `json:"head_id"`
	}

	// A Chain is a proof-of-authority chain node. It validates and orders
	// transactions, produces blocks when it holds the proposer key, and
	// imports blocks from peers.
	Chain interface {
		// AcceptTransaction validates a transaction optimistically and
		// admits it to the mempool. Admission does not guarantee
		// inclusion; transactions are re-validated at block build time.
		AcceptTransaction(types.Transaction) error

		// AcceptBlock validates a block received from a peer and applies
		// it, possibly triggering a reorg if the block extends a longer
		// side chain.
		AcceptBlock(types.Block) error

		// Head returns the canonical head.
		Head() ChainInfo

		// BlockAtHeight returns the canonical block at the given height.
		BlockAtHeight(types.BlockHeight) (types.Block, bool)

		// BlockByID returns a block by header hash, canonical or not.
		BlockByID(types.BlockID) (types.Block, bool)

		// Account returns the current state of an account. Missing
		// accounts are returned as zero-value accounts with ok == false.
		Account(types.Address) (types.Account, bool)

		// Transaction returns an included or pending transaction and its
		// status.
		Transaction(types.TransactionID) (types.Transaction, types.TxStatus, bool)

		// PendingTransactions returns the current mempool contents in
		// drain order.
		PendingTransactions() []types.Transaction

		// Close shuts the chain node down.
		Close() error
	}
)
