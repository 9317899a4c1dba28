package chain

// validation.go checks transactions and blocks against a state view. The
// mempool validates optimistically against the current canonical state; block
// building and block import re-validate against the state as of the parent
// block, applied transaction by transaction.

import (
	"github.com/oib/AITBC-sub002/crypto"
	"github.com/oib/AITBC-sub002/types"
)

type (
	// A stateView reads account and receipt state as of some point in the
	// chain. Implementations: the bolt database and the staged overlay
	// used while applying a block.
	stateView interface {
		account(addr types.Address) (types.Account, bool)
		receiptIncluded(receiptID string) bool
	}

	// stagedState overlays in-flight mutations on a base view so that
	// transactions within one block see the effects of their
	// predecessors.
	stagedState struct {
		base     stateView
		accounts map[types.Address]types.Account
		receipts map[string]struct{}
	}
)

func newStagedState(base stateView) *stagedState {
	return &stagedState{
		base:     base,
		accounts: make(map[types.Address]types.Account),
		receipts: make(map[string]struct{}),
	}
}

func (s *stagedState) account(addr types.Address) (types.Account, bool) {
	if a, ok := s.accounts[addr]; ok {
		return a, true
	}
	return s.base.account(addr)
}

func (s *stagedState) receiptIncluded(receiptID string) bool {
	if _, ok := s.receipts[receiptID]; ok {
		return true
	}
	return s.base.receiptIncluded(receiptID)
}

func (s *stagedState) setAccount(a types.Account) {
	s.accounts[a.Address] = a
}

func (s *stagedState) addReceipt(receiptID string) {
	s.receipts[receiptID] = struct{}{}
}

// credit adds amount to an account, creating it if needed.
func (s *stagedState) credit(addr types.Address, amount uint64) {
	a, _ := s.account(addr)
	a.Address = addr
	a.Balance += amount
	s.setAccount(a)
}

// validateTx checks a transaction against a state view. nonceSlack admits
// optimistic mempool acceptance of chained nonces; block-time validation
// passes zero so that nonce == account.nonce + 1 holds exactly.
func (n *Node) validateTx(t types.Transaction, view stateView, nonceSlack uint64) error {
	if err := t.StandaloneValid(); err != nil {
		return types.WrapCoded(types.ErrCodeValidation, err)
	}
	if t.Fee < n.minFee {
		return types.NewCodedError(types.ErrCodeValidation, "fee is below the minimum")
	}

	acct, _ := view.account(t.Sender)
	if t.Nonce <= acct.Nonce || t.Nonce > acct.Nonce+1+nonceSlack {
		return types.NewCodedError(types.ErrCodeConflict, "nonce is not the next nonce for the account")
	}

	needed := t.Fee
	if t.Type == types.TxTransfer {
		needed += t.Amount
	}
	if acct.Balance < needed {
		return types.NewCodedError(types.ErrCodeEscrow, "account balance does not cover the transaction")
	}

	if t.Type == types.TxReceiptClaim {
		return n.validateReceiptClaim(t, view)
	}
	return nil
}

// validateReceiptClaim runs the receipt-specific checks: receipt signature,
// optional zk proof, uniqueness, coordinator attestation, and economic
// bounds.
func (n *Node) validateReceiptClaim(t types.Transaction, view stateView) error {
	r := *t.Receipt

	if r.ComputeUnits > n.maxComputeUnits {
		return types.NewCodedError(types.ErrCodeValidation, "receipt compute_units exceed the configured bound")
	}
	if r.Price > n.maxReceiptPrice {
		return types.NewCodedError(types.ErrCodeValidation, "receipt price exceeds the configured bound")
	}
	if view.receiptIncluded(r.ReceiptID) {
		return types.NewCodedError(types.ErrCodeConflict, "replay: receipt is already included")
	}

	// The miner's declared key is resolved from the claim itself when the
	// miner is the sender, falling back to the account state for keys seen
	// in earlier transactions. The coordinator's key rides along in the
	// attestation.
	resolver := types.KeyResolverFunc(func(addr types.Address, _ string) (crypto.PublicKey, bool) {
		if addr == t.Sender {
			return t.SenderKey, true
		}
		if t.Attestation != nil && addr == t.Attestation.Signer {
			return t.Attestation.SignerKey, true
		}
		if acct, ok := view.account(addr); ok && acct.PubKey != (crypto.PublicKey{}) {
			return acct.PubKey, true
		}
		return crypto.PublicKey{}, false
	})
	if err := r.Verify(resolver); err != nil {
		return types.WrapCoded(types.ErrCodeIntegrity, err)
	}
	if n.zk != nil {
		if err := n.zk.VerifyReceipt(r); err != nil {
			return types.WrapCoded(types.ErrCodeIntegrity, err)
		}
	}

	// Attestation: the coordinator confirms the job existed and escrow
	// covered the price. With no attestation address configured (devnet)
	// the check is skipped.
	if !n.attestationAddr.IsZero() {
		att := t.Attestation
		if att == nil && n.attestor != nil {
			fetched, err := n.attestor.Attest(r.ReceiptID, r.JobID, r.Price)
			if err != nil {
				return types.WrapCoded(types.ErrCodeDependency, err)
			}
			att = &fetched
		}
		if att == nil {
			return types.NewCodedError(types.ErrCodeValidation, "receipt claim carries no coordinator attestation")
		}
		if att.ReceiptID != r.ReceiptID || att.JobID != r.JobID || att.Price != r.Price {
			return types.NewCodedError(types.ErrCodeIntegrity, "attestation does not match the receipt")
		}
		if err := att.Verify(n.attestationAddr); err != nil {
			return types.WrapCoded(types.ErrCodeIntegrity, err)
		}
	}
	return nil
}

// validateBlockHeader checks the structural rules of a block against its
// parent: linkage, the non-empty invariant, size caps, and the proposer
// signature against the trusted set.
func (n *Node) validateBlockHeader(b, parent types.Block) error {
	if b.Height != parent.Height+1 {
		return types.NewCodedError(types.ErrCodeConsensus, "block height does not follow its parent")
	}
	if len(b.Transactions) == 0 {
		return types.WrapCoded(types.ErrCodeConsensus, types.ErrEmptyBlock)
	}
	if len(b.Transactions) > n.maxTxsPerBlock {
		return types.NewCodedError(types.ErrCodeConsensus, "block exceeds the transaction cap")
	}
	if b.Timestamp < parent.Timestamp {
		return types.NewCodedError(types.ErrCodeConsensus, "block timestamp precedes its parent")
	}
	var size int
	for _, t := range b.Transactions {
		size += t.MarshalSize()
	}
	if size > n.maxBlockSizeBytes {
		return types.NewCodedError(types.ErrCodeConsensus, "block exceeds the size cap")
	}
	if err := b.VerifySignature(); err != nil {
		return types.WrapCoded(types.ErrCodeConsensus, err)
	}
	if len(n.trustedProposers) > 0 {
		if _, ok := n.trustedProposers[b.Proposer]; !ok {
			return types.NewCodedError(types.ErrCodeConsensus, "block proposer is not in the trusted set")
		}
	}
	return nil
}
