package types

// block.go defines the Block type. Blocks are authored by a single designated
// proposer (proof of authority); the header hash covers the parent, height,
// timestamp, proposer, and state root, and the proposer signs that hash.

import (
	"encoding/binary"
	"errors"

	"github.com/oib/AITBC-sub002/crypto"
)

type (
	// BlockHeight is the index of a block in the chain. The genesis block
	// has height zero.
	BlockHeight uint64

	// A BlockID is the hash of a block header.
	BlockID crypto.Hash

	// A Block bundles transactions into the total order of the chain. Every
	// block above genesis must contain at least one transaction; empty
	// blocks are forbidden by the proposer loop and rejected on import.
	Block struct {
		ParentID     BlockID          `json:"parent"`
		Height       BlockHeight      `json:"height"`
		Timestamp    Timestamp        `json:"timestamp"`
		Proposer     Address          `json:"proposer"`
		Transactions []Transaction    `json:"txs"`
		StateRoot    crypto.Hash      `json:"state_root"`
		ProposerKey  crypto.PublicKey `json:"proposer_key"`
		Signature    crypto.Signature `json:"sig"`
	}

	// An Account is the chain-side view of a balance. Nonces are strictly
	// monotonic per account, starting at zero.
	Account struct {
		Address Address          `json:"address"`
		Balance uint64           `json:"balance"`
		Nonce   uint64           `json:"nonce"`
		PubKey  crypto.PublicKey `json:"pubkey"`
	}
)

var (
	// ErrBlockBadProposerSig is returned when a block's signature does not
	// verify under its declared proposer key.
	ErrBlockBadProposerSig = errors.New("block proposer signature is invalid")
	// ErrEmptyBlock is returned for blocks above genesis with no
	// transactions.
	ErrEmptyBlock = errors.New("block contains no transactions")
)

// ID computes the block header hash:
// sha256(parent | height | timestamp | proposer | state_root).
func (b Block) ID() BlockID {
	var height, ts [8]byte
	binary.BigEndian.PutUint64(height[:], uint64(b.Height))
	binary.BigEndian.PutUint64(ts[:], uint64(b.Timestamp))
	return BlockID(crypto.HashAll(
		b.ParentID[:],
		height[:],
		ts[:],
		b.Proposer[:],
		b.StateRoot[:],
	))
}

// Sign signs the block header with the proposer's key.
func (b *Block) Sign(sk crypto.SecretKey) {
	b.ProposerKey = sk.PublicKey()
	b.Proposer = AddressFromKey(b.ProposerKey)
	id := b.ID()
	b.Signature = crypto.SignHash(crypto.Hash(id), sk)
}

// VerifySignature checks the proposer signature and that the declared key
// controls the proposer address.
func (b Block) VerifySignature() error {
	if AddressFromKey(b.ProposerKey) != b.Proposer {
		return ErrBlockBadProposerSig
	}
	if crypto.VerifyHash(crypto.Hash(b.ID()), b.ProposerKey, b.Signature) != nil {
		return ErrBlockBadProposerSig
	}
	return nil
}

// String prints the block id in hex.
func (bid BlockID) String() string {
	return crypto.Hash(bid).String()
}

// LoadString parses a hex block id.
func (bid *BlockID) LoadString(s string) error {
	return (*crypto.Hash)(bid).LoadString(s)
}

// MarshalJSON marshals a block id as a hex string.
func (bid BlockID) MarshalJSON() ([]byte, error) {
	return crypto.Hash(bid).MarshalJSON()
}

// UnmarshalJSON decodes the json hex string of the block id.
func (bid *BlockID) UnmarshalJSON(b []byte) error {
	return (*crypto.Hash)(bid).UnmarshalJSON(b)
}
