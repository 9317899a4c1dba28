package types

// transaction.go defines the Transaction type, a tagged union of TRANSFER and
// RECEIPT_CLAIM. Transactions carry the sender's public key so that accounts
// do not need a separate key registration step; the chain checks that the key
// hashes to the sending address.

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"

	"github.com/oib/AITBC-sub002/crypto"
)

// TxType tags the two transaction variants.
type TxType string

const (
	// TxTransfer moves tokens between two accounts.
	TxTransfer TxType = "TRANSFER"
	// TxReceiptClaim carries a ComputeReceipt and triggers minting plus
	// escrow settlement on inclusion.
	TxReceiptClaim TxType = "RECEIPT_CLAIM"
)

// TxStatus is the lifecycle of a transaction as observed by a node.
type TxStatus string

const (
	// TxStatusPending marks a transaction sitting in the mempool.
	TxStatusPending TxStatus = "PENDING"
	// TxStatusIncluded marks a transaction included in a canonical block.
	TxStatusIncluded TxStatus = "INCLUDED"
	// TxStatusRejected marks a transaction that failed validation.
	TxStatusRejected TxStatus = "REJECTED"
)

var (
	// ErrTxBadType is returned for transactions with an unrecognized type tag.
	ErrTxBadType = errors.New("transaction has an unknown type")
	// ErrTxKeyMismatch is returned when the declared sender key does not hash
	// to the sending address.
	ErrTxKeyMismatch = errors.New("sender key does not control sender address")
	// ErrTxBadSignature is returned when the account signature is invalid.
	ErrTxBadSignature = errors.New("transaction signature is invalid")
	// ErrTxMissingReceipt is returned for receipt claims with no receipt.
	ErrTxMissingReceipt = errors.New("receipt claim carries no receipt")
)

type (
	// A TransactionID uniquely identifies a transaction.
	TransactionID crypto.Hash

	// An Attestation is the coordinator's signature binding a receipt to an
	// observed job with funded escrow. The signed digest is
	// sha256(receipt_id | job_id | price).
	Attestation struct {
		JobID     string           `json:"job_id"`
		ReceiptID string           `json:"receipt_id"`
		Price     uint64           `json:"price"`
		Signer    Address          `json:"signer"`
		SignerKey crypto.PublicKey `json:"signer_key"`
		Sig       crypto.Signature `json:"sig"`
	}

	// A Transaction is either a transfer or a receipt claim, discriminated
	// by Type. Transfer fields and receipt-claim fields are mutually
	// exclusive.
	Transaction struct {
		Type      TxType           `json:"type"`
		Sender    Address          `json:"sender"`
		Nonce     uint64           `json:"nonce"`
		Fee       uint64           `json:"fee"`
		SenderKey crypto.PublicKey `json:"sender_key"`

		// TRANSFER
		To     Address `json:"to,omitempty"`
		Amount uint64  `json:"amount,omitempty"`

		// RECEIPT_CLAIM
		Receipt     *Receipt     `json:"receipt,omitempty"`
		Attestation *Attestation `json:"attestation,omitempty"`

		Signature crypto.Signature `json:"signature"`
	}
)

// AttestationDigest returns the digest the coordinator signs for an
// attestation.
func AttestationDigest(receiptID, jobID string, price uint64) crypto.Hash {
	var priceBytes [8]byte
	binary.BigEndian.PutUint64(priceBytes[:], price)
	return crypto.HashAll([]byte(receiptID), []byte(jobID), priceBytes[:])
}

// Verify checks an attestation against a trusted attestation address.
func (a Attestation) Verify(trusted Address) error {
	if a.Signer != trusted || AddressFromKey(a.SignerKey) != trusted {
		return errors.New("attestation signer is not the trusted coordinator")
	}
	digest := AttestationDigest(a.ReceiptID, a.JobID, a.Price)
	if crypto.VerifyHash(digest, a.SignerKey, a.Sig) != nil {
		return errors.New("attestation signature is invalid")
	}
	return nil
}

// SigHash returns the digest covered by the account signature: sha256 of the
// canonical form of the transaction without the signature field.
func (t Transaction) SigHash() (crypto.Hash, error) {
	unsigned := t
	unsigned.Signature = crypto.Signature{}
	raw, err := json.Marshal(unsigned)
	if err != nil {
		return crypto.Hash{}, ErrBadJSON
	}
	// UseNumber keeps large integer fields exact through the round trip;
	// float64 would corrupt values above 2^53.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]interface{}
	if err := dec.Decode(&m); err != nil {
		return crypto.Hash{}, ErrBadJSON
	}
	delete(m, "signature")
	canonical, err := CanonicalizeObject(m)
	if err != nil {
		return crypto.Hash{}, err
	}
	return crypto.HashBytes(canonical), nil
}

// ID returns the transaction hash, which covers the signature.
func (t Transaction) ID() (TransactionID, error) {
	canonical, err := CanonicalizeObject(t)
	if err != nil {
		return TransactionID{}, err
	}
	return TransactionID(crypto.HashBytes(canonical)), nil
}

// Sign sets the sender key and signature on the transaction.
func (t *Transaction) Sign(sk crypto.SecretKey) error {
	t.SenderKey = sk.PublicKey()
	t.Sender = AddressFromKey(t.SenderKey)
	digest, err := t.SigHash()
	if err != nil {
		return err
	}
	t.Signature = crypto.SignHash(digest, sk)
	return nil
}

// VerifySignature checks the account signature and that the declared key
// controls the sending address.
func (t Transaction) VerifySignature() error {
	if AddressFromKey(t.SenderKey) != t.Sender {
		return ErrTxKeyMismatch
	}
	digest, err := t.SigHash()
	if err != nil {
		return err
	}
	if crypto.VerifyHash(digest, t.SenderKey, t.Signature) != nil {
		return ErrTxBadSignature
	}
	return nil
}

// StandaloneValid performs the stateless checks shared by the mempool and the
// block validator.
func (t Transaction) StandaloneValid() error {
	switch t.Type {
	case TxTransfer:
		if t.Receipt != nil || t.Attestation != nil {
			return errors.New("transfer carries receipt-claim fields")
		}
		if t.To.IsZero() {
			return errors.New("transfer has no destination")
		}
		if t.Amount == 0 {
			return errors.New("transfer moves zero tokens")
		}
	case TxReceiptClaim:
		if t.Receipt == nil {
			return ErrTxMissingReceipt
		}
		if t.Amount != 0 || !t.To.IsZero() {
			return errors.New("receipt claim carries transfer fields")
		}
		if err := t.Receipt.ValidateSemantics(); err != nil {
			return err
		}
	default:
		return ErrTxBadType
	}
	return t.VerifySignature()
}

// MarshalSize returns the encoded size of the transaction, used for block
// size accounting.
func (t Transaction) MarshalSize() int {
	raw, err := json.Marshal(t)
	if err != nil {
		return 0
	}
	return len(raw)
}

// String prints the transaction id in hex.
func (tid TransactionID) String() string {
	return crypto.Hash(tid).String()
}

// MarshalJSON marshals a transaction id as a hex string.
func (tid TransactionID) MarshalJSON() ([]byte, error) {
	return crypto.Hash(tid).MarshalJSON()
}

// UnmarshalJSON decodes the json hex string of the transaction id.
func (tid *TransactionID) UnmarshalJSON(b []byte) error {
	return (*crypto.Hash)(tid).UnmarshalJSON(b)
}
