package types

// receipt.go defines the ComputeReceipt, the canonical attestation that a
// miner delivered a job. The receipt is the contract between the coordinator,
// the chain, and external verifiers: everything that needs to agree on "work
// was delivered" agrees on these bytes.

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/oib/AITBC-sub002/crypto"
)

const (
	// AlgEd25519 is the only signature algorithm receipts currently accept.
	AlgEd25519 = "ed25519"
)

var (
	// ErrBadAlg is returned when a receipt signature declares an unknown
	// algorithm.
	ErrBadAlg = errors.New("BAD_ALG: unknown signature algorithm")
	// ErrBadSig is returned when a receipt signature fails verification.
	ErrBadSig = errors.New("BAD_SIG: signature verification failed")
	// ErrUnderThreshold is returned when fewer than threshold distinct
	// signatures verify.
	ErrUnderThreshold = errors.New("UNDER_THRESHOLD: not enough valid signatures")
	// ErrKeyUnknown is returned when no public key is known for a signer.
	ErrKeyUnknown = errors.New("KEY_UNKNOWN: no key registered for signer")

	// ErrReceiptSemantics is returned when a receipt violates its own field
	// invariants.
	ErrReceiptSemantics = errors.New("receipt violates field invariants")
)

type (
	// A ReceiptSignature is one signer's endorsement of a receipt. The
	// signature covers sha256 of the receipt's canonical form without the
	// signatures block.
	ReceiptSignature struct {
		SignerAddr Address          `json:"signer_addr"`
		Alg        string           `json:"alg"`
		KeyID      string           `json:"key_id,omitempty"`
		Sig        crypto.Signature `json:"sig"`
	}

	// A Receipt attests that MinerAddr delivered JobID for ClientAddr.
	// Metadata is schemaless so that unknown keys round-trip; well-known
	// keys include "model", "tokens", "zk_proof", and "merkle_anchor".
	Receipt struct {
		Version      string                 `json:"version"`
		ReceiptID    string                 `json:"receipt_id"`
		JobID        string                 `json:"job_id"`
		ClientAddr   Address                `json:"client_addr"`
		MinerAddr    Address                `json:"miner_addr"`
		ComputeUnits uint64                 `json:"compute_units"`
		Price        uint64                 `json:"price"`
		OutputHash   crypto.Hash            `json:"output_hash"`
		StartedAt    Timestamp              `json:"started_at"`
		CompletedAt  Timestamp              `json:"completed_at"`
		Threshold    int                    `json:"threshold,omitempty"`
		Metadata     map[string]interface{} `json:"metadata,omitempty"`
		Signatures   []ReceiptSignature     `json:"signatures,omitempty"`
	}

	// A KeyResolver maps a signer address (and optional key id) to the
	// public key it is expected to sign with. The second return value
	// reports whether a key is known at all.
	KeyResolver interface {
		LookupKey(addr Address, keyID string) (crypto.PublicKey, bool)
	}

	// ZKProofEnvelope is the parsed form of metadata.zk_proof.
	ZKProofEnvelope struct {
		System       string `json:"system"`
		Proof        string `json:"proof"`
		VerifyingKey string `json:"verifying_key"`
		PublicInputs string `json:"public_inputs"`
	}
)

// KeyResolverFunc adapts a function to the KeyResolver interface.
type KeyResolverFunc func(addr Address, keyID string) (crypto.PublicKey, bool)

// LookupKey calls the wrapped function.
func (f KeyResolverFunc) LookupKey(addr Address, keyID string) (crypto.PublicKey, bool) {
	return f(addr, keyID)
}

// Canonicalize returns the canonical serialization of the receipt with the
// signatures block removed. These are the bytes that get hashed and signed.
func (r Receipt) Canonicalize() ([]byte, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, ErrBadJSON
	}
	return canonicalizeWithoutSignatures(raw)
}

// CanonicalizeReceiptBytes canonicalizes a wire-form receipt without parsing
// it into a Receipt first, preserving any unknown fields.
func CanonicalizeReceiptBytes(raw []byte) ([]byte, error) {
	return canonicalizeWithoutSignatures(raw)
}

func canonicalizeWithoutSignatures(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]interface{}
	if err := dec.Decode(&m); err != nil {
		return nil, ErrBadJSON
	}
	delete(m, "signatures")
	return CanonicalizeObject(m)
}

// SignBytes returns the digest that receipt signers sign.
func (r Receipt) SignBytes() (crypto.Hash, error) {
	canonical, err := r.Canonicalize()
	if err != nil {
		return crypto.Hash{}, err
	}
	return crypto.HashBytes(canonical), nil
}

// Sign appends an ed25519 signature by sk to the receipt. The signer address
// is derived from the key.
func (r *Receipt) Sign(sk crypto.SecretKey, keyID string) error {
	digest, err := r.SignBytes()
	if err != nil {
		return err
	}
	r.Signatures = append(r.Signatures, ReceiptSignature{
		SignerAddr: AddressFromKey(sk.PublicKey()),
		Alg:        AlgEd25519,
		KeyID:      keyID,
		Sig:        crypto.SignHash(digest, sk),
	})
	return nil
}

// Verify checks the receipt's signatures against the keys provided by the
// resolver. Verification succeeds when at least threshold distinct signers
// have valid signatures; a threshold of zero means one.
func (r Receipt) Verify(resolver KeyResolver) error {
	digest, err := r.SignBytes()
	if err != nil {
		return err
	}
	threshold := r.Threshold
	if threshold <= 0 {
		threshold = 1
	}

	valid := make(map[Address]struct{})
	var sawBadAlg, sawUnknownKey, sawBadSig bool
	for _, rs := range r.Signatures {
		if rs.Alg != AlgEd25519 {
			sawBadAlg = true
			continue
		}
		pk, ok := resolver.LookupKey(rs.SignerAddr, rs.KeyID)
		if !ok {
			sawUnknownKey = true
			continue
		}
		if crypto.VerifyHash(digest, pk, rs.Sig) != nil {
			sawBadSig = true
			continue
		}
		valid[rs.SignerAddr] = struct{}{}
	}
	if len(valid) >= threshold {
		return nil
	}

	// The most actionable failure is reported first.
	switch {
	case sawBadAlg:
		return ErrBadAlg
	case sawUnknownKey:
		return ErrKeyUnknown
	case threshold > 1 && len(r.Signatures) > 0:
		return ErrUnderThreshold
	case sawBadSig:
		return ErrBadSig
	default:
		return ErrUnderThreshold
	}
}

// ValidateSemantics checks the field invariants that hold for every receipt
// regardless of signatures.
func (r Receipt) ValidateSemantics() error {
	switch {
	case r.Version == "":
		return errors.New("receipt is missing a version")
	case r.ReceiptID == "":
		return errors.New("receipt is missing a receipt_id")
	case r.JobID == "":
		return errors.New("receipt is missing a job_id")
	case r.ComputeUnits == 0:
		return ErrReceiptSemantics
	case r.Price == 0:
		return ErrReceiptSemantics
	case r.CompletedAt < r.StartedAt:
		return ErrReceiptSemantics
	}
	return nil
}

// ZKProof extracts the zk proof envelope from the receipt metadata. The
// second return value reports whether a proof is present at all.
func (r Receipt) ZKProof() (ZKProofEnvelope, bool, error) {
	rawVal, ok := r.Metadata["zk_proof"]
	if !ok {
		return ZKProofEnvelope{}, false, nil
	}
	raw, err := json.Marshal(rawVal)
	if err != nil {
		return ZKProofEnvelope{}, true, ErrBadJSON
	}
	var env ZKProofEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ZKProofEnvelope{}, true, ErrBadJSON
	}
	return env, true, nil
}
