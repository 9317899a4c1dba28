// Package zkp verifies the optional zero-knowledge proofs carried in receipt
// metadata. Verifiers are strategy implementations registered at startup;
// there is no runtime code loading. A proof naming a system with no
// registered verifier fails verification, which is fatal for the containing
// transaction.
package zkp

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/oib/AITBC-sub002/types"
)

var (
	// ErrUnknownSystem is returned when a proof names a system with no
	// registered verifier.
	ErrUnknownSystem = errors.New("no verifier registered for proof system")
	// ErrBadProof is returned when a proof fails to parse or verify.
	ErrBadProof = errors.New("zk proof verification failed")
)

// A Verifier checks one proof system. Implementations must be safe for
// concurrent use.
type Verifier interface {
	// VerifyProof checks proof against the verifying key and public
	// inputs, all in the system's binary serialization.
	VerifyProof(proof, verifyingKey, publicInputs []byte) error
}

// A Registry maps proof system names to verifiers.
type Registry struct {
	verifiers map[string]Verifier
}

// NewRegistry returns a registry with the default verifiers registered:
// groth16 and plonk. The stark system is recognized by the wire format but
// has no verifier in this implementation, so stark proofs are rejected.
func NewRegistry() *Registry {
	r := &Registry{verifiers: make(map[string]Verifier)}
	r.Register("groth16", Groth16Verifier{})
	r.Register("plonk", PlonkVerifier{})
	return r
}

// Register installs a verifier for a proof system name, replacing any
// previous registration.
func (r *Registry) Register(system string, v Verifier) {
	r.verifiers[system] = v
}

// VerifyReceipt checks the zk proof attached to a receipt, if any. Receipts
// without a proof pass trivially.
func (r *Registry) VerifyReceipt(receipt types.Receipt) error {
	env, present, err := receipt.ZKProof()
	if err != nil {
		return err
	}
	if !present {
		return nil
	}
	v, ok := r.verifiers[env.System]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSystem, env.System)
	}
	proof, err := base64.StdEncoding.DecodeString(env.Proof)
	if err != nil {
		return fmt.Errorf("%w: proof is not base64", ErrBadProof)
	}
	vk, err := base64.StdEncoding.DecodeString(env.VerifyingKey)
	if err != nil {
		return fmt.Errorf("%w: verifying key is not base64", ErrBadProof)
	}
	inputs, err := base64.StdEncoding.DecodeString(env.PublicInputs)
	if err != nil {
		return fmt.Errorf("%w: public inputs are not base64", ErrBadProof)
	}
	if err := v.VerifyProof(proof, vk, inputs); err != nil {
		return fmt.Errorf("%w: %s: %s", ErrBadProof, env.System, err)
	}
	return nil
}
