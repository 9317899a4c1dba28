package zkp

// gnark.go implements the groth16 and plonk verifiers on top of gnark. Both
// systems are pinned to the BN254 curve, which is what the on-wire verifying
// keys are serialized for. Public inputs travel as a serialized gnark public
// witness.

import (
	"bytes"
	"errors"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/plonk"
	"github.com/consensys/gnark/backend/witness"
)

// Groth16Verifier verifies groth16 proofs over BN254.
type Groth16Verifier struct{}

// VerifyProof implements Verifier.
func (Groth16Verifier) VerifyProof(proof, verifyingKey, publicInputs []byte) error {
	p := groth16.NewProof(ecc.BN254)
	if _, err := p.ReadFrom(bytes.NewReader(proof)); err != nil {
		return errors.New("could not parse groth16 proof: " + err.Error())
	}
	vk := groth16.NewVerifyingKey(ecc.BN254)
	if _, err := vk.ReadFrom(bytes.NewReader(verifyingKey)); err != nil {
		return errors.New("could not parse groth16 verifying key: " + err.Error())
	}
	w, err := parsePublicWitness(publicInputs)
	if err != nil {
		return err
	}
	return groth16.Verify(p, vk, w)
}

// PlonkVerifier verifies plonk proofs over BN254.
type PlonkVerifier struct{}

// VerifyProof implements Verifier.
func (PlonkVerifier) VerifyProof(proof, verifyingKey, publicInputs []byte) error {
	p := plonk.NewProof(ecc.BN254)
	if _, err := p.ReadFrom(bytes.NewReader(proof)); err != nil {
		return errors.New("could not parse plonk proof: " + err.Error())
	}
	vk := plonk.NewVerifyingKey(ecc.BN254)
	if _, err := vk.ReadFrom(bytes.NewReader(verifyingKey)); err != nil {
		return errors.New("could not parse plonk verifying key: " + err.Error())
	}
	w, err := parsePublicWitness(publicInputs)
	if err != nil {
		return err
	}
	return plonk.Verify(p, vk, w)
}

// parsePublicWitness reads a serialized BN254 public witness.
func parsePublicWitness(raw []byte) (witness.Witness, error) {
	w, err := witness.New(ecc.BN254.ScalarField())
	if err != nil {
		return nil, err
	}
	if _, err := w.ReadFrom(bytes.NewReader(raw)); err != nil {
		return nil, errors.New("could not parse public witness: " + err.Error())
	}
	return w, nil
}
