package crypto

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"

	"github.com/NebulousLabs/fastrand"
)

const (
	// PublicKeySize is the length of an ed25519 public key.
	PublicKeySize = ed25519.PublicKeySize
	// SecretKeySize is the length of an ed25519 private key.
	SecretKeySize = ed25519.PrivateKeySize
	// SignatureSize is the length of an ed25519 signature.
	SignatureSize = ed25519.SignatureSize
	// EntropySize is the amount of entropy used to derive a keypair.
	EntropySize = ed25519.SeedSize
)

type (
	// PublicKey is an ed25519 public key.
	PublicKey [PublicKeySize]byte
	// SecretKey is an ed25519 private key (seed || public key).
	SecretKey [SecretKeySize]byte
	// Signature is an ed25519 signature.
	Signature [SignatureSize]byte
)

var (
	// ErrInvalidSignature is returned when a signature fails verification.
	ErrInvalidSignature = errors.New("invalid signature")
)

// GenerateKeyPair creates a public-secret keypair that can be used to sign
// and verify messages.
func GenerateKeyPair() (sk SecretKey, pk PublicKey) {
	var entropy [EntropySize]byte
	fastrand.Read(entropy[:])
	return GenerateKeyPairDeterministic(entropy)
}

// GenerateKeyPairDeterministic generates keys deterministically using the
// input entropy.
func GenerateKeyPairDeterministic(entropy [EntropySize]byte) (sk SecretKey, pk PublicKey) {
	priv := ed25519.NewKeyFromSeed(entropy[:])
	copy(sk[:], priv)
	copy(pk[:], priv.Public().(ed25519.PublicKey))
	return
}

// PublicKey returns the public key that corresponds to a secret key.
func (sk SecretKey) PublicKey() (pk PublicKey) {
	copy(pk[:], sk[SecretKeySize-PublicKeySize:])
	return
}

// SignHash signs a message digest using the secret key.
func SignHash(h Hash, sk SecretKey) (sig Signature) {
	copy(sig[:], ed25519.Sign(sk[:], h[:]))
	return
}

// VerifyHash uses a public key and message digest to verify a signature.
func VerifyHash(h Hash, pk PublicKey, sig Signature) error {
	if !ed25519.Verify(pk[:], h[:], sig[:]) {
		return ErrInvalidSignature
	}
	return nil
}

// String prints the public key in hex.
func (pk PublicKey) String() string {
	return hex.EncodeToString(pk[:])
}

// LoadString parses a hex public key.
func (pk *PublicKey) LoadString(s string) error {
	b, err := hex.DecodeString(s)
	if err != nil {
		return errors.New("could not unmarshal public key: " + err.Error())
	}
	if len(b) != PublicKeySize {
		return errors.New("encoded value has the wrong length to be a public key")
	}
	copy(pk[:], b)
	return nil
}

// MarshalJSON marshals a public key as a hex string.
func (pk PublicKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(pk.String())
}

// UnmarshalJSON decodes the json hex string of the public key.
func (pk *PublicKey) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return pk.LoadString(s)
}

// String prints the signature in hex.
func (s Signature) String() string {
	return hex.EncodeToString(s[:])
}

// LoadString parses a hex signature.
func (s *Signature) LoadString(str string) error {
	b, err := hex.DecodeString(str)
	if err != nil {
		return errors.New("could not unmarshal signature: " + err.Error())
	}
	if len(b) != SignatureSize {
		return errors.New("encoded value has the wrong length to be a signature")
	}
	copy(s[:], b)
	return nil
}

// MarshalJSON marshals a signature as a hex string.
func (s Signature) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes the json hex string of the signature.
func (s *Signature) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	return s.LoadString(str)
}
