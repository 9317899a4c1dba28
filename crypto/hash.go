package crypto

// hash.go supplies the general hashing functions, using sha-256. The digest
// algorithm is part of the receipt and block wire contracts, so it is not
// configurable; every implementation of the protocol must agree on it.

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
)

const (
	// HashSize is the length of a Hash in bytes.
	HashSize = 32
)

type (
	// Hash is a sha-256 digest.
	Hash [HashSize]byte
)

var (
	// ErrHashWrongLen is returned when a hex string decodes to the wrong
	// number of bytes for a Hash.
	ErrHashWrongLen = errors.New("encoded value has the wrong length to be a hash")
)

// HashBytes takes a byte slice and returns the sha-256 digest.
func HashBytes(data []byte) Hash {
	return Hash(sha256.Sum256(data))
}

// HashAll takes a set of byte slices, concatenates them, and hashes the
// result.
func HashAll(data ...[]byte) Hash {
	return HashBytes(bytes.Join(data, nil))
}

// IsZero returns whether h is the all-zero hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// String prints the hash in hex.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// LoadString takes a hex string and parses it into a Hash.
func (h *Hash) LoadString(s string) error {
	// *2 because there are 2 hex characters per byte.
	if len(s) != HashSize*2 {
		return ErrHashWrongLen
	}
	hBytes, err := hex.DecodeString(s)
	if err != nil {
		return errors.New("could not unmarshal hash: " + err.Error())
	}
	copy(h[:], hBytes)
	return nil
}

// MarshalJSON marshals a hash as a hex string.
func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

// UnmarshalJSON decodes the json hex string of the hash.
func (h *Hash) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return h.LoadString(s)
}
