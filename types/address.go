package types

// address.go defines the Address type. An address is the sha-256 digest of an
// ed25519 public key, which allows the chain to verify that a transaction's
// declared key actually controls the sending account without a separate key
// registry.

import (
	"encoding/hex"
	"encoding/json"
	"errors"

	"github.com/oib/AITBC-sub002/crypto"
)

const (
	// AddressSize is the length of an Address in bytes.
	AddressSize = crypto.HashSize
)

type (
	// An Address identifies an account. It is the hash of the account's
	// public key.
	Address [AddressSize]byte
)

var (
	// ZeroAddress is the all-zero address. It is not spendable and is used as
	// the sink for burned funds.
	ZeroAddress = Address{}

	// ErrAddressWrongLen is returned when a hex string decodes to the wrong
	// number of bytes for an Address.
	ErrAddressWrongLen = errors.New("encoded value has the wrong length to be an address")
)

// AddressFromKey derives the address controlled by a public key.
func AddressFromKey(pk crypto.PublicKey) Address {
	return Address(crypto.HashBytes(pk[:]))
}

// IsZero returns whether addr is the zero address.
func (addr Address) IsZero() bool {
	return addr == ZeroAddress
}

// String prints the address in hex.
func (addr Address) String() string {
	return hex.EncodeToString(addr[:])
}

// LoadString parses a hex address.
func (addr *Address) LoadString(s string) error {
	if len(s) != AddressSize*2 {
		return ErrAddressWrongLen
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return errors.New("could not unmarshal address: " + err.Error())
	}
	copy(addr[:], b)
	return nil
}

// MarshalJSON marshals an address as a hex string.
func (addr Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(addr.String())
}

// UnmarshalJSON decodes the json hex string of the address.
func (addr *Address) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return addr.LoadString(s)
}
