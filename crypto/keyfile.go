package crypto

// keyfile.go persists ed25519 secret keys to disk. Key files hold a single
// hex-encoded secret key and nothing else, so they can be generated and
// inspected with standard tools.

import (
	"encoding/hex"
	"errors"
	"os"
	"strings"
)

var (
	// ErrBadKeyFile is returned when a key file cannot be parsed.
	ErrBadKeyFile = errors.New("key file does not contain a valid secret key")
)

// SaveSecretKey writes a secret key to filename with owner-only permissions.
func SaveSecretKey(sk SecretKey, filename string) error {
	return os.WriteFile(filename, []byte(hex.EncodeToString(sk[:])+"\n"), 0600)
}

// LoadSecretKey reads a secret key previously written by SaveSecretKey.
func LoadSecretKey(filename string) (sk SecretKey, err error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return SecretKey{}, err
	}
	return ParseSecretKey(strings.TrimSpace(string(data)))
}

// ParseSecretKey parses a hex-encoded secret key.
func ParseSecretKey(s string) (sk SecretKey, err error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != SecretKeySize {
		return SecretKey{}, ErrBadKeyFile
	}
	copy(sk[:], b)
	return sk, nil
}
