package crypto

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/NebulousLabs/fastrand"
)

// TestSignHashVerifyHash creates a keypair, signs random digests, and checks
// that the signatures validate, including after corruption.
func TestSignHashVerifyHash(t *testing.T) {
	sk, pk := GenerateKeyPair()
	for i := 0; i < 8; i++ {
		h := HashBytes(fastrand.Bytes(64))
		sig := SignHash(h, sk)
		if err := VerifyHash(h, pk, sig); err != nil {
			t.Fatal(err)
		}

		// Corrupt the signature and check that verification fails.
		sig[0] ^= 0xff
		if err := VerifyHash(h, pk, sig); err == nil {
			t.Fatal("expected corrupted signature to fail verification")
		}

		// Verify under a different digest.
		sig[0] ^= 0xff
		h[0] ^= 0xff
		if err := VerifyHash(h, pk, sig); err == nil {
			t.Fatal("expected mismatched digest to fail verification")
		}
	}
}

// TestGenerateKeyPairDeterministic checks that identical entropy yields
// identical keys.
func TestGenerateKeyPairDeterministic(t *testing.T) {
	var entropy [EntropySize]byte
	fastrand.Read(entropy[:])
	sk1, pk1 := GenerateKeyPairDeterministic(entropy)
	sk2, pk2 := GenerateKeyPairDeterministic(entropy)
	if sk1 != sk2 || pk1 != pk2 {
		t.Fatal("deterministic generation produced different keys")
	}
	if sk1.PublicKey() != pk1 {
		t.Fatal("secret key does not embed its public key")
	}
}

// TestHashJSONRoundTrip checks hex marshalling of hashes.
func TestHashJSONRoundTrip(t *testing.T) {
	h := HashBytes([]byte("round trip"))
	b, err := h.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	var h2 Hash
	if err := h2.UnmarshalJSON(b); err != nil {
		t.Fatal(err)
	}
	if h != h2 {
		t.Fatal("hash changed across json round trip")
	}
	if err := h2.LoadString("deadbeef"); err != ErrHashWrongLen {
		t.Fatal("expected ErrHashWrongLen, got", err)
	}
}

// TestKeyFileRoundTrip checks saving and loading a secret key.
func TestKeyFileRoundTrip(t *testing.T) {
	sk, _ := GenerateKeyPair()
	filename := filepath.Join(t.TempDir(), "keyfile.key")
	if err := SaveSecretKey(sk, filename); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadSecretKey(filename)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(loaded[:], sk[:]) {
		t.Fatal("loaded key does not match saved key")
	}
}
