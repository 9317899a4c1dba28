package types

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/oib/AITBC-sub002/crypto"
)

// testResolver resolves signer addresses from a fixed key set.
type testResolver map[Address]crypto.PublicKey

func (tr testResolver) LookupKey(addr Address, keyID string) (crypto.PublicKey, bool) {
	pk, ok := tr[addr]
	return pk, ok
}

// testReceipt builds a receipt signed by the provided keys.
func testReceipt(t *testing.T, threshold int, sks ...crypto.SecretKey) (Receipt, testResolver) {
	t.Helper()
	r := Receipt{
		Version:      ReceiptVersion,
		ReceiptID:    "rcpt-0001",
		JobID:        "job-0001",
		ComputeUnits: 1000,
		Price:        80,
		OutputHash:   crypto.HashBytes([]byte("output")),
		StartedAt:    100,
		CompletedAt:  160,
		Threshold:    threshold,
		Metadata: map[string]interface{}{
			"model":  "llama-3-8b",
			"tokens": json.Number("1000"),
		},
	}
	resolver := make(testResolver)
	for i, sk := range sks {
		if i == 0 {
			r.MinerAddr = AddressFromKey(sk.PublicKey())
		}
		if err := r.Sign(sk, ""); err != nil {
			t.Fatal(err)
		}
		resolver[AddressFromKey(sk.PublicKey())] = sk.PublicKey()
	}
	return r, resolver
}

// TestReceiptCanonicalIdempotence checks the law
// canonicalize(parse(canonicalize(x))) == canonicalize(x), and that field
// ordering on the wire does not change the canonical form.
func TestReceiptCanonicalIdempotence(t *testing.T) {
	sk, _ := crypto.GenerateKeyPair()
	r, _ := testReceipt(t, 0, sk)

	c1, err := r.Canonicalize()
	if err != nil {
		t.Fatal(err)
	}
	c2, err := CanonicalizeReceiptBytes(c1)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(c1, c2) {
		t.Fatalf("canonical form is not a fixed point:\n%s\n%s", c1, c2)
	}

	// Reorder fields on the wire: unmarshal into a map and remarshal, which
	// scrambles ordering relative to the struct definition.
	wire, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(wire, &m); err != nil {
		t.Fatal(err)
	}
	rewire, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	c3, err := CanonicalizeReceiptBytes(rewire)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(c1, c3) {
		t.Fatal("canonical form depends on wire field ordering")
	}
}

// TestReceiptSignVerify checks the single-signer path, including
// deterministic re-signing.
func TestReceiptSignVerify(t *testing.T) {
	sk, _ := crypto.GenerateKeyPair()
	r, resolver := testReceipt(t, 0, sk)
	if err := r.Verify(resolver); err != nil {
		t.Fatal(err)
	}

	// Re-signing yields identical signature bytes (ed25519 is
	// deterministic).
	first := r.Signatures[0].Sig
	r.Signatures = nil
	if err := r.Sign(sk, ""); err != nil {
		t.Fatal(err)
	}
	if r.Signatures[0].Sig != first {
		t.Fatal("re-signing produced different signature bytes")
	}

	// Tampering with a signed field invalidates the signature.
	r.Price++
	if err := r.Verify(resolver); err != ErrBadSig {
		t.Fatal("expected ErrBadSig after tampering, got", err)
	}
}

// TestReceiptMultisigThreshold covers the threshold math: two of three valid
// meets threshold two, one of three does not.
func TestReceiptMultisigThreshold(t *testing.T) {
	sk1, _ := crypto.GenerateKeyPair()
	sk2, _ := crypto.GenerateKeyPair()
	sk3, _ := crypto.GenerateKeyPair()
	r, resolver := testReceipt(t, 2, sk1, sk2, sk3)

	// Corrupt the third signature: two valid >= threshold, verify passes.
	r.Signatures[2].Sig[0] ^= 0xff
	if err := r.Verify(resolver); err != nil {
		t.Fatal("two valid signatures should meet threshold two:", err)
	}

	// Corrupt the second as well: one valid < threshold.
	r.Signatures[1].Sig[0] ^= 0xff
	if err := r.Verify(resolver); err != ErrUnderThreshold {
		t.Fatal("expected ErrUnderThreshold, got", err)
	}
}

// TestReceiptVerifyErrKinds covers BAD_ALG and KEY_UNKNOWN.
func TestReceiptVerifyErrKinds(t *testing.T) {
	sk, _ := crypto.GenerateKeyPair()
	r, resolver := testReceipt(t, 0, sk)

	r.Signatures[0].Alg = "secp256k1"
	if err := r.Verify(resolver); err != ErrBadAlg {
		t.Fatal("expected ErrBadAlg, got", err)
	}
	r.Signatures[0].Alg = AlgEd25519

	if err := r.Verify(testResolver{}); err != ErrKeyUnknown {
		t.Fatal("expected ErrKeyUnknown, got", err)
	}

	r.Signatures = nil
	if err := r.Verify(resolver); err != ErrUnderThreshold {
		t.Fatal("expected ErrUnderThreshold for unsigned receipt, got", err)
	}
}

// TestReceiptUnknownMetadataRoundTrip checks that unknown metadata keys
// survive a wire round trip and are covered by the signature.
func TestReceiptUnknownMetadataRoundTrip(t *testing.T) {
	sk, _ := crypto.GenerateKeyPair()
	r, resolver := testReceipt(t, 0, sk)
	r.Metadata["x_experimental"] = map[string]interface{}{"nested": json.Number("42")}
	r.Signatures = nil
	if err := r.Sign(sk, ""); err != nil {
		t.Fatal(err)
	}

	wire, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	var parsed Receipt
	dec := json.NewDecoder(bytes.NewReader(wire))
	dec.UseNumber()
	if err := dec.Decode(&parsed); err != nil {
		t.Fatal(err)
	}
	if _, ok := parsed.Metadata["x_experimental"]; !ok {
		t.Fatal("unknown metadata key did not round trip")
	}
	if err := parsed.Verify(resolver); err != nil {
		t.Fatal("receipt no longer verifies after round trip:", err)
	}
}

// TestReceiptValidateSemantics covers the field invariants.
func TestReceiptValidateSemantics(t *testing.T) {
	sk, _ := crypto.GenerateKeyPair()
	r, _ := testReceipt(t, 0, sk)
	if err := r.ValidateSemantics(); err != nil {
		t.Fatal(err)
	}

	bad := r
	bad.ComputeUnits = 0
	if err := bad.ValidateSemantics(); err != ErrReceiptSemantics {
		t.Fatal("expected ErrReceiptSemantics for zero compute units")
	}
	bad = r
	bad.Price = 0
	if err := bad.ValidateSemantics(); err != ErrReceiptSemantics {
		t.Fatal("expected ErrReceiptSemantics for zero price")
	}
	bad = r
	bad.CompletedAt = bad.StartedAt - 1
	if err := bad.ValidateSemantics(); err != ErrReceiptSemantics {
		t.Fatal("expected ErrReceiptSemantics for completed_at < started_at")
	}
}

// TestCanonicalizeJSONRejectsGarbage checks the BAD_JSON paths.
func TestCanonicalizeJSONRejectsGarbage(t *testing.T) {
	if _, err := CanonicalizeJSON([]byte("{")); err == nil {
		t.Fatal("expected error for truncated json")
	}
	if _, err := CanonicalizeJSON([]byte(`{"a":1} trailing`)); err == nil {
		t.Fatal("expected error for trailing garbage")
	}
}
