package types

import (
	"testing"

	"github.com/oib/AITBC-sub002/crypto"
)

// TestTransactionSignVerify checks transfer signing, key/address binding,
// and tamper detection.
func TestTransactionSignVerify(t *testing.T) {
	sk, pk := crypto.GenerateKeyPair()
	rk, _ := crypto.GenerateKeyPair()
	tx := Transaction{
		Type:   TxTransfer,
		Nonce:  1,
		Fee:    MinFee,
		To:     AddressFromKey(rk.PublicKey()),
		Amount: 50,
	}
	if err := tx.Sign(sk); err != nil {
		t.Fatal(err)
	}
	if tx.Sender != AddressFromKey(pk) {
		t.Fatal("Sign did not set the sender address from the key")
	}
	if err := tx.StandaloneValid(); err != nil {
		t.Fatal(err)
	}

	// Tampering with the amount invalidates the signature.
	tx.Amount++
	if err := tx.VerifySignature(); err != ErrTxBadSignature {
		t.Fatal("expected ErrTxBadSignature, got", err)
	}
	tx.Amount--

	// A mismatched key fails before signature verification.
	tx.SenderKey = rk.PublicKey()
	if err := tx.VerifySignature(); err != ErrTxKeyMismatch {
		t.Fatal("expected ErrTxKeyMismatch, got", err)
	}
}

// TestTransactionStandaloneValid checks the union discipline between the two
// transaction variants.
func TestTransactionStandaloneValid(t *testing.T) {
	sk, _ := crypto.GenerateKeyPair()
	rk, _ := crypto.GenerateKeyPair()

	// Transfer with no destination.
	tx := Transaction{Type: TxTransfer, Nonce: 1, Fee: MinFee, Amount: 5}
	if err := tx.Sign(sk); err != nil {
		t.Fatal(err)
	}
	if err := tx.StandaloneValid(); err == nil {
		t.Fatal("expected error for transfer with no destination")
	}

	// Receipt claim with no receipt.
	tx = Transaction{Type: TxReceiptClaim, Nonce: 1, Fee: MinFee}
	if err := tx.Sign(sk); err != nil {
		t.Fatal(err)
	}
	if err := tx.StandaloneValid(); err != ErrTxMissingReceipt {
		t.Fatal("expected ErrTxMissingReceipt, got", err)
	}

	// Receipt claim carrying transfer fields.
	r := Receipt{
		Version:      ReceiptVersion,
		ReceiptID:    "rcpt-1",
		JobID:        "job-1",
		ComputeUnits: 1,
		Price:        1,
		CompletedAt:  1,
	}
	tx = Transaction{Type: TxReceiptClaim, Nonce: 1, Fee: MinFee, Receipt: &r, To: AddressFromKey(rk.PublicKey())}
	if err := tx.Sign(sk); err != nil {
		t.Fatal(err)
	}
	if err := tx.StandaloneValid(); err == nil {
		t.Fatal("expected error for receipt claim with transfer fields")
	}

	// Unknown type.
	tx = Transaction{Type: "STAKE", Nonce: 1, Fee: MinFee}
	if err := tx.Sign(sk); err != nil {
		t.Fatal(err)
	}
	if err := tx.StandaloneValid(); err != ErrTxBadType {
		t.Fatal("expected ErrTxBadType, got", err)
	}
}

// TestAttestationVerify checks the coordinator attestation digest and signer
// binding.
func TestAttestationVerify(t *testing.T) {
	sk, pk := crypto.GenerateKeyPair()
	trusted := AddressFromKey(pk)
	att := Attestation{
		JobID:     "job-1",
		ReceiptID: "rcpt-1",
		Price:     80,
		Signer:    trusted,
		SignerKey: pk,
		Sig:       crypto.SignHash(AttestationDigest("rcpt-1", "job-1", 80), sk),
	}
	if err := att.Verify(trusted); err != nil {
		t.Fatal(err)
	}

	// Wrong trusted address.
	other, _ := crypto.GenerateKeyPair()
	if err := att.Verify(AddressFromKey(other.PublicKey())); err == nil {
		t.Fatal("expected attestation from untrusted signer to fail")
	}

	// Tampered price.
	att.Price++
	if err := att.Verify(trusted); err == nil {
		t.Fatal("expected tampered attestation to fail")
	}
}

// TestSigHashLargeAmount signs a transfer whose amount exceeds 2^53 and
// tampers it to a value that rounds to the same float64. The sign hash must
// keep the integers exact so the tampered transaction fails verification.
func TestSigHashLargeAmount(t *testing.T) {
	sk, _ := crypto.GenerateKeyPair()
	rk, _ := crypto.GenerateKeyPair()
	tx := Transaction{
		Type:   TxTransfer,
		Nonce:  1,
		Fee:    MinFee,
		To:     AddressFromKey(rk.PublicKey()),
		Amount: 1 << 60,
	}
	if err := tx.Sign(sk); err != nil {
		t.Fatal(err)
	}
	if err := tx.VerifySignature(); err != nil {
		t.Fatal(err)
	}

	h1, err := tx.SigHash()
	if err != nil {
		t.Fatal(err)
	}
	// 2^60 and 2^60+3 collapse to the same float64.
	tx.Amount = 1<<60 + 3
	h2, err := tx.SigHash()
	if err != nil {
		t.Fatal(err)
	}
	if h1 == h2 {
		t.Fatal("sign hash does not distinguish amounts beyond float64 precision")
	}
	if err := tx.VerifySignature(); err != ErrTxBadSignature {
		t.Fatal("tampered large amount still verifies:", err)
	}
}

// TestTransactionID checks that the id covers the signature.
func TestTransactionID(t *testing.T) {
	sk, _ := crypto.GenerateKeyPair()
	rk, _ := crypto.GenerateKeyPair()
	tx := Transaction{Type: TxTransfer, Nonce: 1, Fee: MinFee, To: AddressFromKey(rk.PublicKey()), Amount: 5}
	if err := tx.Sign(sk); err != nil {
		t.Fatal(err)
	}
	id1, err := tx.ID()
	if err != nil {
		t.Fatal(err)
	}
	tx.Signature[0] ^= 0xff
	id2, err := tx.ID()
	if err != nil {
		t.Fatal(err)
	}
	if id1 == id2 {
		t.Fatal("transaction id does not cover the signature")
	}
}
