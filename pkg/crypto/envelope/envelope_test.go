package envelope

import (
	"bytes"
	"testing"
)

func TestGenerateKeyPairSizes(t *testing.T) {
	sk, pk, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	if len(sk.Bytes()) != PrivateKeySize {
		t.Errorf("private key size: got %d want %d", len(sk.Bytes()), PrivateKeySize)
	}
	if len(pk.Bytes()) != PublicKeySize {
		t.Errorf("public key size: got %d want %d", len(pk.Bytes()), PublicKeySize)
	}
	if !bytes.Equal(sk.Public().Bytes(), pk.Bytes()) {
		t.Errorf("sk.Public() does not match generated public key")
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	sk, pk, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	msg := []byte("microblock-001")

	sig, err := Sign(sk, DomainMicroblock, msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(sig.Bytes()) != SignatureSize {
		t.Errorf("signature size: got %d want %d", len(sig.Bytes()), SignatureSize)
	}
	if !Verify(pk, DomainMicroblock, msg, sig) {
		t.Fatalf("expected valid signature to verify")
	}
}

func TestVerifyRejectsWrongDomain(t *testing.T) {
	sk, pk, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	msg := []byte("commit-001")
	sig, err := Sign(sk, DomainCommit, msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if Verify(pk, DomainReveal, msg, sig) {
		t.Fatalf("signature for DomainCommit must not verify under DomainReveal")
	}
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	sk, pk, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	sig, err := Sign(sk, DomainTx, []byte("payload-a"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if Verify(pk, DomainTx, []byte("payload-b"), sig) {
		t.Fatalf("expected tampered message to fail verification")
	}
}

func TestVerifyNeverErrorsOnMalformedInput(t *testing.T) {
	_, pk, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	msg := []byte("whatever")

	if Verify(nil, DomainTx, msg, SignatureFromBytes([]byte{1, 2, 3})) {
		t.Fatalf("nil public key must verify false")
	}
	if Verify(pk, DomainTx, msg, nil) {
		t.Fatalf("nil signature must verify false")
	}
	if Verify(pk, DomainTx, msg, SignatureFromBytes([]byte{1, 2, 3})) {
		t.Fatalf("short signature must verify false")
	}
}

func TestKeyPairFromSeedIsDeterministic(t *testing.T) {
	seed := bytes.Repeat([]byte{0x42}, 64)
	sk1, pk1, err := GenerateKeyPairFromSeed(seed[:32])
	if err != nil {
		t.Fatalf("from seed: %v", err)
	}
	sk2, pk2, err := GenerateKeyPairFromSeed(seed[:32])
	if err != nil {
		t.Fatalf("from seed: %v", err)
	}
	if !bytes.Equal(sk1.Bytes(), sk2.Bytes()) || !bytes.Equal(pk1.Bytes(), pk2.Bytes()) {
		t.Fatalf("same seed must derive the same key pair")
	}
}

func TestPublicKeyFromBytesRoundTrip(t *testing.T) {
	_, pk, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	decoded, err := PublicKeyFromBytes(pk.Bytes())
	if err != nil {
		t.Fatalf("decode public key: %v", err)
	}
	if !bytes.Equal(decoded.Bytes(), pk.Bytes()) {
		t.Fatalf("round-tripped public key does not match original")
	}
}

func TestPublicKeyFromBytesRejectsWrongLength(t *testing.T) {
	if _, err := PublicKeyFromBytes([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected error for short public key")
	}
}

func TestPrivateKeyFromBytesRecoversPublicKey(t *testing.T) {
	sk, pk, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	decoded, err := PrivateKeyFromBytes(sk.Bytes())
	if err != nil {
		t.Fatalf("decode private key: %v", err)
	}
	if !bytes.Equal(decoded.Public().Bytes(), pk.Bytes()) {
		t.Fatalf("private key loaded from bytes must recover its own public key")
	}

	msg := []byte("restart-after-load")
	sig, err := Sign(decoded, DomainTx, msg)
	if err != nil {
		t.Fatalf("sign with file-loaded key: %v", err)
	}
	if !Verify(decoded.Public(), DomainTx, msg, sig) {
		t.Fatalf("signature under a file-loaded key's own recovered public key must verify")
	}
}
