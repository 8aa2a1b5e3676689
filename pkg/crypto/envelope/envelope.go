// Copyright 2025 QNet Project
//
// Post-quantum signing envelope (C1). Wraps a NIST-Level-3 lattice signature
// scheme (CRYSTALS-Dilithium, mode 3) behind fixed-size opaque key/signature
// types, the way the teacher's pkg/crypto/bls wraps BLS12-381 curve points:
// callers never see the underlying scheme's internals, only Bytes()/FromBytes()
// and constant package-level sizes.
//
// Per spec.md's open question on Dilithium parameters: the reference Python
// implementation (core/qnet-core/src/crypto/dilithium.py) uses reduced
// "mobile-optimized" parameters and a literal signature marker
// ("QNET_DILITHIUM_SIG_V1") that is not a real lattice signature at all. This
// package deliberately does not reproduce that scheme; it uses circl's
// certified Dilithium3 implementation instead, so QNet's header and
// transaction signatures are genuine NIST Level-3 post-quantum signatures.
package envelope

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"github.com/cloudflare/circl/sign/dilithium"
)

// scheme is the concrete Dilithium parameter set used throughout the core.
var scheme = dilithium.Mode3

// Fixed sizes, per spec.md §4.1's "expose fixed sizes (|pk|, |sk|, |sig|)
// each constants" contract.
var (
	PublicKeySize  = scheme.PublicKeySize()
	PrivateKeySize = scheme.PrivateKeySize()
	SignatureSize  = scheme.SignatureSize()
)

var (
	ErrInvalidPublicKey  = errors.New("envelope: invalid public key encoding")
	ErrInvalidPrivateKey = errors.New("envelope: invalid private key encoding")
)

// Domain separation tags, mirroring the teacher's DomainAttestation /
// DomainProposal constants (pkg/crypto/bls/bls.go). Every signed structure
// in the consensus layer is signed over domain||payload so a commit
// signature can never be replayed as a reveal or microblock signature.
const (
	DomainCommit     = "QNET_COMMIT_V1"
	DomainReveal     = "QNET_REVEAL_V1"
	DomainMicroblock = "QNET_MICROBLOCK_V1"
	DomainMacroblock = "QNET_MACROBLOCK_V1"
	DomainTx         = "QNET_TX_V1"
)

// PublicKey is an opaque Dilithium3 public key.
type PublicKey struct {
	inner dilithium.PublicKey
}

// PrivateKey is an opaque Dilithium3 private key.
type PrivateKey struct {
	inner dilithium.PrivateKey
	pub   PublicKey
}

// Signature is an opaque Dilithium3 signature.
type Signature struct {
	raw []byte
}

var initOnce sync.Once

// Initialize is a no-op hook kept for parity with the teacher's bls.Initialize
// pattern (generator-point setup); Dilithium has no such one-time setup, and
// nothing in this module calls it.
func Initialize() error {
	initOnce.Do(func() {})
	return nil
}

// GenerateKeyPair creates a new Dilithium3 key pair from the system CSPRNG.
func GenerateKeyPair() (*PrivateKey, *PublicKey, error) {
	pk, sk, err := scheme.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("envelope: generate key pair: %w", err)
	}
	pub := &PublicKey{inner: pk}
	return &PrivateKey{inner: sk, pub: *pub}, pub, nil
}

// GenerateKeyPairFromSeed derives a deterministic key pair from a seed.
// Useful for tests and for reconstructing a node's key from a recovery seed.
func GenerateKeyPairFromSeed(seed []byte) (*PrivateKey, *PublicKey, error) {
	if len(seed) != scheme.SeedSize() {
		return nil, nil, fmt.Errorf("envelope: seed must be %d bytes, got %d", scheme.SeedSize(), len(seed))
	}
	pk, sk := scheme.NewKeyFromSeed(seed)
	pub := &PublicKey{inner: pk}
	return &PrivateKey{inner: sk, pub: *pub}, pub, nil
}

// PublicKeyFromBytes decodes a public key from its fixed-size wire encoding.
func PublicKeyFromBytes(data []byte) (*PublicKey, error) {
	if len(data) != PublicKeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidPublicKey, len(data), PublicKeySize)
	}
	pk, err := scheme.UnmarshalBinaryPublicKey(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return &PublicKey{inner: pk}, nil
}

// PrivateKeyFromBytes decodes a private key from its fixed-size wire encoding.
func PrivateKeyFromBytes(data []byte) (*PrivateKey, error) {
	if len(data) != PrivateKeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidPrivateKey, len(data), PrivateKeySize)
	}
	sk, err := scheme.UnmarshalBinaryPrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	pub, ok := sk.Public().(dilithium.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: could not recover public key", ErrInvalidPrivateKey)
	}
	return &PrivateKey{inner: sk, pub: PublicKey{inner: pub}}, nil
}

// Bytes returns the fixed-size wire encoding of the public key.
func (pk *PublicKey) Bytes() []byte {
	if pk == nil {
		return nil
	}
	return pk.inner.Bytes()
}

// Bytes returns the fixed-size wire encoding of the private key.
func (sk *PrivateKey) Bytes() []byte {
	if sk == nil {
		return nil
	}
	return sk.inner.Bytes()
}

// Public returns the public half of a private key.
func (sk *PrivateKey) Public() *PublicKey {
	return &sk.pub
}

// Sign signs domain||msg and returns the raw signature bytes. The domain
// string is one of the Domain* constants above; callers must always sign
// and verify with the same domain a given structure uses, so a signature
// minted for one message kind can never verify against another.
func Sign(sk *PrivateKey, domain string, msg []byte) (*Signature, error) {
	if sk == nil {
		return nil, errors.New("envelope: nil private key")
	}
	raw := scheme.Sign(sk.inner, withDomain(domain, msg))
	return &Signature{raw: raw}, nil
}

// Verify reports whether sig is a valid signature of domain||msg under pk.
// Per spec.md §4.1's contract, Verify never errors: malformed signatures,
// wrong-length keys, or nil inputs all simply verify to false.
func Verify(pk *PublicKey, domain string, msg []byte, sig *Signature) bool {
	if pk == nil || sig == nil || len(sig.raw) != SignatureSize {
		return false
	}
	return scheme.Verify(pk.inner, withDomain(domain, msg), sig.raw)
}

func withDomain(domain string, msg []byte) []byte {
	out := make([]byte, 0, len(domain)+len(msg))
	out = append(out, domain...)
	out = append(out, msg...)
	return out
}

// Bytes returns the raw signature encoding.
func (s *Signature) Bytes() []byte {
	if s == nil {
		return nil
	}
	return append([]byte(nil), s.raw...)
}

// SignatureFromBytes wraps a raw signature encoding. It does not validate
// the signature's shape beyond length — Verify is where malformed
// signatures are rejected, fail-closed.
func SignatureFromBytes(data []byte) *Signature {
	return &Signature{raw: append([]byte(nil), data...)}
}
