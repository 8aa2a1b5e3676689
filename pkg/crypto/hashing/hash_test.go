package hashing

import (
	"strings"
	"testing"
)

func TestActivationCodeFormat(t *testing.T) {
	code := ActivationCode("W1", "TX_A", 1700000000)
	if !strings.HasPrefix(code, "QNET-") {
		t.Fatalf("expected QNET- prefix, got %s", code)
	}
	parts := strings.Split(code, "-")
	if len(parts) != 4 {
		t.Fatalf("expected 4 dash-separated parts, got %d (%s)", len(parts), code)
	}
	for _, p := range parts[1:] {
		if len(p) != 4 {
			t.Fatalf("expected 4-char group, got %q", p)
		}
	}
}

func TestActivationCodeDeterministic(t *testing.T) {
	a := ActivationCode("W1", "TX_A", 1700000000)
	b := ActivationCode("W1", "TX_A", 1700000000)
	if a != b {
		t.Fatalf("expected deterministic output, got %s != %s", a, b)
	}
	c := ActivationCode("W2", "TX_A", 1700000000)
	if a == c {
		t.Fatalf("different wallets must not collide")
	}
}

func TestCanonicalizeSortsKeys(t *testing.T) {
	a, err := Canonicalize([]byte(`{"b":1,"a":2}`))
	if err != nil {
		t.Fatal(err)
	}
	b, err := Canonicalize([]byte(`{"a":2,"b":1}`))
	if err != nil {
		t.Fatal(err)
	}
	if string(a) != string(b) {
		t.Fatalf("canonical forms differ: %s vs %s", a, b)
	}
}

func TestHashStructMinusOmitsFields(t *testing.T) {
	type tx struct {
		From      string `json:"from"`
		Signature string `json:"signature"`
	}
	t1 := tx{From: "alice", Signature: "sig1"}
	t2 := tx{From: "alice", Signature: "sig2"}

	h1, err := HashStructMinus(t1, "signature")
	if err != nil {
		t.Fatal(err)
	}
	h2, err := HashStructMinus(t2, "signature")
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatalf("fingerprint must ignore signature field")
	}
}

func TestSumVariants(t *testing.T) {
	for _, v := range []Variant{SHA256, SHA3_256, BLAKE2b} {
		d, err := SumVariant(v, []byte("hello"))
		if err != nil {
			t.Fatalf("variant %s: %v", v, err)
		}
		if len(d) != Size {
			t.Fatalf("variant %s: expected %d bytes, got %d", v, Size, len(d))
		}
	}
	if _, err := SumVariant("bogus", []byte("x")); err == nil {
		t.Fatal("expected error for unknown variant")
	}
}
