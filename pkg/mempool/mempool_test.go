package mempool

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/qnet-project/qnet-core/pkg/crypto/envelope"
	"github.com/qnet-project/qnet-core/pkg/wire"
)

type fakeAccounts struct {
	accounts map[string]AccountSnapshot
}

func (f *fakeAccounts) GetAccount(addr string) (*AccountSnapshot, error) {
	a, ok := f.accounts[addr]
	if !ok {
		return &AccountSnapshot{}, nil
	}
	return &a, nil
}

func signTx(t *testing.T, tx wire.Transaction, sk *envelope.PrivateKey) wire.Transaction {
	t.Helper()
	fp, err := tx.Fingerprint()
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	sig, err := envelope.Sign(sk, envelope.DomainTx, fp[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	tx.Signature = hex.EncodeToString(sig.Bytes())
	return tx
}

func newTestKeypair(t *testing.T) (*envelope.PrivateKey, string, string) {
	t.Helper()
	sk, pk, err := envelope.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	pubHex := hex.EncodeToString(pk.Bytes())
	from, err := addressFromPubKey(pubHex)
	if err != nil {
		t.Fatalf("address from pub key: %v", err)
	}
	return sk, pubHex, from
}

func TestAddTransactionAcceptsValidTx(t *testing.T) {
	sk, pubHex, from := newTestKeypair(t)
	mp := New(1000, 1)
	chain := &fakeAccounts{accounts: map[string]AccountSnapshot{from: {Balance: 1000, Nonce: 0}}}

	tx := signTx(t, wire.Transaction{From: from, To: "bob", Amount: 10, Nonce: 1, GasPrice: 5, GasLimit: 1, PubKey: pubHex}, sk)

	fp, err := mp.AddTransaction(tx, chain)
	if err != nil {
		t.Fatalf("add transaction: %v", err)
	}
	if fp == "" {
		t.Fatalf("expected non-empty fingerprint")
	}
	if mp.Size() != 1 {
		t.Fatalf("expected size 1, got %d", mp.Size())
	}
}

func TestAddTransactionRejectsBadSignature(t *testing.T) {
	sk, pubHex, from := newTestKeypair(t)
	mp := New(1000, 1)
	chain := &fakeAccounts{accounts: map[string]AccountSnapshot{from: {Balance: 1000}}}

	tx := signTx(t, wire.Transaction{From: from, To: "bob", Amount: 10, Nonce: 1, GasPrice: 5, GasLimit: 1, PubKey: pubHex}, sk)
	tx.Amount = 999 // invalidate the signature by mutating a signed field after signing

	if _, err := mp.AddTransaction(tx, chain); err == nil {
		t.Fatalf("expected rejection for tampered signed tx")
	}
}

func TestAddTransactionRejectsWrongNonce(t *testing.T) {
	sk, pubHex, from := newTestKeypair(t)
	mp := New(1000, 1)
	chain := &fakeAccounts{accounts: map[string]AccountSnapshot{from: {Balance: 1000}}}

	tx := signTx(t, wire.Transaction{From: from, To: "bob", Amount: 10, Nonce: 5, GasPrice: 5, GasLimit: 1, PubKey: pubHex}, sk)
	if _, err := mp.AddTransaction(tx, chain); err == nil {
		t.Fatalf("expected rejection for wrong nonce")
	}
}

func TestAddTransactionAllowsNonceChaining(t *testing.T) {
	sk, pubHex, from := newTestKeypair(t)
	mp := New(1000, 1)
	chain := &fakeAccounts{accounts: map[string]AccountSnapshot{from: {Balance: 1000}}}

	tx1 := signTx(t, wire.Transaction{From: from, To: "bob", Amount: 10, Nonce: 1, GasPrice: 5, GasLimit: 1, PubKey: pubHex}, sk)
	if _, err := mp.AddTransaction(tx1, chain); err != nil {
		t.Fatalf("add tx1: %v", err)
	}
	tx2 := signTx(t, wire.Transaction{From: from, To: "bob", Amount: 10, Nonce: 2, GasPrice: 5, GasLimit: 1, PubKey: pubHex}, sk)
	if _, err := mp.AddTransaction(tx2, chain); err != nil {
		t.Fatalf("add chained tx2: %v", err)
	}
}

func TestAddTransactionRejectsInsufficientBalance(t *testing.T) {
	sk, pubHex, from := newTestKeypair(t)
	mp := New(1000, 1)
	chain := &fakeAccounts{accounts: map[string]AccountSnapshot{from: {Balance: 5}}}

	tx := signTx(t, wire.Transaction{From: from, To: "bob", Amount: 10, Nonce: 1, GasPrice: 5, GasLimit: 1, PubKey: pubHex}, sk)
	if _, err := mp.AddTransaction(tx, chain); err == nil {
		t.Fatalf("expected rejection for insufficient balance")
	}
}

func TestAddTransactionRejectsDuplicateFingerprint(t *testing.T) {
	sk, pubHex, from := newTestKeypair(t)
	mp := New(1000, 1)
	chain := &fakeAccounts{accounts: map[string]AccountSnapshot{from: {Balance: 1000}}}

	tx := signTx(t, wire.Transaction{From: from, To: "bob", Amount: 10, Nonce: 1, GasPrice: 5, GasLimit: 1, PubKey: pubHex}, sk)
	if _, err := mp.AddTransaction(tx, chain); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := mp.AddTransaction(tx, chain); err == nil {
		t.Fatalf("expected rejection for duplicate fingerprint")
	}
}

func TestGetForInclusionKeepsSenderNonceOrderOverGasPrice(t *testing.T) {
	sk, pubHex, from := newTestKeypair(t)
	mp := New(1000, 1)
	chain := &fakeAccounts{accounts: map[string]AccountSnapshot{from: {Balance: 1000}}}

	low := signTx(t, wire.Transaction{From: from, To: "bob", Amount: 1, Nonce: 1, GasPrice: 1, GasLimit: 1, PubKey: pubHex}, sk)
	if _, err := mp.AddTransaction(low, chain); err != nil {
		t.Fatalf("add low: %v", err)
	}
	high := signTx(t, wire.Transaction{From: from, To: "bob", Amount: 1, Nonce: 2, GasPrice: 9, GasLimit: 1, PubKey: pubHex}, sk)
	if _, err := mp.AddTransaction(high, chain); err != nil {
		t.Fatalf("add high: %v", err)
	}

	// Nonce monotonicity forces nonce 1 before nonce 2 regardless of gas price.
	txs, err := mp.GetForInclusion(10, 1<<20, chain)
	if err != nil {
		t.Fatalf("get for inclusion: %v", err)
	}
	if len(txs) != 2 || txs[0].Nonce != 1 || txs[1].Nonce != 2 {
		t.Fatalf("expected nonce-ordered [1,2], got %+v", txs)
	}
}

func TestRemoveConfirmedNeverReserves(t *testing.T) {
	sk, pubHex, from := newTestKeypair(t)
	mp := New(1000, 1)
	chain := &fakeAccounts{accounts: map[string]AccountSnapshot{from: {Balance: 1000}}}

	tx := signTx(t, wire.Transaction{From: from, To: "bob", Amount: 1, Nonce: 1, GasPrice: 5, GasLimit: 1, PubKey: pubHex}, sk)
	fp, err := mp.AddTransaction(tx, chain)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	mp.RemoveConfirmed([]string{fp})
	if mp.Size() != 0 {
		t.Fatalf("expected empty pool after confirmation")
	}
	if _, ok := mp.Get(fp); ok {
		t.Fatalf("confirmed tx must not remain resident")
	}
}

func TestPruneExpiredRemovesOldEntries(t *testing.T) {
	sk, pubHex, from := newTestKeypair(t)
	mp := New(1000, 1)
	mp.ttl = time.Millisecond
	chain := &fakeAccounts{accounts: map[string]AccountSnapshot{from: {Balance: 1000}}}

	tx := signTx(t, wire.Transaction{From: from, To: "bob", Amount: 1, Nonce: 1, GasPrice: 5, GasLimit: 1, PubKey: pubHex}, sk)
	if _, err := mp.AddTransaction(tx, chain); err != nil {
		t.Fatalf("add: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	n := mp.PruneExpired(time.Now())
	if n != 1 {
		t.Fatalf("expected 1 pruned entry, got %d", n)
	}
}
