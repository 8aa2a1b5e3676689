package chainstore

import (
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/qnet-project/qnet-core/pkg/crypto/envelope"
	"github.com/qnet-project/qnet-core/pkg/crypto/hashing"
	"github.com/qnet-project/qnet-core/pkg/merkle"
	"github.com/qnet-project/qnet-core/pkg/wire"
)

func zeroRootHex() string {
	return hex.EncodeToString(make([]byte, 32))
}

// signedBlock builds and signs a block header for index, with the given
// body, wired up with a fresh Dilithium3 keypair.
func signedBlock(t *testing.T, index uint64, prevHash string, body []wire.Transaction) *wire.Block {
	t.Helper()

	sk, pk, err := envelope.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}

	merkleRoot := zeroRootHex()
	if len(body) > 0 {
		leaves := make([][]byte, len(body))
		for i := range body {
			fp, err := body[i].Fingerprint()
			if err != nil {
				t.Fatalf("fingerprint: %v", err)
			}
			leaves[i] = fp[:]
		}
		root, err := merkle.Root(leaves)
		if err != nil {
			t.Fatalf("merkle root: %v", err)
		}
		merkleRoot = hex.EncodeToString(root)
	}

	header := wire.BlockHeader{
		Index:          index,
		PrevHash:       prevHash,
		Timestamp:      1700000000 + int64(index),
		MerkleRoot:     merkleRoot,
		Producer:       "producer1",
		ProducerPubKey: hex.EncodeToString(pk.Bytes()),
	}

	headerHash, err := header.HeaderHash()
	if err != nil {
		t.Fatalf("header hash: %v", err)
	}
	sig, err := envelope.Sign(sk, envelope.DomainMacroblock, headerHash[:])
	if err != nil {
		t.Fatalf("sign header: %v", err)
	}
	header.ProducerSig = hex.EncodeToString(sig.Bytes())
	header.Hash = hashing.Hex(headerHash[:])

	return &wire.Block{Header: header, Body: body}
}

func TestAppendBlockGenesisCoinbase(t *testing.T) {
	store := New(newMemKV())

	coinbase := wire.Transaction{From: wire.CoinbaseFrom, To: "alice", Amount: 1000}
	block := signedBlock(t, 0, "", []wire.Transaction{coinbase})

	res := store.AppendBlock(block)
	if !res.OK {
		t.Fatalf("append genesis: %v", res.Error)
	}

	height, err := store.Height()
	if err != nil || height != 0 {
		t.Fatalf("expected height 0, got %d (err %v)", height, err)
	}

	acc, err := store.GetAccount("alice")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if acc.Balance != 1000 {
		t.Fatalf("expected balance 1000, got %d", acc.Balance)
	}
}

func TestAppendBlockRejectsWrongIndex(t *testing.T) {
	store := New(newMemKV())
	block := signedBlock(t, 1, "", nil) // should be 0
	res := store.AppendBlock(block)
	if res.OK {
		t.Fatalf("expected rejection for wrong index")
	}
}

func TestAppendBlockChainLinkage(t *testing.T) {
	store := New(newMemKV())

	genesis := signedBlock(t, 0, "", []wire.Transaction{
		{From: wire.CoinbaseFrom, To: "alice", Amount: 1000},
	})
	if res := store.AppendBlock(genesis); !res.OK {
		t.Fatalf("append genesis: %v", res.Error)
	}

	genesisHash, err := genesis.Header.HeaderHash()
	if err != nil {
		t.Fatalf("header hash: %v", err)
	}

	next := signedBlock(t, 1, hashing.Hex(genesisHash[:]), nil)
	if res := store.AppendBlock(next); !res.OK {
		t.Fatalf("append block 1: %v", res.Error)
	}

	// Testable property #5: block hash linkage.
	stored, err := store.GetBlock(1)
	if err != nil {
		t.Fatalf("get block: %v", err)
	}
	if stored.Header.PrevHash != hashing.Hex(genesisHash[:]) {
		t.Fatalf("prev_hash does not match parent header hash")
	}
}

func TestAppendBlockRejectsBadPrevHash(t *testing.T) {
	store := New(newMemKV())
	genesis := signedBlock(t, 0, "", nil)
	if res := store.AppendBlock(genesis); !res.OK {
		t.Fatalf("append genesis: %v", res.Error)
	}

	bad := signedBlock(t, 1, "not-the-real-hash", nil)
	if res := store.AppendBlock(bad); res.OK {
		t.Fatalf("expected rejection for bad prev_hash")
	}
}

func TestAppendBlockEnforcesNonceAndBalance(t *testing.T) {
	store := New(newMemKV())
	genesis := signedBlock(t, 0, "", []wire.Transaction{
		{From: wire.CoinbaseFrom, To: "alice", Amount: 100},
	})
	if res := store.AppendBlock(genesis); !res.OK {
		t.Fatalf("append genesis: %v", res.Error)
	}

	overspend := wire.Transaction{From: "alice", To: "bob", Amount: 1000, Nonce: 1}
	block := signedBlock(t, 1, headerHashHex(t, genesis), []wire.Transaction{overspend})
	if res := store.AppendBlock(block); res.OK {
		t.Fatalf("expected rejection for insufficient balance")
	}

	badNonce := wire.Transaction{From: "alice", To: "bob", Amount: 10, Nonce: 5}
	block2 := signedBlock(t, 1, headerHashHex(t, genesis), []wire.Transaction{badNonce})
	if res := store.AppendBlock(block2); res.OK {
		t.Fatalf("expected rejection for bad nonce")
	}
}

func TestCreateAndApplySnapshotRoundTrip(t *testing.T) {
	store := New(newMemKV())
	genesis := signedBlock(t, 0, "", []wire.Transaction{
		{From: wire.CoinbaseFrom, To: "alice", Amount: 500},
	})
	if res := store.AppendBlock(genesis); !res.OK {
		t.Fatalf("append genesis: %v", res.Error)
	}

	ref, err := store.CreateSnapshot(0)
	if err != nil {
		t.Fatalf("create snapshot: %v", err)
	}
	if ref.ContentHash == "" {
		t.Fatalf("expected non-empty content hash")
	}

	fresh := New(newMemKV())
	raw, err := store.kv.Get(snapshotKey(0))
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}

	res := fresh.ApplySnapshot(&snap)
	if !res.OK {
		t.Fatalf("apply snapshot: %v", res.Error)
	}
	height, err := fresh.Height()
	if err != nil || height != 0 {
		t.Fatalf("expected restored height 0, got %d (err %v)", height, err)
	}
	acc, err := fresh.GetAccount("alice")
	if err != nil {
		t.Fatalf("get account after snapshot: %v", err)
	}
	if acc.Balance != 500 {
		t.Fatalf("expected restored balance 500, got %d", acc.Balance)
	}
}

func headerHashHex(t *testing.T, b *wire.Block) string {
	t.Helper()
	h, err := b.Header.HeaderHash()
	if err != nil {
		t.Fatalf("header hash: %v", err)
	}
	return hashing.Hex(h[:])
}
