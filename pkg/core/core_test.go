package core

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/qnet-project/qnet-core/pkg/config"
	"github.com/qnet-project/qnet-core/pkg/crypto/envelope"
	"github.com/qnet-project/qnet-core/pkg/lifecycle"
	"github.com/qnet-project/qnet-core/pkg/wire"
)

type memKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemKV() *memKV { return &memKV{data: make(map[string][]byte)} }

func (m *memKV) Get(key []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[string(key)], nil
}

func (m *memKV) Set(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[string(key)] = append([]byte(nil), value...)
	return nil
}

type testOracle struct {
	burnOK bool
}

func (o testOracle) VerifyBurn(proofRef string, required uint64) (bool, error) {
	return o.burnOK, nil
}

func (o testOracle) VerifyPoolTransfer(proofRef string, required uint64) (bool, error) {
	return o.burnOK, nil
}

func testCore(t *testing.T, oracle lifecycle.ActivationOracle) *Core {
	t.Helper()
	sk, _, err := envelope.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}

	cfg := &config.Config{
		NodeID:                "node-under-test",
		MempoolMaxSize:        100,
		MempoolMinGasPrice:    1,
		TCommit:               0,
		TReveal:               0,
		MinReveals:            1,
		MaxTxsPerMicroblock:   10,
		TargetBlockTime:       0,
		DifficultyAdjustEvery: 10,
	}

	return New(cfg, Dependencies{
		KV:             newMemKV(),
		Oracle:         oracle,
		SigningKey:     sk,
		PeerPublicKeys: map[string]*envelope.PublicKey{},
	})
}

func TestSubmitTransactionRejectsMalformedTx(t *testing.T) {
	c := testCore(t, testOracle{burnOK: true})

	result := c.SubmitTransaction(wire.Transaction{})
	if result.Accepted {
		t.Fatalf("expected an empty transaction to be rejected")
	}
	if result.RejectReason == "" {
		t.Fatalf("expected a non-empty reject reason")
	}
}

func TestActivateEnrollsNodeThroughOracle(t *testing.T) {
	c := testCore(t, testOracle{burnOK: true})

	result, err := c.Activate("wallet-1", "proof-1", lifecycle.NodeLight, "eu", 1, 0)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if result.NodeID == "" || result.ActivationCode == "" {
		t.Fatalf("expected node id and activation code to be populated")
	}
}

func TestActivateRejectsWhenOracleDeclines(t *testing.T) {
	c := testCore(t, testOracle{burnOK: false})

	if _, err := c.Activate("wallet-1", "proof-1", lifecycle.NodeLight, "", 1, 0); err == nil {
		t.Fatalf("expected activation to fail when the oracle declines the proof")
	}
}

func TestWithdrawRewardsQueuesPayoutTransaction(t *testing.T) {
	c := testCore(t, testOracle{burnOK: true})

	act, err := c.Activate("wallet-1", "proof-1", lifecycle.NodeLight, "", 1, 0)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := c.Registry().AddRewards(act.NodeID, 500); err != nil {
		t.Fatalf("add rewards: %v", err)
	}

	withdrawal, err := c.WithdrawRewards(act.NodeID)
	if err != nil {
		t.Fatalf("withdraw rewards: %v", err)
	}
	if withdrawal.AmountWithdrawn != 500 {
		t.Fatalf("expected to withdraw 500, got %d", withdrawal.AmountWithdrawn)
	}
	if withdrawal.TxHash == "" {
		t.Fatalf("expected a non-empty payout tx hash")
	}

	if _, err := c.Registry().WithdrawRewards(act.NodeID); err == nil {
		t.Fatalf("expected a second withdrawal with nothing accrued to fail")
	}
}

func TestGetSyncDataOnEmptyChainReturnsNoHeaders(t *testing.T) {
	c := testCore(t, testOracle{burnOK: true})

	data, err := c.GetSyncData("headers", 0)
	if err != nil {
		t.Fatalf("get sync data: %v", err)
	}
	if len(data.Headers) != 0 {
		t.Fatalf("expected no headers on an empty chain, got %d", len(data.Headers))
	}
}

func TestGetSyncDataRejectsUnknownKind(t *testing.T) {
	c := testCore(t, testOracle{burnOK: true})

	if _, err := c.GetSyncData("bogus", 0); err == nil {
		t.Fatalf("expected an unknown sync kind to error")
	}
}

func TestSubmitMacroblockRejectsOutOfOrderBlock(t *testing.T) {
	c := testCore(t, testOracle{burnOK: true})

	block := &wire.Block{Header: wire.BlockHeader{Index: 5}}
	if err := c.SubmitMacroblock(block); err == nil {
		t.Fatalf("expected a non-genesis block on an empty chain to be rejected")
	}
}

func TestDispatchRoutesPingFrame(t *testing.T) {
	c := testCore(t, testOracle{burnOK: true})

	act, err := c.Activate("wallet-1", "proof-1", lifecycle.NodeLight, "", 1, 0)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}

	frame, err := wire.NewFrame(wire.FramePing, wire.PingRecord{NodeID: act.NodeID}, "")
	if err != nil {
		t.Fatalf("build frame: %v", err)
	}
	raw, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	if err := c.Dispatch(raw); err != nil {
		t.Fatalf("dispatch ping frame: %v", err)
	}
}
