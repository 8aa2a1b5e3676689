package consensus

import (
	"context"
	"testing"
	"time"

	"github.com/qnet-project/qnet-core/pkg/chainstore"
	"github.com/qnet-project/qnet-core/pkg/crypto/envelope"
	"github.com/qnet-project/qnet-core/pkg/eventbus"
	"github.com/qnet-project/qnet-core/pkg/mempool"
)

type alwaysEligible struct{}

func (alwaysEligible) IsEligibleForConsensus(string) bool { return true }

func testEngine(t *testing.T, nodeID string, minReveals int) (*Engine, *envelope.PrivateKey) {
	t.Helper()
	sk, pk := mustKeypair(t)

	store := chainstore.New(newMemKV())
	pool := mempool.New(100, 1)
	chain := &fakeChainView{}
	bus := eventbus.New()

	cfg := DefaultConfig()
	cfg.TCommit = 5 * time.Millisecond
	cfg.TReveal = 5 * time.Millisecond
	cfg.MinReveals = minReveals

	peers := map[string]*envelope.PublicKey{nodeID: pk}

	engine := NewEngine(cfg, store, pool, chain, bus, alwaysEligible{}, nodeID, sk, peers, nil)
	return engine, sk
}

func TestRunRoundSealsMacroblockWhenSelfElectedAlone(t *testing.T) {
	engine, _ := testEngine(t, "solo-node", 1)

	result, err := engine.RunRound(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("run round: %v", err)
	}
	if !result.Sealed {
		t.Fatalf("expected round to seal with a single self-reveal meeting minReveals=1, got %+v", result)
	}
	if result.Leader != "solo-node" {
		t.Fatalf("expected solo-node to win its own round, got leader %s", result.Leader)
	}

	height, err := engine.store.Height()
	if err != nil {
		t.Fatalf("height: %v", err)
	}
	if height != 0 {
		t.Fatalf("expected a macroblock to have been sealed at height 0, got %d", height)
	}
}

func TestRunRoundFailsWithInsufficientReveals(t *testing.T) {
	engine, _ := testEngine(t, "solo-node", 2)

	result, err := engine.RunRound(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("run round: %v", err)
	}
	if result.Sealed {
		t.Fatalf("expected round to fail with only one reveal against minReveals=2")
	}

	height, err := engine.store.Height()
	if err != nil {
		t.Fatalf("height: %v", err)
	}
	if height != -1 {
		t.Fatalf("expected no macroblock sealed, height should remain -1, got %d", height)
	}
}

func TestRunRoundAdvancesRoundCounter(t *testing.T) {
	engine, _ := testEngine(t, "solo-node", 1)

	if _, err := engine.RunRound(context.Background(), time.Now()); err != nil {
		t.Fatalf("run round 0: %v", err)
	}
	if engine.round != 1 {
		t.Fatalf("expected round counter to advance to 1, got %d", engine.round)
	}

	if _, err := engine.RunRound(context.Background(), time.Now()); err != nil {
		t.Fatalf("run round 1: %v", err)
	}
	if engine.round != 2 {
		t.Fatalf("expected round counter to advance to 2, got %d", engine.round)
	}
}

func TestEngineStartStopIsIdempotent(t *testing.T) {
	engine, _ := testEngine(t, "solo-node", 1)
	engine.cfg.TargetBlockTime = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine.Start(ctx)
	engine.Start(ctx) // second Start should be a no-op, not panic or deadlock

	time.Sleep(30 * time.Millisecond)
	engine.Stop()
	engine.Stop() // second Stop should be a no-op
}
