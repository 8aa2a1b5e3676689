package consensus

import (
	"testing"
	"time"

	"github.com/qnet-project/qnet-core/pkg/eventbus"
	"github.com/qnet-project/qnet-core/pkg/mempool"
	"github.com/qnet-project/qnet-core/pkg/wire"
)

func TestSlashWatcherIgnoresResubmissionOfSameMicroblock(t *testing.T) {
	bus := eventbus.New()
	watcher := NewSlashWatcher(bus)

	sk, _ := mustKeypair(t)
	pool := mempool.New(100, 1)
	chain := &fakeChainView{}
	cfg := DefaultConfig()

	mb, _, err := BuildMicroblock(cfg, pool, chain, sk, 1, 0, "", "leader-1", time.Now())
	if err != nil {
		t.Fatalf("build microblock: %v", err)
	}

	violations, cancel := bus.SubscribeViolations()
	defer cancel()

	if detected, err := watcher.Observe(mb); err != nil || detected {
		t.Fatalf("first observation should not detect equivocation: detected=%v err=%v", detected, err)
	}
	if detected, err := watcher.Observe(mb); err != nil || detected {
		t.Fatalf("resubmitting the identical microblock should not equivocate: detected=%v err=%v", detected, err)
	}

	select {
	case ev := <-violations:
		t.Fatalf("unexpected violation published: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlashWatcherDetectsDoubleSign(t *testing.T) {
	bus := eventbus.New()
	watcher := NewSlashWatcher(bus)

	sk, _ := mustKeypair(t)
	pool := mempool.New(100, 1)
	chain := &fakeChainView{}
	cfg := DefaultConfig()

	first, _, err := BuildMicroblock(cfg, pool, chain, sk, 1, 0, "", "leader-1", time.Now())
	if err != nil {
		t.Fatalf("build first microblock: %v", err)
	}
	second, _, err := BuildMicroblock(cfg, pool, chain, sk, 1, 0, "", "leader-1", time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("build second microblock: %v", err)
	}

	violations, cancel := bus.SubscribeViolations()
	defer cancel()

	if detected, err := watcher.Observe(first); err != nil || detected {
		t.Fatalf("first observation should not equivocate: detected=%v err=%v", detected, err)
	}
	detected, err := watcher.Observe(second)
	if err != nil {
		t.Fatalf("observe second: %v", err)
	}
	if !detected {
		t.Fatalf("expected equivocation to be detected for two distinct microblocks at the same (round, index)")
	}

	select {
	case ev := <-violations:
		if ev.NodeID != "leader-1" || ev.Type != violationDoubleSign {
			t.Fatalf("unexpected violation event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for DoubleSign violation")
	}
}

func TestSlashWatcherResetDropsOldRounds(t *testing.T) {
	bus := eventbus.New()
	watcher := NewSlashWatcher(bus)

	mb := wire.Microblock{Round: 1, Index: 0, Validator: "leader-1"}
	watcher.seen[slotKey(mb.Round, mb.Index, mb.Validator)] = mb

	watcher.Reset(5)

	if _, ok := watcher.seen[slotKey(mb.Round, mb.Index, mb.Validator)]; ok {
		t.Fatalf("expected round 1 entry to be pruned after Reset(5)")
	}
}
