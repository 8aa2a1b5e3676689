// Copyright 2025 QNet Project

package consensus

import (
	"fmt"
	"sync"

	"github.com/qnet-project/qnet-core/pkg/eventbus"
	"github.com/qnet-project/qnet-core/pkg/wire"
)

// violationDoubleSign mirrors lifecycle.ViolationDoubleSign's string
// value; kept as a local literal rather than an import to preserve the
// C4/C5 decoupling the eventbus package documents.
const (
	violationDoubleSign   = "double_sign"
	violationInvalidBlock = "invalid_block"
)

// SlashWatcher detects equivocation — two distinct, both-valid-signature
// microblocks signed by the same validator for the same (round, index) —
// and reports it to C4 over the event bus rather than holding a direct
// reference to pkg/lifecycle, per spec.md's design note on breaking that
// cyclic dependency.
type SlashWatcher struct {
	mu   sync.Mutex
	seen map[string]wire.Microblock // "round:index:validator" -> first-seen microblock
	bus  *eventbus.Bus
}

// NewSlashWatcher constructs a watcher publishing onto bus.
func NewSlashWatcher(bus *eventbus.Bus) *SlashWatcher {
	return &SlashWatcher{
		seen: make(map[string]wire.Microblock),
		bus:  bus,
	}
}

func slotKey(round, index uint64, validator string) string {
	return fmt.Sprintf("%d:%d:%s", round, index, validator)
}

// Observe records mb and reports a DoubleSign violation if a different
// microblock was already observed for the same validator at the same
// (round, index). Returns true when this call detected equivocation.
func (w *SlashWatcher) Observe(mb wire.Microblock) (bool, error) {
	key := slotKey(mb.Round, mb.Index, mb.Validator)

	w.mu.Lock()
	defer w.mu.Unlock()

	prior, exists := w.seen[key]
	if !exists {
		w.seen[key] = mb
		return false, nil
	}

	priorHash, err := prior.HeaderHash()
	if err != nil {
		return false, fmt.Errorf("consensus: hashing prior microblock: %w", err)
	}
	currentHash, err := mb.HeaderHash()
	if err != nil {
		return false, fmt.Errorf("consensus: hashing current microblock: %w", err)
	}
	if priorHash == currentHash {
		return false, nil
	}

	w.bus.Publish(eventbus.ViolationEvent{
		NodeID:      mb.Validator,
		Type:        violationDoubleSign,
		Description: fmt.Sprintf("two distinct signed microblocks observed for round %d index %d", mb.Round, mb.Index),
	})
	return true, nil
}

// ReportInvalidBlock publishes an InvalidBlock violation for a proposer
// whose reveal failed to bind to its commit, or whose microblock failed
// ValidateMicroblock.
func (w *SlashWatcher) ReportInvalidBlock(nodeID string, reason string) {
	w.bus.Publish(eventbus.ViolationEvent{
		NodeID:      nodeID,
		Type:        violationInvalidBlock,
		Description: reason,
	})
}

// Reset discards observations for rounds before keepFromRound, bounding
// memory growth across a long-running chain.
func (w *SlashWatcher) Reset(keepFromRound uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for key, mb := range w.seen {
		if mb.Round < keepFromRound {
			delete(w.seen, key)
		}
	}
}
