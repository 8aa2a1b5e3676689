// Copyright 2025 QNet Project
//
// Peer bookkeeping for the sync fetcher: verified height claims, consecutive
// failure counts, and quarantine cooldowns. Grounded on the reference
// SyncManager's peer_failures counter and trusted_checkpoints
// (infrastructure/qnet-node/src/sync/sync_manager.py), translated from a
// Python dict-of-counters into an explicit Go type with its own lock.
package sync

import (
	"sync"
	"time"
)

// QuarantineThreshold is the number of consecutive recorded failures that
// quarantines a peer. Fetcher records a failure both for a failed
// verification and for a fetch that still fails after its retries.
const QuarantineThreshold = 3

// QuarantineCooldown is how long a quarantined peer is skipped for.
const QuarantineCooldown = 10 * time.Minute

// PeerInfo is a peer's advertised sync state.
type PeerInfo struct {
	ID             string
	Height         uint64
	TrustedCheckpoint bool // extends a known checkpoint height/hash
}

type peerState struct {
	consecutiveFailures int
	quarantinedUntil    time.Time
}

// PeerRegistry tracks per-peer failure counts and quarantine windows across
// sync attempts.
type PeerRegistry struct {
	mu    sync.Mutex
	state map[string]*peerState
}

// NewPeerRegistry constructs an empty registry.
func NewPeerRegistry() *PeerRegistry {
	return &PeerRegistry{state: make(map[string]*peerState)}
}

// IsQuarantined reports whether peer is currently in cooldown.
func (r *PeerRegistry) IsQuarantined(peer string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.state[peer]
	if !ok {
		return false
	}
	return now.Before(st.quarantinedUntil)
}

// RecordSuccess clears a peer's failure count.
func (r *PeerRegistry) RecordSuccess(peer string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.state[peer]; ok {
		st.consecutiveFailures = 0
	}
}

// RecordFailure increments a peer's consecutive failure count and
// quarantines it once the threshold is reached. Returns true if this call
// triggered quarantine.
func (r *PeerRegistry) RecordFailure(peer string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.state[peer]
	if !ok {
		st = &peerState{}
		r.state[peer] = st
	}
	st.consecutiveFailures++
	if st.consecutiveFailures >= QuarantineThreshold {
		st.quarantinedUntil = now.Add(QuarantineCooldown)
		st.consecutiveFailures = 0
		return true
	}
	return false
}

// SelectSyncTarget picks the trusted peer with the largest advertised
// height, per spec.md §4.2's fast-sync policy. Returns false if no trusted,
// non-quarantined peer is available.
func (r *PeerRegistry) SelectSyncTarget(peers []PeerInfo, now time.Time) (PeerInfo, bool) {
	var best PeerInfo
	found := false
	for _, p := range peers {
		if !p.TrustedCheckpoint {
			continue
		}
		if r.IsQuarantined(p.ID, now) {
			continue
		}
		if !found || p.Height > best.Height {
			best = p
			found = true
		}
	}
	return best, found
}
