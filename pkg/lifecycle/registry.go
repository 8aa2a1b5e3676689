// Copyright 2025 QNet Project

package lifecycle

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PersistentStore is the optional durability seam a Registry can be backed
// by (see pkg/lifecycle/pgstore). A nil store makes the Registry a pure
// in-memory engine, which is sufficient for tests and for nodes that
// reconstruct penalty state from chain replay rather than a side store.
type PersistentStore interface {
	SaveNode(s *NodeState) error
	SaveExcluded(e *ExcludedNode) error
	DeleteExcluded(nodeID string) error
}

// Registry is the concrete C4 penalty/lifecycle engine: one reputation
// scale per node, applied under a single mutex. Unlike pkg/chainstore's
// single-writer convention, penalty application is expected to be called
// concurrently from ping-timeout sweeps, consensus violation reports, and
// RPC handlers, so the mutex here guards every mutating method.
type Registry struct {
	mu             sync.Mutex
	nodes          map[string]*NodeState
	walletToNode   map[string]string
	excluded       map[string]*ExcludedNode
	violationLog   []ViolationRecord
	consumedProofs map[string]struct{}
	store          PersistentStore
}

// NewRegistry constructs an empty Registry. store may be nil.
func NewRegistry(store PersistentStore) *Registry {
	return &Registry{
		nodes:          make(map[string]*NodeState),
		walletToNode:   make(map[string]string),
		excluded:       make(map[string]*ExcludedNode),
		consumedProofs: make(map[string]struct{}),
		store:          store,
	}
}

// Activate runs spec.md §4.4.a's registration steps: verify the supplied
// proof against the oracle for the requested phase, reject replayed
// proof_refs and double-bound wallets, then enroll the node and return its
// activation code. phase must be 1 (burn) or 2 (pool transfer); phase2ActiveCount
// is only consulted when phase is 2, and should be the registry's own live
// active-node count.
func (r *Registry) Activate(oracle ActivationOracle, walletAddress, proofRef string, nodeType NodeType, regionHint string, phase int, phase2ActiveCount uint64, totalBurned uint64, now time.Time) (nodeID string, activationCode string, err error) {
	r.mu.Lock()
	if _, bound := r.walletToNode[walletAddress]; bound {
		r.mu.Unlock()
		return "", "", ErrWalletAlreadyBound
	}
	if _, consumed := r.consumedProofs[proofRef]; consumed {
		r.mu.Unlock()
		return "", "", ErrProofAlreadyConsumed
	}
	r.mu.Unlock()

	var verified bool
	switch phase {
	case 1:
		verified, err = oracle.VerifyBurn(proofRef, Phase1RequiredBurn(totalBurned))
	case 2:
		verified, err = oracle.VerifyPoolTransfer(proofRef, Phase2RequiredPayment(nodeType, phase2ActiveCount))
	default:
		return "", "", fmt.Errorf("lifecycle: unknown activation phase %d", phase)
	}
	if err != nil {
		return "", "", fmt.Errorf("lifecycle: activation proof verification failed: %w", err)
	}
	if !verified {
		return "", "", ErrActivationProofInsufficient
	}

	nodeID = uuid.NewString()
	if err := r.RegisterNode(nodeID, walletAddress, nodeType, regionHint); err != nil {
		return "", "", err
	}

	r.mu.Lock()
	r.consumedProofs[proofRef] = struct{}{}
	r.mu.Unlock()

	return nodeID, activationCodeFor(walletAddress, proofRef, now), nil
}

// RegisterNode enrolls a new node, enforcing the one-wallet-one-node
// policy.
func (r *Registry) RegisterNode(nodeID, walletAddress string, nodeType NodeType, regionHint string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.nodes[nodeID]; exists {
		return ErrNodeAlreadyRegistered
	}
	if existing, bound := r.walletToNode[walletAddress]; bound && existing != nodeID {
		return fmt.Errorf("%w: wallet already bound to %s", ErrWalletAlreadyBound, existing)
	}

	state := &NodeState{
		NodeID:          nodeID,
		NodeType:        nodeType,
		WalletAddress:   walletAddress,
		RegionHint:      regionHint,
		Reputation:      InitialReputation,
		LastPing:        time.Now(),
		ActivePenalties: make(map[PenaltyAction]struct{}),
	}
	r.nodes[nodeID] = state
	r.walletToNode[walletAddress] = nodeID

	return r.persistNode(state)
}

// UpdatePing refreshes the node's last-seen timestamp, as driven by T4's
// ping-slot sweep recording a successful response.
func (r *Registry) UpdatePing(nodeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.nodes[nodeID]
	if !ok {
		return ErrNodeNotFound
	}
	state.LastPing = time.Now()
	return r.persistNode(state)
}

// ApplyViolation charges the node's reputation for a violation, decides
// the resulting PenaltyAction, applies it, and appends a ViolationRecord
// to both the node's own history and the registry's global log. An
// unknown node is auto-registered with a light node type before the
// penalty is applied, mirroring the Python reference's auto-registration
// behavior.
func (r *Registry) ApplyViolation(nodeID string, v ViolationType, description string) (ViolationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.nodes[nodeID]
	if !ok {
		state = &NodeState{
			NodeID:          nodeID,
			NodeType:        NodeLight,
			Reputation:      InitialReputation,
			LastPing:        time.Now(),
			ActivePenalties: make(map[PenaltyAction]struct{}),
		}
		r.nodes[nodeID] = state
	}

	amount := PenaltyAmounts[v]
	before := state.Reputation
	state.Reputation -= amount
	if state.Reputation < 0 {
		state.Reputation = 0
	}
	state.TotalViolations++

	action := determinePenaltyAction(state, v)
	r.applyAction(state, action)

	record := ViolationRecord{
		NodeID:           nodeID,
		ViolationType:    v,
		Timestamp:        time.Now(),
		Severity:         amount,
		ActionTaken:      action,
		ReputationBefore: before,
		ReputationAfter:  state.Reputation,
		Description:      description,
	}
	state.ViolationHistory = append(state.ViolationHistory, record)
	r.violationLog = append(r.violationLog, record)

	if err := r.persistNode(state); err != nil {
		return record, err
	}
	return record, nil
}

func (r *Registry) applyAction(state *NodeState, action PenaltyAction) {
	now := time.Now()
	state.addPenalty(action)

	switch action {
	case ActionNetworkExclusion:
		state.ExclusionTime = now
	case ActionTemporaryBan:
		state.BanExpiry = now.Add(TemporaryBanDuration)
	case ActionPermanentBan:
		state.Reputation = 0.0
		state.BanExpiry = now.Add(PermanentBanDuration)
	case ActionConsensusBan:
		state.BanExpiry = now.Add(ConsensusBanDuration)
	}
}

// AddRewards credits a node's accumulated-but-unclaimed reward balance.
// Rewards remain withdrawable even while a node is banned.
func (r *Registry) AddRewards(nodeID string, amount uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.nodes[nodeID]
	if !ok {
		return ErrNodeNotFound
	}
	state.AccumulatedReward += amount
	return r.persistNode(state)
}

// WithdrawRewards zeroes and returns the node's accumulated reward
// balance.
func (r *Registry) WithdrawRewards(nodeID string) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.nodes[nodeID]
	if !ok {
		return 0, ErrNodeNotFound
	}
	amount := state.AccumulatedReward
	if amount == 0 {
		return 0, ErrNoRewardsToWithdraw
	}
	state.AccumulatedReward = 0
	if err := r.persistNode(state); err != nil {
		return 0, err
	}
	return amount, nil
}

// IsEligibleForRewards reports whether a node may currently receive
// reward-window payouts.
func (r *Registry) IsEligibleForRewards(nodeID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.nodes[nodeID]
	if !ok {
		return false
	}
	now := time.Now()

	if state.Reputation < RewardsThreshold {
		return false
	}
	windowStart := now.Truncate(RewardWindow)
	if state.LastPing.Before(windowStart) {
		return false
	}
	if state.hasPenalty(ActionRewardSuspension) {
		return false
	}
	if !state.BanExpiry.IsZero() && now.Before(state.BanExpiry) {
		return false
	}
	return true
}

// IsEligibleForConsensus reports whether a node may currently participate
// in commit-reveal election and microblock production.
func (r *Registry) IsEligibleForConsensus(nodeID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.nodes[nodeID]
	if !ok {
		return false
	}
	now := time.Now()

	if state.Reputation < ConsensusThreshold {
		return false
	}
	if state.hasPenalty(ActionConsensusBan) {
		return false
	}
	if !state.BanExpiry.IsZero() && now.Before(state.BanExpiry) {
		return false
	}
	if now.Sub(state.LastPing) > InactiveThreshold {
		return false
	}
	return true
}

// IsBanned distinguishes an attack-driven ban from inactivity exclusion.
// It returns (banned, reason).
func (r *Registry) IsBanned(nodeID string) (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.nodes[nodeID]
	if !ok {
		if _, excluded := r.excluded[nodeID]; excluded {
			return false, "node excluded due to inactivity (can be restored)"
		}
		return false, ""
	}

	now := time.Now()
	if !state.BanExpiry.IsZero() && now.Before(state.BanExpiry) {
		if isPermanentBan(state.BanExpiry, now) {
			return true, "permanent ban for repeated attacks"
		}
		return true, fmt.Sprintf("temporarily banned until %s", state.BanExpiry.UTC().Format(time.RFC3339))
	}
	return false, ""
}

// ExcludeInactiveNodes sweeps every active node whose last ping exceeds
// InactiveThreshold, applies an offline-extended violation, and moves it
// into the excluded registry. Returns the list of excluded node IDs.
// Intended to be invoked from T4's periodic sweep.
func (r *Registry) ExcludeInactiveNodes() ([]string, error) {
	r.mu.Lock()
	now := time.Now()
	var toExclude []string
	for nodeID, state := range r.nodes {
		if now.Sub(state.LastPing) > InactiveThreshold {
			toExclude = append(toExclude, nodeID)
		}
	}
	r.mu.Unlock()

	var excluded []string
	for _, nodeID := range toExclude {
		hours := now.Sub(r.nodes[nodeID].LastPing).Hours()
		if _, err := r.ApplyViolation(nodeID, ViolationOfflineExtended, fmt.Sprintf("offline for %.1f hours", hours)); err != nil {
			return excluded, err
		}

		r.mu.Lock()
		state, ok := r.nodes[nodeID]
		if !ok {
			r.mu.Unlock()
			continue
		}
		ex := &ExcludedNode{
			NodeID:            nodeID,
			ExcludedAt:        now,
			NodeType:          state.NodeType,
			WalletAddress:     state.WalletAddress,
			RegionHint:        state.RegionHint,
			LastReputation:    state.Reputation,
			AccumulatedReward: state.AccumulatedReward,
		}
		r.excluded[nodeID] = ex
		delete(r.nodes, nodeID)
		r.mu.Unlock()

		if err := r.persistExcluded(ex); err != nil {
			return excluded, err
		}
		excluded = append(excluded, nodeID)
	}
	return excluded, nil
}

// RestoreExcludedNode reactivates a node previously removed for
// inactivity. If the absence exceeds its node type's free return
// timeout, paidReactivation must be true or the call fails with
// ErrReactivationRequired. The restored reputation is computed by
// restorationReputation.
func (r *Registry) RestoreExcludedNode(nodeID string, paidReactivation bool) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ex, ok := r.excluded[nodeID]
	if !ok {
		return 0, ErrNodeNotFound
	}
	if _, active := r.nodes[nodeID]; active {
		return 0, ErrNodeAlreadyActive
	}

	now := time.Now()
	absence := now.Sub(ex.ExcludedAt)
	timeout := returnTimeoutFor(ex.NodeType)

	if absence > timeout && !paidReactivation {
		return 0, fmt.Errorf("%w: absent %.1f days, max %.1f days free",
			ErrReactivationRequired, absence.Hours()/24, timeout.Hours()/24)
	}

	newReputation := restorationReputation(ex.LastReputation, absence, timeout)

	state := &NodeState{
		NodeID:            nodeID,
		NodeType:          ex.NodeType,
		WalletAddress:     ex.WalletAddress,
		RegionHint:        ex.RegionHint,
		Reputation:        newReputation,
		LastPing:          now,
		ActivePenalties:   make(map[PenaltyAction]struct{}),
		AccumulatedReward: ex.AccumulatedReward,
	}
	r.nodes[nodeID] = state
	delete(r.excluded, nodeID)

	if err := r.persistNode(state); err != nil {
		return newReputation, err
	}
	return newReputation, r.persistExcludedDeletion(nodeID)
}

// CleanupExpiredBans clears expired (non-permanent) bans, returning how
// many nodes were cleared. Intended for T4's periodic sweep per
// SPEC_FULL.md's ban-expiry cleanup addition.
func (r *Registry) CleanupExpiredBans() (int, error) {
	r.mu.Lock()
	now := time.Now()
	var cleared []*NodeState
	for _, state := range r.nodes {
		if !state.BanExpiry.IsZero() && !now.Before(state.BanExpiry) && !isPermanentBan(state.BanExpiry, now) {
			state.BanExpiry = time.Time{}
			state.clearPenalty(ActionTemporaryBan)
			state.clearPenalty(ActionConsensusBan)
			cleared = append(cleared, state)
		}
	}
	r.mu.Unlock()

	for _, state := range cleared {
		if err := r.persistNode(state); err != nil {
			return len(cleared), err
		}
	}
	return len(cleared), nil
}

// NodeStatus is a point-in-time snapshot of a node's state, used by RPC
// status queries.
type NodeStatus struct {
	NodeID               string
	Reputation           float64
	TotalViolations      int
	AccumulatedReward    uint64
	EligibleForRewards   bool
	EligibleForConsensus bool
	IsBanned             bool
	BanReason            string
}

// GetNodeStatus returns a combined status view for an active node, or
// false if the node is unknown or excluded.
func (r *Registry) GetNodeStatus(nodeID string) (NodeStatus, bool) {
	r.mu.Lock()
	_, ok := r.nodes[nodeID]
	r.mu.Unlock()
	if !ok {
		return NodeStatus{}, false
	}

	r.mu.Lock()
	state := r.nodes[nodeID]
	status := NodeStatus{
		NodeID:            nodeID,
		Reputation:        state.Reputation,
		TotalViolations:   state.TotalViolations,
		AccumulatedReward: state.AccumulatedReward,
	}
	r.mu.Unlock()

	status.EligibleForRewards = r.IsEligibleForRewards(nodeID)
	status.EligibleForConsensus = r.IsEligibleForConsensus(nodeID)
	status.IsBanned, status.BanReason = r.IsBanned(nodeID)
	return status, true
}

// ActiveNodeCount returns the number of currently active (non-excluded)
// nodes, the live network-size figure Phase2RequiredPayment scales against.
func (r *Registry) ActiveNodeCount() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return uint64(len(r.nodes))
}

// WalletAddressOf returns the wallet address bound to an active node.
func (r *Registry) WalletAddressOf(nodeID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.nodes[nodeID]
	if !ok {
		return "", false
	}
	return state.WalletAddress, true
}

func (r *Registry) persistNode(s *NodeState) error {
	if r.store == nil {
		return nil
	}
	return r.store.SaveNode(s)
}

func (r *Registry) persistExcluded(e *ExcludedNode) error {
	if r.store == nil {
		return nil
	}
	return r.store.SaveExcluded(e)
}

func (r *Registry) persistExcludedDeletion(nodeID string) error {
	if r.store == nil {
		return nil
	}
	return r.store.DeleteExcluded(nodeID)
}
