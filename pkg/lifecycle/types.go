// Copyright 2025 QNet Project
//
// Package lifecycle implements C4, the node reputation/penalty/ban state
// machine. It is grounded on the unified penalty system: a single
// reputation scale from 0-100, tagged violation types mapped to tagged
// penalty actions, and a corrected separation between inactivity
// (network exclusion, reversible) and attacks (bans, time-bounded or
// permanent).
package lifecycle

import "time"

// NodeType mirrors pkg/chainstore.NodeType; kept distinct here so
// lifecycle has no import dependency on chainstore.
type NodeType string

const (
	NodeLight NodeType = "light"
	NodeFull  NodeType = "full"
	NodeSuper NodeType = "super"
)

// ViolationType is the tagged variant for reasons a node is penalized.
type ViolationType string

const (
	ViolationMissedPing       ViolationType = "missed_ping"
	ViolationInvalidBlock     ViolationType = "invalid_block"
	ViolationDoubleSign       ViolationType = "double_sign"
	ViolationNetworkSpam      ViolationType = "network_spam"
	ViolationConsensusFailure ViolationType = "consensus_failure"
	ViolationOfflineExtended  ViolationType = "offline_extended"
)

// PenaltyAction is the tagged variant for the action the engine takes in
// response to a violation.
type PenaltyAction string

const (
	ActionWarning           PenaltyAction = "warning"
	ActionReputationPenalty PenaltyAction = "reputation_penalty"
	ActionRewardSuspension  PenaltyAction = "reward_suspension"
	ActionConsensusBan      PenaltyAction = "consensus_ban"
	ActionNetworkExclusion  PenaltyAction = "network_exclusion"
	ActionTemporaryBan      PenaltyAction = "temporary_ban"
	ActionPermanentBan      PenaltyAction = "permanent_ban"
)

// Unified thresholds, all on the 0-100 reputation scale.
const (
	InitialReputation = 50.0
	RewardsThreshold  = 40.0
	ConsensusThreshold = 70.0
	BanThreshold      = 10.0
	MinRestoredReputation = 25.0
)

// Ping-window parameters (spec.md's 4-hour / 240-slot reward window).
const (
	RewardWindow     = 4 * time.Hour
	PingSlots        = 240
	PingTimeout      = 60 * time.Second
	PingSuccessRate  = 0.90
)

// Inactivity / ban timing.
const (
	InactiveThreshold = 7 * 24 * time.Hour
	WarningThreshold  = 48 * time.Hour
	GracePeriod       = 12 * time.Hour

	TemporaryBanDuration = 7 * 24 * time.Hour
	ConsensusBanDuration = 24 * time.Hour
	PermanentBanDuration = 100 * 365 * 24 * time.Hour // treated as "forever" for ban-expiry comparisons
)

// Return timeouts without paid reactivation, differentiated by node type.
var ReturnTimeout = map[NodeType]time.Duration{
	NodeLight: 365 * 24 * time.Hour,
	NodeFull:  90 * 24 * time.Hour,
	NodeSuper: 30 * 24 * time.Hour,
}

// PenaltyAmounts is the reputation deduction charged per violation type.
var PenaltyAmounts = map[ViolationType]float64{
	ViolationMissedPing:       1.0,
	ViolationInvalidBlock:     5.0,
	ViolationDoubleSign:       30.0,
	ViolationNetworkSpam:      2.0,
	ViolationConsensusFailure: 10.0,
	ViolationOfflineExtended:  15.0,
}

// ViolationRecord is an immutable log entry for a single penalty event.
type ViolationRecord struct {
	NodeID           string
	ViolationType    ViolationType
	Timestamp        time.Time
	Severity         float64
	ActionTaken      PenaltyAction
	ReputationBefore float64
	ReputationAfter  float64
	Description      string
}

// NodeState is the live penalty/reputation state of a registered node.
type NodeState struct {
	NodeID            string
	NodeType          NodeType
	WalletAddress     string
	RegionHint        string // supplemented field: coarse geography hint recorded at activation; no selection logic reads it
	Reputation        float64
	LastPing          time.Time
	TotalViolations   int
	ActivePenalties   map[PenaltyAction]struct{}
	ExclusionTime     time.Time // zero value means "not excluded"
	BanExpiry         time.Time // zero value means "not banned"
	AccumulatedReward uint64
	ViolationHistory  []ViolationRecord
}

func (s *NodeState) hasPenalty(a PenaltyAction) bool {
	_, ok := s.ActivePenalties[a]
	return ok
}

func (s *NodeState) addPenalty(a PenaltyAction) {
	if s.ActivePenalties == nil {
		s.ActivePenalties = make(map[PenaltyAction]struct{})
	}
	s.ActivePenalties[a] = struct{}{}
}

func (s *NodeState) clearPenalty(a PenaltyAction) {
	delete(s.ActivePenalties, a)
}

// isPermanentBan reports whether a ban_expiry this far in the future should
// be treated as permanent, per the original system's ">50 years" convention.
func isPermanentBan(expiry, now time.Time) bool {
	return !expiry.IsZero() && expiry.Sub(now) > 50*365*24*time.Hour
}

// ExcludedNode is the parked record kept for a node removed from the
// active registry due to inactivity, so it can later be restored.
type ExcludedNode struct {
	NodeID            string
	ExcludedAt        time.Time
	NodeType          NodeType
	WalletAddress     string
	RegionHint        string
	LastReputation    float64
	AccumulatedReward uint64
}
