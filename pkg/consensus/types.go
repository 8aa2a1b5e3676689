// Copyright 2025 QNet Project
//
// Package consensus implements C5, the commit-reveal proof-of-participation
// round driver: leader election by verifiable random commit-reveal,
// microblock production under an 800ms timing budget, and macroblock
// sealing via C2. Rounds run once per Config.TargetBlockTime and the
// elected leader builds a single microblock per sealed round; there is no
// separate 1 Hz microblock tick. It never imports pkg/lifecycle directly — violations are
// published on pkg/eventbus, per the spec's design note breaking the C4/C5
// cyclic reference.
package consensus

import "time"

// Config holds the round driver's timing and sizing parameters.
type Config struct {
	TCommit             time.Duration
	TReveal             time.Duration
	MinReveals          int
	MaxTxsPerMicroblock int
	TargetBlockTime     time.Duration
	DifficultyAdjustEvery uint64
	MicroblockBudget    time.Duration
}

// DefaultConfig matches spec.md §4.5's stated defaults.
func DefaultConfig() Config {
	return Config{
		TCommit:               60 * time.Second,
		TReveal:               30 * time.Second,
		MinReveals:            2,
		MaxTxsPerMicroblock:   2000,
		TargetBlockTime:       60 * time.Second,
		DifficultyAdjustEvery: 10,
		MicroblockBudget:      800 * time.Millisecond,
	}
}

// EligibilitySource is the seam consensus uses to ask whether a node may
// currently participate, satisfied by pkg/lifecycle.Registry without this
// package importing it.
type EligibilitySource interface {
	IsEligibleForConsensus(nodeID string) bool
}

// CommitRecord is a round's stored commit from one proposer.
type CommitRecord struct {
	Round      uint64
	Proposer   string
	CommitHash string
	ReceivedAt time.Time
}

// RevealRecord is an accepted reveal, bound to its commit.
type RevealRecord struct {
	Round    uint64
	Proposer string
	Value    []byte
	Nonce    []byte
}

// RoundResult is the outcome of a completed round's election phase.
type RoundResult struct {
	Round    uint64
	Sealed   bool
	Leader   string
	Reason   string
	Reveals  []RevealRecord
	Combined []byte
}

// MicroblockValidationResult reports how long creation and validation
// took, for the 800ms hard timing invariant and the 600ms warning.
type MicroblockValidationResult struct {
	Microblock   interface{}
	CreateTime   time.Duration
	ValidateTime time.Duration
}

func (r MicroblockValidationResult) totalTime() time.Duration {
	return r.CreateTime + r.ValidateTime
}

// ExceedsBudget reports whether total production time breached the hard
// 800ms invariant.
func (r MicroblockValidationResult) ExceedsBudget(budget time.Duration) bool {
	return r.totalTime() > budget
}

// ExceedsWarningThreshold reports the monitoring-only 600ms mark.
func (r MicroblockValidationResult) ExceedsWarningThreshold() bool {
	return r.totalTime() > 600*time.Millisecond
}
