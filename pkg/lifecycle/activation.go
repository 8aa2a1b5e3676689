// Copyright 2025 QNet Project

package lifecycle

import (
	"time"

	"github.com/qnet-project/qnet-core/pkg/crypto/hashing"
)

// Phase-1 burn pricing (spec.md §4.4.a): base 1500 units, universal across
// node types, stepping down 150 units per 10% of the 1-billion supply
// burned, floored at 150.
const (
	phase1BaseUnits    = 1500
	phase1StepUnits    = 150
	phase1FloorUnits   = 150
	phase1TotalSupply  = 1_000_000_000
)

// Phase1RequiredBurn returns the currently required burn amount given the
// cumulative amount already burned network-wide.
func Phase1RequiredBurn(totalBurned uint64) uint64 {
	steps := totalBurned / (phase1TotalSupply / 10)
	required := int64(phase1BaseUnits) - int64(steps)*phase1StepUnits
	if required < phase1FloorUnits {
		required = phase1FloorUnits
	}
	return uint64(required)
}

// Phase-2 per-node-type base costs (in QNC), paid into Pool 3 rather than
// burned.
var phase2BaseCost = map[NodeType]uint64{
	NodeLight: 5000,
	NodeFull:  7500,
	NodeSuper: 10000,
}

// Phase2RequiredPayment returns the required QNC payment for activating a
// node of the given type, scaled by the live active-node count rather than
// an estimate derived from burn history (Design Notes' open question
// resolution).
func Phase2RequiredPayment(nodeType NodeType, activeNodeCount uint64) uint64 {
	base, ok := phase2BaseCost[nodeType]
	if !ok {
		base = phase2BaseCost[NodeLight]
	}

	var multiplier float64
	switch {
	case activeNodeCount < 100_000:
		multiplier = 0.5
	case activeNodeCount < 1_000_000:
		multiplier = 1.0
	case activeNodeCount < 10_000_000:
		multiplier = 2.0
	default:
		multiplier = 3.0
	}
	return uint64(float64(base) * multiplier)
}

// ActivationOracle is the external collaborator an activation call
// consults to verify a proof_ref before a node is enrolled. It is supplied
// by the caller (out-of-scope burn/transfer verification per spec.md §1);
// Registry never talks to a burn ledger or EVM/Solana RPC directly.
type ActivationOracle interface {
	// VerifyBurn reports whether proofRef references a confirmed Phase-1
	// burn of at least requiredUnits.
	VerifyBurn(proofRef string, requiredUnits uint64) (bool, error)
	// VerifyPoolTransfer reports whether proofRef references a confirmed
	// Phase-2 payment of at least requiredUnits into Pool 3.
	VerifyPoolTransfer(proofRef string, requiredUnits uint64) (bool, error)
}

// activationCodeFor derives the activation code for a freshly registered
// node from its wallet and consumed proof_ref, reusing the hashing
// package's canonical activation-code format so the code a wallet receives
// is independently re-derivable from the (wallet, proof_ref, timestamp)
// triple alone.
func activationCodeFor(walletAddress, proofRef string, now time.Time) string {
	return hashing.ActivationCode(walletAddress, proofRef, now.Unix())
}
