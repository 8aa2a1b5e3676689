// Copyright 2025 QNet Project

package core

import (
	"fmt"
	"time"

	"github.com/qnet-project/qnet-core/pkg/chainstore"
	"github.com/qnet-project/qnet-core/pkg/lifecycle"
	"github.com/qnet-project/qnet-core/pkg/mempool"
	"github.com/qnet-project/qnet-core/pkg/qnerrors"
	"github.com/qnet-project/qnet-core/pkg/wire"
)

// headerSyncWindow bounds how many headers a single GetSyncData(headers,
// cursor) call returns, so a lagging peer cannot force an unbounded scan.
const headerSyncWindow = 2048

// bodySyncWindow bounds a single GetSyncData(bodies, cursor) call.
const bodySyncWindow = 256

// SubmitTransactionResult is the ingress reply of spec.md §6's
// SubmitTransaction(tx).
type SubmitTransactionResult struct {
	Accepted     bool
	Fingerprint  string
	RejectReason string
}

// SubmitTransaction runs a transaction through the admission pipeline (C3)
// against the confirmed chain state (C2).
func (c *Core) SubmitTransaction(tx wire.Transaction) SubmitTransactionResult {
	fingerprint, err := c.pool.AddTransaction(tx, chainAccountView{store: c.store})
	if err != nil {
		c.metrics.MempoolRejected.WithLabelValues(rejectionReasonOf(err)).Inc()
		return SubmitTransactionResult{Accepted: false, RejectReason: err.Error()}
	}
	c.metrics.MempoolSize.Set(float64(c.pool.Size()))
	return SubmitTransactionResult{Accepted: true, Fingerprint: fingerprint}
}

func rejectionReasonOf(err error) string {
	var rejErr *mempool.RejectionError
	if asRejectionError(err, &rejErr) {
		return string(rejErr.Reason)
	}
	return "unknown"
}

// asRejectionError is a tiny errors.As wrapper kept local to avoid pulling
// in the standard errors package just for this one call site elsewhere.
func asRejectionError(err error, target **mempool.RejectionError) bool {
	for err != nil {
		if re, ok := err.(*mempool.RejectionError); ok {
			*target = re
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// ActivateResult is the ingress reply of spec.md §6's Activate(wallet,
// node_type, proof).
type ActivateResult struct {
	ActivationCode string
	NodeID         string
}

// Activate runs C4's registration flow (spec.md §4.4.a): proof
// verification against the oracle, replay/double-binding rejection, then
// enrollment.
func (c *Core) Activate(walletAddress, proofRef string, nodeType lifecycle.NodeType, regionHint string, phase int, totalBurned uint64) (ActivateResult, error) {
	if c.oracle == nil {
		return ActivateResult{}, qnerrors.New(qnerrors.CodeInternal, "core: no activation oracle configured")
	}

	activeCount := c.registry.ActiveNodeCount()
	nodeID, code, err := c.registry.Activate(c.oracle, walletAddress, proofRef, nodeType, regionHint, phase, activeCount, totalBurned, time.Now())
	if err != nil {
		return ActivateResult{}, mapActivationErr(err)
	}
	return ActivateResult{ActivationCode: code, NodeID: nodeID}, nil
}

func mapActivationErr(err error) error {
	switch err {
	case lifecycle.ErrWalletAlreadyBound:
		return qnerrors.Wrap(qnerrors.CodeConflict, "wallet already bound to a node", err)
	case lifecycle.ErrProofAlreadyConsumed:
		return qnerrors.Wrap(qnerrors.CodeConflict, "proof_ref already consumed", err)
	case lifecycle.ErrActivationProofInsufficient:
		return qnerrors.Wrap(qnerrors.CodeValidation, "activation proof did not verify", err)
	default:
		return qnerrors.Wrap(qnerrors.CodeInternal, "activation failed", err)
	}
}

// PingResult is the ingress reply of spec.md §6's Ping(node_id,
// challenge_response, signature).
type PingResult struct {
	Recorded bool
	Reason   string
}

// Ping records a node's response to its assigned ping slot. Challenge and
// signature verification is the network-ingress task's (T2) responsibility
// per spec.md §5 — by the time a ping reaches Core it is already
// authenticated; Core's job is only the last_ping_ts update C4 owns.
// UpdatePing refreshes last_ping_ts on every call; no per-window rate
// limit is applied.
func (c *Core) Ping(nodeID string) PingResult {
	if err := c.registry.UpdatePing(nodeID); err != nil {
		return PingResult{Recorded: false, Reason: err.Error()}
	}
	return PingResult{Recorded: true}
}

// WithdrawRewardsResult is the ingress reply of spec.md §6's
// WithdrawRewards(node_id, wallet_sig).
type WithdrawRewardsResult struct {
	AmountWithdrawn uint64
	TxHash          string
}

// WithdrawRewards zeroes a node's accumulated reward balance and queues a
// coinbase-style payout transaction into the mempool for inclusion in the
// next macroblock, rather than mutating account balances directly — the
// payout follows the same path as every other confirmed transfer.
func (c *Core) WithdrawRewards(nodeID string) (WithdrawRewardsResult, error) {
	amount, err := c.registry.WithdrawRewards(nodeID)
	if err != nil {
		return WithdrawRewardsResult{}, qnerrors.Wrap(qnerrors.CodeNotEligible, "no rewards to withdraw", err)
	}

	wallet, ok := c.registry.WalletAddressOf(nodeID)
	if !ok {
		return WithdrawRewardsResult{}, qnerrors.New(qnerrors.CodeInternal, "core: withdrew rewards for a node with no wallet binding")
	}

	payout := wire.Transaction{
		From:     wire.CoinbaseFrom,
		To:       wallet,
		Amount:   amount,
		GasLimit: 1,
	}
	// The pool assigns the payout's nonce (see Mempool.AddTransaction's
	// coinbase path), so its fingerprint is only final once admitted;
	// the hash returned here is the one AddTransaction itself computed,
	// not a pre-admission guess.
	hash, err := c.pool.AddTransaction(payout, chainAccountView{store: c.store})
	if err != nil {
		return WithdrawRewardsResult{}, qnerrors.Wrap(qnerrors.CodeInternal, "core: queue reward payout", err)
	}
	c.metrics.RewardsAccrued.Add(float64(amount))

	return WithdrawRewardsResult{AmountWithdrawn: amount, TxHash: hash}, nil
}

// SyncData is the union return type of GetSyncData, only one field
// populated depending on kind.
type SyncData struct {
	Headers  []wire.BlockHeader
	Blocks   []*wire.Block
	Snapshot *chainstore.SnapshotRef
}

// GetSyncData answers a peer's fast-sync request (spec.md §4.2/§6): headers
// or bodies from cursor onward, or a snapshot reference at cursor's height.
func (c *Core) GetSyncData(kind string, cursor uint64) (SyncData, error) {
	switch kind {
	case "headers":
		blocks, err := c.store.IterateRange(cursor, cursor+headerSyncWindow)
		if err != nil {
			return SyncData{}, qnerrors.Wrap(qnerrors.CodeStorage, "iterate headers", err)
		}
		headers := make([]wire.BlockHeader, 0, len(blocks))
		for _, b := range blocks {
			headers = append(headers, b.Header)
		}
		return SyncData{Headers: headers}, nil
	case "bodies":
		blocks, err := c.store.IterateRange(cursor, cursor+bodySyncWindow)
		if err != nil {
			return SyncData{}, qnerrors.Wrap(qnerrors.CodeStorage, "iterate bodies", err)
		}
		return SyncData{Blocks: blocks}, nil
	case "snapshot":
		ref, err := c.store.CreateSnapshot(cursor)
		if err != nil {
			return SyncData{}, qnerrors.Wrap(qnerrors.CodeStorage, "create snapshot", err)
		}
		return SyncData{Snapshot: ref}, nil
	default:
		return SyncData{}, qnerrors.New(qnerrors.CodeValidation, fmt.Sprintf("core: unknown sync kind %q", kind))
	}
}

// SubmitCommit, SubmitReveal and SubmitMicroblock hand peer-received
// consensus messages to the round driver's non-blocking ingress channels.
func (c *Core) SubmitCommit(commit wire.Commit) { c.engine.SubmitCommit(commit) }
func (c *Core) SubmitReveal(reveal wire.Reveal) { c.engine.SubmitReveal(reveal) }
func (c *Core) SubmitMicroblock(mb wire.Microblock) { c.engine.SubmitMicroblock(mb) }

// SubmitMacroblock appends a peer-sealed macroblock directly to the chain
// store. Unlike commits/reveals/microblocks, macroblocks do not flow
// through the round driver: a node only receives one from a peer while
// catching up (fast sync) or observing another leader's round, and C2's
// AppendBlock already performs every structural and signature check
// spec.md §4.2 requires.
func (c *Core) SubmitMacroblock(block *wire.Block) error {
	result := c.store.AppendBlock(block)
	if !result.OK {
		return qnerrors.Wrap(qnerrors.CodeValidation, "macroblock rejected", result.Error)
	}
	return nil
}
