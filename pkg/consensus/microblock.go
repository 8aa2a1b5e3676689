// Copyright 2025 QNet Project

package consensus

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/qnet-project/qnet-core/pkg/crypto/envelope"
	"github.com/qnet-project/qnet-core/pkg/mempool"
	"github.com/qnet-project/qnet-core/pkg/wire"
)

// microblockMaxBytes bounds how much mempool data GetForInclusion will
// return for a single microblock; large enough for MaxTxsPerMicroblock
// transactions of realistic size without risking the 800ms budget on
// serialization alone.
const microblockMaxBytes = 4 << 20

// BuildMicroblock drains up to cfg.MaxTxsPerMicroblock eligible
// transactions from pool, assembles and signs a microblock as the
// elected leader, and reports how long assembly took against the
// package's timing budget. A zero-length microblock (no pending txs) is
// valid and still produced, matching real proof-of-participation chains
// that must keep pinging even when idle.
func BuildMicroblock(cfg Config, pool *mempool.Mempool, chain mempool.AccountView, sk *envelope.PrivateKey, round, index uint64, prevHash string, validator string, now time.Time) (wire.Microblock, MicroblockValidationResult, error) {
	start := time.Now()

	txs, err := pool.GetForInclusion(cfg.MaxTxsPerMicroblock, microblockMaxBytes, chain)
	if err != nil {
		return wire.Microblock{}, MicroblockValidationResult{}, fmt.Errorf("consensus: draining mempool: %w", err)
	}

	mb := wire.Microblock{
		Round:              round,
		Index:              index,
		PrevMicroblockHash: prevHash,
		Timestamp:          now.Unix(),
		Txs:                txs,
		Validator:          validator,
		ValidatorPubKey:    hex.EncodeToString(sk.Public().Bytes()),
	}

	h, err := mb.HeaderHash()
	if err != nil {
		return wire.Microblock{}, MicroblockValidationResult{}, fmt.Errorf("consensus: hashing microblock: %w", err)
	}
	sig, err := envelope.Sign(sk, envelope.DomainMicroblock, h[:])
	if err != nil {
		return wire.Microblock{}, MicroblockValidationResult{}, fmt.Errorf("consensus: signing microblock: %w", err)
	}
	mb.ValidatorSig = hex.EncodeToString(sig.Bytes())

	createTime := time.Since(start)
	result := MicroblockValidationResult{Microblock: mb, CreateTime: createTime}
	if result.ExceedsBudget(cfg.MicroblockBudget) {
		return mb, result, ErrMicroblockBudget
	}
	return mb, result, nil
}

// ValidateMicroblock checks a received microblock's leader binding,
// signature, and hash-chain linkage, timing the check against the same
// budget BuildMicroblock is held to.
func ValidateMicroblock(cfg Config, mb wire.Microblock, expectedLeader string, expectedPrevHash string, leaderPubKey *envelope.PublicKey) (MicroblockValidationResult, error) {
	start := time.Now()

	if mb.Validator != expectedLeader {
		return MicroblockValidationResult{}, ErrLeaderMismatch
	}
	if mb.PrevMicroblockHash != expectedPrevHash {
		return MicroblockValidationResult{}, fmt.Errorf("consensus: microblock prev hash %q does not chain from %q", mb.PrevMicroblockHash, expectedPrevHash)
	}

	h, err := mb.HeaderHash()
	if err != nil {
		return MicroblockValidationResult{}, fmt.Errorf("consensus: hashing microblock: %w", err)
	}
	sigRaw, err := hex.DecodeString(mb.ValidatorSig)
	if err != nil {
		return MicroblockValidationResult{}, fmt.Errorf("consensus: decoding microblock signature: %w", err)
	}
	if !envelope.Verify(leaderPubKey, envelope.DomainMicroblock, h[:], envelope.SignatureFromBytes(sigRaw)) {
		return MicroblockValidationResult{}, fmt.Errorf("consensus: microblock signature does not verify for validator %s", mb.Validator)
	}

	validateTime := time.Since(start)
	result := MicroblockValidationResult{Microblock: mb, ValidateTime: validateTime}
	if result.ExceedsBudget(cfg.MicroblockBudget) {
		return result, ErrMicroblockBudget
	}
	return result, nil
}
