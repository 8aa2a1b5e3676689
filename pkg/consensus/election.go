// Copyright 2025 QNet Project

package consensus

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/qnet-project/qnet-core/pkg/crypto/envelope"
	"github.com/qnet-project/qnet-core/pkg/crypto/hashing"
	"github.com/qnet-project/qnet-core/pkg/wire"
)

// commitPreimage is the canonical structure hashed to produce and verify a
// commit_hash, per spec.md §4.5.b's H(value||nonce||R||node_id).
type commitPreimage struct {
	Value    string `json:"value"`
	Nonce    string `json:"nonce"`
	Round    uint64 `json:"round"`
	Proposer string `json:"proposer"`
}

func commitHashFor(value, nonce []byte, round uint64, proposer string) (string, error) {
	h, err := hashing.HashCanonical(commitPreimage{
		Value:    hex.EncodeToString(value),
		Nonce:    hex.EncodeToString(nonce),
		Round:    round,
		Proposer: proposer,
	})
	if err != nil {
		return "", err
	}
	return hashing.Hex(h[:]), nil
}

// GenerateCommit samples a fresh (value, nonce) pair for round R and
// returns the signed wire.Commit to broadcast, plus the secret pair the
// caller must retain to reveal later.
func GenerateCommit(sk *envelope.PrivateKey, round uint64, proposer string, now int64) (wire.Commit, []byte, []byte, error) {
	value := make([]byte, 32)
	nonce := make([]byte, 32)
	if _, err := rand.Read(value); err != nil {
		return wire.Commit{}, nil, nil, err
	}
	if _, err := rand.Read(nonce); err != nil {
		return wire.Commit{}, nil, nil, err
	}

	commitHash, err := commitHashFor(value, nonce, round, proposer)
	if err != nil {
		return wire.Commit{}, nil, nil, err
	}

	sig, err := envelope.Sign(sk, envelope.DomainCommit, []byte(commitHash))
	if err != nil {
		return wire.Commit{}, nil, nil, err
	}

	return wire.Commit{
		Round:      round,
		Proposer:   proposer,
		CommitHash: commitHash,
		Signature:  hex.EncodeToString(sig.Bytes()),
		Timestamp:  now,
	}, value, nonce, nil
}

// VerifyCommitSignature checks a received commit's signature against the
// proposer's public key.
func VerifyCommitSignature(c wire.Commit, proposerPubKey *envelope.PublicKey) bool {
	sigRaw, err := hex.DecodeString(c.Signature)
	if err != nil {
		return false
	}
	return envelope.Verify(proposerPubKey, envelope.DomainCommit, []byte(c.CommitHash), envelope.SignatureFromBytes(sigRaw))
}

// SealRevealSignature signs a reveal message over its own fields minus
// signature, matching the wire-type "hash everything but the signature"
// convention the Transaction/BlockHeader/Microblock types already use.
func SealRevealSignature(sk *envelope.PrivateKey, r wire.Reveal) (string, error) {
	h, err := hashing.HashStructMinus(r, "signature")
	if err != nil {
		return "", err
	}
	sig, err := envelope.Sign(sk, envelope.DomainReveal, h[:])
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig.Bytes()), nil
}

func verifyRevealSignature(r wire.Reveal, pub *envelope.PublicKey) bool {
	h, err := hashing.HashStructMinus(r, "signature")
	if err != nil {
		return false
	}
	sigRaw, err := hex.DecodeString(r.Signature)
	if err != nil {
		return false
	}
	return envelope.Verify(pub, envelope.DomainReveal, h[:], envelope.SignatureFromBytes(sigRaw))
}

// CommitBoard tracks one round's accepted commits and reveals, rejecting
// duplicate commits from the same proposer and reveals that don't bind to
// a stored commit.
type CommitBoard struct {
	mu      sync.Mutex
	round   uint64
	commits map[string]CommitRecord // proposer -> commit
	reveals map[string]RevealRecord // proposer -> reveal
}

// NewCommitBoard starts tracking a fresh round.
func NewCommitBoard(round uint64) *CommitBoard {
	return &CommitBoard{
		round:   round,
		commits: make(map[string]CommitRecord),
		reveals: make(map[string]RevealRecord),
	}
}

// AcceptCommit records a verified commit, rejecting a second commit from
// the same proposer in this round.
func (b *CommitBoard) AcceptCommit(c wire.Commit, proposerPubKey *envelope.PublicKey, now int64) error {
	if c.Round != b.round {
		return fmt.Errorf("consensus: commit for round %d does not match board round %d", c.Round, b.round)
	}
	if !VerifyCommitSignature(c, proposerPubKey) {
		return fmt.Errorf("consensus: commit signature does not verify for proposer %s", c.Proposer)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.commits[c.Proposer]; exists {
		return ErrDuplicateCommit
	}
	b.commits[c.Proposer] = CommitRecord{Round: c.Round, Proposer: c.Proposer, CommitHash: c.CommitHash}
	return nil
}

// AcceptReveal validates a reveal against the proposer's stored commit
// hash and signature, recording it if valid. Returns (violation, err):
// violation is true when the reveal signature is valid but the hash does
// not bind, which the caller should report to C4 as an InvalidBlock
// violation against the proposer, per spec.md §4.5.b.
func (b *CommitBoard) AcceptReveal(r wire.Reveal, proposerPubKey *envelope.PublicKey) (violation bool, err error) {
	if !verifyRevealSignature(r, proposerPubKey) {
		return false, fmt.Errorf("consensus: reveal signature does not verify for proposer %s", r.Proposer)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	commit, ok := b.commits[r.Proposer]
	if !ok {
		return false, ErrNoCommitForProposer
	}

	value, err := hex.DecodeString(r.Value)
	if err != nil {
		return true, fmt.Errorf("consensus: decode reveal value: %w", err)
	}
	nonce, err := hex.DecodeString(r.Nonce)
	if err != nil {
		return true, fmt.Errorf("consensus: decode reveal nonce: %w", err)
	}

	recomputed, err := commitHashFor(value, nonce, r.Round, r.Proposer)
	if err != nil {
		return false, err
	}
	if recomputed != commit.CommitHash {
		return true, ErrRevealHashMismatch
	}

	b.reveals[r.Proposer] = RevealRecord{Round: r.Round, Proposer: r.Proposer, Value: value, Nonce: nonce}
	return false, nil
}

// Reveals returns the accepted reveals for this round, sorted by
// proposer, so DetermineWinner is deterministic regardless of arrival
// order.
func (b *CommitBoard) Reveals() []RevealRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]RevealRecord, 0, len(b.reveals))
	for _, r := range b.reveals {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Proposer < out[j].Proposer })
	return out
}

// DetermineWinner implements spec.md §4.5.b's winner-selection rule. It
// fails the round (Sealed=false) if fewer than minReveals were accepted,
// or if the combined randomness exceeds the difficulty target theta.
func DetermineWinner(round uint64, reveals []RevealRecord, minReveals int, theta float64) RoundResult {
	if len(reveals) < minReveals {
		return RoundResult{Round: round, Sealed: false, Reason: ErrInsufficientReveals.Error(), Reveals: reveals}
	}

	sorted := make([]RevealRecord, len(reveals))
	copy(sorted, reveals)
	sort.Slice(sorted, func(i, j int) bool {
		return hex.EncodeToString(sorted[i].Value) < hex.EncodeToString(sorted[j].Value)
	})

	concatenated := make([]byte, 0, 32*len(sorted))
	for _, r := range sorted {
		concatenated = append(concatenated, r.Value...)
	}
	combined := hashing.Sum(concatenated)

	if !belowThreshold(combined[:], theta) {
		return RoundResult{Round: round, Sealed: false, Reason: ErrAboveDifficultyTarget.Error(), Reveals: reveals, Combined: combined[:]}
	}

	winnerIndex := new(big.Int).SetBytes(combined[:])
	winnerIndex.Mod(winnerIndex, big.NewInt(int64(len(sorted))))

	leader := sorted[winnerIndex.Int64()].Proposer
	return RoundResult{Round: round, Sealed: true, Leader: leader, Reveals: reveals, Combined: combined[:]}
}

// belowThreshold reports whether combined, interpreted as a big-endian
// unsigned integer normalized to [0,1), is <= theta.
func belowThreshold(combined []byte, theta float64) bool {
	if theta >= 1.0 {
		return true
	}
	if theta <= 0.0 {
		return false
	}
	asFloat := new(big.Float).SetInt(new(big.Int).SetBytes(combined))
	maxVal := new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), uint(len(combined)*8)))
	normalized := new(big.Float).Quo(asFloat, maxVal)
	target := big.NewFloat(theta)
	return normalized.Cmp(target) <= 0
}

// AdjustDifficulty recomputes theta to track TargetBlockTime, per spec.md
// §4.5.b's "new_theta = cur_theta * target_time / actual_time", applied
// every DifficultyAdjustEvery rounds.
func AdjustDifficulty(currentTheta float64, targetTime, actualTime float64) float64 {
	if actualTime <= 0 {
		return currentTheta
	}
	next := currentTheta * targetTime / actualTime
	if next > 1.0 {
		next = 1.0
	}
	if next < 1e-9 {
		next = 1e-9
	}
	return next
}
