// Copyright 2025 QNet Project

package consensus

import "errors"

var (
	ErrNotEligible          = errors.New("consensus: node is not consensus-eligible")
	ErrDuplicateCommit      = errors.New("consensus: duplicate commit from proposer in round")
	ErrNoCommitForProposer  = errors.New("consensus: no stored commit for proposer in round")
	ErrRevealHashMismatch   = errors.New("consensus: reveal does not match stored commit hash")
	ErrInsufficientReveals  = errors.New("consensus: insufficient reveals to determine a winner")
	ErrAboveDifficultyTarget = errors.New("consensus: combined value above difficulty target, round fails")
	ErrLeaderMismatch       = errors.New("consensus: microblock validator does not match round's elected leader")
	ErrMicroblockBudget     = errors.New("consensus: microblock production exceeded timing budget")
)
