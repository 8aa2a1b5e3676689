// Copyright 2025 QNet Project

package lifecycle

import "errors"

var (
	ErrNodeAlreadyRegistered = errors.New("lifecycle: node already registered")
	ErrWalletAlreadyBound    = errors.New("lifecycle: wallet already bound to another node")
	ErrNodeNotFound          = errors.New("lifecycle: node not found")
	ErrNodeAlreadyActive     = errors.New("lifecycle: node already active")
	ErrNoRewardsToWithdraw   = errors.New("lifecycle: no accumulated rewards to withdraw")
	ErrReactivationRequired  = errors.New("lifecycle: absence exceeds free return window, paid reactivation required")
	ErrProofAlreadyConsumed        = errors.New("lifecycle: proof_ref already consumed")
	ErrActivationProofInsufficient = errors.New("lifecycle: activation proof did not verify against required amount")
)
