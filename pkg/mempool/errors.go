// Copyright 2025 QNet Project

package mempool

import "errors"

// RejectionReason is the tagged variant for mempool admission rejections,
// per Design Notes' "ad-hoc dicts become tagged variants for... reject
// reasons" translation of the Python source's loose string/dict returns.
type RejectionReason string

const (
	RejectSyntactic      RejectionReason = "syntactic"
	RejectBadSignature   RejectionReason = "bad_signature"
	RejectAddressMismatch RejectionReason = "address_mismatch"
	RejectBadNonce       RejectionReason = "bad_nonce"
	RejectInsufficientFunds RejectionReason = "insufficient_funds"
	RejectLowGasPrice    RejectionReason = "low_gas_price"
	RejectDuplicate      RejectionReason = "duplicate"
)

var (
	ErrTooLarge      = errors.New("mempool: transaction exceeds max size")
	ErrMissingFields = errors.New("mempool: transaction missing required fields")
	ErrFull          = errors.New("mempool: pool at capacity and no lower-priority entry to evict")
)

// RejectionError pairs a RejectionReason with the underlying cause, so
// callers can branch on Reason while still logging Err.
type RejectionError struct {
	Reason RejectionReason
	Err    error
}

func (e *RejectionError) Error() string {
	return string(e.Reason) + ": " + e.Err.Error()
}

func (e *RejectionError) Unwrap() error { return e.Err }

func reject(reason RejectionReason, err error) *RejectionError {
	return &RejectionError{Reason: reason, Err: err}
}
