// Copyright 2025 QNet Project

package core

import (
	"github.com/qnet-project/qnet-core/pkg/chainstore"
	"github.com/qnet-project/qnet-core/pkg/mempool"
)

// chainAccountView adapts *chainstore.Store to mempool.AccountView: C2's
// GetAccount returns the full Account record (balance, nonce, node
// membership), while C3's admission pipeline only ever needs the
// balance/nonce pair, so this is a narrowing view rather than a new
// capability.
type chainAccountView struct {
	store *chainstore.Store
}

func (v chainAccountView) GetAccount(addr string) (*mempool.AccountSnapshot, error) {
	acc, err := v.store.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return &mempool.AccountSnapshot{Balance: acc.Balance, Nonce: acc.Nonce}, nil
}
