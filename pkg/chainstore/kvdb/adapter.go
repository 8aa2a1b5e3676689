// Copyright 2025 QNet Project
//
// KV Adapter for CometBFT Database Integration
// Wraps CometBFT's dbm.DB interface to implement chainstore.KV

package kvdb

import (
	dbm "github.com/cometbft/cometbft-db"
)

// KVAdapter wraps a CometBFT dbm.DB and exposes the chainstore.KV interface.
// This lets the chain store use an embedded KV engine (goleveldb, badgerdb,
// etc, selected by the caller when constructing db) instead of a hand-rolled
// LRU-plus-disk-overflow cache.
type KVAdapter struct {
	db dbm.DB
}

// NewKVAdapter creates a new KVAdapter for the given underlying DB.
func NewKVAdapter(db dbm.DB) *KVAdapter {
	return &KVAdapter{db: db}
}

// Get implements chainstore.KV.Get.
func (a *KVAdapter) Get(key []byte) ([]byte, error) {
	if a.db == nil {
		return nil, nil
	}
	v, err := a.db.Get(key)
	if err != nil {
		return nil, err
	}
	// v may be nil if key not found -- the store treats nil as "not present".
	return v, nil
}

// Set implements chainstore.KV.Set.
func (a *KVAdapter) Set(key, value []byte) error {
	if a.db == nil {
		return nil
	}
	return a.db.SetSync(key, value)
}

// Iterator is a half-open [start, end) range scan in key order, delegating
// to the underlying engine's native iterator. It returns dbm.Iterator rather
// than chainstore.Iterator, so KVAdapter does not satisfy
// chainstore.RangeScanner.
func (a *KVAdapter) Iterator(start, end []byte) (dbm.Iterator, error) {
	if a.db == nil {
		return nil, nil
	}
	return a.db.Iterator(start, end)
}

// Close releases the underlying database handle.
func (a *KVAdapter) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}
