// Copyright 2025 QNet Project

package chainstore

import "github.com/qnet-project/qnet-core/pkg/wire"

// KV is the minimal key-value contract the chain store needs; concrete
// storage engines (pkg/chainstore/kvdb's cometbft-db adapter, or an
// in-memory map for tests) only need to satisfy this.
type KV interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
}

// Iterator walks a [start, end) key range in key order.
type Iterator interface {
	Valid() bool
	Next()
	Key() []byte
	Value() []byte
	Close() error
}

// RangeScanner is implemented by KV engines that support ordered range
// scans. Only the store's account snapshot consults it; when the underlying
// KV does not implement it (e.g. a bare map in tests), the snapshot falls
// back to walking the stored blocks.
type RangeScanner interface {
	Iterator(start, end []byte) (Iterator, error)
}

// NodeType mirrors the lifecycle engine's three node tiers; the chain store
// keeps a denormalized copy on each account so GetAccount can answer
// is_node/node_type without round-tripping to the lifecycle registry.
type NodeType string

const (
	NodeTypeLight NodeType = "light"
	NodeTypeFull  NodeType = "full"
	NodeTypeSuper NodeType = "super"
)

// Account is the balance/nonce/node-membership view per spec.md §4.2's
// get_account contract.
type Account struct {
	Address  string   `json:"address"`
	Balance  uint64   `json:"balance"`
	Nonce    uint64   `json:"nonce"`
	IsNode   bool     `json:"is_node"`
	NodeType NodeType `json:"node_type,omitempty"`
}

// TxLocation is what get_transaction resolves a hash to.
type TxLocation struct {
	BlockIndex uint64        `json:"block_index"`
	TxIndex    int           `json:"tx_index"`
	Tx         wire.Transaction `json:"tx"`
}

// Snapshot is spec.md §4.2's create_snapshot capture: (height, header,
// account_map, total_issued), content-addressed by its own hash.
type Snapshot struct {
	Height      uint64                    `json:"height"`
	Header      wire.BlockHeader          `json:"header"`
	Accounts    map[string]Account        `json:"accounts"`
	TotalIssued uint64                    `json:"total_issued"`
	ContentHash string                    `json:"content_hash"`
}

// SnapshotRef is the lightweight handle returned by CreateSnapshot: enough
// to locate and verify the snapshot without holding the full account map.
type SnapshotRef struct {
	Height      uint64 `json:"height"`
	ContentHash string `json:"content_hash"`
}

// Result is the generic outcome of a state-mutating operation. Successful
// mutations carry no payload beyond nil error; this exists so call sites
// read like the spec's "-> Result" operations rather than bare errors.
type Result struct {
	OK    bool
	Error error
}

func Ok() Result              { return Result{OK: true} }
func Fail(err error) Result   { return Result{OK: false, Error: err} }
