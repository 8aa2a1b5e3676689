// Copyright 2025 QNet Project
//
// Wire types for the QNet core: transactions, macroblocks, microblocks, and
// the commit/reveal messages of leader election. These are the structures
// that cross component boundaries (C2/C3/C5) and the network boundary; all
// of them round-trip through canonical JSON for hashing (pkg/crypto/hashing)
// and travel inside the JSON Frame envelope of frame.go; any binary framing
// is left to the transport layer.
package wire

import "github.com/qnet-project/qnet-core/pkg/crypto/hashing"

// Transaction is the unconfirmed/confirmed transaction shape, per spec.md §3.
// Fingerprinted over every field except Signature.
type Transaction struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Amount    uint64 `json:"amount"`
	Nonce     uint64 `json:"nonce"`
	GasPrice  uint64 `json:"gas_price"`
	GasLimit  uint64 `json:"gas_limit"`
	Memo      string `json:"memo,omitempty"`
	PubKey    string `json:"pub_key"`
	Signature string `json:"signature"`
}

// CoinbaseFrom is the sentinel sender address for network-issued reward
// transactions — they carry no signature, and the mempool admits them on
// its coinbase path (Mempool.AddTransaction).
const CoinbaseFrom = "network"

// IsCoinbase reports whether tx is a network-issued coinbase transaction.
func (tx *Transaction) IsCoinbase() bool {
	return tx.From == CoinbaseFrom
}

// Fingerprint is spec.md §4.1's tx_fingerprint: SHA-256 of the canonical
// JSON of tx with the signature field removed.
func (tx *Transaction) Fingerprint() ([32]byte, error) {
	return hashing.HashStructMinus(tx, "signature")
}

// FingerprintHex is Fingerprint, hex-encoded.
func (tx *Transaction) FingerprintHex() (string, error) {
	fp, err := tx.Fingerprint()
	if err != nil {
		return "", err
	}
	return hashing.Hex(fp[:]), nil
}

// Fee is the flat transaction fee charged against the sender's balance in
// addition to Amount; gas_limit*gas_price is the fee budget, matching the
// common account-model convention the mempool and C2 both price against.
func (tx *Transaction) Fee() uint64 {
	return tx.GasPrice * tx.GasLimit
}

// BlockHeader is a macroblock header, per spec.md §3.
type BlockHeader struct {
	Index           uint64 `json:"index"`
	PrevHash        string `json:"prev_hash"`
	Timestamp       int64  `json:"timestamp"`
	MerkleRoot      string `json:"merkle_root"`
	Nonce           uint64 `json:"nonce"`
	Producer        string `json:"producer"`
	ProducerPubKey  string `json:"producer_pub_key"`
	ProducerSig     string `json:"producer_sig"`
	Hash            string `json:"hash"`
}

// HeaderHash is spec.md §4.1's block_header_hash: SHA-256 of the canonical
// JSON of header fields minus "hash" and "producer_sig".
func (h *BlockHeader) HeaderHash() ([32]byte, error) {
	return hashing.HashStructMinus(h, "hash", "producer_sig")
}

// Block is a macroblock: a header plus its ordered transaction body.
type Block struct {
	Header BlockHeader   `json:"header"`
	Body   []Transaction `json:"body"`
}

// Microblock is a sub-block produced at most once per wall-clock second by
// the current round leader, per spec.md §3/§4.5.c.
type Microblock struct {
	Round             uint64        `json:"round"`
	Index             uint64        `json:"index"` // micro_index within the round
	PrevMicroblockHash string       `json:"prev_microblock_hash"`
	Timestamp         int64         `json:"ts"`
	Txs               []Transaction `json:"txs"`
	Validator         string        `json:"validator"`
	ValidatorPubKey   string        `json:"validator_pub_key"`
	ValidatorSig      string        `json:"validator_sig"`
}

// HeaderHash hashes the microblock's identity fields minus its own
// signature, the same "hash everything but the signature" convention as
// BlockHeader and Transaction.
func (m *Microblock) HeaderHash() ([32]byte, error) {
	return hashing.HashStructMinus(m, "validator_sig")
}

// Commit is the commit phase message of leader election, per spec.md §3/§4.5.b.
type Commit struct {
	Round      uint64 `json:"round"`
	Proposer   string `json:"proposer"`
	CommitHash string `json:"commit_hash"`
	Signature  string `json:"signature"`
	Timestamp  int64  `json:"ts"`
}

// Reveal is the reveal phase message; accepted iff
// H(value||nonce||round||proposer) == the proposer's stored commit hash for
// that round.
type Reveal struct {
	Round     uint64 `json:"round"`
	Proposer  string `json:"proposer"`
	Value     string `json:"value"` // hex-encoded 32 random bytes
	Nonce     string `json:"nonce"` // hex-encoded 32 random bytes
	Signature string `json:"signature"`
}

// PingRecord is a per-node, per-window ping slot assignment, per spec.md §3/§4.4.b.
type PingRecord struct {
	NodeID      string `json:"node_id"`
	WindowStart int64  `json:"window_start"`
	Slot        int    `json:"slot"`
	Responded   bool   `json:"responded"`
	LatencyMS   int64  `json:"latency_ms"`
}

// RewardLedgerEntry records a reward accrual awaiting withdrawal, per
// spec.md §3.
type RewardLedgerEntry struct {
	NodeID  string `json:"node_id"`
	Window  int64  `json:"window"`
	Amount  uint64 `json:"amount"`
	Claimed bool   `json:"claimed"`
}
