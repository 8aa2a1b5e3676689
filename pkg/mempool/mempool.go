// Copyright 2025 QNet Project
//
// Mempool is the C3 unconfirmed-transaction pool: a seven-check admission
// pipeline, priority ordering for block production, and size/TTL-bounded
// eviction. Concurrency follows spec.md §5's "lock granularity per-sender
// bucket is an implementation freedom": each sender's resident transactions
// live in their own bucket guarded by its own sync.RWMutex, generalized
// from the teacher's per-batch sync.RWMutex idiom
// (pkg/batch/collector.go's Collector) to per-sender pending-tx queues. A
// coarser mempool-level mutex guards only the bucket map and the global
// fingerprint index, never a bucket's contents.
package mempool

import (
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/qnet-project/qnet-core/pkg/crypto/envelope"
	"github.com/qnet-project/qnet-core/pkg/crypto/hashing"
	"github.com/qnet-project/qnet-core/pkg/wire"
)

// MaxTxBytes is spec.md §4.3's per-transaction syntactic size limit.
const MaxTxBytes = 100 * 1024

// DefaultTTL is how long a resident transaction survives without
// confirmation before the periodic sweep prunes it.
const DefaultTTL = time.Hour

// AccountView is the chain-state seam the admission pipeline consults for a
// sender's confirmed balance/nonce. pkg/core adapts pkg/chainstore.Store to
// it (chainAccountView), since Store.GetAccount returns a chainstore.Account.
type AccountView interface {
	GetAccount(addr string) (*AccountSnapshot, error)
}

// AccountSnapshot is the minimal confirmed-state view admission needs.
type AccountSnapshot struct {
	Balance uint64
	Nonce   uint64
}

// Entry is a mempool-resident transaction plus its admission metadata.
type Entry struct {
	Tx          wire.Transaction
	Fingerprint string
	SubmittedAt time.Time
}

type bucket struct {
	mu      sync.RWMutex
	byNonce map[uint64]*Entry
}

func newBucket() *bucket {
	return &bucket{byNonce: make(map[uint64]*Entry)}
}

// Mempool is the concrete C3 implementation.
type Mempool struct {
	mu       sync.RWMutex
	buckets  map[string]*bucket
	index    map[string]*Entry // fingerprint -> entry, global lookup
	size     int
	maxSize  int
	minGasPrice uint64
	ttl      time.Duration
}

// New constructs an empty Mempool.
func New(maxSize int, minGasPrice uint64) *Mempool {
	return &Mempool{
		buckets:     make(map[string]*bucket),
		index:       make(map[string]*Entry),
		maxSize:     maxSize,
		minGasPrice: minGasPrice,
		ttl:         DefaultTTL,
	}
}

func addressFromPubKey(pubKeyHex string) (string, error) {
	raw, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return "", err
	}
	digest := hashing.Sum(raw)
	return hashing.Hex(digest[:]), nil
}

func (m *Mempool) bucketFor(sender string, createIfMissing bool) *bucket {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[sender]
	if !ok && createIfMissing {
		b = newBucket()
		m.buckets[sender] = b
	}
	return b
}

// AddTransaction runs the seven ordered admission checks of spec.md §4.3 and,
// on success, inserts tx and returns its fingerprint. Coinbase transactions
// (tx.IsCoinbase(), minted by Core.WithdrawRewards rather than submitted by a
// wallet) bypass checks 2-6: they carry no pub_key/signature to verify, the
// pool assigns their nonce instead of checking it, and no balance or gas
// price check applies, since the network itself is the sender, not a party
// that must prove control of a keypair, fund the transfer or compete for
// inclusion.
func (m *Mempool) AddTransaction(tx wire.Transaction, chain AccountView) (string, error) {
	// 1. Syntactic.
	if err := validateSyntax(tx); err != nil {
		return "", reject(RejectSyntactic, err)
	}

	if !tx.IsCoinbase() {
		// 2. Signature verifies.
		pubRaw, err := hex.DecodeString(tx.PubKey)
		if err != nil {
			return "", reject(RejectBadSignature, fmt.Errorf("decode pub_key: %w", err))
		}
		pk, err := envelope.PublicKeyFromBytes(pubRaw)
		if err != nil {
			return "", reject(RejectBadSignature, err)
		}
		sigRaw, err := hex.DecodeString(tx.Signature)
		if err != nil {
			return "", reject(RejectBadSignature, fmt.Errorf("decode signature: %w", err))
		}
		fp, err := tx.Fingerprint()
		if err != nil {
			return "", reject(RejectBadSignature, err)
		}
		if !envelope.Verify(pk, envelope.DomainTx, fp[:], envelope.SignatureFromBytes(sigRaw)) {
			return "", reject(RejectBadSignature, fmt.Errorf("signature does not verify"))
		}

		// 3. tx.from == hash(pub_key).
		derived, err := addressFromPubKey(tx.PubKey)
		if err != nil {
			return "", reject(RejectAddressMismatch, err)
		}
		if derived != tx.From {
			return "", reject(RejectAddressMismatch, fmt.Errorf("from %q does not match hash(pub_key) %q", tx.From, derived))
		}
	}

	account, err := chain.GetAccount(tx.From)
	if err != nil {
		account = &AccountSnapshot{}
	}

	b := m.bucketFor(tx.From, true)
	b.mu.Lock()
	defer b.mu.Unlock()

	requiredNonce := account.Nonce + 1
	provisionalBalance := account.Balance
	if maxNonce, ok := maxResidentNonce(b); ok {
		requiredNonce = maxNonce + 1
	}
	for _, e := range b.byNonce {
		provisionalBalance -= e.Tx.Amount + e.Tx.Fee()
	}

	if tx.IsCoinbase() {
		// A coinbase payout has no wallet-assigned nonce to check against;
		// the pool assigns the next one in its own bucket so concurrent
		// payouts never collide on the same slot. The fingerprint is
		// computed below, after this assignment, so the hash returned to
		// the caller matches the tx actually admitted.
		tx.Nonce = requiredNonce
	} else {
		// 4. Nonce strictly equals current_nonce(from)+1 against provisional state.
		if tx.Nonce != requiredNonce {
			return "", reject(RejectBadNonce, fmt.Errorf("nonce %d, expected %d", tx.Nonce, requiredNonce))
		}

		// 5. Balance sufficient against provisional state.
		spend := tx.Amount + tx.Fee()
		if spend > provisionalBalance {
			return "", reject(RejectInsufficientFunds, fmt.Errorf("spend %d exceeds provisional balance %d", spend, provisionalBalance))
		}

		// 6. gas_price >= mempool_min_gas_price.
		if tx.GasPrice < m.minGasPrice {
			return "", reject(RejectLowGasPrice, fmt.Errorf("gas_price %d below minimum %d", tx.GasPrice, m.minGasPrice))
		}
	}

	fingerprint, err := tx.FingerprintHex()
	if err != nil {
		return "", reject(RejectSyntactic, err)
	}

	// 7. No duplicate fingerprint already resident.
	m.mu.Lock()
	if _, exists := m.index[fingerprint]; exists {
		m.mu.Unlock()
		return "", reject(RejectDuplicate, fmt.Errorf("fingerprint %s already resident", fingerprint))
	}
	m.mu.Unlock()

	entry := &Entry{Tx: tx, Fingerprint: fingerprint, SubmittedAt: time.Now()}
	b.byNonce[tx.Nonce] = entry

	m.mu.Lock()
	m.index[fingerprint] = entry
	m.size++
	full := m.size > m.maxSize
	m.mu.Unlock()

	if full {
		m.evictOne()
	}

	return fingerprint, nil
}

func maxResidentNonce(b *bucket) (uint64, bool) {
	found := false
	var max uint64
	for n := range b.byNonce {
		if !found || n > max {
			max = n
			found = true
		}
	}
	return max, found
}

func validateSyntax(tx wire.Transaction) error {
	if tx.From == "" || tx.To == "" {
		return ErrMissingFields
	}
	if !tx.IsCoinbase() && (tx.PubKey == "" || tx.Signature == "") {
		return ErrMissingFields
	}
	if tx.GasLimit == 0 {
		return fmt.Errorf("mempool: gas_limit must be > 0")
	}
	raw, err := hashing.MarshalCanonical(tx)
	if err != nil {
		return err
	}
	if len(raw) > MaxTxBytes {
		return ErrTooLarge
	}
	return nil
}

// GetForInclusion returns up to maxCount transactions (bounded additionally
// by maxBytes of combined canonical-JSON size), ordered by
// (gas_price desc, submission_ts asc), enforcing per-sender nonce
// monotonicity: a transaction is only included once every lower nonce from
// that sender (starting at the account's confirmed nonce+1) has already
// been included. It does not remove anything from the pool.
func (m *Mempool) GetForInclusion(maxCount int, maxBytes int, chain AccountView) ([]wire.Transaction, error) {
	m.mu.RLock()
	entries := make([]*Entry, 0, len(m.index))
	for _, e := range m.index {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Tx.GasPrice != entries[j].Tx.GasPrice {
			return entries[i].Tx.GasPrice > entries[j].Tx.GasPrice
		}
		return entries[i].SubmittedAt.Before(entries[j].SubmittedAt)
	})

	nextNonce := make(map[string]uint64)
	included := make(map[*Entry]bool)
	skipped := false
	result := make([]wire.Transaction, 0, maxCount)
	usedBytes := 0

	for i := 0; i < len(entries); i++ {
		e := entries[i]
		if len(result) >= maxCount {
			break
		}
		if included[e] {
			continue
		}
		sender := e.Tx.From
		expected, ok := nextNonce[sender]
		if !ok {
			acc, err := chain.GetAccount(sender)
			if err != nil {
				acc = &AccountSnapshot{}
			}
			expected = acc.Nonce + 1
		}
		if e.Tx.Nonce != expected {
			skipped = true
			continue // predecessor not yet included; skip per spec.md's monotonicity rule
		}
		raw, err := hashing.MarshalCanonical(e.Tx)
		if err != nil {
			return nil, err
		}
		if usedBytes+len(raw) > maxBytes {
			continue
		}
		result = append(result, e.Tx)
		usedBytes += len(raw)
		nextNonce[sender] = expected + 1
		included[e] = true
		if skipped {
			// An entry passed over earlier may have just become eligible.
			skipped = false
			i = -1
		}
	}

	return result, nil
}

// RemoveConfirmed deletes the given fingerprints from the pool. Once a
// transaction is confirmed it is never re-served by GetForInclusion.
func (m *Mempool) RemoveConfirmed(fingerprints []string) {
	for _, fp := range fingerprints {
		m.remove(fp)
	}
}

func (m *Mempool) remove(fingerprint string) {
	m.mu.Lock()
	entry, ok := m.index[fingerprint]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.index, fingerprint)
	m.size--
	sender := entry.Tx.From
	m.mu.Unlock()

	b := m.bucketFor(sender, false)
	if b == nil {
		return
	}
	b.mu.Lock()
	delete(b.byNonce, entry.Tx.Nonce)
	b.mu.Unlock()
}

// Size returns the number of resident transactions.
func (m *Mempool) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

// Get looks up a resident transaction by fingerprint.
func (m *Mempool) Get(fingerprint string) (*Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.index[fingerprint]
	return e, ok
}

// PruneExpired removes every entry older than the TTL, per spec.md §4.3's
// "transactions older than 1 hour are pruned" rule. Intended to be called
// from T4's periodic sweep.
func (m *Mempool) PruneExpired(now time.Time) int {
	m.mu.RLock()
	var expired []string
	for fp, e := range m.index {
		if now.Sub(e.SubmittedAt) > m.ttl {
			expired = append(expired, fp)
		}
	}
	m.mu.RUnlock()

	m.RemoveConfirmed(expired)
	return len(expired)
}

// evictOne evicts the lowest-gas_price entry (oldest first on ties) once the
// pool exceeds maxSize, per spec.md §4.3.
func (m *Mempool) evictOne() {
	m.mu.RLock()
	var victim *Entry
	for _, e := range m.index {
		if victim == nil {
			victim = e
			continue
		}
		if e.Tx.GasPrice < victim.Tx.GasPrice ||
			(e.Tx.GasPrice == victim.Tx.GasPrice && e.SubmittedAt.Before(victim.SubmittedAt)) {
			victim = e
		}
	}
	m.mu.RUnlock()

	if victim != nil {
		m.remove(victim.Fingerprint)
	}
}
