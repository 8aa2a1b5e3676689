// Copyright 2025 QNet Project

package consensus

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/qnet-project/qnet-core/pkg/chainstore"
	"github.com/qnet-project/qnet-core/pkg/crypto/envelope"
	"github.com/qnet-project/qnet-core/pkg/crypto/hashing"
	"github.com/qnet-project/qnet-core/pkg/merkle"
	"github.com/qnet-project/qnet-core/pkg/wire"
)

// SealMacroblock folds an ordered batch of microblocks' transactions into
// a single macroblock, computes its merkle root, signs the header as
// producer, and appends it to the chain store, per spec.md §4.2/§4.5.c.
// microblocks must already be in round/index order; an empty batch seals
// an empty block with the zero merkle root, matching chainstore's
// convention for block bodies with no transactions.
func SealMacroblock(store *chainstore.Store, microblocks []wire.Microblock, sk *envelope.PrivateKey, producer string, now time.Time) (*wire.Block, error) {
	height, err := store.Height()
	if err != nil {
		return nil, fmt.Errorf("consensus: reading chain height: %w", err)
	}

	var prevHashHex string
	if height >= 0 {
		prev, err := store.LatestBlock()
		if err != nil {
			return nil, fmt.Errorf("consensus: reading latest block: %w", err)
		}
		prevHash, err := prev.Header.HeaderHash()
		if err != nil {
			return nil, fmt.Errorf("consensus: hashing latest block header: %w", err)
		}
		prevHashHex = hashing.Hex(prevHash[:])
	}

	body := make([]wire.Transaction, 0)
	for _, mb := range microblocks {
		body = append(body, mb.Txs...)
	}

	merkleRootHex, err := merkleRootHexFor(body)
	if err != nil {
		return nil, err
	}

	header := wire.BlockHeader{
		Index:          uint64(height + 1),
		PrevHash:       prevHashHex,
		Timestamp:      now.Unix(),
		MerkleRoot:     merkleRootHex,
		Producer:       producer,
		ProducerPubKey: hex.EncodeToString(sk.Public().Bytes()),
	}

	headerHash, err := header.HeaderHash()
	if err != nil {
		return nil, fmt.Errorf("consensus: hashing macroblock header: %w", err)
	}
	sig, err := envelope.Sign(sk, envelope.DomainMacroblock, headerHash[:])
	if err != nil {
		return nil, fmt.Errorf("consensus: signing macroblock header: %w", err)
	}
	header.ProducerSig = hex.EncodeToString(sig.Bytes())
	header.Hash = hashing.Hex(headerHash[:])

	block := &wire.Block{Header: header, Body: body}

	result := store.AppendBlock(block)
	if !result.OK {
		return nil, fmt.Errorf("consensus: appending macroblock: %w", result.Error)
	}
	return block, nil
}

func merkleRootHexFor(txs []wire.Transaction) (string, error) {
	if len(txs) == 0 {
		return hex.EncodeToString(make([]byte, 32)), nil
	}
	leaves := make([][]byte, len(txs))
	for i := range txs {
		fp, err := txs[i].Fingerprint()
		if err != nil {
			return "", fmt.Errorf("consensus: fingerprint tx %d: %w", i, err)
		}
		leaves[i] = fp[:]
	}
	root, err := merkle.Root(leaves)
	if err != nil {
		return "", fmt.Errorf("consensus: computing merkle root: %w", err)
	}
	return hex.EncodeToString(root), nil
}
