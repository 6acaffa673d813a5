// Package block defines block types and structural validation.
package block

import (
	"encoding/binary"

	"github.com/bastille-chain/bastille/pkg/crypto"
	"github.com/bastille-chain/bastille/pkg/tx"
	"github.com/bastille-chain/bastille/pkg/types"
)

// Block is a header plus its ordered transactions and their combined
// hash.
type Block struct {
	Header       *Header           `json:"header"`
	Transactions []*tx.Transaction `json:"transactions"`
	Hash         types.Hash        `json:"hash"`
}

// NewBlock builds a block and stamps its hash.
func NewBlock(header *Header, txs []*tx.Transaction) *Block {
	b := &Block{Header: header, Transactions: txs}
	b.Rehash()
	return b
}

// MiningInput returns the bytes a miner searches a nonce against:
// index ‖ previous_hash ‖ merkle_root ‖ timestamp ‖ difficulty, followed by
// every transaction's canonical form. ConsensusData never enters this.
func (b *Block) MiningInput() []byte {
	h := b.Header
	buf := make([]byte, 0, 52+len(b.Transactions)*160)
	buf = binary.BigEndian.AppendUint32(buf, uint32(h.Index))
	buf = append(buf, h.PreviousHash[:]...)
	buf = append(buf, h.MerkleRoot[:]...)
	buf = binary.BigEndian.AppendUint64(buf, h.Timestamp)
	buf = binary.BigEndian.AppendUint32(buf, h.Difficulty)
	for _, t := range b.Transactions {
		buf = append(buf, t.CanonicalBytes()...)
	}
	return buf
}

// ComputeHash returns Blake3(mining_input ‖ u64_le(nonce)), the
// proof-of-work admission hash for every non-genesis block.
func (b *Block) ComputeHash() types.Hash {
	buf := b.MiningInput()
	buf = binary.LittleEndian.AppendUint64(buf, b.Header.Nonce)
	return crypto.Hash(buf)
}

// GenesisHash returns SHA-256(mining_input): genesis never undergoes
// proof-of-work, so it never searches a nonce.
func (b *Block) GenesisHash() types.Hash {
	return crypto.SHA256(b.MiningInput())
}

// IsGenesis reports whether this block occupies height 0.
func (b *Block) IsGenesis() bool {
	return b.Header != nil && b.Header.Index == 0
}

// Rehash recomputes and stores the block's hash, picking the genesis or
// proof-of-work formula by height.
func (b *Block) Rehash() {
	if b.IsGenesis() {
		b.Hash = b.GenesisHash()
	} else {
		b.Hash = b.ComputeHash()
	}
}
