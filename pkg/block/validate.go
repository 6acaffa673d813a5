package block

import (
	"errors"
	"fmt"

	"github.com/bastille-chain/bastille/config"
	"github.com/bastille-chain/bastille/pkg/tx"
	"github.com/bastille-chain/bastille/pkg/types"
)

// Validation errors.
var (
	ErrNilHeader        = errors.New("block has nil header")
	ErrNoTransactions   = errors.New("block has no transactions")
	ErrZeroTimestamp    = errors.New("block timestamp is zero")
	ErrBadMerkleRoot    = errors.New("merkle root mismatch")
	ErrNoCoinbase       = errors.New("first transaction must be coinbase")
	ErrMultipleCoinbase = errors.New("multiple coinbase transactions in block")
	ErrTooManyTxs       = errors.New("too many transactions in block")
	ErrBlockTooLarge    = errors.New("block too large")
	ErrBadHash          = errors.New("stored hash does not match recomputed hash")
)

// Validate checks block structure and internal consistency. It does not
// touch consensus rules: continuity with the previous block,
// proof-of-work admission, and account-state checks belong to the chain
// engine, not here.
func (b *Block) Validate(prefix string) error {
	if b.Header == nil {
		return ErrNilHeader
	}
	if b.Header.Timestamp == 0 {
		return ErrZeroTimestamp
	}
	if len(b.Transactions) == 0 {
		return ErrNoTransactions
	}
	if len(b.Transactions) > config.MaxBlockTxs {
		return fmt.Errorf("%w: %d txs, max %d", ErrTooManyTxs, len(b.Transactions), config.MaxBlockTxs)
	}

	if size := len(b.MiningInput()); size > config.MaxBlockSize {
		return fmt.Errorf("%w: %d bytes, max %d", ErrBlockTooLarge, size, config.MaxBlockSize)
	}

	if b.Transactions[0].SignatureType != tx.SignatureCoinbase {
		return ErrNoCoinbase
	}
	for i, t := range b.Transactions[1:] {
		if t.SignatureType == tx.SignatureCoinbase {
			return fmt.Errorf("tx %d: %w", i+1, ErrMultipleCoinbase)
		}
	}

	txHashes := make([]types.Hash, len(b.Transactions))
	for i, t := range b.Transactions {
		txHashes[i] = t.Hash
	}
	expectedRoot := ComputeMerkleRoot(txHashes)
	if b.Header.MerkleRoot != expectedRoot {
		return fmt.Errorf("%w: header=%s computed=%s", ErrBadMerkleRoot, b.Header.MerkleRoot, expectedRoot)
	}

	for i, t := range b.Transactions {
		if err := t.Validate(prefix); err != nil {
			return fmt.Errorf("tx %d: %w", i, err)
		}
	}

	var expectedHash types.Hash
	if b.IsGenesis() {
		expectedHash = b.GenesisHash()
	} else {
		expectedHash = b.ComputeHash()
	}
	if b.Hash != expectedHash {
		return ErrBadHash
	}

	return nil
}
