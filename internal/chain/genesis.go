package chain

import (
	"fmt"

	"github.com/bastille-chain/bastille/config"
	"github.com/bastille-chain/bastille/pkg/block"
	"github.com/bastille-chain/bastille/pkg/tx"
	"github.com/bastille-chain/bastille/pkg/types"
)

// CreateGenesisBlock builds the deterministic genesis block for gen: a
// single coinbase transaction from the genesis sentinel to the
// revolution sentinel for one block reward, at the fixed genesis
// timestamp and nonce, with difficulty 0 (genesis bypasses proof-of-work
// entirely — see block.Block.GenesisHash).
func CreateGenesisBlock(gen *config.Genesis) (*block.Block, error) {
	if gen == nil {
		return nil, fmt.Errorf("genesis config is nil")
	}

	coinbase := &tx.Transaction{
		From:          gen.GenesisFromAddress(),
		To:            gen.GenesisCoinbaseAddress(),
		Amount:        config.BlockReward,
		Data:          []byte(config.GenesisSupplyText),
		Timestamp:     int64(config.GenesisTimestamp),
		SignatureType: tx.SignatureCoinbase,
	}
	coinbase.Rehash()
	if err := coinbase.Validate(gen.AddressPrefix); err != nil {
		return nil, fmt.Errorf("genesis coinbase failed validation: %w", err)
	}

	txs := []*tx.Transaction{coinbase}
	merkleRoot := block.ComputeMerkleRoot([]types.Hash{coinbase.Hash})

	header := &block.Header{
		Index:      0,
		Timestamp:  config.GenesisTimestamp,
		MerkleRoot: merkleRoot,
		Nonce:      config.GenesisNonce,
		Difficulty: config.GenesisDifficulty,
	}

	blk := block.NewBlock(header, txs)
	if err := blk.Validate(gen.AddressPrefix); err != nil {
		return nil, fmt.Errorf("genesis block failed validation: %w", err)
	}
	return blk, nil
}
