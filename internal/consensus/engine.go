// Package consensus defines consensus engine interfaces.
package consensus

import "github.com/bastille-chain/bastille/pkg/block"

// Engine is the interface the chain engine uses to validate and produce
// proof-of-work blocks. VerifyHeader takes the whole block because the
// mining input folds in every transaction, not just header fields.
type Engine interface {
	VerifyHeader(blk *block.Block) error
	Prepare(header *block.Header, tipHeight uint64, tipDifficulty uint32, recentTimestamps []uint64) error
	Seal(blk *block.Block) error
}
