package chain

import "github.com/bastille-chain/bastille/pkg/types"

// State holds the current chain tip. There is no cumulative-difficulty
// fork choice: a block either extends the current tip or is parked as an
// orphan, so the only state worth caching is height, tip hash, and total
// supply.
type State struct {
	Height  uint64
	TipHash types.Hash
	Supply  uint64
}

// IsGenesis reports whether no blocks have been admitted yet.
func (s State) IsGenesis() bool {
	return s.Height == 0 && s.TipHash.IsZero()
}
