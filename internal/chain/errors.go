package chain

import (
	"errors"
	"fmt"

	"github.com/bastille-chain/bastille/pkg/types"
)

// Sentinel errors for block admission.
var (
	ErrBlockKnown             = errors.New("block already known")
	ErrOldBlock               = errors.New("block height at or below current height")
	ErrChainBreak             = errors.New("block's previous_hash does not match any known block")
	ErrInsufficientDifficulty = errors.New("proof of work does not meet the required target")
	ErrPowHashMismatch        = errors.New("block hash does not match the recomputed proof-of-work hash")
)

// OrphanAdded reports that a block was queued pending its parent rather
// than rejected outright.
type OrphanAdded struct {
	ParentHash types.Hash
}

func (e *OrphanAdded) Error() string {
	return fmt.Sprintf("block queued as orphan awaiting parent %s", e.ParentHash)
}

// InsufficientBalance reports a transaction spending more than its
// sender's raw stored balance.
type InsufficientBalance struct {
	Required, Available uint64
}

func (e *InsufficientBalance) Error() string {
	return fmt.Sprintf("insufficient balance: need %d, have %d", e.Required, e.Available)
}

// InsufficientMatureBalance reports a transaction spending more than the
// sender's mature balance. Distinct from InsufficientBalance: an address
// can hold plenty of immature coinbase reward and still be unable to
// spend it.
type InsufficientMatureBalance struct {
	Required, Available uint64
}

func (e *InsufficientMatureBalance) Error() string {
	return fmt.Sprintf("insufficient mature balance: need %d, have %d mature", e.Required, e.Available)
}

// InvalidNonce reports a transaction whose nonce does not match the
// sender's expected next nonce (stored_nonce + 1).
type InvalidNonce struct {
	Expected, Got uint64
}

func (e *InvalidNonce) Error() string {
	return fmt.Sprintf("invalid nonce: expected %d, got %d", e.Expected, e.Got)
}
