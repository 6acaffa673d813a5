package mempool

import (
	"fmt"

	"github.com/bastille-chain/bastille/config"
	"github.com/bastille-chain/bastille/pkg/tx"
)

// Policy defines transaction acceptance rules that are local to this node
// and separate from consensus validation — policy rules can vary per node,
// while consensus rules (tx.Validate, tx.ValidateFee) must agree everywhere.
type Policy struct {
	MaxTxSize int // Maximum transaction size in canonical bytes.
}

// DefaultPolicy returns a policy with sensible defaults, derived from the
// consensus-level data size cap so policy never accepts what the chain
// would reject.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxTxSize: config.MaxTxDataBytes + 4096,
	}
}

// Check validates a transaction against policy rules. It runs before the
// heavier account-state checks in Pool.Add, rejecting obviously oversized
// transactions early.
func (p *Policy) Check(transaction *tx.Transaction) error {
	size := len(transaction.CanonicalBytes())
	if p.MaxTxSize > 0 && size > p.MaxTxSize {
		return fmt.Errorf("transaction too large: %d bytes, max %d", size, p.MaxTxSize)
	}
	if len(transaction.Data) > config.MaxTxDataBytes {
		return fmt.Errorf("data field too large: %d bytes, max %d", len(transaction.Data), config.MaxTxDataBytes)
	}
	return nil
}
