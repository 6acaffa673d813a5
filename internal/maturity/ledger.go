// Package maturity tracks coinbase rewards that have been credited to an
// account but are not yet spendable, promoting them once enough blocks
// have been appended on top, and revoking them if their block is
// orphaned.
package maturity

import (
	"sync"
	"time"

	"github.com/bastille-chain/bastille/internal/log"
	"github.com/bastille-chain/bastille/pkg/types"
)

// Status is the lifecycle state of a single immature-coinbase entry.
type Status int

const (
	Immature Status = iota
	Mature
	Orphaned
)

func (s Status) String() string {
	switch s {
	case Immature:
		return "immature"
	case Mature:
		return "mature"
	case Orphaned:
		return "orphaned"
	default:
		return "unknown"
	}
}

// gcMaxAge, together with the 4×M height bound computed in GC, bounds how
// long an entry is kept around once it can no longer affect any address's
// spendable balance.
const gcMaxAge = 24 * time.Hour

// Entry records one coinbase reward pending maturity.
type Entry struct {
	BlockHash      types.Hash
	Amount         uint64
	Address        types.Address
	BlockHeight    uint64
	CreatedAt      time.Time
	MaturityHeight uint64
	Status         Status
}

// BalanceDebitor decrements an address's stored balance by amount, floored
// at zero. The chain engine exclusively owns account-state mutation, so
// the ledger calls back into it instead of touching balances itself.
type BalanceDebitor interface {
	DebitBalance(addr types.Address, amount uint64) error
}

// Ledger is the in-RAM immature-coinbase index, indexed by block hash.
type Ledger struct {
	mu      sync.Mutex
	window  uint64 // M: blocks an entry must wait before maturing.
	entries map[types.Hash]*Entry
	debit   BalanceDebitor
}

// New creates a ledger with the given maturity window M.
func New(window uint64, debitor BalanceDebitor) *Ledger {
	return &Ledger{
		window:  window,
		entries: make(map[types.Hash]*Entry),
		debit:   debitor,
	}
}

// Add registers a newly mined coinbase reward as immature, maturing at
// height h+M.
func (l *Ledger) Add(blockHash types.Hash, amount uint64, addr types.Address, h uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[blockHash] = &Entry{
		BlockHash:      blockHash,
		Amount:         amount,
		Address:        addr,
		BlockHeight:    h,
		CreatedAt:      time.Now(),
		MaturityHeight: h + l.window,
		Status:         Immature,
	}
}

// Breakdown is the three-way split of an address's stored balance.
type Breakdown struct {
	Total    uint64
	Immature uint64
	Mature   uint64
}

// BalanceBreakdown splits totalBalance (the account's stored balance) into
// its mature and immature components for addr.
func (l *Ledger) BalanceBreakdown(addr types.Address, totalBalance uint64) Breakdown {
	l.mu.Lock()
	defer l.mu.Unlock()

	var immature uint64
	for _, e := range l.entries {
		if e.Address == addr && e.Status == Immature {
			immature += e.Amount
		}
	}
	mature := uint64(0)
	if totalBalance > immature {
		mature = totalBalance - immature
	}
	return Breakdown{Total: totalBalance, Immature: immature, Mature: mature}
}

// IsMainChain reports whether a block hash is still on the main chain, so
// ProcessMaturity can distinguish entries to mature from entries whose
// block has since been orphaned.
type IsMainChain func(blockHash types.Hash) bool

// ProcessMaturity walks every Immature entry: those that have reached
// their maturity height are marked Mature (no balance change — the
// reward was already credited at block-apply time); those whose block is
// no longer on the main chain are treated as orphaned and their balance
// is revoked. Returns the counts of each transition.
func (l *Ledger) ProcessMaturity(currentHeight uint64, onMainChain IsMainChain) (matured, orphaned int) {
	l.mu.Lock()
	var toOrphan []*Entry
	for _, e := range l.entries {
		if e.Status != Immature {
			continue
		}
		if !onMainChain(e.BlockHash) {
			toOrphan = append(toOrphan, e)
			continue
		}
		if currentHeight >= e.MaturityHeight {
			e.Status = Mature
			matured++
		}
	}
	l.mu.Unlock()

	for _, e := range toOrphan {
		if err := l.MarkOrphaned(e.BlockHash); err != nil {
			log.Maturity.Error().Err(err).Str("block_hash", e.BlockHash.String()).Msg("failed to orphan immature coinbase")
			continue
		}
		orphaned++
	}
	return matured, orphaned
}

// MarkOrphaned revokes the immature entry for blockHash, if one exists and
// is still Immature: the reward's balance credit is reversed and the
// entry is removed.
func (l *Ledger) MarkOrphaned(blockHash types.Hash) error {
	l.mu.Lock()
	e, ok := l.entries[blockHash]
	if !ok || e.Status != Immature {
		l.mu.Unlock()
		return nil
	}
	delete(l.entries, blockHash)
	l.mu.Unlock()

	return l.debit.DebitBalance(e.Address, e.Amount)
}

// GC removes Mature and Orphaned entries that can no longer affect any
// BalanceBreakdown call: older than gcMaxAge, or more than 4*M blocks in
// the past relative to currentHeight.
func (l *Ledger) GC(currentHeight uint64) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	maxPast := 4 * l.window
	removed := 0
	for hash, e := range l.entries {
		if e.Status == Immature {
			continue
		}
		aged := time.Since(e.CreatedAt) > gcMaxAge
		heightPast := currentHeight > e.BlockHeight && currentHeight-e.BlockHeight > maxPast
		if aged || heightPast {
			delete(l.entries, hash)
			removed++
		}
	}
	return removed
}

// Get returns the entry for blockHash, if any.
func (l *Ledger) Get(blockHash types.Hash) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[blockHash]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Count returns the number of tracked entries, regardless of status.
func (l *Ledger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
