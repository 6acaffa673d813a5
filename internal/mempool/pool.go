// Package mempool manages pending transactions waiting for block inclusion.
package mempool

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bastille-chain/bastille/config"
	"github.com/bastille-chain/bastille/pkg/tx"
	"github.com/bastille-chain/bastille/pkg/types"
)

// Mempool errors.
var (
	ErrAlreadyExists    = errors.New("transaction already in mempool")
	ErrNonceConflict    = errors.New("a transaction with this nonce is already queued for this address")
	ErrPoolFull         = errors.New("mempool is full")
	ErrValidation       = errors.New("transaction failed validation")
	ErrFeeTooLow        = errors.New("transaction fee below minimum")
	ErrUnknownAccount   = errors.New("from address has no account state")
	ErrInsufficientFund = errors.New("balance too low to cover amount plus fee")
	ErrBadNonce         = errors.New("nonce does not match expected next nonce")
)

// staleAfter is how long an unconfirmed transaction may sit in the pool
// before it becomes eligible for eviction, mirroring the teacher's
// policy.go constants for the UTXO mempool.
const staleAfter = 24 * time.Hour

// AccountProvider exposes the account state the mempool needs to admit a
// transaction: current balance and the last used nonce (the next
// transaction from the address must carry that nonce plus one).
type AccountProvider interface {
	Account(addr types.Address) (types.Account, error)
}

// entry wraps a transaction with its fee and queue metadata.
type entry struct {
	tx         *tx.Transaction
	txHash     types.Hash
	fee        uint64
	feeRate    float64 // fee per byte of CanonicalBytes.
	receivedAt time.Time
}

// Pool holds unconfirmed, validated transactions ordered for block
// assembly by (fee DESC, timestamp ASC, hash ASC).
type Pool struct {
	mu      sync.RWMutex
	txs     map[types.Hash]*entry
	byNonce map[types.Address]map[uint64]types.Hash // from -> nonce -> txHash (one queued tx per nonce)
	maxSize int

	accounts   AccountProvider
	prefix     string
	feePerByte uint64
	minFee     uint64
}

// New creates a new mempool backed by accounts for balance/nonce checks.
// genesis supplies the network's address prefix and fee parameters.
func New(accounts AccountProvider, genesis *config.Genesis, maxSize int) *Pool {
	if maxSize <= 0 {
		maxSize = 5000
	}
	return &Pool{
		txs:        make(map[types.Hash]*entry),
		byNonce:    make(map[types.Address]map[uint64]types.Hash),
		maxSize:    maxSize,
		accounts:   accounts,
		prefix:     genesis.AddressPrefix,
		feePerByte: genesis.FeePerByte,
		minFee:     genesis.MinFee,
	}
}

// Add validates and queues a transaction. Returns the transaction's fee.
func (p *Pool) Add(transaction *tx.Transaction) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	txHash := transaction.Hash

	if _, exists := p.txs[txHash]; exists {
		return 0, ErrAlreadyExists
	}

	if err := transaction.Validate(p.prefix); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := transaction.ValidateFee(p.feePerByte, p.minFee); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrFeeTooLow, err)
	}

	acct, err := p.accounts.Account(transaction.From)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnknownAccount, err)
	}
	if transaction.Nonce != acct.Nonce+1 {
		return 0, fmt.Errorf("%w: have %d, want %d", ErrBadNonce, transaction.Nonce, acct.Nonce+1)
	}
	if acct.Balance < transaction.Amount+transaction.Fee {
		return 0, fmt.Errorf("%w: balance %d, need %d", ErrInsufficientFund, acct.Balance, transaction.Amount+transaction.Fee)
	}

	if existing, queued := p.byNonce[transaction.From][transaction.Nonce]; queued {
		return 0, fmt.Errorf("%w: nonce %d already held by %s", ErrNonceConflict, transaction.Nonce, existing)
	}

	keys, err := tx.ResolveKeys(transaction, acct.PublicKeys, p.prefix)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := transaction.VerifyAuthenticity(keys); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	size := len(transaction.CanonicalBytes())
	var feeRate float64
	if size > 0 {
		feeRate = float64(transaction.Fee) / float64(size)
	}

	if len(p.txs) >= p.maxSize {
		lowestHash, lowestRate := p.findLowestFeeRate()
		if feeRate <= lowestRate {
			return 0, ErrPoolFull
		}
		p.removeLocked(lowestHash)
	}

	e := &entry{
		tx:         transaction,
		txHash:     txHash,
		fee:        transaction.Fee,
		feeRate:    feeRate,
		receivedAt: time.Now(),
	}
	p.txs[txHash] = e
	if p.byNonce[transaction.From] == nil {
		p.byNonce[transaction.From] = make(map[uint64]types.Hash)
	}
	p.byNonce[transaction.From][transaction.Nonce] = txHash

	return transaction.Fee, nil
}

// Remove removes a transaction from the mempool by hash.
func (p *Pool) Remove(txHash types.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(txHash)
}

func (p *Pool) removeLocked(txHash types.Hash) {
	e, exists := p.txs[txHash]
	if !exists {
		return
	}
	if byAddr := p.byNonce[e.tx.From]; byAddr != nil {
		delete(byAddr, e.tx.Nonce)
		if len(byAddr) == 0 {
			delete(p.byNonce, e.tx.From)
		}
	}
	delete(p.txs, txHash)
}

// RemoveConfirmed removes all transactions that were included in a block.
func (p *Pool) RemoveConfirmed(transactions []*tx.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range transactions {
		p.removeLocked(t.Hash)
	}
}

// Has checks if a transaction exists in the mempool.
func (p *Pool) Has(txHash types.Hash) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, exists := p.txs[txHash]
	return exists
}

// Get retrieves a transaction from the mempool.
func (p *Pool) Get(txHash types.Hash) *tx.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, exists := p.txs[txHash]
	if !exists {
		return nil
	}
	return e.tx
}

// GetFee returns the fee for a transaction in the mempool (0 if not found).
func (p *Pool) GetFee(txHash types.Hash) uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, exists := p.txs[txHash]
	if !exists {
		return 0
	}
	return e.fee
}

// Count returns the number of transactions in the mempool.
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.txs)
}

// Hashes returns the hashes of all transactions in the mempool.
func (p *Pool) Hashes() []types.Hash {
	p.mu.RLock()
	defer p.mu.RUnlock()
	hashes := make([]types.Hash, 0, len(p.txs))
	for h := range p.txs {
		hashes = append(hashes, h)
	}
	return hashes
}

// findLowestFeeRate returns the hash and fee rate of the lowest fee-rate
// entry. Must be called with p.mu held.
func (p *Pool) findLowestFeeRate() (types.Hash, float64) {
	var lowestHash types.Hash
	lowestRate := -1.0
	first := true
	for h, e := range p.txs {
		if first || e.feeRate < lowestRate {
			lowestRate = e.feeRate
			lowestHash = h
			first = false
		}
	}
	return lowestHash, lowestRate
}

// SelectForBlock returns up to limit transactions ordered by the block
// assembly priority: fee descending, then transaction timestamp ascending,
// then hash ascending to break exact ties deterministically across nodes.
func (p *Pool) SelectForBlock(limit int) []*tx.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entries := make([]*entry, 0, len(p.txs))
	for _, e := range p.txs {
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.fee != b.fee {
			return a.fee > b.fee
		}
		if a.tx.Timestamp != b.tx.Timestamp {
			return a.tx.Timestamp < b.tx.Timestamp
		}
		return compareHash(a.txHash, b.txHash) < 0
	})

	if limit > len(entries) || limit <= 0 {
		limit = len(entries)
	}

	result := make([]*tx.Transaction, limit)
	for i := 0; i < limit; i++ {
		result[i] = entries[i].tx
	}
	return result
}

func compareHash(a, b types.Hash) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
