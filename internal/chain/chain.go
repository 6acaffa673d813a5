// Package chain implements the account-model blockchain state machine:
// genesis construction, block admission, orphan routing, and account
// state transitions.
package chain

import (
	"fmt"
	"sync"

	"github.com/bastille-chain/bastille/config"
	"github.com/bastille-chain/bastille/internal/consensus"
	"github.com/bastille-chain/bastille/internal/log"
	"github.com/bastille-chain/bastille/internal/maturity"
	"github.com/bastille-chain/bastille/internal/storage"
	"github.com/bastille-chain/bastille/pkg/block"
	"github.com/bastille-chain/bastille/pkg/tx"
	"github.com/bastille-chain/bastille/pkg/types"
)

// broadcastBuffer bounds the chain's block-admission notification
// channel. The node coordinator subscribes to it and must not be able to
// stall block admission by failing to drain it; when the channel is
// full, notify drops the new notification (see notify).
const broadcastBuffer = 64

// Chain owns all account-state mutation and block admission. It is the
// chain engine's entry point; the P2P node and miner talk to it only
// through AddBlock and Subscribe, never the reverse, breaking the cyclic
// reference between chain and node.
type Chain struct {
	mu sync.Mutex

	gen      *config.Genesis
	store    *BlockStore
	engine   consensus.Engine
	maturity *maturity.Ledger
	orphans  *orphanManager

	state State

	broadcast chan *block.Block
}

// New opens a chain over db, recovering its tip and rebuilding the
// in-RAM maturity ledger from recent blocks if the store already has
// history (the ledger itself is never persisted).
func New(db storage.DB, gen *config.Genesis, engine consensus.Engine) (*Chain, error) {
	if db == nil {
		return nil, fmt.Errorf("storage db is nil")
	}
	if gen == nil {
		return nil, fmt.Errorf("genesis config is nil")
	}
	if engine == nil {
		return nil, fmt.Errorf("consensus engine is nil")
	}

	store := NewBlockStore(db)

	height, tipHash, err := store.Head()
	if err != nil {
		return nil, fmt.Errorf("recover head: %w", err)
	}
	supply, err := store.TotalSupply()
	if err != nil {
		return nil, fmt.Errorf("recover total supply: %w", err)
	}

	c := &Chain{
		gen:       gen,
		store:     store,
		engine:    engine,
		orphans:   newOrphanManager(),
		state:     State{Height: height, TipHash: tipHash, Supply: supply},
		broadcast: make(chan *block.Block, broadcastBuffer),
	}
	c.maturity = maturity.New(gen.MaturityWindow, c)

	if !c.state.IsGenesis() {
		if err := c.rebuildMaturity(); err != nil {
			return nil, fmt.Errorf("rebuild maturity ledger: %w", err)
		}
	}

	return c, nil
}

// rebuildMaturity replays coinbase entries from the trailing maturity
// window into the RAM-only ledger after a restart: entries whose
// maturity height has already passed need no record (their balance is
// already durable and no longer contingent on anything), so only blocks
// in [height-M+1, height] are replayed.
func (c *Chain) rebuildMaturity() error {
	window := c.gen.MaturityWindow
	start := uint64(0)
	if c.state.Height+1 > window {
		start = c.state.Height + 1 - window
	}
	for h := start; h <= c.state.Height; h++ {
		blk, err := c.store.GetBlockByHeight(h)
		if err != nil {
			return fmt.Errorf("load block at height %d: %w", h, err)
		}
		if len(blk.Transactions) == 0 || blk.Transactions[0].SignatureType != tx.SignatureCoinbase {
			continue
		}
		coinbase := blk.Transactions[0]
		c.maturity.Add(blk.Hash, coinbase.Amount, coinbase.To, h)
	}
	return nil
}

// InitFromGenesis applies gen's deterministic genesis block to a fresh
// chain. It is an error to call this once the chain already holds
// blocks.
func (c *Chain) InitFromGenesis(gen *config.Genesis) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.IsGenesis() {
		return fmt.Errorf("chain already initialized at height %d", c.state.Height)
	}

	blk, err := CreateGenesisBlock(gen)
	if err != nil {
		return fmt.Errorf("create genesis: %w", err)
	}
	coinbase := blk.Transactions[0]

	w, commit := c.store.newBatch()

	if err := c.store.PutBlock(w, blk); err != nil {
		return fmt.Errorf("persist genesis block: %w", err)
	}

	recipient, err := c.store.GetAccount(coinbase.To)
	if err != nil {
		return fmt.Errorf("load genesis recipient: %w", err)
	}
	recipient.Balance += coinbase.Amount
	if err := c.store.PutAccount(w, coinbase.To, recipient); err != nil {
		return fmt.Errorf("persist genesis recipient: %w", err)
	}

	if err := c.store.AddSupply(w, config.BlockReward); err != nil {
		return fmt.Errorf("persist genesis supply: %w", err)
	}
	if err := c.store.PutDifficulty(w, 0, blk.Header.Difficulty); err != nil {
		return fmt.Errorf("persist genesis difficulty: %w", err)
	}
	if err := c.store.SetHead(w, 0, blk.Hash); err != nil {
		return fmt.Errorf("persist genesis head: %w", err)
	}
	if err := commit(); err != nil {
		return fmt.Errorf("commit genesis: %w", err)
	}

	c.state.Height = 0
	c.state.TipHash = blk.Hash
	c.state.Supply = config.BlockReward

	c.maturity.Add(blk.Hash, coinbase.Amount, coinbase.To, 0)
	return nil
}

// Account returns addr's account state with Balance set to its spendable
// (mature) balance rather than its raw stored balance: every consumer
// outside the chain engine — the mempool included — must only ever see
// coins it is actually allowed to spend.
func (c *Chain) Account(addr types.Address) (types.Account, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accountLocked(addr)
}

func (c *Chain) accountLocked(addr types.Address) (types.Account, error) {
	acct, err := c.store.GetAccount(addr)
	if err != nil {
		return types.Account{}, err
	}
	breakdown := c.maturity.BalanceBreakdown(addr, acct.Balance)
	acct.Balance = breakdown.Mature
	return acct, nil
}

// DebitBalance implements maturity.BalanceDebitor: it decrements addr's
// stored balance by amount, floored at zero. It deliberately does not
// acquire c.mu — its only caller is the maturity ledger's own
// MarkOrphaned/ProcessMaturity path, which always runs from inside
// addBlockLocked or admitLocked while c.mu is already held by this
// (non-reentrant) mutex.
func (c *Chain) DebitBalance(addr types.Address, amount uint64) error {
	acct, err := c.store.GetAccount(addr)
	if err != nil {
		return err
	}
	if amount > acct.Balance {
		acct.Balance = 0
	} else {
		acct.Balance -= amount
	}
	w, commit := c.store.newBatch()
	if err := c.store.PutAccount(w, addr, acct); err != nil {
		return err
	}
	return commit()
}

// Height returns the current chain height.
func (c *Chain) Height() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Height
}

// TipHash returns the hash of the current chain tip.
func (c *Chain) TipHash() types.Hash {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.TipHash
}

// Supply returns the total coins issued so far.
func (c *Chain) Supply() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Supply
}

// TipDifficulty returns the difficulty recorded for the current tip.
func (c *Chain) TipDifficulty() (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Height == 0 {
		return 0, nil
	}
	diff, ok, err := c.store.GetDifficulty(c.state.Height)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("no recorded difficulty at height %d", c.state.Height)
	}
	return diff, nil
}

// RecentTimestamps returns up to window trailing block timestamps ending
// at the current tip, for proof-of-work retarget sampling.
func (c *Chain) RecentTimestamps(window int) ([]uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.RecentTimestamps(c.state.Height, window)
}

// GetBlock retrieves a block by hash.
func (c *Chain) GetBlock(hash types.Hash) (*block.Block, error) {
	return c.store.GetBlock(hash)
}

// GetBlockByHeight retrieves a block by height.
func (c *Chain) GetBlockByHeight(height uint64) (*block.Block, error) {
	return c.store.GetBlockByHeight(height)
}

// GetTransaction looks up a confirmed transaction by hash via the
// transaction index.
func (c *Chain) GetTransaction(hash types.Hash) (*tx.Transaction, error) {
	blockHash, idx, err := c.store.GetTxLocation(hash)
	if err != nil {
		return nil, err
	}
	blk, err := c.store.GetBlock(blockHash)
	if err != nil {
		return nil, fmt.Errorf("load block for tx: %w", err)
	}
	if idx < 0 || idx >= len(blk.Transactions) {
		return nil, fmt.Errorf("tx index %d out of range in block %s", idx, blockHash)
	}
	return blk.Transactions[idx], nil
}

// Subscribe returns the channel on which newly admitted blocks are
// announced. The node coordinator reads from it to broadcast to peers;
// the chain engine never calls back into the node directly.
func (c *Chain) Subscribe() <-chan *block.Block {
	return c.broadcast
}

// notify pushes blk to the broadcast channel without blocking admission:
// a slow or absent subscriber drops the notification rather than stall
// the chain engine.
func (c *Chain) notify(blk *block.Block) {
	select {
	case c.broadcast <- blk:
	default:
		log.Chain.Warn().Str("hash", blk.Hash.String()).Msg("broadcast channel full, dropping block notification")
	}
}
