package chain

import (
	"fmt"

	"github.com/bastille-chain/bastille/config"
	"github.com/bastille-chain/bastille/internal/log"
	"github.com/bastille-chain/bastille/pkg/block"
	"github.com/bastille-chain/bastille/pkg/tx"
	"github.com/bastille-chain/bastille/pkg/types"
)

// AddBlock admits blk onto the chain, parking it as an orphan if its
// parent is not yet known. It is the chain engine's only externally
// callable mutation entry point.
func (c *Chain) AddBlock(blk *block.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addBlockLocked(blk)
}

// addBlockLocked assumes c.mu is already held. It is recursive: once a
// block extends the tip, any orphans waiting on it are retried
// best-effort through this same path; a child that still fails is
// dropped, not propagated.
func (c *Chain) addBlockLocked(blk *block.Block) error {
	if blk == nil || blk.Header == nil {
		return fmt.Errorf("nil block")
	}

	known, err := c.store.HasBlock(blk.Hash)
	if err != nil {
		return fmt.Errorf("check known block: %w", err)
	}
	if known {
		return ErrBlockKnown
	}

	switch {
	case blk.Header.Index == c.state.Height+1 && blk.Header.PreviousHash == c.state.TipHash:
		if err := c.admitLocked(blk); err != nil {
			return err
		}
		for _, child := range c.orphans.takeChildren(blk.Hash) {
			if err := c.addBlockLocked(child); err != nil {
				log.Chain.Debug().Err(err).Str("hash", child.Hash.String()).Msg("orphan child failed admission")
			}
		}
		return nil

	case blk.Header.Index > c.state.Height+1:
		if err := c.maturity.MarkOrphaned(blk.Hash); err != nil {
			log.Chain.Debug().Err(err).Msg("mark orphaned on park (no matching entry)")
		}
		c.orphans.add(blk)
		return &OrphanAdded{ParentHash: blk.Header.PreviousHash}

	default:
		return ErrOldBlock
	}
}

// admitLocked runs full validation and state application for a block
// that directly extends the current tip, then persists the result in a
// single batch and updates in-memory state. Any failure leaves storage
// untouched: nothing is written until every transaction has validated
// against the touched-account working set.
func (c *Chain) admitLocked(blk *block.Block) error {
	if err := blk.Validate(c.gen.AddressPrefix); err != nil {
		return fmt.Errorf("structural validation: %w", err)
	}

	var expectedHash types.Hash
	if blk.IsGenesis() {
		expectedHash = blk.GenesisHash()
	} else {
		expectedHash = blk.ComputeHash()
	}
	if blk.Hash != expectedHash {
		return ErrPowHashMismatch
	}
	if err := c.engine.VerifyHeader(blk); err != nil {
		return fmt.Errorf("%w: %v", ErrInsufficientDifficulty, err)
	}

	touched := make(map[types.Address]types.Account)
	getAccount := func(addr types.Address) (types.Account, error) {
		if a, ok := touched[addr]; ok {
			return a, nil
		}
		return c.store.GetAccount(addr)
	}

	for i, t := range blk.Transactions {
		if t.SignatureType == tx.SignatureCoinbase {
			toAcct, err := getAccount(t.To)
			if err != nil {
				return fmt.Errorf("tx %d: load recipient: %w", i, err)
			}
			toAcct.Balance += t.Amount
			touched[t.To] = toAcct
			continue
		}

		fromAcct, err := getAccount(t.From)
		if err != nil {
			return fmt.Errorf("tx %d: load sender: %w", i, err)
		}

		breakdown := c.maturity.BalanceBreakdown(t.From, fromAcct.Balance)
		required := t.Amount + t.Fee
		if breakdown.Mature < required {
			return fmt.Errorf("tx %d: %w", i, &InsufficientMatureBalance{Required: required, Available: breakdown.Mature})
		}
		if t.Nonce != fromAcct.Nonce+1 {
			return fmt.Errorf("tx %d: %w", i, &InvalidNonce{Expected: fromAcct.Nonce + 1, Got: t.Nonce})
		}

		keys, err := tx.ResolveKeys(t, fromAcct.PublicKeys, c.gen.AddressPrefix)
		if err != nil {
			return fmt.Errorf("tx %d: resolve keys: %w", i, err)
		}
		if err := t.VerifyAuthenticity(keys); err != nil {
			return fmt.Errorf("tx %d: %w", i, err)
		}
		if fromAcct.PublicKeys.IsZero() {
			fromAcct.PublicKeys = keys
		}

		toAcct, err := getAccount(t.To)
		if err != nil {
			return fmt.Errorf("tx %d: load recipient: %w", i, err)
		}

		fromAcct.Balance -= required
		fromAcct.Nonce = t.Nonce
		toAcct.Balance += t.Amount

		touched[t.From] = fromAcct
		touched[t.To] = toAcct
	}

	w, commit := c.store.newBatch()

	if err := c.store.PutBlock(w, blk); err != nil {
		return fmt.Errorf("persist block: %w", err)
	}
	for addr, acct := range touched {
		if err := c.store.PutAccount(w, addr, acct); err != nil {
			return fmt.Errorf("persist account %s: %w", addr, err)
		}
	}
	if err := c.store.AddSupply(w, config.BlockReward); err != nil {
		return fmt.Errorf("persist supply: %w", err)
	}
	if err := c.store.PutDifficulty(w, blk.Header.Index, blk.Header.Difficulty); err != nil {
		return fmt.Errorf("persist difficulty: %w", err)
	}
	if err := c.store.SetHead(w, blk.Header.Index, blk.Hash); err != nil {
		return fmt.Errorf("persist head: %w", err)
	}
	if err := commit(); err != nil {
		return fmt.Errorf("commit block: %w", err)
	}

	c.state.Height = blk.Header.Index
	c.state.TipHash = blk.Hash
	c.state.Supply += config.BlockReward

	coinbaseTx := blk.Transactions[0]
	c.maturity.Add(blk.Hash, coinbaseTx.Amount, coinbaseTx.To, blk.Header.Index)
	c.maturity.ProcessMaturity(c.state.Height, c.isOnMainChainLocked)

	c.notify(blk)
	return nil
}

// isOnMainChainLocked reports whether hash is the block actually
// recorded at its own height, i.e. it was not displaced by a competing
// block admitted at the same height.
func (c *Chain) isOnMainChainLocked(hash types.Hash) bool {
	height, err := c.store.HeightOf(hash)
	if err != nil {
		return false
	}
	onChain, err := c.store.GetBlockByHeight(height)
	if err != nil {
		return false
	}
	return onChain.Hash == hash
}
