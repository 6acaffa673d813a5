// Package miner implements the mine-next coordinator: assemble a template
// from chain tip and mempool, compute difficulty, seal via proof-of-work,
// and submit the result back to the chain engine.
package miner

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bastille-chain/bastille/config"
	"github.com/bastille-chain/bastille/internal/chain"
	"github.com/bastille-chain/bastille/internal/consensus"
	"github.com/bastille-chain/bastille/internal/log"
	"github.com/bastille-chain/bastille/pkg/block"
	"github.com/bastille-chain/bastille/pkg/tx"
	"github.com/bastille-chain/bastille/pkg/types"
)

// State is the miner's coarse lifecycle state.
type State int

const (
	Idle State = iota
	Mining
)

func (s State) String() string {
	if s == Mining {
		return "mining"
	}
	return "idle"
}

// maxTxsPerBlock bounds how many mempool transactions a single mine-next
// tick drains, leaving the remaining headroom under config.MaxBlockTxs to
// the coinbase and any future protocol transactions.
const maxTxsPerBlock = 100

// Retry backoffs for a failed submission, distinguished by cause: an
// orphaned block likely just needs its parent, which tends to arrive
// quickly; any other failure waits longer before trying again.
const (
	orphanRetryDelay = 100 * time.Millisecond
	errorRetryDelay  = 1 * time.Second
)

// ChainView is the subset of the chain engine the miner needs: tip state
// for templating, and admission of the block it seals.
type ChainView interface {
	Height() uint64
	TipHash() types.Hash
	TipDifficulty() (uint32, error)
	RecentTimestamps(window int) ([]uint64, error)
	AddBlock(blk *block.Block) error
}

// MempoolSelector selects transactions for a block template and retires
// them once confirmed.
type MempoolSelector interface {
	SelectForBlock(limit int) []*tx.Transaction
	GetFee(txHash types.Hash) uint64
	RemoveConfirmed(txs []*tx.Transaction)
}

// Broadcaster announces a newly admitted block to connected peers.
type Broadcaster interface {
	BroadcastBlock(blk *block.Block)
}

// Miner drives the mine-next state machine for one node.
type Miner struct {
	mu    sync.Mutex
	state State

	chainView ChainView
	engine    *consensus.PoW
	pool      MempoolSelector
	gen       *config.Genesis
	coinbase  types.Address
	broadcast Broadcaster

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a miner paying rewards to coinbase.
func New(chainView ChainView, engine *consensus.PoW, pool MempoolSelector, gen *config.Genesis, coinbase types.Address, broadcast Broadcaster) *Miner {
	return &Miner{
		chainView: chainView,
		engine:    engine,
		pool:      pool,
		gen:       gen,
		coinbase:  coinbase,
		broadcast: broadcast,
	}
}

// Start launches the mine-next loop in the background. A second call
// while already running is a no-op.
func (m *Miner) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.run(runCtx)
}

// Stop halts the mine-next loop, blocking until the current iteration
// (including any in-flight PoW search) unwinds.
func (m *Miner) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// State reports whether the miner is currently sealing a block.
func (m *Miner) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Miner) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Miner) run(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		delay, err := m.mineNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Miner.Warn().Err(err).Msg("mine-next attempt failed")
		}
		if delay <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// mineNext runs one iteration of the mine-next state machine and reports
// the backoff the caller should observe before the next attempt.
func (m *Miner) mineNext(ctx context.Context) (time.Duration, error) {
	m.setState(Mining)
	defer m.setState(Idle)

	height := m.chainView.Height()
	tipHash := m.chainView.TipHash()

	var tipDifficulty uint32
	var recent []uint64
	if height > 0 {
		var err error
		tipDifficulty, err = m.chainView.TipDifficulty()
		if err != nil {
			return errorRetryDelay, fmt.Errorf("read tip difficulty: %w", err)
		}
		recent, err = m.chainView.RecentTimestamps(m.gen.RetargetWindow)
		if err != nil {
			return errorRetryDelay, fmt.Errorf("read recent timestamps: %w", err)
		}
	}

	selected := m.pool.SelectForBlock(maxTxsPerBlock)
	var totalFees uint64
	for _, t := range selected {
		totalFees += m.pool.GetFee(t.Hash)
	}

	coinbase := BuildCoinbase(m.gen, m.coinbase, config.BlockReward+totalFees, height+1)

	txs := make([]*tx.Transaction, 0, 1+len(selected))
	txs = append(txs, coinbase)
	txs = append(txs, selected...)

	txHashes := make([]types.Hash, len(txs))
	for i, t := range txs {
		txHashes[i] = t.Hash
	}

	header := &block.Header{
		Index:        height + 1,
		PreviousHash: tipHash,
		Timestamp:    uint64(time.Now().Unix()),
		MerkleRoot:   block.ComputeMerkleRoot(txHashes),
	}
	if err := m.engine.Prepare(header, height, tipDifficulty, recent); err != nil {
		return errorRetryDelay, fmt.Errorf("prepare header: %w", err)
	}

	blk := block.NewBlock(header, txs)

	if err := m.engine.SealWithCancel(ctx, blk); err != nil {
		return errorRetryDelay, fmt.Errorf("seal block: %w", err)
	}

	if err := m.chainView.AddBlock(blk); err != nil {
		var orphaned *chain.OrphanAdded
		if errors.As(err, &orphaned) {
			return orphanRetryDelay, nil
		}
		return errorRetryDelay, fmt.Errorf("submit mined block: %w", err)
	}

	m.pool.RemoveConfirmed(txs)
	if m.broadcast != nil {
		m.broadcast.BroadcastBlock(blk)
	}
	log.Miner.Info().Uint64("height", blk.Header.Index).Str("hash", blk.Hash.String()).Msg("mined block")
	return 0, nil
}

// BuildCoinbase assembles the coinbase transaction for a new block at
// height, paying amount to addr as given; it adds no fees itself (mineNext
// passes the fixed reward plus every included transaction's fee). The
// mint source is always the
// network's genesis sentinel — proof-of-work blocks have no validator
// identity to attribute the mint to. Height is folded into Data so two
// coinbases paying the same address the same amount in the same second
// don't collide on hash.
func BuildCoinbase(gen *config.Genesis, addr types.Address, amount, height uint64) *tx.Transaction {
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, height)

	t := &tx.Transaction{
		From:          gen.GenesisFromAddress(),
		To:            addr,
		Amount:        amount,
		Timestamp:     time.Now().Unix(),
		Data:          data,
		SignatureType: tx.SignatureCoinbase,
	}
	t.Rehash()
	return t
}
