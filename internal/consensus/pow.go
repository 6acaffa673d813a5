package consensus

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sync"

	"github.com/bastille-chain/bastille/config"
	"github.com/bastille-chain/bastille/pkg/block"
	"github.com/bastille-chain/bastille/pkg/crypto"
)

// PoW errors.
var (
	ErrInsufficientWork = errors.New("hash does not meet difficulty target")
	ErrZeroDifficulty   = errors.New("difficulty must be > 0")
	ErrBadDifficulty    = errors.New("block difficulty does not match expected")
)

// maxUint256 is 2^256 - 1, the target for a difficulty-0 block (genesis
// only; genesis bypasses PoW entirely).
var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// productionMaxTarget and testingMaxTarget are the two numerators the
// network may divide by difficulty to obtain a block's target. They
// differ by many orders of magnitude so a testnet can mine on ordinary
// hardware while mainnet keeps a demanding target.
var (
	productionMaxTarget = mustHex("0000000FFFFF0000000000000000000000000000000000000000000000000")
	testingMaxTarget    = mustHex("00FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFF")
)

func mustHex(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("consensus: bad target constant " + s)
	}
	return v
}

// PoW implements Bitcoin-style proof-of-work over a block's mining input:
// index, previous hash, Merkle root, timestamp, difficulty, and every
// transaction's canonical bytes. Difficulty itself is carried in
// the block header, so the engine holds no mutable consensus state of
// its own beyond its configuration.
type PoW struct {
	Mode              config.TargetMode
	InitialDifficulty uint32
	RetargetWindow    int   // W, number of trailing block timestamps sampled.
	TargetBlockTimeMs int64 // target inter-block time, milliseconds.

	// Threads controls the number of parallel mining goroutines used by
	// Seal. 0 or 1 means single-threaded.
	Threads int
}

// NewPoW builds a PoW engine from a network's genesis parameters.
func NewPoW(gen *config.Genesis) *PoW {
	return &PoW{
		Mode:              gen.TargetMode,
		InitialDifficulty: gen.InitialDifficulty,
		RetargetWindow:    gen.RetargetWindow,
		TargetBlockTimeMs: gen.TargetBlockTimeMs,
	}
}

// maxTarget returns the numerator for this engine's configured mode.
func (p *PoW) maxTarget() *big.Int {
	if p.Mode == config.TargetTesting {
		return testingMaxTarget
	}
	return productionMaxTarget
}

// Target returns floor(max_target / difficulty), or 2^256-1 for
// difficulty 0 (the genesis case, which never actually checks this
// value against a hash).
func (p *PoW) Target(difficulty uint32) *big.Int {
	if difficulty == 0 {
		return new(big.Int).Set(maxUint256)
	}
	d := new(big.Int).SetUint64(uint64(difficulty))
	return new(big.Int).Div(p.maxTarget(), d)
}

// VerifyHeader checks that blk's stored hash is both the correct
// recomputation of its mining input and within its difficulty's target.
// A difficulty-0 block (genesis) passes trivially.
func (p *PoW) VerifyHeader(blk *block.Block) error {
	if blk.Header.Difficulty == 0 {
		return nil
	}
	recomputed := blk.ComputeHash()
	if recomputed != blk.Hash {
		return fmt.Errorf("%w: recomputed %s, stored %s", ErrInsufficientWork, recomputed, blk.Hash)
	}
	t := p.Target(blk.Header.Difficulty)
	hashInt := new(big.Int).SetBytes(blk.Hash[:])
	if hashInt.Cmp(t) > 0 {
		return ErrInsufficientWork
	}
	return nil
}

// Prepare sets header.Difficulty for a block extending a chain whose tip
// is at tipHeight with tipDifficulty, sampling up to RetargetWindow
// trailing timestamps via recentTimestamps (oldest first, including the
// tip).
func (p *PoW) Prepare(header *block.Header, tipHeight uint64, tipDifficulty uint32, recentTimestamps []uint64) error {
	if tipHeight == 0 && header.Index == 1 {
		header.Difficulty = 1
		return nil
	}
	header.Difficulty = p.NextDifficulty(tipDifficulty, recentTimestamps)
	return nil
}

// NextDifficulty applies the retarget formula against a window of
// trailing block timestamps (oldest first). With fewer than two samples,
// the current difficulty carries forward unchanged.
func (p *PoW) NextDifficulty(current uint32, timestamps []uint64) uint32 {
	if len(timestamps) < 2 {
		return current
	}

	window := p.RetargetWindow
	if window <= 0 {
		window = 10
	}
	if len(timestamps) > window {
		timestamps = timestamps[len(timestamps)-window:]
	}

	var deltaSum int64
	deltas := 0
	for i := 1; i < len(timestamps); i++ {
		deltaSum += int64(timestamps[i]-timestamps[i-1]) * 1000
		deltas++
	}
	if deltas == 0 {
		return current
	}
	actual := deltaSum / int64(deltas)
	if actual < 1000 {
		actual = 1000
	}

	targetTime := p.TargetBlockTimeMs
	if targetTime <= 0 {
		targetTime = 10_000
	}

	ratio := float64(targetTime) / float64(actual)
	if ratio < 0.25 {
		ratio = 0.25
	}
	if ratio > 4.0 {
		ratio = 4.0
	}

	next := math.Round(float64(current) * ratio)
	if next < 1 {
		next = 1
	}
	if next > math.MaxUint32 {
		next = math.MaxUint32
	}
	return uint32(next)
}

// Seal mines blk in place: it searches header.Nonce until the mining
// input's Blake3 hash (with the candidate nonce appended) meets the
// header's difficulty target, then stamps blk.Hash.
func (p *PoW) Seal(blk *block.Block) error {
	return p.SealWithCancel(context.Background(), blk)
}

// SealWithCancel mines blk with cancellation support.
func (p *PoW) SealWithCancel(ctx context.Context, blk *block.Block) error {
	if blk == nil || blk.Header == nil {
		return fmt.Errorf("nil block or header")
	}
	if blk.Header.Difficulty == 0 {
		blk.Rehash()
		return nil
	}

	threads := p.Threads
	if threads <= 1 {
		return p.sealSingle(ctx, blk)
	}
	return p.sealParallel(ctx, blk, threads)
}

func (p *PoW) sealSingle(ctx context.Context, blk *block.Block) error {
	t := p.Target(blk.Header.Difficulty)
	prefix := blk.MiningInput()
	buf := make([]byte, len(prefix)+8)
	copy(buf, prefix)
	hashInt := new(big.Int)

	for nonce := uint64(0); ; nonce++ {
		if nonce&0xFFFFF == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}

		binary.LittleEndian.PutUint64(buf[len(prefix):], nonce)
		hash := crypto.Hash(buf)
		hashInt.SetBytes(hash[:])
		if hashInt.Cmp(t) <= 0 {
			blk.Header.Nonce = nonce
			blk.Hash = hash
			return nil
		}
		if nonce == ^uint64(0) {
			return fmt.Errorf("nonce space exhausted")
		}
	}
}

// sealParallel mines with multiple goroutines, each searching a strided
// partition of the nonce space (goroutine i starts at nonce=i, step=threads).
func (p *PoW) sealParallel(ctx context.Context, blk *block.Block, threads int) error {
	t := p.Target(blk.Header.Difficulty)
	prefix := blk.MiningInput()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		nonce uint64
		hash  [32]byte
		err   error
	}
	found := make(chan result, 1)

	var wg sync.WaitGroup
	for i := 0; i < threads; i++ {
		wg.Add(1)
		startNonce := uint64(i)
		stride := uint64(threads)
		go func() {
			defer wg.Done()
			buf := make([]byte, len(prefix)+8)
			copy(buf, prefix)
			hashInt := new(big.Int)

			for nonce := startNonce; ; nonce += stride {
				if (nonce/stride)&0xFFFFF == 0 && nonce > 0 {
					select {
					case <-ctx.Done():
						return
					default:
					}
				}

				binary.LittleEndian.PutUint64(buf[len(prefix):], nonce)
				hash := crypto.Hash(buf)
				hashInt.SetBytes(hash[:])
				if hashInt.Cmp(t) <= 0 {
					select {
					case found <- result{nonce: nonce, hash: hash}:
					default:
					}
					cancel()
					return
				}

				if nonce > ^uint64(0)-stride {
					select {
					case found <- result{err: fmt.Errorf("nonce space exhausted")}:
					default:
					}
					return
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(found)
	}()

	select {
	case r, ok := <-found:
		if !ok {
			return fmt.Errorf("nonce space exhausted")
		}
		if r.err != nil {
			return r.err
		}
		blk.Header.Nonce = r.nonce
		blk.Hash = r.hash
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
