package chain

import (
	"sync"
	"time"

	"github.com/bastille-chain/bastille/pkg/block"
	"github.com/bastille-chain/bastille/pkg/types"
)

// defaultMaxOrphans and defaultOrphanAge bound the orphan pool's memory
// use: a node with a broken chain of ancestors should not accumulate
// blocks without limit while it waits for the missing parent.
const (
	defaultMaxOrphans = 100
	defaultOrphanAge  = 10 * time.Minute
)

type orphanEntry struct {
	block      *block.Block
	receivedAt time.Time
}

// orphanManager parks blocks whose parent hasn't been admitted yet,
// indexed by both their own hash (to dedupe) and their parent's hash (so
// admitting a block can pull in everything waiting on it).
type orphanManager struct {
	mu         sync.Mutex
	maxOrphans int
	maxAge     time.Duration

	byHash   map[types.Hash]*orphanEntry
	byParent map[types.Hash][]types.Hash
}

func newOrphanManager() *orphanManager {
	return &orphanManager{
		maxOrphans: defaultMaxOrphans,
		maxAge:     defaultOrphanAge,
		byHash:     make(map[types.Hash]*orphanEntry),
		byParent:   make(map[types.Hash][]types.Hash),
	}
}

// add parks blk awaiting its parent. If the pool is at capacity, the
// oldest orphan is evicted to make room.
func (m *orphanManager) add(blk *block.Block) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.evictExpiredLocked()

	if _, exists := m.byHash[blk.Hash]; exists {
		return
	}

	if len(m.byHash) >= m.maxOrphans {
		m.evictOldestLocked()
	}

	m.byHash[blk.Hash] = &orphanEntry{block: blk, receivedAt: time.Now()}
	parent := blk.Header.PreviousHash
	m.byParent[parent] = append(m.byParent[parent], blk.Hash)
}

// takeChildren removes and returns every orphan directly parked on
// parentHash, so the caller can attempt to admit them now that their
// parent exists.
func (m *orphanManager) takeChildren(parentHash types.Hash) []*block.Block {
	m.mu.Lock()
	defer m.mu.Unlock()

	hashes := m.byParent[parentHash]
	if len(hashes) == 0 {
		return nil
	}
	delete(m.byParent, parentHash)

	blocks := make([]*block.Block, 0, len(hashes))
	for _, h := range hashes {
		if e, ok := m.byHash[h]; ok {
			blocks = append(blocks, e.block)
			delete(m.byHash, h)
		}
	}
	return blocks
}

// has reports whether hash is currently parked as an orphan.
func (m *orphanManager) has(hash types.Hash) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.byHash[hash]
	return ok
}

// count returns the number of parked orphans.
func (m *orphanManager) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byHash)
}

func (m *orphanManager) evictOldestLocked() {
	var oldestHash types.Hash
	var oldestAt time.Time
	first := true
	for h, e := range m.byHash {
		if first || e.receivedAt.Before(oldestAt) {
			oldestHash = h
			oldestAt = e.receivedAt
			first = false
		}
	}
	if !first {
		m.removeLocked(oldestHash)
	}
}

func (m *orphanManager) evictExpiredLocked() {
	cutoff := time.Now().Add(-m.maxAge)
	for h, e := range m.byHash {
		if e.receivedAt.Before(cutoff) {
			m.removeLocked(h)
		}
	}
}

func (m *orphanManager) removeLocked(hash types.Hash) {
	e, ok := m.byHash[hash]
	if !ok {
		return
	}
	delete(m.byHash, hash)
	parent := e.block.Header.PreviousHash
	siblings := m.byParent[parent]
	for i, h := range siblings {
		if h == hash {
			m.byParent[parent] = append(siblings[:i], siblings[i+1:]...)
			break
		}
	}
	if len(m.byParent[parent]) == 0 {
		delete(m.byParent, parent)
	}
}
