package chain

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bastille-chain/bastille/internal/storage"
	"github.com/bastille-chain/bastille/pkg/block"
	"github.com/bastille-chain/bastille/pkg/types"
)

// maxAddrIndexEntries bounds the "addr:" index to its most recent
// transactions per address, per the external interface's stated limit.
const maxAddrIndexEntries = 1000

// writer is satisfied by both a storage.DB and an in-progress
// storage.Batch, so BlockStore's write helpers can build up one atomic
// unit of work across block bytes, chain metadata, and account state.
type writer interface {
	Put(key, value []byte) error
	Delete(key []byte) error
}

// BlockStore persists blocks (partitioned by month), chain metadata,
// account state, and address/transaction indexes. Keys are chosen so
// that zero-padded decimal integers sort in numeric order under the
// underlying store's lexicographic scan.
type BlockStore struct {
	db storage.DB
}

// NewBlockStore wraps db with the chain's key layout.
func NewBlockStore(db storage.DB) *BlockStore {
	return &BlockStore{db: db}
}

// newBatch returns a writer that commits atomically if the underlying
// store can batch, along with the commit function the caller must invoke
// once every write for one admission has been queued.
func (bs *BlockStore) newBatch() (writer, func() error) {
	batcher, ok := bs.db.(storage.Batcher)
	if !ok {
		return bs.db, func() error { return nil }
	}
	b := batcher.NewBatch()
	return b, b.Commit
}

func partitionOf(ts uint64) string {
	return time.Unix(int64(ts), 0).UTC().Format("200601")
}

func paddedHeight(h uint64) string { return fmt.Sprintf("%020d", h) }
func paddedTime(ts uint64) string  { return fmt.Sprintf("%020d", ts) }

func blockKey(partition string, hash types.Hash) []byte {
	return []byte("block:" + partition + ":" + hash.String())
}
func bhashKey(hash types.Hash) []byte          { return []byte("bhash:" + hash.String()) }
func h2hKey(height uint64) []byte              { return []byte("h2h:" + paddedHeight(height)) }
func hash2hKey(hash types.Hash) []byte         { return []byte("hash2h:" + hash.String()) }
func diffKey(height uint64) []byte             { return []byte("diff:" + paddedHeight(height)) }
func parentChildrenKey(hash types.Hash) []byte { return []byte("pc:" + hash.String()) }
func balKey(addr types.Address) []byte         { return []byte("bal:" + string(addr)) }
func nonceKey(addr types.Address) []byte       { return []byte("nonce:" + string(addr)) }
func pubkeyKey(addr types.Address) []byte      { return []byte("pubkey:" + string(addr)) }
func txIndexKey(hash types.Hash) []byte        { return []byte("tx:" + hash.String()) }
func addrIndexKey(addr types.Address) []byte   { return []byte("addr:" + string(addr)) }
func timeIndexKey(ts uint64) []byte            { return []byte("time:" + paddedTime(ts)) }

var (
	keyMetaHeight      = []byte("meta:height")
	keyMetaHeadHash    = []byte("meta:head_hash")
	keyMetaTotalSupply = []byte("meta:total_supply")
	keyMetaTotalBurned = []byte("meta:total_burned")
)

// txLocation records where a confirmed transaction lives.
type txLocation struct {
	Partition string     `json:"partition"`
	BlockHash types.Hash `json:"block_hash"`
	TxIndex   int        `json:"tx_index"`
}

// PutBlock writes a block's bytes into its time partition and indexes it
// by hash, height, parent adjacency, per-transaction location, per-address
// recency, and timestamp. It does not touch account state or the head
// pointer — callers compose those writes into the same batch.
func (bs *BlockStore) PutBlock(w writer, blk *block.Block) error {
	data, err := json.Marshal(blk)
	if err != nil {
		return fmt.Errorf("marshal block: %w", err)
	}

	partition := partitionOf(blk.Header.Timestamp)
	if err := w.Put(blockKey(partition, blk.Hash), data); err != nil {
		return fmt.Errorf("put block: %w", err)
	}
	if err := w.Put(bhashKey(blk.Hash), []byte(partition)); err != nil {
		return fmt.Errorf("put block partition index: %w", err)
	}
	if err := w.Put(h2hKey(blk.Header.Index), blk.Hash[:]); err != nil {
		return fmt.Errorf("put height index: %w", err)
	}
	if err := w.Put(hash2hKey(blk.Hash), encodeU64(blk.Header.Index)); err != nil {
		return fmt.Errorf("put hash index: %w", err)
	}
	if err := w.Put(timeIndexKey(blk.Header.Timestamp), blk.Hash[:]); err != nil {
		return fmt.Errorf("put time index: %w", err)
	}
	if !blk.Header.PreviousHash.IsZero() || blk.Header.Index == 0 {
		if err := bs.addChild(w, blk.Header.PreviousHash, blk.Hash); err != nil {
			return fmt.Errorf("put parent adjacency: %w", err)
		}
	}

	for i, t := range blk.Transactions {
		loc := txLocation{Partition: partition, BlockHash: blk.Hash, TxIndex: i}
		locBytes, err := json.Marshal(loc)
		if err != nil {
			return fmt.Errorf("marshal tx location: %w", err)
		}
		if err := w.Put(txIndexKey(t.Hash), locBytes); err != nil {
			return fmt.Errorf("put tx index: %w", err)
		}
		if err := bs.appendAddrIndex(w, t.From, t.Hash); err != nil {
			return fmt.Errorf("put addr index (from): %w", err)
		}
		if err := bs.appendAddrIndex(w, t.To, t.Hash); err != nil {
			return fmt.Errorf("put addr index (to): %w", err)
		}
	}
	return nil
}

// GetBlock retrieves a block by hash, consulting the partition index to
// find it.
func (bs *BlockStore) GetBlock(hash types.Hash) (*block.Block, error) {
	partitionBytes, err := bs.db.Get(bhashKey(hash))
	if err != nil {
		return nil, fmt.Errorf("block %s not found: %w", hash, err)
	}
	data, err := bs.db.Get(blockKey(string(partitionBytes), hash))
	if err != nil {
		return nil, fmt.Errorf("block %s not found in partition: %w", hash, err)
	}
	var blk block.Block
	if err := json.Unmarshal(data, &blk); err != nil {
		return nil, fmt.Errorf("unmarshal block: %w", err)
	}
	return &blk, nil
}

// GetBlockByHeight retrieves a block via the height→hash index.
func (bs *BlockStore) GetBlockByHeight(height uint64) (*block.Block, error) {
	hashBytes, err := bs.db.Get(h2hKey(height))
	if err != nil {
		return nil, fmt.Errorf("no block at height %d: %w", height, err)
	}
	if len(hashBytes) != types.HashSize {
		return nil, fmt.Errorf("corrupt height index at %d", height)
	}
	var hash types.Hash
	copy(hash[:], hashBytes)
	return bs.GetBlock(hash)
}

// HasBlock reports whether a block with the given hash is known.
func (bs *BlockStore) HasBlock(hash types.Hash) (bool, error) {
	return bs.db.Has(bhashKey(hash))
}

// HeightOf returns the height recorded for a known block hash.
func (bs *BlockStore) HeightOf(hash types.Hash) (uint64, error) {
	data, err := bs.db.Get(hash2hKey(hash))
	if err != nil {
		return 0, fmt.Errorf("no height recorded for %s: %w", hash, err)
	}
	return decodeU64(data), nil
}

// addChild appends childHash to the persisted adjacency list recorded
// for parentHash. The orphan manager does not read this list; it keeps
// its own in-memory parent index.
func (bs *BlockStore) addChild(w writer, parentHash, childHash types.Hash) error {
	children, err := bs.Children(parentHash)
	if err != nil {
		return err
	}
	for _, c := range children {
		if c == childHash {
			return nil
		}
	}
	children = append(children, childHash)
	data, err := json.Marshal(children)
	if err != nil {
		return err
	}
	return w.Put(parentChildrenKey(parentHash), data)
}

// Children returns the hashes of blocks recorded as children of
// parentHash (empty if none).
func (bs *BlockStore) Children(parentHash types.Hash) ([]types.Hash, error) {
	has, err := bs.db.Has(parentChildrenKey(parentHash))
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, nil
	}
	data, err := bs.db.Get(parentChildrenKey(parentHash))
	if err != nil {
		return nil, err
	}
	var children []types.Hash
	if err := json.Unmarshal(data, &children); err != nil {
		return nil, fmt.Errorf("corrupt parent-child index: %w", err)
	}
	return children, nil
}

// Head returns the chain's current height and tip hash. Both are zero on
// a fresh store.
func (bs *BlockStore) Head() (uint64, types.Hash, error) {
	has, err := bs.db.Has(keyMetaHeadHash)
	if err != nil {
		return 0, types.Hash{}, err
	}
	if !has {
		return 0, types.Hash{}, nil
	}
	hashBytes, err := bs.db.Get(keyMetaHeadHash)
	if err != nil {
		return 0, types.Hash{}, fmt.Errorf("get head hash: %w", err)
	}
	heightBytes, err := bs.db.Get(keyMetaHeight)
	if err != nil {
		return 0, types.Hash{}, fmt.Errorf("get head height: %w", err)
	}
	var hash types.Hash
	copy(hash[:], hashBytes)
	return decodeU64(heightBytes), hash, nil
}

// SetHead records height and hash as the chain's new tip.
func (bs *BlockStore) SetHead(w writer, height uint64, hash types.Hash) error {
	if err := w.Put(keyMetaHeight, encodeU64(height)); err != nil {
		return err
	}
	return w.Put(keyMetaHeadHash, hash[:])
}

// GetDifficulty returns the difficulty recorded for a given height.
func (bs *BlockStore) GetDifficulty(height uint64) (uint32, bool, error) {
	has, err := bs.db.Has(diffKey(height))
	if err != nil || !has {
		return 0, false, err
	}
	data, err := bs.db.Get(diffKey(height))
	if err != nil {
		return 0, false, err
	}
	if len(data) != 4 {
		return 0, false, fmt.Errorf("corrupt difficulty record at height %d", height)
	}
	return binary.BigEndian.Uint32(data), true, nil
}

// PutDifficulty records the difficulty used at a given height.
func (bs *BlockStore) PutDifficulty(w writer, height uint64, difficulty uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], difficulty)
	return w.Put(diffKey(height), buf[:])
}

// RecentTimestamps returns up to window timestamps of the blocks
// immediately preceding (and including) tipHeight, oldest first, for
// proof-of-work retarget sampling.
func (bs *BlockStore) RecentTimestamps(tipHeight uint64, window int) ([]uint64, error) {
	start := uint64(0)
	if tipHeight+1 > uint64(window) {
		start = tipHeight + 1 - uint64(window)
	}
	var out []uint64
	for h := start; h <= tipHeight; h++ {
		blk, err := bs.GetBlockByHeight(h)
		if err != nil {
			return nil, err
		}
		out = append(out, blk.Header.Timestamp)
	}
	return out, nil
}

// GetAccount returns the persisted state for addr, or the zero Account
// (balance 0, nonce 0, no keys) if it has never been touched.
func (bs *BlockStore) GetAccount(addr types.Address) (types.Account, error) {
	var acct types.Account

	if has, err := bs.db.Has(balKey(addr)); err != nil {
		return acct, err
	} else if has {
		data, err := bs.db.Get(balKey(addr))
		if err != nil {
			return acct, err
		}
		if len(data) != 8 {
			return acct, fmt.Errorf("corrupt balance for %s", addr)
		}
		acct.Balance = decodeU64(data)
	}

	if has, err := bs.db.Has(nonceKey(addr)); err != nil {
		return acct, err
	} else if has {
		data, err := bs.db.Get(nonceKey(addr))
		if err != nil {
			return acct, err
		}
		if len(data) != 8 {
			return acct, fmt.Errorf("corrupt nonce for %s", addr)
		}
		acct.Nonce = decodeU64(data)
	}

	if has, err := bs.db.Has(pubkeyKey(addr)); err != nil {
		return acct, err
	} else if has {
		data, err := bs.db.Get(pubkeyKey(addr))
		if err != nil {
			return acct, err
		}
		if err := json.Unmarshal(data, &acct.PublicKeys); err != nil {
			return acct, fmt.Errorf("corrupt public keys for %s: %w", addr, err)
		}
	}

	return acct, nil
}

// PutAccount persists addr's balance, nonce, and (if set) public keys.
func (bs *BlockStore) PutAccount(w writer, addr types.Address, acct types.Account) error {
	if err := w.Put(balKey(addr), encodeU64(acct.Balance)); err != nil {
		return fmt.Errorf("put balance: %w", err)
	}
	if err := w.Put(nonceKey(addr), encodeU64(acct.Nonce)); err != nil {
		return fmt.Errorf("put nonce: %w", err)
	}
	if !acct.PublicKeys.IsZero() {
		data, err := json.Marshal(acct.PublicKeys)
		if err != nil {
			return fmt.Errorf("marshal public keys: %w", err)
		}
		if err := w.Put(pubkeyKey(addr), data); err != nil {
			return fmt.Errorf("put public keys: %w", err)
		}
	}
	return nil
}

// TotalSupply returns the cumulative coinbase issuance recorded so far.
func (bs *BlockStore) TotalSupply() (uint64, error) {
	has, err := bs.db.Has(keyMetaTotalSupply)
	if err != nil || !has {
		return 0, err
	}
	data, err := bs.db.Get(keyMetaTotalSupply)
	if err != nil {
		return 0, err
	}
	return decodeU64(data), nil
}

// AddSupply adds delta to the recorded total supply.
func (bs *BlockStore) AddSupply(w writer, delta uint64) error {
	current, err := bs.TotalSupply()
	if err != nil {
		return err
	}
	return w.Put(keyMetaTotalSupply, encodeU64(current+delta))
}

// AddBurned adds delta to the recorded total burned amount.
func (bs *BlockStore) AddBurned(w writer, delta uint64) error {
	var current uint64
	if has, err := bs.db.Has(keyMetaTotalBurned); err != nil {
		return err
	} else if has {
		data, err := bs.db.Get(keyMetaTotalBurned)
		if err != nil {
			return err
		}
		current = decodeU64(data)
	}
	return w.Put(keyMetaTotalBurned, encodeU64(current+delta))
}

// GetTxLocation returns where a confirmed transaction is stored.
func (bs *BlockStore) GetTxLocation(hash types.Hash) (types.Hash, int, error) {
	data, err := bs.db.Get(txIndexKey(hash))
	if err != nil {
		return types.Hash{}, 0, fmt.Errorf("tx %s not indexed: %w", hash, err)
	}
	var loc txLocation
	if err := json.Unmarshal(data, &loc); err != nil {
		return types.Hash{}, 0, fmt.Errorf("corrupt tx index: %w", err)
	}
	return loc.BlockHash, loc.TxIndex, nil
}

// appendAddrIndex records txHash against addr, trimming to the most
// recent maxAddrIndexEntries entries.
func (bs *BlockStore) appendAddrIndex(w writer, addr types.Address, txHash types.Hash) error {
	var hashes []types.Hash
	if has, err := bs.db.Has(addrIndexKey(addr)); err != nil {
		return err
	} else if has {
		data, err := bs.db.Get(addrIndexKey(addr))
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &hashes); err != nil {
			return fmt.Errorf("corrupt addr index for %s: %w", addr, err)
		}
	}
	hashes = append(hashes, txHash)
	if len(hashes) > maxAddrIndexEntries {
		hashes = hashes[len(hashes)-maxAddrIndexEntries:]
	}
	data, err := json.Marshal(hashes)
	if err != nil {
		return err
	}
	return w.Put(addrIndexKey(addr), data)
}

// AddrHistory returns the (bounded) transaction hashes recorded for addr.
func (bs *BlockStore) AddrHistory(addr types.Address) ([]types.Hash, error) {
	has, err := bs.db.Has(addrIndexKey(addr))
	if err != nil || !has {
		return nil, err
	}
	data, err := bs.db.Get(addrIndexKey(addr))
	if err != nil {
		return nil, err
	}
	var hashes []types.Hash
	if err := json.Unmarshal(data, &hashes); err != nil {
		return nil, fmt.Errorf("corrupt addr index for %s: %w", addr, err)
	}
	return hashes, nil
}

func encodeU64(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

func decodeU64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
