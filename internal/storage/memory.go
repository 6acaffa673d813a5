package storage

import (
	"errors"
	"sort"
	"strings"
)

// MemoryDB implements DB using an in-memory map.
type MemoryDB struct {
	data map[string][]byte
}

// NewMemory creates a new in-memory database.
func NewMemory() *MemoryDB {
	return &MemoryDB{
		data: make(map[string][]byte),
	}
}

// Get retrieves a value by key.
func (m *MemoryDB) Get(key []byte) ([]byte, error) {
	v, ok := m.data[string(key)]
	if !ok {
		return nil, errors.New("key not found")
	}
	return v, nil
}

// Put stores a key-value pair.
func (m *MemoryDB) Put(key, value []byte) error {
	m.data[string(key)] = value
	return nil
}

// Delete removes a key.
func (m *MemoryDB) Delete(key []byte) error {
	delete(m.data, string(key))
	return nil
}

// Has checks if a key exists.
func (m *MemoryDB) Has(key []byte) (bool, error) {
	_, ok := m.data[string(key)]
	return ok, nil
}

// ForEach iterates over all keys with the given prefix.
func (m *MemoryDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	p := string(prefix)
	for k, v := range m.data {
		if strings.HasPrefix(k, p) {
			if err := fn([]byte(k), v); err != nil {
				return err
			}
		}
	}
	return nil
}

// RangeScan iterates over all keys in [min, max) in ascending order.
// A nil max scans to the end of the keyspace.
func (m *MemoryDB) RangeScan(min, max []byte, fn func(key, value []byte) error) error {
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if k >= string(min) && (max == nil || k < string(max)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := fn([]byte(k), m.data[k]); err != nil {
			return err
		}
	}
	return nil
}

// NewBatch returns a batch that accumulates writes in memory and applies
// them to the map in one pass on Commit.
func (m *MemoryDB) NewBatch() Batch {
	return &batchMemory{db: m}
}

type memOp struct {
	key    []byte
	value  []byte
	delete bool
}

type batchMemory struct {
	db  *MemoryDB
	ops []memOp
}

func (bm *batchMemory) Put(key, value []byte) error {
	bm.ops = append(bm.ops, memOp{key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
	return nil
}

func (bm *batchMemory) Delete(key []byte) error {
	bm.ops = append(bm.ops, memOp{key: append([]byte(nil), key...), delete: true})
	return nil
}

func (bm *batchMemory) Commit() error {
	for _, op := range bm.ops {
		if op.delete {
			delete(bm.db.data, string(op.key))
		} else {
			bm.db.data[string(op.key)] = op.value
		}
	}
	return nil
}

// Close closes the database.
func (m *MemoryDB) Close() error {
	return nil
}
