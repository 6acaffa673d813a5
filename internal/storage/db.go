// Package storage provides database abstractions.
package storage

// DB is the interface for key-value storage.
type DB interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	// ForEach iterates over all keys with the given prefix.
	// The callback receives a copy of the key; the value may share memory
	// with the store and is not copied.
	// Return a non-nil error from fn to stop iteration early.
	ForEach(prefix []byte, fn func(key, value []byte) error) error
	// RangeScan iterates over all keys in [min, max) in ascending order.
	// A nil max means "no upper bound". The callback receives a copy of
	// the key; the value is not copied. A non-nil error stops iteration
	// early.
	RangeScan(min, max []byte, fn func(key, value []byte) error) error
	Close() error
}

// Batch accumulates writes for a single atomic commit.
type Batch interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	Commit() error
}

// Batcher is implemented by DBs that can produce an atomic Batch. Not
// every DB backing a PrefixDB supports this — the fallback batch in
// prefix.go degrades to non-atomic sequential writes when it doesn't.
type Batcher interface {
	NewBatch() Batch
}
