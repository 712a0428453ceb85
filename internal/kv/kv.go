// Package kv defines the ordered byte-key store contract the grid-store
// builder and reader are written against, independent of which embedded
// engine backs it.
package kv

// IterOptions configures a forward scan.
type IterOptions struct {
	// Prefix, if non-empty, restricts iteration to keys sharing it.
	Prefix []byte
}

// Iterator walks keys in ascending byte order starting from Seek.
type Iterator interface {
	// Seek positions the iterator at the first key >= key.
	Seek(key []byte)
	// Valid reports whether the iterator is positioned at a usable entry.
	Valid() bool
	// Next advances to the following key.
	Next()
	// Key returns the current key. The slice is only valid until the next
	// call to Next, Seek, or Close.
	Key() []byte
	// Value returns the current value, decompressed. The slice is only
	// valid until the next call to Next, Seek, or Close.
	Value() ([]byte, error)
	// Close releases the iterator's resources.
	Close()
}

// Batch buffers a group of writes to be applied atomically.
type Batch interface {
	Set(key, value []byte) error
	Commit() error
	Cancel()
}

// Store is the ordered KV engine contract the grid-store format is built
// on: get/set by exact key, ordered prefix iteration, and a way to force
// full compaction once bulk loading finishes.
type Store interface {
	Get(key []byte) ([]byte, error) // nil, nil on miss
	Set(key, value []byte) error
	NewIterator(opts IterOptions) Iterator
	Batch() Batch
	// Flatten forces the store's levels into one, the equivalent of a
	// full-range compaction once a builder finishes writing.
	Flatten() error
	Close() error
}
