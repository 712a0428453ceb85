// Package badgerstore backs kv.Store with github.com/dgraph-io/badger/v4,
// an embedded ordered LSM-tree store, framing every value with LZ4 before
// it reaches badger and transparently unframing it on read.
//
// Badger has no "disable auto-compaction, compact once at the end" knob
// the way the original's RocksDB backend does; Flatten reproduces the
// same effect by collapsing every level into one, which is badger's
// closest equivalent to a full-range manual compaction.
package badgerstore

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/pierrec/lz4/v4"

	"github.com/tilegrid/gridstore/internal/kv"
)

// Store adapts a *badger.DB to kv.Store.
type Store struct {
	db *badger.DB
}

// Options configures Open.
type Options struct {
	// Path is the on-disk directory badger should use. Empty means
	// in-memory only, useful for tests.
	Path string
	// SyncWrites mirrors badger.Options.SyncWrites; builders that can
	// tolerate losing the last few writes on a crash leave it false for
	// bulk-load throughput.
	SyncWrites bool
}

// Open creates or opens a badger-backed store at opts.Path.
func Open(opts Options) (*Store, error) {
	bo := badger.DefaultOptions(opts.Path)
	if opts.Path == "" {
		bo = bo.WithInMemory(true)
	}
	bo = bo.WithSyncWrites(opts.SyncWrites).WithLogger(nil)
	db, err := badger.Open(bo)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: open: %w", err)
	}
	return &Store{db: db}, nil
}

func compress(v []byte) []byte {
	out := make([]byte, lz4.CompressBlockBound(len(v))+4)
	out[0], out[1], out[2], out[3] = byte(len(v)), byte(len(v)>>8), byte(len(v)>>16), byte(len(v)>>24)
	var c lz4.Compressor
	n, err := c.CompressBlock(v, out[4:])
	if err != nil || n == 0 {
		// Incompressible or too small to benefit; store raw with a
		// zero-length compressed marker so decompress knows to pass it
		// through untouched.
		raw := make([]byte, len(v)+4)
		copy(raw[4:], v)
		raw[0], raw[1], raw[2], raw[3] = 0, 0, 0, 0
		return raw
	}
	return out[:4+n]
}

func decompress(v []byte) ([]byte, error) {
	if len(v) < 4 {
		return nil, fmt.Errorf("badgerstore: value too short to carry a length prefix")
	}
	origLen := int(v[0]) | int(v[1])<<8 | int(v[2])<<16 | int(v[3])<<24
	if origLen == 0 {
		return v[4:], nil
	}
	out := make([]byte, origLen)
	n, err := lz4.UncompressBlock(v[4:], out)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: lz4 decompress: %w", err)
	}
	return out[:n], nil
}

// Get implements kv.Store.
func (s *Store) Get(key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		out, err = decompress(raw)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("badgerstore: get: %w", err)
	}
	return out, nil
}

// Set implements kv.Store.
func (s *Store) Set(key, value []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, compress(value))
	})
	if err != nil {
		return fmt.Errorf("badgerstore: set: %w", err)
	}
	return nil
}

// Flatten implements kv.Store.
func (s *Store) Flatten() error {
	if err := s.db.Flatten(1); err != nil {
		return fmt.Errorf("badgerstore: flatten: %w", err)
	}
	return nil
}

// Close implements kv.Store.
func (s *Store) Close() error { return s.db.Close() }

// Batch implements kv.Store.
func (s *Store) Batch() kv.Batch {
	return &writeBatch{wb: s.db.NewWriteBatch()}
}

type writeBatch struct {
	wb *badger.WriteBatch
}

func (b *writeBatch) Set(key, value []byte) error {
	if err := b.wb.Set(key, compress(value)); err != nil {
		return fmt.Errorf("badgerstore: batch set: %w", err)
	}
	return nil
}

func (b *writeBatch) Commit() error {
	if err := b.wb.Flush(); err != nil {
		return fmt.Errorf("badgerstore: batch commit: %w", err)
	}
	return nil
}

func (b *writeBatch) Cancel() { b.wb.Cancel() }

// NewIterator implements kv.Store.
func (s *Store) NewIterator(opts kv.IterOptions) kv.Iterator {
	txn := s.db.NewTransaction(false)
	bopts := badger.DefaultIteratorOptions
	bopts.Prefix = opts.Prefix
	it := txn.NewIterator(bopts)
	return &iterator{txn: txn, it: it}
}

type iterator struct {
	txn *badger.Txn
	it  *badger.Iterator
}

func (i *iterator) Seek(key []byte) { i.it.Seek(key) }
func (i *iterator) Valid() bool     { return i.it.Valid() }
func (i *iterator) Next()           { i.it.Next() }

func (i *iterator) Key() []byte {
	return i.it.Item().KeyCopy(nil)
}

func (i *iterator) Value() ([]byte, error) {
	raw, err := i.it.Item().ValueCopy(nil)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: iterator value: %w", err)
	}
	return decompress(raw)
}

func (i *iterator) Close() {
	i.it.Close()
	i.txn.Discard()
}
