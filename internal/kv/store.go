// Package kv implements the ordered byte-keyed byte-value store described
// in §4.2, backed by goleveldb: point get/put/delete, prefix scan, atomic
// batch, and explicit sync.
package kv

import (
	"errors"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ErrNotFound mirrors leveldb.ErrNotFound so callers don't need to import
// goleveldb directly.
var ErrNotFound = leveldb.ErrNotFound

// Store is the embedded ordered KV engine. Exactly one process may open a
// given directory at a time (§5).
type Store struct {
	db *leveldb.DB
}

// Open opens (creating if absent) the LevelDB database at dir.
func Open(dir string) (*Store, error) {
	db, err := leveldb.OpenFile(dir, &opt.Options{})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens an in-memory store, used by tests and by components
// that only need ephemeral scratch state (e.g. trie-root dry-runs).
func OpenInMemory() (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), &opt.Options{})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Get(key []byte) ([]byte, error) {
	v, err := s.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return v, err
}

func (s *Store) Has(key []byte) (bool, error) {
	return s.db.Has(key, nil)
}

func (s *Store) Put(key, value []byte) error {
	return s.db.Put(key, value, nil)
}

func (s *Store) Delete(key []byte) error {
	return s.db.Delete(key, nil)
}

// KV is a single key/value pair, returned by prefix iteration.
type KV struct {
	Key   []byte
	Value []byte
}

// IterPrefix returns every (key, value) pair whose key starts with prefix,
// in ascending key order. The whole result is materialized because callers
// in this codebase always consume it fully (state-root computation, bloom
// index scans); a lazier cursor type is not needed at this scope.
func (s *Store) IterPrefix(prefix []byte) ([]KV, error) {
	iter := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	var out []KV
	for iter.Next() {
		out = append(out, KV{
			Key:   append([]byte(nil), iter.Key()...),
			Value: append([]byte(nil), iter.Value()...),
		})
	}
	return out, iter.Error()
}

// Batch accumulates multiple mutations for atomic application.
type Batch struct {
	b *leveldb.Batch
}

func (s *Store) NewBatch() *Batch {
	return &Batch{b: new(leveldb.Batch)}
}

func (b *Batch) Put(key, value []byte) { b.b.Put(key, value) }
func (b *Batch) Delete(key []byte)     { b.b.Delete(key) }

// Write applies the batch atomically.
func (s *Store) Write(b *Batch) error {
	return s.db.Write(b.b, nil)
}

// Sync guarantees all prior writes are persisted before return.
func (s *Store) Sync() error {
	return s.db.Write(new(leveldb.Batch), &opt.WriteOptions{Sync: true})
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
