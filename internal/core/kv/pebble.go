// Package kv is a small ordered key-value store on Pebble, shared by the
// local dead-letter store and reindex checkpoints.
package kv

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/bloom"
	"github.com/cockroachdb/pebble/vfs"
)

// ErrNotFound is returned by Get for missing keys.
var ErrNotFound = errors.New("key not found")

// Options configures the store.
type Options struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string `yaml:"path"`

	// InMemory keeps everything in memory; used in tests and standalone mode.
	InMemory bool `yaml:"in_memory"`

	// BlockCacheSize is the size of the block cache in bytes.
	BlockCacheSize int64 `yaml:"block_cache_size"`

	Logger *slog.Logger `yaml:"-"`
}

// Store wraps a pebble.DB.
type Store struct {
	db     *pebble.DB
	logger *slog.Logger
}

// Open opens or creates the store.
func Open(opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cacheSize := opts.BlockCacheSize
	if cacheSize <= 0 {
		cacheSize = 8 << 20
	}
	cache := pebble.NewCache(cacheSize)
	defer cache.Unref()

	dbOpts := &pebble.Options{
		Cache: cache,
		Levels: []pebble.LevelOptions{
			{FilterPolicy: bloom.FilterPolicy(10)},
		},
	}

	path := opts.Path
	if opts.InMemory {
		dbOpts.FS = vfs.NewMem()
		path = ""
	} else {
		if path == "" {
			return nil, fmt.Errorf("store path is required")
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := pebble.Open(path, dbOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble database: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Get returns a copy of the value stored under key.
func (s *Store) Get(key []byte) ([]byte, error) {
	value, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), value...), nil
}

func (s *Store) Set(key, value []byte) error {
	return s.db.Set(key, value, pebble.Sync)
}

func (s *Store) Delete(key []byte) error {
	return s.db.Delete(key, pebble.Sync)
}

// Apply writes all sets and deletes atomically. A nil value deletes the key.
func (s *Store) Apply(ops map[string][]byte) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	for k, v := range ops {
		var err error
		if v == nil {
			err = batch.Delete([]byte(k), nil)
		} else {
			err = batch.Set([]byte(k), v, nil)
		}
		if err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

// Scan calls fn for every key with prefix in key order, or reverse order
// when reverse is set, until fn returns false or an error.
func (s *Store) Scan(prefix []byte, reverse bool, fn func(key, value []byte) (bool, error)) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	valid := iter.First()
	step := iter.Next
	if reverse {
		valid = iter.Last()
		step = iter.Prev
	}
	for ; valid; valid = step() {
		more, err := fn(iter.Key(), iter.Value())
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	return iter.Error()
}

// DeletePrefix removes every key starting with prefix.
func (s *Store) DeletePrefix(prefix []byte) error {
	return s.db.DeleteRange(prefix, prefixEnd(prefix), pebble.Sync)
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close pebble database: %w", err)
	}
	return nil
}

// prefixEnd returns the smallest key greater than every key with prefix.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
