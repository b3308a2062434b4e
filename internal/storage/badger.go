package storage

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/Klingon-tech/bigstore/internal/log"
)

// BadgerDB implements DB using Badger.
type BadgerDB struct {
	db *badger.DB
}

// NewBadger creates a new Badger database at the given path.
func NewBadger(path string) (*BadgerDB, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Disable badger's built-in logging.

	db, err := badger.Open(opts)
	if err != nil {
		errMsg := err.Error()
		if strings.Contains(errMsg, "Cannot acquire directory lock") ||
			strings.Contains(errMsg, "resource temporarily unavailable") {
			return nil, fmt.Errorf("database at %s is locked by another process: %w", path, err)
		}
		return nil, fmt.Errorf("open database at %s: %w", path, err)
	}
	log.Engine.Debug().Str("path", path).Msg("badger engine opened")
	return &BadgerDB{db: db}, nil
}

// Get retrieves a value by key. A missing key is reported through found,
// not as an error.
func (b *BadgerDB) Get(key []byte) ([]byte, bool, error) {
	var val []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("badger get: %w", err)
	}
	return val, true, nil
}

// Put stores a key-value pair.
func (b *BadgerDB) Put(key, value []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if err != nil {
		return fmt.Errorf("badger put: %w", err)
	}
	return nil
}

// Delete removes a key.
func (b *BadgerDB) Delete(key []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
	if err != nil {
		return fmt.Errorf("badger delete: %w", err)
	}
	return nil
}

// LastKey returns the greatest key currently stored.
func (b *BadgerDB) LastKey() ([]byte, bool, error) {
	var key []byte
	var found bool
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Rewind()
		if it.Valid() {
			key = it.Item().KeyCopy(nil)
			found = true
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("badger last key: %w", err)
	}
	return key, found, nil
}

// ApplyBatch applies the operations atomically inside a single Badger
// transaction. Range deletes are expanded through the transaction's own
// iterator, which merges pending writes, so submission order is
// preserved: a put staged after a range delete over the same key wins,
// and a range delete staged after a put removes it.
func (b *BadgerDB) ApplyBatch(ops []Op) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		for _, op := range ops {
			switch op.Kind {
			case OpPut:
				if err := txn.Set(op.Key, op.Value); err != nil {
					return err
				}
			case OpDelete:
				if err := txn.Delete(op.Key); err != nil {
					return err
				}
			case OpDeleteRange:
				if op.End == nil {
					continue
				}
				if err := deleteRange(txn, op.Key, op.End); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("badger apply batch: %w", err)
	}
	return nil
}

// deleteRange removes every key in [from, to) within txn.
func deleteRange(txn *badger.Txn, from, to []byte) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)

	// Collect first: deleting while iterating would mutate the pending
	// write set the iterator is merging.
	var keys [][]byte
	for it.Seek(from); it.Valid(); it.Next() {
		key := it.Item().KeyCopy(nil)
		if bytes.Compare(key, to) >= 0 {
			break
		}
		keys = append(keys, key)
	}
	it.Close()

	for _, key := range keys {
		if err := txn.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (b *BadgerDB) Close() error {
	return b.db.Close()
}
