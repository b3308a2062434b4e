package bigstore

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/Klingon-tech/bigstore/internal/log"
	"github.com/Klingon-tech/bigstore/internal/storage"
)

// ReadTxn is a read transaction: a shared borrow of the committed root.
// It is bound to the goroutine that opened it and must be closed on
// every path.
type ReadTxn[T any] struct {
	db   *DB[T]
	done bool
}

// Read opens a read transaction. Any number may be open concurrently;
// each observes the most recently committed state.
func (db *DB[T]) Read() *ReadTxn[T] {
	if hasContext() {
		panic("bigstore: nested transaction on the same goroutine")
	}
	db.mu.RLock()
	installContext(&lockContext{engine: db.engine, cache: db.cache})
	return &ReadTxn[T]{db: db}
}

// Root returns the committed root. The borrow is valid until Close;
// mutating it is a contract violation.
func (t *ReadTxn[T]) Root() *T {
	if t.done {
		panic("bigstore: use of a finished read transaction")
	}
	return t.db.root
}

// Close ends the transaction. Closing twice is a no-op.
func (t *ReadTxn[T]) Close() {
	if t.done {
		return
	}
	t.done = true
	teardownContext()
	t.db.mu.RUnlock()
}

// View runs fn inside a read transaction.
func (db *DB[T]) View(fn func(root *T)) {
	txn := db.Read()
	defer txn.Close()
	fn(txn.Root())
}

// WriteTxn is a write transaction. It owns a private clone of the root;
// mutations stay invisible to readers until Commit publishes them
// atomically. A Close without a prior Commit discards every staged
// mutation; combined with Update this yields abort-on-panic semantics.
type WriteTxn[T any] struct {
	db   *DB[T]
	root *T
	done bool
}

// Write opens the write transaction. At most one is open at a time;
// concurrent readers proceed against the committed state until Commit
// takes the exclusive lock for the apply step.
func (db *DB[T]) Write() *WriteTxn[T] {
	if hasContext() {
		panic("bigstore: nested transaction on the same goroutine")
	}
	db.writerMu.Lock()
	db.mu.RLock()
	installContext(&lockContext{engine: db.engine, cache: db.cache})
	return &WriteTxn[T]{db: db, root: cloneValue(db.root)}
}

// Root returns the transaction's mutable root.
func (t *WriteTxn[T]) Root() *T {
	if t.done {
		panic("bigstore: use of a finished write transaction")
	}
	return t.root
}

// Commit finalizes the root into a batch and applies it: engine write
// first, then cache invalidations and inserts, then the in-memory root
// swap. The error is the caller's to handle; a failed commit leaves the
// committed state untouched.
func (t *WriteTxn[T]) Commit() error {
	if t.done {
		panic("bigstore: commit on a finished write transaction")
	}

	batch := newBatch()
	finalizeValue(t.root, func() Prefix { return Prefix{} }, batch)
	encoded, err := msgpack.Marshal(t.root)
	if err != nil {
		t.Close()
		return fmt.Errorf("bigstore: encode root: %w", err)
	}
	// The root record goes straight to the engine; the root itself
	// lives on the handle, never in the decode cache.
	batch.ops = append(batch.ops, storage.Op{Kind: storage.OpPut, Key: rootDBKey(), Value: encoded})

	t.done = true
	teardownContext()
	t.db.mu.RUnlock()

	t.db.mu.Lock()
	applyErr := batch.apply(t.db.engine, t.db.cache)
	if applyErr == nil {
		t.db.root = t.root
	}
	t.db.mu.Unlock()
	t.db.writerMu.Unlock()

	if applyErr != nil {
		return fmt.Errorf("bigstore: commit: %w", applyErr)
	}
	log.Store.Debug().
		Int("engine_ops", len(batch.ops)).
		Int("cache_inserts", len(batch.inserts)).
		Int("cache_tombstones", len(batch.tombstones)).
		Int("prefix_invalidations", len(batch.prefixes)).
		Msg("transaction committed")
	return nil
}

// Close aborts the transaction unless Commit already ran: the clone and
// its staged mutations are discarded and no engine write happens.
func (t *WriteTxn[T]) Close() {
	if t.done {
		return
	}
	t.done = true
	teardownContext()
	t.db.mu.RUnlock()
	t.db.writerMu.Unlock()
	log.Store.Debug().Msg("write transaction aborted")
}

// Update runs fn inside a write transaction and commits on success. An
// error from fn aborts without touching the engine, and a panic inside
// fn unwinds through the deferred Close, which likewise discards the
// transaction, so reopening the store afterwards shows the pre-update
// state.
func (db *DB[T]) Update(fn func(root *T) error) error {
	txn := db.Write()
	defer txn.Close()
	if err := fn(txn.Root()); err != nil {
		return err
	}
	return txn.Commit()
}
