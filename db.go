package bigstore

import (
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/Klingon-tech/bigstore/internal/cache"
	"github.com/Klingon-tech/bigstore/internal/log"
	"github.com/Klingon-tech/bigstore/internal/storage"
)

// Options configures a store.
type Options struct {
	// Dir is the directory of the on-disk engine. Ignored when
	// InMemory is set.
	Dir string

	// InMemory selects a non-persistent engine, useful for tests.
	InMemory bool

	// CacheCapacity bounds the decode cache by summed entry weight.
	// Zero selects the 128 MiB default.
	CacheCapacity uint64

	// LogLevel enables the library's structured logging ("debug",
	// "info", "warn", "error"). Empty keeps it silent.
	LogLevel string
}

// DefaultOptions returns sensible options for a store at dir.
func DefaultOptions(dir string) Options {
	return Options{
		Dir:           dir,
		CacheCapacity: cache.DefaultCapacity,
	}
}

// DB is a handle to a store whose root value has type T. A DB is safe
// for concurrent use: any number of goroutines may hold read
// transactions while at most one holds a write transaction.
type DB[T any] struct {
	// writerMu serializes writers; mu guards the committed state
	// (engine, cache, root). A writer mutates a private clone under the
	// read side of mu and trades up to the write side only to apply its
	// batch, so readers are blocked only for the durable commit itself.
	writerMu sync.Mutex
	mu       sync.RWMutex

	engine storage.DB
	cache  *cache.Cache
	root   *T
	closed bool
}

// Open opens or creates a store. On first open the root record is
// seeded from T's zero value; on later opens it is deserialized and
// re-initialized so every container inside it knows its prefix.
func Open[T any](opts Options) (*DB[T], error) {
	if opts.LogLevel != "" {
		log.Init(opts.LogLevel)
	}
	var engine storage.DB
	if opts.InMemory {
		engine = storage.NewMemory()
	} else {
		var err error
		engine, err = storage.NewBadger(opts.Dir)
		if err != nil {
			return nil, fmt.Errorf("bigstore: %w", err)
		}
	}
	return openEngine[T](engine, opts)
}

// openEngine finishes opening on an already-constructed engine.
func openEngine[T any](engine storage.DB, opts Options) (*DB[T], error) {
	rootKey := rootDBKey()
	encoded, found, err := engine.Get(rootKey)
	if err != nil {
		engine.Close()
		return nil, fmt.Errorf("bigstore: read root: %w", err)
	}

	root := new(T)
	if found {
		if err := msgpack.Unmarshal(encoded, root); err != nil {
			engine.Close()
			return nil, fmt.Errorf("bigstore: decode root: %w", err)
		}
	} else {
		seed, err := msgpack.Marshal(root)
		if err != nil {
			engine.Close()
			return nil, fmt.Errorf("bigstore: encode default root: %w", err)
		}
		if err := engine.Put(rootKey, seed); err != nil {
			engine.Close()
			return nil, fmt.Errorf("bigstore: seed root: %w", err)
		}
	}
	initializeValue(root, func() Prefix { return Prefix{} })

	capacity := opts.CacheCapacity
	if capacity == 0 {
		capacity = cache.DefaultCapacity
	}
	log.Store.Debug().
		Str("dir", opts.Dir).
		Bool("in_memory", opts.InMemory).
		Bool("seeded", !found).
		Str("cache_capacity", humanize.IBytes(capacity)).
		Msg("store opened")

	return &DB[T]{
		engine: engine,
		cache:  cache.New(capacity),
		root:   root,
	}, nil
}

// Close releases the store. Outstanding transactions must be finished
// first.
func (db *DB[T]) Close() error {
	db.writerMu.Lock()
	defer db.writerMu.Unlock()
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true
	if err := db.engine.Close(); err != nil {
		return fmt.Errorf("bigstore: close: %w", err)
	}
	return nil
}
