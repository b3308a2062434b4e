package bigstore

import (
	"fmt"
	"sync"

	"github.com/petermattis/goid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/Klingon-tech/bigstore/internal/cache"
	"github.com/Klingon-tech/bigstore/internal/storage"
)

// lockContext is the per-goroutine ambient installed for the lifetime
// of a transaction. Container operations are exposed as plain methods
// that cannot carry a database handle, so they reach the locked engine
// and cache through here. Go has no thread locals; the context is keyed
// by goroutine id, which also makes transactions goroutine-bound.
type lockContext struct {
	engine storage.DB
	cache  *cache.Cache
}

var contexts sync.Map // goroutine id -> *lockContext

// installContext binds ctx to the current goroutine. Nesting
// transactions on one goroutine is a programmer error and fails fast.
func installContext(ctx *lockContext) {
	gid := goid.Get()
	if _, loaded := contexts.LoadOrStore(gid, ctx); loaded {
		panic("bigstore: nested transaction on the same goroutine")
	}
}

// teardownContext unbinds the current goroutine's context.
func teardownContext() {
	gid := goid.Get()
	if _, loaded := contexts.LoadAndDelete(gid); !loaded {
		panic("bigstore: transaction context already torn down")
	}
}

// hasContext reports whether the current goroutine is inside a
// transaction.
func hasContext() bool {
	_, ok := contexts.Load(goid.Get())
	return ok
}

// currentContext resolves the ambient for the calling goroutine.
func currentContext() *lockContext {
	ctx, ok := contexts.Load(goid.Get())
	if !ok {
		panic("bigstore: container access outside a transaction")
	}
	return ctx.(*lockContext)
}

// contextGet loads the value of type V stored at the element slot
// parent·elementTag·enc(key), going through the decode cache. A cold
// miss reads the engine, deserializes, initializes the value with its
// reconstructed prefix and caches it; a miss against an absent key
// caches a negative entry so the engine is consulted at most once per
// entry lifetime.
func contextGet[V any](parent Prefix, key any) (*V, bool) {
	ctx := currentContext()
	child := parent.elementPrefix(key)
	dbKey := intoLeaf(child, len(parent))
	cacheKey := cacheKeyOf(dbKey, len(parent))

	entry := ctx.cache.GetOrLoad(cacheKey, func() cache.Entry {
		encoded, found, err := ctx.engine.Get(dbKey)
		if err != nil {
			panic(fmt.Errorf("bigstore: engine get: %w", err))
		}
		if !found {
			return cache.Entry{Weight: uint32(len(dbKey))}
		}
		value := new(V)
		if err := msgpack.Unmarshal(encoded, value); err != nil {
			panic(fmt.Errorf("bigstore: decode value at %x: %w", dbKey, err))
		}
		prefix := fromLeaf(dbKey, len(parent))
		initializeValue(value, func() Prefix { return prefix })
		return cache.Entry{
			Weight: entryWeight(len(cacheKey), len(encoded)),
			Value:  value,
		}
	})
	if entry.Negative() {
		return nil, false
	}
	value, ok := entry.Value.(*V)
	if !ok {
		panic(fmt.Sprintf("bigstore: cache entry at %x holds %T, want %T", cacheKey, entry.Value, value))
	}
	return value, true
}

// contextLastKey returns the greatest key currently in the engine.
func contextLastKey() ([]byte, bool) {
	ctx := currentContext()
	key, found, err := ctx.engine.LastKey()
	if err != nil {
		panic(fmt.Errorf("bigstore: engine last key: %w", err))
	}
	return key, found
}

// entryWeight approximates an entry's cache cost: key bytes plus
// serialized bytes plus fixed bookkeeping overhead.
func entryWeight(keyLen, encodedLen int) uint32 {
	return uint32(keyLen + encodedLen + cache.EntryOverhead)
}
