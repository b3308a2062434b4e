package bigstore

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/Klingon-tech/bigstore/internal/cache"
	"github.com/Klingon-tech/bigstore/internal/storage"
)

// Batch stages the effects of one commit: engine writes in submission
// order plus the cache effects that keep the decode cache consistent
// with them: positive inserts for written values, negative tombstones
// for point-deleted keys, and prefix invalidations for range deletes.
type Batch struct {
	ops        []storage.Op
	inserts    []cacheEffect
	tombstones []cacheEffect
	prefixes   [][]byte
}

type cacheEffect struct {
	key   []byte
	entry cache.Entry
}

func newBatch() *Batch {
	return &Batch{}
}

// put stages a value at the element slot whose structural prefix is
// child, stored under a parent prefix of parentLen bytes. The value is
// serialized for the engine and the decoded form is staged as a
// positive cache entry.
func (b *Batch) put(child Prefix, parentLen int, value any) {
	encoded, err := msgpack.Marshal(value)
	if err != nil {
		panic(fmt.Errorf("bigstore: encode value at %x: %w", child, err))
	}
	dbKey := intoLeaf(child, parentLen)
	cacheKey := cacheKeyOf(dbKey, parentLen)
	b.ops = append(b.ops, storage.Op{Kind: storage.OpPut, Key: dbKey, Value: encoded})
	b.inserts = append(b.inserts, cacheEffect{
		key: cacheKey,
		entry: cache.Entry{
			Weight: entryWeight(len(cacheKey), len(encoded)),
			Value:  value,
		},
	})
}

// delete stages removal of the element slot at child: a point delete of
// its record plus a negative cache entry, and a range delete covering
// the element's own subtree so removed elements leave no orphaned
// children behind.
func (b *Batch) delete(child Prefix, parentLen int) {
	dbKey := intoLeaf(child, parentLen)
	cacheKey := cacheKeyOf(dbKey, parentLen)
	b.ops = append(b.ops, storage.Op{Kind: storage.OpDelete, Key: dbKey})
	b.tombstones = append(b.tombstones, cacheEffect{
		key:   cacheKey,
		entry: cache.Entry{Weight: uint32(len(dbKey))},
	})
	b.deletePrefix(child)
}

// deletePrefix stages a range delete of every engine key under prefix
// and the matching cache invalidation. The invalidation runs even when
// the engine range is empty: the cache may hold negative entries under
// the prefix.
func (b *Batch) deletePrefix(prefix Prefix) {
	from := make([]byte, len(prefix))
	copy(from, prefix)
	b.ops = append(b.ops, storage.Op{Kind: storage.OpDeleteRange, Key: from, End: prefix.next()})
	b.prefixes = append(b.prefixes, from)
}

// apply commits the batch: the engine write lands first (readers must
// never observe a cache entry that is not durable), then prefix
// invalidations, then negative tombstones, then positive inserts.
// Prefix invalidation precedes insertion so that a put staged after a
// range delete over the same subtree survives in the cache exactly as
// it does in the engine.
func (b *Batch) apply(engine storage.DB, c *cache.Cache) error {
	if err := engine.ApplyBatch(b.ops); err != nil {
		return fmt.Errorf("apply batch: %w", err)
	}
	if len(b.prefixes) > 0 {
		c.InvalidateIf(func(key []byte) bool {
			for _, p := range b.prefixes {
				if bytes.HasPrefix(key, p) {
					return true
				}
			}
			return false
		})
	}
	for _, t := range b.tombstones {
		c.Insert(t.key, t.entry)
	}
	for _, i := range b.inserts {
		c.Insert(i.key, i.entry)
	}
	return nil
}
