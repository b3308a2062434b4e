package bigstore

import (
	"bytes"
	"sort"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/Klingon-tech/bigstore/internal/keyenc"
)

// Map is a persistent associative container. Elements are addressed by
// the container's prefix plus an order-preserving encoding of the key,
// live in the engine as individual records, and are paged in on demand
// through the decode cache. Mutations stage in memory and flush to the
// commit batch when the enclosing write transaction finalizes.
//
// A Map is only usable as the root type of a store or as a field
// (possibly nested) of the root type, and only inside a transaction.
// Key types must have an ordered underlying kind: integers, floats,
// strings or bools.
//
// The zero value is an empty, unanchored map.
type Map[K comparable, V any] struct {
	prefix  Prefix
	changes map[K]*V // nil value = staged tombstone
}

// Get returns the value stored under key. The returned pointer is
// shared: callers inside a read transaction must not mutate it; use
// GetMut in a write transaction instead.
func (m *Map[K, V]) Get(key K) (*V, bool) {
	if staged, ok := m.changes[key]; ok {
		if staged == nil {
			return nil, false
		}
		return staged, true
	}
	if m.prefix == nil {
		return nil, false
	}
	return contextGet[V](m.prefix, key)
}

// GetMut returns a mutable borrow of the value under key, staging a
// private copy on first access so mutations never leak into the cache
// or into concurrent readers.
func (m *Map[K, V]) GetMut(key K) (*V, bool) {
	staged, ok := m.changes[key]
	if !ok {
		if m.prefix != nil {
			if current, found := contextGet[V](m.prefix, key); found {
				staged = cloneValue(current)
			}
		}
		if m.changes == nil {
			m.changes = make(map[K]*V)
		}
		m.changes[key] = staged
	}
	if staged == nil {
		return nil, false
	}
	return staged, true
}

// Insert stages key = value, overwriting any previous staging.
func (m *Map[K, V]) Insert(key K, value V) {
	if m.changes == nil {
		m.changes = make(map[K]*V)
	}
	m.changes[key] = &value
}

// Remove stages a tombstone for key.
func (m *Map[K, V]) Remove(key K) {
	if m.changes == nil {
		m.changes = make(map[K]*V)
	}
	m.changes[key] = nil
}

// Clear drops all pending changes and detaches the map from its
// prefix; the next finalize range-deletes the whole subtree before
// staging anything new.
func (m *Map[K, V]) Clear() {
	m.prefix = nil
	m.changes = nil
}

// initialize anchors the map at its storage prefix.
func (m *Map[K, V]) initialize(prefix func() Prefix) {
	m.prefix = prefix()
}

// finalize flushes staged changes into the batch. A map without a
// prefix (freshly constructed, deserialized, or cleared) takes its
// prefix from the supplier and first range-deletes the subtree, wiping
// whatever an earlier incarnation stored there.
func (m *Map[K, V]) finalize(prefix func() Prefix, b *Batch) {
	if m.prefix == nil {
		m.prefix = prefix()
		b.deletePrefix(m.prefix)
	}
	for _, staged := range sortedChanges(m.changes) {
		child := m.prefix.elementPrefix(staged.key)
		if staged.value != nil {
			finalizeValue(staged.value, func() Prefix { return child }, b)
			b.put(child, len(m.prefix), staged.value)
		} else {
			b.delete(child, len(m.prefix))
		}
	}
	m.changes = nil
}

// internalClone duplicates the anchor but never pending changes;
// cloning a dirty map is a programmer error.
func (m *Map[K, V]) internalClone() any {
	if len(m.changes) != 0 {
		panic("bigstore: internal clone of a map with staged changes")
	}
	clone := &Map[K, V]{}
	if m.prefix != nil {
		clone.prefix = make(Prefix, len(m.prefix))
		copy(clone.prefix, m.prefix)
	}
	return clone
}

type stagedChange[K comparable, V any] struct {
	key   K
	value *V
}

// sortedChanges orders staged changes by encoded key so batches are
// deterministic and land in user-key order.
func sortedChanges[K comparable, V any](changes map[K]*V) []stagedChange[K, V] {
	out := make([]stagedChange[K, V], 0, len(changes))
	encs := make(map[K][]byte, len(changes))
	for k, v := range changes {
		out = append(out, stagedChange[K, V]{key: k, value: v})
		encs[k] = keyenc.Append(nil, k)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(encs[out[i].key], encs[out[j].key]) < 0
	})
	return out
}

// EncodeMsgpack serializes the map as a unit: its identity is its
// prefix, not its bytes.
func (m *Map[K, V]) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.EncodeNil()
}

// DecodeMsgpack reconstructs an empty, unanchored map; initialize
// supplies the prefix afterwards.
func (m *Map[K, V]) DecodeMsgpack(dec *msgpack.Decoder) error {
	if err := dec.Skip(); err != nil {
		return err
	}
	m.prefix = nil
	m.changes = nil
	return nil
}

var (
	_ object                = (*Map[string, int])(nil)
	_ msgpack.CustomEncoder = (*Map[string, int])(nil)
	_ msgpack.CustomDecoder = (*Map[string, int])(nil)
)
