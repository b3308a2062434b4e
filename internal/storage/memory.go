package storage

import (
	"bytes"
	"sort"
	"sync"
)

// MemoryDB implements DB using an in-memory map. It is safe for
// concurrent use and exists for tests and the in-memory store option.
type MemoryDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates a new in-memory database.
func NewMemory() *MemoryDB {
	return &MemoryDB{
		data: make(map[string][]byte),
	}
}

// Get retrieves a value by key.
func (m *MemoryDB) Get(key []byte) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

// Put stores a key-value pair.
func (m *MemoryDB) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(key, value)
	return nil
}

func (m *MemoryDB) put(key, value []byte) {
	v := make([]byte, len(value))
	copy(v, value)
	m.data[string(key)] = v
}

// Delete removes a key.
func (m *MemoryDB) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

// LastKey returns the greatest key currently stored.
func (m *MemoryDB) LastKey() ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var last string
	var found bool
	for k := range m.data {
		if !found || k > last {
			last = k
			found = true
		}
	}
	if !found {
		return nil, false, nil
	}
	return []byte(last), true, nil
}

// ApplyBatch applies the operations atomically in submission order.
func (m *MemoryDB) ApplyBatch(ops []Op) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range ops {
		switch op.Kind {
		case OpPut:
			m.put(op.Key, op.Value)
		case OpDelete:
			delete(m.data, string(op.Key))
		case OpDeleteRange:
			if op.End == nil {
				continue
			}
			var doomed []string
			for k := range m.data {
				kb := []byte(k)
				if bytes.Compare(kb, op.Key) >= 0 && bytes.Compare(kb, op.End) < 0 {
					doomed = append(doomed, k)
				}
			}
			sort.Strings(doomed)
			for _, k := range doomed {
				delete(m.data, k)
			}
		}
	}
	return nil
}

// Len reports the number of stored keys.
func (m *MemoryDB) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Keys returns all stored keys in ascending order.
func (m *MemoryDB) Keys() [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([][]byte, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, []byte(k))
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i], keys[j]) < 0 })
	return keys
}

// Close closes the database.
func (m *MemoryDB) Close() error {
	return nil
}
