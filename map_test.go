package bigstore

import (
	"bytes"
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

func TestMapStagedOperations(t *testing.T) {
	// A fresh, unanchored map works entirely in memory: no context and
	// no engine are needed until finalize.
	var m Map[string, int]

	if _, ok := m.Get("a"); ok {
		t.Fatal("empty map should have no entries")
	}

	m.Insert("a", 1)
	if v, ok := m.Get("a"); !ok || *v != 1 {
		t.Fatalf("Get(a) = %v, %v; want 1, true", v, ok)
	}

	m.Remove("a")
	if _, ok := m.Get("a"); ok {
		t.Fatal("tombstone should hide the staged value")
	}

	m.Insert("a", 2)
	if v, _ := m.Get("a"); *v != 2 {
		t.Fatal("re-insert after remove should surface the new value")
	}
}

func TestMapGetMutBorrowsStagedSlot(t *testing.T) {
	var m Map[string, []int]
	m.Insert("k", []int{1})

	v, ok := m.GetMut("k")
	if !ok {
		t.Fatal("GetMut on a staged key should succeed")
	}
	*v = append(*v, 2)

	got, _ := m.Get("k")
	if len(*got) != 2 {
		t.Fatal("GetMut must return a borrow of the staged slot")
	}
}

func TestMapGetMutAbsent(t *testing.T) {
	var m Map[string, int]
	if _, ok := m.GetMut("missing"); ok {
		t.Fatal("GetMut on an absent key reports absence")
	}
	// The miss is recorded as a staged tombstone, matching Get.
	if _, ok := m.Get("missing"); ok {
		t.Fatal("the staged miss should read back as absent")
	}
}

func TestMapClearDetaches(t *testing.T) {
	m := &Map[string, int]{}
	initializeValue(m, func() Prefix { return Prefix{0x02} })
	if m.prefix == nil {
		t.Fatal("map should be anchored after initialize")
	}

	m.Insert("a", 1)
	m.Clear()
	if m.prefix != nil {
		t.Error("Clear must detach the map from its prefix")
	}
	if len(m.changes) != 0 {
		t.Error("Clear must drop staged changes")
	}
}

func TestMapUnitSerialization(t *testing.T) {
	m := &Map[string, int]{}
	initializeValue(m, func() Prefix { return Prefix{0x02} })
	m.Insert("a", 1)

	encoded, err := msgpack.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back Map[string, int]
	if err := msgpack.Unmarshal(encoded, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.prefix != nil || back.changes != nil {
		t.Error("a deserialized map must be empty and unanchored")
	}
}

func TestMapInsideStructSerialization(t *testing.T) {
	type record struct {
		Name string
		Refs Map[string, int]
	}
	r := record{Name: "n"}
	r.Refs.Insert("a", 1)

	encoded, err := msgpack.Marshal(&r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back record
	if err := msgpack.Unmarshal(encoded, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Name != "n" {
		t.Errorf("Name = %q, want n", back.Name)
	}
	if back.Refs.prefix != nil || back.Refs.changes != nil {
		t.Error("container state must not travel through serialization")
	}
}

func TestSortedChangesOrder(t *testing.T) {
	changes := map[string]*int{}
	for _, k := range []string{"b", "a", "c"} {
		v := 1
		changes[k] = &v
	}
	sorted := sortedChanges(changes)
	for i, want := range []string{"a", "b", "c"} {
		if sorted[i].key != want {
			t.Errorf("sorted[%d] = %q, want %q", i, sorted[i].key, want)
		}
	}
}

func TestMapCleanCloneCarriesPrefix(t *testing.T) {
	m := &Map[string, int]{}
	initializeValue(m, func() Prefix { return Prefix{0x03} })

	clone := m.internalClone().(*Map[string, int])
	if !bytes.Equal(clone.prefix, m.prefix) {
		t.Error("clone must carry the prefix")
	}
	// The clone's prefix must be its own storage.
	clone.prefix[0] = 0xAA
	if m.prefix[0] != 0x03 {
		t.Error("clone shares prefix storage with the original")
	}
}
