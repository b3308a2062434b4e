package bigstore

import (
	"bytes"
	"testing"

	"github.com/Klingon-tech/bigstore/internal/cache"
	"github.com/Klingon-tech/bigstore/internal/storage"
)

func TestSplitMarkerWidths(t *testing.T) {
	cases := []struct {
		prefixLen int
		width     int
	}{
		{0, 1},
		{1, 1},
		{0x7F, 1},
		{0x80, 2},
		{0x1234, 2},
		{0x3FFF, 2},
		{0x4000, 4},
		{0x123456, 4},
		{0x1FFFFFFF, 4},
	}
	for _, tc := range cases {
		marker := appendSplitMarker(nil, tc.prefixLen)
		if len(marker) != tc.width {
			t.Errorf("marker width for %#x = %d, want %d", tc.prefixLen, len(marker), tc.width)
		}
		if got := markerLen(tc.prefixLen); got != tc.width {
			t.Errorf("markerLen(%#x) = %d, want %d", tc.prefixLen, got, tc.width)
		}
		decoded, width := decodeSplitMarker(marker)
		if decoded != tc.prefixLen || width != tc.width {
			t.Errorf("decode(%x) = %#x/%d, want %#x/%d", marker, decoded, width, tc.prefixLen, tc.width)
		}
		// The reserved 111 top bits must never appear.
		if marker[len(marker)-1] >= 0xE0 {
			t.Errorf("marker for %#x ends in reserved byte %#x", tc.prefixLen, marker[len(marker)-1])
		}
	}
}

func TestRootDBKey(t *testing.T) {
	if !bytes.Equal(rootDBKey(), []byte{0x00}) {
		t.Fatalf("root key = %x, want 00", rootDBKey())
	}
	if got := ExtractPrefix(rootDBKey()); len(got) != 0 {
		t.Errorf("ExtractPrefix(root key) = %x, want empty", got)
	}
}

func TestExtractPrefix(t *testing.T) {
	// A key whose split marker covers all 3 prefix bytes, so the leaf
	// fragment is empty.
	p := Prefix{0x02, 0x01, 0x61}
	key := intoLeaf(p, 3)
	if got := ExtractPrefix(key); !bytes.Equal(got, p) {
		t.Errorf("ExtractPrefix = %x, want %x", got, p)
	}
	prefix, fragment := SplitKey(key)
	if !bytes.Equal(prefix, p) || len(fragment) != 0 {
		t.Errorf("SplitKey = %x/%x, want %x/empty", prefix, fragment, p)
	}

	// A long prefix crossing into the two-byte marker.
	long := make(Prefix, 0x200)
	for i := range long {
		long[i] = byte(i)
	}
	key = intoLeaf(long, len(long))
	if got := ExtractPrefix(key); !bytes.Equal(got, []byte(long)) {
		t.Error("ExtractPrefix failed on a two-byte-marker key")
	}
}

func TestIntoLeafCanonicalSeparator(t *testing.T) {
	parent := Prefix{0x02}
	child := parent.elementPrefix("ab")

	// The element discriminator sits right after the parent prefix.
	if child[len(parent)] != elementTag {
		t.Fatalf("element discriminator = %#x, want %#x", child[len(parent)], elementTag)
	}

	key := intoLeaf(child, len(parent))
	// intoLeaf forces it to the canonical zero separator...
	if key[len(parent)] != 0 {
		t.Errorf("canonical separator = %#x, want 0", key[len(parent)])
	}
	// ...without mutating the structural prefix itself.
	if child[len(parent)] != elementTag {
		t.Error("intoLeaf mutated its input prefix")
	}

	// fromLeaf restores the discriminator and strips the marker.
	back := fromLeaf(key, len(parent))
	if !bytes.Equal(back, child) {
		t.Errorf("fromLeaf = %x, want %x", back, child)
	}

	// The split marker records the parent length, and the fragment is
	// the separator plus the encoded key.
	prefix, fragment := SplitKey(key)
	if !bytes.Equal(prefix, parent) {
		t.Errorf("SplitKey prefix = %x, want %x", prefix, parent)
	}
	if len(fragment) != len(child)-len(parent) {
		t.Errorf("fragment length = %d, want %d", len(fragment), len(child)-len(parent))
	}
}

func TestChildTags(t *testing.T) {
	p := Prefix{}
	c := p.child(firstFieldTag)
	if !bytes.Equal(c, []byte{firstFieldTag}) {
		t.Errorf("child = %x, want %x", c, []byte{firstFieldTag})
	}
	// Children never alias their parent's backing array: deriving a
	// second sibling must not overwrite the first.
	c2 := c.child(firstFieldTag + 1)
	_ = c.child(firstFieldTag + 2)
	if c2[len(c2)-1] != firstFieldTag+1 {
		t.Error("sibling children share backing storage")
	}

	for _, tag := range []byte{reservedTag, maxFieldTag + 1} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("child(%#x) should panic", tag)
				}
			}()
			p.child(tag)
		}()
	}
}

func TestNextPrefix(t *testing.T) {
	cases := []struct {
		in   Prefix
		want []byte
	}{
		{Prefix{0x02}, []byte{0x03}},
		{Prefix{0x02, 0x05}, []byte{0x02, 0x06}},
		{Prefix{0x02, 0xFF}, []byte{0x03}},
		{Prefix{0x02, 0xFF, 0xFF}, []byte{0x03}},
	}
	for _, tc := range cases {
		got := tc.in.next()
		if !bytes.Equal(got, tc.want) {
			t.Errorf("next(%x) = %x, want %x", tc.in, got, tc.want)
		}
	}
}

func TestNextPrefixAllFF(t *testing.T) {
	engine := storage.NewMemory()
	defer engine.Close()
	installContext(&lockContext{engine: engine, cache: cache.New(0)})
	defer teardownContext()

	// Empty engine: the prefix covers nothing.
	if got := (Prefix{0xFF, 0xFF}).next(); got != nil {
		t.Errorf("next on empty engine = %x, want nil", got)
	}

	// Otherwise: the engine's greatest key plus a trailing zero.
	engine.Put([]byte{0x10}, []byte("a"))
	engine.Put([]byte{0x20, 0x30}, []byte("b"))
	want := []byte{0x20, 0x30, 0x00}
	if got := (Prefix{0xFF, 0xFF}).next(); !bytes.Equal(got, want) {
		t.Errorf("next = %x, want %x", got, want)
	}

	// The empty prefix takes the same fallback.
	if got := (Prefix{}).next(); !bytes.Equal(got, want) {
		t.Errorf("next(empty) = %x, want %x", got, want)
	}
}
