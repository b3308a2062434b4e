package bigstore

import (
	"iter"

	"github.com/vmihailenco/msgpack/v5"
)

// Seq is a persistent sequence: a length counter plus a Map keyed by
// index. Only the length is serialized; elements live under the map's
// prefix and page in on demand. The zero value is an empty sequence.
type Seq[T any] struct {
	length uint64
	items  Map[uint64, T]
}

// Tag of the items map beneath a sequence. The length is the field at
// ordinal zero and owns no subtree; the map is the field at ordinal
// one.
const seqItemsTag = firstFieldTag + 1

// Len returns the number of elements.
func (s *Seq[T]) Len() uint64 { return s.length }

// IsEmpty reports whether the sequence has no elements.
func (s *Seq[T]) IsEmpty() bool { return s.length == 0 }

// Push appends value at the end of the sequence.
func (s *Seq[T]) Push(value T) {
	s.items.Insert(s.length, value)
	s.length++
}

// Truncate drops every element at index newLen and beyond. Growing is
// not possible through Truncate; a newLen at or past the current length
// leaves the sequence unchanged.
func (s *Seq[T]) Truncate(newLen uint64) {
	if newLen >= s.length {
		return
	}
	for i := newLen; i < s.length; i++ {
		s.items.Remove(i)
	}
	s.length = newLen
}

// At returns the element at index i. The returned pointer is shared;
// use AtMut to mutate.
func (s *Seq[T]) At(i uint64) (*T, bool) {
	if i >= s.length {
		return nil, false
	}
	return s.items.Get(i)
}

// AtMut returns a mutable borrow of the element at index i.
func (s *Seq[T]) AtMut(i uint64) (*T, bool) {
	if i >= s.length {
		return nil, false
	}
	return s.items.GetMut(i)
}

// All iterates the sequence forward, yielding each index and a shared
// pointer to its element.
func (s *Seq[T]) All() iter.Seq2[uint64, *T] {
	return func(yield func(uint64, *T) bool) {
		for i := uint64(0); i < s.length; i++ {
			v, _ := s.items.Get(i)
			if !yield(i, v) {
				return
			}
		}
	}
}

// Backward iterates the sequence from the last element to the first.
func (s *Seq[T]) Backward() iter.Seq2[uint64, *T] {
	return func(yield func(uint64, *T) bool) {
		for i := s.length; i > 0; i-- {
			v, _ := s.items.Get(i - 1)
			if !yield(i-1, v) {
				return
			}
		}
	}
}

func (s *Seq[T]) initialize(prefix func() Prefix) {
	p := prefix()
	s.items.initialize(func() Prefix { return p.child(seqItemsTag) })
}

func (s *Seq[T]) finalize(prefix func() Prefix, b *Batch) {
	p := prefix()
	s.items.finalize(func() Prefix { return p.child(seqItemsTag) }, b)
}

func (s *Seq[T]) internalClone() any {
	items := s.items.internalClone().(*Map[uint64, T])
	return &Seq[T]{length: s.length, items: *items}
}

// EncodeMsgpack serializes the length only; elements are reached
// through the prefix tree, not the record bytes.
func (s *Seq[T]) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.EncodeUint64(s.length)
}

// DecodeMsgpack restores the length and an empty, unanchored items map.
func (s *Seq[T]) DecodeMsgpack(dec *msgpack.Decoder) error {
	length, err := dec.DecodeUint64()
	if err != nil {
		return err
	}
	s.length = length
	s.items = Map[uint64, T]{}
	return nil
}

var (
	_ object                = (*Seq[int])(nil)
	_ msgpack.CustomEncoder = (*Seq[int])(nil)
	_ msgpack.CustomDecoder = (*Seq[int])(nil)
)
