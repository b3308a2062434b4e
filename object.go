// Package bigstore is a persistent, transactional object store. A
// single application-defined root value, made of ordinary serializable
// fields plus Map and Seq container fields, is transparently backed by an
// ordered key-value engine. Mutations happen on an in-memory handle
// inside a write transaction; on commit the diff is materialized into
// one atomic engine batch. Large containers are never loaded whole:
// their elements live under disjoint key prefixes and are paged in on
// demand through a size-bounded decode cache.
package bigstore

import (
	"fmt"
	"reflect"
	"sync"
)

// object is the protocol every container obeys: initialize threads the
// storage prefix through a freshly materialized value, finalize flushes
// pending changes into a batch before commit, and internalClone
// duplicates engine-tracking state without duplicating staged
// mutations. Plain values ("leaves") need none of this, since their
// state is fully captured by their serialized bytes; the reflection walker
// below supplies the field-wise recursion for user aggregates and skips
// everything else.
//
// Prefix suppliers are deferred: most fields are leaves that never need
// their prefix computed, and building it eagerly would cost O(depth)
// per field per traversal.
type object interface {
	initialize(prefix func() Prefix)
	finalize(prefix func() Prefix, b *Batch)
	internalClone() any
}

var objectType = reflect.TypeOf((*object)(nil)).Elem()

// initializeValue runs the object protocol's initialize over the value
// behind ptr, which must be a non-nil pointer.
func initializeValue(ptr any, prefix func() Prefix) {
	initValue(reflect.ValueOf(ptr).Elem(), prefix)
}

// finalizeValue runs the object protocol's finalize over the value
// behind ptr, staging its pending changes into b.
func finalizeValue(ptr any, prefix func() Prefix, b *Batch) {
	finValue(reflect.ValueOf(ptr).Elem(), prefix, b)
}

func initValue(rv reflect.Value, prefix func() Prefix) {
	if o, ok := asObject(rv); ok {
		o.initialize(prefix)
		return
	}
	switch rv.Kind() {
	case reflect.Struct:
		if !containsObject(rv.Type()) {
			return
		}
		p := prefix()
		for _, f := range objectFields(rv.Type()) {
			tag := f.tag
			initValue(rv.Field(f.index), func() Prefix { return p.child(tag) })
		}
	case reflect.Pointer:
		if !rv.IsNil() && containsObject(rv.Type().Elem()) {
			initValue(rv.Elem(), prefix)
		}
	}
}

func finValue(rv reflect.Value, prefix func() Prefix, b *Batch) {
	if o, ok := asObject(rv); ok {
		o.finalize(prefix, b)
		return
	}
	switch rv.Kind() {
	case reflect.Struct:
		if !containsObject(rv.Type()) {
			return
		}
		p := prefix()
		for _, f := range objectFields(rv.Type()) {
			tag := f.tag
			finValue(rv.Field(f.index), func() Prefix { return p.child(tag) }, b)
		}
	case reflect.Pointer:
		if !rv.IsNil() && containsObject(rv.Type().Elem()) {
			finValue(rv.Elem(), prefix, b)
		}
	}
}

func asObject(rv reflect.Value) (object, bool) {
	if !rv.CanAddr() || !reflect.PointerTo(rv.Type()).Implements(objectType) {
		return nil, false
	}
	return rv.Addr().Interface().(object), true
}

// objectField locates a container-bearing struct field and carries its
// structural tag, derived from the field's declaration ordinal. Leaf
// fields consume ordinals too but never materialize a tag.
type objectField struct {
	index int
	tag   byte
}

var fieldPlans sync.Map // reflect.Type -> []objectField

// objectFields returns the container-bearing fields of a struct type,
// with tags assigned by declaration order past the two reserved values.
func objectFields(t reflect.Type) []objectField {
	if cached, ok := fieldPlans.Load(t); ok {
		return cached.([]objectField)
	}
	var fields []objectField
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !containsObject(f.Type) {
			continue
		}
		if f.PkgPath != "" {
			panic(fmt.Sprintf("bigstore: unexported field %s.%s cannot hold a container", t, f.Name))
		}
		tag := firstFieldTag + i
		if tag > maxFieldTag {
			panic(fmt.Sprintf("bigstore: container field %s.%s at ordinal %d exceeds the structural tag budget", t, f.Name, i))
		}
		fields = append(fields, objectField{index: i, tag: byte(tag)})
	}
	fieldPlans.Store(t, fields)
	return fields
}

var objectMemo sync.Map // reflect.Type -> bool

// containsObject reports whether values of t transitively hold a
// container. Containers inside slices, arrays or maps have no stable
// structural tag path and are rejected outright.
func containsObject(t reflect.Type) bool {
	if cached, ok := objectMemo.Load(t); ok {
		return cached.(bool)
	}
	result := scanForObject(t, map[reflect.Type]bool{})
	objectMemo.Store(t, result)
	return result
}

func scanForObject(t reflect.Type, seen map[reflect.Type]bool) bool {
	if seen[t] {
		return false
	}
	seen[t] = true
	if reflect.PointerTo(t).Implements(objectType) || t.Implements(objectType) {
		return true
	}
	switch t.Kind() {
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if scanForObject(t.Field(i).Type, seen) {
				return true
			}
		}
	case reflect.Pointer:
		return scanForObject(t.Elem(), seen)
	case reflect.Slice, reflect.Array:
		if scanForObject(t.Elem(), seen) {
			panic(fmt.Sprintf("bigstore: container inside %s is not supported", t.Kind()))
		}
	case reflect.Map:
		if scanForObject(t.Key(), seen) || scanForObject(t.Elem(), seen) {
			panic("bigstore: container inside a plain map is not supported; use bigstore.Map")
		}
	}
	return false
}

// cloneValue is the protocol's internal clone for an arbitrary value:
// engine-tracking state (prefixes) is duplicated, staged container
// mutations must not exist (containers assert cleanliness), and plain
// data in exported fields is copied deeply enough that mutating it
// through the clone can never be observed through the original.
// Unexported struct fields are copied shallowly, so slices, maps and
// pointers held in them stay shared with the original.
func cloneValue[T any](src *T) *T {
	dst := new(T)
	cloneInto(reflect.ValueOf(dst).Elem(), reflect.ValueOf(src).Elem())
	return dst
}

func cloneInto(dst, src reflect.Value) {
	if o, ok := asObject(src); ok {
		dst.Set(reflect.ValueOf(o.internalClone()).Elem())
		return
	}
	switch src.Kind() {
	case reflect.Struct:
		dst.Set(src)
		t := src.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.PkgPath != "" || !needsDeepClone(f.Type) {
				continue
			}
			cloneInto(dst.Field(i), src.Field(i))
		}
	case reflect.Slice:
		if src.IsNil() {
			dst.Set(src)
			return
		}
		out := reflect.MakeSlice(src.Type(), src.Len(), src.Len())
		for i := 0; i < src.Len(); i++ {
			cloneInto(out.Index(i), src.Index(i))
		}
		dst.Set(out)
	case reflect.Map:
		if src.IsNil() {
			dst.Set(src)
			return
		}
		out := reflect.MakeMapWithSize(src.Type(), src.Len())
		it := src.MapRange()
		for it.Next() {
			v := reflect.New(src.Type().Elem()).Elem()
			cloneInto(v, it.Value())
			out.SetMapIndex(it.Key(), v)
		}
		dst.Set(out)
	case reflect.Pointer:
		if src.IsNil() {
			dst.Set(src)
			return
		}
		out := reflect.New(src.Type().Elem())
		cloneInto(out.Elem(), src.Elem())
		dst.Set(out)
	case reflect.Array:
		dst.Set(src)
		if needsDeepClone(src.Type().Elem()) {
			for i := 0; i < src.Len(); i++ {
				cloneInto(dst.Index(i), src.Index(i))
			}
		}
	default:
		dst.Set(src)
	}
}

var deepMemo sync.Map // reflect.Type -> bool

// needsDeepClone reports whether a shallow copy of t could share
// mutable state with the original. Slices, maps and pointers always do;
// structs and arrays inherit from their fields and elements.
func needsDeepClone(t reflect.Type) bool {
	if cached, ok := deepMemo.Load(t); ok {
		return cached.(bool)
	}
	result := scanForDeep(t, map[reflect.Type]bool{})
	deepMemo.Store(t, result)
	return result
}

func scanForDeep(t reflect.Type, seen map[reflect.Type]bool) bool {
	if seen[t] {
		return false
	}
	seen[t] = true
	if reflect.PointerTo(t).Implements(objectType) || t.Implements(objectType) {
		return true
	}
	switch t.Kind() {
	case reflect.Slice, reflect.Map, reflect.Pointer:
		return true
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.PkgPath == "" && scanForDeep(f.Type, seen) {
				return true
			}
		}
	case reflect.Array:
		return scanForDeep(t.Elem(), seen)
	}
	return false
}
