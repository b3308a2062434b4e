// Package keyenc implements an order-preserving binary encoding for
// container keys: for any two keys a and b of the same type,
// bytes.Compare(Append(nil, a), Append(nil, b)) matches the natural
// ordering of a and b. Encodings are also prefix-free, so concatenated
// key fragments never collide.
//
// Integers are written big-endian (signed values with the sign bit
// flipped), floats use the usual IEEE-754 order transform, and strings
// are escaped and terminated so that embedded zero bytes keep their
// ordering.
package keyenc

import (
	"fmt"
	"math"
	"reflect"
)

// String escape scheme: each 0x00 byte becomes 0x00 0xFF, and the
// encoding ends with 0x00 0x00. The escaped byte sorts above the
// terminator and below every unescaped byte, which keeps the encoding
// both order-preserving and prefix-free.
const (
	escByte  = 0x00
	escMark  = 0xFF
	termByte = 0x00
)

// Append appends the order-preserving encoding of key to dst and
// returns the extended slice. It panics if the key's kind is not
// supported; key types are fixed at container instantiation, so an
// unsupported kind is a programmer error, not input-dependent.
func Append(dst []byte, key any) []byte {
	switch k := key.(type) {
	case string:
		return appendString(dst, k)
	case uint64:
		return appendUint64(dst, k)
	case int:
		return appendInt64(dst, int64(k))
	case int64:
		return appendInt64(dst, k)
	case uint32:
		return appendUint64(dst, uint64(k))
	case int32:
		return appendInt64(dst, int64(k))
	case bool:
		return appendBool(dst, k)
	}
	return appendReflect(dst, reflect.ValueOf(key))
}

// appendReflect handles named types by their underlying kind.
func appendReflect(dst []byte, v reflect.Value) []byte {
	switch v.Kind() {
	case reflect.String:
		return appendString(dst, v.String())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return appendUint64(dst, v.Uint())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return appendInt64(dst, v.Int())
	case reflect.Bool:
		return appendBool(dst, v.Bool())
	case reflect.Float32, reflect.Float64:
		return appendFloat64(dst, v.Float())
	}
	panic(fmt.Sprintf("keyenc: unsupported key kind %s", v.Kind()))
}

func appendUint64(dst []byte, u uint64) []byte {
	return append(dst,
		byte(u>>56), byte(u>>48), byte(u>>40), byte(u>>32),
		byte(u>>24), byte(u>>16), byte(u>>8), byte(u))
}

func appendInt64(dst []byte, i int64) []byte {
	// Flipping the sign bit maps the signed range onto the unsigned
	// range monotonically.
	return appendUint64(dst, uint64(i)^(1<<63))
}

func appendBool(dst []byte, b bool) []byte {
	if b {
		return append(dst, 1)
	}
	return append(dst, 0)
}

func appendFloat64(dst []byte, f float64) []byte {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	return appendUint64(dst, bits)
}

func appendString(dst []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == escByte {
			dst = append(dst, escByte, escMark)
		} else {
			dst = append(dst, c)
		}
	}
	return append(dst, escByte, termByte)
}

// Supported reports whether keys of type t can be encoded.
func Supported(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.String, reflect.Bool,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
