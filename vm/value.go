package vm

import (
	"fmt"
	"math"
)

// Kind identifies the type of a slot: a reference or one of the
// primitive kinds. Every array has exactly one element kind and every
// declared field has one kind.
type Kind uint8

const (
	KindVoid Kind = iota // only valid as a method return kind
	KindRef
	KindInt
	KindLong
	KindFloat
	KindDouble
	KindBoolean
	KindByte
	KindChar
	KindShort
)

var kindNames = [...]string{
	KindVoid:    "void",
	KindRef:     "reference",
	KindInt:     "int",
	KindLong:    "long",
	KindFloat:   "float",
	KindDouble:  "double",
	KindBoolean: "boolean",
	KindByte:    "byte",
	KindChar:    "char",
	KindShort:   "short",
}

// String returns the source-level name of the kind.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// IsPrimitive reports whether k is a numeric or boolean kind.
func (k Kind) IsPrimitive() bool {
	return k > KindRef
}

// IsIntLike reports whether values of k are carried as 32-bit integers
// on the operand stack.
func (k Kind) IsIntLike() bool {
	switch k {
	case KindInt, KindBoolean, KindByte, KindChar, KindShort:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// References
// ---------------------------------------------------------------------------

// Ref is an opaque handle into a Store. Copying a Ref aliases the
// instance it names; the zero Ref is null.
type Ref uint32

// NullRef is the distinguished "no object" reference.
const NullRef Ref = 0

// IsNull reports whether r is the null reference.
func (r Ref) IsNull() bool {
	return r == NullRef
}

// String formats r for traces and debugging.
func (r Ref) String() string {
	if r == NullRef {
		return "null"
	}
	return fmt.Sprintf("@%d", uint32(r))
}

// ---------------------------------------------------------------------------
// Value: tagged slot contents
// ---------------------------------------------------------------------------

// Value is the contents of a local, operand stack entry, array element or
// object field. Integers of every width are stored sign-extended in bits;
// floating point values are stored as their IEEE 754 bit pattern.
type Value struct {
	kind Kind
	bits uint64
}

// Null is the null reference value.
var Null = Value{kind: KindRef}

// FromRef wraps a reference.
func FromRef(r Ref) Value {
	return Value{kind: KindRef, bits: uint64(r)}
}

// FromInt wraps a 32-bit integer.
func FromInt(i int32) Value {
	return Value{kind: KindInt, bits: uint64(int64(i))}
}

// FromLong wraps a 64-bit integer.
func FromLong(i int64) Value {
	return Value{kind: KindLong, bits: uint64(i)}
}

// FromFloat wraps a 32-bit float.
func FromFloat(f float32) Value {
	return Value{kind: KindFloat, bits: uint64(math.Float32bits(f))}
}

// FromDouble wraps a 64-bit float.
func FromDouble(f float64) Value {
	return Value{kind: KindDouble, bits: math.Float64bits(f)}
}

// FromBool wraps a boolean.
func FromBool(b bool) Value {
	if b {
		return Value{kind: KindBoolean, bits: 1}
	}
	return Value{kind: KindBoolean}
}

// FromKindInt wraps an integer as the given int-like kind, truncating it
// to the width of that kind.
func FromKindInt(k Kind, i int64) Value {
	switch k {
	case KindByte:
		i = int64(int8(i))
	case KindChar:
		i = int64(uint16(i))
	case KindShort:
		i = int64(int16(i))
	case KindBoolean:
		if i != 0 {
			i = 1
		}
	case KindInt:
		i = int64(int32(i))
	case KindLong:
	default:
		panic(fmt.Sprintf("vm: FromKindInt: %s is not an integer kind", k))
	}
	return Value{kind: k, bits: uint64(i)}
}

// DefaultValue returns the value a fresh slot of kind k holds: null for
// references, zero for every primitive kind.
func DefaultValue(k Kind) Value {
	if k == KindVoid {
		return Value{}
	}
	return Value{kind: k}
}

// Kind returns the value's kind.
func (v Value) Kind() Kind {
	return v.kind
}

// IsRef reports whether v holds a reference (possibly null).
func (v Value) IsRef() bool {
	return v.kind == KindRef
}

// IsNull reports whether v is the null reference.
func (v Value) IsNull() bool {
	return v.kind == KindRef && v.bits == 0
}

// Ref returns the reference held by v, or NullRef if v is not a reference.
func (v Value) Ref() Ref {
	if v.kind != KindRef {
		return NullRef
	}
	return Ref(v.bits)
}

// Int returns v as a 32-bit integer. Int-like kinds convert losslessly;
// longs are truncated.
func (v Value) Int() int32 {
	return int32(int64(v.bits))
}

// Long returns v as a 64-bit integer.
func (v Value) Long() int64 {
	return int64(v.bits)
}

// Float returns v as a 32-bit float.
func (v Value) Float() float32 {
	return math.Float32frombits(uint32(v.bits))
}

// Double returns v as a 64-bit float.
func (v Value) Double() float64 {
	return math.Float64frombits(v.bits)
}

// Bool returns v as a boolean.
func (v Value) Bool() bool {
	return v.bits != 0
}

// Equal reports whether a and b have the same kind and payload. For
// references this is identity.
func (v Value) Equal(o Value) bool {
	return v.kind == o.kind && v.bits == o.bits
}

// String formats v for diagnostics.
func (v Value) String() string {
	switch v.kind {
	case KindVoid:
		return "void"
	case KindRef:
		return Ref(v.bits).String()
	case KindInt, KindByte, KindShort:
		return fmt.Sprintf("%d", v.Int())
	case KindChar:
		return fmt.Sprintf("%q", rune(v.bits))
	case KindLong:
		return fmt.Sprintf("%dL", v.Long())
	case KindFloat:
		return fmt.Sprintf("%gf", v.Float())
	case KindDouble:
		return fmt.Sprintf("%g", v.Double())
	case KindBoolean:
		return fmt.Sprintf("%t", v.Bool())
	}
	return fmt.Sprintf("Value(%d,%#x)", v.kind, v.bits)
}

// assignable reports whether a value of kind from may be stored into a
// slot of kind to. Int-like values share the 32-bit operand stack
// representation and are narrowed on store.
func assignable(to, from Kind) bool {
	if to == from {
		return true
	}
	return to.IsIntLike() && from.IsIntLike()
}

// coerce narrows v to the slot kind k. Callers must check assignable first.
func coerce(k Kind, v Value) Value {
	if k == v.kind || !k.IsIntLike() {
		return v
	}
	return FromKindInt(k, v.Long())
}
