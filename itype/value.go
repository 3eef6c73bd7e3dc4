package itype

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Value is a rich value crossing the adapter boundary. The zero Value is an
// i32 zero. Values are call-by-value: lists and records own their contents.
type Value struct {
	s      string
	list   []Value
	fields []Value
	rec    *Type // record shape, set for record values
	num    uint64
	kind   Kind
}

func Int32(v int32) Value { return Value{kind: KindI32, num: uint64(uint32(v))} }
func Int64(v int64) Value { return Value{kind: KindI64, num: uint64(v)} }
func Float32(v float32) Value {
	return Value{kind: KindF32, num: uint64(math.Float32bits(v))}
}
func Float64(v float64) Value {
	return Value{kind: KindF64, num: math.Float64bits(v)}
}
func Str(v string) Value { return Value{kind: KindString, s: v} }

// ListOf builds a list value. The element shape is carried by the declared
// signature, not the value, so empty lists are representable.
func ListOf(elems ...Value) Value {
	return Value{kind: KindList, list: elems}
}

// RecordOf builds a record value with fields in the shape's declared order.
func RecordOf(shape Type, fields ...Value) Value {
	sh := shape
	return Value{kind: KindRecord, rec: &sh, fields: fields}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) I32() int32      { return int32(uint32(v.num)) }
func (v Value) I64() int64      { return int64(v.num) }
func (v Value) F32() float32    { return math.Float32frombits(uint32(v.num)) }
func (v Value) F64() float64    { return math.Float64frombits(v.num) }
func (v Value) Str() string     { return v.s }
func (v Value) List() []Value   { return v.list }
func (v Value) Fields() []Value { return v.fields }

// RecordShape returns the shape attached to a record value, or nil.
func (v Value) RecordShape() *Type { return v.rec }

// Raw returns the numeric payload as an ABI slot. Only meaningful for
// numeric kinds.
func (v Value) Raw() uint64 { return v.num }

// FromRaw builds a numeric value from an ABI slot.
func FromRaw(kind Kind, raw uint64) Value {
	switch kind {
	case KindI32:
		// keep the upper half clean so Raw round-trips
		return Value{kind: kind, num: uint64(uint32(raw))}
	case KindF32:
		return Value{kind: kind, num: uint64(uint32(raw))}
	default:
		return Value{kind: kind, num: raw}
	}
}

// Equal reports structural equality of two values.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.s == o.s
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindRecord:
		if len(v.fields) != len(o.fields) {
			return false
		}
		for i := range v.fields {
			if !v.fields[i].Equal(o.fields[i]) {
				return false
			}
		}
		return true
	default:
		return v.num == o.num
	}
}

// HasType reports whether v conforms to the (resolved) shape t.
func (v Value) HasType(t Type) bool {
	if v.kind != t.Kind {
		return false
	}
	switch t.Kind {
	case KindList:
		for _, e := range v.list {
			if !e.HasType(*t.Elem) {
				return false
			}
		}
		return true
	case KindRecord:
		if len(v.fields) != len(t.Fields) {
			return false
		}
		for i := range v.fields {
			if !v.fields[i].HasType(t.Fields[i].Type) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindI32:
		return strconv.FormatInt(int64(v.I32()), 10)
	case KindI64:
		return strconv.FormatInt(v.I64(), 10)
	case KindF32:
		return strconv.FormatFloat(float64(v.F32()), 'g', -1, 32)
	case KindF64:
		return strconv.FormatFloat(v.F64(), 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.s)
	case KindList:
		var b strings.Builder
		b.WriteByte('[')
		for i, e := range v.list {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(e.String())
		}
		b.WriteByte(']')
		return b.String()
	case KindRecord:
		var b strings.Builder
		b.WriteByte('{')
		for i, f := range v.fields {
			if i > 0 {
				b.WriteString(", ")
			}
			if v.rec != nil && i < len(v.rec.Fields) {
				b.WriteString(v.rec.Fields[i].Name)
				b.WriteString(": ")
			}
			b.WriteString(f.String())
		}
		b.WriteByte('}')
		return b.String()
	default:
		return fmt.Sprintf("value(kind=%d)", v.kind)
	}
}
