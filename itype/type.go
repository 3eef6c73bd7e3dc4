package itype

import "strings"

// Kind discriminates interface types.
type Kind uint8

const (
	KindI32 Kind = iota
	KindI64
	KindF32
	KindF64
	KindString
	KindList
	KindRecord
	// KindRecordRef is a by-name reference to a record declared in the
	// owning module's record table. References are resolved to KindRecord
	// shapes before adapter generation.
	KindRecordRef
)

func (k Kind) String() string {
	switch k {
	case KindI32:
		return "i32"
	case KindI64:
		return "i64"
	case KindF32:
		return "f32"
	case KindF64:
		return "f64"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindRecord:
		return "record"
	case KindRecordRef:
		return "record-ref"
	default:
		return "unknown"
	}
}

// IsNumeric reports whether k is one of the four numeric kinds.
func (k Kind) IsNumeric() bool {
	switch k {
	case KindI32, KindI64, KindF32, KindF64:
		return true
	}
	return false
}

// Field is one named record field.
type Field struct {
	Name string
	Type Type
}

// Type is an interface-type shape. Types are immutable values; compare them
// with Equal, not ==, because compound shapes carry slices.
type Type struct {
	Elem   *Type   // list element
	Name   string  // record name or record reference target
	Fields []Field // record fields in declared order
	Kind   Kind
}

var (
	I32T    = Type{Kind: KindI32}
	I64T    = Type{Kind: KindI64}
	F32T    = Type{Kind: KindF32}
	F64T    = Type{Kind: KindF64}
	StringT = Type{Kind: KindString}
)

// ListOfT builds a list shape.
func ListOfT(elem Type) Type {
	e := elem
	return Type{Kind: KindList, Elem: &e}
}

// RecordT builds a record shape. An empty name denotes an anonymous record
// (the parser uses these for tuples).
func RecordT(name string, fields ...Field) Type {
	return Type{Kind: KindRecord, Name: name, Fields: fields}
}

// RecordRefT builds a by-name record reference.
func RecordRefT(name string) Type {
	return Type{Kind: KindRecordRef, Name: name}
}

// IsNumeric reports whether t occupies exactly one numeric ABI slot.
func (t Type) IsNumeric() bool {
	switch t.Kind {
	case KindI32, KindI64, KindF32, KindF64:
		return true
	}
	return false
}

// Equal reports structural equality. Record field names are significant;
// record type names are not (two records with identical field sequences are
// the same shape). A RecordRef is only equal to a RecordRef with the same
// target name; resolve references before comparing across modules.
func (t Type) Equal(o Type) bool {
	if t.Kind != o.Kind {
		return false
	}
	switch t.Kind {
	case KindList:
		return t.Elem.Equal(*o.Elem)
	case KindRecord:
		if len(t.Fields) != len(o.Fields) {
			return false
		}
		for i := range t.Fields {
			if t.Fields[i].Name != o.Fields[i].Name {
				return false
			}
			if !t.Fields[i].Type.Equal(o.Fields[i].Type) {
				return false
			}
		}
		return true
	case KindRecordRef:
		return t.Name == o.Name
	default:
		return true
	}
}

// String renders the type in the interface-description dialect.
func (t Type) String() string {
	switch t.Kind {
	case KindList:
		return "list<" + t.Elem.String() + ">"
	case KindRecordRef:
		return t.Name
	case KindRecord:
		if t.Name != "" {
			return t.Name
		}
		var b strings.Builder
		b.WriteString("record {")
		for i, f := range t.Fields {
			if i > 0 {
				b.WriteString(", ")
			}
			if f.Name != "" {
				b.WriteString(f.Name)
				b.WriteString(": ")
			}
			b.WriteString(f.Type.String())
		}
		b.WriteByte('}')
		return b.String()
	default:
		return t.Kind.String()
	}
}

// TypeList renders a parenthesized type sequence, e.g. "(i32, string)".
func TypeList(ts []Type) string {
	var b strings.Builder
	b.WriteByte('(')
	for i, t := range ts {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.String())
	}
	b.WriteByte(')')
	return b.String()
}
