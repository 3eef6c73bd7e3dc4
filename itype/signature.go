package itype

import "strings"

// Param is one named function parameter.
type Param struct {
	Name string
	Type Type
}

// FuncSignature describes one function in interface-type terms. The name is
// unique within its owning module's export or import namespace.
type FuncSignature struct {
	Name    string
	Params  []Param
	Results []Type
}

// ParamTypes returns the parameter type sequence without names.
func (s FuncSignature) ParamTypes() []Type {
	ts := make([]Type, len(s.Params))
	for i, p := range s.Params {
		ts[i] = p.Type
	}
	return ts
}

// ShapeEqual reports whether two signatures have identical parameter and
// result type sequences. Parameter names are ignored.
func (s FuncSignature) ShapeEqual(o FuncSignature) bool {
	if len(s.Params) != len(o.Params) || len(s.Results) != len(o.Results) {
		return false
	}
	for i := range s.Params {
		if !s.Params[i].Type.Equal(o.Params[i].Type) {
			return false
		}
	}
	for i := range s.Results {
		if !s.Results[i].Equal(o.Results[i]) {
			return false
		}
	}
	return true
}

// String renders "name: func(a: i32) -> string".
func (s FuncSignature) String() string {
	var b strings.Builder
	b.WriteString(s.Name)
	b.WriteString(": func(")
	for i, p := range s.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		if p.Name != "" {
			b.WriteString(p.Name)
			b.WriteString(": ")
		}
		b.WriteString(p.Type.String())
	}
	b.WriteByte(')')
	switch len(s.Results) {
	case 0:
	case 1:
		b.WriteString(" -> ")
		b.WriteString(s.Results[0].String())
	default:
		b.WriteString(" -> ")
		b.WriteString(TypeList(s.Results))
	}
	return b.String()
}

// Import is a declared import: a signature required from an external
// namespace, either another module's name or a host namespace.
type Import struct {
	Namespace string
	FuncSignature
}

// ModuleInterface is the parsed interface description of one module.
type ModuleInterface struct {
	Exports []FuncSignature
	Imports []Import
	Records map[string]Type // name -> KindRecord shape
}

// Export returns the export signature by name, or false.
func (m *ModuleInterface) Export(name string) (FuncSignature, bool) {
	for _, e := range m.Exports {
		if e.Name == name {
			return e, true
		}
	}
	return FuncSignature{}, false
}

// Import returns the import declared under namespace.name, or false.
func (m *ModuleInterface) Import(namespace, name string) (Import, bool) {
	for _, im := range m.Imports {
		if im.Namespace == namespace && im.Name == name {
			return im, true
		}
	}
	return Import{}, false
}

// ResolveRecord returns the record shape registered under name, or false.
func (m *ModuleInterface) ResolveRecord(name string) (Type, bool) {
	t, ok := m.Records[name]
	return t, ok
}
