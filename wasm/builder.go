package wasm

import "bytes"

// Builder assembles a minimal WebAssembly module. It covers exactly the
// shapes the engine's tests need: function types, function imports, plain
// function bodies, one memory, mutable globals, exports and custom
// sections. Call order matters the way function index space does: declare
// all imports before the first Func.
type Builder struct {
	types   [][]byte
	imports []builderImport
	funcs   []builderFunc
	globals [][]byte
	exports []builderExport
	customs []builderCustom
	memMin  uint32
	hasMem  bool
}

type builderImport struct {
	module  string
	field   string
	typeIdx uint32
}

type builderFunc struct {
	body    []byte
	locals  []ValType
	typeIdx uint32
}

type builderExport struct {
	name string
	kind byte
	idx  uint32
}

type builderCustom struct {
	name    string
	payload []byte
}

func NewBuilder() *Builder {
	return &Builder{}
}

// Type declares a function type and returns its index.
func (b *Builder) Type(params, results []ValType) uint32 {
	var buf bytes.Buffer
	buf.WriteByte(0x60)
	WriteLEB128u(&buf, uint32(len(params)))
	for _, p := range params {
		buf.WriteByte(byte(p))
	}
	WriteLEB128u(&buf, uint32(len(results)))
	for _, r := range results {
		buf.WriteByte(byte(r))
	}
	b.types = append(b.types, buf.Bytes())
	return uint32(len(b.types) - 1)
}

// Import declares a function import and returns its function index.
func (b *Builder) Import(module, field string, typeIdx uint32) uint32 {
	b.imports = append(b.imports, builderImport{module: module, field: field, typeIdx: typeIdx})
	return uint32(len(b.imports) - 1)
}

// Func declares a function with the given body instructions. The
// terminating end opcode is appended automatically. Returns the function
// index, counting imports first.
func (b *Builder) Func(typeIdx uint32, locals []ValType, body ...byte) uint32 {
	b.funcs = append(b.funcs, builderFunc{typeIdx: typeIdx, locals: locals, body: body})
	return uint32(len(b.imports) + len(b.funcs) - 1)
}

// Memory declares the module memory with the given minimum page count.
func (b *Builder) Memory(minPages uint32) *Builder {
	b.hasMem = true
	b.memMin = minPages
	return b
}

// GlobalI32 declares a mutable i32 global and returns its index.
func (b *Builder) GlobalI32(init int32) uint32 {
	var buf bytes.Buffer
	buf.WriteByte(byte(ValI32))
	buf.WriteByte(0x01) // mutable
	buf.WriteByte(OpI32Const)
	WriteLEB128s(&buf, init)
	buf.WriteByte(OpEnd)
	b.globals = append(b.globals, buf.Bytes())
	return uint32(len(b.globals) - 1)
}

// ExportFunc exposes a function index under the given name.
func (b *Builder) ExportFunc(name string, idx uint32) *Builder {
	b.exports = append(b.exports, builderExport{name: name, kind: KindFunc, idx: idx})
	return b
}

// ExportMemory exposes the module memory under the given name.
func (b *Builder) ExportMemory(name string) *Builder {
	b.exports = append(b.exports, builderExport{name: name, kind: KindMemory, idx: 0})
	return b
}

// Custom attaches a custom section.
func (b *Builder) Custom(name string, payload []byte) *Builder {
	b.customs = append(b.customs, builderCustom{name: name, payload: payload})
	return b
}

// Interface attaches an embedded interface description.
func (b *Builder) Interface(text string) *Builder {
	return b.Custom(InterfaceSection, []byte(text))
}

// Bytes encodes the module.
func (b *Builder) Bytes() []byte {
	var out bytes.Buffer
	out.Write([]byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00})

	writeSection := func(id byte, body []byte) {
		out.WriteByte(id)
		WriteLEB128u(&out, uint32(len(body)))
		out.Write(body)
	}

	if len(b.types) > 0 {
		var s bytes.Buffer
		WriteLEB128u(&s, uint32(len(b.types)))
		for _, t := range b.types {
			s.Write(t)
		}
		writeSection(SectionType, s.Bytes())
	}

	if len(b.imports) > 0 {
		var s bytes.Buffer
		WriteLEB128u(&s, uint32(len(b.imports)))
		for _, im := range b.imports {
			WriteLEB128u(&s, uint32(len(im.module)))
			s.WriteString(im.module)
			WriteLEB128u(&s, uint32(len(im.field)))
			s.WriteString(im.field)
			s.WriteByte(KindFunc)
			WriteLEB128u(&s, im.typeIdx)
		}
		writeSection(SectionImport, s.Bytes())
	}

	if len(b.funcs) > 0 {
		var s bytes.Buffer
		WriteLEB128u(&s, uint32(len(b.funcs)))
		for _, f := range b.funcs {
			WriteLEB128u(&s, f.typeIdx)
		}
		writeSection(SectionFunction, s.Bytes())
	}

	if b.hasMem {
		var s bytes.Buffer
		WriteLEB128u(&s, 1)
		s.WriteByte(0x00) // min only
		WriteLEB128u(&s, b.memMin)
		writeSection(SectionMemory, s.Bytes())
	}

	if len(b.globals) > 0 {
		var s bytes.Buffer
		WriteLEB128u(&s, uint32(len(b.globals)))
		for _, g := range b.globals {
			s.Write(g)
		}
		writeSection(SectionGlobal, s.Bytes())
	}

	if len(b.exports) > 0 {
		var s bytes.Buffer
		WriteLEB128u(&s, uint32(len(b.exports)))
		for _, e := range b.exports {
			WriteLEB128u(&s, uint32(len(e.name)))
			s.WriteString(e.name)
			s.WriteByte(e.kind)
			WriteLEB128u(&s, e.idx)
		}
		writeSection(SectionExport, s.Bytes())
	}

	if len(b.funcs) > 0 {
		var s bytes.Buffer
		WriteLEB128u(&s, uint32(len(b.funcs)))
		for _, f := range b.funcs {
			var code bytes.Buffer
			// one locals group per declared local
			WriteLEB128u(&code, uint32(len(f.locals)))
			for _, l := range f.locals {
				WriteLEB128u(&code, 1)
				code.WriteByte(byte(l))
			}
			code.Write(f.body)
			code.WriteByte(OpEnd)
			WriteLEB128u(&s, uint32(code.Len()))
			s.Write(code.Bytes())
		}
		writeSection(SectionCode, s.Bytes())
	}

	for _, c := range b.customs {
		var s bytes.Buffer
		WriteLEB128u(&s, uint32(len(c.name)))
		s.WriteString(c.name)
		s.Write(c.payload)
		writeSection(SectionCustom, s.Bytes())
	}

	return out.Bytes()
}
