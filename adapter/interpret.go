package adapter

import (
	"context"
	"encoding/binary"
	"unicode/utf8"

	"github.com/mengsuenyan/fce"
	ferrors "github.com/mengsuenyan/fce/errors"
	"github.com/mengsuenyan/fce/itype"
)

// MaxDepth bounds the nesting of adapted calls reachable from one entry
// point. The limit exists as a backstop; the linker already rejects
// module-level import cycles.
const MaxDepth = 128

// CoreFunc invokes a raw numeric function of the executor.
type CoreFunc func(ctx context.Context, args []uint64) ([]uint64, error)

// ImportFunc handles a dispatched import with interface-typed values.
type ImportFunc func(ctx context.Context, args []itype.Value) ([]itype.Value, error)

// Bindings supplies a program's runtime environment: the instance's memory
// and allocator, its core function table and its import dispatch table.
// Alloc may be nil when the program never touches memory.
type Bindings struct {
	Memory fce.Memory
	Alloc  fce.Allocator
	Core   func(name string) (CoreFunc, bool)
	Import func(index int) (ImportFunc, bool)
}

type depthKey struct{}

// Depth returns the adapted-call nesting depth recorded in ctx.
func Depth(ctx context.Context) int {
	d, _ := ctx.Value(depthKey{}).(int)
	return d
}

func enter(ctx context.Context) (context.Context, error) {
	d := Depth(ctx)
	if d >= MaxDepth {
		return nil, ferrors.Overflow("adapted call depth exceeds %d", MaxDepth)
	}
	return context.WithValue(ctx, depthKey{}, d+1), nil
}

// RunExport executes an export program: interface-typed arguments in,
// interface-typed results out.
func RunExport(ctx context.Context, p *Program, b Bindings, args []itype.Value) ([]itype.Value, error) {
	if p.Kind != ProgramExport {
		return nil, ferrors.Internal("RunExport on %s program %q", p.Kind, p.Name)
	}
	if len(args) != p.NumArgs {
		return nil, ferrors.New(ferrors.PhaseCall, ferrors.KindInvalidInput).
			Name(p.Name).
			Detail("expected %d arguments, got %d", p.NumArgs, len(args)).
			Build()
	}
	for i, a := range args {
		if !conforms(a, &p.Params[i], p.records) {
			return nil, ferrors.New(ferrors.PhaseCall, ferrors.KindInvalidInput).
				Name(p.Name).
				Detail("argument %d does not conform to %s", i, &p.Params[i]).
				Build()
		}
	}

	ctx, err := enter(ctx)
	if err != nil {
		return nil, err
	}
	m := &machine{prog: p, b: b, args: args}
	if err := m.exec(ctx); err != nil {
		return nil, err
	}

	out, err := m.popN(len(p.Results))
	if err != nil {
		return nil, err
	}
	if len(m.stack) != 0 {
		return nil, ferrors.Internal("program %q left %d values on the stack", p.Name, len(m.stack))
	}
	return out, nil
}

// RunImport executes an import program: raw core arguments in, raw core
// results out. The linker installs it behind the executor's import hook.
func RunImport(ctx context.Context, p *Program, b Bindings, raw []uint64) ([]uint64, error) {
	if p.Kind != ProgramImport {
		return nil, ferrors.Internal("RunImport on %s program %q", p.Kind, p.Name)
	}
	if len(raw) != p.NumArgs {
		return nil, ferrors.Internal("import %q expected %d core arguments, got %d", p.Name, p.NumArgs, len(raw))
	}
	args := make([]itype.Value, len(raw))
	for i, r := range raw {
		args[i] = itype.FromRaw(coreKind(p.CoreParams[i]), r)
	}

	ctx, err := enter(ctx)
	if err != nil {
		return nil, err
	}
	m := &machine{prog: p, b: b, args: args}
	if err := m.exec(ctx); err != nil {
		return nil, err
	}

	vals, err := m.popN(len(p.CoreResults))
	if err != nil {
		return nil, err
	}
	if len(m.stack) != 0 {
		return nil, ferrors.Internal("program %q left %d values on the stack", p.Name, len(m.stack))
	}
	out := make([]uint64, len(vals))
	for i, v := range vals {
		if v.Kind() != coreKind(p.CoreResults[i]) {
			return nil, ferrors.Internal("import %q result %d is %v, want %v", p.Name, i, v.Kind(), p.CoreResults[i])
		}
		out[i] = v.Raw()
	}
	return out, nil
}

func coreKind(c CoreType) itype.Kind {
	switch c {
	case CoreI64:
		return itype.KindI64
	case CoreF32:
		return itype.KindF32
	case CoreF64:
		return itype.KindF64
	}
	return itype.KindI32
}

type machine struct {
	prog  *Program
	args  []itype.Value
	rets  []itype.Value
	stack []itype.Value
	b     Bindings
}

func (m *machine) push(v itype.Value) {
	m.stack = append(m.stack, v)
}

func (m *machine) pop() (itype.Value, error) {
	if len(m.stack) == 0 {
		return itype.Value{}, ferrors.Internal("program %q: stack underflow", m.prog.Name)
	}
	v := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	return v, nil
}

// popN removes the top n values and returns them in push order.
func (m *machine) popN(n int) ([]itype.Value, error) {
	if len(m.stack) < n {
		return nil, ferrors.Internal("program %q: stack underflow", m.prog.Name)
	}
	out := make([]itype.Value, n)
	copy(out, m.stack[len(m.stack)-n:])
	m.stack = m.stack[:len(m.stack)-n]
	return out, nil
}

func (m *machine) popI32(what string) (uint32, error) {
	v, err := m.pop()
	if err != nil {
		return 0, err
	}
	if v.Kind() != itype.KindI32 {
		return 0, ferrors.Internal("program %q: %s is %v, want i32", m.prog.Name, what, v.Kind())
	}
	return uint32(v.I32()), nil
}

func (m *machine) exec(ctx context.Context) error {
	for _, in := range m.prog.Instructions {
		if err := m.step(ctx, in); err != nil {
			return err
		}
	}
	return nil
}

func (m *machine) step(ctx context.Context, in Instruction) error {
	switch in.Op {
	case OpArgGet:
		if in.Index >= len(m.args) {
			return ferrors.Internal("program %q: arg.get %d of %d", m.prog.Name, in.Index, len(m.args))
		}
		m.push(m.args[in.Index])
		return nil

	case OpRetGet:
		if in.Index >= len(m.rets) {
			return ferrors.Internal("program %q: ret.get %d of %d", m.prog.Name, in.Index, len(m.rets))
		}
		m.push(m.rets[in.Index])
		return nil

	case OpCheckNumeric:
		if len(m.stack) == 0 {
			return ferrors.Internal("program %q: stack underflow", m.prog.Name)
		}
		top := m.stack[len(m.stack)-1]
		if top.Kind() != in.Type.Kind {
			return ferrors.Internal("program %q: expected %s on stack, got %v", m.prog.Name, in.Type, top.Kind())
		}
		return nil

	case OpCallCore:
		vals, err := m.popN(in.Arity)
		if err != nil {
			return err
		}
		raw := make([]uint64, len(vals))
		for i, v := range vals {
			if !v.Kind().IsNumeric() {
				return ferrors.Internal("program %q: core argument %d is %v", m.prog.Name, i, v.Kind())
			}
			raw[i] = v.Raw()
		}
		core, ok := m.b.Core(in.Name)
		if !ok {
			return ferrors.Internal("program %q: core function %q not bound", m.prog.Name, in.Name)
		}
		res, err := core(ctx, raw)
		if err != nil {
			return err
		}
		if len(res) != len(m.prog.CoreResults) {
			return ferrors.Internal("program %q: core returned %d values, want %d", m.prog.Name, len(res), len(m.prog.CoreResults))
		}
		m.rets = make([]itype.Value, len(res))
		for i, r := range res {
			m.rets[i] = itype.FromRaw(coreKind(m.prog.CoreResults[i]), r)
		}
		return nil

	case OpCallImport:
		vals, err := m.popN(in.Arity)
		if err != nil {
			return err
		}
		fn, ok := m.b.Import(in.Index)
		if !ok {
			return ferrors.Internal("program %q: import %d not bound", m.prog.Name, in.Index)
		}
		res, err := fn(ctx, vals)
		if err != nil {
			return err
		}
		if len(res) != len(m.prog.Results) {
			return ferrors.New(ferrors.PhaseTrap, ferrors.KindInvalidData).
				Name(m.prog.Name).
				Detail("import target returned %d values, want %d", len(res), len(m.prog.Results)).
				Build()
		}
		for i, v := range res {
			if !conforms(v, &m.prog.Results[i], m.prog.records) {
				return ferrors.New(ferrors.PhaseTrap, ferrors.KindInvalidData).
					Name(m.prog.Name).
					Detail("import target result %d does not conform to %s", i, &m.prog.Results[i]).
					Build()
			}
		}
		m.rets = res
		return nil

	case OpLowerString:
		v, err := m.pop()
		if err != nil {
			return err
		}
		if v.Kind() != itype.KindString {
			return ferrors.Internal("program %q: lowering %v as string", m.prog.Name, v.Kind())
		}
		ptr, length, err := m.lowerString(ctx, v.Str())
		if err != nil {
			return err
		}
		m.push(itype.Int32(int32(ptr)))
		m.push(itype.Int32(int32(length)))
		return nil

	case OpLiftString:
		length, err := m.popI32("string length")
		if err != nil {
			return err
		}
		ptr, err := m.popI32("string pointer")
		if err != nil {
			return err
		}
		s, err := m.liftString(ptr, length)
		if err != nil {
			return err
		}
		m.push(itype.Str(s))
		return nil

	case OpLowerList:
		v, err := m.pop()
		if err != nil {
			return err
		}
		ptr, count, err := m.lowerList(ctx, v, in.Type)
		if err != nil {
			return err
		}
		m.push(itype.Int32(int32(ptr)))
		m.push(itype.Int32(int32(count)))
		return nil

	case OpLiftList:
		count, err := m.popI32("list count")
		if err != nil {
			return err
		}
		ptr, err := m.popI32("list pointer")
		if err != nil {
			return err
		}
		v, err := m.liftList(ptr, count, in.Type)
		if err != nil {
			return err
		}
		m.push(v)
		return nil

	case OpLowerRecord:
		v, err := m.pop()
		if err != nil {
			return err
		}
		slots, err := m.lowerFlat(ctx, v, in.Type)
		if err != nil {
			return err
		}
		for _, s := range slots {
			m.push(s)
		}
		return nil

	case OpLiftRecord:
		slots, err := m.popN(in.Arity)
		if err != nil {
			return err
		}
		v, rest, err := m.liftFlat(slots, in.Type)
		if err != nil {
			return err
		}
		if len(rest) != 0 {
			return ferrors.Internal("program %q: record lift left %d slots", m.prog.Name, len(rest))
		}
		m.push(v)
		return nil
	}
	return ferrors.Internal("program %q: unknown op %v", m.prog.Name, in.Op)
}

func (m *machine) alloc(ctx context.Context, size uint32) (uint32, error) {
	if m.b.Alloc == nil {
		return 0, ferrors.Internal("program %q: no allocator bound", m.prog.Name)
	}
	if size > MaxAlloc {
		return 0, ferrors.Overflow("allocation of %d bytes exceeds limit %d", size, MaxAlloc)
	}
	ptr, err := m.b.Alloc.Alloc(ctx, size)
	if err != nil {
		return 0, ferrors.AllocationFailed(size, err)
	}
	return ptr, nil
}

// lowerString copies s into guest memory. The empty string lowers to
// (0, 0) without touching the allocator.
func (m *machine) lowerString(ctx context.Context, s string) (ptr, length uint32, err error) {
	if !utf8.ValidString(s) {
		return 0, 0, ferrors.InvalidUTF8([]byte(s))
	}
	if len(s) == 0 {
		return 0, 0, nil
	}
	ptr, err = m.alloc(ctx, uint32(len(s)))
	if err != nil {
		return 0, 0, err
	}
	if err := m.b.Memory.Write(ptr, []byte(s)); err != nil {
		return 0, 0, err
	}
	return ptr, uint32(len(s)), nil
}

func (m *machine) liftString(ptr, length uint32) (string, error) {
	if length == 0 {
		return "", nil
	}
	data, err := m.b.Memory.Read(ptr, length)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", ferrors.InvalidUTF8(data)
	}
	return string(data), nil
}

// lowerList writes the packed element array of a list into guest memory
// and returns its (ptr, count). Nested strings, lists and records are
// written depth-first, so a child's allocation always precedes its
// parent's element slot.
func (m *machine) lowerList(ctx context.Context, v itype.Value, t *itype.Type) (ptr, count uint32, err error) {
	if v.Kind() != itype.KindList {
		return 0, 0, ferrors.Internal("program %q: lowering %v as list", m.prog.Name, v.Kind())
	}
	elems := v.List()
	if len(elems) == 0 {
		return 0, 0, nil
	}
	elemSize, err := memSize(t.Elem, m.prog.records)
	if err != nil {
		return 0, 0, err
	}
	total := uint64(len(elems)) * uint64(elemSize)
	if total > MaxAlloc {
		return 0, 0, ferrors.Overflow("list of %d elements needs %d bytes", len(elems), total)
	}
	buf := make([]byte, total)
	for i, e := range elems {
		if err := m.writeMem(ctx, buf[uint32(i)*elemSize:], e, t.Elem); err != nil {
			return 0, 0, err
		}
	}
	ptr, err = m.alloc(ctx, uint32(total))
	if err != nil {
		return 0, 0, err
	}
	if err := m.b.Memory.Write(ptr, buf); err != nil {
		return 0, 0, err
	}
	return ptr, uint32(len(elems)), nil
}

func (m *machine) liftList(ptr, count uint32, t *itype.Type) (itype.Value, error) {
	if count == 0 {
		return itype.ListOf(), nil
	}
	elemSize, err := memSize(t.Elem, m.prog.records)
	if err != nil {
		return itype.Value{}, err
	}
	total := uint64(count) * uint64(elemSize)
	if total > MaxAlloc {
		return itype.Value{}, ferrors.Overflow("list of %d elements needs %d bytes", count, total)
	}
	buf, err := m.b.Memory.Read(ptr, uint32(total))
	if err != nil {
		return itype.Value{}, err
	}
	elems := make([]itype.Value, count)
	for i := uint32(0); i < count; i++ {
		e, err := m.readMem(buf[i*elemSize:(i+1)*elemSize], t.Elem)
		if err != nil {
			return itype.Value{}, err
		}
		elems[i] = e
	}
	return itype.ListOf(elems...), nil
}

// writeMem encodes one value into its packed slot within buf. Memory for
// nested strings and lists is allocated here as a side effect.
func (m *machine) writeMem(ctx context.Context, buf []byte, v itype.Value, t *itype.Type) error {
	rt, err := resolve(t, m.prog.records)
	if err != nil {
		return err
	}
	switch rt.Kind {
	case itype.KindI32, itype.KindF32:
		if v.Kind() != rt.Kind {
			return ferrors.Internal("program %q: storing %v as %s", m.prog.Name, v.Kind(), rt)
		}
		binary.LittleEndian.PutUint32(buf, uint32(v.Raw()))
		return nil
	case itype.KindI64, itype.KindF64:
		if v.Kind() != rt.Kind {
			return ferrors.Internal("program %q: storing %v as %s", m.prog.Name, v.Kind(), rt)
		}
		binary.LittleEndian.PutUint64(buf, v.Raw())
		return nil
	case itype.KindString:
		if v.Kind() != itype.KindString {
			return ferrors.Internal("program %q: storing %v as string", m.prog.Name, v.Kind())
		}
		ptr, length, err := m.lowerString(ctx, v.Str())
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(buf, ptr)
		binary.LittleEndian.PutUint32(buf[4:], length)
		return nil
	case itype.KindList:
		ptr, count, err := m.lowerList(ctx, v, rt)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(buf, ptr)
		binary.LittleEndian.PutUint32(buf[4:], count)
		return nil
	case itype.KindRecord:
		if v.Kind() != itype.KindRecord || len(v.Fields()) != len(rt.Fields) {
			return ferrors.Internal("program %q: storing %v as %s", m.prog.Name, v.Kind(), rt)
		}
		off := uint32(0)
		for i, f := range v.Fields() {
			ft := &rt.Fields[i].Type
			size, err := memSize(ft, m.prog.records)
			if err != nil {
				return err
			}
			if err := m.writeMem(ctx, buf[off:], f, ft); err != nil {
				return err
			}
			off += size
		}
		return nil
	}
	return ferrors.Internal("writeMem: unknown kind %v", rt.Kind)
}

func (m *machine) readMem(buf []byte, t *itype.Type) (itype.Value, error) {
	rt, err := resolve(t, m.prog.records)
	if err != nil {
		return itype.Value{}, err
	}
	switch rt.Kind {
	case itype.KindI32:
		return itype.Int32(int32(binary.LittleEndian.Uint32(buf))), nil
	case itype.KindF32:
		return itype.FromRaw(itype.KindF32, uint64(binary.LittleEndian.Uint32(buf))), nil
	case itype.KindI64:
		return itype.Int64(int64(binary.LittleEndian.Uint64(buf))), nil
	case itype.KindF64:
		return itype.FromRaw(itype.KindF64, binary.LittleEndian.Uint64(buf)), nil
	case itype.KindString:
		ptr := binary.LittleEndian.Uint32(buf)
		length := binary.LittleEndian.Uint32(buf[4:])
		s, err := m.liftString(ptr, length)
		if err != nil {
			return itype.Value{}, err
		}
		return itype.Str(s), nil
	case itype.KindList:
		ptr := binary.LittleEndian.Uint32(buf)
		count := binary.LittleEndian.Uint32(buf[4:])
		return m.liftList(ptr, count, rt)
	case itype.KindRecord:
		fields := make([]itype.Value, len(rt.Fields))
		off := uint32(0)
		for i := range rt.Fields {
			ft := &rt.Fields[i].Type
			size, err := memSize(ft, m.prog.records)
			if err != nil {
				return itype.Value{}, err
			}
			f, err := m.readMem(buf[off:off+size], ft)
			if err != nil {
				return itype.Value{}, err
			}
			fields[i] = f
			off += size
		}
		return itype.RecordOf(*rt, fields...), nil
	}
	return itype.Value{}, ferrors.Internal("readMem: unknown kind %v", rt.Kind)
}

// lowerFlat expands one value into its core ABI slots.
func (m *machine) lowerFlat(ctx context.Context, v itype.Value, t *itype.Type) ([]itype.Value, error) {
	rt, err := resolve(t, m.prog.records)
	if err != nil {
		return nil, err
	}
	switch rt.Kind {
	case itype.KindI32, itype.KindI64, itype.KindF32, itype.KindF64:
		if v.Kind() != rt.Kind {
			return nil, ferrors.Internal("program %q: lowering %v as %s", m.prog.Name, v.Kind(), rt)
		}
		return []itype.Value{v}, nil
	case itype.KindString:
		if v.Kind() != itype.KindString {
			return nil, ferrors.Internal("program %q: lowering %v as string", m.prog.Name, v.Kind())
		}
		ptr, length, err := m.lowerString(ctx, v.Str())
		if err != nil {
			return nil, err
		}
		return []itype.Value{itype.Int32(int32(ptr)), itype.Int32(int32(length))}, nil
	case itype.KindList:
		ptr, count, err := m.lowerList(ctx, v, rt)
		if err != nil {
			return nil, err
		}
		return []itype.Value{itype.Int32(int32(ptr)), itype.Int32(int32(count))}, nil
	case itype.KindRecord:
		if v.Kind() != itype.KindRecord || len(v.Fields()) != len(rt.Fields) {
			return nil, ferrors.Internal("program %q: lowering %v as %s", m.prog.Name, v.Kind(), rt)
		}
		var out []itype.Value
		for i, f := range v.Fields() {
			slots, err := m.lowerFlat(ctx, f, &rt.Fields[i].Type)
			if err != nil {
				return nil, err
			}
			out = append(out, slots...)
		}
		return out, nil
	}
	return nil, ferrors.Internal("lowerFlat: unknown kind %v", rt.Kind)
}

// liftFlat assembles one value from the front of slots and returns the
// remainder.
func (m *machine) liftFlat(slots []itype.Value, t *itype.Type) (itype.Value, []itype.Value, error) {
	rt, err := resolve(t, m.prog.records)
	if err != nil {
		return itype.Value{}, nil, err
	}
	takeI32 := func(what string) (uint32, error) {
		if len(slots) == 0 {
			return 0, ferrors.Internal("program %q: missing %s slot", m.prog.Name, what)
		}
		s := slots[0]
		slots = slots[1:]
		if s.Kind() != itype.KindI32 {
			return 0, ferrors.Internal("program %q: %s slot is %v, want i32", m.prog.Name, what, s.Kind())
		}
		return uint32(s.I32()), nil
	}
	switch rt.Kind {
	case itype.KindI32, itype.KindI64, itype.KindF32, itype.KindF64:
		if len(slots) == 0 {
			return itype.Value{}, nil, ferrors.Internal("program %q: missing %s slot", m.prog.Name, rt)
		}
		s := slots[0]
		if s.Kind() != rt.Kind {
			return itype.Value{}, nil, ferrors.Internal("program %q: slot is %v, want %s", m.prog.Name, s.Kind(), rt)
		}
		return s, slots[1:], nil
	case itype.KindString:
		ptr, err := takeI32("string pointer")
		if err != nil {
			return itype.Value{}, nil, err
		}
		length, err := takeI32("string length")
		if err != nil {
			return itype.Value{}, nil, err
		}
		s, err := m.liftString(ptr, length)
		if err != nil {
			return itype.Value{}, nil, err
		}
		return itype.Str(s), slots, nil
	case itype.KindList:
		ptr, err := takeI32("list pointer")
		if err != nil {
			return itype.Value{}, nil, err
		}
		count, err := takeI32("list count")
		if err != nil {
			return itype.Value{}, nil, err
		}
		v, err := m.liftList(ptr, count, rt)
		if err != nil {
			return itype.Value{}, nil, err
		}
		return v, slots, nil
	case itype.KindRecord:
		fields := make([]itype.Value, len(rt.Fields))
		rest := slots
		for i := range rt.Fields {
			f, r, err := m.liftFlat(rest, &rt.Fields[i].Type)
			if err != nil {
				return itype.Value{}, nil, err
			}
			fields[i] = f
			rest = r
		}
		return itype.RecordOf(*rt, fields...), rest, nil
	}
	return itype.Value{}, nil, ferrors.Internal("liftFlat: unknown kind %v", rt.Kind)
}

// conforms checks a value against an interface type, resolving record
// references through the program's record table.
func conforms(v itype.Value, t *itype.Type, records map[string]itype.Type) bool {
	rt, err := resolve(t, records)
	if err != nil {
		return false
	}
	if v.Kind() != rt.Kind {
		return false
	}
	switch rt.Kind {
	case itype.KindList:
		for _, e := range v.List() {
			if !conforms(e, rt.Elem, records) {
				return false
			}
		}
	case itype.KindRecord:
		if len(v.Fields()) != len(rt.Fields) {
			return false
		}
		for i, f := range v.Fields() {
			if !conforms(f, &rt.Fields[i].Type, records) {
				return false
			}
		}
	}
	return true
}
