package adapter_test

import (
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/mengsuenyan/fce/adapter"
	ferrors "github.com/mengsuenyan/fce/errors"
	"github.com/mengsuenyan/fce/itype"
)

// fakeMemory is a plain byte-slice memory with the same bounds behavior as
// a real instance memory.
type fakeMemory struct {
	data []byte
}

func newFakeMemory(size uint32) *fakeMemory {
	return &fakeMemory{data: make([]byte, size)}
}

func (m *fakeMemory) check(offset, length uint32) error {
	if uint64(offset)+uint64(length) > uint64(len(m.data)) {
		return ferrors.OutOfBounds(offset, length, uint32(len(m.data)))
	}
	return nil
}

func (m *fakeMemory) Read(offset, length uint32) ([]byte, error) {
	if err := m.check(offset, length); err != nil {
		return nil, err
	}
	out := make([]byte, length)
	copy(out, m.data[offset:])
	return out, nil
}

func (m *fakeMemory) Write(offset uint32, data []byte) error {
	if err := m.check(offset, uint32(len(data))); err != nil {
		return err
	}
	copy(m.data[offset:], data)
	return nil
}

func (m *fakeMemory) ReadU8(offset uint32) (uint8, error) {
	if err := m.check(offset, 1); err != nil {
		return 0, err
	}
	return m.data[offset], nil
}

func (m *fakeMemory) ReadU32(offset uint32) (uint32, error) {
	if err := m.check(offset, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(m.data[offset:]), nil
}

func (m *fakeMemory) ReadU64(offset uint32) (uint64, error) {
	if err := m.check(offset, 8); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(m.data[offset:]), nil
}

func (m *fakeMemory) WriteU8(offset uint32, v uint8) error {
	if err := m.check(offset, 1); err != nil {
		return err
	}
	m.data[offset] = v
	return nil
}

func (m *fakeMemory) WriteU32(offset uint32, v uint32) error {
	if err := m.check(offset, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(m.data[offset:], v)
	return nil
}

func (m *fakeMemory) WriteU64(offset uint32, v uint64) error {
	if err := m.check(offset, 8); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(m.data[offset:], v)
	return nil
}

func (m *fakeMemory) Size() uint32 { return uint32(len(m.data)) }

// bumpAlloc hands out monotonically increasing regions, like the bump
// allocators small guests ship.
type bumpAlloc struct {
	next uint32
	end  uint32
}

func newBumpAlloc(base, end uint32) *bumpAlloc {
	return &bumpAlloc{next: base, end: end}
}

func (a *bumpAlloc) Alloc(_ context.Context, size uint32) (uint32, error) {
	if a.next+size > a.end {
		return 0, errors.New("arena exhausted")
	}
	ptr := a.next
	a.next += size
	return ptr, nil
}

func (a *bumpAlloc) Free(_ context.Context, ptr, size uint32) {}

func bindings(mem *fakeMemory, alloc *bumpAlloc, core adapter.CoreFunc, imp adapter.ImportFunc) adapter.Bindings {
	b := adapter.Bindings{
		Memory: mem,
		Core: func(name string) (adapter.CoreFunc, bool) {
			if core == nil {
				return nil, false
			}
			return core, true
		},
		Import: func(index int) (adapter.ImportFunc, bool) {
			if imp == nil {
				return nil, false
			}
			return imp, true
		},
	}
	if alloc != nil {
		b.Alloc = alloc
	}
	return b
}

func sig(name string, params []itype.Param, results ...itype.Type) itype.FuncSignature {
	return itype.FuncSignature{Name: name, Params: params, Results: results}
}

func params(ts ...itype.Type) []itype.Param {
	out := make([]itype.Param, len(ts))
	for i, t := range ts {
		out[i] = itype.Param{Name: "p", Type: t}
	}
	return out
}

func TestExportNumericAdd(t *testing.T) {
	fn := sig("add", params(itype.I32T, itype.I32T), itype.I32T)
	core := adapter.CoreSignature{
		Params:  []adapter.CoreType{adapter.CoreI32, adapter.CoreI32},
		Results: []adapter.CoreType{adapter.CoreI32},
	}
	prog, err := adapter.GenerateExport("calc", fn, core, nil, false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	b := bindings(newFakeMemory(0), nil, func(ctx context.Context, args []uint64) ([]uint64, error) {
		return []uint64{uint64(uint32(int32(uint32(args[0])) + int32(uint32(args[1]))))}, nil
	}, nil)
	out, err := adapter.RunExport(context.Background(), prog, b, []itype.Value{itype.Int32(2), itype.Int32(3)})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(out) != 1 || out[0].I32() != 5 {
		t.Fatalf("got %v, want [5]", out)
	}
}

func TestExportStringRoundTrip(t *testing.T) {
	fn := sig("to-upper", params(itype.StringT), itype.StringT)
	core := adapter.CoreSignature{
		Params:  []adapter.CoreType{adapter.CoreI32, adapter.CoreI32},
		Results: []adapter.CoreType{adapter.CoreI32, adapter.CoreI32},
	}
	prog, err := adapter.GenerateExport("strings", fn, core, nil, true)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	mem := newFakeMemory(4096)
	alloc := newBumpAlloc(16, 4096)
	// the fake guest uppercases in place and returns the same region
	b := bindings(mem, alloc, func(ctx context.Context, args []uint64) ([]uint64, error) {
		ptr, length := uint32(args[0]), uint32(args[1])
		data, err := mem.Read(ptr, length)
		if err != nil {
			return nil, err
		}
		if err := mem.Write(ptr, []byte(strings.ToUpper(string(data)))); err != nil {
			return nil, err
		}
		return []uint64{uint64(ptr), uint64(length)}, nil
	}, nil)

	out, err := adapter.RunExport(context.Background(), prog, b, []itype.Value{itype.Str("abc")})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out[0].Str() != "ABC" {
		t.Fatalf("got %q, want %q", out[0].Str(), "ABC")
	}
}

// ctxKeyAlloc marks the call context so the allocator can prove it saw it.
type ctxKeyAlloc struct{}

// spyAlloc records the context it is handed.
type spyAlloc struct {
	bumpAlloc
	sawMark bool
}

func (a *spyAlloc) Alloc(ctx context.Context, size uint32) (uint32, error) {
	a.sawMark = ctx.Value(ctxKeyAlloc{}) != nil
	return a.bumpAlloc.Alloc(ctx, size)
}

func TestLoweringForwardsCallContext(t *testing.T) {
	fn := sig("echo", params(itype.StringT), itype.StringT)
	core := adapter.CoreSignature{
		Params:  []adapter.CoreType{adapter.CoreI32, adapter.CoreI32},
		Results: []adapter.CoreType{adapter.CoreI32, adapter.CoreI32},
	}
	prog, err := adapter.GenerateExport("strings", fn, core, nil, true)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	mem := newFakeMemory(4096)
	alloc := &spyAlloc{bumpAlloc: bumpAlloc{next: 16, end: 4096}}
	b := bindings(mem, nil, func(ctx context.Context, args []uint64) ([]uint64, error) {
		return []uint64{args[0], args[1]}, nil
	}, nil)
	b.Alloc = alloc

	ctx := context.WithValue(context.Background(), ctxKeyAlloc{}, true)
	if _, err := adapter.RunExport(ctx, prog, b, []itype.Value{itype.Str("abc")}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !alloc.sawMark {
		t.Fatal("allocator did not receive the caller's context")
	}
}

func TestExportEmptyStringSkipsAllocator(t *testing.T) {
	fn := sig("len", params(itype.StringT), itype.I32T)
	core := adapter.CoreSignature{
		Params:  []adapter.CoreType{adapter.CoreI32, adapter.CoreI32},
		Results: []adapter.CoreType{adapter.CoreI32},
	}
	prog, err := adapter.GenerateExport("strings", fn, core, nil, true)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	// an empty arena traps on any allocation
	b := bindings(newFakeMemory(64), newBumpAlloc(0, 0), func(ctx context.Context, args []uint64) ([]uint64, error) {
		if args[0] != 0 || args[1] != 0 {
			t.Fatalf("empty string lowered to (%d, %d)", args[0], args[1])
		}
		return []uint64{0}, nil
	}, nil)
	if _, err := adapter.RunExport(context.Background(), prog, b, []itype.Value{itype.Str("")}); err != nil {
		t.Fatalf("run: %v", err)
	}
}

// echoProgram builds an export program for identity over one value of t and
// a core that hands its slots straight back.
func echoProgram(t *testing.T, typ itype.Type, records map[string]itype.Type) (*adapter.Program, adapter.CoreSignature) {
	t.Helper()
	flat, err := adapter.Flatten(&typ, records)
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	core := adapter.CoreSignature{Params: flat, Results: flat}
	prog, err := adapter.GenerateExport("echo", sig("echo", params(typ), typ), core, records, true)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return prog, core
}

func TestExportRoundTripLaw(t *testing.T) {
	point := itype.RecordT("point",
		itype.Field{Name: "x", Type: itype.F64T},
		itype.Field{Name: "y", Type: itype.F64T},
	)
	records := map[string]itype.Type{"point": point}

	cases := []struct {
		name string
		typ  itype.Type
		val  itype.Value
	}{
		{"i64", itype.I64T, itype.Int64(-7)},
		{"f32", itype.F32T, itype.Float32(1.5)},
		{"string", itype.StringT, itype.Str("héllo wörld")},
		{"list-i32", itype.ListOfT(itype.I32T), itype.ListOf(itype.Int32(1), itype.Int32(-2), itype.Int32(3))},
		{"list-string", itype.ListOfT(itype.StringT), itype.ListOf(itype.Str("a"), itype.Str(""), itype.Str("ccc"))},
		{"list-of-list", itype.ListOfT(itype.ListOfT(itype.I64T)),
			itype.ListOf(itype.ListOf(itype.Int64(1)), itype.ListOf(), itype.ListOf(itype.Int64(2), itype.Int64(3)))},
		{"record-ref", itype.RecordRefT("point"),
			itype.RecordOf(point, itype.Float64(3), itype.Float64(-4))},
		{"list-of-records", itype.ListOfT(itype.RecordRefT("point")),
			itype.ListOf(
				itype.RecordOf(point, itype.Float64(1), itype.Float64(2)),
				itype.RecordOf(point, itype.Float64(3), itype.Float64(4)),
			)},
		{"record-mixed", itype.RecordT("bag",
			itype.Field{Name: "name", Type: itype.StringT},
			itype.Field{Name: "ids", Type: itype.ListOfT(itype.I32T)},
		), itype.RecordOf(
			itype.RecordT("bag",
				itype.Field{Name: "name", Type: itype.StringT},
				itype.Field{Name: "ids", Type: itype.ListOfT(itype.I32T)},
			),
			itype.Str("bag-1"), itype.ListOf(itype.Int32(10), itype.Int32(20)),
		)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			prog, _ := echoProgram(t, tc.typ, records)
			mem := newFakeMemory(1 << 16)
			b := bindings(mem, newBumpAlloc(64, 1<<16), func(ctx context.Context, args []uint64) ([]uint64, error) {
				out := make([]uint64, len(args))
				copy(out, args)
				return out, nil
			}, nil)
			out, err := adapter.RunExport(context.Background(), prog, b, []itype.Value{tc.val})
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if len(out) != 1 || !out[0].Equal(tc.val) {
				t.Fatalf("round trip changed value: got %v, want %v", out, tc.val)
			}
		})
	}
}

func TestExportListOfRecordsLayout(t *testing.T) {
	point := itype.RecordT("point",
		itype.Field{Name: "x", Type: itype.F64T},
		itype.Field{Name: "y", Type: itype.F64T},
	)
	records := map[string]itype.Type{"point": point}
	fn := sig("sum", params(itype.ListOfT(itype.RecordRefT("point"))), itype.F64T)
	core := adapter.CoreSignature{
		Params:  []adapter.CoreType{adapter.CoreI32, adapter.CoreI32},
		Results: []adapter.CoreType{adapter.CoreF64},
	}
	prog, err := adapter.GenerateExport("geo", fn, core, records, true)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	mem := newFakeMemory(4096)
	b := bindings(mem, newBumpAlloc(16, 4096), func(ctx context.Context, args []uint64) ([]uint64, error) {
		ptr, count := uint32(args[0]), uint32(args[1])
		var sum float64
		for i := uint32(0); i < count; i++ {
			// packed points are 16 bytes: two little-endian f64 fields
			x, err := mem.ReadU64(ptr + i*16)
			if err != nil {
				return nil, err
			}
			y, err := mem.ReadU64(ptr + i*16 + 8)
			if err != nil {
				return nil, err
			}
			sum += itype.FromRaw(itype.KindF64, x).F64() + itype.FromRaw(itype.KindF64, y).F64()
		}
		return []uint64{itype.Float64(sum).Raw()}, nil
	}, nil)

	arg := itype.ListOf(
		itype.RecordOf(point, itype.Float64(1), itype.Float64(2)),
		itype.RecordOf(point, itype.Float64(3), itype.Float64(4)),
	)
	out, err := adapter.RunExport(context.Background(), prog, b, []itype.Value{arg})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := out[0].F64(); got != 10 {
		t.Fatalf("sum = %v, want 10", got)
	}
}

func TestImportProgram(t *testing.T) {
	imp := itype.Import{
		Namespace:     "host",
		FuncSignature: sig("log", params(itype.StringT)),
	}
	core := adapter.CoreSignature{Params: []adapter.CoreType{adapter.CoreI32, adapter.CoreI32}}
	prog, err := adapter.GenerateImport("app", imp, 0, core, nil, true)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	mem := newFakeMemory(256)
	if err := mem.Write(8, []byte("from guest")); err != nil {
		t.Fatal(err)
	}
	var logged string
	b := bindings(mem, newBumpAlloc(128, 256), nil, func(ctx context.Context, args []itype.Value) ([]itype.Value, error) {
		logged = args[0].Str()
		return nil, nil
	})

	out, err := adapter.RunImport(context.Background(), prog, b, []uint64{8, 10})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no core results, got %v", out)
	}
	if logged != "from guest" {
		t.Fatalf("logged %q", logged)
	}
}

func TestImportResultLowering(t *testing.T) {
	imp := itype.Import{
		Namespace:     "host",
		FuncSignature: sig("greet", params(itype.StringT), itype.StringT),
	}
	core := adapter.CoreSignature{
		Params:  []adapter.CoreType{adapter.CoreI32, adapter.CoreI32},
		Results: []adapter.CoreType{adapter.CoreI32, adapter.CoreI32},
	}
	prog, err := adapter.GenerateImport("app", imp, 0, core, nil, true)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	mem := newFakeMemory(256)
	if err := mem.Write(0, []byte("bob")); err != nil {
		t.Fatal(err)
	}
	b := bindings(mem, newBumpAlloc(64, 256), nil, func(ctx context.Context, args []itype.Value) ([]itype.Value, error) {
		return []itype.Value{itype.Str("hi " + args[0].Str())}, nil
	})

	out, err := adapter.RunImport(context.Background(), prog, b, []uint64{0, 3})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	ptr, length := uint32(out[0]), uint32(out[1])
	data, err := mem.Read(ptr, length)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hi bob" {
		t.Fatalf("lowered %q", data)
	}
}

func TestImportResultTypeMismatch(t *testing.T) {
	imp := itype.Import{
		Namespace:     "host",
		FuncSignature: sig("id", params(itype.I32T), itype.I32T),
	}
	core := adapter.CoreSignature{
		Params:  []adapter.CoreType{adapter.CoreI32},
		Results: []adapter.CoreType{adapter.CoreI32},
	}
	prog, err := adapter.GenerateImport("app", imp, 0, core, nil, false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	b := bindings(newFakeMemory(0), nil, nil, func(ctx context.Context, args []itype.Value) ([]itype.Value, error) {
		return []itype.Value{itype.Str("not a number")}, nil
	})
	_, err = adapter.RunImport(context.Background(), prog, b, []uint64{1})
	if !ferrors.IsKind(err, ferrors.KindInvalidData) {
		t.Fatalf("err = %v, want invalid_data", err)
	}
}

func TestGenerateAbiArityMismatch(t *testing.T) {
	fn := sig("add", params(itype.StringT), itype.I32T)
	core := adapter.CoreSignature{
		Params:  []adapter.CoreType{adapter.CoreI32}, // string needs two slots
		Results: []adapter.CoreType{adapter.CoreI32},
	}
	_, err := adapter.GenerateExport("calc", fn, core, nil, true)
	if !ferrors.IsKind(err, ferrors.KindAbiArityMismatch) {
		t.Fatalf("err = %v, want abi_arity_mismatch", err)
	}
}

func TestGenerateMissingAllocator(t *testing.T) {
	fn := sig("greet", params(itype.StringT), itype.StringT)
	core := adapter.CoreSignature{
		Params:  []adapter.CoreType{adapter.CoreI32, adapter.CoreI32},
		Results: []adapter.CoreType{adapter.CoreI32, adapter.CoreI32},
	}
	_, err := adapter.GenerateExport("app", fn, core, nil, false)
	if !ferrors.IsKind(err, ferrors.KindMissingAllocator) {
		t.Fatalf("err = %v, want missing_allocator", err)
	}
}

func TestGenerateUnknownRecord(t *testing.T) {
	fn := sig("f", params(itype.RecordRefT("ghost")))
	_, err := adapter.GenerateExport("app", fn, adapter.CoreSignature{}, nil, true)
	if !ferrors.IsKind(err, ferrors.KindUnknownRecord) {
		t.Fatalf("err = %v, want unknown_record", err)
	}
}

func TestGenerateRecursiveRecord(t *testing.T) {
	records := map[string]itype.Type{
		"node": itype.RecordT("node", itype.Field{Name: "next", Type: itype.RecordRefT("node")}),
	}
	fn := sig("f", params(itype.RecordRefT("node")))
	_, err := adapter.GenerateExport("app", fn, adapter.CoreSignature{}, records, true)
	if !ferrors.IsKind(err, ferrors.KindMalformedInterface) {
		t.Fatalf("err = %v, want malformed_interface", err)
	}
}

func TestGenerateRecursiveRecordBehindList(t *testing.T) {
	// a list flattens to (ptr, len) without touching its element type,
	// so a field cycle among the element's records must be caught when
	// the list itself is flattened
	records := map[string]itype.Type{
		"a": itype.RecordT("a", itype.Field{Name: "b", Type: itype.RecordRefT("b")}),
		"b": itype.RecordT("b", itype.Field{Name: "a", Type: itype.RecordRefT("a")}),
	}
	fn := sig("f", nil, itype.ListOfT(itype.RecordRefT("a")))
	_, err := adapter.GenerateExport("app", fn, adapter.CoreSignature{}, records, true)
	if !ferrors.IsKind(err, ferrors.KindMalformedInterface) {
		t.Fatalf("err = %v, want malformed_interface", err)
	}
}

func TestListBreaksRecordRecursion(t *testing.T) {
	// a record may reference itself through a list: the list is a
	// (ptr, count) indirection, not an inline field
	records := map[string]itype.Type{
		"tree": itype.RecordT("tree",
			itype.Field{Name: "tag", Type: itype.I32T},
			itype.Field{Name: "kids", Type: itype.ListOfT(itype.RecordRefT("tree"))},
		),
	}
	tree := itype.RecordRefT("tree")
	flat, err := adapter.Flatten(&tree, records)
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	want := []adapter.CoreType{adapter.CoreI32, adapter.CoreI32, adapter.CoreI32}
	if len(flat) != len(want) {
		t.Fatalf("flattened to %v, want %v", flat, want)
	}
}

func TestRunExportArgumentValidation(t *testing.T) {
	fn := sig("add", params(itype.I32T, itype.I32T), itype.I32T)
	core := adapter.CoreSignature{
		Params:  []adapter.CoreType{adapter.CoreI32, adapter.CoreI32},
		Results: []adapter.CoreType{adapter.CoreI32},
	}
	prog, err := adapter.GenerateExport("calc", fn, core, nil, false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	b := bindings(newFakeMemory(0), nil, func(ctx context.Context, args []uint64) ([]uint64, error) {
		return []uint64{0}, nil
	}, nil)

	_, err = adapter.RunExport(context.Background(), prog, b, []itype.Value{itype.Int32(1)})
	if !ferrors.IsKind(err, ferrors.KindInvalidInput) {
		t.Fatalf("arity: err = %v, want invalid_input", err)
	}
	_, err = adapter.RunExport(context.Background(), prog, b, []itype.Value{itype.Int32(1), itype.Str("x")})
	if !ferrors.IsKind(err, ferrors.KindInvalidInput) {
		t.Fatalf("type: err = %v, want invalid_input", err)
	}
}

func TestLiftInvalidUTF8(t *testing.T) {
	fn := sig("get", nil, itype.StringT)
	core := adapter.CoreSignature{Results: []adapter.CoreType{adapter.CoreI32, adapter.CoreI32}}
	prog, err := adapter.GenerateExport("app", fn, core, nil, true)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	mem := newFakeMemory(64)
	if err := mem.Write(0, []byte{0xff, 0xfe, 0xfd}); err != nil {
		t.Fatal(err)
	}
	b := bindings(mem, newBumpAlloc(32, 64), func(ctx context.Context, args []uint64) ([]uint64, error) {
		return []uint64{0, 3}, nil
	}, nil)
	_, err = adapter.RunExport(context.Background(), prog, b, nil)
	if !ferrors.IsKind(err, ferrors.KindInvalidUTF8) {
		t.Fatalf("err = %v, want invalid_utf8", err)
	}
}

func TestLiftOutOfBounds(t *testing.T) {
	fn := sig("get", nil, itype.StringT)
	core := adapter.CoreSignature{Results: []adapter.CoreType{adapter.CoreI32, adapter.CoreI32}}
	prog, err := adapter.GenerateExport("app", fn, core, nil, true)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	b := bindings(newFakeMemory(64), newBumpAlloc(0, 64), func(ctx context.Context, args []uint64) ([]uint64, error) {
		return []uint64{60, 100}, nil
	}, nil)
	_, err = adapter.RunExport(context.Background(), prog, b, nil)
	if !ferrors.IsKind(err, ferrors.KindOutOfBounds) {
		t.Fatalf("err = %v, want out_of_bounds", err)
	}
}

func TestAllocationFailureTraps(t *testing.T) {
	fn := sig("put", params(itype.StringT), itype.I32T)
	core := adapter.CoreSignature{
		Params:  []adapter.CoreType{adapter.CoreI32, adapter.CoreI32},
		Results: []adapter.CoreType{adapter.CoreI32},
	}
	prog, err := adapter.GenerateExport("app", fn, core, nil, true)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	b := bindings(newFakeMemory(64), newBumpAlloc(0, 0), func(ctx context.Context, args []uint64) ([]uint64, error) {
		return []uint64{0}, nil
	}, nil)
	_, err = adapter.RunExport(context.Background(), prog, b, []itype.Value{itype.Str("xyz")})
	if !ferrors.IsKind(err, ferrors.KindAllocationFailed) {
		t.Fatalf("err = %v, want allocation_failed", err)
	}
}

func TestDepthLimit(t *testing.T) {
	fn := sig("spin", nil, itype.I32T)
	core := adapter.CoreSignature{Results: []adapter.CoreType{adapter.CoreI32}}
	prog, err := adapter.GenerateExport("app", fn, core, nil, false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	var b adapter.Bindings
	b = bindings(newFakeMemory(0), nil, func(ctx context.Context, args []uint64) ([]uint64, error) {
		// the guest calls straight back into the adapted surface
		out, err := adapter.RunExport(ctx, prog, b, nil)
		if err != nil {
			return nil, err
		}
		return []uint64{uint64(uint32(out[0].I32()))}, nil
	}, nil)

	_, err = adapter.RunExport(context.Background(), prog, b, nil)
	if !ferrors.IsKind(err, ferrors.KindOverflow) {
		t.Fatalf("err = %v, want overflow from depth limit", err)
	}
}
