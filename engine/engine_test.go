package engine_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/mengsuenyan/fce/adapter"
	"github.com/mengsuenyan/fce/engine"
	ferrors "github.com/mengsuenyan/fce/errors"
	"github.com/mengsuenyan/fce/wasm"
)

// addModule exports add(a, b) -> a + b.
func addModule(iface string) []byte {
	b := wasm.NewBuilder()
	ti := b.Type([]wasm.ValType{wasm.ValI32, wasm.ValI32}, []wasm.ValType{wasm.ValI32})
	add := b.Func(ti, nil,
		wasm.OpLocalGet, 0,
		wasm.OpLocalGet, 1,
		wasm.OpI32Add,
	)
	b.ExportFunc("add", add)
	if iface != "" {
		b.Interface(iface)
	}
	return b.Bytes()
}

// allocModule exports a bump allocator over a mutable global heap pointer
// plus one page of memory.
func allocModule() []byte {
	b := wasm.NewBuilder()
	b.Memory(1).ExportMemory("memory")
	heap := b.GlobalI32(1024)
	ti := b.Type([]wasm.ValType{wasm.ValI32}, []wasm.ValType{wasm.ValI32})
	alloc := b.Func(ti, nil,
		wasm.OpGlobalGet, byte(heap),
		wasm.OpGlobalGet, byte(heap),
		wasm.OpLocalGet, 0,
		wasm.OpI32Add,
		wasm.OpGlobalSet, byte(heap),
	)
	b.ExportFunc("allocate", alloc)
	return b.Bytes()
}

func TestCompileAndCall(t *testing.T) {
	ctx := context.Background()
	mod, err := engine.New().Compile(ctx, "calc", addModule(""), engine.CompileOptions{})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	defer mod.Close(ctx)

	inst, err := mod.Instantiate(ctx, engine.Capabilities{}, nil)
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}

	fn, ok := inst.CoreFunc("add")
	if !ok {
		t.Fatal("add not found")
	}
	out, err := fn(ctx, []uint64{2, 3})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if len(out) != 1 || uint32(out[0]) != 5 {
		t.Fatalf("got %v, want [5]", out)
	}

	if _, ok := inst.CoreFunc("missing"); ok {
		t.Fatal("found a function that does not exist")
	}
}

func TestCompileRejectsGarbage(t *testing.T) {
	_, err := engine.New().Compile(context.Background(), "junk", []byte("not wasm"), engine.CompileOptions{})
	if err == nil {
		t.Fatal("garbage accepted")
	}
}

func TestCompileRejectsOversizedMemoryLimit(t *testing.T) {
	opts := engine.CompileOptions{MemPages: 70000}
	_, err := engine.New().Compile(context.Background(), "big", addModule(""), opts)
	if !ferrors.IsKind(err, ferrors.KindInvalidInput) {
		t.Fatalf("err = %v, want invalid_input", err)
	}
}

func TestExportSignature(t *testing.T) {
	ctx := context.Background()
	mod, err := engine.New().Compile(ctx, "calc", addModule(""), engine.CompileOptions{})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	defer mod.Close(ctx)

	sig, ok := mod.ExportSignature("add")
	if !ok {
		t.Fatal("add signature not found")
	}
	want := adapter.CoreSignature{
		Params:  []adapter.CoreType{adapter.CoreI32, adapter.CoreI32},
		Results: []adapter.CoreType{adapter.CoreI32},
	}
	if sig.String() != want.String() {
		t.Fatalf("got %s, want %s", sig, want)
	}
	if mod.HasExport("sub") {
		t.Fatal("phantom export")
	}
}

func TestEmbeddedInterface(t *testing.T) {
	ctx := context.Background()
	text := "export add: func(a: i32, b: i32) -> i32\n"
	mod, err := engine.New().Compile(ctx, "calc", addModule(text), engine.CompileOptions{})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	defer mod.Close(ctx)

	got, ok, err := mod.EmbeddedInterface()
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if got != text {
		t.Fatalf("got %q", got)
	}
}

func TestGuestAllocator(t *testing.T) {
	ctx := context.Background()
	mod, err := engine.New().Compile(ctx, "alloc", allocModule(), engine.CompileOptions{})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	defer mod.Close(ctx)

	inst, err := mod.Instantiate(ctx, engine.Capabilities{}, nil)
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	alloc := inst.Allocator()
	if alloc == nil {
		t.Fatal("no allocator")
	}

	p1, err := alloc.Alloc(ctx, 16)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	p2, err := alloc.Alloc(ctx, 8)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if p1 != 1024 || p2 != 1040 {
		t.Fatalf("bump allocator returned %d, %d", p1, p2)
	}

	mem := inst.Memory()
	if mem == nil {
		t.Fatal("no memory")
	}
	if err := mem.Write(p1, []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := mem.Read(p1, 5)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(data, []byte("hello")) {
		t.Fatalf("read back %q", data)
	}

	if _, err := mem.Read(1<<20, 1); err == nil {
		t.Fatal("out-of-bounds read accepted")
	}
}

func TestHostImport(t *testing.T) {
	// quad(x) = double(double(x)) where double comes from the host
	b := wasm.NewBuilder()
	ti := b.Type([]wasm.ValType{wasm.ValI32}, []wasm.ValType{wasm.ValI32})
	double := b.Import("env", "double", ti)
	quad := b.Func(ti, nil,
		wasm.OpLocalGet, 0,
		wasm.OpCall, byte(double),
		wasm.OpCall, byte(double),
	)
	b.ExportFunc("quad", quad)

	ctx := context.Background()
	mod, err := engine.New().Compile(ctx, "quad", b.Bytes(), engine.CompileOptions{})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	defer mod.Close(ctx)

	decls := mod.ImportedFunctions()
	if len(decls) != 1 || decls[0].Module != "env" || decls[0].Name != "double" {
		t.Fatalf("imports = %+v", decls)
	}

	calls := 0
	hosts := []engine.HostImport{{
		Module:  "env",
		Name:    "double",
		Params:  []adapter.CoreType{adapter.CoreI32},
		Results: []adapter.CoreType{adapter.CoreI32},
		Fn: func(ctx context.Context, args []uint64) ([]uint64, error) {
			calls++
			return []uint64{args[0] * 2}, nil
		},
	}}
	inst, err := mod.Instantiate(ctx, engine.Capabilities{}, hosts)
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}

	fn, _ := inst.CoreFunc("quad")
	out, err := fn(ctx, []uint64{3})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if uint32(out[0]) != 12 {
		t.Fatalf("quad(3) = %d", out[0])
	}
	if calls != 2 {
		t.Fatalf("host called %d times", calls)
	}
}

func TestHostImportErrorTraps(t *testing.T) {
	b := wasm.NewBuilder()
	ti := b.Type(nil, nil)
	boom := b.Import("env", "boom", ti)
	f := b.Func(ti, nil, wasm.OpCall, byte(boom))
	b.ExportFunc("run", f)

	ctx := context.Background()
	mod, err := engine.New().Compile(ctx, "m", b.Bytes(), engine.CompileOptions{})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	defer mod.Close(ctx)

	wantErr := context.DeadlineExceeded // any sentinel will do
	hosts := []engine.HostImport{{
		Module: "env",
		Name:   "boom",
		Fn: func(ctx context.Context, args []uint64) ([]uint64, error) {
			return nil, wantErr
		},
	}}
	inst, err := mod.Instantiate(ctx, engine.Capabilities{}, hosts)
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}

	fn, _ := inst.CoreFunc("run")
	if _, err := fn(ctx, nil); err == nil {
		t.Fatal("host error did not trap the call")
	}
}
