package engine

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/mengsuenyan/fce"
	"github.com/mengsuenyan/fce/adapter"
	ferrors "github.com/mengsuenyan/fce/errors"
)

// Instance is a running module. It exposes the raw numeric surface the
// adapter interpreter binds to. An Instance is not safe for concurrent
// use; the linker serializes calls per instance.
type Instance struct {
	mod    api.Module
	memory *instanceMemory
	alloc  *guestAllocator
	name   string
}

func (i *Instance) Name() string { return i.name }

// Memory returns the instance's linear memory, or nil when the module
// declares none.
func (i *Instance) Memory() fce.Memory {
	if i.memory == nil {
		return nil
	}
	return i.memory
}

// Allocator returns the guest allocator, or nil when the module exports
// none.
func (i *Instance) Allocator() fce.Allocator {
	if i.alloc == nil {
		return nil
	}
	return i.alloc
}

// CoreFunc returns a callable for one raw exported function. Host trap
// panics raised inside imports are recovered here and surface as errors.
func (i *Instance) CoreFunc(name string) (adapter.CoreFunc, bool) {
	fn := i.mod.ExportedFunction(name)
	if fn == nil {
		return nil, false
	}
	return func(ctx context.Context, args []uint64) (out []uint64, err error) {
		defer func() {
			if r := recover(); r != nil {
				if t, ok := r.(hostTrap); ok {
					err = t.err
					return
				}
				panic(r)
			}
		}()
		out, err = fn.Call(ctx, args...)
		if err != nil {
			err = ferrors.Wrap(ferrors.PhaseTrap, ferrors.KindInternal, err,
				fmt.Sprintf("%s.%s trapped", i.name, name))
		}
		return out, err
	}, true
}

// Close releases the instance. The owning Module's runtime survives.
func (i *Instance) Close(ctx context.Context) error {
	return i.mod.Close(ctx)
}

// instanceMemory adapts wazero memory to the bounds-checked Memory
// interface.
type instanceMemory struct {
	mem api.Memory
}

func (m *instanceMemory) Read(offset uint32, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, ferrors.OutOfBounds(offset, length, m.mem.Size())
	}
	// the wazero view aliases guest memory; copy so later guest calls
	// cannot mutate lifted values
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *instanceMemory) Write(offset uint32, data []byte) error {
	if !m.mem.Write(offset, data) {
		return ferrors.OutOfBounds(offset, uint32(len(data)), m.mem.Size())
	}
	return nil
}

func (m *instanceMemory) ReadU8(offset uint32) (uint8, error) {
	v, ok := m.mem.ReadByte(offset)
	if !ok {
		return 0, ferrors.OutOfBounds(offset, 1, m.mem.Size())
	}
	return v, nil
}

func (m *instanceMemory) ReadU32(offset uint32) (uint32, error) {
	v, ok := m.mem.ReadUint32Le(offset)
	if !ok {
		return 0, ferrors.OutOfBounds(offset, 4, m.mem.Size())
	}
	return v, nil
}

func (m *instanceMemory) ReadU64(offset uint32) (uint64, error) {
	v, ok := m.mem.ReadUint64Le(offset)
	if !ok {
		return 0, ferrors.OutOfBounds(offset, 8, m.mem.Size())
	}
	return v, nil
}

func (m *instanceMemory) WriteU8(offset uint32, value uint8) error {
	if !m.mem.WriteByte(offset, value) {
		return ferrors.OutOfBounds(offset, 1, m.mem.Size())
	}
	return nil
}

func (m *instanceMemory) WriteU32(offset uint32, value uint32) error {
	if !m.mem.WriteUint32Le(offset, value) {
		return ferrors.OutOfBounds(offset, 4, m.mem.Size())
	}
	return nil
}

func (m *instanceMemory) WriteU64(offset uint32, value uint64) error {
	if !m.mem.WriteUint64Le(offset, value) {
		return ferrors.OutOfBounds(offset, 8, m.mem.Size())
	}
	return nil
}

func (m *instanceMemory) Size() uint32 { return m.mem.Size() }

var _ fce.Memory = (*instanceMemory)(nil)

// guestAllocator calls the guest's own allocator exports.
type guestAllocator struct {
	alloc api.Function
	free  api.Function
}

func (a *guestAllocator) Alloc(ctx context.Context, size uint32) (uint32, error) {
	out, err := a.alloc.Call(ctx, uint64(size))
	if err != nil {
		return 0, err
	}
	if len(out) != 1 {
		return 0, ferrors.Internal("allocator returned %d values", len(out))
	}
	return uint32(out[0]), nil
}

func (a *guestAllocator) Free(ctx context.Context, ptr, size uint32) {
	if a.free == nil || ptr == 0 {
		return
	}
	if _, err := a.free.Call(ctx, uint64(ptr), uint64(size)); err != nil {
		Logger().Warn("guest deallocate failed",
			zap.Uint32("ptr", ptr),
			zap.Uint32("size", size),
			zap.Error(err))
	}
}

var _ fce.Allocator = (*guestAllocator)(nil)
