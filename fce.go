package fce

import "context"

// Memory is bounds-checked access to a guest's linear memory. Every method
// validates the requested range against the current memory size, which may
// have grown since the last access.
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	ReadU8(offset uint32) (uint8, error)
	ReadU32(offset uint32) (uint32, error)
	ReadU64(offset uint32) (uint64, error)
	WriteU8(offset uint32, value uint8) error
	WriteU32(offset uint32, value uint32) error
	WriteU64(offset uint32, value uint64) error

	// Size returns the current size of the memory in bytes.
	Size() uint32
}

// Allocator requests memory inside a guest's linear memory, normally by
// calling the guest's designated allocator export. The caller's context
// flows through so cancellation reaches the guest call.
type Allocator interface {
	Alloc(ctx context.Context, size uint32) (uint32, error)
	Free(ctx context.Context, ptr, size uint32)
}
