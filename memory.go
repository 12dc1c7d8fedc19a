package freelist

import (
	"unsafe"
)

const (
	KB = 1024
	MB = 1024 * KB
	GB = 1024 * MB
)

// Memory is a block of raw bytes a Freelist can lay its slots over.
type Memory interface {
	// Attach maps or allocates the memory
	Attach() error
	// Detach releases the memory, the content is lost
	Detach() error
	// Ptr first byte
	Ptr() unsafe.Pointer
	// Size memory total size
	Size() uint64
}

// Resizer is implemented by memory that can change size while keeping its
// content. The base pointer may move. On error the memory keeps its old size
// and content.
type Resizer interface {
	Resize(bytes uint64) error
}

// Flusher is implemented by memory backed by a file.
type Flusher interface {
	Flush() error
}

// memoryBytes returns the attached memory as a byte slice.
func memoryBytes(mem Memory) []byte {
	if mem == nil || mem.Ptr() == nil || mem.Size() == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(mem.Ptr()), int(mem.Size()))
}
