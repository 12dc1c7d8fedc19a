package freelist

import (
	"reflect"
	"slices"
	"unsafe"

	"github.com/cockroachdb/errors"

	"github.com/leslie-fei/freelist/gom"
	"github.com/leslie-fei/freelist/mmap"
	"github.com/leslie-fei/freelist/shm"
)

// storage owns the contiguous slots of a Freelist. resize keeps the first
// min(old, n) slots; the slice returned by slots may move on every resize.
type storage[T any] interface {
	slots() []T
	resize(n int) error
	flush() error
	release() error
}

func newStorage[T any](config *Config) (storage[T], error) {
	if config.MemoryType == HEAP {
		return &heapStorage[T]{}, nil
	}

	var zero T
	if hasPointers(reflect.TypeOf(&zero).Elem()) {
		return nil, errors.Wrapf(ErrPointerElement, "%T on %s memory", zero, config.MemoryType)
	}

	var newMemory func(bytes uint64) Memory
	switch config.MemoryType {
	case GO:
		newMemory = func(bytes uint64) Memory { return gom.NewMemory(bytes) }
	case SHM:
		newMemory = func(bytes uint64) Memory { return shm.NewMemory(bytes) }
	case MMAP:
		key := config.MemoryKey
		newMemory = func(bytes uint64) Memory { return mmap.NewMemory(key, bytes) }
	default:
		return nil, errors.Wrapf(ErrUnknownMemoryType, "MemoryType: %d", config.MemoryType)
	}
	return &arenaStorage[T]{newMemory: newMemory, elemSize: unsafe.Sizeof(zero)}, nil
}

// heapStorage keeps the slots in a Go slice.
type heapStorage[T any] struct {
	data []T
}

func (s *heapStorage[T]) slots() []T {
	return s.data
}

func (s *heapStorage[T]) resize(n int) error {
	if n < len(s.data) {
		// clone so the dropped tail can be collected
		s.data = slices.Clone(s.data[:n])
		return nil
	}
	s.data = slices.Grow(s.data, n-len(s.data))[:n]
	return nil
}

func (s *heapStorage[T]) flush() error {
	return nil
}

func (s *heapStorage[T]) release() error {
	s.data = nil
	return nil
}

// arenaStorage lays the slots over raw Memory. Memory that cannot resize in
// place is replaced by a new block and the old content copied over.
type arenaStorage[T any] struct {
	newMemory func(bytes uint64) Memory
	mem       Memory
	elemSize  uintptr
	data      []T
}

func (s *arenaStorage[T]) slots() []T {
	return s.data
}

func (s *arenaStorage[T]) resize(n int) error {
	if n == len(s.data) {
		return nil
	}
	if n == 0 {
		return s.release()
	}

	bytes := uint64(n) * uint64(s.elemSize)
	if r, ok := s.mem.(Resizer); ok {
		if err := r.Resize(bytes); err != nil {
			// the memory is unchanged but its base pointer may be stale
			s.remap(len(s.data))
			return errors.Wrapf(err, "resize arena to %d bytes", bytes)
		}
		if !s.remap(n) {
			return invariantf("arena of %d bytes does not hold %d slots after resize", s.mem.Size(), n)
		}
		return nil
	}

	mem := s.newMemory(bytes)
	if err := mem.Attach(); err != nil {
		return errors.Wrapf(err, "attach arena of %d bytes", bytes)
	}
	if s.mem != nil {
		copy(memoryBytes(mem), memoryBytes(s.mem))
		if err := s.mem.Detach(); err != nil {
			_ = mem.Detach()
			return errors.Wrap(err, "detach old arena")
		}
	}
	s.mem = mem
	s.data = unsafe.Slice((*T)(mem.Ptr()), n)
	return nil
}

// remap points n slots at the current memory, which may have moved. It
// reports false and keeps the old slots when the memory cannot hold them.
func (s *arenaStorage[T]) remap(n int) bool {
	ptr := s.mem.Ptr()
	if ptr == nil || uint64(n)*uint64(s.elemSize) > s.mem.Size() {
		return false
	}
	s.data = unsafe.Slice((*T)(ptr), n)
	return true
}

func (s *arenaStorage[T]) flush() error {
	if f, ok := s.mem.(Flusher); ok {
		return f.Flush()
	}
	return nil
}

func (s *arenaStorage[T]) release() error {
	s.data = nil
	if s.mem == nil {
		return nil
	}
	mem := s.mem
	s.mem = nil
	return mem.Detach()
}

// hasPointers reports whether values of t hold anything the garbage
// collector traces.
func hasPointers(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.UnsafePointer, reflect.Map, reflect.Slice,
		reflect.String, reflect.Interface, reflect.Chan, reflect.Func:
		return true
	case reflect.Array:
		return t.Len() > 0 && hasPointers(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if hasPointers(t.Field(i).Type) {
				return true
			}
		}
	}
	return false
}
