package shm

import (
	"unsafe"

	"github.com/cockroachdb/errors"
)

var errUnsupported = errors.New("shm: shared memory not supported on this platform")

// Memory based on a private SysV shared memory segment. The segment is
// marked for removal right after it is attached, so it disappears with the
// last detach.
type Memory struct {
	shmid int    // shared memory handle
	bytes uint64 // shared memory size
	data  []byte // attached segment
}

func NewMemory(bytes uint64) *Memory {
	return &Memory{shmid: -1, bytes: bytes}
}

func (m *Memory) Handle() int {
	return m.shmid
}

func (m *Memory) Size() uint64 {
	return m.bytes
}

func (m *Memory) Ptr() unsafe.Pointer {
	if m.data == nil {
		return nil
	}
	return unsafe.Pointer(unsafe.SliceData(m.data))
}

func (m *Memory) PtrOffset(offset uint64) unsafe.Pointer {
	if offset >= m.bytes {
		panic(errors.AssertionFailedf("offset overflow: %d > %d", offset, m.bytes))
	}
	return unsafe.Add(m.Ptr(), offset)
}
