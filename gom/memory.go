package gom

import (
	"unsafe"

	"github.com/cockroachdb/errors"
)

// Memory based on go memory
type Memory struct {
	mem   []byte
	basep unsafe.Pointer
	bytes uint64
}

func NewMemory(bytes uint64) *Memory {
	return &Memory{bytes: bytes}
}

func (m *Memory) Attach() error {
	if nil == m.basep {
		if m.bytes == 0 {
			return errors.New("gom: attach zero sized memory")
		}
		// allocations of 8 bytes and more are at least 8 byte aligned
		m.mem = make([]byte, m.bytes)
		m.basep = unsafe.Pointer(unsafe.SliceData(m.mem))
	}
	return nil
}

func (m *Memory) Detach() error {
	if nil != m.basep {
		m.basep = unsafe.Pointer(nil)
		m.mem = nil
	}
	return nil
}

func (m *Memory) Ptr() unsafe.Pointer {
	return m.basep
}

func (m *Memory) Size() uint64 {
	return m.bytes
}

func (m *Memory) PtrOffset(offset uint64) unsafe.Pointer {
	if offset >= m.bytes {
		panic(errors.AssertionFailedf("offset overflow: %d > %d", offset, m.bytes))
	}
	return unsafe.Add(m.basep, offset)
}
