package mmap

import (
	"os"
	"unsafe"

	"github.com/cockroachdb/errors"
	mmapgo "github.com/edsrzf/mmap-go"
)

// Memory based on a memory mapping. An empty filepath maps anonymous memory,
// otherwise the file is created (truncated) and mapped shared.
type Memory struct {
	filepath string
	bytes    uint64
	file     *os.File
	mmap     mmapgo.MMap
	basep    unsafe.Pointer
}

func NewMemory(filepath string, bytes uint64) *Memory {
	return &Memory{filepath: filepath, bytes: bytes}
}

func (m *Memory) Attach() (err error) {
	if m.basep != nil {
		return nil
	}
	if m.bytes == 0 {
		return errors.New("mmap: attach zero sized memory")
	}

	if m.filepath != "" {
		m.file, err = os.OpenFile(m.filepath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o666)
		if err != nil {
			return errors.Wrapf(err, "mmap: open %s", m.filepath)
		}
	}

	m.mmap, err = m.mapRegion(m.bytes)
	if err != nil {
		if m.file != nil {
			_ = m.file.Close()
			m.file = nil
		}
		return errors.Wrapf(err, "mmap: map %d bytes", m.bytes)
	}
	m.basep = unsafe.Pointer(unsafe.SliceData(m.mmap))
	return nil
}

func (m *Memory) mapRegion(bytes uint64) (mmapgo.MMap, error) {
	if m.file == nil {
		return mmapgo.MapRegion(nil, int(bytes), mmapgo.RDWR, mmapgo.ANON, 0)
	}
	if err := m.file.Truncate(int64(bytes)); err != nil {
		return nil, err
	}
	return mmapgo.MapRegion(m.file, int(bytes), mmapgo.RDWR, 0, 0)
}

// Resize changes the mapping size keeping the content. The new region is
// mapped before the old one is released, so on error the memory keeps its
// old size and content. File mappings map the resized file, anonymous ones
// are copied.
func (m *Memory) Resize(bytes uint64) error {
	if m.basep == nil {
		m.bytes = bytes
		return m.Attach()
	}
	if bytes == 0 {
		return errors.New("mmap: resize to zero")
	}

	var next mmapgo.MMap
	var err error
	if m.file != nil {
		next, err = m.remapFile(bytes)
	} else if next, err = m.mapRegion(bytes); err == nil {
		copy(next, m.mmap)
	}
	if err != nil {
		return errors.Wrapf(err, "mmap: resize %d to %d bytes", m.bytes, bytes)
	}
	if err = m.mmap.Unmap(); err != nil {
		_ = next.Unmap()
		return errors.Wrap(err, "mmap: unmap old region")
	}

	old := m.bytes
	m.mmap = next
	m.bytes = bytes
	m.basep = unsafe.Pointer(unsafe.SliceData(m.mmap))

	if m.file != nil && bytes < old {
		// the mapping is already valid at the new size, a longer file only
		// costs disk space
		_ = m.file.Truncate(int64(bytes))
	}
	return nil
}

// remapFile maps bytes of the backing file next to the current mapping. A
// growing file is extended first and cut back when the mapping fails.
func (m *Memory) remapFile(bytes uint64) (mmapgo.MMap, error) {
	grow := bytes > m.bytes
	if grow {
		if err := m.file.Truncate(int64(bytes)); err != nil {
			_ = m.file.Truncate(int64(m.bytes))
			return nil, err
		}
	}
	next, err := mmapgo.MapRegion(m.file, int(bytes), mmapgo.RDWR, 0, 0)
	if err != nil {
		if grow {
			_ = m.file.Truncate(int64(m.bytes))
		}
		return nil, err
	}
	return next, nil
}

// Flush writes a file mapping back to disk.
func (m *Memory) Flush() error {
	if m.mmap == nil {
		return nil
	}
	return m.mmap.Flush()
}

func (m *Memory) Detach() error {
	if m.mmap != nil {
		if err := m.mmap.Unmap(); err != nil {
			return err
		}
		m.mmap = nil
		m.basep = nil
	}

	if m.file != nil {
		err := m.file.Close()
		m.file = nil
		return err
	}

	return nil
}

func (m *Memory) Path() string {
	return m.filepath
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
