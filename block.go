package freelist

import (
	"encoding/binary"
	"unsafe"

	"github.com/cockroachdb/errors"
)

const (
	// noBlock marks the end of the free list inside a header.
	noBlock = -1

	// maxSlots is the largest capacity a header can describe.
	maxSlots = 1<<31 - 1

	// HeaderSize is the smallest element size a Freelist accepts.
	HeaderSize = 8
)

var sizeOfBlockHeader = unsafe.Sizeof(blockHeader{})

// blockHeader is the raw record written into the first slot of a free run:
// element count followed by the index of the next free run, both int32
// little-endian. A byte array keeps the overlay free of alignment demands.
type blockHeader [8]byte

func (h *blockHeader) count() int {
	return int(int32(binary.LittleEndian.Uint32(h[0:4])))
}

func (h *blockHeader) setCount(n int) {
	binary.LittleEndian.PutUint32(h[0:4], uint32(int32(n)))
}

func (h *blockHeader) next() int {
	return int(int32(binary.LittleEndian.Uint32(h[4:8])))
}

func (h *blockHeader) setNext(next int) {
	binary.LittleEndian.PutUint32(h[4:8], uint32(int32(next)))
}

func (h *blockHeader) reset(count, next int) {
	h.setCount(count)
	h.setNext(next)
}

// block is a view of a free run starting at index. It is only valid while
// the run is free.
type block struct {
	index int
	hdr   *blockHeader
}

func (b block) Index() int {
	return b.index
}

func (b block) Count() int {
	return b.hdr.count()
}

// End returns the first index past the run.
func (b block) End() int {
	return b.index + b.hdr.count()
}

func (b block) Next() (int, bool) {
	next := b.hdr.next()
	return next, next != noBlock
}

func (b block) HasNext() bool {
	return b.hdr.next() != noBlock
}

// Connect points the block at next. No back-link is kept.
func (b block) Connect(next int) {
	b.hdr.setNext(next)
}

// Disconnect makes the block the tail of the list.
func (b block) Disconnect() {
	b.hdr.setNext(noBlock)
}

// Grow adds by slots to the run. It refuses to reach the next linked block;
// an abutting neighbour has to be absorbed with a merge instead.
func (b block) Grow(by int) (int, error) {
	count := b.hdr.count() + by
	if next, ok := b.Next(); ok && b.index+count >= next {
		return b.hdr.count(), errors.Wrapf(ErrOverlap, "block %d: grow by %d reaches block %d", b.index, by, next)
	}
	if b.index+count > maxSlots {
		return b.hdr.count(), errors.Wrapf(ErrCapacityOverflow, "block %d: grow by %d", b.index, by)
	}
	b.hdr.setCount(count)
	return count, nil
}

// Shrink removes by slots from the end of the run.
func (b block) Shrink(by int) (int, error) {
	count := b.hdr.count() - by
	if count <= 0 {
		return b.hdr.count(), errors.Wrapf(ErrUnderflow, "block %d: shrink %d by %d", b.index, b.hdr.count(), by)
	}
	b.hdr.setCount(count)
	return count, nil
}
