package freelist

import (
	"log/slog"
	"math"
	"math/bits"
	"reflect"
	"slices"
	"unsafe"

	"github.com/cockroachdb/errors"
)

// maxStalledGrowth is the number of consecutive growth attempts that may add
// no capacity before an allocation gives up.
const maxStalledGrowth = 2

// Freelist hands out runs of contiguous T slots from one backing buffer.
// Free runs form a singly linked list in address order; each run's header
// is written into its first slot (or a sidecar array, see Config).
//
// A Freelist is not safe for concurrent use. Growth and shrinking may move
// the buffer, so callers keep indices, never pointers, across those calls.
type Freelist[T any] struct {
	store     storage[T]
	meta      []blockHeader // sidecar headers, nil when overlaid
	sidecar   bool
	elemSize  int
	firstFree int
	used      int
	growth    GrowthPolicy
	maxCap    int
	coalesce  bool
	logger    *slog.Logger
	stats     Stats
}

// Stats counts allocator activity since construction.
type Stats struct {
	GrowCalls     int `json:"grow_calls"`      // capacity increases, Reserve included
	GrowSlots     int `json:"grow_slots"`      // slots added by growth
	ShrinkCalls   int `json:"shrink_calls"`    // capacity decreases
	AllocCalls    int `json:"alloc_calls"`     // successful and failed Allocate calls
	AllocFastPath int `json:"alloc_fast_path"` // allocations served without growth
	AllocSlowPath int `json:"alloc_slow_path"` // allocations that needed growth
	ReleaseCalls  int `json:"release_calls"`
	SplitCount    int `json:"split_count"` // oversized blocks split on allocation
	MergeCount    int `json:"merge_count"` // adjacent blocks merged
}

// New creates an empty Freelist. A nil config uses DefaultConfig.
func New[T any](c *Config) (*Freelist[T], error) {
	var zero T
	typ := reflect.TypeOf(&zero).Elem()
	size := unsafe.Sizeof(zero)
	if size < sizeOfBlockHeader {
		return nil, errors.Wrapf(ErrElementTooSmall, "%s is %d bytes, header needs %d", typ, size, sizeOfBlockHeader)
	}

	config := mergeConfig(c)
	store, err := newStorage[T](config)
	if err != nil {
		return nil, err
	}

	return &Freelist[T]{
		store:     store,
		sidecar:   config.SidecarHeaders || hasPointers(typ),
		elemSize:  int(size),
		firstFree: noBlock,
		growth:    config.Growth,
		maxCap:    config.MaxCapacity,
		coalesce:  !config.NoCoalesce,
		logger:    config.Logger,
	}, nil
}

// SetGrowthPolicy replaces the growth policy; nil restores DefaultGrowth.
func (f *Freelist[T]) SetGrowthPolicy(p GrowthPolicy) {
	if p == nil {
		p = DefaultGrowth
	}
	f.growth = p
}

// Reserve grows capacity to exactly minimum elements. It does nothing when
// the capacity is already large enough.
func (f *Freelist[T]) Reserve(minimum int) error {
	if minimum <= f.Capacity() {
		return nil
	}
	if minimum > f.maxCap {
		return errors.Wrapf(ErrCapacity, "reserve %d exceeds max capacity %d", minimum, f.maxCap)
	}
	return f.extend(minimum)
}

// Allocate commits n contiguous slots and returns the index of the first.
// The slots keep whatever bytes they held before, including stale headers.
func (f *Freelist[T]) Allocate(n int) (int, error) {
	f.stats.AllocCalls++
	if n <= 0 {
		return 0, errors.Wrapf(ErrBadCount, "allocate %d", n)
	}
	if n > f.maxCap {
		return 0, errors.Wrapf(ErrCapacity, "allocate %d exceeds max capacity %d", n, f.maxCap)
	}

	grew := false
	stalled := 0
	for {
		prev, index, ok := f.findFirstFit(n)
		if ok {
			if err := f.commitBlock(prev, index, n); err != nil {
				return 0, err
			}
			f.used += n
			if grew {
				f.stats.AllocSlowPath++
			} else {
				f.stats.AllocFastPath++
			}
			return index, nil
		}

		if stalled >= maxStalledGrowth {
			f.logger.Warn("freelist capacity exhausted", "need", n, "capacity", f.Capacity(), "free", f.Free())
			return 0, errors.Wrapf(ErrCapacity, "allocate %d with capacity %d", n, f.Capacity())
		}

		added, err := f.growCapacity(f.Capacity() + n - f.trailingFree())
		if err != nil {
			return 0, err
		}
		if added {
			grew = true
			stalled = 0
		} else {
			stalled++
		}
	}
}

// Release returns [index, index+n) to the free list. The range must be
// inside the capacity and must not overlap a free block. With coalescing
// enabled the range is merged with free neighbours that touch it.
func (f *Freelist[T]) Release(index, n int) error {
	if n <= 0 {
		return errors.Wrapf(ErrBadCount, "release %d at %d", n, index)
	}
	if index < 0 || index > f.Capacity()-n {
		return errors.Wrapf(ErrOutOfRange, "release [%d, %d) with capacity %d", index, index+n, f.Capacity())
	}

	// address ordered insertion point
	prev, cur := noBlock, f.firstFree
	for cur != noBlock && cur < index {
		prev = cur
		cur = f.block(cur).hdr.next()
	}
	if prev != noBlock && f.block(prev).End() > index {
		return errors.Wrapf(ErrNotAllocated, "release [%d, %d): block %d is free", index, index+n, prev)
	}
	if cur != noBlock && index+n > cur {
		return errors.Wrapf(ErrNotAllocated, "release [%d, %d): block %d is free", index, index+n, cur)
	}

	f.newBlock(index, n, cur)
	f.link(prev, index)
	f.used -= n
	f.stats.ReleaseCalls++

	if f.coalesce {
		if cur != noBlock {
			f.merge(index, cur)
		}
		if prev != noBlock {
			f.merge(prev, index)
		}
	}
	return nil
}

// AttemptMerge joins free block b into free block a when b directly follows
// a in both address space and the list. It returns whether the merge took
// place; b no longer exists afterwards.
func (f *Freelist[T]) AttemptMerge(a, b int) bool {
	capacity := f.Capacity()
	if a < 0 || a >= capacity || b < 0 || b >= capacity {
		return false
	}
	for cur := f.firstFree; cur != noBlock && cur <= a; {
		next := f.block(cur).hdr.next()
		if cur == a {
			return next == b && f.merge(a, b)
		}
		cur = next
	}
	return false
}

// ShrinkTo gives trailing free slots back to the backing store until the
// capacity is minimum or the last occupied slot ends the buffer.
func (f *Freelist[T]) ShrinkTo(minimum int) error {
	if minimum < 0 {
		return errors.Wrapf(ErrOutOfRange, "shrink to %d", minimum)
	}
	capacity := f.Capacity()
	if minimum >= capacity {
		return nil
	}
	prev, last := f.findLast()
	if last == noBlock || f.block(last).End() != capacity {
		return nil
	}

	newCap := max(minimum, last)
	if err := f.store.resize(newCap); err != nil {
		return errors.Wrapf(err, "shrink from %d to %d", capacity, newCap)
	}
	if newCap == last {
		f.link(prev, noBlock)
	} else if _, err := f.block(last).Shrink(capacity - newCap); err != nil {
		return err
	}
	if f.sidecar {
		f.meta = resizeHeaders(f.meta, newCap)
	}

	f.stats.ShrinkCalls++
	f.logger.Debug("freelist shrink", "from", capacity, "to", newCap)
	return nil
}

// At returns the slot at index. The pointer is valid until the next call
// that changes capacity.
func (f *Freelist[T]) At(index int) *T {
	return &f.store.slots()[index]
}

// Slice returns the n slots starting at index, with the same lifetime as At.
func (f *Freelist[T]) Slice(index, n int) []T {
	return f.store.slots()[index : index+n : index+n]
}

// Walk calls fn for every free block in list order until fn returns false.
func (f *Freelist[T]) Walk(fn func(index, count int) bool) {
	for cur := f.firstFree; cur != noBlock; {
		b := f.block(cur)
		if !fn(cur, b.Count()) {
			return
		}
		cur = b.hdr.next()
	}
}

// Validate walks the free list and checks the bookkeeping.
func (f *Freelist[T]) Validate() error {
	capacity := f.Capacity()
	free, end, steps := 0, 0, 0
	for cur := f.firstFree; cur != noBlock; {
		if cur < 0 || cur >= capacity {
			return invariantf("block index %d outside capacity %d", cur, capacity)
		}
		if cur < end {
			return invariantf("block %d starts before previous block end %d", cur, end)
		}
		if f.coalesce && steps > 0 && cur == end {
			return invariantf("block %d touches previous block", cur)
		}
		b := f.block(cur)
		if b.Count() <= 0 {
			return invariantf("block %d has count %d", cur, b.Count())
		}
		if b.End() > capacity {
			return invariantf("block %d ends at %d past capacity %d", cur, b.End(), capacity)
		}
		free += b.Count()
		end = b.End()
		steps++
		cur = b.hdr.next()
	}
	if f.used < 0 || f.used+free != capacity {
		return invariantf("used %d + free %d != capacity %d", f.used, free, capacity)
	}
	return nil
}

// Flush writes the slots of a file-backed MMAP arena to the file. It does
// nothing for other memory types.
func (f *Freelist[T]) Flush() error {
	return errors.Wrap(f.store.flush(), "flush arena")
}

// Close releases the backing storage. The Freelist is empty afterwards.
func (f *Freelist[T]) Close() error {
	f.firstFree = noBlock
	f.used = 0
	f.meta = nil
	return f.store.release()
}

func (f *Freelist[T]) Stats() Stats {
	return f.stats
}

func (f *Freelist[T]) ElementSize() int {
	return f.elemSize
}

func (f *Freelist[T]) Capacity() int {
	return len(f.store.slots())
}

// CapacityBytes returns the buffer size in bytes, or ErrCapacityOverflow when
// it does not fit an int.
func (f *Freelist[T]) CapacityBytes() (int, error) {
	bytes, ok := mulBytes(f.Capacity(), f.elemSize)
	if !ok {
		return 0, errors.Wrapf(ErrCapacityOverflow, "%d elements of %d bytes", f.Capacity(), f.elemSize)
	}
	return bytes, nil
}

func (f *Freelist[T]) Used() int {
	return f.used
}

func (f *Freelist[T]) UsedBytes() int {
	return f.used * f.elemSize
}

func (f *Freelist[T]) Free() int {
	return f.Capacity() - f.used
}

func (f *Freelist[T]) FreeBytes() int {
	return f.Free() * f.elemSize
}

func (f *Freelist[T]) HasFreeBlock() bool {
	return f.firstFree != noBlock
}

func (f *Freelist[T]) header(index int) *blockHeader {
	if f.sidecar {
		return &f.meta[index]
	}
	return (*blockHeader)(unsafe.Pointer(&f.store.slots()[index]))
}

func (f *Freelist[T]) block(index int) block {
	return block{index: index, hdr: f.header(index)}
}

func (f *Freelist[T]) newBlock(index, count, next int) block {
	b := f.block(index)
	b.hdr.reset(count, next)
	return b
}

// link points prev, or the list head when prev is noBlock, at target.
func (f *Freelist[T]) link(prev, target int) {
	if prev == noBlock {
		f.firstFree = target
		return
	}
	f.block(prev).Connect(target)
}

// findFirstFit returns the first block holding at least n slots and the
// block before it. On a miss prev is the last block of the list.
func (f *Freelist[T]) findFirstFit(n int) (prev, index int, ok bool) {
	prev = noBlock
	for cur := f.firstFree; cur != noBlock; {
		b := f.block(cur)
		if b.Count() >= n {
			return prev, cur, true
		}
		prev = cur
		cur = b.hdr.next()
	}
	return prev, noBlock, false
}

func (f *Freelist[T]) findLast() (prev, last int) {
	prev, last = noBlock, noBlock
	for cur := f.firstFree; cur != noBlock; cur = f.block(cur).hdr.next() {
		prev, last = last, cur
	}
	return prev, last
}

// trailingFree is the size of the free block ending at the capacity, if any.
func (f *Freelist[T]) trailingFree() int {
	_, last := f.findLast()
	if last == noBlock {
		return 0
	}
	if b := f.block(last); b.End() == f.Capacity() {
		return b.Count()
	}
	return 0
}

func (f *Freelist[T]) commitBlock(prev, index, n int) error {
	b := f.block(index)
	count := b.Count()
	next := b.hdr.next()
	switch {
	case count == n:
		f.link(prev, next)
	case count > n:
		tail := f.newBlock(index+n, count-n, next)
		f.link(prev, tail.Index())
		f.stats.SplitCount++
	default:
		return invariantf("block %d holds %d slots, %d requested", index, count, n)
	}
	return nil
}

// merge absorbs b into a when b starts where a ends. b must be a's successor.
func (f *Freelist[T]) merge(a, b int) bool {
	first := f.block(a)
	if first.End() != b {
		return false
	}
	second := f.block(b)
	first.hdr.setCount(first.Count() + second.Count())
	first.Connect(second.hdr.next())
	f.stats.MergeCount++
	return true
}

// growCapacity asks the growth policy for more room. It reports false when
// the policy added nothing.
func (f *Freelist[T]) growCapacity(minimum int) (bool, error) {
	current := f.Capacity()
	next := min(f.growth.NextCapacity(current, minimum), f.maxCap)
	if next <= current {
		return false, nil
	}
	if err := f.extend(next); err != nil {
		return false, err
	}
	return true, nil
}

// extend resizes the storage to capacity slots and hands the new slots to
// the free list, either by growing the block that ends the buffer or by
// appending a new block.
func (f *Freelist[T]) extend(capacity int) error {
	old := f.Capacity()
	if _, ok := mulBytes(capacity, f.elemSize); !ok || capacity > maxSlots {
		return errors.Wrapf(ErrCapacityOverflow, "%d elements of %d bytes", capacity, f.elemSize)
	}
	if err := f.store.resize(capacity); err != nil {
		return errors.Wrapf(err, "grow from %d to %d", old, capacity)
	}
	if f.sidecar {
		f.meta = resizeHeaders(f.meta, capacity)
	}

	added := capacity - old
	_, last := f.findLast()
	extended := last != noBlock && f.block(last).End() == old
	if extended {
		if _, err := f.block(last).Grow(added); err != nil {
			return err
		}
	} else {
		f.newBlock(old, added, noBlock)
		f.link(last, old)
	}

	f.stats.GrowCalls++
	f.stats.GrowSlots += added
	f.logger.Debug("freelist grow", "from", old, "to", capacity, "extended", extended)
	return nil
}

func resizeHeaders(meta []blockHeader, n int) []blockHeader {
	if n < len(meta) {
		return slices.Clone(meta[:n])
	}
	return slices.Grow(meta, n-len(meta))[:n]
}

// mulBytes multiplies an element count by a size, reporting whether the
// product fits an int.
func mulBytes(count, size int) (int, bool) {
	hi, lo := bits.Mul64(uint64(count), uint64(size))
	if hi != 0 || lo > math.MaxInt {
		return 0, false
	}
	return int(lo), true
}
