package freelist

import "github.com/cockroachdb/errors"

var (
	ErrElementTooSmall   = errors.New("freelist: element type smaller than block header")
	ErrPointerElement    = errors.New("freelist: element type holds pointers, memory type needs plain data")
	ErrUnknownMemoryType = errors.New("freelist: memory type not supported")
	ErrOverlap           = errors.New("freelist: block would overlap the next free block")
	ErrUnderflow         = errors.New("freelist: block count would drop to zero")
	ErrCapacityOverflow  = errors.New("freelist: capacity exceeds representable size")
	ErrCapacity          = errors.New("freelist: growth policy cannot provide a large enough block")
	ErrInvariant         = errors.New("freelist: invariant violated")
	ErrBadCount          = errors.New("freelist: element count must be positive")
	ErrOutOfRange        = errors.New("freelist: range outside capacity")
	ErrNotAllocated      = errors.New("freelist: range overlaps a free block")
)

// invariantf reports a broken internal invariant. The result is an assertion
// failure that also matches ErrInvariant.
func invariantf(format string, args ...interface{}) error {
	return errors.Mark(errors.AssertionFailedf(format, args...), ErrInvariant)
}
