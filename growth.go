package freelist

// GrowthPolicy decides the next total capacity when no free block fits.
// The result may fall short of minimum; the allocator keeps asking until a
// block fits. A policy that stops increasing capacity ends the allocation
// with ErrCapacity.
type GrowthPolicy interface {
	NextCapacity(current, minimum int) int
}

// GrowthFunc adapts a plain function to GrowthPolicy.
type GrowthFunc func(current, minimum int) int

func (f GrowthFunc) NextCapacity(current, minimum int) int {
	return f(current, minimum)
}

// DefaultGrowth grows by half of the current capacity, or straight to
// minimum when that is larger.
var DefaultGrowth GrowthPolicy = GrowthFunc(geometricGrowth)

func geometricGrowth(current, minimum int) int {
	return max(current+current/2, minimum)
}
