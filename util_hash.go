package freelist

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint hashes the capacity, the used count and every free block.
// Two lists driven through the same operations have equal fingerprints.
func (f *Freelist[T]) Fingerprint() uint64 {
	d := xxhash.New()
	var buf [8]byte
	write := func(v int) {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		_, _ = d.Write(buf[:])
	}
	write(f.Capacity())
	write(f.used)
	f.Walk(func(index, count int) bool {
		write(index)
		write(count)
		return true
	})
	return d.Sum64()
}
