package mmap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory(t *testing.T) {
	size := uint64(4096)
	paths := []string{"", filepath.Join(t.TempDir(), "TestMemory.mmap")}
	for _, path := range paths {
		mem := NewMemory(path, size)
		require.NoError(t, mem.Attach())

		p1 := (*uint32)(mem.Ptr())
		*p1 = 1234567

		p2 := (*uint32)(mem.PtrOffset(0))
		assert.Equal(t, *p1, *p2)
		assert.Equal(t, size, mem.Size())
		assert.Equal(t, path, mem.Path())
		assert.Panics(t, func() {
			_ = (*uint32)(mem.PtrOffset(size + 1))
		})

		require.NoError(t, mem.Detach())
		assert.Nil(t, mem.Ptr())
	}
}

func TestMemory_Resize(t *testing.T) {
	paths := []string{"", filepath.Join(t.TempDir(), "TestMemory_Resize.mmap")}
	for _, path := range paths {
		mem := NewMemory(path, 4096)
		require.NoError(t, mem.Attach())

		*(*uint64)(mem.PtrOffset(4088)) = 0xCAFEBABE

		require.NoError(t, mem.Resize(3*4096))
		assert.Equal(t, uint64(3*4096), mem.Size())
		assert.Equal(t, uint64(0xCAFEBABE), *(*uint64)(mem.PtrOffset(4088)))

		*(*uint64)(mem.PtrOffset(3*4096 - 8)) = 42
		require.NoError(t, mem.Resize(4096))
		assert.Equal(t, uint64(0xCAFEBABE), *(*uint64)(mem.PtrOffset(4088)))

		require.NoError(t, mem.Flush())
		require.NoError(t, mem.Detach())

		if path != "" {
			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, int64(4096), info.Size())
		}
	}
}

func TestMemory_AttachZero(t *testing.T) {
	mem := NewMemory("", 0)
	assert.Error(t, mem.Attach())
}
