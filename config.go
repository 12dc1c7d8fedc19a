package freelist

import (
	"io"
	"log/slog"
)

type MemoryType int

const (
	// HEAP keeps slots in an ordinary Go slice of T
	HEAP MemoryType = iota
	// GO lays slots over a Go byte slice
	GO
	// SHM lays slots over a private SysV shared memory segment
	SHM
	// MMAP lays slots over an anonymous or file-backed mapping
	MMAP
)

func (t MemoryType) String() string {
	switch t {
	case HEAP:
		return "heap"
	case GO:
		return "go"
	case SHM:
		return "shm"
	case MMAP:
		return "mmap"
	}
	return "unknown"
}

type Config struct {
	// memory type in HEAP GO SHM MMAP
	MemoryType MemoryType
	// file backing an MMAP arena, anonymous mapping when empty
	MemoryKey string
	// growth policy used when no free block fits
	Growth GrowthPolicy
	// upper bound on capacity in elements
	MaxCapacity int
	// keep released ranges apart; callers merge with AttemptMerge
	NoCoalesce bool
	// keep block headers beside the slots instead of inside them
	SidecarHeaders bool
	// logger for growth events, discarded when nil
	Logger *slog.Logger
}

func DefaultConfig() *Config {
	var defaultConfig = &Config{
		MemoryType:  HEAP,
		Growth:      DefaultGrowth,
		MaxCapacity: maxSlots,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return defaultConfig
}

func mergeConfig(c *Config) *Config {
	config := DefaultConfig()
	if c == nil {
		return config
	}
	config.MemoryType = c.MemoryType
	config.MemoryKey = c.MemoryKey
	config.NoCoalesce = c.NoCoalesce
	config.SidecarHeaders = c.SidecarHeaders
	if c.Growth != nil {
		config.Growth = c.Growth
	}
	if c.MaxCapacity > 0 && c.MaxCapacity < maxSlots {
		config.MaxCapacity = c.MaxCapacity
	}
	if c.Logger != nil {
		config.Logger = c.Logger
	}
	return config
}
