package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leslie-fei/freelist"
)

func runSimJSON(t *testing.T, args ...string) SimResult {
	t.Helper()
	out, err := runCommand(t, append([]string{"sim", "--json"}, args...)...)
	require.NoError(t, err)

	var result SimResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	return result
}

func TestSim_JSON(t *testing.T) {
	result := runSimJSON(t, "--seed", "7", "--ops", "2000")

	assert.Equal(t, "heap", result.Memory)
	assert.Equal(t, int64(7), result.Seed)
	assert.Equal(t, 2000, result.Ops)
	assert.Equal(t, result.Capacity, result.Used+result.Free)
	assert.Equal(t, result.Capacity*16, result.CapacityBytes)
	assert.Equal(t, 0, result.Failures)
	assert.Equal(t, 2000, result.Stats.AllocCalls+result.Stats.ReleaseCalls)
	assert.NotEmpty(t, result.Fingerprint)
	if result.Free > 0 {
		assert.Positive(t, result.FreeBlocks)
		assert.LessOrEqual(t, result.LargestFree, result.Free)
	}
}

func TestSim_JSONStatsKeys(t *testing.T) {
	out, err := runCommand(t, "sim", "--json", "--ops", "200")
	require.NoError(t, err)

	var doc struct {
		Stats map[string]any `json:"stats"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	stats := doc.Stats
	for _, key := range []string{
		"grow_calls", "grow_slots", "shrink_calls", "alloc_calls", "alloc_fast_path",
		"alloc_slow_path", "release_calls", "split_count", "merge_count",
	} {
		assert.Contains(t, stats, key)
	}
	assert.NotContains(t, stats, "GrowCalls")
	assert.Len(t, stats, 9)
}

func TestSim_Deterministic(t *testing.T) {
	first := runSimJSON(t, "--seed", "3", "--ops", "1500")
	second := runSimJSON(t, "--seed", "3", "--ops", "1500")
	other := runSimJSON(t, "--seed", "4", "--ops", "1500")

	assert.Equal(t, first, second)
	assert.NotEqual(t, first.Fingerprint, other.Fingerprint)
}

func TestSim_MaxCapacity(t *testing.T) {
	result := runSimJSON(t, "--ops", "500", "--release", "0", "--max-capacity", "256")

	assert.LessOrEqual(t, result.Capacity, 256)
	assert.Positive(t, result.Failures)
	assert.Equal(t, 500, result.Stats.AllocCalls)
}

func TestSim_NoCoalesceAndShrink(t *testing.T) {
	result := runSimJSON(t, "--ops", "3000", "--no-coalesce", "--shrink-every", "100")
	assert.Equal(t, 0, result.Stats.MergeCount)

	result = runSimJSON(t, "--ops", "3000", "--shrink-every", "100")
	assert.Positive(t, result.Stats.MergeCount)
}

func TestSim_Memory(t *testing.T) {
	heap := runSimJSON(t, "--seed", "9", "--ops", "1000")

	for _, args := range [][]string{
		{"--memory", "go"},
		{"--memory", "mmap"},
		{"--memory", "mmap", "--path", filepath.Join(t.TempDir(), "sim.arena")},
	} {
		t.Run(args[1]+"/"+filepath.Base(args[len(args)-1]), func(t *testing.T) {
			result := runSimJSON(t, append(args, "--seed", "9", "--ops", "1000")...)
			assert.Equal(t, heap.Fingerprint, result.Fingerprint)
			assert.Equal(t, heap.Stats, result.Stats)
		})
	}
}

func TestSim_FileArena(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.arena")
	result := runSimJSON(t, "--memory", "mmap", "--path", path, "--ops", "500", "--release", "20")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(result.CapacityBytes), info.Size())
}

func TestSim_Text(t *testing.T) {
	out, err := runCommand(t, "sim", "--ops", "20000", "--release", "10")
	require.NoError(t, err)

	assert.Contains(t, out, "Simulation:")
	assert.Contains(t, out, "Operations: 20,000")
	assert.Contains(t, out, "Fingerprint: ")
}

func TestSim_Errors(t *testing.T) {
	_, err := runCommand(t, "sim", "--memory", "disk")
	assert.ErrorIs(t, err, freelist.ErrUnknownMemoryType)

	_, err = runCommand(t, "sim", "--path", "arena")
	assert.Error(t, err)

	_, err = runCommand(t, "sim", "--release", "101")
	assert.Error(t, err)

	_, err = runCommand(t, "sim", "extra")
	assert.Error(t, err)
}

func TestInfo(t *testing.T) {
	out, err := runCommand(t, "info", "--json", "--from", "100", "--need", "10", "--steps", "3")
	require.NoError(t, err)

	var info InfoResult
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, freelist.HeaderSize, info.HeaderSize)
	assert.Equal(t, 16, info.ElementSize)
	assert.Equal(t, "heap", info.Memory)
	assert.Equal(t, []int{150, 225, 337}, info.Growth)

	out, err = runCommand(t, "info", "--steps", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Header size: 8 bytes")
	assert.Contains(t, out, "Max capacity: 2,147,483,647 elements")
	assert.Contains(t, out, " 2: 2\n")
}

func TestVersion(t *testing.T) {
	out, err := runCommand(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "freelistctl dev")
}
