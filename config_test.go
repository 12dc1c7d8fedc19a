package freelist

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeConfig(t *testing.T) {
	config := mergeConfig(nil)
	assert.Equal(t, HEAP, config.MemoryType)
	assert.Equal(t, maxSlots, config.MaxCapacity)
	assert.NotNil(t, config.Growth)
	assert.NotNil(t, config.Logger)
	assert.False(t, config.NoCoalesce)

	config = mergeConfig(&Config{MaxCapacity: -5})
	assert.Equal(t, maxSlots, config.MaxCapacity)

	config = mergeConfig(&Config{MaxCapacity: 100, MemoryType: MMAP, MemoryKey: "arena", NoCoalesce: true})
	assert.Equal(t, 100, config.MaxCapacity)
	assert.Equal(t, MMAP, config.MemoryType)
	assert.Equal(t, "arena", config.MemoryKey)
	assert.True(t, config.NoCoalesce)
	assert.NotNil(t, config.Growth)
}

func TestConfig_Logger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	fl := newEntityList(t, &Config{Logger: logger, MaxCapacity: 8})

	_, err := fl.Allocate(8)
	require.NoError(t, err)
	_, err = fl.Allocate(1)
	assert.ErrorIs(t, err, ErrCapacity)

	var records []map[string]any
	dec := json.NewDecoder(&buf)
	for dec.More() {
		var record map[string]any
		require.NoError(t, dec.Decode(&record))
		records = append(records, record)
	}
	require.Len(t, records, 2)

	assert.Equal(t, "freelist grow", records[0]["msg"])
	assert.Equal(t, "DEBUG", records[0]["level"])
	assert.EqualValues(t, 8, records[0]["to"])

	assert.Equal(t, "freelist capacity exhausted", records[1]["msg"])
	assert.Equal(t, "WARN", records[1]["level"])
	assert.EqualValues(t, 1, records[1]["need"])
}

func TestMemoryType_String(t *testing.T) {
	assert.Equal(t, "heap", HEAP.String())
	assert.Equal(t, "go", GO.String())
	assert.Equal(t, "shm", SHM.String())
	assert.Equal(t, "mmap", MMAP.String())
}
