package watermark_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/tally/internal/watermark"
)

func TestStoreSaveLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watermark.json")
	store := watermark.NewStore(path)

	end := time.Date(2025, 8, 10, 3, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(end))

	wm := store.Load()
	require.NotNil(t, wm)
	assert.True(t, wm.LastEndTime.Equal(end))
	assert.False(t, wm.UpdatedAt.IsZero())

	// No temp file left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "watermark.json", entries[0].Name())
}

func TestStoreSaveCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "watermark.json")
	store := watermark.NewStore(path)
	require.NoError(t, store.Save(time.Now()))
	assert.NotNil(t, store.Load())
}

func TestStoreLoadAbsent(t *testing.T) {
	store := watermark.NewStore(filepath.Join(t.TempDir(), "watermark.json"))
	assert.Nil(t, store.Load())
}

func TestStoreLoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watermark.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	// Corrupt state degrades to absent instead of blocking the run.
	store := watermark.NewStore(path)
	assert.Nil(t, store.Load())
}

func TestStoreLoadMissingField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watermark.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"updated_at":"2025-08-10T03:00:00Z"}`), 0o644))

	store := watermark.NewStore(path)
	assert.Nil(t, store.Load())
}

func TestStoreSaveOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watermark.json")
	store := watermark.NewStore(path)

	first := time.Date(2025, 8, 10, 3, 0, 0, 0, time.UTC)
	second := first.Add(6 * time.Hour)
	require.NoError(t, store.Save(first))
	require.NoError(t, store.Save(second))

	wm := store.Load()
	require.NotNil(t, wm)
	assert.True(t, wm.LastEndTime.Equal(second))
}

func TestStoreReset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watermark.json")
	store := watermark.NewStore(path)

	require.NoError(t, store.Save(time.Now()))
	require.NoError(t, store.Reset())
	assert.Nil(t, store.Load())

	// Resetting an absent watermark is not an error.
	require.NoError(t, store.Reset())
}
