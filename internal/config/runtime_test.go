package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeOverrides(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "overrides.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadRuntime_MissingFileUsesDefaults(t *testing.T) {
	rt, err := LoadRuntime(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), rt.FreeQuota)
	assert.Equal(t, 72*time.Hour, rt.DraftTTL)
	assert.Contains(t, rt.Plans, "month")
}

func TestLoadRuntime_OverridesMergeOntoDefaults(t *testing.T) {
	t.Setenv("BROKER_TONE", "playful")
	path := writeOverrides(t, `
free_quota: 5
tone: ${BROKER_TONE}
draft_ttl: 24h
pricing:
  base:
    tarot: 7
  multiplier: 2
  min: 1
  max: 10
`)

	rt, err := LoadRuntime(path)
	require.NoError(t, err)
	assert.Equal(t, int64(5), rt.FreeQuota)
	assert.Equal(t, "playful", rt.Tone)
	assert.Equal(t, 24*time.Hour, rt.DraftTTL)
	assert.Equal(t, int64(7), rt.Pricing.Base["tarot"])
	// untouched defaults survive the merge
	assert.Equal(t, int64(4), rt.Pricing.Base["compatibility"])
	assert.Equal(t, int64(2), rt.Pricing.Multiplier)
}

func TestLoadRuntime_RejectsInvalidBand(t *testing.T) {
	path := writeOverrides(t, "pricing:\n  min: 10\n  max: 5\n")
	_, err := LoadRuntime(path)
	assert.Error(t, err)
}

func TestRuntimeStore_ReloadSwapsSnapshot(t *testing.T) {
	path := writeOverrides(t, "free_quota: 1\n")
	store, err := NewRuntimeStore(path)
	require.NoError(t, err)

	before := store.Current()
	assert.Equal(t, int64(1), before.FreeQuota)

	require.NoError(t, os.WriteFile(path, []byte("free_quota: 9\n"), 0o644))
	after, err := store.Reload()
	require.NoError(t, err)

	assert.Equal(t, int64(9), after.FreeQuota)
	assert.Equal(t, int64(9), store.Current().FreeQuota)
	// the old snapshot is untouched
	assert.Equal(t, int64(1), before.FreeQuota)
}

func TestRuntimeStore_ReloadKeepsOldOnError(t *testing.T) {
	path := writeOverrides(t, "free_quota: 2\n")
	store, err := NewRuntimeStore(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("free_quota: [oops\n"), 0o644))
	_, err = store.Reload()
	assert.Error(t, err)
	assert.Equal(t, int64(2), store.Current().FreeQuota)
}
