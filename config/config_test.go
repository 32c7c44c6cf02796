package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/chazu/kestrel/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o644))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[vm]
max_frames = 500
max_native_depth = 32
max_tasks_per_drain = 100

[gc]
min_threshold = 64
growth_factor = 1.5
max_objects = 100000
stress = true

[log]
verbosity = 2
path = "kestrel.log"
`)

	c, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 500, c.VM.MaxFrames)
	assert.Equal(t, 32, c.VM.MaxNativeDepth)
	assert.Equal(t, 100, c.VM.MaxTasksPerDrain)
	assert.Equal(t, 64, c.GC.MinThreshold)
	assert.Equal(t, 1.5, c.GC.GrowthFactor)
	assert.Equal(t, 100000, c.GC.MaxObjects)
	assert.True(t, c.GC.Stress)
	assert.Equal(t, 2, c.Log.Verbosity)
	assert.Equal(t, "kestrel.log", c.Log.Path)
	assert.True(t, filepath.IsAbs(c.Path))

	opts := c.VMOptions()
	assert.Equal(t, vm.Options{
		MaxFrames:        500,
		MaxNativeDepth:   32,
		MaxTasksPerDrain: 100,
		GC: vm.GCOptions{
			MinThreshold: 64,
			GrowthFactor: 1.5,
			MaxObjects:   100000,
			Stress:       true,
		},
	}, opts)
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[gc]
stress = true
`)

	c, err := Load(dir)
	require.NoError(t, err)
	want := vm.DefaultOptions()
	want.GC.Stress = true
	assert.Equal(t, want, c.VMOptions())
}

func TestDefaultMatchesVM(t *testing.T) {
	assert.Equal(t, vm.DefaultOptions(), Default().VMOptions())
	assert.Empty(t, Default().Path)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadParseError(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "[vm\nmax_frames = ")
	_, err := Load(dir)
	require.ErrorContains(t, err, "parse error in")
}

func TestLoadTypeMismatch(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[vm]
max_frames = "many"
`)
	_, err := Load(dir)
	require.Error(t, err)
}

// Every bad setting is reported at once.
func TestValidate(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[vm]
max_frames = -1
max_tasks_per_drain = -3

[gc]
growth_factor = 0.5
`)
	_, err := Load(dir)
	require.Error(t, err)
	for _, want := range []string{
		"vm.max_frames must be positive, got -1",
		"vm.max_tasks_per_drain must not be negative, got -3",
		"gc.growth_factor must be at least 1, got 0.5",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateMaxObjectsBelowThreshold(t *testing.T) {
	c := Default()
	c.GC.MaxObjects = 10
	require.ErrorContains(t, c.Validate(), "gc.max_objects 10 is below gc.min_threshold 1024")
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, `
[vm]
max_frames = 77
`)
	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	c, err := FindAndLoad(nested)
	require.NoError(t, err)
	assert.Equal(t, 77, c.VM.MaxFrames)
	assert.Equal(t, filepath.Join(root, FileName), c.Path)
}

func TestFindAndLoadFallsBackToDefaults(t *testing.T) {
	// Assumes no kestrel.toml in the temp directory's ancestors.
	c, err := FindAndLoad(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, vm.DefaultOptions(), c.VMOptions())
}
