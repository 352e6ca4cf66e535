package profiling

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nonEmpty(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestOptions_Enabled(t *testing.T) {
	assert.False(t, Options{}.Enabled())
	assert.True(t, Options{Heap: "heap.prof"}.Enabled())
}

func TestProfiler_WritesAllProfiles(t *testing.T) {
	// Given: every profile requested
	dir := t.TempDir()
	opts := Options{
		CPU:   filepath.Join(dir, "cpu.prof"),
		Heap:  filepath.Join(dir, "heap.prof"),
		Trace: filepath.Join(dir, "trace.out"),
	}

	// When: profiling some work
	p, err := Start(opts)
	require.NoError(t, err)
	sum := 0
	for i := 0; i < 1000000; i++ {
		sum += i
	}
	_ = sum
	require.NoError(t, p.Stop())

	// Then: every file has content
	nonEmpty(t, opts.CPU)
	nonEmpty(t, opts.Heap)
	nonEmpty(t, opts.Trace)
}

func TestProfiler_StopTwice(t *testing.T) {
	// Given: a running CPU profile
	p, err := Start(Options{CPU: filepath.Join(t.TempDir(), "cpu.prof")})
	require.NoError(t, err)

	// Then: stopping twice is harmless
	require.NoError(t, p.Stop())
	assert.NoError(t, p.Stop())
}

func TestStart_BadPath(t *testing.T) {
	// Given: a CPU profile path in a missing directory
	opts := Options{CPU: filepath.Join(t.TempDir(), "missing", "cpu.prof")}

	// When: starting
	_, err := Start(opts)

	// Then: it fails
	assert.Error(t, err)
}

func TestStart_TraceFailureStopsCPU(t *testing.T) {
	// Given: a valid CPU path and an invalid trace path
	dir := t.TempDir()
	opts := Options{
		CPU:   filepath.Join(dir, "cpu.prof"),
		Trace: filepath.Join(dir, "missing", "trace.out"),
	}

	// When: starting
	_, err := Start(opts)
	require.Error(t, err)

	// Then: CPU profiling was stopped, so it can start again
	p, err := Start(Options{CPU: filepath.Join(dir, "cpu2.prof")})
	require.NoError(t, err)
	assert.NoError(t, p.Stop())
}

func TestWriteHeap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heap.prof")

	require.NoError(t, WriteHeap(path))
	nonEmpty(t, path)
}
