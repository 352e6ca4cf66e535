package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amanfind/internal/errors"
)

func TestLoad_ZeroValuesNotMerged(t *testing.T) {
	isolate(t)

	// Given: a config that explicitly writes zero values
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".amanfind.yaml"), "search:\n  max_results: 0\n  bm25_k1: 0\nindex:\n  queue_size: 0\n")

	// When: loading configuration
	cfg, err := Load(dir)

	// Then: zero values do not clobber defaults
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Search.MaxResults)
	assert.Equal(t, 1.2, cfg.Search.K1)
	assert.Equal(t, 1000, cfg.Index.QueueSize)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	isolate(t)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty index dir", func(c *Config) { c.Index.Directory = "  " }},
		{"negative workers", func(c *Config) { c.Index.Workers = -1 }},
		{"zero queue", func(c *Config) { c.Index.QueueSize = 0 }},
		{"zero flush", func(c *Config) { c.Index.FlushDocs = 0 }},
		{"zero max bytes", func(c *Config) { c.Index.MaxContentBytes = 0 }},
		{"zero max tokens", func(c *Config) { c.Index.MaxContentTokens = 0 }},
		{"zero max results", func(c *Config) { c.Search.MaxResults = 0 }},
		{"negative k1", func(c *Config) { c.Search.K1 = -0.1 }},
		{"b above one", func(c *Config) { c.Search.B = 1.01 }},
		{"negative b", func(c *Config) { c.Search.B = -0.01 }},
		{"negative cache", func(c *Config) { c.Search.CacheSize = -1 }},
		{"unknown level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"ignore file with a path", func(c *Config) { c.Index.IgnoreFiles = []string{"sub/.ignore"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: defaults with one bad field
			cfg := NewConfig()
			tt.mutate(cfg)

			// When: validating
			err := cfg.Validate()

			// Then: a config error is returned
			require.Error(t, err)
			assert.Equal(t, amerrors.ErrCodeConfigInvalid, amerrors.GetCode(err))
		})
	}
}

func TestValidate_AcceptsBoundaries(t *testing.T) {
	isolate(t)

	// Given: boundary values that are allowed
	cfg := NewConfig()
	cfg.Index.Workers = 0
	cfg.Search.K1 = 0
	cfg.Search.B = 1
	cfg.Search.CacheSize = 0
	cfg.Logging.Level = "WARN"

	// Then: validation passes
	assert.NoError(t, cfg.Validate())
}

func TestLoad_NegativeValues_Validated(t *testing.T) {
	isolate(t)

	// Given: a project file with a negative worker count
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".amanfind.yaml"), "index:\n  workers: -4\n")

	// When: loading configuration
	_, err := Load(dir)

	// Then: validation rejects it
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index.workers")
}

func TestLoad_UnreadableConfigFile_ReturnsError(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("file permissions are not enforced")
	}
	isolate(t)

	// Given: a config file without read permission
	dir := t.TempDir()
	path := filepath.Join(dir, ".amanfind.yaml")
	writeFile(t, path, "version: 1\n")
	require.NoError(t, os.Chmod(path, 0o000))
	t.Cleanup(func() { _ = os.Chmod(path, 0o644) })

	// When: loading configuration
	_, err := Load(dir)

	// Then: the read error surfaces
	assert.Error(t, err)
}

func TestLoad_DirectoryNamedLikeConfig_Ignored(t *testing.T) {
	isolate(t)

	// Given: a directory where the config file would be
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".amanfind.yaml"), 0o755))

	// When: loading configuration
	cfg, err := Load(dir)

	// Then: it is not treated as a config file
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Search.MaxResults)
}

func TestConfig_JSON_RoundTrip(t *testing.T) {
	isolate(t)

	// Given: a config with non-default values
	cfg := NewConfig()
	cfg.Index.RootFolders = []string{"/data"}
	cfg.Search.B = 0.4

	// When: encoding and decoding as JSON
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	var decoded Config
	require.NoError(t, json.Unmarshal(data, &decoded))

	// Then: values survive with snake_case keys
	assert.Equal(t, *cfg, decoded)
	assert.Contains(t, string(data), `"root_folders"`)
	assert.Contains(t, string(data), `"bm25_b"`)
}

func TestExpandHome_LeavesOtherPathsAlone(t *testing.T) {
	assert.Equal(t, "/abs/path", expandHome("/abs/path"))
	assert.Equal(t, "rel/~/x", expandHome("rel/~/x"))
	assert.Equal(t, "~user/x", expandHome("~user/x"))
}
