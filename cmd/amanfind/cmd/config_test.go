package cmd

import (
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanfind/internal/config"
)

func TestConfigInit_CreatesUserConfig(t *testing.T) {
	isolate(t)

	// When: running config init
	out, err := execute(t, "config", "init")

	// Then: a loadable user config with defaults exists
	require.NoError(t, err)
	assert.Contains(t, out, "Created user configuration")
	require.True(t, config.UserConfigExists())

	cfg, err := config.LoadUserConfig()
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Search.MaxResults)
}

func TestConfigInit_ExistingConfig_NotOverwritten(t *testing.T) {
	isolate(t)

	// Given: an existing user config
	path := config.GetUserConfigPath()
	writeFile(t, path, "search:\n  max_results: 5\n")

	// When: running config init without --force
	out, err := execute(t, "config", "init")

	// Then: the file is left alone
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "search:\n  max_results: 5\n", string(data))
}

func TestConfigUpgrade_AddsDefaultsAndBacksUp(t *testing.T) {
	isolate(t)

	// Given: a user config that only sets max_results
	writeFile(t, config.GetUserConfigPath(), "search:\n  max_results: 5\n")

	// When: upgrading
	out, err := execute(t, "config", "upgrade")

	// Then: new options are added, the old value kept and a backup made
	require.NoError(t, err)
	assert.Contains(t, out, "search.bm25_k1")

	cfg, err := config.LoadUserConfig()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Search.MaxResults)
	assert.Equal(t, 1.2, cfg.Search.K1)

	backups, err := config.ListUserConfigBackups()
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

func TestConfigUpgrade_NoConfig(t *testing.T) {
	isolate(t)

	// When: upgrading without a user config
	out, err := execute(t, "config", "upgrade")

	// Then: it points at config init
	require.NoError(t, err)
	assert.Contains(t, out, "config init")
}

func TestConfigRestore_ListsAndRestores(t *testing.T) {
	isolate(t)
	path := config.GetUserConfigPath()
	writeFile(t, path, "search:\n  max_results: 5\n")
	_, err := execute(t, "config", "upgrade")
	require.NoError(t, err)

	// When: listing backups
	out, err := execute(t, "config", "restore")

	// Then: the upgrade backup is listed
	require.NoError(t, err)
	backups, err := config.ListUserConfigBackups()
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Contains(t, out, "1. "+backups[0].Path)

	// When: restoring it by number
	_, err = execute(t, "config", "restore", "1")

	// Then: the original content is back
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "search:\n  max_results: 5\n", string(data))
}

func TestConfigShow_Sources(t *testing.T) {
	isolate(t)
	writeFile(t, config.GetUserConfigPath(), "search:\n  max_results: 12\n")

	// When: showing the merged config as JSON
	out, err := execute(t, "config", "show", "--json")

	// Then: the user value is merged over defaults
	require.NoError(t, err)
	var cfg config.Config
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, 12, cfg.Search.MaxResults)
	assert.Equal(t, 0.75, cfg.Search.B)

	// When: showing the user file only
	out, err = execute(t, "config", "show", "--source", "user")
	require.NoError(t, err)
	assert.Contains(t, out, "max_results: 12")

	// When: asking for an unknown source
	_, err = execute(t, "config", "show", "--source", "remote")
	assert.Error(t, err)
}

func TestConfigShow_MergedReportsBrokenConfig(t *testing.T) {
	home := isolate(t)

	// Given: an invalid project config
	writeFile(t, home+"/.amanfind.yaml", "index:\n  workers: -1\n")

	// When: showing the merged config
	_, err := execute(t, "config", "show")

	// Then: the load error is reported instead of defaults
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index.workers")
}

func TestConfigPath(t *testing.T) {
	isolate(t)

	// When: printing the path
	out, err := execute(t, "config", "path")

	// Then: it is the user config path
	require.NoError(t, err)
	assert.Equal(t, config.GetUserConfigPath(), strings.TrimSpace(out))
}
