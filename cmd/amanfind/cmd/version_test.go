package cmd

import (
	"encoding/json"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanfind/internal/store"
	"github.com/Aman-CERP/amanfind/pkg/version"
)

func TestVersionCmd_DefaultOutput(t *testing.T) {
	isolate(t)

	// When: printing the version
	out, err := execute(t, "version")

	// Then: one line names the version, commit and index format
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "amanfind "+version.Version+" (commit "))
	assert.Contains(t, out, runtime.GOOS+"/"+runtime.GOARCH)
	assert.Contains(t, out, "index format 1")
}

func TestVersionCmd_ShortOutput(t *testing.T) {
	isolate(t)

	out, err := execute(t, "version", "--short")

	require.NoError(t, err)
	assert.Equal(t, version.Version, strings.TrimSpace(out))
}

func TestVersionCmd_JSONOutput(t *testing.T) {
	isolate(t)

	// When: printing the version as JSON
	out, err := execute(t, "version", "--json")

	// Then: the build info decodes
	require.NoError(t, err)
	var info version.Info
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, version.Version, info.Version)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, store.FormatVersion, info.IndexFormat)
	assert.NotEmpty(t, info.Commit)
}
