package version

import (
	"encoding/json"
	"regexp"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersion_IsDevOrSemver(t *testing.T) {
	if Version == "dev" {
		return
	}
	semver := regexp.MustCompile(`^v?\d+\.\d+\.\d+(-[a-zA-Z0-9.]+)?$`)
	require.True(t, semver.MatchString(Version), "version %q is not semver", Version)
}

func TestGet_FillsRuntimeAndDefaults(t *testing.T) {
	// When: reading build info in a test binary without ldflags
	info := Get()

	// Then: runtime fields are set and nothing is left blank
	assert.Equal(t, Version, info.Version)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
	assert.NotEmpty(t, info.Commit)
	assert.NotEmpty(t, info.Date)
	assert.LessOrEqual(t, len(info.Commit), 12)
}

func TestGet_PrefersLinkerValues(t *testing.T) {
	// Given: values injected at link time
	oldCommit, oldDate := Commit, Date
	t.Cleanup(func() { Commit, Date = oldCommit, oldDate })
	Commit = "0123456789abcdef"
	Date = "2026-03-01T10:00:00Z"

	// When: reading build info
	info := Get()

	// Then: they win and the commit is shortened
	assert.Equal(t, "0123456789ab", info.Commit)
	assert.Equal(t, "2026-03-01T10:00:00Z", info.Date)
}

func TestInfo_String(t *testing.T) {
	info := Info{
		Version:   "v1.2.0",
		Commit:    "abc123",
		Date:      "2026-03-01",
		GoVersion: "go1.23.4",
		Platform:  "linux/amd64",
	}

	assert.Equal(t, "amanfind v1.2.0 (commit abc123, built 2026-03-01, go1.23.4 linux/amd64)", info.String())

	info.Modified = true
	info.IndexFormat = 2
	assert.Equal(t, "amanfind v1.2.0 (commit abc123-dirty, built 2026-03-01, go1.23.4 linux/amd64), index format 2", info.String())
}

func TestInfo_JSON(t *testing.T) {
	data, err := json.Marshal(Info{Version: "dev", Commit: "x", Platform: "linux/arm64"})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "linux/arm64", decoded["platform"])
	assert.Contains(t, decoded, "go_version")
	assert.NotContains(t, decoded, "modified")
	assert.NotContains(t, decoded, "index_format")
}
