// Package version reports how the amanfind binary was built.
//
// Release builds set the variables with ldflags:
//
//	-X github.com/Aman-CERP/amanfind/pkg/version.Version=v1.2.0
//	-X github.com/Aman-CERP/amanfind/pkg/version.Commit=$(git rev-parse --short HEAD)
//
// Otherwise commit and date come from the VCS stamp of "go build".
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// Info is the build description printed by "amanfind version".
type Info struct {
	Version     string `json:"version"`
	Commit      string `json:"commit"`
	Date        string `json:"date"`
	Modified    bool   `json:"modified,omitempty"`
	GoVersion   string `json:"go_version"`
	Platform    string `json:"platform"`
	IndexFormat uint32 `json:"index_format,omitempty"`
}

// Get returns the build information, filling gaps from the embedded VCS stamp.
func Get() Info {
	info := Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if info.Commit == "" {
					info.Commit = s.Value
				}
			case "vcs.time":
				if info.Date == "" {
					info.Date = s.Value
				}
			case "vcs.modified":
				info.Modified = s.Value == "true"
			}
		}
	}
	if len(info.Commit) > 12 {
		info.Commit = info.Commit[:12]
	}
	if info.Commit == "" {
		info.Commit = "unknown"
	}
	if info.Date == "" {
		info.Date = "unknown"
	}
	return info
}

// String formats the information on one line.
func (i Info) String() string {
	commit := i.Commit
	if i.Modified {
		commit += "-dirty"
	}
	s := fmt.Sprintf("amanfind %s (commit %s, built %s, %s %s)", i.Version, commit, i.Date, i.GoVersion, i.Platform)
	if i.IndexFormat != 0 {
		s += fmt.Sprintf(", index format %d", i.IndexFormat)
	}
	return s
}
