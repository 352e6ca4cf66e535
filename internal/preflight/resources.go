package preflight

import (
	"fmt"
	"syscall"

	"github.com/dustin/go-humanize"
)

// Free space is measured at the index directory. A full rebuild writes the
// new segment set next to the old one before the manifest switches over.
const (
	MinFreeSpace = 100 << 20
	LowFreeSpace = 1 << 30
	MinOpenFiles = 1024
	LowOpenFiles = 4096
)

// limit grades a measured resource against a hard minimum and a warning level.
type limit struct {
	name    string
	min     uint64
	low     uint64
	format  func(uint64) string
	advice  string
	measure func() (uint64, error)
}

func (l limit) check() CheckResult {
	result := CheckResult{Name: l.name, Required: true}

	have, err := l.measure()
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to measure %s: %v", l.name, err)
		return result
	}

	result.Message = fmt.Sprintf("%s (minimum: %s)", l.format(have), l.format(l.min))
	switch {
	case have < l.min:
		result.Status = StatusFail
		result.Details = l.advice
	case have < l.low:
		result.Status = StatusWarn
		result.Details = l.advice
	default:
		result.Status = StatusPass
	}
	return result
}

// CheckDiskSpace checks the free space on the filesystem holding path.
func (c *Checker) CheckDiskSpace(path string) CheckResult {
	return limit{
		name:   "disk_space",
		min:    MinFreeSpace,
		low:    LowFreeSpace,
		format: func(n uint64) string { return humanize.IBytes(n) + " free" },
		advice: "Free some space or move the index with --index-dir",
		measure: func() (uint64, error) {
			var st syscall.Statfs_t
			if err := syscall.Statfs(path, &st); err != nil {
				return 0, err
			}
			return st.Bavail * uint64(st.Bsize), nil
		},
	}.check()
}

// CheckFileDescriptors checks the soft limit on open files. Every live
// segment keeps its files mapped while readers hold it.
func (c *Checker) CheckFileDescriptors() CheckResult {
	return limit{
		name:   "file_descriptors",
		min:    MinOpenFiles,
		low:    LowOpenFiles,
		format: func(n uint64) string { return humanize.Comma(int64(n)) },
		advice: "Run 'ulimit -n 10240' to increase the limit",
		measure: func() (uint64, error) {
			var rl syscall.Rlimit
			if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rl); err != nil {
				return 0, err
			}
			return uint64(rl.Cur), nil
		},
	}.check()
}
