// Package profiling writes CPU, heap and execution trace profiles for a
// single command run.
package profiling

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"

	"github.com/dustin/go-humanize"
)

// Options names the profile files to write. Empty paths are skipped.
type Options struct {
	CPU   string
	Heap  string
	Trace string
}

// Enabled reports whether any profile was requested.
func (o Options) Enabled() bool {
	return o.CPU != "" || o.Heap != "" || o.Trace != ""
}

// Profiler runs the profiles named by Options between Start and Stop.
type Profiler struct {
	opts      Options
	cpuFile   *os.File
	traceFile *os.File
}

// Start begins CPU profiling and tracing. The heap profile is written by Stop.
func Start(opts Options) (*Profiler, error) {
	p := &Profiler{opts: opts}

	if opts.CPU != "" {
		f, err := os.Create(opts.CPU)
		if err != nil {
			return nil, fmt.Errorf("failed to create CPU profile file: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to start CPU profile: %w", err)
		}
		p.cpuFile = f
	}

	if opts.Trace != "" {
		f, err := os.Create(opts.Trace)
		if err != nil {
			_ = p.stopCPU()
			return nil, fmt.Errorf("failed to create trace file: %w", err)
		}
		if err := trace.Start(f); err != nil {
			_ = f.Close()
			_ = p.stopCPU()
			return nil, fmt.Errorf("failed to start trace: %w", err)
		}
		p.traceFile = f
	}

	slog.Debug("profiling_started",
		slog.String("cpu", opts.CPU),
		slog.String("heap", opts.Heap),
		slog.String("trace", opts.Trace))
	return p, nil
}

// Stop flushes every running profile and writes the heap profile.
// It is safe to call more than once.
func (p *Profiler) Stop() error {
	var errs []error

	if p.traceFile != nil {
		trace.Stop()
		errs = append(errs, p.traceFile.Close())
		p.traceFile = nil
	}
	errs = append(errs, p.stopCPU())

	if p.opts.Heap != "" {
		errs = append(errs, WriteHeap(p.opts.Heap))
		p.opts.Heap = ""
	}

	m := MemStats()
	slog.Debug("profiling_stopped",
		slog.String("heap_alloc", humanize.IBytes(m.HeapAlloc)),
		slog.String("total_alloc", humanize.IBytes(m.TotalAlloc)),
		slog.Uint64("num_gc", uint64(m.NumGC)))
	return errors.Join(errs...)
}

func (p *Profiler) stopCPU() error {
	if p.cpuFile == nil {
		return nil
	}
	pprof.StopCPUProfile()
	err := p.cpuFile.Close()
	p.cpuFile = nil
	return err
}

// WriteHeap writes a heap profile to path after a collection.
func WriteHeap(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create heap profile file: %w", err)
	}
	defer func() { _ = f.Close() }()

	runtime.GC()

	if err := pprof.WriteHeapProfile(f); err != nil {
		return fmt.Errorf("failed to write heap profile: %w", err)
	}
	return nil
}

// MemStats returns current memory statistics.
func MemStats() runtime.MemStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m
}
