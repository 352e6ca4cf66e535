// Package index provides indexing operations including the Runner for reusable indexing logic.
package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	amerrors "github.com/Aman-CERP/amanfind/internal/errors"
	"github.com/Aman-CERP/amanfind/internal/extract"
	"github.com/Aman-CERP/amanfind/internal/scanner"
	"github.com/Aman-CERP/amanfind/internal/store"
	"github.com/Aman-CERP/amanfind/internal/telemetry"
)

// DefaultQueueSize is the capacity of the path queue between the traversal
// goroutine and the workers.
const DefaultQueueSize = 1000

// Phase is the state of an indexing run.
type Phase int32

const (
	// PhaseIdle means no run is in progress.
	PhaseIdle Phase = iota
	// PhaseCounting walks the folders once to compute the total.
	PhaseCounting
	// PhaseWalking traverses the folders and indexes files.
	PhaseWalking
	// PhaseOptimizing compacts the index after a full rebuild.
	PhaseOptimizing
	// PhaseDone means the last run completed.
	PhaseDone
	// PhaseCancelled means the last run was cancelled.
	PhaseCancelled
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCounting:
		return "counting"
	case PhaseWalking:
		return "walking"
	case PhaseOptimizing:
		return "optimizing"
	case PhaseDone:
		return "done"
	case PhaseCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Walker enumerates the files under a root folder.
type Walker interface {
	Walk(ctx context.Context, root string, fn func(path string) error) error
	Count(ctx context.Context, roots []string) (uint64, error)
}

// Extractor reads the text of a file. false means the content could not be
// extracted and the file is indexed by name only.
type Extractor interface {
	Extract(ctx context.Context, path string) (extract.Content, bool)
}

// Refresher is notified after every commit, e.g. to reopen search readers.
type Refresher interface {
	Refresh() error
}

// RunnerConfig configures indexing runs.
type RunnerConfig struct {
	// Workers is the number of extraction goroutines (default: NumCPU-1, min 1).
	Workers int

	// QueueSize bounds the path queue (default: 1000).
	QueueSize int
}

// DefaultWorkers returns one less than the number of CPUs, at least 1.
func DefaultWorkers() int {
	return max(runtime.NumCPU()-1, 1)
}

// RunnerDependencies contains the injected dependencies for Runner.
type RunnerDependencies struct {
	// Index is the index being written (required).
	Index *store.Index

	// Walker enumerates files (required).
	Walker Walker

	// Extractor reads file content (required).
	Extractor Extractor

	// Sink receives progress and status (optional).
	Sink ProgressSink

	// Config tunes concurrency.
	Config RunnerConfig

	// Runs records run history (optional).
	Runs telemetry.RunStore

	// Refresher is called after each commit (optional).
	Refresher Refresher
}

// Summary is the outcome of a run. It is returned even when the run fails
// or is cancelled.
type Summary struct {
	Kind         string
	Folders      []string
	Missing      []string
	Total        uint64
	Processed    uint64
	Indexed      uint64
	FilenameOnly uint64
	Errored      uint64
	Removed      uint64
	Duration     time.Duration
	Cancelled    bool
}

// String returns a one-line human-readable summary.
func (s Summary) String() string {
	var b strings.Builder
	if s.Cancelled {
		b.WriteString("Cancelled: ")
	}
	switch s.Kind {
	case telemetry.RunKindRemove:
		fmt.Fprintf(&b, "Removed %s documents", humanize.Comma(int64(s.Removed)))
	case telemetry.RunKindCompact:
		b.WriteString("Compacted index")
	default:
		fmt.Fprintf(&b, "Indexed %s of %s files (%s filename only, %s errored)",
			humanize.Comma(int64(s.Indexed)),
			humanize.Comma(int64(s.Total)),
			humanize.Comma(int64(s.FilenameOnly)),
			humanize.Comma(int64(s.Errored)))
	}
	fmt.Fprintf(&b, " in %s", s.Duration.Round(time.Millisecond))
	if n := len(s.Missing); n > 0 {
		fmt.Fprintf(&b, "; %d folder(s) not found", n)
	}
	return b.String()
}

// counters are shared by the traversal and worker goroutines.
type counters struct {
	total        atomic.Uint64
	processed    atomic.Uint64
	indexed      atomic.Uint64
	filenameOnly atomic.Uint64
	errored      atomic.Uint64
}

func (c *counters) fill(s *Summary) {
	s.Total = max(c.total.Load(), c.processed.Load())
	s.Processed = c.processed.Load()
	s.Indexed = c.indexed.Load()
	s.FilenameOnly = c.filenameOnly.Load()
	s.Errored = c.errored.Load()
}

// Runner executes indexing operations with progress reporting.
// It accepts injected dependencies for testability and reusability.
// One run executes at a time; a concurrent call fails with a writer-busy error.
type Runner struct {
	index     *store.Index
	walker    Walker
	extractor Extractor
	sink      ProgressSink
	runs      telemetry.RunStore
	refresher Refresher
	workers   int
	queueSize int
	skipDir   string

	runMu     sync.Mutex
	phase     atomic.Int32
	cancelled atomic.Bool
	cancelMu  sync.Mutex
	cancel    context.CancelFunc
}

// NewRunner creates a Runner with injected dependencies.
func NewRunner(deps RunnerDependencies) (*Runner, error) {
	if deps.Index == nil {
		return nil, fmt.Errorf("index is required")
	}
	if deps.Walker == nil {
		return nil, fmt.Errorf("walker is required")
	}
	if deps.Extractor == nil {
		return nil, fmt.Errorf("extractor is required")
	}

	r := &Runner{
		index:     deps.Index,
		walker:    deps.Walker,
		extractor: deps.Extractor,
		sink:      deps.Sink,
		runs:      deps.Runs,
		refresher: deps.Refresher,
		workers:   deps.Config.Workers,
		queueSize: deps.Config.QueueSize,
	}
	if r.sink == nil {
		r.sink = nopSink{}
	}
	// The index never indexes itself.
	if dir, err := filepath.Abs(deps.Index.Dir()); err == nil {
		r.skipDir = dir + string(filepath.Separator)
	}
	if r.workers <= 0 {
		r.workers = DefaultWorkers()
	}
	if r.queueSize <= 0 {
		r.queueSize = DefaultQueueSize
	}
	return r, nil
}

// Phase returns the state of the current or last run.
func (r *Runner) Phase() Phase {
	return Phase(r.phase.Load())
}

func (r *Runner) setPhase(p Phase) {
	r.phase.Store(int32(p))
	slog.Debug("index_phase", slog.String("phase", p.String()))
}

// Cancel stops the current run. No new files are queued, files being
// processed finish, and the completed work is committed.
func (r *Runner) Cancel() {
	r.cancelled.Store(true)
	r.cancelMu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.cancelMu.Unlock()
}

func (r *Runner) isCancelled(ctx context.Context) bool {
	return r.cancelled.Load() || ctx.Err() != nil
}

// begin claims the runner and derives the run context.
func (r *Runner) begin(ctx context.Context) (context.Context, func(), error) {
	if !r.runMu.TryLock() {
		return nil, nil, amerrors.WriterBusy(r.index.Dir())
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancelled.Store(false)
	r.cancelMu.Lock()
	r.cancel = cancel
	r.cancelMu.Unlock()

	end := func() {
		r.cancelMu.Lock()
		r.cancel = nil
		r.cancelMu.Unlock()
		cancel()
		r.runMu.Unlock()
	}
	return runCtx, end, nil
}

// Rebuild replaces the index with the contents of folders and compacts it.
// Nothing changes for readers until the final commit.
func (r *Runner) Rebuild(ctx context.Context, folders []string) (Summary, error) {
	return r.build(ctx, telemetry.RunKindRebuild, store.ModeCreate, folders)
}

// Update re-indexes folders into the existing index. Every file replaces the
// document with the same path, so unchanged files never duplicate.
func (r *Runner) Update(ctx context.Context, folders []string) (Summary, error) {
	return r.build(ctx, telemetry.RunKindUpdate, store.ModeAppend, folders)
}

func (r *Runner) build(ctx context.Context, kind string, mode store.Mode, folders []string) (Summary, error) {
	start := time.Now()
	sum := Summary{Kind: kind, Folders: folders}

	runCtx, end, err := r.begin(ctx)
	if err != nil {
		return sum, err
	}
	defer end()

	var c counters
	err = r.runBuild(runCtx, mode, folders, &sum, &c)
	c.fill(&sum)
	sum.Cancelled = r.isCancelled(runCtx)
	sum.Duration = time.Since(start)

	r.finish(ctx, start, sum, err)
	return sum, err
}

func (r *Runner) runBuild(ctx context.Context, mode store.Mode, folders []string, sum *Summary, c *counters) error {
	w, err := r.index.BeginWrite(ctx, mode)
	if err != nil {
		return err
	}

	// Counting
	r.setPhase(PhaseCounting)
	roots := r.resolveRoots(folders, sum)
	r.sink.OnStatus(fmt.Sprintf("Counting files in %d folder(s)", len(roots)))
	total, err := r.walker.Count(ctx, roots)
	if err != nil && !r.isCancelled(ctx) {
		_ = w.Rollback()
		return fmt.Errorf("failed to count files: %w", err)
	}
	c.total.Store(total)
	r.sink.OnProgress(0, total)

	// Walking
	if !r.isCancelled(ctx) {
		r.setPhase(PhaseWalking)
		if err := r.process(ctx, w, roots, mode == store.ModeCreate, c); err != nil {
			_ = w.Rollback()
			return amerrors.New(amerrors.ErrCodeIndexFailed, "indexing failed", err)
		}
	}

	// Optimizing
	if mode == store.ModeCreate && !r.isCancelled(ctx) {
		r.setPhase(PhaseOptimizing)
		r.sink.OnStatus("Optimizing index")
		if err := w.Compact(ctx); err != nil && !r.isCancelled(ctx) {
			_ = w.Rollback()
			return err
		}
	}

	if r.isCancelled(ctx) {
		r.sink.OnStatus(fmt.Sprintf("Cancelled, keeping %d indexed files", c.indexed.Load()))
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to commit index: %w", err)
	}
	r.refresh()
	return nil
}

// resolveRoots returns the absolute folders that exist, reporting the rest.
func (r *Runner) resolveRoots(folders []string, sum *Summary) []string {
	roots := make([]string, 0, len(folders))
	for _, folder := range folders {
		abs, err := filepath.Abs(folder)
		if err == nil {
			var info os.FileInfo
			info, err = os.Stat(abs)
			if err == nil && !info.IsDir() {
				err = fmt.Errorf("not a directory")
			}
		}
		if err != nil {
			sum.Missing = append(sum.Missing, folder)
			r.sink.OnStatus("Folder not found, skipping: " + folder)
			slog.Warn("index_folder_missing",
				slog.String("folder", folder),
				slog.String("error", err.Error()))
			continue
		}
		roots = append(roots, abs)
	}
	return roots
}

// process runs one traversal goroutine feeding a bounded queue and a pool of
// workers draining it. Closing the queue tells every worker to stop.
func (r *Runner) process(ctx context.Context, w *store.Writer, roots []string, add bool, c *counters) error {
	queue := make(chan string, r.queueSize)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(queue)
		for _, root := range roots {
			if r.isCancelled(gctx) {
				return nil
			}
			r.sink.OnStatus("Indexing " + root)
			err := r.walker.Walk(gctx, root, func(path string) error {
				if r.cancelled.Load() {
					return context.Canceled
				}
				if r.skipDir != "" && strings.HasPrefix(path, r.skipDir) {
					return nil
				}
				select {
				case queue <- path:
					return nil
				case <-gctx.Done():
					return gctx.Err()
				}
			})
			switch {
			case err == nil:
			case r.isCancelled(gctx):
				// Cancellation, or a worker failed and Wait reports it.
				return nil
			case errors.Is(err, scanner.ErrRootNotFound):
				r.sink.OnStatus("Folder not found, skipping: " + root)
			default:
				r.sink.OnStatus(fmt.Sprintf("Failed to walk %s: %v", root, err))
				slog.Warn("index_walk_failed",
					slog.String("root", root),
					slog.String("error", err.Error()))
			}
		}
		return nil
	})

	// In-flight extraction is never interrupted.
	workCtx := context.WithoutCancel(ctx)
	for range r.workers {
		g.Go(func() error {
			for path := range queue {
				if r.isCancelled(gctx) {
					continue
				}
				if err := r.indexFile(workCtx, w, path, add, c); err != nil {
					return err
				}
			}
			return nil
		})
	}

	return g.Wait()
}

// indexFile builds and writes the document for path. Extraction failure
// yields a filename-only document; a stat failure skips the file.
func (r *Runner) indexFile(ctx context.Context, w *store.Writer, path string, add bool, c *counters) error {
	defer func() {
		done := c.processed.Add(1)
		r.sink.OnProgress(done, max(c.total.Load(), done))
	}()

	info, err := os.Stat(path)
	if err != nil {
		c.errored.Add(1)
		slog.Debug("index_file_unreadable",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return nil
	}

	doc := store.Document{
		Path:     path,
		Filename: filepath.Base(path),
		Size:     info.Size(),
		ModTime:  info.ModTime(),
		FileType: extract.TypeTag(path, nil),
	}
	if content, ok := r.extractor.Extract(ctx, path); ok {
		doc.Content = content.Text
		if content.Metadata != "" {
			doc.Content += "\n" + content.Metadata
		}
		doc.HasContent = true
		if content.FileType != "" {
			doc.FileType = content.FileType
		}
	} else if err := checkReadable(path); err != nil {
		// Unreadable files count as errored. One that vanished is skipped,
		// one without read permission is still indexed by name.
		c.errored.Add(1)
		slog.Debug("index_file_unreadable",
			slog.String("path", path),
			slog.String("error", err.Error()))
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
	} else {
		c.filenameOnly.Add(1)
	}

	if add {
		err = w.Add(doc)
	} else {
		err = w.Update(path, doc)
	}
	if err != nil {
		return fmt.Errorf("failed to index %s: %w", path, err)
	}
	c.indexed.Add(1)
	return nil
}

// RemoveFolder deletes every document under folder and commits.
func (r *Runner) RemoveFolder(ctx context.Context, folder string) (Summary, error) {
	start := time.Now()
	sum := Summary{Kind: telemetry.RunKindRemove, Folders: []string{folder}}

	runCtx, end, err := r.begin(ctx)
	if err != nil {
		return sum, err
	}
	defer end()

	err = r.runRemove(runCtx, folder, &sum)
	sum.Cancelled = r.isCancelled(runCtx)
	sum.Duration = time.Since(start)

	r.finish(ctx, start, sum, err)
	return sum, err
}

func (r *Runner) runRemove(ctx context.Context, folder string, sum *Summary) error {
	abs, err := filepath.Abs(folder)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", folder, err)
	}
	prefix := abs
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}

	reader, err := r.index.OpenReader()
	if err != nil {
		return err
	}
	keys, err := reader.LookupByPathPrefix(prefix)
	_ = reader.Close()
	if err != nil {
		return fmt.Errorf("failed to look up documents: %w", err)
	}
	sum.Total = uint64(len(keys))
	r.sink.OnStatus(fmt.Sprintf("Removing %d documents under %s", len(keys), abs))

	w, err := r.index.BeginWrite(ctx, store.ModeAppend)
	if err != nil {
		return err
	}
	r.setPhase(PhaseWalking)
	for i, key := range keys {
		if r.isCancelled(ctx) {
			break
		}
		if err := w.Delete(key); err != nil {
			_ = w.Rollback()
			return fmt.Errorf("failed to delete %s: %w", key, err)
		}
		sum.Removed++
		sum.Processed++
		r.sink.OnProgress(uint64(i+1), sum.Total)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to commit index: %w", err)
	}
	r.refresh()
	return nil
}

// Compact merges all segments of the committed index into one.
func (r *Runner) Compact(ctx context.Context) (Summary, error) {
	start := time.Now()
	sum := Summary{Kind: telemetry.RunKindCompact}

	runCtx, end, err := r.begin(ctx)
	if err != nil {
		return sum, err
	}
	defer end()

	err = r.runCompact(runCtx)
	sum.Cancelled = r.isCancelled(runCtx)
	sum.Duration = time.Since(start)

	r.finish(ctx, start, sum, err)
	return sum, err
}

func (r *Runner) runCompact(ctx context.Context) error {
	w, err := r.index.BeginWrite(ctx, store.ModeAppend)
	if err != nil {
		return err
	}
	r.setPhase(PhaseOptimizing)
	r.sink.OnStatus("Optimizing index")
	if err := w.Compact(ctx); err != nil {
		_ = w.Rollback()
		return err
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to commit index: %w", err)
	}
	r.refresh()
	return nil
}

func (r *Runner) refresh() {
	if r.refresher == nil {
		return
	}
	if err := r.refresher.Refresh(); err != nil {
		slog.Warn("reader_refresh_failed", slog.String("error", err.Error()))
	}
}

// finish sets the final phase, logs the outcome and records run history.
func (r *Runner) finish(ctx context.Context, start time.Time, sum Summary, runErr error) {
	if sum.Cancelled {
		r.setPhase(PhaseCancelled)
	} else {
		r.setPhase(PhaseDone)
	}
	r.sink.OnStatus(sum.String())

	attrs := []any{
		slog.String("kind", sum.Kind),
		slog.Int("folders", len(sum.Folders)),
		slog.Uint64("total", sum.Total),
		slog.Uint64("indexed", sum.Indexed),
		slog.Uint64("filename_only", sum.FilenameOnly),
		slog.Uint64("errored", sum.Errored),
		slog.Uint64("removed", sum.Removed),
		slog.Bool("cancelled", sum.Cancelled),
		slog.Int64("duration_ms", sum.Duration.Milliseconds()),
	}
	if runErr != nil {
		slog.Error("index_failed", append(attrs, slog.String("error", runErr.Error()))...)
	} else {
		slog.Info("index_complete", attrs...)
	}

	if r.runs == nil {
		return
	}
	run := telemetry.Run{
		Kind:         sum.Kind,
		Folders:      sum.Folders,
		StartedAt:    start,
		Duration:     sum.Duration,
		Total:        sum.Total,
		Processed:    sum.Processed,
		Indexed:      sum.Indexed,
		FilenameOnly: sum.FilenameOnly,
		Errored:      sum.Errored,
		Removed:      sum.Removed,
		Cancelled:    sum.Cancelled,
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if err := r.runs.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		slog.Warn("run_history_record_failed", slog.String("error", err.Error()))
	}
}

func checkReadable(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	return f.Close()
}
