package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/renameio"
)

const (
	manifestName    = "manifest.json"
	lockName        = "write.lock"
	manifestVersion = 1
)

// manifest names the committed generation and the segments that make it up.
type manifest struct {
	Version     int               `json:"version"`
	Generation  uint64            `json:"generation"`
	NextSegment uint64            `json:"next_segment"`
	CommittedAt time.Time         `json:"committed_at"`
	Segments    []manifestSegment `json:"segments"`
}

// manifestSegment is one committed segment. DelGen is the generation whose
// deletion file applies; zero means nothing is deleted.
type manifestSegment struct {
	ID      uint64 `json:"id"`
	Docs    uint32 `json:"docs"`
	Deleted uint64 `json:"deleted"`
	DelGen  uint64 `json:"del_gen,omitempty"`
}

func segmentFileName(id uint64) string {
	return fmt.Sprintf("seg_%d.fsi", id)
}

func deletionFileName(id, gen uint64) string {
	return fmt.Sprintf("seg_%d_%d.del", id, gen)
}

var indexFilePattern = regexp.MustCompile(`^seg_(\d+)(?:_(\d+)\.del|\.fsi)$`)

// parseIndexFile returns the segment id and deletion generation encoded in name.
func parseIndexFile(name string) (id, gen uint64, ok bool) {
	m := indexFilePattern.FindStringSubmatch(name)
	if m == nil {
		return 0, 0, false
	}
	id, _ = strconv.ParseUint(m[1], 10, 64)
	if m[2] != "" {
		gen, _ = strconv.ParseUint(m[2], 10, 64)
	}
	return id, gen, true
}

// readManifest loads the manifest; a missing file yields an empty index.
func readManifest(dir string) (*manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if errors.Is(err, fs.ErrNotExist) {
		return &manifest{Version: manifestVersion, NextSegment: 1}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if m.Version != manifestVersion {
		return nil, fmt.Errorf("unsupported manifest version %d", m.Version)
	}
	return &m, nil
}

// writeManifest replaces the manifest atomically.
func writeManifest(dir string, m *manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := renameio.WriteFile(filepath.Join(dir, manifestName), data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

func readDeletions(path string) (*roaring.Bitmap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open deletions: %w", err)
	}
	defer func() { _ = f.Close() }()

	bm := roaring.New()
	if _, err := bm.ReadFrom(f); err != nil {
		return nil, fmt.Errorf("failed to read deletions %s: %w", filepath.Base(path), err)
	}
	return bm, nil
}

func writeDeletions(path string, bm *roaring.Bitmap) error {
	t, err := renameio.TempFile(filepath.Dir(path), path)
	if err != nil {
		return fmt.Errorf("failed to create deletions file: %w", err)
	}
	defer func() { _ = t.Cleanup() }()

	if _, err := bm.WriteTo(t); err != nil {
		return fmt.Errorf("failed to write deletions: %w", err)
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("failed to commit deletions: %w", err)
	}
	return nil
}
