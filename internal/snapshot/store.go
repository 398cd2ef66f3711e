// Package snapshot persists the accumulated dataset as numbered CSV files
// and restores the newest one when a run resumes.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dazubi/internal/table"
)

// ErrCorruptResumeState means the newest snapshot exists but cannot be read.
// The run must not continue from scratch; the file has to be fixed or removed.
var ErrCorruptResumeState = eris.New("snapshot: corrupt resume state")

// ErrOrderingViolation is matched by every *OrderingViolation.
var ErrOrderingViolation = eris.New("snapshot: ordering violation")

// OrderingViolation reports two snapshots whose size or modification time
// contradicts their numbering.
type OrderingViolation struct {
	Lower, Higher Snapshot
	Reason        string
}

func (e *OrderingViolation) Error() string {
	return fmt.Sprintf("snapshot: ordering violation between %s and %s: %s",
		filepath.Base(e.Lower.Path), filepath.Base(e.Higher.Path), e.Reason)
}

// Is makes errors.Is(err, ErrOrderingViolation) true.
func (e *OrderingViolation) Is(target error) bool { return target == ErrOrderingViolation }

// Options configures a Store.
type Options struct {
	Dir       string
	Prefix    string // default "dazubi"
	Compress  bool
	Delimiter rune // default ','
}

// Store manages the numbered snapshots in one directory. A single writer
// per directory is assumed; nothing is locked.
type Store struct {
	dir      string
	prefix   string
	compress bool
	delim    rune
	pattern  *regexp.Regexp
}

// Snapshot describes one snapshot file.
type Snapshot struct {
	Index   int
	Path    string
	Size    int64
	ModTime time.Time
}

// Compressed reports whether the snapshot is bzip2 compressed.
func (s Snapshot) Compressed() bool { return filepath.Ext(s.Path) == CompressedExt }

// New creates a Store. The directory is created on first write.
func New(opts Options) *Store {
	if opts.Prefix == "" {
		opts.Prefix = "dazubi"
	}
	if opts.Delimiter == 0 {
		opts.Delimiter = ','
	}
	return &Store{
		dir:      opts.Dir,
		prefix:   opts.Prefix,
		compress: opts.Compress,
		delim:    opts.Delimiter,
		pattern:  regexp.MustCompile(`^` + regexp.QuoteMeta(opts.Prefix) + `_(\d+)\.csv(\.bz2)?$`),
	}
}

// Dir returns the snapshot directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the file name used for the snapshot with the given index.
func (s *Store) Path(index int) string {
	name := fmt.Sprintf("%s_%06d.csv", s.prefix, index)
	if s.compress {
		name += CompressedExt
	}
	return filepath.Join(s.dir, name)
}

// List returns all snapshots ordered by index. A missing directory yields
// no snapshots.
func (s *Store) List() ([]Snapshot, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "snapshot: list %s", s.dir)
	}

	var out []Snapshot
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := s.pattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, eris.Wrapf(err, "snapshot: stat %s", e.Name())
		}
		out = append(out, Snapshot{
			Index:   idx,
			Path:    filepath.Join(s.dir, e.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Index != out[j].Index {
			return out[i].Index < out[j].Index
		}
		return out[i].ModTime.Before(out[j].ModTime)
	})
	return out, nil
}

// Restore loads the snapshot with the highest index. Snapshots are numbered
// by the count of completed combinations, so that index is where the next
// run continues. Without snapshots it returns 0 and an empty table.
func (s *Store) Restore() (int, *table.Table, error) {
	snaps, err := s.List()
	if err != nil {
		return 0, nil, err
	}
	if len(snaps) == 0 {
		zap.L().Info("nothing to restore", zap.String("dir", s.dir))
		return 0, table.New(), nil
	}

	latest := snaps[len(snaps)-1]
	t, err := ReadFile(latest.Path, s.delim)
	if err != nil {
		return 0, nil, eris.Wrapf(ErrCorruptResumeState, "%s: %v", latest.Path, err)
	}
	zap.L().Info("restored snapshot",
		zap.String("path", latest.Path),
		zap.Int("index", latest.Index),
		zap.Int("rows", t.Len()),
		zap.Int("columns", t.Width()),
	)
	return latest.Index, t, nil
}

// Persist writes t as the snapshot for index and returns its path.
func (s *Store) Persist(ctx context.Context, t *table.Table, index int) (string, error) {
	path := s.Path(index)
	if err := WriteFile(ctx, path, t, s.delim); err != nil {
		return "", err
	}
	return path, nil
}

// Cleanup deletes all but the retain newest snapshots. With sanity set it
// first checks that sizes and modification times grow with the index among
// snapshots of the same compression; on any violation nothing is deleted and
// an *OrderingViolation is returned. retain <= 0 disables cleanup.
func (s *Store) Cleanup(retain int, sanity bool) ([]string, error) {
	if retain <= 0 {
		return nil, nil
	}
	snaps, err := s.List()
	if err != nil {
		return nil, err
	}
	if len(snaps) <= retain {
		return nil, nil
	}
	if sanity {
		if err := CheckOrdering(snaps); err != nil {
			return nil, err
		}
	}

	var removed []string
	for _, sn := range snaps[:len(snaps)-retain] {
		if err := os.Remove(sn.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, eris.Wrapf(err, "snapshot: remove %s", sn.Path)
		}
		removed = append(removed, sn.Path)
	}
	zap.L().Debug("snapshots cleaned up", zap.Int("removed", len(removed)), zap.Int("retained", retain))
	return removed, nil
}

// CheckOrdering verifies that for every pair of snapshots with the same
// compression the lower index is not larger and not newer than the higher
// one. snaps must be sorted by index. Both relations are transitive, so
// checking neighbours covers every pair.
func CheckOrdering(snaps []Snapshot) error {
	last := make(map[bool]Snapshot)
	for _, cur := range snaps {
		prev, ok := last[cur.Compressed()]
		last[cur.Compressed()] = cur
		if !ok {
			continue
		}
		if prev.Size > cur.Size {
			return &OrderingViolation{Lower: prev, Higher: cur,
				Reason: fmt.Sprintf("size %d > %d", prev.Size, cur.Size)}
		}
		if prev.ModTime.After(cur.ModTime) {
			return &OrderingViolation{Lower: prev, Higher: cur,
				Reason: fmt.Sprintf("modified %s after %s", prev.ModTime.Format(time.RFC3339), cur.ModTime.Format(time.RFC3339))}
		}
	}
	return nil
}
