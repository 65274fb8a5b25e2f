// Package store manages the local mirror of a rageshake server.
//
// The layout under the sync directory is:
//
//	<day>/<time>/<files...>             downloaded entry
//	<day>/<time>/.rager.meta.json       completion marker
//	.details-cache/<day>/<time>.zst     details of rejected entries
//	.rager.state.json                   last synced day
//	.~rager.lock                        process lock
//
// An entry directory without a completion marker is an interrupted download
// and is treated as absent.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/paulschiretz/rager/pkg/daterange"
	"github.com/paulschiretz/rager/pkg/entry"
	"github.com/paulschiretz/rager/pkg/metafile"
	"github.com/paulschiretz/rager/pkg/metrics"
	"github.com/paulschiretz/rager/pkg/sharded"
	"github.com/paulschiretz/rager/pkg/util"
)

const (
	// StateFileName holds the persisted sync state.
	StateFileName = ".rager.state.json"
	// LockFileName is the advisory lock file. The '~' prefix marks it as temporary.
	LockFileName = ".~rager.lock"

	cacheDirName   = ".details-cache"
	cacheExt       = ".zst"
	copyBufferSize = 256 * 1024
)

// DefaultDeleteWorkers is used when Options.DeleteWorkers is not positive.
const DefaultDeleteWorkers = 4

// ErrNotCached is returned by ReadCachedMetadata for entries without cached details.
var ErrNotCached = errors.New("no cached details")

// LocalIOError reports a failure of the local filesystem.
type LocalIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *LocalIOError) Error() string {
	return fmt.Sprintf("local %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *LocalIOError) Unwrap() error { return e.Err }

func ioErr(op, path string, err error) error {
	var lioErr *LocalIOError
	if errors.As(err, &lioErr) {
		return err
	}
	return &LocalIOError{Op: op, Path: path, Err: err}
}

// Options configures a Store.
type Options struct {
	DeleteWorkers int
	Metrics       metrics.Metrics
}

// Store is the local mirror. Its methods are safe for concurrent use.
type Store struct {
	root          string
	runID         string
	deleteWorkers int
	metrics       metrics.Metrics

	dirGroup     singleflight.Group
	dirCache     atomic.Pointer[sharded.Set]
	ioBufferPool sync.Pool
}

// New returns a store rooted at root. Nothing is created on disk until the
// first write.
func New(root string, opts Options) *Store {
	workers := opts.DeleteWorkers
	if workers <= 0 {
		workers = DefaultDeleteWorkers
	}
	m := opts.Metrics
	if m == nil {
		m = &metrics.NoopMetrics{}
	}
	s := &Store{
		root:          root,
		runID:         uuid.NewString(),
		deleteWorkers: workers,
		metrics:       m,
		ioBufferPool: sync.Pool{
			New: func() any {
				b := make([]byte, copyBufferSize)
				return &b
			},
		},
	}
	s.resetDirCache()
	return s
}

// Root returns the sync directory.
func (s *Store) Root() string { return s.root }

// RunID identifies this process in the completion markers it writes.
func (s *Store) RunID() string { return s.runID }

// EntryDir returns the directory of an entry.
func (s *Store) EntryDir(id string) (string, error) {
	day, timePart, err := entry.ParseID(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, day.String(), timePart), nil
}

// FilePath returns the path of one file of an entry.
func (s *Store) FilePath(id, name string) (string, error) {
	if !entry.ValidFileName(name) {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	dir, err := s.EntryDir(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

func (s *Store) cachePath(id string) (string, error) {
	day, timePart, err := entry.ParseID(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, cacheDirName, day.String(), timePart+cacheExt), nil
}

// HasEntry reports whether id is fully present, that is its completion
// marker exists.
func (s *Store) HasEntry(id string) bool {
	dir, err := s.EntryDir(id)
	if err != nil {
		return false
	}
	return metafile.Exists(dir)
}

// ensureDir creates dir once per store, collapsing concurrent requests.
func (s *Store) ensureDir(dir string) error {
	if s.dirCache.Load().Has(dir) {
		return nil
	}
	_, err, _ := s.dirGroup.Do(dir, func() (any, error) {
		cache := s.dirCache.Load()
		if cache.Has(dir) {
			return nil, nil
		}
		if err := os.MkdirAll(dir, util.UserWritableDirPerms); err != nil {
			return nil, ioErr("mkdir", dir, err)
		}
		cache.LoadOrStore(dir)
		return nil, nil
	})
	return err
}

// resetDirCache forgets every created directory. Deletions call it so later
// writes recreate what they removed.
func (s *Store) resetDirCache() {
	s.dirCache.Store(sharded.NewSet(sharded.DefaultShards))
}

// Record describes one locally known entry.
type Record struct {
	ID  string
	Day daterange.Day
	// Files lists the entry's files on disk, excluding the marker.
	Files []string
	// Complete is true when the completion marker exists.
	Complete bool
	// Cached is true when details are cached for a rejected entry.
	Cached bool
}

// Records lists every complete or cache-only entry, sorted by ID.
func (s *Store) Records() ([]Record, error) {
	byID := make(map[string]*Record)

	dayDirs, err := os.ReadDir(s.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, ioErr("read", s.root, err)
	}
	for _, dd := range dayDirs {
		if !dd.IsDir() {
			continue
		}
		day, err := daterange.ParseDay(dd.Name())
		if err != nil {
			continue
		}
		dayPath := filepath.Join(s.root, dd.Name())
		timeDirs, err := os.ReadDir(dayPath)
		if err != nil {
			return nil, ioErr("read", dayPath, err)
		}
		for _, td := range timeDirs {
			if !td.IsDir() {
				continue
			}
			entryPath := filepath.Join(dayPath, td.Name())
			if !metafile.Exists(entryPath) {
				continue
			}
			files, err := listFiles(entryPath)
			if err != nil {
				return nil, err
			}
			id := day.String() + "/" + td.Name()
			byID[id] = &Record{ID: id, Day: day, Files: files, Complete: true}
		}
	}

	cacheRoot := filepath.Join(s.root, cacheDirName)
	cacheDays, err := os.ReadDir(cacheRoot)
	if err != nil && !os.IsNotExist(err) {
		return nil, ioErr("read", cacheRoot, err)
	}
	for _, cd := range cacheDays {
		day, err := daterange.ParseDay(cd.Name())
		if err != nil || !cd.IsDir() {
			continue
		}
		cached, err := os.ReadDir(filepath.Join(cacheRoot, cd.Name()))
		if err != nil {
			return nil, ioErr("read", filepath.Join(cacheRoot, cd.Name()), err)
		}
		for _, c := range cached {
			name, ok := strings.CutSuffix(c.Name(), cacheExt)
			if !ok || c.IsDir() {
				continue
			}
			id := day.String() + "/" + name
			if r, found := byID[id]; found {
				r.Cached = true
				continue
			}
			byID[id] = &Record{ID: id, Day: day, Cached: true}
		}
	}

	records := make([]Record, 0, len(byID))
	for _, r := range byID {
		records = append(records, *r)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

// Files lists the files of a local entry, complete or not.
func (s *Store) Files(id string) ([]string, error) {
	dir, err := s.EntryDir(id)
	if err != nil {
		return nil, err
	}
	return listFiles(dir)
}

func listFiles(dir string) ([]string, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, ioErr("read", dir, err)
	}
	var files []string
	for _, de := range dirEntries {
		if de.Type().IsRegular() && entry.ValidFileName(de.Name()) {
			files = append(files, de.Name())
		}
	}
	return files, nil
}
