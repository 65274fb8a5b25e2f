package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulschiretz/rager/pkg/daterange"
	"github.com/paulschiretz/rager/pkg/plog"
)

// DeleteEntries removes the given entries and their cached details using a
// pool of delete workers. It returns how many were removed; failures are
// joined into the error and do not stop the other deletions.
func (s *Store) DeleteEntries(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		plog.Debug("No entries need deletion")
		return 0, nil
	}
	defer s.resetDirCache()

	plog.Info("Deleting local entries", "count", len(ids))
	s.metrics.StartProgress("Delete progress", 10*time.Second)
	defer s.metrics.StopProgress()

	var (
		deleted atomic.Int64
		errMu   sync.Mutex
		errs    []error
		wg      sync.WaitGroup
	)
	tasks := make(chan string, s.deleteWorkers*2)

	for range s.deleteWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range tasks {
				if ctx.Err() != nil {
					return
				}
				if err := s.deleteEntry(id); err != nil {
					s.metrics.AddEntriesFailed(1)
					plog.Warn("Failed to delete local entry", "entry", id, "error", err)
					errMu.Lock()
					errs = append(errs, err)
					errMu.Unlock()
					continue
				}
				s.metrics.AddEntriesDeleted(1)
				deleted.Add(1)
				plog.Notice("DELETED", "entry", id)
			}
		}()
	}

	go func() {
		defer close(tasks)
		for _, id := range ids {
			select {
			case <-ctx.Done():
				plog.Debug("Cancellation received, stopping delete feeding.")
				return
			case tasks <- id:
			}
		}
	}()

	wg.Wait()
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return int(deleted.Load()), errors.Join(errs...)
}

func (s *Store) deleteEntry(id string) error {
	dir, err := s.EntryDir(id)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return ioErr("remove", dir, err)
	}
	if err := s.removeCached(id); err != nil {
		return err
	}
	// Drop the day directories once they are empty; a failure just means
	// other entries remain.
	_ = os.Remove(filepath.Dir(dir))
	if cache, err := s.cachePath(id); err == nil {
		_ = os.Remove(filepath.Dir(cache))
	}
	return nil
}

// DeleteAll removes every entry directory and the details cache. The state
// file, the lock file and anything that is not a day directory are left
// alone. It returns the number of day directories removed.
func (s *Store) DeleteAll(ctx context.Context) (int, error) {
	defer s.resetDirCache()

	dirEntries, err := os.ReadDir(s.root)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, ioErr("read", s.root, err)
	}

	removed := 0
	for _, de := range dirEntries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !de.IsDir() {
			continue
		}
		if _, err := daterange.ParseDay(de.Name()); err != nil {
			continue
		}
		path := filepath.Join(s.root, de.Name())
		if err := os.RemoveAll(path); err != nil {
			return removed, ioErr("remove", path, err)
		}
		plog.Notice("DELETED", "day", de.Name())
		removed++
	}

	cacheRoot := filepath.Join(s.root, cacheDirName)
	if err := os.RemoveAll(cacheRoot); err != nil {
		return removed, ioErr("remove", cacheRoot, err)
	}
	return removed, nil
}
