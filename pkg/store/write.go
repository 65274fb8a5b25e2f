package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/paulschiretz/rager/pkg/buildinfo"
	"github.com/paulschiretz/rager/pkg/entry"
	"github.com/paulschiretz/rager/pkg/metafile"
	"github.com/paulschiretz/rager/pkg/plog"
	"github.com/paulschiretz/rager/pkg/util"
)

// Opener opens the remote stream of one file of an entry.
type Opener func(ctx context.Context, name string) (io.ReadCloser, error)

// localWriter turns write failures into LocalIOErrors so they can be told
// apart from read failures of the source during a copy.
type localWriter struct {
	f *os.File
}

func (w localWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	if err != nil {
		err = ioErr("write", w.f.Name(), err)
	}
	return n, err
}

// writeAtomic copies r into path through a temporary file in the same
// directory, so path is either absent or complete. Errors reading r are
// returned unchanged.
func (s *Store) writeAtomic(path string, r io.Reader) (int64, error) {
	dir := filepath.Dir(path)
	if err := s.ensureDir(dir); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(dir, ".rager-*.tmp")
	if err != nil {
		return 0, ioErr("create", dir, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmpPath != "" {
			os.Remove(tmpPath)
		}
	}()

	bufPtr := s.ioBufferPool.Get().(*[]byte)
	defer s.ioBufferPool.Put(bufPtr)

	n, err := io.CopyBuffer(localWriter{f: tmp}, r, *bufPtr)
	if err != nil {
		tmp.Close()
		return n, err
	}
	if err := tmp.Chmod(util.UserWritableFilePerms); err != nil {
		tmp.Close()
		return n, ioErr("chmod", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return n, ioErr("close", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return n, ioErr("rename", path, err)
	}
	tmpPath = ""
	return n, nil
}

// WriteFile stores one file of an entry atomically and returns the number
// of bytes written.
func (s *Store) WriteFile(id, name string, r io.Reader) (int64, error) {
	path, err := s.FilePath(id, name)
	if err != nil {
		return 0, err
	}
	n, err := s.writeAtomic(path, r)
	if err != nil {
		return n, err
	}
	s.metrics.AddFilesDownloaded(1)
	s.metrics.AddBytesWritten(n)
	return n, nil
}

// WriteEntry downloads every file of e through open and then writes the
// completion marker. Files left complete by an earlier interrupted attempt
// are kept. If anything fails no marker is written, and the error is either
// a *LocalIOError or whatever open or the stream returned. On success any
// cached details of the entry are removed.
func (s *Store) WriteEntry(ctx context.Context, e *entry.Entry, open Opener) error {
	dir, err := s.EntryDir(e.ID)
	if err != nil {
		return err
	}
	if metafile.Exists(dir) {
		return nil
	}

	for _, name := range e.Files {
		if err := ctx.Err(); err != nil {
			return err
		}
		path, err := s.FilePath(e.ID, name)
		if err != nil {
			return err
		}
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			plog.Debug("Keeping file from earlier attempt", "entry", e.ID, "file", name)
			continue
		}

		rc, err := open(ctx, name)
		if err != nil {
			return fmt.Errorf("could not fetch %s/%s: %w", e.ID, name, err)
		}
		_, err = s.WriteFile(e.ID, name, rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("could not store %s/%s: %w", e.ID, name, err)
		}
	}

	if err := s.ensureDir(dir); err != nil {
		return err
	}
	content := &metafile.Content{
		Version:      buildinfo.Version,
		RunID:        s.runID,
		EntryID:      e.ID,
		TimestampUTC: time.Now().UTC(),
		Files:        e.Files,
		User:         e.User,
	}
	if e.OS != entry.OSUnresolved {
		content.OS = e.OS.String()
	}
	if err := metafile.Write(dir, content); err != nil {
		return ioErr("write marker", dir, err)
	}

	if err := s.removeCached(e.ID); err != nil {
		plog.Warn("Failed to remove cached details", "entry", e.ID, "error", err)
	}
	return nil
}

// HasCachedMetadata reports whether details are cached for id.
func (s *Store) HasCachedMetadata(id string) bool {
	path, err := s.cachePath(id)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// ReadCachedMetadata returns the cached raw details file of id, or
// ErrNotCached.
func (s *Store) ReadCachedMetadata(id string) ([]byte, error) {
	path, err := s.cachePath(id)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, ErrNotCached
	}
	if err != nil {
		return nil, ioErr("open", path, err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, ioErr("decode", path, err)
	}
	defer dec.Close()
	data, err := io.ReadAll(dec)
	if err != nil {
		return nil, ioErr("decode", path, err)
	}
	return data, nil
}

// WriteCachedMetadata stores the raw details file of a rejected entry.
func (s *Store) WriteCachedMetadata(id string, blob []byte) error {
	path, err := s.cachePath(id)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("could not create encoder: %w", err)
	}
	if _, err := enc.Write(blob); err != nil {
		enc.Close()
		return fmt.Errorf("could not compress details of %s: %w", id, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("could not compress details of %s: %w", id, err)
	}
	_, err = s.writeAtomic(path, &buf)
	return err
}

func (s *Store) removeCached(id string) error {
	path, err := s.cachePath(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return ioErr("remove", path, err)
	}
	return nil
}

// ReadDetails returns the raw details file of a local entry, from the
// entry directory when complete or from the cache otherwise.
func (s *Store) ReadDetails(id string) ([]byte, error) {
	path, err := s.FilePath(id, entry.DetailsFileName)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err == nil {
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, ioErr("read", path, err)
	}
	return s.ReadCachedMetadata(id)
}
