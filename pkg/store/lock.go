package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/paulschiretz/rager/pkg/buildinfo"
	"github.com/paulschiretz/rager/pkg/plog"
	"github.com/paulschiretz/rager/pkg/util"
)

// ErrLocked is returned by Lock when another process holds the mirror.
var ErrLocked = errors.New("sync directory is locked by another process")

// LockContent is written into the lock file by the holder for diagnostics.
// Exclusion itself comes from the OS lock, not from the content.
type LockContent struct {
	PID      int64     `json:"pid"`
	Hostname string    `json:"hostname"`
	AppID    string    `json:"appID"`
	Acquired time.Time `json:"acquired"`
}

// Lock takes an exclusive, non-blocking OS lock on the mirror. A second
// process fails fast with an error wrapping ErrLocked. The returned function
// releases the lock.
func (s *Store) Lock() (func() error, error) {
	if err := s.ensureDir(s.root); err != nil {
		return nil, err
	}
	path := filepath.Join(s.root, LockFileName)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, util.UserWritableFilePerms)
	if err != nil {
		return nil, ioErr("open", path, err)
	}

	if err := lockFile(f); err != nil {
		holder := readLockContent(f)
		f.Close()
		if errors.Is(err, ErrLocked) {
			if holder != nil {
				return nil, fmt.Errorf("%w: held by PID %d on host '%s' since %s",
					ErrLocked, holder.PID, holder.Hostname, holder.Acquired.Format(time.RFC3339))
			}
			return nil, ErrLocked
		}
		return nil, ioErr("lock", path, err)
	}

	hostname, _ := os.Hostname()
	content := LockContent{
		PID:      int64(os.Getpid()),
		Hostname: hostname,
		AppID:    buildinfo.Name,
		Acquired: time.Now().UTC(),
	}
	if err := writeLockContent(f, content); err != nil {
		plog.Warn("Failed to write lock file content", "path", path, "error", err)
	}
	plog.Debug("Acquired lock", "path", path)

	return func() error {
		defer f.Close()
		if err := unlockFile(f); err != nil {
			return ioErr("unlock", path, err)
		}
		plog.Debug("Released lock", "path", path)
		return nil
	}, nil
}

func readLockContent(f *os.File) *LockContent {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil
	}
	var content LockContent
	if err := json.NewDecoder(f).Decode(&content); err != nil {
		return nil
	}
	return &content
}

func writeLockContent(f *os.File, content LockContent) error {
	data, err := json.Marshal(content)
	if err != nil {
		return err
	}
	if err := f.Truncate(0); err != nil {
		return err
	}
	_, err = f.WriteAt(data, 0)
	return err
}
