// Package preflight holds checks that run before a command touches the sync
// directory. Apart from the writability probe they do not change anything
// on disk.
package preflight

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/paulschiretz/rager/pkg/util"
)

// CheckSyncDirSafe refuses sync directories that would make a recursive
// delete of the mirror catastrophic, such as a filesystem root, the home
// directory or the working directory itself.
func CheckSyncDirSafe(dir string) error {
	if dir == "" {
		return fmt.Errorf("sync directory is not configured")
	}
	clean := filepath.Clean(dir)
	if clean == "." || clean == string(filepath.Separator) {
		return fmt.Errorf("refusing to use %q as sync directory", dir)
	}
	if vol := filepath.VolumeName(clean); vol != "" && (clean == vol || clean == vol+string(filepath.Separator)) {
		return fmt.Errorf("refusing to use volume root %q as sync directory", dir)
	}
	if home, err := os.UserHomeDir(); err == nil && filepath.Clean(home) == clean {
		return fmt.Errorf("refusing to use the home directory %q as sync directory", dir)
	}
	return nil
}

// CheckSyncDirAccessible reports friendlier errors than a failing MkdirAll.
// An existing path must be a directory; a missing one needs an accessible
// ancestor so it can be created.
func CheckSyncDirAccessible(dir string) error {
	info, err := os.Stat(dir)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("sync path exists but is not a directory: %s", dir)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("cannot access sync directory: %w", err)
	}

	// Walk up to the deepest existing ancestor.
	ancestor := dir
	for {
		parent := filepath.Dir(ancestor)
		if parent == ancestor {
			return fmt.Errorf("no existing ancestor for sync directory %s", dir)
		}
		ancestor = parent
		info, err := os.Stat(ancestor)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("cannot access ancestor directory %s: %w", ancestor, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("ancestor of sync directory is not a directory: %s", ancestor)
		}
		return nil
	}
}

// CheckSyncDirWritable creates dir if needed and probes it with a temporary
// file.
func CheckSyncDirWritable(dir string) error {
	if err := os.MkdirAll(dir, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("failed to create sync directory %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, ".rager-writetest-*.tmp")
	if err != nil {
		return fmt.Errorf("sync directory %s is not writable: %w", dir, err)
	}
	name := f.Name()
	f.Close()
	_ = os.Remove(name)
	return nil
}
