// Package metafile reads and writes the completion marker of a mirrored
// entry. The marker is written only after every file of the entry is on
// disk, so a directory without one is an interrupted download, not an entry.
package metafile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/paulschiretz/rager/pkg/util"
)

// MetaFileName is the name of the completion marker inside an entry directory.
const MetaFileName = ".rager.meta.json"

// Content holds the contents of the marker.
type Content struct {
	Version      string    `json:"version"`
	RunID        string    `json:"runID"`
	EntryID      string    `json:"entryID"`
	TimestampUTC time.Time `json:"timestampUTC"`
	Files        []string  `json:"files"`
	OS           string    `json:"os,omitempty"`
	User         string    `json:"user,omitempty"`
}

// Write stores the marker in dirPath. The file is written under a temporary
// name and renamed into place, so readers never observe a half-written marker.
func Write(dirPath string, content *Content) error {
	metaFilePath := filepath.Join(dirPath, MetaFileName)
	jsonData, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal meta data: %w", err)
	}

	tmp, err := os.CreateTemp(dirPath, ".rager-meta-*.tmp")
	if err != nil {
		return fmt.Errorf("could not create temporary meta file in %s: %w", dirPath, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmpPath != "" {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(jsonData); err != nil {
		tmp.Close()
		return fmt.Errorf("could not write meta file %s: %w", tmpPath, err)
	}
	if err := tmp.Chmod(util.UserWritableFilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("could not set permissions on %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("could not close meta file %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, metaFilePath); err != nil {
		return fmt.Errorf("could not move meta file into place at %s: %w", metaFilePath, err)
	}
	tmpPath = ""
	return nil
}

// Read opens and parses the marker in dirPath. A missing marker returns an
// error for which os.IsNotExist is true.
func Read(dirPath string) (Content, error) {
	metaFilePath := filepath.Join(dirPath, MetaFileName)
	metaFile, err := os.Open(metaFilePath)
	if err != nil {
		return Content{}, err // Return the original error so os.IsNotExist works.
	}
	defer metaFile.Close()

	var content Content
	if err := json.NewDecoder(metaFile).Decode(&content); err != nil {
		return Content{}, fmt.Errorf("could not parse metafile %s: %w. It may be corrupt", metaFilePath, err)
	}
	return content, nil
}

// Exists reports whether dirPath holds a marker.
func Exists(dirPath string) bool {
	info, err := os.Stat(filepath.Join(dirPath, MetaFileName))
	return err == nil && info.Mode().IsRegular()
}
