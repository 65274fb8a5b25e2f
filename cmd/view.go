package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/paulschiretz/rager/pkg/entry"
	"github.com/paulschiretz/rager/pkg/flagparse"
	"github.com/paulschiretz/rager/pkg/search"
	"github.com/paulschiretz/rager/pkg/store"
)

// RunView prints one file of a local entry, decompressed. Without a file
// name it prints the details and lists the entry's files.
func RunView(ctx context.Context, flagMap map[string]interface{}) error {
	id, ok := flagMap[flagparse.ArgEntryID].(string)
	if !ok || id == "" {
		return fmt.Errorf("an entry id is required to run view")
	}
	if _, _, err := entry.ParseID(id); err != nil {
		return err
	}
	name, explicit := flagMap[flagparse.ArgFile].(string)
	if !explicit {
		name = entry.DetailsFileName
	}

	runConfig, err := loadRunConfig(flagparse.View, flagMap, false)
	if err != nil {
		return err
	}
	st, err := openStore(runConfig, false, nil)
	if err != nil {
		return err
	}

	r, err := openEntryFile(st, id, name)
	if err != nil {
		return err
	}
	defer r.Close()

	content, err := search.OpenLog(r)
	if err != nil {
		return fmt.Errorf("could not decode %s of %s: %w", name, id, err)
	}
	defer content.Close()
	if _, err := io.Copy(output, content); err != nil {
		return fmt.Errorf("could not print %s of %s: %w", name, id, err)
	}

	if !explicit {
		files, err := st.Files(id)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		if len(files) > 0 {
			fmt.Fprintf(output, "\nFiles of %s:\n", id)
			search.NewRenderer(output).Files(files)
		}
	}
	return nil
}

// openEntryFile opens a file of an entry. The details of a filtered entry
// are served from the cache.
func openEntryFile(st *store.Store, id, name string) (io.ReadCloser, error) {
	path, err := st.FilePath(id, name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err == nil {
		return f, nil
	}
	if !os.IsNotExist(err) {
		return nil, &store.LocalIOError{Op: "open", Path: path, Err: err}
	}
	if name == entry.DetailsFileName {
		blob, cacheErr := st.ReadCachedMetadata(id)
		if cacheErr == nil {
			return io.NopCloser(bytes.NewReader(blob)), nil
		}
		if !errors.Is(cacheErr, store.ErrNotCached) {
			return nil, cacheErr
		}
	}
	return nil, fmt.Errorf("entry %s has no local file %s", id, name)
}
