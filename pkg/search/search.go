// Package search queries the local mirror. It backs the search, prune and
// complete commands.
package search

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"runtime"
	"strings"

	"github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/paulschiretz/rager/pkg/entry"
	"github.com/paulschiretz/rager/pkg/filter"
	"github.com/paulschiretz/rager/pkg/plog"
	"github.com/paulschiretz/rager/pkg/store"
)

// maxLineBytes bounds a single log line while scanning for a term.
const maxLineBytes = 4 << 20

// Source is the part of the store a search reads.
type Source interface {
	Records() ([]store.Record, error)
	ReadDetails(id string) ([]byte, error)
	FilePath(id, name string) (string, error)
}

// Query selects local entries.
type Query struct {
	Filter filter.Predicate
	// Term, when set, must match a line of at least one file of the entry.
	Term *regexp.Regexp
	// IncludeCached also returns entries of which only details are cached.
	IncludeCached bool
}

// Hit is the first line of a file that matched the term.
type Hit struct {
	File   string
	LineNo int
	Line   string
}

// Match is one selected entry.
type Match struct {
	Entry    entry.Entry
	Complete bool
	Cached   bool
	Hits     []Hit
}

// Run evaluates q against every local record. Matches keep the record
// order, which is sorted by entry ID.
func Run(ctx context.Context, src Source, q Query) ([]Match, error) {
	records, err := src.Records()
	if err != nil {
		return nil, err
	}

	results := make([]*Match, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, rec := range records {
		if !rec.Complete && !q.IncludeCached {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			m, err := evaluate(src, q, rec)
			if err != nil {
				return err
			}
			results[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(results))
	for _, m := range results {
		if m != nil {
			matches = append(matches, *m)
		}
	}
	return matches, nil
}

func evaluate(src Source, q Query, rec store.Record) (*Match, error) {
	e := entry.Entry{Ref: entry.Ref{ID: rec.ID, Day: rec.Day}, Files: rec.Files}

	blob, err := src.ReadDetails(rec.ID)
	switch {
	case err == nil:
		if d, err := entry.ParseDetails(blob); err == nil {
			e.ApplyDetails(d)
		} else {
			plog.Debug("Unreadable details file", "entry", rec.ID, "error", err)
		}
	case errors.Is(err, store.ErrNotCached):
	default:
		return nil, err
	}

	if q.Filter.Decide(&e) != filter.Accept {
		return nil, nil
	}

	m := &Match{Entry: e, Complete: rec.Complete, Cached: rec.Cached}
	if q.Term == nil {
		return m, nil
	}
	for _, name := range rec.Files {
		path, err := src.FilePath(rec.ID, name)
		if err != nil {
			return nil, err
		}
		hit, ok, err := grepFile(path, q.Term)
		if err != nil {
			plog.Warn("Failed to scan file", "entry", rec.ID, "file", name, "error", err)
			continue
		}
		if ok {
			hit.File = name
			m.Hits = append(m.Hits, hit)
		}
	}
	if len(m.Hits) == 0 {
		return nil, nil
	}
	return m, nil
}

// grepFile returns the first line of path matching re.
func grepFile(path string, re *regexp.Regexp) (Hit, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return Hit{}, false, err
	}
	defer f.Close()

	r, err := OpenLog(f)
	if err != nil {
		return Hit{}, false, err
	}
	defer r.Close()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for lineNo := 1; sc.Scan(); lineNo++ {
		if re.Match(sc.Bytes()) {
			return Hit{LineNo: lineNo, Line: strings.TrimSpace(sc.Text())}, true, nil
		}
	}
	return Hit{}, false, sc.Err()
}

// OpenLog returns a reader over the decoded content of a log file. Files
// may be stored gzip-compressed or already inflated, so the gzip header is
// sniffed rather than trusted from the name.
func OpenLog(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if bytes.Equal(magic, []byte{0x1f, 0x8b}) {
		zr, err := pgzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("could not open gzip stream: %w", err)
		}
		return zr, nil
	}
	return io.NopCloser(br), nil
}

// CompleteIDs returns the IDs of complete local entries starting with prefix.
func CompleteIDs(src Source, prefix string) ([]string, error) {
	records, err := src.Records()
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, rec := range records {
		if rec.Complete && strings.HasPrefix(rec.ID, prefix) {
			ids = append(ids, rec.ID)
		}
	}
	return ids, nil
}
