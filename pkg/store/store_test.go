package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/paulschiretz/rager/pkg/daterange"
	"github.com/paulschiretz/rager/pkg/entry"
	"github.com/paulschiretz/rager/pkg/metafile"
)

// fakeFiles serves file bodies and can fail one name.
type fakeFiles struct {
	bodies  map[string]string
	failOn  string
	failErr error
	opened  []string
}

func (f *fakeFiles) open(ctx context.Context, name string) (io.ReadCloser, error) {
	f.opened = append(f.opened, name)
	if name == f.failOn {
		return nil, f.failErr
	}
	body, ok := f.bodies[name]
	if !ok {
		return nil, fmt.Errorf("no such file %s", name)
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func newEntry(t *testing.T, id string, files ...string) *entry.Entry {
	t.Helper()
	ref, err := entry.NewRef(id)
	if err != nil {
		t.Fatalf("failed to build ref: %v", err)
	}
	return &entry.Entry{Ref: ref, Files: files}
}

func TestWriteEntry(t *testing.T) {
	ctx := context.Background()

	t.Run("Happy Path", func(t *testing.T) {
		s := New(t.TempDir(), Options{})
		e := newEntry(t, "2021-07-21/022901", "console.log.gz", "details.log.gz")
		e.OS = entry.OSiOS
		src := &fakeFiles{bodies: map[string]string{"console.log.gz": "console", "details.log.gz": "details"}}

		if err := s.WriteEntry(ctx, e, src.open); err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if !s.HasEntry(e.ID) {
			t.Fatal("expected entry to be present after write")
		}
		path, _ := s.FilePath(e.ID, "console.log.gz")
		data, err := os.ReadFile(path)
		if err != nil || string(data) != "console" {
			t.Errorf("expected stored file content, but got %q, %v", data, err)
		}
		dir, _ := s.EntryDir(e.ID)
		content, err := metafile.Read(dir)
		if err != nil {
			t.Fatalf("expected marker to be readable, but got: %v", err)
		}
		if content.EntryID != e.ID || content.OS != "ios" || content.RunID != s.RunID() {
			t.Errorf("unexpected marker content: %+v", content)
		}
	})

	t.Run("Partial Download Leaves No Marker", func(t *testing.T) {
		s := New(t.TempDir(), Options{})
		e := newEntry(t, "2021-07-21/022901", "a.log", "b.log")
		fetchErr := errors.New("connection reset")
		src := &fakeFiles{bodies: map[string]string{"a.log": "a", "b.log": "b"}, failOn: "b.log", failErr: fetchErr}

		err := s.WriteEntry(ctx, e, src.open)
		if !errors.Is(err, fetchErr) {
			t.Fatalf("expected the fetch error, but got: %v", err)
		}
		if s.HasEntry(e.ID) {
			t.Fatal("expected entry to be absent after a failed download")
		}
		records, err := s.Records()
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if len(records) != 0 {
			t.Errorf("expected no records, but got %+v", records)
		}

		// The retry only fetches what is missing.
		src.failOn = ""
		src.opened = nil
		if err := s.WriteEntry(ctx, e, src.open); err != nil {
			t.Fatalf("expected retry to succeed, but got: %v", err)
		}
		if len(src.opened) != 1 || src.opened[0] != "b.log" {
			t.Errorf("expected only b.log to be fetched again, but got %v", src.opened)
		}
		if !s.HasEntry(e.ID) {
			t.Error("expected entry to be present after retry")
		}
	})

	t.Run("Present Entry Is Not Rewritten", func(t *testing.T) {
		s := New(t.TempDir(), Options{})
		e := newEntry(t, "2021-07-21/022901", "a.log")
		src := &fakeFiles{bodies: map[string]string{"a.log": "a"}}
		if err := s.WriteEntry(ctx, e, src.open); err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		src.opened = nil
		if err := s.WriteEntry(ctx, e, src.open); err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if len(src.opened) != 0 {
			t.Errorf("expected no fetches for a present entry, but got %v", src.opened)
		}
	})

	t.Run("Unwritable Directory Is a LocalIOError", func(t *testing.T) {
		if runtime.GOOS == "windows" || os.Getuid() == 0 {
			t.Skip("permission bits are not enforced here")
		}
		root := t.TempDir()
		s := New(root, Options{})
		if err := os.Mkdir(filepath.Join(root, "2021-07-21"), 0555); err != nil {
			t.Fatalf("failed to create read-only day dir: %v", err)
		}
		t.Cleanup(func() { os.Chmod(filepath.Join(root, "2021-07-21"), 0755) })

		e := newEntry(t, "2021-07-21/022901", "a.log")
		err := s.WriteEntry(ctx, e, (&fakeFiles{bodies: map[string]string{"a.log": "a"}}).open)
		var lioErr *LocalIOError
		if !errors.As(err, &lioErr) {
			t.Fatalf("expected a LocalIOError, but got: %v", err)
		}
	})
}

func TestCachedMetadata(t *testing.T) {
	s := New(t.TempDir(), Options{})
	id := "2021-07-20/101010"

	if s.HasCachedMetadata(id) {
		t.Fatal("expected no cached details initially")
	}
	if _, err := s.ReadCachedMetadata(id); !errors.Is(err, ErrNotCached) {
		t.Fatalf("expected ErrNotCached, but got: %v", err)
	}

	blob := bytes.Repeat([]byte("Application: riot-android\n"), 100)
	if err := s.WriteCachedMetadata(id, blob); err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
	if !s.HasCachedMetadata(id) {
		t.Fatal("expected cached details after write")
	}
	got, err := s.ReadCachedMetadata(id)
	if err != nil || !bytes.Equal(got, blob) {
		t.Fatalf("expected cached blob back, but got %d bytes, %v", len(got), err)
	}
	if details, err := s.ReadDetails(id); err != nil || !bytes.Equal(details, blob) {
		t.Errorf("expected ReadDetails to fall back to the cache, but got %v", err)
	}

	records, err := s.Records()
	if err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
	if len(records) != 1 || records[0].ID != id || records[0].Complete || !records[0].Cached {
		t.Errorf("expected one cache-only record, but got %+v", records)
	}

	// Downloading the entry drops its cache.
	e := newEntry(t, id, "a.log")
	if err := s.WriteEntry(context.Background(), e, (&fakeFiles{bodies: map[string]string{"a.log": "a"}}).open); err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
	if s.HasCachedMetadata(id) {
		t.Error("expected cache to be removed once the entry is downloaded")
	}
}

func TestRecordsSorted(t *testing.T) {
	s := New(t.TempDir(), Options{})
	ctx := context.Background()
	ids := []string{"2021-07-22/010101", "2021-07-20/235959", "2021-07-20/000001"}
	for _, id := range ids {
		e := newEntry(t, id, "a.log")
		if err := s.WriteEntry(ctx, e, (&fakeFiles{bodies: map[string]string{"a.log": "a"}}).open); err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
	}
	// Noise that must be ignored.
	os.MkdirAll(filepath.Join(s.Root(), "not-a-day", "x"), 0755)
	os.MkdirAll(filepath.Join(s.Root(), "2021-07-23", "incomplete"), 0755)

	records, err := s.Records()
	if err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
	want := []string{"2021-07-20/000001", "2021-07-20/235959", "2021-07-22/010101"}
	if len(records) != len(want) {
		t.Fatalf("expected %d records, but got %+v", len(want), records)
	}
	for i, r := range records {
		if r.ID != want[i] {
			t.Errorf("expected record %d to be %s, but got %s", i, want[i], r.ID)
		}
		if len(r.Files) != 1 || r.Files[0] != "a.log" {
			t.Errorf("expected files [a.log], but got %v", r.Files)
		}
	}
}

func TestDeleteEntries(t *testing.T) {
	s := New(t.TempDir(), Options{DeleteWorkers: 2})
	ctx := context.Background()
	ids := []string{"2021-07-20/000001", "2021-07-20/000002", "2021-07-21/000003"}
	for _, id := range ids {
		e := newEntry(t, id, "a.log")
		if err := s.WriteEntry(ctx, e, (&fakeFiles{bodies: map[string]string{"a.log": "a"}}).open); err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
	}
	if err := s.WriteCachedMetadata("2021-07-22/000004", []byte("x")); err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}

	deleted, err := s.DeleteEntries(ctx, []string{"2021-07-20/000001", "2021-07-20/000002", "2021-07-22/000004"})
	if err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
	if deleted != 3 {
		t.Errorf("expected 3 deletions, but got %d", deleted)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "2021-07-20")); !os.IsNotExist(err) {
		t.Errorf("expected empty day directory to be removed, but got: %v", err)
	}
	records, _ := s.Records()
	if len(records) != 1 || records[0].ID != "2021-07-21/000003" {
		t.Errorf("expected only 2021-07-21/000003 to remain, but got %+v", records)
	}

	// Writes after a delete recreate the directories.
	e := newEntry(t, "2021-07-20/000001", "a.log")
	if err := s.WriteEntry(ctx, e, (&fakeFiles{bodies: map[string]string{"a.log": "a"}}).open); err != nil {
		t.Fatalf("expected rewrite after delete to succeed, but got: %v", err)
	}
}

func TestDeleteAll(t *testing.T) {
	s := New(t.TempDir(), Options{})
	ctx := context.Background()
	e := newEntry(t, "2021-07-20/000001", "a.log")
	if err := s.WriteEntry(ctx, e, (&fakeFiles{bodies: map[string]string{"a.log": "a"}}).open); err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
	if err := s.WriteCachedMetadata("2021-07-21/000002", []byte("x")); err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
	if err := s.WriteLastSyncDay(daterange.NewDay(2021, 7, 21)); err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}

	removed, err := s.DeleteAll(ctx)
	if err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 day directory removed, but got %d", removed)
	}
	if records, _ := s.Records(); len(records) != 0 {
		t.Errorf("expected no records, but got %+v", records)
	}
	if _, ok, _ := s.ReadLastSyncDay(); !ok {
		t.Error("expected the state file to survive DeleteAll")
	}
}

func TestLastSyncDay(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "mirror"), Options{})

	if _, ok, err := s.ReadLastSyncDay(); ok || err != nil {
		t.Fatalf("expected nothing persisted, but got ok=%v err=%v", ok, err)
	}
	want := daterange.NewDay(2021, 7, 12)
	if err := s.WriteLastSyncDay(want); err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
	got, ok, err := s.ReadLastSyncDay()
	if err != nil || !ok || !got.Equal(want) {
		t.Errorf("expected %s, but got %s (ok=%v, err=%v)", want, got, ok, err)
	}

	if err := os.WriteFile(filepath.Join(s.Root(), StateFileName), []byte("{"), 0644); err != nil {
		t.Fatalf("failed to corrupt state: %v", err)
	}
	if _, _, err := s.ReadLastSyncDay(); err == nil {
		t.Error("expected an error for a corrupt state file, but got nil")
	}
}

func TestLock(t *testing.T) {
	root := t.TempDir()
	first := New(root, Options{})
	second := New(root, Options{})

	unlock, err := first.Lock()
	if err != nil {
		t.Fatalf("expected first lock to succeed, but got: %v", err)
	}

	if _, err := second.Lock(); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked for a second holder, but got: %v", err)
	}

	if err := unlock(); err != nil {
		t.Fatalf("expected unlock to succeed, but got: %v", err)
	}
	unlock2, err := second.Lock()
	if err != nil {
		t.Fatalf("expected lock after release to succeed, but got: %v", err)
	}
	unlock2()
}
