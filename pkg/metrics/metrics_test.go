package metrics

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/paulschiretz/rager/pkg/plog"
)

func TestSyncMetricsCounters(t *testing.T) {
	m := &SyncMetrics{}
	m.AddEntriesListed(5)
	m.AddEntriesPresent(1)
	m.AddEntriesDownloaded(2)
	m.AddEntriesFiltered(1)
	m.AddEntriesFailed(1)
	m.AddFilesDownloaded(6)
	m.AddBytesWritten(2048)

	if m.EntriesListed.Load() != 5 || m.EntriesDownloaded.Load() != 2 || m.FilesDownloaded.Load() != 6 {
		t.Errorf("unexpected counters: listed=%d downloaded=%d files=%d",
			m.EntriesListed.Load(), m.EntriesDownloaded.Load(), m.FilesDownloaded.Load())
	}

	var buf bytes.Buffer
	plog.SetOutput(&buf)
	t.Cleanup(func() { plog.SetOutput(os.Stderr) })

	m.LogSummary("Sync finished")
	out := buf.String()
	for _, want := range []string{"msg=\"Sync finished\"", "entries_listed=5", "entries_failed=1", "bytes_written=\"2.0 KiB\""} {
		if !strings.Contains(out, want) {
			t.Errorf("expected summary to contain %s, but got: %s", want, out)
		}
	}
	if strings.Contains(out, "entries_deleted") {
		t.Errorf("expected zero deletions to be omitted, but got: %s", out)
	}
}

func TestProgressStops(t *testing.T) {
	m := &SyncMetrics{}
	m.StartProgress("progress", time.Hour)
	m.StopProgress()
	// A second stop must not panic on a closed channel.
	m.StopProgress()
}

func TestWriteTextfile(t *testing.T) {
	m := &SyncMetrics{}
	m.AddEntriesDownloaded(3)
	m.AddBytesWritten(4096)

	path := filepath.Join(t.TempDir(), "rager.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected textfile to exist, but got: %v", err)
	}
	out := string(data)
	for _, want := range []string{
		"rager_sync_entries_downloaded 3",
		"rager_sync_bytes_written 4096",
		"rager_sync_last_run_timestamp_seconds",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected textfile to contain %q, but got:\n%s", want, out)
		}
	}
}
