// Package metrics counts what a sync or prune run did, reports progress while
// it runs and can export the final numbers for a Prometheus textfile collector.
package metrics

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/paulschiretz/rager/pkg/plog"
	"github.com/paulschiretz/rager/pkg/util"
)

// Metrics defines the interface for collecting and reporting run statistics.
type Metrics interface {
	AddEntriesListed(n int64)
	AddEntriesPresent(n int64)
	AddEntriesDownloaded(n int64)
	AddEntriesFiltered(n int64)
	AddEntriesCached(n int64)
	AddEntriesFailed(n int64)
	AddEntriesDeleted(n int64)
	AddFilesDownloaded(n int64)
	AddBytesWritten(n int64)
	LogSummary(msg string)
	StartProgress(msg string, interval time.Duration)
	StopProgress()
}

// SyncMetrics holds the atomic counters for a run.
type SyncMetrics struct {
	EntriesListed     atomic.Int64
	EntriesPresent    atomic.Int64
	EntriesDownloaded atomic.Int64
	EntriesFiltered   atomic.Int64
	EntriesCached     atomic.Int64
	EntriesFailed     atomic.Int64
	EntriesDeleted    atomic.Int64
	FilesDownloaded   atomic.Int64
	BytesWritten      atomic.Int64

	startTime time.Time
	stopChan  chan struct{}
}

func (m *SyncMetrics) AddEntriesListed(n int64)     { m.EntriesListed.Add(n) }
func (m *SyncMetrics) AddEntriesPresent(n int64)    { m.EntriesPresent.Add(n) }
func (m *SyncMetrics) AddEntriesDownloaded(n int64) { m.EntriesDownloaded.Add(n) }
func (m *SyncMetrics) AddEntriesFiltered(n int64)   { m.EntriesFiltered.Add(n) }
func (m *SyncMetrics) AddEntriesCached(n int64)     { m.EntriesCached.Add(n) }
func (m *SyncMetrics) AddEntriesFailed(n int64)     { m.EntriesFailed.Add(n) }
func (m *SyncMetrics) AddEntriesDeleted(n int64)    { m.EntriesDeleted.Add(n) }
func (m *SyncMetrics) AddFilesDownloaded(n int64)   { m.FilesDownloaded.Add(n) }
func (m *SyncMetrics) AddBytesWritten(n int64)      { m.BytesWritten.Add(n) }

// StartProgress logs a summary every interval until StopProgress is called.
func (m *SyncMetrics) StartProgress(msg string, interval time.Duration) {
	m.startTime = time.Now()
	m.stopChan = make(chan struct{})
	ticker := time.NewTicker(interval)
	stop := m.stopChan
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.LogSummary(msg)
			case <-stop:
				return
			}
		}
	}()
}

func (m *SyncMetrics) StopProgress() {
	if m.stopChan != nil {
		close(m.stopChan)
		m.stopChan = nil
	}
}

func (m *SyncMetrics) LogSummary(msg string) {
	args := []any{
		"entries_listed", m.EntriesListed.Load(),
		"entries_present", m.EntriesPresent.Load(),
		"entries_downloaded", m.EntriesDownloaded.Load(),
		"entries_filtered", m.EntriesFiltered.Load(),
		"entries_cached", m.EntriesCached.Load(),
		"entries_failed", m.EntriesFailed.Load(),
		"files_downloaded", m.FilesDownloaded.Load(),
		"bytes_written", util.ByteCountIEC(m.BytesWritten.Load()),
	}
	if deleted := m.EntriesDeleted.Load(); deleted > 0 {
		args = append(args, "entries_deleted", deleted)
	}
	if !m.startTime.IsZero() {
		args = append(args, "elapsed", time.Since(m.startTime).Round(time.Second))
	}
	plog.Info(msg, args...)
}

// WriteTextfile writes the counters in the Prometheus text format to path,
// for pickup by node_exporter's textfile collector.
func (m *SyncMetrics) WriteTextfile(path string) error {
	reg := prometheus.NewRegistry()
	counters := []struct {
		name string
		help string
		v    *atomic.Int64
	}{
		{"entries_listed", "Entries found in the remote listings.", &m.EntriesListed},
		{"entries_present", "Listed entries that were already mirrored.", &m.EntriesPresent},
		{"entries_downloaded", "Entries downloaded completely.", &m.EntriesDownloaded},
		{"entries_filtered", "Entries rejected by the filter.", &m.EntriesFiltered},
		{"entries_cached", "Rejected entries whose details were cached.", &m.EntriesCached},
		{"entries_failed", "Entry attempts that failed.", &m.EntriesFailed},
		{"entries_deleted", "Local entries deleted.", &m.EntriesDeleted},
		{"files_downloaded", "Files written to the mirror.", &m.FilesDownloaded},
		{"bytes_written", "Bytes written to the mirror.", &m.BytesWritten},
	}
	for _, c := range counters {
		v := c.v
		if err := reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "rager",
			Subsystem: "sync",
			Name:      c.name,
			Help:      c.help,
		}, func() float64 { return float64(v.Load()) })); err != nil {
			return fmt.Errorf("could not register metric %s: %w", c.name, err)
		}
	}
	finished := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rager",
		Subsystem: "sync",
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix time the last run finished.",
	})
	finished.SetToCurrentTime()
	reg.MustRegister(finished)

	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("could not write metrics textfile %s: %w", path, err)
	}
	return nil
}

// NoopMetrics is an implementation of the Metrics interface that performs no operations.
type NoopMetrics struct{}

func (m *NoopMetrics) AddEntriesListed(n int64)                         {}
func (m *NoopMetrics) AddEntriesPresent(n int64)                        {}
func (m *NoopMetrics) AddEntriesDownloaded(n int64)                     {}
func (m *NoopMetrics) AddEntriesFiltered(n int64)                       {}
func (m *NoopMetrics) AddEntriesCached(n int64)                         {}
func (m *NoopMetrics) AddEntriesFailed(n int64)                         {}
func (m *NoopMetrics) AddEntriesDeleted(n int64)                        {}
func (m *NoopMetrics) AddFilesDownloaded(n int64)                       {}
func (m *NoopMetrics) AddBytesWritten(n int64)                          {}
func (m *NoopMetrics) LogSummary(msg string)                            {}
func (m *NoopMetrics) StartProgress(msg string, interval time.Duration) {}
func (m *NoopMetrics) StopProgress()                                    {}

var _ Metrics = (*SyncMetrics)(nil)
var _ Metrics = (*NoopMetrics)(nil)
