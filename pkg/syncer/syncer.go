// Package syncer mirrors a rageshake server into the local store.
//
// A run works in passes. The first pass resolves the days to visit, lists
// their entries concurrently and hands every entry that is not yet present
// to a fixed pool of workers. A worker classifies and filters its entry and
// then downloads it, caches its details or drops it. Day listings and
// entries that failed are collected and, budget permitting, re-run in a
// further pass until nothing fails.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/paulschiretz/rager/pkg/daterange"
	"github.com/paulschiretz/rager/pkg/entry"
	"github.com/paulschiretz/rager/pkg/filter"
	"github.com/paulschiretz/rager/pkg/hints"
	"github.com/paulschiretz/rager/pkg/metrics"
	"github.com/paulschiretz/rager/pkg/plog"
	"github.com/paulschiretz/rager/pkg/remote"
	"github.com/paulschiretz/rager/pkg/sharded"
	"github.com/paulschiretz/rager/pkg/store"
)

// ErrIncomplete is wrapped by the error Run returns when failures remain
// after the last pass.
var ErrIncomplete = errors.New("sync incomplete")

// Remote is the part of the listing client the syncer uses.
type Remote interface {
	ListDays(ctx context.Context, w daterange.Window, today daterange.Day) ([]daterange.Day, error)
	ListEntries(ctx context.Context, day daterange.Day) ([]entry.Ref, error)
	ListFiles(ctx context.Context, id string) ([]string, error)
	FetchMetadata(ctx context.Context, id string) ([]byte, error)
	FetchFile(ctx context.Context, id, name string) (io.ReadCloser, error)
}

// Store is the part of the local mirror the syncer uses.
type Store interface {
	HasEntry(id string) bool
	ReadCachedMetadata(id string) ([]byte, error)
	WriteCachedMetadata(id string, blob []byte) error
	WriteEntry(ctx context.Context, e *entry.Entry, open store.Opener) error
}

// Options configures a Syncer.
type Options struct {
	// Threads bounds both the concurrent day listings and the entry workers.
	Threads int
	Filter  filter.Predicate
	// BeeperHacks lets an iOS console log in the manifest decide the OS.
	BeeperHacks bool
	// CacheDetails stores the details of rejected entries so later runs can
	// re-evaluate them without the network.
	CacheDetails bool
	// RetryLimit is nil for no retries, 0 to retry until clean and N for at
	// most N extra passes.
	RetryLimit *int
	// SinceLastDay lists only days after State.LastSyncedDay when one is set.
	SinceLastDay bool
	// Window restricts the days that are listed.
	Window daterange.Window
	// Now defaults to time.Now.
	Now     func() time.Time
	Metrics metrics.Metrics
	// ProgressInterval is how often progress is logged. Zero disables it.
	ProgressInterval time.Duration
}

// State is carried from one run to the next by the caller.
type State struct {
	LastSyncedDay daterange.Day
}

// Report summarizes a run.
type Report struct {
	Passes     int
	Downloaded int
	// Skipped counts entries already present locally.
	Skipped int
	// Filtered counts rejected entries; Cached is the subset whose details
	// were stored.
	Filtered int
	Cached   int
	// Failed counts entries only. Listings that failed are reported in
	// FailedDays and IndexFailed; either one also makes Run return
	// ErrIncomplete.
	Failed      int
	FailedIDs   []string
	FailedDays  []daterange.Day
	IndexFailed bool
	Duration    time.Duration
}

// Syncer runs sync passes against a remote and a store.
type Syncer struct {
	remote  Remote
	store   Store
	opts    Options
	metrics metrics.Metrics
}

// New returns a Syncer. Threads below 1 are raised to 1.
func New(r Remote, s Store, opts Options) *Syncer {
	if opts.Threads < 1 {
		opts.Threads = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	m := opts.Metrics
	if m == nil {
		m = &metrics.NoopMetrics{}
	}
	return &Syncer{remote: r, store: s, opts: opts, metrics: m}
}

// listingWindow is the window of days a run lists.
func (s *Syncer) listingWindow(state State) daterange.Window {
	if s.opts.SinceLastDay && !state.LastSyncedDay.IsZero() {
		return daterange.Window{After: state.LastSyncedDay}
	}
	return s.opts.Window
}

// failureSet is what a pass could not finish.
type failureSet struct {
	index   bool
	days    map[string]daterange.Day
	entries map[string]entry.Ref
}

func newFailureSet() *failureSet {
	return &failureSet{
		days:    make(map[string]daterange.Day),
		entries: make(map[string]entry.Ref),
	}
}

func (f *failureSet) empty() bool {
	return !f.index && len(f.days) == 0 && len(f.entries) == 0
}

// run holds the state shared by the passes of one Run call.
type run struct {
	*Syncer

	window daterange.Window
	today  daterange.Day

	// listed holds days whose listing succeeded in an earlier pass.
	listed *sharded.Set
	// settled holds entries that reached a final outcome.
	settled *sharded.Set

	report   Report
	failures *failureSet
}

// Run syncs the mirror and returns the report and the state to persist.
// The returned error wraps ErrIncomplete when failures remain, or is the
// context's error when the run was cancelled.
func (s *Syncer) Run(ctx context.Context, state State) (Report, State, error) {
	start := time.Now()
	r := &run{
		Syncer:   s,
		window:   s.listingWindow(state),
		today:    daterange.DayOf(s.opts.Now()),
		listed:   sharded.NewSet(sharded.DefaultShards),
		settled:  sharded.NewSet(sharded.DefaultShards),
		failures: newFailureSet(),
	}

	plog.Info("Starting sync", "filter", s.opts.Filter.Describe(), "threads", s.opts.Threads)
	if s.opts.ProgressInterval > 0 {
		s.metrics.StartProgress("Sync progress", s.opts.ProgressInterval)
	}

	// The first pass starts from the day index.
	r.failures.index = true
	for {
		r.report.Passes++
		r.pass(ctx)

		if r.failures.empty() || ctx.Err() != nil {
			break
		}
		limit := s.opts.RetryLimit
		if limit == nil || (*limit > 0 && r.report.Passes > *limit) {
			break
		}
		plog.Info("Retrying failed items",
			"pass", r.report.Passes+1,
			"days", len(r.failures.days),
			"entries", len(r.failures.entries),
			"index", r.failures.index)
	}

	s.metrics.StopProgress()
	r.finishReport(start)
	s.metrics.AddEntriesFailed(int64(r.report.Failed))
	s.metrics.LogSummary("Sync finished")

	newState := state
	if err := ctx.Err(); err != nil {
		return r.report, newState, err
	}
	if !r.failures.empty() {
		return r.report, newState, fmt.Errorf("%w: %d entries and %d days failed after %d passes",
			ErrIncomplete, len(r.failures.entries), len(r.failures.days), r.report.Passes)
	}
	if s.opts.SinceLastDay && r.window.ReachesThrough(r.today) {
		newState.LastSyncedDay = r.today
	}
	return r.report, newState, nil
}

func (r *run) finishReport(start time.Time) {
	r.report.Duration = time.Since(start)
	r.report.IndexFailed = r.failures.index
	r.report.Failed = len(r.failures.entries)

	r.report.FailedIDs = make([]string, 0, len(r.failures.entries))
	for id := range r.failures.entries {
		r.report.FailedIDs = append(r.report.FailedIDs, id)
	}
	sort.Strings(r.report.FailedIDs)

	r.report.FailedDays = make([]daterange.Day, 0, len(r.failures.days))
	for _, d := range r.failures.days {
		r.report.FailedDays = append(r.report.FailedDays, d)
	}
	daterange.SortDays(r.report.FailedDays)
}

// pass re-runs everything in the failure set and replaces it with the
// failures of this pass.
func (r *run) pass(ctx context.Context) {
	prev := r.failures
	r.failures = newFailureSet()

	days := make([]daterange.Day, 0, len(prev.days))
	for _, d := range prev.days {
		days = append(days, d)
	}
	if prev.index {
		indexDays, err := r.remote.ListDays(ctx, r.window, r.today)
		if err != nil {
			plog.Warn("Failed to list days", "kind", remote.Kind(err), "error", err)
			r.failures.index = true
		}
		for _, d := range indexDays {
			if !r.listed.Has(d.String()) {
				days = append(days, d)
			}
		}
	}
	days = uniqueDays(days)

	refs := make([]entry.Ref, 0, len(prev.entries))
	for _, ref := range prev.entries {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })

	plog.Debug("Starting pass", "pass", r.report.Passes, "days", len(days), "entries", len(refs))

	tasks := make(chan entry.Ref, r.opts.Threads*2)
	results := make(chan outcome, r.opts.Threads*2)
	dayErrs := sharded.NewMap[error](sharded.DefaultShards)

	var workers sync.WaitGroup
	for range r.opts.Threads {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for ref := range tasks {
				if ctx.Err() != nil {
					continue // Drain without work once cancelled.
				}
				results <- r.processEntry(ctx, ref)
			}
		}()
	}

	var feeder sync.WaitGroup
	feeder.Add(1)
	go func() {
		defer feeder.Done()
		defer close(tasks)
		r.feed(ctx, days, refs, tasks, results, dayErrs)
	}()

	go func() {
		feeder.Wait()
		workers.Wait()
		close(results)
	}()

	for o := range results {
		r.consume(o)
	}

	for key := range dayErrs.Items() {
		d, _ := daterange.ParseDay(key)
		r.failures.days[key] = d
	}
}

// feed lists the days concurrently and sends every new entry to the
// workers. Entries already present locally are reported directly.
func (r *run) feed(ctx context.Context, days []daterange.Day, refs []entry.Ref,
	tasks chan<- entry.Ref, results chan<- outcome, dayErrs *sharded.Map[error]) {

	seen := sharded.NewSet(sharded.DefaultShards)
	dispatch := func(ref entry.Ref) bool {
		if seen.LoadOrStore(ref.ID) || r.settled.Has(ref.ID) {
			return true
		}
		if r.store.HasEntry(ref.ID) {
			results <- outcome{ref: ref, kind: outcomePresent}
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case tasks <- ref:
			return true
		}
	}

	for _, ref := range refs {
		if !dispatch(ref) {
			plog.Debug("Cancellation received, stopping entry feeding.")
			return
		}
	}

	var g errgroup.Group
	g.SetLimit(r.opts.Threads)
	for _, day := range days {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			dayRefs, err := r.remote.ListEntries(ctx, day)
			if err != nil {
				if ctx.Err() == nil {
					plog.Warn("Failed to list day", "day", day, "kind", remote.Kind(err), "error", err)
					dayErrs.Store(day.String(), err)
				}
				return nil
			}
			r.listed.LoadOrStore(day.String())
			r.metrics.AddEntriesListed(int64(len(dayRefs)))
			for _, ref := range dayRefs {
				if !dispatch(ref) {
					return nil
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}

// consume is the only place the report and failure set change during a pass.
func (r *run) consume(o outcome) {
	// Soft errors settle the entry as filtered.
	if o.kind == outcomeFailed && hints.IsHint(o.err) {
		o.kind = outcomeFiltered
	}
	switch o.kind {
	case outcomeFailed:
		r.failures.entries[o.ref.ID] = o.ref
		if kind := remote.Kind(o.err); kind == "rejected" {
			plog.Warn("Server rejected a request for entry", "entry", o.ref.ID, "kind", kind, "error", o.err)
		} else {
			plog.Warn("Failed to sync entry", "entry", o.ref.ID, "kind", kind, "error", o.err)
		}
		return
	case outcomePresent:
		r.report.Skipped++
		r.metrics.AddEntriesPresent(1)
	case outcomeDownloaded:
		r.report.Downloaded++
		r.metrics.AddEntriesDownloaded(1)
		plog.Notice("DOWNLOADED", "entry", o.ref.ID)
	case outcomeCached:
		r.report.Filtered++
		r.report.Cached++
		r.metrics.AddEntriesFiltered(1)
		r.metrics.AddEntriesCached(1)
		plog.Debug("Filtered entry, cached details", "entry", o.ref.ID)
	case outcomeFiltered:
		r.report.Filtered++
		r.metrics.AddEntriesFiltered(1)
		plog.Debug("Filtered entry", "entry", o.ref.ID, "reason", o.err)
	}
	r.settled.LoadOrStore(o.ref.ID)
}

func uniqueDays(days []daterange.Day) []daterange.Day {
	seen := make(map[string]bool, len(days))
	out := days[:0]
	for _, d := range days {
		if !seen[d.String()] {
			seen[d.String()] = true
			out = append(out, d)
		}
	}
	daterange.SortDays(out)
	return out
}
