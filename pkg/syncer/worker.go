package syncer

import (
	"context"
	"errors"
	"io"

	"github.com/paulschiretz/rager/pkg/classify"
	"github.com/paulschiretz/rager/pkg/entry"
	"github.com/paulschiretz/rager/pkg/filter"
	"github.com/paulschiretz/rager/pkg/plog"
	"github.com/paulschiretz/rager/pkg/remote"
	"github.com/paulschiretz/rager/pkg/store"
)

type outcomeKind int

const (
	outcomeFailed outcomeKind = iota
	outcomePresent
	outcomeDownloaded
	outcomeFiltered
	outcomeCached
)

// outcome is what a worker reports for one entry.
type outcome struct {
	ref  entry.Ref
	kind outcomeKind
	err  error
}

func failed(ref entry.Ref, err error) outcome {
	return outcome{ref: ref, kind: outcomeFailed, err: err}
}

// processEntry takes one entry from listing to its final outcome.
func (r *run) processEntry(ctx context.Context, ref entry.Ref) outcome {
	pred := r.opts.Filter
	e := &entry.Entry{Ref: ref}

	decision, decided := pred.PreDecide(ref.Day)
	if decided && decision == filter.Reject {
		return outcome{ref: ref, kind: outcomeFiltered, err: filter.ErrRejected}
	}

	files, err := r.remote.ListFiles(ctx, ref.ID)
	if err != nil {
		return failed(ref, err)
	}
	e.Files = files

	src := &detailsSource{remote: r.remote, store: r.store}
	if !decided {
		if err := r.gatherFacts(ctx, e, src); err != nil {
			return failed(ref, err)
		}
		decision = pred.Decide(e)
	}

	if decision == filter.Reject {
		if r.opts.CacheDetails && src.fromNetwork {
			if err := r.store.WriteCachedMetadata(ref.ID, src.raw); err != nil {
				return failed(ref, err)
			}
			return outcome{ref: ref, kind: outcomeCached}
		}
		return outcome{ref: ref, kind: outcomeFiltered, err: filter.ErrRejected}
	}

	open := func(ctx context.Context, name string) (io.ReadCloser, error) {
		return r.remote.FetchFile(ctx, ref.ID, name)
	}
	if err := r.store.WriteEntry(ctx, e, open); err != nil {
		return failed(ref, err)
	}
	return outcome{ref: ref, kind: outcomeDownloaded}
}

// gatherFacts fills in the OS and user of e as far as the predicate needs
// them. Missing details leave the facts indeterminate; other errors fail
// the entry.
func (r *run) gatherFacts(ctx context.Context, e *entry.Entry, src *detailsSource) error {
	pred := r.opts.Filter
	if pred.NeedsOS() {
		res, err := classify.Classify(ctx, e, r.opts.BeeperHacks, src)
		if err != nil {
			return err
		}
		if res.Details != nil {
			e.ApplyDetails(*res.Details)
		}
		e.OS = res.OS
		plog.Debug("Classified entry", "entry", e.ID, "os", res.OS, "confidence", res.Confidence)
	}
	if pred.NeedsUser() && e.User == "" {
		d, err := src.Details(ctx, e.ID)
		switch {
		case errors.Is(err, classify.ErrNoDetails):
		case err != nil:
			return err
		default:
			classified := e.OS
			e.ApplyDetails(d)
			if pred.NeedsOS() {
				e.OS = classified
			}
		}
	}
	return nil
}

// detailsSource loads the details file of one entry at most once, from the
// details cache first and the server otherwise.
type detailsSource struct {
	remote Remote
	store  Store

	loaded      bool
	raw         []byte
	fromNetwork bool
	details     entry.Details
	err         error
}

func (d *detailsSource) Details(ctx context.Context, id string) (entry.Details, error) {
	if !d.loaded {
		d.load(ctx, id)
		d.loaded = true
	}
	return d.details, d.err
}

func (d *detailsSource) load(ctx context.Context, id string) {
	blob, err := d.store.ReadCachedMetadata(id)
	switch {
	case err == nil:
		plog.Debug("Using cached details", "entry", id)
	case !errors.Is(err, store.ErrNotCached):
		plog.Warn("Failed to read cached details, fetching again", "entry", id, "error", err)
		fallthrough
	default:
		blob, err = d.remote.FetchMetadata(ctx, id)
		if errors.Is(err, remote.ErrNotFound) {
			d.err = classify.ErrNoDetails
			return
		}
		if err != nil {
			d.err = err
			return
		}
		d.fromNetwork = true
	}

	d.raw = blob
	details, err := entry.ParseDetails(blob)
	if err != nil {
		plog.Warn("Unreadable details file, treating as missing", "entry", id, "error", err)
		d.err = classify.ErrNoDetails
		return
	}
	d.details = details
}
