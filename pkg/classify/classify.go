// Package classify determines which operating system submitted an entry.
package classify

import (
	"context"
	"errors"
	"strings"

	"github.com/paulschiretz/rager/pkg/entry"
)

// ErrNoDetails is returned by a DetailsSource when an entry has no details file.
var ErrNoDetails = errors.New("entry has no details file")

// Confidence says how an OS answer was reached.
type Confidence int

const (
	// None means no answer could be reached; the OS is unresolved.
	None Confidence = iota
	// Heuristic answers come from file names alone.
	Heuristic
	// Authoritative answers come from the details file.
	Authoritative
)

func (c Confidence) String() string {
	switch c {
	case Heuristic:
		return "heuristic"
	case Authoritative:
		return "authoritative"
	default:
		return "none"
	}
}

// Result is the classification of one entry. Details is set whenever the
// details file was read, so callers can reuse it for other conditions.
type Result struct {
	OS         entry.OS
	Confidence Confidence
	Details    *entry.Details
}

// DetailsSource provides parsed details for an entry, from a local cache or
// the server.
type DetailsSource interface {
	Details(ctx context.Context, id string) (entry.Details, error)
}

// consoleLogPrefix is how iOS clients name their log files.
const consoleLogPrefix = "console"

// HasConsoleLog reports whether the manifest contains an iOS console log.
func HasConsoleLog(files []string) bool {
	for _, f := range files {
		if strings.HasPrefix(f, consoleLogPrefix) {
			return true
		}
	}
	return false
}

// Classify determines e's OS. With beeperHacks an iOS console log in the
// manifest settles the question without touching the details file. Every
// other path reads the details file; an entry without one stays unresolved.
// Errors from src other than ErrNoDetails are returned unchanged.
func Classify(ctx context.Context, e *entry.Entry, beeperHacks bool, src DetailsSource) (Result, error) {
	if beeperHacks && HasConsoleLog(e.Files) {
		return Result{OS: entry.OSiOS, Confidence: Heuristic}, nil
	}

	d, err := src.Details(ctx, e.ID)
	if errors.Is(err, ErrNoDetails) {
		return Result{OS: entry.OSUnresolved, Confidence: None}, nil
	}
	if err != nil {
		return Result{}, err
	}
	return Result{OS: d.OS, Confidence: Authoritative, Details: &d}, nil
}
