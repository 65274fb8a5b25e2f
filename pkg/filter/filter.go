// Package filter decides which entries a sync or a local query selects.
//
// Every configured condition (OS membership, date window, user) evaluates to
// True, False or Indeterminate on its own. Conditions that are not configured
// are left out and count as vacuously true. The per-condition truths are
// then combined under "all" (default) or "any" semantics, and an
// Indeterminate overall result is settled by the unsure policy.
package filter

import (
	"fmt"
	"slices"
	"strings"

	"github.com/paulschiretz/rager/pkg/daterange"
	"github.com/paulschiretz/rager/pkg/entry"
	"github.com/paulschiretz/rager/pkg/hints"
)

// ErrRejected marks an entry the filter did not select. It is a hint, not a failure.
var ErrRejected = hints.New("rejected by filter")

// Truth is the value of a single condition.
type Truth int

const (
	False Truth = iota
	True
	Indeterminate
)

func (t Truth) String() string {
	switch t {
	case False:
		return "false"
	case True:
		return "true"
	default:
		return "indeterminate"
	}
}

func truthOf(b bool) Truth {
	if b {
		return True
	}
	return False
}

// Outcome is the overall decision for an entry.
type Outcome int

const (
	Undecided Outcome = iota
	Accept
	Reject
)

func (o Outcome) String() string {
	switch o {
	case Accept:
		return "accept"
	case Reject:
		return "reject"
	default:
		return "indeterminate"
	}
}

// Resolve settles an undecided outcome: Accept if unsure is set, Reject
// otherwise. Decided outcomes are returned unchanged.
func (o Outcome) Resolve(unsure bool) Outcome {
	if o != Undecided {
		return o
	}
	if unsure {
		return Accept
	}
	return Reject
}

// Predicate is the configured selection.
type Predicate struct {
	OSes   []entry.OS
	Window daterange.Window
	// User is matched as a substring of the entry's user id.
	User string
	// Any switches the combinator from "all conditions" to "any condition".
	Any bool
	// Unsure decides entries whose outcome cannot be determined.
	Unsure bool
}

// NeedsOS reports whether evaluating the predicate requires the entry's OS.
func (p Predicate) NeedsOS() bool { return len(p.OSes) > 0 }

// NeedsUser reports whether evaluating the predicate requires the entry's user.
func (p Predicate) NeedsUser() bool { return p.User != "" }

// NeedsDetails reports whether any condition depends on the details file.
func (p Predicate) NeedsDetails() bool { return p.NeedsOS() || p.NeedsUser() }

func (p Predicate) hasDate() bool { return !p.Window.IsZero() }

func (p Predicate) dateTruth(day daterange.Day) Truth {
	if day.IsZero() {
		return Indeterminate
	}
	return truthOf(p.Window.Contains(day))
}

func (p Predicate) osTruth(o entry.OS) Truth {
	if o == entry.OSUnresolved {
		return Indeterminate
	}
	return truthOf(slices.Contains(p.OSes, o))
}

func (p Predicate) userTruth(user string) Truth {
	if user == "" {
		return Indeterminate
	}
	return truthOf(strings.Contains(user, p.User))
}

// Conditions evaluates each configured condition against e.
func (p Predicate) Conditions(e *entry.Entry) []Truth {
	var truths []Truth
	if p.NeedsOS() {
		truths = append(truths, p.osTruth(e.OS))
	}
	if p.hasDate() {
		truths = append(truths, p.dateTruth(e.Day))
	}
	if p.NeedsUser() {
		truths = append(truths, p.userTruth(e.User))
	}
	return truths
}

// Evaluate combines the conditions without applying the unsure policy to
// the overall result. Under "any" the result is always decided.
func (p Predicate) Evaluate(e *entry.Entry) Outcome {
	return Combine(p.Conditions(e), p.Any, p.Unsure)
}

// Decide evaluates e and settles an undecided result with the unsure policy.
func (p Predicate) Decide(e *entry.Entry) Outcome {
	return p.Evaluate(e).Resolve(p.Unsure)
}

// PreDecide settles an entry from its listing day alone when possible, so
// that no details need to be fetched. ok is false when more facts are needed.
func (p Predicate) PreDecide(day daterange.Day) (Outcome, bool) {
	if !p.NeedsDetails() {
		return p.Decide(&entry.Entry{Ref: entry.Ref{Day: day}}), true
	}
	if !p.hasDate() {
		return Undecided, false
	}
	switch t := p.dateTruth(day); {
	case !p.Any && t == False:
		return Reject, true
	case p.Any && t == True:
		return Accept, true
	}
	return Undecided, false
}

// Combine folds condition truths into an outcome. With no conditions the
// result is Accept.
func Combine(truths []Truth, anyOf, unsure bool) Outcome {
	if anyOf {
		if len(truths) == 0 {
			return Accept
		}
		for _, t := range truths {
			if t == True || (t == Indeterminate && unsure) {
				return Accept
			}
		}
		return Reject
	}

	undecided := false
	for _, t := range truths {
		switch t {
		case False:
			return Reject
		case Indeterminate:
			undecided = true
		}
	}
	if undecided {
		return Undecided
	}
	return Accept
}

// Describe renders the predicate for logs.
func (p Predicate) Describe() string {
	var parts []string
	if p.NeedsOS() {
		names := make([]string, len(p.OSes))
		for i, o := range p.OSes {
			names[i] = o.String()
		}
		parts = append(parts, "os in "+strings.Join(names, "|"))
	}
	if !p.Window.After.IsZero() {
		parts = append(parts, "after "+p.Window.After.String())
	}
	if !p.Window.Before.IsZero() {
		parts = append(parts, "before "+p.Window.Before.String())
	}
	if len(p.Window.When) > 0 {
		parts = append(parts, fmt.Sprintf("on %d day(s)", len(p.Window.When)))
	}
	if p.NeedsUser() {
		parts = append(parts, fmt.Sprintf("user ~ %q", p.User))
	}
	if len(parts) == 0 {
		return "everything"
	}
	sep := " and "
	if p.Any {
		sep = " or "
	}
	return strings.Join(parts, sep)
}
