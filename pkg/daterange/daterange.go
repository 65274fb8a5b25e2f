// Package daterange models the calendar days the rageshake server buckets
// its entries under, and the date windows used to select them.
package daterange

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// Layout is the on-wire and on-disk format of a Day.
const Layout = "2006-01-02"

// Day is a calendar date in UTC. The zero value means "no day".
type Day struct {
	t time.Time
}

// NewDay builds a Day from its parts.
func NewDay(year int, month time.Month, day int) Day {
	return Day{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DayOf returns the UTC calendar day containing t.
func DayOf(t time.Time) Day {
	u := t.UTC()
	return NewDay(u.Year(), u.Month(), u.Day())
}

// ParseDay parses a strict YYYY-MM-DD day. A trailing slash, as found in
// listing links and directory names, is ignored.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(Layout, strings.TrimSuffix(strings.TrimSpace(s), "/"))
	if err != nil {
		return Day{}, fmt.Errorf("invalid day %q: expected YYYY-MM-DD", s)
	}
	return Day{t: t}, nil
}

func (d Day) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(Layout)
}

func (d Day) IsZero() bool          { return d.t.IsZero() }
func (d Day) Before(o Day) bool     { return d.t.Before(o.t) }
func (d Day) After(o Day) bool      { return d.t.After(o.t) }
func (d Day) Equal(o Day) bool      { return d.t.Equal(o.t) }
func (d Day) AddDays(n int) Day     { return Day{t: d.t.AddDate(0, 0, n)} }
func (d Day) Weekday() time.Weekday { return d.t.Weekday() }

// MarshalText implements encoding.TextMarshaler.
func (d Day) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Day) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Day{}
		return nil
	}
	parsed, err := ParseDay(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

// numericDate matches input that starts like a written-out date. Such input
// must be a valid YYYY-MM-DD and never reaches the natural language parser.
var numericDate = regexp.MustCompile(`^\d+[-/.]`)

var naturalParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// Parse resolves a user supplied day relative to now. Accepted forms:
// YYYY-MM-DD, "today", "yesterday", a weekday name (the most recent past
// such day, a full week back if it is today) and any phrase the natural
// language parser understands ("3 days ago", "last monday").
func Parse(s string, now time.Time) (Day, error) {
	input := strings.ToLower(strings.TrimSpace(s))
	if input == "" {
		return Day{}, fmt.Errorf("empty day")
	}
	if d, err := ParseDay(input); err == nil {
		return d, nil
	} else if numericDate.MatchString(input) {
		return Day{}, fmt.Errorf("day %q does not match ISO-8601 format YYYY-MM-DD", s)
	}

	today := DayOf(now)
	switch {
	case strings.HasPrefix(input, "today"):
		return today, nil
	case strings.HasPrefix(input, "yesterday"):
		return today.AddDays(-1), nil
	}
	if wd, ok := weekdays[input]; ok {
		back := (int(today.Weekday()) - int(wd) + 7) % 7
		if back == 0 {
			back = 7
		}
		return today.AddDays(-back), nil
	}

	r, err := naturalParser.Parse(input, now)
	if err != nil {
		return Day{}, fmt.Errorf("could not parse day %q: %w", s, err)
	}
	// A match covering only part of the input is not the day that was meant.
	if r == nil || r.Index != 0 || len(strings.TrimSpace(r.Text)) < len(input) {
		return Day{}, fmt.Errorf("could not parse day %q", s)
	}
	return DayOf(r.Time), nil
}

// ParseList parses a comma-separated list of days with Parse. Duplicates are
// removed and the result is sorted.
func ParseList(s string, now time.Time) ([]Day, error) {
	var days []Day
	seen := make(map[Day]bool)
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		d, err := Parse(part, now)
		if err != nil {
			return nil, err
		}
		if !seen[d] {
			seen[d] = true
			days = append(days, d)
		}
	}
	SortDays(days)
	return days, nil
}

// SortDays sorts days in ascending order.
func SortDays(days []Day) {
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
}
