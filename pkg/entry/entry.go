// Package entry describes a single rageshake submission: its identity, the
// files the server lists for it and the facts parsed from its details file.
package entry

import (
	"fmt"
	"path"
	"strings"

	"github.com/paulschiretz/rager/pkg/daterange"
	"github.com/paulschiretz/rager/pkg/util"
)

// DetailsFileName is the metadata file every submission carries.
const DetailsFileName = "details.log.gz"

// OS is the operating system of the client that submitted an entry.
type OS int

const (
	// OSUnresolved means the OS has not been or could not be determined.
	OSUnresolved OS = iota
	// OSUnknown is a confirmed answer: the details file names no known OS.
	OSUnknown
	OSiOS
	OSAndroid
	OSDesktop
)

var osToString = map[OS]string{
	OSUnresolved: "unresolved",
	OSUnknown:    "unknown",
	OSiOS:        "ios",
	OSAndroid:    "android",
	OSDesktop:    "desktop",
}

var stringToOS = util.InvertMap(osToString)

func (o OS) String() string {
	if s, ok := osToString[o]; ok {
		return s
	}
	return fmt.Sprintf("unknown_os(%d)", int(o))
}

// ParseOS parses a configured OS name. "web" is accepted as an alias for desktop.
func ParseOS(s string) (OS, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "web" {
		return OSDesktop, nil
	}
	if o, ok := stringToOS[name]; ok && o != OSUnresolved {
		return o, nil
	}
	return OSUnresolved, fmt.Errorf("invalid os: %q. Must be 'ios', 'android', 'desktop' or 'unknown'", s)
}

// ParseOSList parses a comma-separated list of OS names.
func ParseOSList(s string) ([]OS, error) {
	var oses []OS
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		o, err := ParseOS(part)
		if err != nil {
			return nil, err
		}
		oses = append(oses, o)
	}
	return util.Deduplicate(oses), nil
}

// Ref is an entry as it appears in a day listing.
type Ref struct {
	ID  string
	Day daterange.Day
}

// ParseID validates an entry ID of the form "<YYYY-MM-DD>/<time>" and returns
// its day and time parts. IDs are used as relative paths, so anything that
// could escape the mirror directory is rejected.
func ParseID(id string) (daterange.Day, string, error) {
	dayPart, timePart, ok := strings.Cut(strings.Trim(id, "/"), "/")
	if !ok || timePart == "" {
		return daterange.Day{}, "", fmt.Errorf("invalid entry id %q: expected <day>/<time>", id)
	}
	day, err := daterange.ParseDay(dayPart)
	if err != nil {
		return daterange.Day{}, "", fmt.Errorf("invalid entry id %q: %w", id, err)
	}
	if strings.ContainsAny(timePart, `/\`) || timePart == "." || timePart == ".." {
		return daterange.Day{}, "", fmt.Errorf("invalid entry id %q: bad time component", id)
	}
	return day, timePart, nil
}

// NewRef builds a Ref from a validated ID.
func NewRef(id string) (Ref, error) {
	day, timePart, err := ParseID(id)
	if err != nil {
		return Ref{}, err
	}
	return Ref{ID: path.Join(day.String(), timePart), Day: day}, nil
}

// ValidFileName reports whether name is safe to store inside an entry directory.
func ValidFileName(name string) bool {
	if name == "" || name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}

// Entry accumulates what is known about one submission while it moves
// through a sync pass or a local search.
type Entry struct {
	Ref
	Files   []string
	OS      OS
	User    string
	Reason  string
	Version string
}

// ApplyDetails copies parsed details into the entry.
func (e *Entry) ApplyDetails(d Details) {
	e.OS = d.OS
	e.User = d.User
	e.Reason = d.Reason
	e.Version = d.Version
}
