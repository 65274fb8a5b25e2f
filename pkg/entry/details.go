package entry

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/pgzip"
)

// Details holds the fields parsed from a details file.
type Details struct {
	Reason  string
	OS      OS
	User    string
	Version string
}

var gzipMagic = []byte{0x1f, 0x8b}

// Decompress returns blob unchanged unless it starts with the gzip magic, in
// which case it is inflated. The server hands out details.log.gz either raw
// or already decoded depending on its content-encoding setup.
func Decompress(blob []byte) ([]byte, error) {
	if !bytes.HasPrefix(blob, gzipMagic) {
		return blob, nil
	}
	zr, err := pgzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("could not open gzip stream: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("could not inflate gzip stream: %w", err)
	}
	return out, nil
}

// OSFromApplication maps the value of an "Application:" line to an OS.
// Anything unrecognised is a confirmed OSUnknown.
func OSFromApplication(app string) OS {
	app = strings.ToLower(app)
	switch {
	case strings.Contains(app, "android"):
		return OSAndroid
	case strings.Contains(app, "web"), strings.Contains(app, "desktop"):
		return OSDesktop
	case strings.Contains(app, "ios"):
		return OSiOS
	default:
		return OSUnknown
	}
}

// ParseDetails parses a details file, compressed or not. The first line is
// the user supplied reason; the rest are "Key: value" lines. A file without
// an Application line yields OSUnknown.
func ParseDetails(blob []byte) (Details, error) {
	data, err := Decompress(blob)
	if err != nil {
		return Details{}, err
	}

	d := Details{OS: OSUnknown}
	var build string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if first {
			d.Reason = strings.TrimSpace(line)
			first = false
			continue
		}
		key, value := splitDetailLine(line)
		switch key {
		case "application":
			d.OS = OSFromApplication(value)
		case "user_id":
			d.User = value
		case "version", "app_hash":
			if d.Version == "" {
				d.Version = value
			}
		case "build":
			build = value
		}
	}
	if err := scanner.Err(); err != nil {
		return Details{}, fmt.Errorf("could not read details: %w", err)
	}
	if build != "" {
		if d.Version == "" {
			d.Version = build
		} else {
			d.Version = fmt.Sprintf("%s (%s)", d.Version, build)
		}
	}
	return d, nil
}

// splitDetailLine accepts both "Key: value" and "key value".
func splitDetailLine(line string) (string, string) {
	line = strings.TrimSpace(line)
	idx := strings.IndexAny(line, ": ")
	if idx < 0 {
		return strings.ToLower(line), ""
	}
	key := strings.ToLower(line[:idx])
	value := strings.TrimSpace(strings.TrimLeft(line[idx:], ": "))
	return key, value
}
