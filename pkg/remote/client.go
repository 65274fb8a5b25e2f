// Package remote talks to a rageshake server's listing API.
//
// The server exposes a tree of HTML index pages under /api/listing/: the
// root lists days, a day lists entry times and an entry lists its files.
// Every request carries HTTP basic auth.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/gzhttp"

	"github.com/paulschiretz/rager/pkg/buildinfo"
	"github.com/paulschiretz/rager/pkg/daterange"
	"github.com/paulschiretz/rager/pkg/entry"
	"github.com/paulschiretz/rager/pkg/plog"
)

// DefaultTimeout bounds every request, including reading its body.
const DefaultTimeout = 30 * time.Second

const (
	listingPath     = "/api/listing/"
	maxListingBytes = 16 << 20
	maxDetailsBytes = 64 << 20
)

// Options configures a Client.
type Options struct {
	Server   string
	Username string
	Password string
	// Timeout for a single request. Zero means DefaultTimeout.
	Timeout time.Duration
	// Transport overrides the base round tripper, mainly for tests.
	Transport http.RoundTripper
}

// Client is a rageshake listing client. It is safe for concurrent use.
type Client struct {
	base       string
	username   string
	password   string
	httpClient *http.Client
}

// New validates opts and builds a client.
func New(opts Options) (*Client, error) {
	server := strings.TrimRight(strings.TrimSpace(opts.Server), "/")
	if server == "" || opts.Username == "" || opts.Password == "" {
		return nil, ErrMissingCredentials
	}
	u, err := url.Parse(server)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", opts.Server)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	return &Client{
		base:     server,
		username: opts.Username,
		password: opts.Password,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: gzhttp.Transport(base),
		},
	}, nil
}

// Server returns the normalized server URL.
func (c *Client) Server() string { return c.base }

// URL returns the listing URL of a day, entry or file path.
func (c *Client) URL(parts ...string) string {
	escaped := make([]string, 0, len(parts))
	for _, p := range parts {
		for _, seg := range strings.Split(strings.Trim(p, "/"), "/") {
			if seg != "" {
				escaped = append(escaped, url.PathEscape(seg))
			}
		}
	}
	return c.base + listingPath + strings.Join(escaped, "/")
}

// get issues an authenticated GET and returns the response for a 2xx status.
// The caller must close the body.
func (c *Client) get(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("could not build request for %s: %w", target, err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("User-Agent", buildinfo.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &UnavailableError{URL: target, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, 4096)
		resp.Body.Close()
		return nil, &RejectedError{URL: target, Status: resp.StatusCode}
	}
	return resp, nil
}

func (c *Client) readAll(ctx context.Context, target string, limit int64) ([]byte, error) {
	resp, err := c.get(ctx, target)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, &UnavailableError{URL: target, Err: err}
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrResponseTooLarge, target, limit)
	}
	return data, nil
}

func (c *Client) listing(ctx context.Context, parts ...string) ([]string, error) {
	target := c.URL(parts...) + "/"
	if len(parts) == 0 {
		target = c.URL()
	}
	data, err := c.readAll(ctx, target, maxListingBytes)
	if err != nil {
		return nil, err
	}
	links, err := parseLinks(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("could not parse listing %s: %w", target, err)
	}
	return links, nil
}

// ListDays returns the days a sync has to visit. Windows with a lower bound
// or a day list are enumerated locally up to today; an inconsistent window
// yields no days. Only an open-ended window consults the server's day index.
func (c *Client) ListDays(ctx context.Context, w daterange.Window, today daterange.Day) ([]daterange.Day, error) {
	if days, ok := w.Enumerate(today); ok {
		return days, nil
	}

	links, err := c.listing(ctx)
	if err != nil {
		return nil, err
	}
	var days []daterange.Day
	for _, link := range links {
		d, err := daterange.ParseDay(link)
		if err != nil {
			plog.Debug("Ignoring non-day link in index", "link", link)
			continue
		}
		if w.Contains(d) {
			days = append(days, d)
		}
	}
	daterange.SortDays(days)
	return days, nil
}

// ListEntries returns the entries listed under day.
func (c *Client) ListEntries(ctx context.Context, day daterange.Day) ([]entry.Ref, error) {
	links, err := c.listing(ctx, day.String())
	if err != nil {
		return nil, err
	}
	refs := make([]entry.Ref, 0, len(links))
	for _, link := range links {
		ref, err := entry.NewRef(day.String() + "/" + link)
		if err != nil {
			plog.Debug("Ignoring malformed entry link", "day", day, "link", link, "error", err)
			continue
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// ListFiles returns the file manifest of an entry.
func (c *Client) ListFiles(ctx context.Context, id string) ([]string, error) {
	links, err := c.listing(ctx, id)
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(links))
	for _, link := range links {
		if entry.ValidFileName(link) {
			files = append(files, link)
		}
	}
	return files, nil
}

// FetchMetadata downloads the raw details file of an entry. A missing file
// matches ErrNotFound.
func (c *Client) FetchMetadata(ctx context.Context, id string) ([]byte, error) {
	return c.readAll(ctx, c.URL(id, entry.DetailsFileName), maxDetailsBytes)
}

// FetchFile opens one file of an entry for streaming. Read errors on the
// returned body are reported as *UnavailableError.
func (c *Client) FetchFile(ctx context.Context, id, name string) (io.ReadCloser, error) {
	target := c.URL(id, name)
	resp, err := c.get(ctx, target)
	if err != nil {
		return nil, err
	}
	return &bodyReader{ReadCloser: resp.Body, url: target}, nil
}

type bodyReader struct {
	io.ReadCloser
	url string
}

func (b *bodyReader) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		err = &UnavailableError{URL: b.url, Err: err}
	}
	return n, err
}
