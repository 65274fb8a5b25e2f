package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/paulschiretz/rager/pkg/daterange"
)

func listingPage(links ...string) string {
	var b strings.Builder
	b.WriteString("<pre>\n<a href=\"../\">../</a>\n")
	for _, l := range links {
		fmt.Fprintf(&b, "<a href=\"%s\">%s</a>\n", l, l)
	}
	b.WriteString("</pre>\n")
	return b.String()
}

// newFakeServer serves a tiny rageshake listing tree.
func newFakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	pages := map[string]string{
		"/api/listing/":                                 listingPage("2021-07-20/", "2021-07-21/", "robots.txt"),
		"/api/listing/2021-07-21/":                      listingPage("022901/", "131500/"),
		"/api/listing/2021-07-21/022901/":               listingPage("console.log.gz", "details.log.gz"),
		"/api/listing/2021-07-21/022901/details.log.gz": "crash\nApplication: riot-ios\nuser_id: @alice:example.org\n",
		"/api/listing/2021-07-21/022901/console.log.gz": "console output",
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "alice" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, found := pages[r.URL.Path]
		if !found {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, server string) *Client {
	t.Helper()
	c, err := New(Options{Server: server + "/", Username: "alice", Password: "secret"})
	if err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
	return c
}

func TestNewRequiresCredentials(t *testing.T) {
	testCases := []Options{
		{Username: "alice", Password: "secret"},
		{Server: "https://rageshake.example.org", Password: "secret"},
		{Server: "https://rageshake.example.org", Username: "alice"},
	}
	for _, opts := range testCases {
		if _, err := New(opts); !errors.Is(err, ErrMissingCredentials) {
			t.Errorf("expected ErrMissingCredentials for %+v, but got %v", opts, err)
		}
	}
	if _, err := New(Options{Server: "not a url", Username: "a", Password: "b"}); err == nil {
		t.Error("expected an error for an invalid server url, but got nil")
	}
}

func TestListDays(t *testing.T) {
	c := newTestClient(t, newFakeServer(t).URL)
	ctx := context.Background()
	today := daterange.NewDay(2021, 7, 22)

	t.Run("Open window reads the day index", func(t *testing.T) {
		days, err := c.ListDays(ctx, daterange.Window{}, today)
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if len(days) != 2 || days[0].String() != "2021-07-20" || days[1].String() != "2021-07-21" {
			t.Errorf("expected two days, but got %v", days)
		}
	})

	t.Run("Before bound filters the index", func(t *testing.T) {
		days, err := c.ListDays(ctx, daterange.Window{Before: daterange.NewDay(2021, 7, 21)}, today)
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if len(days) != 1 || days[0].String() != "2021-07-20" {
			t.Errorf("expected only 2021-07-20, but got %v", days)
		}
	})

	t.Run("Inconsistent window is empty without a request", func(t *testing.T) {
		offline, err := New(Options{Server: "http://127.0.0.1:1", Username: "a", Password: "b"})
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		w := daterange.Window{After: daterange.NewDay(2021, 7, 20), Before: daterange.NewDay(2021, 7, 1)}
		days, err := offline.ListDays(ctx, w, today)
		if err != nil || len(days) != 0 {
			t.Errorf("expected no days and no error, but got %v, %v", days, err)
		}
	})
}

func TestListEntriesAndFiles(t *testing.T) {
	c := newTestClient(t, newFakeServer(t).URL)
	ctx := context.Background()

	refs, err := c.ListEntries(ctx, daterange.NewDay(2021, 7, 21))
	if err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
	if len(refs) != 2 || refs[0].ID != "2021-07-21/022901" || refs[1].ID != "2021-07-21/131500" {
		t.Fatalf("unexpected refs: %+v", refs)
	}
	if refs[0].Day.String() != "2021-07-21" {
		t.Errorf("expected ref day 2021-07-21, but got %s", refs[0].Day)
	}

	files, err := c.ListFiles(ctx, refs[0].ID)
	if err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
	if len(files) != 2 || files[0] != "console.log.gz" || files[1] != "details.log.gz" {
		t.Errorf("unexpected files: %v", files)
	}

	meta, err := c.FetchMetadata(ctx, refs[0].ID)
	if err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
	if !strings.Contains(string(meta), "riot-ios") {
		t.Errorf("unexpected metadata: %q", meta)
	}

	rc, err := c.FetchFile(ctx, refs[0].ID, "console.log.gz")
	if err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
	defer rc.Close()
	body, err := io.ReadAll(rc)
	if err != nil || string(body) != "console output" {
		t.Errorf("expected file body, but got %q, %v", body, err)
	}
}

func TestErrorKinds(t *testing.T) {
	srv := newFakeServer(t)
	ctx := context.Background()

	t.Run("Missing details is ErrNotFound", func(t *testing.T) {
		c := newTestClient(t, srv.URL)
		_, err := c.FetchMetadata(ctx, "2021-07-21/131500")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, but got %v", err)
		}
		if Kind(err) != "rejected" {
			t.Errorf("expected kind rejected, but got %q", Kind(err))
		}
	})

	t.Run("Bad credentials are rejected", func(t *testing.T) {
		c, _ := New(Options{Server: srv.URL, Username: "alice", Password: "wrong"})
		_, err := c.ListEntries(ctx, daterange.NewDay(2021, 7, 21))
		var rejected *RejectedError
		if !errors.As(err, &rejected) || !rejected.IsAuthFailure() {
			t.Fatalf("expected an auth rejection, but got %v", err)
		}
		if errors.Is(err, ErrNotFound) {
			t.Error("expected a 401 not to match ErrNotFound")
		}
	})

	t.Run("Connection refused is unavailable", func(t *testing.T) {
		closed := httptest.NewServer(http.NotFoundHandler())
		url := closed.URL
		closed.Close()
		c := newTestClient(t, url)
		_, err := c.ListEntries(ctx, daterange.NewDay(2021, 7, 21))
		var unavailable *UnavailableError
		if !errors.As(err, &unavailable) {
			t.Fatalf("expected UnavailableError, but got %v", err)
		}
		if Kind(err) != "unavailable" {
			t.Errorf("expected kind unavailable, but got %q", Kind(err))
		}
	})

	t.Run("Stalled request times out as unavailable", func(t *testing.T) {
		release := make(chan struct{})
		slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer slow.Close()
		defer close(release)

		c, err := New(Options{Server: slow.URL, Username: "a", Password: "b", Timeout: 50 * time.Millisecond})
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		_, err = c.ListFiles(ctx, "2021-07-21/022901")
		var unavailable *UnavailableError
		if !errors.As(err, &unavailable) {
			t.Fatalf("expected UnavailableError on timeout, but got %v", err)
		}
	})
}

func TestReadAllLimit(t *testing.T) {
	srv := newFakeServer(t)
	c := newTestClient(t, srv.URL)
	target := c.URL("2021-07-21") + "/"
	page := listingPage("022901/", "131500/")

	t.Run("Body At Limit", func(t *testing.T) {
		data, err := c.readAll(context.Background(), target, int64(len(page)))
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if string(data) != page {
			t.Errorf("expected the full page, but got %q", data)
		}
	})

	t.Run("Body Over Limit", func(t *testing.T) {
		data, err := c.readAll(context.Background(), target, int64(len(page)-1))
		if !errors.Is(err, ErrResponseTooLarge) {
			t.Fatalf("expected ErrResponseTooLarge, but got %v", err)
		}
		if data != nil {
			t.Errorf("expected no data, but got %d bytes", len(data))
		}
	})
}

func TestParseLinks(t *testing.T) {
	page := `<html><body><pre>
<a href="../">../</a>
<a href="2021-07-21/">2021-07-21/</a>
<a href="/absolute/">abs</a>
<a href="?C=M;O=A">sort</a>
<a>022901/</a>
<a href="2021-07-21/">dup</a>
<a href="details.log.gz">details.log.gz</a>
</pre></body></html>`
	links, err := parseLinks(strings.NewReader(page))
	if err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
	want := []string{"2021-07-21", "022901", "details.log.gz"}
	if len(links) != len(want) {
		t.Fatalf("expected %v, but got %v", want, links)
	}
	for i := range want {
		if links[i] != want[i] {
			t.Errorf("expected %v, but got %v", want, links)
		}
	}
}
