// Package linear finds the rageshake entry referenced by a Linear issue.
package linear

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzhttp"

	"github.com/paulschiretz/rager/pkg/buildinfo"
)

// DefaultEndpoint is Linear's GraphQL API.
const DefaultEndpoint = "https://api.linear.app/graphql"

var (
	// ErrMissingToken is returned when no API token is configured.
	ErrMissingToken = errors.New("linear-token is not configured; create one at https://linear.app/settings/api")
	// ErrIssueNotFound is returned when the query matches no issue.
	ErrIssueNotFound = errors.New("issue not found")
	// ErrNoEntryLink is returned when the issue does not link to a rageshake entry.
	ErrNoEntryLink = errors.New("issue description contains no rageshake link")
)

const issueQuery = `query Issue($team: String!, $number: Float!) {
  issues(filter: { number: { eq: $number }, team: { key: { eq: $team } } }) {
    nodes { identifier title description }
  }
}`

var issueKeyRegex = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9]*)-(\d+)$`)

// Issue is the subset of a Linear issue that is fetched.
type Issue struct {
	Identifier  string `json:"identifier"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Options configures a Client.
type Options struct {
	Token    string
	Endpoint string
	Timeout  time.Duration
}

// Client queries the Linear API.
type Client struct {
	token      string
	endpoint   string
	httpClient *http.Client
}

// New returns a client. A missing token is ErrMissingToken.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, ErrMissingToken
	}
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		token:    strings.TrimSpace(opts.Token),
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: gzhttp.Transport(http.DefaultTransport),
		},
	}, nil
}

// ParseIssueKey splits "TEAM-123" into its team key and number.
func ParseIssueKey(key string) (string, int, error) {
	m := issueKeyRegex.FindStringSubmatch(strings.TrimSpace(key))
	if m == nil {
		return "", 0, fmt.Errorf("invalid issue key %q: expected TEAM-123", key)
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, fmt.Errorf("invalid issue number in %q: %w", key, err)
	}
	return strings.ToUpper(m[1]), n, nil
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLResponse struct {
	Data struct {
		Issues struct {
			Nodes []Issue `json:"nodes"`
		} `json:"issues"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Issue fetches the issue with the given team key and number.
func (c *Client) Issue(ctx context.Context, team string, number int) (Issue, error) {
	body, err := json.Marshal(graphQLRequest{
		Query:     issueQuery,
		Variables: map[string]any{"team": team, "number": number},
	})
	if err != nil {
		return Issue{}, fmt.Errorf("could not encode query: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Issue{}, fmt.Errorf("could not build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.token)
	req.Header.Set("User-Agent", buildinfo.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Issue{}, fmt.Errorf("linear request failed: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return Issue{}, fmt.Errorf("could not read linear response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Issue{}, fmt.Errorf("linear returned %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	var out graphQLResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return Issue{}, fmt.Errorf("could not decode linear response: %w", err)
	}
	if len(out.Errors) > 0 {
		msgs := make([]string, len(out.Errors))
		for i, e := range out.Errors {
			msgs[i] = e.Message
		}
		return Issue{}, fmt.Errorf("linear query failed: %s", strings.Join(msgs, "; "))
	}
	if len(out.Data.Issues.Nodes) == 0 {
		return Issue{}, fmt.Errorf("%w: %s-%d", ErrIssueNotFound, team, number)
	}
	return out.Data.Issues.Nodes[0], nil
}

// FindEntryID returns the ID of the first entry of server linked in text.
func FindEntryID(text, server string) (string, bool) {
	server = strings.TrimRight(server, "/")
	re, err := regexp.Compile(regexp.QuoteMeta(server) + `/api/listing/(\d{4,}-\d{2,}-\d{2,})/(\d{6,})`)
	if err != nil {
		return "", false
	}
	m := re.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1] + "/" + m[2], true
}

// FindEntry looks up the issue key and returns it together with the entry
// ID its description links to.
func (c *Client) FindEntry(ctx context.Context, key, server string) (Issue, string, error) {
	team, number, err := ParseIssueKey(key)
	if err != nil {
		return Issue{}, "", err
	}
	issue, err := c.Issue(ctx, team, number)
	if err != nil {
		return Issue{}, "", err
	}
	id, ok := FindEntryID(issue.Description, server)
	if !ok {
		return issue, "", ErrNoEntryLink
	}
	return issue, id, nil
}
