// Package graph implements the remote calendar source on top of the
// Microsoft Graph calendarView API.
//
// Acquiring access tokens is out of scope: the client calls back into a
// TokenSource for every request and never refreshes or caches credentials
// itself.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/destacey/calsync/pkg/errors"
	"github.com/destacey/calsync/pkg/sync"
)

// DefaultBaseURL is the production Graph endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

const defaultPageSize = 50

// TokenSource returns a bearer token for the next request.
type TokenSource func(ctx context.Context) (string, error)

// Config wires a Client.
type Config struct {
	// Tokens is required.
	Tokens TokenSource

	// BaseURL defaults to DefaultBaseURL. Tests point it at a local server.
	BaseURL string

	// HTTPClient defaults to a client with a 30 second timeout.
	HTTPClient *http.Client

	// PageSize is the Prefer: odata.maxpagesize hint. Defaults to 50.
	PageSize int
}

// Client fetches calendar events from Microsoft Graph. It implements
// sync.Source.
type Client struct {
	http     *http.Client
	baseURL  string
	tokens   TokenSource
	pageSize int
}

var _ sync.Source = (*Client)(nil)

// New creates a Graph client.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Client{
		http:     httpClient,
		baseURL:  baseURL,
		tokens:   cfg.Tokens,
		pageSize: pageSize,
	}
}

// FetchRange starts an initial delta query over the window. Graph returns
// every event overlapping the window, page by page, and a delta token on the
// final page that establishes differential tracking.
func (c *Client) FetchRange(ctx context.Context, start, end time.Time) (sync.Pager, error) {
	query := url.Values{}
	query.Set("startDateTime", start.UTC().Format(time.RFC3339))
	query.Set("endDateTime", end.UTC().Format(time.RFC3339))
	return &pager{
		client:  c,
		nextURL: c.baseURL + "/me/calendarView/delta?" + query.Encode(),
	}, nil
}

// FetchDelta resumes a delta query from a stored continuation token. The
// token is passed through unmodified.
func (c *Client) FetchDelta(ctx context.Context, token string) (sync.Pager, error) {
	query := url.Values{}
	query.Set("$deltatoken", token)
	return &pager{
		client:  c,
		nextURL: c.baseURL + "/me/calendarView/delta?" + query.Encode(),
	}, nil
}

type pager struct {
	client  *Client
	nextURL string
}

func (p *pager) Next(ctx context.Context) (sync.Page, error) {
	body, err := p.client.get(ctx, p.nextURL)
	if err != nil {
		return sync.Page{}, err
	}

	var resp deltaResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return sync.Page{}, errors.WithContext(err, "parse response")
	}

	page := sync.Page{}
	for _, ge := range resp.Value {
		remote, err := ge.toRemote()
		if err != nil {
			// A single malformed event shouldn't sink the whole page.
			log.WithError(err).WithField("id", ge.ID).Warn(
				"Skipping event with unparseable fields")
			continue
		}
		page.Events = append(page.Events, remote)
	}

	switch {
	case resp.DeltaLink != "":
		page.Done = true
		token, err := tokenFromLink(resp.DeltaLink)
		if err != nil {
			return sync.Page{}, err
		}
		page.NextToken = token
	case resp.NextLink != "":
		p.nextURL = resp.NextLink
	default:
		page.Done = true
	}
	return page, nil
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	token, err := c.tokens(ctx)
	if err != nil {
		return nil, errors.WithContext(err, "acquire access token")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.WithContext(err, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Prefer", fmt.Sprintf("odata.maxpagesize=%d", c.pageSize))
	req.Header.Add("Prefer", `outlook.timezone="UTC"`)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.WithContext(err, "request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.WithContext(err, "read response")
	}

	if resp.StatusCode == http.StatusOK {
		return body, nil
	}

	apiErr := parseAPIError(resp.StatusCode, body)

	// Graph signals an expired or invalid delta token with 410 Gone. That's
	// the one failure the engine treats specially.
	if resp.StatusCode == http.StatusGone {
		return nil, errors.TokenExpiredError{Err: apiErr}
	}
	return nil, apiErr
}

// tokenFromLink extracts the continuation token from an @odata.deltaLink.
// The token itself stays opaque.
func tokenFromLink(link string) (string, error) {
	parsed, err := url.Parse(link)
	if err != nil {
		return "", errors.WithContext(err, "parse delta link")
	}
	token := parsed.Query().Get("$deltatoken")
	if token == "" {
		return "", errors.New("delta link carries no token")
	}
	return token, nil
}

// Reachable reports whether the Graph endpoint host accepts connections.
// It's the connectivity signal the sync engine trusts.
func Reachable(timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", "graph.microsoft.com:443", timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
