// Package gamma reads market metadata from Polymarket's Gamma API.
package gamma

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/miyamoto-labs/easypoly/internal/httputil"
)

const DefaultURL = "https://gamma-api.polymarket.com"

// DefaultUserAgent mimics a browser UA to avoid Cloudflare 403s.
const DefaultUserAgent = "Mozilla/5.0"

// ErrMarketNotFound is returned when Gamma has no market for a slug.
var ErrMarketNotFound = errors.New("gamma: market not found")

// Market is the subset of a Gamma market the backend uses. The list-valued
// fields are kept raw because Gamma sends them either as a JSON-encoded
// string or as a native array; see NormalizeMarket.
type Market struct {
	ID              string          `json:"id"`
	Slug            string          `json:"slug"`
	Question        string          `json:"question"`
	Active          bool            `json:"active"`
	Closed          bool            `json:"closed"`
	AcceptingOrders bool            `json:"acceptingOrders"`
	EndDate         string          `json:"endDate"`
	Outcomes        json.RawMessage `json:"outcomes"`
	OutcomePrices   json.RawMessage `json:"outcomePrices"`
	ClobTokenIDs    json.RawMessage `json:"clobTokenIds"`
}

// Tradable reports whether the market is live and unresolved.
func (m *Market) Tradable() bool {
	return m.Active && !m.Closed
}

// EndTime parses EndDate; the zero time is returned when absent.
func (m *Market) EndTime() time.Time {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(m.EndDate))
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

type Client struct {
	host       string
	httpClient *http.Client
	userAgent  string
	retry      httputil.RetryConfig
}

func NewClient(host string) (*Client, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		host = DefaultURL
	}
	host = strings.TrimRight(host, "/")

	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("gamma url parse %q: %w", host, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("gamma url must be http(s), got %q", host)
	}

	return &Client{
		host: host,
		httpClient: &http.Client{
			Timeout: 12 * time.Second,
		},
		userAgent: DefaultUserAgent,
		retry:     httputil.DefaultRetry,
	}, nil
}

// WithRetry overrides the retry policy (tests use httputil.NoRetry).
func (c *Client) WithRetry(cfg httputil.RetryConfig) *Client {
	c.retry = cfg
	return c
}

// MarketBySlug fetches a single market. ErrMarketNotFound when Gamma
// returns no rows; any non-200 is an upstream error.
func (c *Client) MarketBySlug(ctx context.Context, slug string) (*Market, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, fmt.Errorf("gamma: slug required")
	}

	q := url.Values{}
	q.Set("slug", slug)
	endpoint := c.host + "/markets?" + q.Encode()

	resp, err := httputil.Do(ctx, c.httpClient, c.retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("gamma %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, slug)
	}
	if resp.StatusCode != http.StatusOK {
		body := httputil.ReadBodyLimit(resp.Body, 8<<10)
		return nil, fmt.Errorf("gamma %s: status=%d body=%q", endpoint, resp.StatusCode, body)
	}

	var markets []Market
	if err := json.NewDecoder(resp.Body).Decode(&markets); err != nil {
		return nil, fmt.Errorf("gamma decode: %w", err)
	}

	// Prefer an exact slug match, else the first row.
	for i := range markets {
		if strings.TrimSpace(markets[i].Slug) == slug {
			return &markets[i], nil
		}
	}
	if len(markets) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, slug)
	}
	return &markets[0], nil
}
