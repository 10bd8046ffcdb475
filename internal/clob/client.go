package clob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/miyamoto-labs/easypoly/internal/httputil"
)

const (
	DefaultURL       = "https://clob.polymarket.com"
	DefaultBatchSize = 10
)

type Client struct {
	host       string
	httpClient *http.Client
	batchSize  int
	now        func() time.Time
}

func NewClient(host string, batchSize int) (*Client, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		host = DefaultURL
	}
	host = strings.TrimRight(host, "/")
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("clob url parse %q: %w", host, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("clob url must be http(s), got %q", host)
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Client{
		host:       host,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		batchSize:  batchSize,
		now:        time.Now,
	}, nil
}

// Timestamp is the whole-second epoch used in signed headers.
func (c *Client) Timestamp() int64 {
	return c.now().Unix()
}

type midpointResp struct {
	Mid string `json:"mid"`
}

// Midpoint returns the order book midpoint of one token.
func (c *Client) Midpoint(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("token_id", tokenID)
	var out midpointResp
	if err := c.doJSON(ctx, http.MethodGet, "/midpoint", q, nil, nil, &out); err != nil {
		return decimal.Zero, err
	}
	mid, err := decimal.NewFromString(out.Mid)
	if err != nil {
		return decimal.Zero, fmt.Errorf("clob midpoint %s: %w", tokenID, err)
	}
	return mid, nil
}

// Prices looks up midpoints in batches of batchSize. Lookups within a batch
// run concurrently; batches run one after another. Tokens whose lookup fails
// are left out of the result.
func (c *Client) Prices(ctx context.Context, tokenIDs []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(tokenIDs))

	for start := 0; start < len(tokenIDs); start += c.batchSize {
		end := min(start+c.batchSize, len(tokenIDs))
		batch := tokenIDs[start:end]
		prices := make([]decimal.Decimal, len(batch))
		ok := make([]bool, len(batch))

		g, gctx := errgroup.WithContext(ctx)
		for i, token := range batch {
			i, token := i, token
			g.Go(func() error {
				p, err := c.Midpoint(gctx, token)
				if err != nil {
					slog.Warn("midpoint lookup failed", "token_id", token, "err", err)
					return nil
				}
				prices[i], ok[i] = p, true
				return nil
			})
		}
		_ = g.Wait()
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for i, token := range batch {
			if ok[i] {
				out[token] = prices[i]
			}
		}
	}
	return out, nil
}

// PostOrder forwards a client-signed order body to POST /order, authenticated
// by signer. The raw CLOB response is returned.
func (c *Client) PostOrder(ctx context.Context, signer Signer, body []byte) (json.RawMessage, error) {
	const path = "/order"
	headers, err := signer.Sign(c.Timestamp(), http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	var out json.RawMessage
	if err := c.doJSON(ctx, http.MethodPost, path, nil, headers, body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, params url.Values, headers http.Header, body []byte, out any) error {
	u := c.host + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("clob %s %s: status %d: %s", method, path, resp.StatusCode, httputil.ReadBodyLimit(bytes.NewReader(b), 512))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
