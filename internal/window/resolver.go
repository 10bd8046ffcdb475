package window

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/miyamoto-labs/easypoly/internal/gamma"
)

// DefaultLookahead is how many windows Resolve scans forward by default.
const DefaultLookahead = 3

// ErrNoTradableWindow means no window in the lookahead range is open on
// Polymarket yet. Callers should retry later.
var ErrNoTradableWindow = errors.New("window: no tradable window found")

// MarketSource looks up a market by slug. Implemented by *gamma.Client.
type MarketSource interface {
	MarketBySlug(ctx context.Context, slug string) (*gamma.Market, error)
}

// Resolved is a tradable window together with its market and normalized quote.
type Resolved struct {
	Window Window
	Market *gamma.Market
	Quote  gamma.Quote
}

type Resolver struct {
	source MarketSource
	now    func() time.Time
}

func NewResolver(source MarketSource) *Resolver {
	return &Resolver{source: source, now: time.Now}
}

// WithClock replaces the time source.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// Resolve scans forward from the current window and returns the earliest one
// whose market exists, is active and is not closed. Slugs in exclude are
// skipped without a lookup. A lookup error on one candidate does not abort
// the scan, but when nothing qualifies the last such error is returned in
// place of ErrNoTradableWindow.
func (r *Resolver) Resolve(ctx context.Context, asset Asset, intervalMinutes int, exclude []string, maxLookahead int) (*Resolved, error) {
	if _, err := ParseInterval(intervalMinutes); err != nil {
		return nil, err
	}
	if maxLookahead <= 0 {
		maxLookahead = DefaultLookahead
	}

	skip := make(map[string]struct{}, len(exclude))
	for _, s := range exclude {
		skip[s] = struct{}{}
	}

	var lookupErr error
	current := Current(asset, intervalMinutes, r.now())
	for i := 0; i < maxLookahead; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		w := current.Next(i)
		slug := w.Slug()
		if _, ok := skip[slug]; ok {
			continue
		}

		m, err := r.source.MarketBySlug(ctx, slug)
		if err != nil {
			if !errors.Is(err, gamma.ErrMarketNotFound) {
				slog.Warn("window lookup failed", "slug", slug, "err", err)
				lookupErr = err
			}
			continue
		}
		if !m.Tradable() {
			continue
		}

		return &Resolved{
			Window: w,
			Market: m,
			Quote:  gamma.NormalizeMarket(*m),
		}, nil
	}

	if lookupErr != nil {
		return nil, fmt.Errorf("window: lookup failed: %w", lookupErr)
	}
	return nil, ErrNoTradableWindow
}
