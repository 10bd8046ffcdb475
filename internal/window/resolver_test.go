package window_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/miyamoto-labs/easypoly/internal/gamma"
	"github.com/miyamoto-labs/easypoly/internal/window"
)

// fakeSource serves markets from a map and records every lookup.
type fakeSource struct {
	mu      sync.Mutex
	markets map[string]*gamma.Market
	errs    map[string]error
	calls   []string
}

func (f *fakeSource) MarketBySlug(_ context.Context, slug string) (*gamma.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, slug)
	if err, ok := f.errs[slug]; ok {
		return nil, err
	}
	m, ok := f.markets[slug]
	if !ok {
		return nil, fmt.Errorf("%w: %s", gamma.ErrMarketNotFound, slug)
	}
	return m, nil
}

var fixedNow = time.Date(2024, 1, 1, 0, 7, 0, 0, time.UTC)

func openMarket(slug string) *gamma.Market {
	return &gamma.Market{
		Slug:          slug,
		Active:        true,
		OutcomePrices: []byte(`"[\"0.61\", \"0.39\"]"`),
		ClobTokenIDs:  []byte(`["tok-up", "tok-down"]`),
	}
}

func newResolver(src *fakeSource) *window.Resolver {
	return window.NewResolver(src).WithClock(func() time.Time { return fixedNow })
}

func TestResolve_CurrentWindow(t *testing.T) {
	src := &fakeSource{markets: map[string]*gamma.Market{
		"btc-updown-5m-1704067500": openMarket("btc-updown-5m-1704067500"),
	}}

	res, err := newResolver(src).Resolve(context.Background(), window.AssetBTC, 5, nil, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Window.Slug() != "btc-updown-5m-1704067500" {
		t.Errorf("expected current window, got %s", res.Window.Slug())
	}
	if res.Quote.YesToken != "tok-up" || res.Quote.Yes.String() != "0.61" {
		t.Errorf("unexpected quote: %+v", res.Quote)
	}
	if len(src.calls) != 1 {
		t.Errorf("expected 1 lookup, got %d", len(src.calls))
	}
}

func TestResolve_EarliestTradableWins(t *testing.T) {
	closed := openMarket("btc-updown-5m-1704067500")
	closed.Closed = true
	inactive := openMarket("btc-updown-5m-1704067800")
	inactive.Active = false

	src := &fakeSource{markets: map[string]*gamma.Market{
		"btc-updown-5m-1704067500": closed,
		"btc-updown-5m-1704067800": inactive,
		"btc-updown-5m-1704068100": openMarket("btc-updown-5m-1704068100"),
	}}

	res, err := newResolver(src).Resolve(context.Background(), window.AssetBTC, 5, nil, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Window.Slug() != "btc-updown-5m-1704068100" {
		t.Errorf("expected third window, got %s", res.Window.Slug())
	}
}

func TestResolve_ExcludedSlugsNotQueried(t *testing.T) {
	src := &fakeSource{markets: map[string]*gamma.Market{
		"eth-updown-5m-1704067500": openMarket("eth-updown-5m-1704067500"),
		"eth-updown-5m-1704067800": openMarket("eth-updown-5m-1704067800"),
	}}

	res, err := newResolver(src).Resolve(context.Background(), window.AssetETH, 5,
		[]string{"eth-updown-5m-1704067500"}, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Window.Slug() != "eth-updown-5m-1704067800" {
		t.Errorf("expected next window, got %s", res.Window.Slug())
	}
	for _, c := range src.calls {
		if c == "eth-updown-5m-1704067500" {
			t.Error("excluded slug was queried")
		}
	}
}

func TestResolve_UpstreamErrorContinuesScan(t *testing.T) {
	src := &fakeSource{
		markets: map[string]*gamma.Market{
			"btc-updown-5m-1704067800": openMarket("btc-updown-5m-1704067800"),
		},
		errs: map[string]error{
			"btc-updown-5m-1704067500": errors.New("gamma: status=500"),
		},
	}

	res, err := newResolver(src).Resolve(context.Background(), window.AssetBTC, 5, nil, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Window.Slug() != "btc-updown-5m-1704067800" {
		t.Errorf("expected second window, got %s", res.Window.Slug())
	}
}

func TestResolve_UpstreamOutage(t *testing.T) {
	outage := errors.New("gamma: status=503")
	src := &fakeSource{
		markets: map[string]*gamma.Market{},
		errs: map[string]error{
			"btc-updown-5m-1704067500": outage,
			"btc-updown-5m-1704067800": outage,
			"btc-updown-5m-1704068100": outage,
		},
	}

	_, err := newResolver(src).Resolve(context.Background(), window.AssetBTC, 5, nil, 3)
	if !errors.Is(err, outage) {
		t.Fatalf("expected the upstream error, got %v", err)
	}
	if errors.Is(err, window.ErrNoTradableWindow) {
		t.Error("an outage must not read as an empty lookahead")
	}
}

func TestResolve_NoneTradable(t *testing.T) {
	src := &fakeSource{markets: map[string]*gamma.Market{}}

	_, err := newResolver(src).Resolve(context.Background(), window.AssetBTC, 5, nil, 3)
	if !errors.Is(err, window.ErrNoTradableWindow) {
		t.Fatalf("expected ErrNoTradableWindow, got %v", err)
	}
	if len(src.calls) != 3 {
		t.Errorf("expected 3 lookups, got %d", len(src.calls))
	}
}

func TestResolve_InvalidInterval(t *testing.T) {
	src := &fakeSource{}
	_, err := newResolver(src).Resolve(context.Background(), window.AssetBTC, 15, nil, 3)
	if !errors.Is(err, window.ErrInvalidInterval) {
		t.Fatalf("expected ErrInvalidInterval, got %v", err)
	}
	if len(src.calls) != 0 {
		t.Error("no lookups expected for invalid interval")
	}
}
