package market_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/miyamoto-labs/easypoly/internal/assistant"
	"github.com/miyamoto-labs/easypoly/internal/gamma"
	"github.com/miyamoto-labs/easypoly/internal/market"
	"github.com/miyamoto-labs/easypoly/internal/window"
)

const (
	slug0005 = "btc-updown-5m-1704067500"
	slug0010 = "btc-updown-5m-1704067800"
)

var fixedNow = time.Date(2024, 1, 1, 0, 7, 0, 0, time.UTC)

type fakeSource struct {
	markets map[string]*gamma.Market
	err     error
}

func (f *fakeSource) MarketBySlug(_ context.Context, slug string) (*gamma.Market, error) {
	if f.err != nil {
		return nil, f.err
	}
	if m, ok := f.markets[slug]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("%w: %s", gamma.ErrMarketNotFound, slug)
}

type fakePrices struct {
	got []string
	err error
}

func (f *fakePrices) Prices(_ context.Context, tokens []string) (map[string]decimal.Decimal, error) {
	f.got = tokens
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]decimal.Decimal, len(tokens))
	for _, t := range tokens {
		out[t] = decimal.RequireFromString("0.42")
	}
	return out, nil
}

type fakeAssistant struct {
	prompt string
	err    error
}

func (f *fakeAssistant) Ask(_ context.Context, prompt string) (*assistant.Answer, error) {
	f.prompt = prompt
	if f.err != nil {
		return nil, f.err
	}
	return &assistant.Answer{Backend: "fake", JobID: "job-9", Status: "completed", Text: "ok"}, nil
}

func windowMarket(slug string, tokens string) *gamma.Market {
	return &gamma.Market{
		Slug:          slug,
		Question:      "Bitcoin Up or Down?",
		Active:        true,
		EndDate:       "2024-01-01T00:10:00Z",
		OutcomePrices: []byte(`["0.55","0.45"]`),
		ClobTokenIDs:  []byte(tokens),
	}
}

func newRouter(src *fakeSource, prices *fakePrices, ai assistant.Assistant) chi.Router {
	resolver := window.NewResolver(src).WithClock(func() time.Time { return fixedNow })
	svc := market.NewService(resolver, prices, ai, 3)
	r := chi.NewRouter()
	r.Get("/api/market", svc.HandleMarket)
	r.Get("/api/prices", svc.HandlePrices)
	r.Post("/api/trade/manual", svc.HandleManualTrade)
	return r
}

func get(r chi.Router, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandleMarket(t *testing.T) {
	src := &fakeSource{markets: map[string]*gamma.Market{
		slug0005: windowMarket(slug0005, `"[\"tok-up\",\"tok-down\"]"`),
	}}
	r := newRouter(src, &fakePrices{}, nil)

	w := get(r, "/api/market?market=BTC&side=down")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var sel market.Selection
	json.NewDecoder(w.Body).Decode(&sel)
	if sel.TokenID != "tok-down" || !sel.Price.Equal(decimal.RequireFromString("0.45")) || sel.Slug != slug0005 {
		t.Errorf("unexpected selection: %+v", sel)
	}
	if !sel.MarketEndTime.Equal(time.Date(2024, 1, 1, 0, 10, 0, 0, time.UTC)) {
		t.Errorf("unexpected end time: %s", sel.MarketEndTime)
	}
}

func TestHandleMarket_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  *fakeSource
		path string
		want int
	}{
		{"bad side", &fakeSource{}, "/api/market?side=sideways", http.StatusBadRequest},
		{"none tradable", &fakeSource{markets: map[string]*gamma.Market{}}, "/api/market", http.StatusNotFound},
		{"excluded", &fakeSource{markets: map[string]*gamma.Market{
			slug0005: windowMarket(slug0005, `["a","b"]`),
		}}, "/api/market?excludeSlugs=" + slug0005, http.StatusNotFound},
		{"missing token", &fakeSource{markets: map[string]*gamma.Market{
			slug0005: windowMarket(slug0005, `["only-up"]`),
		}}, "/api/market?side=down", http.StatusBadGateway},
		{"gamma outage", &fakeSource{err: errors.New("gamma: status=503")}, "/api/market", http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(newRouter(tt.src, &fakePrices{}, nil), tt.path)
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestHandleMarket_SkipsToNextWindow(t *testing.T) {
	src := &fakeSource{markets: map[string]*gamma.Market{
		slug0005: windowMarket(slug0005, `["a","b"]`),
		slug0010: windowMarket(slug0010, `["c","d"]`),
	}}
	w := get(newRouter(src, &fakePrices{}, nil), "/api/market?excludeSlugs="+slug0005)
	var sel market.Selection
	json.NewDecoder(w.Body).Decode(&sel)
	if sel.Slug != slug0010 || sel.TokenID != "c" {
		t.Fatalf("expected next window %s, got %+v", slug0010, sel)
	}
}

func TestHandlePrices(t *testing.T) {
	prices := &fakePrices{}
	r := newRouter(&fakeSource{}, prices, nil)

	w := get(r, "/api/prices?tokens=a,b,a,")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(prices.got) != 2 {
		t.Errorf("expected deduplicated tokens, got %v", prices.got)
	}
	var resp struct {
		Prices map[string]decimal.Decimal `json:"prices"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if len(resp.Prices) != 2 {
		t.Errorf("unexpected prices: %v", resp.Prices)
	}

	if w := get(r, "/api/prices"); w.Code != http.StatusBadRequest {
		t.Errorf("no tokens: expected 400, got %d", w.Code)
	}
	var ids []string
	for i := 0; i < 101; i++ {
		ids = append(ids, fmt.Sprintf("t%d", i))
	}
	if w := get(r, "/api/prices?tokens="+strings.Join(ids, ",")); w.Code != http.StatusBadRequest {
		t.Errorf("too many tokens: expected 400, got %d", w.Code)
	}

	failing := newRouter(&fakeSource{}, &fakePrices{err: errors.New("clob down")}, nil)
	if w := get(failing, "/api/prices?tokens=a"); w.Code != http.StatusBadGateway {
		t.Errorf("upstream failure: expected 502, got %d", w.Code)
	}
}

func manual(r chi.Router, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/api/trade/manual", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandleManualTrade(t *testing.T) {
	src := &fakeSource{markets: map[string]*gamma.Market{
		slug0005: windowMarket(slug0005, `["tok-up","tok-down"]`),
	}}
	ai := &fakeAssistant{}
	r := newRouter(src, &fakePrices{}, ai)

	w := manual(r, `{"walletAddress":"0xAbCdEf0123456789abcdef0123456789ABCDEF01","market":"btc","side":"up","amount":"5000"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp market.ManualTradeResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if !resp.Amount.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("amount should clamp to 1000, got %s", resp.Amount)
	}
	if resp.Answer == nil || resp.Answer.JobID != "job-9" {
		t.Errorf("expected assistant answer, got %+v", resp.Answer)
	}
	if !strings.Contains(ai.prompt, "$1000.00") || !strings.Contains(ai.prompt, "tok-up") {
		t.Errorf("unexpected prompt: %q", ai.prompt)
	}

	if w := manual(r, `{"walletAddress":"bad","side":"up","amount":"5"}`); w.Code != http.StatusBadRequest {
		t.Errorf("bad wallet: expected 400, got %d", w.Code)
	}

	noAI := newRouter(src, &fakePrices{}, nil)
	w = manual(noAI, `{"walletAddress":"0xAbCdEf0123456789abcdef0123456789ABCDEF01","side":"up","amount":"5"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("no assistant: expected 503, got %d", w.Code)
	}

	slow := newRouter(src, &fakePrices{}, &fakeAssistant{err: assistant.ErrTimeout})
	w = manual(slow, `{"walletAddress":"0xAbCdEf0123456789abcdef0123456789ABCDEF01","side":"up","amount":"5"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("assistant timeout: expected 503, got %d", w.Code)
	}
}

func TestClampAmount(t *testing.T) {
	tests := []struct{ in, want string }{
		{"0", "1"},
		{"-5", "1"},
		{"1", "1"},
		{"250.5", "250.5"},
		{"1000", "1000"},
		{"1000.01", "1000"},
	}
	for _, tt := range tests {
		got := market.ClampAmount(decimal.RequireFromString(tt.in))
		if !got.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("ClampAmount(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
