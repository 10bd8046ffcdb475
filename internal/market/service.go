// Package market serves the current tradable window for an asset, batch
// token prices, and manual trades forwarded to the AI assistant.
package market

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/miyamoto-labs/easypoly/internal/address"
	"github.com/miyamoto-labs/easypoly/internal/assistant"
	"github.com/miyamoto-labs/easypoly/internal/httpx"
	"github.com/miyamoto-labs/easypoly/internal/metrics"
	"github.com/miyamoto-labs/easypoly/internal/model"
	"github.com/miyamoto-labs/easypoly/internal/window"
)

var (
	ErrInvalidSide = errors.New("market: side must be up or down")
	ErrNoToken     = errors.New("market: market has no token for side")
)

const maxPriceTokens = 100

var (
	minManualAmount = decimal.NewFromInt(1)
	maxManualAmount = decimal.NewFromInt(1000)
)

// WindowResolver finds the next tradable window. Implemented by *window.Resolver.
type WindowResolver interface {
	Resolve(ctx context.Context, asset window.Asset, intervalMinutes int, exclude []string, maxLookahead int) (*window.Resolved, error)
}

// PriceSource returns midpoint prices by token. Implemented by *clob.Client.
type PriceSource interface {
	Prices(ctx context.Context, tokenIDs []string) (map[string]decimal.Decimal, error)
}

type Service struct {
	resolver     WindowResolver
	prices       PriceSource
	ai           assistant.Assistant
	maxLookahead int
}

// NewService creates a market service. A nil ai makes manual trades return 503.
func NewService(resolver WindowResolver, prices PriceSource, ai assistant.Assistant, maxLookahead int) *Service {
	if maxLookahead <= 0 {
		maxLookahead = window.DefaultLookahead
	}
	return &Service{resolver: resolver, prices: prices, ai: ai, maxLookahead: maxLookahead}
}

// Selection is a resolved window narrowed to one side.
type Selection struct {
	TokenID       string          `json:"tokenId"`
	Price         decimal.Decimal `json:"price"`
	Slug          string          `json:"slug"`
	MarketEndTime time.Time       `json:"marketEndTime"`
	Question      string          `json:"question"`
	Side          string          `json:"side"`
	Asset         string          `json:"asset"`
}

func parseSide(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", model.SideUp, "yes":
		return model.SideUp, nil
	case model.SideDown, "no":
		return model.SideDown, nil
	}
	return "", ErrInvalidSide
}

// Select resolves the earliest tradable window for asset and picks the
// token and price for side.
func (s *Service) Select(ctx context.Context, asset window.Asset, side string, exclude []string) (*Selection, error) {
	res, err := s.resolver.Resolve(ctx, asset, window.DefaultInterval, exclude, s.maxLookahead)
	if err != nil {
		result := "error"
		if errors.Is(err, window.ErrNoTradableWindow) {
			result = "none"
		}
		metrics.WindowResolutions.WithLabelValues(string(asset), result).Inc()
		return nil, err
	}
	metrics.WindowResolutions.WithLabelValues(string(asset), "found").Inc()

	sel := &Selection{
		Slug:          res.Window.Slug(),
		MarketEndTime: res.Window.End(),
		Side:          side,
		Asset:         string(asset),
	}
	if res.Market != nil {
		sel.Question = res.Market.Question
		if end := res.Market.EndTime(); !end.IsZero() {
			sel.MarketEndTime = end
		}
	}
	if side == model.SideUp {
		sel.TokenID, sel.Price = res.Quote.YesToken, res.Quote.Yes
	} else {
		sel.TokenID, sel.Price = res.Quote.NoToken, res.Quote.No
	}
	if sel.TokenID == "" {
		return nil, ErrNoToken
	}
	return sel, nil
}

func writeSelectError(w http.ResponseWriter, asset window.Asset, err error) {
	switch {
	case errors.Is(err, window.ErrNoTradableWindow):
		httpx.WriteError(w, "no tradable window open yet, retry shortly", http.StatusNotFound)
	case errors.Is(err, ErrNoToken):
		slog.Error("window market missing token", "asset", asset, "err", err)
		httpx.WriteError(w, "market has no token id for this side", http.StatusBadGateway)
	default:
		slog.Error("window lookup failed", "asset", asset, "err", err)
		httpx.WriteError(w, "market lookup failed", http.StatusBadGateway)
	}
}

// HandleMarket handles GET /api/market?market=btc&side=up&excludeSlugs=a,b.
func (s *Service) HandleMarket(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	side, err := parseSide(q.Get("side"))
	if err != nil {
		httpx.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}
	asset := window.ParseAsset(q.Get("market"))

	sel, err := s.Select(r.Context(), asset, side, httpx.CSV(q.Get("excludeSlugs")))
	if err != nil {
		writeSelectError(w, asset, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, sel)
}

// HandlePrices handles GET /api/prices?tokens=a,b,c.
func (s *Service) HandlePrices(w http.ResponseWriter, r *http.Request) {
	tokens := httpx.CSV(r.URL.Query().Get("tokens"))
	if len(tokens) == 0 {
		httpx.WriteError(w, "tokens required", http.StatusBadRequest)
		return
	}
	if len(tokens) > maxPriceTokens {
		httpx.WriteError(w, "too many tokens (max 100)", http.StatusBadRequest)
		return
	}

	prices, err := s.prices.Prices(r.Context(), tokens)
	if err != nil {
		slog.Error("price lookup failed", "tokens", len(tokens), "err", err)
		httpx.WriteError(w, "price lookup failed", http.StatusBadGateway)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"prices": prices})
}

// ManualTradeRequest is the JSON body for POST /api/trade/manual.
type ManualTradeRequest struct {
	WalletAddress string          `json:"walletAddress"`
	Market        string          `json:"market"`
	Side          string          `json:"side"`
	Amount        decimal.Decimal `json:"amount"`
}

// ManualTradeResponse echoes the window traded and the assistant's reply.
type ManualTradeResponse struct {
	Selection
	Amount decimal.Decimal   `json:"amount"`
	Answer *assistant.Answer `json:"assistant"`
}

// ClampAmount bounds a manual stake to [1, 1000].
func ClampAmount(a decimal.Decimal) decimal.Decimal {
	return decimal.Min(decimal.Max(a, minManualAmount), maxManualAmount)
}

// HandleManualTrade handles POST /api/trade/manual.
func (s *Service) HandleManualTrade(w http.ResponseWriter, r *http.Request) {
	var req ManualTradeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}
	wallet, err := address.Normalize(req.WalletAddress)
	if err != nil {
		httpx.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}
	side, err := parseSide(req.Side)
	if err != nil {
		httpx.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if s.ai == nil {
		assistant.WriteError(w, assistant.ErrNotConfigured)
		return
	}

	amount := ClampAmount(req.Amount)
	asset := window.ParseAsset(req.Market)
	sel, err := s.Select(r.Context(), asset, side, nil)
	if err != nil {
		writeSelectError(w, asset, err)
		return
	}

	prompt := assistant.TradePrompt(string(asset), side, amount, sel.Slug, sel.TokenID)
	ans, err := s.ai.Ask(r.Context(), prompt)
	if err != nil {
		assistant.WriteError(w, err)
		return
	}

	slog.Info("manual trade submitted",
		"wallet", wallet,
		"slug", sel.Slug,
		"side", side,
		"amount", amount.String(),
		"job_id", ans.JobID,
	)
	httpx.WriteJSON(w, http.StatusOK, ManualTradeResponse{Selection: *sel, Amount: amount, Answer: ans})
}
