package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/miyamoto-labs/easypoly/internal/httpx"
	"github.com/miyamoto-labs/easypoly/internal/metrics"
)

const maxPromptLen = 2000

// Instrumented records latency for every call to the wrapped assistant.
type Instrumented struct {
	Assistant
	Backend string
}

func (i Instrumented) Ask(ctx context.Context, prompt string) (*Answer, error) {
	start := time.Now()
	ans, err := i.Assistant.Ask(ctx, prompt)
	result := "ok"
	switch {
	case errors.Is(err, ErrTimeout):
		result = "timeout"
	case err != nil:
		result = "error"
	}
	metrics.AssistantLatency.WithLabelValues(i.Backend, result).Observe(time.Since(start).Seconds())
	return ans, err
}

// TradePrompt builds the natural-language instruction for a manual trade.
func TradePrompt(asset, side string, amount decimal.Decimal, slug, tokenID string) string {
	direction := "UP"
	if strings.EqualFold(side, "down") {
		direction = "DOWN"
	}
	return fmt.Sprintf(
		"Buy $%s of %s on the Polymarket market %s (%s 5-minute window), outcome token %s. Use a market order.",
		amount.StringFixed(2), direction, slug, strings.ToUpper(asset), tokenID,
	)
}

type Service struct {
	ai Assistant
}

// NewService wraps ai for HTTP. A nil ai answers every request with 503.
func NewService(ai Assistant) *Service {
	return &Service{ai: ai}
}

func (s *Service) Ask(ctx context.Context, prompt string) (*Answer, error) {
	if s.ai == nil {
		return nil, ErrNotConfigured
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" || len(prompt) > maxPromptLen {
		return nil, ErrEmptyPrompt
	}
	return s.ai.Ask(ctx, prompt)
}

// AskRequest is the JSON body for POST /api/ai/ask.
type AskRequest struct {
	Prompt string `json:"prompt"`
}

// HandleAsk handles POST /api/ai/ask.
func (s *Service) HandleAsk(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ans, err := s.Ask(r.Context(), req.Prompt)
	if err != nil {
		WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, ans)
}

// WriteError maps an assistant error onto an HTTP response.
func WriteError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrEmptyPrompt):
		httpx.WriteError(w, fmt.Sprintf("prompt required (max %d characters)", maxPromptLen), http.StatusBadRequest)
	case errors.Is(err, ErrNotConfigured):
		httpx.WriteError(w, "AI assistant not configured", http.StatusServiceUnavailable)
	case errors.Is(err, ErrTimeout):
		slog.Warn("assistant timed out", "err", err)
		httpx.WriteError(w, "AI assistant timed out, try again", http.StatusServiceUnavailable)
	default:
		slog.Error("assistant request failed", "err", err)
		httpx.WriteError(w, "AI assistant request failed", http.StatusBadGateway)
	}
}
