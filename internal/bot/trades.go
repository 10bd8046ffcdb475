package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/miyamoto-labs/easypoly/internal/events"
	"github.com/miyamoto-labs/easypoly/internal/gamma"
	"github.com/miyamoto-labs/easypoly/internal/metrics"
	"github.com/miyamoto-labs/easypoly/internal/model"
	"github.com/miyamoto-labs/easypoly/internal/store"
	"github.com/miyamoto-labs/easypoly/internal/window"
)

// LogTradeRequest is the JSON body for POST /api/bot/trades. The trade has
// already executed on-chain; this only records it against the session.
type LogTradeRequest struct {
	WalletAddress string          `json:"walletAddress"`
	SessionID     string          `json:"sessionId"`
	Slug          string          `json:"slug"`
	Side          string          `json:"side"`
	TokenID       string          `json:"tokenId"`
	Amount        decimal.Decimal `json:"amount"`
	Price         decimal.Decimal `json:"price"`
	OrderID       string          `json:"orderId"`
}

// LogTrade records a trade on an active session and debits its stake.
func (s *Service) LogTrade(ctx context.Context, req LogTradeRequest) (*model.Trade, error) {
	w, err := window.ParseSlug(strings.TrimSpace(req.Slug))
	if err != nil {
		return nil, invalid("%v", err)
	}
	side := strings.ToLower(strings.TrimSpace(req.Side))
	if side != model.SideUp && side != model.SideDown {
		return nil, invalid("side must be up or down")
	}
	if !req.Amount.IsPositive() {
		return nil, invalid("amount must be positive")
	}
	if !req.Price.IsPositive() || req.Price.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, invalid("price must be between 0 and 1")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.owned(ctx, req.WalletAddress, req.SessionID)
	if err != nil {
		return nil, err
	}
	if err := s.expireIfDue(ctx, sess); err != nil {
		return nil, err
	}
	if !sess.Open() {
		return nil, ErrSessionClosed
	}
	if sess.Status != model.SessionActive {
		return nil, ErrSessionNotActive
	}
	if req.Amount.GreaterThan(sess.CurrentBalance) {
		return nil, ErrInsufficientBalance
	}

	now := s.now().UTC()
	t := &model.Trade{
		ID:            uuid.New().String(),
		SessionID:     sess.ID,
		WalletAddress: sess.WalletAddress,
		Slug:          w.Slug(),
		Asset:         string(w.Asset),
		Side:          side,
		TokenID:       strings.TrimSpace(req.TokenID),
		Amount:        req.Amount,
		Price:         req.Price,
		Shares:        req.Amount.DivRound(req.Price, 6),
		Outcome:       model.OutcomePending,
		PnL:           decimal.Zero,
		OrderID:       strings.TrimSpace(req.OrderID),
		CreatedAt:     now,
	}
	next := *sess
	next.CurrentBalance = next.CurrentBalance.Sub(t.Amount)
	next.TotalTrades++
	next.UpdatedAt = now
	if err := s.store.RecordTrade(ctx, t, &next); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrDuplicateWindow
		}
		return nil, fmt.Errorf("record trade: %w", err)
	}
	*sess = next

	metrics.TradesLogged.WithLabelValues(t.Asset, t.Side).Inc()
	slog.Info("bot trade logged",
		"id", t.ID,
		"session", sess.ID,
		"slug", t.Slug,
		"side", t.Side,
		"amount", t.Amount.String(),
		"price", t.Price.String(),
	)

	if s.points != nil && s.opts.TradePoints > 0 {
		if _, err := s.points.Award(ctx, sess.WalletAddress, s.opts.TradePoints, ReasonTrade); err != nil {
			slog.Warn("trade points award failed", "wallet", sess.WalletAddress, "err", err)
		}
	}
	s.emit(ctx, events.TradeLogged, sess, t)
	return t, nil
}

// ResolveTrade settles a pending trade. A win pays out the shares, a loss
// pays nothing; the session's balance and tallies are updated.
func (s *Service) ResolveTrade(ctx context.Context, wallet, tradeID, outcome string) (*model.Trade, error) {
	outcome = strings.ToLower(strings.TrimSpace(outcome))
	if outcome != model.OutcomeWon && outcome != model.OutcomeLost {
		return nil, invalid("outcome must be won or lost")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.store.GetTrade(ctx, tradeID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTradeNotFound
	}
	if err != nil {
		return nil, err
	}
	sess, err := s.owned(ctx, wallet, t.SessionID)
	if err != nil {
		return nil, err
	}
	return s.resolveLocked(ctx, sess, t, outcome)
}

// resolveLocked applies outcome to t and folds it into sess. Caller holds s.mu.
func (s *Service) resolveLocked(ctx context.Context, sess *model.Session, t *model.Trade, outcome string) (*model.Trade, error) {
	if t.Outcome != model.OutcomePending {
		return nil, ErrTradeResolved
	}

	now := s.now().UTC()
	payout := decimal.Zero
	if outcome == model.OutcomeWon {
		payout = t.Shares
	}
	settled := *t
	settled.Outcome = outcome
	settled.PnL = payout.Sub(t.Amount)
	settled.ResolvedAt = &now

	next := *sess
	next.CurrentBalance = next.CurrentBalance.Add(payout)
	next.TotalPnL = next.TotalPnL.Add(settled.PnL)
	if outcome == model.OutcomeWon {
		next.Wins++
	} else {
		next.Losses++
	}
	next.UpdatedAt = now

	if err := s.store.ResolveTrade(ctx, &settled, &next); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrTradeResolved
		}
		return nil, fmt.Errorf("resolve trade: %w", err)
	}
	*t = settled
	*sess = next

	metrics.TradesResolved.WithLabelValues(outcome).Inc()
	slog.Info("bot trade resolved", "id", t.ID, "session", sess.ID, "outcome", outcome, "pnl", t.PnL.String())
	s.emit(ctx, events.TradeResolved, sess, t)
	return t, nil
}

// SettleResult reports what a settle pass did.
type SettleResult struct {
	Resolved []model.Trade `json:"resolved"`
	Pending  int           `json:"pending"`
}

// Settle resolves the session's pending trades whose window has ended and
// whose market reports a decisive outcome. Trades that cannot be settled
// yet stay pending.
func (s *Service) Settle(ctx context.Context, wallet, sessionID string) (*SettleResult, error) {
	if s.markets == nil {
		return nil, errors.New("bot: settlement unavailable, no market source")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.owned(ctx, wallet, sessionID)
	if err != nil {
		return nil, err
	}
	pending, err := s.store.ListTrades(ctx, sess.ID, model.OutcomePending)
	if err != nil {
		return nil, err
	}

	res := &SettleResult{Resolved: []model.Trade{}}
	now := s.now()
	for i := range pending {
		t := &pending[i]
		w, err := window.ParseSlug(t.Slug)
		if err != nil || now.Before(w.End()) {
			res.Pending++
			continue
		}

		m, err := s.markets.MarketBySlug(ctx, t.Slug)
		if err != nil {
			if !errors.Is(err, gamma.ErrMarketNotFound) {
				slog.Warn("settle lookup failed", "slug", t.Slug, "err", err)
			}
			res.Pending++
			continue
		}
		yesWon, ok := gamma.Resolution(*m)
		if !ok {
			res.Pending++
			continue
		}

		outcome := model.OutcomeLost
		if (t.Side == model.SideUp) == yesWon {
			outcome = model.OutcomeWon
		}
		resolved, err := s.resolveLocked(ctx, sess, t, outcome)
		if err != nil {
			slog.Warn("settle resolve failed", "trade", t.ID, "err", err)
			res.Pending++
			continue
		}
		res.Resolved = append(res.Resolved, *resolved)
	}
	return res, nil
}
