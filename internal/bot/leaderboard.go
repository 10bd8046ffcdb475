package bot

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/miyamoto-labs/easypoly/internal/ranking"
)

const (
	defaultLeaderboardLimit = 20
	maxLeaderboardLimit     = 100
)

// Leaderboard ranks finished sessions by ROI. minTrades < 0 uses the
// configured floor. limit <= 0 means the default of 20, and no call
// returns more than 100 entries.
func (s *Service) Leaderboard(ctx context.Context, mode string, minTrades, limit int) ([]ranking.Entry, error) {
	if minTrades < 0 {
		minTrades = s.opts.MinTrades
	}
	sessions, err := s.store.ListFinishedSessions(ctx, mode)
	if err != nil {
		return nil, err
	}
	entries := ranking.RankByROI(sessions, mode, minTrades)
	switch {
	case limit <= 0:
		limit = defaultLeaderboardLimit
	case limit > maxLeaderboardLimit:
		limit = maxLeaderboardLimit
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	if entries == nil {
		entries = []ranking.Entry{}
	}
	return entries, nil
}

// Jackpot splits pool across the top of the leaderboard.
func (s *Service) Jackpot(ctx context.Context, mode string, pool decimal.Decimal) ([]ranking.Payout, error) {
	entries, err := s.Leaderboard(ctx, mode, -1, len(s.opts.JackpotShares))
	if err != nil {
		return nil, err
	}
	payouts, err := ranking.SplitJackpot(entries, pool, s.opts.JackpotShares)
	if err != nil {
		return nil, err
	}
	if payouts == nil {
		payouts = []ranking.Payout{}
	}
	return payouts, nil
}
