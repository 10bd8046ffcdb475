// Package ranking orders finished bot sessions by return on investment for
// the leaderboard and the jackpot payout.
package ranking

import (
	"errors"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/miyamoto-labs/easypoly/internal/model"
)

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// DefaultMinTrades is the activity floor: a session must have more trades
// than this to be ranked.
const DefaultMinTrades = 3

// DefaultJackpotShares splits the pool 50/30/20 across the top three.
var DefaultJackpotShares = []decimal.Decimal{
	decimal.NewFromInt(50),
	decimal.NewFromInt(30),
	decimal.NewFromInt(20),
}

var ErrInvalidShares = errors.New("ranking: shares must be non-negative and sum to at most 100")

// Entry is one ranked session. Rank starts at 1.
type Entry struct {
	Rank    int             `json:"rank"`
	Session model.Session   `json:"session"`
	ROI     decimal.Decimal `json:"roi"`
}

// Payout is one wallet's jackpot share.
type Payout struct {
	Rank          int             `json:"rank"`
	WalletAddress string          `json:"walletAddress"`
	SessionID     string          `json:"sessionId"`
	ROI           decimal.Decimal `json:"roi"`
	Amount        decimal.Decimal `json:"amount"`
}

// ROI returns totalPnl as a percentage of the larger of bankroll and
// startingBalance. The base never drops below 1.
func ROI(s model.Session) decimal.Decimal {
	base := decimal.Max(s.Bankroll, s.StartingBalance, one)
	return s.TotalPnL.Div(base).Mul(hundred).Round(4)
}

// Eligible reports whether a session qualifies for ranking.
func Eligible(s model.Session, mode string, minTrades int) bool {
	if s.Status != model.SessionStopped && s.Status != model.SessionExpired {
		return false
	}
	if mode != "" && s.Mode != mode {
		return false
	}
	return s.TotalTrades > minTrades
}

// RankByROI filters eligible sessions and sorts them by ROI, highest first.
// Ties keep their input order.
func RankByROI(sessions []model.Session, mode string, minTrades int) []Entry {
	entries := make([]Entry, 0, len(sessions))
	for _, s := range sessions {
		if !Eligible(s, mode, minTrades) {
			continue
		}
		entries = append(entries, Entry{Session: s, ROI: ROI(s)})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].ROI.GreaterThan(entries[j].ROI)
	})

	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

// SplitJackpot pays shares[i] percent of pool to the i-th ranked entry.
// Amounts are rounded down to cents; the remainder stays in the pool.
func SplitJackpot(entries []Entry, pool decimal.Decimal, shares []decimal.Decimal) ([]Payout, error) {
	total := decimal.Zero
	for _, s := range shares {
		if s.IsNegative() {
			return nil, ErrInvalidShares
		}
		total = total.Add(s)
	}
	if total.GreaterThan(hundred) {
		return nil, ErrInvalidShares
	}
	if !pool.IsPositive() {
		return nil, nil
	}

	n := min(len(entries), len(shares))
	payouts := make([]Payout, 0, n)
	for i := 0; i < n; i++ {
		e := entries[i]
		payouts = append(payouts, Payout{
			Rank:          e.Rank,
			WalletAddress: e.Session.WalletAddress,
			SessionID:     e.Session.ID,
			ROI:           e.ROI,
			Amount:        pool.Mul(shares[i]).Div(hundred).RoundFloor(2),
		})
	}
	return payouts, nil
}
