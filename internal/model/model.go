// Package model defines the domain types shared across the EasyPoly backend.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Session statuses. stopped and expired are terminal.
const (
	SessionPending = "pending"
	SessionActive  = "active"
	SessionPaused  = "paused"
	SessionStopped = "stopped"
	SessionExpired = "expired"
)

// Trade outcomes.
const (
	OutcomePending = "pending"
	OutcomeWon     = "won"
	OutcomeLost    = "lost"
)

// Trade sides. "up" maps to the YES token of a window market, "down" to NO.
const (
	SideUp   = "up"
	SideDown = "down"
)

// Session is a wallet's bounded-duration bot run. It is never deleted;
// it ends by moving to stopped or expired.
type Session struct {
	ID              string          `json:"id" db:"id"`
	WalletAddress   string          `json:"walletAddress" db:"wallet_address"`
	Mode            string          `json:"mode" db:"mode"`   // "arcade", "copy", ...
	Asset           string          `json:"asset" db:"asset"` // "btc" or "eth"
	Bankroll        decimal.Decimal `json:"bankroll" db:"bankroll"`
	StartingBalance decimal.Decimal `json:"startingBalance" db:"starting_balance"`
	CurrentBalance  decimal.Decimal `json:"currentBalance" db:"current_balance"`
	TotalPnL        decimal.Decimal `json:"totalPnl" db:"total_pnl"`
	TotalTrades     int             `json:"totalTrades" db:"total_trades"`
	Wins            int             `json:"wins" db:"wins"`
	Losses          int             `json:"losses" db:"losses"`
	Status          string          `json:"status" db:"status"`
	StartedAt       time.Time       `json:"startedAt" db:"started_at"`
	ExpiresAt       time.Time       `json:"expiresAt" db:"expires_at"`
	StoppedAt       *time.Time      `json:"stoppedAt,omitempty" db:"stopped_at"`
	CreatedAt       time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time       `json:"updatedAt" db:"updated_at"`
}

// Open reports whether the session can still take trades or be stopped.
func (s *Session) Open() bool {
	switch s.Status {
	case SessionPending, SessionActive, SessionPaused:
		return true
	}
	return false
}

// Trade is a single bet placed by a session on one market window.
// Once resolved (won/lost) it is never modified again.
type Trade struct {
	ID            string          `json:"id" db:"id"`
	SessionID     string          `json:"sessionId" db:"session_id"`
	WalletAddress string          `json:"walletAddress" db:"wallet_address"`
	Slug          string          `json:"slug" db:"slug"`
	Asset         string          `json:"asset" db:"asset"`
	Side          string          `json:"side" db:"side"` // "up" or "down"
	TokenID       string          `json:"tokenId" db:"token_id"`
	Amount        decimal.Decimal `json:"amount" db:"amount"` // stake in USDC
	Price         decimal.Decimal `json:"price" db:"price"`   // entry price per share
	Shares        decimal.Decimal `json:"shares" db:"shares"` // amount / price
	Outcome       string          `json:"outcome" db:"outcome"`
	PnL           decimal.Decimal `json:"pnl" db:"pnl"`
	OrderID       string          `json:"orderId,omitempty" db:"order_id"`
	CreatedAt     time.Time       `json:"createdAt" db:"created_at"`
	ResolvedAt    *time.Time      `json:"resolvedAt,omitempty" db:"resolved_at"`
}

// WalletCredentials holds a wallet's exchange API credentials. Secret and
// passphrase are stored as "iv:ciphertext:tag" vault tokens.
type WalletCredentials struct {
	WalletAddress       string    `json:"walletAddress" db:"wallet_address"`
	APIKey              string    `json:"apiKey" db:"api_key"`
	EncryptedSecret     string    `json:"-" db:"encrypted_secret"`
	EncryptedPassphrase string    `json:"-" db:"encrypted_passphrase"`
	CreatedAt           time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt           time.Time `json:"updatedAt" db:"updated_at"`
}

// PointsLedgerEntry is an append-only points award.
type PointsLedgerEntry struct {
	ID            string    `json:"id" db:"id"`
	WalletAddress string    `json:"walletAddress" db:"wallet_address"`
	Points        int64     `json:"points" db:"points"`
	Reason        string    `json:"reason" db:"reason"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
}

// PointsSummary is the running total derived from the ledger.
type PointsSummary struct {
	WalletAddress string    `json:"walletAddress" db:"wallet_address"`
	TotalPoints   int64     `json:"totalPoints" db:"total_points"`
	UpdatedAt     time.Time `json:"updatedAt" db:"updated_at"`
}

// ReferralCode is the shareable code owned by one wallet.
type ReferralCode struct {
	WalletAddress string    `json:"walletAddress" db:"wallet_address"`
	Code          string    `json:"code" db:"code"`
	ReferralCount int       `json:"referralCount" db:"referral_count"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
}

// Referral links a referee to the wallet whose code they used. A wallet can
// be referred at most once.
type Referral struct {
	RefereeWallet  string    `json:"refereeWallet" db:"referee_wallet"`
	ReferrerWallet string    `json:"referrerWallet" db:"referrer_wallet"`
	Code           string    `json:"code" db:"code"`
	CreatedAt      time.Time `json:"createdAt" db:"created_at"`
}

// AccessCode is a single-use invite code. Token is the cookie value bound
// at redemption.
type AccessCode struct {
	Code       string     `json:"code" db:"code"`
	Token      *string    `json:"-" db:"token"`
	RedeemedAt *time.Time `json:"redeemedAt,omitempty" db:"redeemed_at"`
	CreatedAt  time.Time  `json:"createdAt" db:"created_at"`
}
