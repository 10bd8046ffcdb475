// Package store defines the persistence interface for the EasyPoly backend.
// Implementations include PostgreSQL (source of truth), SQLite (single-node
// deployments), Redis (read-through cache) and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/miyamoto-labs/easypoly/internal/model"
)

var (
	ErrNotFound = errors.New("store: not found")
	ErrConflict = errors.New("store: conflict")
)

// ReasonSignup is the one points reason awarded at most once per wallet.
const ReasonSignup = "signup"

// Store is the persistence interface. Wallet addresses are passed in
// already normalized to lowercase.
type Store interface {
	// --- Bot sessions ---

	// CreateSession persists a new session. ErrConflict if the wallet
	// already has an open (pending, active or paused) session.
	CreateSession(ctx context.Context, s *model.Session) error

	// GetSession retrieves a session by ID.
	GetSession(ctx context.Context, id string) (*model.Session, error)

	// GetOpenSession returns the wallet's open session, if any.
	GetOpenSession(ctx context.Context, wallet string) (*model.Session, error)

	// UpdateSession overwrites the mutable fields of a session.
	UpdateSession(ctx context.Context, s *model.Session) error

	// ListFinishedSessions returns stopped and expired sessions, oldest
	// first. An empty mode matches every mode.
	ListFinishedSessions(ctx context.Context, mode string) ([]model.Session, error)

	// --- Trades ---

	// RecordTrade inserts a trade and overwrites the mutable fields of its
	// session in one atomic step. ErrConflict if the session already traded
	// the same window slug. Nothing is written on error.
	RecordTrade(ctx context.Context, t *model.Trade, sess *model.Session) error

	// GetTrade retrieves a trade by ID.
	GetTrade(ctx context.Context, id string) (*model.Trade, error)

	// ListTrades returns a session's trades, oldest first. An empty
	// outcome matches every outcome.
	ListTrades(ctx context.Context, sessionID, outcome string) ([]model.Trade, error)

	// ResolveTrade sets outcome, pnl and resolved_at on a pending trade and
	// overwrites the mutable fields of its session in one atomic step.
	// ErrConflict if the trade was already resolved.
	ResolveTrade(ctx context.Context, t *model.Trade, sess *model.Session) error

	// --- Exchange credentials ---

	// PutCredentials inserts or replaces a wallet's credentials.
	PutCredentials(ctx context.Context, c *model.WalletCredentials) error

	// GetCredentials retrieves a wallet's stored credentials.
	GetCredentials(ctx context.Context, wallet string) (*model.WalletCredentials, error)

	// --- Points ---

	// AwardPoints appends a ledger entry and increments the wallet's total
	// in one atomic step. With once set, nothing is written when the ledger
	// already holds an entry with the same reason for the wallet. Returns
	// the resulting total and whether the entry was written.
	AwardPoints(ctx context.Context, e *model.PointsLedgerEntry, once bool) (total int64, awarded bool, err error)

	// GetPoints returns the wallet's running total.
	GetPoints(ctx context.Context, wallet string) (*model.PointsSummary, error)

	// --- Referrals ---

	// GetReferralCode returns the code owned by wallet.
	GetReferralCode(ctx context.Context, wallet string) (*model.ReferralCode, error)

	// GetReferralCodeByCode looks a code up by its value.
	GetReferralCodeByCode(ctx context.Context, code string) (*model.ReferralCode, error)

	// CreateReferralCode persists a code. ErrConflict if the wallet already
	// has one or the code value is taken.
	CreateReferralCode(ctx context.Context, c *model.ReferralCode) error

	// CreateReferral records a referee. ErrConflict if already referred.
	CreateReferral(ctx context.Context, r *model.Referral) error

	// IncrementReferralCount bumps the owner's referral counter.
	IncrementReferralCount(ctx context.Context, wallet string) error

	// --- Access codes ---

	// CreateAccessCode persists a new unredeemed code.
	CreateAccessCode(ctx context.Context, c *model.AccessCode) error

	// RedeemAccessCode binds token to an unredeemed code. ErrNotFound for
	// an unknown code, ErrConflict if it was already used.
	RedeemAccessCode(ctx context.Context, code, token string, at time.Time) error

	// AccessTokenValid reports whether token was bound by a redemption.
	AccessTokenValid(ctx context.Context, token string) (bool, error)
}
