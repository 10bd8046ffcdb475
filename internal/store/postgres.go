package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/miyamoto-labs/easypoly/internal/model"
)

//go:embed schema/postgres.sql
var postgresSchema string

const pgUniqueViolation = "23505"

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Connect opens a bounded pool and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}

	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnIdleTime = 30 * time.Second
	cfg.MaxConnLifetime = 5 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return p, nil
}

// EnsureSchema applies the embedded schema. Safe to run on every start.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func pgErr(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) && pe.Code == pgUniqueViolation {
		return fmt.Errorf("%s: %w (%s)", what, ErrConflict, pe.ConstraintName)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// --- Sessions ---

const sessionColumns = `id, wallet_address, mode, asset,
	bankroll::TEXT, starting_balance::TEXT, current_balance::TEXT, total_pnl::TEXT,
	total_trades, wins, losses, status,
	started_at, expires_at, stopped_at, created_at, updated_at`

func (s *PostgresStore) CreateSession(ctx context.Context, m *model.Session) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO bot_sessions (id, wallet_address, mode, asset,
		        bankroll, starting_balance, current_balance, total_pnl,
		        total_trades, wins, losses, status,
		        started_at, expires_at, stopped_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC,
		         $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		m.ID, m.WalletAddress, m.Mode, m.Asset,
		m.Bankroll.String(), m.StartingBalance.String(), m.CurrentBalance.String(), m.TotalPnL.String(),
		m.TotalTrades, m.Wins, m.Losses, m.Status,
		m.StartedAt, m.ExpiresAt, m.StoppedAt, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return pgErr(err, "create session")
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM bot_sessions WHERE id = $1`, id)
	m, err := scanSession(row)
	if err != nil {
		return nil, pgErr(err, "get session "+id)
	}
	return m, nil
}

func (s *PostgresStore) GetOpenSession(ctx context.Context, wallet string) (*model.Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM bot_sessions
		 WHERE wallet_address = $1 AND status IN ('pending', 'active', 'paused')`, wallet)
	m, err := scanSession(row)
	if err != nil {
		return nil, pgErr(err, "get open session "+wallet)
	}
	return m, nil
}

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *PostgresStore) UpdateSession(ctx context.Context, m *model.Session) error {
	return updateSession(ctx, s.pool, m)
}

func updateSession(ctx context.Context, q execer, m *model.Session) error {
	tag, err := q.Exec(ctx,
		`UPDATE bot_sessions
		 SET current_balance = $2::NUMERIC, total_pnl = $3::NUMERIC,
		     total_trades = $4, wins = $5, losses = $6, status = $7,
		     expires_at = $8, stopped_at = $9, updated_at = $10
		 WHERE id = $1`,
		m.ID, m.CurrentBalance.String(), m.TotalPnL.String(),
		m.TotalTrades, m.Wins, m.Losses, m.Status,
		m.ExpiresAt, m.StoppedAt, m.UpdatedAt,
	)
	if err != nil {
		return pgErr(err, "update session "+m.ID)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update session %s: %w", m.ID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListFinishedSessions(ctx context.Context, mode string) ([]model.Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM bot_sessions
		 WHERE status IN ('stopped', 'expired') AND ($1 = '' OR mode = $1)
		 ORDER BY created_at, id`, mode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Session
	for rows.Next() {
		m, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func scanSession(row pgx.Row) (*model.Session, error) {
	var m model.Session
	var bankroll, starting, current, pnl string
	if err := row.Scan(&m.ID, &m.WalletAddress, &m.Mode, &m.Asset,
		&bankroll, &starting, &current, &pnl,
		&m.TotalTrades, &m.Wins, &m.Losses, &m.Status,
		&m.StartedAt, &m.ExpiresAt, &m.StoppedAt, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.Bankroll, _ = decimal.NewFromString(bankroll)
	m.StartingBalance, _ = decimal.NewFromString(starting)
	m.CurrentBalance, _ = decimal.NewFromString(current)
	m.TotalPnL, _ = decimal.NewFromString(pnl)
	return &m, nil
}

// --- Trades ---

const tradeColumns = `id, session_id, wallet_address, slug, asset, side, token_id,
	amount::TEXT, price::TEXT, shares::TEXT, outcome, pnl::TEXT, order_id,
	created_at, resolved_at`

// RecordTrade inserts the trade and the session's new balance in one
// transaction.
func (s *PostgresStore) RecordTrade(ctx context.Context, t *model.Trade, sess *model.Session) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO bot_trades (id, session_id, wallet_address, slug, asset, side, token_id,
		        amount, price, shares, outcome, pnl, order_id, created_at, resolved_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC,
		         $11, $12::NUMERIC, $13, $14, $15)`,
		t.ID, t.SessionID, t.WalletAddress, t.Slug, t.Asset, t.Side, t.TokenID,
		t.Amount.String(), t.Price.String(), t.Shares.String(),
		t.Outcome, t.PnL.String(), t.OrderID, t.CreatedAt, t.ResolvedAt,
	); err != nil {
		return pgErr(err, "insert trade")
	}
	if err := updateSession(ctx, tx, sess); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTrade(ctx context.Context, id string) (*model.Trade, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tradeColumns+` FROM bot_trades WHERE id = $1`, id)
	t, err := scanTrade(row)
	if err != nil {
		return nil, pgErr(err, "get trade "+id)
	}
	return t, nil
}

func (s *PostgresStore) ListTrades(ctx context.Context, sessionID, outcome string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM bot_trades
		 WHERE session_id = $1 AND ($2 = '' OR outcome = $2)
		 ORDER BY created_at, id`, sessionID, outcome)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ResolveTrade(ctx context.Context, t *model.Trade, sess *model.Session) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE bot_trades SET outcome = $2, pnl = $3::NUMERIC, resolved_at = $4
		 WHERE id = $1 AND outcome = 'pending'`,
		t.ID, t.Outcome, t.PnL.String(), t.ResolvedAt,
	)
	if err != nil {
		return pgErr(err, "resolve trade "+t.ID)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetTrade(ctx, t.ID); err != nil {
			return err
		}
		return fmt.Errorf("%w: trade %s already resolved", ErrConflict, t.ID)
	}
	if err := updateSession(ctx, tx, sess); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func scanTrade(row pgx.Row) (*model.Trade, error) {
	var t model.Trade
	var amount, price, shares, pnl string
	if err := row.Scan(&t.ID, &t.SessionID, &t.WalletAddress, &t.Slug, &t.Asset, &t.Side, &t.TokenID,
		&amount, &price, &shares, &t.Outcome, &pnl, &t.OrderID,
		&t.CreatedAt, &t.ResolvedAt); err != nil {
		return nil, err
	}
	t.Amount, _ = decimal.NewFromString(amount)
	t.Price, _ = decimal.NewFromString(price)
	t.Shares, _ = decimal.NewFromString(shares)
	t.PnL, _ = decimal.NewFromString(pnl)
	return &t, nil
}

// --- Credentials ---

func (s *PostgresStore) PutCredentials(ctx context.Context, c *model.WalletCredentials) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO wallet_credentials (wallet_address, api_key, encrypted_secret, encrypted_passphrase, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (wallet_address) DO UPDATE
		 SET api_key = EXCLUDED.api_key,
		     encrypted_secret = EXCLUDED.encrypted_secret,
		     encrypted_passphrase = EXCLUDED.encrypted_passphrase,
		     updated_at = EXCLUDED.updated_at`,
		c.WalletAddress, c.APIKey, c.EncryptedSecret, c.EncryptedPassphrase, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return pgErr(err, "put credentials")
	}
	return nil
}

func (s *PostgresStore) GetCredentials(ctx context.Context, wallet string) (*model.WalletCredentials, error) {
	var c model.WalletCredentials
	err := s.pool.QueryRow(ctx,
		`SELECT wallet_address, api_key, encrypted_secret, encrypted_passphrase, created_at, updated_at
		 FROM wallet_credentials WHERE wallet_address = $1`, wallet).
		Scan(&c.WalletAddress, &c.APIKey, &c.EncryptedSecret, &c.EncryptedPassphrase, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, pgErr(err, "get credentials "+wallet)
	}
	return &c, nil
}

// --- Points ---

// AwardPoints locks the wallet's summary row for the duration of the
// transaction, so concurrent awards serialize and the once check cannot race.
func (s *PostgresStore) AwardPoints(ctx context.Context, e *model.PointsLedgerEntry, once bool) (int64, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO points_summary (wallet_address, total_points, updated_at)
		 VALUES ($1, 0, $2) ON CONFLICT (wallet_address) DO NOTHING`,
		e.WalletAddress, e.CreatedAt); err != nil {
		return 0, false, fmt.Errorf("ensure summary: %w", err)
	}

	var total int64
	if err := tx.QueryRow(ctx,
		`SELECT total_points FROM points_summary WHERE wallet_address = $1 FOR UPDATE`,
		e.WalletAddress).Scan(&total); err != nil {
		return 0, false, fmt.Errorf("lock summary: %w", err)
	}

	if once {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM points_ledger WHERE wallet_address = $1 AND reason = $2)`,
			e.WalletAddress, e.Reason).Scan(&exists); err != nil {
			return 0, false, fmt.Errorf("check ledger: %w", err)
		}
		if exists {
			return total, false, tx.Commit(ctx)
		}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO points_ledger (id, wallet_address, points, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		e.ID, e.WalletAddress, e.Points, e.Reason, e.CreatedAt); err != nil {
		return 0, false, fmt.Errorf("insert ledger: %w", err)
	}

	if err := tx.QueryRow(ctx,
		`UPDATE points_summary SET total_points = total_points + $2, updated_at = $3
		 WHERE wallet_address = $1 RETURNING total_points`,
		e.WalletAddress, e.Points, e.CreatedAt).Scan(&total); err != nil {
		return 0, false, fmt.Errorf("increment total: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, false, fmt.Errorf("commit: %w", err)
	}
	return total, true, nil
}

func (s *PostgresStore) GetPoints(ctx context.Context, wallet string) (*model.PointsSummary, error) {
	var p model.PointsSummary
	err := s.pool.QueryRow(ctx,
		`SELECT wallet_address, total_points, updated_at FROM points_summary WHERE wallet_address = $1`,
		wallet).Scan(&p.WalletAddress, &p.TotalPoints, &p.UpdatedAt)
	if err != nil {
		return nil, pgErr(err, "get points "+wallet)
	}
	return &p, nil
}

// --- Referrals ---

func (s *PostgresStore) GetReferralCode(ctx context.Context, wallet string) (*model.ReferralCode, error) {
	return s.queryReferralCode(ctx, `wallet_address = $1`, wallet)
}

func (s *PostgresStore) GetReferralCodeByCode(ctx context.Context, code string) (*model.ReferralCode, error) {
	return s.queryReferralCode(ctx, `code = $1`, code)
}

func (s *PostgresStore) queryReferralCode(ctx context.Context, where, arg string) (*model.ReferralCode, error) {
	var c model.ReferralCode
	err := s.pool.QueryRow(ctx,
		`SELECT wallet_address, code, referral_count, created_at FROM referral_codes WHERE `+where, arg).
		Scan(&c.WalletAddress, &c.Code, &c.ReferralCount, &c.CreatedAt)
	if err != nil {
		return nil, pgErr(err, "get referral code "+arg)
	}
	return &c, nil
}

func (s *PostgresStore) CreateReferralCode(ctx context.Context, c *model.ReferralCode) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO referral_codes (wallet_address, code, referral_count, created_at) VALUES ($1, $2, $3, $4)`,
		c.WalletAddress, c.Code, c.ReferralCount, c.CreatedAt)
	if err != nil {
		return pgErr(err, "create referral code")
	}
	return nil
}

func (s *PostgresStore) CreateReferral(ctx context.Context, r *model.Referral) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO referrals (referee_wallet, referrer_wallet, code, created_at) VALUES ($1, $2, $3, $4)`,
		r.RefereeWallet, r.ReferrerWallet, r.Code, r.CreatedAt)
	if err != nil {
		return pgErr(err, "create referral")
	}
	return nil
}

func (s *PostgresStore) IncrementReferralCount(ctx context.Context, wallet string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE referral_codes SET referral_count = referral_count + 1 WHERE wallet_address = $1`, wallet)
	if err != nil {
		return pgErr(err, "increment referral count")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("referral code for %s: %w", wallet, ErrNotFound)
	}
	return nil
}

// --- Access codes ---

func (s *PostgresStore) CreateAccessCode(ctx context.Context, c *model.AccessCode) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO access_codes (code, created_at) VALUES ($1, $2)`, c.Code, c.CreatedAt)
	if err != nil {
		return pgErr(err, "create access code")
	}
	return nil
}

func (s *PostgresStore) RedeemAccessCode(ctx context.Context, code, token string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE access_codes SET token = $2, redeemed_at = $3 WHERE code = $1 AND redeemed_at IS NULL`,
		code, token, at)
	if err != nil {
		return pgErr(err, "redeem access code")
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM access_codes WHERE code = $1)`, code).Scan(&exists); err != nil {
		return fmt.Errorf("redeem access code: %w", err)
	}
	if !exists {
		return fmt.Errorf("access code %s: %w", code, ErrNotFound)
	}
	return fmt.Errorf("%w: access code %s already used", ErrConflict, code)
}

func (s *PostgresStore) AccessTokenValid(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM access_codes WHERE token = $1)`, token).Scan(&ok)
	return ok, err
}
