package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/miyamoto-labs/easypoly/internal/model"
)

//go:embed schema/sqlite.sql
var sqliteSchema string

// SQLiteStore implements Store on a local SQLite file for single-node
// deployments. Money is stored as TEXT. A single connection serializes
// writers, which makes each transaction below atomic w.r.t. the others.
type SQLiteStore struct {
	path string
	db   *sqlx.DB
}

// OpenSQLite creates (if needed) and opens the database at path, enables
// WAL and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure data dir: %w", err)
	}
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := ensureWAL(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{path: path, db: db}, nil
}

func ensureWAL(db *sqlx.DB) error {
	const (
		maxAttempts = 5
		delay       = 200 * time.Millisecond
	)
	for i := 0; i < maxAttempts; i++ {
		if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			if strings.Contains(err.Error(), "database is locked") {
				time.Sleep(delay)
				continue
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("database is locked after retries")
}

// Path returns the file backing the store.
func (s *SQLiteStore) Path() string { return s.path }

// Close closes the DB.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func sqliteErr(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%s: %w (%v)", what, ErrConflict, err)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// --- Sessions ---

func (s *SQLiteStore) CreateSession(ctx context.Context, m *model.Session) error {
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO bot_sessions (id, wallet_address, mode, asset,
		        bankroll, starting_balance, current_balance, total_pnl,
		        total_trades, wins, losses, status,
		        started_at, expires_at, stopped_at, created_at, updated_at)
		 VALUES (:id, :wallet_address, :mode, :asset,
		         :bankroll, :starting_balance, :current_balance, :total_pnl,
		         :total_trades, :wins, :losses, :status,
		         :started_at, :expires_at, :stopped_at, :created_at, :updated_at)`, m)
	if err != nil {
		return sqliteErr(err, "create session")
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	var m model.Session
	if err := s.db.GetContext(ctx, &m, `SELECT * FROM bot_sessions WHERE id = ?`, id); err != nil {
		return nil, sqliteErr(err, "get session "+id)
	}
	return &m, nil
}

func (s *SQLiteStore) GetOpenSession(ctx context.Context, wallet string) (*model.Session, error) {
	var m model.Session
	err := s.db.GetContext(ctx, &m,
		`SELECT * FROM bot_sessions
		 WHERE wallet_address = ? AND status IN ('pending', 'active', 'paused')`, wallet)
	if err != nil {
		return nil, sqliteErr(err, "get open session "+wallet)
	}
	return &m, nil
}

func (s *SQLiteStore) UpdateSession(ctx context.Context, m *model.Session) error {
	return updateSessionLite(ctx, s.db, m)
}

func updateSessionLite(ctx context.Context, q sqlx.ExtContext, m *model.Session) error {
	res, err := sqlx.NamedExecContext(ctx, q,
		`UPDATE bot_sessions
		 SET current_balance = :current_balance, total_pnl = :total_pnl,
		     total_trades = :total_trades, wins = :wins, losses = :losses, status = :status,
		     expires_at = :expires_at, stopped_at = :stopped_at, updated_at = :updated_at
		 WHERE id = :id`, m)
	if err != nil {
		return sqliteErr(err, "update session "+m.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update session %s: %w", m.ID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) ListFinishedSessions(ctx context.Context, mode string) ([]model.Session, error) {
	var out []model.Session
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM bot_sessions
		 WHERE status IN ('stopped', 'expired') AND (? = '' OR mode = ?)
		 ORDER BY created_at, id`, mode, mode)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// --- Trades ---

func (s *SQLiteStore) RecordTrade(ctx context.Context, t *model.Trade, sess *model.Session) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.NamedExecContext(ctx,
		`INSERT INTO bot_trades (id, session_id, wallet_address, slug, asset, side, token_id,
		        amount, price, shares, outcome, pnl, order_id, created_at, resolved_at)
		 VALUES (:id, :session_id, :wallet_address, :slug, :asset, :side, :token_id,
		         :amount, :price, :shares, :outcome, :pnl, :order_id, :created_at, :resolved_at)`, t); err != nil {
		return sqliteErr(err, "insert trade")
	}
	if err := updateSessionLite(ctx, tx, sess); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetTrade(ctx context.Context, id string) (*model.Trade, error) {
	var t model.Trade
	if err := s.db.GetContext(ctx, &t, `SELECT * FROM bot_trades WHERE id = ?`, id); err != nil {
		return nil, sqliteErr(err, "get trade "+id)
	}
	return &t, nil
}

func (s *SQLiteStore) ListTrades(ctx context.Context, sessionID, outcome string) ([]model.Trade, error) {
	var out []model.Trade
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM bot_trades
		 WHERE session_id = ? AND (? = '' OR outcome = ?)
		 ORDER BY created_at, id`, sessionID, outcome, outcome)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteStore) ResolveTrade(ctx context.Context, t *model.Trade, sess *model.Session) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.NamedExecContext(ctx,
		`UPDATE bot_trades SET outcome = :outcome, pnl = :pnl, resolved_at = :resolved_at
		 WHERE id = :id AND outcome = 'pending'`, t)
	if err != nil {
		return sqliteErr(err, "resolve trade "+t.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		if err := tx.GetContext(ctx, &exists, `SELECT COUNT(1) FROM bot_trades WHERE id = ?`, t.ID); err != nil {
			return sqliteErr(err, "get trade "+t.ID)
		}
		if exists == 0 {
			return fmt.Errorf("trade %s: %w", t.ID, ErrNotFound)
		}
		return fmt.Errorf("%w: trade %s already resolved", ErrConflict, t.ID)
	}
	if err := updateSessionLite(ctx, tx, sess); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// --- Credentials ---

func (s *SQLiteStore) PutCredentials(ctx context.Context, c *model.WalletCredentials) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO wallet_credentials (wallet_address, api_key, encrypted_secret, encrypted_passphrase, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (wallet_address) DO UPDATE
		 SET api_key = excluded.api_key,
		     encrypted_secret = excluded.encrypted_secret,
		     encrypted_passphrase = excluded.encrypted_passphrase,
		     updated_at = excluded.updated_at`,
		c.WalletAddress, c.APIKey, c.EncryptedSecret, c.EncryptedPassphrase, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return sqliteErr(err, "put credentials")
	}
	return nil
}

func (s *SQLiteStore) GetCredentials(ctx context.Context, wallet string) (*model.WalletCredentials, error) {
	var c model.WalletCredentials
	if err := s.db.GetContext(ctx, &c, `SELECT * FROM wallet_credentials WHERE wallet_address = ?`, wallet); err != nil {
		return nil, sqliteErr(err, "get credentials "+wallet)
	}
	return &c, nil
}

// --- Points ---

func (s *SQLiteStore) AwardPoints(ctx context.Context, e *model.PointsLedgerEntry, once bool) (int64, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO points_summary (wallet_address, total_points, updated_at)
		 VALUES (?, 0, ?) ON CONFLICT (wallet_address) DO NOTHING`,
		e.WalletAddress, e.CreatedAt); err != nil {
		return 0, false, fmt.Errorf("ensure summary: %w", err)
	}

	var total int64
	if err := tx.GetContext(ctx, &total,
		`SELECT total_points FROM points_summary WHERE wallet_address = ?`, e.WalletAddress); err != nil {
		return 0, false, fmt.Errorf("read summary: %w", err)
	}

	if once {
		var n int
		if err := tx.GetContext(ctx, &n,
			`SELECT COUNT(1) FROM points_ledger WHERE wallet_address = ? AND reason = ?`,
			e.WalletAddress, e.Reason); err != nil {
			return 0, false, fmt.Errorf("check ledger: %w", err)
		}
		if n > 0 {
			return total, false, tx.Commit()
		}
	}

	if _, err := tx.NamedExecContext(ctx,
		`INSERT INTO points_ledger (id, wallet_address, points, reason, created_at)
		 VALUES (:id, :wallet_address, :points, :reason, :created_at)`, e); err != nil {
		return 0, false, fmt.Errorf("insert ledger: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE points_summary SET total_points = total_points + ?, updated_at = ? WHERE wallet_address = ?`,
		e.Points, e.CreatedAt, e.WalletAddress); err != nil {
		return 0, false, fmt.Errorf("increment total: %w", err)
	}
	if err := tx.GetContext(ctx, &total,
		`SELECT total_points FROM points_summary WHERE wallet_address = ?`, e.WalletAddress); err != nil {
		return 0, false, fmt.Errorf("read total: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("commit: %w", err)
	}
	return total, true, nil
}

func (s *SQLiteStore) GetPoints(ctx context.Context, wallet string) (*model.PointsSummary, error) {
	var p model.PointsSummary
	if err := s.db.GetContext(ctx, &p, `SELECT * FROM points_summary WHERE wallet_address = ?`, wallet); err != nil {
		return nil, sqliteErr(err, "get points "+wallet)
	}
	return &p, nil
}

// --- Referrals ---

func (s *SQLiteStore) GetReferralCode(ctx context.Context, wallet string) (*model.ReferralCode, error) {
	var c model.ReferralCode
	if err := s.db.GetContext(ctx, &c, `SELECT * FROM referral_codes WHERE wallet_address = ?`, wallet); err != nil {
		return nil, sqliteErr(err, "get referral code "+wallet)
	}
	return &c, nil
}

func (s *SQLiteStore) GetReferralCodeByCode(ctx context.Context, code string) (*model.ReferralCode, error) {
	var c model.ReferralCode
	if err := s.db.GetContext(ctx, &c, `SELECT * FROM referral_codes WHERE code = ?`, code); err != nil {
		return nil, sqliteErr(err, "get referral code "+code)
	}
	return &c, nil
}

func (s *SQLiteStore) CreateReferralCode(ctx context.Context, c *model.ReferralCode) error {
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO referral_codes (wallet_address, code, referral_count, created_at)
		 VALUES (:wallet_address, :code, :referral_count, :created_at)`, c)
	if err != nil {
		return sqliteErr(err, "create referral code")
	}
	return nil
}

func (s *SQLiteStore) CreateReferral(ctx context.Context, r *model.Referral) error {
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO referrals (referee_wallet, referrer_wallet, code, created_at)
		 VALUES (:referee_wallet, :referrer_wallet, :code, :created_at)`, r)
	if err != nil {
		return sqliteErr(err, "create referral")
	}
	return nil
}

func (s *SQLiteStore) IncrementReferralCount(ctx context.Context, wallet string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE referral_codes SET referral_count = referral_count + 1 WHERE wallet_address = ?`, wallet)
	if err != nil {
		return sqliteErr(err, "increment referral count")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("referral code for %s: %w", wallet, ErrNotFound)
	}
	return nil
}

// --- Access codes ---

func (s *SQLiteStore) CreateAccessCode(ctx context.Context, c *model.AccessCode) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO access_codes (code, created_at) VALUES (?, ?)`, c.Code, c.CreatedAt)
	if err != nil {
		return sqliteErr(err, "create access code")
	}
	return nil
}

func (s *SQLiteStore) RedeemAccessCode(ctx context.Context, code, token string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE access_codes SET token = ?, redeemed_at = ? WHERE code = ? AND redeemed_at IS NULL`,
		token, at, code)
	if err != nil {
		return sqliteErr(err, "redeem access code")
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(1) FROM access_codes WHERE code = ?`, code); err != nil {
		return fmt.Errorf("redeem access code: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("access code %s: %w", code, ErrNotFound)
	}
	return fmt.Errorf("%w: access code %s already used", ErrConflict, code)
}

func (s *SQLiteStore) AccessTokenValid(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(1) FROM access_codes WHERE token = ?`, token); err != nil {
		return false, err
	}
	return count > 0, nil
}
