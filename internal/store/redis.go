package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/miyamoto-labs/easypoly/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) PutCredentials(ctx context.Context, c *model.WalletCredentials) error {
	if err := s.primary.PutCredentials(ctx, c); err != nil {
		return err
	}
	s.rdb.Del(ctx, credsKey(c.WalletAddress))
	return nil
}

func (s *CachedStore) AwardPoints(ctx context.Context, e *model.PointsLedgerEntry, once bool) (int64, bool, error) {
	total, awarded, err := s.primary.AwardPoints(ctx, e, once)
	if err != nil {
		return 0, false, err
	}
	if awarded {
		s.rdb.Del(ctx, pointsKey(e.WalletAddress))
	}
	return total, awarded, nil
}

func (s *CachedStore) IncrementReferralCount(ctx context.Context, wallet string) error {
	if err := s.primary.IncrementReferralCount(ctx, wallet); err != nil {
		return err
	}
	s.rdb.Del(ctx, referralKey(wallet))
	return nil
}

func (s *CachedStore) CreateSession(ctx context.Context, m *model.Session) error {
	return s.primary.CreateSession(ctx, m)
}

func (s *CachedStore) UpdateSession(ctx context.Context, m *model.Session) error {
	if err := s.primary.UpdateSession(ctx, m); err != nil {
		return err
	}
	// A finished session changes the leaderboard.
	if !m.Open() {
		s.rdb.Del(ctx, finishedKey(m.Mode), finishedKey(""))
	}
	return nil
}

// ResolveTrade can settle a stopped session, which changes its leaderboard row.
func (s *CachedStore) ResolveTrade(ctx context.Context, t *model.Trade, sess *model.Session) error {
	if err := s.primary.ResolveTrade(ctx, t, sess); err != nil {
		return err
	}
	if !sess.Open() {
		s.rdb.Del(ctx, finishedKey(sess.Mode), finishedKey(""))
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetCredentials(ctx context.Context, wallet string) (*model.WalletCredentials, error) {
	var c walletCredsCache
	if s.get(ctx, credsKey(wallet), &c) {
		return c.model(), nil
	}

	creds, err := s.primary.GetCredentials(ctx, wallet)
	if err != nil {
		return nil, err
	}
	s.set(ctx, credsKey(wallet), fromWalletCreds(creds))
	return creds, nil
}

func (s *CachedStore) GetPoints(ctx context.Context, wallet string) (*model.PointsSummary, error) {
	var p model.PointsSummary
	if s.get(ctx, pointsKey(wallet), &p) {
		return &p, nil
	}

	sum, err := s.primary.GetPoints(ctx, wallet)
	if err != nil {
		return nil, err
	}
	s.set(ctx, pointsKey(wallet), sum)
	return sum, nil
}

func (s *CachedStore) GetReferralCode(ctx context.Context, wallet string) (*model.ReferralCode, error) {
	var c model.ReferralCode
	if s.get(ctx, referralKey(wallet), &c) {
		return &c, nil
	}

	code, err := s.primary.GetReferralCode(ctx, wallet)
	if err != nil {
		return nil, err
	}
	s.set(ctx, referralKey(wallet), code)
	return code, nil
}

func (s *CachedStore) ListFinishedSessions(ctx context.Context, mode string) ([]model.Session, error) {
	var sessions []model.Session
	if s.get(ctx, finishedKey(mode), &sessions) {
		return sessions, nil
	}

	sessions, err := s.primary.ListFinishedSessions(ctx, mode)
	if err != nil {
		return nil, err
	}
	s.set(ctx, finishedKey(mode), sessions)
	return sessions, nil
}

// AccessTokenValid caches positive answers only; a token never becomes
// invalid once bound.
func (s *CachedStore) AccessTokenValid(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	if n, err := s.rdb.Exists(ctx, accessKey(token)).Result(); err == nil && n > 0 {
		return true, nil
	}

	ok, err := s.primary.AccessTokenValid(ctx, token)
	if err != nil || !ok {
		return ok, err
	}
	s.rdb.Set(ctx, accessKey(token), "1", s.ttl)
	return true, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	return s.primary.GetSession(ctx, id)
}

func (s *CachedStore) GetOpenSession(ctx context.Context, wallet string) (*model.Session, error) {
	return s.primary.GetOpenSession(ctx, wallet)
}

func (s *CachedStore) RecordTrade(ctx context.Context, t *model.Trade, sess *model.Session) error {
	return s.primary.RecordTrade(ctx, t, sess)
}

func (s *CachedStore) GetTrade(ctx context.Context, id string) (*model.Trade, error) {
	return s.primary.GetTrade(ctx, id)
}

func (s *CachedStore) ListTrades(ctx context.Context, sessionID, outcome string) ([]model.Trade, error) {
	return s.primary.ListTrades(ctx, sessionID, outcome)
}

func (s *CachedStore) GetReferralCodeByCode(ctx context.Context, code string) (*model.ReferralCode, error) {
	return s.primary.GetReferralCodeByCode(ctx, code)
}

func (s *CachedStore) CreateReferralCode(ctx context.Context, c *model.ReferralCode) error {
	return s.primary.CreateReferralCode(ctx, c)
}

func (s *CachedStore) CreateReferral(ctx context.Context, r *model.Referral) error {
	return s.primary.CreateReferral(ctx, r)
}

func (s *CachedStore) CreateAccessCode(ctx context.Context, c *model.AccessCode) error {
	return s.primary.CreateAccessCode(ctx, c)
}

func (s *CachedStore) RedeemAccessCode(ctx context.Context, code, token string, at time.Time) error {
	return s.primary.RedeemAccessCode(ctx, code, token, at)
}

// --- Cache helpers ---

func (s *CachedStore) get(ctx context.Context, key string, v any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

func (s *CachedStore) set(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

// walletCredsCache keeps the encrypted fields that model.WalletCredentials
// hides from JSON.
type walletCredsCache struct {
	WalletAddress       string    `json:"wallet_address"`
	APIKey              string    `json:"api_key"`
	EncryptedSecret     string    `json:"encrypted_secret"`
	EncryptedPassphrase string    `json:"encrypted_passphrase"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func fromWalletCreds(c *model.WalletCredentials) walletCredsCache {
	return walletCredsCache(*c)
}

func (c walletCredsCache) model() *model.WalletCredentials {
	m := model.WalletCredentials(c)
	return &m
}

func credsKey(wallet string) string    { return fmt.Sprintf("creds:%s", wallet) }
func pointsKey(wallet string) string   { return fmt.Sprintf("points:%s", wallet) }
func referralKey(wallet string) string { return fmt.Sprintf("refcode:%s", wallet) }
func finishedKey(mode string) string   { return fmt.Sprintf("sessions:finished:%s", mode) }
func accessKey(token string) string    { return fmt.Sprintf("access:%s", token) }
