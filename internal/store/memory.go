package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/miyamoto-labs/easypoly/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu            sync.RWMutex
	sessions      map[string]*model.Session
	trades        map[string]*model.Trade
	creds         map[string]*model.WalletCredentials
	pointsLedger  []model.PointsLedgerEntry
	points        map[string]*model.PointsSummary
	referralCodes map[string]*model.ReferralCode // by wallet
	referrals     map[string]*model.Referral     // by referee
	accessCodes   map[string]*model.AccessCode
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:      make(map[string]*model.Session),
		trades:        make(map[string]*model.Trade),
		creds:         make(map[string]*model.WalletCredentials),
		points:        make(map[string]*model.PointsSummary),
		referralCodes: make(map[string]*model.ReferralCode),
		referrals:     make(map[string]*model.Referral),
		accessCodes:   make(map[string]*model.AccessCode),
	}
}

// --- Sessions ---

func (s *MemoryStore) CreateSession(_ context.Context, sess *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.sessions {
		if existing.WalletAddress == sess.WalletAddress && existing.Open() {
			return fmt.Errorf("%w: wallet %s already has open session %s", ErrConflict, sess.WalletAddress, existing.ID)
		}
	}

	// Store a copy to avoid external mutation.
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, id string) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	cp := *sess
	return &cp, nil
}

func (s *MemoryStore) GetOpenSession(_ context.Context, wallet string) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sess := range s.sessions {
		if sess.WalletAddress == wallet && sess.Open() {
			cp := *sess
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("open session for %s: %w", wallet, ErrNotFound)
}

func (s *MemoryStore) UpdateSession(_ context.Context, sess *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.ID]; !ok {
		return fmt.Errorf("session %s: %w", sess.ID, ErrNotFound)
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *MemoryStore) ListFinishedSessions(_ context.Context, mode string) ([]model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Session
	for _, sess := range s.sessions {
		if sess.Status != model.SessionStopped && sess.Status != model.SessionExpired {
			continue
		}
		if mode != "" && sess.Mode != mode {
			continue
		}
		out = append(out, *sess)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// --- Trades ---

func (s *MemoryStore) RecordTrade(_ context.Context, t *model.Trade, sess *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.ID]; !ok {
		return fmt.Errorf("session %s: %w", sess.ID, ErrNotFound)
	}
	for _, existing := range s.trades {
		if existing.SessionID == t.SessionID && existing.Slug == t.Slug {
			return fmt.Errorf("%w: session %s already traded %s", ErrConflict, t.SessionID, t.Slug)
		}
	}
	tc := *t
	s.trades[t.ID] = &tc
	sc := *sess
	s.sessions[sess.ID] = &sc
	return nil
}

func (s *MemoryStore) GetTrade(_ context.Context, id string) (*model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.trades[id]
	if !ok {
		return nil, fmt.Errorf("trade %s: %w", id, ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) ListTrades(_ context.Context, sessionID, outcome string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Trade
	for _, t := range s.trades {
		if t.SessionID != sessionID {
			continue
		}
		if outcome != "" && t.Outcome != outcome {
			continue
		}
		out = append(out, *t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) ResolveTrade(_ context.Context, t *model.Trade, sess *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.trades[t.ID]
	if !ok {
		return fmt.Errorf("trade %s: %w", t.ID, ErrNotFound)
	}
	if existing.Outcome != model.OutcomePending {
		return fmt.Errorf("%w: trade %s already %s", ErrConflict, t.ID, existing.Outcome)
	}
	if _, ok := s.sessions[sess.ID]; !ok {
		return fmt.Errorf("session %s: %w", sess.ID, ErrNotFound)
	}
	existing.Outcome = t.Outcome
	existing.PnL = t.PnL
	existing.ResolvedAt = t.ResolvedAt
	sc := *sess
	s.sessions[sess.ID] = &sc
	return nil
}

// --- Credentials ---

func (s *MemoryStore) PutCredentials(_ context.Context, c *model.WalletCredentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *c
	if existing, ok := s.creds[c.WalletAddress]; ok {
		cp.CreatedAt = existing.CreatedAt
	}
	s.creds[c.WalletAddress] = &cp
	return nil
}

func (s *MemoryStore) GetCredentials(_ context.Context, wallet string) (*model.WalletCredentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.creds[wallet]
	if !ok {
		return nil, fmt.Errorf("credentials for %s: %w", wallet, ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

// --- Points ---

// AwardPoints holds the write lock for the whole check-append-increment.
func (s *MemoryStore) AwardPoints(_ context.Context, e *model.PointsLedgerEntry, once bool) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum, ok := s.points[e.WalletAddress]
	if !ok {
		sum = &model.PointsSummary{WalletAddress: e.WalletAddress}
		s.points[e.WalletAddress] = sum
	}

	if once {
		for _, existing := range s.pointsLedger {
			if existing.WalletAddress == e.WalletAddress && existing.Reason == e.Reason {
				return sum.TotalPoints, false, nil
			}
		}
	}

	s.pointsLedger = append(s.pointsLedger, *e)
	sum.TotalPoints += e.Points
	sum.UpdatedAt = e.CreatedAt
	return sum.TotalPoints, true, nil
}

func (s *MemoryStore) GetPoints(_ context.Context, wallet string) (*model.PointsSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum, ok := s.points[wallet]
	if !ok {
		return nil, fmt.Errorf("points for %s: %w", wallet, ErrNotFound)
	}
	cp := *sum
	return &cp, nil
}

// LedgerEntries returns a copy of the wallet's points ledger.
func (s *MemoryStore) LedgerEntries(wallet string) []model.PointsLedgerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.PointsLedgerEntry
	for _, e := range s.pointsLedger {
		if e.WalletAddress == wallet {
			out = append(out, e)
		}
	}
	return out
}

// --- Referrals ---

func (s *MemoryStore) GetReferralCode(_ context.Context, wallet string) (*model.ReferralCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.referralCodes[wallet]
	if !ok {
		return nil, fmt.Errorf("referral code for %s: %w", wallet, ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) GetReferralCodeByCode(_ context.Context, code string) (*model.ReferralCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.referralCodes {
		if c.Code == code {
			cp := *c
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("referral code %s: %w", code, ErrNotFound)
}

func (s *MemoryStore) CreateReferralCode(_ context.Context, c *model.ReferralCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.referralCodes[c.WalletAddress]; ok {
		return fmt.Errorf("%w: wallet %s already has a code", ErrConflict, c.WalletAddress)
	}
	for _, existing := range s.referralCodes {
		if existing.Code == c.Code {
			return fmt.Errorf("%w: code %s taken", ErrConflict, c.Code)
		}
	}
	cp := *c
	s.referralCodes[c.WalletAddress] = &cp
	return nil
}

func (s *MemoryStore) CreateReferral(_ context.Context, r *model.Referral) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.referrals[r.RefereeWallet]; ok {
		return fmt.Errorf("%w: %s already referred", ErrConflict, r.RefereeWallet)
	}
	cp := *r
	s.referrals[r.RefereeWallet] = &cp
	return nil
}

func (s *MemoryStore) IncrementReferralCount(_ context.Context, wallet string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.referralCodes[wallet]
	if !ok {
		return fmt.Errorf("referral code for %s: %w", wallet, ErrNotFound)
	}
	c.ReferralCount++
	return nil
}

// --- Access codes ---

func (s *MemoryStore) CreateAccessCode(_ context.Context, c *model.AccessCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accessCodes[c.Code]; ok {
		return fmt.Errorf("%w: access code %s exists", ErrConflict, c.Code)
	}
	cp := *c
	s.accessCodes[c.Code] = &cp
	return nil
}

func (s *MemoryStore) RedeemAccessCode(_ context.Context, code, token string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.accessCodes[code]
	if !ok {
		return fmt.Errorf("access code %s: %w", code, ErrNotFound)
	}
	if c.RedeemedAt != nil {
		return fmt.Errorf("%w: access code %s already used", ErrConflict, code)
	}
	c.Token = &token
	c.RedeemedAt = &at
	return nil
}

func (s *MemoryStore) AccessTokenValid(_ context.Context, token string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if token == "" {
		return false, nil
	}
	for _, c := range s.accessCodes {
		if c.Token != nil && *c.Token == token {
			return true, nil
		}
	}
	return false, nil
}
