// Package referral hands out per-wallet referral codes and records which
// wallet referred whom.
package referral

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/miyamoto-labs/easypoly/internal/address"
	"github.com/miyamoto-labs/easypoly/internal/events"
	"github.com/miyamoto-labs/easypoly/internal/httpx"
	"github.com/miyamoto-labs/easypoly/internal/model"
	"github.com/miyamoto-labs/easypoly/internal/points"
	"github.com/miyamoto-labs/easypoly/internal/store"
)

// Reasons reported when a referral is not tracked.
const (
	ReasonInvalidCode     = "invalid_code"
	ReasonSelfReferral    = "self_referral"
	ReasonAlreadyReferred = "already_referred"
)

// PointsReason is the ledger reason for the referrer's bonus.
const PointsReason = "referral"

const (
	codeLength   = 8
	codeAttempts = 5
)

var ErrCodeExhausted = errors.New("referral: could not allocate a unique code")

// PointsAwarder credits the referral bonus.
type PointsAwarder interface {
	Award(ctx context.Context, wallet string, pts int64, reason string) (*points.Result, error)
}

type Service struct {
	store  store.Store
	points PointsAwarder
	events events.Publisher
	bonus  int64
	now    func() time.Time
	newID  func() string
}

// NewService creates a referral service. A zero bonus or nil awarder skips
// the referrer's points.
func NewService(st store.Store, pts PointsAwarder, pub events.Publisher, bonus int64) *Service {
	return &Service{
		store:  st,
		points: pts,
		events: pub,
		bonus:  bonus,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
}

// WithIDSource replaces the random source codes are derived from.
func (s *Service) WithIDSource(fn func() string) *Service {
	s.newID = fn
	return s
}

// NewCode derives an upper-case code from a random UUID.
func NewCode(id string) string {
	id = strings.ToUpper(strings.ReplaceAll(id, "-", ""))
	if len(id) > codeLength {
		id = id[:codeLength]
	}
	return id
}

// Code returns wallet's referral code, creating one on first use.
func (s *Service) Code(ctx context.Context, wallet string) (*model.ReferralCode, error) {
	wallet, err := address.Normalize(wallet)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.GetReferralCode(ctx, wallet)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	for i := 0; i < codeAttempts; i++ {
		c := &model.ReferralCode{
			WalletAddress: wallet,
			Code:          NewCode(s.newID()),
			CreatedAt:     s.now().UTC(),
		}
		err := s.store.CreateReferralCode(ctx, c)
		if err == nil {
			slog.Info("referral code created", "wallet", wallet, "code", c.Code)
			return c, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("create referral code: %w", err)
		}
		// Either the value collided or a concurrent request created the
		// wallet's code first.
		if existing, err := s.store.GetReferralCode(ctx, wallet); err == nil {
			return existing, nil
		}
	}
	return nil, ErrCodeExhausted
}

// TrackResult reports whether a referral was recorded.
type TrackResult struct {
	Tracked bool   `json:"tracked"`
	Reason  string `json:"reason,omitempty"`
}

// Track records that wallet signed up with code. Counting the referral and
// the referrer's bonus are best-effort once the referral is stored.
func (s *Service) Track(ctx context.Context, wallet, code string) (*TrackResult, error) {
	wallet, err := address.Normalize(wallet)
	if err != nil {
		return nil, err
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return &TrackResult{Reason: ReasonInvalidCode}, nil
	}

	owner, err := s.store.GetReferralCodeByCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return &TrackResult{Reason: ReasonInvalidCode}, nil
	}
	if err != nil {
		return nil, err
	}
	if owner.WalletAddress == wallet {
		return &TrackResult{Reason: ReasonSelfReferral}, nil
	}

	ref := &model.Referral{
		RefereeWallet:  wallet,
		ReferrerWallet: owner.WalletAddress,
		Code:           code,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.CreateReferral(ctx, ref); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return &TrackResult{Reason: ReasonAlreadyReferred}, nil
		}
		return nil, fmt.Errorf("create referral: %w", err)
	}

	if err := s.store.IncrementReferralCount(ctx, owner.WalletAddress); err != nil {
		slog.Warn("referral count not incremented", "referrer", owner.WalletAddress, "err", err)
	}
	if s.points != nil && s.bonus > 0 {
		if _, err := s.points.Award(ctx, owner.WalletAddress, s.bonus, PointsReason); err != nil {
			slog.Warn("referral bonus not awarded", "referrer", owner.WalletAddress, "err", err)
		}
	}

	slog.Info("referral tracked", "referee", wallet, "referrer", owner.WalletAddress, "code", code)
	events.Emit(ctx, s.events, events.Event{
		Type:          events.ReferralTracked,
		WalletAddress: owner.WalletAddress,
		Data:          ref,
		At:            ref.CreatedAt,
	})
	return &TrackResult{Tracked: true}, nil
}

// --- HTTP handlers ---

// TrackRequest is the JSON body for POST /api/referrals/track.
type TrackRequest struct {
	WalletAddress string `json:"walletAddress"`
	ReferralCode  string `json:"referralCode"`
}

type codeResponse struct {
	Code          string `json:"code"`
	ReferralCount int    `json:"referralCount"`
}

// HandleCode handles GET /api/referrals/code?wallet=.
func (s *Service) HandleCode(w http.ResponseWriter, r *http.Request) {
	c, err := s.Code(r.Context(), r.URL.Query().Get("wallet"))
	if errors.Is(err, address.ErrInvalid) {
		httpx.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		slog.Error("referral code lookup failed", "err", err)
		httpx.WriteError(w, "failed to load referral code", http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, codeResponse{Code: c.Code, ReferralCount: c.ReferralCount})
}

// HandleTrack handles POST /api/referrals/track.
func (s *Service) HandleTrack(w http.ResponseWriter, r *http.Request) {
	var req TrackRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := s.Track(r.Context(), req.WalletAddress, req.ReferralCode)
	if errors.Is(err, address.ErrInvalid) {
		httpx.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		slog.Error("referral tracking failed", "err", err)
		httpx.WriteError(w, "failed to track referral", http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}
