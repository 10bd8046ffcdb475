package points

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
	"github.com/miyamoto-labs/easypoly/internal/httpx"
	"github.com/miyamoto-labs/easypoly/internal/metrics"
	"github.com/miyamoto-labs/easypoly/internal/model"
	"github.com/miyamoto-labs/easypoly/internal/store"
)

var (
	ErrInvalidPoints = errors.New("points: amount must be positive")
	ErrInvalidReason = errors.New("points: reason required")
)

const maxReasonLen = 64

// Result is the outcome of an award.
type Result struct {
	WalletAddress string `json:"walletAddress"`
	Awarded       bool   `json:"awarded"`
	Total         int64  `json:"totalPoints"`
	Tier          string `json:"tier"`
}

type Service struct {
	store store.Store
	now   func() time.Time
}

func NewService(st store.Store) *Service {
	return &Service{store: st, now: time.Now}
}

// Award credits points to wallet. The signup reason is applied at most once
// per wallet; every other reason always appends and increments.
func (s *Service) Award(ctx context.Context, wallet string, pts int64, reason string) (*Result, error) {
	wallet, err := address.Normalize(wallet)
	if err != nil {
		return nil, err
	}
	if pts <= 0 {
		return nil, ErrInvalidPoints
	}
	reason = strings.ToLower(strings.TrimSpace(reason))
	if reason == "" || len(reason) > maxReasonLen {
		return nil, ErrInvalidReason
	}

	entry := &model.PointsLedgerEntry{
		ID:            uuid.New().String(),
		WalletAddress: wallet,
		Points:        pts,
		Reason:        reason,
		CreatedAt:     s.now().UTC(),
	}
	total, awarded, err := s.store.AwardPoints(ctx, entry, reason == store.ReasonSignup)
	if err != nil {
		return nil, fmt.Errorf("award points: %w", err)
	}

	if awarded {
		metrics.PointsAwarded.WithLabelValues(reason).Add(float64(pts))
		slog.Info("points awarded", "wallet", wallet, "points", pts, "reason", reason, "total", total)
	}

	return &Result{
		WalletAddress: wallet,
		Awarded:       awarded,
		Total:         total,
		Tier:          TierFor(total).Name,
	}, nil
}

// Summary returns a wallet's total and tier; unknown wallets have zero.
func (s *Service) Summary(ctx context.Context, wallet string) (*Result, error) {
	wallet, err := address.Normalize(wallet)
	if err != nil {
		return nil, err
	}
	var total int64
	sum, err := s.store.GetPoints(ctx, wallet)
	switch {
	case err == nil:
		total = sum.TotalPoints
	case errors.Is(err, store.ErrNotFound):
	default:
		return nil, err
	}
	return &Result{WalletAddress: wallet, Total: total, Tier: TierFor(total).Name}, nil
}

// --- HTTP handlers ---

// AwardRequest is the JSON body for POST /api/points/award.
type AwardRequest struct {
	WalletAddress string `json:"walletAddress"`
	Points        int64  `json:"points"`
	Reason        string `json:"reason"`
}

// HandleAward handles POST /api/points/award.
func (s *Service) HandleAward(w http.ResponseWriter, r *http.Request) {
	var req AwardRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := s.Award(r.Context(), req.WalletAddress, req.Points, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, address.ErrInvalid), errors.Is(err, ErrInvalidPoints), errors.Is(err, ErrInvalidReason):
			httpx.WriteError(w, err.Error(), http.StatusBadRequest)
		default:
			slog.Error("points award failed", "wallet", req.WalletAddress, "err", err)
			httpx.WriteError(w, "failed to award points", http.StatusInternalServerError)
		}
		return
	}
	resp := awardResponse{Success: true, Result: res}
	if res.Awarded {
		resp.Points = req.Points
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// awardResponse reports the points credited by this call; a deduplicated
// signup credits 0.
type awardResponse struct {
	Success bool  `json:"success"`
	Points  int64 `json:"points"`
	*Result
}

type summaryResponse struct {
	*Result
	NextTier     string `json:"nextTier,omitempty"`
	PointsToNext int64  `json:"pointsToNext,omitempty"`
}

// HandleGet handles GET /api/points?wallet=.
func (s *Service) HandleGet(w http.ResponseWriter, r *http.Request) {
	res, err := s.Summary(r.Context(), r.URL.Query().Get("wallet"))
	if err != nil {
		if errors.Is(err, address.ErrInvalid) {
			httpx.WriteError(w, err.Error(), http.StatusBadRequest)
			return
		}
		slog.Error("points lookup failed", "err", err)
		httpx.WriteError(w, "failed to load points", http.StatusInternalServerError)
		return
	}

	resp := summaryResponse{Result: res}
	if next, needed, ok := NextTier(res.Total); ok {
		resp.NextTier = next.Name
		resp.PointsToNext = needed
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}
