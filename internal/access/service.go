// Package access gates the app behind single-use invite codes. Redeeming a
// code binds a random token to it and hands that token back as a cookie.
package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/miyamoto-labs/easypoly/internal/httpx"
	"github.com/miyamoto-labs/easypoly/internal/model"
	"github.com/miyamoto-labs/easypoly/internal/store"
)

const (
	CookieName   = "easypoly_access"
	CookieMaxAge = 30 * 24 * time.Hour

	maxCodesPerRequest = 100
	codeLength         = 8
)

var (
	ErrEmptyCode   = errors.New("access: code required")
	ErrUnknownCode = errors.New("access: unknown code")
	ErrCodeUsed    = errors.New("access: code already used")
	ErrBadCount    = errors.New("access: count must be between 1 and 100")
)

type Service struct {
	store store.Store
	now   func() time.Time
}

func NewService(st store.Store) *Service {
	return &Service{store: st, now: time.Now}
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func newCode() string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))
	return id[:codeLength]
}

// Redeem marks code used and returns the token bound to it.
func (s *Service) Redeem(ctx context.Context, code string) (string, error) {
	code = normalizeCode(code)
	if code == "" {
		return "", ErrEmptyCode
	}
	token := uuid.New().String()
	err := s.store.RedeemAccessCode(ctx, code, token, s.now().UTC())
	switch {
	case errors.Is(err, store.ErrNotFound):
		return "", ErrUnknownCode
	case errors.Is(err, store.ErrConflict):
		return "", ErrCodeUsed
	case err != nil:
		return "", fmt.Errorf("redeem access code: %w", err)
	}
	slog.Info("access code redeemed", "code", code)
	return token, nil
}

// Valid reports whether token came from a redemption.
func (s *Service) Valid(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	return s.store.AccessTokenValid(ctx, token)
}

// Create generates count fresh codes. Value collisions are skipped and
// regenerated.
func (s *Service) Create(ctx context.Context, count int) ([]string, error) {
	if count < 1 || count > maxCodesPerRequest {
		return nil, ErrBadCount
	}
	codes := make([]string, 0, count)
	for attempts := 0; len(codes) < count && attempts < count*3; attempts++ {
		c := &model.AccessCode{Code: newCode(), CreatedAt: s.now().UTC()}
		err := s.store.CreateAccessCode(ctx, c)
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return codes, fmt.Errorf("create access code: %w", err)
		}
		codes = append(codes, c.Code)
	}
	slog.Info("access codes created", "count", len(codes))
	return codes, nil
}

// Require rejects requests without a valid access cookie.
func (s *Service) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, err := s.Valid(r.Context(), tokenFrom(r))
		if err != nil {
			slog.Error("access check failed", "err", err)
			httpx.WriteError(w, "access check failed", http.StatusInternalServerError)
			return
		}
		if !ok {
			httpx.WriteError(w, "access code required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func tokenFrom(r *http.Request) string {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

func secure(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

// --- HTTP handlers ---

// RedeemRequest is the JSON body for POST /api/access/redeem.
type RedeemRequest struct {
	Code string `json:"code"`
}

// CreateRequest is the JSON body for POST /api/admin/access-codes.
type CreateRequest struct {
	Count int `json:"count"`
}

// HandleRedeem handles POST /api/access/redeem.
func (s *Service) HandleRedeem(w http.ResponseWriter, r *http.Request) {
	var req RedeemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}
	token, err := s.Redeem(r.Context(), req.Code)
	switch {
	case errors.Is(err, ErrEmptyCode):
		httpx.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, ErrUnknownCode):
		httpx.WriteError(w, "invalid access code", http.StatusNotFound)
		return
	case errors.Is(err, ErrCodeUsed):
		httpx.WriteError(w, "access code already used", http.StatusConflict)
		return
	case err != nil:
		slog.Error("access redemption failed", "err", err)
		httpx.WriteError(w, "failed to redeem code", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(CookieMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   secure(r),
		SameSite: http.SameSiteLaxMode,
	})
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// HandleCheck handles GET /api/access/check.
func (s *Service) HandleCheck(w http.ResponseWriter, r *http.Request) {
	ok, err := s.Valid(r.Context(), tokenFrom(r))
	if err != nil {
		slog.Error("access check failed", "err", err)
		httpx.WriteError(w, "access check failed", http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"access": ok})
}

// HandleCreate handles POST /api/admin/access-codes. Mount behind
// httpx.BearerAuth.
func (s *Service) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}
	codes, err := s.Create(r.Context(), req.Count)
	if errors.Is(err, ErrBadCount) {
		httpx.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		slog.Error("access code creation failed", "created", len(codes), "err", err)
		httpx.WriteError(w, "failed to create access codes", http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"codes": codes})
}
