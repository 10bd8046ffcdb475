package bot

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/miyamoto-labs/easypoly/internal/address"
	"github.com/miyamoto-labs/easypoly/internal/httpx"
	"github.com/miyamoto-labs/easypoly/internal/model"
	"github.com/miyamoto-labs/easypoly/internal/ranking"
)

// SessionRequest is the JSON body for stop, pause, resume and settle.
type SessionRequest struct {
	WalletAddress string `json:"walletAddress"`
	SessionID     string `json:"sessionId"`
}

// ResolveRequest is the JSON body for POST /api/bot/trades/{tradeID}/resolve.
type ResolveRequest struct {
	WalletAddress string `json:"walletAddress"`
	Outcome       string `json:"outcome"`
}

// StatusResponse is returned from GET /api/bot/status.
type StatusResponse struct {
	Session     *model.Session `json:"session"`
	PendingBets []model.Trade  `json:"pendingBets"`
}

// Routes mounts the bot endpoints on r.
func (s *Service) Routes(r chi.Router) {
	r.Post("/bot/start", s.HandleStart)
	r.Get("/bot/status", s.HandleStatus)
	r.Post("/bot/stop", s.HandleStop)
	r.Post("/bot/pause", s.HandlePause)
	r.Post("/bot/resume", s.HandleResume)
	r.Post("/bot/settle", s.HandleSettle)
	r.Get("/bot/trades", s.HandleListTrades)
	r.Post("/bot/trades", s.HandleLogTrade)
	r.Post("/bot/trades/{tradeID}/resolve", s.HandleResolve)
	r.Get("/leaderboard", s.HandleLeaderboard)
	r.Get("/jackpot", s.HandleJackpot)
}

// writeErr maps service errors onto HTTP statuses.
func writeErr(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, address.ErrInvalid), errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrInsufficientBalance), errors.Is(err, ranking.ErrInvalidShares):
		httpx.WriteError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrNoSession), errors.Is(err, ErrTradeNotFound):
		httpx.WriteError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrOpenSession), errors.Is(err, ErrNotOwner), errors.Is(err, ErrSessionClosed),
		errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrSessionNotActive),
		errors.Is(err, ErrDuplicateWindow), errors.Is(err, ErrTradeResolved):
		httpx.WriteError(w, err.Error(), http.StatusConflict)
	default:
		slog.Error("bot "+op+" failed", "err", err)
		httpx.WriteError(w, "failed to "+op, http.StatusInternalServerError)
	}
}

// HandleStart handles POST /api/bot/start.
func (s *Service) HandleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}
	sess, err := s.Start(r.Context(), req)
	if err != nil {
		writeErr(w, "start session", err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, sess)
}

// HandleStatus handles GET /api/bot/status?wallet=.
func (s *Service) HandleStatus(w http.ResponseWriter, r *http.Request) {
	sess, pending, err := s.Status(r.Context(), r.URL.Query().Get("wallet"))
	if err != nil {
		writeErr(w, "load status", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, StatusResponse{Session: sess, PendingBets: pending})
}

// HandleStop handles POST /api/bot/stop.
func (s *Service) HandleStop(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := s.Stop(r.Context(), req.WalletAddress, req.SessionID)
	if err != nil {
		writeErr(w, "stop session", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

// HandlePause handles POST /api/bot/pause.
func (s *Service) HandlePause(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}
	sess, err := s.Pause(r.Context(), req.WalletAddress, req.SessionID)
	if err != nil {
		writeErr(w, "pause session", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, sess)
}

// HandleResume handles POST /api/bot/resume.
func (s *Service) HandleResume(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}
	sess, err := s.Resume(r.Context(), req.WalletAddress, req.SessionID)
	if err != nil {
		writeErr(w, "resume session", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, sess)
}

// HandleSettle handles POST /api/bot/settle.
func (s *Service) HandleSettle(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := s.Settle(r.Context(), req.WalletAddress, req.SessionID)
	if err != nil {
		writeErr(w, "settle session", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

// HandleLogTrade handles POST /api/bot/trades.
func (s *Service) HandleLogTrade(w http.ResponseWriter, r *http.Request) {
	var req LogTradeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}
	t, err := s.LogTrade(r.Context(), req)
	if err != nil {
		writeErr(w, "log trade", err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, t)
}

// HandleListTrades handles GET /api/bot/trades?wallet=&sessionId=&outcome=.
func (s *Service) HandleListTrades(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	trades, err := s.Trades(r.Context(), q.Get("wallet"), q.Get("sessionId"), strings.ToLower(q.Get("outcome")))
	if err != nil {
		writeErr(w, "list trades", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"trades": trades})
}

// HandleResolve handles POST /api/bot/trades/{tradeID}/resolve.
func (s *Service) HandleResolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}
	t, err := s.ResolveTrade(r.Context(), req.WalletAddress, chi.URLParam(r, "tradeID"), req.Outcome)
	if err != nil {
		writeErr(w, "resolve trade", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, t)
}

// HandleLeaderboard handles GET /api/leaderboard?mode=&minTrades=&limit=.
func (s *Service) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	minTrades, err := intParam(q.Get("minTrades"), -1)
	if err != nil || minTrades < -1 {
		httpx.WriteError(w, "minTrades must be a non-negative integer", http.StatusBadRequest)
		return
	}
	limit, err := intParam(q.Get("limit"), defaultLeaderboardLimit)
	if err != nil || limit < 0 {
		httpx.WriteError(w, "limit must be a non-negative integer", http.StatusBadRequest)
		return
	}

	mode := strings.ToLower(strings.TrimSpace(q.Get("mode")))
	entries, err := s.Leaderboard(r.Context(), mode, minTrades, limit)
	if err != nil {
		writeErr(w, "load leaderboard", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"mode": mode, "entries": entries})
}

// HandleJackpot handles GET /api/jackpot?mode=&pool=.
func (s *Service) HandleJackpot(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pool, err := decimal.NewFromString(strings.TrimSpace(q.Get("pool")))
	if err != nil || pool.IsNegative() {
		httpx.WriteError(w, "pool must be a non-negative decimal", http.StatusBadRequest)
		return
	}

	mode := strings.ToLower(strings.TrimSpace(q.Get("mode")))
	payouts, err := s.Jackpot(r.Context(), mode, pool)
	if err != nil {
		writeErr(w, "compute jackpot", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"mode": mode, "pool": pool, "payouts": payouts})
}

func intParam(raw string, fallback int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
