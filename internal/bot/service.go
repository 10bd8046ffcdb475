// Package bot runs wallet bot sessions: starting and stopping them, logging
// the trades they place on window markets and settling those trades once
// the window closes. It also serves the ROI leaderboard and jackpot.
//
// All monetary values use shopspring/decimal.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/miyamoto-labs/easypoly/internal/address"
	"github.com/miyamoto-labs/easypoly/internal/events"
	"github.com/miyamoto-labs/easypoly/internal/gamma"
	"github.com/miyamoto-labs/easypoly/internal/metrics"
	"github.com/miyamoto-labs/easypoly/internal/model"
	"github.com/miyamoto-labs/easypoly/internal/points"
	"github.com/miyamoto-labs/easypoly/internal/ranking"
	"github.com/miyamoto-labs/easypoly/internal/store"
	"github.com/miyamoto-labs/easypoly/internal/window"
)

var (
	ErrInvalidRequest      = errors.New("bot: invalid request")
	ErrNoSession           = errors.New("bot: session not found")
	ErrOpenSession         = errors.New("bot: wallet already has an open session")
	ErrNotOwner            = errors.New("bot: session belongs to another wallet")
	ErrSessionClosed       = errors.New("bot: session is no longer open")
	ErrInvalidTransition   = errors.New("bot: invalid status transition")
	ErrSessionNotActive    = errors.New("bot: session is not active")
	ErrInsufficientBalance = errors.New("bot: stake exceeds session balance")
	ErrDuplicateWindow     = errors.New("bot: session already traded this window")
	ErrTradeNotFound       = errors.New("bot: trade not found")
	ErrTradeResolved       = errors.New("bot: trade already resolved")
)

const DefaultMode = "arcade"

// ReasonTrade is the points reason credited per logged trade.
const ReasonTrade = "trade"

var modeRegex = regexp.MustCompile(`^[a-z0-9_-]{1,32}$`)

// MarketSource looks up window markets for settlement.
type MarketSource interface {
	MarketBySlug(ctx context.Context, slug string) (*gamma.Market, error)
}

// PointsAwarder credits activity points.
type PointsAwarder interface {
	Award(ctx context.Context, wallet string, pts int64, reason string) (*points.Result, error)
}

// Options holds session defaults.
type Options struct {
	DefaultMinutes int
	MaxMinutes     int
	TradePoints    int64
	MinTrades      int
	JackpotShares  []decimal.Decimal
}

func DefaultOptions() Options {
	return Options{
		DefaultMinutes: 60,
		MaxMinutes:     24 * 60,
		TradePoints:    10,
		MinTrades:      ranking.DefaultMinTrades,
		JackpotShares:  ranking.DefaultJackpotShares,
	}
}

// Service handles bot sessions. Mutations of a session are serialized by a
// mutex (single-instance); the store's uniqueness constraints guard the
// one-open-session and one-trade-per-window rules across instances.
type Service struct {
	store   store.Store
	markets MarketSource
	points  PointsAwarder
	events  events.Publisher
	opts    Options
	now     func() time.Time
	mu      sync.Mutex
}

// NewService creates a bot service. markets, pts and pub may be nil: settle
// is then unavailable, and points and events are skipped.
func NewService(st store.Store, markets MarketSource, pts PointsAwarder, pub events.Publisher, opts Options) *Service {
	return &Service{
		store:   st,
		markets: markets,
		points:  pts,
		events:  pub,
		opts:    opts,
		now:     time.Now,
	}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// StartRequest is the JSON body for POST /api/bot/start.
type StartRequest struct {
	WalletAddress   string          `json:"walletAddress"`
	Bankroll        decimal.Decimal `json:"bankroll"`
	StartingBalance decimal.Decimal `json:"startingBalance"`
	DurationMinutes int             `json:"durationMinutes"`
	Mode            string          `json:"mode"`
	Asset           string          `json:"asset"`
}

// Start opens a new active session for the wallet.
func (s *Service) Start(ctx context.Context, req StartRequest) (*model.Session, error) {
	wallet, err := address.Normalize(req.WalletAddress)
	if err != nil {
		return nil, err
	}
	if !req.Bankroll.IsPositive() {
		return nil, invalid("bankroll must be positive")
	}
	starting := req.StartingBalance
	if starting.IsZero() {
		starting = req.Bankroll
	}
	if starting.IsNegative() {
		return nil, invalid("startingBalance must not be negative")
	}

	minutes := req.DurationMinutes
	switch {
	case minutes == 0:
		minutes = s.opts.DefaultMinutes
	case minutes < 0:
		return nil, invalid("durationMinutes must be positive")
	case minutes > s.opts.MaxMinutes:
		minutes = s.opts.MaxMinutes
	}

	mode := strings.ToLower(strings.TrimSpace(req.Mode))
	if mode == "" {
		mode = DefaultMode
	}
	if !modeRegex.MatchString(mode) {
		return nil, invalid("mode must be 1-32 characters of a-z, 0-9, _ or -")
	}

	now := s.now().UTC()
	sess := &model.Session{
		ID:              uuid.New().String(),
		WalletAddress:   wallet,
		Mode:            mode,
		Asset:           string(window.ParseAsset(req.Asset)),
		Bankroll:        req.Bankroll,
		StartingBalance: starting,
		CurrentBalance:  req.Bankroll,
		TotalPnL:        decimal.Zero,
		Status:          model.SessionActive,
		StartedAt:       now,
		ExpiresAt:       now.Add(time.Duration(minutes) * time.Minute),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.store.CreateSession(ctx, sess); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrOpenSession
		}
		return nil, fmt.Errorf("create session: %w", err)
	}

	metrics.SessionTransitions.WithLabelValues(model.SessionActive).Inc()
	slog.Info("bot session started",
		"id", sess.ID,
		"wallet", wallet,
		"mode", mode,
		"asset", sess.Asset,
		"bankroll", sess.Bankroll.String(),
		"expires_at", sess.ExpiresAt,
	)
	s.emit(ctx, events.SessionStarted, sess, nil)
	return sess, nil
}

// Status returns the wallet's open session and its pending trades. A session
// whose expiry has passed is moved to expired and returned one last time.
// A wallet without an open session yields a nil session.
func (s *Service) Status(ctx context.Context, wallet string) (*model.Session, []model.Trade, error) {
	wallet, err := address.Normalize(wallet)
	if err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.store.GetOpenSession(ctx, wallet)
	if errors.Is(err, store.ErrNotFound) {
		return nil, []model.Trade{}, nil
	}
	if err != nil {
		return nil, nil, err
	}
	if err := s.expireIfDue(ctx, sess); err != nil {
		return nil, nil, err
	}

	pending, err := s.store.ListTrades(ctx, sess.ID, model.OutcomePending)
	if err != nil {
		return nil, nil, err
	}
	if pending == nil {
		pending = []model.Trade{}
	}
	return sess, pending, nil
}

// expireIfDue moves an open session past its expiry to expired. Caller
// holds s.mu.
func (s *Service) expireIfDue(ctx context.Context, sess *model.Session) error {
	now := s.now().UTC()
	if !sess.Open() || now.Before(sess.ExpiresAt) {
		return nil
	}
	stopped := sess.ExpiresAt
	sess.Status = model.SessionExpired
	sess.StoppedAt = &stopped
	sess.UpdatedAt = now
	if err := s.store.UpdateSession(ctx, sess); err != nil {
		return fmt.Errorf("expire session: %w", err)
	}
	metrics.SessionTransitions.WithLabelValues(model.SessionExpired).Inc()
	slog.Info("bot session expired", "id", sess.ID, "wallet", sess.WalletAddress)
	s.emit(ctx, events.SessionExpired, sess, nil)
	return nil
}

// owned loads a session and checks that wallet owns it. Caller holds s.mu.
func (s *Service) owned(ctx context.Context, wallet, sessionID string) (*model.Session, error) {
	wallet, err := address.Normalize(wallet)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(sessionID) == "" {
		return nil, invalid("sessionId required")
	}
	sess, err := s.store.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, err
	}
	if sess.WalletAddress != wallet {
		return nil, ErrNotOwner
	}
	return sess, nil
}

// StopResult summarizes a finished session.
type StopResult struct {
	SessionID    string          `json:"sessionId"`
	Status       string          `json:"status"`
	FinalBalance decimal.Decimal `json:"finalBalance"`
	TotalPnL     decimal.Decimal `json:"totalPnl"`
	TotalTrades  int             `json:"totalTrades"`
	Wins         int             `json:"wins"`
	Losses       int             `json:"losses"`
	ROI          decimal.Decimal `json:"roi"`
}

func summarize(sess *model.Session) *StopResult {
	return &StopResult{
		SessionID:    sess.ID,
		Status:       sess.Status,
		FinalBalance: sess.CurrentBalance,
		TotalPnL:     sess.TotalPnL,
		TotalTrades:  sess.TotalTrades,
		Wins:         sess.Wins,
		Losses:       sess.Losses,
		ROI:          ranking.ROI(*sess),
	}
}

// Stop ends an open session owned by wallet.
func (s *Service) Stop(ctx context.Context, wallet, sessionID string) (*StopResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.owned(ctx, wallet, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.expireIfDue(ctx, sess); err != nil {
		return nil, err
	}
	if !sess.Open() {
		return nil, ErrSessionClosed
	}

	now := s.now().UTC()
	sess.Status = model.SessionStopped
	sess.StoppedAt = &now
	sess.UpdatedAt = now
	if err := s.store.UpdateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("stop session: %w", err)
	}

	res := summarize(sess)
	metrics.SessionTransitions.WithLabelValues(model.SessionStopped).Inc()
	slog.Info("bot session stopped",
		"id", sess.ID,
		"wallet", sess.WalletAddress,
		"pnl", sess.TotalPnL.String(),
		"trades", sess.TotalTrades,
	)
	s.emit(ctx, events.SessionStopped, sess, res)
	return res, nil
}

// Pause moves an active session to paused.
func (s *Service) Pause(ctx context.Context, wallet, sessionID string) (*model.Session, error) {
	return s.transition(ctx, wallet, sessionID, model.SessionPaused, events.SessionPaused, model.SessionActive)
}

// Resume moves a paused or pending session to active.
func (s *Service) Resume(ctx context.Context, wallet, sessionID string) (*model.Session, error) {
	return s.transition(ctx, wallet, sessionID, model.SessionActive, events.SessionResumed, model.SessionPaused, model.SessionPending)
}

func (s *Service) transition(ctx context.Context, wallet, sessionID, to, eventType string, from ...string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.owned(ctx, wallet, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.expireIfDue(ctx, sess); err != nil {
		return nil, err
	}
	if !sess.Open() {
		return nil, ErrSessionClosed
	}

	allowed := false
	for _, f := range from {
		if sess.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, sess.Status, to)
	}

	sess.Status = to
	sess.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	metrics.SessionTransitions.WithLabelValues(to).Inc()
	slog.Info("bot session status changed", "id", sess.ID, "status", to)
	s.emit(ctx, eventType, sess, nil)
	return sess, nil
}

// Trades lists a session's trades for its owner. An empty outcome lists all.
func (s *Service) Trades(ctx context.Context, wallet, sessionID, outcome string) ([]model.Trade, error) {
	switch outcome {
	case "", model.OutcomePending, model.OutcomeWon, model.OutcomeLost:
	default:
		return nil, invalid("outcome must be pending, won or lost")
	}

	s.mu.Lock()
	sess, err := s.owned(ctx, wallet, sessionID)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	trades, err := s.store.ListTrades(ctx, sess.ID, outcome)
	if err != nil {
		return nil, err
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	return trades, nil
}

func (s *Service) emit(ctx context.Context, eventType string, sess *model.Session, data any) {
	if s.events == nil {
		return
	}
	events.Emit(ctx, s.events, events.Event{
		Type:          eventType,
		WalletAddress: sess.WalletAddress,
		SessionID:     sess.ID,
		Data:          data,
		At:            s.now().UTC(),
	})
}
