// Package events fans bot activity out to dashboards and notification sinks.
// Every sink is best-effort: a failed publish is logged and never fails the
// request that produced the event.
package events

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/miyamoto-labs/easypoly/internal/metrics"
)

// Event types.
const (
	SessionStarted  = "session.started"
	SessionPaused   = "session.paused"
	SessionResumed  = "session.resumed"
	SessionStopped  = "session.stopped"
	SessionExpired  = "session.expired"
	TradeLogged     = "trade.logged"
	TradeResolved   = "trade.resolved"
	PointsAwarded   = "points.awarded"
	ReferralTracked = "referral.tracked"
)

type Event struct {
	Type          string    `json:"type"`
	WalletAddress string    `json:"walletAddress"`
	SessionID     string    `json:"sessionId,omitempty"`
	Data          any       `json:"data,omitempty"`
	At            time.Time `json:"at"`
}

// Publisher delivers events to one sink.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, e Event) error
}

// Multi publishes to every sink and joins their errors.
type Multi []Publisher

func (m Multi) Name() string { return "multi" }

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		err := p.Publish(ctx, e)
		result := "ok"
		if err != nil {
			result = "error"
			errs = append(errs, err)
		}
		metrics.EventsPublished.WithLabelValues(p.Name(), result).Inc()
	}
	return errors.Join(errs...)
}

// Nop discards events.
type Nop struct{}

func (Nop) Name() string { return "nop" }
func (Nop) Publish(context.Context, Event) error { return nil }

// Emit publishes e and logs any failure. A zero At is stamped with now.
func Emit(ctx context.Context, p Publisher, e Event) {
	if p == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if err := p.Publish(ctx, e); err != nil {
		slog.Warn("event publish failed", "type", e.Type, "wallet", e.WalletAddress, "err", err)
	}
}
