// Package window derives the canonical identifiers of Polymarket's
// fixed-interval up/down markets and finds the next tradable one.
//
// A window is identified by a slug of the form
//
//	{asset}-updown-{interval}m-{start unix seconds}
//
// where start is aligned to the interval relative to UTC midnight.
// Example: btc-updown-5m-1704067500 (2024-01-01T00:05:00Z).
package window

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Asset is the underlying of a window market.
type Asset string

// Supported assets.
const (
	AssetBTC Asset = "btc"
	AssetETH Asset = "eth"
)

// DefaultInterval is the only interval currently listed.
const DefaultInterval = 5

var validIntervals = map[int]bool{
	DefaultInterval: true,
}

// slugRegex matches: {asset}-updown-{interval}m-{unix}
var slugRegex = regexp.MustCompile(`^(btc|eth)-updown-(\d+)m-(\d+)$`)

var (
	ErrInvalidSlug     = errors.New("window: invalid slug format")
	ErrInvalidInterval = errors.New("window: unsupported interval")
	ErrMisaligned      = errors.New("window: start is not aligned to the interval")
)

// ParseAsset matches case-insensitively. Anything unrecognized is btc.
func ParseAsset(s string) Asset {
	switch Asset(strings.ToLower(strings.TrimSpace(s))) {
	case AssetETH:
		return AssetETH
	default:
		return AssetBTC
	}
}

// ParseInterval validates an interval in minutes against the listed set.
func ParseInterval(minutes int) (int, error) {
	if !validIntervals[minutes] {
		return 0, fmt.Errorf("%w: %dm", ErrInvalidInterval, minutes)
	}
	return minutes, nil
}

// Window is one fixed-duration market instance. Computed, never stored.
type Window struct {
	Asset           Asset     `json:"asset"`
	IntervalMinutes int       `json:"intervalMinutes"`
	Start           time.Time `json:"start"`
}

// Start returns the start of the window containing t: UTC midnight plus the
// minutes since midnight truncated to a multiple of intervalMinutes.
func Start(t time.Time, intervalMinutes int) time.Time {
	t = t.UTC()
	if intervalMinutes <= 0 {
		return t
	}
	y, m, d := t.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	minutes := t.Hour()*60 + t.Minute()
	floored := minutes - minutes%intervalMinutes
	return midnight.Add(time.Duration(floored) * time.Minute)
}

// Current returns the window of asset containing now.
func Current(asset Asset, intervalMinutes int, now time.Time) Window {
	return Window{
		Asset:           asset,
		IntervalMinutes: intervalMinutes,
		Start:           Start(now, intervalMinutes),
	}
}

// Interval returns the window duration.
func (w Window) Interval() time.Duration {
	return time.Duration(w.IntervalMinutes) * time.Minute
}

// End returns the instant the window closes.
func (w Window) End() time.Time {
	return w.Start.Add(w.Interval())
}

// Next returns the window n intervals after w.
func (w Window) Next(n int) Window {
	w.Start = w.Start.Add(time.Duration(n) * w.Interval())
	return w
}

// Slug returns the deterministic market identifier.
func (w Window) Slug() string {
	return fmt.Sprintf("%s-updown-%dm-%d", w.Asset, w.IntervalMinutes, w.Start.Unix())
}

// ParseSlug parses and validates a window slug.
func ParseSlug(slug string) (Window, error) {
	matches := slugRegex.FindStringSubmatch(strings.TrimSpace(slug))
	if matches == nil {
		return Window{}, fmt.Errorf("%w: %s (expected {asset}-updown-{n}m-{unix})", ErrInvalidSlug, slug)
	}

	interval, err := strconv.Atoi(matches[2])
	if err != nil {
		return Window{}, fmt.Errorf("%w: %s", ErrInvalidSlug, slug)
	}
	if _, err := ParseInterval(interval); err != nil {
		return Window{}, err
	}

	unix, err := strconv.ParseInt(matches[3], 10, 64)
	if err != nil {
		return Window{}, fmt.Errorf("%w: %s", ErrInvalidSlug, slug)
	}
	if unix%int64(interval*60) != 0 {
		return Window{}, fmt.Errorf("%w: %s", ErrMisaligned, slug)
	}

	return Window{
		Asset:           Asset(matches[1]),
		IntervalMinutes: interval,
		Start:           time.Unix(unix, 0).UTC(),
	}, nil
}
