package window

import (
	"errors"
	"testing"
	"time"
)

func TestStart_Example(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 7, 0, 0, time.UTC)
	w := Current(AssetBTC, 5, now)

	expected := time.Date(2024, 1, 1, 0, 5, 0, 0, time.UTC)
	if !w.Start.Equal(expected) {
		t.Fatalf("expected start=%v, got %v", expected, w.Start)
	}
	if w.Slug() != "btc-updown-5m-1704067500" {
		t.Errorf("expected slug=btc-updown-5m-1704067500, got %s", w.Slug())
	}
	if !w.End().Equal(expected.Add(5 * time.Minute)) {
		t.Errorf("expected end=%v, got %v", expected.Add(5*time.Minute), w.End())
	}
}

func TestStart_IdempotentWithinWindow(t *testing.T) {
	base := time.Date(2025, 3, 9, 13, 40, 0, 0, time.UTC)
	for offset := time.Duration(0); offset < 5*time.Minute; offset += 17 * time.Second {
		got := Start(base.Add(offset), 5)
		if !got.Equal(base) {
			t.Fatalf("offset %v: expected %v, got %v", offset, base, got)
		}
		if !Start(got, 5).Equal(got) {
			t.Fatalf("Start is not idempotent at %v", got)
		}
	}
}

func TestStart_AlwaysAligned(t *testing.T) {
	t0 := time.Date(2025, 6, 30, 23, 58, 31, 0, time.UTC)
	for i := 0; i < 500; i++ {
		ts := t0.Add(time.Duration(i) * 73 * time.Second)
		s := Start(ts, 5)
		if s.Unix()%300 != 0 {
			t.Fatalf("start %v not aligned to 5m", s)
		}
		if s.After(ts) || ts.Sub(s) >= 5*time.Minute {
			t.Fatalf("start %v does not contain %v", s, ts)
		}
	}
}

func TestStart_NonUTCInput(t *testing.T) {
	loc := time.FixedZone("UTC+5:30", 5*3600+1800)
	ts := time.Date(2024, 1, 1, 5, 37, 10, 0, loc) // 00:07:10Z
	got := Start(ts, 5)
	if got.Unix() != 1704067500 {
		t.Errorf("expected 1704067500, got %d", got.Unix())
	}
	if got.Location() != time.UTC {
		t.Errorf("expected UTC location, got %v", got.Location())
	}
}

func TestNext(t *testing.T) {
	w := Current(AssetETH, 5, time.Date(2024, 1, 1, 23, 58, 0, 0, time.UTC))
	n := w.Next(1)
	if n.Slug() != "eth-updown-5m-1704153600" {
		t.Errorf("expected window across midnight, got %s", n.Slug())
	}
	if w.Next(0) != w {
		t.Error("Next(0) should return the same window")
	}
}

func TestParseAsset(t *testing.T) {
	tests := map[string]Asset{
		"btc":  AssetBTC,
		"BTC":  AssetBTC,
		"eth":  AssetETH,
		" Eth": AssetETH,
		"sol":  AssetBTC,
		"":     AssetBTC,
	}
	for in, want := range tests {
		if got := ParseAsset(in); got != want {
			t.Errorf("ParseAsset(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestParseInterval(t *testing.T) {
	if _, err := ParseInterval(5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, n := range []int{0, -5, 1, 15, 60} {
		if _, err := ParseInterval(n); !errors.Is(err, ErrInvalidInterval) {
			t.Errorf("ParseInterval(%d): expected ErrInvalidInterval, got %v", n, err)
		}
	}
}

func TestParseSlug_RoundTrip(t *testing.T) {
	now := time.Date(2025, 8, 15, 14, 22, 3, 0, time.UTC)
	for _, asset := range []Asset{AssetBTC, AssetETH} {
		for i := 0; i < 4; i++ {
			w := Current(asset, 5, now).Next(i)
			got, err := ParseSlug(w.Slug())
			if err != nil {
				t.Fatalf("ParseSlug(%s): %v", w.Slug(), err)
			}
			if got != w {
				t.Errorf("round trip mismatch: %+v vs %+v", got, w)
			}
		}
	}
}

func TestParseSlug_Invalid(t *testing.T) {
	tests := []struct {
		slug string
		want error
	}{
		{"", ErrInvalidSlug},
		{"btc-updown-5m", ErrInvalidSlug},
		{"sol-updown-5m-1704067500", ErrInvalidSlug},
		{"btc-updown-5m-abc", ErrInvalidSlug},
		{"BTC-updown-5m-1704067500", ErrInvalidSlug},
		{"btc-updown-15m-1704067200", ErrInvalidInterval},
		{"btc-updown-5m-1704067501", ErrMisaligned},
	}
	for _, tt := range tests {
		_, err := ParseSlug(tt.slug)
		if !errors.Is(err, tt.want) {
			t.Errorf("ParseSlug(%q): expected %v, got %v", tt.slug, tt.want, err)
		}
	}
}
