package referral_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/miyamoto-labs/easypoly/internal/events"
	"github.com/miyamoto-labs/easypoly/internal/points"
	"github.com/miyamoto-labs/easypoly/internal/referral"
	"github.com/miyamoto-labs/easypoly/internal/store"
)

const (
	referrer = "0xAbCdEf0123456789abcdef0123456789ABCDEF01"
	referee  = "0x1111111111111111111111111111111111111111"
	third    = "0x2222222222222222222222222222222222222222"
)

type recorder struct{ got []events.Event }

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) Publish(_ context.Context, e events.Event) error {
	r.got = append(r.got, e)
	return nil
}

type testEnv struct {
	store  *store.MemoryStore
	points *points.Service
	events *recorder
	svc    *referral.Service
	router chi.Router
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ms := store.NewMemoryStore()
	pts := points.NewService(ms)
	rec := &recorder{}
	svc := referral.NewService(ms, pts, rec, 100)

	r := chi.NewRouter()
	r.Get("/api/referrals/code", svc.HandleCode)
	r.Post("/api/referrals/track", svc.HandleTrack)
	return &testEnv{store: ms, points: pts, events: rec, svc: svc, router: r}
}

func (e *testEnv) code(t *testing.T, wallet string) string {
	t.Helper()
	req := httptest.NewRequest("GET", "/api/referrals/code?wallet="+wallet, nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("code: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Code          string `json:"code"`
		ReferralCount int    `json:"referralCount"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	return resp.Code
}

func (e *testEnv) track(t *testing.T, wallet, code string) referral.TrackResult {
	t.Helper()
	body, _ := json.Marshal(referral.TrackRequest{WalletAddress: wallet, ReferralCode: code})
	req := httptest.NewRequest("POST", "/api/referrals/track", bytes.NewReader(body))
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("track: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var res referral.TrackResult
	json.NewDecoder(w.Body).Decode(&res)
	return res
}

func TestNewCode(t *testing.T) {
	if got := referral.NewCode("3f2a9c1e-0b7d-4e5f-8a6b-1c2d3e4f5a6b"); got != "3F2A9C1E" {
		t.Errorf("unexpected code %q", got)
	}
	if got := referral.NewCode("ab-c"); got != "ABC" {
		t.Errorf("short ids pass through, got %q", got)
	}
}

func TestCode_GetOrCreate(t *testing.T) {
	env := newTestEnv(t)

	first := env.code(t, referrer)
	if len(first) != 8 || first != strings.ToUpper(first) {
		t.Fatalf("expected 8-char upper-case code, got %q", first)
	}
	if again := env.code(t, strings.ToLower(referrer)); again != first {
		t.Errorf("expected stable code %q, got %q", first, again)
	}
}

func TestCode_RetriesCollision(t *testing.T) {
	env := newTestEnv(t)
	ids := []string{"aaaaaaaa-1", "aaaaaaaa-2", "bbbbbbbb-3"}
	env.svc.WithIDSource(func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	})

	a, err := env.svc.Code(context.Background(), referrer)
	if err != nil {
		t.Fatal(err)
	}
	b, err := env.svc.Code(context.Background(), referee)
	if err != nil {
		t.Fatal(err)
	}
	if a.Code != "AAAAAAAA" || b.Code != "BBBBBBBB" {
		t.Errorf("expected collision to be retried, got %s and %s", a.Code, b.Code)
	}
}

func TestCode_InvalidWallet(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest("GET", "/api/referrals/code?wallet=nope", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestTrack(t *testing.T) {
	env := newTestEnv(t)
	code := env.code(t, referrer)

	if res := env.track(t, referee, strings.ToLower(code)); !res.Tracked {
		t.Fatalf("expected tracked, got %+v", res)
	}

	owner, err := env.store.GetReferralCode(context.Background(), strings.ToLower(referrer))
	if err != nil {
		t.Fatal(err)
	}
	if owner.ReferralCount != 1 {
		t.Errorf("expected referral count 1, got %d", owner.ReferralCount)
	}
	sum, err := env.points.Summary(context.Background(), referrer)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Total != 100 {
		t.Errorf("expected referrer bonus of 100, got %d", sum.Total)
	}
	if len(env.events.got) != 1 || env.events.got[0].Type != events.ReferralTracked {
		t.Errorf("expected one referral event, got %+v", env.events.got)
	}
}

func TestTrack_Rejections(t *testing.T) {
	env := newTestEnv(t)
	code := env.code(t, referrer)
	env.track(t, referee, code)

	tests := []struct {
		name   string
		wallet string
		code   string
		want   string
	}{
		{"empty code", third, "", referral.ReasonInvalidCode},
		{"unknown code", third, "ZZZZZZZZ", referral.ReasonInvalidCode},
		{"self referral", referrer, code, referral.ReasonSelfReferral},
		{"already referred", referee, code, referral.ReasonAlreadyReferred},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := env.track(t, tt.wallet, tt.code)
			if res.Tracked || res.Reason != tt.want {
				t.Errorf("expected reason %s, got %+v", tt.want, res)
			}
		})
	}

	owner, _ := env.store.GetReferralCode(context.Background(), strings.ToLower(referrer))
	if owner.ReferralCount != 1 {
		t.Errorf("rejections must not count, got %d", owner.ReferralCount)
	}
}

func TestTrack_InvalidWallet(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest("POST", "/api/referrals/track",
		strings.NewReader(`{"walletAddress":"0x12","referralCode":"ABCDEFGH"}`))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
