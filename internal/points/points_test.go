package points_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/miyamoto-labs/easypoly/internal/points"
	"github.com/miyamoto-labs/easypoly/internal/store"
)

const wallet = "0xAbCdEf0123456789abcdef0123456789ABCDEF01"

func newTestEnv(t *testing.T) (*points.Service, *store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	svc := points.NewService(ms)

	r := chi.NewRouter()
	r.Post("/api/points/award", svc.HandleAward)
	r.Get("/api/points", svc.HandleGet)
	return svc, ms, r
}

func TestTierFor(t *testing.T) {
	tests := []struct {
		total int64
		want  string
	}{
		{-10, "Bronze"},
		{0, "Bronze"},
		{499, "Bronze"},
		{500, "Silver"},
		{2499, "Silver"},
		{2500, "Gold"},
		{9999, "Gold"},
		{10000, "Diamond"},
		{25000, "Legend"},
		{1 << 40, "Legend"},
	}
	for _, tt := range tests {
		if got := points.TierFor(tt.total).Name; got != tt.want {
			t.Errorf("TierFor(%d) = %s, want %s", tt.total, got, tt.want)
		}
	}
}

func TestTiersDescending(t *testing.T) {
	for i := 1; i < len(points.Tiers); i++ {
		if points.Tiers[i].MinPoints >= points.Tiers[i-1].MinPoints {
			t.Fatalf("tier %s not below %s", points.Tiers[i].Name, points.Tiers[i-1].Name)
		}
	}
	if points.Tiers[len(points.Tiers)-1].MinPoints != 0 {
		t.Fatal("lowest tier must start at 0")
	}
}

func TestNextTier(t *testing.T) {
	next, needed, ok := points.NextTier(400)
	if !ok || next.Name != "Silver" || needed != 100 {
		t.Errorf("expected Silver in 100, got %s %d %v", next.Name, needed, ok)
	}
	if _, _, ok := points.NextTier(30000); ok {
		t.Error("expected no tier above Legend")
	}
}

func TestAward_SignupOnce(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	ctx := context.Background()

	first, err := svc.Award(ctx, wallet, 100, "signup")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !first.Awarded || first.Total != 100 {
		t.Errorf("unexpected first result: %+v", first)
	}

	second, err := svc.Award(ctx, wallet, 100, "SIGNUP")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Awarded || second.Total != 100 {
		t.Errorf("second signup should not award: %+v", second)
	}

	if n := len(ms.LedgerEntries("0xabcdef0123456789abcdef0123456789abcdef01")); n != 1 {
		t.Errorf("expected 1 ledger entry, got %d", n)
	}
}

func TestAward_OtherReasonsAccumulate(t *testing.T) {
	svc, _, _ := newTestEnv(t)
	ctx := context.Background()

	var res *points.Result
	var err error
	for i := 0; i < 3; i++ {
		res, err = svc.Award(ctx, wallet, 200, "trade")
		if err != nil {
			t.Fatal(err)
		}
	}
	if res.Total != 600 || res.Tier != "Silver" {
		t.Errorf("expected 600/Silver, got %d/%s", res.Total, res.Tier)
	}
}

func TestAward_ConcurrentSignup(t *testing.T) {
	svc, _, _ := newTestEnv(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.Award(ctx, wallet, 100, "signup")
		}()
	}
	wg.Wait()

	sum, err := svc.Summary(ctx, wallet)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Total != 100 {
		t.Errorf("expected 100 after concurrent signups, got %d", sum.Total)
	}
}

func doAward(t *testing.T, router chi.Router, req points.AwardRequest) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(req)
	httpReq := httptest.NewRequest("POST", "/api/points/award", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httpReq)
	return w
}

func TestHandleAward(t *testing.T) {
	_, _, router := newTestEnv(t)

	type awardResponse struct {
		Success     bool   `json:"success"`
		Points      int64  `json:"points"`
		Awarded     bool   `json:"awarded"`
		TotalPoints int64  `json:"totalPoints"`
		Tier        string `json:"tier"`
	}
	award := func(req points.AwardRequest) awardResponse {
		t.Helper()
		w := doAward(t, router, req)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		var res awardResponse
		json.NewDecoder(w.Body).Decode(&res)
		return res
	}

	res := award(points.AwardRequest{WalletAddress: wallet, Points: 2500, Reason: "bonus"})
	if !res.Success || res.Points != 2500 || res.TotalPoints != 2500 || res.Tier != "Gold" || !res.Awarded {
		t.Errorf("unexpected result: %+v", res)
	}

	res = award(points.AwardRequest{WalletAddress: wallet, Points: 100, Reason: "signup"})
	if !res.Success || res.Points != 100 || res.TotalPoints != 2600 {
		t.Errorf("first signup: unexpected result: %+v", res)
	}
	res = award(points.AwardRequest{WalletAddress: wallet, Points: 100, Reason: "signup"})
	if !res.Success || res.Points != 0 || res.Awarded || res.TotalPoints != 2600 {
		t.Errorf("repeat signup should credit 0: %+v", res)
	}
}

func TestHandleAward_Validation(t *testing.T) {
	_, _, router := newTestEnv(t)

	tests := []points.AwardRequest{
		{WalletAddress: "not-a-wallet", Points: 10, Reason: "trade"},
		{WalletAddress: wallet, Points: 0, Reason: "trade"},
		{WalletAddress: wallet, Points: -5, Reason: "trade"},
		{WalletAddress: wallet, Points: 10, Reason: "  "},
	}
	for _, req := range tests {
		w := doAward(t, router, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%+v: expected 400, got %d", req, w.Code)
		}
	}

	httpReq := httptest.NewRequest("POST", "/api/points/award", bytes.NewReader([]byte("{bad")))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httpReq)
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed body: expected 400, got %d", w.Code)
	}
}

func TestHandleGet(t *testing.T) {
	svc, _, router := newTestEnv(t)
	svc.Award(context.Background(), wallet, 450, "trade")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/points?wallet="+wallet, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string]any
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["totalPoints"].(float64) != 450 || resp["tier"] != "Bronze" {
		t.Errorf("unexpected response: %v", resp)
	}
	if resp["nextTier"] != "Silver" || resp["pointsToNext"].(float64) != 50 {
		t.Errorf("unexpected next tier: %v", resp)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/points?wallet=0x0000000000000000000000000000000000000001", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for unknown wallet, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/points?wallet=nope", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}
