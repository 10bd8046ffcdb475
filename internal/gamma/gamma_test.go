package gamma

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/miyamoto-labs/easypoly/internal/httputil"
)

func TestDecodeList(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"string encoded", `"[\"0.42\", \"0.58\"]"`, []string{"0.42", "0.58"}},
		{"native array", `["a", "b"]`, []string{"a", "b"}},
		{"numeric array", `[0.3, 0.7]`, []string{"0.3", "0.7"}},
		{"string not array", `"hello"`, nil},
		{"object", `{"a": 1}`, nil},
		{"null", `null`, nil},
		{"empty", ``, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decodeList(json.RawMessage(tt.raw))
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("index %d: expected %q, got %q", i, tt.want[i], got[i])
				}
			}
		})
	}
}

func TestNormalizeMarket(t *testing.T) {
	m := Market{
		OutcomePrices: json.RawMessage(`"[\"0.42\", \"0.58\"]"`),
		ClobTokenIDs:  json.RawMessage(`["111", "222"]`),
	}
	q := NormalizeMarket(m)
	if q.Yes.String() != "0.42" || q.No.String() != "0.58" {
		t.Errorf("unexpected prices: yes=%s no=%s", q.Yes, q.No)
	}
	if q.YesToken != "111" || q.NoToken != "222" {
		t.Errorf("unexpected tokens: %s %s", q.YesToken, q.NoToken)
	}
}

func TestNormalizeMarket_Defaults(t *testing.T) {
	q := NormalizeMarket(Market{OutcomePrices: json.RawMessage(`"garbage"`)})
	if q.Yes.String() != "0.5" || q.No.String() != "0.5" {
		t.Errorf("expected 0.5 defaults, got yes=%s no=%s", q.Yes, q.No)
	}
	if q.YesToken != "" || q.NoToken != "" {
		t.Errorf("expected empty tokens, got %q %q", q.YesToken, q.NoToken)
	}
}

func TestResolution(t *testing.T) {
	tests := []struct {
		name   string
		closed bool
		prices string
		yesWon bool
		ok     bool
	}{
		{"open", false, `["1", "0"]`, false, false},
		{"yes won", true, `"[\"1\", \"0\"]"`, true, true},
		{"no won", true, `["0", "1"]`, false, true},
		{"undecided", true, `["0.5", "0.5"]`, false, false},
		{"missing", true, ``, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			yesWon, ok := Resolution(Market{Closed: tt.closed, OutcomePrices: json.RawMessage(tt.prices)})
			if yesWon != tt.yesWon || ok != tt.ok {
				t.Errorf("expected (%v,%v), got (%v,%v)", tt.yesWon, tt.ok, yesWon, ok)
			}
		})
	}
}

func TestMarketBySlug(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/markets" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		switch r.URL.Query().Get("slug") {
		case "btc-updown-5m-1704067500":
			w.Write([]byte(`[{"id":"1","slug":"btc-updown-5m-1704067500","question":"Bitcoin Up or Down?","active":true,"closed":false,"endDate":"2024-01-01T00:10:00Z","outcomePrices":"[\"0.5\",\"0.5\"]","clobTokenIds":"[\"up\",\"down\"]"}]`))
		case "broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.Write([]byte(`[]`))
		}
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	c.WithRetry(httputil.NoRetry)

	m, err := c.MarketBySlug(context.Background(), "btc-updown-5m-1704067500")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.Tradable() {
		t.Error("expected market to be tradable")
	}
	if m.EndTime().Unix() != 1704067800 {
		t.Errorf("expected end 1704067800, got %d", m.EndTime().Unix())
	}
	if q := NormalizeMarket(*m); q.NoToken != "down" {
		t.Errorf("expected no token 'down', got %q", q.NoToken)
	}

	if _, err := c.MarketBySlug(context.Background(), "eth-updown-5m-1"); !errors.Is(err, ErrMarketNotFound) {
		t.Errorf("expected ErrMarketNotFound, got %v", err)
	}

	_, err = c.MarketBySlug(context.Background(), "broken")
	if err == nil || errors.Is(err, ErrMarketNotFound) {
		t.Errorf("expected upstream error, got %v", err)
	}
}

func TestNewClient_RejectsBadScheme(t *testing.T) {
	if _, err := NewClient("ftp://example.com"); err == nil {
		t.Error("expected error for non-http scheme")
	}
}
