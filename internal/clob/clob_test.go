package clob

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const (
	testSecret = "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="
	testBody   = `{"hash": "0x123"}`
	testSig    = "ZwAdJKvoYRlEKDkNMwd5BuwNNtg93kNaR_oU2HrfVvc="
)

func TestBuildHMACSignature(t *testing.T) {
	sig, err := BuildHMACSignature(testSecret, 1000000, "test-sign", "/orders", []byte(testBody))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig != testSig {
		t.Fatalf("signature mismatch: got %q want %q", sig, testSig)
	}
}

func TestBuildHMACSignature_Base64URLCompat(t *testing.T) {
	a, err := BuildHMACSignature("++/AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=", 1000000, "test-sign", "/orders", []byte(testBody))
	if err != nil {
		t.Fatal(err)
	}
	b, err := BuildHMACSignature("--_AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", 1000000, "test-sign", "/orders", []byte(testBody))
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("expected base64url and base64 to match: %q vs %q", b, a)
	}
}

func TestBuildHMACSignature_IgnoresInvalidSymbols(t *testing.T) {
	sig, err := BuildHMACSignature("AAAAAAAAA^^AAAAAAAA<>AAAAA||AAAAAAAAAAAAAAAAAAAAA=", 1000000, "test-sign", "/orders", []byte(testBody))
	if err != nil {
		t.Fatal(err)
	}
	if sig != testSig {
		t.Fatalf("signature mismatch: got %q want %q", sig, testSig)
	}
}

func TestL2Signer(t *testing.T) {
	s := L2Signer{
		Address: "0xabc",
		Creds:   ApiCreds{Key: "key-1", Secret: testSecret, Passphrase: "pp"},
	}
	h, err := s.Sign(1000000, "test-sign", "/orders", []byte(testBody))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[string]string{
		"POLY_ADDRESS":    "0xabc",
		"POLY_SIGNATURE":  testSig,
		"POLY_TIMESTAMP":  "1000000",
		"POLY_API_KEY":    "key-1",
		"POLY_PASSPHRASE": "pp",
	}
	got := HeaderMap(h)
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s: expected %q, got %q", k, v, got[k])
		}
	}
}

func TestSigner_IncompleteCreds(t *testing.T) {
	if _, err := (L2Signer{Creds: ApiCreds{Key: "k"}}).Sign(1, "GET", "/", nil); err != ErrMissingCreds {
		t.Errorf("expected ErrMissingCreds, got %v", err)
	}
	if _, err := (BuilderSigner{}).Sign(1, "GET", "/", nil); err != ErrMissingCreds {
		t.Errorf("expected ErrMissingCreds, got %v", err)
	}
}

func TestChain_MergesHeaders(t *testing.T) {
	chain := Chain{
		L2Signer{Address: "0xabc", Creds: ApiCreds{Key: "user", Secret: testSecret, Passphrase: "p1"}},
		BuilderSigner{Creds: ApiCreds{Key: "builder", Secret: testSecret, Passphrase: "p2"}},
	}
	h, err := chain.Sign(1000000, "test-sign", "/orders", []byte(testBody))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.Get("POLY_API_KEY") != "user" || h.Get("POLY_BUILDER_API_KEY") != "builder" {
		t.Errorf("expected both header sets, got %v", h)
	}
	if h.Get("POLY_BUILDER_SIGNATURE") != testSig {
		t.Errorf("unexpected builder signature %q", h.Get("POLY_BUILDER_SIGNATURE"))
	}
}

func TestPrices_BatchesAndSkipsFailures(t *testing.T) {
	var (
		mu       sync.Mutex
		inFlight int
		peak     int
		calls    atomic.Int32
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()

		if r.URL.Query().Get("token_id") == "bad" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"mid":"0.55"}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, 2)
	if err != nil {
		t.Fatal(err)
	}

	prices, err := c.Prices(context.Background(), []string{"a", "b", "bad", "d", "e"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(prices) != 4 {
		t.Fatalf("expected 4 prices, got %d: %v", len(prices), prices)
	}
	if prices["a"].String() != "0.55" {
		t.Errorf("expected 0.55, got %s", prices["a"])
	}
	if _, ok := prices["bad"]; ok {
		t.Error("failed token should be omitted")
	}
	if calls.Load() != 5 {
		t.Errorf("expected 5 calls, got %d", calls.Load())
	}
	if peak > 2 {
		t.Errorf("expected at most 2 concurrent lookups, saw %d", peak)
	}
}

func TestPostOrder_SignsRequest(t *testing.T) {
	var gotHeader http.Header
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/order" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		gotHeader = r.Header.Clone()
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Write([]byte(`{"success":true,"orderID":"0xdead"}`))
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, 0)
	c.now = func() time.Time { return time.Unix(1000000, 0) }

	signer := L2Signer{Address: "0xabc", Creds: ApiCreds{Key: "k", Secret: testSecret, Passphrase: "p"}}
	out, err := c.PostOrder(context.Background(), signer, []byte(`{"order":{}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != `{"success":true,"orderID":"0xdead"}` {
		t.Errorf("unexpected response %s", out)
	}
	if gotBody != `{"order":{}}` {
		t.Errorf("body not forwarded: %s", gotBody)
	}
	if gotHeader.Get("POLY_TIMESTAMP") != "1000000" || gotHeader.Get("POLY_API_KEY") != "k" {
		t.Errorf("missing auth headers: %v", gotHeader)
	}
}
