package assistant_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/miyamoto-labs/easypoly/internal/assistant"
)

func bankrServer(t *testing.T, statuses ...string) (*httptest.Server, *int32) {
	t.Helper()
	var polls int32
	r := chi.NewRouter()
	r.Post("/agent/prompt", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["prompt"] == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"success": true, "jobId": "job-1", "status": "pending"})
	})
	r.Get("/agent/job/{id}", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&polls, 1)
		status := statuses[len(statuses)-1]
		if int(n) <= len(statuses) {
			status = statuses[n-1]
		}
		resp := map[string]any{"jobId": chi.URLParam(r, "id"), "status": status}
		if status == "completed" {
			resp["response"] = "bought 5 shares"
		}
		json.NewEncoder(w).Encode(resp)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, &polls
}

func TestBankrClient_PollsUntilCompleted(t *testing.T) {
	srv, polls := bankrServer(t, "pending", "processing", "completed")
	c, err := assistant.NewBankrClient(srv.URL, "key")
	if err != nil {
		t.Fatal(err)
	}
	c.WithPolling(5*time.Millisecond, time.Second)

	ans, err := c.Ask(context.Background(), "buy btc up")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.JobID != "job-1" || ans.Text != "bought 5 shares" || ans.Status != "completed" {
		t.Errorf("unexpected answer: %+v", ans)
	}
	if n := atomic.LoadInt32(polls); n != 3 {
		t.Errorf("expected 3 polls, got %d", n)
	}
}

func TestBankrClient_Timeout(t *testing.T) {
	srv, _ := bankrServer(t, "processing")
	c, _ := assistant.NewBankrClient(srv.URL, "key")
	c.WithPolling(5*time.Millisecond, 40*time.Millisecond)

	_, err := c.Ask(context.Background(), "buy btc up")
	if !errors.Is(err, assistant.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestBankrClient_JobFailed(t *testing.T) {
	srv, _ := bankrServer(t, "pending", "failed")
	c, _ := assistant.NewBankrClient(srv.URL, "key")
	c.WithPolling(5*time.Millisecond, time.Second)

	_, err := c.Ask(context.Background(), "buy btc up")
	if !errors.Is(err, assistant.ErrJobFailed) {
		t.Fatalf("expected ErrJobFailed, got %v", err)
	}
}

func TestBankrClient_SubmitRejected(t *testing.T) {
	srv, _ := bankrServer(t, "completed")
	c, _ := assistant.NewBankrClient(srv.URL, "wrong")
	c.WithPolling(5*time.Millisecond, time.Second)

	if _, err := c.Ask(context.Background(), "hi"); err == nil {
		t.Fatal("expected error for rejected submit")
	}
}

func TestBankrClient_RequiresKey(t *testing.T) {
	if _, err := assistant.NewBankrClient("", " "); !errors.Is(err, assistant.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestOpenAIClient_Ask(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		gotModel = req.Model
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Content != "what is a window?" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"choices": []map[string]any{{"index": 0, "message": map[string]string{"role": "assistant", "content": " A 5-minute market. "}}},
		})
	}))
	defer srv.Close()

	c, err := assistant.NewOpenAIClient(assistant.OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1", Model: "test-model"})
	if err != nil {
		t.Fatal(err)
	}
	ans, err := c.Ask(context.Background(), "what is a window?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.Text != "A 5-minute market." || ans.Backend != "openai" {
		t.Errorf("unexpected answer: %+v", ans)
	}
	if gotModel != "test-model" {
		t.Errorf("expected model test-model, got %q", gotModel)
	}
}

type fakeAssistant struct {
	ans *assistant.Answer
	err error
}

func (f fakeAssistant) Ask(context.Context, string) (*assistant.Answer, error) {
	return f.ans, f.err
}

func ask(svc *assistant.Service, body string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Post("/api/ai/ask", svc.HandleAsk)
	req := httptest.NewRequest("POST", "/api/ai/ask", strings.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandleAsk(t *testing.T) {
	ok := fakeAssistant{ans: &assistant.Answer{Backend: "fake", Status: "completed", Text: "done"}}
	tests := []struct {
		name string
		ai   assistant.Assistant
		body string
		want int
	}{
		{"answered", ok, `{"prompt":"hello"}`, http.StatusOK},
		{"empty prompt", ok, `{"prompt":"  "}`, http.StatusBadRequest},
		{"too long", ok, `{"prompt":"` + strings.Repeat("a", 2001) + `"}`, http.StatusBadRequest},
		{"bad body", ok, `{`, http.StatusBadRequest},
		{"not configured", nil, `{"prompt":"hello"}`, http.StatusServiceUnavailable},
		{"timeout", fakeAssistant{err: assistant.ErrTimeout}, `{"prompt":"hello"}`, http.StatusServiceUnavailable},
		{"upstream", fakeAssistant{err: errors.New("boom")}, `{"prompt":"hello"}`, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var svc *assistant.Service
			if tt.ai == nil {
				svc = assistant.NewService(nil)
			} else {
				svc = assistant.NewService(assistant.Instrumented{Assistant: tt.ai, Backend: "fake"})
			}
			w := ask(svc, tt.body)
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestTradePrompt(t *testing.T) {
	got := assistant.TradePrompt("btc", "down", decimal.NewFromInt(25), "btc-updown-5m-1704067500", "tok-2")
	for _, want := range []string{"$25.00", "DOWN", "btc-updown-5m-1704067500", "BTC", "tok-2"} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt %q missing %q", got, want)
		}
	}
}
