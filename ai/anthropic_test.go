package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Anthropic {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient("test-key", "")
	c.baseURL = srv.URL
	c.retryMin = time.Millisecond
	c.retryMax = 5 * time.Millisecond
	return c
}

func textResponse(texts ...string) messagesResponse {
	resp := messagesResponse{Usage: apiUsage{InputTokens: 10, OutputTokens: 5}}
	for _, s := range texts {
		resp.Content = append(resp.Content, contentBlock{Type: "text", Text: s})
	}
	return resp
}

func TestMessageJoinsTextBlocks(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Api-Key"); got != "test-key" {
			t.Errorf("X-Api-Key = %q, want %q", got, "test-key")
		}
		if got := r.Header.Get("Anthropic-Version"); got != anthropicVersion {
			t.Errorf("Anthropic-Version = %q, want %q", got, anthropicVersion)
		}

		var req messagesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.System != "sys" {
			t.Errorf("system = %q, want %q", req.System, "sys")
		}
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Errorf("messages = %+v, want single user message", req.Messages)
		}

		json.NewEncoder(w).Encode(textResponse("hello ", "world"))
	})

	got, err := c.Message(context.Background(), "sys", "hi")
	if err != nil {
		t.Fatalf("Message: %v", err)
	}
	if got != "hello world" {
		t.Errorf("Message = %q, want %q", got, "hello world")
	}
}

func TestMessageRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(textResponse("ok"))
	})

	got, err := c.Message(context.Background(), "", "hi")
	if err != nil {
		t.Fatalf("Message: %v", err)
	}
	if got != "ok" {
		t.Errorf("Message = %q, want %q", got, "ok")
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
}

func TestMessageDoesNotRetryBadRequest(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := c.Message(context.Background(), "", "hi")
	if err == nil {
		t.Fatal("Message succeeded, want error")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

func TestMessageGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(529)
	})

	_, err := c.Message(context.Background(), "", "hi")
	if err == nil {
		t.Fatal("Message succeeded, want error")
	}
	if n := calls.Load(); n != maxAttempts {
		t.Errorf("calls = %d, want %d", n, maxAttempts)
	}
}

func TestMessageStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		cancel()
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	c.retryMin = time.Minute

	_, err := c.Message(ctx, "", "hi")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Message error = %v, want context.Canceled", err)
	}
}

func TestMessageAPIErrorBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(messagesResponse{
			Error: &apiError{Type: "invalid_request_error", Message: "bad model"},
		})
	})

	_, err := c.Message(context.Background(), "", "hi")
	if err == nil {
		t.Fatal("Message succeeded, want error")
	}
}

func TestTestConnection(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req messagesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.MaxTokens != 100 {
			t.Errorf("max_tokens = %d, want 100", req.MaxTokens)
		}
		json.NewEncoder(w).Encode(textResponse("OK"))
	})

	if err := c.TestConnection(context.Background()); err != nil {
		t.Fatalf("TestConnection: %v", err)
	}
}

func TestDefaultModelApplied(t *testing.T) {
	c := NewClient("k", "")
	if c.Model() != DefaultModel {
		t.Errorf("Model = %q, want %q", c.Model(), DefaultModel)
	}
	c = NewClient("k", "other-model")
	if c.Model() != "other-model" {
		t.Errorf("Model = %q, want %q", c.Model(), "other-model")
	}
}
