package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/docutag/writer/metrics"
)

type blockingGenerator struct{}

func (blockingGenerator) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

type staticGenerator struct {
	text string
	err  error
}

func (s staticGenerator) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	return s.text, s.err
}

func TestWithTimeout(t *testing.T) {
	g := WithTimeout(blockingGenerator{}, 20*time.Millisecond)

	start := time.Now()
	_, err := g.Generate(context.Background(), "prompt", Options{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Timeout was not applied")
	}
}

func TestWithTimeoutZeroReturnsSameGenerator(t *testing.T) {
	base := staticGenerator{text: "x"}
	if g := WithTimeout(base, 0); g != Generator(base) {
		t.Error("Expected the original generator when timeout is zero")
	}
}

func TestInstrumentRecordsStatus(t *testing.T) {
	m := metrics.New("llm_test", prometheus.NewRegistry())

	ok := Instrument(staticGenerator{text: "hello"}, "fake", m)
	if text, err := ok.Generate(context.Background(), "p", Options{}); err != nil || text != "hello" {
		t.Fatalf("Unexpected result %q, %v", text, err)
	}

	failing := Instrument(staticGenerator{err: errors.New("boom")}, "fake", m)
	if _, err := failing.Generate(context.Background(), "p", Options{}); err == nil {
		t.Fatal("Expected error to pass through")
	}
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no fence", "<h1>Title</h1>", "<h1>Title</h1>"},
		{"html fence", "```html\n<h1>Title</h1>\n```", "<h1>Title</h1>"},
		{"bare fence", "```\n[1,2]\n```", "[1,2]"},
		{"fence without info line", "```<p>x</p>\n<p>y</p>```", "<p>x</p>\n<p>y</p>"},
		{"surrounding whitespace", "  \n```json\n{}\n```  ", "{}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripCodeFence(tt.in); got != tt.want {
				t.Errorf("StripCodeFence() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewUnknownProvider(t *testing.T) {
	if _, err := New(context.Background(), Config{Provider: "ollama"}); err == nil {
		t.Error("Expected error for unknown provider")
	}
}

func TestNewOpenAIClientRequiresKey(t *testing.T) {
	_, err := NewOpenAIClient(Config{})
	if !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("Expected ErrMissingCredentials, got %v", err)
	}
}

func TestNewVertexClientRequiresProject(t *testing.T) {
	_, err := NewVertexClient(context.Background(), Config{Provider: ProviderVertex})
	if !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("Expected ErrMissingCredentials, got %v", err)
	}
}

func TestOpenAIClientGenerate(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Unexpected authorization header %q", auth)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "test-model",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "  generated text  "}}]
		}`))
	}))
	defer server.Close()

	client, err := NewOpenAIClient(Config{APIKey: "test-key", BaseURL: server.URL, Model: "test-model"})
	if err != nil {
		t.Fatalf("NewOpenAIClient failed: %v", err)
	}

	text, err := client.Generate(context.Background(), "write something", Options{Temperature: 0.7, MaxOutputTokens: 4000})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if text != "generated text" {
		t.Errorf("Expected trimmed text, got %q", text)
	}

	if gotBody["model"] != "test-model" {
		t.Errorf("Expected model test-model, got %v", gotBody["model"])
	}
	if gotBody["temperature"] != 0.7 {
		t.Errorf("Expected temperature 0.7, got %v", gotBody["temperature"])
	}
	if gotBody["max_tokens"] != float64(4000) {
		t.Errorf("Expected max_tokens 4000, got %v", gotBody["max_tokens"])
	}
}

func TestOpenAIClientDoesNotRetry(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "quota exceeded", "type": "insufficient_quota"}}`))
	}))
	defer server.Close()

	client, err := NewOpenAIClient(Config{APIKey: "test-key", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewOpenAIClient failed: %v", err)
	}

	if _, err := client.Generate(context.Background(), "p", Options{}); err == nil {
		t.Fatal("Expected error for 429 response")
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("Expected exactly one request, got %d", n)
	}
}

func TestOpenAIClientEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "x", "object": "chat.completion", "created": 1, "model": "m", "choices": []}`))
	}))
	defer server.Close()

	client, _ := NewOpenAIClient(Config{APIKey: "k", BaseURL: server.URL})
	if _, err := client.Generate(context.Background(), "p", Options{}); !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("Expected ErrEmptyResponse, got %v", err)
	}
}
