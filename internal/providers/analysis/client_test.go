package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func chatServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{
				map[string]any{"message": map[string]any{"content": reply}},
			},
		})
	}))
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	client, err := NewClient(Options{APIKey: "k", BaseURL: url})
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}
	return client
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	if _, err := NewClient(Options{}); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("NewClient() error = %v, want ErrMissingAPIKey", err)
	}
}

func TestAnalyzeProductParsesFencedJSON(t *testing.T) {
	srv := chatServer(t, "Here you go:\n```json\n{\"name\":\"ceramic mug\",\"category\":\"kitchen\"}\n```")
	defer srv.Close()

	payload, err := newTestClient(t, srv.URL).AnalyzeProduct(context.Background(), "https://cdn.example.com/mug.png")
	if err != nil {
		t.Fatalf("AnalyzeProduct() error: %v", err)
	}
	var parsed map[string]string
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if parsed["name"] != "ceramic mug" {
		t.Fatalf("payload = %v", parsed)
	}
}

func TestExtractStyleFallbackPrompt(t *testing.T) {
	srv := chatServer(t, `{"palette":["#fff"]}`)
	defer srv.Close()

	dna, err := newTestClient(t, srv.URL).ExtractStyle(context.Background(), "https://cdn.example.com/ref.png")
	if err != nil {
		t.Fatalf("ExtractStyle() error: %v", err)
	}
	if dna.ReplicationPrompt == "" {
		t.Fatalf("expected fallback replication prompt")
	}
	if len(dna.Raw) == 0 {
		t.Fatalf("raw payload not preserved")
	}
}

func TestGeneratePromptsTruncatesToCount(t *testing.T) {
	srv := chatServer(t, `[
		{"role":"hero","prompt":"p1"},
		{"role":"detail","prompt":"p2"},
		{"role":"lifestyle","prompt":"p3"}
	]`)
	defer srv.Close()

	prompts, err := newTestClient(t, srv.URL).GeneratePrompts(context.Background(), json.RawMessage(`{}`), "minimal", 2)
	if err != nil {
		t.Fatalf("GeneratePrompts() error: %v", err)
	}
	if len(prompts) != 2 || prompts[0].Role != "hero" {
		t.Fatalf("prompts = %+v", prompts)
	}
}

func TestGeneratePromptsRejectsGarbage(t *testing.T) {
	srv := chatServer(t, "I cannot help with that.")
	defer srv.Close()

	if _, err := newTestClient(t, srv.URL).GeneratePrompts(context.Background(), json.RawMessage(`{}`), "minimal", 2); err == nil {
		t.Fatalf("GeneratePrompts() expected error for non-JSON reply")
	}
}

func TestChatErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).AnalyzeProduct(context.Background(), "https://x/p.png")
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("AnalyzeProduct() error = %v, want status error", err)
	}
}

func TestExtractJSONPlainAndInvalid(t *testing.T) {
	if got := extractJSON(`{"a":1}`); string(got) != `{"a":1}` {
		t.Fatalf("extractJSON(plain) = %s", got)
	}
	got := extractJSON("not json at all")
	var wrapped map[string]string
	if err := json.Unmarshal(got, &wrapped); err != nil || wrapped["raw_response"] != "not json at all" {
		t.Fatalf("extractJSON(invalid) = %s", got)
	}
}
