// Package analysis wraps the vision/LLM provider used for the setup stage:
// product analysis, style extraction and prompt authoring. The prompt text
// itself is glue; the client's job is the call contract and robust parsing.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"studio/internal/domain"
)

// ErrMissingAPIKey indicates the client was configured without credentials.
var ErrMissingAPIKey = errors.New("analysis: api key is required")

// Prompt is one authored generation instruction for a batch item.
type Prompt struct {
	Role           string `json:"role"`
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	AspectRatio    string `json:"aspect_ratio,omitempty"`
}

// StyleDNA is the distilled look of a reference image plus the raw analysis
// payload passed through to later stages.
type StyleDNA struct {
	ReplicationPrompt string
	Raw               json.RawMessage
}

// Options configures the analysis client.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

// Client performs chat-completion calls against the analysis provider.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://yunwu.ai/v1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gemini-2.5-pro-exp-03-25"
	}
	log := zerolog.New(io.Discard)
	if opts.Logger != nil {
		log = *opts.Logger
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
		log:        log,
	}, nil
}

type message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string     `json:"type"`
	Text     string     `json:"text,omitempty"`
	ImageURL *imagePart `json:"image_url,omitempty"`
}

type imagePart struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

const (
	productAnalystSystem = "You are an e-commerce visual analyst. Answer with a single JSON object."
	styleAnalystSystem   = "You are a photographic style analyst. Answer with a single JSON object containing a replication_prompt field in English."
	copywriterSystem     = "You are an e-commerce creative director. Answer with a JSON array of prompt objects."
)

// AnalyzeProduct runs the one-time deep analysis of a product image and
// returns the structured payload opaque to the caller.
func (c *Client) AnalyzeProduct(ctx context.Context, imageURL string) (json.RawMessage, error) {
	content := []contentPart{
		{Type: "image_url", ImageURL: &imagePart{URL: imageURL}},
		{Type: "text", Text: "Analyze this product photo: name, category, materials, selling points, target audience. JSON only."},
	}
	raw, err := c.chat(ctx, []message{
		{Role: "system", Content: productAnalystSystem},
		{Role: "user", Content: content},
	}, 4000, 0.7)
	if err != nil {
		return nil, fmt.Errorf("analyze product: %w", err)
	}
	return extractJSON(raw), nil
}

// ExtractStyle distills the style DNA of a reference image.
func (c *Client) ExtractStyle(ctx context.Context, imageURL string) (StyleDNA, error) {
	content := []contentPart{
		{Type: "image_url", ImageURL: &imagePart{URL: imageURL}},
		{Type: "text", Text: "Extract the style DNA of this image: palette, lighting, composition, mood, and an English replication_prompt. JSON only."},
	}
	raw, err := c.chat(ctx, []message{
		{Role: "system", Content: styleAnalystSystem},
		{Role: "user", Content: content},
	}, 4000, 0.6)
	if err != nil {
		return StyleDNA{}, fmt.Errorf("extract style: %w", err)
	}
	payload := extractJSON(raw)
	var parsed struct {
		ReplicationPrompt string `json:"replication_prompt"`
	}
	_ = json.Unmarshal(payload, &parsed)
	if parsed.ReplicationPrompt == "" {
		parsed.ReplicationPrompt = "Product photography in the style of the reference image, professional e-commerce photo, high quality"
	}
	return StyleDNA{ReplicationPrompt: parsed.ReplicationPrompt, Raw: payload}, nil
}

// GeneratePrompts authors up to count per-item generation prompts from the
// product analysis. The result is truncated to count; the provider may
// legitimately return fewer.
func (c *Client) GeneratePrompts(ctx context.Context, product json.RawMessage, style string, count int) ([]Prompt, error) {
	instruction := fmt.Sprintf(
		"Product analysis: %s\nWrite %d image generation prompts in the %q style, one per detail-page image. JSON array of {role, prompt, negative_prompt, aspect_ratio}.",
		string(product), count, style,
	)
	raw, err := c.chat(ctx, []message{
		{Role: "system", Content: copywriterSystem},
		{Role: "user", Content: instruction},
	}, 4000, 0.8)
	if err != nil {
		return nil, fmt.Errorf("generate prompts: %w", err)
	}
	var prompts []Prompt
	if err := json.Unmarshal(extractJSON(raw), &prompts); err != nil {
		return nil, fmt.Errorf("generate prompts: decode: %w: %w", err, domain.ErrProviderFailure)
	}
	if len(prompts) == 0 {
		return nil, fmt.Errorf("generate prompts: empty result: %w", domain.ErrProviderFailure)
	}
	if len(prompts) > count {
		prompts = prompts[:count]
	}
	return prompts, nil
}

// EnhancePrompt rewrites a user prompt into a production-grade one.
func (c *Client) EnhancePrompt(ctx context.Context, prompt string) (string, error) {
	raw, err := c.chat(ctx, []message{
		{Role: "system", Content: "You rewrite image prompts for product photography. Answer with the rewritten prompt only."},
		{Role: "user", Content: prompt},
	}, 1000, 0.5)
	if err != nil {
		return "", fmt.Errorf("enhance prompt: %w", err)
	}
	enhanced := strings.TrimSpace(raw)
	if enhanced == "" {
		return prompt, nil
	}
	return enhanced, nil
}

func (c *Client) chat(ctx context.Context, messages []message, maxTokens int, temperature float64) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("analysis: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("analysis: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("analysis: call api: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("analysis: read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("analysis: api status %d: %s: %w", resp.StatusCode, strings.TrimSpace(string(data)), domain.ErrProviderFailure)
	}
	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("analysis: decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("analysis: empty response: %w", domain.ErrProviderFailure)
	}
	return parsed.Choices[0].Message.Content, nil
}

// extractJSON pulls the JSON payload out of a model reply that may wrap it
// in markdown code fences or prose.
func extractJSON(reply string) json.RawMessage {
	s := strings.TrimSpace(reply)
	if idx := strings.Index(s, "```json"); idx >= 0 {
		s = s[idx+len("```json"):]
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
	} else if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[idx+3:]
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
	}
	s = strings.TrimSpace(s)
	if s == "" || !json.Valid([]byte(s)) {
		// Preserve the raw reply so callers can decide what to do with it.
		fallback, _ := json.Marshal(map[string]string{"raw_response": reply})
		return fallback
	}
	return json.RawMessage(s)
}
