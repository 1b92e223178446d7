// Package image wraps the NanoBanana generation API behind a single
// awaitable call. The upstream API is itself asynchronous (submit + poll);
// this client hides that behind Generate with a bounded poll budget.
package image

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
var ErrMissingAPIKey = errors.New("image: api key is required")

const (
	defaultMaxPolls     = 90
	defaultPollInterval = 2 * time.Second
)

// Options configures the NanoBanana client.
type Options struct {
	APIKey       string
	APIURL       string
	HTTPClient   *http.Client
	Logger       *zerolog.Logger
	MaxPolls     int
	PollInterval time.Duration
}

// Client calls the NanoBanana image generation API.
type Client struct {
	apiKey       string
	apiURL       string
	httpClient   *http.Client
	log          zerolog.Logger
	maxPolls     int
	pollInterval time.Duration
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	apiURL := strings.TrimRight(opts.APIURL, "/")
	if apiURL == "" {
		apiURL = "https://yunwu.ai/fal-ai/nano-banana"
	}
	maxPolls := opts.MaxPolls
	if maxPolls <= 0 {
		maxPolls = defaultMaxPolls
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	log := zerolog.New(io.Discard)
	if opts.Logger != nil {
		log = *opts.Logger
	}
	return &Client{
		apiKey:       strings.TrimSpace(opts.APIKey),
		apiURL:       apiURL,
		httpClient:   httpClient,
		log:          log,
		maxPolls:     maxPolls,
		pollInterval: pollInterval,
	}, nil
}

type generationPayload struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt"`
	Steps          int     `json:"num_inference_steps"`
	GuidanceScale  float64 `json:"guidance_scale"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	ImageURL       string  `json:"image_url,omitempty"`
	Strength       float64 `json:"strength,omitempty"`
}

type imageRef struct {
	URL string `json:"url"`
}

type generationResponse struct {
	RequestID string     `json:"request_id"`
	Images    []imageRef `json:"images"`
	Image     *imageRef  `json:"image"`
}

type statusResponse struct {
	Status   string `json:"status"`
	Error    string `json:"error"`
	Response struct {
		Images []imageRef `json:"images"`
		Image  *imageRef  `json:"image"`
	} `json:"response"`
}

// Generate submits a generation request and waits for its result. When the
// API answers with a request id the client polls the status endpoint up to
// the configured budget; running out of polls fails the call.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (Result, error) {
	payload := generationPayload{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Steps:          req.Steps,
		GuidanceScale:  req.GuidanceScale,
		Width:          req.Width,
		Height:         req.Height,
	}
	if payload.NegativePrompt == "" {
		payload.NegativePrompt = DefaultNegativePrompt
	}
	if payload.Steps <= 0 {
		payload.Steps = 30
	}
	if payload.GuidanceScale <= 0 {
		payload.GuidanceScale = 7.5
	}
	if payload.Width <= 0 || payload.Height <= 0 {
		payload.Width, payload.Height = ResolveDimensions("")
	}
	if req.ReferenceImageURL != "" {
		payload.ImageURL = req.ReferenceImageURL
		payload.Strength = req.Strength
		if payload.Strength <= 0 {
			payload.Strength = 0.75
		}
	}

	var resp generationResponse
	if err := c.post(ctx, c.apiURL, payload, &resp); err != nil {
		return Result{}, err
	}

	result := Result{Width: payload.Width, Height: payload.Height, RequestID: resp.RequestID}
	if url := firstURL(resp.Images, resp.Image); url != "" {
		result.URL = url
		return result, nil
	}
	if resp.RequestID == "" {
		return Result{}, fmt.Errorf("image: no image returned: %w", domain.ErrProviderFailure)
	}

	url, err := c.poll(ctx, resp.RequestID)
	if err != nil {
		return Result{}, err
	}
	result.URL = url
	return result, nil
}

func (c *Client) poll(ctx context.Context, requestID string) (string, error) {
	statusURL := fmt.Sprintf("%s/requests/%s/status", c.apiURL, requestID)
	for attempt := 0; attempt < c.maxPolls; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.pollInterval):
		}

		var status statusResponse
		if err := c.get(ctx, statusURL, &status); err != nil {
			return "", err
		}
		switch status.Status {
		case "COMPLETED":
			if url := firstURL(status.Response.Images, status.Response.Image); url != "" {
				return url, nil
			}
			return "", fmt.Errorf("image: completed without image: %w", domain.ErrProviderFailure)
		case "FAILED":
			msg := status.Error
			if msg == "" {
				msg = "unknown error"
			}
			return "", fmt.Errorf("image: generation failed: %s: %w", msg, domain.ErrProviderFailure)
		}
		c.log.Debug().Str("request_id", requestID).Str("status", status.Status).Msg("image: waiting for result")
	}
	return "", fmt.Errorf("image: timed out waiting for request %s: %w", requestID, domain.ErrProviderFailure)
}

func (c *Client) post(ctx context.Context, url string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("image: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("image: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("image: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("image: call api: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("image: read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("image: api status %d: %s: %w", resp.StatusCode, strings.TrimSpace(string(data)), domain.ErrProviderFailure)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("image: decode response: %w", err)
	}
	return nil
}

func firstURL(images []imageRef, single *imageRef) string {
	if len(images) > 0 && images[0].URL != "" {
		return images[0].URL
	}
	if single != nil {
		return single.URL
	}
	return ""
}

var _ Generator = (*Client)(nil)
