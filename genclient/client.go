// Package genclient is a thin HTTP client for the image-generation
// side-service: an external collaborator (out of scope for this
// module) that turns a text prompt into a PNG. It exists only so the
// daemon can plug an upstream render source in front of the raster
// pipeline; the side-service's own model choice and prompting are
// none of this module's concern.
package genclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// DefaultTimeout matches the side-service's own request budget for a
// single image generation call.
const DefaultTimeout = 90 * time.Second

// AllowedSizes are the image dimensions the side-service accepts.
var AllowedSizes = map[string]bool{
	"1024x1024": true,
	"1024x1536": true,
	"1536x1024": true,
}

// AllowedQualities are the quality tiers the side-service accepts.
var AllowedQualities = map[string]bool{
	"low":    true,
	"medium": true,
	"high":   true,
}

// GenerateRequest is the body of a generate call.
type GenerateRequest struct {
	Prompt  string `json:"prompt"`
	Size    string `json:"size,omitempty"`
	Quality string `json:"quality,omitempty"`
	N       uint8  `json:"n,omitempty"`
}

// GenerateResponse is the side-service's successful reply: a base64
// PNG plus the bookkeeping fields it echoes back.
type GenerateResponse struct {
	ImageBase64   string `json:"image_base64"`
	RevisedPrompt string `json:"revised_prompt,omitempty"`
	Model         string `json:"model"`
	Size          string `json:"size"`
}

type errorBody struct {
	Error string `json:"error"`
}

// UpstreamError wraps a non-200 reply from the side-service, keeping
// the HTTP status so callers can distinguish 400s (bad prompt) from
// 502s (upstream failure) without string matching.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("genclient: upstream returned %d: %s", e.StatusCode, e.Message)
}

// Client calls the image-generation side-service over HTTP.
type Client struct {
	baseURL  string
	apiToken string
	http     *http.Client
}

// Option configures Client at construction.
type Option func(*Client)

// WithHTTPClient overrides the default 90s-timeout client, mainly
// for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New builds a Client against baseURL (e.g. "http://localhost:8090").
// apiToken, if non-empty, is sent as X-Api-Token on every request.
func New(baseURL, apiToken string, opts ...Option) *Client {
	c := &Client{
		baseURL:  baseURL,
		apiToken: apiToken,
		http:     &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate requests one image for req.Prompt, defaulting Size to
// "1024x1024", Quality to "low", and N to 1 (clamped to 1 — the
// side-service never returns more than a single image) when unset.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	if req.Size == "" {
		req.Size = "1024x1024"
	}
	if !AllowedSizes[req.Size] {
		return nil, fmt.Errorf("genclient: unsupported size %q", req.Size)
	}
	if req.Quality == "" {
		req.Quality = "low"
	}
	if !AllowedQualities[req.Quality] {
		return nil, fmt.Errorf("genclient: quality must be low|medium|high, got %q", req.Quality)
	}
	if req.N == 0 || req.N > 1 {
		req.N = 1
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("genclient: marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("genclient: building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-Id", uuid.NewString())
	if c.apiToken != "" {
		httpReq.Header.Set("X-Api-Token", c.apiToken)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("genclient: calling side-service: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("genclient: reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var eb errorBody
		msg := string(raw)
		if json.Unmarshal(raw, &eb) == nil && eb.Error != "" {
			msg = eb.Error
		}
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Message: msg}
	}

	var out GenerateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("genclient: decoding response: %w", err)
	}
	return &out, nil
}

// Health checks the side-service's liveness probe.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("genclient: health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("genclient: health check returned %d", resp.StatusCode)
	}
	return nil
}
