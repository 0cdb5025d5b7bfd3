// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// Configuration constants for the OpenRouter API.
const (
	// DefaultOpenRouterURL is the base URL for OpenRouter API.
	DefaultOpenRouterURL = "https://openrouter.ai/api/v1"

	// DefaultTimeout bounds one-shot requests. Streaming requests are bounded
	// by their context and the parser's inactivity window instead.
	DefaultTimeout = 60 * time.Second

	// MaxResponseSize is the maximum allowed one-shot response body size.
	// SECURITY: Response size limit prevents memory exhaustion attacks.
	MaxResponseSize = 10 * 1024 * 1024

	// maxErrorBodySize caps how much of a failed response is read.
	maxErrorBodySize = 64 * 1024

	userAgent = "rigrun-chat/0.1.0"
)

// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
func newTransport() *http.Transport {
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
}

// =============================================================================
// REQUEST / RESPONSE TYPES
// =============================================================================

// ContentPart is one element of a multi-part message.
type ContentPart struct {
	Type     string    `json:"type"` // "text" or "image_url"
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL references image input by URL or data: URI.
type ImageURL struct {
	URL string `json:"url"`
}

// ChatMessage represents a single message in a chat request. When Parts is
// set the message is encoded in the multi-part form and Content is sent as
// the leading text part.
type ChatMessage struct {
	Role    string
	Content string
	Parts   []ContentPart
}

// MarshalJSON encodes plain messages with a string content field and
// multi-part messages with a content array.
func (m ChatMessage) MarshalJSON() ([]byte, error) {
	if len(m.Parts) == 0 {
		return json.Marshal(struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}{m.Role, m.Content})
	}
	parts := make([]ContentPart, 0, len(m.Parts)+1)
	if m.Content != "" {
		parts = append(parts, ContentPart{Type: "text", Text: m.Content})
	}
	parts = append(parts, m.Parts...)
	return json.Marshal(struct {
		Role    string        `json:"role"`
		Content []ContentPart `json:"content"`
	}{m.Role, parts})
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) ChatMessage {
	return ChatMessage{Role: "user", Content: content}
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: content}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) ChatMessage {
	return ChatMessage{Role: "system", Content: content}
}

// FromModelMessage converts a conversation message, attaching media as
// image parts.
func FromModelMessage(msg *model.Message) ChatMessage {
	cm := ChatMessage{Role: msg.Role.String(), Content: msg.Content}
	for _, a := range msg.Media {
		cm.Parts = append(cm.Parts, ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: a.URL}})
	}
	return cm
}

// ChatRequest represents a request to the chat completions endpoint.
type ChatRequest struct {
	Model string `json:"model"`

	// Models lists server-side fallbacks OpenRouter may route to when Model
	// is unavailable.
	Models []string `json:"models,omitempty"`

	Messages    []ChatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// Usage is the token accounting returned by the API.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse represents a one-shot response from the chat completions
// endpoint.
type ChatResponse struct {
	Status  int    `json:"-"`
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

// Content returns the content of the first choice, or "" if none.
func (r *ChatResponse) Content() string {
	if len(r.Choices) > 0 {
		return r.Choices[0].Message.Content
	}
	return ""
}

// StreamResponse is an open event-stream response. The caller owns Body.
type StreamResponse struct {
	Status int
	Body   io.ReadCloser
}

// =============================================================================
// CLIENT
// =============================================================================

// OpenRouterClient is a client for the OpenRouter API. It is safe for
// concurrent use once configured.
type OpenRouterClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client // one-shot requests, bounded by timeout
	streamHTTP *http.Client // streaming requests, bounded by context only
	siteURL    string
	siteName   string
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewOpenRouterClient creates a client with the given API key. An empty key
// still yields a client; requests then fail with ErrNotConfigured.
func NewOpenRouterClient(apiKey string) *OpenRouterClient {
	transport := newTransport()
	return &OpenRouterClient{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    DefaultOpenRouterURL,
		httpClient: &http.Client{Transport: transport, Timeout: DefaultTimeout},
		streamHTTP: &http.Client{Transport: transport},
		siteURL:    "https://github.com/jeranaias/rigrun-chat",
		siteName:   "rigrun-chat",
		logger:     slog.Default(),
	}
}

// WithBaseURL sets a custom base URL for the API.
func (c *OpenRouterClient) WithBaseURL(url string) *OpenRouterClient {
	if url != "" {
		c.baseURL = strings.TrimSuffix(url, "/")
	}
	return c
}

// WithTimeout sets the timeout for one-shot requests.
func (c *OpenRouterClient) WithTimeout(timeout time.Duration) *OpenRouterClient {
	if timeout > 0 {
		c.httpClient.Timeout = timeout
	}
	return c
}

// WithHTTPClient replaces both underlying HTTP clients. The streaming copy
// drops the timeout.
func (c *OpenRouterClient) WithHTTPClient(hc *http.Client) *OpenRouterClient {
	c.httpClient = hc
	streaming := *hc
	streaming.Timeout = 0
	c.streamHTTP = &streaming
	return c
}

// WithRateLimit caps outgoing requests per minute. Zero disables limiting.
func (c *OpenRouterClient) WithRateLimit(perMinute int) *OpenRouterClient {
	if perMinute <= 0 {
		c.limiter = nil
		return c
	}
	burst := perMinute/6 + 1
	c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst)
	return c
}

// WithSiteURL sets the HTTP-Referer attribution header.
func (c *OpenRouterClient) WithSiteURL(url string) *OpenRouterClient {
	c.siteURL = url
	return c
}

// WithSiteName sets the X-Title attribution header.
func (c *OpenRouterClient) WithSiteName(name string) *OpenRouterClient {
	c.siteName = name
	return c
}

// WithLogger sets the logger used for request logging.
func (c *OpenRouterClient) WithLogger(logger *slog.Logger) *OpenRouterClient {
	if logger != nil {
		c.logger = logger.With("component", "cloud")
	}
	return c
}

// IsConfigured returns true if the client has an API key configured.
func (c *OpenRouterClient) IsConfigured() bool {
	return c.apiKey != ""
}

// KeyFingerprint returns the first 8 hex characters of the key's SHA-256.
// SECURITY: Never exposes key fragments.
func (c *OpenRouterClient) KeyFingerprint() string {
	if c.apiKey == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(c.apiKey))
	return hex.EncodeToString(h[:4])
}

// =============================================================================
// REQUESTS
// =============================================================================

// Complete performs a one-shot chat completion.
func (c *OpenRouterClient) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	req.Stream = false
	httpReq, err := c.newChatRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, c.httpClient, httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := readResponse(resp)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, handleErrorResponse(resp.StatusCode, resp.Header, body)
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	chatResp.Status = resp.StatusCode
	return &chatResp, nil
}

// OpenStream starts a streaming chat completion and returns the live body.
// Non-200 responses are drained, closed and returned as errors.
func (c *OpenRouterClient) OpenStream(ctx context.Context, req ChatRequest) (*StreamResponse, error) {
	req.Stream = true
	httpReq, err := c.newChatRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := c.do(ctx, c.streamHTTP, httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, handleErrorResponse(resp.StatusCode, resp.Header, body)
	}
	return &StreamResponse{Status: resp.StatusCode, Body: resp.Body}, nil
}

func (c *OpenRouterClient) newChatRequest(ctx context.Context, req ChatRequest) (*http.Request, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}
	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)
	return httpReq, nil
}

// do waits for the rate limiter and sends the request.
func (c *OpenRouterClient) do(ctx context.Context, hc *http.Client, req *http.Request) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	start := time.Now()
	resp, err := hc.Do(req)
	// SECURITY: drop the credential so nothing downstream can log it
	req.Header.Del("Authorization")
	if err != nil {
		c.logger.Debug("api request failed", "method", req.Method, "path", req.URL.Path, "error", err)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	c.logger.Debug("api request",
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
		"key", c.KeyFingerprint())
	return resp, nil
}

// setHeaders sets the required headers for OpenRouter API requests.
func (c *OpenRouterClient) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if c.siteURL != "" {
		req.Header.Set("HTTP-Referer", c.siteURL)
	}
	if c.siteName != "" {
		req.Header.Set("X-Title", c.siteName)
	}
}

// readResponse reads the body with a size cap.
// SECURITY: Response size limit prevents memory exhaustion.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// =============================================================================
// MODEL LISTING
// =============================================================================

// modelsResponse is the wire shape of GET /models.
type modelsResponse struct {
	Data []struct {
		ID            string `json:"id"`
		Name          string `json:"name"`
		ContextLength int    `json:"context_length"`
		Pricing       *struct {
			Prompt     string `json:"prompt"`
			Completion string `json:"completion"`
		} `json:"pricing"`
		Architecture *struct {
			Modality        string   `json:"modality"`
			InputModalities []string `json:"input_modalities"`
		} `json:"architecture"`
	} `json:"data"`
}

// ListModels retrieves the model catalog from OpenRouter.
func (c *OpenRouterClient) ListModels(ctx context.Context) ([]model.Candidate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	// The models endpoint does not require auth.
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.do(ctx, c.httpClient, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := readResponse(resp)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, handleErrorResponse(resp.StatusCode, resp.Header, body)
	}

	var modelsResp modelsResponse
	if err := json.Unmarshal(body, &modelsResp); err != nil {
		return nil, fmt.Errorf("failed to parse models response: %w", err)
	}

	models := make([]model.Candidate, 0, len(modelsResp.Data))
	for _, m := range modelsResp.Data {
		cand := model.Candidate{
			ID:            m.ID,
			Name:          m.Name,
			ContextLength: m.ContextLength,
		}
		if m.Pricing != nil {
			cand.Pricing = parsePricing(m.Pricing.Prompt, m.Pricing.Completion)
		}
		if a := m.Architecture; a != nil {
			cand.Multimodal = strings.Contains(a.Modality, "image")
			for _, in := range a.InputModalities {
				if in == "image" {
					cand.Multimodal = true
				}
			}
		}
		models = append(models, cand)
	}
	return models, nil
}

// parsePricing converts OpenRouter's per-token price strings. Negative values
// mark variable pricing and are treated as unknown.
func parsePricing(prompt, completion string) *model.Pricing {
	p, err1 := strconv.ParseFloat(prompt, 64)
	c, err2 := strconv.ParseFloat(completion, 64)
	if err1 != nil || err2 != nil || p < 0 || c < 0 {
		return nil
	}
	return &model.Pricing{Prompt: p, Completion: c}
}
