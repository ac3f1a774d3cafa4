package llm

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
)

const (
	defaultBaseURL     = "https://api.anthropic.com/v1"
	defaultAPIVersion  = "2023-06-01"
	messagesPath       = "/messages"
	versionHeaderKey   = "anthropic-version"
	apiKeyHeaderKey    = "x-api-key"
	requestContentType = "application/json"
)

// ErrMissingAPIKey is returned before any network call when no credential is
// configured. Callers treat it as a configuration error: fail fast, no retry.
var ErrMissingAPIKey = errors.New("completion service API key not configured")

// HTTPClient talks to an Anthropic-style messages endpoint.
type HTTPClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// HTTPClientConfig configures an HTTPClient.
type HTTPClientConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// NewHTTPClient builds a Client over the configured endpoint.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPClient{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type wireRequest struct {
	Model     string           `json:"model"`
	MaxTokens int              `json:"max_tokens"`
	System    string           `json:"system,omitempty"`
	Tools     []ToolDefinition `json:"tools,omitempty"`
	Messages  []Message        `json:"messages"`
}

type wireResponse struct {
	StopReason string         `json:"stop_reason"`
	Content    []ContentBlock `json:"content"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreateMessage sends one completion request and decodes the reply.
// Non-2xx responses are returned as *APIError with the provider's message.
func (c *HTTPClient) CreateMessage(ctx context.Context, req Request) (*Response, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	body, err := json.Marshal(wireRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		System:    req.System,
		Tools:     req.Tools,
		Messages:  req.Messages,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+messagesPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", requestContentType)
	httpReq.Header.Set(apiKeyHeaderKey, c.apiKey)
	httpReq.Header.Set(versionHeaderKey, defaultAPIVersion)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("completion request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read completion response: %w", err)
	}

	var wire wireResponse
	if err := json.Unmarshal(respBody, &wire); err != nil {
		if httpResp.StatusCode != http.StatusOK {
			return nil, &APIError{StatusCode: httpResp.StatusCode, Message: truncate(string(respBody), 500)}
		}
		return nil, fmt.Errorf("decode completion response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		msg := "request failed"
		if wire.Error != nil {
			msg = wire.Error.Message
		}
		return nil, &APIError{StatusCode: httpResp.StatusCode, Message: msg}
	}

	return &Response{
		StopReason: StopReason(wire.StopReason),
		Content:    wire.Content,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
