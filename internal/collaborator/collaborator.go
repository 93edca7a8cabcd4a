// Package collaborator is the thin client for the external AI-completion
// service the worker endpoint calls into for the summarize and structure
// steps. The completion service itself is out of scope; this package
// only owns the HTTP boundary and its bounded deadline. Callers are
// responsible for the documented fallbacks on any error.
package collaborator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client completes a prompt against the configured AI collaborator.
type Client interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// HTTPClient talks to an OpenRouter-shaped chat-completions endpoint:
// POST {endpoint}/chat/completions with a bearer token, one user message.
type HTTPClient struct {
	Endpoint string
	APIKey   string
	Model    string

	httpClient *http.Client
}

// NewHTTPClient builds a collaborator client bound by deadline, matching
// the 10s step RPC deadline family from the concurrency model.
func NewHTTPClient(endpoint, apiKey, model string, deadline time.Duration) *HTTPClient {
	if model == "" {
		model = "mistralai/mixtral-8x7b-instruct"
	}
	return &HTTPClient{
		Endpoint: endpoint,
		APIKey:   apiKey,
		Model:    model,
		httpClient: &http.Client{
			Timeout: deadline,
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatChoice struct {
	Message chatMessage `json:"message"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
}

// Complete returns the collaborator's completion for prompt, or an error
// if the endpoint is unconfigured, unreachable, returns any status other
// than 200 OK, or replies with no choices.
func (c *HTTPClient) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if c.Endpoint == "" || c.APIKey == "" {
		return "", fmt.Errorf("collaborator: endpoint or api key not configured")
	}

	body, err := json.Marshal(chatRequest{
		Model:       c.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   maxTokens,
		Temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("collaborator: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("collaborator: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("collaborator: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("collaborator: status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("collaborator: decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("collaborator: empty response")
	}

	return parsed.Choices[0].Message.Content, nil
}
