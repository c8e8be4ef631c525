// Package reason provides the optional generative reasoning client used by
// the smart-connections and coherence layers.
//
// The service is a local Ollama-compatible HTTP endpoint. It is an accuracy
// booster, never a correctness requirement: every caller must treat a
// timeout, transport failure, non-2xx status, or malformed response
// identically as "unavailable for this call" and degrade to its rule-based
// behavior.
package reason

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client generates free text from a prompt. Implementations must bound each
// call with a timeout so one slow call cannot stall an entire sync run.
type Client interface {
	// Generate returns the model's completion for the prompt.
	Generate(ctx context.Context, prompt string) (string, error)

	// Available reports whether the service is reachable right now.
	Available(ctx context.Context) bool
}

// Config holds reasoning client configuration.
type Config struct {
	// BaseURL of the local generation service (default: http://localhost:11434)
	BaseURL string

	// Model name to request (default: llama3.2)
	Model string

	// Timeout bounds each Generate call (default: 30s)
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults for a local Ollama install.
func DefaultConfig() *Config {
	return &Config{
		BaseURL: "http://localhost:11434",
		Model:   "llama3.2",
		Timeout: 30 * time.Second,
	}
}

// HTTPClient talks to an Ollama-compatible generation endpoint.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
	timeout    time.Duration
}

type generateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// NewHTTPClient creates a reasoning client with the given configuration.
// If config is nil, DefaultConfig() is used.
func NewHTTPClient(config *Config) *HTTPClient {
	if config == nil {
		config = DefaultConfig()
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(config.BaseURL, "/"),
		model:      config.Model,
		timeout:    timeout,
	}
}

// Generate implements Client.Generate.
func (c *HTTPClient) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload := generateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: false,
		Options: map[string]interface{}{
			"temperature": 0.2,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("generate call failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read generate response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generate failed with status %d: %s", resp.StatusCode, respBody)
	}

	var gr generateResponse
	if err := json.Unmarshal(respBody, &gr); err != nil {
		return "", fmt.Errorf("failed to parse generate response: %w", err)
	}

	return gr.Response, nil
}

// Available implements Client.Available. It probes the model listing
// endpoint with a short timeout; any failure means unavailable.
func (c *HTTPClient) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// ExtractJSON pulls the first JSON object out of model output, tolerating
// code fences and surrounding prose. Returns "" when no object is present.
func ExtractJSON(s string) string {
	start := strings.Index(s, "{")
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}
