// Package embeddings turns query text into vectors for the knowledge index.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	// DefaultOpenAIBaseURL is the default OpenAI API endpoint.
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"

	// DefaultOpenAIModel matches the model the index was built with.
	DefaultOpenAIModel = "text-embedding-3-small"
)

// Option configures an OpenAI embedder.
type Option func(*OpenAI)

// WithBaseURL sets a custom base URL (for testing or proxying).
func WithBaseURL(url string) Option {
	return func(o *OpenAI) {
		if strings.TrimSpace(url) == "" {
			return
		}
		o.baseURL = strings.TrimRight(url, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *OpenAI) {
		if client != nil {
			o.httpClient = client
		}
	}
}

func WithModel(model string) Option {
	return func(o *OpenAI) {
		if strings.TrimSpace(model) != "" {
			o.model = model
		}
	}
}

// WithDimensions requests shortened vectors. Zero keeps the model default.
func WithDimensions(n int) Option {
	return func(o *OpenAI) {
		if n > 0 {
			o.dimensions = n
		}
	}
}

// OpenAI calls the OpenAI embeddings endpoint.
type OpenAI struct {
	apiKey     string
	baseURL    string
	model      string
	dimensions int
	httpClient *http.Client
}

func NewOpenAI(apiKey string, opts ...Option) *OpenAI {
	o := &OpenAI{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    DefaultOpenAIBaseURL,
		model:      DefaultOpenAIModel,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *OpenAI) Configured() bool {
	return o != nil && o.apiKey != ""
}

// Embed implements knowledge.Embedder.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	if !o.Configured() {
		return nil, fmt.Errorf("openai api key is not configured")
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text is required")
	}

	payload := map[string]any{
		"model":           o.model,
		"input":           text,
		"encoding_format": "float",
	}
	if o.dimensions > 0 {
		payload["dimensions"] = o.dimensions
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		return nil, fmt.Errorf("openai error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var decoded struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Data) == 0 || len(decoded.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("openai returned no embedding")
	}
	return decoded.Data[0].Embedding, nil
}
