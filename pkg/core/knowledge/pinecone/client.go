// Package pinecone is a minimal Pinecone data-plane client: vector queries
// with metadata filters and index statistics.
package pinecone

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/vango-go/vai-agent/pkg/core/knowledge"
)

const (
	defaultControlURL = "https://api.pinecone.io"
	apiVersion        = "2024-07"

	DefaultIndex     = "web-scraper-index-three"
	DefaultNamespace = "default"
)

type Client struct {
	apiKey     string
	host       string
	namespace  string
	httpClient *http.Client
}

// NewClient returns a client for the index served at host. host may omit the
// scheme, as the control plane reports it.
func NewClient(apiKey, host, namespace string, httpClient *http.Client) *Client {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if host != "" && !strings.Contains(host, "://") {
		host = "https://" + host
	}
	if strings.TrimSpace(namespace) == "" {
		namespace = DefaultNamespace
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		apiKey:     strings.TrimSpace(apiKey),
		host:       host,
		namespace:  namespace,
		httpClient: httpClient,
	}
}

func (c *Client) Configured() bool {
	return c != nil && c.apiKey != "" && c.host != ""
}

func (c *Client) Namespace() string { return c.namespace }

// Query implements knowledge.Index.
func (c *Client) Query(ctx context.Context, q knowledge.IndexQuery) ([]knowledge.Match, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("pinecone client is not configured")
	}
	if len(q.Vector) == 0 {
		return nil, fmt.Errorf("query vector is required")
	}
	topK := q.TopK
	if topK <= 0 {
		topK = knowledge.DefaultTopK
	}
	payload := map[string]any{
		"vector":          q.Vector,
		"topK":            topK,
		"includeMetadata": true,
		"namespace":       c.namespace,
	}
	if q.Filter != nil {
		payload["filter"] = map[string]any{
			q.Filter.Field: map[string]any{"$eq": q.Filter.Value},
		}
	}

	var decoded struct {
		Matches []struct {
			ID       string         `json:"id"`
			Score    float64        `json:"score"`
			Metadata map[string]any `json:"metadata"`
		} `json:"matches"`
	}
	if err := c.post(ctx, c.host+"/query", payload, &decoded); err != nil {
		return nil, err
	}

	matches := make([]knowledge.Match, 0, len(decoded.Matches))
	for _, m := range decoded.Matches {
		matches = append(matches, knowledge.Match{ID: m.ID, Score: m.Score, Metadata: m.Metadata})
	}
	return matches, nil
}

type NamespaceStats struct {
	VectorCount int64 `json:"vectorCount"`
}

type IndexStats struct {
	Dimension        int                       `json:"dimension"`
	IndexFullness    float64                   `json:"indexFullness"`
	TotalVectorCount int64                     `json:"totalVectorCount"`
	Namespaces       map[string]NamespaceStats `json:"namespaces"`
}

func (c *Client) DescribeIndexStats(ctx context.Context) (IndexStats, error) {
	if !c.Configured() {
		return IndexStats{}, fmt.Errorf("pinecone client is not configured")
	}
	var stats IndexStats
	if err := c.post(ctx, c.host+"/describe_index_stats", map[string]any{}, &stats); err != nil {
		return IndexStats{}, err
	}
	return stats, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Api-Key", c.apiKey)
	req.Header.Set("X-Pinecone-API-Version", apiVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		return fmt.Errorf("pinecone error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ResolveHost asks the control plane for the data-plane host of index.
// controlURL may be empty.
func ResolveHost(ctx context.Context, apiKey, controlURL, index string, httpClient *http.Client) (string, error) {
	if strings.TrimSpace(controlURL) == "" {
		controlURL = defaultControlURL
	}
	if strings.TrimSpace(index) == "" {
		index = DefaultIndex
	}
	c := NewClient(apiKey, "", "", httpClient)
	if c.apiKey == "" {
		return "", fmt.Errorf("pinecone api key is not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(controlURL, "/")+"/indexes/"+url.PathEscape(index), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	var decoded struct {
		Host string `json:"host"`
	}
	if err := c.do(req, &decoded); err != nil {
		return "", err
	}
	if decoded.Host == "" {
		return "", fmt.Errorf("pinecone index %q has no host", index)
	}
	return decoded.Host, nil
}
