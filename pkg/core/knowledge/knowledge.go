// Package knowledge implements the two-tier knowledge base lookup: a scoped
// vector query first, then an unscoped similarity search over the same index.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// DefaultTopK bounds lookups that do not set K.
const DefaultTopK = 3

// TextKey is the metadata field holding a chunk's text. Matches without it
// are not usable as documents.
const TextKey = "text"

var (
	// ErrLookupUnavailable means no vector store is configured.
	ErrLookupUnavailable = errors.New("knowledge: lookup unavailable")

	// ErrNoMatch means both tiers ran and found nothing.
	ErrNoMatch = errors.New("knowledge: no match")

	errNoFallback = errors.New("no similarity searcher configured")
	errNoPrimary  = errors.New("no embedder or index configured")
)

// LookupFailedError reports a lookup where no tier produced a usable result.
type LookupFailedError struct {
	Query    string
	Primary  error
	Fallback error
}

func (e *LookupFailedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "knowledge: lookup %q failed", e.Query)
	if e.Primary != nil {
		fmt.Fprintf(&b, ": scoped query: %v", e.Primary)
	}
	if e.Fallback != nil {
		fmt.Fprintf(&b, "; similarity search: %v", e.Fallback)
	}
	return b.String()
}

func (e *LookupFailedError) Unwrap() []error {
	var errs []error
	if e.Primary != nil {
		errs = append(errs, e.Primary)
	}
	if e.Fallback != nil {
		errs = append(errs, e.Fallback)
	}
	return errs
}

// Filter restricts a query to matches whose metadata Field equals Value.
type Filter struct {
	Field string
	Value string
}

// URLFilter scopes a query to chunks scraped from url. An empty url yields nil.
func URLFilter(url string) *Filter {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil
	}
	return &Filter{Field: "url", Value: url}
}

// Request is one lookup. It is not modified by the service.
type Request struct {
	Query  string
	Filter *Filter
	K      int
}

// Document is a chunk of indexed text and its remaining metadata.
type Document struct {
	Text     string
	Score    float64
	Metadata map[string]any
}

// Match is a raw index hit.
type Match struct {
	ID       string
	Score    float64
	Metadata map[string]any
}

// IndexQuery is a nearest-neighbour query against a vector index.
type IndexQuery struct {
	Vector []float32
	TopK   int
	Filter *Filter
}

// Embedder turns query text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Index answers vector queries.
type Index interface {
	Query(ctx context.Context, q IndexQuery) ([]Match, error)
}

// SimilaritySearcher answers text queries without a scope filter.
type SimilaritySearcher interface {
	SimilaritySearch(ctx context.Context, query string, k int) ([]Document, error)
}

// DocumentsFromMatches keeps matches that carry text and moves the text out of
// the metadata.
func DocumentsFromMatches(matches []Match) []Document {
	docs := make([]Document, 0, len(matches))
	for _, m := range matches {
		text, ok := m.Metadata[TextKey].(string)
		if !ok {
			continue
		}
		meta := make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			if k != TextKey {
				meta[k] = v
			}
		}
		docs = append(docs, Document{Text: text, Score: m.Score, Metadata: meta})
	}
	return docs
}

// VectorStore is a SimilaritySearcher over an Embedder and an Index.
type VectorStore struct {
	Embedder Embedder
	Index    Index
}

func (v VectorStore) SimilaritySearch(ctx context.Context, query string, k int) ([]Document, error) {
	if v.Embedder == nil || v.Index == nil {
		return nil, errNoPrimary
	}
	vec, err := v.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	matches, err := v.Index.Query(ctx, IndexQuery{Vector: vec, TopK: k})
	if err != nil {
		return nil, err
	}
	return DocumentsFromMatches(matches), nil
}

// FormatSources renders documents as numbered "Source i: text" paragraphs.
func FormatSources(docs []Document) string {
	parts := make([]string, len(docs))
	for i, d := range docs {
		parts[i] = fmt.Sprintf("Source %d: %s", i+1, d.Text)
	}
	return strings.Join(parts, "\n\n")
}

// FormatAnswer is the neutral answer text for a successful lookup.
func FormatAnswer(query string, docs []Document) string {
	return fmt.Sprintf("Based on my knowledge base search for '%s', here's what I found:\n\n%s\n\nThis information should help answer your question about %s.",
		query, FormatSources(docs), query)
}
