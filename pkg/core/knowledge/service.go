package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

type ServiceConfig struct {
	// Embedder and Index back the scoped first tier.
	Embedder Embedder
	Index    Index

	// Fallback backs the unscoped second tier. When nil and Embedder and
	// Index are set, a VectorStore over them is used.
	Fallback SimilaritySearcher

	// TopK is used when a request leaves K unset.
	TopK int

	// Timeout bounds the whole lookup. Zero disables it.
	Timeout time.Duration

	Logger *slog.Logger
}

// Service runs two-tier lookups. It is safe for concurrent use.
type Service struct {
	embedder Embedder
	index    Index
	fallback SimilaritySearcher
	topK     int
	timeout  time.Duration
	logger   *slog.Logger
}

func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	fallback := cfg.Fallback
	if fallback == nil && cfg.Embedder != nil && cfg.Index != nil {
		fallback = VectorStore{Embedder: cfg.Embedder, Index: cfg.Index}
	}
	return &Service{
		embedder: cfg.Embedder,
		index:    cfg.Index,
		fallback: fallback,
		topK:     topK,
		timeout:  cfg.Timeout,
		logger:   logger,
	}
}

// Available reports whether any tier is configured. A nil Service is not
// available.
func (s *Service) Available() bool {
	if s == nil {
		return false
	}
	return s.hasPrimary() || s.fallback != nil
}

func (s *Service) hasPrimary() bool {
	return s.embedder != nil && s.index != nil
}

// Search runs the scoped query and falls back to the unscoped similarity
// search when the scoped tier errors or returns nothing. It returns
// ErrLookupUnavailable, ErrNoMatch or a *LookupFailedError on failure.
func (s *Service) Search(ctx context.Context, req Request) ([]Document, error) {
	if !s.Available() {
		return nil, ErrLookupUnavailable
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.K <= 0 {
		req.K = s.topK
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	docs, primaryErr := s.scoped(ctx, req)
	if primaryErr == nil && len(docs) > 0 {
		s.logger.Info("knowledge: scoped query matched", "query", req.Query, "documents", len(docs), "scoped", req.Filter != nil)
		return docs, nil
	}
	if primaryErr != nil {
		s.logger.Warn("knowledge: scoped query failed, falling back", "query", req.Query, "error", primaryErr)
	} else {
		s.logger.Info("knowledge: scoped query empty, falling back", "query", req.Query)
	}

	if s.fallback == nil {
		if primaryErr != nil {
			return nil, &LookupFailedError{Query: req.Query, Primary: primaryErr, Fallback: errNoFallback}
		}
		return nil, ErrNoMatch
	}
	docs, fallbackErr := s.fallback.SimilaritySearch(ctx, req.Query, req.K)
	if fallbackErr != nil {
		s.logger.Error("knowledge: similarity search failed", "query", req.Query, "error", fallbackErr)
		return nil, &LookupFailedError{Query: req.Query, Primary: primaryErr, Fallback: fallbackErr}
	}
	if len(docs) == 0 {
		s.logger.Warn("knowledge: no documents found", "query", req.Query)
		return nil, ErrNoMatch
	}
	if len(docs) > req.K {
		docs = docs[:req.K]
	}
	s.logger.Info("knowledge: similarity search matched", "query", req.Query, "documents", len(docs))
	return docs, nil
}

func (s *Service) scoped(ctx context.Context, req Request) ([]Document, error) {
	if !s.hasPrimary() {
		return nil, errNoPrimary
	}
	vec, err := s.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	matches, err := s.index.Query(ctx, IndexQuery{Vector: vec, TopK: req.K, Filter: req.Filter})
	if err != nil {
		return nil, err
	}
	return DocumentsFromMatches(matches), nil
}
