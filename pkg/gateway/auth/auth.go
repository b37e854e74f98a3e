// Package auth carries the caller identity established by the gateway's
// API-key check.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// Source says where a request presented its key.
type Source string

const (
	SourceHeader Source = "header"
	SourceQuery  Source = "query"
)

type Principal struct {
	APIKey string
	Source Source
}

// KeyID is a short, stable fingerprint of the key, safe to log.
func (p *Principal) KeyID() string {
	if p == nil || p.APIKey == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(p.APIKey))
	return hex.EncodeToString(sum[:4])
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(*Principal)
	return p, ok && p != nil
}

// KeyIDFrom returns the caller's key fingerprint, or "" when unauthenticated.
func KeyIDFrom(ctx context.Context) string {
	p, _ := PrincipalFrom(ctx)
	return p.KeyID()
}

func ParseBearer(r *http.Request) (string, bool) {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		return "", false
	}
	const prefix = "Bearer "
	if len(authz) < len(prefix) || !strings.EqualFold(authz[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(authz[len(prefix):])
	if token == "" {
		return "", false
	}
	return token, true
}

// ParseToken reads the bearer header and, when allowQuery is set, falls back
// to the access_token query parameter.
func ParseToken(r *http.Request, allowQuery bool) (string, Source, bool) {
	if token, ok := ParseBearer(r); ok {
		return token, SourceHeader, true
	}
	if !allowQuery {
		return "", "", false
	}
	token := strings.TrimSpace(r.URL.Query().Get("access_token"))
	if token == "" {
		return "", "", false
	}
	return token, SourceQuery, true
}
