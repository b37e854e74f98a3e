package mw

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vango-go/vai-agent/pkg/gateway/config"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
}

func TestCORS_NoAllowlist_NoHeaders(t *testing.T) {
	h := CORS(config.Config{}, okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/rooms/r1/tools/lookup", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("Access-Control-Allow-Origin=%q, want none", got)
	}
}

func TestCORS_AllowlistedOrigin_AttachesHeaders(t *testing.T) {
	h := CORS(config.Config{CORSAllowedOrigins: map[string]struct{}{"http://localhost:3000": {}}}, okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/rooms/r1", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("Access-Control-Allow-Origin=%q", got)
	}
	if got := rr.Header().Get("Access-Control-Expose-Headers"); !strings.Contains(got, "X-Request-ID") {
		t.Fatalf("Access-Control-Expose-Headers=%q", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	h := CORS(config.Config{CORSAllowedOrigins: map[string]struct{}{"https://app.example.com": {}}},
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatalf("next handler should not be called for preflight")
		}))

	for origin, want := range map[string]int{
		"https://app.example.com":  http.StatusNoContent,
		"https://evil.example.com": http.StatusForbidden,
	} {
		req := httptest.NewRequest(http.MethodOptions, "/v1/rooms/r1", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", "DELETE")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != want {
			t.Fatalf("origin %s: status=%d, want %d", origin, rr.Code, want)
		}
		if want == http.StatusForbidden && !strings.Contains(rr.Body.String(), "permission_error") {
			t.Fatalf("body=%s", rr.Body.String())
		}
		if want == http.StatusNoContent && !strings.Contains(rr.Header().Get("Access-Control-Allow-Methods"), "DELETE") {
			t.Fatalf("allow-methods=%q", rr.Header().Get("Access-Control-Allow-Methods"))
		}
	}
}

func TestOriginAllowed(t *testing.T) {
	open := config.Config{}
	locked := config.Config{CORSAllowedOrigins: map[string]struct{}{"https://app.example.com": {}}}
	if OriginAllowed(open, "https://anything.example.com") {
		t.Fatalf("empty allowlist should reject browser origins")
	}
	if !OriginAllowed(locked, "") {
		t.Fatalf("non-browser clients send no origin and should pass")
	}
	if OriginAllowed(locked, "https://evil.example.com") || !OriginAllowed(locked, "https://app.example.com") {
		t.Fatalf("allowlist not applied")
	}
}
