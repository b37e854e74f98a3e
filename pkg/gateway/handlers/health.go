package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/vango-go/vai-agent/pkg/gateway/config"
	"github.com/vango-go/vai-agent/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// Pinger checks a backing service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyHandler reports 503 while draining or when a configured dependency
// is unreachable.
type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle

	// Store is nil when no database is configured.
	Store     Pinger
	Knowledge interface{ Available() bool }
	Rooms     interface{ Count() int }
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK        bool     `json:"ok"`
		Draining  bool     `json:"draining"`
		DrainedMS int64    `json:"draining_ms,omitempty"`
		AuthMode  string   `json:"auth_mode"`
		Store     bool     `json:"store"`
		Knowledge bool     `json:"knowledge"`
		Rooms     int      `json:"rooms"`
		Issues    []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)
	if h.Config.AuthMode == config.AuthModeRequired && len(h.Config.APIKeys) == 0 {
		issues = append(issues, "auth_mode=required but no api keys configured")
	}
	if h.Config.PublishWidth <= 0 || h.Config.PublishHeight <= 0 {
		issues = append(issues, "publish dimensions must be > 0")
	}
	if h.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := h.Store.Ping(ctx)
		cancel()
		if err != nil {
			issues = append(issues, "store unreachable")
		}
	}

	resp := readyResp{
		Draining:  h.Lifecycle.IsDraining(),
		DrainedMS: h.Lifecycle.DrainingFor().Milliseconds(),
		AuthMode:  string(h.Config.AuthMode),
		Store:     h.Store != nil,
		Issues:    issues,
	}
	if h.Knowledge != nil {
		resp.Knowledge = h.Knowledge.Available()
	}
	if h.Rooms != nil {
		resp.Rooms = h.Rooms.Count()
	}
	resp.OK = len(issues) == 0 && !resp.Draining

	status := http.StatusOK
	if !resp.OK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
