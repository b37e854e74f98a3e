package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/vango-go/vai-agent/pkg/agent"
	"github.com/vango-go/vai-agent/pkg/core"
	"github.com/vango-go/vai-agent/pkg/gateway/config"
	"github.com/vango-go/vai-agent/pkg/gateway/rooms"
)

// Tool names served under /v1/rooms/{room}/tools/.
const (
	ToolShareMedia  = "share_media"
	ToolStopSharing = "stop_sharing"
	ToolLookup      = "lookup"
)

type toolRequest struct {
	Locator string `json:"locator"`
	Query   string `json:"query"`
}

type toolResponse struct {
	Result string `json:"result"`
}

// ToolHandler runs one agent tool. Tool failures are spoken text, so a
// reachable agent always yields 200 with the text as result.
type ToolHandler struct {
	Config config.Config
	Rooms  *rooms.Manager
	Tool   string
}

func (h ToolHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	var req toolRequest
	if err := decodeBody(w, r, h.Config.MaxBodyBytes, &req); err != nil {
		writeError(w, r, err)
		return
	}
	a, err := h.Rooms.Agent(r.PathValue("room"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var text string
	switch h.Tool {
	case ToolShareMedia:
		text = a.ShareMedia(r.Context(), strings.TrimSpace(req.Locator))
	case ToolStopSharing:
		text = a.StopSharing(r.Context())
	case ToolLookup:
		query := strings.TrimSpace(req.Query)
		if query == "" {
			writeError(w, r, core.NewInvalidRequestErrorWithParam("query is required", "query"))
			return
		}
		text = h.lookup(r.Context(), a, query)
	default:
		writeError(w, r, core.NewNotFoundError("unknown tool"))
		return
	}
	writeJSON(w, http.StatusOK, toolResponse{Result: text})
}

func (h ToolHandler) lookup(ctx context.Context, a *agent.Agent, query string) string {
	if h.Config.LookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Config.LookupTimeout)
		defer cancel()
	}
	return a.Lookup(ctx, query)
}
