package handlers

import (
	"net/http"

	"github.com/vango-go/vai-agent/pkg/core"
	"github.com/vango-go/vai-agent/pkg/gateway/mw"
)

// NotFoundHandler answers unrouted paths with the error envelope.
type NotFoundHandler struct{}

func (NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	writeCoreErrorJSON(w, reqID, core.NewNotFoundError("no route for "+r.Method+" "+r.URL.Path), http.StatusNotFound)
}
