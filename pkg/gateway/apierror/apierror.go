package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vango-go/vai-agent/pkg/core"
	"github.com/vango-go/vai-agent/pkg/gateway/rooms"
)

type Envelope struct {
	Error *core.Error `json:"error"`
}

func FromError(err error, requestID string) (*core.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request timeout",
			RequestID: requestID,
		}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request cancelled",
			Code:      "cancelled",
			RequestID: requestID,
		}, http.StatusRequestTimeout
	}

	// Already canonical.
	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		out := *coreErr
		out.RequestID = requestID
		return &out, statusFromType(coreErr.Type)
	}

	// Request bodies.
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return &core.Error{
			Type:      core.ErrInvalidRequest,
			Message:   "request body too large",
			Code:      "body_too_large",
			RequestID: requestID,
		}, http.StatusRequestEntityTooLarge
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		out := &core.Error{
			Type:      core.ErrInvalidRequest,
			Message:   "malformed JSON body",
			RequestID: requestID,
		}
		if typeErr != nil {
			out.Param = typeErr.Field
		}
		return out, http.StatusBadRequest
	}

	// Rooms.
	switch {
	case errors.Is(err, rooms.ErrInvalidName):
		return &core.Error{Type: core.ErrInvalidRequest, Message: err.Error(), Param: "room", RequestID: requestID}, http.StatusBadRequest
	case errors.Is(err, rooms.ErrNotFound):
		return &core.Error{Type: core.ErrNotFound, Message: err.Error(), RequestID: requestID}, http.StatusNotFound
	case errors.Is(err, rooms.ErrNoAgent):
		return &core.Error{Type: core.ErrConflict, Message: err.Error(), Code: "no_agent", RequestID: requestID}, http.StatusConflict
	case errors.Is(err, rooms.ErrDraining):
		retry := 5
		return &core.Error{Type: core.ErrUnavailable, Message: "server is draining", Code: "draining", RetryAfter: &retry, RequestID: requestID}, http.StatusServiceUnavailable
	}

	// Unknown errors: treat as internal API error (do not leak details by default).
	return &core.Error{
		Type:      core.ErrAPI,
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

func statusFromType(t core.ErrorType) int {
	switch t {
	case core.ErrInvalidRequest:
		return http.StatusBadRequest
	case core.ErrAuthentication:
		return http.StatusUnauthorized
	case core.ErrPermission:
		return http.StatusForbidden
	case core.ErrNotFound:
		return http.StatusNotFound
	case core.ErrConflict:
		return http.StatusConflict
	case core.ErrRateLimit:
		return http.StatusTooManyRequests
	case core.ErrUnavailable:
		return http.StatusServiceUnavailable
	case core.ErrAPI:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
