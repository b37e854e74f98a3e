package apierror

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/vango-go/vai-agent/pkg/core"
	"github.com/vango-go/vai-agent/pkg/gateway/rooms"
)

func TestFromError_ContextCanceled_Is408Cancelled(t *testing.T) {
	ce, status := FromError(context.Canceled, "req_test")
	if status != 408 {
		t.Fatalf("status=%d", status)
	}
	if ce.Type != core.ErrAPI || ce.Code != "cancelled" || ce.RequestID != "req_test" {
		t.Fatalf("err=%+v", ce)
	}
}

func TestFromError_Unavailable_Is503(t *testing.T) {
	ce, status := FromError(core.NewUnavailableError("busy", 3, nil), "req_test")
	if status != http.StatusServiceUnavailable || ce.Type != core.ErrUnavailable || ce.RequestID != "req_test" {
		t.Fatalf("status=%d err=%+v", status, ce)
	}
}

func TestFromError_RoomErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		typ    core.ErrorType
	}{
		{fmt.Errorf("%w: %q", rooms.ErrInvalidName, "a b"), http.StatusBadRequest, core.ErrInvalidRequest},
		{fmt.Errorf("%w: x", rooms.ErrNotFound), http.StatusNotFound, core.ErrNotFound},
		{fmt.Errorf("%w: x", rooms.ErrNoAgent), http.StatusConflict, core.ErrConflict},
		{rooms.ErrDraining, http.StatusServiceUnavailable, core.ErrUnavailable},
	}
	for _, tc := range cases {
		ce, status := FromError(tc.err, "req")
		if status != tc.status || ce.Type != tc.typ {
			t.Errorf("FromError(%v) = %d %s, want %d %s", tc.err, status, ce.Type, tc.status, tc.typ)
		}
	}
}

func TestFromError_BodyErrors(t *testing.T) {
	var v struct{ Query string }
	err := json.Unmarshal([]byte(`{"Query": 5}`), &v)
	ce, status := FromError(err, "req")
	if status != http.StatusBadRequest || ce.Param != "Query" {
		t.Fatalf("status=%d err=%+v", status, ce)
	}

	_, status = FromError(&http.MaxBytesError{Limit: 10}, "req")
	if status != http.StatusRequestEntityTooLarge {
		t.Fatalf("status=%d, want 413", status)
	}
}

func TestFromError_UnknownHidesDetails(t *testing.T) {
	ce, status := FromError(fmt.Errorf("db password=hunter2"), "req")
	if status != http.StatusInternalServerError || ce.Message != "internal error" {
		t.Fatalf("status=%d err=%+v", status, ce)
	}
}
