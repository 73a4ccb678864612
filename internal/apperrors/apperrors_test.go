package apperrors

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"classified", NotFound("topic not found"), KindNotFound},
		{"wrapped with fmt", fmt.Errorf("advance: %w", Conflict("active round")), KindConflict},
		{"plain error", errors.New("boom"), KindInternal},
		{"internal wrap", Internal(sql.ErrConnDone, "failed to load topic"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("outer: %w", Conflict("There is already an active round for this topic"))
	if !errors.Is(err, ErrConflict) {
		t.Error("expected errors.Is to match ErrConflict")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("did not expect errors.Is to match ErrNotFound")
	}
}

func TestMessageHidesInternalDetail(t *testing.T) {
	err := Internal(errors.New("pq: connection refused"), "failed to load round")
	if got := Message(err); got != "Internal server error" {
		t.Errorf("Message() = %q", got)
	}
	if got := Message(errors.New("raw")); got != "Internal server error" {
		t.Errorf("Message() = %q", got)
	}
	if got := Message(InvalidArgument("Missing or invalid rawText")); got != "Missing or invalid rawText" {
		t.Errorf("Message() = %q", got)
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, KindInternal, "x") != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestMappings(t *testing.T) {
	tests := []struct {
		kind   Kind
		status int
		code   string
	}{
		{KindUnauthenticated, http.StatusUnauthorized, "unauthenticated"},
		{KindUnauthorized, http.StatusForbidden, "permission-denied"},
		{KindInvalidArgument, http.StatusBadRequest, "invalid-argument"},
		{KindNotFound, http.StatusNotFound, "not-found"},
		{KindConflict, http.StatusConflict, "failed-precondition"},
		{KindRateLimited, http.StatusTooManyRequests, "resource-exhausted"},
		{KindServiceUnavailable, http.StatusServiceUnavailable, "unavailable"},
		{KindInternal, http.StatusInternalServerError, "internal"},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := HTTPStatus(tt.kind); got != tt.status {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.status)
			}
			if got := Code(tt.kind); got != tt.code {
				t.Errorf("Code() = %q, want %q", got, tt.code)
			}
		})
	}
}
