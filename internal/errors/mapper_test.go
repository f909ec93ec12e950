package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "security", err: SecurityBlocked("blocked"), want: http.StatusBadRequest},
		{name: "validation", err: Validation("bad"), want: http.StatusUnprocessableEntity},
		{name: "history", err: InvalidHistory("bad history"), want: http.StatusUnprocessableEntity},
		{name: "image", err: ImageProcessing("bad image"), want: http.StatusUnprocessableEntity},
		{name: "timeout", err: ToolTimeout("slow"), want: http.StatusGatewayTimeout},
		{name: "tool", err: ToolError("boom"), want: http.StatusBadGateway},
		{name: "wrapped tool", err: fmt.Errorf("outer: %w", ToolError("boom")), want: http.StatusBadGateway},
		{name: "empty output", err: EmptyModelOutput("nothing"), want: http.StatusInternalServerError},
		{name: "plain", err: errors.New("kaboom"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestDetail_DoesNotLeakCause(t *testing.T) {
	err := WrapWithCategory(errors.New("groq: 401 invalid api key sk-123"), "provider error", ErrToolError)

	assert.True(t, errors.Is(err, ErrToolError))
	assert.Equal(t, "provider error", Detail(err))
	assert.Contains(t, err.Error(), "sk-123")
}

func TestDetail_InternalIsGeneric(t *testing.T) {
	assert.Equal(t, "Internal server error", Detail(errors.New("nil pointer somewhere")))
	assert.Equal(t, "Internal server error", Detail(EmptyModelOutput("model returned nothing")))
	assert.Equal(t, "", Detail(nil))
}

func TestCategory(t *testing.T) {
	assert.Equal(t, "ErrSecurityBlocked", Category(SecurityBlocked("x")))
	assert.Equal(t, "ErrInvalidHistory", Category(InvalidHistory("x")))
	assert.Equal(t, "ErrToolTimeout", Category(ToolTimeout("x")))
	assert.Equal(t, "Unknown", Category(errors.New("x")))
	assert.Equal(t, "", Category(nil))
}

func TestMapError(t *testing.T) {
	m := NewDefaultErrorMapper()

	assert.Nil(t, m.MapError(nil))
	assert.ErrorIs(t, m.MapError(context.Canceled), context.Canceled)
	assert.ErrorIs(t, m.MapError(context.DeadlineExceeded), ErrTransient)
	assert.ErrorIs(t, m.MapError(errors.New("429 Too Many Requests")), ErrTransient)
	assert.ErrorIs(t, m.MapError(errors.New("connection refused")), ErrTransient)
	assert.ErrorIs(t, m.MapError(errors.New("model does not exist")), ErrNotFound)
	assert.ErrorIs(t, m.MapError(errors.New("weird")), ErrInternal)

	typed := ToolTimeout("slow")
	assert.Equal(t, typed, m.MapError(typed))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(Transient("flaky")))
	assert.False(t, IsRetryable(SecurityBlocked("no")))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(nil))
}
