package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMatchesSentinelByCode(t *testing.T) {
	err := New(CodeInvalidTransition, "cannot confirm order").
		With("order_id", "o-1").
		With("current_status", "CANCELLED")

	wrapped := fmt.Errorf("confirm order: %w", err)

	assert.True(t, errors.Is(wrapped, ErrInvalidTransition))
	assert.False(t, errors.Is(wrapped, ErrUnauthorized))
	assert.Equal(t, CodeInvalidTransition, CodeOf(wrapped))

	typed := As(wrapped)
	require.NotNil(t, typed)
	assert.Equal(t, "o-1", typed.Details()["order_id"])
	assert.Equal(t, "CANCELLED", typed.Details()["current_status"])
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(CodeInternal, cause, "load order")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection reset")
	assert.True(t, IsRetryable(err))
}

func TestMetadataFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, MetadataFor(CodeValidation).HTTPStatus)
	assert.Equal(t, http.StatusForbidden, MetadataFor(CodeUnauthorized).HTTPStatus)
	assert.True(t, MetadataFor(CodeConcurrentModification).Retryable)
	assert.False(t, MetadataFor(CodeIllegalPaymentState).Retryable)
	assert.Equal(t, http.StatusInternalServerError, MetadataFor(Code("UNKNOWN")).HTTPStatus)
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	assert.Nil(t, As(nil))
}
