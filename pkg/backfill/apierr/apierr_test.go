package apierr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{name: "nil is ok", err: nil, expected: http.StatusOK},
		{name: "validation error is 400", err: New(CodeValidationError, "bad"), expected: http.StatusBadRequest},
		{name: "already running is 409", err: New(CodeJobAlreadyRunning, "busy"), expected: http.StatusConflict},
		{name: "not found is 404", err: New(CodeJobNotFound, "nope"), expected: http.StatusNotFound},
		{name: "storage error is 500", err: New(CodeStorageError, "disk full"), expected: http.StatusInternalServerError},
		{name: "unsupported is 501", err: New(CodeUnsupported, "no"), expected: http.StatusNotImplemented},
		{name: "unclassified error is 500", err: errors.New("boom"), expected: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, StatusOf(tt.err))
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(New(CodeValidationError, "bad")))
	assert.False(t, Retryable(New(CodeStorageError, "bad")))
	assert.True(t, Retryable(errors.New("network blip")))
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	wrapped := Wrap(CodeStorageError, "failed to write snapshot", cause)

	assert.Equal(t, CodeStorageError, CodeOf(wrapped))
	assert.ErrorIs(t, wrapped, cause)
}
