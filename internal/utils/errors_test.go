package utils

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppErrorMessage(t *testing.T) {
	err := E(CodeConflict, "SessionService.Start", "session already completed", ErrInvalidStateTransition)

	assert.Equal(t, "SessionService.Start: session already completed: invalid state transition", err.Error())
	assert.True(t, errors.Is(err, ErrInvalidStateTransition))
	assert.True(t, IsCode(err, CodeConflict))
	assert.False(t, IsCode(err, CodeNotFound))
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"invalid argument", E(CodeInvalidArgument, "op", "bad", nil), http.StatusBadRequest},
		{"not found", E(CodeNotFound, "op", "missing", ErrSessionNotFound), http.StatusNotFound},
		{"conflict", E(CodeConflict, "op", "illegal", ErrInvalidStateTransition), http.StatusConflict},
		{"unavailable", E(CodeUnavailable, "op", "mic", ErrAcquisition), http.StatusServiceUnavailable},
		{"bare sentinel", fmt.Errorf("lookup: %w", ErrSessionNotFound), http.StatusNotFound},
		{"plain error", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, HTTPStatus(tc.err))
		})
	}
}

func TestCodeOf(t *testing.T) {
	wrapped := fmt.Errorf("ctx: %w", E(CodeUnavailable, "op", "mic", ErrAcquisition))
	assert.Equal(t, CodeUnavailable, CodeOf(wrapped))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("x")))
}
