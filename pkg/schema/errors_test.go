package schema

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	err := NewError(ErrCodeTimeout, "deadline exceeded")
	assert.Equal(t, "[TIMEOUT] deadline exceeded", err.Error())

	err = err.WithNode("fetch")
	assert.Equal(t, "[TIMEOUT] node fetch: deadline exceeded", err.Error())
}

func TestNewErrorf(t *testing.T) {
	err := NewErrorf(ErrCodeNotFound, "instance %q not found", "abc")
	assert.Equal(t, ErrCodeNotFound, err.Code)
	assert.Equal(t, `instance "abc" not found`, err.Message)
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewError(ErrCodeExecutor, "request failed").WithCause(cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, fmt.Errorf("wrapped: %w", err), cause)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  *FlowError
		want bool
	}{
		{"timeout", NewError(ErrCodeTimeout, "t"), true},
		{"executor default", NewError(ErrCodeExecutor, "e"), true},
		{
			"executor opted out",
			NewError(ErrCodeExecutor, "e").WithDetails(map[string]any{"retryable": false}),
			false,
		},
		{
			"executor opted in",
			NewError(ErrCodeExecutor, "e").WithDetails(map[string]any{"retryable": true}),
			true,
		},
		{
			"non-bool retryable detail ignored",
			NewError(ErrCodeExecutor, "e").WithDetails(map[string]any{"retryable": "no"}),
			true,
		},
		{"validation", NewError(ErrCodeValidation, "v"), false},
		{"unresolved reference", NewError(ErrCodeUnresolvedRef, "u"), false},
		{"cancelled", NewError(ErrCodeCancelled, "c"), false},
		{"rejected", NewError(ErrCodeRejected, "r"), false},
		{"path violation", NewError(ErrCodePathViolation, "p"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.IsRetryable())
		})
	}
}

func TestAsFlowErrorPassthrough(t *testing.T) {
	orig := NewError(ErrCodeTimeout, "t").WithNode("n")
	fe := AsFlowError(orig, ErrCodeExecutor)
	assert.Same(t, orig, fe)
}

func TestAsFlowErrorWrapsForeign(t *testing.T) {
	cause := errors.New("boom")
	fe := AsFlowError(cause, ErrCodeExecutor)
	require.NotNil(t, fe)
	assert.Equal(t, ErrCodeExecutor, fe.Code)
	assert.Equal(t, "boom", fe.Message)
	assert.ErrorIs(t, fe, cause)
}

func TestAsFlowErrorNil(t *testing.T) {
	assert.Nil(t, AsFlowError(nil, ErrCodeExecutor))
}
