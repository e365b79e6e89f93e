package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name          string
		code          ErrorCode
		wantCategory  ErrorCategory
		wantRetryable bool
	}{
		{"timeout", ErrCodeTimeout, CategoryTransient, true},
		{"unavailable", ErrCodeUnavailable, CategoryTransient, true},
		{"canceled", ErrCodeCanceled, CategoryPermanent, false},
		{"task_failed", ErrCodeTaskFailed, CategoryPermanent, false},
		{"panic", ErrCodePanic, CategoryInternal, false},
		{"unknown", ErrorCode("SOMETHING"), CategoryInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "msg")
			assert.Equal(t, tt.code, err.Code())
			assert.Equal(t, tt.wantCategory, err.Category())
			assert.Equal(t, tt.wantRetryable, err.Retryable())
			assert.Equal(t, "msg", err.Error())
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(fmt.Errorf("submit: %w", Timeout("slow"))))
	assert.False(t, IsRetryable(Canceled("stop")))
	assert.False(t, IsRetryable(fmt.Errorf("plain")))
}

func TestErrorMessageIncludesCause(t *testing.T) {
	err := New(ErrCodeInternal, "close pool", WithCause(fmt.Errorf("boom")))
	assert.Equal(t, "close pool: boom", err.Error())
	assert.EqualError(t, errors.Unwrap(err), "boom")
}

func TestTaskFailed(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := TaskFailed("t-1", cause)
	assert.True(t, errors.Is(err, cause))
	assert.True(t, Is(err, ErrCodeTaskFailed))
	assert.Equal(t, "task t-1 failed: disk full", err.Error())
}

func TestPanic(t *testing.T) {
	err := Panic("nil map")
	assert.Equal(t, ErrCodePanic, err.Code())
	assert.Equal(t, "panic: nil map", err.Error())
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, "x"))

	t.Run("context deadline", func(t *testing.T) {
		err := Wrap(context.DeadlineExceeded, "wait")
		assert.Equal(t, ErrCodeTimeout, err.Code())
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	})

	t.Run("context canceled", func(t *testing.T) {
		err := Wrap(context.Canceled, "wait")
		assert.Equal(t, ErrCodeCanceled, err.Code())
		assert.True(t, IsCancellation(err))
	})

	t.Run("coded error keeps code", func(t *testing.T) {
		inner := New(ErrCodeUnavailable, "closed")
		err := Wrap(fmt.Errorf("spawn: %w", inner), "submit")
		assert.Equal(t, ErrCodeUnavailable, err.Code())
		assert.True(t, errors.Is(err, inner))
		assert.Equal(t, "submit: spawn: closed", err.Error())
	})

	t.Run("unknown becomes internal", func(t *testing.T) {
		err := Wrapf(fmt.Errorf("odd"), "step %d", 3)
		assert.Equal(t, ErrCodeInternal, err.Code())
		assert.Equal(t, "step 3: odd", err.Error())
	})
}

func TestWrapWithCode(t *testing.T) {
	assert.Nil(t, WrapWithCode(nil, ErrCodeTimeout, "x"))
	err := WrapWithCode(context.Canceled, ErrCodeTimeout, "timed out")
	require.NotNil(t, err)
	assert.True(t, Is(err, ErrCodeTimeout))
	assert.True(t, IsRetryable(err))
	assert.True(t, IsCancellation(err), "the cause is still a cancellation")
}

func TestIs_OutermostCodeWins(t *testing.T) {
	err := WrapWithCode(Canceled("stop"), ErrCodeTimeout, "timed out")
	assert.True(t, Is(err, ErrCodeTimeout))
	assert.False(t, Is(err, ErrCodeCanceled))
	assert.False(t, Is(fmt.Errorf("plain"), ErrCodeTimeout))
}
