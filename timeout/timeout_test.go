package timeout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jmerrors "github.com/vinayprograms/jobmanager/errors"
)

// sleep waits d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestTimeout_Expires(t *testing.T) {
	tm := New(10 * time.Millisecond)
	scope, err := tm.Enter(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateArmed, tm.State())

	err = tm.Exit(sleep(scope, time.Second))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimedOut)
	assert.True(t, jmerrors.Is(err, jmerrors.ErrCodeTimeout))
	assert.NotErrorIs(t, err, context.Canceled)
	assert.True(t, tm.Expired())
	assert.Equal(t, StateDone, tm.State())
}

func TestTimeout_CompletesInTime(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	defer cancel()

	tm := New(time.Second)
	scope, err := tm.Enter(parent)
	require.NoError(t, err)

	err = tm.Exit(sleep(scope, 10*time.Millisecond))
	require.NoError(t, err)
	assert.False(t, tm.Expired())
	assert.Equal(t, StateDone, tm.State())

	// The deadline is disarmed: nothing fires later and the caller's
	// operation is untouched.
	time.Sleep(20 * time.Millisecond)
	assert.False(t, tm.Expired())
	assert.NoError(t, parent.Err())
}

func TestTimeout_ExternalCancellationPropagatesUnchanged(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())

	tm := New(time.Second)
	scope, err := tm.Enter(parent)
	require.NoError(t, err)

	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	err = tm.Exit(sleep(scope, 5*time.Second))

	assert.Equal(t, context.Canceled, err)
	assert.NotErrorIs(t, err, ErrTimedOut)
	assert.False(t, tm.Expired())
}

func TestTimeout_DeadlineAfterExternalCancellationIsNotExpired(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())

	tm := New(20 * time.Millisecond)
	scope, err := tm.Enter(parent)
	require.NoError(t, err)

	cancel()
	<-scope.Done()
	// Let the deadline pass while the scope is still open.
	time.Sleep(50 * time.Millisecond)

	assert.False(t, tm.Expired())
	assert.Equal(t, StateArmed, tm.State())
	assert.Equal(t, context.Canceled, tm.Exit(scope.Err()))
	assert.False(t, tm.Expired())
	assert.Equal(t, StateDone, tm.State())
}

func TestTimeout_OtherErrorsPropagateUnchanged(t *testing.T) {
	boom := errors.New("boom")
	tm := New(time.Second)
	_, err := tm.Enter(context.Background())
	require.NoError(t, err)

	assert.Same(t, boom, tm.Exit(boom))
	assert.False(t, tm.Expired())
}

func TestTimeout_IgnoredCancellationReturnsResult(t *testing.T) {
	tm := New(5 * time.Millisecond)
	_, err := tm.Enter(context.Background())
	require.NoError(t, err)

	// Work that never looks at its context.
	time.Sleep(30 * time.Millisecond)

	assert.NoError(t, tm.Exit(nil))
	assert.True(t, tm.Expired())
}

func TestTimeout_ReturningCauseIsReclassified(t *testing.T) {
	err := Do(context.Background(), 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return context.Cause(ctx)
	})
	assert.ErrorIs(t, err, ErrTimedOut)
}

func TestTimeout_EnterTwice(t *testing.T) {
	tm := New(time.Second)
	_, err := tm.Enter(context.Background())
	require.NoError(t, err)

	_, err = tm.Enter(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyEntered)
	require.NoError(t, tm.Exit(nil))

	_, err = tm.Enter(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyEntered)
}

func TestTimeout_ExitWithoutEnter(t *testing.T) {
	tm := New(time.Second)
	boom := errors.New("boom")
	assert.Same(t, boom, tm.Exit(boom))
	assert.Equal(t, StateIdle, tm.State())
}

func TestTimeout_ZeroBoundFiresImmediately(t *testing.T) {
	err := Do(context.Background(), 0, func(ctx context.Context) error {
		return sleep(ctx, time.Second)
	})
	assert.ErrorIs(t, err, ErrTimedOut)
}

func TestTimeout_NestedOuterExpires(t *testing.T) {
	outer := New(10 * time.Millisecond)
	outerScope, err := outer.Enter(context.Background())
	require.NoError(t, err)

	inner := New(time.Second)
	innerScope, err := inner.Enter(outerScope)
	require.NoError(t, err)

	innerErr := inner.Exit(sleep(innerScope, 5*time.Second))
	assert.Equal(t, context.Canceled, innerErr, "inner scope must not claim the outer deadline")
	assert.False(t, inner.Expired())

	outerErr := outer.Exit(innerErr)
	assert.ErrorIs(t, outerErr, ErrTimedOut)
	assert.True(t, outer.Expired())
}

func TestTimeout_NestedInnerExpires(t *testing.T) {
	var innerErr error
	err := Do(context.Background(), time.Second, func(ctx context.Context) error {
		innerErr = Do(ctx, 5*time.Millisecond, func(ctx context.Context) error {
			return sleep(ctx, 5*time.Second)
		})
		return nil
	})

	assert.NoError(t, err)
	assert.ErrorIs(t, innerErr, ErrTimedOut)
}

func TestDo_PanicReleasesScope(t *testing.T) {
	assert.PanicsWithValue(t, "boom", func() {
		_ = Do(context.Background(), time.Second, func(ctx context.Context) error {
			panic("boom")
		})
	})
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "fired", StateFired.String())
	assert.Equal(t, "disarmed", StateDisarmed.String())
	assert.Equal(t, "state(42)", State(42).String())
}
