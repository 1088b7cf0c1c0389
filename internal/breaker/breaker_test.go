package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerPassesThroughWhenClosed(t *testing.T) {
	b := New(Config{Name: "test"})

	result, err := b.Execute(context.Background(), func() (interface{}, error) {
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, "closed", b.State())
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := New(Config{Name: "test", MaxFailures: 3, Timeout: time.Minute})
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		_, err := b.Execute(context.Background(), func() (interface{}, error) {
			return nil, boom
		})
		assert.ErrorIs(t, err, boom)
	}

	assert.Equal(t, "open", b.State())

	// Open circuit rejects without invoking the function.
	called := false
	_, err := b.Execute(context.Background(), func() (interface{}, error) {
		called = true
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestBreakerRecoversViaHalfOpen(t *testing.T) {
	b := New(Config{Name: "test", MaxFailures: 1, Timeout: 20 * time.Millisecond, HalfOpenMaxSuccesses: 1})

	_, err := b.Execute(context.Background(), func() (interface{}, error) {
		return nil, errors.New("boom")
	})
	require.Error(t, err)
	assert.Equal(t, "open", b.State())

	time.Sleep(30 * time.Millisecond)

	_, err = b.Execute(context.Background(), func() (interface{}, error) {
		return "recovered", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "closed", b.State())
}

func TestBreakerRejectsCancelledContext(t *testing.T) {
	b := New(Config{Name: "test"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Execute(ctx, func() (interface{}, error) {
		t.Fatal("function should not run with cancelled context")
		return nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
