package pacer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wudi/llmgateway/internal/gatewaytypes"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	p := New("test", Config{RPS: 1000, Burst: 10, Concurrency: 2})

	permit, wait, err := p.Acquire(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, wait, time.Duration(0))

	p.Release(permit)
	stats := p.Stats()
	assert.EqualValues(t, 1, stats.Admitted)
}

func TestAcquireBlocksOnConcurrencyLimit(t *testing.T) {
	p := New("test", Config{RPS: 1000, Burst: 10, Concurrency: 1})

	permit, _, err := p.Acquire(context.Background(), time.Time{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _, err = p.Acquire(ctx, time.Time{})
	assert.Error(t, err, "second acquire should time out while the first permit is held")

	p.Release(permit)
}

func TestExecuteSkipsFnWhenBreakerOpen(t *testing.T) {
	p := New("test", Config{RPS: 1000, Burst: 10, Concurrency: 5, BreakerThreshold: 1, BreakerTimeout: time.Minute})

	failing := func() (gatewaytypes.LeaderOutput, error) {
		return gatewaytypes.LeaderOutput{}, assertErr
	}
	_, err := p.Execute(failing)
	require.Error(t, err)

	calls := 0
	_, err = p.Execute(func() (gatewaytypes.LeaderOutput, error) {
		calls++
		return gatewaytypes.LeaderOutput{}, nil
	})
	assert.Error(t, err)
	assert.Equal(t, 0, calls, "breaker should be open and skip fn entirely")
}

var assertErr = &stubError{"upstream failed"}

type stubError struct{ msg string }

func (e *stubError) Error() string { return e.msg }
