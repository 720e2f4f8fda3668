package resilience

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSleep captures requested delays without waiting.
type recordingSleep struct {
	delays []time.Duration
}

func (r *recordingSleep) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func testConfig(rec *recordingSleep) RetryConfig {
	return RetryConfig{
		MaxRetries: 4,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   8 * time.Second,
		Sleep:      rec.sleep,
		Jitter:     func(time.Duration) time.Duration { return 0 },
	}
}

func TestRetryHonorsRetryAfter(t *testing.T) {
	rec := &recordingSleep{}
	calls := 0
	err := Retry(context.Background(), "list cases", testConfig(rec), func() error {
		calls++
		if calls <= 2 {
			return apperrors.FromStatus(http.StatusTooManyRequests, "throttled", 2*time.Second)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, rec.delays)
}

func TestRetryExponentialBackoff(t *testing.T) {
	rec := &recordingSleep{}
	calls := 0
	err := Retry(context.Background(), "list dockets", testConfig(rec), func() error {
		calls++
		return apperrors.FromStatus(http.StatusServiceUnavailable, "unavailable", 0)
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrTransient)
	assert.Equal(t, 5, calls)
	assert.Equal(t, []time.Duration{
		500 * time.Millisecond,
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
	}, rec.delays)
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	rec := &recordingSleep{}
	calls := 0
	err := Retry(context.Background(), "get document", testConfig(rec), func() error {
		calls++
		return apperrors.FromStatus(http.StatusNotFound, "missing", 0)
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrPermanent)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
}

func TestRetryDoesNotRetryUnclassifiedErrors(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "decode", testConfig(&recordingSleep{}), func() error {
		calls++
		return errors.New("unexpected end of JSON input")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryAbortsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, "list cases", testConfig(&recordingSleep{}), func() error {
		return apperrors.FromStatus(http.StatusBadGateway, "bad gateway", 0)
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestComputeDelay(t *testing.T) {
	cfg := RetryConfig{
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  8 * time.Second,
		Jitter:    func(time.Duration) time.Duration { return 100 * time.Millisecond },
	}
	assert.Equal(t, 600*time.Millisecond, ComputeDelay(0, cfg, errors.New("x")))
	assert.Equal(t, 2100*time.Millisecond, ComputeDelay(2, cfg, errors.New("x")))
	assert.Equal(t, 8*time.Second, ComputeDelay(10, cfg, errors.New("x")))

	throttled := apperrors.FromStatus(http.StatusTooManyRequests, "slow down", time.Minute)
	assert.Equal(t, 8*time.Second, ComputeDelay(0, cfg, throttled))
}

func TestUniformJitterBounds(t *testing.T) {
	for range 100 {
		j := uniformJitter(500 * time.Millisecond)
		assert.GreaterOrEqual(t, j, time.Duration(0))
		assert.Less(t, j, 500*time.Millisecond)
	}
	assert.Equal(t, time.Duration(0), uniformJitter(0))
}
