package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromStatusClassification(t *testing.T) {
	tests := []struct {
		code      int
		retryable bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusRequestTimeout, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusNotFound, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			err := FromStatus(tt.code, "GET /cases/", 0)
			assert.Equal(t, tt.retryable, IsRetryable(err))
			assert.Equal(t, tt.code, StatusCode(err))
		})
	}
}

func TestRetryAfterSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("listing cases: %w", FromStatus(http.StatusTooManyRequests, "throttled", 2*time.Second))

	d, ok := RetryAfter(err)
	assert.True(t, ok)
	assert.Equal(t, 2*time.Second, d)
	assert.True(t, IsRetryable(err))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(ErrPersistence, cause, "upserting case %s", "42")

	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "upserting case 42")
	assert.Contains(t, err.Error(), "connection reset")
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ClassReferential, Classify(New(ErrReferential, 0, "docket without case")))
	assert.Equal(t, ClassPersistence, Classify(Wrap(ErrPersistence, errors.New("x"), "commit")))
	assert.Equal(t, ClassPermanent, Classify(FromStatus(http.StatusNotFound, "missing", 0)))
	assert.Equal(t, ClassTransient, Classify(FromStatus(http.StatusBadGateway, "bad gateway", 0)))
	assert.Equal(t, ClassCanceled, Classify(fmt.Errorf("stopped: %w", context.Canceled)))
	assert.Equal(t, ClassUnknown, Classify(errors.New("boom")))
	assert.Equal(t, "", Classify(nil))
}
