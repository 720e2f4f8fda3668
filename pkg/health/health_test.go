package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckerAllUp(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("database", func(context.Context) error { return nil })
	c.Register("redis", func(context.Context) error { return nil })

	report := c.Run(context.Background())
	assert.Equal(t, StatusUp, report.Status)
	assert.Len(t, report.Components, 2)
	assert.Equal(t, []string{"database", "redis"}, c.Names())
}

func TestCheckerOneDownFailsReport(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("database", func(context.Context) error { return nil })
	c.Register("redis", func(context.Context) error { return errors.New("connection refused") })

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var report Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, StatusDown, report.Status)
	assert.Equal(t, StatusUp, report.Components["database"].Status)
	assert.Equal(t, "connection refused", report.Components["redis"].Error)
}

func TestCheckerAppliesTimeout(t *testing.T) {
	c := NewChecker(10 * time.Millisecond)
	c.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	report := c.Run(context.Background())
	assert.Equal(t, StatusDown, report.Status)
	assert.Contains(t, report.Components["slow"].Error, "deadline exceeded")
}
