package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunAggregatesChecks(t *testing.T) {
	c := New(time.Second)
	c.Register("database", func(ctx context.Context) error { return nil })
	c.Register("redis", func(ctx context.Context) error { return nil })

	report := c.Run(context.Background())

	assert.True(t, report.Healthy())
	assert.Equal(t, "ok", report.Checks["database"])
	assert.Equal(t, "ok", report.Checks["redis"])
}

func TestRunReportsFailingCheck(t *testing.T) {
	c := New(time.Second)
	c.Register("database", func(ctx context.Context) error { return nil })
	c.Register("redis", func(ctx context.Context) error {
		return errors.New("connection refused")
	})

	report := c.Run(context.Background())

	assert.False(t, report.Healthy())
	assert.Equal(t, "ok", report.Checks["database"])
	assert.Equal(t, "connection refused", report.Checks["redis"])
}

func TestRunWithNoChecksIsHealthy(t *testing.T) {
	report := New(time.Second).Run(context.Background())
	assert.True(t, report.Healthy())
}

func TestHandlerStatusCodes(t *testing.T) {
	t.Run("healthy is 200", func(t *testing.T) {
		c := New(time.Second)
		c.Register("database", func(ctx context.Context) error { return nil })

		rec := httptest.NewRecorder()
		c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
	})

	t.Run("unhealthy is 503", func(t *testing.T) {
		c := New(time.Second)
		c.Register("database", func(ctx context.Context) error {
			return errors.New("down")
		})

		rec := httptest.NewRecorder()
		c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"unhealthy"`)
	})
}

func TestChecksRespectTimeout(t *testing.T) {
	c := New(10 * time.Millisecond)
	c.Register("slow", func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})

	report := c.Run(context.Background())
	assert.False(t, report.Healthy())
}
