package idempotency

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sokoflow/sokoflow/internal/database/repository"
	dbtesting "github.com/sokoflow/sokoflow/internal/database/testing"
	"github.com/sokoflow/sokoflow/pkg/logging"
	"github.com/sokoflow/sokoflow/pkg/metrics"
)

func newTestLedger(t *testing.T, config Config) *Ledger {
	t.Helper()
	db := dbtesting.SetupTestDB(t)
	logger := logging.NewWithWriter(logging.DefaultConfig(), io.Discard)
	reg := metrics.NewRegistry(metrics.DefaultConfig())
	return NewLedger(repository.NewIdempotencyRepository(db), logger, reg, config)
}

func TestLedger_MissThenHit(t *testing.T) {
	ledger := newTestLedger(t, DefaultConfig())
	ctx := context.Background()

	first, err := ledger.Begin(ctx, "org-1", "trigger", "key-1", "fp-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeMiss, first.Outcome)
	require.NotEmpty(t, first.KeyID)

	require.NoError(t, ledger.FinalizeSuccess(ctx, first.KeyID, 202, []byte(`{"executionId":"e-1"}`)))

	replay, err := ledger.Begin(ctx, "org-1", "trigger", "key-1", "fp-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeHit, replay.Outcome)
	assert.Equal(t, 202, replay.ResponseCode)
	assert.JSONEq(t, `{"executionId":"e-1"}`, string(replay.ResponseBody))
}

func TestLedger_InProgressAndConflict(t *testing.T) {
	ledger := newTestLedger(t, DefaultConfig())
	ctx := context.Background()

	_, err := ledger.Begin(ctx, "org-1", "trigger", "key-1", "fp-1")
	require.NoError(t, err)

	// Same request retried while the first is still executing.
	second, err := ledger.Begin(ctx, "org-1", "trigger", "key-1", "fp-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeInProgress, second.Outcome)

	// Same key with a different payload is a client bug.
	conflict, err := ledger.Begin(ctx, "org-1", "trigger", "key-1", "fp-other")
	require.NoError(t, err)
	assert.Equal(t, OutcomeConflict, conflict.Outcome)
}

func TestLedger_StaleLockStolen(t *testing.T) {
	config := DefaultConfig()
	config.StalenessThreshold = 0 // every lock is immediately stale
	ledger := newTestLedger(t, config)
	ctx := context.Background()

	first, err := ledger.Begin(ctx, "org-1", "trigger", "key-1", "fp-1")
	require.NoError(t, err)
	require.Equal(t, OutcomeMiss, first.Outcome)

	time.Sleep(5 * time.Millisecond)

	stolen, err := ledger.Begin(ctx, "org-1", "trigger", "key-1", "fp-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeMiss, stolen.Outcome)
	assert.Equal(t, first.KeyID, stolen.KeyID)
}

func TestLedger_ServerErrorReattempted(t *testing.T) {
	ledger := newTestLedger(t, DefaultConfig())
	ctx := context.Background()

	first, err := ledger.Begin(ctx, "org-1", "trigger", "key-1", "fp-1")
	require.NoError(t, err)
	require.NoError(t, ledger.FinalizeFailure(ctx, first.KeyID, 503, []byte(`{"error":"upstream"}`)))

	retry, err := ledger.Begin(ctx, "org-1", "trigger", "key-1", "fp-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeMiss, retry.Outcome)
}

func TestLedger_ClientErrorReplayed(t *testing.T) {
	ledger := newTestLedger(t, DefaultConfig())
	ctx := context.Background()

	first, err := ledger.Begin(ctx, "org-1", "trigger", "key-1", "fp-1")
	require.NoError(t, err)
	require.NoError(t, ledger.FinalizeFailure(ctx, first.KeyID, 422, []byte(`{"error":"bad input"}`)))

	replay, err := ledger.Begin(ctx, "org-1", "trigger", "key-1", "fp-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeHit, replay.Outcome)
	assert.Equal(t, 422, replay.ResponseCode)
}

func TestLedger_SanitizesCachedBody(t *testing.T) {
	ledger := newTestLedger(t, DefaultConfig())
	ctx := context.Background()

	first, err := ledger.Begin(ctx, "org-1", "trigger", "key-1", "fp-1")
	require.NoError(t, err)
	require.NoError(t, ledger.FinalizeSuccess(ctx, first.KeyID, 201,
		[]byte(`{"token":"abc123","phone":"+254712345678","id":"e-1"}`)))

	replay, err := ledger.Begin(ctx, "org-1", "trigger", "key-1", "fp-1")
	require.NoError(t, err)
	body := string(replay.ResponseBody)
	assert.NotContains(t, body, "abc123")
	assert.NotContains(t, body, "+254712345678")
	assert.Contains(t, body, "678") // last digits survive masking
	assert.Contains(t, body, "e-1")
}

func TestMiddleware_ExactlyOnceExecution(t *testing.T) {
	ledger := newTestLedger(t, DefaultConfig())

	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"executionId":"e-1"}`))
	})
	orgFrom := func(*http.Request) string { return "org-1" }
	wrapped := Middleware(ledger, "trigger", orgFrom)(handler)

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/workflows/wf-1/trigger",
			strings.NewReader(`{"input":{"orderId":"o-1"}}`))
		req.Header.Set(HeaderKey, "key-1")
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)
		return rec
	}

	first := do()
	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, "MISS", first.Header().Get(HeaderStatus))

	second := do()
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "HIT", second.Header().Get(HeaderStatus))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "key-1", second.Header().Get(HeaderEcho))

	assert.Equal(t, int32(1), calls.Load(), "handler must run exactly once")
}

func TestMiddleware_DifferentBodySameKeyConflicts(t *testing.T) {
	ledger := newTestLedger(t, DefaultConfig())
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	wrapped := Middleware(ledger, "trigger", func(*http.Request) string { return "org-1" })(handler)

	req := httptest.NewRequest(http.MethodPost, "/t", strings.NewReader(`{"a":1}`))
	req.Header.Set(HeaderKey, "key-1")
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/t", strings.NewReader(`{"a":2}`))
	req.Header.Set(HeaderKey, "key-1")
	rec = httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CONFLICT", rec.Header().Get(HeaderStatus))
}

func TestMiddleware_NoKeyPassesThrough(t *testing.T) {
	ledger := newTestLedger(t, DefaultConfig())
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusCreated)
	})
	wrapped := Middleware(ledger, "trigger", func(*http.Request) string { return "org-1" })(handler)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/t", strings.NewReader(`{}`))
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Empty(t, rec.Header().Get(HeaderStatus))
	}
	assert.Equal(t, int32(2), calls.Load())
}
