package httpx

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

func TestHealthHandler(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodHead} {
		t.Run(method, func(t *testing.T) {
			rec := httptest.NewRecorder()
			healthHandler(rec, httptest.NewRequest(method, "/healthz", nil))

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			if method == http.MethodHead {
				assert.Zero(t, rec.Body.Len())
				return
			}
			assert.Equal(t, healthResponse, rec.Body.String())
		})
	}
}

func serveReady(t *testing.T, h *readyHandler, method string) (*httptest.ResponseRecorder, readinessResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, "/readyz", nil))

	var body readinessResponse
	if method == http.MethodGet {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestReadyHandlerAllHealthy(t *testing.T) {
	h := &readyHandler{
		checks: map[string]ReadinessCheck{
			"postgres": func(context.Context) error { return nil },
			"redis":    func(context.Context) error { return nil },
		},
		logger: discardLogger(),
	}

	rec, body := serveReady(t, h, http.MethodGet)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, map[string]string{"postgres": "ok", "redis": "ok"}, body.Checks)
}

func TestReadyHandlerReportsFailure(t *testing.T) {
	h := &readyHandler{
		checks: map[string]ReadinessCheck{
			"postgres": func(context.Context) error { return errors.New("connection refused") },
			"redis":    func(context.Context) error { return nil },
		},
		logger: discardLogger(),
	}

	rec, body := serveReady(t, h, http.MethodGet)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", body.Status)
	assert.Equal(t, "unavailable", body.Checks["postgres"])
	assert.Equal(t, "ok", body.Checks["redis"])
	assert.NotContains(t, rec.Body.String(), "connection refused")

	rec, _ = serveReady(t, h, http.MethodHead)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Zero(t, rec.Body.Len())
}

func TestReadyHandlerTimesOutSlowChecks(t *testing.T) {
	h := &readyHandler{
		checks: map[string]ReadinessCheck{
			"slow": func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			},
		},
		timeout: 20 * time.Millisecond,
		logger:  discardLogger(),
	}

	start := time.Now()
	rec, _ := serveReady(t, h, http.MethodGet)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Less(t, time.Since(start), time.Second)
}

func TestReadyHandlerWithoutChecks(t *testing.T) {
	rec, body := serveReady(t, &readyHandler{logger: discardLogger()}, http.MethodGet)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body.Checks)
}
