package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	require.NotPanics(t, func() {
		ObserveHTTPRequest(http.MethodGet, "/v1/jobs", http.StatusOK, 50*time.Millisecond)
		ObserveCacheHit()
		ObserveCacheMiss()
		ObserveCacheEviction(3)
		ObserveCacheEviction(0)
	})
}

func TestHandlerServesMetrics(t *testing.T) {
	Init()
	ObserveHTTPRequest(http.MethodGet, "/healthz", http.StatusOK, time.Millisecond)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
	require.Contains(t, rec.Body.String(), "cache_hits_total")
}
