// v1
// internal/ops/server_test.go
package ops

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/OnLog-System/onlog-pipeline/internal/metrics"
)

func newTestServer(t *testing.T, status StatusFunc) *Server {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(":0", "parser", metrics.New("ops_test"), status, log)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

func TestStatusSnapshot(t *testing.T) {
	s := newTestServer(t, func() Status {
		return Status{Service: "kpi", WatermarkMs: 1740825000000, OpenWindows: 3}
	})
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "kpi", got.Service)
	require.Equal(t, int64(1740825000000), got.WatermarkMs)
	require.Equal(t, 3, got.OpenWindows)
}

func TestMetricsExposition(t *testing.T) {
	s := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ops_test_parse_failures_total")
}

func TestStatusDefaultsToServiceName(t *testing.T) {
	s := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	var got Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "parser", got.Service)
}
