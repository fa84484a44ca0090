package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/popshop/internal/perf"
)

type failingRecorder struct{ perf.Recorder }

func (failingRecorder) Record(context.Context, perf.Sample) error {
	return errors.New("redis down")
}

func (failingRecorder) RecordSlow(context.Context, perf.Sample) error {
	return errors.New("redis down")
}

func TestPerformanceMonitor(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := perf.NewMemoryRecorder(nil)

	r := gin.New()
	r.Use(PerformanceMonitor(recorder, 20*time.Millisecond))
	r.GET("/api/popups/:id", func(c *gin.Context) {
		if c.Param("id") == "slow" {
			time.Sleep(30 * time.Millisecond)
		}
		c.Status(http.StatusOK)
	})

	for _, id := range []string{"a", "b", "slow"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/popups/"+id, nil))
		require.Equal(t, http.StatusOK, w.Code)
	}

	stats, err := recorder.RouteStats(context.Background(), http.MethodGet, "/api/popups/:id")
	require.NoError(t, err)
	require.EqualValues(t, 3, stats.Count)
	require.GreaterOrEqual(t, stats.MaxMS, 30.0)

	slow, err := recorder.SlowRequests(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, slow, 1)
	require.Equal(t, "/api/popups/:id", slow[0].Path)
	require.Equal(t, http.StatusOK, slow[0].Status)
}

func TestPerformanceMonitorSwallowsRecorderErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(PerformanceMonitor(failingRecorder{}, time.Nanosecond))
	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ok", w.Body.String())
}
