package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordersync/internal/service/ordersync"
)

func serve(t *testing.T, h *Handler) (int, Response) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var response Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	return w.Code, response
}

func TestHandler_Healthy(t *testing.T) {
	t.Parallel()

	h := NewHandler("v1.0.0")
	h.RegisterChecker("staging", NewPingChecker("staging", func(context.Context) error { return nil }))

	code, response := serve(t, h)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, StatusHealthy, response.Status)
	require.Equal(t, "v1.0.0", response.Version)
	require.Len(t, response.Checks, 1)
}

func TestHandler_UnhealthyPing(t *testing.T) {
	t.Parallel()

	h := NewHandler("dev")
	h.RegisterChecker("staging", NewPingChecker("staging", func(context.Context) error {
		return errors.New("connection refused")
	}))

	code, response := serve(t, h)
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, StatusUnhealthy, response.Status)
	require.Equal(t, "connection refused", response.Checks["staging"].Message)
}

func TestHandler_DegradedKeeps200(t *testing.T) {
	t.Parallel()

	h := NewHandler("dev")
	h.RegisterChecker("sync_cycle", NewCycleChecker(0))

	code, response := serve(t, h)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, StatusDegraded, response.Status)
}

func TestLivenessHandler(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	LivenessHandler(w, httptest.NewRequest(http.MethodGet, "/livez", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ok", w.Body.String())
}

func TestCycleChecker_Transitions(t *testing.T) {
	t.Parallel()

	c := NewCycleChecker(15 * time.Minute)
	now := time.Date(2025, 4, 10, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	var signals []bool
	c.OnChange(func(healthy bool) { signals = append(signals, healthy) })

	require.Equal(t, StatusDegraded, c.Check(context.Background()).Status)

	c.Observe(ordersync.CycleReport{FinishedAt: now}, nil)
	require.Equal(t, StatusHealthy, c.Check(context.Background()).Status)

	c.Observe(ordersync.CycleReport{FinishedAt: now}, errors.New("tenant PLUSBRAND: connection_error"))
	check := c.Check(context.Background())
	require.Equal(t, StatusDegraded, check.Status)
	require.Contains(t, check.Message, "PLUSBRAND")

	now = now.Add(time.Hour)
	require.Equal(t, StatusUnhealthy, c.Check(context.Background()).Status)

	require.Equal(t, []bool{true, false}, signals)
}

func TestCycleChecker_StandbyReplicaStaysHealthy(t *testing.T) {
	t.Parallel()

	c := NewCycleChecker(15 * time.Minute)
	now := time.Date(2025, 4, 10, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	var signals []bool
	c.OnChange(func(healthy bool) { signals = append(signals, healthy) })

	c.ObserveStandby()
	check := c.Check(context.Background())
	require.Equal(t, StatusHealthy, check.Status)
	require.Contains(t, check.Message, "standby")

	// Реплика выполнила цикл, затем снова уступила блокировку на несколько интервалов.
	c.Observe(ordersync.CycleReport{FinishedAt: now}, nil)
	for i := 0; i < 4; i++ {
		now = now.Add(10 * time.Minute)
		c.ObserveStandby()
	}
	require.Equal(t, StatusHealthy, c.Check(context.Background()).Status)

	now = now.Add(time.Hour)
	require.Equal(t, StatusUnhealthy, c.Check(context.Background()).Status)

	require.Equal(t, []bool{true, true, true, true, true, true}, signals)
}
