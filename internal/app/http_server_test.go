package app

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	healthcheck "github.com/vladislavdragonenkov/ordersync/internal/health"
	"github.com/vladislavdragonenkov/ordersync/internal/version"
)

func TestOpsHandler_Endpoints(t *testing.T) {
	t.Parallel()

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("staging", healthcheck.NewPingChecker("staging", func(context.Context) error { return nil }))
	srv := httptest.NewServer(newOpsHandler(healthHandler))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, body)

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/livez")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", string(body))
}

func TestServeHTTP_StopsOnCancel(t *testing.T) {
	t.Parallel()

	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- serveHTTP(ctx, srv, "test", quietLogger()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServeHTTP_ReportsListenError(t *testing.T) {
	t.Parallel()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = lis.Close() })

	srv := &http.Server{Addr: lis.Addr().String(), Handler: http.NotFoundHandler()}
	err = serveHTTP(context.Background(), srv, "intake", quietLogger())
	require.Error(t, err)
	require.Contains(t, err.Error(), "intake server")
}

func TestShutdownHTTP_NilServer(t *testing.T) {
	t.Parallel()

	shutdownHTTP(nil, quietLogger())
}

func TestNewGRPCServer_HealthStatuses(t *testing.T) {
	t.Parallel()

	grpcServer, healthServer := newGRPCServer(quietLogger())
	t.Cleanup(grpcServer.Stop)

	resp, err := healthServer.Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	resp, err = healthServer.Check(context.Background(), &healthpb.HealthCheckRequest{Service: SyncServiceName})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())
}
