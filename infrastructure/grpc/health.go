// Package grpc exposes the relay health over the standard gRPC health protocol.
package grpc

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	BroadcastService = "relay.broadcast"
	TunnelService    = "relay.tunnel"
)

// HealthServer reports SERVING for every relay mode it was told about,
// for as long as it runs.
type HealthServer struct {
	log      *slog.Logger
	listener net.Listener
	server   *gogrpc.Server
	health   *health.Server
	services []string
}

func NewHealthServer(log *slog.Logger, listener net.Listener, services ...string) *HealthServer {
	server := gogrpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	for _, service := range services {
		healthServer.SetServingStatus(service, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	}
	return &HealthServer{
		log:      log,
		listener: listener,
		server:   server,
		health:   healthServer,
		services: services,
	}
}

func (h *HealthServer) Addr() net.Addr { return h.listener.Addr() }

// Run serves until ctx is done. Statuses flip to NOT_SERVING before the server stops.
func (h *HealthServer) Run(ctx context.Context) error {
	for _, service := range h.services {
		h.health.SetServingStatus(service, grpc_health_v1.HealthCheckResponse_SERVING)
	}
	h.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	errChan := make(chan error, 1)
	go func() {
		h.log.Info("Starting gRPC health server", "address", h.listener.Addr().String())
		if err := h.server.Serve(h.listener); err != nil && err != gogrpc.ErrServerStopped {
			errChan <- fmt.Errorf("gRPC health server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		h.health.Shutdown()
		h.server.GracefulStop()
		return nil
	case err := <-errChan:
		return err
	}
}
