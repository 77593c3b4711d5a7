package service

import (
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServiceName is the gRPC health service name reporting feed liveness.
const HealthServiceName = "marketview.Chart"

// HealthReporter mirrors feed liveness into a gRPC health server.
//
// The overall server status ("") stays SERVING while the process is up; the named
// service flips between SERVING and NOT_SERVING with every liveness transition.
type HealthReporter struct {
	server *health.Server
}

// NewHealthReporter registers the chart service as NOT_SERVING until the first good poll.
func NewHealthReporter(server *health.Server) *HealthReporter {
	server.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	server.SetServingStatus(HealthServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	return &HealthReporter{server: server}
}

// SetLive implements LivenessReporter.
func (h *HealthReporter) SetLive(live bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if live {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	h.server.SetServingStatus(HealthServiceName, status)
}

// Shutdown marks every service NOT_SERVING ahead of a graceful stop.
func (h *HealthReporter) Shutdown() {
	h.server.Shutdown()
}
