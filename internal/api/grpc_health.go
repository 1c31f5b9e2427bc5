package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// NewGRPCHealthServer builds a grpc.Server exposing the standard
// grpc.health.v1.Health service, grounded on the reference's bare
// grpc.NewServer()+RegisterXService wiring (cmd/problem-service/
// main.go), repurposed here from a domain RPC service to the health
// protocol orchestrators and load balancers poll directly.
func NewGRPCHealthServer(checker *StoreHealthChecker) *grpc.Server {
	srv := grpc.NewServer()
	healthSrv := health.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, healthSrv)

	status := grpc_health_v1.HealthCheckResponse_SERVING
	if checker != nil {
		h := checker.CheckHealth(context.Background())
		if !h.HotStoreOK || !h.ColdStoreOK {
			status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
		}
	}
	healthSrv.SetServingStatus("coderunner.exec", status)

	return srv
}
