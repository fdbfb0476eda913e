package settlement

import (
	"go.uber.org/fx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
)

var Module = fx.Module("settlement.service",
	fx.Provide(NewService),
	fx.Invoke(registerRoutes),
	fx.Invoke(registerHealthServer),
)

func registerHealthServer(server *grpc.Server, service *Service) {
	grpc_health_v1.RegisterHealthServer(server, service)
}
