package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"fundflow-settlement/pkg/config"
	"fundflow-settlement/pkg/db"
	"fundflow-settlement/pkg/health"
	"fundflow-settlement/pkg/logger"
	"fundflow-settlement/pkg/redis"
	"fundflow-settlement/pkg/sequence"
	"fundflow-settlement/pkg/server"
	"fundflow-settlement/pkg/task"
	"fundflow-settlement/services/campaign"
	"fundflow-settlement/services/funding"
	"fundflow-settlement/services/settlement"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		task.Client,
		sequence.Module,
		fx.Provide(
			provideTracerProvider,
			provideMeterProvider,
			provideSnowflakeNode,
		),
		fx.Invoke(registerDBTelemetry),
		campaign.Module,
		funding.Module,
		settlement.Module,
		health.Module,
		server.ProvideGRPCServer,
		server.ProvideHTTPServer,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideTracerProvider() trace.TracerProvider {
	return otel.GetTracerProvider()
}

func provideMeterProvider() metric.MeterProvider {
	return otel.GetMeterProvider()
}

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func registerDBTelemetry(cfg *config.Config, gdb *gorm.DB) error {
	if err := db.Otel(gdb); err != nil {
		return err
	}
	if cfg.Database.Type != "sqlite" {
		return db.Metric(cfg)(gdb)
	}
	return nil
}
