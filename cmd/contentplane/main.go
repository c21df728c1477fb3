package main

import (
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"contentplane/internal/httpapi"
	"contentplane/internal/server"
	pkgasynq "contentplane/pkg/asynq"
	"contentplane/pkg/config"
	"contentplane/pkg/db"
	"contentplane/pkg/gen"
	"contentplane/pkg/health"
	"contentplane/pkg/logger"
	"contentplane/pkg/redis"
	"contentplane/pkg/sequence"
	"contentplane/services/apikey"
	"contentplane/services/domain"
	"contentplane/services/entitlement"
	"contentplane/services/license"
	"contentplane/services/tenant"
	"contentplane/services/usage"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		gen.Module,
		sequence.Module,
		pkgasynq.Client,
		health.Module,

		license.Module,
		domain.Module,
		usage.Module,
		entitlement.Module,
		tenant.Module,
		apikey.Module,

		httpapi.Module,
		fx.Provide(
			provideTracerProvider,
			server.ProvideHTTPServer,
		),
		fx.Invoke(
			autoMigrate,
			server.Run,
		),
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	fx.New(opts...).Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideTracerProvider() trace.TracerProvider {
	return otel.GetTracerProvider()
}

func autoMigrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&tenant.Tenant{},
		&license.License{},
		&domain.DomainSlot{},
		&usage.GenerationEvent{},
		&apikey.APIKey{},
	)
}
