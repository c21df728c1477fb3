package main

import (
	"log"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	pkgasynq "contentplane/pkg/asynq"
	"contentplane/pkg/config"
	"contentplane/pkg/db"
	"contentplane/pkg/gen"
	"contentplane/pkg/logger"
	"contentplane/pkg/redis"
	"contentplane/services/license"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		gen.Module,

		pkgasynq.Server,
		pkgasynq.Scheduler,

		license.Module,
		license.TaskModule,

		fx.Invoke(registerSchedules),
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

// registerSchedules enrolls the recurring jobs. The expiry sweep is hygiene
// on top of the lazy read-time transition, so its cadence is coarse.
func registerSchedules(cfg *config.Config, scheduler *asynq.Scheduler) error {
	entryID, err := scheduler.Register(
		cfg.Worker.ExpirySweepSchedule,
		asynq.NewTask(license.ExpirySweepTask, nil),
		asynq.Queue("low"),
	)
	if err != nil {
		return err
	}

	zap.L().Info("expiry sweep scheduled",
		zap.String("entry_id", entryID),
		zap.String("schedule", cfg.Worker.ExpirySweepSchedule),
	)
	return nil
}
