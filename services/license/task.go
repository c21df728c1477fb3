package license

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var TaskModule = fx.Module("task.license",
	fx.Provide(NewTask),
	fx.Invoke(registerTaskHandlers),
)

type Task struct {
	svc *Service
}

type TaskParams struct {
	fx.In

	Service *Service
}

func NewTask(p TaskParams) *Task {
	return &Task{svc: p.Service}
}

func registerTaskHandlers(mux *asynq.ServeMux, task *Task) {
	mux.HandleFunc(ExpirySweepTask, task.HandleExpirySweep)
}

// HandleExpirySweep bulk-expires overdue licenses. An empty payload sweeps
// everything overdue as of now.
func (t *Task) HandleExpirySweep(ctx context.Context, task *asynq.Task) error {
	var payload ExpirySweepPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("invalid payload: %w", err)
		}
	}

	before := payload.Before
	if before.IsZero() {
		before = time.Now()
	}

	zapLog := zap.L().With(
		zap.String("task_type", task.Type()),
		zap.Time("before", before),
	)

	n, err := t.svc.SweepExpired(ctx, before)
	if err != nil {
		zapLog.Error("expiry sweep failed", zap.Error(err))
		return err
	}

	zapLog.Info("expiry sweep completed", zap.Int64("expired", n))
	return nil
}
