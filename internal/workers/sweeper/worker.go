package sweeper

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/custody-service/custody_service/internal/domain/services/sweep"
	"github.com/custody-service/custody_service/internal/infrastructure/config"
)

// Worker runs the sweep engine on its cron schedule. A cycle that outlives
// the schedule is not stacked; the overlapping trigger is dropped.
type Worker struct {
	engine   *sweep.Engine
	cfg      config.SweepConfig
	cron     *cron.Cron
	logger   *zap.Logger
	inFlight atomic.Bool
}

func NewWorker(engine *sweep.Engine, cfg config.SweepConfig, logger *zap.Logger) *Worker {
	return &Worker{
		engine: engine,
		cfg:    cfg,
		cron:   cron.New(),
		logger: logger,
	}
}

func (w *Worker) Start() error {
	if !w.cfg.Enabled {
		w.logger.Info("Sweep worker disabled by configuration")
		return nil
	}

	spec := w.cfg.CronSpec
	if spec == "" {
		spec = "*/10 * * * *"
	}

	_, err := w.cron.AddFunc(spec, func() {
		if !w.inFlight.CompareAndSwap(false, true) {
			w.logger.Warn("Skipping sweep cycle, previous cycle still running")
			return
		}
		defer w.inFlight.Store(false)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()

		w.engine.RunCycle(ctx)
	})
	if err != nil {
		return err
	}

	w.cron.Start()
	w.logger.Info("Sweep worker started", zap.String("schedule", spec))
	return nil
}

func (w *Worker) Stop() {
	w.cron.Stop()
	w.logger.Info("Sweep worker stopped")
}
