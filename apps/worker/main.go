package main

import (
	"context"
	"errors"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/tally/internal/audit"
	"github.com/smallbiznis/tally/internal/clock"
	"github.com/smallbiznis/tally/internal/config"
	"github.com/smallbiznis/tally/internal/invoice"
	"github.com/smallbiznis/tally/internal/observability"
	"github.com/smallbiznis/tally/internal/progress"
	"github.com/smallbiznis/tally/internal/queue"
	"github.com/smallbiznis/tally/internal/reconciliation"
	recondomain "github.com/smallbiznis/tally/internal/reconciliation/domain"
	"github.com/smallbiznis/tally/internal/reconciliation/worker"
	"github.com/smallbiznis/tally/pkg/db"
	"github.com/smallbiznis/tally/pkg/log"
	"github.com/smallbiznis/tally/pkg/telemetry"
)

func main() {
	app := fx.New(
		config.Module,
		log.Module,
		observability.Module,
		telemetry.Module,
		db.Module,
		clock.Module,

		// Domain modules the batch worker depends on
		audit.Module,
		invoice.Module,
		progress.Module,
		queue.Module,
		reconciliation.Module,

		fx.Invoke(startWorker),
	)
	app.Run()
}

type workerParams struct {
	fx.In

	LC     fx.Lifecycle
	Cfg    config.Config
	Log    *zap.Logger
	Worker *worker.Worker
	Queue  *queue.RedisQueue
}

// startWorker runs queue consumers for the batch processing job until
// shutdown. Without redis there is nothing to consume; the API executes
// batches in-process in that mode, so a dedicated worker is a misdeploy.
func startWorker(p workerParams) error {
	if !p.Queue.Enabled() {
		return errors.New("queue disabled: the worker needs REDIS_ADDR")
	}

	ctx, cancel := context.WithCancel(context.Background())

	p.LC.Append(fx.Hook{
		OnStart: func(context.Context) error {
			p.Log.Info("batch worker starting",
				zap.Int("concurrency", p.Cfg.WorkerConcurrency),
				zap.Int("max_attempts", p.Cfg.WorkerMaxAttempts),
			)
			p.Queue.Consume(ctx, recondomain.JobBatchProcessing, p.Worker.Handle, queue.Options{
				Concurrency: p.Cfg.WorkerConcurrency,
				LockTTL:     time.Duration(p.Cfg.WorkerLockSeconds) * time.Second,
				MaxAttempts: p.Cfg.WorkerMaxAttempts,
				Backoff:     time.Duration(p.Cfg.WorkerBackoffSeconds) * time.Second,
			})
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			p.Queue.Wait()
			return p.Queue.Close()
		},
	})
	return nil
}
