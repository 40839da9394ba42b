package reconciliation

import (
	"github.com/smallbiznis/tally/internal/reconciliation/domain"
	"github.com/smallbiznis/tally/internal/reconciliation/repository"
	"github.com/smallbiznis/tally/internal/reconciliation/service"
	"github.com/smallbiznis/tally/internal/reconciliation/worker"
	"go.uber.org/fx"
)

var Module = fx.Module("reconciliation.service",
	fx.Provide(repository.Provide),
	fx.Provide(worker.NewWorker),
	fx.Provide(func(w *worker.Worker) domain.Processor { return w }),
	fx.Provide(service.NewService),
)
