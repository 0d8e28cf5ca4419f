package main

import (
	main_config "github.com/vysogota0399/settlement_engine/internal/config"
	"github.com/vysogota0399/settlement_engine/internal/deadletter"
	"github.com/vysogota0399/settlement_engine/internal/logging"
	"github.com/vysogota0399/settlement_engine/internal/reconciliation"
	"github.com/vysogota0399/settlement_engine/internal/repositories"
	"github.com/vysogota0399/settlement_engine/internal/storage"
	"go.uber.org/fx"
)

func main() {
	fx.New(CreateApp()).Run()
}

func CreateApp() fx.Option {
	return fx.Options(
		fx.Provide(
			logging.NewZapLogger,
			logging.NewKafkaErrorLogger,
			logging.NewKafkaLogger,
			storage.NewStorage,

			reconciliation.NewDaemon,
			reconciliation.NewConsumer,
			reconciliation.NewReconciler,

			fx.Annotate(deadletter.NewHandler, fx.As(new(reconciliation.DeadLetterHandler))),
			fx.Annotate(deadletter.NewPublisher, fx.As(new(deadletter.AlertPublisher))),

			fx.Annotate(repositories.NewInboxEventsRepository,
				fx.As(new(reconciliation.InboxEventsRepository)),
				fx.As(new(reconciliation.ConsumerInboxEventsRepository)),
				fx.As(new(deadletter.InboxEventsRepository)),
			),
			fx.Annotate(repositories.NewTransactionsRepository, fx.As(new(reconciliation.ReconcilerTransactionsRepository))),
			fx.Annotate(repositories.NewAuditRepository,
				fx.As(new(reconciliation.ReconcilerAuditRepository)),
				fx.As(new(deadletter.AuditRepository)),
			),
			fx.Annotate(repositories.NewDeadLettersRepository, fx.As(new(deadletter.DeadLettersRepository))),
		),
		fx.Supply(
			main_config.MustNewConfig(),
			reconciliation.MustNewConfig(),
		),
		fx.Invoke(startDaemon, startConsumer),
	)
}

func startDaemon(*reconciliation.Daemon)     {}
func startConsumer(*reconciliation.Consumer) {}
