package main

import (
	"github.com/vysogota0399/settlement_engine/internal/cache"
	main_config "github.com/vysogota0399/settlement_engine/internal/config"
	"github.com/vysogota0399/settlement_engine/internal/logging"
	"github.com/vysogota0399/settlement_engine/internal/repositories"
	"github.com/vysogota0399/settlement_engine/internal/settlement"
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
			storage.NewStorage,

			settlement.NewGuard,
			settlement.NewLimitChecker,
			settlement.NewProcessor,
			settlement.NewService,
			settlement.NewRecoveryDaemon,

			fx.Annotate(cache.NewBalanceCache, fx.As(new(settlement.BalanceInvalidator)), fx.As(new(settlement.ServiceBalanceCache))),

			fx.Annotate(repositories.NewIdempotencyRepository,
				fx.As(new(settlement.GuardIdempotencyRepository)),
				fx.As(new(settlement.ProcessorIdempotencyRepository)),
				fx.As(new(settlement.RecoveryIdempotencyRepository)),
			),
			fx.Annotate(repositories.NewLimitsRepository, fx.As(new(settlement.LimitsRepository))),
			fx.Annotate(repositories.NewAccountsRepository,
				fx.As(new(settlement.ProcessorAccountsRepository)),
				fx.As(new(settlement.ServiceAccountsRepository)),
			),
			fx.Annotate(repositories.NewTransactionsRepository,
				fx.As(new(settlement.UsageRepository)),
				fx.As(new(settlement.ProcessorTransactionsRepository)),
				fx.As(new(settlement.ServiceTransactionsRepository)),
				fx.As(new(settlement.RecoveryTransactionsRepository)),
			),
			fx.Annotate(repositories.NewOutboxRepository, fx.As(new(settlement.ProcessorOutboxRepository))),
			fx.Annotate(repositories.NewAuditRepository,
				fx.As(new(settlement.ProcessorAuditRepository)),
				fx.As(new(settlement.ServiceAuditRepository)),
			),
			fx.Annotate(repositories.NewInboxEventsRepository, fx.As(new(settlement.ServiceInboxRepository))),
		),
		fx.Supply(
			main_config.MustNewConfig(),
			settlement.MustNewConfig(),
		),
		fx.Invoke(
			startService,
			startRecoveryDaemon,
		),
	)
}

func startService(*settlement.Service) {}

func startRecoveryDaemon(*settlement.RecoveryDaemon) {}
