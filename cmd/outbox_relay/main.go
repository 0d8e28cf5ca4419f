package main

import (
	main_config "github.com/vysogota0399/settlement_engine/internal/config"
	"github.com/vysogota0399/settlement_engine/internal/logging"
	"github.com/vysogota0399/settlement_engine/internal/outbox_relay"
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

			outbox_relay.NewDaemon,
			fx.Annotate(outbox_relay.NewPublisher, fx.As(new(outbox_relay.EventPublisher))),
			fx.Annotate(repositories.NewOutboxRepository, fx.As(new(outbox_relay.OutboxRepository))),
		),
		fx.Supply(
			main_config.MustNewConfig(),
			outbox_relay.MustNewConfig(),
		),
		fx.Invoke(startDaemon),
	)
}

func startDaemon(*outbox_relay.Daemon) {}
