package deadletter

import (
	"context"

	"github.com/segmentio/kafka-go"
	"github.com/vysogota0399/settlement_engine/internal/config"
	"github.com/vysogota0399/settlement_engine/internal/logging"
	"go.uber.org/fx"
)

type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(
	lc fx.Lifecycle,
	cfg *config.Config,
	errLogger *logging.KafkaErrorLogger,
	logger *logging.KafkaLogger,
) *Publisher {
	w := &kafka.Writer{
		Addr:        kafka.TCP(cfg.KafkaBrokers...),
		Topic:       cfg.KafkaDeadLetterTopic,
		Balancer:    &kafka.LeastBytes{},
		Logger:      logger,
		ErrorLogger: errLogger,
	}

	lc.Append(
		fx.Hook{
			OnStop: func(ctx context.Context) error {
				return w.Close()
			},
		},
	)

	return &Publisher{writer: w}
}

func (p *Publisher) Publish(ctx context.Context, key string, value []byte) error {
	return p.writer.WriteMessages(
		ctx,
		kafka.Message{
			Key:   []byte(key),
			Value: value,
		},
	)
}
