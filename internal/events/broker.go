package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/abdoElHodaky/tradSys/internal/config"
	"go-micro.dev/v4/broker"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// BrokerParams contains parameters for creating a broker with fx
// dependency injection.
type BrokerParams struct {
	fx.In

	Config    *config.Config
	Logger    *zap.Logger
	Lifecycle fx.Lifecycle
}

// NewBroker creates the message broker the engine publishes events
// through, wired up with fx lifecycle hooks so it connects on app start
// and disconnects on shutdown.
func NewBroker(p BrokerParams) broker.Broker {
	var b broker.Broker

	switch p.Config.Broker.Type {
	case "nats":
		b = broker.NewBroker(broker.Addrs(p.Config.Broker.Address))
	default:
		b = broker.NewBroker()
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := b.Connect(); err != nil {
				return err
			}
			p.Logger.Info("event broker connected", zap.String("type", p.Config.Broker.Type))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := b.Disconnect(); err != nil {
				return err
			}
			p.Logger.Info("event broker disconnected")
			return nil
		},
	})

	return b
}

// BrokerModule provides the broker module for fx.
var BrokerModule = fx.Options(
	fx.Provide(NewBroker),
)

// BrokerPublisher implements Publisher over a go-micro broker.Broker,
// partitioning by Topic(kind, pair) per spec §6's event topic layout.
type BrokerPublisher struct {
	broker broker.Broker
	logger *zap.Logger
}

// NewBrokerPublisher wraps b as a Publisher.
func NewBrokerPublisher(b broker.Broker, logger *zap.Logger) *BrokerPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BrokerPublisher{broker: b, logger: logger}
}

// Publish marshals env to JSON and publishes it on its per-pair,
// per-kind topic.
func (p *BrokerPublisher) Publish(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("events: marshal envelope: %w", err)
	}

	topic := Topic(env.Kind, env.Pair)
	msg := &broker.Message{
		Header: map[string]string{
			"schema_version": fmt.Sprintf("%d", env.SchemaVersion),
			"kind":           string(env.Kind),
		},
		Body: body,
	}

	if err := p.broker.Publish(topic, msg); err != nil {
		p.logger.Warn("event publish failed",
			zap.String("topic", topic),
			zap.Uint64("offset", env.Offset),
			zap.Error(err))
		return err
	}
	return nil
}
