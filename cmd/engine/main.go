// Command engine is the trading engine process: it loads configuration,
// connects the durable store and event broker, replays the balance
// checkpoint (spec §6's recovery protocol), starts the matching engine
// and the trade consumer, and blocks until signalled to stop. It has no
// gRPC/HTTP surface of its own — submitting commands to the running
// Engine is an external collaborator's job (see internal/engine.Engine).
package main

import (
	"context"
	"strings"

	"go-micro.dev/v4/broker"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/abdoElHodaky/tradSys/internal/balance"
	"github.com/abdoElHodaky/tradSys/internal/config"
	"github.com/abdoElHodaky/tradSys/internal/consumer"
	"github.com/abdoElHodaky/tradSys/internal/db/repositories"
	"github.com/abdoElHodaky/tradSys/internal/decimal"
	"github.com/abdoElHodaky/tradSys/internal/engine"
	"github.com/abdoElHodaky/tradSys/internal/events"
	"github.com/abdoElHodaky/tradSys/internal/fees"
	"github.com/abdoElHodaky/tradSys/internal/orderbook"
	"github.com/abdoElHodaky/tradSys/internal/position"
)

func splitPair(pair string) (base, quote string) {
	parts := strings.SplitN(pair, "/", 2)
	if len(parts) != 2 {
		return pair, ""
	}
	return parts[0], parts[1]
}

func newPublisher(b broker.Broker, logger *zap.Logger) events.Publisher {
	return events.NewBrokerPublisher(b, logger)
}

func newBalanceStore(logger *zap.Logger) *balance.Store {
	return balance.New(logger)
}

type engineParams struct {
	fx.In

	Balances  *balance.Store
	Publisher events.Publisher
	Logger    *zap.Logger
	Lifecycle fx.Lifecycle
}

func newEngine(p engineParams) *engine.Engine {
	e := engine.NewEngine(p.Balances, p.Publisher, p.Logger, engine.Options{})
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			e.Close()
			return nil
		},
	})
	return e
}

func newFeeCalculator(cfg *config.Config) *fees.Calculator {
	defaultRate, err := decimal.NewFromString(cfg.Fees.DefaultRate)
	if err != nil {
		defaultRate = fees.DefaultRate
	}

	rules := make([]fees.Rule, 0, len(cfg.Fees.Rules))
	for _, r := range cfg.Fees.Rules {
		rate, err := decimal.NewFromString(r.Rate)
		if err != nil {
			continue
		}
		rule := fees.Rule{Asset: r.Asset, Rate: rate}
		if r.Pair != "" {
			base, quote := splitPair(r.Pair)
			pair := orderbook.Pair{Base: base, Quote: quote}
			rule.Pair = &pair
		}
		rules = append(rules, rule)
	}

	return fees.New(rules, defaultRate)
}

func newOrderRepository(db *gorm.DB, logger *zap.Logger) *repositories.OrderRepository {
	return repositories.NewOrderRepository(db, logger)
}

func newTradeRepository(db *gorm.DB, logger *zap.Logger) *repositories.TradeRepository {
	return repositories.NewTradeRepository(db, logger)
}

func newBalanceRepository(db *gorm.DB, logger *zap.Logger) *repositories.BalanceRepository {
	return repositories.NewBalanceRepository(db, logger)
}

func newDeadLetterSink(publisher events.Publisher, logger *zap.Logger) consumer.DeadLetterSink {
	return consumer.NewBrokerDeadLetterSink(publisher, logger)
}

func newConsumer(orders *repositories.OrderRepository, trades *repositories.TradeRepository, feeCalc *fees.Calculator, dlq consumer.DeadLetterSink, logger *zap.Logger) *consumer.Consumer {
	return consumer.New(orders, trades, feeCalc, dlq, logger, consumer.Options{})
}

func newPositionProjector() *position.Projector {
	return position.New()
}

// recoveryParams collects what's needed to replay the balance
// checkpoint into the in-memory store before the engine starts
// accepting commands.
type recoveryParams struct {
	fx.In

	Balances   *balance.Store
	Repository *repositories.BalanceRepository
	Lifecycle  fx.Lifecycle
	Logger     *zap.Logger
}

func registerRecovery(p recoveryParams) {
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			rows, err := p.Repository.All(ctx)
			if err != nil {
				return err
			}
			for _, row := range rows {
				p.Balances.Set(row.UserID, balance.Asset(row.MintAddress), row.Available, row.Locked)
			}
			p.Logger.Info("replayed balance checkpoint", zap.Int("rows", len(rows)))
			return nil
		},
	})
}

// subscriptionParams wires the trade consumer onto the broker's
// trade-executed and order-cancelled partitions for every configured
// pair, and unsubscribes them on shutdown.
type subscriptionParams struct {
	fx.In

	Broker    broker.Broker
	Consumer  *consumer.Consumer
	Config    *config.Config
	Lifecycle fx.Lifecycle
	Logger    *zap.Logger
}

func registerSubscriptions(p subscriptionParams) {
	bases := make([]string, 0, len(p.Config.Engine.Pairs))
	for _, pair := range p.Config.Engine.Pairs {
		base, _ := splitPair(pair)
		bases = append(bases, base)
	}

	var subs []broker.Subscriber
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			var err error
			subs, err = consumer.Subscribe(p.Broker, p.Consumer, bases)
			if err != nil {
				return err
			}
			p.Logger.Info("trade consumer subscribed", zap.Strings("pairs", bases))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			for _, sub := range subs {
				if err := sub.Unsubscribe(); err != nil {
					p.Logger.Warn("failed to unsubscribe consumer", zap.Error(err))
				}
			}
			return nil
		},
	})
}

func main() {
	app := fx.New(
		config.Module,
		config.DatabaseModule,
		events.BrokerModule,
		fx.Provide(
			newPublisher,
			newBalanceStore,
			newEngine,
			newFeeCalculator,
			newOrderRepository,
			newTradeRepository,
			newBalanceRepository,
			newDeadLetterSink,
			newConsumer,
			newPositionProjector,
		),
		fx.Invoke(registerRecovery, registerSubscriptions),
	)

	app.Run()
}
