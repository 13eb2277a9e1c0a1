// Package consumer implements the trade consumer of spec §4.8: it
// subscribes to the durable trade-executed and order-cancelled event
// partitions (internal/events) and idempotently projects them onto the
// persistent orders/trades/trade_fees tables (internal/db), under a
// per-order lock ordering that avoids deadlock with any concurrent
// application of the other side's own events.
//
// Grounded on the teacher's internal/db/repositories (gorm + zap
// repository idiom) and internal/architecture/retry.go (exponential
// backoff), with sony/gobreaker wrapping the durable write path per
// SPEC_FULL.md's resilience section.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go-micro.dev/v4/broker"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/abdoElHodaky/tradSys/internal/db/models"
	"github.com/abdoElHodaky/tradSys/internal/db/repositories"
	"github.com/abdoElHodaky/tradSys/internal/decimal"
	"github.com/abdoElHodaky/tradSys/internal/events"
	"github.com/abdoElHodaky/tradSys/internal/fees"
	"github.com/abdoElHodaky/tradSys/internal/orderbook"
	"github.com/abdoElHodaky/tradSys/internal/retry"
)

// DeadLetterSink receives an event whose retry budget (spec §4.8) has
// been exhausted.
type DeadLetterSink interface {
	Park(ctx context.Context, env events.Envelope, cause error) error
}

// BrokerDeadLetterSink republishes a parked event on its own
// `dead_lettered` partition (see events.KindDeadLettered) and logs an
// alert-level line, so an operator watching that partition (or the log
// pipeline) sees it.
type BrokerDeadLetterSink struct {
	publisher events.Publisher
	logger    *zap.Logger
}

// NewBrokerDeadLetterSink creates a BrokerDeadLetterSink.
func NewBrokerDeadLetterSink(publisher events.Publisher, logger *zap.Logger) *BrokerDeadLetterSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BrokerDeadLetterSink{publisher: publisher, logger: logger}
}

// Park republishes env under events.KindDeadLettered and logs the cause
// at error level, the closest this core gets to paging an operator
// without an external alerting integration in scope.
func (s *BrokerDeadLetterSink) Park(ctx context.Context, env events.Envelope, cause error) error {
	parked := env
	parked.Kind = events.KindDeadLettered
	if parked.Payload == nil {
		parked.Payload = map[string]string{}
	} else {
		cloned := make(map[string]string, len(parked.Payload)+1)
		for k, v := range parked.Payload {
			cloned[k] = v
		}
		parked.Payload = cloned
	}
	parked.Payload["dead_letter_reason"] = cause.Error()

	s.logger.Error("event dead-lettered after exhausting retry budget",
		zap.String("pair", env.Pair), zap.String("original_kind", string(env.Kind)), zap.Error(cause))

	return s.publisher.Publish(ctx, parked)
}

// Options configures the consumer's retry/backoff budget.
type Options struct {
	Retry retry.Options
}

func (o Options) withDefaults() Options {
	if o.Retry.MaxAttempts == 0 {
		o.Retry = retry.DefaultOptions()
	}
	return o
}

// Consumer applies durable trade-executed and order-cancelled events to
// the orders/trades/trade_fees tables.
type Consumer struct {
	orders *repositories.OrderRepository
	trades *repositories.TradeRepository
	fees   *fees.Calculator

	breaker    *gobreaker.CircuitBreaker
	deadletter DeadLetterSink
	opts       Options
	logger     *zap.Logger
}

// New creates a Consumer.
func New(orders *repositories.OrderRepository, trades *repositories.TradeRepository, feeCalc *fees.Calculator, deadletter DeadLetterSink, logger *zap.Logger, opts Options) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "trade-consumer-db",
		MaxRequests: 8,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("consumer circuit breaker state change",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	return &Consumer{
		orders:     orders,
		trades:     trades,
		fees:       feeCalc,
		breaker:    cb,
		deadletter: deadletter,
		opts:       opts,
		logger:     logger,
	}
}

// Handle dispatches one envelope by kind. It retries the durable write
// with backoff per c.opts.Retry and, if every attempt fails, parks the
// event with c.deadletter and returns the last error. The broker handler
// (handlerFor) ignores that error, so a parked event is not redelivered.
func (c *Consumer) Handle(ctx context.Context, env events.Envelope) error {
	var apply func() error
	switch env.Kind {
	case events.KindTradeExecuted:
		apply = func() error { return c.applyTradeExecuted(ctx, env) }
	case events.KindOrderCancelled:
		apply = func() error { return c.applyOrderCancelled(ctx, env) }
	default:
		return nil
	}

	err := retry.Do(ctx, c.opts.Retry, func() error {
		_, breakerErr := c.breaker.Execute(func() (interface{}, error) {
			return nil, apply()
		})
		return breakerErr
	})
	if err == nil {
		return nil
	}

	if c.deadletter != nil {
		if dlErr := c.deadletter.Park(ctx, env, err); dlErr != nil {
			c.logger.Error("failed to park dead-lettered event", zap.Error(dlErr))
		}
	}
	return err
}

func (c *Consumer) applyTradeExecuted(ctx context.Context, env events.Envelope) error {
	p := env.Payload

	tradeID, err := parseUint64(p["trade_id"])
	if err != nil {
		return fmt.Errorf("consumer: trade_executed missing trade_id: %w", err)
	}
	buyOrderID, err := parseUint64(p["buy_order_id"])
	if err != nil {
		return fmt.Errorf("consumer: trade_executed missing buy_order_id: %w", err)
	}
	sellOrderID, err := parseUint64(p["sell_order_id"])
	if err != nil {
		return fmt.Errorf("consumer: trade_executed missing sell_order_id: %w", err)
	}
	price, err := decimal.NewFromString(p["price"])
	if err != nil {
		return fmt.Errorf("consumer: trade_executed malformed price: %w", err)
	}
	amount, err := decimal.NewFromString(p["amount"])
	if err != nil {
		return fmt.Errorf("consumer: trade_executed malformed amount: %w", err)
	}
	takerOrderID, _ := parseUint64(p["taker_order_id"])

	base, quote := splitPair(env.Pair)

	return c.orders.WithTx(ctx, func(tx *gorm.DB) error {
		exists, err := c.trades.Exists(ctx, tx, tradeID)
		if err != nil {
			return err
		}
		if exists {
			// Step 2: idempotence — a redelivered event is a no-op success.
			return nil
		}

		// Step 1: lock both orders in ascending-id order to avoid
		// deadlock against a concurrent application that names the same
		// two orders in the opposite role.
		lo, hi := buyOrderID, sellOrderID
		if lo > hi {
			lo, hi = hi, lo
		}
		first, err := c.orders.FindByID(ctx, tx, lo)
		if err != nil {
			return err
		}
		second, err := c.orders.FindByID(ctx, tx, hi)
		if err != nil {
			return err
		}
		if first == nil || second == nil {
			return fmt.Errorf("consumer: trade %d references unknown order(s) %d/%d", tradeID, buyOrderID, sellOrderID)
		}

		var buyOrder, sellOrder *models.Order
		if first.ID == buyOrderID {
			buyOrder, sellOrder = first, second
		} else {
			buyOrder, sellOrder = second, first
		}

		quoteValue := price.Mul(amount)

		if err := applyFill(ctx, c.orders, tx, buyOrder, amount, quoteValue); err != nil {
			return err
		}
		if err := applyFill(ctx, c.orders, tx, sellOrder, amount, quoteValue); err != nil {
			return err
		}

		// Step 3: insert the trade row.
		if err := c.trades.Create(ctx, tx, &models.Trade{
			ID: tradeID, BuyOrderID: buyOrderID, SellOrderID: sellOrderID,
			BuyerID: p["buyer_id"], SellerID: p["seller_id"],
			BaseMint: base, QuoteMint: quote,
			Price: price, Amount: amount, CreatedAt: time.Now(),
		}); err != nil {
			return err
		}

		// Step 5: one trade_fee row per counterparty. Convention: the fee
		// is taken from the asset each side receives — base for the
		// buyer, quote for the seller.
		rate := c.fees.RateFor(orderbook.Pair{Base: base, Quote: quote})
		buyerFeeType, sellerFeeType := models.FeeTypeMaker, models.FeeTypeMaker
		if takerOrderID == buyOrderID {
			buyerFeeType = models.FeeTypeTaker
		} else if takerOrderID == sellOrderID {
			sellerFeeType = models.FeeTypeTaker
		}

		return c.trades.CreateFees(ctx, tx, []models.TradeFee{
			{
				TradeID: tradeID, UserID: p["buyer_id"], FeeType: buyerFeeType,
				FeeRate: rate, FeeAmount: rate.Mul(amount), FeeMint: base,
				TradeValue: quoteValue, CreatedAt: time.Now(),
			},
			{
				TradeID: tradeID, UserID: p["seller_id"], FeeType: sellerFeeType,
				FeeRate: rate, FeeAmount: rate.Mul(quoteValue), FeeMint: quote,
				TradeValue: quoteValue, CreatedAt: time.Now(),
			},
		})
	})
}

// applyFill updates one order's filled totals and status transition,
// per spec §4.8 step 4.
func applyFill(ctx context.Context, orders *repositories.OrderRepository, tx *gorm.DB, order *models.Order, amount, quoteValue decimal.Decimal) error {
	order.FilledAmount = order.FilledAmount.Add(amount)
	order.FilledQuoteAmount = order.FilledQuoteAmount.Add(quoteValue)

	status := order.Status
	if decimal.IsNonNegativeAfterEpsilon(order.FilledAmount, order.Amount) {
		// filled_amount == amount within epsilon (spec §4.8 step 4).
		status = models.OrderStatusFilled
	} else if order.FilledAmount.IsPositive() && status == models.OrderStatusPending {
		status = models.OrderStatusPartial
	}

	return orders.ApplyFill(ctx, tx, order, status)
}

func (c *Consumer) applyOrderCancelled(ctx context.Context, env events.Envelope) error {
	orderID, err := parseUint64(env.Payload["order_id"])
	if err != nil {
		return fmt.Errorf("consumer: order_cancelled missing order_id: %w", err)
	}

	return c.orders.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := c.orders.FindByID(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return nil
		}
		if order.Status == models.OrderStatusCancelled || order.Status == models.OrderStatusFilled {
			// Already terminal: idempotent no-op.
			return nil
		}
		return c.orders.MarkCancelled(ctx, tx, orderID)
	})
}

// Subscribe registers the consumer's handlers for trade-executed and
// order-cancelled events on every pair in pairs, returning the
// subscriptions so the caller can Unsubscribe them on shutdown.
func Subscribe(b broker.Broker, c *Consumer, pairBases []string) ([]broker.Subscriber, error) {
	var subs []broker.Subscriber
	for _, base := range pairBases {
		for _, kind := range []events.Kind{events.KindTradeExecuted, events.KindOrderCancelled} {
			topic := events.Topic(kind, base)
			sub, err := b.Subscribe(topic, handlerFor(c))
			if err != nil {
				return subs, fmt.Errorf("consumer: subscribe %s: %w", topic, err)
			}
			subs = append(subs, sub)
		}
	}
	return subs, nil
}

func handlerFor(c *Consumer) broker.Handler {
	return func(ev broker.Event) error {
		var env events.Envelope
		if err := json.Unmarshal(ev.Message().Body, &env); err != nil {
			c.logger.Error("failed to decode event envelope", zap.Error(err))
			return nil
		}
		// Handle already retries and dead-letters internally; the broker
		// should not redeliver on top of that.
		_ = c.Handle(context.Background(), env)
		return nil
	}
}

func parseUint64(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}

func splitPair(pair string) (base, quote string) {
	parts := strings.SplitN(pair, "/", 2)
	if len(parts) != 2 {
		return pair, ""
	}
	return parts[0], parts[1]
}

