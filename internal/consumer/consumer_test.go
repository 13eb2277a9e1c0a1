package consumer_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/abdoElHodaky/tradSys/internal/consumer"
	"github.com/abdoElHodaky/tradSys/internal/db/models"
	"github.com/abdoElHodaky/tradSys/internal/db/repositories"
	"github.com/abdoElHodaky/tradSys/internal/decimal"
	"github.com/abdoElHodaky/tradSys/internal/events"
	"github.com/abdoElHodaky/tradSys/internal/fees"
	"github.com/abdoElHodaky/tradSys/internal/retry"
)

func retryFastOptions() retry.Options {
	return retry.Options{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		BackoffFactor:  2,
	}
}

// openTestDB opens an in-memory sqlite database, named after the test so
// each test gets its own, migrated with the consumer's three tables.
// sqlite stands in for Postgres in tests only; production wiring uses
// gorm.io/driver/postgres (internal/config).
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Order{}, &models.Trade{}, &models.TradeFee{}))
	return db
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	v, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return v
}

func createOrder(t *testing.T, db *gorm.DB, id uint64, userID string, side models.OrderSide, amount string) {
	t.Helper()
	require.NoError(t, db.Create(&models.Order{
		ID: id, UserID: userID, OrderType: models.OrderTypeLimit, OrderSide: side,
		BaseMint: "SOL", QuoteMint: "USDT",
		Amount:            dec(t, amount),
		FilledAmount:      dec(t, "0"),
		FilledQuoteAmount: dec(t, "0"),
		Status:            models.OrderStatusPending,
		CreatedAt:         time.Now(),
	}).Error)
}

type recordingDeadLetter struct {
	parked []events.Envelope
}

func (r *recordingDeadLetter) Park(ctx context.Context, env events.Envelope, cause error) error {
	r.parked = append(r.parked, env)
	return nil
}

func tradeExecutedEnvelope(tradeID, buyOrderID, sellOrderID uint64, buyerID, sellerID, price, amount string, takerOrderID uint64) events.Envelope {
	return events.Envelope{
		Kind: events.KindTradeExecuted,
		Pair: "SOL/USDT",
		Payload: map[string]string{
			"trade_id":       strconv.FormatUint(tradeID, 10),
			"buy_order_id":   strconv.FormatUint(buyOrderID, 10),
			"sell_order_id":  strconv.FormatUint(sellOrderID, 10),
			"buyer_id":       buyerID,
			"seller_id":      sellerID,
			"price":          price,
			"amount":         amount,
			"taker_order_id": strconv.FormatUint(takerOrderID, 10),
		},
	}
}

func TestHandleTradeExecutedFillsBothOrdersAndWritesFees(t *testing.T) {
	db := openTestDB(t)
	orders := repositories.NewOrderRepository(db, nil)
	trades := repositories.NewTradeRepository(db, nil)

	createOrder(t, db, 1, "buyer", models.OrderSideBuy, "10")
	createOrder(t, db, 2, "seller", models.OrderSideSell, "10")

	c := consumer.New(orders, trades, fees.NewDefault(), &recordingDeadLetter{}, nil, consumer.Options{})

	env := tradeExecutedEnvelope(100, 1, 2, "buyer", "seller", "50", "4", 1)
	require.NoError(t, c.Handle(context.Background(), env))

	var buy, sell models.Order
	require.NoError(t, db.First(&buy, "id = ?", 1).Error)
	require.NoError(t, db.First(&sell, "id = ?", 2).Error)
	require.Equal(t, "4", buy.FilledAmount.String())
	require.Equal(t, "200", buy.FilledQuoteAmount.String())
	require.Equal(t, models.OrderStatusPartial, buy.Status)
	require.Equal(t, models.OrderStatusPartial, sell.Status)

	var trade models.Trade
	require.NoError(t, db.First(&trade, "id = ?", 100).Error)
	require.Equal(t, "50", trade.Price.String())

	var feeCount int64
	require.NoError(t, db.Model(&models.TradeFee{}).Where("trade_id = ?", 100).Count(&feeCount).Error)
	require.Equal(t, int64(2), feeCount)
}

func TestHandleTradeExecutedFullFillTransitionsToFilled(t *testing.T) {
	db := openTestDB(t)
	orders := repositories.NewOrderRepository(db, nil)
	trades := repositories.NewTradeRepository(db, nil)

	createOrder(t, db, 1, "buyer", models.OrderSideBuy, "4")
	createOrder(t, db, 2, "seller", models.OrderSideSell, "4")

	c := consumer.New(orders, trades, fees.NewDefault(), &recordingDeadLetter{}, nil, consumer.Options{})
	env := tradeExecutedEnvelope(101, 1, 2, "buyer", "seller", "50", "4", 2)
	require.NoError(t, c.Handle(context.Background(), env))

	var buy, sell models.Order
	require.NoError(t, db.First(&buy, "id = ?", 1).Error)
	require.NoError(t, db.First(&sell, "id = ?", 2).Error)
	require.Equal(t, models.OrderStatusFilled, buy.Status)
	require.Equal(t, models.OrderStatusFilled, sell.Status)
}

func TestHandleTradeExecutedIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	orders := repositories.NewOrderRepository(db, nil)
	trades := repositories.NewTradeRepository(db, nil)

	createOrder(t, db, 1, "buyer", models.OrderSideBuy, "10")
	createOrder(t, db, 2, "seller", models.OrderSideSell, "10")

	c := consumer.New(orders, trades, fees.NewDefault(), &recordingDeadLetter{}, nil, consumer.Options{})
	env := tradeExecutedEnvelope(200, 1, 2, "buyer", "seller", "50", "4", 1)

	require.NoError(t, c.Handle(context.Background(), env))
	require.NoError(t, c.Handle(context.Background(), env))

	var buy models.Order
	require.NoError(t, db.First(&buy, "id = ?", 1).Error)
	require.Equal(t, "4", buy.FilledAmount.String())

	var feeCount int64
	require.NoError(t, db.Model(&models.TradeFee{}).Where("trade_id = ?", 200).Count(&feeCount).Error)
	require.Equal(t, int64(2), feeCount)
}

func TestHandleOrderCancelledTransitionsStatus(t *testing.T) {
	db := openTestDB(t)
	orders := repositories.NewOrderRepository(db, nil)
	trades := repositories.NewTradeRepository(db, nil)

	createOrder(t, db, 5, "buyer", models.OrderSideBuy, "10")

	c := consumer.New(orders, trades, fees.NewDefault(), &recordingDeadLetter{}, nil, consumer.Options{})
	env := events.Envelope{Kind: events.KindOrderCancelled, Pair: "SOL/USDT", Payload: map[string]string{"order_id": "5", "user_id": "buyer"}}
	require.NoError(t, c.Handle(context.Background(), env))

	var order models.Order
	require.NoError(t, db.First(&order, "id = ?", 5).Error)
	require.Equal(t, models.OrderStatusCancelled, order.Status)
}

func TestHandleOrderCancelledAlreadyFilledIsNoop(t *testing.T) {
	db := openTestDB(t)
	orders := repositories.NewOrderRepository(db, nil)
	trades := repositories.NewTradeRepository(db, nil)

	createOrder(t, db, 6, "buyer", models.OrderSideBuy, "10")
	require.NoError(t, db.Model(&models.Order{}).Where("id = ?", 6).Update("status", models.OrderStatusFilled).Error)

	c := consumer.New(orders, trades, fees.NewDefault(), &recordingDeadLetter{}, nil, consumer.Options{})
	env := events.Envelope{Kind: events.KindOrderCancelled, Pair: "SOL/USDT", Payload: map[string]string{"order_id": "6", "user_id": "buyer"}}
	require.NoError(t, c.Handle(context.Background(), env))

	var order models.Order
	require.NoError(t, db.First(&order, "id = ?", 6).Error)
	require.Equal(t, models.OrderStatusFilled, order.Status)
}

func TestHandleDeadLettersAfterRepeatedFailure(t *testing.T) {
	db := openTestDB(t)
	orders := repositories.NewOrderRepository(db, nil)
	trades := repositories.NewTradeRepository(db, nil)
	dlq := &recordingDeadLetter{}

	c := consumer.New(orders, trades, fees.NewDefault(), dlq, nil, consumer.Options{
		Retry: retryFastOptions(),
	})
	// References orders that don't exist: every attempt fails.
	env := tradeExecutedEnvelope(300, 1, 2, "buyer", "seller", "50", "4", 1)

	err := c.Handle(context.Background(), env)
	require.Error(t, err)
	require.Len(t, dlq.parked, 1)
	require.Equal(t, events.KindTradeExecuted, dlq.parked[0].Kind)
}
