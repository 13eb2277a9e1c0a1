package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/abdoElHodaky/tradSys/internal/balance"
	"github.com/abdoElHodaky/tradSys/internal/decimal"
	"github.com/abdoElHodaky/tradSys/internal/engine"
	"github.com/abdoElHodaky/tradSys/internal/events"
)

type noopPublisher struct{}

func (noopPublisher) Publish(ctx context.Context, env events.Envelope) error { return nil }

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	v, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return v
}

func newTestEngine(t *testing.T) (*engine.Engine, *balance.Store) {
	t.Helper()
	store := balance.New(nil)
	eng := engine.NewEngine(store, noopPublisher{}, nil, engine.Options{})
	t.Cleanup(eng.Close)
	return eng, store
}

func fund(t *testing.T, store *balance.Store, user string, asset balance.Asset, amount string) {
	t.Helper()
	require.NoError(t, store.CreditAvailable(user, asset, dec(t, amount)))
}

var pair = engine.Pair{Base: "SOL", Quote: "USDT"}

func TestSubmitOrderLimitFullFill(t *testing.T) {
	eng, store := newTestEngine(t)
	fund(t, store, "seller", "SOL", "10")
	fund(t, store, "buyer", "USDT", "1000")

	ctx := context.Background()
	_, err := eng.SubmitOrder(ctx, engine.SubmitOrder{
		UserID: "seller", Side: engine.Sell, Kind: engine.Limit, Pair: pair,
		Price: dec(t, "100"), Amount: dec(t, "10"),
	})
	require.NoError(t, err)

	accepted, err := eng.SubmitOrder(ctx, engine.SubmitOrder{
		UserID: "buyer", Side: engine.Buy, Kind: engine.Limit, Pair: pair,
		Price: dec(t, "100"), Amount: dec(t, "10"),
	})
	require.NoError(t, err)
	require.Equal(t, engine.StatusFilled, accepted.ResidualStatus)
	require.Len(t, accepted.Matches, 1)
	require.Equal(t, "100", accepted.Matches[0].Price.String())
	require.Equal(t, "10", accepted.Matches[0].Amount.String())

	require.Equal(t, "10", store.Snapshot("buyer", "SOL").Available.String())
	require.Equal(t, "0", store.Snapshot("buyer", "USDT").Available.String())
	require.Equal(t, "1000", store.Snapshot("seller", "USDT").Available.String())
	require.Equal(t, "0", store.Snapshot("seller", "SOL").Available.String())
}

func TestSubmitOrderPriceImprovementUnlocksExcess(t *testing.T) {
	eng, store := newTestEngine(t)
	fund(t, store, "seller", "SOL", "10")
	fund(t, store, "buyer", "USDT", "1000")

	ctx := context.Background()
	_, err := eng.SubmitOrder(ctx, engine.SubmitOrder{
		UserID: "seller", Side: engine.Sell, Kind: engine.Limit, Pair: pair,
		Price: dec(t, "90"), Amount: dec(t, "10"),
	})
	require.NoError(t, err)

	// Buyer is willing to pay up to 100 but the resting ask is 90; the
	// buyer's 100 lock should be refunded down to the 90 actually spent.
	_, err = eng.SubmitOrder(ctx, engine.SubmitOrder{
		UserID: "buyer", Side: engine.Buy, Kind: engine.Limit, Pair: pair,
		Price: dec(t, "100"), Amount: dec(t, "10"),
	})
	require.NoError(t, err)

	require.Equal(t, "100", store.Snapshot("buyer", "USDT").Available.String())
	require.Equal(t, "0", store.Snapshot("buyer", "USDT").Locked.String())
}

func TestSubmitOrderRestingLimitLocksRemainder(t *testing.T) {
	eng, store := newTestEngine(t)
	fund(t, store, "buyer", "USDT", "1000")

	ctx := context.Background()
	accepted, err := eng.SubmitOrder(ctx, engine.SubmitOrder{
		UserID: "buyer", Side: engine.Buy, Kind: engine.Limit, Pair: pair,
		Price: dec(t, "100"), Amount: dec(t, "10"),
	})
	require.NoError(t, err)
	require.Equal(t, engine.StatusPending, accepted.ResidualStatus)
	require.Empty(t, accepted.Matches)

	require.Equal(t, "0", store.Snapshot("buyer", "USDT").Available.String())
	require.Equal(t, "1000", store.Snapshot("buyer", "USDT").Locked.String())
}

func TestSubmitOrderInsufficientBalanceRejected(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	_, err := eng.SubmitOrder(ctx, engine.SubmitOrder{
		UserID: "buyer", Side: engine.Buy, Kind: engine.Limit, Pair: pair,
		Price: dec(t, "100"), Amount: dec(t, "10"),
	})
	require.Error(t, err)
}

func TestSubmitOrderMarketBuyQuoteMode(t *testing.T) {
	eng, store := newTestEngine(t)
	fund(t, store, "seller1", "SOL", "1")
	fund(t, store, "seller2", "SOL", "1")
	fund(t, store, "buyer", "USDT", "150")

	ctx := context.Background()
	_, err := eng.SubmitOrder(ctx, engine.SubmitOrder{
		UserID: "seller1", Side: engine.Sell, Kind: engine.Limit, Pair: pair,
		Price: dec(t, "100"), Amount: dec(t, "1"),
	})
	require.NoError(t, err)
	_, err = eng.SubmitOrder(ctx, engine.SubmitOrder{
		UserID: "seller2", Side: engine.Sell, Kind: engine.Limit, Pair: pair,
		Price: dec(t, "101"), Amount: dec(t, "1"),
	})
	require.NoError(t, err)

	accepted, err := eng.SubmitOrder(ctx, engine.SubmitOrder{
		UserID: "buyer", Side: engine.Buy, Kind: engine.Market, Pair: pair,
		QuoteAmount: dec(t, "150"),
	})
	require.NoError(t, err)
	require.Equal(t, engine.StatusFilled, accepted.ResidualStatus)
	require.Len(t, accepted.Matches, 2)

	// 100 spent on the first unit, 50 left buys 50/101 of the second.
	got := store.Snapshot("buyer", "SOL").Available
	require.True(t, got.GreaterThan(dec(t, "1.49")))
	require.True(t, got.LessThan(dec(t, "1.50")))
	require.Equal(t, "0", store.Snapshot("buyer", "USDT").Locked.String())
}

func TestSubmitOrderAmountModeMarketBuyBudgetsFullAvailable(t *testing.T) {
	eng, store := newTestEngine(t)
	fund(t, store, "seller", "SOL", "100")
	fund(t, store, "buyer", "USDT", "500")

	ctx := context.Background()
	_, err := eng.SubmitOrder(ctx, engine.SubmitOrder{
		UserID: "seller", Side: engine.Sell, Kind: engine.Limit, Pair: pair,
		Price: dec(t, "100"), Amount: dec(t, "100"),
	})
	require.NoError(t, err)

	// Buyer asks for 10 units by quantity but can only afford 5 at this
	// price; the fill must stop at the balance, not breach settlement.
	accepted, err := eng.SubmitOrder(ctx, engine.SubmitOrder{
		UserID: "buyer", Side: engine.Buy, Kind: engine.Market, Pair: pair,
		Amount: dec(t, "10"),
	})
	require.NoError(t, err)
	require.Len(t, accepted.Matches, 1)
	require.Equal(t, "5", accepted.Matches[0].Amount.String())
	require.Equal(t, "5", store.Snapshot("buyer", "SOL").Available.String())
	require.Equal(t, "0", store.Snapshot("buyer", "USDT").Available.String())
	require.Equal(t, "0", store.Snapshot("buyer", "USDT").Locked.String())
}

func TestSubmitOrderMarketSellUnfilledRemainderUnlocked(t *testing.T) {
	eng, store := newTestEngine(t)
	fund(t, store, "seller", "SOL", "10")
	fund(t, store, "buyer", "USDT", "1000")

	ctx := context.Background()
	_, err := eng.SubmitOrder(ctx, engine.SubmitOrder{
		UserID: "buyer", Side: engine.Buy, Kind: engine.Limit, Pair: pair,
		Price: dec(t, "100"), Amount: dec(t, "4"),
	})
	require.NoError(t, err)

	accepted, err := eng.SubmitOrder(ctx, engine.SubmitOrder{
		UserID: "seller", Side: engine.Sell, Kind: engine.Market, Pair: pair,
		Amount: dec(t, "10"),
	})
	require.NoError(t, err)
	require.Equal(t, engine.StatusPartial, accepted.ResidualStatus)
	require.Equal(t, "6", store.Snapshot("seller", "SOL").Available.String())
	require.Equal(t, "0", store.Snapshot("seller", "SOL").Locked.String())
}

func TestCancelOrderUnlocksRemainder(t *testing.T) {
	eng, store := newTestEngine(t)
	fund(t, store, "buyer", "USDT", "1000")

	ctx := context.Background()
	accepted, err := eng.SubmitOrder(ctx, engine.SubmitOrder{
		UserID: "buyer", Side: engine.Buy, Kind: engine.Limit, Pair: pair,
		Price: dec(t, "100"), Amount: dec(t, "10"),
	})
	require.NoError(t, err)

	err = eng.CancelOrder(ctx, engine.CancelOrder{OrderID: accepted.Order.ID, UserID: "buyer", Pair: pair})
	require.NoError(t, err)

	require.Equal(t, "1000", store.Snapshot("buyer", "USDT").Available.String())
	require.Equal(t, "0", store.Snapshot("buyer", "USDT").Locked.String())

	err = eng.CancelOrder(ctx, engine.CancelOrder{OrderID: accepted.Order.ID, UserID: "buyer", Pair: pair})
	require.Error(t, err)
}

func TestCancelOrderForbidsNonOwner(t *testing.T) {
	eng, store := newTestEngine(t)
	fund(t, store, "buyer", "USDT", "1000")

	ctx := context.Background()
	accepted, err := eng.SubmitOrder(ctx, engine.SubmitOrder{
		UserID: "buyer", Side: engine.Buy, Kind: engine.Limit, Pair: pair,
		Price: dec(t, "100"), Amount: dec(t, "10"),
	})
	require.NoError(t, err)

	err = eng.CancelOrder(ctx, engine.CancelOrder{OrderID: accepted.Order.ID, UserID: "someone-else", Pair: pair})
	require.Error(t, err)
}

func TestDepositWithdrawSyncAvailable(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.Deposit(ctx, engine.Deposit{UserID: "u1", Asset: "USDT", Amount: dec(t, "50")}))
	require.Equal(t, "50", store.Snapshot("u1", "USDT").Available.String())

	require.NoError(t, eng.Withdraw(ctx, engine.Withdraw{UserID: "u1", Asset: "USDT", Amount: dec(t, "20")}))
	require.Equal(t, "30", store.Snapshot("u1", "USDT").Available.String())

	err := eng.Withdraw(ctx, engine.Withdraw{UserID: "u1", Asset: "USDT", Amount: dec(t, "1000")})
	require.Error(t, err)

	require.NoError(t, eng.SyncAvailable(ctx, engine.SyncAvailable{UserID: "u1", Asset: "USDT", Delta: dec(t, "-5")}))
	require.Equal(t, "25", store.Snapshot("u1", "USDT").Available.String())

	err = eng.SyncAvailable(ctx, engine.SyncAvailable{UserID: "u1", Asset: "USDT", Delta: dec(t, "-1000")})
	require.Error(t, err)
}

func TestSnapshotBookReflectsRestingOrders(t *testing.T) {
	eng, store := newTestEngine(t)
	fund(t, store, "buyer", "USDT", "1000")

	ctx := context.Background()
	_, err := eng.SubmitOrder(ctx, engine.SubmitOrder{
		UserID: "buyer", Side: engine.Buy, Kind: engine.Limit, Pair: pair,
		Price: dec(t, "100"), Amount: dec(t, "10"),
	})
	require.NoError(t, err)

	snap, err := eng.SnapshotBook(ctx, engine.SnapshotBook{Pair: pair, Depth: 10})
	require.NoError(t, err)
	require.Len(t, snap.Bids, 1)
	require.Equal(t, "100", snap.Bids[0].Price.String())
	require.Equal(t, "10", snap.Bids[0].TotalRemaining.String())
}

// TestConcurrentPairsProcessInParallel exercises two independent pairs
// submitting concurrently: each pair's own ordering is preserved, and
// neither blocks on the other.
func TestConcurrentPairsProcessInParallel(t *testing.T) {
	eng, store := newTestEngine(t)
	pairA := engine.Pair{Base: "SOL", Quote: "USDT"}
	pairB := engine.Pair{Base: "BTC", Quote: "USDT"}
	fund(t, store, "buyer", "USDT", "100000")
	fund(t, store, "sellerA", "SOL", "100")
	fund(t, store, "sellerB", "BTC", "100")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := eng.SubmitOrder(ctx, engine.SubmitOrder{
			UserID: "sellerA", Side: engine.Sell, Kind: engine.Limit, Pair: pairA,
			Price: dec(t, "10"), Amount: dec(t, "5"),
		})
		require.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		_, err := eng.SubmitOrder(ctx, engine.SubmitOrder{
			UserID: "sellerB", Side: engine.Sell, Kind: engine.Limit, Pair: pairB,
			Price: dec(t, "20"), Amount: dec(t, "5"),
		})
		require.NoError(t, err)
	}()
	wg.Wait()

	_, err := eng.SubmitOrder(ctx, engine.SubmitOrder{
		UserID: "buyer", Side: engine.Buy, Kind: engine.Limit, Pair: pairA,
		Price: dec(t, "10"), Amount: dec(t, "5"),
	})
	require.NoError(t, err)
	_, err = eng.SubmitOrder(ctx, engine.SubmitOrder{
		UserID: "buyer", Side: engine.Buy, Kind: engine.Limit, Pair: pairB,
		Price: dec(t, "20"), Amount: dec(t, "5"),
	})
	require.NoError(t, err)

	require.Equal(t, "5", store.Snapshot("buyer", "SOL").Available.String())
	require.Equal(t, "5", store.Snapshot("buyer", "BTC").Available.String())
}
