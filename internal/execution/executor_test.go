package execution_test

import (
	"testing"

	"github.com/abdoElHodaky/tradSys/internal/balance"
	"github.com/abdoElHodaky/tradSys/internal/decimal"
	"github.com/abdoElHodaky/tradSys/internal/execution"
	"github.com/abdoElHodaky/tradSys/internal/matching"
	"github.com/abdoElHodaky/tradSys/internal/orderbook"
	"github.com/stretchr/testify/require"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	v, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return v
}

func TestApplySettlesBothLegs(t *testing.T) {
	store := balance.New(nil)
	require.NoError(t, store.CreditAvailable("A", "USDT", dec(t, "1000")))
	require.NoError(t, store.Lock("A", "USDT", dec(t, "1000")))
	require.NoError(t, store.CreditAvailable("B", "SOL", dec(t, "10")))
	require.NoError(t, store.Lock("B", "SOL", dec(t, "10")))

	exec := execution.New(store)
	result := matching.MatchResult{
		BuyOrderID: 1, SellOrderID: 2, BuyerID: "A", SellerID: "B",
		Pair: orderbook.Pair{Base: "SOL", Quote: "USDT"}, Price: dec(t, "100"), Amount: dec(t, "10"),
	}

	require.NoError(t, exec.Apply("USDT", "SOL", result))

	a := store.Snapshot("A", "SOL")
	require.Equal(t, "10", a.Available.String())
	b := store.Snapshot("B", "USDT")
	require.Equal(t, "1000", b.Available.String())
}

func TestApplyFailsFatalOnUnderlock(t *testing.T) {
	store := balance.New(nil)
	exec := execution.New(store)
	result := matching.MatchResult{BuyerID: "A", SellerID: "B", Price: dec(t, "100"), Amount: dec(t, "1")}

	err := exec.Apply("USDT", "SOL", result)
	require.ErrorIs(t, err, execution.ErrSettlementFailed)
}
