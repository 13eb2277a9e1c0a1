package position_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/abdoElHodaky/tradSys/internal/decimal"
	"github.com/abdoElHodaky/tradSys/internal/orderbook"
	"github.com/abdoElHodaky/tradSys/internal/position"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	v, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return v
}

var pair = orderbook.Pair{Base: "SOL", Quote: "USDT"}

func TestApplyFillBuildsWeightedAverageEntry(t *testing.T) {
	p := position.New()
	p.ApplyFill("u1", pair, orderbook.Buy, dec(t, "100"), dec(t, "10"))
	pos := p.ApplyFill("u1", pair, orderbook.Buy, dec(t, "110"), dec(t, "10"))

	require.Equal(t, "20", pos.NetAmount.String())
	require.Equal(t, "105", pos.AvgEntryPrice.String())
	require.True(t, pos.RealizedPnL.IsZero())
}

func TestApplyFillRealizesPnLOnPartialClose(t *testing.T) {
	p := position.New()
	p.ApplyFill("u1", pair, orderbook.Buy, dec(t, "100"), dec(t, "10"))
	pos := p.ApplyFill("u1", pair, orderbook.Sell, dec(t, "120"), dec(t, "4"))

	require.Equal(t, "6", pos.NetAmount.String())
	require.Equal(t, "100", pos.AvgEntryPrice.String())
	require.Equal(t, "80", pos.RealizedPnL.String())
}

func TestApplyFillClosesPositionExactly(t *testing.T) {
	p := position.New()
	p.ApplyFill("u1", pair, orderbook.Buy, dec(t, "100"), dec(t, "10"))
	pos := p.ApplyFill("u1", pair, orderbook.Sell, dec(t, "90"), dec(t, "10"))

	require.True(t, pos.NetAmount.IsZero())
	require.True(t, pos.AvgEntryPrice.IsZero())
	require.Equal(t, "-100", pos.RealizedPnL.String())
}

func TestApplyFillFlipsThroughZero(t *testing.T) {
	p := position.New()
	p.ApplyFill("u1", pair, orderbook.Buy, dec(t, "100"), dec(t, "10"))
	pos := p.ApplyFill("u1", pair, orderbook.Sell, dec(t, "110"), dec(t, "15"))

	require.Equal(t, "-5", pos.NetAmount.String())
	require.Equal(t, "110", pos.AvgEntryPrice.String())
	require.Equal(t, "100", pos.RealizedPnL.String())
}

func TestSnapshotIsolatedPerUserAndPair(t *testing.T) {
	p := position.New()
	p.ApplyFill("u1", pair, orderbook.Buy, dec(t, "100"), dec(t, "10"))
	other := p.Snapshot("u2", pair)
	require.True(t, other.NetAmount.IsZero())
}
