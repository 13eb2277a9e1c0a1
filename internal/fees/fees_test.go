package fees_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/abdoElHodaky/tradSys/internal/decimal"
	"github.com/abdoElHodaky/tradSys/internal/fees"
	"github.com/abdoElHodaky/tradSys/internal/orderbook"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	v, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return v
}

func TestRateForDefaultsWhenNoRuleMatches(t *testing.T) {
	c := fees.NewDefault()
	pair := orderbook.Pair{Base: "SOL", Quote: "USDT"}
	require.True(t, c.RateFor(pair).Equal(fees.DefaultRate))
}

func TestRateForPrecedence(t *testing.T) {
	pair := orderbook.Pair{Base: "SOL", Quote: "USDT"}
	c := fees.New([]fees.Rule{
		{Asset: "USDT", Rate: dec(t, "0.0005")},
		{Pair: &pair, Rate: dec(t, "0.0002")},
	}, fees.DefaultRate)

	require.Equal(t, "0.0002", c.RateFor(pair).String())

	other := orderbook.Pair{Base: "BTC", Quote: "USDT"}
	require.Equal(t, "0.0005", c.RateFor(other).String())

	untouched := orderbook.Pair{Base: "ETH", Quote: "EUR"}
	require.True(t, c.RateFor(untouched).Equal(fees.DefaultRate))
}

func TestFeeOnComputesNotionalTimesRate(t *testing.T) {
	c := fees.NewDefault()
	pair := orderbook.Pair{Base: "SOL", Quote: "USDT"}
	fee := c.FeeOn(pair, dec(t, "100"), dec(t, "2"))
	require.Equal(t, "0.02", fee.String())
}

func TestInvalidateRulesClearsCache(t *testing.T) {
	pair := orderbook.Pair{Base: "SOL", Quote: "USDT"}
	c := fees.New(nil, fees.DefaultRate)
	require.True(t, c.RateFor(pair).Equal(fees.DefaultRate))

	c.InvalidateRules([]fees.Rule{{Pair: &pair, Rate: dec(t, "0.001")}})
	require.Equal(t, "0.001", c.RateFor(pair).String())
}
