// Package fees computes the maker/taker fee owed on a trade. Rates are
// resolved by precedence (pair-specific override, then asset-specific
// override, then a process-wide default) and cached with
// patrickmn/go-cache so a hot pair doesn't re-walk the precedence chain
// on every fill, grounded in the teacher's use of the same cache for
// hot-path lookups elsewhere in its risk package.
package fees

import (
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/abdoElHodaky/tradSys/internal/decimal"
	"github.com/abdoElHodaky/tradSys/internal/orderbook"
)

// DefaultRate is the fee charged when no pair- or asset-specific rate
// has been configured: 1 basis point.
var DefaultRate = decimal.MustFromString("0.0001")

// Rule is one configured fee override, keyed by either an exact pair or
// a single asset (quote or base).
type Rule struct {
	Pair  *orderbook.Pair
	Asset string
	Rate  decimal.Decimal
}

// Calculator resolves the fee rate for a pair and computes the fee
// owed on a trade notional.
type Calculator struct {
	rules       []Rule
	lookup      *cache.Cache
	defaultRate decimal.Decimal
}

// New creates a Calculator over rules and defaultRate. RateFor applies
// the precedence tiers first; within one tier the first matching rule
// in the order given wins, and defaultRate is used when nothing matches.
func New(rules []Rule, defaultRate decimal.Decimal) *Calculator {
	return &Calculator{
		rules:       rules,
		lookup:      cache.New(10*time.Minute, 30*time.Minute),
		defaultRate: defaultRate,
	}
}

// NewDefault creates a Calculator with no overrides, using DefaultRate.
func NewDefault() *Calculator {
	return New(nil, DefaultRate)
}

// RateFor resolves the fee rate for pair, by precedence: an exact pair
// match, then a base-asset match, then a quote-asset match, then the
// configured default.
func (c *Calculator) RateFor(pair orderbook.Pair) decimal.Decimal {
	key := pair.String()
	if v, ok := c.lookup.Get(key); ok {
		return v.(decimal.Decimal)
	}

	rate, found := c.defaultRate, false

	for _, r := range c.rules {
		if r.Pair != nil && *r.Pair == pair {
			rate, found = r.Rate, true
			break
		}
	}
	if !found {
		for _, r := range c.rules {
			if r.Pair == nil && r.Asset == pair.Base {
				rate, found = r.Rate, true
				break
			}
		}
	}
	if !found {
		for _, r := range c.rules {
			if r.Pair == nil && r.Asset == pair.Quote {
				rate, found = r.Rate, true
				break
			}
		}
	}

	c.lookup.SetDefault(key, rate)
	return rate
}

// FeeOn returns the fee owed on a trade of amount at price in pair's
// quote currency, i.e. rate * price * amount.
func (c *Calculator) FeeOn(pair orderbook.Pair, price, amount decimal.Decimal) decimal.Decimal {
	notional := price.Mul(amount)
	return c.RateFor(pair).Mul(notional)
}

// InvalidateRules discards cached rates so a configuration reload takes
// effect on the next RateFor call.
func (c *Calculator) InvalidateRules(rules []Rule) {
	c.rules = rules
	c.lookup.Flush()
}

func (r Rule) String() string {
	if r.Pair != nil {
		return fmt.Sprintf("pair:%s=%s", r.Pair.String(), r.Rate.String())
	}
	return fmt.Sprintf("asset:%s=%s", r.Asset, r.Rate.String())
}
