// Package position tracks each user's net position and realized P&L per
// trading pair as trades land: a running weighted-average entry price
// while a position is being built or held flat-to-larger, and realized
// P&L booked against that average entry price as a position is reduced
// or flipped, mirroring the teacher's per-resource striped-lock pattern
// in internal/balance for the same reason (one mutex per hot key, not a
// single global lock serializing every pair).
package position

import (
	"strconv"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/abdoElHodaky/tradSys/internal/decimal"
	"github.com/abdoElHodaky/tradSys/internal/orderbook"
)

// Position is a read-only snapshot of a user's holdings in one pair.
type Position struct {
	UserID        string
	Pair          orderbook.Pair
	NetAmount     decimal.Decimal // positive: long base; negative: short base
	AvgEntryPrice decimal.Decimal
	RealizedPnL   decimal.Decimal
}

type key struct {
	user string
	pair orderbook.Pair
}

type entry struct {
	mu  sync.Mutex
	pos Position
}

// Projector maintains every user's positions across every pair.
type Projector struct {
	mu      sync.RWMutex
	entries map[key]*entry
}

// New creates an empty Projector.
func New() *Projector {
	return &Projector{entries: make(map[key]*entry)}
}

func (p *Projector) getOrCreate(user string, pair orderbook.Pair) *entry {
	k := key{user, pair}

	p.mu.RLock()
	e, ok := p.entries[k]
	p.mu.RUnlock()
	if ok {
		return e
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok = p.entries[k]
	if !ok {
		e = &entry{pos: Position{UserID: user, Pair: pair, NetAmount: decimal.Zero, AvgEntryPrice: decimal.Zero, RealizedPnL: decimal.Zero}}
		p.entries[k] = e
	}
	return e
}

// ApplyFill updates user's position in pair with one fill: side is the
// side user took in the trade (Buy increases NetAmount, Sell decreases
// it), at price for amount units of base currency.
func (p *Projector) ApplyFill(user string, pair orderbook.Pair, side orderbook.Side, price, amount decimal.Decimal) Position {
	e := p.getOrCreate(user, pair)
	e.mu.Lock()
	defer e.mu.Unlock()

	signedAmount := amount
	if side == orderbook.Sell {
		signedAmount = amount.Neg()
	}

	prevNet := e.pos.NetAmount
	newNet := prevNet.Add(signedAmount)

	switch {
	case prevNet.IsZero() || sameSign(prevNet, signedAmount):
		// Building or extending a position in the same direction: fold
		// the new fill into a weighted-average entry price.
		e.pos.AvgEntryPrice = weightedAverage(e.pos.AvgEntryPrice, absFloat(prevNet), price, absFloat(signedAmount))
	case absDecimal(signedAmount).LessThanOrEqual(absDecimal(prevNet)):
		// Reducing (or exactly closing) an existing position: realize
		// P&L on the portion closed against the existing average entry
		// price. Sign convention: a long (prevNet>0) realizes
		// (price-avgEntry)*closedAmount; a short realizes the negative.
		closed := decimal.Min(absDecimal(signedAmount), absDecimal(prevNet))
		pnl := price.Sub(e.pos.AvgEntryPrice).Mul(closed)
		if prevNet.IsNegative() {
			pnl = pnl.Neg()
		}
		e.pos.RealizedPnL = e.pos.RealizedPnL.Add(pnl)
		if newNet.IsZero() {
			e.pos.AvgEntryPrice = decimal.Zero
		}
	default:
		// Flipping through zero: realize P&L on the entire prior
		// position, then open a fresh position at the fill price for
		// the portion beyond what closed it.
		pnl := price.Sub(e.pos.AvgEntryPrice).Mul(absDecimal(prevNet))
		if prevNet.IsNegative() {
			pnl = pnl.Neg()
		}
		e.pos.RealizedPnL = e.pos.RealizedPnL.Add(pnl)
		e.pos.AvgEntryPrice = price
	}

	e.pos.NetAmount = newNet
	return e.pos
}

// Snapshot returns user's current position in pair.
func (p *Projector) Snapshot(user string, pair orderbook.Pair) Position {
	e := p.getOrCreate(user, pair)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos
}

func sameSign(a, b decimal.Decimal) bool {
	return (a.IsPositive() && b.IsPositive()) || (a.IsNegative() && b.IsNegative())
}

func absDecimal(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return d.Neg()
	}
	return d
}

func absFloat(d decimal.Decimal) float64 {
	v, _ := strconv.ParseFloat(absDecimal(d).String(), 64)
	return v
}

// weightedAverage folds a new (price, weight) sample into an existing
// weighted average using gonum's stat.Mean, matching the teacher's
// reach for gonum for aggregate statistics rather than hand-rolling a
// weighted-mean formula. Position averaging tolerates float64
// precision; balance and settlement arithmetic never goes through this
// path.
func weightedAverage(oldAvg decimal.Decimal, oldWeight float64, newPrice decimal.Decimal, newWeight float64) decimal.Decimal {
	if oldWeight == 0 {
		return newPrice
	}
	oldAvgF, _ := strconv.ParseFloat(oldAvg.String(), 64)
	newPriceF, _ := strconv.ParseFloat(newPrice.String(), 64)

	mean := stat.Mean([]float64{oldAvgF, newPriceF}, []float64{oldWeight, newWeight})

	result, err := decimal.NewFromString(strconv.FormatFloat(mean, 'f', decimal.Scale, 64))
	if err != nil {
		return oldAvg
	}
	return result
}
