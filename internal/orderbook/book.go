package orderbook

import "github.com/abdoElHodaky/tradSys/internal/decimal"

// OrderBook owns every resting OrderEntry for one trading pair: its bid
// side and its ask side.
type OrderBook struct {
	Pair Pair
	Bids *OrderBookSide
	Asks *OrderBookSide
}

// New creates an empty order book for pair.
func New(pair Pair) *OrderBook {
	return &OrderBook{
		Pair: pair,
		Bids: NewSide(true),
		Asks: NewSide(false),
	}
}

// BestBid returns the highest resting buy price, if any.
func (b *OrderBook) BestBid() (decimal.Decimal, bool) { return b.Bids.BestPrice() }

// BestAsk returns the lowest resting sell price, if any.
func (b *OrderBook) BestAsk() (decimal.Decimal, bool) { return b.Asks.BestPrice() }

// Snapshot is an immutable depth snapshot published to external readers
// (see §5's snapshot protocol: the pair loop owns the book exclusively,
// external readers only ever see copies like this one).
type Snapshot struct {
	Pair Pair
	Bids []DepthLevel
	Asks []DepthLevel
}

// Depth returns a snapshot of the top n levels of both sides.
func (b *OrderBook) Depth(n int) Snapshot {
	return Snapshot{
		Pair: b.Pair,
		Bids: b.Bids.Depth(n),
		Asks: b.Asks.Depth(n),
	}
}

// SideFor returns the resting side an order of the given side itself
// belongs to when it rests (a buy order rests on Bids, a sell on Asks).
func (b *OrderBook) SideFor(side Side) *OrderBookSide {
	if side == Buy {
		return b.Bids
	}
	return b.Asks
}

// OppositeSideFor returns the side an incoming order of the given side
// matches against (a buy order matches against Asks).
func (b *OrderBook) OppositeSideFor(side Side) *OrderBookSide {
	if side == Buy {
		return b.Asks
	}
	return b.Bids
}
