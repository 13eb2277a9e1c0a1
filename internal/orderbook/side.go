// Package orderbook implements one side (bids or asks) of a trading
// pair's order book as a price-indexed ordered map to a FIFO queue of
// resting orders, plus the pair-level OrderBook that owns both sides.
//
// The price index is a red-black tree (github.com/emirpasic/gods/v2's
// redblacktree), grounded in the pack's lightning-exchange price-tree
// design, giving O(log P) best-price lookup and O(log P) insertion of a
// new price level; the FIFO at each level is a container/list, giving
// O(1) push/pop for time priority within a level.
package orderbook

import (
	"container/list"

	rbt "github.com/emirpasic/gods/v2/trees/redblacktree"

	"github.com/abdoElHodaky/tradSys/internal/decimal"
)

// OrderEntry is the in-memory resting view of an order, owned exclusively
// by the book while it rests. It is a subset of the persistent Order
// sufficient for matching.
type OrderEntry struct {
	ID                    uint64
	UserID                string
	Side                  Side
	Kind                  Kind
	Pair                  Pair
	Price                 decimal.Decimal // zero value for market orders
	Amount                decimal.Decimal
	QuoteAmount           decimal.Decimal
	FilledAmount          decimal.Decimal
	RemainingAmount       decimal.Decimal
	RemainingQuoteAmount  decimal.Decimal
	CreatedAt             int64 // monotonic nanosecond timestamp, used for time priority

	elem *list.Element // set by Add; Remove scans the level's FIFO rather than using it
}

// Side is buy or sell.
type Side int

const (
	Buy Side = iota
	Sell
)

// Kind is limit or market.
type Kind int

const (
	Limit Kind = iota
	Market
)

// Pair is an ordered (base, quote) asset pair.
type Pair struct {
	Base  string
	Quote string
}

func (p Pair) String() string { return p.Base + "/" + p.Quote }

// priceLevel is the FIFO of orders resting at one price.
type priceLevel struct {
	price   decimal.Decimal
	orders  *list.List // of *OrderEntry
}

// OrderBookSide is a price-indexed ordered map (price -> FIFO) for one side of one
// pair's book. isBid controls comparator direction: bids order the tree
// so the best (highest) price sorts first; asks order it so the best
// (lowest) price sorts first.
type OrderBookSide struct {
	tree  *rbt.Tree[string, *priceLevel]
	isBid bool
	count int // cached total resting order count, kept in sync with FIFO lengths
}

func priceKey(p decimal.Decimal) string {
	// big.Int-backed decimals don't have a natural comparable Go key; the
	// tree is keyed by the canonical string form and ordered with a
	// decimal-aware comparator below, not lexicographically.
	return p.String()
}

// NewSide creates an empty order-book side. isBid selects descending
// (bid) or ascending (ask) price ordering.
func NewSide(isBid bool) *OrderBookSide {
	cmp := func(a, b string) int {
		da, _ := decimal.NewFromString(a)
		db, _ := decimal.NewFromString(b)
		c := da.Cmp(db)
		if isBid {
			return -c
		}
		return c
	}
	return &OrderBookSide{tree: rbt.NewWith[string, *priceLevel](cmp), isBid: isBid}
}

// Add inserts entry at the back of the FIFO queue for entry.Price. entry
// must carry a price (the caller is responsible for rejecting priceless
// limit orders before they reach the book).
func (s *OrderBookSide) Add(entry *OrderEntry) {
	k := priceKey(entry.Price)
	lvl, found := s.tree.Get(k)
	if !found {
		lvl = &priceLevel{price: entry.Price, orders: list.New()}
		s.tree.Put(k, lvl)
	}
	entry.elem = lvl.orders.PushBack(entry)
	s.count++
}

// Remove deletes the order with orderID resting at price, if present.
func (s *OrderBookSide) Remove(orderID uint64, price decimal.Decimal) *OrderEntry {
	k := priceKey(price)
	lvl, found := s.tree.Get(k)
	if !found {
		return nil
	}
	for e := lvl.orders.Front(); e != nil; e = e.Next() {
		entry := e.Value.(*OrderEntry)
		if entry.ID == orderID {
			lvl.orders.Remove(e)
			entry.elem = nil
			s.count--
			if lvl.orders.Len() == 0 {
				s.tree.Remove(k)
			}
			return entry
		}
	}
	return nil
}

// BestPrice returns the best resting price and whether the side is
// non-empty.
func (s *OrderBookSide) BestPrice() (decimal.Decimal, bool) {
	node := s.tree.Left()
	if node == nil {
		return decimal.Decimal{}, false
	}
	return node.Value.price, true
}

// OrdersAt returns the FIFO queue resting at price, or nil if the level
// does not exist. Callers may push/pop through the returned list to
// mutate resting order queues in place.
func (s *OrderBookSide) OrdersAt(price decimal.Decimal) *list.List {
	lvl, found := s.tree.Get(priceKey(price))
	if !found {
		return nil
	}
	return lvl.orders
}

// RemovePriceLevel drops the (already-empty) level at price. It is a
// no-op if the level still has resting orders or does not exist.
func (s *OrderBookSide) RemovePriceLevel(price decimal.Decimal) {
	k := priceKey(price)
	lvl, found := s.tree.Get(k)
	if !found {
		return
	}
	if lvl.orders.Len() == 0 {
		s.tree.Remove(k)
	}
}

// DecrementCount accounts for an order removed directly from a FIFO list
// by the matcher (which manipulates list.List nodes in place rather than
// calling Remove by id). Callers that pop/push entries directly must
// call this to keep the cached count in sync with the invariant that
// count equals the sum of FIFO lengths.
func (s *OrderBookSide) DecrementCount() { s.count-- }

// IncrementCount is the counterpart of DecrementCount, used when the
// matcher reinserts a partially filled resting order.
func (s *OrderBookSide) IncrementCount() { s.count++ }

// Count returns the cached total resting order count.
func (s *OrderBookSide) Count() int { return s.count }

// DepthLevel is one aggregated row of a depth snapshot.
type DepthLevel struct {
	Price           decimal.Decimal
	TotalRemaining  decimal.Decimal
}

// Depth returns up to n aggregated (price, total remaining amount) rows
// in canonical order: descending for bids, ascending for asks.
func (s *OrderBookSide) Depth(n int) []DepthLevel {
	out := make([]DepthLevel, 0, n)
	it := s.tree.Iterator()
	for it.Next() {
		if len(out) >= n {
			break
		}
		lvl := it.Value()
		total := decimal.Zero
		for e := lvl.orders.Front(); e != nil; e = e.Next() {
			total = total.Add(e.Value.(*OrderEntry).RemainingAmount)
		}
		out = append(out, DepthLevel{Price: lvl.price, TotalRemaining: total})
	}
	return out
}
