// Package matching implements the pure order-matching function: given an
// incoming order and a mutable order book, it produces a list of matches
// while mutating resting orders' and the incoming order's residuals. It
// enforces price-time priority, self-trade prevention, and the
// quote-denominated market-buy budget described in spec §4.4.
//
// The matcher itself never fails on a well-shaped order; it only
// validates the order's shape up front and returns ErrInvalidOrder,
// grounded in the teacher's pkg/matching/engine.go split between
// processLimitOrder and processMarketOrder, generalized to decimal
// arithmetic and quote-mode budgets.
package matching

import (
	"container/list"
	"errors"

	"github.com/abdoElHodaky/tradSys/internal/decimal"
	"github.com/abdoElHodaky/tradSys/internal/orderbook"
)

// ErrInvalidOrder is returned when the incoming order's shape violates
// the matcher's preconditions: a limit order without a positive price,
// or a market buy that specifies zero or both of amount/quote_amount.
var ErrInvalidOrder = errors.New("matching: invalid order shape")

// MatchResult is the transient outcome of one fill between the incoming
// order and one resting order.
type MatchResult struct {
	BuyOrderID  uint64
	SellOrderID uint64
	BuyerID     string
	SellerID    string
	Pair        orderbook.Pair
	Price       decimal.Decimal
	Amount      decimal.Decimal
}

// Match runs the matching algorithm for incoming against book, mutating
// both book and incoming in place, and returns the ordered list of
// fills produced.
func Match(incoming *orderbook.OrderEntry, book *orderbook.OrderBook) ([]MatchResult, error) {
	if err := validate(incoming); err != nil {
		return nil, err
	}
	if incoming.Side == orderbook.Buy {
		return matchBuy(incoming, book)
	}
	return matchSell(incoming, book)
}

func validate(o *orderbook.OrderEntry) error {
	if o.Kind == orderbook.Limit && !o.Price.IsPositive() {
		return ErrInvalidOrder
	}
	if o.Kind == orderbook.Market && o.Side == orderbook.Buy {
		hasAmount := o.Amount.IsPositive()
		hasQuote := o.QuoteAmount.IsPositive()
		if hasAmount == hasQuote {
			// exactly one of the two must be set
			return ErrInvalidOrder
		}
	}
	return nil
}

// isQuoteMode reports whether incoming is a market buy expressed as a
// quote-currency budget rather than a base quantity.
func isQuoteMode(o *orderbook.OrderEntry) bool {
	return o.Kind == orderbook.Market && o.Side == orderbook.Buy && o.QuoteAmount.IsPositive()
}

func buySatisfied(incoming *orderbook.OrderEntry, quoteMode bool) bool {
	if quoteMode {
		return !incoming.RemainingQuoteAmount.IsPositive()
	}
	return !incoming.RemainingAmount.IsPositive()
}

func matchBuy(incoming *orderbook.OrderEntry, book *orderbook.OrderBook) ([]MatchResult, error) {
	quoteMode := isQuoteMode(incoming)
	if quoteMode {
		incoming.RemainingQuoteAmount = incoming.QuoteAmount
	}

	var results []MatchResult
	if buySatisfied(incoming, quoteMode) {
		return results, nil
	}

	asks := book.Asks
	for {
		bestPrice, ok := asks.BestPrice()
		if !ok {
			break
		}
		if incoming.Kind == orderbook.Limit && incoming.Price.LessThan(bestPrice) {
			break
		}

		queue := asks.OrdersAt(bestPrice)
		stop := matchLevel(incoming, asks, queue, bestPrice, quoteMode, true, &results)

		if queue.Len() == 0 {
			asks.RemovePriceLevel(bestPrice)
		}
		if stop || buySatisfied(incoming, quoteMode) {
			break
		}
	}

	if quoteMode && incoming.RemainingQuoteAmount.IsNegative() {
		// The quote/price division is floored, so m*price never exceeds
		// the remaining budget; this clamp is defensive and keeps the
		// invariant remaining_quote_amount >= 0 for the amount the engine
		// releases back to available.
		incoming.RemainingQuoteAmount = decimal.Zero
	}

	return results, nil
}

func sellSatisfied(incoming *orderbook.OrderEntry) bool {
	return !incoming.RemainingAmount.IsPositive()
}

func matchSell(incoming *orderbook.OrderEntry, book *orderbook.OrderBook) ([]MatchResult, error) {
	var results []MatchResult
	if sellSatisfied(incoming) {
		return results, nil
	}

	bids := book.Bids
	for {
		bestPrice, ok := bids.BestPrice()
		if !ok {
			break
		}
		if incoming.Kind == orderbook.Limit && incoming.Price.GreaterThan(bestPrice) {
			break
		}

		queue := bids.OrdersAt(bestPrice)
		stop := matchLevel(incoming, bids, queue, bestPrice, false, false, &results)

		if queue.Len() == 0 {
			bids.RemovePriceLevel(bestPrice)
		}
		if stop || sellSatisfied(incoming) {
			break
		}
	}

	return results, nil
}

// matchLevel drains (a prefix of) queue, the FIFO resting at price,
// against incoming. It returns true when the level must stop being
// revisited even though the queue may still hold orders (self-trade
// rotation bound hit, or no further match possible at this price).
func matchLevel(incoming *orderbook.OrderEntry, side *orderbook.OrderBookSide, queue *list.List, price decimal.Decimal, quoteMode bool, incomingIsBuyer bool, results *[]MatchResult) bool {
	initialLen := queue.Len()
	rotations := 0

	for queue.Len() > 0 {
		front := queue.Front()
		resting := front.Value.(*orderbook.OrderEntry)
		queue.Remove(front)
		side.DecrementCount()

		if resting.UserID == incoming.UserID {
			queue.PushBack(resting)
			side.IncrementCount()
			rotations++
			if rotations > 2*initialLen {
				// Undo the rotation we just performed and reinsert the
				// same resting entry at the front, then give up on this
				// level: the whole level belongs to the incoming user.
				if back := queue.Back(); back != nil && back.Value.(*orderbook.OrderEntry) == resting {
					queue.Remove(back)
					side.DecrementCount()
				}
				queue.PushFront(resting)
				side.IncrementCount()
				return true
			}
			continue
		}

		incomingRemaining := incoming.RemainingAmount
		if quoteMode {
			// Floor, not round: a half-up quotient can price out a
			// hair above the true budget, which the executor then
			// can't transfer out of the locked quote amount.
			maxByQuote, err := incoming.RemainingQuoteAmount.DivFloor(price)
			if err != nil {
				// price is always positive here (BestPrice never yields
				// zero); defensive only.
				queue.PushFront(resting)
				side.IncrementCount()
				return true
			}
			incomingRemaining = maxByQuote
		}
		m := decimal.Min(incomingRemaining, resting.RemainingAmount)

		if !m.IsPositive() {
			queue.PushFront(resting)
			side.IncrementCount()
			return true
		}

		buyOrderID, sellOrderID := incoming.ID, resting.ID
		buyerID, sellerID := incoming.UserID, resting.UserID
		if !incomingIsBuyer {
			buyOrderID, sellOrderID = resting.ID, incoming.ID
			buyerID, sellerID = resting.UserID, incoming.UserID
		}

		*results = append(*results, MatchResult{
			BuyOrderID:  buyOrderID,
			SellOrderID: sellOrderID,
			BuyerID:     buyerID,
			SellerID:    sellerID,
			Pair:        incoming.Pair,
			Price:       price,
			Amount:      m,
		})

		resting.FilledAmount = resting.FilledAmount.Add(m)
		resting.RemainingAmount = resting.RemainingAmount.Sub(m)
		if resting.RemainingAmount.IsPositive() {
			queue.PushFront(resting)
			side.IncrementCount()
		}

		if quoteMode {
			q := m.Mul(price)
			incoming.RemainingQuoteAmount = incoming.RemainingQuoteAmount.Sub(q)
			incoming.Amount = incoming.Amount.Add(m)
			incoming.FilledAmount = incoming.FilledAmount.Add(m)
			incoming.RemainingAmount = decimal.Zero
		} else {
			incoming.FilledAmount = incoming.FilledAmount.Add(m)
			incoming.RemainingAmount = incoming.RemainingAmount.Sub(m)
		}

		satisfied := !incoming.RemainingAmount.IsPositive()
		if quoteMode {
			satisfied = !incoming.RemainingQuoteAmount.IsPositive()
		}
		if satisfied {
			return false
		}
	}

	return false
}
