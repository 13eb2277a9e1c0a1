package engine

import (
	"time"

	"github.com/abdoElHodaky/tradSys/internal/decimal"
	"github.com/abdoElHodaky/tradSys/internal/orderbook"
)

// Side and Kind are re-exported so callers outside internal/orderbook
// don't need to import it directly for simple order construction.
type Side = orderbook.Side
type Kind = orderbook.Kind

const (
	Buy  = orderbook.Buy
	Sell = orderbook.Sell

	Limit  = orderbook.Limit
	Market = orderbook.Market
)

// Pair is an ordered (base, quote) asset pair.
type Pair = orderbook.Pair

// Status is an order's lifecycle state, per spec §3:
// new -> resting -> partial -> filled, or cancelled/rejected terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPartial   Status = "partial"
	StatusFilled    Status = "filled"
	StatusCancelled Status = "cancelled"
	StatusRejected  Status = "rejected"
)

// Order is the persistent view of an order: the full record the engine
// hands back to callers and that the durable order table mirrors.
type Order struct {
	ID                   uint64
	UserID               string
	Side                 Side
	Kind                 Kind
	Pair                 Pair
	Price                decimal.Decimal
	Amount               decimal.Decimal
	QuoteAmount          decimal.Decimal
	FilledAmount         decimal.Decimal
	FilledQuoteAmount    decimal.Decimal
	RemainingAmount      decimal.Decimal
	RemainingQuoteAmount decimal.Decimal
	Status               Status
	CreatedAt            time.Time
}

// SubmitOrder is the command constructing a new order. ID is optional;
// the engine assigns a monotonic one when zero. CreatedAt is optional;
// the engine stamps "now" when zero (recovery replay supplies its own).
type SubmitOrder struct {
	ID          uint64
	UserID      string
	Side        Side
	Kind        Kind
	Pair        Pair
	Price       decimal.Decimal
	Amount      decimal.Decimal
	QuoteAmount decimal.Decimal
	CreatedAt   time.Time

	// SkipLock is set only by crash-recovery replay (see §6 "Recovery
	// protocol"): the durable balances table already reflects this
	// order's lock, so the engine must not lock again.
	SkipLock bool
}

// CancelOrder is the command to cancel a resting order.
type CancelOrder struct {
	OrderID uint64
	UserID  string
	Pair    Pair
}

// Deposit credits available balance from an external source.
type Deposit struct {
	UserID string
	Asset  string
	Amount decimal.Decimal
}

// Withdraw debits available balance to an external destination.
type Withdraw struct {
	UserID string
	Asset  string
	Amount decimal.Decimal
}

// SyncAvailable administratively applies an externally computed delta
// (which may be negative) to a user's available balance.
type SyncAvailable struct {
	UserID string
	Asset  string
	Delta  decimal.Decimal
}

// SnapshotBook requests a depth snapshot for pair.
type SnapshotBook struct {
	Pair  Pair
	Depth int
}

// Match is the caller-facing view of one fill produced by a submission.
type Match struct {
	BuyOrderID  uint64
	SellOrderID uint64
	BuyerID     string
	SellerID    string
	Price       decimal.Decimal
	Amount      decimal.Decimal
}

// Accepted is returned by SubmitOrder on success.
type Accepted struct {
	Order          Order
	Matches        []Match
	ResidualStatus Status
}
