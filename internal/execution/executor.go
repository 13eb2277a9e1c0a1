// Package execution applies a matching.MatchResult to the balance store:
// it moves quote currency from the buyer's locked funds to the seller's
// available funds, and base currency from the seller's locked funds to
// the buyer's available funds. Both transfers must succeed; a failure
// indicates the submission-time lock was wrong and is fatal to the
// calling pair loop (see internal/engine), never recoverable in place.
package execution

import (
	"errors"
	"fmt"

	"github.com/abdoElHodaky/tradSys/internal/balance"
	"github.com/abdoElHodaky/tradSys/internal/matching"
)

// ErrSettlementFailed wraps a balance.ErrInsufficientLocked encountered
// while applying a match. Callers must treat this as fatal: halt the
// pair loop and alert an operator, per spec §7.
var ErrSettlementFailed = errors.New("execution: settlement invariant breach")

// Executor settles matches against a shared balance.Store.
type Executor struct {
	balances *balance.Store
}

// New creates an Executor over balances.
func New(balances *balance.Store) *Executor {
	return &Executor{balances: balances}
}

// Apply settles one match: quote from buyer-locked to seller-available,
// then base from seller-locked to buyer-available.
func (e *Executor) Apply(quoteAsset, baseAsset balance.Asset, result matching.MatchResult) error {
	totalQuote := result.Price.Mul(result.Amount)

	if err := e.balances.TransferLocked(result.BuyerID, result.SellerID, quoteAsset, totalQuote); err != nil {
		return fmt.Errorf("%w: quote transfer %s->%s: %v", ErrSettlementFailed, result.BuyerID, result.SellerID, err)
	}
	if err := e.balances.TransferLocked(result.SellerID, result.BuyerID, baseAsset, result.Amount); err != nil {
		return fmt.Errorf("%w: base transfer %s->%s: %v", ErrSettlementFailed, result.SellerID, result.BuyerID, err)
	}
	return nil
}
