// Package settlement defines the input contract between the live
// trading core and the daily settlement boundary (spec.md §2 item 12):
// a batch job, out of scope here, consumes the day's trade stream and
// a balance snapshot to produce per-mint daily aggregates and runs a
// double-entry check over them. Only that contract — the TradeStream
// and BalanceSnapshotSource interfaces the batch job reads through,
// and the DailyAggregateInput type its validator checks — is
// implemented; the aggregation and scheduling logic is an external
// collaborator.
package settlement

import (
	"context"
	"fmt"

	"github.com/abdoElHodaky/tradSys/internal/db/models"
	"github.com/abdoElHodaky/tradSys/internal/decimal"
)

// TradeStream pages through the day's trades in ascending id order.
// internal/db/repositories.TradeRepository.Page implements this.
type TradeStream interface {
	// Page returns up to limit trades with id > afterID, in ascending
	// id order, or an empty slice once the stream is exhausted.
	Page(ctx context.Context, afterID uint64, limit int) ([]models.Trade, error)
}

// BalanceSnapshotSource returns a point-in-time snapshot of every
// user's checkpointed balances. internal/db/repositories.BalanceRepository.All
// implements this.
type BalanceSnapshotSource interface {
	All(ctx context.Context) ([]models.UserBalance, error)
}

// DailyAggregateInput is one mint's worth of the double-entry check a
// daily settlement run performs: the trades and fees that moved this
// mint during the day should reconcile the opening checkpoint to the
// closing one. Populating this from a TradeStream and
// BalanceSnapshotSource pair is the batch job's responsibility; only
// the input shape and its validator are specified here.
type DailyAggregateInput struct {
	MintAddress    string
	OpeningBalance decimal.Decimal
	ClosingBalance decimal.Decimal
	Credits        decimal.Decimal // sum of balance increases attributed to the day's trades
	Debits         decimal.Decimal // sum of balance decreases attributed to the day's trades and fees
}

// Validate checks the double-entry identity opening + credits - debits
// == closing, within the engine's settlement epsilon. A violation
// means some balance movement during the day has no matching entry in
// the trade/fee stream the aggregate was built from.
func (a DailyAggregateInput) Validate() error {
	reconciled := a.OpeningBalance.Add(a.Credits).Sub(a.Debits)
	if decimal.IsNonNegativeAfterEpsilon(reconciled, a.ClosingBalance) &&
		decimal.IsNonNegativeAfterEpsilon(a.ClosingBalance, reconciled) {
		return nil
	}
	return fmt.Errorf("settlement: %s double-entry mismatch: opening %s + credits %s - debits %s = %s, want closing %s",
		a.MintAddress, a.OpeningBalance, a.Credits, a.Debits, reconciled, a.ClosingBalance)
}
