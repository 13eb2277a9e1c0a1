// Package repositories holds the gorm-backed persistence layer the trade
// consumer (internal/consumer) writes through, adapted from the
// teacher's internal/db/repositories: same constructor shape and zap
// error-logging idiom, rebuilt against the spec's orders/trades/
// trade_fees/user_balances schema instead of the teacher's query-builder
// abstraction (internal/db/query, dropped — see DESIGN.md).
package repositories

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/abdoElHodaky/tradSys/internal/db/models"
)

// OrderRepository handles database operations for the durable orders
// table.
type OrderRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewOrderRepository creates a new order repository.
func NewOrderRepository(db *gorm.DB, logger *zap.Logger) *OrderRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderRepository{db: db, logger: logger}
}

// Create inserts a new order row. Per spec §2 item 9's lifecycle note,
// this runs before matching, not from the consumer: the engine's HTTP/
// gRPC front-end (out of scope) is expected to call it when it accepts a
// submission, so the order row exists for the consumer to update.
func (r *OrderRepository) Create(ctx context.Context, order *models.Order) error {
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		r.logger.Error("failed to create order", zap.Error(err), zap.Uint64("order_id", order.ID))
		return err
	}
	return nil
}

// FindByID retrieves an order by its engine-assigned id, locked FOR
// UPDATE within tx so the caller can safely read-modify-write (spec
// §4.8 step 1's per-order exclusive lock). Pass the repository's own db
// as tx outside a transaction.
func (r *OrderRepository) FindByID(ctx context.Context, tx *gorm.DB, orderID uint64) (*models.Order, error) {
	var order models.Order
	err := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&order, "id = ?", orderID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.logger.Error("failed to find order", zap.Error(err), zap.Uint64("order_id", orderID))
		return nil, err
	}
	return &order, nil
}

// ApplyFill persists order's updated filled_amount/filled_quote_amount
// and status transition, per spec §4.8 step 4. Caller supplies order
// already locked by FindByID within tx, with the new totals already
// applied to the struct.
func (r *OrderRepository) ApplyFill(ctx context.Context, tx *gorm.DB, order *models.Order, status models.OrderStatus) error {
	result := tx.WithContext(ctx).Model(&models.Order{}).Where("id = ?", order.ID).Updates(map[string]interface{}{
		"filled_amount":       order.FilledAmount,
		"filled_quote_amount": order.FilledQuoteAmount,
		"status":              status,
	})
	if result.Error != nil {
		r.logger.Error("failed to apply fill", zap.Error(result.Error), zap.Uint64("order_id", order.ID))
		return result.Error
	}
	return nil
}

// MarkCancelled transitions order to cancelled, per spec §4.8's
// order_cancelled handling.
func (r *OrderRepository) MarkCancelled(ctx context.Context, tx *gorm.DB, orderID uint64) error {
	result := tx.WithContext(ctx).Model(&models.Order{}).Where("id = ?", orderID).Update("status", models.OrderStatusCancelled)
	if result.Error != nil {
		r.logger.Error("failed to mark order cancelled", zap.Error(result.Error), zap.Uint64("order_id", orderID))
		return result.Error
	}
	return nil
}

// WithTx runs fn inside a gorm transaction, rolling back on error or
// panic, matching the teacher's transactional-update idiom in the
// original UpdatePosition method.
func (r *OrderRepository) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}
