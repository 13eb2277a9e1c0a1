package repositories

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/abdoElHodaky/tradSys/internal/db/models"
)

// TradeRepository handles trade and trade-fee data operations.
type TradeRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewTradeRepository creates a new trade repository.
func NewTradeRepository(db *gorm.DB, logger *zap.Logger) *TradeRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TradeRepository{db: db, logger: logger}
}

// Exists reports whether a trade with tradeID is already recorded, the
// idempotence check of spec §4.8 step 2.
func (r *TradeRepository) Exists(ctx context.Context, tx *gorm.DB, tradeID uint64) (bool, error) {
	var count int64
	err := tx.WithContext(ctx).Model(&models.Trade{}).Where("id = ?", tradeID).Count(&count).Error
	if err != nil {
		r.logger.Error("failed to check trade existence", zap.Error(err), zap.Uint64("trade_id", tradeID))
		return false, err
	}
	return count > 0, nil
}

// Create inserts the trade row, per spec §4.8 step 3. A duplicate
// primary key (a concurrent or redelivered apply of the same trade) is
// treated as success, not an error, since a prior Exists check may have
// raced with another consumer goroutine.
func (r *TradeRepository) Create(ctx context.Context, tx *gorm.DB, trade *models.Trade) error {
	err := tx.WithContext(ctx).Create(trade).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil
	}
	if err != nil {
		r.logger.Error("failed to create trade", zap.Error(err), zap.Uint64("trade_id", trade.ID))
		return err
	}
	return nil
}

// Page returns up to limit trades with id > afterID in ascending id
// order, the pull side of the daily settlement boundary's TradeStream
// interface (internal/settlement).
func (r *TradeRepository) Page(ctx context.Context, afterID uint64, limit int) ([]models.Trade, error) {
	var trades []models.Trade
	err := r.db.WithContext(ctx).Where("id > ?", afterID).Order("id asc").Limit(limit).Find(&trades).Error
	if err != nil {
		r.logger.Error("failed to page trades", zap.Error(err), zap.Uint64("after_id", afterID))
		return nil, err
	}
	return trades, nil
}

// CreateFees inserts the two trade_fee rows a trade produces (spec §4.8
// step 5, one per counterparty).
func (r *TradeRepository) CreateFees(ctx context.Context, tx *gorm.DB, fees []models.TradeFee) error {
	if len(fees) == 0 {
		return nil
	}
	if err := tx.WithContext(ctx).Create(&fees).Error; err != nil {
		r.logger.Error("failed to create trade fees", zap.Error(err), zap.Uint64("trade_id", fees[0].TradeID))
		return err
	}
	return nil
}
