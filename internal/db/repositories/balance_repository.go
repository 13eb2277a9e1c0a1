package repositories

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/abdoElHodaky/tradSys/internal/db/models"
)

// BalanceRepository persists the user_balances checkpoint table that
// backs the engine's recovery protocol (spec §6 "Recovery protocol"):
// on startup the engine replays every row here into internal/balance's
// in-memory Store before resuming live commands.
type BalanceRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewBalanceRepository creates a new balance repository.
func NewBalanceRepository(db *gorm.DB, logger *zap.Logger) *BalanceRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BalanceRepository{db: db, logger: logger}
}

// All loads every checkpointed balance row, for replay into the
// in-memory store at startup.
func (r *BalanceRepository) All(ctx context.Context) ([]models.UserBalance, error) {
	var balances []models.UserBalance
	if err := r.db.WithContext(ctx).Find(&balances).Error; err != nil {
		r.logger.Error("failed to load user balances", zap.Error(err))
		return nil, err
	}
	return balances, nil
}

// Upsert writes bal's current available/locked snapshot, overwriting
// any existing row for the same (user_id, mint_address).
func (r *BalanceRepository) Upsert(ctx context.Context, bal models.UserBalance) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "mint_address"}},
		DoUpdates: clause.AssignmentColumns([]string{"available", "locked"}),
	}).Create(&bal).Error
	if err != nil {
		r.logger.Error("failed to upsert user balance",
			zap.Error(err), zap.String("user_id", bal.UserID), zap.String("mint_address", bal.MintAddress))
		return err
	}
	return nil
}
