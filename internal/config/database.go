package config

import (
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/abdoElHodaky/tradSys/internal/db/models"
)

// dsn builds the Postgres connection string from cfg.Database.
func dsn(cfg *Config) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Database.Host, cfg.Database.Port, cfg.Database.User,
		cfg.Database.Password, cfg.Database.Name, cfg.Database.SSLMode)
}

// NewDatabase opens the Postgres connection pool the durable
// repositories (internal/db/repositories) run against, and migrates
// the orders/trades/trade_fees/user_balances schema.
func NewDatabase(cfg *Config, logger *zap.Logger) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	}

	db, err := gorm.Open(postgres.Open(dsn(cfg)), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if err := db.AutoMigrate(
		&models.Order{},
		&models.Trade{},
		&models.TradeFee{},
		&models.UserBalance{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	logger.Info("database connected",
		zap.String("host", cfg.Database.Host), zap.String("name", cfg.Database.Name))

	return db, nil
}

// DatabaseModule provides the *gorm.DB connection pool to an fx app.
var DatabaseModule = fx.Options(
	fx.Provide(NewDatabase),
)
