package models

import "github.com/abdoElHodaky/tradSys/internal/decimal"

// UserBalance is the durable snapshot of one user's holdings in one
// asset, per spec §6: `user_balances(user_id, mint_address, available,
// locked, PK(user_id, mint_address))`. It is written by whatever process
// periodically checkpoints internal/balance.Store to disk, and read back
// by the engine's recovery protocol (spec §6 "Recovery protocol") to
// replay balances via Store.Set on startup.
//
// This replaces the teacher's statistical-arbitrage Pair model (formerly
// internal/db/models/pair.go): that model tracked
// correlation/cointegration/z-score state for a pairs-trading strategy
// this exchange core has no use for (see DESIGN.md, "Dropped teacher
// modules").
type UserBalance struct {
	UserID      string          `gorm:"primaryKey;type:varchar(64)"`
	MintAddress string          `gorm:"primaryKey;type:varchar(32)"`
	Available   decimal.Decimal `gorm:"type:numeric(38,18);not null"`
	Locked      decimal.Decimal `gorm:"type:numeric(38,18);not null"`
}

// TableName pins the table name so it doesn't depend on gorm's pluralizer.
func (UserBalance) TableName() string { return "user_balances" }
