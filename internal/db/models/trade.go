package models

import (
	"time"

	"github.com/abdoElHodaky/tradSys/internal/decimal"
)

// Trade is the durable row for one matched fill, per spec §6:
// `trades(id PK, buy_order_id FK, sell_order_id FK, buyer_id, seller_id,
// base_mint, quote_mint, price, amount, created_at)`. The engine assigns
// TradeID; the consumer's uniqueness constraint on it is the idempotence
// key for at-most-once application (spec §4.8/§6 "At-most-once trade
// application").
type Trade struct {
	ID          uint64          `gorm:"primaryKey"`
	BuyOrderID  uint64          `gorm:"index;not null"`
	SellOrderID uint64          `gorm:"index;not null"`
	BuyerID     string          `gorm:"type:varchar(64);index;not null"`
	SellerID    string          `gorm:"type:varchar(64);index;not null"`
	BaseMint    string          `gorm:"type:varchar(32);not null"`
	QuoteMint   string          `gorm:"type:varchar(32);not null"`
	Price       decimal.Decimal `gorm:"type:numeric(38,18);not null"`
	Amount      decimal.Decimal `gorm:"type:numeric(38,18);not null"`
	CreatedAt   time.Time       `gorm:"index"`
}

// TableName pins the table name so it doesn't depend on gorm's pluralizer.
func (Trade) TableName() string { return "trades" }

// FeeType distinguishes the maker and taker legs of a trade's fee.
type FeeType string

const (
	FeeTypeMaker FeeType = "maker"
	FeeTypeTaker FeeType = "taker"
)

// TradeFee is one side's fee row for a trade, per spec §6: `trade_fees(id
// PK, trade_id FK, user_id FK, fee_type, fee_rate, fee_amount, fee_mint,
// trade_value, created_at)`. Every trade produces exactly two rows, one
// per counterparty (spec §4.8 step 5).
type TradeFee struct {
	ID         uint64          `gorm:"primaryKey"`
	TradeID    uint64          `gorm:"index;not null"`
	UserID     string          `gorm:"type:varchar(64);index;not null"`
	FeeType    FeeType         `gorm:"type:varchar(8);not null"`
	FeeRate    decimal.Decimal `gorm:"type:numeric(38,18);not null"`
	FeeAmount  decimal.Decimal `gorm:"type:numeric(38,18);not null"`
	FeeMint    string          `gorm:"type:varchar(32);not null"`
	TradeValue decimal.Decimal `gorm:"type:numeric(38,18);not null"`
	CreatedAt  time.Time       `gorm:"index"`
}

// TableName pins the table name so it doesn't depend on gorm's pluralizer.
func (TradeFee) TableName() string { return "trade_fees" }
