// Package models holds the gorm models backing the durable tables the
// trade consumer (internal/consumer) projects events into, per spec §6
// "Persistent schema (consumer-side)". Adapted from the teacher's
// internal/db/models/order.go, trimmed to the columns the spec names and
// retyped from float64 to decimal.Decimal so monetary values round-trip
// as exact decimal strings rather than binary floats.
package models

import (
	"time"

	"github.com/abdoElHodaky/tradSys/internal/decimal"
)

// OrderStatus is the persisted lifecycle state of an order row, mirroring
// engine.Status.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPartial   OrderStatus = "partial"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// OrderSide is the persisted side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType is the persisted kind of an order.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// Order is the durable row the consumer maintains for every engine order,
// per spec §6: `orders(id PK, user_id, order_type, order_side, base_mint,
// quote_mint, price?, amount, quote_amount?, filled_amount,
// filled_quote_amount, status, created_at, updated_at)`.
type Order struct {
	ID                uint64          `gorm:"primaryKey"`
	UserID            string          `gorm:"type:varchar(64);index;not null"`
	OrderType         OrderType       `gorm:"type:varchar(10);not null"`
	OrderSide         OrderSide       `gorm:"type:varchar(10);not null"`
	BaseMint          string          `gorm:"type:varchar(32);index:idx_orders_pair;not null"`
	QuoteMint         string          `gorm:"type:varchar(32);index:idx_orders_pair;not null"`
	Price             decimal.Decimal `gorm:"type:numeric(38,18)"`
	Amount            decimal.Decimal `gorm:"type:numeric(38,18);not null"`
	QuoteAmount       decimal.Decimal `gorm:"type:numeric(38,18)"`
	FilledAmount      decimal.Decimal `gorm:"type:numeric(38,18);not null"`
	FilledQuoteAmount decimal.Decimal `gorm:"type:numeric(38,18);not null"`
	Status            OrderStatus     `gorm:"type:varchar(12);index;not null"`
	CreatedAt         time.Time       `gorm:"index"`
	UpdatedAt         time.Time
}

// TableName pins the table name so it doesn't depend on gorm's pluralizer.
func (Order) TableName() string { return "orders" }
