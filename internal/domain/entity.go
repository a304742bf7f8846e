package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Decimal columns carry no SQL type: gorm derives text from decimal.Decimal's
// Valuer, so every backend round-trips amounts exactly.

// PriceEntry is the current unit price of a token.
type PriceEntry struct {
	Token     string          `gorm:"column:token_name;primaryKey" json:"token_name"`
	Price     decimal.Decimal `gorm:"not null" json:"price"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// SettlementStateID is the primary key of the singleton settlement row.
const SettlementStateID = 1

// SettlementState is the singleton row every admission locks before it
// touches the pending aggregate.
type SettlementState struct {
	ID           uint            `gorm:"primaryKey"`
	PendingValue decimal.Decimal `gorm:"not null"`
	LastBatchSeq uint64          `gorm:"not null;default:0"`
	UpdatedAt    time.Time
}

// Reached reports whether the running total meets threshold. The bound is inclusive.
func (s *SettlementState) Reached(threshold decimal.Decimal) bool {
	return s.PendingValue.GreaterThanOrEqual(threshold)
}
