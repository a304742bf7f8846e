package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Balance is the spendable amount of a single owner.
// Invariant: Amount is never negative once a transaction commits.
type Balance struct {
	OwnerID   string          `gorm:"primaryKey" json:"owner_id"`
	Amount    decimal.Decimal `gorm:"not null" json:"balance"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NewBalance returns an empty balance for owner.
func NewBalance(owner string) *Balance {
	return &Balance{OwnerID: owner, Amount: decimal.Zero}
}

// CanAfford reports whether cost can be debited without going negative.
func (b *Balance) CanAfford(cost decimal.Decimal) bool {
	return b.Amount.GreaterThanOrEqual(cost)
}

// Debit removes cost from the balance.
// Returns ErrInsufficientBalance and leaves the balance untouched if it would go negative.
func (b *Balance) Debit(cost decimal.Decimal) error {
	if cost.IsNegative() {
		return fmt.Errorf("debit %s: %w", cost, ErrMalformedAmount)
	}
	if !b.CanAfford(cost) {
		return ErrInsufficientBalance
	}
	b.Amount = b.Amount.Sub(cost)
	return nil
}

// Credit adds funds to the balance.
func (b *Balance) Credit(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("credit %s: %w", amount, ErrMalformedAmount)
	}
	b.Amount = b.Amount.Add(amount)
	return nil
}

// VerifyInvariant checks that the balance is not negative.
func (b *Balance) VerifyInvariant() error {
	if b.Amount.IsNegative() {
		return fmt.Errorf("BALANCE_INVARIANT_NEGATIVE_AMOUNT: %s = %s", b.OwnerID, b.Amount)
	}
	return nil
}
