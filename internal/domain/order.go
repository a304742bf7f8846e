package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order is a buy order admitted against the price catalog.
// Everything except the settlement bookkeeping is fixed at admission time.
type Order struct {
	ID        uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerID   string          `gorm:"index;not null" json:"owner_id"`
	Token     string          `gorm:"index;not null" json:"token_name"`
	Quantity  decimal.Decimal `gorm:"not null" json:"amount"`
	UnitPrice decimal.Decimal `gorm:"not null" json:"price"`
	CreatedAt time.Time       `json:"timestamp"`

	// Settled flips false -> true exactly once, together with the rest of its batch.
	Settled   bool       `gorm:"index;not null;default:false" json:"included_in_exchange"`
	BatchID   *string    `gorm:"index" json:"batch_id,omitempty"`
	SettledAt *time.Time `json:"settled_at,omitempty"`
}

// Value returns quantity * unit price.
func (o *Order) Value() decimal.Decimal {
	return o.Quantity.Mul(o.UnitPrice)
}

// IsPending reports whether the order still counts toward the settlement trigger.
func (o *Order) IsPending() bool {
	return !o.Settled
}

// AmountScale is the number of decimal places stored for quantities and prices.
// Order values (quantity * price) are stored with twice as many.
const AmountScale = 8

// MaxAmountDigits bounds the integer part of quantities, prices and credits.
const MaxAmountDigits = 8

// maxAmountLen caps raw caller input before it is parsed.
const maxAmountLen = 64

// ParseQuantity parses a caller supplied amount. Only strictly positive
// decimals within MaxAmountDigits integer digits and AmountScale places are
// accepted.
func ParseQuantity(raw string) (decimal.Decimal, error) {
	if len(raw) > maxAmountLen {
		return decimal.Zero, ErrMalformedAmount
	}
	q, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, ErrMalformedAmount
	}
	if !q.IsPositive() || !FitsAmount(q) {
		return decimal.Zero, ErrMalformedAmount
	}
	return q, nil
}

// FitsAmount reports whether d has at most MaxAmountDigits integer digits and
// survives storage at AmountScale without rounding.
// The digit count is read from coefficient and exponent, never by rescaling.
func FitsAmount(d decimal.Decimal) bool {
	if d.IsZero() {
		return true
	}
	digits := int64(len(d.Coefficient().Text(10)))
	if d.IsNegative() {
		digits-- // sign
	}
	if digits+int64(d.Exponent()) > MaxAmountDigits {
		return false
	}
	return FitsScale(d)
}

// FitsScale reports whether d survives storage at AmountScale without rounding.
func FitsScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(AmountScale))
}
