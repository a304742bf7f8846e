package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Batch is a group of orders settled together in one transaction.
type Batch struct {
	ID         string          `gorm:"primaryKey" json:"batch_id"`
	Seq        uint64          `gorm:"uniqueIndex;not null" json:"seq"`
	Total      decimal.Decimal `gorm:"not null" json:"total"`
	OrderCount int             `gorm:"not null" json:"order_count"`
	CreatedAt  time.Time       `json:"created_at"`

	OrderIDs []uint64   `gorm:"-" json:"order_ids"`
	Legs     []BatchLeg `gorm:"-" json:"legs"`
}

// BatchLeg aggregates the orders of one token inside a batch.
type BatchLeg struct {
	Token    string          `json:"token_name"`
	Quantity decimal.Decimal `json:"amount"`
	Value    decimal.Decimal `json:"value"`
}

// NewBatch builds a batch from an exact snapshot of pending orders.
// The snapshot is not re-read later; the caller settles precisely these ids.
func NewBatch(seq uint64, orders []Order, now time.Time) *Batch {
	b := &Batch{
		ID:         uuid.NewString(),
		Seq:        seq,
		Total:      decimal.Zero,
		OrderCount: len(orders),
		CreatedAt:  now,
		OrderIDs:   make([]uint64, 0, len(orders)),
	}

	legs := make(map[string]*BatchLeg)
	for i := range orders {
		o := &orders[i]
		b.OrderIDs = append(b.OrderIDs, o.ID)
		b.Total = b.Total.Add(o.Value())

		leg, ok := legs[o.Token]
		if !ok {
			leg = &BatchLeg{Token: o.Token, Quantity: decimal.Zero, Value: decimal.Zero}
			legs[o.Token] = leg
		}
		leg.Quantity = leg.Quantity.Add(o.Quantity)
		leg.Value = leg.Value.Add(o.Value())
	}

	b.Legs = make([]BatchLeg, 0, len(legs))
	for _, leg := range legs {
		b.Legs = append(b.Legs, *leg)
	}
	sort.Slice(b.Legs, func(i, j int) bool {
		return b.Legs[i].Token < b.Legs[j].Token
	})
	return b
}

// SumPending returns the value of the unsettled orders in orders.
func SumPending(orders []Order) decimal.Decimal {
	total := decimal.Zero
	for i := range orders {
		if orders[i].IsPending() {
			total = total.Add(orders[i].Value())
		}
	}
	return total
}
