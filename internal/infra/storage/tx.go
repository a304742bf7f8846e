package storage

import (
	"errors"
	"fmt"
	"time"

	"token_exchange/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Tx is the view of the store inside one admission unit of work.
type Tx struct {
	db       *gorm.DB
	rowLocks bool
}

// locked returns a query that takes a row lock where the dialect supports it.
func (t *Tx) locked() *gorm.DB {
	if t.rowLocks {
		return t.db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return t.db
}

// LookupPrice returns the current unit price of token.
func (t *Tx) LookupPrice(token string) (domain.PriceEntry, error) {
	var entry domain.PriceEntry
	err := t.db.Where("token_name = ?", token).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return entry, domain.ErrInvalidToken
	}
	return entry, err
}

// GetOrInitBalance returns the owner's balance row, locked for the rest of
// the transaction, creating a zero balance first if the owner has none.
func (t *Tx) GetOrInitBalance(owner string) (*domain.Balance, error) {
	var b domain.Balance
	err := t.locked().Where("owner_id = ?", owner).Take(&b).Error
	if err == nil {
		return &b, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	// Two first orders may race here; whichever insert loses falls through to the re-read.
	fresh := domain.NewBalance(owner)
	fresh.UpdatedAt = time.Now()
	if err := t.db.Clauses(clause.OnConflict{DoNothing: true}).Create(fresh).Error; err != nil {
		return nil, fmt.Errorf("init balance %s: %w", owner, err)
	}
	if err := t.locked().Where("owner_id = ?", owner).Take(&b).Error; err != nil {
		return nil, fmt.Errorf("reload balance %s: %w", owner, err)
	}
	return &b, nil
}

// SaveBalance persists the balance amount.
func (t *Tx) SaveBalance(b *domain.Balance) error {
	if err := b.VerifyInvariant(); err != nil {
		return err
	}
	b.UpdatedAt = time.Now()
	return t.db.Model(&domain.Balance{}).
		Where("owner_id = ?", b.OwnerID).
		Updates(map[string]any{"amount": b.Amount, "updated_at": b.UpdatedAt}).Error
}

// InsertOrder appends a new pending order and assigns its id.
func (t *Tx) InsertOrder(o *domain.Order) error {
	o.Settled = false
	o.BatchID = nil
	o.SettledAt = nil
	return t.db.Create(o).Error
}

// LockSettlementState returns the singleton settlement row, locked.
func (t *Tx) LockSettlementState() (*domain.SettlementState, error) {
	var st domain.SettlementState
	if err := t.locked().Take(&st, domain.SettlementStateID).Error; err != nil {
		return nil, fmt.Errorf("lock settlement state: %w", err)
	}
	return &st, nil
}

// SaveSettlementState persists the running total and batch sequence.
func (t *Tx) SaveSettlementState(st *domain.SettlementState) error {
	st.UpdatedAt = time.Now()
	return t.db.Model(&domain.SettlementState{}).
		Where("id = ?", st.ID).
		Updates(map[string]any{
			"pending_value":  st.PendingValue,
			"last_batch_seq": st.LastBatchSeq,
			"updated_at":     st.UpdatedAt,
		}).Error
}

// PendingOrders returns every unsettled order visible to this transaction.
func (t *Tx) PendingOrders() ([]domain.Order, error) {
	var orders []domain.Order
	err := t.db.Where("settled = ?", false).Order("id").Find(&orders).Error
	return orders, err
}

// MarkSettled flips exactly the orders in batch from pending to settled and
// records the batch. Any mismatch aborts with ErrSettlementConflict.
func (t *Tx) MarkSettled(batch *domain.Batch) error {
	if len(batch.OrderIDs) == 0 {
		return fmt.Errorf("batch %d is empty: %w", batch.Seq, domain.ErrSettlementConflict)
	}

	res := t.db.Model(&domain.Order{}).
		Where("id IN ? AND settled = ?", batch.OrderIDs, false).
		Updates(map[string]any{
			"settled":    true,
			"batch_id":   batch.ID,
			"settled_at": batch.CreatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != int64(len(batch.OrderIDs)) {
		return fmt.Errorf("batch %d flipped %d of %d orders: %w",
			batch.Seq, res.RowsAffected, len(batch.OrderIDs), domain.ErrSettlementConflict)
	}

	return t.db.Create(batch).Error
}
