package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"token_exchange/internal/domain"
	"token_exchange/internal/infra"
	"token_exchange/internal/infra/storage"

	"github.com/shopspring/decimal"
)

// BatchPublisher receives batches after their settlement has committed.
type BatchPublisher interface {
	Publish(ctx context.Context, b *domain.Batch) bool
}

// PlaceResult is the outcome of a successful admission.
type PlaceResult struct {
	Order *domain.Order
	// Batch is set when this admission pushed the pending value over the threshold.
	Batch *domain.Batch
}

// ExchangeService admits buy orders and settles pending orders in batches
// once their accumulated value reaches the threshold.
type ExchangeService struct {
	store     *storage.Storage
	threshold decimal.Decimal
	publisher BatchPublisher
	metrics   *infra.Metrics
	now       func() time.Time
}

// NewExchangeService creates the service. publisher may be nil.
func NewExchangeService(store *storage.Storage, threshold decimal.Decimal, publisher BatchPublisher, metrics *infra.Metrics) *ExchangeService {
	if metrics == nil {
		metrics = infra.GlobalMetrics
	}
	return &ExchangeService{
		store:     store,
		threshold: threshold,
		publisher: publisher,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Threshold returns the configured settlement threshold.
func (s *ExchangeService) Threshold() decimal.Decimal {
	return s.threshold
}

// PlaceOrder buys amount units of token for owner.
//
// The price lookup, balance check and debit, order insert and settlement
// decision run in one transaction. Caller errors (ErrMalformedAmount,
// ErrInvalidToken, ErrInsufficientBalance) leave no trace in the store.
func (s *ExchangeService) PlaceOrder(ctx context.Context, owner, token, amount string) (*PlaceResult, error) {
	start := time.Now()

	if owner == "" {
		s.metrics.RecordOrderRejected()
		return nil, domain.ErrUnauthenticated
	}
	quantity, err := domain.ParseQuantity(amount)
	if err != nil {
		s.metrics.RecordOrderRejected()
		return nil, err
	}

	var result PlaceResult
	err = s.store.WithTx(ctx, func(tx *storage.Tx) error {
		entry, err := tx.LookupPrice(token)
		if err != nil {
			return err
		}
		cost := quantity.Mul(entry.Price)

		balance, err := tx.GetOrInitBalance(owner)
		if err != nil {
			return err
		}
		if err := balance.Debit(cost); err != nil {
			return err
		}
		if err := tx.SaveBalance(balance); err != nil {
			return err
		}

		order := &domain.Order{
			OwnerID:   owner,
			Token:     token,
			Quantity:  quantity,
			UnitPrice: entry.Price,
			CreatedAt: s.now(),
		}
		if err := tx.InsertOrder(order); err != nil {
			return err
		}
		result.Order = order

		batch, err := s.evaluateAndMaybeSettle(tx, cost)
		if err != nil {
			return err
		}
		result.Batch = batch
		if batch != nil {
			order.Settled = true
			order.BatchID = &batch.ID
			order.SettledAt = &batch.CreatedAt
		}
		return nil
	})
	if err != nil {
		if isCallerError(err) {
			s.metrics.RecordOrderRejected()
			slog.Debug("Order rejected",
				slog.String("owner", owner),
				slog.String("token", token),
				slog.String("amount", amount),
				slog.Any("error", err),
			)
			return nil, err
		}
		s.metrics.RecordError()
		slog.Error("Order admission failed",
			slog.String("owner", owner),
			slog.String("token", token),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("place order: %w", err)
	}

	s.metrics.RecordOrderPlaced(time.Since(start))
	slog.Info("Order placed",
		slog.Uint64("order_id", result.Order.ID),
		slog.String("owner", owner),
		slog.String("token", token),
		slog.String("amount", quantity.String()),
		slog.String("price", result.Order.UnitPrice.String()),
	)

	if result.Batch != nil {
		s.metrics.RecordBatchSettled(result.Batch.OrderCount)
		slog.Info("Batch settled",
			slog.Uint64("seq", result.Batch.Seq),
			slog.String("batch_id", result.Batch.ID),
			slog.Int("orders", result.Batch.OrderCount),
			slog.String("total", result.Batch.Total.String()),
		)
		// Best-effort: the batch is already committed whatever happens here.
		if s.publisher != nil {
			s.publisher.Publish(ctx, result.Batch)
		}
	}

	return &result, nil
}

// evaluateAndMaybeSettle adds cost to the running pending value and settles
// every pending order once the value reaches the threshold.
// Must be called inside the admission transaction.
func (s *ExchangeService) evaluateAndMaybeSettle(tx *storage.Tx, cost decimal.Decimal) (*domain.Batch, error) {
	state, err := tx.LockSettlementState()
	if err != nil {
		return nil, err
	}

	state.PendingValue = state.PendingValue.Add(cost)
	if !state.Reached(s.threshold) {
		return nil, tx.SaveSettlementState(state)
	}

	snapshot, err := tx.PendingOrders()
	if err != nil {
		return nil, err
	}
	batch, err := s.settle(tx, state, snapshot)
	if err != nil {
		return nil, err
	}
	return batch, nil
}

// settle flips exactly the orders in snapshot to settled as one batch.
func (s *ExchangeService) settle(tx *storage.Tx, state *domain.SettlementState, snapshot []domain.Order) (*domain.Batch, error) {
	batch := domain.NewBatch(state.LastBatchSeq+1, snapshot, s.now())

	remaining := state.PendingValue.Sub(batch.Total)
	if !remaining.IsZero() {
		return nil, fmt.Errorf("running total %s, snapshot total %s: %w",
			state.PendingValue, batch.Total, domain.ErrLedgerDrift)
	}

	if err := tx.MarkSettled(batch); err != nil {
		return nil, err
	}

	state.PendingValue = remaining
	state.LastBatchSeq = batch.Seq
	if err := tx.SaveSettlementState(state); err != nil {
		return nil, err
	}
	return batch, nil
}

// PendingValue recomputes the value of all unsettled orders from the order log.
func (s *ExchangeService) PendingValue(ctx context.Context) (decimal.Decimal, error) {
	orders, err := s.store.PendingOrders(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return domain.SumPending(orders), nil
}

// Reconcile checks that the running pending total matches the order log and
// sits below the threshold.
func (s *ExchangeService) Reconcile(ctx context.Context) error {
	recomputed, err := s.PendingValue(ctx)
	if err != nil {
		return err
	}
	state, err := s.store.SettlementState(ctx)
	if err != nil {
		return err
	}
	if !state.PendingValue.Equal(recomputed) {
		return fmt.Errorf("running total %s, order log %s: %w", state.PendingValue, recomputed, domain.ErrLedgerDrift)
	}
	if state.Reached(s.threshold) {
		return fmt.Errorf("pending value %s at or above threshold %s: %w", recomputed, s.threshold, domain.ErrLedgerDrift)
	}
	return nil
}

// Balance returns the owner's balance, zero if the owner has never traded.
func (s *ExchangeService) Balance(ctx context.Context, owner string) (*domain.Balance, error) {
	if owner == "" {
		return nil, domain.ErrUnauthenticated
	}
	b, err := s.store.GetBalance(ctx, owner)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return domain.NewBalance(owner), nil
	}
	return b, nil
}

// Orders returns the owner's orders, oldest first.
func (s *ExchangeService) Orders(ctx context.Context, owner string) ([]domain.Order, error) {
	if owner == "" {
		return nil, domain.ErrUnauthenticated
	}
	return s.store.ListOrders(ctx, owner)
}

// Prices returns the catalog.
func (s *ExchangeService) Prices(ctx context.Context) ([]domain.PriceEntry, error) {
	return s.store.ListPrices(ctx)
}

func isCallerError(err error) bool {
	return errors.Is(err, domain.ErrInvalidToken) ||
		errors.Is(err, domain.ErrInsufficientBalance) ||
		errors.Is(err, domain.ErrMalformedAmount) ||
		errors.Is(err, domain.ErrUnauthenticated)
}
