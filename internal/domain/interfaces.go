package domain

import (
	"context"
	"errors"
)

// ExchangeNotifier is told about every settled batch.
// Failures are reported back but never undo the settlement.
type ExchangeNotifier interface {
	Notify(ctx context.Context, batch *Batch) error
}

// NotifierFunc adapts a function to ExchangeNotifier.
type NotifierFunc func(ctx context.Context, batch *Batch) error

func (f NotifierFunc) Notify(ctx context.Context, batch *Batch) error {
	return f(ctx, batch)
}

// MultiNotifier fans a batch out to every notifier and joins their errors.
type MultiNotifier []ExchangeNotifier

func (m MultiNotifier) Notify(ctx context.Context, batch *Batch) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, batch); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
