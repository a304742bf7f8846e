package infra

import (
	"context"
	"log/slog"

	"token_exchange/internal/domain"
)

// LogNotifier stands in for the external exchange: it records each batch
// that would be bought from the exchange.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements domain.ExchangeNotifier.
func (n LogNotifier) Notify(ctx context.Context, batch *domain.Batch) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}

	legs := make([]any, 0, len(batch.Legs))
	for _, leg := range batch.Legs {
		legs = append(legs, slog.Group(leg.Token,
			slog.String("amount", leg.Quantity.String()),
			slog.String("value", leg.Value.String()),
		))
	}

	logger.InfoContext(ctx, "Buying from exchange",
		slog.Uint64("seq", batch.Seq),
		slog.String("batch_id", batch.ID),
		slog.Int("orders", batch.OrderCount),
		slog.String("total", batch.Total.String()),
		slog.Group("legs", legs...),
	)
	return nil
}
