package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestPricePollerErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       *NetworkError
		wantMsg   string
		retriable bool
	}{
		{"price source unavailable", NewNetworkError("fetch_prices", errors.New("503 Service Unavailable")), "fetch_prices: 503 Service Unavailable", true},
		{"price payload rejected", NewFatalNetworkError("decode_prices", errors.New("unexpected token")), "decode_prices: unexpected token", false},
		{"notifier timeout", NewNetworkError("notify", context.DeadlineExceeded), "notify: context deadline exceeded", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", tt.err.Error(), tt.wantMsg)
			}
			if IsRetriable(tt.err) != tt.retriable {
				t.Errorf("IsRetriable = %v, want %v", IsRetriable(tt.err), tt.retriable)
			}
			// Wrapped by the poller before it reaches the retry loop.
			wrapped := fmt.Errorf("poll %s: %w", "http://prices.local", tt.err)
			if IsRetriable(wrapped) != tt.retriable {
				t.Error("retriability lost through wrapping")
			}
			if !errors.Is(wrapped, tt.err.Err) {
				t.Error("expected cause to stay reachable")
			}
		})
	}
}

func TestSettlementThresholdConfigError(t *testing.T) {
	err := &ConfigError{Field: "settlement.threshold", Err: errors.New("must be positive, got 0")}

	if IsRetriable(err) {
		t.Error("ConfigError should never be retriable")
	}
	if got := err.Error(); got != "config error [settlement.threshold]: must be positive, got 0" {
		t.Errorf("unexpected message %q", got)
	}

	var ce *ConfigError
	if !errors.As(fmt.Errorf("invalid configuration: %w", err), &ce) || ce.Field != "settlement.threshold" {
		t.Error("expected ConfigError to be recoverable with errors.As")
	}
}

func TestAdmissionErrorsAreNotRetriable(t *testing.T) {
	for _, err := range []error{
		ErrInvalidToken, ErrInsufficientBalance, ErrMalformedAmount, ErrUnauthenticated,
		ErrSettlementConflict, ErrLedgerDrift,
	} {
		if IsRetriable(fmt.Errorf("place order: %w", err)) {
			t.Errorf("%v should not be retriable", err)
		}
	}
}
