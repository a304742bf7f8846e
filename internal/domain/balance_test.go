package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestBalance_Debit(t *testing.T) {
	t.Run("debit within balance", func(t *testing.T) {
		b := &Balance{OwnerID: "alice", Amount: decimal.NewFromInt(100)}
		if err := b.Debit(decimal.NewFromInt(20)); err != nil {
			t.Fatalf("Debit failed: %v", err)
		}
		if !b.Amount.Equal(decimal.NewFromInt(80)) {
			t.Errorf("Expected 80, got %s", b.Amount)
		}
	})

	t.Run("debit exact balance", func(t *testing.T) {
		b := &Balance{OwnerID: "alice", Amount: decimal.NewFromInt(10)}
		if err := b.Debit(decimal.NewFromInt(10)); err != nil {
			t.Fatalf("Debit failed: %v", err)
		}
		if !b.Amount.IsZero() {
			t.Errorf("Expected 0, got %s", b.Amount)
		}
	})

	t.Run("insufficient leaves balance untouched", func(t *testing.T) {
		b := &Balance{OwnerID: "alice", Amount: decimal.NewFromInt(10)}
		err := b.Debit(decimal.RequireFromString("10.01"))
		if !errors.Is(err, ErrInsufficientBalance) {
			t.Fatalf("Expected ErrInsufficientBalance, got %v", err)
		}
		if !b.Amount.Equal(decimal.NewFromInt(10)) {
			t.Errorf("Balance changed to %s", b.Amount)
		}
	})

	t.Run("negative debit rejected", func(t *testing.T) {
		b := NewBalance("alice")
		if err := b.Debit(decimal.NewFromInt(-5)); !errors.Is(err, ErrMalformedAmount) {
			t.Errorf("Expected ErrMalformedAmount, got %v", err)
		}
	})
}

func TestBalance_Credit(t *testing.T) {
	b := NewBalance("bob")
	if err := b.Credit(decimal.RequireFromString("12.50")); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	if !b.Amount.Equal(decimal.RequireFromString("12.5")) {
		t.Errorf("Expected 12.5, got %s", b.Amount)
	}
	if err := b.Credit(decimal.Zero); err == nil {
		t.Error("Zero credit should be rejected")
	}
}

func TestBalance_VerifyInvariant(t *testing.T) {
	if err := NewBalance("a").VerifyInvariant(); err != nil {
		t.Errorf("Zero balance should be valid: %v", err)
	}
	b := &Balance{OwnerID: "a", Amount: decimal.NewFromInt(-1)}
	if err := b.VerifyInvariant(); err == nil {
		t.Error("Negative balance should violate invariant")
	}
}
