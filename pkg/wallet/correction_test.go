package wallet

import (
	"context"
	"errors"
	"testing"
)

func TestCorrectCreditsBalance(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	tenantID := mustTenantID(test, "tenant-credit")
	store.seedAccount(tenantID, 500, 0)
	service := mustNewService(test, store)
	adminID := mustActorID(test, "admin-3")

	result, err := service.Correct(context.Background(), tenantID, mustSignedAmount(test, 200), "gateway over-billed batch 42", adminID)
	if err != nil {
		test.Fatalf("correct: %v", err)
	}
	if result.BalanceBefore != 500 || result.BalanceAfter != 700 {
		test.Fatalf("unexpected result: %+v", result)
	}
	entry := store.mustEntry(test, result.EntryCode)
	if entry.Kind != EntryCorrection || entry.Amount != 200 {
		test.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.Note != "gateway over-billed batch 42" {
		test.Fatalf("reason must be recorded verbatim, got %q", entry.Note)
	}
	if entry.ActorID != adminID {
		test.Fatalf("correction must attribute the admin")
	}
}

func TestCorrectDebitsBalance(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	tenantID := mustTenantID(test, "tenant-debit")
	store.seedAccount(tenantID, 500, 0)
	service := mustNewService(test, store)

	result, err := service.Correct(context.Background(), tenantID, mustSignedAmount(test, -300), "duplicate topup", mustActorID(test, "admin-3"))
	if err != nil {
		test.Fatalf("correct: %v", err)
	}
	if result.BalanceAfter != 200 {
		test.Fatalf("expected 200 after debit, got %d", result.BalanceAfter)
	}
}

func TestCorrectNegativeRequiresFunds(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	tenantID := mustTenantID(test, "tenant-poor")
	store.seedAccount(tenantID, 100, 0)
	service := mustNewService(test, store)

	_, err := service.Correct(context.Background(), tenantID, mustSignedAmount(test, -300), "claw back", mustActorID(test, "admin-3"))
	if !errors.Is(err, ErrInsufficientFunds) {
		test.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	account := store.mustAccount(test, tenantID)
	if account.Available != 100 {
		test.Fatalf("failed correction must not move the balance, got %d", account.Available)
	}
	if len(store.entries) != 0 {
		test.Fatalf("failed correction must not write an entry")
	}
}

func TestCorrectRequiresAdmin(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	_, err := service.Correct(context.Background(), mustTenantID(test, "tenant"), mustSignedAmount(test, 100), "reason", ActorID{})
	if !errors.Is(err, ErrInvalidActorID) {
		test.Fatalf("expected ErrInvalidActorID, got %v", err)
	}
}

func mustSignedAmount(test *testing.T, raw int64) SignedAmount {
	test.Helper()
	value, err := NewSignedAmount(raw)
	if err != nil {
		test.Fatalf("signed amount: %v", err)
	}
	return value
}
