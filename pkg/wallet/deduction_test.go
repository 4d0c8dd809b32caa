package wallet

import (
	"context"
	"errors"
	"testing"
)

func TestChargeDeductsAndAppendsEntry(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	tenantID := mustTenantID(test, "tenant-direct")
	store.seedAccount(tenantID, 1_000, 0)
	service := mustNewService(test, store)
	metadata := mustMetadata(test, `{"channel":"sms"}`)

	outcome, err := service.Charge(context.Background(), tenantID, mustPositiveAmount(test, 100), mustIdempotencyKey(test, "msg-1"), "dispatcher", "message-1", metadata)
	if err != nil {
		test.Fatalf("charge: %v", err)
	}
	if outcome.Available != 900 || outcome.Charged != 100 {
		test.Fatalf("unexpected outcome: %+v", outcome)
	}
	account := store.mustAccount(test, tenantID)
	if account.LifetimeSpent != 100 {
		test.Fatalf("expected lifetime spent 100, got %d", account.LifetimeSpent)
	}
	entry := store.mustEntry(test, outcome.EntryCode)
	if entry.Kind != EntryDirectCharge || entry.Amount != -100 {
		test.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.IdempotencyKey.String() != "msg-1" || entry.ReferenceID != "message-1" {
		test.Fatalf("charge entry must carry key and reference: %+v", entry)
	}
	if entry.Metadata.String() != `{"channel":"sms"}` {
		test.Fatalf("unexpected metadata: %s", entry.Metadata.String())
	}
}

func TestChargeAutoProvisionsMissingAccount(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	tenantID := mustTenantID(test, "tenant-fresh")
	service := mustNewService(test, store)

	_, err := service.Charge(context.Background(), tenantID, mustPositiveAmount(test, 100), mustIdempotencyKey(test, "msg-1"), "dispatcher", "message-1", MetadataJSON{})
	if !errors.Is(err, ErrInsufficientBalance) {
		test.Fatalf("expected ErrInsufficientBalance on the fresh zero balance, got %v", err)
	}
	account := store.mustAccount(test, tenantID)
	if account.Available != 0 || account.Held != 0 {
		test.Fatalf("auto-provisioned account must stay at zero, got %+v", account)
	}
	if len(store.entries) != 0 {
		test.Fatalf("failed charge must not write an entry")
	}
}

func TestChargeInsufficientBalanceDetail(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	tenantID := mustTenantID(test, "tenant-exact")
	store.seedAccount(tenantID, 100, 0)
	service := mustNewService(test, store)
	ctx := context.Background()

	if _, err := service.Charge(ctx, tenantID, mustPositiveAmount(test, 100), mustIdempotencyKey(test, "msg-42"), "dispatcher", "message-42", MetadataJSON{}); err != nil {
		test.Fatalf("first charge: %v", err)
	}
	_, err := service.Charge(ctx, tenantID, mustPositiveAmount(test, 100), mustIdempotencyKey(test, "msg-43"), "dispatcher", "message-43", MetadataJSON{})
	var balanceError InsufficientBalanceError
	if !errors.As(err, &balanceError) {
		test.Fatalf("expected InsufficientBalanceError, got %v", err)
	}
	if balanceError.Available != 0 || balanceError.Required != 100 {
		test.Fatalf("unexpected balance error detail: %+v", balanceError)
	}
}

func TestChargeRejectsDuplicateIdempotencyKey(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	tenantID := mustTenantID(test, "tenant-dup")
	store.seedAccount(tenantID, 1_000, 0)
	service := mustNewService(test, store)
	ctx := context.Background()
	key := mustIdempotencyKey(test, "msg-1")

	if _, err := service.Charge(ctx, tenantID, mustPositiveAmount(test, 100), key, "dispatcher", "message-1", MetadataJSON{}); err != nil {
		test.Fatalf("first charge: %v", err)
	}
	_, err := service.Charge(ctx, tenantID, mustPositiveAmount(test, 100), key, "dispatcher", "message-1", MetadataJSON{})
	if !errors.Is(err, ErrDuplicateIdempotencyKey) {
		test.Fatalf("expected ErrDuplicateIdempotencyKey, got %v", err)
	}
	account := store.mustAccount(test, tenantID)
	if account.Available != 900 {
		test.Fatalf("duplicate charge must not deduct again, got %d", account.Available)
	}
}

func TestChargeRequiresIdempotencyKey(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	_, err := service.Charge(context.Background(), mustTenantID(test, "tenant"), mustPositiveAmount(test, 100), IdempotencyKey{}, "dispatcher", "ref", MetadataJSON{})
	if !errors.Is(err, ErrInvalidIdempotencyKey) {
		test.Fatalf("expected ErrInvalidIdempotencyKey, got %v", err)
	}
}

func TestRefundByEntryCode(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	tenantID := mustTenantID(test, "tenant-refund")
	store.seedAccount(tenantID, 1_000, 0)
	service := mustNewService(test, store)
	ctx := context.Background()

	charge, err := service.Charge(ctx, tenantID, mustPositiveAmount(test, 100), mustIdempotencyKey(test, "msg-1"), "dispatcher", "message-1", MetadataJSON{})
	if err != nil {
		test.Fatalf("charge: %v", err)
	}
	refund, err := service.Refund(ctx, charge.EntryCode.String(), "delivery failed")
	if err != nil {
		test.Fatalf("refund: %v", err)
	}
	if refund.Refunded != 100 || refund.Available != 1_000 {
		test.Fatalf("unexpected refund outcome: %+v", refund)
	}
	if refund.OriginalEntryCode != charge.EntryCode {
		test.Fatalf("refund must reference the original charge")
	}
	account := store.mustAccount(test, tenantID)
	if account.LifetimeSpent != 0 {
		test.Fatalf("refund must back out lifetime spent, got %d", account.LifetimeSpent)
	}
	original := store.mustEntry(test, charge.EntryCode)
	if !original.Refunded {
		test.Fatalf("original entry must be marked refunded")
	}
	entry := store.mustEntry(test, refund.EntryCode)
	if entry.Kind != EntryDirectRefund || entry.Amount != 100 {
		test.Fatalf("unexpected refund entry: %+v", entry)
	}
	if entry.ReferenceCode != charge.EntryCode {
		test.Fatalf("refund entry must link the original code")
	}
}

func TestRefundByIdempotencyKey(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	tenantID := mustTenantID(test, "tenant-refund-key")
	store.seedAccount(tenantID, 500, 0)
	service := mustNewService(test, store)
	ctx := context.Background()

	if _, err := service.Charge(ctx, tenantID, mustPositiveAmount(test, 200), mustIdempotencyKey(test, "msg-77"), "dispatcher", "message-77", MetadataJSON{}); err != nil {
		test.Fatalf("charge: %v", err)
	}
	refund, err := service.Refund(ctx, "msg-77", "gateway rejected")
	if err != nil {
		test.Fatalf("refund by key: %v", err)
	}
	if refund.Refunded != 200 || refund.Available != 500 {
		test.Fatalf("unexpected refund outcome: %+v", refund)
	}
}

func TestRefundUnknownOriginal(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	_, err := service.Refund(context.Background(), "no-such-entry", "typo")
	if !errors.Is(err, ErrOriginalTransactionNotFound) {
		test.Fatalf("expected ErrOriginalTransactionNotFound, got %v", err)
	}
}

func TestRefundRejectsNonChargeEntry(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	tenantID := mustTenantID(test, "tenant-wrong-kind")
	store.seedAccount(tenantID, 1_000, 0)
	service := mustNewService(test, store)
	ctx := context.Background()

	hold, err := service.Hold(ctx, tenantID, mustPositiveAmount(test, 100), mustCampaignID(test, "camp"), ActorID{})
	if err != nil {
		test.Fatalf("hold: %v", err)
	}
	_, err = service.Refund(ctx, hold.EntryCode.String(), "not a direct charge")
	if !errors.Is(err, ErrOriginalTransactionNotFound) {
		test.Fatalf("expected ErrOriginalTransactionNotFound, got %v", err)
	}
}

func TestRefundRejectedOnSecondAttempt(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	tenantID := mustTenantID(test, "tenant-double")
	store.seedAccount(tenantID, 1_000, 0)
	service := mustNewService(test, store)
	ctx := context.Background()

	charge, err := service.Charge(ctx, tenantID, mustPositiveAmount(test, 100), mustIdempotencyKey(test, "msg-1"), "dispatcher", "message-1", MetadataJSON{})
	if err != nil {
		test.Fatalf("charge: %v", err)
	}
	if _, err := service.Refund(ctx, charge.EntryCode.String(), "delivery failed"); err != nil {
		test.Fatalf("first refund: %v", err)
	}
	_, err = service.Refund(ctx, charge.EntryCode.String(), "retry")
	if !errors.Is(err, ErrAlreadyRefunded) {
		test.Fatalf("expected ErrAlreadyRefunded, got %v", err)
	}
	account := store.mustAccount(test, tenantID)
	if account.Available != 1_000 {
		test.Fatalf("second refund must not credit again, got %d", account.Available)
	}
}
