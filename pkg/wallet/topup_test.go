package wallet

import (
	"context"
	"errors"
	"testing"
)

func TestRequestTopupCreatesPendingEntry(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	tenantID := mustTenantID(test, "tenant-topup")
	store.seedAccount(tenantID, 250, 0)
	service := mustNewService(test, store)

	pending, err := service.RequestTopup(context.Background(), tenantID, mustPositiveAmount(test, 60_000), "bank_transfer", "slip-99", mustActorID(test, "user-5"))
	if err != nil {
		test.Fatalf("request topup: %v", err)
	}
	if pending.Status != TopupStatusPending || pending.Amount != 60_000 {
		test.Fatalf("unexpected pending topup: %+v", pending)
	}
	account := store.mustAccount(test, tenantID)
	if account.Available != 250 {
		test.Fatalf("request must not move the balance, got %d", account.Available)
	}
	entry := store.mustEntry(test, pending.EntryCode)
	if entry.Kind != EntryTopupRequest || entry.TopupStatus != TopupStatusPending {
		test.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.ProofReference != "slip-99" {
		test.Fatalf("expected proof reference, got %q", entry.ProofReference)
	}
}

func TestRequestTopupBelowMinimum(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	tenantID := mustTenantID(test, "tenant-small")
	store.seedAccount(tenantID, 0, 0)
	service := mustNewService(test, store)

	_, err := service.RequestTopup(context.Background(), tenantID, mustPositiveAmount(test, 100), "bank_transfer", "", ActorID{})
	if !errors.Is(err, ErrBelowMinimumTopup) {
		test.Fatalf("expected ErrBelowMinimumTopup, got %v", err)
	}
}

func TestApproveTopupCreditsBalance(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	tenantID := mustTenantID(test, "tenant-approve")
	store.seedAccount(tenantID, 1_000, 0)
	service := mustNewService(test, store)
	ctx := context.Background()
	adminID := mustActorID(test, "admin-7")

	pending, err := service.RequestTopup(ctx, tenantID, mustPositiveAmount(test, 5_000_000), "bank_transfer", "slip-1", ActorID{})
	if err != nil {
		test.Fatalf("request: %v", err)
	}
	resolution, err := service.ApproveTopup(ctx, pending.EntryCode, adminID, "verified")
	if err != nil {
		test.Fatalf("approve: %v", err)
	}
	if resolution.Status != TopupStatusApproved || resolution.Available != 5_001_000 {
		test.Fatalf("unexpected resolution: %+v", resolution)
	}
	account := store.mustAccount(test, tenantID)
	if account.Available != 5_001_000 || account.LifetimeTopup != 5_000_000 {
		test.Fatalf("unexpected balances: %+v", account)
	}
	if account.LastTopupUnixUTC != testClockUnixUTC {
		test.Fatalf("last topup timestamp must be set")
	}
	entry := store.mustEntry(test, pending.EntryCode)
	if entry.Kind != EntryTopupApproved || entry.TopupStatus != TopupStatusApproved {
		test.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.ApprovedBy != adminID || entry.ApprovedAtUnixUTC != testClockUnixUTC {
		test.Fatalf("approval attribution missing: %+v", entry)
	}
	if entry.BalanceBefore != 1_000 || entry.BalanceAfter != 5_001_000 {
		test.Fatalf("approval must snapshot balances: %+v", entry)
	}
}

func TestApproveTopupTwiceFails(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	tenantID := mustTenantID(test, "tenant-twice")
	store.seedAccount(tenantID, 0, 0)
	service := mustNewService(test, store)
	ctx := context.Background()
	adminID := mustActorID(test, "admin-7")

	pending, err := service.RequestTopup(ctx, tenantID, mustPositiveAmount(test, 60_000), "bank_transfer", "", ActorID{})
	if err != nil {
		test.Fatalf("request: %v", err)
	}
	if _, err := service.ApproveTopup(ctx, pending.EntryCode, adminID, ""); err != nil {
		test.Fatalf("first approve: %v", err)
	}
	_, err = service.ApproveTopup(ctx, pending.EntryCode, adminID, "")
	if !errors.Is(err, ErrInvalidTopupState) {
		test.Fatalf("expected ErrInvalidTopupState, got %v", err)
	}
	account := store.mustAccount(test, tenantID)
	if account.Available != 60_000 {
		test.Fatalf("second approve must not credit again, got %d", account.Available)
	}
}

func TestRejectTopupLeavesBalanceUntouched(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	tenantID := mustTenantID(test, "tenant-reject")
	store.seedAccount(tenantID, 300, 0)
	service := mustNewService(test, store)
	ctx := context.Background()
	adminID := mustActorID(test, "admin-9")

	pending, err := service.RequestTopup(ctx, tenantID, mustPositiveAmount(test, 60_000), "bank_transfer", "", ActorID{})
	if err != nil {
		test.Fatalf("request: %v", err)
	}
	resolution, err := service.RejectTopup(ctx, pending.EntryCode, adminID, "proof illegible")
	if err != nil {
		test.Fatalf("reject: %v", err)
	}
	if resolution.Status != TopupStatusRejected {
		test.Fatalf("unexpected resolution: %+v", resolution)
	}
	account := store.mustAccount(test, tenantID)
	if account.Available != 300 || account.LifetimeTopup != 0 {
		test.Fatalf("reject must not move the balance: %+v", account)
	}
	entry := store.mustEntry(test, pending.EntryCode)
	if entry.Kind != EntryTopupRejected || entry.TopupStatus != TopupStatusRejected {
		test.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestApproveAfterRejectFails(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	tenantID := mustTenantID(test, "tenant-flip")
	store.seedAccount(tenantID, 0, 0)
	service := mustNewService(test, store)
	ctx := context.Background()
	adminID := mustActorID(test, "admin-1")

	pending, err := service.RequestTopup(ctx, tenantID, mustPositiveAmount(test, 60_000), "bank_transfer", "", ActorID{})
	if err != nil {
		test.Fatalf("request: %v", err)
	}
	if _, err := service.RejectTopup(ctx, pending.EntryCode, adminID, "no proof"); err != nil {
		test.Fatalf("reject: %v", err)
	}
	_, err = service.ApproveTopup(ctx, pending.EntryCode, adminID, "")
	if !errors.Is(err, ErrInvalidTopupState) {
		test.Fatalf("expected ErrInvalidTopupState, got %v", err)
	}
}

func TestApproveTopupRequiresAdmin(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	_, err := service.ApproveTopup(context.Background(), EntryCode{value: "code"}, ActorID{}, "")
	if !errors.Is(err, ErrInvalidActorID) {
		test.Fatalf("expected ErrInvalidActorID, got %v", err)
	}
}

func TestApproveNonTopupEntryFails(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	tenantID := mustTenantID(test, "tenant-kind")
	store.seedAccount(tenantID, 1_000, 0)
	service := mustNewService(test, store)
	ctx := context.Background()

	hold, err := service.Hold(ctx, tenantID, mustPositiveAmount(test, 100), mustCampaignID(test, "camp"), ActorID{})
	if err != nil {
		test.Fatalf("hold: %v", err)
	}
	_, err = service.ApproveTopup(ctx, hold.EntryCode, mustActorID(test, "admin-1"), "")
	if !errors.Is(err, ErrInvalidTopupState) {
		test.Fatalf("expected ErrInvalidTopupState, got %v", err)
	}
}
