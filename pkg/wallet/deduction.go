package wallet

import (
	"context"
	"errors"
	"fmt"
)

// ChargeOutcome reports a completed single-step deduction.
type ChargeOutcome struct {
	EntryCode EntryCode
	Charged   int64
	Available int64
	Status    AccountStatus
}

// RefundOutcome reports a compensating refund of a direct charge.
type RefundOutcome struct {
	EntryCode         EntryCode
	OriginalEntryCode EntryCode
	Refunded          int64
	Available         int64
}

// Charge deducts a known cost in one step, with no prior hold. A missing
// account is auto-provisioned with a zero balance so billing never crashes
// on a fresh tenant; the zero balance then fails the funds check, which is
// the correct outcome. An insufficient balance raises an error and writes
// nothing: the caller must not perform the billed action.
func (service *Service) Charge(ctx context.Context, tenantID TenantID, amount PositiveAmount, idempotencyKey IdempotencyKey, source string, referenceID string, metadata MetadataJSON) (ChargeOutcome, error) {
	if idempotencyKey.IsZero() {
		return ChargeOutcome{}, fmt.Errorf("%w: empty value", ErrInvalidIdempotencyKey)
	}
	var outcome ChargeOutcome
	var entryCode EntryCode
	operationError := service.withLockedAccount(ctx, tenantID, true, func(ctx context.Context, txStore Store, account *Account) error {
		if account.Available < amount.Int64() {
			return InsufficientBalanceError{
				Available: account.Available,
				Required:  amount.Int64(),
			}
		}
		balanceBefore := account.Available
		account.Available -= amount.Int64()
		account.LifetimeSpent += amount.Int64()
		account.LastTransactionUnixUTC = service.nowFn()
		entryCode = service.newEntryCode()
		entry := Entry{
			EntryCode:      entryCode,
			TenantID:       tenantID,
			Kind:           EntryDirectCharge,
			Amount:         -amount.Int64(),
			BalanceBefore:  balanceBefore,
			BalanceAfter:   account.Available,
			Note:           fmt.Sprintf("direct charge %s (%s)", FormatAmount(amount.Int64()), source),
			Metadata:       metadata,
			IdempotencyKey: idempotencyKey,
			ReferenceID:    referenceID,
			CreatedUnixUTC: service.nowFn(),
		}
		if err := txStore.InsertEntry(ctx, entry); err != nil {
			return err
		}
		outcome = ChargeOutcome{
			EntryCode: entryCode,
			Charged:   amount.Int64(),
			Available: account.Available,
			Status:    service.config.StatusFor(account.Available),
		}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationDirectCharge,
		TenantID:  tenantID,
		EntryCode: entryCode,
		Amount:    amount.Int64(),
		Error:     operationError,
	})
	if operationError != nil {
		return ChargeOutcome{}, operationError
	}
	return outcome, nil
}

// Refund compensates a direct charge after the downstream gateway reports a
// delivery failure. The reference may be the original entry code or its
// idempotency key. A second refund of the same charge is rejected outright
// with ErrAlreadyRefunded.
func (service *Service) Refund(ctx context.Context, reference string, reason string) (RefundOutcome, error) {
	original, err := service.findOriginalCharge(ctx, reference)
	if err != nil {
		return RefundOutcome{}, err
	}
	var outcome RefundOutcome
	var entryCode EntryCode
	operationError := service.withLockedAccount(ctx, original.TenantID, false, func(ctx context.Context, txStore Store, account *Account) error {
		// Re-read under the lock so a concurrent refund of the same charge
		// loses on the conditional update below.
		lockedOriginal, err := txStore.GetEntryByCode(ctx, original.EntryCode)
		if err != nil {
			return err
		}
		if lockedOriginal.Refunded {
			return ErrAlreadyRefunded
		}
		if err := txStore.MarkEntryRefunded(ctx, lockedOriginal.EntryCode); err != nil {
			return err
		}
		refundAmount := lockedOriginal.Amount
		if refundAmount < 0 {
			refundAmount = -refundAmount
		}
		balanceBefore := account.Available
		account.Available += refundAmount
		account.LifetimeSpent -= refundAmount
		account.LastTransactionUnixUTC = service.nowFn()
		entryCode = service.newEntryCode()
		entry := Entry{
			EntryCode:      entryCode,
			TenantID:       original.TenantID,
			Kind:           EntryDirectRefund,
			Amount:         refundAmount,
			BalanceBefore:  balanceBefore,
			BalanceAfter:   account.Available,
			Note:           fmt.Sprintf("refund %s for %s (%s)", FormatAmount(refundAmount), lockedOriginal.EntryCode.String(), reason),
			Metadata:       lockedOriginal.Metadata,
			ReferenceID:    lockedOriginal.ReferenceID,
			ReferenceCode:  lockedOriginal.EntryCode,
			CreatedUnixUTC: service.nowFn(),
		}
		if err := txStore.InsertEntry(ctx, entry); err != nil {
			return err
		}
		outcome = RefundOutcome{
			EntryCode:         entryCode,
			OriginalEntryCode: lockedOriginal.EntryCode,
			Refunded:          refundAmount,
			Available:         account.Available,
		}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationDirectRefund,
		TenantID:  original.TenantID,
		EntryCode: entryCode,
		Amount:    outcome.Refunded,
		Error:     operationError,
	})
	if operationError != nil {
		return RefundOutcome{}, operationError
	}
	return outcome, nil
}

// findOriginalCharge resolves a refund reference to its direct-charge entry.
func (service *Service) findOriginalCharge(ctx context.Context, reference string) (Entry, error) {
	code, err := NewEntryCode(reference)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: empty reference", ErrOriginalTransactionNotFound)
	}
	entry, err := service.store.GetEntryByCode(ctx, code)
	if errors.Is(err, ErrEntryNotFound) {
		key, keyErr := NewIdempotencyKey(reference)
		if keyErr != nil {
			return Entry{}, ErrOriginalTransactionNotFound
		}
		entry, err = service.store.GetEntryByIdempotencyKey(ctx, key)
	}
	if errors.Is(err, ErrEntryNotFound) {
		return Entry{}, ErrOriginalTransactionNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	if entry.Kind != EntryDirectCharge {
		return Entry{}, ErrOriginalTransactionNotFound
	}
	return entry, nil
}
