package wallet

import (
	"context"
	"fmt"
)

// CorrectionResult reports an administrative balance adjustment.
type CorrectionResult struct {
	EntryCode     EntryCode
	Amount        int64
	BalanceBefore int64
	BalanceAfter  int64
}

// Correct applies a signed administrative adjustment to the available
// balance. Negative corrections take the same funds check as holds; positive
// corrections need none. The admin's reason is recorded verbatim for audit.
func (service *Service) Correct(ctx context.Context, tenantID TenantID, amount SignedAmount, reason string, adminID ActorID) (CorrectionResult, error) {
	if adminID.IsZero() {
		return CorrectionResult{}, fmt.Errorf("%w: admin id is required", ErrInvalidActorID)
	}
	var result CorrectionResult
	var entryCode EntryCode
	operationError := service.withLockedAccount(ctx, tenantID, false, func(ctx context.Context, txStore Store, account *Account) error {
		if amount.Int64() < 0 && account.Available < amount.Abs() {
			return NewInsufficientFundsError(account.Available, amount.Abs())
		}
		balanceBefore := account.Available
		account.Available += amount.Int64()
		account.LastTransactionUnixUTC = service.nowFn()
		entryCode = service.newEntryCode()
		entry := Entry{
			EntryCode:      entryCode,
			TenantID:       tenantID,
			ActorID:        adminID,
			Kind:           EntryCorrection,
			Amount:         amount.Int64(),
			BalanceBefore:  balanceBefore,
			BalanceAfter:   account.Available,
			Note:           reason,
			CreatedUnixUTC: service.nowFn(),
		}
		if err := txStore.InsertEntry(ctx, entry); err != nil {
			return err
		}
		result = CorrectionResult{
			EntryCode:     entryCode,
			Amount:        amount.Int64(),
			BalanceBefore: balanceBefore,
			BalanceAfter:  account.Available,
		}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationCorrection,
		TenantID:  tenantID,
		ActorID:   adminID,
		EntryCode: entryCode,
		Amount:    amount.Int64(),
		Error:     operationError,
	})
	if operationError != nil {
		return CorrectionResult{}, operationError
	}
	return result, nil
}
