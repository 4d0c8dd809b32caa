package wallet

import (
	"context"
	"fmt"
)

// PendingTopup reports a topup request awaiting admin approval.
type PendingTopup struct {
	EntryCode EntryCode
	Amount    int64
	Status    TopupStatus
}

// TopupResolution reports the admin decision applied to a topup request.
type TopupResolution struct {
	EntryCode EntryCode
	Status    TopupStatus
	Amount    int64
	Available int64
}

// RequestTopup records a pending topup entry. No balance changes until an
// admin approves the request.
func (service *Service) RequestTopup(ctx context.Context, tenantID TenantID, amount PositiveAmount, method string, proofReference string, actorID ActorID) (PendingTopup, error) {
	if amount.Int64() < service.config.MinimumTopup {
		return PendingTopup{}, fmt.Errorf("%w: minimum is %s", ErrBelowMinimumTopup, FormatAmount(service.config.MinimumTopup))
	}
	var pending PendingTopup
	operationError := service.withLockedAccount(ctx, tenantID, false, func(ctx context.Context, txStore Store, account *Account) error {
		entryCode := service.newEntryCode()
		entry := Entry{
			EntryCode:      entryCode,
			TenantID:       tenantID,
			ActorID:        actorID,
			Kind:           EntryTopupRequest,
			Amount:         amount.Int64(),
			BalanceBefore:  account.Available,
			BalanceAfter:   account.Available,
			Note:           fmt.Sprintf("topup request %s via %s", FormatAmount(amount.Int64()), method),
			TopupStatus:    TopupStatusPending,
			ProofReference: proofReference,
			CreatedUnixUTC: service.nowFn(),
		}
		if err := txStore.InsertEntry(ctx, entry); err != nil {
			return err
		}
		pending = PendingTopup{
			EntryCode: entryCode,
			Amount:    amount.Int64(),
			Status:    TopupStatusPending,
		}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationRequestTopup,
		TenantID:  tenantID,
		ActorID:   actorID,
		EntryCode: pending.EntryCode,
		Amount:    amount.Int64(),
		Error:     operationError,
	})
	if operationError != nil {
		return PendingTopup{}, operationError
	}
	return pending, nil
}

// ApproveTopup credits the balance for a pending topup request. Only a
// pending entry can be approved; the decision is recorded on the same row
// with admin attribution and fresh balance snapshots.
func (service *Service) ApproveTopup(ctx context.Context, entryCode EntryCode, adminID ActorID, note string) (TopupResolution, error) {
	if adminID.IsZero() {
		return TopupResolution{}, fmt.Errorf("%w: admin id is required", ErrInvalidActorID)
	}
	request, err := service.findTopupRequest(ctx, entryCode)
	if err != nil {
		return TopupResolution{}, err
	}
	var resolution TopupResolution
	operationError := service.withLockedAccount(ctx, request.TenantID, false, func(ctx context.Context, txStore Store, account *Account) error {
		lockedRequest, err := txStore.GetEntryByCode(ctx, entryCode)
		if err != nil {
			return err
		}
		if lockedRequest.TopupStatus != TopupStatusPending {
			return ErrInvalidTopupState
		}
		balanceBefore := account.Available
		account.Available += lockedRequest.Amount
		account.LifetimeTopup += lockedRequest.Amount
		account.LastTopupUnixUTC = service.nowFn()
		account.LastTransactionUnixUTC = service.nowFn()
		decision := TopupDecision{
			Status:            TopupStatusApproved,
			Kind:              EntryTopupApproved,
			ApprovedBy:        adminID,
			ApprovedAtUnixUTC: service.nowFn(),
			Note:              note,
			BalanceBefore:     balanceBefore,
			BalanceAfter:      account.Available,
		}
		if err := txStore.ResolveTopup(ctx, entryCode, TopupStatusPending, decision); err != nil {
			return err
		}
		resolution = TopupResolution{
			EntryCode: entryCode,
			Status:    TopupStatusApproved,
			Amount:    lockedRequest.Amount,
			Available: account.Available,
		}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationApproveTopup,
		TenantID:  request.TenantID,
		ActorID:   adminID,
		EntryCode: entryCode,
		Amount:    resolution.Amount,
		Error:     operationError,
	})
	if operationError != nil {
		return TopupResolution{}, operationError
	}
	return resolution, nil
}

// RejectTopup closes a pending topup request without any balance mutation.
func (service *Service) RejectTopup(ctx context.Context, entryCode EntryCode, adminID ActorID, reason string) (TopupResolution, error) {
	if adminID.IsZero() {
		return TopupResolution{}, fmt.Errorf("%w: admin id is required", ErrInvalidActorID)
	}
	request, err := service.findTopupRequest(ctx, entryCode)
	if err != nil {
		return TopupResolution{}, err
	}
	var resolution TopupResolution
	operationError := service.withLockedAccount(ctx, request.TenantID, false, func(ctx context.Context, txStore Store, account *Account) error {
		lockedRequest, err := txStore.GetEntryByCode(ctx, entryCode)
		if err != nil {
			return err
		}
		if lockedRequest.TopupStatus != TopupStatusPending {
			return ErrInvalidTopupState
		}
		decision := TopupDecision{
			Status:            TopupStatusRejected,
			Kind:              EntryTopupRejected,
			ApprovedBy:        adminID,
			ApprovedAtUnixUTC: service.nowFn(),
			Note:              reason,
			BalanceBefore:     account.Available,
			BalanceAfter:      account.Available,
		}
		if err := txStore.ResolveTopup(ctx, entryCode, TopupStatusPending, decision); err != nil {
			return err
		}
		resolution = TopupResolution{
			EntryCode: entryCode,
			Status:    TopupStatusRejected,
			Amount:    lockedRequest.Amount,
			Available: account.Available,
		}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationRejectTopup,
		TenantID:  request.TenantID,
		ActorID:   adminID,
		EntryCode: entryCode,
		Amount:    resolution.Amount,
		Error:     operationError,
	})
	if operationError != nil {
		return TopupResolution{}, operationError
	}
	return resolution, nil
}

// findTopupRequest resolves an entry code to a topup entry of any status.
func (service *Service) findTopupRequest(ctx context.Context, entryCode EntryCode) (Entry, error) {
	entry, err := service.store.GetEntryByCode(ctx, entryCode)
	if err != nil {
		return Entry{}, err
	}
	switch entry.Kind {
	case EntryTopupRequest, EntryTopupApproved, EntryTopupRejected:
		return entry, nil
	}
	return Entry{}, fmt.Errorf("%w: %s is not a topup entry", ErrInvalidTopupState, entryCode.String())
}
