package wallet

import (
	"context"
	"errors"
	"fmt"
)

// Service contains the wallet domain logic over a Store. All mutating
// operations run inside a locked account session: an exclusive lock on the
// tenant's account row scoped to one storage transaction, so a fresh
// read-modify-write cycle is atomic with respect to other sessions on the
// same tenant.
type Service struct {
	store  Store
	config Config
	nowFn  func() int64
	codeFn EntryCodeGenerator
	logger OperationLogger
}

// NewService wires a Service.
func NewService(store Store, config Config, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	service := &Service{
		store:  store,
		config: config,
		nowFn:  now,
		codeFn: GenerateEntryCode,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// BalanceView is the read-only snapshot served to display surfaces.
type BalanceView struct {
	TenantID      TenantID
	Available     int64
	Held          int64
	Total         int64
	LifetimeTopup int64
	LifetimeSpent int64
	Status        AccountStatus
}

// Balance returns the tenant's balances without taking the row lock. The
// view is display-grade; any decision that leads to a mutation re-reads the
// account under the lock.
func (service *Service) Balance(ctx context.Context, tenantID TenantID) (BalanceView, error) {
	account, err := service.store.GetAccount(ctx, tenantID)
	if err != nil {
		return BalanceView{}, err
	}
	return BalanceView{
		TenantID:      account.TenantID,
		Available:     account.Available,
		Held:          account.Held,
		Total:         account.Total(),
		LifetimeTopup: account.LifetimeTopup,
		LifetimeSpent: account.LifetimeSpent,
		Status:        service.config.StatusFor(account.Available),
	}, nil
}

// ProvisionAccount creates the tenant's zero-balance account. Idempotent:
// an existing account is returned as-is.
func (service *Service) ProvisionAccount(ctx context.Context, tenantID TenantID) (Account, error) {
	var provisioned Account
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		account, err := txStore.GetAccountForUpdate(ctx, tenantID)
		if err == nil {
			provisioned = account
			return nil
		}
		if !errors.Is(err, ErrAccountNotFound) {
			return err
		}
		created, createErr := txStore.CreateAccount(ctx, tenantID, service.nowFn())
		if createErr != nil {
			return createErr
		}
		provisioned = created
		return nil
	})
	if operationError != nil {
		return Account{}, operationError
	}
	return provisioned, nil
}

// ListEntries lists ledger entries for a tenant before a cutoff time.
func (service *Service) ListEntries(ctx context.Context, tenantID TenantID, beforeUnixUTC int64, limit int) ([]Entry, error) {
	return service.store.ListEntries(ctx, tenantID, beforeUnixUTC, limit)
}

// ReconciliationReport compares the account's available balance with the
// balance replayed from the ledger.
type ReconciliationReport struct {
	TenantID          TenantID
	Available         int64
	ExpectedAvailable int64
	Drift             int64
	Balanced          bool
}

// Reconcile replays the ledger for a tenant and reports any drift between
// the entry sum and the stored available balance.
func (service *Service) Reconcile(ctx context.Context, tenantID TenantID) (ReconciliationReport, error) {
	account, err := service.store.GetAccount(ctx, tenantID)
	if err != nil {
		return ReconciliationReport{}, err
	}
	expected, err := service.store.SumEntryAmounts(ctx, tenantID)
	if err != nil {
		return ReconciliationReport{}, err
	}
	drift := account.Available - expected
	return ReconciliationReport{
		TenantID:          tenantID,
		Available:         account.Available,
		ExpectedAvailable: expected,
		Drift:             drift,
		Balanced:          drift == 0,
	}, nil
}

// withLockedAccount opens the locked account session: one transaction, an
// exclusive lock on the tenant's row, fn over the freshly-read account, and
// a save of the mutated balances before commit. Any error rolls the whole
// session back. When provisionMissing is set, a missing account is created
// with a zero balance inside the same session.
func (service *Service) withLockedAccount(ctx context.Context, tenantID TenantID, provisionMissing bool, fn func(ctx context.Context, txStore Store, account *Account) error) error {
	return service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		account, err := txStore.GetAccountForUpdate(ctx, tenantID)
		if errors.Is(err, ErrAccountNotFound) && provisionMissing {
			account, err = txStore.CreateAccount(ctx, tenantID, service.nowFn())
			if errors.Is(err, ErrAccountExists) {
				// Lost the insert race; the winner's row is committed, lock it.
				account, err = txStore.GetAccountForUpdate(ctx, tenantID)
			}
		}
		if err != nil {
			return err
		}
		if err := fn(ctx, txStore, &account); err != nil {
			return err
		}
		if account.Available < 0 || account.Held < 0 {
			return WrapError("session", "account", "negative_balance", ErrInvalidAmount)
		}
		return txStore.SaveAccount(ctx, account)
	})
}

func (service *Service) newEntryCode() EntryCode {
	return service.codeFn(service.config.EntryCodePrefix, service.nowFn())
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
