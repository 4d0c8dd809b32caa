package wallet

import "context"

// Store is the persistence contract used by Service.
//
// Implementations must guarantee that WithTx commits every write performed by
// fn atomically and rolls everything back when fn returns an error, and that
// GetAccountForUpdate acquires an exclusive lock on the single account row so
// mutations for the same tenant serialize while different tenants proceed in
// parallel. A lock that cannot be acquired within the implementation's bound
// surfaces as ErrLockTimeout.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	// GetAccount reads the account without locking it. Suitable for display
	// only; mutation decisions must use GetAccountForUpdate inside WithTx.
	GetAccount(ctx context.Context, tenantID TenantID) (Account, error)
	// GetAccountForUpdate reads the account under an exclusive row lock.
	// Returns ErrAccountNotFound when the tenant has no account.
	GetAccountForUpdate(ctx context.Context, tenantID TenantID) (Account, error)
	// CreateAccount provisions a zero-balance account for the tenant.
	// Returns ErrAccountExists when a concurrent session won the insert;
	// losing must leave the surrounding transaction usable so the caller
	// can re-read the winner's row under lock.
	CreateAccount(ctx context.Context, tenantID TenantID, createdUnixUTC int64) (Account, error)
	// SaveAccount persists balances mutated inside the locked session.
	SaveAccount(ctx context.Context, account Account) error

	// InsertEntry appends one immutable ledger entry.
	InsertEntry(ctx context.Context, entry Entry) error
	// GetEntryByCode fetches one entry, ErrEntryNotFound when unknown.
	GetEntryByCode(ctx context.Context, code EntryCode) (Entry, error)
	// GetEntryByIdempotencyKey fetches one entry by its idempotency key.
	GetEntryByIdempotencyKey(ctx context.Context, key IdempotencyKey) (Entry, error)
	// ResolveTopup applies an admin decision to a pending topup entry.
	// The update is conditional on the current status matching from; zero
	// rows updated surfaces as ErrInvalidTopupState.
	ResolveTopup(ctx context.Context, code EntryCode, from TopupStatus, decision TopupDecision) error
	// MarkEntryRefunded flags a direct-charge entry as compensated. The
	// update is conditional on the flag being unset; zero rows updated
	// surfaces as ErrAlreadyRefunded.
	MarkEntryRefunded(ctx context.Context, code EntryCode) error

	// CampaignHeld replays the hold, release, refund, and charge-from-hold
	// entries for one campaign and returns the amount still held for it.
	CampaignHeld(ctx context.Context, tenantID TenantID, campaignID CampaignID) (int64, error)
	// SumEntryAmounts totals entry amounts that affect the available
	// balance: charge-from-hold rows are excluded (they consume held
	// funds) and topup rows count only once approved.
	SumEntryAmounts(ctx context.Context, tenantID TenantID) (int64, error)
	// ListEntries returns entries for a tenant before a cutoff, newest first.
	ListEntries(ctx context.Context, tenantID TenantID, beforeUnixUTC int64, limit int) ([]Entry, error)
}
