package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/wallet/pkg/wallet"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintEntryCode       = "uniq_entry_code"
	constraintIdempotencyKey  = "uniq_entry_idem"
	defaultMetadataJSON       = "{}"
	pgUniqueViolationCode     = "23505"
	pgLockNotAvailableCode    = "55P03"
	sqliteConstraintCode      = 19
	errorOperationStore       = "store"
	errorSubjectAccount       = "account"
	errorSubjectEntry         = "entry"
	errorSubjectBalance       = "balance"
	errorCodeCreate           = "create"
	errorCodeDuplicate        = "duplicate"
	errorCodeGet              = "get"
	errorCodeInsert           = "insert"
	errorCodeInvalid          = "invalid"
	errorCodeList             = "list"
	errorCodeLock             = "lock"
	errorCodeMarkRefunded     = "mark_refunded"
	errorCodeResolveTopup     = "resolve_topup"
	errorCodeSave             = "save"
	errorCodeSumCampaignHeld  = "sum_campaign_held"
	errorCodeSumEntryAmounts  = "sum_entry_amounts"
)

// Store implements wallet.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the schema; walletd uses this for sqlite deployments.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&WalletAccount{}, &LedgerEntry{})
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore wallet.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) GetAccount(ctx context.Context, tenantID wallet.TenantID) (wallet.Account, error) {
	var model WalletAccount
	err := store.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return wallet.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, wallet.ErrAccountNotFound)
		}
		return wallet.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	return mapAccount(model)
}

func (store *Store) GetAccountForUpdate(ctx context.Context, tenantID wallet.TenantID) (wallet.Account, error) {
	var model WalletAccount
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ?", tenantID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return wallet.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLock, wallet.ErrAccountNotFound)
		}
		if isLockTimeout(err) {
			return wallet.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLock, wallet.ErrLockTimeout)
		}
		return wallet.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLock, err)
	}
	return mapAccount(model)
}

func (store *Store) CreateAccount(ctx context.Context, tenantID wallet.TenantID, createdUnixUTC int64) (wallet.Account, error) {
	model := WalletAccount{
		TenantID:  tenantID.String(),
		CreatedAt: time.Unix(createdUnixUTC, 0).UTC(),
	}
	// Insert-or-nothing: a losing concurrent insert must surface as
	// ErrAccountExists without raising a unique violation, which on
	// PostgreSQL would abort the surrounding transaction and break the
	// locked re-read of the winner's row.
	result := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "tenant_id"}}, DoNothing: true}).
		Create(&model)
	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return wallet.Account{}, wrapStoreError(errorSubjectAccount, errorCodeDuplicate, wallet.ErrAccountExists)
		}
		return wallet.Account{}, wrapStoreError(errorSubjectAccount, errorCodeCreate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wallet.Account{}, wrapStoreError(errorSubjectAccount, errorCodeDuplicate, wallet.ErrAccountExists)
	}
	return mapAccount(model)
}

func (store *Store) SaveAccount(ctx context.Context, account wallet.Account) error {
	updates := map[string]interface{}{
		"available":           account.Available,
		"held":                account.Held,
		"lifetime_topup":      account.LifetimeTopup,
		"lifetime_spent":      account.LifetimeSpent,
		"last_topup_at":       timePointer(account.LastTopupUnixUTC),
		"last_transaction_at": timePointer(account.LastTransactionUnixUTC),
	}
	result := store.db.WithContext(ctx).
		Model(&WalletAccount{}).
		Where("tenant_id = ?", account.TenantID.String()).
		Updates(updates)
	if result.Error != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeSave, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeSave, wallet.ErrAccountNotFound)
	}
	return nil
}

func (store *Store) InsertEntry(ctx context.Context, entry wallet.Entry) error {
	model := LedgerEntry{
		EntryCode:      entry.EntryCode.String(),
		TenantID:       entry.TenantID.String(),
		CampaignID:     stringPointer(entry.CampaignID.String()),
		ActorID:        stringPointer(entry.ActorID.String()),
		Kind:           entry.Kind.String(),
		Amount:         entry.Amount,
		BalanceBefore:  entry.BalanceBefore,
		BalanceAfter:   entry.BalanceAfter,
		Note:           entry.Note,
		Metadata:       datatypesJSON(entry.Metadata.String()),
		IdempotencyKey: stringPointer(entry.IdempotencyKey.String()),
		ReferenceID:    entry.ReferenceID,
		ReferenceCode:  stringPointer(entry.ReferenceCode.String()),
		TopupStatus:    stringPointer(entry.TopupStatus.String()),
		ApprovedBy:     stringPointer(entry.ApprovedBy.String()),
		ApprovedAt:     timePointer(entry.ApprovedAtUnixUTC),
		ProofReference: entry.ProofReference,
		Refunded:       entry.Refunded,
		CreatedAt:      time.Unix(entry.CreatedUnixUTC, 0).UTC(),
	}
	if entry.CreatedUnixUTC == 0 {
		model.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isConstraintViolation(err, constraintIdempotencyKey) {
		return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, wallet.ErrDuplicateIdempotencyKey)
	}
	if isConstraintViolation(err, constraintEntryCode) {
		return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, wallet.ErrDuplicateEntryCode)
	}
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, wallet.ErrDuplicateIdempotencyKey)
	}
	if err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) GetEntryByCode(ctx context.Context, code wallet.EntryCode) (wallet.Entry, error) {
	return store.getEntry(ctx, "entry_code = ?", code.String())
}

func (store *Store) GetEntryByIdempotencyKey(ctx context.Context, key wallet.IdempotencyKey) (wallet.Entry, error) {
	return store.getEntry(ctx, "idempotency_key = ?", key.String())
}

func (store *Store) getEntry(ctx context.Context, condition string, argument string) (wallet.Entry, error) {
	var model LedgerEntry
	err := store.db.WithContext(ctx).
		Where(condition, argument).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return wallet.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeGet, wallet.ErrEntryNotFound)
		}
		return wallet.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeGet, err)
	}
	entry, err := mapLedgerEntry(model)
	if err != nil {
		return wallet.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return entry, nil
}

func (store *Store) ResolveTopup(ctx context.Context, code wallet.EntryCode, from wallet.TopupStatus, decision wallet.TopupDecision) error {
	updates := map[string]interface{}{
		"topup_status":   decision.Status.String(),
		"kind":           decision.Kind.String(),
		"approved_by":    stringPointer(decision.ApprovedBy.String()),
		"approved_at":    timePointer(decision.ApprovedAtUnixUTC),
		"balance_before": decision.BalanceBefore,
		"balance_after":  decision.BalanceAfter,
	}
	if decision.Note != "" {
		updates["note"] = decision.Note
	}
	result := store.db.WithContext(ctx).
		Model(&LedgerEntry{}).
		Where("entry_code = ? AND topup_status = ?", code.String(), from.String()).
		Updates(updates)
	if result.Error != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeResolveTopup, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectEntry, errorCodeResolveTopup, wallet.ErrInvalidTopupState)
	}
	return nil
}

func (store *Store) MarkEntryRefunded(ctx context.Context, code wallet.EntryCode) error {
	result := store.db.WithContext(ctx).
		Model(&LedgerEntry{}).
		Where("entry_code = ? AND refunded = ?", code.String(), false).
		Update("refunded", true)
	if result.Error != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeMarkRefunded, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectEntry, errorCodeMarkRefunded, wallet.ErrAlreadyRefunded)
	}
	return nil
}

func (store *Store) CampaignHeld(ctx context.Context, tenantID wallet.TenantID, campaignID wallet.CampaignID) (int64, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&LedgerEntry{}).
		Select("coalesce(sum(case when kind = 'charge_from_hold' then amount else -amount end),0) as total").
		Where("tenant_id = ? AND campaign_id = ?", tenantID.String(), campaignID.String()).
		Where("kind in ('hold','release','refund','charge_from_hold')").
		Scan(&sum).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeSumCampaignHeld, err)
	}
	return sum.Total, nil
}

func (store *Store) SumEntryAmounts(ctx context.Context, tenantID wallet.TenantID) (int64, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&LedgerEntry{}).
		Select("coalesce(sum(amount),0) as total").
		Where("tenant_id = ?", tenantID.String()).
		Where("kind not in ('charge_from_hold','topup_request','topup_rejected')").
		Scan(&sum).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeSumEntryAmounts, err)
	}
	return sum.Total, nil
}

func (store *Store) ListEntries(ctx context.Context, tenantID wallet.TenantID, beforeUnixUTC int64, limit int) ([]wallet.Entry, error) {
	before := time.Unix(beforeUnixUTC, 0).UTC()
	if beforeUnixUTC == 0 {
		before = time.Now().UTC().Add(time.Second)
	}

	var rows []LedgerEntry
	err := store.db.WithContext(ctx).
		Where("tenant_id = ? AND created_at < ?", tenantID.String(), before).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}

	entries := make([]wallet.Entry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapLedgerEntry(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return wallet.WrapError(errorOperationStore, subject, code, err)
}

type sqlSum struct {
	Total int64
}

func mapAccount(model WalletAccount) (wallet.Account, error) {
	tenantID, err := wallet.NewTenantID(model.TenantID)
	if err != nil {
		return wallet.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return wallet.Account{
		TenantID:               tenantID,
		Available:              model.Available,
		Held:                   model.Held,
		LifetimeTopup:          model.LifetimeTopup,
		LifetimeSpent:          model.LifetimeSpent,
		LastTopupUnixUTC:       timeOrZero(model.LastTopupAt),
		LastTransactionUnixUTC: timeOrZero(model.LastTransactionAt),
		CreatedUnixUTC:         model.CreatedAt.Unix(),
	}, nil
}

func mapLedgerEntry(row LedgerEntry) (wallet.Entry, error) {
	entryCode, err := wallet.NewEntryCode(row.EntryCode)
	if err != nil {
		return wallet.Entry{}, err
	}
	tenantID, err := wallet.NewTenantID(row.TenantID)
	if err != nil {
		return wallet.Entry{}, err
	}
	kind, err := wallet.ParseEntryKind(row.Kind)
	if err != nil {
		return wallet.Entry{}, err
	}
	metadata, err := wallet.NewMetadataJSON(string(row.Metadata))
	if err != nil {
		return wallet.Entry{}, err
	}
	entry := wallet.Entry{
		EntryCode:         entryCode,
		TenantID:          tenantID,
		Kind:              kind,
		Amount:            row.Amount,
		BalanceBefore:     row.BalanceBefore,
		BalanceAfter:      row.BalanceAfter,
		Note:              row.Note,
		Metadata:          metadata,
		ReferenceID:       row.ReferenceID,
		ProofReference:    row.ProofReference,
		Refunded:          row.Refunded,
		ApprovedAtUnixUTC: timeOrZero(row.ApprovedAt),
		CreatedUnixUTC:    row.CreatedAt.Unix(),
	}
	if row.CampaignID != nil {
		campaignID, err := wallet.NewCampaignID(*row.CampaignID)
		if err != nil {
			return wallet.Entry{}, err
		}
		entry.CampaignID = campaignID
	}
	if row.ActorID != nil {
		actorID, err := wallet.NewActorID(*row.ActorID)
		if err != nil {
			return wallet.Entry{}, err
		}
		entry.ActorID = actorID
	}
	if row.IdempotencyKey != nil {
		idempotencyKey, err := wallet.NewIdempotencyKey(*row.IdempotencyKey)
		if err != nil {
			return wallet.Entry{}, err
		}
		entry.IdempotencyKey = idempotencyKey
	}
	if row.ReferenceCode != nil {
		referenceCode, err := wallet.NewEntryCode(*row.ReferenceCode)
		if err != nil {
			return wallet.Entry{}, err
		}
		entry.ReferenceCode = referenceCode
	}
	if row.TopupStatus != nil {
		topupStatus, err := wallet.ParseTopupStatus(*row.TopupStatus)
		if err != nil {
			return wallet.Entry{}, err
		}
		entry.TopupStatus = topupStatus
	}
	if row.ApprovedBy != nil {
		approvedBy, err := wallet.NewActorID(*row.ApprovedBy)
		if err != nil {
			return wallet.Entry{}, err
		}
		entry.ApprovedBy = approvedBy
	}
	return entry, nil
}

func timeOrZero(value *time.Time) int64 {
	if value == nil {
		return 0
	}
	return value.Unix()
}

func timePointer(unixUTC int64) *time.Time {
	if unixUTC == 0 {
		return nil
	}
	value := time.Unix(unixUTC, 0).UTC()
	return &value
}

func stringPointer(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}

func isConstraintViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraint
	}
	return false
}

func isLockTimeout(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgLockNotAvailableCode
	}
	return false
}
