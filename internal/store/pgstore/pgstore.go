package pgstore

import (
	"context"
	"errors"

	"github.com/MarkoPoloResearchLab/wallet/pkg/wallet"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	constraintEntryCode      = "uniq_entry_code"
	constraintIdempotencyKey = "uniq_entry_idem"
	pgUniqueViolationCode    = "23505"
	pgLockNotAvailableCode   = "55P03"
	errorOperationStore      = "store"
	errorSubjectAccount      = "account"
	errorSubjectBalance      = "balance"
	errorSubjectEntry        = "entry"
	errorSubjectTransaction  = "transaction"
	errorCodeBegin           = "begin"
	errorCodeCommit          = "commit"
	errorCodeCreate          = "create"
	errorCodeDuplicate       = "duplicate"
	errorCodeGet             = "get"
	errorCodeInsert          = "insert"
	errorCodeInvalid         = "invalid"
	errorCodeList            = "list"
	errorCodeLock            = "lock"
	errorCodeMarkRefunded    = "mark_refunded"
	errorCodeResolveTopup    = "resolve_topup"
	errorCodeSave            = "save"
	errorCodeSumCampaignHeld = "sum_campaign_held"
	errorCodeSumEntryAmounts = "sum_entry_amounts"

	sqlSelectAccount = `
		select tenant_id, available, held, lifetime_topup, lifetime_spent,
			coalesce(extract(epoch from last_topup_at)::bigint,0),
			coalesce(extract(epoch from last_transaction_at)::bigint,0),
			extract(epoch from created_at)::bigint
		from wallet_accounts
		where tenant_id = $1
	`

	sqlSelectAccountForUpdate = sqlSelectAccount + `
		for update
	`

	// Bounds every row-lock wait inside the transaction so a contended
	// select ... for update fails with 55P03 instead of blocking forever.
	sqlSetLockTimeout = `set local lock_timeout = '3s'`

	sqlInsertAccount = `
		insert into wallet_accounts(tenant_id, available, held, lifetime_topup, lifetime_spent, created_at, updated_at)
		values ($1, 0, 0, 0, 0, to_timestamp($2), to_timestamp($2))
		on conflict (tenant_id) do nothing
	`

	sqlUpdateAccount = `
		update wallet_accounts
		set available = $2,
			held = $3,
			lifetime_topup = $4,
			lifetime_spent = $5,
			last_topup_at = to_timestamp(nullif($6,0)),
			last_transaction_at = to_timestamp(nullif($7,0)),
			updated_at = now()
		where tenant_id = $1
	`

	sqlInsertEntry = `
		insert into ledger_entries(
			entry_id, entry_code, tenant_id, campaign_id, actor_id, kind, amount,
			balance_before, balance_after, note, metadata, idempotency_key,
			reference_id, reference_code, topup_status, approved_by, approved_at,
			proof_reference, refunded, created_at
		)
		values(
			gen_random_uuid(), $1, $2,
			nullif($3,''), nullif($4,''), $5, $6,
			$7, $8, $9,
			coalesce(nullif($10,''),'{}')::jsonb,
			nullif($11,''),
			$12, nullif($13,''), nullif($14,''), nullif($15,''),
			to_timestamp(nullif($16,0)),
			$17, $18, to_timestamp($19)
		)
	`

	sqlEntryColumns = `
		entry_code,
		tenant_id,
		coalesce(campaign_id,''),
		coalesce(actor_id,''),
		kind,
		amount,
		balance_before,
		balance_after,
		note,
		coalesce(metadata::text,'{}'),
		coalesce(idempotency_key,''),
		reference_id,
		coalesce(reference_code,''),
		coalesce(topup_status,''),
		coalesce(approved_by,''),
		coalesce(extract(epoch from approved_at)::bigint,0),
		proof_reference,
		refunded,
		extract(epoch from created_at)::bigint
	`

	sqlSelectEntryByCode = `
		select ` + sqlEntryColumns + `
		from ledger_entries
		where entry_code = $1
	`

	sqlSelectEntryByIdempotencyKey = `
		select ` + sqlEntryColumns + `
		from ledger_entries
		where idempotency_key = $1
	`

	sqlResolveTopup = `
		update ledger_entries
		set topup_status = $4,
			kind = $5,
			approved_by = nullif($6,''),
			approved_at = to_timestamp(nullif($7,0)),
			balance_before = $8,
			balance_after = $9,
			note = coalesce(nullif($3,''), note)
		where entry_code = $1 and topup_status = $2
	`

	sqlMarkEntryRefunded = `
		update ledger_entries
		set refunded = true
		where entry_code = $1 and refunded = false
	`

	sqlCampaignHeld = `
		select coalesce(sum(case when kind = 'charge_from_hold' then amount else -amount end),0)
		from ledger_entries
		where tenant_id = $1 and campaign_id = $2
		and kind in ('hold','release','refund','charge_from_hold')
	`

	sqlSumEntryAmounts = `
		select coalesce(sum(amount),0)
		from ledger_entries
		where tenant_id = $1
		and kind not in ('charge_from_hold','topup_request','topup_rejected')
	`

	sqlListEntriesBefore = `
		select ` + sqlEntryColumns + `
		from ledger_entries
		where tenant_id = $1 and created_at < to_timestamp($2)
		order by created_at desc
		limit $3
	`
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type queries struct {
	db querier
}

type txBeginner interface {
	BeginTx(ctx context.Context, options pgx.TxOptions) (pgx.Tx, error)
}

// Store implements wallet.Store using a pgx connection pool (autocommit).
type Store struct {
	queries
	pool txBeginner
}

// TxStore implements wallet.Store for an active transaction.
type TxStore struct {
	queries
	tx pgx.Tx
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{queries: queries{db: pool}, pool: pool}
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore wallet.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	if _, err := tx.Exec(ctx, sqlSetLockTimeout); err != nil {
		_ = tx.Rollback(ctx)
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &TxStore{queries: queries{db: tx}, tx: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *TxStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore wallet.Store) error) error {
	return fn(ctx, store)
}

func (q *queries) GetAccount(ctx context.Context, tenantID wallet.TenantID) (wallet.Account, error) {
	return q.selectAccount(ctx, sqlSelectAccount, tenantID, errorCodeGet)
}

func (q *queries) GetAccountForUpdate(ctx context.Context, tenantID wallet.TenantID) (wallet.Account, error) {
	return q.selectAccount(ctx, sqlSelectAccountForUpdate, tenantID, errorCodeLock)
}

func (q *queries) selectAccount(ctx context.Context, sql string, tenantID wallet.TenantID, errorCode string) (wallet.Account, error) {
	var (
		tenantValue            string
		available              int64
		held                   int64
		lifetimeTopup          int64
		lifetimeSpent          int64
		lastTopupUnixUTC       int64
		lastTransactionUnixUTC int64
		createdUnixUTC         int64
	)
	err := q.db.QueryRow(ctx, sql, tenantID.String()).Scan(
		&tenantValue,
		&available,
		&held,
		&lifetimeTopup,
		&lifetimeSpent,
		&lastTopupUnixUTC,
		&lastTransactionUnixUTC,
		&createdUnixUTC,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return wallet.Account{}, wrapStoreError(errorSubjectAccount, errorCode, wallet.ErrAccountNotFound)
		}
		if isLockNotAvailable(err) {
			return wallet.Account{}, wrapStoreError(errorSubjectAccount, errorCode, wallet.ErrLockTimeout)
		}
		return wallet.Account{}, wrapStoreError(errorSubjectAccount, errorCode, err)
	}
	parsedTenantID, err := wallet.NewTenantID(tenantValue)
	if err != nil {
		return wallet.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return wallet.Account{
		TenantID:               parsedTenantID,
		Available:              available,
		Held:                   held,
		LifetimeTopup:          lifetimeTopup,
		LifetimeSpent:          lifetimeSpent,
		LastTopupUnixUTC:       lastTopupUnixUTC,
		LastTransactionUnixUTC: lastTransactionUnixUTC,
		CreatedUnixUTC:         createdUnixUTC,
	}, nil
}

func (q *queries) CreateAccount(ctx context.Context, tenantID wallet.TenantID, createdUnixUTC int64) (wallet.Account, error) {
	// on conflict do nothing keeps the losing insert from aborting the
	// surrounding transaction; the caller re-reads the winner's row.
	tag, err := q.db.Exec(ctx, sqlInsertAccount, tenantID.String(), createdUnixUTC)
	if err != nil {
		return wallet.Account{}, wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	if tag.RowsAffected() == 0 {
		return wallet.Account{}, wrapStoreError(errorSubjectAccount, errorCodeDuplicate, wallet.ErrAccountExists)
	}
	return wallet.Account{TenantID: tenantID, CreatedUnixUTC: createdUnixUTC}, nil
}

func (q *queries) SaveAccount(ctx context.Context, account wallet.Account) error {
	tag, err := q.db.Exec(ctx, sqlUpdateAccount,
		account.TenantID.String(),
		account.Available,
		account.Held,
		account.LifetimeTopup,
		account.LifetimeSpent,
		account.LastTopupUnixUTC,
		account.LastTransactionUnixUTC,
	)
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeSave, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeSave, wallet.ErrAccountNotFound)
	}
	return nil
}

func (q *queries) InsertEntry(ctx context.Context, entry wallet.Entry) error {
	_, err := q.db.Exec(ctx, sqlInsertEntry,
		entry.EntryCode.String(),
		entry.TenantID.String(),
		entry.CampaignID.String(),
		entry.ActorID.String(),
		entry.Kind.String(),
		entry.Amount,
		entry.BalanceBefore,
		entry.BalanceAfter,
		entry.Note,
		entry.Metadata.String(),
		entry.IdempotencyKey.String(),
		entry.ReferenceID,
		entry.ReferenceCode.String(),
		entry.TopupStatus.String(),
		entry.ApprovedBy.String(),
		entry.ApprovedAtUnixUTC,
		entry.ProofReference,
		entry.Refunded,
		entry.CreatedUnixUTC,
	)
	if isConstraintViolation(err, constraintIdempotencyKey) {
		return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, wallet.ErrDuplicateIdempotencyKey)
	}
	if isConstraintViolation(err, constraintEntryCode) {
		return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, wallet.ErrDuplicateEntryCode)
	}
	if err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return nil
}

func (q *queries) GetEntryByCode(ctx context.Context, code wallet.EntryCode) (wallet.Entry, error) {
	return q.selectEntry(ctx, sqlSelectEntryByCode, code.String())
}

func (q *queries) GetEntryByIdempotencyKey(ctx context.Context, key wallet.IdempotencyKey) (wallet.Entry, error) {
	return q.selectEntry(ctx, sqlSelectEntryByIdempotencyKey, key.String())
}

func (q *queries) selectEntry(ctx context.Context, sql string, argument string) (wallet.Entry, error) {
	row := q.db.QueryRow(ctx, sql, argument)
	entry, err := scanEntry(row.Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return wallet.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeGet, wallet.ErrEntryNotFound)
		}
		return wallet.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeGet, err)
	}
	return entry, nil
}

func (q *queries) ResolveTopup(ctx context.Context, code wallet.EntryCode, from wallet.TopupStatus, decision wallet.TopupDecision) error {
	tag, err := q.db.Exec(ctx, sqlResolveTopup,
		code.String(),
		from.String(),
		decision.Note,
		decision.Status.String(),
		decision.Kind.String(),
		decision.ApprovedBy.String(),
		decision.ApprovedAtUnixUTC,
		decision.BalanceBefore,
		decision.BalanceAfter,
	)
	if err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeResolveTopup, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectEntry, errorCodeResolveTopup, wallet.ErrInvalidTopupState)
	}
	return nil
}

func (q *queries) MarkEntryRefunded(ctx context.Context, code wallet.EntryCode) error {
	tag, err := q.db.Exec(ctx, sqlMarkEntryRefunded, code.String())
	if err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeMarkRefunded, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectEntry, errorCodeMarkRefunded, wallet.ErrAlreadyRefunded)
	}
	return nil
}

func (q *queries) CampaignHeld(ctx context.Context, tenantID wallet.TenantID, campaignID wallet.CampaignID) (int64, error) {
	var sum int64
	err := q.db.QueryRow(ctx, sqlCampaignHeld, tenantID.String(), campaignID.String()).Scan(&sum)
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeSumCampaignHeld, err)
	}
	return sum, nil
}

func (q *queries) SumEntryAmounts(ctx context.Context, tenantID wallet.TenantID) (int64, error) {
	var sum int64
	err := q.db.QueryRow(ctx, sqlSumEntryAmounts, tenantID.String()).Scan(&sum)
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeSumEntryAmounts, err)
	}
	return sum, nil
}

func (q *queries) ListEntries(ctx context.Context, tenantID wallet.TenantID, beforeUnixUTC int64, limit int) ([]wallet.Entry, error) {
	rows, err := q.db.Query(ctx, sqlListEntriesBefore, tenantID.String(), beforeUnixUTC, limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	defer rows.Close()
	entries := make([]wallet.Entry, 0, 32)
	for rows.Next() {
		entry, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	return entries, nil
}

func scanEntry(scan func(dest ...any) error) (wallet.Entry, error) {
	var (
		entryCodeValue      string
		tenantValue         string
		campaignValue       string
		actorValue          string
		kindValue           string
		amountValue         int64
		balanceBeforeValue  int64
		balanceAfterValue   int64
		noteValue           string
		metadataValue       string
		idempotencyValue    string
		referenceIDValue    string
		referenceCodeValue  string
		topupStatusValue    string
		approvedByValue     string
		approvedAtUnixUTC   int64
		proofReferenceValue string
		refundedValue       bool
		createdUnixUTC      int64
	)
	if err := scan(
		&entryCodeValue,
		&tenantValue,
		&campaignValue,
		&actorValue,
		&kindValue,
		&amountValue,
		&balanceBeforeValue,
		&balanceAfterValue,
		&noteValue,
		&metadataValue,
		&idempotencyValue,
		&referenceIDValue,
		&referenceCodeValue,
		&topupStatusValue,
		&approvedByValue,
		&approvedAtUnixUTC,
		&proofReferenceValue,
		&refundedValue,
		&createdUnixUTC,
	); err != nil {
		return wallet.Entry{}, err
	}
	entryCode, err := wallet.NewEntryCode(entryCodeValue)
	if err != nil {
		return wallet.Entry{}, err
	}
	tenantID, err := wallet.NewTenantID(tenantValue)
	if err != nil {
		return wallet.Entry{}, err
	}
	kind, err := wallet.ParseEntryKind(kindValue)
	if err != nil {
		return wallet.Entry{}, err
	}
	metadata, err := wallet.NewMetadataJSON(metadataValue)
	if err != nil {
		return wallet.Entry{}, err
	}
	entry := wallet.Entry{
		EntryCode:         entryCode,
		TenantID:          tenantID,
		Kind:              kind,
		Amount:            amountValue,
		BalanceBefore:     balanceBeforeValue,
		BalanceAfter:      balanceAfterValue,
		Note:              noteValue,
		Metadata:          metadata,
		ReferenceID:       referenceIDValue,
		ProofReference:    proofReferenceValue,
		Refunded:          refundedValue,
		ApprovedAtUnixUTC: approvedAtUnixUTC,
		CreatedUnixUTC:    createdUnixUTC,
	}
	if campaignValue != "" {
		campaignID, err := wallet.NewCampaignID(campaignValue)
		if err != nil {
			return wallet.Entry{}, err
		}
		entry.CampaignID = campaignID
	}
	if actorValue != "" {
		actorID, err := wallet.NewActorID(actorValue)
		if err != nil {
			return wallet.Entry{}, err
		}
		entry.ActorID = actorID
	}
	if idempotencyValue != "" {
		idempotencyKey, err := wallet.NewIdempotencyKey(idempotencyValue)
		if err != nil {
			return wallet.Entry{}, err
		}
		entry.IdempotencyKey = idempotencyKey
	}
	if referenceCodeValue != "" {
		referenceCode, err := wallet.NewEntryCode(referenceCodeValue)
		if err != nil {
			return wallet.Entry{}, err
		}
		entry.ReferenceCode = referenceCode
	}
	if topupStatusValue != "" {
		topupStatus, err := wallet.ParseTopupStatus(topupStatusValue)
		if err != nil {
			return wallet.Entry{}, err
		}
		entry.TopupStatus = topupStatus
	}
	if approvedByValue != "" {
		approvedBy, err := wallet.NewActorID(approvedByValue)
		if err != nil {
			return wallet.Entry{}, err
		}
		entry.ApprovedBy = approvedBy
	}
	return entry, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return wallet.WrapError(errorOperationStore, subject, code, err)
}

func isConstraintViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraint
	}
	return false
}

func isLockNotAvailable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgLockNotAvailableCode
	}
	return false
}
