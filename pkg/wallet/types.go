package wallet

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TenantID identifies a billed tenant account.
type TenantID struct {
	value string
}

// CampaignID scopes a hold episode to one campaign. The zero value means "no campaign".
type CampaignID struct {
	value string
}

// ActorID identifies the user or admin who triggered an operation.
// The zero value means the action was taken by the system.
type ActorID struct {
	value string
}

// IdempotencyKey scopes duplicate detection for direct charges.
// The zero value means the entry carries no key.
type IdempotencyKey struct {
	value string
}

// EntryCode is the human-traceable identifier generated per ledger entry.
type EntryCode struct {
	value string
}

// MetadataJSON stores arbitrary request metadata as a JSON object.
type MetadataJSON struct {
	value string
}

// NewTenantID validates and normalizes a tenant id.
func NewTenantID(raw string) (TenantID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return TenantID{}, fmt.Errorf("%w: empty value", ErrInvalidTenantID)
	}
	return TenantID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id TenantID) String() string {
	return id.value
}

// NewCampaignID validates and normalizes a campaign id.
func NewCampaignID(raw string) (CampaignID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return CampaignID{}, fmt.Errorf("%w: empty value", ErrInvalidCampaignID)
	}
	return CampaignID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id CampaignID) String() string {
	return id.value
}

// IsZero reports whether no campaign is attached.
func (id CampaignID) IsZero() bool {
	return id.value == ""
}

// NewActorID validates and normalizes an actor id.
func NewActorID(raw string) (ActorID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ActorID{}, fmt.Errorf("%w: empty value", ErrInvalidActorID)
	}
	return ActorID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id ActorID) String() string {
	return id.value
}

// IsZero reports whether the action is attributed to the system.
func (id ActorID) IsZero() bool {
	return id.value == ""
}

// NewIdempotencyKey validates and normalizes an idempotency key.
func NewIdempotencyKey(raw string) (IdempotencyKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return IdempotencyKey{}, fmt.Errorf("%w: empty value", ErrInvalidIdempotencyKey)
	}
	return IdempotencyKey{value: trimmed}, nil
}

// String returns the normalized key.
func (key IdempotencyKey) String() string {
	return key.value
}

// IsZero reports whether the key is absent.
func (key IdempotencyKey) IsZero() bool {
	return key.value == ""
}

// NewEntryCode validates and normalizes an entry code.
func NewEntryCode(raw string) (EntryCode, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return EntryCode{}, fmt.Errorf("%w: empty value", ErrInvalidEntryCode)
	}
	return EntryCode{value: trimmed}, nil
}

// String returns the normalized code.
func (code EntryCode) String() string {
	return code.value
}

// IsZero reports whether the code is absent.
func (code EntryCode) IsZero() bool {
	return code.value == ""
}

// NewMetadataJSON validates metadata (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	if metadata.value == "" {
		return "{}"
	}
	return metadata.value
}

// PositiveAmount is a strictly positive balance amount in minor currency units.
type PositiveAmount int64

// NewPositiveAmount validates an amount and ensures it is strictly positive.
func NewPositiveAmount(raw int64) (PositiveAmount, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return PositiveAmount(raw), nil
}

// Int64 returns the raw amount.
func (amount PositiveAmount) Int64() int64 {
	return int64(amount)
}

// SignedAmount is a non-zero signed adjustment in minor currency units.
type SignedAmount int64

// NewSignedAmount validates a correction amount and ensures it is non-zero.
func NewSignedAmount(raw int64) (SignedAmount, error) {
	if raw == 0 {
		return 0, fmt.Errorf("%w: must be non-zero", ErrInvalidAmount)
	}
	return SignedAmount(raw), nil
}

// Int64 returns the raw signed amount.
func (amount SignedAmount) Int64() int64 {
	return int64(amount)
}

// Abs returns the magnitude of the adjustment.
func (amount SignedAmount) Abs() int64 {
	if amount < 0 {
		return int64(-amount)
	}
	return int64(amount)
}

// EntryKind enumerates ledger entry kinds.
type EntryKind string

const (
	EntryHold           EntryKind = "hold"
	EntryChargeFromHold EntryKind = "charge_from_hold"
	EntryRelease        EntryKind = "release"
	EntryRefund         EntryKind = "refund"
	EntryTopupRequest   EntryKind = "topup_request"
	EntryTopupApproved  EntryKind = "topup_approved"
	EntryTopupRejected  EntryKind = "topup_rejected"
	EntryCorrection     EntryKind = "correction"
	EntryDirectCharge   EntryKind = "direct_charge"
	EntryDirectRefund   EntryKind = "direct_refund"
)

// String returns the wire value of the kind.
func (kind EntryKind) String() string {
	return string(kind)
}

// ParseEntryKind validates a stored kind value.
func ParseEntryKind(raw string) (EntryKind, error) {
	switch EntryKind(raw) {
	case EntryHold, EntryChargeFromHold, EntryRelease, EntryRefund,
		EntryTopupRequest, EntryTopupApproved, EntryTopupRejected,
		EntryCorrection, EntryDirectCharge, EntryDirectRefund:
		return EntryKind(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidEntryKind, raw)
}

// TopupStatus tracks the approval lifecycle of a topup entry.
type TopupStatus string

const (
	TopupStatusNone     TopupStatus = ""
	TopupStatusPending  TopupStatus = "pending"
	TopupStatusApproved TopupStatus = "approved"
	TopupStatusRejected TopupStatus = "rejected"
)

// String returns the wire value of the status.
func (status TopupStatus) String() string {
	return string(status)
}

// ParseTopupStatus validates a stored topup status value.
func ParseTopupStatus(raw string) (TopupStatus, error) {
	switch TopupStatus(raw) {
	case TopupStatusNone, TopupStatusPending, TopupStatusApproved, TopupStatusRejected:
		return TopupStatus(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTopupStatus, raw)
}

// ReasonCode classifies why held funds are returned to the available balance.
// Entry kind derivation is deterministic on the code, never on free text.
type ReasonCode string

const (
	ReasonCampaignCancelled             ReasonCode = "campaign_cancelled"
	ReasonMessageFailed                 ReasonCode = "message_failed"
	ReasonCampaignCompletedWithResidual ReasonCode = "campaign_completed_with_residual"
)

// String returns the wire value of the reason.
func (reason ReasonCode) String() string {
	return string(reason)
}

// ParseReasonCode validates a release reason.
func ParseReasonCode(raw string) (ReasonCode, error) {
	switch ReasonCode(raw) {
	case ReasonCampaignCancelled, ReasonMessageFailed, ReasonCampaignCompletedWithResidual:
		return ReasonCode(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidReasonCode, raw)
}

// releaseKind derives the entry kind recorded for a release.
func (reason ReasonCode) releaseKind() EntryKind {
	if reason == ReasonMessageFailed {
		return EntryRefund
	}
	return EntryRelease
}

// AccountStatus is the display level derived from the available balance.
type AccountStatus string

const (
	AccountStatusNormal   AccountStatus = "normal"
	AccountStatusWarning  AccountStatus = "warning"
	AccountStatusMinimum  AccountStatus = "minimum"
	AccountStatusDepleted AccountStatus = "depleted"
)

// String returns the wire value of the status.
func (status AccountStatus) String() string {
	return string(status)
}

// Account is the mutable balance record, one per tenant.
type Account struct {
	TenantID               TenantID
	Available              int64
	Held                   int64
	LifetimeTopup          int64
	LifetimeSpent          int64
	LastTopupUnixUTC       int64
	LastTransactionUnixUTC int64
	CreatedUnixUTC         int64
}

// Total is the derived sum of spendable and reserved funds.
func (account Account) Total() int64 {
	return account.Available + account.Held
}

// Entry is a single immutable line in the ledger. Only the topup approval
// fields and the refunded marker ever change after insert, and those changes
// are themselves audit events on the same row.
type Entry struct {
	EntryCode         EntryCode
	TenantID          TenantID
	CampaignID        CampaignID
	ActorID           ActorID
	Kind              EntryKind
	Amount            int64
	BalanceBefore     int64
	BalanceAfter      int64
	Note              string
	Metadata          MetadataJSON
	IdempotencyKey    IdempotencyKey
	ReferenceID       string
	ReferenceCode     EntryCode
	TopupStatus       TopupStatus
	ApprovedBy        ActorID
	ApprovedAtUnixUTC int64
	ProofReference    string
	Refunded          bool
	CreatedUnixUTC    int64
}

// TopupDecision records the admin resolution applied to a pending topup entry.
type TopupDecision struct {
	Status            TopupStatus
	Kind              EntryKind
	ApprovedBy        ActorID
	ApprovedAtUnixUTC int64
	Note              string
	BalanceBefore     int64
	BalanceAfter      int64
}
