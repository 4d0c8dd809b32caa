package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// WalletAccount represents the wallet_accounts table, one row per tenant.
type WalletAccount struct {
	TenantID          string     `gorm:"primaryKey"`
	Available         int64      `gorm:"not null"`
	Held              int64      `gorm:"not null"`
	LifetimeTopup     int64      `gorm:"not null"`
	LifetimeSpent     int64      `gorm:"not null"`
	LastTopupAt       *time.Time `gorm:""`
	LastTransactionAt *time.Time `gorm:""`
	CreatedAt         time.Time  `gorm:"not null"`
	UpdatedAt         time.Time  `gorm:"not null"`
}

func (WalletAccount) TableName() string { return "wallet_accounts" }

// LedgerEntry mirrors the ledger_entries table.
type LedgerEntry struct {
	EntryID        string         `gorm:"type:uuid;primaryKey"`
	EntryCode      string         `gorm:"not null;index:uniq_entry_code,unique"`
	TenantID       string         `gorm:"not null;index:idx_entries_tenant_created,priority:1;index:idx_entries_tenant_campaign,priority:1"`
	CampaignID     *string        `gorm:"index:idx_entries_tenant_campaign,priority:2"`
	ActorID        *string        `gorm:""`
	Kind           string         `gorm:"not null"`
	Amount         int64          `gorm:"not null"`
	BalanceBefore  int64          `gorm:"not null"`
	BalanceAfter   int64          `gorm:"not null"`
	Note           string         `gorm:""`
	Metadata       datatypes.JSON `gorm:"type:jsonb;not null"`
	IdempotencyKey *string        `gorm:"index:uniq_entry_idem,unique"`
	ReferenceID    string         `gorm:""`
	ReferenceCode  *string        `gorm:""`
	TopupStatus    *string        `gorm:""`
	ApprovedBy     *string        `gorm:""`
	ApprovedAt     *time.Time     `gorm:""`
	ProofReference string         `gorm:""`
	Refunded       bool           `gorm:"not null;default:false"`
	CreatedAt      time.Time      `gorm:"not null;index:idx_entries_tenant_created,priority:2"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

func (entry *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}
