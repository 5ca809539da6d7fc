package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/fleetlyhq/fleetly-backend/pkg/enums"
)

// WalletTransaction is one append-only ledger entry. Entries are never updated
// or deleted; balance_after_cents snapshots the wallet balance immediately
// after the entry so any point in time can be reconstructed without replaying
// the whole log. Reference is unique per wallet and carries the order or
// payment-intent id that caused the entry.
type WalletTransaction struct {
	ID                uuid.UUID                   `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	WalletID          uuid.UUID                   `gorm:"column:wallet_id;type:uuid;not null;uniqueIndex:idx_wallet_tx_reference"`
	Type              enums.WalletTransactionType `gorm:"column:type;type:wallet_transaction_type;not null"`
	AmountCents       int64                       `gorm:"column:amount_cents;not null"`
	BalanceAfterCents int64                       `gorm:"column:balance_after_cents;not null"`
	Reference         string                      `gorm:"column:reference;not null;uniqueIndex:idx_wallet_tx_reference"`
	// ExternalTransferID is set for withdrawals once the gateway transfer exists.
	ExternalTransferID *string         `gorm:"column:external_transfer_id"`
	Metadata           json.RawMessage `gorm:"column:metadata;type:jsonb"`
	CreatedAt          time.Time       `gorm:"column:created_at;autoCreateTime"`
}
