package models

import (
	"time"

	"github.com/google/uuid"
)

// Wallet holds one agent's derived balance. The balance must always equal the
// signed sum of the wallet's transactions; the ledger is the source of truth.
type Wallet struct {
	ID           uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AgentID      uuid.UUID           `gorm:"column:agent_id;type:uuid;not null;uniqueIndex"`
	BalanceCents int64               `gorm:"column:balance_cents;not null;default:0"`
	Transactions []WalletTransaction `gorm:"foreignKey:WalletID;constraint:OnDelete:RESTRICT"`
	CreatedAt    time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
