package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Agent is a delivery worker and the payee of wallet credits.
type Agent struct {
	ID               uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID           uuid.UUID `gorm:"column:user_id;type:uuid;not null;uniqueIndex"`
	FullName         string    `gorm:"column:full_name;not null"`
	Phone            *string   `gorm:"column:phone"`
	StripeCustomerID *string   `gorm:"column:stripe_customer_id"`
	// PayoutAccountID is the connected account transfers are routed to.
	PayoutAccountID *string         `gorm:"column:payout_account_id"`
	CommissionRate  decimal.Decimal `gorm:"column:commission_rate;type:numeric(5,4);not null"`
	Active          bool            `gorm:"column:active;not null;default:true"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
