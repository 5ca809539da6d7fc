package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/fleetlyhq/fleetly-backend/pkg/enums"
)

// Payment is the local record of one gateway charge attempt. It is created in
// pending status before the gateway call so a crash between "intent created"
// and "local record saved" is detectable by reconciliation. The (order_id,
// leg) pair is unique, as is the gateway payment-intent id.
type Payment struct {
	ID      uuid.UUID        `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID uuid.UUID        `gorm:"column:order_id;type:uuid;not null;uniqueIndex:idx_payments_order_leg"`
	Leg     enums.PaymentLeg `gorm:"column:leg;type:payment_leg;not null;uniqueIndex:idx_payments_order_leg"`
	AgentID *uuid.UUID       `gorm:"column:agent_id;type:uuid"`
	// StripePaymentIntentID is the external idempotency key; empty until the
	// gateway call returns.
	StripePaymentIntentID *string             `gorm:"column:stripe_payment_intent_id;uniqueIndex"`
	AmountCents           int64               `gorm:"column:amount_cents;not null"`
	CommissionCents       int64               `gorm:"column:commission_cents;not null;default:0"`
	Status                enums.PaymentStatus `gorm:"column:status;type:payment_status;not null;default:'pending'"`
	// TransferID is set once funds move to the agent's payout account.
	TransferID    *string    `gorm:"column:transfer_id"`
	FailureReason *string    `gorm:"column:failure_reason"`
	PaidAt        *time.Time `gorm:"column:paid_at"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
