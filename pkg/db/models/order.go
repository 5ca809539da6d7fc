package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fleetlyhq/fleetly-backend/pkg/enums"
)

// Order is a delivery or errand order moving through the lifecycle state
// machine. completed_at is set iff the status is a terminal success state;
// cancellation_reason is non-null iff the status is canceled.
type Order struct {
	ID         uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Kind       enums.OrderKind   `gorm:"column:kind;type:order_kind;not null;default:'delivery'"`
	Status     enums.OrderStatus `gorm:"column:status;type:order_status;not null;default:'pending'"`
	CustomerID uuid.UUID         `gorm:"column:customer_id;type:uuid;not null;index"`
	// AgentID is nil until an agent accepts the order.
	AgentID *uuid.UUID `gorm:"column:agent_id;type:uuid;index"`
	// AssignedAgentID tracks reassignment history for errand orders; it keeps
	// the originally assigned agent when AgentID is replaced.
	AssignedAgentID *uuid.UUID               `gorm:"column:assigned_agent_id;type:uuid"`
	PaymentStatus   enums.OrderPaymentStatus `gorm:"column:payment_status;type:order_payment_status;not null;default:'not_paid'"`
	AmountCents     int64                    `gorm:"column:amount_cents;not null"`
	Currency        string                   `gorm:"column:currency;not null;default:'usd'"`
	// CommissionRate is snapshotted from the agent at settlement time so a
	// later rate change never rewrites historical economics.
	CommissionRate     *decimal.Decimal   `gorm:"column:commission_rate;type:numeric(5,4)"`
	PickupAddress      string             `gorm:"column:pickup_address;not null"`
	DropoffAddress     string             `gorm:"column:dropoff_address;not null"`
	CancellationReason *string            `gorm:"column:cancellation_reason"`
	CanceledBy         *enums.CancelActor `gorm:"column:canceled_by;type:cancel_actor"`
	AcceptedAt         *time.Time         `gorm:"column:accepted_at"`
	StartedAt          *time.Time         `gorm:"column:started_at"`
	CompletedAt        *time.Time         `gorm:"column:completed_at"`
	Payments           []Payment          `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Review             *Review            `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt          time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
