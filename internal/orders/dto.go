package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fleetlyhq/fleetly-backend/pkg/db/models"
	"github.com/fleetlyhq/fleetly-backend/pkg/enums"
)

// CreateOrderInput carries the fields a customer submits for a new order.
type CreateOrderInput struct {
	Kind           enums.OrderKind `json:"kind" validate:"required"`
	AmountCents    int64           `json:"amount_cents" validate:"required,gt=0"`
	Currency       string          `json:"currency" validate:"omitempty,len=3"`
	PickupAddress  string          `json:"pickup_address" validate:"required"`
	DropoffAddress string          `json:"dropoff_address" validate:"required"`
}

// CancelOrderInput carries the reason details for a cancellation.
type CancelOrderInput struct {
	Reason string `json:"reason" validate:"required"`
}

// ReviewInput carries the customer rating for a finished order.
type ReviewInput struct {
	Rating  int     `json:"rating" validate:"required,min=1,max=5"`
	Comment *string `json:"comment" validate:"omitempty,max=2000"`
}

// OrderFilters narrows list queries.
type OrderFilters struct {
	Status *enums.OrderStatus
	Kind   *enums.OrderKind
}

// OrderList is one page of orders plus the cursor for the next page.
type OrderList struct {
	Orders     []models.Order `json:"orders"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// SettlementEvent is emitted when an order reaches terminal success. The
// payment orchestrator consumes it inside the same transaction to raise the
// invoice charge against the customer.
type SettlementEvent struct {
	OrderID        uuid.UUID
	CustomerID     uuid.UUID
	AgentID        uuid.UUID
	AmountCents    int64
	Currency       string
	CommissionRate decimal.Decimal
	CompletedAt    time.Time
}
