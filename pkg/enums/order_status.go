package enums

import "fmt"

// OrderStatus maps to the order_status enum in Postgres. The delivery and
// errand flows share the type; the per-kind transition tables live in
// internal/orders.
type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "pending"
	OrderStatusAccepted       OrderStatus = "accepted"
	OrderStatusInProgress     OrderStatus = "in_progress"
	OrderStatusCompleted      OrderStatus = "completed"
	OrderStatusAgentAssigned  OrderStatus = "agent_assigned"
	OrderStatusReachedStore   OrderStatus = "reached_store"
	OrderStatusItemsPaid      OrderStatus = "items_paid"
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	OrderStatusDelivered      OrderStatus = "delivered"
	OrderStatusCanceled       OrderStatus = "canceled"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusAccepted,
	OrderStatusInProgress,
	OrderStatusCompleted,
	OrderStatusAgentAssigned,
	OrderStatusReachedStore,
	OrderStatusItemsPaid,
	OrderStatusOutForDelivery,
	OrderStatusDelivered,
	OrderStatusCanceled,
}

// String implements fmt.Stringer.
func (s OrderStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known OrderStatus.
func (s OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status ends the order lifecycle.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusDelivered, OrderStatusCanceled:
		return true
	default:
		return false
	}
}

// IsTerminalSuccess reports whether the status is a successful terminal state.
func (s OrderStatus) IsTerminalSuccess() bool {
	return s == OrderStatusCompleted || s == OrderStatusDelivered
}

// ParseOrderStatus converts raw input into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}
