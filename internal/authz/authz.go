package authz

import (
	"github.com/google/uuid"

	"github.com/fleetlyhq/fleetly-backend/pkg/db/models"
	"github.com/fleetlyhq/fleetly-backend/pkg/enums"
	pkgerrors "github.com/fleetlyhq/fleetly-backend/pkg/errors"
)

// Action is a domain operation gated by a policy check.
type Action string

const (
	ActionCreateOrder   Action = "order.create"
	ActionViewOrder     Action = "order.view"
	ActionAcceptOrder   Action = "order.accept"
	ActionStartOrder    Action = "order.start"
	ActionAdvanceOrder  Action = "order.advance"
	ActionCompleteOrder Action = "order.complete"
	ActionCancelOrder   Action = "order.cancel"
	ActionReviewOrder   Action = "order.review"
)

// Actor identifies who is attempting an operation, independent of transport.
type Actor struct {
	UserID  uuid.UUID
	AgentID *uuid.UUID
	Role    enums.MemberRole
	// System actors bypass ownership checks; used for gateway-driven flows.
	System bool
}

// SystemActor is the identity used for webhook and reconciliation flows.
func SystemActor() Actor {
	return Actor{System: true, Role: enums.MemberRoleAdmin}
}

// CanPerform checks whether the actor may run the action against the order.
// Policy checks run before any state inspection so a forbidden caller never
// learns whether the transition would have been legal.
func CanPerform(actor Actor, action Action, order *models.Order) error {
	if actor.System {
		return nil
	}
	if actor.Role == enums.MemberRoleAdmin {
		return nil
	}

	switch action {
	case ActionCreateOrder:
		if actor.Role == enums.MemberRoleCustomer {
			return nil
		}
		return forbidden("only customers can create orders")

	case ActionViewOrder:
		if order == nil {
			return forbidden("order context required")
		}
		if actor.Role == enums.MemberRoleCustomer && order.CustomerID == actor.UserID {
			return nil
		}
		if actor.Role == enums.MemberRoleAgent && isAssignedAgent(actor, order) {
			return nil
		}
		// Unassigned agents may inspect pending orders to decide on them.
		if actor.Role == enums.MemberRoleAgent && order.AgentID == nil {
			return nil
		}
		return forbidden("order not visible to caller")

	case ActionAcceptOrder:
		if actor.Role != enums.MemberRoleAgent || actor.AgentID == nil {
			return forbidden("only agents can accept orders")
		}
		return nil

	case ActionStartOrder, ActionAdvanceOrder, ActionCompleteOrder:
		if actor.Role != enums.MemberRoleAgent || actor.AgentID == nil {
			return forbidden("only agents can progress orders")
		}
		if order != nil && !isAssignedAgent(actor, order) {
			return forbidden("order is assigned to a different agent")
		}
		return nil

	case ActionCancelOrder:
		if order == nil {
			return forbidden("order context required")
		}
		if actor.Role == enums.MemberRoleCustomer && order.CustomerID == actor.UserID {
			return nil
		}
		if actor.Role == enums.MemberRoleAgent && isAssignedAgent(actor, order) {
			return nil
		}
		return forbidden("caller cannot cancel this order")

	case ActionReviewOrder:
		if order == nil {
			return forbidden("order context required")
		}
		if actor.Role == enums.MemberRoleCustomer && order.CustomerID == actor.UserID {
			return nil
		}
		return forbidden("only the ordering customer can review")
	}

	return forbidden("unknown action")
}

func isAssignedAgent(actor Actor, order *models.Order) bool {
	return actor.AgentID != nil && order.AgentID != nil && *order.AgentID == *actor.AgentID
}

func forbidden(msg string) error {
	return pkgerrors.New(pkgerrors.CodeForbidden, msg)
}
