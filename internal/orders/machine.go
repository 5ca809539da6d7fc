package orders

import (
	"fmt"

	"github.com/fleetlyhq/fleetly-backend/pkg/enums"
	pkgerrors "github.com/fleetlyhq/fleetly-backend/pkg/errors"
)

// Transition names one lifecycle move independent of order kind. The same
// verb resolves to different status pairs depending on the kind, so callers
// speak in transitions and the machine resolves statuses.
type Transition string

const (
	TransitionAccept   Transition = "accept"
	TransitionStart    Transition = "start"
	TransitionAdvance  Transition = "advance"
	TransitionComplete Transition = "complete"
)

// step is one edge of a kind's lifecycle path.
type step struct {
	from enums.OrderStatus
	to   enums.OrderStatus
}

// lifecyclePaths holds the linear happy path per order kind, in order.
// Cancellation is handled separately since it is reachable from every
// non-terminal state.
var lifecyclePaths = map[enums.OrderKind][]step{
	enums.OrderKindDelivery: {
		{from: enums.OrderStatusPending, to: enums.OrderStatusAccepted},
		{from: enums.OrderStatusAccepted, to: enums.OrderStatusInProgress},
		{from: enums.OrderStatusInProgress, to: enums.OrderStatusCompleted},
	},
	enums.OrderKindErrand: {
		{from: enums.OrderStatusPending, to: enums.OrderStatusAgentAssigned},
		{from: enums.OrderStatusAgentAssigned, to: enums.OrderStatusReachedStore},
		{from: enums.OrderStatusReachedStore, to: enums.OrderStatusItemsPaid},
		{from: enums.OrderStatusItemsPaid, to: enums.OrderStatusOutForDelivery},
		{from: enums.OrderStatusOutForDelivery, to: enums.OrderStatusDelivered},
	},
}

// transitionSpans maps a transition verb to the slice of path indexes it may
// occupy. Accept is always the first edge and complete the last; start is the
// second; advance covers the errand-only middle edges.
func edgesFor(kind enums.OrderKind, transition Transition) ([]step, error) {
	path, ok := lifecyclePaths[kind]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown order kind %q", kind))
	}

	switch transition {
	case TransitionAccept:
		return path[:1], nil
	case TransitionStart:
		return path[1:2], nil
	case TransitionAdvance:
		if len(path) <= 3 {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("%s orders have no intermediate stages", kind))
		}
		return path[2 : len(path)-1], nil
	case TransitionComplete:
		return path[len(path)-1:], nil
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown transition %q", transition))
	}
}

// Next resolves the target status for a transition from the current status.
// A transition that is never legal for the kind, or not legal from the
// current status, returns STATE_CONFLICT with both states named.
func Next(kind enums.OrderKind, current enums.OrderStatus, transition Transition) (enums.OrderStatus, error) {
	edges, err := edgesFor(kind, transition)
	if err != nil {
		return "", err
	}
	for _, edge := range edges {
		if edge.from == current {
			return edge.to, nil
		}
	}
	return "", pkgerrors.New(
		pkgerrors.CodeStateConflict,
		fmt.Sprintf("cannot %s a %s order in status %s", transition, kind, current),
	)
}

// CanCancel reports whether an order in the given status may still be
// canceled. Terminal states are immutable.
func CanCancel(status enums.OrderStatus) bool {
	return !status.IsTerminal()
}

// TerminalSuccess returns the kind's successful terminal status.
func TerminalSuccess(kind enums.OrderKind) enums.OrderStatus {
	path := lifecyclePaths[kind]
	if len(path) == 0 {
		return enums.OrderStatusCompleted
	}
	return path[len(path)-1].to
}
