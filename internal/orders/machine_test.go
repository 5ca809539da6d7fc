package orders

import (
	"testing"

	"github.com/fleetlyhq/fleetly-backend/pkg/enums"
	pkgerrors "github.com/fleetlyhq/fleetly-backend/pkg/errors"
)

func TestNextDeliveryHappyPath(t *testing.T) {
	steps := []struct {
		transition Transition
		from       enums.OrderStatus
		want       enums.OrderStatus
	}{
		{TransitionAccept, enums.OrderStatusPending, enums.OrderStatusAccepted},
		{TransitionStart, enums.OrderStatusAccepted, enums.OrderStatusInProgress},
		{TransitionComplete, enums.OrderStatusInProgress, enums.OrderStatusCompleted},
	}
	for _, step := range steps {
		got, err := Next(enums.OrderKindDelivery, step.from, step.transition)
		if err != nil {
			t.Fatalf("%s from %s: %v", step.transition, step.from, err)
		}
		if got != step.want {
			t.Fatalf("%s from %s: expected %s, got %s", step.transition, step.from, step.want, got)
		}
	}
}

func TestNextErrandHappyPath(t *testing.T) {
	steps := []struct {
		transition Transition
		from       enums.OrderStatus
		want       enums.OrderStatus
	}{
		{TransitionAccept, enums.OrderStatusPending, enums.OrderStatusAgentAssigned},
		{TransitionStart, enums.OrderStatusAgentAssigned, enums.OrderStatusReachedStore},
		{TransitionAdvance, enums.OrderStatusReachedStore, enums.OrderStatusItemsPaid},
		{TransitionAdvance, enums.OrderStatusItemsPaid, enums.OrderStatusOutForDelivery},
		{TransitionComplete, enums.OrderStatusOutForDelivery, enums.OrderStatusDelivered},
	}
	for _, step := range steps {
		got, err := Next(enums.OrderKindErrand, step.from, step.transition)
		if err != nil {
			t.Fatalf("%s from %s: %v", step.transition, step.from, err)
		}
		if got != step.want {
			t.Fatalf("%s from %s: expected %s, got %s", step.transition, step.from, step.want, got)
		}
	}
}

func TestNextRejectsIllegalMoves(t *testing.T) {
	cases := []struct {
		name       string
		kind       enums.OrderKind
		from       enums.OrderStatus
		transition Transition
	}{
		{"skip accept", enums.OrderKindDelivery, enums.OrderStatusPending, TransitionStart},
		{"skip to complete", enums.OrderKindDelivery, enums.OrderStatusAccepted, TransitionComplete},
		{"complete from terminal", enums.OrderKindDelivery, enums.OrderStatusCompleted, TransitionComplete},
		{"accept twice", enums.OrderKindDelivery, enums.OrderStatusAccepted, TransitionAccept},
		{"advance on delivery", enums.OrderKindDelivery, enums.OrderStatusInProgress, TransitionAdvance},
		{"errand skip stages", enums.OrderKindErrand, enums.OrderStatusReachedStore, TransitionComplete},
		{"errand advance from start", enums.OrderKindErrand, enums.OrderStatusAgentAssigned, TransitionAdvance},
		{"errand progress after cancel", enums.OrderKindErrand, enums.OrderStatusCanceled, TransitionStart},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Next(tc.kind, tc.from, tc.transition); !pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
				t.Fatalf("expected state conflict, got %v", err)
			}
		})
	}
}

func TestCanCancel(t *testing.T) {
	cancelable := []enums.OrderStatus{
		enums.OrderStatusPending,
		enums.OrderStatusAccepted,
		enums.OrderStatusInProgress,
		enums.OrderStatusAgentAssigned,
		enums.OrderStatusReachedStore,
		enums.OrderStatusItemsPaid,
		enums.OrderStatusOutForDelivery,
	}
	for _, status := range cancelable {
		if !CanCancel(status) {
			t.Fatalf("expected %s to be cancelable", status)
		}
	}
	for _, status := range []enums.OrderStatus{enums.OrderStatusCompleted, enums.OrderStatusDelivered, enums.OrderStatusCanceled} {
		if CanCancel(status) {
			t.Fatalf("expected %s to be immutable", status)
		}
	}
}

func TestTerminalSuccess(t *testing.T) {
	if got := TerminalSuccess(enums.OrderKindDelivery); got != enums.OrderStatusCompleted {
		t.Fatalf("expected completed, got %s", got)
	}
	if got := TerminalSuccess(enums.OrderKindErrand); got != enums.OrderStatusDelivered {
		t.Fatalf("expected delivered, got %s", got)
	}
}
