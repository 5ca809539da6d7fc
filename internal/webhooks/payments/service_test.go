package paymentswebhook

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	pkgerrors "github.com/fleetlyhq/fleetly-backend/pkg/errors"
	"github.com/fleetlyhq/fleetly-backend/pkg/metrics"
)

type fakeOrchestrator struct {
	succeeded []string
	failed    []string
	reasons   []string
	transfers map[string]string
	err       error
}

func newFakeOrchestrator() *fakeOrchestrator {
	return &fakeOrchestrator{transfers: make(map[string]string)}
}

func (f *fakeOrchestrator) HandlePaymentSucceeded(ctx context.Context, tx *gorm.DB, intentID string) error {
	if f.err != nil {
		return f.err
	}
	f.succeeded = append(f.succeeded, intentID)
	return nil
}

func (f *fakeOrchestrator) HandlePaymentFailed(ctx context.Context, tx *gorm.DB, intentID, reason string) error {
	if f.err != nil {
		return f.err
	}
	f.failed = append(f.failed, intentID)
	f.reasons = append(f.reasons, reason)
	return nil
}

func (f *fakeOrchestrator) HandleTransferCreated(ctx context.Context, tx *gorm.DB, transferID, reference string) error {
	if f.err != nil {
		return f.err
	}
	f.transfers[transferID] = reference
	return nil
}

type fakeDispatcherTx struct{}

func (fakeDispatcherTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func newDispatcher(t *testing.T, orch *fakeOrchestrator) (*Service, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.NewWebhookMetrics(reg)
	svc, err := NewService(ServiceParams{
		Payments:          orch,
		TransactionRunner: fakeDispatcherTx{},
		Metrics:           m,
	})
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	return svc, reg
}

func eventWith(t *testing.T, eventType stripe.EventType, payload any) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &stripe.Event{
		ID:   "evt_" + string(eventType),
		Type: eventType,
		Data: &stripe.EventData{Raw: raw},
	}
}

func counterValue(t *testing.T, reg *prometheus.Registry, name, eventType string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if eventType == "" {
				return metric.GetCounter().GetValue()
			}
			for _, label := range metric.GetLabel() {
				if label.GetName() == "event_type" && label.GetValue() == eventType {
					return extractValue(metric)
				}
			}
		}
	}
	return 0
}

func extractValue(metric *dto.Metric) float64 {
	if metric.GetCounter() != nil {
		return metric.GetCounter().GetValue()
	}
	return 0
}

func TestHandleEventRoutesSucceededIntent(t *testing.T) {
	orch := newFakeOrchestrator()
	svc, reg := newDispatcher(t, orch)

	event := eventWith(t, stripe.EventTypePaymentIntentSucceeded, stripe.PaymentIntent{ID: "pi_1"})
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(orch.succeeded) != 1 || orch.succeeded[0] != "pi_1" {
		t.Fatalf("succeeded = %v, want [pi_1]", orch.succeeded)
	}
	if got := counterValue(t, reg, "webhook_events_processed", string(stripe.EventTypePaymentIntentSucceeded)); got != 1 {
		t.Fatalf("processed counter = %v, want 1", got)
	}
	if got := counterValue(t, reg, "wallet_settlements_total", ""); got != 1 {
		t.Fatalf("settlement counter = %v, want 1", got)
	}
}

func TestHandleEventCarriesFailureReason(t *testing.T) {
	orch := newFakeOrchestrator()
	svc, _ := newDispatcher(t, orch)

	payload := map[string]any{
		"id":                 "pi_2",
		"last_payment_error": map[string]any{"message": "card_declined"},
	}
	event := eventWith(t, stripe.EventTypePaymentIntentPaymentFailed, payload)
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(orch.failed) != 1 || orch.failed[0] != "pi_2" {
		t.Fatalf("failed = %v, want [pi_2]", orch.failed)
	}
	if orch.reasons[0] != "card_declined" {
		t.Fatalf("reason = %q, want card_declined", orch.reasons[0])
	}
}

func TestHandleEventTransferUsesMetadataReference(t *testing.T) {
	orch := newFakeOrchestrator()
	svc, _ := newDispatcher(t, orch)

	payload := map[string]any{
		"id":       "tr_1",
		"metadata": map[string]string{"reference": "wd_abc"},
	}
	event := eventWith(t, stripe.EventTypeTransferCreated, payload)
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if orch.transfers["tr_1"] != "wd_abc" {
		t.Fatalf("transfer reference = %q, want wd_abc", orch.transfers["tr_1"])
	}
}

func TestHandleEventUnknownTypeIsNoOp(t *testing.T) {
	orch := newFakeOrchestrator()
	svc, reg := newDispatcher(t, orch)

	event := eventWith(t, stripe.EventType("customer.created"), map[string]string{"id": "cus_1"})
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(orch.succeeded)+len(orch.failed)+len(orch.transfers) != 0 {
		t.Fatalf("unknown event must not reach the orchestrator")
	}
	if got := counterValue(t, reg, "webhook_events_processed", "customer.created"); got != 1 {
		t.Fatalf("unknown events still count as processed, got %v", got)
	}
}

func TestHandleEventHandlerFailureCounts(t *testing.T) {
	orch := newFakeOrchestrator()
	orch.err = fmt.Errorf("db down")
	svc, reg := newDispatcher(t, orch)

	event := eventWith(t, stripe.EventTypePaymentIntentSucceeded, stripe.PaymentIntent{ID: "pi_3"})
	if err := svc.HandleEvent(context.Background(), event); err == nil {
		t.Fatalf("expected the handler error to surface")
	}
	if got := counterValue(t, reg, "webhook_events_failed", string(stripe.EventTypePaymentIntentSucceeded)); got != 1 {
		t.Fatalf("failed counter = %v, want 1", got)
	}
}

func TestHandleEventRejectsEmptyEvent(t *testing.T) {
	orch := newFakeOrchestrator()
	svc, _ := newDispatcher(t, orch)

	if err := svc.HandleEvent(context.Background(), nil); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestEventGuardValidation(t *testing.T) {
	if _, err := NewEventGuard(nil, time.Minute, "stripe"); err == nil {
		t.Fatalf("nil store must be rejected")
	}
}
