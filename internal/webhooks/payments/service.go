package paymentswebhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	pkgerrors "github.com/fleetlyhq/fleetly-backend/pkg/errors"
	"github.com/fleetlyhq/fleetly-backend/pkg/metrics"
)

// orchestrator is the slice of the payment service the dispatcher drives.
// Every handler runs inside the dispatcher's transaction so a failure rolls
// back the whole event.
type orchestrator interface {
	HandlePaymentSucceeded(ctx context.Context, tx *gorm.DB, intentID string) error
	HandlePaymentFailed(ctx context.Context, tx *gorm.DB, intentID, reason string) error
	HandleTransferCreated(ctx context.Context, tx *gorm.DB, transferID, reference string) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams collects the dispatcher dependencies.
type ServiceParams struct {
	Payments          orchestrator
	TransactionRunner txRunner
	Metrics           *metrics.WebhookMetrics
}

// Service routes verified gateway events into the payment orchestrator.
type Service struct {
	payments orchestrator
	txRunner txRunner
	metrics  *metrics.WebhookMetrics
}

// NewService builds the webhook dispatcher.
func NewService(params ServiceParams) (*Service, error) {
	if params.Payments == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment orchestrator required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Metrics == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook metrics required")
	}
	return &Service{
		payments: params.Payments,
		txRunner: params.TransactionRunner,
		metrics:  params.Metrics,
	}, nil
}

// HandleEvent processes one verified event. Unrecognized event types resolve
// as no-ops so the gateway subscription can carry more types than we consume.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "event data required")
	}

	eventType := string(event.Type)
	start := time.Now()
	err := s.route(ctx, event)
	s.metrics.ObserveDuration(eventType, time.Since(start))
	if err != nil {
		s.metrics.IncFailed(eventType)
		return err
	}
	s.metrics.IncProcessed(eventType)
	return nil
}

func (s *Service) route(ctx context.Context, event *stripe.Event) error {
	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent")
		}
		err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
			return s.payments.HandlePaymentSucceeded(ctx, tx, intent.ID)
		})
		if err == nil {
			s.metrics.IncSettlement()
		}
		return err

	case stripe.EventTypePaymentIntentPaymentFailed:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent")
		}
		return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
			return s.payments.HandlePaymentFailed(ctx, tx, intent.ID, failureReason(&intent))
		})

	case stripe.EventTypeTransferCreated:
		var transfer stripe.Transfer
		if err := json.Unmarshal(event.Data.Raw, &transfer); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode transfer")
		}
		return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
			return s.payments.HandleTransferCreated(ctx, tx, transfer.ID, transferReference(&transfer))
		})

	default:
		return nil
	}
}

func failureReason(intent *stripe.PaymentIntent) string {
	if intent.LastPaymentError != nil && intent.LastPaymentError.Msg != "" {
		return intent.LastPaymentError.Msg
	}
	return "payment declined by gateway"
}

// transferReference recovers the local idempotency key for a transfer.
// Withdrawal transfers carry it in metadata; invoice payouts riding on a
// payment intent's transfer_data are matched through the intent id.
func transferReference(transfer *stripe.Transfer) string {
	if ref := transfer.Metadata["reference"]; ref != "" {
		return ref
	}
	return transfer.Metadata["payment_intent_id"]
}
