package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/fleetlyhq/fleetly-backend/internal/commission"
	"github.com/fleetlyhq/fleetly-backend/internal/orders"
	"github.com/fleetlyhq/fleetly-backend/internal/wallet"
	"github.com/fleetlyhq/fleetly-backend/pkg/db"
	"github.com/fleetlyhq/fleetly-backend/pkg/db/models"
	"github.com/fleetlyhq/fleetly-backend/pkg/enums"
	pkgerrors "github.com/fleetlyhq/fleetly-backend/pkg/errors"
	"github.com/fleetlyhq/fleetly-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// walletLedger is the slice of the wallet service the orchestrator needs:
// crediting inside the webhook transaction and stamping transfer ids.
type walletLedger interface {
	CreditInTx(ctx context.Context, tx *gorm.DB, input wallet.CreditInput) (*models.WalletTransaction, error)
	StampTransfer(ctx context.Context, tx *gorm.DB, reference, transferID string) error
}

// CreateIntentInput describes a charge to raise against the customer.
type CreateIntentInput struct {
	OrderID     uuid.UUID        `json:"order_id"`
	Leg         enums.PaymentLeg `json:"leg" validate:"required"`
	AmountCents int64            `json:"amount_cents" validate:"omitempty,gt=0"`
}

// Service orchestrates gateway charges and their webhook-driven outcomes.
type Service interface {
	// SettleOrder implements the order service's settlement hook: it
	// persists the pending invoice payment inside the completing
	// transaction. The gateway call happens afterwards via
	// RaiseOrderInvoice so a gateway outage can never roll back a
	// completed order.
	SettleOrder(ctx context.Context, tx *gorm.DB, event orders.SettlementEvent) error
	CreateIntent(ctx context.Context, input CreateIntentInput) (*models.Payment, error)
	RaiseIntent(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error)
	RaiseOrderInvoice(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
	HandlePaymentSucceeded(ctx context.Context, tx *gorm.DB, intentID string) error
	HandlePaymentFailed(ctx context.Context, tx *gorm.DB, intentID, reason string) error
	HandleTransferCreated(ctx context.Context, tx *gorm.DB, transferID, reference string) error
	ReconcileStartupPending(ctx context.Context, pendingSince time.Duration) error
}

type service struct {
	repo    Repository
	tx      txRunner
	gateway Gateway
	ledger  walletLedger
	logg    *logger.Logger
}

// ServiceParams collects the orchestrator's dependencies.
type ServiceParams struct {
	Repo              Repository
	TransactionRunner txRunner
	Gateway           Gateway
	WalletLedger      walletLedger
	Logger            *logger.Logger
}

// NewService builds the payment orchestrator.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if params.WalletLedger == nil {
		return nil, fmt.Errorf("wallet ledger required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:    params.Repo,
		tx:      params.TransactionRunner,
		gateway: params.Gateway,
		ledger:  params.WalletLedger,
		logg:    params.Logger,
	}, nil
}

func (s *service) SettleOrder(ctx context.Context, tx *gorm.DB, event orders.SettlementEvent) error {
	commissionCents, _, err := commission.Compute(event.AmountCents, event.CommissionRate)
	if err != nil {
		return err
	}

	repo := s.repo.WithTx(tx)
	payment := &models.Payment{
		OrderID:         event.OrderID,
		Leg:             enums.PaymentLegInvoice,
		AgentID:         &event.AgentID,
		AmountCents:     event.AmountCents,
		CommissionCents: commissionCents,
		Status:          enums.PaymentStatusPending,
	}
	if err := repo.Create(ctx, payment); err != nil {
		if db.IsUniqueViolation(err, "idx_payments_order_leg") {
			// A retried completion already settled this order.
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create invoice payment")
	}
	if err := repo.UpdateOrderPaymentStatus(ctx, event.OrderID, enums.OrderPaymentStatusPending); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order payment pending")
	}
	return nil
}

func (s *service) CreateIntent(ctx context.Context, input CreateIntentInput) (*models.Payment, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !input.Leg.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid payment leg %q", input.Leg))
	}

	var payment *models.Payment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		order, err := repo.FindOrder(ctx, input.OrderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}

		existing, err := repo.FindByOrderLeg(ctx, order.ID, input.Leg)
		if err == nil {
			payment = existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
		}

		amount := input.AmountCents
		if amount <= 0 {
			amount = order.AmountCents
		}

		var commissionCents int64
		if input.Leg == enums.PaymentLegInvoice {
			if order.AgentID == nil {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "order has no assigned agent")
			}
			agent, err := repo.FindAgent(ctx, *order.AgentID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load agent")
			}
			commissionCents, _, err = commission.Compute(amount, agent.CommissionRate)
			if err != nil {
				return err
			}
		}

		payment = &models.Payment{
			OrderID:         order.ID,
			Leg:             input.Leg,
			AgentID:         order.AgentID,
			AmountCents:     amount,
			CommissionCents: commissionCents,
			Status:          enums.PaymentStatusPending,
		}
		if err := repo.Create(ctx, payment); err != nil {
			if db.IsUniqueViolation(err, "idx_payments_order_leg") {
				return pkgerrors.New(pkgerrors.CodeConflict, "payment already exists for this leg")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment")
		}
		return repo.UpdateOrderPaymentStatus(ctx, order.ID, enums.OrderPaymentStatusPending)
	})
	if err != nil {
		return nil, err
	}

	if payment.StripePaymentIntentID != nil {
		return payment, nil
	}
	return s.RaiseIntent(ctx, payment.ID)
}

func (s *service) RaiseIntent(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	payment, err := s.repo.FindByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	if payment.StripePaymentIntentID != nil {
		return payment, nil
	}
	if payment.Status != enums.PaymentStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment is no longer pending")
	}

	order, err := s.repo.FindOrder(ctx, payment.OrderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(payment.AmountCents),
		Currency: stripe.String(order.Currency),
		Metadata: map[string]string{
			"order_id":   order.ID.String(),
			"payment_id": payment.ID.String(),
			"leg":        payment.Leg.String(),
		},
	}
	if payment.Leg == enums.PaymentLegInvoice && payment.AgentID != nil {
		agent, err := s.repo.FindAgent(ctx, *payment.AgentID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load agent")
		}
		if agent.PayoutAccountID != nil {
			params.TransferData = &stripe.PaymentIntentTransferDataParams{
				Destination: stripe.String(*agent.PayoutAccountID),
				Amount:      stripe.Int64(payment.AmountCents - payment.CommissionCents),
			}
		}
	}

	// The payment row id doubles as the gateway idempotency key: a crashed
	// retry can never mint a second intent for the same leg.
	intent, err := s.gateway.CreatePaymentIntent(ctx, params, payment.ID.String())
	if err != nil {
		s.logg.Error(ctx, "create payment intent", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment intent")
	}

	if err := s.repo.Update(ctx, payment.ID, map[string]any{
		"stripe_payment_intent_id": intent.ID,
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store intent id")
	}
	payment.StripePaymentIntentID = &intent.ID

	ctx = s.logg.WithOrderID(ctx, payment.OrderID.String())
	s.logg.Info(ctx, fmt.Sprintf("payment intent raised (%s)", payment.Leg))
	return payment, nil
}

// RaiseOrderInvoice raises the gateway intent for the invoice payment that
// SettleOrder persisted. The order service calls it once the completing
// transaction has committed; a failure here leaves the payment pending for
// the reconcile loop.
func (s *service) RaiseOrderInvoice(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	payment, err := s.repo.FindByOrderLeg(ctx, orderID, enums.PaymentLegInvoice)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invoice payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load invoice payment")
	}
	return s.RaiseIntent(ctx, payment.ID)
}

func (s *service) HandlePaymentSucceeded(ctx context.Context, tx *gorm.DB, intentID string) error {
	repo := s.repo.WithTx(tx)

	payment, err := repo.FindByIntentID(ctx, intentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Not one of ours; acknowledge so the gateway stops retrying.
			s.logg.Warn(ctx, fmt.Sprintf("payment intent %s has no local payment", intentID))
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	if payment.Status == enums.PaymentStatusPaid {
		return nil
	}
	if payment.Status == enums.PaymentStatusFailed {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "payment already failed")
	}

	now := time.Now().UTC()
	if err := repo.Update(ctx, payment.ID, map[string]any{
		"status":  enums.PaymentStatusPaid,
		"paid_at": now,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment paid")
	}
	if err := repo.UpdateOrderPaymentStatus(ctx, payment.OrderID, enums.OrderPaymentStatusPaid); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order paid")
	}

	switch payment.Leg {
	case enums.PaymentLegUpfront:
		return s.advanceAfterUpfront(ctx, repo, payment)
	case enums.PaymentLegInvoice:
		return s.creditAfterInvoice(ctx, tx, payment, intentID)
	default:
		return nil
	}
}

// advanceAfterUpfront moves an errand forward once the item purchase clears.
// The CAS tolerates out-of-order webhooks: if the order is not waiting in
// reached_store the move is skipped, not failed.
func (s *service) advanceAfterUpfront(ctx context.Context, repo Repository, payment *models.Payment) error {
	order, err := repo.FindOrder(ctx, payment.OrderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order.Kind != enums.OrderKindErrand || order.Status != enums.OrderStatusReachedStore {
		return nil
	}

	target, err := orders.Next(order.Kind, order.Status, orders.TransitionAdvance)
	if err != nil {
		return nil
	}
	if _, err := repo.TransitionOrder(ctx, order.ID, order.Status, target, nil); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "advance order")
	}
	return nil
}

func (s *service) creditAfterInvoice(ctx context.Context, tx *gorm.DB, payment *models.Payment, intentID string) error {
	if payment.AgentID == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "invoice payment missing agent")
	}

	netCents := payment.AmountCents - payment.CommissionCents
	metadata, _ := json.Marshal(map[string]any{
		"order_id":         payment.OrderID.String(),
		"commission_cents": payment.CommissionCents,
	})

	_, err := s.ledger.CreditInTx(ctx, tx, wallet.CreditInput{
		AgentID:     *payment.AgentID,
		AmountCents: netCents,
		Reference:   intentID,
		Metadata:    metadata,
	})
	return err
}

func (s *service) HandlePaymentFailed(ctx context.Context, tx *gorm.DB, intentID, reason string) error {
	repo := s.repo.WithTx(tx)

	payment, err := repo.FindByIntentID(ctx, intentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logg.Warn(ctx, fmt.Sprintf("payment intent %s has no local payment", intentID))
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	if payment.Status == enums.PaymentStatusFailed {
		return nil
	}
	if payment.Status == enums.PaymentStatusPaid {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "payment already succeeded")
	}

	if reason == "" {
		reason = "payment declined by gateway"
	}
	if err := repo.Update(ctx, payment.ID, map[string]any{
		"status":         enums.PaymentStatusFailed,
		"failure_reason": reason,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment failed")
	}
	if err := repo.UpdateOrderPaymentStatus(ctx, payment.OrderID, enums.OrderPaymentStatusFailed); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order payment failed")
	}

	return s.cancelAfterFailure(ctx, repo, payment, reason)
}

// cancelAfterFailure cancels the order with a system reason. Orders already
// terminal keep their state; the payment failure alone is recorded.
func (s *service) cancelAfterFailure(ctx context.Context, repo Repository, payment *models.Payment, reason string) error {
	order, err := repo.FindOrder(ctx, payment.OrderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order.Status.IsTerminal() {
		return nil
	}

	systemReason := fmt.Sprintf("payment failed: %s", reason)
	ok, err := repo.TransitionOrder(ctx, order.ID, order.Status, enums.OrderStatusCanceled, map[string]any{
		"cancellation_reason": systemReason,
		"canceled_by":         enums.CancelActorSystem,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel order")
	}
	if ok {
		ctx = s.logg.WithOrderID(ctx, order.ID.String())
		s.logg.Info(ctx, "order canceled after payment failure")
	}
	return nil
}

func (s *service) HandleTransferCreated(ctx context.Context, tx *gorm.DB, transferID, reference string) error {
	if transferID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "transfer id required")
	}
	if reference == "" {
		// Transfer from outside this system; acknowledge it.
		s.logg.Warn(ctx, fmt.Sprintf("transfer %s carries no reference", transferID))
		return nil
	}
	repo := s.repo.WithTx(tx)

	payment, err := repo.FindByIntentID(ctx, reference)
	if err == nil {
		if payment.TransferID == nil || *payment.TransferID != transferID {
			if err := repo.Update(ctx, payment.ID, map[string]any{"transfer_id": transferID}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "stamp payment transfer")
			}
		}
		return s.ledger.StampTransfer(ctx, tx, reference, transferID)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}

	// Withdrawal transfers have no intent; the reference is the ledger
	// entry's idempotency key recorded at withdraw time.
	return s.ledger.StampTransfer(ctx, tx, reference, transferID)
}

func (s *service) ReconcileStartupPending(ctx context.Context, pendingSince time.Duration) error {
	cutoff := time.Now().UTC().Add(-pendingSince)
	pending, err := s.repo.ListPendingBefore(ctx, cutoff)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list pending payments")
	}

	for i := range pending {
		payment := pending[i]
		if payment.StripePaymentIntentID == nil {
			// Crash before the gateway call: safe to raise the intent now,
			// the idempotency key makes retries safe.
			if _, err := s.RaiseIntent(ctx, payment.ID); err != nil {
				s.logg.Error(ctx, fmt.Sprintf("reconcile: raise intent for payment %s", payment.ID), err)
			}
			continue
		}

		intent, err := s.gateway.GetPaymentIntent(ctx, *payment.StripePaymentIntentID)
		if err != nil {
			s.logg.Error(ctx, fmt.Sprintf("reconcile: fetch intent %s", *payment.StripePaymentIntentID), err)
			continue
		}

		switch intent.Status {
		case stripe.PaymentIntentStatusSucceeded:
			err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
				return s.HandlePaymentSucceeded(ctx, tx, intent.ID)
			})
		case stripe.PaymentIntentStatusCanceled:
			err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
				return s.HandlePaymentFailed(ctx, tx, intent.ID, "intent canceled at gateway")
			})
		default:
			// Still in flight; the webhook will resolve it.
		}
		if err != nil {
			s.logg.Error(ctx, fmt.Sprintf("reconcile: settle intent %s", intent.ID), err)
		}
	}
	return nil
}
