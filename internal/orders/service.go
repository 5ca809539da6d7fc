package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fleetlyhq/fleetly-backend/internal/authz"
	"github.com/fleetlyhq/fleetly-backend/pkg/db"
	"github.com/fleetlyhq/fleetly-backend/pkg/db/models"
	"github.com/fleetlyhq/fleetly-backend/pkg/enums"
	pkgerrors "github.com/fleetlyhq/fleetly-backend/pkg/errors"
	"github.com/fleetlyhq/fleetly-backend/pkg/logger"
	"github.com/fleetlyhq/fleetly-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Settler consumes settlement events. SettleOrder persists the pending
// invoice inside the completing transaction; RaiseOrderInvoice runs after
// commit and pushes the charge to the gateway.
type Settler interface {
	SettleOrder(ctx context.Context, tx *gorm.DB, event SettlementEvent) error
	RaiseOrderInvoice(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
}

// ListParams scopes a list query to the caller plus optional filters.
type ListParams struct {
	Pagination pagination.Params
	Filters    OrderFilters
	// Open lists unassigned pending orders agents can pick up.
	Open bool
}

// Service defines the order lifecycle operations.
type Service interface {
	Create(ctx context.Context, actor authz.Actor, input CreateOrderInput) (*models.Order, error)
	Get(ctx context.Context, actor authz.Actor, orderID uuid.UUID) (*models.Order, error)
	List(ctx context.Context, actor authz.Actor, params ListParams) (*OrderList, error)
	Accept(ctx context.Context, actor authz.Actor, orderID uuid.UUID) (*models.Order, error)
	Start(ctx context.Context, actor authz.Actor, orderID uuid.UUID) (*models.Order, error)
	Advance(ctx context.Context, actor authz.Actor, orderID uuid.UUID) (*models.Order, error)
	Complete(ctx context.Context, actor authz.Actor, orderID uuid.UUID) (*models.Order, error)
	Cancel(ctx context.Context, actor authz.Actor, orderID uuid.UUID, input CancelOrderInput) (*models.Order, error)
	Review(ctx context.Context, actor authz.Actor, orderID uuid.UUID, input ReviewInput) (*models.Review, error)
}

type service struct {
	repo    Repository
	tx      txRunner
	settler Settler
	logg    *logger.Logger
}

// NewService builds an order service with the required dependencies.
func NewService(repo Repository, tx txRunner, settler Settler, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if settler == nil {
		return nil, fmt.Errorf("settler required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{repo: repo, tx: tx, settler: settler, logg: logg}, nil
}

func (s *service) Create(ctx context.Context, actor authz.Actor, input CreateOrderInput) (*models.Order, error) {
	if err := authz.CanPerform(actor, authz.ActionCreateOrder, nil); err != nil {
		return nil, err
	}
	if !input.Kind.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid order kind %q", input.Kind))
	}
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if strings.TrimSpace(input.PickupAddress) == "" || strings.TrimSpace(input.DropoffAddress) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "pickup and dropoff addresses are required")
	}

	currency := strings.ToLower(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = "usd"
	}

	order := &models.Order{
		Kind:           input.Kind,
		Status:         enums.OrderStatusPending,
		CustomerID:     actor.UserID,
		PaymentStatus:  enums.OrderPaymentStatusNotPaid,
		AmountCents:    input.AmountCents,
		Currency:       currency,
		PickupAddress:  strings.TrimSpace(input.PickupAddress),
		DropoffAddress: strings.TrimSpace(input.DropoffAddress),
	}
	created, err := s.repo.Create(ctx, order)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
	}

	ctx = s.logg.WithOrderID(ctx, created.ID.String())
	s.logg.Info(ctx, fmt.Sprintf("order created (%s)", created.Kind))
	return created, nil
}

func (s *service) Get(ctx context.Context, actor authz.Actor, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.loadOrder(ctx, s.repo, orderID)
	if err != nil {
		return nil, err
	}
	if err := authz.CanPerform(actor, authz.ActionViewOrder, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *service) List(ctx context.Context, actor authz.Actor, params ListParams) (*OrderList, error) {
	if params.Pagination.Cursor != "" {
		if _, err := pagination.ParseCursor(params.Pagination.Cursor); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
	}

	limit := pagination.NormalizeLimit(params.Pagination.Limit)

	var (
		rows []models.Order
		err  error
	)
	switch {
	case params.Open:
		if actor.Role != enums.MemberRoleAgent && actor.Role != enums.MemberRoleAdmin {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only agents can browse open orders")
		}
		rows, err = s.repo.ListOpen(ctx, params.Pagination, params.Filters)
	case actor.Role == enums.MemberRoleAgent:
		if actor.AgentID == nil {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "agent context missing")
		}
		rows, err = s.repo.ListByAgent(ctx, *actor.AgentID, params.Pagination, params.Filters)
	default:
		rows, err = s.repo.ListByCustomer(ctx, actor.UserID, params.Pagination, params.Filters)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}

	nextCursor := ""
	if len(rows) > limit {
		rows = rows[:limit]
		// The cursor marks the last row handed out; the next page resumes
		// strictly after it.
		last := rows[limit-1]
		nextCursor = pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}
	return &OrderList{Orders: rows, NextCursor: nextCursor}, nil
}

func (s *service) Accept(ctx context.Context, actor authz.Actor, orderID uuid.UUID) (*models.Order, error) {
	if err := authz.CanPerform(actor, authz.ActionAcceptOrder, nil); err != nil {
		return nil, err
	}
	if actor.AgentID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "agent context required to accept")
	}

	var accepted *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		order, err := s.loadOrder(ctx, repo, orderID)
		if err != nil {
			return err
		}

		agent, err := repo.FindAgent(ctx, *actor.AgentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeForbidden, "agent profile not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load agent")
		}
		if !agent.Active {
			return pkgerrors.New(pkgerrors.CodeForbidden, "agent is deactivated")
		}

		target, err := Next(order.Kind, enums.OrderStatusPending, TransitionAccept)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		ok, err := repo.Transition(ctx, order.ID, enums.OrderStatusPending, target, map[string]any{
			"agent_id":          agent.ID,
			"assigned_agent_id": agent.ID,
			"accepted_at":       now,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "accept order")
		}
		if !ok {
			// Another agent won the race or the order left pending.
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order is no longer available")
		}

		accepted, err = s.loadOrder(ctx, repo, order.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithOrderID(ctx, accepted.ID.String())
	s.logg.Info(ctx, "order accepted")
	return accepted, nil
}

func (s *service) Start(ctx context.Context, actor authz.Actor, orderID uuid.UUID) (*models.Order, error) {
	return s.progress(ctx, actor, orderID, authz.ActionStartOrder, TransitionStart, func(now time.Time) map[string]any {
		return map[string]any{"started_at": now}
	})
}

func (s *service) Advance(ctx context.Context, actor authz.Actor, orderID uuid.UUID) (*models.Order, error) {
	return s.progress(ctx, actor, orderID, authz.ActionAdvanceOrder, TransitionAdvance, nil)
}

// progress applies a non-terminal forward transition under CAS.
func (s *service) progress(
	ctx context.Context,
	actor authz.Actor,
	orderID uuid.UUID,
	action authz.Action,
	transition Transition,
	extraUpdates func(now time.Time) map[string]any,
) (*models.Order, error) {
	var updated *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		order, err := s.loadOrder(ctx, repo, orderID)
		if err != nil {
			return err
		}
		if err := authz.CanPerform(actor, action, order); err != nil {
			return err
		}

		target, err := Next(order.Kind, order.Status, transition)
		if err != nil {
			return err
		}

		updates := map[string]any{}
		if extraUpdates != nil {
			updates = extraUpdates(time.Now().UTC())
		}
		ok, err := repo.Transition(ctx, order.ID, order.Status, target, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("%s order", transition))
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order status changed concurrently")
		}

		updated, err = s.loadOrder(ctx, repo, order.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithOrderID(ctx, updated.ID.String())
	s.logg.Info(ctx, fmt.Sprintf("order %s -> %s", transition, updated.Status))
	return updated, nil
}

func (s *service) Complete(ctx context.Context, actor authz.Actor, orderID uuid.UUID) (*models.Order, error) {
	var completed *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		order, err := s.loadOrder(ctx, repo, orderID)
		if err != nil {
			return err
		}
		if err := authz.CanPerform(actor, authz.ActionCompleteOrder, order); err != nil {
			return err
		}

		target, err := Next(order.Kind, order.Status, TransitionComplete)
		if err != nil {
			return err
		}
		if order.AgentID == nil {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order has no assigned agent")
		}

		agent, err := repo.FindAgent(ctx, *order.AgentID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load agent")
		}

		now := time.Now().UTC()
		ok, err := repo.Transition(ctx, order.ID, order.Status, target, map[string]any{
			"completed_at":    now,
			"commission_rate": agent.CommissionRate,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete order")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order status changed concurrently")
		}

		event := SettlementEvent{
			OrderID:        order.ID,
			CustomerID:     order.CustomerID,
			AgentID:        agent.ID,
			AmountCents:    order.AmountCents,
			Currency:       order.Currency,
			CommissionRate: agent.CommissionRate,
			CompletedAt:    now,
		}
		if err := s.settler.SettleOrder(ctx, tx, event); err != nil {
			return err
		}

		completed, err = s.loadOrder(ctx, repo, order.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithOrderID(ctx, completed.ID.String())

	// The invoice charge goes to the gateway only after the completion has
	// committed. A gateway outage leaves the payment pending; the reconcile
	// loop retries the raise, never the completion.
	if _, err := s.settler.RaiseOrderInvoice(ctx, completed.ID); err != nil {
		s.logg.Error(ctx, "raise invoice intent", err)
	}

	s.logg.Info(ctx, "order completed, settlement raised")
	return completed, nil
}

func (s *service) Cancel(ctx context.Context, actor authz.Actor, orderID uuid.UUID, input CancelOrderInput) (*models.Order, error) {
	// The reason is validated before any read or write so a bad request can
	// never half-cancel an order.
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cancellation reason is required")
	}

	var canceled *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		order, err := s.loadOrder(ctx, repo, orderID)
		if err != nil {
			return err
		}
		if err := authz.CanPerform(actor, authz.ActionCancelOrder, order); err != nil {
			return err
		}

		if order.Status == enums.OrderStatusCanceled {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order is already canceled")
		}
		if !CanCancel(order.Status) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "completed orders cannot be canceled")
		}

		canceledBy := cancelActorFor(actor)
		ok, err := repo.Transition(ctx, order.ID, order.Status, enums.OrderStatusCanceled, map[string]any{
			"cancellation_reason": reason,
			"canceled_by":         canceledBy,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel order")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order status changed concurrently")
		}

		canceled, err = s.loadOrder(ctx, repo, order.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithOrderID(ctx, canceled.ID.String())
	s.logg.Info(ctx, fmt.Sprintf("order canceled by %s", *canceled.CanceledBy))
	return canceled, nil
}

func (s *service) Review(ctx context.Context, actor authz.Actor, orderID uuid.UUID, input ReviewInput) (*models.Review, error) {
	if input.Rating < 1 || input.Rating > 5 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "rating must be between 1 and 5")
	}

	order, err := s.loadOrder(ctx, s.repo, orderID)
	if err != nil {
		return nil, err
	}
	if err := authz.CanPerform(actor, authz.ActionReviewOrder, order); err != nil {
		return nil, err
	}
	if !order.Status.IsTerminalSuccess() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only completed orders can be reviewed")
	}

	review := &models.Review{
		OrderID:    order.ID,
		ReviewerID: actor.UserID,
		Rating:     input.Rating,
		Comment:    input.Comment,
	}
	if err := s.repo.CreateReview(ctx, review); err != nil {
		if db.IsUniqueViolation(err, "reviews") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "order already reviewed")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create review")
	}
	return review, nil
}

func (s *service) loadOrder(ctx context.Context, repo Repository, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := repo.Find(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func cancelActorFor(actor authz.Actor) enums.CancelActor {
	switch {
	case actor.System:
		return enums.CancelActorSystem
	case actor.Role == enums.MemberRoleAdmin:
		return enums.CancelActorAdmin
	case actor.Role == enums.MemberRoleAgent:
		return enums.CancelActorAgent
	default:
		return enums.CancelActorCustomer
	}
}
