package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fleetlyhq/fleetly-backend/pkg/db/models"
	"github.com/fleetlyhq/fleetly-backend/pkg/enums"
)

// Repository manages persistence for payment records and the order columns
// the orchestrator touches.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, payment *models.Payment) error
	FindByID(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error)
	FindByIntentID(ctx context.Context, intentID string) (*models.Payment, error)
	FindByOrderLeg(ctx context.Context, orderID uuid.UUID, leg enums.PaymentLeg) (*models.Payment, error)
	Update(ctx context.Context, paymentID uuid.UUID, updates map[string]any) error
	ListPendingBefore(ctx context.Context, cutoff time.Time) ([]models.Payment, error)
	FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindAgent(ctx context.Context, agentID uuid.UUID) (*models.Agent, error)
	UpdateOrderPaymentStatus(ctx context.Context, orderID uuid.UUID, status enums.OrderPaymentStatus) error
	// TransitionOrder applies the same compare-and-swap the order service
	// uses, so webhook-driven moves obey the lifecycle tables.
	TransitionOrder(ctx context.Context, orderID uuid.UUID, from, to enums.OrderStatus, updates map[string]any) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a payment repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) FindByID(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).First(&payment, "id = ?", paymentID).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindByIntentID(ctx context.Context, intentID string) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).First(&payment, "stripe_payment_intent_id = ?", intentID).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindByOrderLeg(ctx context.Context, orderID uuid.UUID, leg enums.PaymentLeg) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).First(&payment, "order_id = ? AND leg = ?", orderID, leg).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) Update(ctx context.Context, paymentID uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ?", paymentID).
		Updates(updates).Error
}

func (r *repository) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]models.Payment, error) {
	var rows []models.Payment
	if err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.PaymentStatusPending, cutoff).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).First(&order, "id = ?", orderID).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindAgent(ctx context.Context, agentID uuid.UUID) (*models.Agent, error) {
	var agent models.Agent
	if err := r.db.WithContext(ctx).First(&agent, "id = ?", agentID).Error; err != nil {
		return nil, err
	}
	return &agent, nil
}

func (r *repository) UpdateOrderPaymentStatus(ctx context.Context, orderID uuid.UUID, status enums.OrderPaymentStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Update("payment_status", status).Error
}

func (r *repository) TransitionOrder(ctx context.Context, orderID uuid.UUID, from, to enums.OrderStatus, updates map[string]any) (bool, error) {
	if updates == nil {
		updates = map[string]any{}
	}
	updates["status"] = to

	result := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", orderID, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
