package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fleetlyhq/fleetly-backend/pkg/db/models"
	"github.com/fleetlyhq/fleetly-backend/pkg/enums"
	"github.com/fleetlyhq/fleetly-backend/pkg/pagination"
)

// Repository defines persistence operations for the order lifecycle tables.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) (*models.Order, error)
	Find(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	// Transition applies a compare-and-swap status move. It reports false
	// without error when the row no longer carries the expected status.
	Transition(ctx context.Context, orderID uuid.UUID, from, to enums.OrderStatus, updates map[string]any) (bool, error)
	ListByCustomer(ctx context.Context, customerID uuid.UUID, params pagination.Params, filters OrderFilters) ([]models.Order, error)
	ListByAgent(ctx context.Context, agentID uuid.UUID, params pagination.Params, filters OrderFilters) ([]models.Order, error)
	ListOpen(ctx context.Context, params pagination.Params, filters OrderFilters) ([]models.Order, error)
	FindAgent(ctx context.Context, agentID uuid.UUID) (*models.Agent, error)
	CreateReview(ctx context.Context, review *models.Review) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an order repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) (*models.Order, error) {
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		return nil, err
	}
	return order, nil
}

func (r *repository) Find(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Preload("Review").
		First(&order, "id = ?", orderID).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) Transition(ctx context.Context, orderID uuid.UUID, from, to enums.OrderStatus, updates map[string]any) (bool, error) {
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

func (r *repository) ListByCustomer(ctx context.Context, customerID uuid.UUID, params pagination.Params, filters OrderFilters) ([]models.Order, error) {
	query := r.listQuery(ctx, params, filters).Where("customer_id = ?", customerID)
	var rows []models.Order
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListByAgent(ctx context.Context, agentID uuid.UUID, params pagination.Params, filters OrderFilters) ([]models.Order, error) {
	query := r.listQuery(ctx, params, filters).Where("agent_id = ?", agentID)
	var rows []models.Order
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListOpen(ctx context.Context, params pagination.Params, filters OrderFilters) ([]models.Order, error) {
	query := r.listQuery(ctx, params, filters).
		Where("status = ? AND agent_id IS NULL", enums.OrderStatusPending)
	var rows []models.Order
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) FindAgent(ctx context.Context, agentID uuid.UUID) (*models.Agent, error) {
	var agent models.Agent
	if err := r.db.WithContext(ctx).First(&agent, "id = ?", agentID).Error; err != nil {
		return nil, err
	}
	return &agent, nil
}

func (r *repository) CreateReview(ctx context.Context, review *models.Review) error {
	return r.db.WithContext(ctx).Create(review).Error
}

// listQuery applies the shared ordering, buffer limit, cursor, and filters.
// The caller is responsible for validating the cursor before reaching here.
func (r *repository) listQuery(ctx context.Context, params pagination.Params, filters OrderFilters) *gorm.DB {
	query := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Order("created_at DESC, id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit))

	if cursor, err := pagination.ParseCursor(params.Cursor); err == nil && cursor != nil {
		query = query.Where(
			"(created_at < ?) OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}

	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	if filters.Kind != nil {
		query = query.Where("kind = ?", *filters.Kind)
	}
	return query
}
