package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/fleetlyhq/fleetly-backend/pkg/db"
	"github.com/fleetlyhq/fleetly-backend/pkg/db/models"
	"github.com/fleetlyhq/fleetly-backend/pkg/enums"
	"github.com/fleetlyhq/fleetly-backend/pkg/pagination"
)

func setupOrdersTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	agents := `
CREATE TABLE IF NOT EXISTS agents (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL UNIQUE,
  full_name TEXT NOT NULL DEFAULT '',
  phone TEXT,
  stripe_customer_id TEXT,
  payout_account_id TEXT,
  commission_rate TEXT NOT NULL,
  active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`
	orders := `
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  kind TEXT NOT NULL,
  status TEXT NOT NULL,
  customer_id TEXT NOT NULL,
  agent_id TEXT,
  assigned_agent_id TEXT,
  payment_status TEXT NOT NULL DEFAULT 'not_paid',
  amount_cents INTEGER NOT NULL,
  currency TEXT NOT NULL DEFAULT 'usd',
  commission_rate TEXT,
  pickup_address TEXT NOT NULL,
  dropoff_address TEXT NOT NULL,
  cancellation_reason TEXT,
  canceled_by TEXT,
  accepted_at DATETIME,
  started_at DATETIME,
  completed_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	reviews := `
CREATE TABLE IF NOT EXISTS reviews (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL UNIQUE,
  reviewer_id TEXT NOT NULL,
  rating INTEGER NOT NULL,
  comment TEXT,
  created_at DATETIME
);`
	require.NoError(t, conn.Exec(agents).Error)
	require.NoError(t, conn.Exec(orders).Error)
	require.NoError(t, conn.Exec(reviews).Error)
	return conn
}

func insertAgent(t *testing.T, conn *gorm.DB) *models.Agent {
	t.Helper()

	agent := &models.Agent{
		ID:             uuid.New(),
		UserID:         uuid.New(),
		FullName:       "Test Agent",
		CommissionRate: decimal.RequireFromString("0.15"),
		Active:         true,
	}
	require.NoError(t, conn.Create(agent).Error)
	return agent
}

func insertOrder(t *testing.T, conn *gorm.DB, customerID uuid.UUID, status enums.OrderStatus, created time.Time) *models.Order {
	t.Helper()

	order := &models.Order{
		ID:             uuid.New(),
		Kind:           enums.OrderKindDelivery,
		Status:         status,
		CustomerID:     customerID,
		PaymentStatus:  enums.OrderPaymentStatusNotPaid,
		AmountCents:    4200,
		Currency:       "usd",
		PickupAddress:  "1 Origin Way",
		DropoffAddress: "2 Destination Rd",
		CreatedAt:      created,
		UpdatedAt:      created,
	}
	require.NoError(t, conn.Create(order).Error)
	return order
}

func TestRepositoryTransitionCAS(t *testing.T) {
	conn := setupOrdersTestDB(t)
	repo := NewRepository(conn)
	order := insertOrder(t, conn, uuid.New(), enums.OrderStatusPending, time.Now().UTC())
	agent := insertAgent(t, conn)

	ok, err := repo.Transition(context.Background(), order.ID, enums.OrderStatusPending, enums.OrderStatusAccepted, map[string]any{
		"agent_id":    agent.ID,
		"accepted_at": time.Now().UTC(),
	})
	require.NoError(t, err)
	require.True(t, ok)

	reloaded, err := repo.Find(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusAccepted, reloaded.Status)
	require.NotNil(t, reloaded.AgentID)
	assert.Equal(t, agent.ID, *reloaded.AgentID)
	assert.NotNil(t, reloaded.AcceptedAt)

	// The same CAS no longer matches; a second accept must lose.
	ok, err = repo.Transition(context.Background(), order.ID, enums.OrderStatusPending, enums.OrderStatusAccepted, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRepositoryTransitionMissingOrder(t *testing.T) {
	conn := setupOrdersTestDB(t)
	repo := NewRepository(conn)

	ok, err := repo.Transition(context.Background(), uuid.New(), enums.OrderStatusPending, enums.OrderStatusAccepted, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRepositoryListByCustomerPagination(t *testing.T) {
	conn := setupOrdersTestDB(t)
	repo := NewRepository(conn)
	customerID := uuid.New()

	now := time.Now().UTC()
	older := insertOrder(t, conn, customerID, enums.OrderStatusPending, now.Add(-time.Hour))
	newer := insertOrder(t, conn, customerID, enums.OrderStatusAccepted, now)
	insertOrder(t, conn, uuid.New(), enums.OrderStatusPending, now)

	rows, err := repo.ListByCustomer(context.Background(), customerID, pagination.Params{Limit: 1}, OrderFilters{})
	require.NoError(t, err)
	// Buffered limit returns one extra row to signal the next page.
	require.Len(t, rows, 2)
	assert.Equal(t, newer.ID, rows[0].ID)

	// Cursoring from the last returned row resumes at the buffered row; no
	// order falls into the gap between pages.
	cursor := pagination.EncodeCursor(pagination.Cursor{CreatedAt: rows[0].CreatedAt, ID: rows[0].ID})
	second, err := repo.ListByCustomer(context.Background(), customerID, pagination.Params{Limit: 1, Cursor: cursor}, OrderFilters{})
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, older.ID, second[0].ID)

	last := pagination.EncodeCursor(pagination.Cursor{CreatedAt: second[0].CreatedAt, ID: second[0].ID})
	tail, err := repo.ListByCustomer(context.Background(), customerID, pagination.Params{Limit: 1, Cursor: last}, OrderFilters{})
	require.NoError(t, err)
	require.Len(t, tail, 0)
}

func TestRepositoryListFilters(t *testing.T) {
	conn := setupOrdersTestDB(t)
	repo := NewRepository(conn)
	customerID := uuid.New()

	now := time.Now().UTC()
	insertOrder(t, conn, customerID, enums.OrderStatusPending, now.Add(-time.Minute))
	accepted := insertOrder(t, conn, customerID, enums.OrderStatusAccepted, now)

	status := enums.OrderStatusAccepted
	rows, err := repo.ListByCustomer(context.Background(), customerID, pagination.Params{Limit: 10}, OrderFilters{Status: &status})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, accepted.ID, rows[0].ID)
}

func TestRepositoryListOpen(t *testing.T) {
	conn := setupOrdersTestDB(t)
	repo := NewRepository(conn)
	agent := insertAgent(t, conn)

	now := time.Now().UTC()
	open := insertOrder(t, conn, uuid.New(), enums.OrderStatusPending, now)
	claimed := insertOrder(t, conn, uuid.New(), enums.OrderStatusPending, now)
	require.NoError(t, conn.Model(&models.Order{}).Where("id = ?", claimed.ID).Update("agent_id", agent.ID).Error)

	rows, err := repo.ListOpen(context.Background(), pagination.Params{Limit: 10}, OrderFilters{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, open.ID, rows[0].ID)
}

func TestRepositoryReviewUniquePerOrder(t *testing.T) {
	conn := setupOrdersTestDB(t)
	repo := NewRepository(conn)
	order := insertOrder(t, conn, uuid.New(), enums.OrderStatusCompleted, time.Now().UTC())

	first := &models.Review{ID: uuid.New(), OrderID: order.ID, ReviewerID: order.CustomerID, Rating: 5}
	require.NoError(t, repo.CreateReview(context.Background(), first))

	dup := &models.Review{ID: uuid.New(), OrderID: order.ID, ReviewerID: order.CustomerID, Rating: 2}
	err := repo.CreateReview(context.Background(), dup)
	require.Error(t, err)
	assert.True(t, db.IsUniqueViolation(err, "reviews"))
}
