package wallet

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
)

func setupWalletTestDB(t *testing.T) *gorm.DB {
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
	wallets := `
CREATE TABLE IF NOT EXISTS wallets (
  id TEXT PRIMARY KEY,
  agent_id TEXT NOT NULL UNIQUE,
  balance_cents INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`
	transactions := `
CREATE TABLE IF NOT EXISTS wallet_transactions (
  id TEXT PRIMARY KEY,
  wallet_id TEXT NOT NULL,
  type TEXT NOT NULL,
  amount_cents INTEGER NOT NULL,
  balance_after_cents INTEGER NOT NULL,
  reference TEXT NOT NULL,
  external_transfer_id TEXT,
  metadata TEXT,
  created_at DATETIME,
  CONSTRAINT idx_wallet_tx_reference UNIQUE (wallet_id, reference)
);`
	payments := `
CREATE TABLE IF NOT EXISTS payments (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  leg TEXT NOT NULL,
  agent_id TEXT,
  stripe_payment_intent_id TEXT UNIQUE,
  amount_cents INTEGER NOT NULL,
  commission_cents INTEGER NOT NULL DEFAULT 0,
  status TEXT NOT NULL DEFAULT 'pending',
  transfer_id TEXT,
  failure_reason TEXT,
  paid_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME,
  CONSTRAINT idx_payments_order_leg UNIQUE (order_id, leg)
);`
	require.NoError(t, conn.Exec(agents).Error)
	require.NoError(t, conn.Exec(wallets).Error)
	require.NoError(t, conn.Exec(transactions).Error)
	require.NoError(t, conn.Exec(payments).Error)
	return conn
}

func insertWalletAgent(t *testing.T, conn *gorm.DB) *models.Agent {
	t.Helper()

	payout := "acct_" + uuid.NewString()
	agent := &models.Agent{
		ID:              uuid.New(),
		UserID:          uuid.New(),
		FullName:        "Ledger Agent",
		PayoutAccountID: &payout,
		CommissionRate:  decimal.RequireFromString("0.1"),
		Active:          true,
	}
	require.NoError(t, conn.Create(agent).Error)
	return agent
}

func TestEnsureWalletIsIdempotent(t *testing.T) {
	conn := setupWalletTestDB(t)
	repo := NewRepository(conn)
	agent := insertWalletAgent(t, conn)
	ctx := context.Background()

	first, err := repo.EnsureWallet(ctx, agent.ID)
	require.NoError(t, err)
	second, err := repo.EnsureWallet(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, conn.Model(&models.Wallet{}).Where("agent_id = ?", agent.ID).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestCreateTransactionRejectsDuplicateReference(t *testing.T) {
	conn := setupWalletTestDB(t)
	repo := NewRepository(conn)
	agent := insertWalletAgent(t, conn)
	ctx := context.Background()

	wallet, err := repo.EnsureWallet(ctx, agent.ID)
	require.NoError(t, err)

	entry := &models.WalletTransaction{
		ID:                uuid.New(),
		WalletID:          wallet.ID,
		Type:              enums.WalletTransactionTypeCredit,
		AmountCents:       500,
		BalanceAfterCents: 500,
		Reference:         "pi_abc",
	}
	require.NoError(t, repo.CreateTransaction(ctx, entry))

	dup := &models.WalletTransaction{
		ID:                uuid.New(),
		WalletID:          wallet.ID,
		Type:              enums.WalletTransactionTypeCredit,
		AmountCents:       500,
		BalanceAfterCents: 1000,
		Reference:         "pi_abc",
	}
	err = repo.CreateTransaction(ctx, dup)
	require.Error(t, err)
	assert.True(t, db.IsUniqueViolation(err, "idx_wallet_tx_reference"))
}

func TestSameReferenceAllowedAcrossWallets(t *testing.T) {
	conn := setupWalletTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	walletA, err := repo.EnsureWallet(ctx, insertWalletAgent(t, conn).ID)
	require.NoError(t, err)
	walletB, err := repo.EnsureWallet(ctx, insertWalletAgent(t, conn).ID)
	require.NoError(t, err)

	for _, walletID := range []uuid.UUID{walletA.ID, walletB.ID} {
		require.NoError(t, repo.CreateTransaction(ctx, &models.WalletTransaction{
			ID:                uuid.New(),
			WalletID:          walletID,
			Type:              enums.WalletTransactionTypeCredit,
			AmountCents:       100,
			BalanceAfterCents: 100,
			Reference:         "shared_ref",
		}))
	}
}

func TestStampTransferIsIdempotent(t *testing.T) {
	conn := setupWalletTestDB(t)
	repo := NewRepository(conn)
	agent := insertWalletAgent(t, conn)
	ctx := context.Background()

	wallet, err := repo.EnsureWallet(ctx, agent.ID)
	require.NoError(t, err)
	require.NoError(t, repo.CreateTransaction(ctx, &models.WalletTransaction{
		ID:                uuid.New(),
		WalletID:          wallet.ID,
		Type:              enums.WalletTransactionTypeWithdrawal,
		AmountCents:       300,
		BalanceAfterCents: 0,
		Reference:         "wd_1",
	}))

	require.NoError(t, repo.StampTransfer(ctx, "wd_1", "tr_123"))
	require.NoError(t, repo.StampTransfer(ctx, "wd_1", "tr_123"))

	entry, err := repo.FindTransactionByReference(ctx, wallet.ID, "wd_1")
	require.NoError(t, err)
	require.NotNil(t, entry.ExternalTransferID)
	assert.Equal(t, "tr_123", *entry.ExternalTransferID)
}

func TestListUnstampedWithdrawalsSkipsStampedAndRecent(t *testing.T) {
	conn := setupWalletTestDB(t)
	repo := NewRepository(conn)
	agent := insertWalletAgent(t, conn)
	ctx := context.Background()

	wallet, err := repo.EnsureWallet(ctx, agent.ID)
	require.NoError(t, err)

	now := time.Now().UTC()
	transferID := "tr_done"
	entries := []*models.WalletTransaction{
		{ID: uuid.New(), WalletID: wallet.ID, Type: enums.WalletTransactionTypeWithdrawal, AmountCents: 200, Reference: "wd_stale", CreatedAt: now.Add(-time.Hour)},
		{ID: uuid.New(), WalletID: wallet.ID, Type: enums.WalletTransactionTypeWithdrawal, AmountCents: 300, Reference: "wd_stamped", ExternalTransferID: &transferID, CreatedAt: now.Add(-time.Hour)},
		{ID: uuid.New(), WalletID: wallet.ID, Type: enums.WalletTransactionTypeWithdrawal, AmountCents: 400, Reference: "wd_fresh", CreatedAt: now},
		{ID: uuid.New(), WalletID: wallet.ID, Type: enums.WalletTransactionTypeCredit, AmountCents: 500, Reference: "pi_credit", CreatedAt: now.Add(-time.Hour)},
	}
	for _, entry := range entries {
		require.NoError(t, repo.CreateTransaction(ctx, entry))
	}

	rows, err := repo.ListUnstampedWithdrawals(ctx, now.Add(-15*time.Minute))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "wd_stale", rows[0].Reference)
}

func TestListTransactionsOrdersNewestFirst(t *testing.T) {
	conn := setupWalletTestDB(t)
	repo := NewRepository(conn)
	agent := insertWalletAgent(t, conn)
	ctx := context.Background()

	wallet, err := repo.EnsureWallet(ctx, agent.ID)
	require.NoError(t, err)

	base := time.Now().UTC().Add(-time.Hour)
	refs := []string{"pi_1", "pi_2", "pi_3"}
	for i, ref := range refs {
		entry := &models.WalletTransaction{
			ID:                uuid.New(),
			WalletID:          wallet.ID,
			Type:              enums.WalletTransactionTypeCredit,
			AmountCents:       100,
			BalanceAfterCents: int64(100 * (i + 1)),
			Reference:         ref,
			CreatedAt:         base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, repo.CreateTransaction(ctx, entry))
	}

	rows, err := repo.ListTransactions(ctx, wallet.ID, 10, nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "pi_3", rows[0].Reference)
	assert.Equal(t, "pi_1", rows[2].Reference)

	// Cursor excludes everything at or after the pivot.
	rows, err = repo.ListTransactions(ctx, wallet.ID, 10, &rows[1].CreatedAt, &rows[1].ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "pi_1", rows[0].Reference)
}

func TestPendingInvoiceNetSumsOnlyPending(t *testing.T) {
	conn := setupWalletTestDB(t)
	repo := NewRepository(conn)
	agent := insertWalletAgent(t, conn)
	ctx := context.Background()

	rows := []models.Payment{
		{ID: uuid.New(), OrderID: uuid.New(), Leg: enums.PaymentLegInvoice, AgentID: &agent.ID, AmountCents: 1000, CommissionCents: 100, Status: enums.PaymentStatusPending},
		{ID: uuid.New(), OrderID: uuid.New(), Leg: enums.PaymentLegInvoice, AgentID: &agent.ID, AmountCents: 500, CommissionCents: 50, Status: enums.PaymentStatusPending},
		{ID: uuid.New(), OrderID: uuid.New(), Leg: enums.PaymentLegInvoice, AgentID: &agent.ID, AmountCents: 700, CommissionCents: 70, Status: enums.PaymentStatusPaid},
		{ID: uuid.New(), OrderID: uuid.New(), Leg: enums.PaymentLegUpfront, AgentID: &agent.ID, AmountCents: 300, Status: enums.PaymentStatusPending},
	}
	for i := range rows {
		require.NoError(t, conn.Create(&rows[i]).Error)
	}

	total, err := repo.PendingInvoiceNet(ctx, agent.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1350, total)
}
