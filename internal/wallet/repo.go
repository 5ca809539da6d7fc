package wallet

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fleetlyhq/fleetly-backend/pkg/db/models"
	"github.com/fleetlyhq/fleetly-backend/pkg/enums"
)

// Repository is the persistence surface for wallets and their append-only
// transaction log.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	// EnsureWallet returns the agent's wallet, creating an empty one on first
	// touch. Concurrent first touches collapse on the agent_id unique index.
	EnsureWallet(ctx context.Context, agentID uuid.UUID) (*models.Wallet, error)
	// LockWallet loads the wallet row under SELECT ... FOR UPDATE. Callers
	// must already be inside a transaction.
	LockWallet(ctx context.Context, walletID uuid.UUID) (*models.Wallet, error)
	FindWallet(ctx context.Context, walletID uuid.UUID) (*models.Wallet, error)
	FindByAgent(ctx context.Context, agentID uuid.UUID) (*models.Wallet, error)
	UpdateBalance(ctx context.Context, walletID uuid.UUID, balanceCents int64) error

	CreateTransaction(ctx context.Context, entry *models.WalletTransaction) error
	FindTransactionByReference(ctx context.Context, walletID uuid.UUID, reference string) (*models.WalletTransaction, error)
	StampTransfer(ctx context.Context, reference, transferID string) error
	ListTransactions(ctx context.Context, walletID uuid.UUID, limit int, before *time.Time, beforeID *uuid.UUID) ([]models.WalletTransaction, error)
	// ListUnstampedWithdrawals returns withdrawal rows whose gateway
	// transfer never landed, oldest first.
	ListUnstampedWithdrawals(ctx context.Context, before time.Time) ([]models.WalletTransaction, error)

	FindAgent(ctx context.Context, agentID uuid.UUID) (*models.Agent, error)
	// PendingInvoiceNet sums the net payout of pending invoice payments for
	// the agent, i.e. money earned but not yet landed in the wallet.
	PendingInvoiceNet(ctx context.Context, agentID uuid.UUID) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds the gorm-backed wallet repository.
func NewRepository(conn *gorm.DB) Repository {
	return &repository{db: conn}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) EnsureWallet(ctx context.Context, agentID uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	err := r.db.WithContext(ctx).Where("agent_id = ?", agentID).First(&wallet).Error
	if err == nil {
		return &wallet, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	wallet = models.Wallet{ID: uuid.New(), AgentID: agentID}
	createErr := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "agent_id"}}, DoNothing: true}).
		Create(&wallet).Error
	if createErr != nil {
		return nil, createErr
	}
	// Re-read in case the conflict clause swallowed a concurrent insert.
	if err := r.db.WithContext(ctx).Where("agent_id = ?", agentID).First(&wallet).Error; err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *repository) LockWallet(ctx context.Context, walletID uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", walletID).
		First(&wallet).Error
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *repository) FindWallet(ctx context.Context, walletID uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	err := r.db.WithContext(ctx).Where("id = ?", walletID).First(&wallet).Error
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *repository) FindByAgent(ctx context.Context, agentID uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	err := r.db.WithContext(ctx).Where("agent_id = ?", agentID).First(&wallet).Error
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *repository) UpdateBalance(ctx context.Context, walletID uuid.UUID, balanceCents int64) error {
	return r.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Where("id = ?", walletID).
		Update("balance_cents", balanceCents).Error
}

func (r *repository) CreateTransaction(ctx context.Context, entry *models.WalletTransaction) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) FindTransactionByReference(ctx context.Context, walletID uuid.UUID, reference string) (*models.WalletTransaction, error) {
	var entry models.WalletTransaction
	err := r.db.WithContext(ctx).
		Where("wallet_id = ? AND reference = ?", walletID, reference).
		First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repository) StampTransfer(ctx context.Context, reference, transferID string) error {
	return r.db.WithContext(ctx).
		Model(&models.WalletTransaction{}).
		Where("reference = ? AND (external_transfer_id IS NULL OR external_transfer_id = ?)", reference, transferID).
		Update("external_transfer_id", transferID).Error
}

func (r *repository) ListTransactions(ctx context.Context, walletID uuid.UUID, limit int, before *time.Time, beforeID *uuid.UUID) ([]models.WalletTransaction, error) {
	query := r.db.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit)
	if before != nil && beforeID != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", *before, *before, *beforeID)
	}

	var entries []models.WalletTransaction
	if err := query.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) ListUnstampedWithdrawals(ctx context.Context, before time.Time) ([]models.WalletTransaction, error) {
	var entries []models.WalletTransaction
	err := r.db.WithContext(ctx).
		Where("type = ? AND external_transfer_id IS NULL AND created_at < ?",
			enums.WalletTransactionTypeWithdrawal, before).
		Order("created_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) FindAgent(ctx context.Context, agentID uuid.UUID) (*models.Agent, error) {
	var agent models.Agent
	err := r.db.WithContext(ctx).Where("id = ?", agentID).First(&agent).Error
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

func (r *repository) PendingInvoiceNet(ctx context.Context, agentID uuid.UUID) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Select("COALESCE(SUM(amount_cents - commission_cents), 0)").
		Where("agent_id = ? AND leg = ? AND status = ?", agentID, enums.PaymentLegInvoice, enums.PaymentStatusPending).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}
