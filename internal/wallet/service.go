package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/fleetlyhq/fleetly-backend/pkg/config"
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

// transferClient is the slice of the payment gateway withdrawals need.
type transferClient interface {
	CreateTransfer(ctx context.Context, params *stripe.TransferParams, idempotencyKey string) (*stripe.Transfer, error)
}

// CreditInput describes one inbound ledger entry.
type CreditInput struct {
	AgentID     uuid.UUID
	AmountCents int64
	// Reference is the idempotency key for the entry, typically the payment
	// intent id that earned the money.
	Reference string
	Metadata  json.RawMessage
}

// WithdrawInput describes an agent-initiated payout.
type WithdrawInput struct {
	AgentID     uuid.UUID
	AmountCents int64 `json:"amount_cents" validate:"required,gt=0"`
	Express     bool  `json:"express"`
}

// WithdrawResult reports the ledger entry and gateway transfer of a payout.
// TransferID is empty while the payout is still pending at the gateway; the
// reconcile loop completes it.
type WithdrawResult struct {
	Transaction     *models.WalletTransaction `json:"transaction"`
	TransferID      string                    `json:"transfer_id,omitempty"`
	DisbursedCents  int64                     `json:"disbursed_cents"`
	ExpressFeeCents int64                     `json:"express_fee_cents"`
}

// BalanceResult is the wallet read model.
type BalanceResult struct {
	BalanceCents        int64 `json:"balance_cents"`
	PendingBalanceCents int64 `json:"pending_balance_cents"`
}

// TransactionList is one page of ledger history, newest first.
type TransactionList struct {
	Transactions []models.WalletTransaction `json:"transactions"`
	NextCursor   string                     `json:"next_cursor,omitempty"`
}

// Service is the append-only wallet ledger.
type Service interface {
	Credit(ctx context.Context, input CreditInput) (*models.WalletTransaction, error)
	// CreditInTx is Credit running inside an externally owned transaction,
	// used by the payment orchestrator's webhook path.
	CreditInTx(ctx context.Context, tx *gorm.DB, input CreditInput) (*models.WalletTransaction, error)
	Withdraw(ctx context.Context, input WithdrawInput) (*WithdrawResult, error)
	Balance(ctx context.Context, agentID uuid.UUID) (*BalanceResult, error)
	Transactions(ctx context.Context, agentID uuid.UUID, params pagination.Params) (*TransactionList, error)
	StampTransfer(ctx context.Context, tx *gorm.DB, reference, transferID string) error
	// ReconcilePendingTransfers retries the gateway payout for withdrawal
	// rows whose transfer never landed.
	ReconcilePendingTransfers(ctx context.Context, pendingSince time.Duration) error
}

type service struct {
	repo      Repository
	tx        txRunner
	transfers transferClient
	cfg       config.WalletConfig
	logg      *logger.Logger
}

// ServiceParams collects the wallet service dependencies.
type ServiceParams struct {
	Repo              Repository
	TransactionRunner txRunner
	Transfers         transferClient
	Config            config.WalletConfig
	Logger            *logger.Logger
}

// NewService builds the wallet ledger service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("wallet repository required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Transfers == nil {
		return nil, fmt.Errorf("transfer client required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:      params.Repo,
		tx:        params.TransactionRunner,
		transfers: params.Transfers,
		cfg:       params.Config,
		logg:      params.Logger,
	}, nil
}

func (s *service) Credit(ctx context.Context, input CreditInput) (*models.WalletTransaction, error) {
	var entry *models.WalletTransaction
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var txErr error
		entry, txErr = s.CreditInTx(ctx, tx, input)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *service) CreditInTx(ctx context.Context, tx *gorm.DB, input CreditInput) (*models.WalletTransaction, error) {
	if input.AgentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "agent id required")
	}
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "credit amount must be positive")
	}
	if input.Reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "credit reference required")
	}

	repo := s.repo.WithTx(tx)

	wallet, err := repo.EnsureWallet(ctx, input.AgentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet")
	}
	wallet, err = repo.LockWallet(ctx, wallet.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock wallet")
	}

	if existing, err := repo.FindTransactionByReference(ctx, wallet.ID, input.Reference); err == nil {
		// Replayed delivery of the same settlement; the first write stands.
		return existing, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check reference")
	}

	newBalance := wallet.BalanceCents + input.AmountCents
	entry := &models.WalletTransaction{
		WalletID:          wallet.ID,
		Type:              enums.WalletTransactionTypeCredit,
		AmountCents:       input.AmountCents,
		BalanceAfterCents: newBalance,
		Reference:         input.Reference,
		Metadata:          input.Metadata,
	}
	if err := repo.CreateTransaction(ctx, entry); err != nil {
		if db.IsUniqueViolation(err, "idx_wallet_tx_reference") {
			return repo.FindTransactionByReference(ctx, wallet.ID, input.Reference)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append credit")
	}
	if err := repo.UpdateBalance(ctx, wallet.ID, newBalance); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update balance")
	}

	s.logg.Info(s.logg.WithAgentID(ctx, input.AgentID.String()),
		fmt.Sprintf("wallet credited %d cents (ref %s)", input.AmountCents, input.Reference))
	return entry, nil
}

func (s *service) Withdraw(ctx context.Context, input WithdrawInput) (*WithdrawResult, error) {
	if input.AgentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "agent id required")
	}
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "withdrawal amount must be positive")
	}
	if input.AmountCents < s.cfg.MinWithdrawCents {
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("withdrawal amount below minimum of %d cents", s.cfg.MinWithdrawCents))
	}
	if input.Express && input.AmountCents <= s.cfg.ExpressFeeCents {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount does not cover the express fee")
	}

	agent, err := s.repo.FindAgent(ctx, input.AgentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "agent not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load agent")
	}
	if agent.PayoutAccountID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "agent has no payout account")
	}

	disbursed := input.AmountCents
	var feeCents int64
	if input.Express {
		feeCents = s.cfg.ExpressFeeCents
		disbursed -= feeCents
	}

	reference := "wd_" + uuid.NewString()
	metadata, _ := json.Marshal(map[string]any{
		"express":           input.Express,
		"express_fee_cents": feeCents,
		"disbursed_cents":   disbursed,
	})

	var entry *models.WalletTransaction
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		wallet, err := repo.EnsureWallet(ctx, input.AgentID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet")
		}
		wallet, err = repo.LockWallet(ctx, wallet.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock wallet")
		}
		if wallet.BalanceCents < input.AmountCents {
			return pkgerrors.New(pkgerrors.CodeInsufficientFunds, "balance below requested amount")
		}

		newBalance := wallet.BalanceCents - input.AmountCents
		entry = &models.WalletTransaction{
			WalletID:          wallet.ID,
			Type:              enums.WalletTransactionTypeWithdrawal,
			AmountCents:       input.AmountCents,
			BalanceAfterCents: newBalance,
			Reference:         reference,
			Metadata:          metadata,
		}
		if err := repo.CreateTransaction(ctx, entry); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append withdrawal")
		}
		return repo.UpdateBalance(ctx, wallet.ID, newBalance)
	})
	if err != nil {
		return nil, err
	}

	// The transfer happens after the debit commits. The reference doubles
	// as the gateway idempotency key, so however many times the transfer
	// is attempted for this row the agent is paid once.
	transferred, err := s.transfers.CreateTransfer(ctx, transferParams(entry, *agent.PayoutAccountID, disbursed), reference)
	if err != nil {
		// The debit stands and the row keeps a NULL transfer id; the
		// payout reconciler retries it with the same reference. The
		// withdrawal itself succeeded, so the caller must not retry and
		// mint a second debit.
		s.logg.Error(ctx, "create payout transfer", err)
		return &WithdrawResult{
			Transaction:     entry,
			DisbursedCents:  disbursed,
			ExpressFeeCents: feeCents,
		}, nil
	}

	if err := s.repo.StampTransfer(ctx, reference, transferred.ID); err != nil {
		s.logg.Error(ctx, "stamp payout transfer", err)
	}
	entry.ExternalTransferID = &transferred.ID

	s.logg.Info(s.logg.WithAgentID(ctx, input.AgentID.String()),
		fmt.Sprintf("withdrawal of %d cents disbursed %d cents", input.AmountCents, disbursed))
	return &WithdrawResult{
		Transaction:     entry,
		TransferID:      transferred.ID,
		DisbursedCents:  disbursed,
		ExpressFeeCents: feeCents,
	}, nil
}

func transferParams(entry *models.WalletTransaction, payoutAccount string, disbursed int64) *stripe.TransferParams {
	return &stripe.TransferParams{
		Amount:      stripe.Int64(disbursed),
		Currency:    stripe.String(string(stripe.CurrencyUSD)),
		Destination: stripe.String(payoutAccount),
		Metadata: map[string]string{
			"wallet_transaction_id": entry.ID.String(),
			"reference":             entry.Reference,
		},
	}
}

// ReconcilePendingTransfers sweeps withdrawal rows older than pendingSince
// that have no gateway transfer and retries the payout with the stored
// reference. Rows that keep failing stay unstamped for the next sweep.
func (s *service) ReconcilePendingTransfers(ctx context.Context, pendingSince time.Duration) error {
	cutoff := time.Now().UTC().Add(-pendingSince)
	rows, err := s.repo.ListUnstampedWithdrawals(ctx, cutoff)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list unstamped withdrawals")
	}
	for i := range rows {
		entry := rows[i]
		if err := s.retryTransfer(ctx, &entry); err != nil {
			s.logg.Error(ctx, fmt.Sprintf("retry payout %s", entry.Reference), err)
		}
	}
	if len(rows) > 0 {
		s.logg.Info(ctx, fmt.Sprintf("payout reconcile visited %d withdrawals", len(rows)))
	}
	return nil
}

func (s *service) retryTransfer(ctx context.Context, entry *models.WalletTransaction) error {
	wallet, err := s.repo.FindWallet(ctx, entry.WalletID)
	if err != nil {
		return err
	}
	agent, err := s.repo.FindAgent(ctx, wallet.AgentID)
	if err != nil {
		return err
	}
	if agent.PayoutAccountID == nil {
		return fmt.Errorf("agent %s has no payout account", agent.ID)
	}

	disbursed := entry.AmountCents
	var meta struct {
		DisbursedCents int64 `json:"disbursed_cents"`
	}
	if len(entry.Metadata) > 0 && json.Unmarshal(entry.Metadata, &meta) == nil && meta.DisbursedCents > 0 {
		disbursed = meta.DisbursedCents
	}

	transferred, err := s.transfers.CreateTransfer(ctx, transferParams(entry, *agent.PayoutAccountID, disbursed), entry.Reference)
	if err != nil {
		return err
	}
	return s.repo.StampTransfer(ctx, entry.Reference, transferred.ID)
}

func (s *service) Balance(ctx context.Context, agentID uuid.UUID) (*BalanceResult, error) {
	if agentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "agent id required")
	}

	result := &BalanceResult{}
	wallet, err := s.repo.FindByAgent(ctx, agentID)
	if err == nil {
		result.BalanceCents = wallet.BalanceCents
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet")
	}

	pending, err := s.repo.PendingInvoiceNet(ctx, agentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum pending invoices")
	}
	result.PendingBalanceCents = pending
	return result, nil
}

func (s *service) Transactions(ctx context.Context, agentID uuid.UUID, params pagination.Params) (*TransactionList, error) {
	if agentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "agent id required")
	}

	limit := pagination.NormalizeLimit(params.Limit)
	var before *time.Time
	var beforeID *uuid.UUID
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid cursor")
		}
		before = &cursor.CreatedAt
		beforeID = &cursor.ID
	}

	wallet, err := s.repo.FindByAgent(ctx, agentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &TransactionList{Transactions: []models.WalletTransaction{}}, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet")
	}

	rows, err := s.repo.ListTransactions(ctx, wallet.ID, pagination.LimitWithBuffer(limit), before, beforeID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list transactions")
	}

	list := &TransactionList{Transactions: rows}
	if len(rows) > limit {
		list.Transactions = rows[:limit]
		last := rows[limit-1]
		list.NextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return list, nil
}

func (s *service) StampTransfer(ctx context.Context, tx *gorm.DB, reference, transferID string) error {
	if reference == "" || transferID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "reference and transfer id required")
	}
	if err := s.repo.WithTx(tx).StampTransfer(ctx, reference, transferID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "stamp transfer")
	}
	return nil
}

// Replay recomputes a balance from zero over a transaction slice, oldest
// first. Audit tooling compares the result against the stored balance.
func Replay(transactions []models.WalletTransaction) int64 {
	var balance int64
	for i := range transactions {
		balance += transactions[i].Type.Sign() * transactions[i].AmountCents
	}
	return balance
}
