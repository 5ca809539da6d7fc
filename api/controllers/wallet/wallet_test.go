package wallet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fleetlyhq/fleetly-backend/api/middleware"
	internalwallet "github.com/fleetlyhq/fleetly-backend/internal/wallet"
	"github.com/fleetlyhq/fleetly-backend/pkg/db/models"
	"github.com/fleetlyhq/fleetly-backend/pkg/pagination"
)

type stubControllerWalletService struct {
	withdraw     func(ctx context.Context, input internalwallet.WithdrawInput) (*internalwallet.WithdrawResult, error)
	balance      func(ctx context.Context, agentID uuid.UUID) (*internalwallet.BalanceResult, error)
	transactions func(ctx context.Context, agentID uuid.UUID, params pagination.Params) (*internalwallet.TransactionList, error)
}

func (s *stubControllerWalletService) Credit(ctx context.Context, input internalwallet.CreditInput) (*models.WalletTransaction, error) {
	return nil, nil
}

func (s *stubControllerWalletService) CreditInTx(ctx context.Context, tx *gorm.DB, input internalwallet.CreditInput) (*models.WalletTransaction, error) {
	return nil, nil
}

func (s *stubControllerWalletService) Withdraw(ctx context.Context, input internalwallet.WithdrawInput) (*internalwallet.WithdrawResult, error) {
	if s.withdraw != nil {
		return s.withdraw(ctx, input)
	}
	return &internalwallet.WithdrawResult{}, nil
}

func (s *stubControllerWalletService) Balance(ctx context.Context, agentID uuid.UUID) (*internalwallet.BalanceResult, error) {
	if s.balance != nil {
		return s.balance(ctx, agentID)
	}
	return &internalwallet.BalanceResult{}, nil
}

func (s *stubControllerWalletService) Transactions(ctx context.Context, agentID uuid.UUID, params pagination.Params) (*internalwallet.TransactionList, error) {
	if s.transactions != nil {
		return s.transactions(ctx, agentID, params)
	}
	return &internalwallet.TransactionList{}, nil
}

func (s *stubControllerWalletService) StampTransfer(ctx context.Context, tx *gorm.DB, reference, transferID string) error {
	return nil
}

func (s *stubControllerWalletService) ReconcilePendingTransfers(ctx context.Context, pendingSince time.Duration) error {
	return nil
}

func agentRequest(method, target string, body string, agentID uuid.UUID) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	ctx := middleware.WithUserID(req.Context(), uuid.NewString())
	ctx = middleware.WithAgentID(ctx, agentID.String())
	ctx = middleware.WithRole(ctx, "agent")
	return req.WithContext(ctx)
}

func TestWithdrawForwardsAgentAndAmount(t *testing.T) {
	agentID := uuid.New()
	var captured internalwallet.WithdrawInput
	svc := &stubControllerWalletService{
		withdraw: func(ctx context.Context, input internalwallet.WithdrawInput) (*internalwallet.WithdrawResult, error) {
			captured = input
			return &internalwallet.WithdrawResult{
				Transaction:    &models.WalletTransaction{ID: uuid.New()},
				TransferID:     "tr_123",
				DisbursedCents: input.AmountCents,
			}, nil
		},
	}

	req := agentRequest(http.MethodPost, "/api/v1/wallet/withdraw", `{"amount_cents":600,"express":true}`, agentID)
	rec := httptest.NewRecorder()
	Withdraw(svc, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d (%s)", rec.Code, rec.Body.String())
	}
	if captured.AgentID != agentID {
		t.Fatalf("agent id not forwarded")
	}
	if captured.AmountCents != 600 || !captured.Express {
		t.Fatalf("unexpected input %+v", captured)
	}
}

func TestWithdrawRequiresAgentContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/wallet/withdraw", strings.NewReader(`{"amount_cents":600}`))
	req = req.WithContext(middleware.WithUserID(req.Context(), uuid.NewString()))

	rec := httptest.NewRecorder()
	Withdraw(&stubControllerWalletService{}, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rec.Code)
	}
}

func TestWithdrawValidatesAmount(t *testing.T) {
	req := agentRequest(http.MethodPost, "/api/v1/wallet/withdraw", `{"amount_cents":0}`, uuid.New())
	rec := httptest.NewRecorder()
	Withdraw(&stubControllerWalletService{}, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestBalanceReturnsWalletReadModel(t *testing.T) {
	agentID := uuid.New()
	svc := &stubControllerWalletService{
		balance: func(ctx context.Context, gotID uuid.UUID) (*internalwallet.BalanceResult, error) {
			if gotID != agentID {
				t.Fatalf("unexpected agent id %s", gotID)
			}
			return &internalwallet.BalanceResult{BalanceCents: 1200, PendingBalanceCents: 300}, nil
		},
	}

	req := agentRequest(http.MethodGet, "/api/v1/wallet/balance", "", agentID)
	rec := httptest.NewRecorder()
	Balance(svc, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d (%s)", rec.Code, rec.Body.String())
	}

	var envelope struct {
		Data internalwallet.BalanceResult `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.BalanceCents != 1200 || envelope.Data.PendingBalanceCents != 300 {
		t.Fatalf("unexpected balance %+v", envelope.Data)
	}
}

func TestTransactionsForwardsPagination(t *testing.T) {
	agentID := uuid.New()
	svc := &stubControllerWalletService{
		transactions: func(ctx context.Context, gotID uuid.UUID, params pagination.Params) (*internalwallet.TransactionList, error) {
			if params.Limit != 5 {
				t.Fatalf("unexpected limit %d", params.Limit)
			}
			if params.Cursor != "abc" {
				t.Fatalf("unexpected cursor %q", params.Cursor)
			}
			return &internalwallet.TransactionList{NextCursor: "def"}, nil
		},
	}

	req := agentRequest(http.MethodGet, "/api/v1/wallet/transactions?limit=5&cursor=abc", "", agentID)
	rec := httptest.NewRecorder()
	Transactions(svc, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d (%s)", rec.Code, rec.Body.String())
	}
}
