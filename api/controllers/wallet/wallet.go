package wallet

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/fleetlyhq/fleetly-backend/api/middleware"
	"github.com/fleetlyhq/fleetly-backend/api/responses"
	"github.com/fleetlyhq/fleetly-backend/api/validators"
	internalwallet "github.com/fleetlyhq/fleetly-backend/internal/wallet"
	pkgerrors "github.com/fleetlyhq/fleetly-backend/pkg/errors"
	"github.com/fleetlyhq/fleetly-backend/pkg/logger"
)

type withdrawRequest struct {
	AmountCents int64 `json:"amount_cents" validate:"required,gt=0"`
	Express     bool  `json:"express"`
}

// Withdraw moves earned balance to the agent's payout account.
func Withdraw(svc internalwallet.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wallet service unavailable"))
			return
		}

		agentID, err := parseAgentID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload withdrawRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Withdraw(r.Context(), internalwallet.WithdrawInput{
			AgentID:     agentID,
			AmountCents: payload.AmountCents,
			Express:     payload.Express,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// Balance returns the settled and pending balance for the calling agent.
func Balance(svc internalwallet.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wallet service unavailable"))
			return
		}

		agentID, err := parseAgentID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		balance, err := svc.Balance(r.Context(), agentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, balance)
	}
}

// Transactions returns the ledger history page for the calling agent.
func Transactions(svc internalwallet.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wallet service unavailable"))
			return
		}

		agentID, err := parseAgentID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.Transactions(r.Context(), agentID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

func parseAgentID(r *http.Request) (uuid.UUID, error) {
	raw := middleware.AgentIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeForbidden, "agent context required")
	}
	agentID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid agent id")
	}
	return agentID, nil
}
