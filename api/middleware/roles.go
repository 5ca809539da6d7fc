package middleware

import (
	"net/http"

	"github.com/fleetlyhq/fleetly-backend/api/responses"
	"github.com/fleetlyhq/fleetly-backend/pkg/enums"
	pkgerrors "github.com/fleetlyhq/fleetly-backend/pkg/errors"
	"github.com/fleetlyhq/fleetly-backend/pkg/logger"
)

// RequireRole rejects requests whose actor does not carry one of the given
// roles.
func RequireRole(logg *logger.Logger, roles ...enums.MemberRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			current := enums.MemberRole(RoleFromContext(r.Context()))
			for _, role := range roles {
				if current == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "role required"))
		})
	}
}

// RequireAgent additionally demands a bound agent profile; agent-only routes
// such as withdrawals need the id, not just the role.
func RequireAgent(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if RoleFromContext(r.Context()) != string(enums.MemberRoleAgent) || AgentIDFromContext(r.Context()) == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "agent profile required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
