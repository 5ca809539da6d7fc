package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/fleetlyhq/fleetly-backend/internal/authz"
	"github.com/fleetlyhq/fleetly-backend/pkg/enums"
)

type contextKey string

const (
	ctxUserID  contextKey = "user_id"
	ctxAgentID contextKey = "agent_id"
	ctxRole    contextKey = "actor_role"
)

func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxUserID).(string); ok {
		return v
	}
	return ""
}

func AgentIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxAgentID).(string); ok {
		return v
	}
	return ""
}

func RoleFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRole).(string); ok {
		return v
	}
	return ""
}

// WithUserID injects the user identifier into the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxUserID, userID)
}

// WithAgentID injects the agent identifier into the context.
func WithAgentID(ctx context.Context, agentID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxAgentID, agentID)
}

// WithRole injects the actor role into the context.
func WithRole(ctx context.Context, role string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxRole, role)
}

// ActorFromContext rebuilds the authorization actor seeded by Auth.
func ActorFromContext(ctx context.Context) (authz.Actor, bool) {
	userID, err := uuid.Parse(UserIDFromContext(ctx))
	if err != nil {
		return authz.Actor{}, false
	}
	actor := authz.Actor{
		UserID: userID,
		Role:   enums.MemberRole(RoleFromContext(ctx)),
	}
	if raw := AgentIDFromContext(ctx); raw != "" {
		agentID, err := uuid.Parse(raw)
		if err != nil {
			return authz.Actor{}, false
		}
		actor.AgentID = &agentID
	}
	return actor, true
}
