package paymentswebhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fleetlyhq/fleetly-backend/pkg/redis"
)

// EventGuard deduplicates webhook deliveries through a redis SETNX marker.
// The marker is removed when processing fails so the gateway's retry can run
// the handler again.
type EventGuard struct {
	store    redis.IdempotencyStore
	ttl      time.Duration
	provider string
}

// NewEventGuard builds a guard scoped to one webhook provider.
func NewEventGuard(store redis.IdempotencyStore, ttl time.Duration, provider string) (*EventGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if provider == "" {
		return nil, errors.New("provider is required")
	}
	return &EventGuard{store: store, ttl: ttl, provider: provider}, nil
}

// CheckAndMark claims the event id. It reports true when another delivery
// already claimed it.
func (g *EventGuard) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event id is required")
	}
	key := g.store.WebhookEventKey(g.provider, eventID)
	set, err := g.store.SetNX(ctx, key, "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set webhook event key: %w", err)
	}
	return !set, nil
}

// Delete releases the claim after a failed handler run.
func (g *EventGuard) Delete(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	return g.store.Del(ctx, g.store.WebhookEventKey(g.provider, eventID))
}
