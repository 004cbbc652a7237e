package operators

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/relayhq/intake-engine/pkg/logging"
)

// Presence tracks operator heartbeats in Redis. An operator whose heartbeat
// key expired is treated as offline by the matcher even when the database row
// still says online; the sweeper later reconciles the row.
type Presence struct {
	client *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

// NewPresence builds a Redis-backed presence tracker. A nil client disables
// presence checks (Alive always reports true).
func NewPresence(client *redis.Client, ttl time.Duration, logger *logging.Logger) *Presence {
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	return &Presence{client: client, ttl: ttl, logger: logger}
}

func presenceKey(id uuid.UUID) string {
	return "presence:op:" + id.String()
}

// Heartbeat refreshes the operator's liveness key.
func (p *Presence) Heartbeat(ctx context.Context, id uuid.UUID) error {
	if p == nil || p.client == nil {
		return nil
	}
	if err := p.client.Set(ctx, presenceKey(id), time.Now().UTC().Format(time.RFC3339), p.ttl).Err(); err != nil {
		return fmt.Errorf("operators: heartbeat failed: %w", err)
	}
	return nil
}

// Alive reports whether the operator's heartbeat is still fresh. Errors are
// logged and treated as alive so a Redis outage never blocks distribution.
func (p *Presence) Alive(ctx context.Context, id uuid.UUID) bool {
	if p == nil || p.client == nil {
		return true
	}
	n, err := p.client.Exists(ctx, presenceKey(id)).Result()
	if err != nil {
		p.logger.Warn("presence check failed, assuming alive", "operator_id", id, "error", err)
		return true
	}
	return n > 0
}

// Drop removes the heartbeat key, e.g. on explicit logout.
func (p *Presence) Drop(ctx context.Context, id uuid.UUID) error {
	if p == nil || p.client == nil {
		return nil
	}
	if err := p.client.Del(ctx, presenceKey(id)).Err(); err != nil {
		return fmt.Errorf("operators: drop presence failed: %w", err)
	}
	return nil
}
