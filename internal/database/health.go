package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Health reports the reachability of the backing stores.
type Health struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
}

// NewHealth creates a new Health.
func NewHealth(pool *pgxpool.Pool, rdb *redis.Client) *Health {
	return &Health{pool: pool, rdb: rdb}
}

// Check pings every store and returns the failures keyed by store name.
func (h *Health) Check(ctx context.Context) map[string]error {
	failures := make(map[string]error)
	if err := h.pool.Ping(ctx); err != nil {
		failures["postgres"] = err
	}
	if err := h.rdb.Ping(ctx).Err(); err != nil {
		failures["redis"] = err
	}
	return failures
}
