package app

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/pixtools/internal/adapter/blob/s3"
	"github.com/fairyhunter13/pixtools/internal/adapter/queue/rabbitmq"
)

// BuildReadinessChecks returns the dependency probes the health endpoints
// run. Each is cheap enough to call on every probe.
func BuildReadinessChecks(pool *pgxpool.Pool, rdb *redis.Client, broker *rabbitmq.Client, store *s3.Store) (dbCheck, redisCheck, brokerCheck, s3Check func(ctx context.Context) error) {
	dbCheck = func(ctx context.Context) error {
		if pool == nil {
			return errors.New("db pool not configured")
		}
		return pool.Ping(ctx)
	}
	redisCheck = func(ctx context.Context) error {
		if rdb == nil {
			return errors.New("redis not configured")
		}
		return rdb.Ping(ctx).Err()
	}
	brokerCheck = func(_ context.Context) error {
		if broker == nil || broker.IsClosed() {
			return errors.New("rabbitmq connection closed")
		}
		return nil
	}
	s3Check = func(ctx context.Context) error {
		if store == nil {
			return errors.New("object store not configured")
		}
		return store.Ping(ctx)
	}
	return dbCheck, redisCheck, brokerCheck, s3Check
}
