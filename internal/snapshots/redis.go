package snapshots

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"lunchbox-backend/internal/components/assert"
	"lunchbox-backend/internal/components/telemetry"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "lunchbox:snapshot:"

// ConnectRedis parses a redis:// url and pings the server once.
func ConnectRedis(ctx context.Context, connectionUrl string) (*redis.Client, error) {
	opts, err := redis.ParseURL(connectionUrl)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client := redis.NewClient(opts)
	err = client.Ping(ctx).Err()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("redis is not ready: %w", err)
	}
	return client, nil
}

// RedisRepository stores every snapshot under `lunchbox:snapshot:<user>`.
type RedisRepository struct {
	db            redis.UniversalClient
	scanBatchSize int64
	tel           telemetry.API
}

func NewRedisRepository(db redis.UniversalClient, tel telemetry.API) RedisRepository {
	assert.NotNil(db)
	assert.NotNil(tel)

	return RedisRepository{
		db:            db,
		scanBatchSize: 500,
		tel:           telemetry.NewScopedAPI("snapshots", tel),
	}
}

func (r RedisRepository) Load(ctx context.Context, userId string) ([]byte, error) {
	data, err := r.db.Get(ctx, redisKeyPrefix+userId).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		r.tel.ReportBroken(report_redis_query, err, "GET", userId)
		return nil, err
	}
	return data, nil
}

func (r RedisRepository) Save(ctx context.Context, userId string, data []byte) error {
	err := r.db.Set(ctx, redisKeyPrefix+userId, data, 0).Err()
	if err != nil {
		r.tel.ReportBroken(report_redis_query, err, "SET", userId)
		return err
	}
	return nil
}

func (r RedisRepository) Delete(ctx context.Context, userId string) error {
	err := r.db.Del(ctx, redisKeyPrefix+userId).Err()
	if err != nil {
		r.tel.ReportBroken(report_redis_query, err, "DEL", userId)
		return err
	}
	return nil
}

// List uses SCAN so a large keyspace doesn't block the server.
func (r RedisRepository) List(ctx context.Context) ([]string, error) {
	var users []string
	var cursor uint64
	for {
		keys, next, err := r.db.Scan(ctx, cursor, redisKeyPrefix+"*", r.scanBatchSize).Result()
		if err != nil {
			r.tel.ReportBroken(report_redis_query, err, "SCAN")
			return nil, err
		}
		for _, key := range keys {
			users = append(users, strings.TrimPrefix(key, redisKeyPrefix))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return users, nil
}
