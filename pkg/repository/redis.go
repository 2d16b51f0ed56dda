package repository

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/rulesmith/pkg/model"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "rulesmith:"

// Redis keeps the snapshot under key rulesmith:<slot>
type Redis struct {
	rdb *redis.Client
	key string
}

var _ Slot = (*Redis)(nil)

// NewRedis connects to addr and verifies the connection
func NewRedis(ctx context.Context, addr, password string, db int, slot string) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, goerr.Wrap(err, "failed to ping redis", goerr.V("addr", addr))
	}

	return &Redis{rdb: rdb, key: redisKeyPrefix + slot}, nil
}

func (x *Redis) Load(ctx context.Context) ([]model.PersistedEntry, error) {
	data, err := x.rdb.Get(ctx, x.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, goerr.Wrap(err, "failed to get history from redis", goerr.V("key", x.key))
	}
	return decode(data)
}

func (x *Redis) Save(ctx context.Context, entries []model.PersistedEntry) error {
	data, err := encode(entries)
	if err != nil {
		return err
	}
	if err := x.rdb.Set(ctx, x.key, data, 0).Err(); err != nil {
		return goerr.Wrap(err, "failed to set history to redis", goerr.V("key", x.key))
	}
	return nil
}

func (x *Redis) Close() error {
	return x.rdb.Close()
}
