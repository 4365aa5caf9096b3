/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package statestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisOptions tunes the Redis connection pool.
type RedisOptions struct {
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisStore implements Store on a Redis server. Take uses GETDEL, which
// needs Redis 6.2 or later; older servers get a MULTI/EXEC fallback.
type RedisStore struct {
	client *redis.Client
	log    *zap.SugaredLogger
	// set once the server has rejected GETDEL as an unknown command
	noGetDel atomic.Bool
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore parses a redis:// or rediss:// URL and opens a pooled client.
// No connection is made until the first command; call Ping to verify.
func NewRedisStore(url string, opts RedisOptions, log *zap.SugaredLogger) (*RedisStore, error) {
	parsed, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if opts.PoolSize > 0 {
		parsed.PoolSize = opts.PoolSize
	}
	if opts.DialTimeout > 0 {
		parsed.DialTimeout = opts.DialTimeout
	}
	if opts.ReadTimeout > 0 {
		parsed.ReadTimeout = opts.ReadTimeout
	}
	if opts.WriteTimeout > 0 {
		parsed.WriteTimeout = opts.WriteTimeout
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	log.Debugw("Redis state store configured", "addr", parsed.Addr, "db", parsed.DB, "poolSize", parsed.PoolSize)
	return &RedisStore{client: redis.NewClient(parsed), log: log}, nil
}

func (r *RedisStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return &StorageError{Op: "put", Err: err}
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	return r.result("get", data, err)
}

// Take uses GETDEL so the read and the delete happen in one server-side step.
// Servers older than 6.2 run GET and DEL in one transaction instead.
func (r *RedisStore) Take(ctx context.Context, key string) ([]byte, error) {
	if r.noGetDel.Load() {
		return r.takeTx(ctx, key)
	}
	data, err := r.client.GetDel(ctx, key).Bytes()
	if isUnknownCommand(err) {
		r.noGetDel.Store(true)
		r.log.Warnw("Redis server does not support GETDEL, falling back to MULTI/EXEC", "error", err)
		return r.takeTx(ctx, key)
	}
	return r.result("take", data, err)
}

func (r *RedisStore) takeTx(ctx context.Context, key string) ([]byte, error) {
	var get *redis.StringCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.Get(ctx, key)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return r.result("take", nil, err)
	}
	data, err := get.Bytes()
	return r.result("take", data, err)
}

func isUnknownCommand(err error) bool {
	var rerr redis.Error
	return errors.As(err, &rerr) && strings.HasPrefix(rerr.Error(), "ERR unknown command")
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return &StorageError{Op: "delete", Err: err}
	}
	return nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return &StorageError{Op: "ping", Err: err}
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) result(op string, data []byte, err error) ([]byte, error) {
	switch {
	case errors.Is(err, redis.Nil):
		return nil, ErrNotFound
	case err != nil:
		return nil, &StorageError{Op: op, Err: err}
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}
