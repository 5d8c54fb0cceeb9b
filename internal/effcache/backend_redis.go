// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package effcache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cardinalhq/orgcore/internal/structval"
)

const redisKeyPrefix = "orgcore:effconfig:"

// RedisBackend is the distributed cache tier. Every failure path is a
// cache miss with a warn log; an unreachable redis degrades reads to
// direct computation and is never surfaced to callers.
type RedisBackend struct {
	client *redis.Client
	ttl    time.Duration
}

var _ Backend = (*RedisBackend)(nil)

func NewRedisBackend(addr, password string, ttl time.Duration) *RedisBackend {
	return &RedisBackend{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		ttl: ttl,
	}
}

func (b *RedisBackend) Get(ctx context.Context, key string) (structval.Value, bool) {
	data, err := b.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("Effective-config cache read failed, computing directly",
				slog.String("key", key), slog.Any("error", err))
		}
		return structval.Value{}, false
	}

	value, err := structval.FromJSON(data)
	if err != nil {
		slog.Warn("Effective-config cache entry is corrupt, computing directly",
			slog.String("key", key), slog.Any("error", err))
		return structval.Value{}, false
	}
	return value, true
}

func (b *RedisBackend) Set(ctx context.Context, key string, value structval.Value) {
	data, err := value.MarshalJSON()
	if err != nil {
		slog.Warn("Failed to serialize effective config for caching", slog.Any("error", err))
		return
	}
	if err := b.client.Set(ctx, redisKeyPrefix+key, data, b.ttl).Err(); err != nil {
		slog.Warn("Effective-config cache write failed",
			slog.String("key", key), slog.Any("error", err))
	}
}

func (b *RedisBackend) Stop() {
	if err := b.client.Close(); err != nil {
		slog.Warn("Failed to close redis client", slog.Any("error", err))
	}
}
