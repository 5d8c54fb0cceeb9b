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
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/cardinalhq/orgcore/internal/structval"
)

// LocalBackend is an in-process TTL cache. Suitable for single-instance
// deployments; multi-instance deployments use the redis backend so peers
// share computed merges.
type LocalBackend struct {
	cache *ttlcache.Cache[string, structval.Value]
}

var _ Backend = (*LocalBackend)(nil)

func NewLocalBackend(ttl time.Duration) *LocalBackend {
	b := &LocalBackend{
		cache: ttlcache.New(
			ttlcache.WithTTL[string, structval.Value](ttl),
		),
	}
	go b.cache.Start()
	return b
}

func (b *LocalBackend) Get(_ context.Context, key string) (structval.Value, bool) {
	item := b.cache.Get(key)
	if item == nil {
		return structval.Value{}, false
	}
	return item.Value(), true
}

func (b *LocalBackend) Set(_ context.Context, key string, value structval.Value) {
	b.cache.Set(key, value, ttlcache.DefaultTTL)
}

func (b *LocalBackend) Stop() {
	b.cache.Stop()
}
