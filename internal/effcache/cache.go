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

// Package effcache caches computed effective configurations keyed by
// (org, node, epoch). The epoch bump on every org write makes stale keys
// unreachable; the TTL is a secondary expiry bound within an unchanged
// epoch. Losing the cache entirely never changes observable behavior,
// only latency.
package effcache

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/orgcore/internal/structval"
)

var (
	cacheHits   metric.Int64Counter
	cacheMisses metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/orgcore/internal/effcache")

	var err error

	cacheHits, err = meter.Int64Counter(
		"orgcore.effcache.hits",
		metric.WithDescription("Number of effective-config cache hits"),
	)
	if err != nil {
		log.Fatalf("failed to create effcache.hits counter: %v", err)
	}

	cacheMisses, err = meter.Int64Counter(
		"orgcore.effcache.misses",
		metric.WithDescription("Number of effective-config cache misses"),
	)
	if err != nil {
		log.Fatalf("failed to create effcache.misses counter: %v", err)
	}
}

// Backend stores computed values under epoch-scoped keys. Implementations
// must treat every failure as a miss; the cache tier is never allowed to
// surface errors to readers.
type Backend interface {
	Get(ctx context.Context, key string) (structval.Value, bool)
	Set(ctx context.Context, key string, value structval.Value)
	Stop()
}

// EpochSource reads the current org epoch from the authoritative store.
type EpochSource interface {
	GetOrgEpoch(ctx context.Context, orgID uuid.UUID) (int64, error)
}

// ComputeFunc computes an effective configuration directly from the
// authoritative store.
type ComputeFunc func(ctx context.Context, orgID, nodeID uuid.UUID) (structval.Value, error)

// Cache fronts effective-config computation with an epoch-scoped backend.
type Cache struct {
	backend Backend
	epochs  EpochSource
	compute ComputeFunc
}

func New(backend Backend, epochs EpochSource, compute ComputeFunc) *Cache {
	return &Cache{
		backend: backend,
		epochs:  epochs,
		compute: compute,
	}
}

// GetEffective returns the effective configuration for a node, cached
// under the org's current epoch. Backend failures degrade silently to
// direct computation.
func (c *Cache) GetEffective(ctx context.Context, orgID, nodeID uuid.UUID) (structval.Value, error) {
	epoch, err := c.epochs.GetOrgEpoch(ctx, orgID)
	if err != nil {
		return structval.Value{}, fmt.Errorf("failed to read org epoch: %w", err)
	}

	key := cacheKey(orgID, nodeID, epoch)
	if value, ok := c.backend.Get(ctx, key); ok {
		cacheHits.Add(ctx, 1)
		return value, nil
	}
	cacheMisses.Add(ctx, 1)

	value, err := c.compute(ctx, orgID, nodeID)
	if err != nil {
		return structval.Value{}, err
	}
	c.backend.Set(ctx, key, value)
	return value, nil
}

// Stop releases backend resources.
func (c *Cache) Stop() {
	c.backend.Stop()
}

func cacheKey(orgID, nodeID uuid.UUID, epoch int64) string {
	return fmt.Sprintf("%s:%s:%d", orgID, nodeID, epoch)
}
