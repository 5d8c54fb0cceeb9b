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

// Package configsvc composes the org tree, raw config store, merge
// engine, dependency validator, and effective-config cache into the
// configuration operations the API exposes.
package configsvc

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/cardinalhq/orgcore/internal/capability"
	"github.com/cardinalhq/orgcore/internal/confmerge"
	"github.com/cardinalhq/orgcore/internal/effcache"
	"github.com/cardinalhq/orgcore/internal/structval"
	"github.com/cardinalhq/orgcore/orgdb"
)

// ErrMalformedDelta is returned when a patch payload is not a JSON object.
var ErrMalformedDelta = errors.New("malformed delta: configuration overrides must be a JSON object")

// Store is the persistence surface the service needs. *orgdb.Store
// satisfies it.
type Store interface {
	GetOrgEpoch(ctx context.Context, orgID uuid.UUID) (int64, error)
	GetNodeConfig(ctx context.Context, orgID, nodeID uuid.UUID) (orgdb.NodeConfig, error)
	SnapshotLineageOverrides(ctx context.Context, orgID, nodeID uuid.UUID) ([]orgdb.OrgNode, []structval.Value, error)
	SnapshotAncestorLayersAndOwn(ctx context.Context, orgID, nodeID uuid.UUID) ([]structval.Value, orgdb.NodeConfig, bool, error)
	ApplyConfigPatch(ctx context.Context, orgID, nodeID uuid.UUID, actor, action string, patch orgdb.ConfigPatchFunc, validate orgdb.ConfigValidateFunc) (orgdb.NodeConfig, int64, error)
}

// Service implements the configuration operations.
type Service struct {
	store     Store
	validator *capability.Validator
	cache     *effcache.Cache
}

// New builds a Service. backend holds cached effective configs; pass
// effcache.NoopBackend{} to disable caching.
func New(store Store, validator *capability.Validator, backend effcache.Backend) *Service {
	s := &Service{
		store:     store,
		validator: validator,
	}
	s.cache = effcache.New(backend, store, s.computeEffective)
	return s
}

// Stop releases cache resources.
func (s *Service) Stop() {
	s.cache.Stop()
}

// computeEffective folds a node's lineage overrides root to leaf inside
// one snapshot read.
func (s *Service) computeEffective(ctx context.Context, orgID, nodeID uuid.UUID) (structval.Value, error) {
	_, layers, err := s.store.SnapshotLineageOverrides(ctx, orgID, nodeID)
	if err != nil {
		return structval.Value{}, err
	}
	return confmerge.Effective(layers), nil
}

// GetEffective returns a node's fully merged configuration, served from
// the epoch-scoped cache when possible.
func (s *Service) GetEffective(ctx context.Context, orgID, nodeID uuid.UUID) (structval.Value, error) {
	return s.cache.GetEffective(ctx, orgID, nodeID)
}

// GetRaw returns a node's own override deltas, never a merge. A node that
// exists but has never been configured yields an empty object at version 0.
func (s *Service) GetRaw(ctx context.Context, orgID, nodeID uuid.UUID) (orgdb.NodeConfig, error) {
	cfg, err := s.store.GetNodeConfig(ctx, orgID, nodeID)
	if errors.Is(err, orgdb.ErrNotFound) {
		// Distinguish "node missing" from "node unconfigured".
		if _, _, lineageErr := s.store.SnapshotLineageOverrides(ctx, orgID, nodeID); lineageErr != nil {
			return orgdb.NodeConfig{}, lineageErr
		}
		return orgdb.NodeConfig{OrgID: orgID, NodeID: nodeID, Overrides: structval.NewMap()}, nil
	}
	return cfg, err
}

// Patch merges delta into a node's raw overrides, validates the tentative
// effective configuration against the dependency graph, and commits the
// new version atomically with the epoch bump and audit entry. Every
// successful call produces a new version, even a no-op delta.
func (s *Service) Patch(ctx context.Context, orgID, nodeID uuid.UUID, delta structval.Value, actor string) (orgdb.NodeConfig, error) {
	if !delta.IsMap() {
		return orgdb.NodeConfig{}, ErrMalformedDelta
	}

	cfg, _, err := s.store.ApplyConfigPatch(ctx, orgID, nodeID, actor, "config.patch",
		func(current structval.Value, hasCurrent bool) (structval.Value, error) {
			if !hasCurrent {
				current = structval.NewMap()
			}
			return confmerge.Merge(current, delta), nil
		},
		func(ancestorLayers []structval.Value, newOverrides structval.Value) error {
			tentative := confmerge.Effective(append(ancestorLayers, newOverrides))
			return s.validator.CheckErr(tentative)
		})
	if err != nil {
		return orgdb.NodeConfig{}, err
	}
	return cfg, nil
}

// Validate is the dry-run form of Patch: it computes the same tentative
// effective configuration and returns every dependency violation, writing
// nothing. Calling it any number of times leaves all state unchanged.
func (s *Service) Validate(ctx context.Context, orgID, nodeID uuid.UUID, delta structval.Value) ([]capability.Violation, error) {
	if !delta.IsMap() {
		return nil, ErrMalformedDelta
	}

	ancestorLayers, own, hasOwn, err := s.store.SnapshotAncestorLayersAndOwn(ctx, orgID, nodeID)
	if err != nil {
		return nil, err
	}

	current := structval.NewMap()
	if hasOwn {
		current = own.Overrides
	}
	newOverrides := confmerge.Merge(current, delta)
	tentative := confmerge.Effective(append(ancestorLayers, newOverrides))
	return s.validator.Check(tentative), nil
}

// Lineage returns a node's ancestry root-first from one consistent
// snapshot.
func (s *Service) Lineage(ctx context.Context, orgID, nodeID uuid.UUID) ([]orgdb.OrgNode, error) {
	lineage, _, err := s.store.SnapshotLineageOverrides(ctx, orgID, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to read lineage: %w", err)
	}
	return lineage, nil
}
