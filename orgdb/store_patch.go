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

package orgdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cardinalhq/orgcore/internal/structval"
)

const (
	nodeLockAttempts = 3
	nodeLockInterval = 100 * time.Millisecond
)

// ConfigPatchFunc computes a node's new raw overrides from its current
// ones. hasCurrent is false when the node has never been configured.
type ConfigPatchFunc func(current structval.Value, hasCurrent bool) (structval.Value, error)

// ConfigValidateFunc vets the tentative write before it commits. It
// receives the node's ancestor override layers (root-first, target
// excluded) read in the same transaction, plus the new overrides.
type ConfigValidateFunc func(ancestorLayers []structval.Value, newOverrides structval.Value) error

// AncestorLayersAndOwn returns the root-first override layers of a node's
// ancestors (the node itself excluded, unconfigured ancestors skipped) and
// the node's own config if it has one. Run inside a transaction for
// snapshot consistency.
func (q *Queries) AncestorLayersAndOwn(ctx context.Context, orgID, nodeID uuid.UUID) ([]structval.Value, NodeConfig, bool, error) {
	lineage, err := q.GetLineage(ctx, orgID, nodeID)
	if err != nil {
		return nil, NodeConfig{}, false, err
	}

	layers := make([]structval.Value, 0, len(lineage))
	for _, node := range lineage[:len(lineage)-1] {
		cfg, err := q.GetNodeConfig(ctx, orgID, node.NodeID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, NodeConfig{}, false, err
		}
		layers = append(layers, cfg.Overrides)
	}

	own, err := q.GetNodeConfig(ctx, orgID, nodeID)
	if errors.Is(err, ErrNotFound) {
		return layers, NodeConfig{}, false, nil
	}
	if err != nil {
		return nil, NodeConfig{}, false, err
	}
	return layers, own, true, nil
}

// SnapshotAncestorLayersAndOwn is AncestorLayersAndOwn inside a
// snapshot-isolated read-only transaction.
func (store *Store) SnapshotAncestorLayersAndOwn(ctx context.Context, orgID, nodeID uuid.UUID) ([]structval.Value, NodeConfig, bool, error) {
	var (
		layers []structval.Value
		own    NodeConfig
		hasOwn bool
	)
	err := store.readTx(ctx, func(s *Store) error {
		var err error
		layers, own, hasOwn, err = s.Queries.AncestorLayersAndOwn(ctx, orgID, nodeID)
		return err
	})
	return layers, own, hasOwn, err
}

// ApplyConfigPatch performs one atomic configuration write: acquire the
// node's advisory write lock, read the current state, compute the new
// overrides through patch, vet them through validate, upsert the config
// with its history row, bump the org epoch, and append the audit entry.
// Everything commits or nothing does.
//
// Lock acquisition is bounded: after nodeLockAttempts failed tries the
// whole call fails with ErrConcurrentModification and the caller retries
// with backoff.
func (store *Store) ApplyConfigPatch(ctx context.Context, orgID, nodeID uuid.UUID, actor, action string, patch ConfigPatchFunc, validate ConfigValidateFunc) (NodeConfig, int64, error) {
	var (
		cfg   NodeConfig
		epoch int64
	)
	err := store.execTx(ctx, func(s *Store) error {
		if err := s.Queries.awaitNodeWriteLock(ctx, orgID, nodeID); err != nil {
			return err
		}

		ancestorLayers, current, hasCurrent, err := s.Queries.AncestorLayersAndOwn(ctx, orgID, nodeID)
		if err != nil {
			return err
		}

		newOverrides, err := patch(current.Overrides, hasCurrent)
		if err != nil {
			return err
		}
		if err := validate(ancestorLayers, newOverrides); err != nil {
			return err
		}

		cfg, err = s.Queries.UpsertNodeConfig(ctx, UpsertNodeConfigParams{
			OrgID:     orgID,
			NodeID:    nodeID,
			Overrides: newOverrides,
			UpdatedBy: actor,
		})
		if err != nil {
			return err
		}

		epoch, err = s.Queries.BumpOrgEpoch(ctx, orgID)
		if err != nil {
			return err
		}

		before := structval.NewMap()
		if hasCurrent {
			before = current.Overrides
		}
		_, err = s.Queries.AppendAuditEntry(ctx, AppendAuditEntryParams{
			OrgID:  orgID,
			NodeID: nodeID,
			Actor:  actor,
			Action: action,
			Before: before,
			After:  newOverrides,
		})
		return err
	})
	if err != nil {
		return NodeConfig{}, 0, err
	}
	return cfg, epoch, nil
}

// awaitNodeWriteLock retries the non-blocking advisory lock a bounded
// number of times before giving up with ErrConcurrentModification.
func (q *Queries) awaitNodeWriteLock(ctx context.Context, orgID, nodeID uuid.UUID) error {
	for attempt := range nodeLockAttempts {
		acquired, err := q.TryNodeWriteLock(ctx, orgID, nodeID)
		if err != nil {
			return err
		}
		if acquired {
			return nil
		}
		if attempt == nodeLockAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(nodeLockInterval):
		}
	}
	return fmt.Errorf("node %s/%s: %w", orgID, nodeID, ErrConcurrentModification)
}
