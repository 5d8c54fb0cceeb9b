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
	"hash/fnv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cardinalhq/orgcore/internal/structval"
)

const getNodeConfigSQL = `
SELECT org_id, node_id, overrides, version, updated_at, updated_by
FROM node_configs
WHERE org_id = $1 AND node_id = $2`

func (q *Queries) GetNodeConfig(ctx context.Context, orgID, nodeID uuid.UUID) (NodeConfig, error) {
	var cfg NodeConfig
	var overrides []byte
	err := q.db.QueryRow(ctx, getNodeConfigSQL, orgID, nodeID).Scan(
		&cfg.OrgID, &cfg.NodeID, &overrides, &cfg.Version, &cfg.UpdatedAt, &cfg.UpdatedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return NodeConfig{}, fmt.Errorf("node config %s/%s: %w", orgID, nodeID, ErrNotFound)
	}
	if err != nil {
		return NodeConfig{}, err
	}
	cfg.Overrides, err = structval.FromJSON(overrides)
	if err != nil {
		return NodeConfig{}, fmt.Errorf("stored overrides for %s/%s are not valid JSON: %w", orgID, nodeID, err)
	}
	return cfg, nil
}

type UpsertNodeConfigParams struct {
	OrgID     uuid.UUID
	NodeID    uuid.UUID
	Overrides structval.Value
	UpdatedBy string
}

const upsertNodeConfigSQL = `
INSERT INTO node_configs (org_id, node_id, overrides, version, updated_at, updated_by)
VALUES ($1, $2, $3, 1, now(), $4)
ON CONFLICT (org_id, node_id) DO UPDATE
SET overrides = EXCLUDED.overrides,
    version = node_configs.version + 1,
    updated_at = now(),
    updated_by = EXCLUDED.updated_by
RETURNING version, updated_at`

const insertNodeConfigHistorySQL = `
INSERT INTO node_config_history (org_id, node_id, version, overrides, updated_at, updated_by)
VALUES ($1, $2, $3, $4, $5, $6)`

// UpsertNodeConfig writes a node's raw overrides, increments the version,
// and appends the version-history row. Every successful call is a new
// version even when the payload is byte-identical.
func (q *Queries) UpsertNodeConfig(ctx context.Context, params UpsertNodeConfigParams) (NodeConfig, error) {
	overrides, err := params.Overrides.MarshalJSON()
	if err != nil {
		return NodeConfig{}, fmt.Errorf("failed to serialize overrides: %w", err)
	}

	cfg := NodeConfig{
		OrgID:     params.OrgID,
		NodeID:    params.NodeID,
		Overrides: params.Overrides,
		UpdatedBy: params.UpdatedBy,
	}
	err = q.db.QueryRow(ctx, upsertNodeConfigSQL,
		params.OrgID, params.NodeID, overrides, params.UpdatedBy).
		Scan(&cfg.Version, &cfg.UpdatedAt)
	if err != nil {
		return NodeConfig{}, err
	}

	_, err = q.db.Exec(ctx, insertNodeConfigHistorySQL,
		params.OrgID, params.NodeID, cfg.Version, overrides, cfg.UpdatedAt, params.UpdatedBy)
	if err != nil {
		return NodeConfig{}, fmt.Errorf("failed to write config history: %w", err)
	}
	return cfg, nil
}

// LineageOverrides returns the root-first override layers for a node,
// skipping ancestors that have never been configured. Run inside a
// transaction for snapshot consistency.
func (q *Queries) LineageOverrides(ctx context.Context, orgID, nodeID uuid.UUID) ([]OrgNode, []structval.Value, error) {
	lineage, err := q.GetLineage(ctx, orgID, nodeID)
	if err != nil {
		return nil, nil, err
	}

	layers := make([]structval.Value, 0, len(lineage))
	for _, node := range lineage {
		cfg, err := q.GetNodeConfig(ctx, orgID, node.NodeID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		layers = append(layers, cfg.Overrides)
	}
	return lineage, layers, nil
}

// SnapshotLineageOverrides is LineageOverrides inside a snapshot-isolated
// read-only transaction: the whole multi-row ancestor read observes one
// consistent datastore state.
func (store *Store) SnapshotLineageOverrides(ctx context.Context, orgID, nodeID uuid.UUID) ([]OrgNode, []structval.Value, error) {
	var (
		lineage []OrgNode
		layers  []structval.Value
	)
	err := store.readTx(ctx, func(s *Store) error {
		var err error
		lineage, layers, err = s.Queries.LineageOverrides(ctx, orgID, nodeID)
		return err
	})
	return lineage, layers, err
}

// nodeLockKey derives the advisory lock key serializing writers to one node.
func nodeLockKey(orgID, nodeID uuid.UUID) int64 {
	h := fnv.New64a()
	_, _ = h.Write(orgID[:])
	_, _ = h.Write(nodeID[:])
	return int64(h.Sum64())
}

// TryNodeWriteLock attempts the transaction-scoped advisory lock for a
// node. It does not block; the caller maps a false return to a retryable
// conflict. The lock releases automatically at transaction end.
func (q *Queries) TryNodeWriteLock(ctx context.Context, orgID, nodeID uuid.UUID) (bool, error) {
	var acquired bool
	err := q.db.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock($1)`, nodeLockKey(orgID, nodeID)).Scan(&acquired)
	if err != nil {
		return false, fmt.Errorf("failed to acquire node write lock: %w", err)
	}
	return acquired, nil
}
