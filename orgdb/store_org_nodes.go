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

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// maxLineageDepth bounds the parent walk. Real trees are a handful of
// levels deep; anything near this limit means corrupted parent links.
const maxLineageDepth = 64

type CreateOrgNodeParams struct {
	OrgID    uuid.UUID
	NodeID   uuid.UUID
	NodeType NodeType
	ParentID *uuid.UUID
	Name     string
}

const createOrgNodeSQL = `
INSERT INTO org_nodes (org_id, node_id, node_type, parent_id, name)
VALUES ($1, $2, $3, $4, $5)
RETURNING org_id, node_id, node_type, parent_id, name, created_at, deleted_at`

func (q *Queries) CreateOrgNode(ctx context.Context, params CreateOrgNodeParams) (OrgNode, error) {
	row := q.db.QueryRow(ctx, createOrgNodeSQL,
		params.OrgID, params.NodeID, string(params.NodeType), params.ParentID, params.Name)
	return scanOrgNode(row)
}

const getOrgNodeSQL = `
SELECT org_id, node_id, node_type, parent_id, name, created_at, deleted_at
FROM org_nodes
WHERE org_id = $1 AND node_id = $2`

func (q *Queries) GetOrgNode(ctx context.Context, orgID, nodeID uuid.UUID) (OrgNode, error) {
	row := q.db.QueryRow(ctx, getOrgNodeSQL, orgID, nodeID)
	node, err := scanOrgNode(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return OrgNode{}, fmt.Errorf("org node %s/%s: %w", orgID, nodeID, ErrNotFound)
	}
	return node, err
}

const listOrgNodesSQL = `
SELECT org_id, node_id, node_type, parent_id, name, created_at, deleted_at
FROM org_nodes
WHERE org_id = $1 AND deleted_at IS NULL
ORDER BY created_at, node_id`

func (q *Queries) ListOrgNodes(ctx context.Context, orgID uuid.UUID) ([]OrgNode, error) {
	rows, err := q.db.Query(ctx, listOrgNodesSQL, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []OrgNode
	for rows.Next() {
		node, err := scanOrgNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

const tombstoneOrgNodeSQL = `
UPDATE org_nodes SET deleted_at = now()
WHERE org_id = $1 AND node_id = $2 AND deleted_at IS NULL`

// TombstoneOrgNode deprovisions a node. Rows are never hard-deleted so the
// audit history keeps resolving.
func (q *Queries) TombstoneOrgNode(ctx context.Context, orgID, nodeID uuid.UUID) error {
	tag, err := q.db.Exec(ctx, tombstoneOrgNodeSQL, orgID, nodeID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("org node %s/%s: %w", orgID, nodeID, ErrNotFound)
	}
	return nil
}

const getOrgRootSQL = `
SELECT org_id, node_id, node_type, parent_id, name, created_at, deleted_at
FROM org_nodes
WHERE org_id = $1 AND parent_id IS NULL`

// GetOrgRoot returns the single root node of an org. NotFound means the org
// was never provisioned.
func (q *Queries) GetOrgRoot(ctx context.Context, orgID uuid.UUID) (OrgNode, error) {
	row := q.db.QueryRow(ctx, getOrgRootSQL, orgID)
	node, err := scanOrgNode(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return OrgNode{}, fmt.Errorf("org %s: %w", orgID, ErrNotFound)
	}
	return node, err
}

// GetLineage walks parent pointers from the target node to the org root and
// returns [root, ..., node]. A tombstoned target is NotFound; tombstoned
// ancestors remain on the path so existing descendants keep resolving.
// Callers needing a consistent snapshot run this inside a transaction (see
// Store.SnapshotLineage).
func (q *Queries) GetLineage(ctx context.Context, orgID, nodeID uuid.UUID) ([]OrgNode, error) {
	node, err := q.GetOrgNode(ctx, orgID, nodeID)
	if err != nil {
		return nil, err
	}
	if node.DeletedAt != nil {
		return nil, fmt.Errorf("org node %s/%s is deprovisioned: %w", orgID, nodeID, ErrNotFound)
	}

	seen := map[uuid.UUID]struct{}{node.NodeID: {}}
	lineage := []OrgNode{node}
	for node.ParentID != nil {
		if len(lineage) >= maxLineageDepth {
			return nil, fmt.Errorf("lineage for %s/%s exceeds depth %d: %w", orgID, nodeID, maxLineageDepth, ErrLineageCycle)
		}
		parent, err := q.GetOrgNode(ctx, orgID, *node.ParentID)
		if err != nil {
			return nil, fmt.Errorf("broken parent link at %s: %w", node.NodeID, err)
		}
		if _, revisited := seen[parent.NodeID]; revisited {
			return nil, fmt.Errorf("lineage for %s/%s revisits node %s: %w", orgID, nodeID, parent.NodeID, ErrLineageCycle)
		}
		seen[parent.NodeID] = struct{}{}
		lineage = append(lineage, parent)
		node = parent
	}

	// Reverse to root-first order.
	for i, j := 0, len(lineage)-1; i < j; i, j = i+1, j-1 {
		lineage[i], lineage[j] = lineage[j], lineage[i]
	}
	return lineage, nil
}

// SnapshotLineage resolves the lineage inside a snapshot-isolated read-only
// transaction so the multi-row walk observes one consistent tree state.
func (store *Store) SnapshotLineage(ctx context.Context, orgID, nodeID uuid.UUID) ([]OrgNode, error) {
	var lineage []OrgNode
	err := store.readTx(ctx, func(s *Store) error {
		var err error
		lineage, err = s.Queries.GetLineage(ctx, orgID, nodeID)
		return err
	})
	return lineage, err
}

func scanOrgNode(row pgx.Row) (OrgNode, error) {
	var node OrgNode
	var nodeType string
	if err := row.Scan(&node.OrgID, &node.NodeID, &nodeType, &node.ParentID,
		&node.Name, &node.CreatedAt, &node.DeletedAt); err != nil {
		return OrgNode{}, err
	}
	nt, err := ParseNodeType(nodeType)
	if err != nil {
		return OrgNode{}, err
	}
	node.NodeType = nt
	return node, nil
}
