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
	"fmt"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/cardinalhq/orgcore/internal/structval"
)

type AppendAuditEntryParams struct {
	OrgID  uuid.UUID
	NodeID uuid.UUID
	Actor  string
	Action string
	Before structval.Value
	After  structval.Value
}

const appendAuditEntrySQL = `
INSERT INTO config_audit_log (id, org_id, node_id, actor, action, before, after)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING recorded_at`

// AppendAuditEntry writes one append-only audit row. It must run in the
// same transaction as the mutation it describes.
func (q *Queries) AppendAuditEntry(ctx context.Context, params AppendAuditEntryParams) (AuditEntry, error) {
	before, err := params.Before.MarshalJSON()
	if err != nil {
		return AuditEntry{}, fmt.Errorf("failed to serialize audit before-image: %w", err)
	}
	after, err := params.After.MarshalJSON()
	if err != nil {
		return AuditEntry{}, fmt.Errorf("failed to serialize audit after-image: %w", err)
	}

	entry := AuditEntry{
		ID:     ulid.Make().String(),
		OrgID:  params.OrgID,
		NodeID: params.NodeID,
		Actor:  params.Actor,
		Action: params.Action,
		Before: params.Before,
		After:  params.After,
	}
	err = q.db.QueryRow(ctx, appendAuditEntrySQL,
		entry.ID, entry.OrgID, entry.NodeID, entry.Actor, entry.Action, before, after).
		Scan(&entry.RecordedAt)
	if err != nil {
		return AuditEntry{}, err
	}
	return entry, nil
}

const listAuditLogSQL = `
SELECT id, org_id, node_id, actor, action, before, after, recorded_at
FROM config_audit_log
WHERE org_id = $1
ORDER BY id DESC
LIMIT $2`

// ListAuditLog returns the most recent audit entries for an org, newest
// first. ULID ids sort in time order.
func (q *Queries) ListAuditLog(ctx context.Context, orgID uuid.UUID, limit int32) ([]AuditEntry, error) {
	rows, err := q.db.Query(ctx, listAuditLogSQL, orgID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var entry AuditEntry
		var before, after []byte
		if err := rows.Scan(&entry.ID, &entry.OrgID, &entry.NodeID, &entry.Actor,
			&entry.Action, &before, &after, &entry.RecordedAt); err != nil {
			return nil, err
		}
		if entry.Before, err = structval.FromJSON(before); err != nil {
			return nil, fmt.Errorf("corrupt audit before-image %s: %w", entry.ID, err)
		}
		if entry.After, err = structval.FromJSON(after); err != nil {
			return nil, fmt.Errorf("corrupt audit after-image %s: %w", entry.ID, err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
