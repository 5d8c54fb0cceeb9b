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

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// GetOrgEpoch returns the org's current cache epoch. An org that has never
// been written is at epoch 0.
func (q *Queries) GetOrgEpoch(ctx context.Context, orgID uuid.UUID) (int64, error) {
	var epoch int64
	err := q.db.QueryRow(ctx, `SELECT epoch FROM org_epochs WHERE org_id = $1`, orgID).Scan(&epoch)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return epoch, nil
}

const bumpOrgEpochSQL = `
INSERT INTO org_epochs (org_id, epoch)
VALUES ($1, 1)
ON CONFLICT (org_id) DO UPDATE SET epoch = org_epochs.epoch + 1
RETURNING epoch`

// BumpOrgEpoch atomically advances the org-wide epoch, invalidating every
// cached effective config in the org. Deliberately coarse: a write anywhere
// in the tree always affects the whole descendant set, and over-invalidating
// siblings costs latency, never correctness.
func (q *Queries) BumpOrgEpoch(ctx context.Context, orgID uuid.UUID) (int64, error) {
	var epoch int64
	if err := q.db.QueryRow(ctx, bumpOrgEpochSQL, orgID).Scan(&epoch); err != nil {
		return 0, err
	}
	return epoch, nil
}
