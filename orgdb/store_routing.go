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
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type InsertRoutingIdentifierParams struct {
	OrgID           uuid.UUID
	TeamNodeID      uuid.UUID
	IdentifierType  string
	IdentifierValue string
}

const insertRoutingIdentifierSQL = `
INSERT INTO routing_identifiers (org_id, team_node_id, identifier_type, identifier_value)
VALUES ($1, $2, $3, $4)
RETURNING created_at`

// InsertRoutingIdentifier claims an identifier for a team. The unique
// constraint on (org_id, identifier_type, identifier_value) is the
// authoritative conflict detector: two concurrent registrations of the same
// identifier race at the constraint, not in application code. On conflict
// the existing owner is looked up for the structured error.
func (q *Queries) InsertRoutingIdentifier(ctx context.Context, params InsertRoutingIdentifierParams) (RoutingIdentifier, error) {
	ident := RoutingIdentifier{
		OrgID:           params.OrgID,
		TeamNodeID:      params.TeamNodeID,
		IdentifierType:  params.IdentifierType,
		IdentifierValue: params.IdentifierValue,
	}
	err := q.db.QueryRow(ctx, insertRoutingIdentifierSQL,
		params.OrgID, params.TeamNodeID, params.IdentifierType, params.IdentifierValue).
		Scan(&ident.CreatedAt)
	if err == nil {
		return ident, nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		existing, lookupErr := q.GetRoutingIdentifier(ctx, params.OrgID, params.IdentifierType, params.IdentifierValue)
		if lookupErr != nil {
			return RoutingIdentifier{}, fmt.Errorf("identifier conflict, owner lookup failed: %w", lookupErr)
		}
		return RoutingIdentifier{}, &DuplicateIdentifierError{
			IdentifierType:  params.IdentifierType,
			IdentifierValue: params.IdentifierValue,
			ConflictingTeam: existing.TeamNodeID,
		}
	}
	return RoutingIdentifier{}, err
}

const getRoutingIdentifierSQL = `
SELECT org_id, team_node_id, identifier_type, identifier_value, created_at
FROM routing_identifiers
WHERE org_id = $1 AND identifier_type = $2 AND identifier_value = $3`

func (q *Queries) GetRoutingIdentifier(ctx context.Context, orgID uuid.UUID, identifierType, identifierValue string) (RoutingIdentifier, error) {
	var ident RoutingIdentifier
	err := q.db.QueryRow(ctx, getRoutingIdentifierSQL, orgID, identifierType, identifierValue).
		Scan(&ident.OrgID, &ident.TeamNodeID, &ident.IdentifierType, &ident.IdentifierValue, &ident.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return RoutingIdentifier{}, fmt.Errorf("routing identifier %s=%s: %w", identifierType, identifierValue, ErrNotFound)
	}
	if err != nil {
		return RoutingIdentifier{}, err
	}
	return ident, nil
}

const listRoutingIdentifiersForTeamSQL = `
SELECT org_id, team_node_id, identifier_type, identifier_value, created_at
FROM routing_identifiers
WHERE org_id = $1 AND team_node_id = $2
ORDER BY identifier_type, identifier_value`

func (q *Queries) ListRoutingIdentifiersForTeam(ctx context.Context, orgID, teamNodeID uuid.UUID) ([]RoutingIdentifier, error) {
	rows, err := q.db.Query(ctx, listRoutingIdentifiersForTeamSQL, orgID, teamNodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var idents []RoutingIdentifier
	for rows.Next() {
		var ident RoutingIdentifier
		if err := rows.Scan(&ident.OrgID, &ident.TeamNodeID, &ident.IdentifierType,
			&ident.IdentifierValue, &ident.CreatedAt); err != nil {
			return nil, err
		}
		idents = append(idents, ident)
	}
	return idents, rows.Err()
}
