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

// Token rows are never deleted. Revocation and last-use stamps are the only
// mutations, so the issuance history stays auditable forever.

type InsertTokenParams struct {
	TokenID     uuid.UUID
	OrgID       uuid.UUID
	TeamNodeID  *uuid.UUID
	TokenHash   string
	Permissions []string
}

const insertTokenSQL = `
INSERT INTO tokens (token_id, org_id, team_node_id, token_hash, permissions)
VALUES ($1, $2, $3, $4, $5)
RETURNING issued_at`

func (q *Queries) InsertToken(ctx context.Context, params InsertTokenParams) (Token, error) {
	token := Token{
		TokenID:     params.TokenID,
		OrgID:       params.OrgID,
		TeamNodeID:  params.TeamNodeID,
		TokenHash:   params.TokenHash,
		Permissions: params.Permissions,
	}
	err := q.db.QueryRow(ctx, insertTokenSQL,
		params.TokenID, params.OrgID, params.TeamNodeID, params.TokenHash, params.Permissions).
		Scan(&token.IssuedAt)
	if err != nil {
		return Token{}, err
	}
	return token, nil
}

const getTokenByHashSQL = `
SELECT token_id, org_id, team_node_id, token_hash, permissions, issued_at, revoked_at, last_used_at
FROM tokens
WHERE org_id = $1 AND token_hash = $2`

// GetTokenByHash looks up a token by its keyed hash within one org. Revoked
// rows are returned so the caller can distinguish revoked from absent.
func (q *Queries) GetTokenByHash(ctx context.Context, orgID uuid.UUID, tokenHash string) (Token, error) {
	row := q.db.QueryRow(ctx, getTokenByHashSQL, orgID, tokenHash)
	token, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Token{}, fmt.Errorf("token: %w", ErrNotFound)
	}
	return token, err
}

const getTokenSQL = `
SELECT token_id, org_id, team_node_id, token_hash, permissions, issued_at, revoked_at, last_used_at
FROM tokens
WHERE token_id = $1`

func (q *Queries) GetToken(ctx context.Context, tokenID uuid.UUID) (Token, error) {
	row := q.db.QueryRow(ctx, getTokenSQL, tokenID)
	token, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Token{}, fmt.Errorf("token %s: %w", tokenID, ErrNotFound)
	}
	return token, err
}

const listTokensSQL = `
SELECT token_id, org_id, team_node_id, token_hash, permissions, issued_at, revoked_at, last_used_at
FROM tokens
WHERE org_id = $1
ORDER BY issued_at`

func (q *Queries) ListTokens(ctx context.Context, orgID uuid.UUID) ([]Token, error) {
	rows, err := q.db.Query(ctx, listTokensSQL, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []Token
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}

const revokeTokenSQL = `
UPDATE tokens SET revoked_at = now()
WHERE token_id = $1 AND revoked_at IS NULL`

// RevokeToken marks a token revoked. Revocation is immediate: validation
// always re-reads the row, so there is no propagation delay. Revoking an
// already revoked token is NotFound so callers cannot silently double-ack.
func (q *Queries) RevokeToken(ctx context.Context, tokenID uuid.UUID) error {
	tag, err := q.db.Exec(ctx, revokeTokenSQL, tokenID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("token %s: %w", tokenID, ErrNotFound)
	}
	return nil
}

// TouchTokenLastUsed records a successful validation. Best-effort: callers
// do not block a response on this write.
func (q *Queries) TouchTokenLastUsed(ctx context.Context, tokenID uuid.UUID) error {
	_, err := q.db.Exec(ctx, `UPDATE tokens SET last_used_at = now() WHERE token_id = $1`, tokenID)
	return err
}

func scanToken(row pgx.Row) (Token, error) {
	var token Token
	err := row.Scan(&token.TokenID, &token.OrgID, &token.TeamNodeID, &token.TokenHash,
		&token.Permissions, &token.IssuedAt, &token.RevokedAt, &token.LastUsedAt)
	if err != nil {
		return Token{}, err
	}
	return token, nil
}
