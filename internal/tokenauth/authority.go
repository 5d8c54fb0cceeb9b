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

package tokenauth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/cardinalhq/orgcore/orgdb"
)

// ErrUnauthorized is returned for every failed validation. Callers map it
// to a single opaque 401; the reason stays server-side.
var ErrUnauthorized = errors.New("unauthorized")

// TokenStore is the persistence surface the authority needs. *orgdb.Store
// satisfies it; tests substitute fakes.
type TokenStore interface {
	InsertToken(ctx context.Context, params orgdb.InsertTokenParams) (orgdb.Token, error)
	GetTokenByHash(ctx context.Context, orgID uuid.UUID, tokenHash string) (orgdb.Token, error)
	GetToken(ctx context.Context, tokenID uuid.UUID) (orgdb.Token, error)
	ListTokens(ctx context.Context, orgID uuid.UUID) ([]orgdb.Token, error)
	RevokeToken(ctx context.Context, tokenID uuid.UUID) error
	TouchTokenLastUsed(ctx context.Context, tokenID uuid.UUID) error
	GetOrgNode(ctx context.Context, orgID, nodeID uuid.UUID) (orgdb.OrgNode, error)
	GetOrgRoot(ctx context.Context, orgID uuid.UUID) (orgdb.OrgNode, error)
}

// Authority issues and validates bearer tokens for one deployment.
type Authority struct {
	store           TokenStore
	pepper          []byte
	globalAdminHash [32]byte // sha256 of the configured global-admin secret
	hasGlobalAdmin  bool
}

// NewAuthority builds a token authority. pepper keys the at-rest hashes and
// must stay stable for the life of the deployment; rotating it invalidates
// every issued token. globalAdminSecret may be empty, which disables the
// global-admin principal entirely.
func NewAuthority(store TokenStore, pepper string, globalAdminSecret string) (*Authority, error) {
	if pepper == "" {
		return nil, fmt.Errorf("tokenauth: pepper must not be empty")
	}
	a := &Authority{
		store:  store,
		pepper: []byte(pepper),
	}
	if globalAdminSecret != "" {
		a.globalAdminHash = sha256.Sum256([]byte(globalAdminSecret))
		a.hasGlobalAdmin = true
	}
	return a, nil
}

// hashSecret is the at-rest form of a token secret: hex HMAC-SHA256 keyed
// with the deployment pepper, so a database dump alone is not enough to
// forge or verify tokens.
func (a *Authority) hashSecret(secret string) string {
	mac := hmac.New(sha256.New, a.pepper)
	mac.Write([]byte(secret))
	return hex.EncodeToString(mac.Sum(nil))
}

func newSecret() (string, error) {
	keyBytes := make([]byte, 20)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", fmt.Errorf("failed to generate token secret: %w", err)
	}
	return strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(keyBytes)), nil
}

// IssuedToken pairs a persisted token row with its plaintext bearer string.
// The plaintext exists only in this value; it is never stored or logged.
type IssuedToken struct {
	Token     orgdb.Token
	Plaintext string
}

// IssueOrgAdmin mints an org-admin token for orgID. The org's root node must
// exist and not be tombstoned.
func (a *Authority) IssueOrgAdmin(ctx context.Context, orgID uuid.UUID) (IssuedToken, error) {
	root, err := a.store.GetOrgRoot(ctx, orgID)
	if err != nil {
		return IssuedToken{}, err
	}
	if root.DeletedAt != nil {
		return IssuedToken{}, fmt.Errorf("org %s is deprovisioned: %w", orgID, orgdb.ErrNotFound)
	}
	secret, err := newSecret()
	if err != nil {
		return IssuedToken{}, err
	}
	token, err := a.store.InsertToken(ctx, orgdb.InsertTokenParams{
		TokenID:   uuid.New(),
		OrgID:     orgID,
		TokenHash: a.hashSecret(secret),
	})
	if err != nil {
		return IssuedToken{}, fmt.Errorf("issue org-admin token: %w", err)
	}
	return IssuedToken{
		Token:     token,
		Plaintext: orgAdminPrefix + orgID.String() + "_" + secret,
	}, nil
}

// IssueTeam mints a team token bound to teamNodeID, which must be a live
// team node of orgID. permissions is the fixed grant carried by the token.
func (a *Authority) IssueTeam(ctx context.Context, orgID, teamNodeID uuid.UUID, permissions []string) (IssuedToken, error) {
	node, err := a.store.GetOrgNode(ctx, orgID, teamNodeID)
	if err != nil {
		return IssuedToken{}, err
	}
	if node.NodeType != orgdb.NodeTypeTeam {
		return IssuedToken{}, fmt.Errorf("node %s is a %s, not a team", teamNodeID, node.NodeType)
	}
	if node.DeletedAt != nil {
		return IssuedToken{}, fmt.Errorf("team %s: %w", teamNodeID, orgdb.ErrNotFound)
	}
	secret, err := newSecret()
	if err != nil {
		return IssuedToken{}, err
	}
	token, err := a.store.InsertToken(ctx, orgdb.InsertTokenParams{
		TokenID:     uuid.New(),
		OrgID:       orgID,
		TeamNodeID:  &teamNodeID,
		TokenHash:   a.hashSecret(secret),
		Permissions: permissions,
	})
	if err != nil {
		return IssuedToken{}, fmt.Errorf("issue team token: %w", err)
	}
	return IssuedToken{
		Token:     token,
		Plaintext: teamPrefix + orgID.String() + "_" + teamNodeID.String() + "_" + secret,
	}, nil
}

// Validate resolves a bearer string to a principal. Every failure mode
// collapses to ErrUnauthorized so responses never reveal whether a token
// is malformed, unknown, revoked, or mismatched.
func (a *Authority) Validate(ctx context.Context, bearer string) (Principal, error) {
	parsed, err := ParseBearer(bearer)
	if err != nil {
		return Principal{}, ErrUnauthorized
	}

	if parsed.Kind == TokenKindGlobalAdmin {
		if !a.hasGlobalAdmin {
			return Principal{}, ErrUnauthorized
		}
		candidate := sha256.Sum256([]byte(parsed.Secret))
		if subtle.ConstantTimeCompare(candidate[:], a.globalAdminHash[:]) != 1 {
			return Principal{}, ErrUnauthorized
		}
		return Principal{Kind: TokenKindGlobalAdmin}, nil
	}

	token, err := a.store.GetTokenByHash(ctx, parsed.OrgID, a.hashSecret(parsed.Secret))
	if err != nil {
		return Principal{}, ErrUnauthorized
	}
	if token.RevokedAt != nil {
		return Principal{}, ErrUnauthorized
	}
	switch parsed.Kind {
	case TokenKindOrgAdmin:
		if token.TeamNodeID != nil {
			return Principal{}, ErrUnauthorized
		}
	case TokenKindTeam:
		if token.TeamNodeID == nil || *token.TeamNodeID != parsed.TeamNodeID {
			return Principal{}, ErrUnauthorized
		}
	}

	// Recording usage never fails a validation that already succeeded.
	if err := a.store.TouchTokenLastUsed(ctx, token.TokenID); err != nil {
		slog.Warn("Failed to record token use", slog.String("tokenID", token.TokenID.String()), slog.Any("error", err))
	}

	return Principal{
		Kind:        parsed.Kind,
		OrgID:       token.OrgID,
		TeamNodeID:  token.TeamNodeID,
		TokenID:     token.TokenID,
		Permissions: token.Permissions,
	}, nil
}

// Revoke marks a token revoked. Takes effect on the next validation since
// every validation re-reads the row.
func (a *Authority) Revoke(ctx context.Context, tokenID uuid.UUID) error {
	return a.store.RevokeToken(ctx, tokenID)
}

// List returns every token row for an org, live and revoked, hashes included
// but never plaintext (plaintext is unrecoverable).
func (a *Authority) List(ctx context.Context, orgID uuid.UUID) ([]orgdb.Token, error) {
	return a.store.ListTokens(ctx, orgID)
}

// Get returns one token row by id.
func (a *Authority) Get(ctx context.Context, tokenID uuid.UUID) (orgdb.Token, error) {
	return a.store.GetToken(ctx, tokenID)
}
