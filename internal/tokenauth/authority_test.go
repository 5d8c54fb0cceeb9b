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
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/orgcore/orgdb"
)

type fakeStore struct {
	tokens  map[uuid.UUID]orgdb.Token
	nodes   map[uuid.UUID]orgdb.OrgNode
	touched []uuid.UUID
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tokens: make(map[uuid.UUID]orgdb.Token),
		nodes:  make(map[uuid.UUID]orgdb.OrgNode),
	}
}

func (f *fakeStore) InsertToken(_ context.Context, params orgdb.InsertTokenParams) (orgdb.Token, error) {
	token := orgdb.Token{
		TokenID:     params.TokenID,
		OrgID:       params.OrgID,
		TeamNodeID:  params.TeamNodeID,
		TokenHash:   params.TokenHash,
		Permissions: params.Permissions,
		IssuedAt:    time.Now(),
	}
	f.tokens[params.TokenID] = token
	return token, nil
}

func (f *fakeStore) GetTokenByHash(_ context.Context, orgID uuid.UUID, tokenHash string) (orgdb.Token, error) {
	for _, token := range f.tokens {
		if token.OrgID == orgID && token.TokenHash == tokenHash {
			return token, nil
		}
	}
	return orgdb.Token{}, fmt.Errorf("token: %w", orgdb.ErrNotFound)
}

func (f *fakeStore) GetToken(_ context.Context, tokenID uuid.UUID) (orgdb.Token, error) {
	token, ok := f.tokens[tokenID]
	if !ok {
		return orgdb.Token{}, fmt.Errorf("token %s: %w", tokenID, orgdb.ErrNotFound)
	}
	return token, nil
}

func (f *fakeStore) ListTokens(_ context.Context, orgID uuid.UUID) ([]orgdb.Token, error) {
	var out []orgdb.Token
	for _, token := range f.tokens {
		if token.OrgID == orgID {
			out = append(out, token)
		}
	}
	return out, nil
}

func (f *fakeStore) RevokeToken(_ context.Context, tokenID uuid.UUID) error {
	token, ok := f.tokens[tokenID]
	if !ok || token.RevokedAt != nil {
		return fmt.Errorf("token %s: %w", tokenID, orgdb.ErrNotFound)
	}
	now := time.Now()
	token.RevokedAt = &now
	f.tokens[tokenID] = token
	return nil
}

func (f *fakeStore) TouchTokenLastUsed(_ context.Context, tokenID uuid.UUID) error {
	f.touched = append(f.touched, tokenID)
	return nil
}

func (f *fakeStore) GetOrgNode(_ context.Context, orgID, nodeID uuid.UUID) (orgdb.OrgNode, error) {
	node, ok := f.nodes[nodeID]
	if !ok || node.OrgID != orgID {
		return orgdb.OrgNode{}, fmt.Errorf("node %s: %w", nodeID, orgdb.ErrNotFound)
	}
	return node, nil
}

func (f *fakeStore) GetOrgRoot(_ context.Context, orgID uuid.UUID) (orgdb.OrgNode, error) {
	for _, node := range f.nodes {
		if node.OrgID == orgID && node.ParentID == nil && node.NodeType == orgdb.NodeTypeOrg {
			return node, nil
		}
	}
	return orgdb.OrgNode{}, fmt.Errorf("org %s: %w", orgID, orgdb.ErrNotFound)
}

// seedOrg provisions a root node so org-admin issuance succeeds.
func (f *fakeStore) seedOrg(orgID uuid.UUID) uuid.UUID {
	rootID := uuid.New()
	f.nodes[rootID] = orgdb.OrgNode{OrgID: orgID, NodeID: rootID, NodeType: orgdb.NodeTypeOrg}
	return rootID
}

func newTestAuthority(t *testing.T, store TokenStore) *Authority {
	t.Helper()
	authority, err := NewAuthority(store, "test-pepper", "super-secret-root")
	require.NoError(t, err)
	return authority
}

func TestParseBearer(t *testing.T) {
	orgID := uuid.New()
	nodeID := uuid.New()

	tests := []struct {
		name    string
		bearer  string
		want    TokenKind
		wantErr bool
	}{
		{"orgAdmin", "oadm_" + orgID.String() + "_abc123", TokenKindOrgAdmin, false},
		{"team", "team_" + orgID.String() + "_" + nodeID.String() + "_abc123", TokenKindTeam, false},
		{"globalAdminCandidate", "anything-else-at-all", TokenKindGlobalAdmin, false},
		{"orgAdminBadUUID", "oadm_not-a-uuid_abc123", 0, true},
		{"orgAdminMissingSecret", "oadm_" + orgID.String() + "_", 0, true},
		{"teamMissingNode", "team_" + orgID.String() + "_abc123", 0, true},
		{"teamBadNodeUUID", "team_" + orgID.String() + "_nope_abc123", 0, true},
		{"empty", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := ParseBearer(tt.bearer)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, parsed.Kind)
		})
	}
}

func TestIssueAndValidateOrgAdmin(t *testing.T) {
	store := newFakeStore()
	authority := newTestAuthority(t, store)
	orgID := uuid.New()
	store.seedOrg(orgID)

	issued, err := authority.IssueOrgAdmin(context.Background(), orgID)
	require.NoError(t, err)
	assert.NotContains(t, issued.Token.TokenHash, issued.Plaintext)

	principal, err := authority.Validate(context.Background(), issued.Plaintext)
	require.NoError(t, err)
	assert.Equal(t, TokenKindOrgAdmin, principal.Kind)
	assert.Equal(t, orgID, principal.OrgID)
	assert.Nil(t, principal.TeamNodeID)
	assert.True(t, principal.AllowsOrg(orgID))
	assert.False(t, principal.AllowsOrg(uuid.New()))
	assert.True(t, principal.HasPermission("anything"))
	assert.Contains(t, store.touched, issued.Token.TokenID)
}

func TestIssueAndValidateTeam(t *testing.T) {
	store := newFakeStore()
	authority := newTestAuthority(t, store)
	orgID := uuid.New()
	teamID := uuid.New()
	store.nodes[teamID] = orgdb.OrgNode{OrgID: orgID, NodeID: teamID, NodeType: orgdb.NodeTypeTeam}

	issued, err := authority.IssueTeam(context.Background(), orgID, teamID, []string{"config:read"})
	require.NoError(t, err)

	principal, err := authority.Validate(context.Background(), issued.Plaintext)
	require.NoError(t, err)
	assert.Equal(t, TokenKindTeam, principal.Kind)
	require.NotNil(t, principal.TeamNodeID)
	assert.Equal(t, teamID, *principal.TeamNodeID)
	assert.True(t, principal.AllowsNode(orgID, teamID))
	assert.False(t, principal.AllowsNode(orgID, uuid.New()))
	assert.True(t, principal.HasPermission("config:read"))
	assert.False(t, principal.HasPermission("config:write"))
}

func TestIssueTeamRejectsNonTeamNode(t *testing.T) {
	store := newFakeStore()
	authority := newTestAuthority(t, store)
	orgID := uuid.New()
	unitID := uuid.New()
	store.nodes[unitID] = orgdb.OrgNode{OrgID: orgID, NodeID: unitID, NodeType: orgdb.NodeTypeUnit}

	_, err := authority.IssueTeam(context.Background(), orgID, unitID, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a team")
}

func TestIssueTeamRejectsTombstonedNode(t *testing.T) {
	store := newFakeStore()
	authority := newTestAuthority(t, store)
	orgID := uuid.New()
	teamID := uuid.New()
	deleted := time.Now()
	store.nodes[teamID] = orgdb.OrgNode{OrgID: orgID, NodeID: teamID, NodeType: orgdb.NodeTypeTeam, DeletedAt: &deleted}

	_, err := authority.IssueTeam(context.Background(), orgID, teamID, nil)
	require.ErrorIs(t, err, orgdb.ErrNotFound)
}

func TestValidateGlobalAdmin(t *testing.T) {
	store := newFakeStore()
	authority := newTestAuthority(t, store)

	principal, err := authority.Validate(context.Background(), "super-secret-root")
	require.NoError(t, err)
	assert.Equal(t, TokenKindGlobalAdmin, principal.Kind)
	assert.Equal(t, uuid.Nil, principal.OrgID)
	assert.True(t, principal.AllowsOrg(uuid.New()))
	assert.True(t, principal.AllowsNode(uuid.New(), uuid.New()))

	_, err = authority.Validate(context.Background(), "wrong-secret")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestValidateGlobalAdminDisabled(t *testing.T) {
	authority, err := NewAuthority(newFakeStore(), "test-pepper", "")
	require.NoError(t, err)

	_, err = authority.Validate(context.Background(), "super-secret-root")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestValidateRevokedToken(t *testing.T) {
	store := newFakeStore()
	authority := newTestAuthority(t, store)
	orgID := uuid.New()
	store.seedOrg(orgID)

	issued, err := authority.IssueOrgAdmin(context.Background(), orgID)
	require.NoError(t, err)
	require.NoError(t, authority.Revoke(context.Background(), issued.Token.TokenID))

	_, err = authority.Validate(context.Background(), issued.Plaintext)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Empty(t, store.touched, "failed validation must not stamp last_used_at")

	// Double revocation is not silently acknowledged.
	err = authority.Revoke(context.Background(), issued.Token.TokenID)
	assert.ErrorIs(t, err, orgdb.ErrNotFound)
}

func TestIssueOrgAdminUnknownOrg(t *testing.T) {
	store := newFakeStore()
	authority := newTestAuthority(t, store)

	_, err := authority.IssueOrgAdmin(context.Background(), uuid.New())
	require.ErrorIs(t, err, orgdb.ErrNotFound)
	assert.Empty(t, store.tokens, "no token row may exist for an unprovisioned org")
}

func TestIssueOrgAdminTombstonedOrg(t *testing.T) {
	store := newFakeStore()
	authority := newTestAuthority(t, store)
	orgID := uuid.New()
	rootID := store.seedOrg(orgID)

	deleted := time.Now()
	root := store.nodes[rootID]
	root.DeletedAt = &deleted
	store.nodes[rootID] = root

	_, err := authority.IssueOrgAdmin(context.Background(), orgID)
	require.ErrorIs(t, err, orgdb.ErrNotFound)
}

func TestValidateKindMismatch(t *testing.T) {
	store := newFakeStore()
	authority := newTestAuthority(t, store)
	orgID := uuid.New()
	teamID := uuid.New()
	store.nodes[teamID] = orgdb.OrgNode{OrgID: orgID, NodeID: teamID, NodeType: orgdb.NodeTypeTeam}

	issued, err := authority.IssueTeam(context.Background(), orgID, teamID, nil)
	require.NoError(t, err)

	// Same secret presented under the wrong structural form.
	parsed, err := ParseBearer(issued.Plaintext)
	require.NoError(t, err)
	_, err = authority.Validate(context.Background(), "oadm_"+orgID.String()+"_"+parsed.Secret)
	assert.ErrorIs(t, err, ErrUnauthorized)

	// A team token presented against a different team node.
	_, err = authority.Validate(context.Background(), "team_"+orgID.String()+"_"+uuid.New().String()+"_"+parsed.Secret)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestValidateWrongOrgScope(t *testing.T) {
	store := newFakeStore()
	authority := newTestAuthority(t, store)
	orgID := uuid.New()
	store.seedOrg(orgID)

	issued, err := authority.IssueOrgAdmin(context.Background(), orgID)
	require.NoError(t, err)

	parsed, err := ParseBearer(issued.Plaintext)
	require.NoError(t, err)
	_, err = authority.Validate(context.Background(), "oadm_"+uuid.New().String()+"_"+parsed.Secret)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestPepperKeysTheHash(t *testing.T) {
	store := newFakeStore()
	authority := newTestAuthority(t, store)
	orgID := uuid.New()
	store.seedOrg(orgID)

	issued, err := authority.IssueOrgAdmin(context.Background(), orgID)
	require.NoError(t, err)

	other, err := NewAuthority(store, "different-pepper", "")
	require.NoError(t, err)
	_, err = other.Validate(context.Background(), issued.Plaintext)
	assert.ErrorIs(t, err, ErrUnauthorized)
}
