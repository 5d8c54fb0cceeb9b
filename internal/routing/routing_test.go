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

package routing

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/orgcore/orgdb"
)

type identKey struct {
	orgID     uuid.UUID
	identType string
	value     string
}

type fakeStore struct {
	idents map[identKey]orgdb.RoutingIdentifier
	nodes  map[uuid.UUID]orgdb.OrgNode
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		idents: make(map[identKey]orgdb.RoutingIdentifier),
		nodes:  make(map[uuid.UUID]orgdb.OrgNode),
	}
}

func (f *fakeStore) addTeam(orgID uuid.UUID) uuid.UUID {
	teamID := uuid.New()
	f.nodes[teamID] = orgdb.OrgNode{OrgID: orgID, NodeID: teamID, NodeType: orgdb.NodeTypeTeam}
	return teamID
}

func (f *fakeStore) InsertRoutingIdentifier(_ context.Context, params orgdb.InsertRoutingIdentifierParams) (orgdb.RoutingIdentifier, error) {
	key := identKey{params.OrgID, params.IdentifierType, params.IdentifierValue}
	if existing, ok := f.idents[key]; ok {
		return orgdb.RoutingIdentifier{}, &orgdb.DuplicateIdentifierError{
			IdentifierType:  params.IdentifierType,
			IdentifierValue: params.IdentifierValue,
			ConflictingTeam: existing.TeamNodeID,
		}
	}
	ident := orgdb.RoutingIdentifier{
		OrgID:           params.OrgID,
		TeamNodeID:      params.TeamNodeID,
		IdentifierType:  params.IdentifierType,
		IdentifierValue: params.IdentifierValue,
		CreatedAt:       time.Now(),
	}
	f.idents[key] = ident
	return ident, nil
}

func (f *fakeStore) GetRoutingIdentifier(_ context.Context, orgID uuid.UUID, identType, value string) (orgdb.RoutingIdentifier, error) {
	ident, ok := f.idents[identKey{orgID, identType, value}]
	if !ok {
		return orgdb.RoutingIdentifier{}, fmt.Errorf("routing identifier %s=%s: %w", identType, value, orgdb.ErrNotFound)
	}
	return ident, nil
}

func (f *fakeStore) ListRoutingIdentifiersForTeam(_ context.Context, orgID, teamNodeID uuid.UUID) ([]orgdb.RoutingIdentifier, error) {
	var out []orgdb.RoutingIdentifier
	for _, ident := range f.idents {
		if ident.OrgID == orgID && ident.TeamNodeID == teamNodeID {
			out = append(out, ident)
		}
	}
	return out, nil
}

func (f *fakeStore) GetOrgNode(_ context.Context, orgID, nodeID uuid.UUID) (orgdb.OrgNode, error) {
	node, ok := f.nodes[nodeID]
	if !ok || node.OrgID != orgID {
		return orgdb.OrgNode{}, fmt.Errorf("node %s: %w", nodeID, orgdb.ErrNotFound)
	}
	return node, nil
}

func TestRegisterUniquePerOrg(t *testing.T) {
	store := newFakeStore()
	idx := NewIndex(store, nil)
	acme := uuid.New()
	teamA := store.addTeam(acme)
	teamB := store.addTeam(acme)

	_, err := idx.Register(context.Background(), acme, teamA, "slack_channel_id", "C123")
	require.NoError(t, err)

	_, err = idx.Register(context.Background(), acme, teamB, "slack_channel_id", "C123")
	var dupErr *orgdb.DuplicateIdentifierError
	require.ErrorAs(t, err, &dupErr)
	assert.Equal(t, teamA, dupErr.ConflictingTeam)

	// The same (type, value) under a different org is a separate claim.
	other := uuid.New()
	otherTeam := store.addTeam(other)
	_, err = idx.Register(context.Background(), other, otherTeam, "slack_channel_id", "C123")
	require.NoError(t, err)
}

func TestRegisterRejectsNonTeam(t *testing.T) {
	store := newFakeStore()
	idx := NewIndex(store, nil)
	orgID := uuid.New()
	unitID := uuid.New()
	store.nodes[unitID] = orgdb.OrgNode{OrgID: orgID, NodeID: unitID, NodeType: orgdb.NodeTypeUnit}

	_, err := idx.Register(context.Background(), orgID, unitID, "slack_channel_id", "C1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a team")

	_, err = idx.Register(context.Background(), orgID, unitID, "", "C1")
	require.Error(t, err)
}

func TestLookupPriorityOrder(t *testing.T) {
	store := newFakeStore()
	idx := NewIndex(store, nil)
	orgID := uuid.New()
	channelTeam := store.addTeam(orgID)
	domainTeam := store.addTeam(orgID)

	_, err := idx.Register(context.Background(), orgID, channelTeam, "slack_channel_id", "C9")
	require.NoError(t, err)
	_, err = idx.Register(context.Background(), orgID, domainTeam, "email_domain", "acme.test")
	require.NoError(t, err)

	// Both types match; the more specific one wins.
	match, err := idx.Lookup(context.Background(), orgID, map[string]string{
		"email_domain":     "acme.test",
		"slack_channel_id": "C9",
	})
	require.NoError(t, err)
	require.True(t, match.Found)
	assert.Equal(t, channelTeam, match.TeamNodeID)
	assert.Equal(t, "slack_channel_id", match.MatchedBy)
	assert.Equal(t, []string{"slack_channel_id"}, match.Tried)

	// Only the generic fallback matches.
	match, err = idx.Lookup(context.Background(), orgID, map[string]string{
		"email_domain":     "acme.test",
		"slack_channel_id": "C-unregistered",
	})
	require.NoError(t, err)
	require.True(t, match.Found)
	assert.Equal(t, domainTeam, match.TeamNodeID)
	assert.Equal(t, "email_domain", match.MatchedBy)
	assert.Equal(t, []string{"slack_channel_id", "email_domain"}, match.Tried)
}

func TestLookupMissReportsTried(t *testing.T) {
	store := newFakeStore()
	idx := NewIndex(store, nil)
	orgID := uuid.New()

	match, err := idx.Lookup(context.Background(), orgID, map[string]string{
		"slack_channel_id": "C1",
		"zz_custom":        "x",
		"aa_custom":        "y",
	})
	require.NoError(t, err)
	assert.False(t, match.Found)
	// Known types first, unknown types lexically after.
	assert.Equal(t, []string{"slack_channel_id", "aa_custom", "zz_custom"}, match.Tried)
}

func TestLookupEmptyIdentifiers(t *testing.T) {
	idx := NewIndex(newFakeStore(), nil)

	match, err := idx.Lookup(context.Background(), uuid.New(), nil)
	require.NoError(t, err)
	assert.False(t, match.Found)
	assert.Empty(t, match.Tried)
}

func TestLookupPropagatesStoreErrors(t *testing.T) {
	idx := NewIndex(errStore{}, nil)

	_, err := idx.Lookup(context.Background(), uuid.New(), map[string]string{"slack_channel_id": "C1"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, orgdb.ErrNotFound))
}

type errStore struct{}

func (errStore) InsertRoutingIdentifier(context.Context, orgdb.InsertRoutingIdentifierParams) (orgdb.RoutingIdentifier, error) {
	return orgdb.RoutingIdentifier{}, errors.New("db down")
}

func (errStore) GetRoutingIdentifier(context.Context, uuid.UUID, string, string) (orgdb.RoutingIdentifier, error) {
	return orgdb.RoutingIdentifier{}, errors.New("db down")
}

func (errStore) ListRoutingIdentifiersForTeam(context.Context, uuid.UUID, uuid.UUID) ([]orgdb.RoutingIdentifier, error) {
	return nil, errors.New("db down")
}

func (errStore) GetOrgNode(context.Context, uuid.UUID, uuid.UUID) (orgdb.OrgNode, error) {
	return orgdb.OrgNode{}, errors.New("db down")
}
