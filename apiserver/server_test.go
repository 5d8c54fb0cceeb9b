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

package apiserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/orgcore/internal/capability"
	"github.com/cardinalhq/orgcore/internal/configsvc"
	"github.com/cardinalhq/orgcore/internal/effcache"
	"github.com/cardinalhq/orgcore/internal/routing"
	"github.com/cardinalhq/orgcore/internal/structval"
	"github.com/cardinalhq/orgcore/internal/tokenauth"
	"github.com/cardinalhq/orgcore/orgdb"
)

// memStore is an in-memory stand-in for *orgdb.Store covering every
// interface the API services need.
type memStore struct {
	nodes   map[uuid.UUID]orgdb.OrgNode
	configs map[uuid.UUID]orgdb.NodeConfig
	epochs  map[uuid.UUID]int64
	tokens  map[uuid.UUID]orgdb.Token
	idents  map[string]orgdb.RoutingIdentifier
}

func newMemStore() *memStore {
	return &memStore{
		nodes:   make(map[uuid.UUID]orgdb.OrgNode),
		configs: make(map[uuid.UUID]orgdb.NodeConfig),
		epochs:  make(map[uuid.UUID]int64),
		tokens:  make(map[uuid.UUID]orgdb.Token),
		idents:  make(map[string]orgdb.RoutingIdentifier),
	}
}

func (m *memStore) addNode(orgID uuid.UUID, nodeType orgdb.NodeType, parent *uuid.UUID) uuid.UUID {
	nodeID := uuid.New()
	m.nodes[nodeID] = orgdb.OrgNode{OrgID: orgID, NodeID: nodeID, NodeType: nodeType, ParentID: parent}
	return nodeID
}

func (m *memStore) GetOrgNode(_ context.Context, orgID, nodeID uuid.UUID) (orgdb.OrgNode, error) {
	node, ok := m.nodes[nodeID]
	if !ok || node.OrgID != orgID {
		return orgdb.OrgNode{}, fmt.Errorf("node %s: %w", nodeID, orgdb.ErrNotFound)
	}
	return node, nil
}

func (m *memStore) GetOrgRoot(_ context.Context, orgID uuid.UUID) (orgdb.OrgNode, error) {
	for _, node := range m.nodes {
		if node.OrgID == orgID && node.ParentID == nil && node.NodeType == orgdb.NodeTypeOrg {
			return node, nil
		}
	}
	return orgdb.OrgNode{}, fmt.Errorf("org %s: %w", orgID, orgdb.ErrNotFound)
}

func (m *memStore) GetOrgEpoch(_ context.Context, orgID uuid.UUID) (int64, error) {
	return m.epochs[orgID], nil
}

func (m *memStore) GetNodeConfig(_ context.Context, orgID, nodeID uuid.UUID) (orgdb.NodeConfig, error) {
	cfg, ok := m.configs[nodeID]
	if !ok || cfg.OrgID != orgID {
		return orgdb.NodeConfig{}, fmt.Errorf("node config: %w", orgdb.ErrNotFound)
	}
	return cfg, nil
}

func (m *memStore) lineage(orgID, nodeID uuid.UUID) ([]orgdb.OrgNode, error) {
	node, ok := m.nodes[nodeID]
	if !ok || node.OrgID != orgID || node.DeletedAt != nil {
		return nil, fmt.Errorf("node %s: %w", nodeID, orgdb.ErrNotFound)
	}
	chain := []orgdb.OrgNode{node}
	for node.ParentID != nil {
		node = m.nodes[*node.ParentID]
		chain = append(chain, node)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

func (m *memStore) SnapshotLineageOverrides(_ context.Context, orgID, nodeID uuid.UUID) ([]orgdb.OrgNode, []structval.Value, error) {
	chain, err := m.lineage(orgID, nodeID)
	if err != nil {
		return nil, nil, err
	}
	var layers []structval.Value
	for _, node := range chain {
		if cfg, ok := m.configs[node.NodeID]; ok {
			layers = append(layers, cfg.Overrides)
		}
	}
	return chain, layers, nil
}

func (m *memStore) SnapshotAncestorLayersAndOwn(_ context.Context, orgID, nodeID uuid.UUID) ([]structval.Value, orgdb.NodeConfig, bool, error) {
	chain, err := m.lineage(orgID, nodeID)
	if err != nil {
		return nil, orgdb.NodeConfig{}, false, err
	}
	var layers []structval.Value
	for _, node := range chain[:len(chain)-1] {
		if cfg, ok := m.configs[node.NodeID]; ok {
			layers = append(layers, cfg.Overrides)
		}
	}
	own, hasOwn := m.configs[nodeID]
	return layers, own, hasOwn, nil
}

func (m *memStore) ApplyConfigPatch(ctx context.Context, orgID, nodeID uuid.UUID, actor, _ string, patch orgdb.ConfigPatchFunc, validate orgdb.ConfigValidateFunc) (orgdb.NodeConfig, int64, error) {
	layers, current, hasCurrent, err := m.SnapshotAncestorLayersAndOwn(ctx, orgID, nodeID)
	if err != nil {
		return orgdb.NodeConfig{}, 0, err
	}
	newOverrides, err := patch(current.Overrides, hasCurrent)
	if err != nil {
		return orgdb.NodeConfig{}, 0, err
	}
	if err := validate(layers, newOverrides); err != nil {
		return orgdb.NodeConfig{}, 0, err
	}
	cfg := orgdb.NodeConfig{
		OrgID: orgID, NodeID: nodeID, Overrides: newOverrides,
		Version: current.Version + 1, UpdatedAt: time.Now(), UpdatedBy: actor,
	}
	m.configs[nodeID] = cfg
	m.epochs[orgID]++
	return cfg, m.epochs[orgID], nil
}

func (m *memStore) InsertToken(_ context.Context, params orgdb.InsertTokenParams) (orgdb.Token, error) {
	token := orgdb.Token{
		TokenID: params.TokenID, OrgID: params.OrgID, TeamNodeID: params.TeamNodeID,
		TokenHash: params.TokenHash, Permissions: params.Permissions, IssuedAt: time.Now(),
	}
	m.tokens[params.TokenID] = token
	return token, nil
}

func (m *memStore) GetTokenByHash(_ context.Context, orgID uuid.UUID, tokenHash string) (orgdb.Token, error) {
	for _, token := range m.tokens {
		if token.OrgID == orgID && token.TokenHash == tokenHash {
			return token, nil
		}
	}
	return orgdb.Token{}, fmt.Errorf("token: %w", orgdb.ErrNotFound)
}

func (m *memStore) GetToken(_ context.Context, tokenID uuid.UUID) (orgdb.Token, error) {
	token, ok := m.tokens[tokenID]
	if !ok {
		return orgdb.Token{}, fmt.Errorf("token %s: %w", tokenID, orgdb.ErrNotFound)
	}
	return token, nil
}

func (m *memStore) ListTokens(_ context.Context, orgID uuid.UUID) ([]orgdb.Token, error) {
	var out []orgdb.Token
	for _, token := range m.tokens {
		if token.OrgID == orgID {
			out = append(out, token)
		}
	}
	return out, nil
}

func (m *memStore) RevokeToken(_ context.Context, tokenID uuid.UUID) error {
	token, ok := m.tokens[tokenID]
	if !ok || token.RevokedAt != nil {
		return fmt.Errorf("token %s: %w", tokenID, orgdb.ErrNotFound)
	}
	now := time.Now()
	token.RevokedAt = &now
	m.tokens[tokenID] = token
	return nil
}

func (m *memStore) TouchTokenLastUsed(_ context.Context, tokenID uuid.UUID) error {
	token, ok := m.tokens[tokenID]
	if !ok {
		return fmt.Errorf("token %s: %w", tokenID, orgdb.ErrNotFound)
	}
	now := time.Now()
	token.LastUsedAt = &now
	m.tokens[tokenID] = token
	return nil
}

func identKey(orgID uuid.UUID, identType, value string) string {
	return orgID.String() + "|" + identType + "|" + value
}

func (m *memStore) InsertRoutingIdentifier(_ context.Context, params orgdb.InsertRoutingIdentifierParams) (orgdb.RoutingIdentifier, error) {
	key := identKey(params.OrgID, params.IdentifierType, params.IdentifierValue)
	if existing, ok := m.idents[key]; ok {
		return orgdb.RoutingIdentifier{}, &orgdb.DuplicateIdentifierError{
			IdentifierType:  params.IdentifierType,
			IdentifierValue: params.IdentifierValue,
			ConflictingTeam: existing.TeamNodeID,
		}
	}
	ident := orgdb.RoutingIdentifier{
		OrgID: params.OrgID, TeamNodeID: params.TeamNodeID,
		IdentifierType: params.IdentifierType, IdentifierValue: params.IdentifierValue,
		CreatedAt: time.Now(),
	}
	m.idents[key] = ident
	return ident, nil
}

func (m *memStore) GetRoutingIdentifier(_ context.Context, orgID uuid.UUID, identType, value string) (orgdb.RoutingIdentifier, error) {
	ident, ok := m.idents[identKey(orgID, identType, value)]
	if !ok {
		return orgdb.RoutingIdentifier{}, fmt.Errorf("routing identifier: %w", orgdb.ErrNotFound)
	}
	return ident, nil
}

func (m *memStore) ListRoutingIdentifiersForTeam(_ context.Context, orgID, teamNodeID uuid.UUID) ([]orgdb.RoutingIdentifier, error) {
	var out []orgdb.RoutingIdentifier
	for _, ident := range m.idents {
		if ident.OrgID == orgID && ident.TeamNodeID == teamNodeID {
			out = append(out, ident)
		}
	}
	return out, nil
}

const testCatalog = `
capabilities:
  - id: slack
    kind: integration
  - id: notify
    kind: tool
    requires: [slack]
`

type testEnv struct {
	store     *memStore
	authority *tokenauth.Authority
	handler   http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := newMemStore()

	catalog, err := capability.ParseCatalog([]byte(testCatalog))
	require.NoError(t, err)
	configs := configsvc.New(store, capability.NewValidator(catalog), effcache.NoopBackend{})
	t.Cleanup(configs.Stop)

	authority, err := tokenauth.NewAuthority(store, "test-pepper", "root-secret")
	require.NoError(t, err)

	svc := NewService(":0", configs, authority, routing.NewIndex(store, nil))
	return &testEnv{store: store, authority: authority, handler: svc.Handler()}
}

func (e *testEnv) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)
	orgID := uuid.New()
	nodeID := env.store.addNode(orgID, orgdb.NodeTypeOrg, nil)
	path := fmt.Sprintf("/api/v1/orgs/%s/nodes/%s/config", orgID, nodeID)

	rec := env.do(t, http.MethodGet, path, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, path, "nonsense-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, path, "root-secret", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWhoami(t *testing.T) {
	env := newTestEnv(t)
	orgID := uuid.New()
	teamID := env.store.addNode(orgID, orgdb.NodeTypeTeam, nil)

	rec := env.do(t, http.MethodGet, "/api/v1/auth/whoami", "root-secret", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "global_admin", decodeBody(t, rec)["kind"])

	issued, err := env.authority.IssueTeam(context.Background(), orgID, teamID, []string{"config:read"})
	require.NoError(t, err)
	rec = env.do(t, http.MethodGet, "/api/v1/auth/whoami", issued.Plaintext, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "team", body["kind"])
	assert.Equal(t, teamID.String(), body["team_node_id"])
}

func TestConfigPatchAndRead(t *testing.T) {
	env := newTestEnv(t)
	orgID := uuid.New()
	root := env.store.addNode(orgID, orgdb.NodeTypeOrg, nil)
	team := env.store.addNode(orgID, orgdb.NodeTypeTeam, &root)

	rootPath := fmt.Sprintf("/api/v1/orgs/%s/nodes/%s/config", orgID, root)
	teamPath := fmt.Sprintf("/api/v1/orgs/%s/nodes/%s/config", orgID, team)

	rec := env.do(t, http.MethodPatch, rootPath, "root-secret",
		map[string]any{"tools": map[string]any{"a": true, "b": true}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["version"])

	rec = env.do(t, http.MethodPatch, teamPath, "root-secret",
		map[string]any{"tools": map[string]any{"b": false, "c": true}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, teamPath, "root-secret", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	config := decodeBody(t, rec)["config"].(map[string]any)
	assert.Equal(t, map[string]any{"a": true, "b": false, "c": true}, config["tools"])

	// Raw stays the node's own deltas.
	rec = env.do(t, http.MethodGet, teamPath+"/raw", "root-secret", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	overrides := decodeBody(t, rec)["overrides"].(map[string]any)
	assert.Equal(t, map[string]any{"b": false, "c": true}, overrides["tools"])
}

func TestPatchDependencyConflict(t *testing.T) {
	env := newTestEnv(t)
	orgID := uuid.New()
	root := env.store.addNode(orgID, orgdb.NodeTypeOrg, nil)
	path := fmt.Sprintf("/api/v1/orgs/%s/nodes/%s/config", orgID, root)

	rec := env.do(t, http.MethodPatch, path, "root-secret",
		map[string]any{"integrations": map[string]any{"slack": true}, "tools": map[string]any{"notify": true}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPatch, path, "root-secret",
		map[string]any{"integrations": map[string]any{"slack": false}})
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "dependency_validation_failed", body["error"])
	require.Len(t, body["violations"], 1)

	// The dry run reports the same violation with a 200.
	rec = env.do(t, http.MethodPost, path+"/validate", "root-secret",
		map[string]any{"integrations": map[string]any{"slack": false}})
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, false, body["valid"])
}

func TestPatchMalformedDelta(t *testing.T) {
	env := newTestEnv(t)
	orgID := uuid.New()
	root := env.store.addNode(orgID, orgdb.NodeTypeOrg, nil)
	path := fmt.Sprintf("/api/v1/orgs/%s/nodes/%s/config", orgID, root)

	rec := env.do(t, http.MethodPatch, path, "root-secret", []any{1, 2})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "malformed_delta", decodeBody(t, rec)["error"])
}

func TestTeamTokenScoping(t *testing.T) {
	env := newTestEnv(t)
	orgID := uuid.New()
	root := env.store.addNode(orgID, orgdb.NodeTypeOrg, nil)
	team := env.store.addNode(orgID, orgdb.NodeTypeTeam, &root)
	otherTeam := env.store.addNode(orgID, orgdb.NodeTypeTeam, &root)

	issued, err := env.authority.IssueTeam(context.Background(), orgID, team, []string{permConfigWrite})
	require.NoError(t, err)

	ownPath := fmt.Sprintf("/api/v1/orgs/%s/nodes/%s/config", orgID, team)
	otherPath := fmt.Sprintf("/api/v1/orgs/%s/nodes/%s/config", orgID, otherTeam)

	rec := env.do(t, http.MethodPatch, ownPath, issued.Plaintext, map[string]any{"region": "us"})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Valid credential, wrong scope: 403, not 401.
	rec = env.do(t, http.MethodPatch, otherPath, issued.Plaintext, map[string]any{"region": "us"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// A token without the write permission cannot patch its own node.
	readOnly, err := env.authority.IssueTeam(context.Background(), orgID, team, nil)
	require.NoError(t, err)
	rec = env.do(t, http.MethodPatch, ownPath, readOnly.Plaintext, map[string]any{"region": "us"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(t, http.MethodGet, ownPath, readOnly.Plaintext, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Team tokens cannot issue or revoke tokens.
	rec = env.do(t, http.MethodPost, "/api/v1/tokens", issued.Plaintext,
		map[string]any{"org_id": orgID})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestTokenLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	orgID := uuid.New()
	env.store.addNode(orgID, orgdb.NodeTypeOrg, nil)

	rec := env.do(t, http.MethodPost, "/api/v1/tokens", "root-secret",
		map[string]any{"org_id": orgID})
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)
	plaintext := body["token"].(string)
	tokenID := body["token_id"].(string)

	rec = env.do(t, http.MethodGet, "/api/v1/auth/whoami", plaintext, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "org_admin", decodeBody(t, rec)["kind"])

	rec = env.do(t, http.MethodDelete, "/api/v1/tokens/"+tokenID, "root-secret", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/auth/whoami", plaintext, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/v1/tokens/"+tokenID, "root-secret", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoutingOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	orgID := uuid.New()
	root := env.store.addNode(orgID, orgdb.NodeTypeOrg, nil)
	teamA := env.store.addNode(orgID, orgdb.NodeTypeTeam, &root)
	teamB := env.store.addNode(orgID, orgdb.NodeTypeTeam, &root)

	register := map[string]any{
		"org_id": orgID, "team_node_id": teamA,
		"identifier_type": "slack_channel_id", "identifier_value": "C123",
	}
	rec := env.do(t, http.MethodPost, "/api/v1/routing/identifiers", "root-secret", register)
	require.Equal(t, http.StatusCreated, rec.Code)

	register["team_node_id"] = teamB
	rec = env.do(t, http.MethodPost, "/api/v1/routing/identifiers", "root-secret", register)
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "duplicate_routing_identifier", body["error"])
	assert.Equal(t, teamA.String(), body["conflicting_team"])

	rec = env.do(t, http.MethodPost, "/api/v1/routing/lookup", "root-secret",
		map[string]any{"org_id": orgID, "identifiers": map[string]string{"slack_channel_id": "C123"}})
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, true, body["found"])
	assert.Equal(t, teamA.String(), body["team_node_id"])
	assert.Equal(t, "slack_channel_id", body["matched_by"])

	rec = env.do(t, http.MethodPost, "/api/v1/routing/lookup", "root-secret",
		map[string]any{"org_id": orgID, "identifiers": map[string]string{"slack_channel_id": "C999"}})
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, false, body["found"])
	assert.Equal(t, []any{"slack_channel_id"}, body["tried"])
}

func TestCrossOrgIsolation(t *testing.T) {
	env := newTestEnv(t)
	orgA := uuid.New()
	orgB := uuid.New()
	rootA := env.store.addNode(orgA, orgdb.NodeTypeOrg, nil)
	env.store.addNode(orgB, orgdb.NodeTypeOrg, nil)

	adminB, err := env.authority.IssueOrgAdmin(context.Background(), orgB)
	require.NoError(t, err)

	path := fmt.Sprintf("/api/v1/orgs/%s/nodes/%s/config", orgA, rootA)
	rec := env.do(t, http.MethodGet, path, adminB.Plaintext, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/tokens", adminB.Plaintext,
		map[string]any{"org_id": orgA})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUnknownNode404(t *testing.T) {
	env := newTestEnv(t)
	orgID := uuid.New()
	env.store.addNode(orgID, orgdb.NodeTypeOrg, nil)

	path := fmt.Sprintf("/api/v1/orgs/%s/nodes/%s/config", orgID, uuid.New())
	rec := env.do(t, http.MethodGet, path, "root-secret", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
