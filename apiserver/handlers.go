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
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/cardinalhq/orgcore/internal/capability"
	"github.com/cardinalhq/orgcore/internal/configsvc"
	"github.com/cardinalhq/orgcore/internal/structval"
	"github.com/cardinalhq/orgcore/internal/tokenauth"
	"github.com/cardinalhq/orgcore/orgdb"
)

const (
	permConfigWrite  = "config:write"
	permRoutingWrite = "routing:write"

	maxBodyBytes = 1 << 20
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps domain errors onto the HTTP taxonomy.
func writeError(w http.ResponseWriter, err error) {
	var valErr *capability.ValidationError
	var dupErr *orgdb.DuplicateIdentifierError

	switch {
	case errors.Is(err, orgdb.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not_found"})
	case errors.Is(err, tokenauth.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
	case errors.As(err, &valErr):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":      "dependency_validation_failed",
			"violations": valErr.Violations,
		})
	case errors.As(err, &dupErr):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":            "duplicate_routing_identifier",
			"identifier_type":  dupErr.IdentifierType,
			"identifier_value": dupErr.IdentifierValue,
			"conflicting_team": dupErr.ConflictingTeam,
		})
	case errors.Is(err, orgdb.ErrConcurrentModification):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":     "concurrent_modification",
			"retryable": true,
		})
	case errors.Is(err, configsvc.ErrMalformedDelta):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "malformed_delta"})
	default:
		slog.Error("Request failed", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal"})
	}
}

func writeForbidden(w http.ResponseWriter) {
	writeJSON(w, http.StatusForbidden, map[string]any{"error": "forbidden"})
}

// pathOrgNode parses the org and node path segments.
func pathOrgNode(r *http.Request) (uuid.UUID, uuid.UUID, error) {
	orgID, err := uuid.Parse(r.PathValue("org_id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, errors.New("invalid org_id")
	}
	nodeID, err := uuid.Parse(r.PathValue("node_id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, errors.New("invalid node_id")
	}
	return orgID, nodeID, nil
}

func (s *Service) handleGetEffectiveConfig(w http.ResponseWriter, r *http.Request) {
	orgID, nodeID, err := pathOrgNode(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	principal, _ := principalFromContext(r.Context())
	if !principal.AllowsNode(orgID, nodeID) {
		writeForbidden(w)
		return
	}

	effective, err := s.configs.GetEffective(r.Context(), orgID, nodeID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"org_id":  orgID,
		"node_id": nodeID,
		"config":  effective,
	})
}

func (s *Service) handleGetRawConfig(w http.ResponseWriter, r *http.Request) {
	orgID, nodeID, err := pathOrgNode(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	principal, _ := principalFromContext(r.Context())
	if !principal.AllowsNode(orgID, nodeID) {
		writeForbidden(w)
		return
	}

	cfg, err := s.configs.GetRaw(r.Context(), orgID, nodeID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"org_id":     orgID,
		"node_id":    nodeID,
		"overrides":  cfg.Overrides,
		"version":    cfg.Version,
		"updated_at": cfg.UpdatedAt,
		"updated_by": cfg.UpdatedBy,
	})
}

// readDelta decodes a request body into a structured value. A body that is
// not valid JSON maps to the malformed-delta error.
func readDelta(r *http.Request) (structval.Value, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return structval.Value{}, err
	}
	delta, err := structval.FromJSON(body)
	if err != nil {
		return structval.Value{}, configsvc.ErrMalformedDelta
	}
	return delta, nil
}

func (s *Service) handlePatchConfig(w http.ResponseWriter, r *http.Request) {
	orgID, nodeID, err := pathOrgNode(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	principal, _ := principalFromContext(r.Context())
	if !principal.AllowsNode(orgID, nodeID) || !principal.HasPermission(permConfigWrite) {
		writeForbidden(w)
		return
	}

	delta, err := readDelta(r)
	if err != nil {
		writeError(w, err)
		return
	}

	cfg, err := s.configs.Patch(r.Context(), orgID, nodeID, delta, principal.Actor())
	if err != nil {
		writeError(w, err)
		return
	}
	configPatchCounter.Add(r.Context(), 1)
	writeJSON(w, http.StatusOK, map[string]any{
		"org_id":     orgID,
		"node_id":    nodeID,
		"version":    cfg.Version,
		"updated_at": cfg.UpdatedAt,
	})
}

func (s *Service) handleValidateConfig(w http.ResponseWriter, r *http.Request) {
	orgID, nodeID, err := pathOrgNode(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	principal, _ := principalFromContext(r.Context())
	if !principal.AllowsNode(orgID, nodeID) {
		writeForbidden(w)
		return
	}

	delta, err := readDelta(r)
	if err != nil {
		writeError(w, err)
		return
	}

	violations, err := s.configs.Validate(r.Context(), orgID, nodeID, delta)
	if err != nil {
		writeError(w, err)
		return
	}
	if violations == nil {
		violations = []capability.Violation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":      len(violations) == 0,
		"violations": violations,
	})
}

type issueTokenRequest struct {
	OrgID       uuid.UUID  `json:"org_id"`
	TeamNodeID  *uuid.UUID `json:"team_node_id,omitempty"`
	Permissions []string   `json:"permissions,omitempty"`
}

func (s *Service) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	if principal.Kind == tokenauth.TokenKindTeam {
		writeForbidden(w)
		return
	}

	var req issueTokenRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
		return
	}
	if req.OrgID == uuid.Nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "org_id is required"})
		return
	}
	if !principal.AllowsOrg(req.OrgID) {
		writeForbidden(w)
		return
	}

	var issued tokenauth.IssuedToken
	var err error
	if req.TeamNodeID != nil {
		issued, err = s.authority.IssueTeam(r.Context(), req.OrgID, *req.TeamNodeID, req.Permissions)
	} else {
		issued, err = s.authority.IssueOrgAdmin(r.Context(), req.OrgID)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	tokenIssuedCounter.Add(r.Context(), 1)

	// The plaintext appears in this response and nowhere else.
	writeJSON(w, http.StatusCreated, map[string]any{
		"token_id":     issued.Token.TokenID,
		"org_id":       issued.Token.OrgID,
		"team_node_id": issued.Token.TeamNodeID,
		"permissions":  issued.Token.Permissions,
		"issued_at":    issued.Token.IssuedAt,
		"token":        issued.Plaintext,
	})
}

type tokenView struct {
	TokenID     uuid.UUID  `json:"token_id"`
	OrgID       uuid.UUID  `json:"org_id"`
	TeamNodeID  *uuid.UUID `json:"team_node_id,omitempty"`
	Permissions []string   `json:"permissions,omitempty"`
	IssuedAt    time.Time  `json:"issued_at"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
}

func (s *Service) handleListTokens(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	if principal.Kind == tokenauth.TokenKindTeam {
		writeForbidden(w)
		return
	}

	orgID := principal.OrgID
	if raw := r.URL.Query().Get("org_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid org_id"})
			return
		}
		orgID = parsed
	}
	if orgID == uuid.Nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "org_id is required"})
		return
	}
	if !principal.AllowsOrg(orgID) {
		writeForbidden(w)
		return
	}

	tokens, err := s.authority.List(r.Context(), orgID)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]tokenView, 0, len(tokens))
	for _, token := range tokens {
		views = append(views, tokenView{
			TokenID:     token.TokenID,
			OrgID:       token.OrgID,
			TeamNodeID:  token.TeamNodeID,
			Permissions: token.Permissions,
			IssuedAt:    token.IssuedAt,
			RevokedAt:   token.RevokedAt,
			LastUsedAt:  token.LastUsedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tokens": views})
}

func (s *Service) handleRevokeToken(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	if principal.Kind == tokenauth.TokenKindTeam {
		writeForbidden(w)
		return
	}

	tokenID, err := uuid.Parse(r.PathValue("token_id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid token_id"})
		return
	}

	token, err := s.authority.Get(r.Context(), tokenID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !principal.AllowsOrg(token.OrgID) {
		writeForbidden(w)
		return
	}

	if err := s.authority.Revoke(r.Context(), tokenID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revoked": true})
}

func (s *Service) handleWhoami(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())

	body := map[string]any{"kind": principal.Kind.String()}
	if principal.Kind != tokenauth.TokenKindGlobalAdmin {
		body["org_id"] = principal.OrgID
		body["token_id"] = principal.TokenID
	}
	if principal.TeamNodeID != nil {
		body["team_node_id"] = principal.TeamNodeID
	}
	if len(principal.Permissions) > 0 {
		body["permissions"] = principal.Permissions
	}
	writeJSON(w, http.StatusOK, body)
}

type registerIdentifierRequest struct {
	OrgID           uuid.UUID `json:"org_id"`
	TeamNodeID      uuid.UUID `json:"team_node_id"`
	IdentifierType  string    `json:"identifier_type"`
	IdentifierValue string    `json:"identifier_value"`
}

func (s *Service) handleRegisterIdentifier(w http.ResponseWriter, r *http.Request) {
	var req registerIdentifierRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
		return
	}
	if req.IdentifierType == "" || req.IdentifierValue == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "identifier_type and identifier_value are required"})
		return
	}

	principal, _ := principalFromContext(r.Context())
	if !principal.AllowsNode(req.OrgID, req.TeamNodeID) || !principal.HasPermission(permRoutingWrite) {
		writeForbidden(w)
		return
	}

	ident, err := s.index.Register(r.Context(), req.OrgID, req.TeamNodeID, req.IdentifierType, req.IdentifierValue)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"org_id":           ident.OrgID,
		"team_node_id":     ident.TeamNodeID,
		"identifier_type":  ident.IdentifierType,
		"identifier_value": ident.IdentifierValue,
		"created_at":       ident.CreatedAt,
	})
}

type lookupRequest struct {
	OrgID       uuid.UUID         `json:"org_id,omitempty"`
	Identifiers map[string]string `json:"identifiers"`
}

func (s *Service) handleLookupRouting(w http.ResponseWriter, r *http.Request) {
	var req lookupRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
		return
	}

	principal, _ := principalFromContext(r.Context())
	orgID := req.OrgID
	if orgID == uuid.Nil {
		if principal.Kind == tokenauth.TokenKindGlobalAdmin {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "org_id is required"})
			return
		}
		orgID = principal.OrgID
	}
	if !principal.AllowsOrg(orgID) {
		writeForbidden(w)
		return
	}

	match, err := s.index.Lookup(r.Context(), orgID, req.Identifiers)
	if err != nil {
		writeError(w, err)
		return
	}
	if !match.Found {
		routingMissCounter.Add(r.Context(), 1)
		writeJSON(w, http.StatusOK, map[string]any{
			"found": false,
			"tried": match.Tried,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"found":        true,
		"org_id":       match.OrgID,
		"team_node_id": match.TeamNodeID,
		"matched_by":   match.MatchedBy,
	})
}
