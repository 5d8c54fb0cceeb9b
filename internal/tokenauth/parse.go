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

// Package tokenauth issues, verifies, and revokes bearer credentials and
// resolves each one to a tenant-scoped principal.
package tokenauth

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// TokenKind tags the structural form of a parsed bearer token.
type TokenKind int

const (
	// TokenKindGlobalAdmin is the operator-configured well-known secret
	// with no embedded structure.
	TokenKindGlobalAdmin TokenKind = iota
	// TokenKindOrgAdmin is "oadm_<org-uuid>_<secret>".
	TokenKindOrgAdmin
	// TokenKindTeam is "team_<org-uuid>_<team-node-uuid>_<secret>".
	TokenKindTeam
)

func (k TokenKind) String() string {
	switch k {
	case TokenKindGlobalAdmin:
		return "global_admin"
	case TokenKindOrgAdmin:
		return "org_admin"
	case TokenKindTeam:
		return "team"
	default:
		return "unknown"
	}
}

const (
	orgAdminPrefix = "oadm_"
	teamPrefix     = "team_"
)

// ParsedToken is the result of structurally parsing a bearer string,
// before any credential verification has happened.
type ParsedToken struct {
	Kind       TokenKind
	OrgID      uuid.UUID
	TeamNodeID uuid.UUID
	Secret     string
}

// ParseBearer classifies a bearer string into an explicit token kind.
// Anything that does not carry a structured prefix is treated as a
// candidate global-admin secret; whether it verifies is decided later,
// never by counting separators.
func ParseBearer(bearer string) (ParsedToken, error) {
	switch {
	case strings.HasPrefix(bearer, orgAdminPrefix):
		rest := strings.TrimPrefix(bearer, orgAdminPrefix)
		orgPart, secret, ok := strings.Cut(rest, "_")
		if !ok || secret == "" {
			return ParsedToken{}, fmt.Errorf("malformed org-admin token")
		}
		orgID, err := uuid.Parse(orgPart)
		if err != nil {
			return ParsedToken{}, fmt.Errorf("malformed org-admin token: bad org id")
		}
		return ParsedToken{Kind: TokenKindOrgAdmin, OrgID: orgID, Secret: secret}, nil

	case strings.HasPrefix(bearer, teamPrefix):
		rest := strings.TrimPrefix(bearer, teamPrefix)
		orgPart, rest, ok := strings.Cut(rest, "_")
		if !ok {
			return ParsedToken{}, fmt.Errorf("malformed team token")
		}
		nodePart, secret, ok := strings.Cut(rest, "_")
		if !ok || secret == "" {
			return ParsedToken{}, fmt.Errorf("malformed team token")
		}
		orgID, err := uuid.Parse(orgPart)
		if err != nil {
			return ParsedToken{}, fmt.Errorf("malformed team token: bad org id")
		}
		nodeID, err := uuid.Parse(nodePart)
		if err != nil {
			return ParsedToken{}, fmt.Errorf("malformed team token: bad team node id")
		}
		return ParsedToken{Kind: TokenKindTeam, OrgID: orgID, TeamNodeID: nodeID, Secret: secret}, nil

	case bearer != "":
		return ParsedToken{Kind: TokenKindGlobalAdmin, Secret: bearer}, nil

	default:
		return ParsedToken{}, fmt.Errorf("empty bearer token")
	}
}
