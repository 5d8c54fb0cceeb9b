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
	"slices"

	"github.com/google/uuid"
)

// Principal is a verified caller identity. OrgID is the zero UUID for
// global admins; TeamNodeID is nil except for team principals.
type Principal struct {
	Kind        TokenKind
	OrgID       uuid.UUID
	TeamNodeID  *uuid.UUID
	TokenID     uuid.UUID
	Permissions []string
}

// AllowsOrg reports whether the principal may operate within the given org.
func (p Principal) AllowsOrg(orgID uuid.UUID) bool {
	if p.Kind == TokenKindGlobalAdmin {
		return true
	}
	return p.OrgID == orgID
}

// AllowsNode reports whether the principal may operate on the given node
// in the given org. Team principals are pinned to their own team node;
// org admins reach any node in their org.
func (p Principal) AllowsNode(orgID, nodeID uuid.UUID) bool {
	if !p.AllowsOrg(orgID) {
		return false
	}
	if p.Kind == TokenKindTeam {
		return p.TeamNodeID != nil && *p.TeamNodeID == nodeID
	}
	return true
}

// Actor is the audit-log identity of the principal.
func (p Principal) Actor() string {
	if p.Kind == TokenKindGlobalAdmin {
		return "global-admin"
	}
	return "token:" + p.TokenID.String()
}

// HasPermission reports whether the principal carries the named permission.
// Global and org admins implicitly hold every permission; team principals
// hold only what was granted at issuance.
func (p Principal) HasPermission(perm string) bool {
	if p.Kind == TokenKindGlobalAdmin || p.Kind == TokenKindOrgAdmin {
		return true
	}
	return slices.Contains(p.Permissions, perm)
}
