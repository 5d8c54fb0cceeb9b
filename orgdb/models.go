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
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cardinalhq/orgcore/internal/structval"
)

// NodeType classifies a tenant tree node.
type NodeType string

const (
	NodeTypeOrg  NodeType = "org"
	NodeTypeUnit NodeType = "unit"
	NodeTypeTeam NodeType = "team"
)

func ParseNodeType(s string) (NodeType, error) {
	switch NodeType(s) {
	case NodeTypeOrg, NodeTypeUnit, NodeTypeTeam:
		return NodeType(s), nil
	default:
		return "", fmt.Errorf("unknown node type %q", s)
	}
}

// OrgNode is one node of a tenant tree. Within an org the parent graph is
// a single-rooted tree; exactly one node has a nil ParentID.
type OrgNode struct {
	OrgID     uuid.UUID
	NodeID    uuid.UUID
	NodeType  NodeType
	ParentID  *uuid.UUID
	Name      string
	CreatedAt time.Time
	DeletedAt *time.Time
}

// NodeConfig is a node's own override deltas, never a precomputed merge.
type NodeConfig struct {
	OrgID     uuid.UUID
	NodeID    uuid.UUID
	Overrides structval.Value
	Version   int64
	UpdatedAt time.Time
	UpdatedBy string
}

// Token is a persisted bearer credential. Only the keyed hash is stored;
// the plaintext secret is returned exactly once at issuance. Rows are never
// deleted, only revoked.
type Token struct {
	TokenID     uuid.UUID
	OrgID       uuid.UUID
	TeamNodeID  *uuid.UUID // nil for org-admin tokens
	TokenHash   string
	Permissions []string
	IssuedAt    time.Time
	RevokedAt   *time.Time
	LastUsedAt  *time.Time
}

// RoutingIdentifier maps one external identifier to the single team that
// owns it within an org. (org_id, identifier_type, identifier_value) is
// unique at the database level.
type RoutingIdentifier struct {
	OrgID           uuid.UUID
	TeamNodeID      uuid.UUID
	IdentifierType  string
	IdentifierValue string
	CreatedAt       time.Time
}

// AuditEntry records one configuration mutation. Entries are appended in
// the same transaction as the mutation they describe.
type AuditEntry struct {
	ID         string // ULID
	OrgID      uuid.UUID
	NodeID     uuid.UUID
	Actor      string
	Action     string
	Before     structval.Value
	After      structval.Value
	RecordedAt time.Time
}
