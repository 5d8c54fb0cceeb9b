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

// Package routing resolves external event identifiers to the single team
// that claims them within an org.
package routing

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/cardinalhq/orgcore/orgdb"
)

// DefaultPriority orders identifier types from most specific to most
// generic. Lookup tries the caller's identifiers in this order; types not
// listed here are tried after all known ones, lexically, so resolution
// stays deterministic.
var DefaultPriority = []string{
	"slack_thread_ts",
	"slack_channel_id",
	"github_repository",
	"jira_project_key",
	"pagerduty_service_id",
	"email_address",
	"email_domain",
}

// IdentifierStore is the persistence surface the index needs. *orgdb.Store
// satisfies it.
type IdentifierStore interface {
	InsertRoutingIdentifier(ctx context.Context, params orgdb.InsertRoutingIdentifierParams) (orgdb.RoutingIdentifier, error)
	GetRoutingIdentifier(ctx context.Context, orgID uuid.UUID, identifierType, identifierValue string) (orgdb.RoutingIdentifier, error)
	ListRoutingIdentifiersForTeam(ctx context.Context, orgID, teamNodeID uuid.UUID) ([]orgdb.RoutingIdentifier, error)
	GetOrgNode(ctx context.Context, orgID, nodeID uuid.UUID) (orgdb.OrgNode, error)
}

// Index registers and resolves routing identifiers for one deployment.
type Index struct {
	store    IdentifierStore
	priority []string
	rank     map[string]int
}

// NewIndex builds an index with the given type priority. A nil priority
// uses DefaultPriority.
func NewIndex(store IdentifierStore, priority []string) *Index {
	if priority == nil {
		priority = DefaultPriority
	}
	rank := make(map[string]int, len(priority))
	for i, identType := range priority {
		rank[identType] = i
	}
	return &Index{store: store, priority: priority, rank: rank}
}

// Register claims (identifierType, value) for teamNodeID within orgID. The
// team must be a live team node. A conflicting claim surfaces as
// *orgdb.DuplicateIdentifierError from the database constraint.
func (idx *Index) Register(ctx context.Context, orgID, teamNodeID uuid.UUID, identifierType, value string) (orgdb.RoutingIdentifier, error) {
	if identifierType == "" || value == "" {
		return orgdb.RoutingIdentifier{}, fmt.Errorf("identifier type and value must not be empty")
	}
	node, err := idx.store.GetOrgNode(ctx, orgID, teamNodeID)
	if err != nil {
		return orgdb.RoutingIdentifier{}, err
	}
	if node.NodeType != orgdb.NodeTypeTeam {
		return orgdb.RoutingIdentifier{}, fmt.Errorf("node %s is a %s, not a team", teamNodeID, node.NodeType)
	}
	if node.DeletedAt != nil {
		return orgdb.RoutingIdentifier{}, fmt.Errorf("team %s: %w", teamNodeID, orgdb.ErrNotFound)
	}
	return idx.store.InsertRoutingIdentifier(ctx, orgdb.InsertRoutingIdentifierParams{
		OrgID:           orgID,
		TeamNodeID:      teamNodeID,
		IdentifierType:  identifierType,
		IdentifierValue: value,
	})
}

// Match is a successful lookup. MatchedBy names the identifier type that
// resolved.
type Match struct {
	Found      bool
	OrgID      uuid.UUID
	TeamNodeID uuid.UUID
	MatchedBy  string
	Tried      []string // types attempted, in attempt order
}

// Lookup tries each supplied identifier in priority order and returns the
// first registered match. A miss reports every type that was attempted so
// the caller can log what the event carried.
func (idx *Index) Lookup(ctx context.Context, orgID uuid.UUID, identifiers map[string]string) (Match, error) {
	ordered := make([]string, 0, len(identifiers))
	for identType := range identifiers {
		ordered = append(ordered, identType)
	}
	slices.SortFunc(ordered, func(a, b string) int {
		ra, aKnown := idx.rank[a]
		rb, bKnown := idx.rank[b]
		switch {
		case aKnown && bKnown:
			return ra - rb
		case aKnown:
			return -1
		case bKnown:
			return 1
		default:
			return strings.Compare(a, b)
		}
	})

	tried := make([]string, 0, len(ordered))
	for _, identType := range ordered {
		tried = append(tried, identType)
		ident, err := idx.store.GetRoutingIdentifier(ctx, orgID, identType, identifiers[identType])
		if errors.Is(err, orgdb.ErrNotFound) {
			continue
		}
		if err != nil {
			return Match{}, err
		}
		return Match{
			Found:      true,
			OrgID:      ident.OrgID,
			TeamNodeID: ident.TeamNodeID,
			MatchedBy:  identType,
			Tried:      tried,
		}, nil
	}
	return Match{Tried: tried}, nil
}

// ListForTeam returns every identifier a team has claimed.
func (idx *Index) ListForTeam(ctx context.Context, orgID, teamNodeID uuid.UUID) ([]orgdb.RoutingIdentifier, error) {
	return idx.store.ListRoutingIdentifiersForTeam(ctx, orgID, teamNodeID)
}
