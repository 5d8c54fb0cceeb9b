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

// Package capability holds the static capability catalog and the dependency
// validator that gates configuration writes. The catalog is read-only input
// loaded at startup; nothing in this package is tenant-specific.
package capability

import "fmt"

// Kind is a capability kind in the fixed dependency schema.
type Kind string

const (
	KindIntegration Kind = "integration"
	KindTool        Kind = "tool"
	KindAgent       Kind = "agent"
	KindSubAgent    Kind = "sub_agent"
	KindMCP         Kind = "mcp"
)

// SectionKey is the top-level effective-config key holding enable/disable
// entries for this kind.
func (k Kind) SectionKey() string {
	switch k {
	case KindIntegration:
		return "integrations"
	case KindTool:
		return "tools"
	case KindAgent:
		return "agents"
	case KindSubAgent:
		return "sub_agents"
	case KindMCP:
		return "mcps"
	default:
		return ""
	}
}

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindIntegration, KindTool, KindAgent, KindSubAgent, KindMCP:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown capability kind %q", s)
	}
}

// Edge is a directed dependency edge: entities of kind To may declare
// requirements on entities of kind From.
type Edge struct {
	From Kind `json:"from"`
	To   Kind `json:"to"`
}

func (e Edge) String() string {
	return string(e.From) + "->" + string(e.To)
}

// allowedEdges is the fixed dependency schema: integration->tool->agent,
// mcp->agent, and sub_agent<->agent.
var allowedEdges = map[Edge]struct{}{
	{From: KindIntegration, To: KindTool}: {},
	{From: KindTool, To: KindAgent}:       {},
	{From: KindMCP, To: KindAgent}:        {},
	{From: KindSubAgent, To: KindAgent}:   {},
	{From: KindAgent, To: KindSubAgent}:   {},
}

// EdgeAllowed reports whether entities of kind dependent may require
// entities of kind requirement.
func EdgeAllowed(requirement, dependent Kind) bool {
	_, ok := allowedEdges[Edge{From: requirement, To: dependent}]
	return ok
}
