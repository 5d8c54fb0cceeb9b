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

package capability

import (
	"fmt"
	"strings"

	"github.com/cardinalhq/orgcore/internal/structval"
)

// Violation reports one violated dependency edge: a requirement that is
// disabled while one or more dependents remain enabled. Dependents carries
// every offender so callers can resolve all of them in one pass.
type Violation struct {
	Edge        Edge     `json:"violated_edge"`
	Requirement string   `json:"requirement"`
	Dependents  []string `json:"dependents"`
}

// ValidationError is returned when a tentative effective configuration
// violates the dependency graph.
type ValidationError struct {
	Violations []Violation `json:"violations"`
}

func (e *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString("dependency validation failed: ")
	for i, v := range e.Violations {
		if i > 0 {
			sb.WriteString("; ")
		}
		fmt.Fprintf(&sb, "%s %q is disabled but required by enabled %s", v.Edge.From, v.Requirement, strings.Join(v.Dependents, ", "))
	}
	return sb.String()
}

// Validator checks tentative effective configurations against the catalog.
type Validator struct {
	catalog *Catalog
}

func NewValidator(catalog *Catalog) *Validator {
	return &Validator{catalog: catalog}
}

// Check inspects a tentative effective configuration and returns every
// dependency violation it contains. A nil return means the configuration
// is admissible. Check never mutates anything; committing is the caller's
// concern and must re-run Check inside the committing transaction.
func (v *Validator) Check(effective structval.Value) []Violation {
	type key struct {
		edge Edge
		req  string
	}
	grouped := map[key][]string{}
	var order []key

	for _, id := range v.catalog.IDs() {
		depKind, _ := v.catalog.KindOf(id)
		if !enabled(effective, depKind, id) {
			continue
		}
		for _, req := range v.catalog.Requirements(id) {
			reqKind, ok := v.catalog.KindOf(req)
			if !ok {
				continue
			}
			if enabled(effective, reqKind, req) {
				continue
			}
			k := key{edge: Edge{From: reqKind, To: depKind}, req: req}
			if _, seen := grouped[k]; !seen {
				order = append(order, k)
			}
			grouped[k] = append(grouped[k], id)
		}
	}

	if len(order) == 0 {
		return nil
	}
	out := make([]Violation, 0, len(order))
	for _, k := range order {
		out = append(out, Violation{Edge: k.edge, Requirement: k.req, Dependents: grouped[k]})
	}
	return out
}

// CheckErr wraps Check in a *ValidationError when violations exist.
func (v *Validator) CheckErr(effective structval.Value) error {
	violations := v.Check(effective)
	if len(violations) == 0 {
		return nil
	}
	return &ValidationError{Violations: violations}
}

// enabled resolves the enable state of a capability from the effective
// configuration. Entries are either a plain boolean or a map with an
// "enabled" boolean; anything absent or malformed counts as disabled.
func enabled(effective structval.Value, kind Kind, id string) bool {
	section, ok := effective.Get(kind.SectionKey())
	if !ok {
		return false
	}
	entry, ok := section.Get(id)
	if !ok {
		return false
	}
	if b, ok := entry.AsBool(); ok {
		return b
	}
	if entry.IsMap() {
		flag, ok := entry.Get("enabled")
		if !ok {
			return false
		}
		b, _ := flag.AsBool()
		return b
	}
	return false
}
