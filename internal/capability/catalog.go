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
	"os"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// Entry is one catalog capability with its declared requirements.
type Entry struct {
	ID       string   `yaml:"id"`
	Kind     string   `yaml:"kind"`
	Requires []string `yaml:"requires,omitempty"`
}

type catalogFile struct {
	Capabilities []Entry `yaml:"capabilities"`
}

// Catalog is the validated, immutable capability catalog.
type Catalog struct {
	order   []string
	entries map[string]catalogEntry
}

type catalogEntry struct {
	id       string
	kind     Kind
	requires []string
}

// LoadCatalog reads and validates a catalog YAML file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read capability catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog validates catalog YAML. All problems are reported together
// rather than one at a time.
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse capability catalog: %w", err)
	}

	cat := &Catalog{entries: make(map[string]catalogEntry, len(file.Capabilities))}
	var errs *multierror.Error

	for _, e := range file.Capabilities {
		if e.ID == "" {
			errs = multierror.Append(errs, fmt.Errorf("catalog entry with empty id"))
			continue
		}
		kind, err := ParseKind(e.Kind)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("capability %q: %w", e.ID, err))
			continue
		}
		if _, dup := cat.entries[e.ID]; dup {
			errs = multierror.Append(errs, fmt.Errorf("duplicate capability id %q", e.ID))
			continue
		}
		cat.entries[e.ID] = catalogEntry{id: e.ID, kind: kind, requires: e.Requires}
		cat.order = append(cat.order, e.ID)
	}

	// Requirement references are checked after all ids are known.
	for _, id := range cat.order {
		entry := cat.entries[id]
		for _, req := range entry.requires {
			target, ok := cat.entries[req]
			if !ok {
				errs = multierror.Append(errs, fmt.Errorf("capability %q requires unknown capability %q", id, req))
				continue
			}
			if !EdgeAllowed(target.kind, entry.kind) {
				errs = multierror.Append(errs, fmt.Errorf("capability %q (%s) may not require %q (%s)", id, entry.kind, req, target.kind))
			}
		}
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return cat, nil
}

// IDs returns every capability id in catalog order.
func (c *Catalog) IDs() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// KindOf returns the kind of a known capability id.
func (c *Catalog) KindOf(id string) (Kind, bool) {
	e, ok := c.entries[id]
	if !ok {
		return "", false
	}
	return e.kind, true
}

// Requirements returns the declared requirement ids for a capability.
func (c *Catalog) Requirements(id string) []string {
	e, ok := c.entries[id]
	if !ok {
		return nil
	}
	return e.requires
}
