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

// Package confmerge computes effective configurations by folding override
// layers from the org root down to a target node. Deeper layers win.
package confmerge

import (
	"github.com/cardinalhq/orgcore/internal/structval"
)

// Merge combines a base value with an override. If either side is not a
// key map the override wins outright; lists are replaced wholesale, never
// merged element-wise. When both sides are maps the merge recurses per key.
// The inputs are not mutated.
func Merge(base, override structval.Value) structval.Value {
	if !base.IsMap() || !override.IsMap() {
		return override.Clone()
	}

	out := structval.NewMap()
	for _, k := range base.Keys() {
		bv, _ := base.Get(k)
		if ov, ok := override.Get(k); ok {
			out.Set(k, Merge(bv, ov))
		} else {
			out.Set(k, bv.Clone())
		}
	}
	for _, k := range override.Keys() {
		if _, ok := base.Get(k); ok {
			continue
		}
		ov, _ := override.Get(k)
		out.Set(k, ov.Clone())
	}
	return out
}

// Effective folds Merge left to right over override layers ordered root
// first, target node last. An empty layer list yields an empty map.
func Effective(layers []structval.Value) structval.Value {
	acc := structval.NewMap()
	for _, layer := range layers {
		acc = Merge(acc, layer)
	}
	return acc
}
