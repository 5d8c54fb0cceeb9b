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

package effcache

import (
	"context"

	"github.com/cardinalhq/orgcore/internal/structval"
)

// NoopBackend disables caching: every read is a miss. Used in tests and
// when operators turn the cache tier off.
type NoopBackend struct{}

var _ Backend = NoopBackend{}

func (NoopBackend) Get(context.Context, string) (structval.Value, bool) {
	return structval.Value{}, false
}

func (NoopBackend) Set(context.Context, string, structval.Value) {}

func (NoopBackend) Stop() {}
