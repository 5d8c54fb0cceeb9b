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
	"context"
	"net/http"
	"strings"

	"github.com/cardinalhq/orgcore/internal/tokenauth"
)

type contextKey string

const principalContextKey contextKey = "principal"

// bearerMiddleware validates the Authorization bearer token and adds the
// resolved principal to the request context. Every failure is the same
// opaque 401.
func (s *Service) bearerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		bearer, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || bearer == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		principal, err := s.authority.Validate(r.Context(), bearer)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		r = r.WithContext(context.WithValue(r.Context(), principalContextKey, principal))
		next(w, r)
	}
}

func principalFromContext(ctx context.Context) (tokenauth.Principal, bool) {
	principal, ok := ctx.Value(principalContextKey).(tokenauth.Principal)
	return principal, ok
}
