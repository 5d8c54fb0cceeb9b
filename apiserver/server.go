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

// Package apiserver exposes the control-plane operations over HTTP.
package apiserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/cardinalhq/orgcore/internal/configsvc"
	"github.com/cardinalhq/orgcore/internal/routing"
	"github.com/cardinalhq/orgcore/internal/tokenauth"
)

// Service wires the configuration service, token authority, and routing
// index behind the HTTP API.
type Service struct {
	addr      string
	configs   *configsvc.Service
	authority *tokenauth.Authority
	index     *routing.Index
}

func NewService(addr string, configs *configsvc.Service, authority *tokenauth.Authority, index *routing.Index) *Service {
	return &Service{
		addr:      addr,
		configs:   configs,
		authority: authority,
		index:     index,
	}
}

// Handler builds the route table. Split from Run so tests can drive it
// through httptest.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/orgs/{org_id}/nodes/{node_id}/config", s.bearerMiddleware(s.handleGetEffectiveConfig))
	mux.HandleFunc("GET /api/v1/orgs/{org_id}/nodes/{node_id}/config/raw", s.bearerMiddleware(s.handleGetRawConfig))
	mux.HandleFunc("PATCH /api/v1/orgs/{org_id}/nodes/{node_id}/config", s.bearerMiddleware(s.handlePatchConfig))
	mux.HandleFunc("POST /api/v1/orgs/{org_id}/nodes/{node_id}/config/validate", s.bearerMiddleware(s.handleValidateConfig))

	mux.HandleFunc("POST /api/v1/tokens", s.bearerMiddleware(s.handleIssueToken))
	mux.HandleFunc("GET /api/v1/tokens", s.bearerMiddleware(s.handleListTokens))
	mux.HandleFunc("DELETE /api/v1/tokens/{token_id}", s.bearerMiddleware(s.handleRevokeToken))
	mux.HandleFunc("GET /api/v1/auth/whoami", s.bearerMiddleware(s.handleWhoami))

	mux.HandleFunc("POST /api/v1/routing/identifiers", s.bearerMiddleware(s.handleRegisterIdentifier))
	mux.HandleFunc("POST /api/v1/routing/lookup", s.bearerMiddleware(s.handleLookupRouting))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return mux
}

// Run serves until doneCtx is cancelled, then shuts down gracefully.
func (s *Service) Run(doneCtx context.Context) error {
	slog.Info("Starting org API service", slog.String("addr", s.addr))

	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Failed to start HTTP server", slog.Any("error", err))
		}
	}()

	<-doneCtx.Done()

	slog.Info("Shutting down org API service")
	if err := srv.Shutdown(context.Background()); err != nil {
		slog.Error("Failed to shutdown HTTP server", slog.Any("error", err))
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}
