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

package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/orgcore/apiserver"
	"github.com/cardinalhq/orgcore/config"
	"github.com/cardinalhq/orgcore/internal/capability"
	"github.com/cardinalhq/orgcore/internal/configsvc"
	"github.com/cardinalhq/orgcore/internal/debugging"
	"github.com/cardinalhq/orgcore/internal/effcache"
	"github.com/cardinalhq/orgcore/internal/healthcheck"
	"github.com/cardinalhq/orgcore/internal/routing"
	"github.com/cardinalhq/orgcore/internal/tokenauth"
	"github.com/cardinalhq/orgcore/orgdb"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "start the org API server",
		RunE: func(_ *cobra.Command, _ []string) error {
			servicename := "orgcore-api"
			addlAttrs := attribute.NewSet()
			ctx, doneFx, err := setupTelemetry(servicename, &addlAttrs)
			if err != nil {
				return fmt.Errorf("failed to setup telemetry: %w", err)
			}

			defer func() {
				if err := doneFx(); err != nil {
					slog.Error("Error shutting down telemetry", slog.Any("error", err))
				}
			}()

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			// Start pprof server
			go debugging.RunPprof(ctx)

			// Start health check server
			healthConfig := healthcheck.GetConfigFromEnv()
			healthServer := healthcheck.NewServer(healthConfig)

			group, ctx := errgroup.WithContext(ctx)
			group.Go(func() error {
				return healthServer.Start(ctx)
			})

			// Mark as healthy immediately - health is not dependent on database readiness
			healthServer.SetStatus(healthcheck.StatusHealthy)

			store, err := orgdb.OrgDBStore(ctx)
			if err != nil {
				slog.Error("Failed to connect to org database", slog.Any("error", err))
				return fmt.Errorf("failed to connect to org database: %w", err)
			}
			defer store.Close()

			catalog, err := capability.LoadCatalog(cfg.Capability.CatalogPath)
			if err != nil {
				return fmt.Errorf("failed to load capability catalog: %w", err)
			}

			var backend effcache.Backend
			switch cfg.Cache.Backend {
			case "redis":
				backend = effcache.NewRedisBackend(cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.TTL)
			case "none":
				backend = effcache.NoopBackend{}
			default:
				backend = effcache.NewLocalBackend(cfg.Cache.TTL)
			}

			configs := configsvc.New(store, capability.NewValidator(catalog), backend)
			defer configs.Stop()

			authority, err := tokenauth.NewAuthority(store, cfg.Auth.Pepper, cfg.Auth.GlobalAdminSecret)
			if err != nil {
				return fmt.Errorf("failed to create token authority: %w", err)
			}

			index := routing.NewIndex(store, nil)

			// Mark as ready now that database connections are established and migrations have been checked
			healthServer.SetReady(true)

			service := apiserver.NewService(cfg.API.Addr, configs, authority, index)
			group.Go(func() error {
				return service.Run(ctx)
			})
			return group.Wait()
		},
	}

	rootCmd.AddCommand(cmd)
}
