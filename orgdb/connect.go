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
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cardinalhq/orgcore/internal/dbopen"
	orgdbmigrations "github.com/cardinalhq/orgcore/orgdb/migrations"
)

// ConnectToOrgDB opens the authoritative datastore using ORGDB_* environment
// variables and gates on the expected migration version.
func ConnectToOrgDB(ctx context.Context) (*pgxpool.Pool, error) {
	connectionString, err := dbopen.GetDatabaseURLFromEnv("ORGDB")
	if err != nil {
		return nil, errors.Join(dbopen.ErrDatabaseNotConfigured, fmt.Errorf("failed to get ORGDB connection string: %w", err))
	}

	pool, err := dbopen.NewConnectionPool(ctx, connectionString, "orgdb")
	if err != nil {
		return nil, err
	}

	if err := orgdbmigrations.CheckExpectedVersion(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ORGDB migration version check failed: %w", err)
	}

	return pool, nil
}

// ConnectToOrgDBForMigrations opens the datastore without the migration
// version gate, which cannot pass before migrations have run.
func ConnectToOrgDBForMigrations(ctx context.Context) (*pgxpool.Pool, error) {
	connectionString, err := dbopen.GetDatabaseURLFromEnv("ORGDB")
	if err != nil {
		return nil, errors.Join(dbopen.ErrDatabaseNotConfigured, fmt.Errorf("failed to get ORGDB connection string: %w", err))
	}
	return dbopen.NewConnectionPool(ctx, connectionString, "orgdb")
}

// OrgDBStore connects and wraps the pool in a Store.
func OrgDBStore(ctx context.Context) (*Store, error) {
	pool, err := ConnectToOrgDB(ctx)
	if err != nil {
		return nil, err
	}
	return NewStore(pool), nil
}
