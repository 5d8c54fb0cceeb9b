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
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when a node, config, token, or identifier
	// does not exist within the requested org.
	ErrNotFound = errors.New("not found")

	// ErrLineageCycle means a parent walk revisited a node. The creation
	// invariant makes this structurally impossible; hitting it indicates
	// datastore corruption.
	ErrLineageCycle = errors.New("cycle detected in org tree lineage")

	// ErrConcurrentModification means the per-node write lock could not be
	// acquired within the bounded wait, or the transaction lost a
	// serialization race. Callers retry with backoff.
	ErrConcurrentModification = errors.New("concurrent modification conflict")
)

// mapContentionError folds Postgres serialization failures and deadlocks
// into ErrConcurrentModification. At RepeatableRead two writers to different
// nodes of the same org clear their distinct advisory locks and then contend
// on the org_epochs row; the loser aborts with SQLSTATE 40001, which is
// contention, not an internal fault.
func mapContentionError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
			return fmt.Errorf("%w: %s", ErrConcurrentModification, pgErr.Message)
		}
	}
	return err
}

// DuplicateIdentifierError reports a routing identifier already claimed by
// another team in the same org.
type DuplicateIdentifierError struct {
	IdentifierType  string
	IdentifierValue string
	ConflictingTeam uuid.UUID
}

func (e *DuplicateIdentifierError) Error() string {
	return fmt.Sprintf("routing identifier %s=%s already registered to team %s",
		e.IdentifierType, e.IdentifierValue, e.ConflictingTeam)
}
