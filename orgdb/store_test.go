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
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapContentionError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantMapped bool
	}{
		{
			name:       "serializationFailure",
			err:        &pgconn.PgError{Code: pgerrcode.SerializationFailure, Message: "could not serialize access due to concurrent update"},
			wantMapped: true,
		},
		{
			name:       "deadlockDetected",
			err:        &pgconn.PgError{Code: pgerrcode.DeadlockDetected, Message: "deadlock detected"},
			wantMapped: true,
		},
		{
			name:       "wrappedSerializationFailure",
			err:        fmt.Errorf("commit failed: %w", &pgconn.PgError{Code: pgerrcode.SerializationFailure, Message: "could not serialize access due to concurrent update"}),
			wantMapped: true,
		},
		{
			name:       "uniqueViolationPassesThrough",
			err:        &pgconn.PgError{Code: pgerrcode.UniqueViolation, Message: "duplicate key value"},
			wantMapped: false,
		},
		{
			name:       "plainErrorPassesThrough",
			err:        errors.New("broken parent link"),
			wantMapped: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapContentionError(tt.err)
			if tt.wantMapped {
				assert.ErrorIs(t, got, ErrConcurrentModification)
				return
			}
			assert.NotErrorIs(t, got, ErrConcurrentModification)
			assert.Equal(t, tt.err, got, "non-contention errors are returned unchanged")
		})
	}
}

func TestMapContentionErrorNil(t *testing.T) {
	require.NoError(t, mapContentionError(nil))
}
