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

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cardinalhq/orgcore/orgdb"
)

func init() {
	var (
		auditOrgID string
		auditLimit int32
	)

	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Audit log commands",
	}

	tailCmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the most recent configuration mutations for an org",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := provisioningContext()
			defer cancel()

			orgID, err := uuid.Parse(auditOrgID)
			if err != nil {
				return fmt.Errorf("invalid --org-id: %w", err)
			}

			store, err := orgdb.OrgDBStore(ctx)
			if err != nil {
				return fmt.Errorf("failed to connect to org database: %w", err)
			}
			defer store.Close()

			entries, err := store.ListAuditLog(ctx, orgID, auditLimit)
			if err != nil {
				return err
			}
			for _, entry := range entries {
				fmt.Printf("%s  %s  node=%s  actor=%s  %s\n",
					entry.RecordedAt.Format("2006-01-02T15:04:05Z"),
					entry.Action, entry.NodeID, entry.Actor, entry.ID)
			}
			return nil
		},
	}
	tailCmd.Flags().StringVar(&auditOrgID, "org-id", "", "organization id")
	tailCmd.Flags().Int32Var(&auditLimit, "limit", 20, "number of entries to show")
	_ = tailCmd.MarkFlagRequired("org-id")

	auditCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(auditCmd)
}
