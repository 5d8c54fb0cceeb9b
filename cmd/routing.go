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

	"github.com/cardinalhq/orgcore/internal/routing"
	"github.com/cardinalhq/orgcore/orgdb"
)

func init() {
	var (
		routingOrgID  string
		routingTeamID string
		identType     string
		identValue    string
	)

	routingCmd := &cobra.Command{
		Use:   "routing",
		Short: "Routing identifier administration commands",
	}

	registerCmd := &cobra.Command{
		Use:   "register",
		Short: "Claim an external identifier for a team",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := provisioningContext()
			defer cancel()

			orgID, err := uuid.Parse(routingOrgID)
			if err != nil {
				return fmt.Errorf("invalid --org-id: %w", err)
			}
			teamID, err := uuid.Parse(routingTeamID)
			if err != nil {
				return fmt.Errorf("invalid --team-node-id: %w", err)
			}

			store, err := orgdb.OrgDBStore(ctx)
			if err != nil {
				return fmt.Errorf("failed to connect to org database: %w", err)
			}
			defer store.Close()

			index := routing.NewIndex(store, nil)
			ident, err := index.Register(ctx, orgID, teamID, identType, identValue)
			if err != nil {
				return err
			}
			fmt.Printf("registered %s=%s for team %s\n", ident.IdentifierType, ident.IdentifierValue, ident.TeamNodeID)
			return nil
		},
	}
	registerCmd.Flags().StringVar(&routingOrgID, "org-id", "", "organization id")
	registerCmd.Flags().StringVar(&routingTeamID, "team-node-id", "", "team node id")
	registerCmd.Flags().StringVar(&identType, "type", "", "identifier type (e.g. slack_channel_id)")
	registerCmd.Flags().StringVar(&identValue, "value", "", "identifier value")
	_ = registerCmd.MarkFlagRequired("org-id")
	_ = registerCmd.MarkFlagRequired("team-node-id")
	_ = registerCmd.MarkFlagRequired("type")
	_ = registerCmd.MarkFlagRequired("value")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List identifiers claimed by a team",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := provisioningContext()
			defer cancel()

			orgID, err := uuid.Parse(routingOrgID)
			if err != nil {
				return fmt.Errorf("invalid --org-id: %w", err)
			}
			teamID, err := uuid.Parse(routingTeamID)
			if err != nil {
				return fmt.Errorf("invalid --team-node-id: %w", err)
			}

			store, err := orgdb.OrgDBStore(ctx)
			if err != nil {
				return fmt.Errorf("failed to connect to org database: %w", err)
			}
			defer store.Close()

			idents, err := store.ListRoutingIdentifiersForTeam(ctx, orgID, teamID)
			if err != nil {
				return err
			}
			for _, ident := range idents {
				fmt.Printf("%-24s %s\n", ident.IdentifierType, ident.IdentifierValue)
			}
			return nil
		},
	}
	listCmd.Flags().StringVar(&routingOrgID, "org-id", "", "organization id")
	listCmd.Flags().StringVar(&routingTeamID, "team-node-id", "", "team node id")
	_ = listCmd.MarkFlagRequired("org-id")
	_ = listCmd.MarkFlagRequired("team-node-id")

	routingCmd.AddCommand(registerCmd)
	routingCmd.AddCommand(listCmd)
	rootCmd.AddCommand(routingCmd)
}
