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

	"github.com/cardinalhq/orgcore/config"
	"github.com/cardinalhq/orgcore/internal/tokenauth"
	"github.com/cardinalhq/orgcore/orgdb"
)

func newAuthority(store *orgdb.Store) (*tokenauth.Authority, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Auth.Pepper == "" {
		return nil, fmt.Errorf("auth.pepper is required (set ORGCORE_AUTH_PEPPER)")
	}
	return tokenauth.NewAuthority(store, cfg.Auth.Pepper, cfg.Auth.GlobalAdminSecret)
}

func init() {
	var (
		tokenOrgID  string
		tokenTeamID string
		tokenPerms  []string
		tokenID     string
	)

	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Bearer token administration commands",
	}

	issueCmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue an org-admin or team token",
		Long:  "Issue a bearer token. The plaintext is printed once and cannot be recovered afterwards.",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := provisioningContext()
			defer cancel()

			orgID, err := uuid.Parse(tokenOrgID)
			if err != nil {
				return fmt.Errorf("invalid --org-id: %w", err)
			}

			store, err := orgdb.OrgDBStore(ctx)
			if err != nil {
				return fmt.Errorf("failed to connect to org database: %w", err)
			}
			defer store.Close()

			authority, err := newAuthority(store)
			if err != nil {
				return err
			}

			var issued tokenauth.IssuedToken
			if tokenTeamID != "" {
				teamID, err := uuid.Parse(tokenTeamID)
				if err != nil {
					return fmt.Errorf("invalid --team-node-id: %w", err)
				}
				issued, err = authority.IssueTeam(ctx, orgID, teamID, tokenPerms)
				if err != nil {
					return err
				}
			} else {
				issued, err = authority.IssueOrgAdmin(ctx, orgID)
				if err != nil {
					return err
				}
			}

			fmt.Printf("token_id: %s\n", issued.Token.TokenID)
			fmt.Printf("token:    %s\n", issued.Plaintext)
			fmt.Println("Store the token now; it cannot be retrieved again.")
			return nil
		},
	}
	issueCmd.Flags().StringVar(&tokenOrgID, "org-id", "", "organization id")
	issueCmd.Flags().StringVar(&tokenTeamID, "team-node-id", "", "team node id (omit for an org-admin token)")
	issueCmd.Flags().StringSliceVar(&tokenPerms, "permission", nil, "permission granted to a team token (repeatable)")
	_ = issueCmd.MarkFlagRequired("org-id")

	revokeCmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a token immediately",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := provisioningContext()
			defer cancel()

			id, err := uuid.Parse(tokenID)
			if err != nil {
				return fmt.Errorf("invalid --token-id: %w", err)
			}

			store, err := orgdb.OrgDBStore(ctx)
			if err != nil {
				return fmt.Errorf("failed to connect to org database: %w", err)
			}
			defer store.Close()

			if err := store.RevokeToken(ctx, id); err != nil {
				return err
			}
			fmt.Printf("token %s revoked\n", id)
			return nil
		},
	}
	revokeCmd.Flags().StringVar(&tokenID, "token-id", "", "token id")
	_ = revokeCmd.MarkFlagRequired("token-id")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List tokens for an organization",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := provisioningContext()
			defer cancel()

			orgID, err := uuid.Parse(tokenOrgID)
			if err != nil {
				return fmt.Errorf("invalid --org-id: %w", err)
			}

			store, err := orgdb.OrgDBStore(ctx)
			if err != nil {
				return fmt.Errorf("failed to connect to org database: %w", err)
			}
			defer store.Close()

			tokens, err := store.ListTokens(ctx, orgID)
			if err != nil {
				return err
			}
			for _, token := range tokens {
				scope := "org-admin"
				if token.TeamNodeID != nil {
					scope = "team " + token.TeamNodeID.String()
				}
				state := "active"
				if token.RevokedAt != nil {
					state = "revoked " + token.RevokedAt.Format("2006-01-02")
				}
				lastUsed := "never used"
				if token.LastUsedAt != nil {
					lastUsed = "last used " + token.LastUsedAt.Format("2006-01-02")
				}
				fmt.Printf("%s  %-44s  %-20s  %s\n", token.TokenID, scope, state, lastUsed)
			}
			return nil
		},
	}
	listCmd.Flags().StringVar(&tokenOrgID, "org-id", "", "organization id")
	_ = listCmd.MarkFlagRequired("org-id")

	tokenCmd.AddCommand(issueCmd)
	tokenCmd.AddCommand(revokeCmd)
	tokenCmd.AddCommand(listCmd)
	rootCmd.AddCommand(tokenCmd)
}
