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
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cardinalhq/orgcore/orgdb"
)

func init() {
	var orgName string

	orgCmd := &cobra.Command{
		Use:   "org",
		Short: "Organization provisioning commands",
	}

	createOrgCmd := &cobra.Command{
		Use:   "create",
		Short: "Create an organization with its root node",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := provisioningContext()
			defer cancel()

			store, err := orgdb.OrgDBStore(ctx)
			if err != nil {
				return fmt.Errorf("failed to connect to org database: %w", err)
			}
			defer store.Close()

			orgID := uuid.New()
			root, err := store.CreateOrgNode(ctx, orgdb.CreateOrgNodeParams{
				OrgID:    orgID,
				NodeID:   uuid.New(),
				NodeType: orgdb.NodeTypeOrg,
				Name:     orgName,
			})
			if err != nil {
				return fmt.Errorf("failed to create organization: %w", err)
			}

			fmt.Printf("org_id:       %s\n", root.OrgID)
			fmt.Printf("root_node_id: %s\n", root.NodeID)
			fmt.Printf("name:         %s\n", root.Name)
			return nil
		},
	}
	createOrgCmd.Flags().StringVar(&orgName, "name", "", "organization name")
	_ = createOrgCmd.MarkFlagRequired("name")

	orgCmd.AddCommand(createOrgCmd)
	rootCmd.AddCommand(orgCmd)

	var (
		nodeOrgID    string
		nodeParentID string
		nodeType     string
		nodeName     string
		nodeID       string
	)

	nodeCmd := &cobra.Command{
		Use:   "node",
		Short: "Org tree node provisioning commands",
	}

	createNodeCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a unit or team node under a parent",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := provisioningContext()
			defer cancel()

			orgID, err := uuid.Parse(nodeOrgID)
			if err != nil {
				return fmt.Errorf("invalid --org-id: %w", err)
			}
			parentID, err := uuid.Parse(nodeParentID)
			if err != nil {
				return fmt.Errorf("invalid --parent-id: %w", err)
			}
			nt, err := orgdb.ParseNodeType(nodeType)
			if err != nil {
				return err
			}
			if nt == orgdb.NodeTypeOrg {
				return fmt.Errorf("org nodes are created with 'orgcore org create'")
			}

			store, err := orgdb.OrgDBStore(ctx)
			if err != nil {
				return fmt.Errorf("failed to connect to org database: %w", err)
			}
			defer store.Close()

			// The parent must be a live node of the same org.
			parent, err := store.GetOrgNode(ctx, orgID, parentID)
			if err != nil {
				return err
			}
			if parent.DeletedAt != nil {
				return fmt.Errorf("parent node %s is deprovisioned", parentID)
			}
			if parent.NodeType == orgdb.NodeTypeTeam {
				return fmt.Errorf("team nodes cannot have children")
			}

			node, err := store.CreateOrgNode(ctx, orgdb.CreateOrgNodeParams{
				OrgID:    orgID,
				NodeID:   uuid.New(),
				NodeType: nt,
				ParentID: &parentID,
				Name:     nodeName,
			})
			if err != nil {
				return fmt.Errorf("failed to create node: %w", err)
			}

			fmt.Printf("node_id: %s\n", node.NodeID)
			fmt.Printf("type:    %s\n", node.NodeType)
			fmt.Printf("name:    %s\n", node.Name)
			return nil
		},
	}
	createNodeCmd.Flags().StringVar(&nodeOrgID, "org-id", "", "organization id")
	createNodeCmd.Flags().StringVar(&nodeParentID, "parent-id", "", "parent node id")
	createNodeCmd.Flags().StringVar(&nodeType, "type", "team", "node type (unit or team)")
	createNodeCmd.Flags().StringVar(&nodeName, "name", "", "node name")
	_ = createNodeCmd.MarkFlagRequired("org-id")
	_ = createNodeCmd.MarkFlagRequired("parent-id")
	_ = createNodeCmd.MarkFlagRequired("name")

	listNodesCmd := &cobra.Command{
		Use:   "list",
		Short: "List live nodes of an organization",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := provisioningContext()
			defer cancel()

			orgID, err := uuid.Parse(nodeOrgID)
			if err != nil {
				return fmt.Errorf("invalid --org-id: %w", err)
			}

			store, err := orgdb.OrgDBStore(ctx)
			if err != nil {
				return fmt.Errorf("failed to connect to org database: %w", err)
			}
			defer store.Close()

			nodes, err := store.ListOrgNodes(ctx, orgID)
			if err != nil {
				return err
			}
			for _, node := range nodes {
				parent := "-"
				if node.ParentID != nil {
					parent = node.ParentID.String()
				}
				fmt.Printf("%s  %-4s  parent=%s  %s\n", node.NodeID, node.NodeType, parent, node.Name)
			}
			return nil
		},
	}
	listNodesCmd.Flags().StringVar(&nodeOrgID, "org-id", "", "organization id")
	_ = listNodesCmd.MarkFlagRequired("org-id")

	deleteNodeCmd := &cobra.Command{
		Use:   "delete",
		Short: "Deprovision a node (tombstone, never hard delete)",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := provisioningContext()
			defer cancel()

			orgID, err := uuid.Parse(nodeOrgID)
			if err != nil {
				return fmt.Errorf("invalid --org-id: %w", err)
			}
			target, err := uuid.Parse(nodeID)
			if err != nil {
				return fmt.Errorf("invalid --node-id: %w", err)
			}

			store, err := orgdb.OrgDBStore(ctx)
			if err != nil {
				return fmt.Errorf("failed to connect to org database: %w", err)
			}
			defer store.Close()

			if err := store.TombstoneOrgNode(ctx, orgID, target); err != nil {
				return err
			}
			fmt.Printf("node %s deprovisioned\n", target)
			return nil
		},
	}
	deleteNodeCmd.Flags().StringVar(&nodeOrgID, "org-id", "", "organization id")
	deleteNodeCmd.Flags().StringVar(&nodeID, "node-id", "", "node id")
	_ = deleteNodeCmd.MarkFlagRequired("org-id")
	_ = deleteNodeCmd.MarkFlagRequired("node-id")

	nodeCmd.AddCommand(createNodeCmd)
	nodeCmd.AddCommand(listNodesCmd)
	nodeCmd.AddCommand(deleteNodeCmd)
	rootCmd.AddCommand(nodeCmd)
}

func provisioningContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}
