package commands

import (
	"fmt"

	"github.com/DrSkyle/cloudtail/pkg/engine/normalize"
	"github.com/DrSkyle/cloudtail/pkg/engine/permissions"
	"github.com/spf13/cobra"
)

var (
	permProvider string
	permFeatures []string
)

var permissionsCmd = &cobra.Command{
	Use:   "permissions [data-sources-file]",
	Short: "Print the least-privilege policy cloudtail needs",
	Long: `Print an IAM policy (aws) or an Azure custom role definition (azure). With a data
sources file the Azure role is scoped to its subscriptions.

Example:
  cloudtail permissions --provider aws --feature ingest`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var subs []string
		if len(args) == 1 {
			srcs, err := loadSources(args[0])
			if err != nil {
				return err
			}
			for _, ds := range srcs.DataSources {
				subs = append(subs, ds.SubscriptionIDs...)
			}
		}
		features := make([]permissions.Feature, 0, len(permFeatures))
		for _, f := range permFeatures {
			features = append(features, permissions.Feature(f))
		}

		doc, err := permissions.GeneratePolicy(normalize.Provider(permProvider), features, subs)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(doc))
		return nil
	},
}

func init() {
	permissionsCmd.Flags().StringVar(&permProvider, "provider", string(normalize.AWS), "aws or azure")
	permissionsCmd.Flags().StringSliceVar(&permFeatures, "feature", nil, "ingest, export (default all)")
}
