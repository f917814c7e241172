package commands

import (
	"fmt"

	"github.com/DrSkyle/cloudtail/pkg/store"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.store.Migrate(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render(fmt.Sprintf("[+] Schema up to date (%s %s)",
			a.store.Driver(), store.MaskDSN(a.settings.Database.DSN))))
		return nil
	},
}
