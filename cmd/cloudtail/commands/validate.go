package commands

import (
	"fmt"
	"io"
	"slices"

	"github.com/DrSkyle/cloudtail/pkg/config"
	awsengine "github.com/DrSkyle/cloudtail/pkg/engine/aws"
	"github.com/DrSkyle/cloudtail/pkg/engine/matcher"
	"github.com/DrSkyle/cloudtail/pkg/engine/source"
	"github.com/DrSkyle/cloudtail/pkg/logging"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate <data-sources-file>",
	Short: "Check a data sources file without contacting any provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		srcs, err := loadSources(args[0])
		if err != nil {
			return err
		}
		// Without a readable shared config, profile names cannot be checked.
		profiles, _ := awsengine.ListProfiles()
		problems := checkRules(cmd.OutOrStdout(), srcs, profiles)
		if problems > 0 {
			return fmt.Errorf("%d rule(s) would be skipped", problems)
		}
		fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render(fmt.Sprintf("[+] %s is valid (%d planned units)", args[0], plannedUnits(srcs))))
		return nil
	},
}

// checkRules compiles every rule and reports what a run would skip or warn about.
// Unknown profiles are only warned about when the shared config could be read.
func checkRules(w io.Writer, srcs *config.Sources, profiles []string) int {
	m := matcher.New(logging.Discard())
	problems := 0
	for _, ds := range srcs.DataSources {
		for _, r := range ds.SourceRules() {
			cr, err := source.Compile(r, m)
			if err != nil {
				problems++
				fmt.Fprintln(w, errStyle.Render(fmt.Sprintf("[!] %s: %v", ds.Source, err)))
				continue
			}
			for _, warn := range cr.Warnings {
				fmt.Fprintln(w, warnStyle.Render(fmt.Sprintf("[!] %s: %s", ds.Source, warn)))
			}
		}
		if len(ds.AccountRefs()) == 0 {
			fmt.Fprintln(w, warnStyle.Render(fmt.Sprintf("[!] %s: no subscription_ids, the source will be skipped", ds.Source)))
		}
		if len(profiles) == 0 {
			continue
		}
		for _, a := range ds.Accounts {
			if a.ProfileName != "" && !slices.Contains(profiles, a.ProfileName) {
				fmt.Fprintln(w, warnStyle.Render(fmt.Sprintf("[!] %s: profile %q is not in the shared AWS config", ds.Source, a.ProfileName)))
			}
		}
	}
	return problems
}
