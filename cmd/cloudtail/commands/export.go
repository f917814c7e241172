package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	awsengine "github.com/DrSkyle/cloudtail/pkg/engine/aws"
	"github.com/DrSkyle/cloudtail/pkg/engine/report"
	"github.com/DrSkyle/cloudtail/pkg/storage"
	"github.com/DrSkyle/cloudtail/pkg/store"
	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/spf13/cobra"
)

var exportFrom, exportTo string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored events to JSON files",
	Long: `Write AWS_CloudTrail_<date>.json and Azure_Activity_Log_<date>.json, merging with
files of the same name. --from and --to select events by the run time of the poll that
stored them.

Example:
  cloudtail export --from 2024-06-01 --to 2024-06-07 --output-dir s3://audit/cloudtail`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		tr, err := parseRange(exportFrom, exportTo)
		if err != nil {
			return err
		}

		a, err := newApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.store.Migrate(ctx); err != nil {
			return err
		}

		sink, err := storage.Open(ctx, a.settings.OutputDir, func(ctx context.Context) (awsv2.Config, error) {
			var callLog *slog.Logger
			if a.settings.Verbose {
				callLog = a.logger
			}
			c, err := awsengine.NewClient(ctx, "", "", callLog)
			if err != nil {
				return awsv2.Config{}, err
			}
			return c.Config, nil
		})
		if err != nil {
			return err
		}

		results, err := report.NewExporter(a.store, sink, report.WithLogger(a.logger)).Export(ctx, tr)
		report.RenderExport(cmd.OutOrStdout(), results)
		return err
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "First day, YYYY-MM-DD (requires --to)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "Last day, YYYY-MM-DD, inclusive (requires --from)")
	exportCmd.Flags().String("output-dir", ".", "Directory or s3://bucket/prefix")
	exportCmd.MarkFlagsRequiredTogether("from", "to")
	bind(exportCmd.Flags(), map[string]string{"output_dir": "output-dir"})
}

// parseRange turns two UTC days into a range covering both days entirely.
func parseRange(from, to string) (*store.TimeRange, error) {
	if from == "" && to == "" {
		return nil, nil
	}
	start, err := time.Parse(time.DateOnly, from)
	if err != nil {
		return nil, fmt.Errorf("--from: %w", err)
	}
	end, err := time.Parse(time.DateOnly, to)
	if err != nil {
		return nil, fmt.Errorf("--to: %w", err)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("--to %s is before --from %s", to, from)
	}
	return &store.TimeRange{From: start, To: end.Add(24*time.Hour - time.Nanosecond)}, nil
}
