package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/DrSkyle/cloudtail/pkg/engine/report"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch <data-sources-file>",
	Short: "Poll on a cron schedule until interrupted",
	Long: `Run the batch poll on a schedule. A poll that is still running when the next one
is due is skipped.

Example:
  cloudtail watch config.yaml --schedule "*/10 * * * *"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srcs, err := loadSources(args[0])
		if err != nil {
			return err
		}
		a, err := newApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()

		eng, err := a.engine(ctx)
		if err != nil {
			return err
		}
		defer eng.Close(context.Background())

		logger := cronLogger{a.logger}
		c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
		if _, err := c.AddFunc(a.settings.Schedule, func() {
			sum, err := eng.Run(ctx, srcs)
			if err != nil {
				a.logger.Error("Scheduled poll failed", "error", err)
			}
			if sum != nil {
				report.RenderSummary(cmd.OutOrStdout(), sum)
			}
		}); err != nil {
			return fmt.Errorf("schedule %q: %w", a.settings.Schedule, err)
		}

		a.logger.Info("Watching", "schedule", a.settings.Schedule, "data_sources", len(srcs.DataSources))
		c.Start()
		<-ctx.Done()
		// Wait for an in-flight poll; it sees the cancelled context and stops early.
		<-c.Stop().Done()
		return nil
	},
}

func init() {
	watchCmd.Flags().String("schedule", "", "Cron expression or descriptor such as @every 15m")
	bind(watchCmd.Flags(), map[string]string{"schedule": "schedule"})
}

// cronLogger routes cron's own logging through slog.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
