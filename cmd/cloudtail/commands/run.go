package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/DrSkyle/cloudtail/pkg/config"
	"github.com/DrSkyle/cloudtail/pkg/engine"
	"github.com/DrSkyle/cloudtail/pkg/engine/report"
	"github.com/DrSkyle/cloudtail/pkg/engine/source"
	"github.com/DrSkyle/cloudtail/pkg/tui"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var runTUI bool

var runCmd = &cobra.Command{
	Use:   "run <data-sources-file>",
	Short: "Poll every configured rule once",
	Long: `Poll every (data source, account, rule) unit once, from where its last successful
poll ended, and store the matching events.

Example:
  cloudtail run config.json --concurrency 8`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srcs, err := loadSources(args[0])
		if err != nil {
			return err
		}
		// Logs would tear the terminal UI.
		a, err := newApp(ctx, runTUI)
		if err != nil {
			return err
		}
		defer a.Close()

		if runTUI {
			return runWithTUI(ctx, a, srcs)
		}

		eng, err := a.engine(ctx)
		if err != nil {
			return err
		}
		defer eng.Close(context.Background())

		sum, err := eng.Run(ctx, srcs)
		report.RenderSummary(cmd.OutOrStdout(), sum)
		return err
	},
}

func init() {
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show live progress")
}

func runWithTUI(ctx context.Context, a *app, srcs *config.Sources) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(tui.NewModel(plannedUnits(srcs)), tea.WithContext(ctx))
	eng, err := a.engine(ctx, engine.WithObserver(func(o source.Outcome) {
		p.Send(tui.OutcomeMsg(o))
	}))
	if err != nil {
		return err
	}
	defer eng.Close(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		sum, err := eng.Run(ctx, srcs)
		p.Send(tui.DoneMsg{Summary: sum, Err: err})
	}()

	final, err := p.Run()
	cancel()
	<-done
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	if m, ok := final.(tui.Model); ok {
		return m.Err()
	}
	return nil
}
