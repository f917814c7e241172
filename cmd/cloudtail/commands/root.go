// Package commands is the cloudtail command line.
package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/DrSkyle/cloudtail/pkg/config"
	"github.com/DrSkyle/cloudtail/pkg/version"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	v       = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   version.AppName,
	Short: "Incremental cloud audit-event ingestion",
	Long: `cloudtail polls AWS CloudTrail and the Azure Activity Log for the events your
rules describe, stores them once with their lineage, and exports them as JSON.`,
	Version:       version.Current,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errStyle.Render("[!] "+err.Error()))
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	config.SetDefaults(v)

	d := config.DefaultSettings()
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "settings", "", "Settings file (default $HOME/.cloudtail.yaml)")
	flags.String("db-driver", d.Database.Driver, "Database driver: sqlite or postgres")
	flags.String("dsn", d.Database.DSN, "SQLite file path or PostgreSQL URL")
	flags.String("log-format", d.Log.Format, "Log format: json or text")
	flags.String("log-level", d.Log.Level, "Log level: debug, info, warn, error")
	flags.Int("concurrency", d.Concurrency, "Units polled in parallel (1 = sequential)")
	flags.Duration("backfill", d.Watermark.Backfill, "How far back the first poll of a rule reaches")
	flags.Duration("safety-lag", d.Watermark.SafetyLag, "Distance kept from now for late-delivered events")
	flags.Duration("max-window", d.Watermark.MaxWindow, "Largest window a single poll covers")
	flags.String("otel-endpoint", "", "OTLP/HTTP endpoint for traces")
	flags.Bool("strict", false, "Fail when any unit is skipped or aborted")
	flags.BoolP("verbose", "v", false, "Log every provider API call")

	bind(flags, map[string]string{
		"database.driver":      "db-driver",
		"database.dsn":         "dsn",
		"log.format":           "log-format",
		"log.level":            "log-level",
		"concurrency":          "concurrency",
		"watermark.backfill":   "backfill",
		"watermark.safety_lag": "safety-lag",
		"watermark.max_window": "max-window",
		"otel_endpoint":        "otel-endpoint",
		"strict":               "strict",
		"verbose":              "verbose",
	})

	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		renderHelp(cmd)
	})

	rootCmd.AddCommand(runCmd, watchCmd, exportCmd, migrateCmd, validateCmd, permissionsCmd)
}

func bind(flags *pflag.FlagSet, keys map[string]string) {
	for key, flag := range keys {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("bind %s: %v", flag, err))
		}
	}
}

func initConfig() {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		v.SetConfigFile(filepath.Join(home, ".cloudtail.yaml"))
		v.SetConfigType("yaml")
	}
	config.BindEnv(v)
	if err := v.ReadInConfig(); err != nil && cfgFile != "" {
		fmt.Fprintln(os.Stderr, errStyle.Render("[!] read settings: "+err.Error()))
	}
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00FF99")).MarginBottom(1)
	flagStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0055"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF99"))
)

func renderHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("CLOUDTAIL %s", version.Current)))
	if cmd.Long != "" {
		fmt.Fprintln(out, cmd.Long)
	} else {
		fmt.Fprintln(out, cmd.Short)
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, titleStyle.Render("USAGE"))
	fmt.Fprintf(out, "  %s\n\n", cmd.UseLine())

	if cmd.HasAvailableSubCommands() {
		fmt.Fprintln(out, titleStyle.Render("COMMANDS"))
		for _, c := range cmd.Commands() {
			if c.IsAvailableCommand() {
				fmt.Fprintf(out, "  %-12s %s\n", c.Name(), c.Short)
			}
		}
		fmt.Fprintln(out)
	}

	renderFlags(out, "FLAGS", cmd.LocalFlags())
	renderFlags(out, "GLOBAL FLAGS", cmd.InheritedFlags())
}

func renderFlags(out io.Writer, title string, flags *pflag.FlagSet) {
	if !flags.HasAvailableFlags() {
		return
	}
	fmt.Fprintln(out, titleStyle.Render(title))
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Hidden {
			return
		}
		line := fmt.Sprintf("  --%-15s %s", f.Name, f.Usage)
		if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" {
			line += fmt.Sprintf(" (default %s)", f.DefValue)
		}
		fmt.Fprintln(out, flagStyle.Render(line))
	})
	fmt.Fprintln(out)
}
